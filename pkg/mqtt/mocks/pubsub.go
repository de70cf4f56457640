package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	pkgmqtt "github.com/x0tta6bl4/meshfl/pkg/mqtt"
)

// PubSub is a mock implementation of the mqtt.PubSub interface. Handlers
// registered via Subscribe are recorded so tests can deliver payloads
// with Dispatch.
type PubSub struct {
	mock.Mock

	handlers map[string]pkgmqtt.Handler
}

var _ pkgmqtt.PubSub = (*PubSub)(nil)

func (m *PubSub) Publish(ctx context.Context, topic string, msg any) error {
	args := m.Called(ctx, topic, msg)

	return args.Error(0)
}

func (m *PubSub) Subscribe(ctx context.Context, topic string, handler pkgmqtt.Handler) error {
	args := m.Called(ctx, topic, handler)
	if m.handlers == nil {
		m.handlers = make(map[string]pkgmqtt.Handler)
	}
	m.handlers[topic] = handler

	return args.Error(0)
}

func (m *PubSub) Unsubscribe(ctx context.Context, topic string) error {
	args := m.Called(ctx, topic)
	delete(m.handlers, topic)

	return args.Error(0)
}

func (m *PubSub) Disconnect(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// Dispatch delivers a payload to the handler registered for topic, as
// the broker would on an incoming message.
func (m *PubSub) Dispatch(topic string, payload []byte) error {
	handler, ok := m.handlers[topic]
	if !ok {
		return nil
	}

	return handler(topic, payload)
}
