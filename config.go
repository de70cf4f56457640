package meshfl

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

type Config struct {
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Broker      BrokerConfig      `toml:"broker"`
}

type CoordinatorConfig struct {
	SessionID       string `toml:"session_id"`
	HTTPAddr        string `toml:"http_addr"`
	Dimension       int    `toml:"dimension"`
	MinParticipants int    `toml:"min_participants"`
	Method          string `toml:"method"`
	Kind            string `toml:"kind"`
	Schedule        string `toml:"schedule"`
}

type BrokerConfig struct {
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	QoS      byte   `toml:"qos"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
