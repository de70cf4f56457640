package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	meshfl "github.com/x0tta6bl4/meshfl"
	"github.com/x0tta6bl4/meshfl/byzantine"
	"github.com/x0tta6bl4/meshfl/coordinator"
	"github.com/x0tta6bl4/meshfl/coordinator/api"
	"github.com/x0tta6bl4/meshfl/coordinator/middleware"
	"github.com/x0tta6bl4/meshfl/orchestrator"
	"github.com/x0tta6bl4/meshfl/pkg/mqtt"
	"github.com/x0tta6bl4/meshfl/pkg/prometheus"
	"github.com/x0tta6bl4/meshfl/schedule"
)

const (
	svcName         = "coordinator"
	pathEnv         = ".env"
	shutdownTimeout = 5 * time.Second
)

type envConfig struct {
	LogLevel             string        `env:"COORDINATOR_LOG_LEVEL"             envDefault:"info"`
	InstanceID           string        `env:"COORDINATOR_INSTANCE_ID"`
	ConfigPath           string        `env:"COORDINATOR_CONFIG_PATH"`
	HTTPAddr             string        `env:"COORDINATOR_HTTP_ADDR"             envDefault:":8080"`
	SessionID            string        `env:"COORDINATOR_SESSION_ID"            envDefault:"default"`
	MQTTAddress          string        `env:"COORDINATOR_MQTT_ADDRESS"          envDefault:"tcp://localhost:1883"`
	MQTTQoS              uint8         `env:"COORDINATOR_MQTT_QOS"              envDefault:"2"`
	MQTTTimeout          time.Duration `env:"COORDINATOR_MQTT_TIMEOUT"          envDefault:"30s"`
	MQTTUsername         string        `env:"COORDINATOR_MQTT_USERNAME"`
	MQTTPassword         string        `env:"COORDINATOR_MQTT_PASSWORD"`
	Dimension            int           `env:"COORDINATOR_DIMENSION"             envDefault:"1000"`
	MinParticipants      int           `env:"COORDINATOR_MIN_PARTICIPANTS"      envDefault:"2"`
	ByzantineRobust      bool          `env:"COORDINATOR_BYZANTINE_ROBUST"      envDefault:"true"`
	Tolerance            float64       `env:"COORDINATOR_BYZANTINE_TOLERANCE"   envDefault:"0.3"`
	Method               string        `env:"COORDINATOR_METHOD"                envDefault:"median"`
	Kind                 string        `env:"COORDINATOR_KIND"                  envDefault:"batch"`
	Schedule             string        `env:"COORDINATOR_SCHEDULE"              envDefault:"adaptive"`
	InitialRate          float64       `env:"COORDINATOR_INITIAL_RATE"          envDefault:"0.1"`
	WindowSize           int           `env:"COORDINATOR_WINDOW_SIZE"           envDefault:"5"`
	ConvergenceThreshold float64       `env:"COORDINATOR_CONVERGENCE_THRESHOLD" envDefault:"0.001"`
	LinkQualityThreshold float64       `env:"COORDINATOR_LINK_QUALITY_THRESHOLD" envDefault:"0"`
	WasmAggregatorPath   string        `env:"COORDINATOR_WASM_AGGREGATOR"`
	RoundTimeout         time.Duration `env:"COORDINATOR_ROUND_TIMEOUT"         envDefault:"30s"`
	RoundInterval        time.Duration `env:"COORDINATOR_ROUND_INTERVAL"        envDefault:"1s"`
	RefreshInterval      time.Duration `env:"COORDINATOR_REFRESH_INTERVAL"      envDefault:"10s"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.ConfigPath != "" {
		fileCfg, err := meshfl.LoadConfig(cfg.ConfigPath)
		if err != nil {
			log.Fatalf("failed to load config file: %s", err.Error())
		}
		applyFileConfig(&cfg, fileCfg)
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	method, err := byzantine.ParseMethod(cfg.Method)
	if err != nil {
		logger.Error("invalid aggregation method", slog.String("error", err.Error()))

		return
	}
	kind, err := orchestrator.ParseKind(cfg.Kind)
	if err != nil {
		logger.Error("invalid orchestrator kind", slog.String("error", err.Error()))

		return
	}
	sched, err := schedule.ParseSchedule(cfg.Schedule)
	if err != nil {
		logger.Error("invalid learning rate schedule", slog.String("error", err.Error()))

		return
	}

	mqttPubSub, err := mqtt.NewPubSub(cfg.MQTTAddress, cfg.MQTTQoS, svcName+"-"+cfg.InstanceID, cfg.MQTTUsername, cfg.MQTTPassword, cfg.SessionID, cfg.MQTTTimeout, logger)
	if err != nil {
		logger.Error("failed to initialize mqtt pubsub", slog.String("error", err.Error()))

		return
	}
	defer func() {
		if err := mqttPubSub.Disconnect(context.Background()); err != nil {
			logger.Error("failed to disconnect mqtt client", slog.Any("error", err))
		}
	}()

	var wasmModule []byte
	if cfg.WasmAggregatorPath != "" {
		wasmModule, err = os.ReadFile(cfg.WasmAggregatorPath)
		if err != nil {
			logger.Error("failed to read wasm aggregator module", slog.String("path", cfg.WasmAggregatorPath), slog.String("error", err.Error()))

			return
		}
	}

	onRoundComplete := func(round coordinator.Round) {
		if err := coordinator.PublishRound(ctx, cfg.SessionID, mqttPubSub, round); err != nil {
			logger.Warn("failed to announce round", slog.Int("round", round.Number), slog.Any("error", err))
		}
	}

	svc, err := coordinator.NewService(coordinator.Config{
		Dimension:            cfg.Dimension,
		MinParticipants:      cfg.MinParticipants,
		ByzantineRobust:      cfg.ByzantineRobust,
		Tolerance:            cfg.Tolerance,
		Method:               method,
		Kind:                 kind,
		InitialRate:          cfg.InitialRate,
		Schedule:             sched,
		WindowSize:           cfg.WindowSize,
		ConvergenceThreshold: cfg.ConvergenceThreshold,
		LinkQualityThreshold: cfg.LinkQualityThreshold,
		WasmModule:           wasmModule,
		RoundTimeout:         cfg.RoundTimeout,
		RoundInterval:        cfg.RoundInterval,
		RefreshInterval:      cfg.RefreshInterval,
		OnRoundComplete:      onRoundComplete,
	}, nil, nil, nil, logger)
	if err != nil {
		logger.Error("failed to create coordinator service", slog.String("error", err.Error()))

		return
	}

	tracer := noop.NewTracerProvider().Tracer(svcName)

	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(svcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	if err := coordinator.Subscribe(ctx, cfg.SessionID, mqttPubSub, svc, logger); err != nil {
		logger.Error("failed to subscribe to session topics", slog.String("error", err.Error()))

		return
	}

	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start coordinator", slog.String("error", err.Error()))

		return
	}

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.MakeHandler(svc, logger, cfg.InstanceID),
	}

	g.Go(func() error {
		logger.Info(svcName+" service listening", slog.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()

		if err := svc.Stop(stopCtx); err != nil {
			logger.Error("failed to stop coordinator", slog.Any("error", err))
		}

		return server.Shutdown(stopCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}
}

func applyFileConfig(cfg *envConfig, fileCfg *meshfl.Config) {
	if fileCfg.Coordinator.SessionID != "" {
		cfg.SessionID = fileCfg.Coordinator.SessionID
	}
	if fileCfg.Coordinator.HTTPAddr != "" {
		cfg.HTTPAddr = fileCfg.Coordinator.HTTPAddr
	}
	if fileCfg.Coordinator.Dimension > 0 {
		cfg.Dimension = fileCfg.Coordinator.Dimension
	}
	if fileCfg.Coordinator.MinParticipants > 0 {
		cfg.MinParticipants = fileCfg.Coordinator.MinParticipants
	}
	if fileCfg.Coordinator.Method != "" {
		cfg.Method = fileCfg.Coordinator.Method
	}
	if fileCfg.Coordinator.Kind != "" {
		cfg.Kind = fileCfg.Coordinator.Kind
	}
	if fileCfg.Coordinator.Schedule != "" {
		cfg.Schedule = fileCfg.Coordinator.Schedule
	}
	if fileCfg.Broker.URL != "" {
		cfg.MQTTAddress = fileCfg.Broker.URL
	}
	if fileCfg.Broker.Username != "" {
		cfg.MQTTUsername = fileCfg.Broker.Username
	}
	if fileCfg.Broker.Password != "" {
		cfg.MQTTPassword = fileCfg.Broker.Password
	}
	if fileCfg.Broker.QoS > 0 {
		cfg.MQTTQoS = fileCfg.Broker.QoS
	}
}
