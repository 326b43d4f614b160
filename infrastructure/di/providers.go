package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/NoriginMedia/nannoq-tools-sub001/application/ports"
	"github.com/NoriginMedia/nannoq-tools-sub001/application/services"
	"github.com/NoriginMedia/nannoq-tools-sub001/domain/versioning"
	"github.com/NoriginMedia/nannoq-tools-sub001/infrastructure/config"
	"github.com/NoriginMedia/nannoq-tools-sub001/infrastructure/messaging/eventbridge"
	"github.com/NoriginMedia/nannoq-tools-sub001/infrastructure/persistence/dynamodb"
	"github.com/NoriginMedia/nannoq-tools-sub001/infrastructure/persistence/memory"
	"github.com/NoriginMedia/nannoq-tools-sub001/infrastructure/persistence/resilient"
	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
	History  ports.RetentionAwareVersionStore
	Store    ports.VersionStore
	Manager  *services.VersionManager
}

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideCodec,
	ProvideEngineOptions,
	ProvideStateExtractor,
	ProvideStateApplier,
	ProvideIteratorIDManager,
	ProvideAWSConfig,
	ProvideHistory,
	ProvideEventPublisher,
	ProvideVersionStore,
	ProvideRegistry,
	ProvideMetrics,
	ProvideTracerProvider,
	ProvideTracer,
	ProvideManagerSettings,
	services.NewVersionManager,
	wire.Struct(new(Container), "*"),
)

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.NewConfigurationError("invalid log level").WithCause(err)
	}

	var zc zap.Config
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String("service", cfg.ServiceName)), nil
}

// ProvideCodec creates the codec for whole values
func ProvideCodec() versioning.Codec {
	return versioning.NewJSONCodec()
}

// ProvideEngineOptions builds the options shared by the engine components
func ProvideEngineOptions(cfg *config.Config, codec versioning.Codec) []versioning.Option {
	return []versioning.Option{
		versioning.WithCodec(codec),
		versioning.WithParallelism(cfg.Parallelism()),
	}
}

// ProvideStateExtractor creates the state extractor
func ProvideStateExtractor(logger *zap.Logger, opts []versioning.Option) *versioning.StateExtractor {
	return versioning.NewStateExtractor(logger.Named("extractor"), opts...)
}

// ProvideStateApplier creates the state applier
func ProvideStateApplier(logger *zap.Logger, opts []versioning.Option) *versioning.StateApplier {
	return versioning.NewStateApplier(logger.Named("applier"), opts...)
}

// ProvideIteratorIDManager creates the iterator id manager
func ProvideIteratorIDManager(logger *zap.Logger, opts []versioning.Option) *versioning.IteratorIDManager {
	return versioning.NewIteratorIDManager(logger.Named("identities"), opts...)
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Versioning.AWSRegion),
	)
	if err != nil {
		return aws.Config{}, errors.NewConfigurationError("failed to load AWS configuration").WithCause(err)
	}
	return awsCfg, nil
}

// ProvideHistory creates the version history backend named in config
func ProvideHistory(cfg *config.Config, awsCfg aws.Config, logger *zap.Logger) (ports.RetentionAwareVersionStore, error) {
	switch cfg.Versioning.HistoryBackend {
	case "dynamodb":
		if cfg.Versioning.HistoryTable == "" {
			return nil, errors.NewConfigurationError("history table is required for the dynamodb backend")
		}
		return dynamodb.NewVersionStore(
			awsdynamodb.NewFromConfig(awsCfg),
			cfg.Versioning.HistoryTable,
			cfg.RetentionPolicy(),
			logger.Named("history"),
		), nil
	case "memory", "":
		return memory.NewVersionStore(cfg.RetentionPolicy(), logger.Named("history")), nil
	default:
		return nil, errors.NewConfigurationError("unknown history backend").WithPath(cfg.Versioning.HistoryBackend)
	}
}

// ProvideEventPublisher creates the EventBridge publisher, or nil when no
// event bus is configured
func ProvideEventPublisher(cfg *config.Config, awsCfg aws.Config, logger *zap.Logger) ports.EventPublisher {
	if cfg.Versioning.EventBus == "" {
		return nil
	}
	return eventbridge.NewPublisher(
		awseventbridge.NewFromConfig(awsCfg),
		cfg.Versioning.EventBus,
		logger.Named("events"),
	)
}

// ProvideVersionStore guards the history with a circuit breaker
func ProvideVersionStore(history ports.RetentionAwareVersionStore, logger *zap.Logger) ports.VersionStore {
	return resilient.NewVersionStore(history, resilient.DefaultBreakerSettings("version-store"), logger.Named("breaker"))
}

// ProvideRegistry creates the registry the versioning metrics live in
func ProvideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// ProvideMetrics creates metrics instance, or nil when metrics are disabled
func ProvideMetrics(cfg *config.Config, registry *prometheus.Registry) (*observability.Metrics, error) {
	if !cfg.EnableMetrics {
		return nil, nil
	}
	return observability.NewMetrics(cfg.MetricsNamespace, registry)
}

// ProvideTracerProvider creates a sampling SDK provider when tracing is
// enabled and a no-op provider otherwise.
func ProvideTracerProvider(cfg *config.Config, logger *zap.Logger) (trace.TracerProvider, func()) {
	if !cfg.EnableTracing {
		return noop.NewTracerProvider(), func() {}
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	return tp, func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("Failed to shut down tracer provider", zap.Error(err))
		}
	}
}

// ProvideTracer creates the tracer used by the version manager
func ProvideTracer(cfg *config.Config, provider trace.TracerProvider) *observability.Tracer {
	return observability.NewTracer(cfg.ServiceName, provider)
}

// ProvideManagerSettings derives the version manager settings from config
func ProvideManagerSettings(cfg *config.Config) services.ManagerSettings {
	return services.ManagerSettings{
		CorrelationPrefix: cfg.Versioning.CorrelationPrefix,
		Parallelism:       cfg.Parallelism(),
	}
}

// WatchConfig reloads the YAML file at path on change and applies the new
// retention policy to the history. The caller stops the returned watcher.
func (c *Container) WatchConfig(path string) (*config.Watcher, error) {
	w, err := config.NewWatcher(path, c.Logger.Named("config"))
	if err != nil {
		return nil, err
	}
	w.OnChange(func(cfg *config.Config) {
		c.History.SetPolicy(cfg.RetentionPolicy())
	})
	w.Start()
	return w, nil
}
