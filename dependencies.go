package livestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	prometheusSDK "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"github.com/go-arrower/livestore/alog"
	"github.com/go-arrower/livestore/observe"
	"github.com/go-arrower/livestore/repository"
	"github.com/go-arrower/livestore/store"
)

var ErrMissingDependency = errors.New("missing dependency")

// Container holds the dependencies of a livestore application, to make initialisation easier.
// There is one Store per Container; pass the Container around instead of keeping a global.
type Container struct {
	Logger        *slog.Logger
	MeterProvider *metric.MeterProvider
	TraceProvider *trace.TracerProvider
	// Registry gathers the metrics of MeterProvider.
	Registry *prometheusSDK.Registry

	Config *Config
	Store  *store.Store

	// View is the context for reading, e.g. to present data.
	View *store.Context
	// Background is the context for writing.
	Background *store.Context
}

// InitialiseDefaultDependencies sets up observability and opens the store with schema.
func InitialiseDefaultDependencies(
	ctx context.Context,
	conf *Config,
	schema ...store.EntityDescription,
) (*Container, error) {
	if conf == nil {
		return nil, fmt.Errorf("%w: global config not found", ErrMissingDependency)
	}

	dc := &Container{
		Config: conf,
	}

	{ // observability
		resource := resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("livestore."+conf.Store.Name),
		)

		{ // traces
			dc.TraceProvider = trace.NewTracerProvider(trace.WithResource(resource))

			// without a collector, spans are sampled but not exported
			if conf.OTEL.Host != "" {
				traceProvider, err := newTraceProvider(ctx, conf, resource)
				if err != nil {
					return nil, err
				}

				dc.TraceProvider = traceProvider
			}
		}

		{ // metrics
			registry := prometheusSDK.NewRegistry()

			exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
			if err != nil {
				return nil, fmt.Errorf("could not create to prometheus exporter: %w", err)
			}

			dc.Registry = registry
			dc.MeterProvider = metric.NewMeterProvider(
				metric.WithResource(resource),
				metric.WithReader(exporter),
			)
		}
	}

	{ // logger
		level, err := conf.LogLevel()
		if err != nil {
			return nil, err
		}

		logger := alog.New(alog.WithLevel(level))
		if conf.Environment == LocalEnv {
			logger = alog.New(
				alog.WithLevel(level),
				alog.WithHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
					Level:       alog.LevelDebug,
					ReplaceAttr: alog.MapLogLevelsToName,
				})),
			)
		}

		dc.Logger = logger.With(
			slog.String("git_hash", gitHash()),
			slog.String("environment", string(conf.Environment)),
		)
	}

	{ // store
		s, err := store.Open(ctx, conf.StoreConfig(schema...), store.WithLogger(dc.Logger))
		if err != nil {
			return nil, fmt.Errorf("could not open store: %w", err)
		}

		dc.Store = s
		dc.View = s.ViewContext()
		dc.Background = s.NewBackgroundContext()
	}

	return dc, nil
}

func (c *Container) EnsureAllDependenciesPresent() error {
	if c.Config == nil {
		return fmt.Errorf("%w: global config not found", ErrMissingDependency)
	}

	if c.Store == nil {
		return fmt.Errorf("%w: store not opened", ErrMissingDependency)
	}

	return nil
}

// Shutdown closes the store and flushes all telemetry.
func (c *Container) Shutdown(ctx context.Context) error {
	c.Logger.LogAttrs(ctx, alog.LevelInfo, "shutting down")

	return errors.Join(
		c.Store.Close(ctx),
		c.TraceProvider.Shutdown(ctx),
		c.MeterProvider.Shutdown(ctx),
	)
}

// NewRepository returns an instrumented repository for E, writing via the Background context.
// The options of the configuration apply.
func NewRepository[E repository.Record[E]](c *Container) repository.Repository[E] { //nolint:ireturn // decorated
	return newRepository[E](c, c.Background)
}

// NewViewRepository is like NewRepository, but works on the View context.
func NewViewRepository[E repository.Record[E]](c *Container) repository.Repository[E] { //nolint:ireturn // decorated
	return newRepository[E](c, c.View)
}

func newRepository[E repository.Record[E]](c *Container, sctx *store.Context) repository.Repository[E] { //nolint:ireturn,lll // decorated
	opts := append(c.Config.RepositoryOptions(), repository.WithLogger(c.Logger.WithGroup("repository")))

	return repository.NewInstrumentedRepository[E](
		c.TraceProvider,
		c.MeterProvider,
		c.Logger.WithGroup("repository"),
		repository.NewStoreRepository[E](sctx, opts...),
	)
}

// NewObserver observes E on the View context.
func NewObserver[E repository.Record[E]](c *Container) *observe.Observer[E] {
	return observe.New[E](c.View, c.Logger.WithGroup("observe"))
}

func newTraceProvider(ctx context.Context, conf *Config, resource *resource.Resource) (*trace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(fmt.Sprintf("%s:%d", conf.OTEL.Host, conf.OTEL.Port)),
		otlptracegrpc.WithInsecure(),
	}

	if conf.Environment == TestEnv {
		// while unit testing no otel endpoint is running. This means some operations, e.g.
		// traceprovider shutdown will block until the shutdown ctx expires,
		// which is too long for testing.
		opts = append(opts, otlptracegrpc.WithTimeout(10*time.Millisecond))
	}

	traceExporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not connect to trace exporter: %w", err)
	}

	if conf.Environment == LocalEnv {
		return trace.NewTracerProvider(
			trace.WithBatcher(traceExporter),
			trace.WithResource(resource),
			trace.WithSampler(trace.AlwaysSample()),
		), nil
	}

	return trace.NewTracerProvider(
		trace.WithBatcher(traceExporter),
		trace.WithResource(resource),
		// set the sampling rate based on the parent span to 60%
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(0.6))),
	), nil
}

func gitHash() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				return setting.Value
			}
		}
	}

	return "unknown"
}
