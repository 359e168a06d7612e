package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/internal/repositories/cleanlead"
	"github.com/Ramsey-B/sage/internal/repositories/cleanorder"
	"github.com/Ramsey-B/sage/internal/repositories/customerfragment"
	"github.com/Ramsey-B/sage/internal/repositories/dailymetric"
	"github.com/Ramsey-B/sage/internal/repositories/etlcursor"
	"github.com/Ramsey-B/sage/internal/repositories/mastercustomer"
	"github.com/Ramsey-B/sage/internal/repositories/pipelinerun"
	"github.com/Ramsey-B/sage/internal/repositories/rawrecord"
	"github.com/Ramsey-B/sage/internal/repositories/source"
	"github.com/Ramsey-B/sage/pkg/aggregate"
	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/events"
	"github.com/Ramsey-B/sage/pkg/expressions"
	"github.com/Ramsey-B/sage/pkg/extract"
	"github.com/Ramsey-B/sage/pkg/health"
	"github.com/Ramsey-B/sage/pkg/httpclient"
	"github.com/Ramsey-B/sage/pkg/identity"
	"github.com/Ramsey-B/sage/pkg/kafka"
	"github.com/Ramsey-B/sage/pkg/middleware"
	"github.com/Ramsey-B/sage/pkg/pipeline"
	"github.com/Ramsey-B/sage/pkg/queue"
	"github.com/Ramsey-B/sage/pkg/redis"
	"github.com/Ramsey-B/sage/pkg/routes/customers"
	"github.com/Ramsey-B/sage/pkg/routes/dlq"
	"github.com/Ramsey-B/sage/pkg/routes/metrics"
	"github.com/Ramsey-B/sage/pkg/routes/runs"
	"github.com/Ramsey-B/sage/pkg/routes/sources"
	"github.com/Ramsey-B/sage/pkg/scheduler"
	"github.com/Ramsey-B/sage/pkg/startup"
	"github.com/Ramsey-B/sage/pkg/tracing"
	"github.com/Ramsey-B/sage/pkg/tracing/exporters"
	"github.com/Ramsey-B/sage/pkg/transform"
)

// version is stamped at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := &config.Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		panic(fmt.Errorf("failed to load config: %w", err))
	}

	logger := newLogger(cfg)

	ctx := context.Background()

	if cfg.TracingEnabled {
		shutdownTracing, err := initTracing(ctx, cfg)
		if err != nil {
			logger.WithError(err).Error("Failed to initialize tracing")
		} else {
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.WithError(err).Error("Failed to shut down tracing")
				}
			}()
		}
	}

	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		panic(fmt.Errorf("failed to create DI container: %w", err))
	}
	mustRegister(ectoinject.RegisterInstance[*config.Config](container, cfg))
	mustRegister(ectoinject.RegisterInstance[ectologger.Logger](container, logger))

	var producer *kafka.Producer
	if cfg.KafkaEventsEnabled {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaEventsTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
	}

	// Handles shared between startup dependencies. Each dependency's Start
	// fills in its own and the later ones close over them.
	var (
		db          database.DB
		redisClient *redis.Client
		streams     *redis.Streams
		deadletters *redis.DeadLetterQueue
		locker      *redis.Locker
		limiter     *redis.RateLimiter

		sourceRepo   *source.Repository
		rawRepo      *rawrecord.Repository
		leadRepo     *cleanlead.Repository
		orderRepo    *cleanorder.Repository
		fragmentRepo *customerfragment.Repository
		masterRepo   *mastercustomer.Repository
		cursorRepo   *etlcursor.Repository
		metricRepo   *dailymetric.Repository
		runRepo      *pipelinerun.Repository

		processor *queue.Processor
		sched     *scheduler.Scheduler
		intake    *kafka.Consumer
	)

	st := startup.NewStartup(logger, cfg.StartupMaxAttempts)

	st.AddDependency(database.NewStartupDep(cfg, logger, func(d database.DB) {
		db = d
		sourceRepo = source.NewRepository(db, logger)
		rawRepo = rawrecord.NewRepository(db, logger)
		leadRepo = cleanlead.NewRepository(db, logger)
		orderRepo = cleanorder.NewRepository(db, logger)
		fragmentRepo = customerfragment.NewRepository(db, logger)
		masterRepo = mastercustomer.NewRepository(db, logger)
		cursorRepo = etlcursor.NewRepository(db, logger)
		metricRepo = dailymetric.NewRepository(db, logger)
		runRepo = pipelinerun.NewRepository(db, logger)

		mustRegister(ectoinject.RegisterInstance[database.DB](container, db))
		mustRegister(ectoinject.RegisterInstance[*source.Repository](container, sourceRepo))
		mustRegister(ectoinject.RegisterInstance[*rawrecord.Repository](container, rawRepo))
		mustRegister(ectoinject.RegisterInstance[*cleanlead.Repository](container, leadRepo))
		mustRegister(ectoinject.RegisterInstance[*cleanorder.Repository](container, orderRepo))
		mustRegister(ectoinject.RegisterInstance[*customerfragment.Repository](container, fragmentRepo))
		mustRegister(ectoinject.RegisterInstance[*mastercustomer.Repository](container, masterRepo))
		mustRegister(ectoinject.RegisterInstance[*etlcursor.Repository](container, cursorRepo))
		mustRegister(ectoinject.RegisterInstance[*dailymetric.Repository](container, metricRepo))
		mustRegister(ectoinject.RegisterInstance[*pipelinerun.Repository](container, runRepo))
	}))

	st.AddDependency(&startupFn{
		name: "redis",
		start: func(ctx context.Context) error {
			client, err := redis.NewClient(redis.Config{
				Host:     cfg.RedisHost,
				Port:     cfg.RedisPort,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}, logger)
			if err != nil {
				return err
			}
			redisClient = client
			streams = redis.NewStreams(redisClient)
			deadletters = redis.NewDeadLetterQueue(redisClient, "", logger)
			locker = redis.NewLocker(redisClient, "")
			limiter = redis.NewRateLimiter(redisClient, "")

			mustRegister(ectoinject.RegisterInstance[*redis.Streams](container, streams))
			mustRegister(ectoinject.RegisterInstance[*redis.DeadLetterQueue](container, deadletters))
			return nil
		},
		stop: func(ctx context.Context) error {
			if redisClient == nil {
				return nil
			}
			return redisClient.Close()
		},
	})

	if cfg.QueueEnabled {
		st.AddDependency(&startupFn{
			name:      "queue",
			dependsOn: []string{"database", "redis"},
			start: func(ctx context.Context) error {
				hcfg := httpclient.DefaultConfig()
				hcfg.Timeout = cfg.ExtractHTTPTimeout
				hcfg.MaxResponseSize = cfg.ExtractMaxResponseSize

				extractor := extract.NewExtractor(sourceRepo, rawRepo,
					httpclient.NewClient(hcfg, logger), limiter, expressions.NewEvaluator(), logger)
				transformer := transform.NewTransformer(rawRepo, leadRepo, orderRepo, fragmentRepo, cursorRepo,
					identity.NewResolver(masterRepo, logger), locker,
					transform.Config{BatchSize: cfg.TransformBatchSize}, logger)
				aggregator := aggregate.NewAggregator(metricRepo, locker,
					aggregate.Config{WindowDays: cfg.AggregateBatchDays}, logger)
				runner := pipeline.NewRunner(runRepo, extractor, transformer, aggregator,
					events.NewEmitter(producer, logger), logger)

				pcfg := queue.DefaultProcessorConfig()
				pcfg.Stream = cfg.QueueStream
				pcfg.ConsumerGroup = cfg.QueueConsumerGroup
				pcfg.WorkerCount = cfg.QueueWorkerCount
				pcfg.MaxRetries = cfg.QueueMaxRetries
				pcfg.ClaimMinIdle = cfg.QueueClaimMinIdle

				processor = queue.NewProcessor(streams, deadletters, runner, pcfg, logger)
				return processor.Start(ctx)
			},
			stop: func(ctx context.Context) error {
				if processor == nil || !processor.IsRunning() {
					return nil
				}
				return processor.Stop(ctx)
			},
		})
	}

	if cfg.SchedulerEnabled {
		st.AddDependency(&startupFn{
			name:      "scheduler",
			dependsOn: []string{"database", "redis"},
			start: func(ctx context.Context) error {
				sched = scheduler.NewScheduler(sourceRepo, runRepo, streams, locker, scheduler.Config{
					PollInterval: cfg.SchedulerPollInterval,
					JobQueue:     cfg.QueueStream,
				}, logger)
				return sched.Start(ctx)
			},
			stop: func(ctx context.Context) error {
				if sched == nil || !sched.IsRunning() {
					return nil
				}
				return sched.Stop(ctx)
			},
		})
	}

	if cfg.KafkaConsumerEnabled {
		st.AddDependency(&startupFn{
			name:      "kafka-intake",
			dependsOn: []string{"database"},
			start: func(ctx context.Context) error {
				intake = kafka.NewConsumer(kafka.ConsumerConfig{
					Brokers:       cfg.KafkaBrokers,
					Topic:         cfg.KafkaIntakeTopic,
					ConsumerGroup: cfg.KafkaConsumerGroup,
				}, logger, kafka.IntakeHandler(rawRepo, logger))
				return intake.Start(ctx)
			},
			stop: func(ctx context.Context) error {
				if intake == nil {
					return nil
				}
				return intake.Stop()
			},
		})
	}

	if err := st.Start(ctx); err != nil {
		panic(fmt.Errorf("startup failed: %w", err))
	}

	checker := health.NewChecker(db, redisClient, version)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())
	if cfg.TracingEnabled {
		e.Use(otelecho.Middleware(cfg.AppName))
	}
	e.Use(middleware.Logger(logger))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	if cfg.AuthEnabled {
		e.Use(middleware.Authentication(logger, cfg.AuthIssuerURL, cfg.AuthClientID))
	}

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	sources.Register(api.Group("/sources"))
	runs.Register(api.Group("/runs"))
	metrics.Register(api.Group("/metrics"))
	customers.Register(api.Group("/customers"))
	dlq.Register(api.Group("/dlq"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		checker.SetReady(true)
		logger.WithField("port", cfg.Port).Infof("%s listening on :%d", cfg.AppName, cfg.Port)
		if err := e.StartServer(srv); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to stop HTTP server")
	}
	if err := st.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to stop dependencies")
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.WithError(err).Error("Failed to close Kafka producer")
		}
	}
}

// startupFn adapts closures to the startup dependency lifecycle.
type startupFn struct {
	name      string
	dependsOn []string
	start     func(context.Context) error
	stop      func(context.Context) error
}

func (d *startupFn) GetName() string     { return d.name }
func (d *startupFn) DependsOn() []string { return d.dependsOn }

func (d *startupFn) Start(ctx context.Context) error { return d.start(ctx) }

func (d *startupFn) Stop(ctx context.Context) error {
	if d.stop == nil {
		return nil
	}
	return d.stop(ctx)
}

func mustRegister(err error) {
	if err != nil {
		panic(fmt.Errorf("failed to register dependency: %w", err))
	}
}

// newLogger builds the process logger on a zap sink. Entries keep their level
// when the serialized form carries one; anything unrecognized lands at info.
func newLogger(cfg *config.Config) ectologger.Logger {
	zcfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zcfg = zap.NewDevelopmentConfig()
	}
	if lvl, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	zcfg.DisableCaller = true
	zcfg.DisableStacktrace = true

	zlog, err := zcfg.Build()
	if err != nil {
		zlog = zap.NewNop()
	}

	return ectologger.NewEctoLogger(logSink(zlog))
}

func logSink(zlog *zap.Logger) func(ectologger.EctoLogMessage) {
	return func(msg ectologger.EctoLogMessage) {
		data, err := json.Marshal(msg)
		if err != nil {
			zlog.Error("failed to encode log entry", zap.Error(err))
			return
		}

		var entry map[string]any
		if err := json.Unmarshal(data, &entry); err != nil {
			zlog.Info(string(data))
			return
		}

		level, _ := entry["level"].(string)
		message, _ := entry["message"].(string)
		fields := make([]zap.Field, 0, len(entry))
		for k, v := range entry {
			if k == "level" || k == "message" {
				continue
			}
			fields = append(fields, zap.Any(k, v))
		}

		switch strings.ToLower(level) {
		case "debug":
			zlog.Debug(message, fields...)
		case "warn", "warning":
			zlog.Warn(message, fields...)
		case "error", "fatal":
			zlog.Error(message, fields...)
		default:
			zlog.Info(message, fields...)
		}
	}
}

func initTracing(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: cfg.TracingOTLPEndpoint,
		Protocol: cfg.TracingOTLPProtocol,
		Insecure: cfg.TracingOTLPInsecure,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.AppName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracing.SetTracer(tp.Tracer(cfg.AppName))

	return tp.Shutdown, nil
}
