package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/scanline-io/timetablex/internal/api"
	"github.com/scanline-io/timetablex/internal/blobstore"
	"github.com/scanline-io/timetablex/internal/clock"
	"github.com/scanline-io/timetablex/internal/db"
	"github.com/scanline-io/timetablex/internal/extraction"
	"github.com/scanline-io/timetablex/internal/notification"
	"github.com/scanline-io/timetablex/internal/orchestrator"
	"github.com/scanline-io/timetablex/internal/pipeline"
	"github.com/scanline-io/timetablex/internal/preprocessor"
	"github.com/scanline-io/timetablex/internal/queue"
	"github.com/scanline-io/timetablex/internal/repositories"
	"github.com/scanline-io/timetablex/internal/scheduler"
	"github.com/scanline-io/timetablex/internal/worker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr     string
	dbDriver     string
	dbDSN        string
	secretKey    string
	logLevel     string
	dataDir      string
	redisAddr    string
	queuePrefix  string
	anthropicKey string
	flagsFile    string

	workerConcurrency int
	maxRetries        int
	visibilityTimeout int
	longPollSec       int
	backendTimeoutSec int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "timetablex-server",
		Short: "timetablex server — timetable extraction pipeline",
		Long: `timetablex server accepts submitted timetable artifacts (images, PDFs,
DOCX), extracts structured schedules from them through a complexity-routed
pipeline of structured/vision/hybrid backends, and serves job status,
results, and a FullCalendar projection over HTTP.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("TIMETABLEX_HTTP_ADDR", ":8080"), "HTTP API listen address")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("TIMETABLEX_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("TIMETABLEX_DB_DSN", "./timetablex.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.secretKey, "secret-key", envOrDefault("TIMETABLEX_SECRET_KEY", ""), "Master secret key for encrypting webhook secrets at rest (required)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("TIMETABLEX_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.dataDir, "data-dir", envOrDefault("TIMETABLEX_DATA_DIR", "./data"), "Directory for local blob storage")
	root.PersistentFlags().StringVar(&cfg.redisAddr, "redis-addr", envOrDefault("TIMETABLEX_REDIS_ADDR", "localhost:6379"), "Redis address backing the job queue")
	root.PersistentFlags().StringVar(&cfg.queuePrefix, "queue-prefix", envOrDefault("TIMETABLEX_QUEUE_PREFIX", "timetablex"), "Redis key prefix for the job queue")
	root.PersistentFlags().StringVar(&cfg.anthropicKey, "anthropic-api-key", envOrDefault("ANTHROPIC_API_KEY", ""), "API key for the Vision extraction backend")
	root.PersistentFlags().StringVar(&cfg.flagsFile, "flags-file", envOrDefault("TIMETABLEX_FLAGS_FILE", "./flags.yaml"), "Path to the hot-reloadable feature flags file")

	root.PersistentFlags().IntVar(&cfg.workerConcurrency, "worker-concurrency", envOrDefaultInt("WORKER_CONCURRENCY", pipeline.DefaultConfig().WorkerConcurrency), "Number of concurrent worker pool drainers")
	root.PersistentFlags().IntVar(&cfg.maxRetries, "max-retries", envOrDefaultInt("MAX_RETRIES", pipeline.DefaultConfig().MaxRetries), "Max retry attempts before a job is sent to the DLQ")
	root.PersistentFlags().IntVar(&cfg.visibilityTimeout, "visibility-timeout-sec", pipeline.DefaultConfig().VisibilityTimeoutSec, "Queue visibility timeout in seconds")
	root.PersistentFlags().IntVar(&cfg.longPollSec, "long-poll-sec", pipeline.DefaultConfig().LongPollSec, "Queue long-poll wait in seconds")
	root.PersistentFlags().IntVar(&cfg.backendTimeoutSec, "backend-timeout-sec", pipeline.DefaultConfig().BackendTimeoutSec, "Extraction backend call timeout in seconds")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("timetablex-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.secretKey == "" {
		return fmt.Errorf("secret key is required — set --secret-key or TIMETABLEX_SECRET_KEY")
	}

	logger.Info("starting timetablex server",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("log_level", cfg.logLevel),
		zap.Int("worker_concurrency", cfg.workerConcurrency),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Encryption ---
	// InitEncryption must run before opening the database so Webhook.Secret
	// can encrypt/decrypt transparently on read/write. The secret key is
	// padded or truncated to exactly 32 bytes (AES-256).
	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(cfg.secretKey))
	if err := db.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// --- 2. Database ---
	gormDB, err := db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- 3. Repositories ---
	jobRepo := repositories.NewJobRepository(gormDB)
	timetableRepo := repositories.NewTimetableRepository(gormDB)
	retryLogRepo := repositories.NewRetryLogRepository(gormDB)
	webhookRepo := repositories.NewWebhookRepository(gormDB)

	// --- 4. Blob store ---
	blobs, err := blobstore.NewLocalStore(cfg.dataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	// --- 5. Job queue ---
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
	defer redisClient.Close()

	pipelineConfig := pipeline.Config{
		StructuredEnabled:     envOrDefault("USE_STRUCTURED", "true") != "false",
		HybridEnabled:         envOrDefault("USE_HYBRID", "true") != "false",
		VisionFallbackEnabled: envOrDefault("USE_VISION_FALLBACK", "true") != "false",
		WorkerConcurrency:     cfg.workerConcurrency,
		MaxRetries:            cfg.maxRetries,
		VisibilityTimeoutSec:  cfg.visibilityTimeout,
		LongPollSec:           cfg.longPollSec,
		BackendTimeoutSec:     cfg.backendTimeoutSec,
	}

	jobQueue := queue.NewRedisQueue(redisClient, cfg.queuePrefix, pipelineConfig.VisibilityTimeout(), logger)

	// --- 6. Feature flags ---
	flagWatcher, err := pipeline.NewFlagWatcher(cfg.flagsFile, logger)
	if err != nil {
		logger.Warn("feature flags file unavailable, using environment flags", zap.Error(err), zap.String("path", cfg.flagsFile))
	} else {
		defer flagWatcher.Close()
		pipelineConfig = flagWatcher.Flags().Apply(pipelineConfig)
	}

	// --- 7. Extraction pipeline ---
	pre := preprocessor.New(nil, logger)
	structured := extraction.NewStructured()
	vision := extraction.NewVision(cfg.anthropicKey, logger)
	hybrid := extraction.NewHybrid(structured, vision, logger)
	orch := orchestrator.New(structured, vision, hybrid, pipelineConfig, logger)

	// --- 8. Notification ---
	webhookSender := notification.NewWebhookSender(notification.DefaultConfig())
	notifier := notification.NewService(webhookRepo, webhookSender, logger)

	// --- 9. Worker pool ---
	pool := worker.New(
		jobQueue,
		jobRepo,
		timetableRepo,
		retryLogRepo,
		webhookRepo,
		blobs,
		pre,
		orch,
		notifier,
		pipelineConfig,
		clock.New(),
		logger,
	)

	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	go func() {
		if err := pool.Run(workerCtx); err != nil {
			logger.Error("worker pool stopped with error", zap.Error(err))
		}
	}()

	// --- 10. Scheduler ---
	sched, err := scheduler.New(notifier, pool, jobQueue, scheduler.DefaultConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Warn("scheduler shutdown error", zap.Error(err))
		}
	}()

	// --- 11. HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		Logger:   logger,
		Jobs:     jobRepo,
		Webhooks: webhookRepo,
		Queue:    jobQueue,
		Blobs:    blobs,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down timetablex server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	workerCancel()

	logger.Info("timetablex server stopped")
	return nil
}

// gormLogLevel maps the application log level string to a GORM logger level.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}
