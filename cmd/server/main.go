package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pdf-intake/backend/internal/api"
	"github.com/pdf-intake/backend/internal/config"
	"github.com/pdf-intake/backend/internal/docstore"
	"github.com/pdf-intake/backend/internal/extract"
	"github.com/pdf-intake/backend/internal/intake"
	"github.com/pdf-intake/backend/internal/logger"
	"github.com/pdf-intake/backend/internal/queue"
	"github.com/pdf-intake/backend/internal/staging"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		exePath, err := os.Executable()
		if err != nil {
			fmt.Printf("Failed to get executable path: %v\n", err)
			os.Exit(1)
		}
		configPath = filepath.Join(filepath.Dir(exePath), "pdf-intake.yaml")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatal("failed to create directories", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := docstore.Open(ctx, storeOptions(cfg))
	if err != nil {
		log.Fatal("failed to open document store", "backend", cfg.Storage.Backend, "error", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("closing document store", "error", err)
		}
	}()

	area, err := staging.NewArea(cfg.Storage.TempDirectory)
	if err != nil {
		log.Fatal("failed to initialize staging area", "error", err)
	}

	extractor, err := newExtractor(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize extractor", "error", err)
	}

	// The extractor enforces its own deadline; the queue timeout is a
	// backstop a little beyond it.
	q := queue.New(log,
		queue.WithWorkers(cfg.Processing.Workers),
		queue.WithQueueSize(cfg.Processing.QueueSize),
		queue.WithProcessTimeout(cfg.ExtractionTimeout()+30*time.Second),
	)

	svc := intake.NewService(store, area, extractor, q, intake.Config{
		BatchDedup:  cfg.Processing.DirectoryDedup,
		MarkFailed:  cfg.Processing.MarkFailed,
		Parallelism: cfg.Processing.BatchParallelism,
	}, log)

	// Background sweep of abandoned staging entries
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := area.Sweep(cfg.StagingMaxAge())
				if err != nil {
					log.Warn("staging sweep failed", "error", err)
				}
				if n > 0 {
					log.Info("staging sweep removed stale entries", "count", n)
				}
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = api.NewErrorHandler(log, !strings.EqualFold(cfg.Logging.Mode, "production"))

	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return !cfg.Logging.RequestLogging || c.Request().URL.Path == "/health"
		},
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			kv := []interface{}{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				log.Warn("request", append(kv, "error", v.Error)...)
				return nil
			}
			log.Info("request", kv...)
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Error("panic recovered", "path", c.Request().URL.Path, "error", err, "stack", string(stack))
			return err
		},
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			// uploads and directory scans are bounded by the body limit and server timeouts
			return c.Request().Method == http.MethodPost
		},
		ErrorMessage: "Request timeout",
	}))

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			return strings.HasSuffix(c.Request().URL.Path, ".xlsx")
		},
	}))

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:     store,
		Intake:    svc,
		Queue:     q,
		Staging:   area,
		ListLimit: cfg.Processing.ListLimit,
		Version:   Version,
	}))

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	log.Info("pdf intake server starting",
		"version", Version,
		"build_time", BuildTime,
		"config", configPath,
		"addr", cfg.GetServerAddr(),
		"store", cfg.Storage.Backend,
		"temp_dir", cfg.Storage.TempDirectory,
		"extraction_mode", cfg.Extraction.Mode,
	)

	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSeconds)*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	if err := q.Shutdown(shutdownCtx); err != nil {
		log.Warn("extraction queue did not drain", "error", err, "pending", q.Stats().Queued)
	}
}

func storeOptions(cfg *config.AppConfig) docstore.Options {
	st := cfg.Storage
	return docstore.Options{
		Backend:  st.Backend,
		DuckPath: st.DuckDBPath,
		Duck: docstore.DuckOptions{
			MemoryLimit: st.DuckDBMemoryLimit,
			Threads:     st.DuckDBThreads,
		},
		Postgres: docstore.PostgresConfig{
			DSN:              st.DatabaseURL,
			MaxConns:         st.DBMaxConns,
			MinConns:         st.DBMinConns,
			MaxConnLifetime:  30 * time.Minute,
			MaxConnIdleTime:  5 * time.Minute,
			DialTimeout:      time.Duration(st.DBDialTimeout) * time.Second,
			StatementTimeout: time.Duration(st.DBStmtTimeout) * time.Millisecond,
			ApplicationName:  st.DBAppName,
		},
		Redis: docstore.RedisConfig{
			Addr:        st.RedisAddr,
			Password:    st.RedisPassword,
			DB:          st.RedisDB,
			Prefix:      st.RedisKeyPrefix,
			DialTimeout: time.Duration(st.DBDialTimeout) * time.Second,
		},
	}
}

func newExtractor(cfg *config.AppConfig, log *logger.Logger) (extract.Extractor, error) {
	if strings.EqualFold(cfg.Extraction.Mode, "builtin") {
		log.Info("using in-process placeholder extractor")
		return extract.Builtin, nil
	}
	return extract.NewCommandInvoker(cfg.Extraction.Command, cfg.Extraction.Args, cfg.ExtractionTimeout(), log)
}
