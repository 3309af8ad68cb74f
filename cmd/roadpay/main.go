package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	roadpay "github.com/roadpay/roadpay"
	"github.com/roadpay/roadpay/adapters/gologger"
	"github.com/roadpay/roadpay/core"
	"github.com/roadpay/roadpay/events"
	"github.com/roadpay/roadpay/migrations"
	"github.com/roadpay/roadpay/provider"
	"github.com/roadpay/roadpay/ratelimit"
	sqlstore "github.com/roadpay/roadpay/store/sql"
	"github.com/roadpay/roadpay/transport/httpapi"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := newSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(logger); err != nil {
		logger.Error("roadpay exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(logger glog.Logger) error {
	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file found, using process environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := roadpay.ResolveConfig(ctx, nil, nil, configFromEnv())
	if err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}

	observer := gologger.NewObserver(cfg.ServiceName, nil, logger, nil)

	client, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer client.Close()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return fmt.Errorf("build repositories: %w", err)
	}

	handlerOptions, serviceOptions, err := wireProvider(cfg, factory, observer)
	if err != nil {
		return err
	}

	options := append([]roadpay.Option{
		roadpay.WithStorage(factory.KVStore()),
		roadpay.WithObserver(observer),
		roadpay.WithHandlerOptions(handlerOptions...),
	}, serviceOptions...)

	service, err := roadpay.Setup(cfg, options...)
	if err != nil {
		return fmt.Errorf("assemble pipeline: %w", err)
	}

	api, err := httpapi.New(service, service, service, service, httpapi.WithObserver(observer))
	if err != nil {
		return fmt.Errorf("build http api: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// wireProvider builds the provider-backed collaborators when an API
// key is configured. Without one the pipeline still processes
// deliveries; dunning actions and customer lookups are skipped.
func wireProvider(
	cfg roadpay.Config,
	factory *sqlstore.RepositoryFactory,
	observer core.Observer,
) ([]events.HandlersOption, []roadpay.Option, error) {
	serviceOptions := []roadpay.Option{
		roadpay.WithCustomerUpserter(factory.CustomerDirectory()),
	}

	directory, err := cachedDirectory(factory.CustomerDirectory())
	if err != nil {
		return nil, nil, fmt.Errorf("customer directory cache: %w", err)
	}
	handlerOptions := []events.HandlersOption{
		events.WithCustomerDirectory(directory),
	}

	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		return handlerOptions, serviceOptions, nil
	}

	throttle := ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
	client, err := provider.NewClient(
		cfg.Provider.APIKey,
		provider.WithBaseURL(cfg.Provider.BaseURL),
		provider.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
		}),
		provider.WithObserver(observer),
		provider.WithThrottlePolicy(throttle),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("provider client: %w", err)
	}

	dunning, err := provider.NewDunning(client)
	if err != nil {
		return nil, nil, fmt.Errorf("dunning: %w", err)
	}
	handlerOptions = append(handlerOptions, events.WithDunning(dunning))

	return handlerOptions, serviceOptions, nil
}

func cachedDirectory(base core.CustomerDirectory) (core.CustomerDirectory, error) {
	cacheService, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return sqlstore.NewCachedCustomerDirectory(base, cacheService)
}

func openDatabase(ctx context.Context, cfg core.DatabaseConfig) (*persistence.Client, error) {
	driver := strings.TrimSpace(strings.ToLower(cfg.Driver))

	var (
		driverName string
		sqlDialect schema.Dialect
		target     string
	)
	switch driver {
	case "", "sqlite":
		driverName = "sqlite3"
		sqlDialect = sqlitedialect.New()
		target = migrations.DialectSQLite
	case "postgres":
		driverName = "postgres"
		sqlDialect = pgdialect.New()
		target = migrations.DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	sqlDB, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{driver: driverName, server: cfg.DSN}, sqlDB, sqlDialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	_, err = migrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != target {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(target))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

type persistenceConfig struct {
	driver string
	server string
}

func (c persistenceConfig) GetDebug() bool                { return false }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "roadpay" }

// configFromEnv builds the runtime overlay from ROADPAY_* variables.
// Unset variables leave the layered defaults in place.
func configFromEnv() roadpay.Config {
	var cfg roadpay.Config
	cfg.ServiceName = os.Getenv("ROADPAY_SERVICE_NAME")
	cfg.Webhook.Secret = os.Getenv("ROADPAY_WEBHOOK_SECRET")
	cfg.Webhook.PreviousSecret = os.Getenv("ROADPAY_WEBHOOK_PREVIOUS_SECRET")
	cfg.Webhook.ToleranceSeconds = envInt("ROADPAY_WEBHOOK_TOLERANCE_SECONDS")
	cfg.Webhook.MaxRetries = envInt("ROADPAY_WEBHOOK_MAX_RETRIES")
	cfg.Webhook.BaseDelaySeconds = envInt("ROADPAY_WEBHOOK_BASE_DELAY_SECONDS")
	cfg.Provider.APIKey = os.Getenv("ROADPAY_PROVIDER_API_KEY")
	cfg.Provider.BaseURL = os.Getenv("ROADPAY_PROVIDER_BASE_URL")
	cfg.Provider.TimeoutSeconds = envInt("ROADPAY_PROVIDER_TIMEOUT_SECONDS")
	cfg.Notify.FromAddress = os.Getenv("ROADPAY_NOTIFY_FROM_ADDRESS")
	cfg.Notify.AdminEmail = os.Getenv("ROADPAY_NOTIFY_ADMIN_EMAIL")
	cfg.Database.Driver = os.Getenv("ROADPAY_DATABASE_DRIVER")
	cfg.Database.DSN = os.Getenv("ROADPAY_DATABASE_DSN")
	cfg.HTTP.Addr = os.Getenv("ROADPAY_HTTP_ADDR")
	return cfg
}

func envInt(name string) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return value
}

// slogLogger bridges the process slog logger onto the logging contract
// the pipeline components expect.
type slogLogger struct {
	logger *slog.Logger
}

func newSlogLogger(logger *slog.Logger) *slogLogger {
	return &slogLogger{logger: logger}
}

func (l *slogLogger) Trace(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *slogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *slogLogger) Fatal(msg string, args ...any) {
	l.logger.Error(msg, args...)
	os.Exit(1)
}

func (l *slogLogger) WithContext(context.Context) glog.Logger {
	return l
}
