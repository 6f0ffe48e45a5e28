package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"liftbook/internal/api"
	"liftbook/internal/config"
	"liftbook/internal/database"
	"liftbook/internal/domain"
	"liftbook/internal/events"
	"liftbook/internal/export"
	"liftbook/internal/geo"
	"liftbook/internal/google"
	"liftbook/internal/logging"
	"liftbook/internal/metrics"
	"liftbook/internal/notify"
	"liftbook/internal/payment"
	"liftbook/internal/pricing"
	"liftbook/internal/repository"
	"liftbook/internal/service"
	"liftbook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, users, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	locker := initLocker(ctx, redisClient, logger)

	notifier, notifierCloser, err := initNotifier(cfg, db, logger)
	if err != nil {
		return err
	}
	if notifierCloser != nil {
		defer (func() { _ = notifierCloser.Close() })()
	}

	sheetsService := initGoogleSheets(ctx, cfg, logger)
	var mirror domain.BookingMirror
	if sheetsService != nil {
		mirror = sheetsService
	}

	outbox := worker.NewOutboxWorker(db, notifier, cfg.Notifications.Channel, mirror, redisClient, cfg.Notifications.Worker, logger)
	go outbox.Start(ctx)

	bus := newEventBus(logger)

	bookings := service.NewBookingService(
		db,
		locker,
		pricing.NewCalculator(cfg.Pricing),
		geo.NewHaversineProvider(cfg.Geo),
		payment.NewSimulatedProvider(cfg.Payments),
		bus,
		outbox,
		service.SettingsFromConfig(cfg),
		logger,
	)

	if sheetsService != nil && cfg.Google.ResyncDays > 0 {
		resyncSheets(ctx, cfg, bookings, sheetsService, logger)
	}

	backup := database.NewBackupService(cfg.Database.Path, cfg.Backup, logger)
	go backup.Start(ctx)

	httpServer := api.NewHTTPServer(cfg.API, api.Dependencies{
		Bookings: bookings,
		Users:    users,
		Tokens:   api.NewTokenService(cfg.API.JWT),
		Exporter: export.NewAuditExporter(db, cfg.Exports.Path, logger),
		Outbox:   db,
	}, logger)

	startMetrics(ctx, cfg, logger)

	return startServer(ctx, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

// initDatabase opens storage and loads the configured users and fleet.
func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, *service.UserService, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, nil, err
	}

	users := service.NewUserService(db, logger)
	if err := users.Seed(ctx, cfg.Users, cfg.Fleet); err != nil {
		_ = db.Close()
		logger.Error().Err(err).Msg("seed users and fleet")
		return nil, nil, err
	}
	return db, users, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initLocker prefers Redis locks and falls back to process-local ones.
func initLocker(ctx context.Context, redisClient *redis.Client, logger *zerolog.Logger) domain.Locker {
	memory := repository.NewMemoryLocker()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				memory.Cleanup()
			}
		}
	}()

	if redisClient == nil {
		logger.Warn().Msg("redis not configured, booking locks are process-local")
		return memory
	}
	return repository.NewFailoverLocker(repository.NewRedisLocker(redisClient), memory, logger)
}

func initNotifier(cfg *config.Config, db *database.DB, logger *zerolog.Logger) (domain.Notifier, io.Closer, error) {
	switch cfg.Notifications.Channel {
	case config.ChannelTelegram:
		bot, err := notify.NewTelegramBot(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.Debug)
		if err != nil {
			logger.Error().Err(err).Msg("init telegram bot")
			return nil, nil, err
		}
		logger.Info().Str("bot", bot.Self.UserName).Msg("telegram notifications enabled")
		return notify.NewTelegramNotifier(bot, db, logger), nil, nil
	case config.ChannelAMQP:
		n, err := notify.DialAMQP(cfg.Notifications.AMQP.URL, cfg.Notifications.AMQP.Exchange)
		if err != nil {
			logger.Error().Err(err).Msg("init amqp notifier")
			return nil, nil, err
		}
		logger.Info().Str("exchange", cfg.Notifications.AMQP.Exchange).Msg("amqp notifications enabled")
		return n, n, nil
	default:
		return notify.NewLogNotifier(logger), nil, nil
	}
}

func initGoogleSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.SheetsService {
	if !cfg.Google.Enabled {
		return nil
	}

	sheetsService, err := google.NewSheetsService(ctx, cfg.Google)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheetsService.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets unreachable, continuing without sheets")
		return nil
	}

	go sheetsService.StartCacheRefresh(ctx, 30*time.Minute)

	logger.Info().Msg("google sheets connected")
	return sheetsService
}

// resyncSheets rewrites the mirror from storage so rows missed while the
// mirror was disabled show up again.
func resyncSheets(ctx context.Context, cfg *config.Config, bookings *service.BookingService, sheetsService *google.SheetsService, logger *zerolog.Logger) {
	today := time.Now()
	start := today.AddDate(0, 0, -cfg.Google.ResyncDays)
	end := today.AddDate(0, 0, cfg.Google.ResyncDays)

	list, err := bookings.BookingsInRange(ctx, start, end)
	if err != nil {
		logger.Warn().Err(err).Msg("load bookings for sheets resync")
		return
	}
	if err := sheetsService.ReplaceBookings(ctx, list); err != nil {
		logger.Warn().Err(err).Msg("sheets resync failed")
		return
	}
	logger.Info().Int("bookings", len(list)).Msg("sheets resynced")
}

// newEventBus wires the in-process subscribers: an audit log line per event.
func newEventBus(logger *zerolog.Logger) *events.EventBus {
	l := logger.With().Str("component", "events").Logger()
	bus := events.NewEventBus()
	bus.OnError = func(event *events.Event, err error) {
		l.Error().Err(err).Str("event", event.Type).Msg("event handler failed")
	}
	bus.Subscribe(events.AllEvents, func(event *events.Event) error {
		l.Info().Str("event", event.Type).RawJSON("payload", event.Payload).Msg("domain event")
		return nil
	})
	return bus
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if !cfg.API.HTTP.Enabled {
			logger.Warn().Msg("HTTP transport disabled; only background workers are running")
			return
		}
		errCh <- httpServer.Start()
	}()

	logger.Info().Str("http_addr", httpServer.Addr()).Msg("API server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
