package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dmitri-ops/apptcoord/libs/config"
	"github.com/dmitri-ops/apptcoord/libs/db"
	"github.com/dmitri-ops/apptcoord/libs/httpx"
	"github.com/dmitri-ops/apptcoord/libs/kafkax"
	otelx "github.com/dmitri-ops/apptcoord/libs/otel"
	"github.com/dmitri-ops/apptcoord/libs/runtime"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/blacklist"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/handlers"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/lifecycle"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/notify"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/scheduler"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/slots"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "coordinator-service")
	port, err := config.Port("PORT", "8090")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, int32(config.Int("DB_MAX_CONNS", 16)))
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	location := time.Local
	if tz := config.String("WORKING_HOURS_TZ", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			logger.Error("invalid WORKING_HOURS_TZ, using local time", "err", err, "tz", tz)
		} else {
			location = loc
		}
	}
	allocator := slots.New(slots.Config{Location: location})

	var rdb *redis.Client
	var cache *blacklist.Cache
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer func() { _ = rdb.Close() }()
		cache = blacklist.NewCache(rdb, config.String("BLACKLIST_CACHE_PREFIX", "bl"))
	}

	var sender notify.Sender
	brokers := config.String("KAFKA_BROKERS", "")
	if brokers != "" {
		kafkaSender := notify.NewKafkaSender(kafkax.SplitBrokers(brokers))
		defer func() { _ = kafkaSender.Close() }()
		sender = kafkaSender
	} else {
		logger.Warn("KAFKA_BROKERS not set, notifications go to the log only")
		sender = notify.LogSender{Logger: logger}
	}
	notifier := notify.NewNotifier(sender, logger, config.Int64("ADMIN_CHAT_ID", 0))

	apptRepo := storage.NewAppointmentRepository(pool)
	specRepo := storage.NewSpecialistRepository(pool)
	clientRepo := storage.NewClientRepository(pool)
	blockRepo := storage.NewBlacklistRepository(pool)
	ledger := storage.NewLedger(pool)

	svc := lifecycle.NewService(lifecycle.Deps{
		Pool:         pool,
		Appointments: apptRepo,
		Specialists:  specRepo,
		Clients:      clientRepo,
		Blacklist:    blockRepo,
		Ledger:       ledger,
		Cache:        cache,
		Allocator:    allocator,
		Notifier:     notifier,
		Logger:       logger,
	})

	engine := scheduler.NewEngine(scheduler.Config{
		ReminderInterval:  config.Duration("REMINDER_SCAN_INTERVAL", time.Minute),
		LatenessInterval:  config.Duration("LATENESS_SCAN_INTERVAL", 30*time.Second),
		RankResetInterval: config.Duration("RANK_RESET_SCAN_INTERVAL", time.Hour),
		NoShowBlock:       config.Duration("NO_SHOW_BLOCK", 14*24*time.Hour),
		LedgerGrace:       config.Duration("LEDGER_GRACE", 24*time.Hour),
	}, scheduler.Deps{
		Pool:         pool,
		Appointments: apptRepo,
		Specialists:  specRepo,
		Blacklist:    blockRepo,
		Ledger:       ledger,
		Cache:        cache,
		Notifier:     notifier,
		Logger:       logger,
	})
	go engine.Run(ctx)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	if rdb != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: blacklist.ReadyCheck(rdb)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	h := handlers.NewCoordinatorHandler(handlers.Deps{
		Service:      svc,
		Appointments: apptRepo,
		Specialists:  specRepo,
		Blacklist:    blockRepo,
		Ledger:       ledger,
		Cache:        cache,
		Allocator:    allocator,
		Logger:       logger,
	})
	h.Register(mux)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 30*time.Second)),
	}
	if origins := config.String("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		middlewares = append(middlewares, httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(origins, ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
			MaxAge:         10 * time.Minute,
		}))
	}
	rateLimit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if rdb != nil {
		limiter := httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, "rl:coordinator")
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		middlewares = append(middlewares, httpx.NewRateLimiter(rateLimit, time.Minute).Middleware())
	}
	handler := httpx.Chain(mux, middlewares...)
	handler = otelhttp.NewHandler(handler, "coordinator")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
