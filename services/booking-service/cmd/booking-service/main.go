package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"github.com/md-rashed-zaman/studiobook/libs/config"
	"github.com/md-rashed-zaman/studiobook/libs/db"
	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"github.com/md-rashed-zaman/studiobook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/studiobook/libs/otel"
	"github.com/md-rashed-zaman/studiobook/libs/runtime"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/reconcile"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/api/option"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port := must(config.Port("PORT", "8080"))
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

	loc := must(config.Location("STUDIO_TIMEZONE", "Europe/Athens"))
	calendarTimeout := must(config.Duration("CALENDAR_TIMEOUT", 10*time.Second))
	gatewayTimeout := must(config.Duration("GATEWAY_TIMEOUT", 10*time.Second))

	pool, err := db.Open(ctx, must(config.RequiredString("DATABASE_URL")), db.Options{
		MaxConns: int32(must(config.Int("DB_MAX_CONNS", 10))),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository()
	repo := storage.NewBookingRepository(pool, outboxRepo, loc)

	brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	var calOpts []option.ClientOption
	if f := config.String("GOOGLE_CREDENTIALS_FILE", ""); f != "" {
		calOpts = append(calOpts, option.WithCredentialsFile(f))
	}
	provider, err := calendar.NewGoogleProvider(ctx, calendar.GoogleConfig{
		CalendarID: must(config.RequiredString("GOOGLE_CALENDAR_ID")),
		Location:   loc,
		Timeout:    calendarTimeout,
	}, calOpts...)
	if err != nil {
		logger.Error("calendar client init failed", "err", err)
		panic(err)
	}

	gateways, omiseEvents := buildGateways(logger)
	sender := buildSender(logger)

	rec := reconcile.New(repo, gateways, provider, sender, logger, reconcile.Config{
		StudioName:        config.String("STUDIO_NAME", "Studio"),
		ClaimLease:        must(config.Duration("SIDE_EFFECT_CLAIM_LEASE", 2*time.Minute)),
		SideEffectTimeout: calendarTimeout + 5*time.Second,
		GatewayTimeout:    gatewayTimeout,
	})

	sweeper := reconcile.NewSweeper(repo, rec, pool, logger, must(config.Int("SIDE_EFFECT_SWEEP_BATCH", 50)))
	scheduler := cron.New(cron.WithLogger(reconcile.CronLogger(logger)))
	if _, err := sweeper.Schedule(ctx, scheduler, config.String("SIDE_EFFECT_SWEEP_SCHEDULE", "@every 1m")); err != nil {
		logger.Error("invalid sweep schedule", "err", err)
		panic(err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}

	limit := must(config.Int("RATE_LIMIT_PER_MINUTE", 60))
	var limiter httpx.Limiter = httpx.NewMemoryLimiter(limit, time.Minute)
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			panic(err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		limiter = httpx.NewRedisLimiter(rdb, limit, time.Minute, "studiobook:ratelimit:")
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	limited := httpx.RateLimit(limiter, logger, true)

	availabilityHandler := handlers.NewAvailabilityHandler(
		availability.NewService(availability.DefaultPolicy(loc), calendar.NewExtractor(provider, loc, logger)),
		logger,
	)
	paymentHandler := handlers.NewPaymentHandler(rec, logger)
	webhookHandler := handlers.NewWebhookHandler(rec, omiseEvents, handlers.WebhookConfig{
		StripeSecret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeTolerance: must(config.Duration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute)),
	}, logger)

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.HandleFunc("/api/v1/availability", availabilityHandler.Get)
	mux.Handle("/api/v1/payments/confirm", limited(http.HandlerFunc(paymentHandler.Confirm)))
	mux.Handle("/api/v1/payments/status", limited(http.HandlerFunc(paymentHandler.Status)))
	mux.Handle("/api/v1/webhooks/stripe", limited(http.HandlerFunc(webhookHandler.Stripe)))
	mux.Handle("/api/v1/webhooks/omise", limited(http.HandlerFunc(webhookHandler.Omise)))
	mountAdmin(mux, rec, limited, logger)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{AllowedOrigins: httpx.ParseOrigins(config.String("CORS_ALLOWED_ORIGINS", ""))}),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := runtime.Serve(ctx, srv, logger, 10*time.Second); err != nil {
		logger.Error("server exited", "err", err)
	}
}

// buildGateways registers only the gateways that have credentials.
func buildGateways(logger *slog.Logger) (payments.Gateways, handlers.EventVerifier) {
	var (
		list        []payments.Gateway
		omiseEvents handlers.EventVerifier
	)
	if key := config.String("STRIPE_SECRET_KEY", ""); key != "" {
		gw, err := payments.NewStripeGateway(key, nil)
		if err != nil {
			panic(err)
		}
		list = append(list, gw)
	} else {
		logger.Warn("card payments disabled (STRIPE_SECRET_KEY not set)")
	}
	if pk, sk := config.String("OMISE_PUBLIC_KEY", ""), config.String("OMISE_SECRET_KEY", ""); sk != "" {
		gw, err := payments.NewOmiseGateway(pk, sk)
		if err != nil {
			panic(err)
		}
		list = append(list, gw)
		omiseEvents = gw
	} else {
		logger.Warn("wallet payments disabled (OMISE_SECRET_KEY not set)")
	}
	return payments.NewGateways(list...), omiseEvents
}

func buildSender(logger *slog.Logger) notify.Sender {
	fromName := config.String("MAIL_FROM_NAME", config.String("STUDIO_NAME", "Studio"))
	fromEmail := config.String("MAIL_FROM", "no-reply@studiobook.local")
	if key := config.String("SENDGRID_API_KEY", ""); key != "" {
		s, err := notify.NewSendGridSender(key, fromName, fromEmail)
		if err != nil {
			panic(err)
		}
		return s
	}
	logger.Info("using smtp sender", "host", config.String("SMTP_HOST", "localhost"))
	return notify.NewSMTPSender(config.String("SMTP_HOST", "localhost"), config.String("SMTP_PORT", "1025"), fromEmail)
}

// mountAdmin exposes the admin routes only when credentials are configured.
func mountAdmin(mux *http.ServeMux, rec *reconcile.Reconciler, limited httpx.Middleware, logger *slog.Logger) {
	username := config.String("ADMIN_USERNAME", "")
	hash := config.String("ADMIN_PASSWORD_HASH", "")
	secret := config.String("ADMIN_JWT_SECRET", "")
	if username == "" || hash == "" || secret == "" {
		logger.Warn("admin routes disabled (ADMIN_USERNAME, ADMIN_PASSWORD_HASH and ADMIN_JWT_SECRET are required)")
		return
	}
	issuer, err := auth.NewIssuer(secret, "studiobook", must(config.Duration("ADMIN_TOKEN_TTL", 8*time.Hour)))
	if err != nil {
		panic(err)
	}
	admin := handlers.NewAdminHandler(auth.Credentials{Username: username, PasswordHash: []byte(hash)}, issuer, rec, logger)
	mux.Handle("/api/v1/admin/login", limited(http.HandlerFunc(admin.Login)))
	mux.Handle("/api/v1/admin/bookings/cancel", auth.RequireRole(issuer, http.HandlerFunc(admin.Cancel), auth.RoleAdmin))
}
