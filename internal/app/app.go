package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alexedwards/scs/goredisstore"
	"github.com/alexedwards/scs/v2"
	"github.com/exaring/otelpgx"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/coursehub/internal/billing"
	"github.com/metinatakli/coursehub/internal/domain"
	"github.com/metinatakli/coursehub/internal/mailer"
	"github.com/metinatakli/coursehub/internal/payment"
	"github.com/metinatakli/coursehub/internal/repository"
	appvalidator "github.com/metinatakli/coursehub/internal/validator"
	"github.com/metinatakli/coursehub/internal/vcs"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v82"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

var (
	version = vcs.Version()
)

// BillingService is what the HTTP layer and the background workers need from
// the billing core.
type BillingService interface {
	StartCheckout(ctx context.Context, in billing.CheckoutInput) (*billing.CheckoutResult, error)
	Verify(ctx context.Context, userID int, sessionID string) (*billing.VerifyResult, error)
	CaptureReferral(ctx context.Context, userID int, code string, ref domain.ItemRef) (*billing.Referral, error)
	Entitlements(ctx context.Context, userID int) ([]domain.Entitlement, error)
	Balance(ctx context.Context, referrerID int, currency string) (*domain.ReferrerBalance, error)
	HandleEvent(ctx context.Context, ev *domain.ProcessorEvent) (billing.Outcome, error)
	SyncSubscription(ctx context.Context, externalID string) (billing.Outcome, error)
	Payout(ctx context.Context, referrerID int) (*billing.Payout, error)
	Revenue(ctx context.Context, ownerID int, currency, bucket string) (*domain.RevenueAggregate, error)
	RebuildRevenue(ctx context.Context, ownerID int) error
	SweepSubscriptions(ctx context.Context) (*billing.SweepResult, error)
	ConfirmMatured(ctx context.Context) (int, error)
	Wait()
}

type Application struct {
	config         Config
	logger         *slog.Logger
	redis          redis.UniversalClient
	validator      *validator.Validate
	sessionManager *scs.SessionManager
	processor      domain.PaymentProcessor
	billing        BillingService

	wg sync.WaitGroup
}

type Config struct {
	Port      int
	Env       string
	DB        DBConfig
	Redis     RedisConfig
	SMTP      SMTPConfig
	Stripe    StripeConfig
	Billing   BillingConfig
	Internal  InternalConfig
	Telemetry TelemetryConfig
}

type DBConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleTime  time.Duration
}

type RedisConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxIdleTime  time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
}

type StripeConfig struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	SuccessUrl       string
	CancelUrl        string
}

type BillingConfig struct {
	AttributionWindow time.Duration
	GracePeriod       time.Duration
	CommissionHold    time.Duration
	SweepInterval     time.Duration
	SweepBatchSize    int
	MaturityInterval  time.Duration
	// WebhookDedupeTTL is how long processed webhook event ids are remembered.
	WebhookDedupeTTL time.Duration
}

type InternalConfig struct {
	// TokenHash is the bcrypt hash of the bearer token internal callers send.
	TokenHash string
}

type TelemetryConfig struct {
	OtelCollectorUrl string
}

// ParseFlags reads the configuration from command-line flags. Defaults for
// secrets come from the environment so they stay out of process listings.
func ParseFlags(args []string) (Config, bool, error) {
	var cfg Config

	fs := flag.NewFlagSet("coursehub", flag.ContinueOnError)

	fs.IntVar(&cfg.Port, "port", 3000, "server port")
	fs.StringVar(&cfg.Env, "env", "dev", "Environment (dev|staging|prod)")

	fs.StringVar(&cfg.DB.DSN, "db-dsn", os.Getenv("DB_DSN"), "PostgreSQL DSN")
	fs.IntVar(&cfg.DB.MaxOpenConns, "db-max-open-conns", 25, "PostgreSQL max open connections")
	fs.DurationVar(&cfg.DB.MaxIdleTime, "db-max-idle-time", 15*time.Minute, "PostgreSQL max idle time for connections")

	fs.StringVar(&cfg.Redis.URL, "redis-url", os.Getenv("REDIS_URL"), "Redis URL")
	fs.IntVar(&cfg.Redis.MaxOpenConns, "redis-max-open-conns", 25, "Redis max open connections")
	fs.IntVar(&cfg.Redis.MaxIdleConns, "redis-max-idle-conns", 10, "Redis max idle connections")
	fs.DurationVar(&cfg.Redis.MaxIdleTime, "redis-max-idle-time", 2*time.Minute, "Redis max idle time for connections")

	fs.StringVar(&cfg.SMTP.Host, "smtp-host", "sandbox.smtp.mailtrap.io", "SMTP host")
	fs.IntVar(&cfg.SMTP.Port, "smtp-port", 2525, "SMTP port")
	fs.StringVar(&cfg.SMTP.Username, "smtp-username", os.Getenv("SMTP_USERNAME"), "SMTP username")
	fs.StringVar(&cfg.SMTP.Password, "smtp-password", os.Getenv("SMTP_PASSWORD"), "SMTP password")
	fs.StringVar(&cfg.SMTP.Sender, "smtp-sender", "CourseHub <no-reply@coursehub.dev>", "SMTP sender")

	fs.StringVar(&cfg.Stripe.SecretKey, "stripe-key", os.Getenv("STRIPE_SECRET_KEY"), "Stripe secret key")
	fs.StringVar(&cfg.Stripe.WebhookSecret, "stripe-webhook-secret", os.Getenv("STRIPE_WEBHOOK_SECRET"), "Stripe webhook secret")
	fs.DurationVar(&cfg.Stripe.WebhookTolerance, "stripe-webhook-tolerance", payment.DefaultWebhookTolerance, "Maximum age of a webhook signature")
	fs.StringVar(&cfg.Stripe.SuccessUrl, "stripe-success-url", "https://example.com/checkout/success", "Stripe payment success page")
	fs.StringVar(&cfg.Stripe.CancelUrl, "stripe-cancel-url", "https://example.com/checkout/cancel", "Stripe payment cancel page")

	fs.DurationVar(&cfg.Billing.AttributionWindow, "attribution-window", billing.DefaultAttributionWindow, "Referral attribution window")
	fs.DurationVar(&cfg.Billing.GracePeriod, "grace-period", billing.DefaultGracePeriod, "Past-due grace period before demotion")
	fs.DurationVar(&cfg.Billing.CommissionHold, "commission-hold", billing.DefaultCommissionHold, "Hold period before a commission can be paid out")
	fs.DurationVar(&cfg.Billing.SweepInterval, "subscription-sweep-interval", 15*time.Minute, "Interval of the subscription sweep")
	fs.IntVar(&cfg.Billing.SweepBatchSize, "subscription-sweep-batch", billing.DefaultSweepBatchSize, "Subscriptions synced per sweep")
	fs.DurationVar(&cfg.Billing.MaturityInterval, "commission-maturity-interval", time.Hour, "Interval of the commission maturation job")
	fs.DurationVar(&cfg.Billing.WebhookDedupeTTL, "webhook-dedupe-ttl", 7*24*time.Hour, "How long processed webhook ids are remembered")

	fs.StringVar(&cfg.Internal.TokenHash, "internal-token-hash", os.Getenv("INTERNAL_TOKEN_HASH"), "bcrypt hash of the internal API token")

	fs.StringVar(&cfg.Telemetry.OtelCollectorUrl, "otel-collector-url", os.Getenv("OTEL_COLLECTOR_URL"), "OpenTelemetry collector gRPC endpoint")

	displayVersion := fs.Bool("version", false, "Display version and exit")

	err := fs.Parse(args)
	if err != nil {
		return Config{}, false, err
	}

	return cfg, *displayVersion, nil
}

func Run(args []string) error {
	cfg, displayVersion, err := ParseFlags(args)
	if err != nil {
		return err
	}

	if displayVersion {
		fmt.Printf("Version:\t%s\n", version)
		return nil
	}

	stripe.Key = cfg.Stripe.SecretKey

	logger := slog.New(NewMultiHandler(
		slog.NewTextHandler(os.Stdout, nil),
		otelslog.NewHandler("coursehub-api"),
	))

	app := &Application{config: cfg, logger: logger}

	shutdownTelemetry, err := app.InitTelemetry()
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	db, err := NewDatabasePool(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := NewRedisClient(cfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	processor := payment.NewRetryingProcessor(
		payment.NewStripeProcessor(cfg.Stripe.SuccessUrl, cfg.Stripe.CancelUrl, cfg.Stripe.WebhookSecret, cfg.Stripe.WebhookTolerance),
		nil,
	)

	svc := NewBillingService(
		cfg,
		logger,
		db,
		redisClient,
		processor,
		mailer.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.Sender),
	)

	app = NewApp(cfg, logger, redisClient, appvalidator.NewValidator(), NewSessionManager(redisClient), processor, svc)

	return app.run()
}

// NewBillingService wires the billing core to its Postgres and Redis stores.
func NewBillingService(
	cfg Config,
	logger *slog.Logger,
	db *pgxpool.Pool,
	redisClient redis.UniversalClient,
	processor domain.PaymentProcessor,
	mailer mailer.Mailer) *billing.Service {

	return billing.NewService(billing.Deps{
		Logger:        logger,
		Ledger:        repository.NewPostgresLedger(db),
		Catalog:       repository.NewPostgresCatalogRepository(db),
		Payments:      repository.NewPostgresPaymentRepository(db),
		Entitlements:  repository.NewPostgresEntitlementRepository(db),
		Affiliates:    repository.NewPostgresAffiliateRepository(db),
		Attributions:  repository.NewRedisAttributionStore(redisClient),
		Subscriptions: repository.NewPostgresSubscriptionRepository(db),
		Revenue:       repository.NewPostgresRevenueRepository(db),
		Processor:     processor,
		Mailer:        mailer,
	}, billing.Config{
		AttributionWindow: cfg.Billing.AttributionWindow,
		GracePeriod:       cfg.Billing.GracePeriod,
		CommissionHold:    cfg.Billing.CommissionHold,
		SweepBatchSize:    cfg.Billing.SweepBatchSize,
	})
}

func NewApp(
	cfg Config,
	logger *slog.Logger,
	redisClient redis.UniversalClient,
	validator *validator.Validate,
	sessionManager *scs.SessionManager,
	processor domain.PaymentProcessor,
	billing BillingService) *Application {

	return &Application{
		config:         cfg,
		logger:         logger,
		redis:          redisClient,
		validator:      validator,
		sessionManager: sessionManager,
		processor:      processor,
		billing:        billing,
	}
}

func NewSessionManager(client *redis.Client) *scs.SessionManager {
	sessionManager := scs.New()

	sessionManager.Store = goredisstore.New(client)
	sessionManager.IdleTimeout = 20 * time.Minute
	sessionManager.Cookie.Name = "session_id"

	return sessionManager
}

func NewRedisClient(cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Redis.URL,
		MaxIdleConns:    cfg.Redis.MaxIdleConns,
		MaxActiveConns:  cfg.Redis.MaxOpenConns,
		ConnMaxIdleTime: cfg.Redis.MaxIdleTime,
	})

	err := errors.Join(redisotel.InstrumentTracing(rdb), redisotel.InstrumentMetrics(rdb))
	if err != nil {
		rdb.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = rdb.Ping(ctx).Err()
	if err != nil {
		rdb.Close()
		return nil, err
	}

	return rdb, nil
}

func NewDatabasePool(cfg Config) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DB.DSN)
	if err != nil {
		return nil, err
	}

	config.MaxConnIdleTime = cfg.DB.MaxIdleTime
	config.MaxConns = int32(cfg.DB.MaxOpenConns)
	config.ConnConfig.Tracer = otelpgx.NewTracer()

	db, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = db.Ping(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func (app *Application) run() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", app.config.Port),
		Handler:      app.Routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(app.logger.Handler(), slog.LevelDebug),
	}

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	app.startWorkers(workersCtx)

	shutdownError := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		app.logger.Info("shutting down server", "signal", s.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(ctx)
		if err != nil {
			shutdownError <- err
			return
		}

		stopWorkers()

		app.logger.Info("waiting for background tasks")
		app.wg.Wait()
		app.billing.Wait()

		shutdownError <- nil
	}()

	app.logger.Info("starting server", "addr", srv.Addr, "env", app.config.Env)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdownError
	if err != nil {
		return err
	}

	app.logger.Info("stopped server", "addr", srv.Addr)

	return nil
}
