package integration_test

import (
	"log/slog"
	"os"

	"github.com/alexedwards/scs/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/coursehub/internal/app"
	"github.com/metinatakli/coursehub/internal/billing"
	"github.com/metinatakli/coursehub/internal/mailer"
	"github.com/metinatakli/coursehub/internal/payment"
	appvalidator "github.com/metinatakli/coursehub/internal/validator"
	"github.com/redis/go-redis/v9"
)

// TestApp is the real application over real stores. Only the processor is
// replaced, by an in-memory one that still verifies webhook signatures.
type TestApp struct {
	App            *app.Application
	DB             *pgxpool.Pool
	RedisClient    *redis.Client
	SessionManager *scs.SessionManager
	Processor      *payment.FakeProcessor
	Billing        *billing.Service
	Mailer         *mailer.MockMailer
}

func newTestApp(cfg app.Config) (*TestApp, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	mailer := mailer.NewMockMailer()

	db, err := app.NewDatabasePool(cfg)
	if err != nil {
		return nil, err
	}

	redisClient, err := app.NewRedisClient(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	sessionManager := app.NewSessionManager(redisClient)
	processor := payment.NewFakeProcessor(cfg.Stripe.WebhookSecret)

	svc := app.NewBillingService(cfg, logger, db, redisClient, processor, mailer)

	application := app.NewApp(
		cfg,
		logger,
		redisClient,
		appvalidator.NewValidator(),
		sessionManager,
		processor,
		svc,
	)

	return &TestApp{
		App:            application,
		DB:             db,
		RedisClient:    redisClient,
		SessionManager: sessionManager,
		Processor:      processor,
		Billing:        svc,
		Mailer:         mailer,
	}, nil
}

func (a *TestApp) Close() {
	a.RedisClient.Close()
	a.DB.Close()
}
