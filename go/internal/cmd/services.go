package main

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tabsyteam/tabsy-core/go/internal/editlock"
	"github.com/tabsyteam/tabsy-core/go/internal/outbox"
	"github.com/tabsyteam/tabsy-core/go/internal/session"
	"github.com/tabsyteam/tabsy-core/go/internal/split"
)

type Services struct {
	Session *session.Service
	Split   *split.Service

	Outbox   *outbox.Repository
	Registry *prometheus.Registry
}

func setupServices(pool *pgxpool.Pool, config *Config) *Services {
	// Wire up dependency injection chain:
	// database pool -> repository layer -> app layer -> service layer
	clock := clockwork.NewRealClock()
	registry := prometheus.NewRegistry()

	outboxRepo := outbox.NewRepository(pool)

	// Sessions
	tokens := session.NewTokenManager(getEnv("JWT_SECRET", "dev-secret-change-me"), config.tokenTTL(), clock)
	sessionRepo := session.NewPostgresRepository(pool, outboxRepo)
	sessionApp := session.NewApp(sessionRepo, tokens, clock, config.sessionTTL())
	sessionService := session.NewService(sessionApp)

	// Split engine
	locks := editlock.NewCoordinator(config.editLockTTL(), clock)
	splitRepo := split.NewRepository(pool, outboxRepo)
	billRepo := split.NewBillRepository(pool)
	splitApp := split.NewApp(splitRepo, sessionApp, billRepo, locks, clock)
	splitService := split.NewService(splitApp)

	return &Services{
		Session:  sessionService,
		Split:    splitService,
		Outbox:   outboxRepo,
		Registry: registry,
	}
}
