package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to poll for missed events
	PingInterval     time.Duration
	BatchSize        int32 // Max events to fetch per batch
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		DatabaseURL:      "",
		NotifyChannel:    NotifyChannel,
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

// Publisher is an interface that defines our publisher.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Listener drains the outbox table into the broker. It wakes on Postgres
// NOTIFY and falls back to polling so a missed notification only delays an
// event, never loses it.
type Listener struct {
	repo      *Repository
	listener  *pq.Listener
	publisher Publisher
	metrics   MetricsCollector
	cfg       ListenerConfig
}

func NewListener(repo *Repository, publisher Publisher, metrics MetricsCollector, cfg ListenerConfig) (*Listener, error) {
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}

	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	return &Listener{
		repo:      repo,
		listener:  l,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
	}, nil
}

func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("outbox listener started")

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// nil notification means channel connection was lost so reconnect
				continue
			}
			if err := l.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.C:
			if err := l.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent events")
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

// processUnsent publishes pending events in creation order. An event that
// fails to publish stops the batch so ordering per session is preserved.
func (l *Listener) processUnsent(ctx context.Context) error {
	start := time.Now()

	events, err := l.repo.FetchUnsent(ctx, l.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch unsent: %w", err)
	}
	if len(events) == 0 {
		l.metrics.RecordOutboxLag(0)
		return nil
	}

	sent := 0
	for _, evt := range events {
		publishStart := time.Now()
		err := l.publisher.Publish(ctx, evt)
		l.metrics.RecordEventPublished(evt.EventType, err == nil, time.Since(publishStart))
		if err != nil {
			log.Error().
				Err(err).
				Str("event_id", evt.ID.String()).
				Str("event_type", evt.EventType).
				Msg("failed to publish outbox event")
			break
		}
		if err := l.repo.MarkSent(ctx, evt.ID); err != nil {
			// The event will be re-published by the fallback poll; the
			// broker's duplicate window absorbs the replay.
			log.Error().Err(err).Str("event_id", evt.ID.String()).Msg("failed to mark event sent")
			break
		}
		sent++
	}

	l.metrics.RecordBatchProcessed(sent, time.Since(start))

	if lag, err := l.repo.CountUnsent(ctx); err == nil {
		l.metrics.RecordOutboxLag(lag)
	}

	log.Debug().
		Int("fetched", len(events)).
		Int("sent", sent).
		Msg("processed outbox batch")
	return nil
}
