package app

import (
	"context"
	"fmt"
	"time"

	"biblio/internal/util"
	"biblio/pkg/domain"
	"biblio/pkg/events"
	"biblio/pkg/storage"
	"biblio/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Events      events.Publisher
	Covers      storage.CoverStore
	Policy      domain.Policy

	// Now overrides the clock in tests.
	Now func() time.Time
}

// App wires the store, the event feed and cover storage behind the
// loan/reservation operations. Every operation takes the acting user
// explicitly; the app never reads identity from ambient state.
type App struct {
	store         store.Store
	events        events.Publisher
	covers        storage.CoverStore
	policy        domain.Policy
	now           func() time.Time
	presignExpiry time.Duration
}

// New constructs the application. A nil Store falls back to Postgres
// via DatabaseURL; a nil Events publisher means no feed.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	policy := cfg.Policy
	if policy == (domain.Policy{}) {
		policy = domain.DefaultPolicy()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &App{
		store:         dataStore,
		events:        publisher,
		covers:        cfg.Covers,
		policy:        policy,
		now:           now,
		presignExpiry: 15 * time.Minute,
	}, nil
}

// Policy returns the lending rules in effect.
func (a *App) Policy() domain.Policy {
	return a.policy
}

// publish sends an event to the feed after the owning transaction has
// committed. Failures are logged and swallowed: the feed is advisory.
func (a *App) publish(ctx context.Context, e events.Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = a.now()
	}
	if err := a.events.Publish(ctx, e); err != nil {
		util.LoggerFromContext(ctx).Warn("event publish failed", "type", e.Type, "err", err)
	}
}
