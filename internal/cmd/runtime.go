package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"golang.org/x/time/rate"

	"github.com/tgrelay/tgrelay/internal/config"
	"github.com/tgrelay/tgrelay/internal/core/adapter"
	"github.com/tgrelay/tgrelay/internal/core/admin"
	"github.com/tgrelay/tgrelay/internal/core/dispatch"
	"github.com/tgrelay/tgrelay/internal/core/quota"
	"github.com/tgrelay/tgrelay/internal/core/router"
	"github.com/tgrelay/tgrelay/internal/core/store"
)

// relay holds the components shared by serve and call.
type relay struct {
	cfg        *config.Config
	store      *store.Store
	location   *time.Location
	specs      []adapter.Spec
	tracker    *quota.Tracker
	throttle   *adapter.Throttle
	router     *router.Router
	admin      *admin.Controller
	dispatcher *dispatch.Dispatcher
}

// buildRelay wires quota, backends and dispatch on top of an open store.
// sender may be nil when nothing will broadcast.
func buildRelay(cfg *config.Config, db *store.Store, sender admin.Sender, logger *logging.Logger) (*relay, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	specs, err := cfg.BackendSpecs()
	if err != nil {
		return nil, fmt.Errorf("load backend catalog: %w", err)
	}

	tracker := quota.NewTracker(cfg.Policy(), loc)

	var backoff adapter.BackoffStore = adapter.NewMemoryBackoffStore()
	if db != nil {
		backoff = db
	}
	throttle := &adapter.Throttle{Store: backoff, Margin: cfg.RateLimitMargin, Logger: logger}
	throttle.ApplyOverrides(cfg.RateLimits())

	rt, err := router.FromSpecs(specs, adapter.Options{Throttle: throttle})
	if err != nil {
		return nil, fmt.Errorf("build backends: %w", err)
	}

	var directory admin.Directory
	if db != nil {
		directory = db
	}
	var limiter *rate.Limiter
	if cfg.Broadcast.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Broadcast.RatePerSecond), max(cfg.Broadcast.Burst, 1))
	}
	controller := &admin.Controller{
		Tracker:   tracker,
		Sender:    sender,
		Directory: directory,
		Limiter:   limiter,
		Workers:   cfg.Broadcast.Workers,
		Timeout:   cfg.Broadcast.Timeout,
		Prefix:    cfg.Broadcast.Prefix,
		Logger:    logger,
	}

	return &relay{
		cfg:      cfg,
		store:    db,
		location: loc,
		specs:    specs,
		tracker:  tracker,
		throttle: throttle,
		router:   rt,
		admin:    controller,
		dispatcher: &dispatch.Dispatcher{
			Tracker: tracker,
			Router:  rt,
			Admin:   controller,
			Timeout: cfg.Dispatch.Timeout,
			Logger:  logger,
		},
	}, nil
}

// backendKeys lists the enabled backends in catalog order.
func (r *relay) backendKeys() []string {
	keys := make([]string, 0, len(r.specs))
	for _, spec := range r.specs {
		keys = append(keys, spec.Key)
	}
	return keys
}

// runJanitor evicts stale usage records until ctx is done.
func (r *relay) runJanitor(ctx context.Context, onEvict func(removed int)) {
	r.tracker.RunJanitor(ctx, r.cfg.Quota.EvictionInterval, r.cfg.Quota.RetentionDays, onEvict)
}
