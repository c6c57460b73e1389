// Package syncd drives synchronization from connectivity: it probes the
// server, watches the network, and kicks the sync engine when the world
// looks reachable, without ever letting two cycles overlap.
package syncd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"inkbook/internal/cache"
	"inkbook/internal/person"
	"inkbook/internal/remote"
	"inkbook/internal/syncengine"
)

// Status is the process-wide connectivity/sync state shown by the UI.
type Status struct {
	Offline bool `json:"offline"`
	Syncing bool `json:"syncing"`
}

// StatusCallback is invoked on every status transition.
type StatusCallback func(Status)

type Config struct {
	// ActiveBookID scopes bulk syncs; empty means all books.
	ActiveBookID string
	// SettleDelay is how long to wait after the server becomes reachable
	// before syncing, letting routes and DNS settle.
	SettleDelay time.Duration
	// SyncSchedule is the cron spec for the timer-driven variant.
	SyncSchedule string
	// CleanupSchedule is the cron spec for the periodic cache cleanup
	// and stale-lock sweep.
	CleanupSchedule string
	// ProbeInterval is how often the network monitor polls interfaces.
	ProbeInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.SettleDelay <= 0 {
		c.SettleDelay = time.Second
	}
	if c.SyncSchedule == "" {
		c.SyncSchedule = "@every 30s"
	}
	if c.CleanupSchedule == "" {
		c.CleanupSchedule = "@every 1m"
	}
}

type Coordinator struct {
	engine   *syncengine.Engine
	remote   *remote.Client
	sharing  *person.Service
	cache    *cache.Manager
	cfg      Config
	callback StatusCallback
	logger   *slog.Logger

	mu      sync.Mutex
	offline bool
	syncing bool

	monitor *NetworkMonitor
	cron    *cron.Cron
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewCoordinator(engine *syncengine.Engine, rc *remote.Client, sharing *person.Service, cm *cache.Manager, cfg Config, cb StatusCallback, logger *slog.Logger) *Coordinator {
	cfg.withDefaults()
	return &Coordinator{
		engine:   engine,
		remote:   rc,
		sharing:  sharing,
		cache:    cm,
		cfg:      cfg,
		callback: cb,
		logger:   logger,
		offline:  true,
	}
}

// Start probes the server once, records the offline state, kicks an
// initial bulk sync if reachable, and begins watching the network and
// the timer schedule.
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	reachable := c.probe(ctx)
	c.setOffline(!reachable)
	if reachable {
		go c.trigger(ctx, "startup")
	}

	c.monitor = NewNetworkMonitor(c.cfg.ProbeInterval, c.logger.With("component", "netmon"))
	c.monitor.Start()

	go c.watch(ctx)

	c.cron = cron.New()
	if _, err := c.cron.AddFunc(c.cfg.SyncSchedule, func() { c.trigger(ctx, "interval") }); err != nil {
		return err
	}
	if _, err := c.cron.AddFunc(c.cfg.CleanupSchedule, func() { c.housekeeping() }); err != nil {
		return err
	}
	c.cron.Start()

	return nil
}

// Stop shuts down the watchers and waits for the watch loop to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if c.cron != nil {
		c.cron.Stop()
	}
	if c.monitor != nil {
		c.monitor.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current offline/syncing flags.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Offline: c.offline, Syncing: c.syncing}
}

// watch reacts to network interface changes by re-probing the server.
func (c *Coordinator) watch(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.monitor.Changes():
			c.onNetworkChange(ctx)
		}
	}
}

func (c *Coordinator) onNetworkChange(ctx context.Context) {
	c.mu.Lock()
	wasOffline := c.offline
	c.mu.Unlock()

	reachable := c.probe(ctx)
	c.setOffline(!reachable)

	if !wasOffline || !reachable {
		return
	}

	// Coming back online: give routing a moment to settle, then sync.
	c.logger.Info("server reachable again, scheduling sync", "settle", c.cfg.SettleDelay)
	select {
	case <-ctx.Done():
		return
	case <-time.After(c.cfg.SettleDelay):
	}
	c.trigger(ctx, "reconnect")
}

// probe checks application-level reachability, not interface state.
func (c *Coordinator) probe(ctx context.Context) bool {
	if !c.remote.Registered() {
		return false
	}
	if err := c.remote.Health(ctx); err != nil {
		c.logger.Debug("health probe failed", "error", err)
		return false
	}
	return true
}

// trigger runs one bulk sync unless one is already in flight, in which
// case the trigger is dropped — the next tick retries soon enough.
func (c *Coordinator) trigger(ctx context.Context, reason string) {
	c.mu.Lock()
	if c.syncing {
		c.mu.Unlock()
		c.logger.Debug("sync already in flight, dropping trigger", "reason", reason)
		return
	}
	if c.offline {
		c.mu.Unlock()
		return
	}
	c.syncing = true
	c.mu.Unlock()
	c.notify()

	result, err := c.engine.FullSync(ctx, c.cfg.ActiveBookID)

	c.mu.Lock()
	c.syncing = false
	if err != nil {
		// A failed cycle usually means the server went away between the
		// probe and the push.
		c.offline = true
	}
	c.mu.Unlock()
	c.notify()

	if err != nil {
		c.logger.Warn("sync cycle failed", "reason", reason, "error", err)
		return
	}
	c.logger.Debug("sync cycle finished", "reason", reason, "pushed", result.Pushed, "server_changes", result.ServerChanges)
}

// housekeeping runs the periodic stale-lock sweep and cache budget check.
func (c *Coordinator) housekeeping() {
	if _, err := c.sharing.CleanupStaleLocks(); err != nil {
		c.logger.Warn("stale lock sweep failed", "error", err)
	}
	if err := c.cache.EnsureBudget(); err != nil {
		c.logger.Warn("cache budget check failed", "error", err)
	}
}

func (c *Coordinator) setOffline(offline bool) {
	c.mu.Lock()
	changed := c.offline != offline
	c.offline = offline
	c.mu.Unlock()

	if changed {
		if offline {
			c.logger.Info("server unreachable, working offline")
		} else {
			c.logger.Info("server reachable")
		}
		c.notify()
	}
}

func (c *Coordinator) notify() {
	if c.callback != nil {
		c.callback(c.Status())
	}
}
