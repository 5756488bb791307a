package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/herald/internal/config"
	"github.com/mattjoyce/herald/internal/delivery"
	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/profile"
	"github.com/mattjoyce/herald/internal/queue"
	"github.com/mattjoyce/herald/internal/rule"
	"github.com/mattjoyce/herald/internal/segment"
)

// Engine owns the automation pipeline: trigger dispatch, action execution,
// queue processing and cleanup. It is the single logical owner of queue and
// rule state; multi-process deployments must gate it behind an external
// leader lock.
type Engine struct {
	cfg        *config.Config
	rules      *rule.Store
	profiles   *profile.Cache
	store      queue.Store
	client     delivery.Client
	classifier segment.Classifier
	hub        *events.Hub

	dispatcher *dispatcher
	executor   *executor
	processor  *processor
	sweeper    *sweeper

	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Options carries the engine's collaborators. Client is required; Classifier
// may be nil when the host performs no segmentation.
type Options struct {
	Config     *config.Config
	Rules      *rule.Store
	Profiles   *profile.Cache
	Store      queue.Store
	Client     delivery.Client
	Classifier segment.Classifier
	Hub        *events.Hub
}

func New(opts Options) *Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	rules := opts.Rules
	if rules == nil {
		rules = rule.NewStore()
	}
	profiles := opts.Profiles
	if profiles == nil {
		profiles = profile.NewCache()
	}
	store := opts.Store
	if store == nil {
		store = queue.NewMemory()
	}
	hub := opts.Hub
	if hub == nil {
		hub = events.NewHub(100)
	}

	e := &Engine{
		cfg:        cfg,
		rules:      rules,
		profiles:   profiles,
		store:      store,
		client:     opts.Client,
		classifier: opts.Classifier,
		hub:        hub,
		logger:     log.WithComponent("engine"),
	}
	e.executor = newExecutor(store, profiles, hub)
	e.dispatcher = newDispatcher(rules, profiles, e.executor, opts.Classifier, hub)
	e.processor = newProcessor(store, opts.Client, hub, processorConfig{
		batchSize:   cfg.Queue.BatchSize,
		maxRetries:  cfg.Queue.MaxRetries,
		backoffBase: cfg.Queue.BackoffBase,
		timeout:     cfg.Delivery.Timeout,
	})
	e.sweeper = newSweeper(store, hub, cfg.Queue.Retention)
	return e
}

// Start launches the processor, scheduled-rule sweep and cleanup loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}
	e.running = true
	e.stopCh = make(chan struct{})

	e.wg.Add(2)
	go e.runTickLoop(ctx)
	go e.runSweepLoop(ctx)

	e.logger.Info("engine started",
		"tick_interval", e.cfg.Service.TickInterval.String(),
		"sweep_interval", e.cfg.Service.SweepInterval.String(),
		"batch_size", e.cfg.Queue.BatchSize)
	return nil
}

// Stop halts the loops and waits for in-flight ticks to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("engine stopped")
}

func (e *Engine) runTickLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Service.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			e.dispatcher.sweepScheduled(ctx, now)
			e.processor.tick(ctx, now)
		}
	}
}

func (e *Engine) runSweepLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Service.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweeper.tick(ctx, time.Now().UTC())
		}
	}
}

// SubmitEvent runs rule matching for a discrete application event. Delivery
// and segmentation failures never propagate to the caller; the only error
// returned is for an unknown trigger kind.
func (e *Engine) SubmitEvent(ctx context.Context, trigger rule.TriggerKind, userID string, payload map[string]any) error {
	return e.dispatcher.submit(ctx, trigger, userID, payload)
}

// RegisterRule validates and stores a rule, logging its fingerprint for
// audit.
func (e *Engine) RegisterRule(r rule.Rule) error {
	if err := e.rules.Register(r); err != nil {
		return err
	}
	if fp, err := rule.Fingerprint(r); err == nil {
		log.WithRule(r.ID).Info("rule registered",
			"trigger", string(r.Trigger),
			"cohort", r.Cohort,
			"actions", len(r.Actions),
			"fingerprint", fp)
	}
	return nil
}

// SetRuleActive enables or disables a rule.
func (e *Engine) SetRuleActive(ruleID string, active bool) error {
	if err := e.rules.SetActive(ruleID, active); err != nil {
		return err
	}
	log.WithRule(ruleID).Info("rule active flag changed", "active", active)
	return nil
}

// Rules returns every registered rule.
func (e *Engine) Rules() []rule.Rule {
	return e.rules.All()
}

// UpsertProfile stores a user profile in the local cache.
func (e *Engine) UpsertProfile(p profile.Profile) {
	e.profiles.Upsert(p)
}

// Profile returns the cached profile for userID.
func (e *Engine) Profile(userID string) (profile.Profile, bool) {
	return e.profiles.Get(userID)
}

// QueueStats returns aggregate delivery queue counts.
func (e *Engine) QueueStats(ctx context.Context) (queue.Stats, error) {
	return e.store.Stats(ctx)
}

// CancelItem cancels a pending delivery item.
func (e *Engine) CancelItem(ctx context.Context, itemID string) error {
	if err := e.store.Cancel(ctx, itemID); err != nil {
		return err
	}
	e.hub.Publish(events.TypeDeliveryCancelled, map[string]any{"item_id": itemID})
	log.WithItem(itemID).Info("delivery cancelled")
	return nil
}

// Hub exposes the engine's event hub for SSE and the watch TUI.
func (e *Engine) Hub() *events.Hub {
	return e.hub
}

// ProcessTick runs one queue processing pass at the given instant. The tick
// loop calls this on its own cadence; it is exported for hosts that drive
// processing themselves.
func (e *Engine) ProcessTick(ctx context.Context, now time.Time) {
	e.processor.tick(ctx, now)
}

// SweepTick runs one cleanup pass at the given instant.
func (e *Engine) SweepTick(ctx context.Context, now time.Time) {
	e.sweeper.tick(ctx, now)
}
