package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/herald/internal/delivery"
	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/queue"
)

type processorConfig struct {
	batchSize   int
	maxRetries  int
	backoffBase time.Duration
	timeout     time.Duration
}

// processor drains ready queue items each tick, issuing the batch's
// deliveries concurrently and committing status transitions once all calls
// have returned.
type processor struct {
	store  queue.Store
	client delivery.Client
	hub    *events.Hub
	cfg    processorConfig
	logger *slog.Logger
}

func newProcessor(store queue.Store, client delivery.Client, hub *events.Hub, cfg processorConfig) *processor {
	return &processor{
		store:  store,
		client: client,
		hub:    hub,
		cfg:    cfg,
		logger: log.WithComponent("processor"),
	}
}

// tick runs one processing pass at the given instant. Selection order is
// priority descending then ready time ascending; the batch cap bounds
// per-tick work.
func (p *processor) tick(ctx context.Context, now time.Time) {
	if p.client == nil {
		return
	}

	items, err := p.store.Ready(ctx, now, p.cfg.maxRetries, p.cfg.batchSize)
	if err != nil {
		p.logger.Error("failed to select ready items", "error", err.Error())
		return
	}
	if len(items) == 0 {
		return
	}

	results := make([]error, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item queue.Item) {
			defer wg.Done()
			dctx, cancel := context.WithTimeout(ctx, p.cfg.timeout)
			defer cancel()
			results[i] = p.client.Deliver(dctx, item.UserID, item.TemplateID, item.Personalization)
		}(i, item)
	}
	wg.Wait()

	var sent, retried, failed int
	for i, item := range items {
		if results[i] == nil {
			p.commitSent(ctx, item)
			sent++
			continue
		}
		if p.commitFailure(ctx, item, results[i], now) {
			failed++
		} else {
			retried++
		}
	}

	p.hub.Publish(events.TypeProcessorTick, map[string]any{
		"selected": len(items),
		"sent":     sent,
		"retried":  retried,
		"failed":   failed,
	})
	p.logger.Debug("tick complete",
		"selected", len(items), "sent", sent, "retried", retried, "failed", failed)
}

func (p *processor) commitSent(ctx context.Context, item queue.Item) {
	if err := p.store.MarkSent(ctx, item.ID); err != nil {
		log.WithItem(item.ID).Error("failed to mark sent", "error", err.Error())
		return
	}
	p.hub.Publish(events.TypeDeliverySent, map[string]any{
		"item_id": item.ID,
		"rule_id": item.RuleID,
		"user_id": item.UserID,
	})
	log.WithItem(item.ID).Info("delivery sent",
		"rule_id", item.RuleID, "user_id", item.UserID, "retry_count", item.RetryCount)
}

// commitFailure increments the retry count and either reschedules with
// exponential backoff or marks the item failed at the ceiling. Reports true
// when the item went terminal.
func (p *processor) commitFailure(ctx context.Context, item queue.Item, cause error, now time.Time) bool {
	retry := item.RetryCount + 1

	if retry >= p.cfg.maxRetries {
		if err := p.store.MarkFailed(ctx, item.ID, retry, cause.Error()); err != nil {
			log.WithItem(item.ID).Error("failed to mark failed", "error", err.Error())
			return false
		}
		p.hub.Publish(events.TypeDeliveryFailed, map[string]any{
			"item_id":     item.ID,
			"rule_id":     item.RuleID,
			"user_id":     item.UserID,
			"retry_count": retry,
		})
		log.WithItem(item.ID).Error("delivery failed permanently",
			"rule_id", item.RuleID, "user_id", item.UserID,
			"retry_count", retry, "error", cause.Error())
		return true
	}

	readyAt := now.Add(p.backoff(retry))
	if err := p.store.Reschedule(ctx, item.ID, retry, readyAt, cause.Error()); err != nil {
		log.WithItem(item.ID).Error("failed to reschedule", "error", err.Error())
		return false
	}
	p.hub.Publish(events.TypeDeliveryRetry, map[string]any{
		"item_id":     item.ID,
		"rule_id":     item.RuleID,
		"user_id":     item.UserID,
		"retry_count": retry,
		"ready_at":    readyAt.Format(time.RFC3339),
	})
	log.WithItem(item.ID).Warn("delivery retry scheduled",
		"rule_id", item.RuleID, "user_id", item.UserID,
		"retry_count", retry, "ready_at", readyAt.Format(time.RFC3339),
		"error", cause.Error())
	return false
}

// backoff returns 2^n times the base delay: 10, 20, 40 minutes for the
// default 5 minute base.
func (p *processor) backoff(retry int) time.Duration {
	return time.Duration(1<<uint(retry)) * p.cfg.backoffBase
}
