package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/profile"
	"github.com/mattjoyce/herald/internal/rule"
	"github.com/mattjoyce/herald/internal/segment"
)

// dispatcher matches inbound events and scheduled rules against the rule
// store and hands matches to the executor.
type dispatcher struct {
	rules      *rule.Store
	profiles   *profile.Cache
	executor   *executor
	classifier segment.Classifier
	hub        *events.Hub
	logger     *slog.Logger

	mu      sync.Mutex
	nextDue map[string]time.Time
}

func newDispatcher(rules *rule.Store, profiles *profile.Cache, ex *executor, classifier segment.Classifier, hub *events.Hub) *dispatcher {
	return &dispatcher{
		rules:      rules,
		profiles:   profiles,
		executor:   ex,
		classifier: classifier,
		hub:        hub,
		logger:     log.WithComponent("dispatcher"),
		nextDue:    make(map[string]time.Time),
	}
}

// submit handles one discrete application event. All rule/delivery failures
// are absorbed here; only an unusable event shape is an error.
func (d *dispatcher) submit(ctx context.Context, trigger rule.TriggerKind, userID string, payload map[string]any) error {
	if trigger == rule.TriggerScheduled {
		return fmt.Errorf("scheduled trigger fires on cadence, not via events")
	}
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	d.hub.Publish(events.TypeEventReceived, map[string]any{
		"trigger": string(trigger),
		"user_id": userID,
	})

	prof, ok := d.resolveProfile(userID, payload)
	if !ok {
		// Nothing to retry: without a profile there is no rule matching.
		d.hub.Publish(events.TypeEventDropped, map[string]any{
			"trigger": string(trigger),
			"user_id": userID,
			"reason":  "profile not found",
		})
		log.WithUser(userID).Warn("event dropped, no resolvable profile", "trigger", string(trigger))
		return nil
	}

	prof = d.resegment(ctx, prof, payload)

	firedAt := time.Now().UTC()
	for _, r := range d.rules.ActiveFor(trigger) {
		d.match(ctx, r, prof, payload, firedAt)
	}
	return nil
}

// resolveProfile loads the cached profile, synthesizing one from the event
// payload when it carries enough identity data.
func (d *dispatcher) resolveProfile(userID string, payload map[string]any) (profile.Profile, bool) {
	if prof, ok := d.profiles.Get(userID); ok {
		return prof, true
	}

	email, _ := payload["email"].(string)
	if email == "" {
		return profile.Profile{}, false
	}

	now := time.Now().UTC()
	prof := profile.Profile{
		ID:           userID,
		Email:        email,
		Active:       true,
		SignedUpAt:   now,
		LastActiveAt: now,
	}
	if s, ok := payload["first_name"].(string); ok {
		prof.FirstName = s
	}
	if s, ok := payload["last_name"].(string); ok {
		prof.LastName = s
	}
	if s, ok := payload["cohort"].(string); ok {
		prof.Cohort = s
	}
	d.profiles.Upsert(prof)
	log.WithUser(userID).Debug("profile synthesized from event payload")
	return prof, true
}

// resegment re-derives the user's cohort when the event carries behavior
// data. On classifier failure the last-known cohort is kept.
func (d *dispatcher) resegment(ctx context.Context, prof profile.Profile, payload map[string]any) profile.Profile {
	if d.classifier == nil {
		return prof
	}
	raw, ok := payload["behavior"].(map[string]any)
	if !ok {
		return prof
	}

	snapshot := behaviorSnapshot(raw)
	cohort, err := d.classifier.Classify(ctx, prof, snapshot)
	if err != nil {
		d.hub.Publish(events.TypeSegmentDegraded, map[string]any{
			"user_id": prof.ID,
			"cohort":  prof.Cohort,
		})
		log.WithUser(prof.ID).Warn("segmentation unavailable, keeping last-known cohort",
			"cohort", prof.Cohort, "error", err.Error())
		return prof
	}

	if cohort != "" && cohort != prof.Cohort {
		d.profiles.SetCohort(prof.ID, cohort)
		prof.Cohort = cohort
	}
	return prof
}

func behaviorSnapshot(raw map[string]any) profile.BehaviorSnapshot {
	var snap profile.BehaviorSnapshot
	if spend, ok := toNumber(raw["recent_spend"]); ok {
		snap.RecentSpend = spend
	}
	if cart, ok := toNumber(raw["cart_value"]); ok {
		snap.CartValue = cart
	}
	if views, ok := raw["category_views"].(map[string]any); ok {
		snap.CategoryViews = make(map[string]int, len(views))
		for k, v := range views {
			if n, ok := toNumber(v); ok {
				snap.CategoryViews[k] = int(n)
			}
		}
	}
	if signals, ok := raw["competitor_signals"].([]any); ok {
		for _, s := range signals {
			if str, ok := s.(string); ok {
				snap.CompetitorSignals = append(snap.CompetitorSignals, str)
			}
		}
	}
	return snap
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// match checks cohort and conditions for one (rule, user) pair and executes
// the rule's actions on pass.
func (d *dispatcher) match(ctx context.Context, r rule.Rule, prof profile.Profile, payload map[string]any, firedAt time.Time) {
	if r.Cohort != "" && r.Cohort != prof.Cohort {
		return
	}
	if !rule.Evaluate(r.Conditions, prof.Fields()) {
		return
	}

	d.hub.Publish(events.TypeRuleFired, map[string]any{
		"rule_id": r.ID,
		"user_id": prof.ID,
		"trigger": string(r.Trigger),
	})
	log.WithRule(r.ID).Info("rule fired", "user_id", prof.ID, "trigger", string(r.Trigger))

	d.executor.execute(ctx, r, prof, payload, firedAt)
}

// sweepScheduled fires scheduled rules whose next-due time has passed, then
// advances their cadence. A rule seen for the first time anchors at now and
// first fires one full period later; missed periods are caught up by
// advancing past now with a single firing.
func (d *dispatcher) sweepScheduled(ctx context.Context, now time.Time) {
	for _, r := range d.rules.ActiveFor(rule.TriggerScheduled) {
		if !d.due(r, now) {
			continue
		}

		d.hub.Publish(events.TypeScheduledRuleFired, map[string]any{
			"rule_id": r.ID,
			"cadence": string(r.Cadence),
		})
		log.WithRule(r.ID).Info("scheduled rule due", "cadence", string(r.Cadence))

		for _, prof := range d.profiles.All() {
			d.match(ctx, r, prof, nil, now)
		}
	}
}

// due reports whether the rule's next-due time has passed and advances it.
func (d *dispatcher) due(r rule.Rule, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	next, ok := d.nextDue[r.ID]
	if !ok {
		// Anchor at first observation; no immediate firing.
		d.nextDue[r.ID] = advanceCadence(now, r.Cadence)
		return false
	}
	if now.Before(next) {
		return false
	}

	// Catch up past now so missed periods fire once, not per period.
	for !next.After(now) {
		next = advanceCadence(next, r.Cadence)
	}
	d.nextDue[r.ID] = next
	return true
}

func advanceCadence(t time.Time, c rule.Cadence) time.Time {
	switch c {
	case rule.CadenceWeekly:
		return t.AddDate(0, 0, 7)
	case rule.CadenceMonthly:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}
