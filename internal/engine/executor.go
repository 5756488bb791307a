package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/herald/internal/events"
	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/profile"
	"github.com/mattjoyce/herald/internal/queue"
	"github.com/mattjoyce/herald/internal/rule"
)

// executor interprets a fired rule's ordered action list and materializes
// send actions into delivery queue items.
type executor struct {
	store    queue.Store
	profiles *profile.Cache
	hub      *events.Hub
	logger   *slog.Logger
}

func newExecutor(store queue.Store, profiles *profile.Cache, hub *events.Hub) *executor {
	return &executor{
		store:    store,
		profiles: profiles,
		hub:      hub,
		logger:   log.WithComponent("executor"),
	}
}

// execute runs the rule's actions in declared order. Each send action's
// ready time is firedAt plus its own delay plus any wait offsets accumulated
// so far; delays do not otherwise cascade between actions.
func (x *executor) execute(ctx context.Context, r rule.Rule, prof profile.Profile, payload map[string]any, firedAt time.Time) {
	waitOffset := time.Duration(0)

	for i, action := range r.Actions {
		switch action.Kind {
		case rule.ActionWait:
			waitOffset += time.Duration(action.DelayMinutes) * time.Minute

		case rule.ActionSendMessage:
			delay := time.Duration(action.DelayMinutes)*time.Minute + waitOffset
			x.enqueueSend(ctx, r, prof, payload, action, firedAt.Add(delay))

		case rule.ActionSetCohort:
			cohort, _ := action.Params["cohort"].(string)
			if x.profiles.SetCohort(prof.ID, cohort) {
				prof.Cohort = cohort
			}

		case rule.ActionUpdateField:
			field, _ := action.Params["field"].(string)
			if !x.profiles.SetField(prof.ID, field, action.Params["value"]) {
				log.WithRule(r.ID).Warn("update_field ignored",
					"user_id", prof.ID, "field", field, "action_index", i)
			}
		}
	}
}

func (x *executor) enqueueSend(ctx context.Context, r rule.Rule, prof profile.Profile, payload map[string]any, action rule.Action, readyAt time.Time) {
	template, _ := action.Params["template"].(string)

	priority := queue.PriorityNormal
	if p, ok := action.Params["priority"].(string); ok && p != "" {
		priority = queue.Priority(p)
	}

	item := queue.Item{
		ID:              uuid.NewString(),
		UserID:          prof.ID,
		TemplateID:      template,
		RuleID:          r.ID,
		ReadyAt:         readyAt,
		Priority:        priority,
		RetryCount:      0,
		Personalization: personalize(action, prof, payload),
		Status:          queue.StatusPending,
		CreatedAt:       time.Now().UTC(),
	}

	if err := x.store.Enqueue(ctx, item); err != nil {
		log.WithRule(r.ID).Error("failed to enqueue delivery",
			"user_id", prof.ID, "template", template, "error", err.Error())
		return
	}

	x.hub.Publish(events.TypeDeliveryScheduled, map[string]any{
		"item_id":  item.ID,
		"rule_id":  r.ID,
		"user_id":  prof.ID,
		"template": template,
		"ready_at": readyAt.Format(time.RFC3339),
		"priority": string(priority),
	})
	log.WithItem(item.ID).Debug("delivery scheduled",
		"rule_id", r.ID, "user_id", prof.ID, "template", template,
		"ready_at", readyAt.Format(time.RFC3339))
}

// personalize merges the action's message parameters with standard user
// fields and the event payload. Reserved action parameters (template,
// priority) are excluded; payload entries never override user identity.
func personalize(action rule.Action, prof profile.Profile, payload map[string]any) map[string]any {
	merged := make(map[string]any)

	for k, v := range payload {
		switch v.(type) {
		case map[string]any, []any:
			// Only scalar payload values personalize templates.
		default:
			merged[k] = v
		}
	}
	for k, v := range action.Params {
		if k == "template" || k == "priority" {
			continue
		}
		merged[k] = v
	}
	merged["first_name"] = prof.FirstName
	merged["email"] = prof.Email
	return merged
}
