package engine

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herald/internal/profile"
	"github.com/mattjoyce/herald/internal/queue"
	"github.com/mattjoyce/herald/internal/rule"
	segmocks "github.com/mattjoyce/herald/internal/segment/mocks"
)

func newTestEngine(t *testing.T) (*Engine, *queue.Memory) {
	t.Helper()
	store := queue.NewMemory()
	eng := New(Options{Store: store})
	return eng, store
}

func newUser(id, cohort string) profile.Profile {
	return profile.Profile{
		ID:        id,
		Email:     id + "@example.com",
		FirstName: "Ada",
		Cohort:    cohort,
		Active:    true,
	}
}

func allItems(t *testing.T, store *queue.Memory) []queue.Item {
	t.Helper()
	// A far-future horizon with a generous retry ceiling sees every pending item.
	items, err := store.Ready(context.Background(), time.Now().UTC().Add(1000*time.Hour), 1<<30, 0)
	require.NoError(t, err)
	return items
}

func TestWelcomeSeriesSchedulesThreeDeliveries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng, store := newTestEngine(t)

	require.NoError(t, eng.RegisterRule(rule.Rule{
		ID:      "welcome-series",
		Trigger: rule.TriggerSignup,
		Cohort:  "new-users",
		Active:  true,
		Actions: []rule.Action{
			{Kind: rule.ActionSendMessage, Params: map[string]any{"template": "welcome-immediate"}},
			{Kind: rule.ActionSendMessage, DelayMinutes: 1440, Params: map[string]any{"template": "welcome-day-2"}},
			{Kind: rule.ActionSendMessage, DelayMinutes: 4320, Params: map[string]any{"template": "welcome-day-4"}},
		},
	}))

	eng.UpsertProfile(newUser("u1", "new-users"))

	before := time.Now().UTC()
	require.NoError(t, eng.SubmitEvent(ctx, rule.TriggerSignup, "u1", nil))

	items := allItems(t, store)
	require.Len(t, items, 3)

	sort.Slice(items, func(i, j int) bool { return items[i].ReadyAt.Before(items[j].ReadyAt) })
	assert.WithinDuration(t, before, items[0].ReadyAt, 2*time.Second)
	assert.WithinDuration(t, before.Add(24*time.Hour), items[1].ReadyAt, 2*time.Second)
	assert.WithinDuration(t, before.Add(72*time.Hour), items[2].ReadyAt, 2*time.Second)

	for _, it := range items {
		assert.Equal(t, queue.StatusPending, it.Status)
		assert.Equal(t, queue.PriorityNormal, it.Priority)
		assert.Equal(t, 0, it.RetryCount)
		assert.Equal(t, "u1", it.UserID)
		assert.Equal(t, "welcome-series", it.RuleID)
		assert.Equal(t, "Ada", it.Personalization["first_name"])
		assert.Equal(t, "u1@example.com", it.Personalization["email"])
	}
}

func TestOnlyMatchingRuleProducesItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng, store := newTestEngine(t)

	passing := rule.Rule{
		ID:      "big-spender",
		Trigger: rule.TriggerPurchaseCompletion,
		Cohort:  "shoppers",
		Active:  true,
		Conditions: []rule.Condition{
			{Field: "lifetime_spend", Operator: rule.OpGreaterThan, Value: 100},
		},
		Actions: []rule.Action{
			{Kind: rule.ActionSendMessage, Params: map[string]any{"template": "vip-offer"}},
		},
	}
	failing := passing
	failing.ID = "mega-spender"
	failing.Conditions = []rule.Condition{
		{Field: "lifetime_spend", Operator: rule.OpGreaterThan, Value: 10000},
	}
	require.NoError(t, eng.RegisterRule(passing))
	require.NoError(t, eng.RegisterRule(failing))

	user := newUser("u1", "shoppers")
	user.LifetimeSpend = 500
	eng.UpsertProfile(user)

	require.NoError(t, eng.SubmitEvent(ctx, rule.TriggerPurchaseCompletion, "u1", nil))

	items := allItems(t, store)
	require.Len(t, items, 1)
	assert.Equal(t, "big-spender", items[0].RuleID)
}

func TestCohortMismatchSkipsRule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng, store := newTestEngine(t)

	require.NoError(t, eng.RegisterRule(rule.Rule{
		ID:      "vip-only",
		Trigger: rule.TriggerSignup,
		Cohort:  "vip",
		Active:  true,
		Actions: []rule.Action{
			{Kind: rule.ActionSendMessage, Params: map[string]any{"template": "t"}},
		},
	}))
	eng.UpsertProfile(newUser("u1", "new-users"))

	require.NoError(t, eng.SubmitEvent(ctx, rule.TriggerSignup, "u1", nil))
	assert.Empty(t, allItems(t, store))
}

func TestMissingProfileDropsEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng, store := newTestEngine(t)

	require.NoError(t, eng.RegisterRule(rule.Rule{
		ID:      "r1",
		Trigger: rule.TriggerSignup,
		Active:  true,
		Actions: []rule.Action{
			{Kind: rule.ActionSendMessage, Params: map[string]any{"template": "t"}},
		},
	}))

	// No cached profile and no identity in the payload: dropped, not an error.
	require.NoError(t, eng.SubmitEvent(ctx, rule.TriggerSignup, "ghost", nil))
	assert.Empty(t, allItems(t, store))
}

func TestProfileSynthesizedFromPayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng, store := newTestEngine(t)

	require.NoError(t, eng.RegisterRule(rule.Rule{
		ID:      "r1",
		Trigger: rule.TriggerSignup,
		Active:  true,
		Actions: []rule.Action{
			{Kind: rule.ActionSendMessage, Params: map[string]any{"template": "t"}},
		},
	}))

	require.NoError(t, eng.SubmitEvent(ctx, rule.TriggerSignup, "u9", map[string]any{
		"email":      "u9@example.com",
		"first_name": "Grace",
	}))

	prof, ok := eng.Profile("u9")
	require.True(t, ok)
	assert.Equal(t, "u9@example.com", prof.Email)
	assert.Equal(t, "Grace", prof.FirstName)

	items := allItems(t, store)
	require.Len(t, items, 1)
	assert.Equal(t, "Grace", items[0].Personalization["first_name"])
}

func TestWaitShiftsSubsequentActions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng, store := newTestEngine(t)

	require.NoError(t, eng.RegisterRule(rule.Rule{
		ID:      "drip",
		Trigger: rule.TriggerSignup,
		Active:  true,
		Actions: []rule.Action{
			{Kind: rule.ActionSendMessage, Params: map[string]any{"template": "first"}},
			{Kind: rule.ActionWait, DelayMinutes: 30},
			{Kind: rule.ActionSendMessage, DelayMinutes: 10, Params: map[string]any{"template": "second"}},
		},
	}))
	eng.UpsertProfile(newUser("u1", ""))

	before := time.Now().UTC()
	require.NoError(t, eng.SubmitEvent(ctx, rule.TriggerSignup, "u1", nil))

	items := allItems(t, store)
	require.Len(t, items, 2)
	sort.Slice(items, func(i, j int) bool { return items[i].ReadyAt.Before(items[j].ReadyAt) })
	assert.WithinDuration(t, before, items[0].ReadyAt, 2*time.Second)
	assert.WithinDuration(t, before.Add(40*time.Minute), items[1].ReadyAt, 2*time.Second)
}

func TestSetCohortAndUpdateFieldActions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	require.NoError(t, eng.RegisterRule(rule.Rule{
		ID:      "promote",
		Trigger: rule.TriggerPurchaseCompletion,
		Active:  true,
		Actions: []rule.Action{
			{Kind: rule.ActionSetCohort, Params: map[string]any{"cohort": "vip"}},
			{Kind: rule.ActionUpdateField, Params: map[string]any{"field": "preferences.contact_cadence", "value": "weekly"}},
			{Kind: rule.ActionUpdateField, Params: map[string]any{"field": "shoe_size", "value": 9}},
		},
	}))
	eng.UpsertProfile(newUser("u1", "shoppers"))

	require.NoError(t, eng.SubmitEvent(ctx, rule.TriggerPurchaseCompletion, "u1", nil))

	prof, ok := eng.Profile("u1")
	require.True(t, ok)
	assert.Equal(t, "vip", prof.Cohort)
	assert.Equal(t, "weekly", prof.Preferences.ContactCadence)
}

func TestSegmentationFallbackKeepsCohort(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ctx := context.Background()

	classifier := segmocks.NewMockClassifier(ctrl)
	classifier.EXPECT().
		Classify(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", errors.New("segmentation offline"))

	eng := New(Options{Classifier: classifier})
	eng.UpsertProfile(newUser("u1", "new-users"))

	require.NoError(t, eng.SubmitEvent(ctx, rule.TriggerPurchaseCompletion, "u1", map[string]any{
		"behavior": map[string]any{"recent_spend": 250.0},
	}))

	prof, _ := eng.Profile("u1")
	assert.Equal(t, "new-users", prof.Cohort, "failed classification keeps last-known cohort")
}

func TestSegmentationUpdatesCohortBeforeMatching(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ctx := context.Background()

	classifier := segmocks.NewMockClassifier(ctrl)
	classifier.EXPECT().
		Classify(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("vip", nil)

	store := queue.NewMemory()
	eng := New(Options{Store: store, Classifier: classifier})

	// The rule targets the cohort the classifier is about to assign.
	require.NoError(t, eng.RegisterRule(rule.Rule{
		ID:      "vip-perk",
		Trigger: rule.TriggerPurchaseCompletion,
		Cohort:  "vip",
		Active:  true,
		Actions: []rule.Action{
			{Kind: rule.ActionSendMessage, Params: map[string]any{"template": "perk"}},
		},
	}))
	eng.UpsertProfile(newUser("u1", "shoppers"))

	require.NoError(t, eng.SubmitEvent(ctx, rule.TriggerPurchaseCompletion, "u1", map[string]any{
		"behavior": map[string]any{"recent_spend": 900.0},
	}))

	prof, _ := eng.Profile("u1")
	assert.Equal(t, "vip", prof.Cohort)
	assert.Len(t, allItems(t, store), 1, "re-segmentation happens before rule matching")
}

func TestSubmitEventRejectsScheduledTrigger(t *testing.T) {
	t.Parallel()
	eng, _ := newTestEngine(t)
	err := eng.SubmitEvent(context.Background(), rule.TriggerScheduled, "u1", nil)
	assert.Error(t, err)
}

func TestScheduledCadenceTracking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng, store := newTestEngine(t)

	require.NoError(t, eng.RegisterRule(rule.Rule{
		ID:      "daily-digest",
		Trigger: rule.TriggerScheduled,
		Cadence: rule.CadenceDaily,
		Active:  true,
		Actions: []rule.Action{
			{Kind: rule.ActionSendMessage, Params: map[string]any{"template": "digest"}},
		},
	}))
	eng.UpsertProfile(newUser("u1", ""))

	t0 := time.Now().UTC()

	// First sweep anchors the cadence without firing.
	eng.dispatcher.sweepScheduled(ctx, t0)
	assert.Empty(t, allItems(t, store))

	// Not yet due.
	eng.dispatcher.sweepScheduled(ctx, t0.Add(23*time.Hour))
	assert.Empty(t, allItems(t, store))

	// Due: fires once for each matching profile.
	eng.dispatcher.sweepScheduled(ctx, t0.Add(25*time.Hour))
	assert.Len(t, allItems(t, store), 1)

	// Immediately after, the advanced next-due gate holds.
	eng.dispatcher.sweepScheduled(ctx, t0.Add(25*time.Hour+time.Minute))
	assert.Len(t, allItems(t, store), 1)

	// Three missed periods later it fires once, not three times.
	eng.dispatcher.sweepScheduled(ctx, t0.Add(4*24*time.Hour+time.Hour))
	assert.Len(t, allItems(t, store), 2)
}

func TestCancelItem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng, store := newTestEngine(t)

	require.NoError(t, eng.RegisterRule(rule.Rule{
		ID:      "r1",
		Trigger: rule.TriggerSignup,
		Active:  true,
		Actions: []rule.Action{
			{Kind: rule.ActionSendMessage, DelayMinutes: 60, Params: map[string]any{"template": "t"}},
		},
	}))
	eng.UpsertProfile(newUser("u1", ""))
	require.NoError(t, eng.SubmitEvent(ctx, rule.TriggerSignup, "u1", nil))

	items := allItems(t, store)
	require.Len(t, items, 1)

	require.NoError(t, eng.CancelItem(ctx, items[0].ID))
	got, err := store.Get(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCancelled, got.Status)

	// Cancelled is terminal.
	assert.Error(t, eng.CancelItem(ctx, items[0].ID))
}

func TestSweepTickEvictsTerminalItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng, store := newTestEngine(t)
	now := time.Now().UTC()

	old := queue.Item{
		ID: "old", UserID: "u1", TemplateID: "t1",
		ReadyAt: now.Add(-25 * time.Hour), Priority: queue.PriorityNormal,
		Status: queue.StatusPending, CreatedAt: now.Add(-25 * time.Hour),
	}
	require.NoError(t, store.Enqueue(ctx, old))
	require.NoError(t, store.MarkSent(ctx, "old"))

	eng.SweepTick(ctx, now)

	_, err := store.Get(ctx, "old")
	assert.Error(t, err, "terminal item past retention should be evicted")
}

func TestQueueStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	eng, store := newTestEngine(t)
	now := time.Now().UTC()

	require.NoError(t, store.Enqueue(ctx, queue.Item{
		ID: "a", UserID: "u1", TemplateID: "t1", ReadyAt: now,
		Priority: queue.PriorityNormal, Status: queue.StatusPending, CreatedAt: now,
	}))

	stats, err := eng.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{Total: 1, Pending: 1}, stats)
}
