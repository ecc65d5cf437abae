package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath/internal/application/reconcile"
	"github.com/learnpath/learnpath/internal/domain/progress"
	"github.com/learnpath/learnpath/internal/domain/session"
	"github.com/learnpath/learnpath/internal/domain/shared"
	"github.com/learnpath/learnpath/internal/infrastructure/persistence/cache"
	"github.com/learnpath/learnpath/internal/infrastructure/persistence/memory"
	"github.com/learnpath/learnpath/pkg/logger"
)

type publishedEvents struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *publishedEvents) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *publishedEvents) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type cancelRecorder struct{ scopes []progress.ScopeID }

func (c *cancelRecorder) Cancel(scope progress.ScopeID) { c.scopes = append(c.scopes, scope) }

var day = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

func xp(v progress.XP) *progress.XP { return &v }

func newCache() *cache.ProgressCache {
	return cache.NewProgressCache(memory.NewStore())
}

// ══════════════════════════════════════════════════════════════════════════════
// MARK MODULE COMPLETED
// ══════════════════════════════════════════════════════════════════════════════

func TestMarkModuleCompleted(t *testing.T) {
	ctx := context.Background()
	locks := reconcile.NewScopeLocks()
	events := &publishedEvents{}
	h := NewMarkModuleCompletedHandler(newCache(), locks, events, logger.Discard())

	res, err := h.Handle(ctx, MarkModuleCompletedCommand{ModuleID: "basics", Timestamp: day})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, []string{"basics"}, res.Snapshot.Modules())
	assert.Equal(t, progress.AnonymousScope, res.Snapshot.ScopeID)
	assert.Equal(t, int64(1), res.Snapshot.Version)
	assert.Equal(t, uint64(1), locks.Generation(progress.AnonymousScope))

	again, err := h.Handle(ctx, MarkModuleCompletedCommand{ModuleID: "basics", Timestamp: day.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, int64(1), again.Snapshot.Version)
	assert.Equal(t, uint64(1), locks.Generation(progress.AnonymousScope), "no-op writes keep the generation")

	assert.Equal(t, []shared.EventType{shared.EventModuleCompleted}, events.types())
}

func TestMarkModuleCompleted_Validation(t *testing.T) {
	h := NewMarkModuleCompletedHandler(newCache(), reconcile.NewScopeLocks(), nil, logger.Discard())

	for _, id := range []string{"", "   "} {
		_, err := h.Handle(context.Background(), MarkModuleCompletedCommand{ModuleID: id})
		require.Error(t, err)
		assert.True(t, shared.IsValidation(err))
	}
}

type failingStore struct{ *memory.Store }

func (failingStore) Set(context.Context, string, []byte) error { return errors.New("disk full") }

func TestMarkModuleCompleted_StoreFailureIsReturned(t *testing.T) {
	h := NewMarkModuleCompletedHandler(cache.NewProgressCache(failingStore{memory.NewStore()}), reconcile.NewScopeLocks(), nil, logger.Discard())

	_, err := h.Handle(context.Background(), MarkModuleCompletedCommand{Scope: "u1", ModuleID: "a"})
	assert.ErrorContains(t, err, "disk full")
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD SESSION
// ══════════════════════════════════════════════════════════════════════════════

func newRecordSession(c *cache.ProgressCache, events shared.EventPublisher) *RecordSessionHandler {
	return NewRecordSessionHandler(c, reconcile.NewScopeLocks(), events, logger.Discard(), RecordSessionHandlerConfig{})
}

func attempts() []session.AttemptLog {
	return []session.AttemptLog{
		{CardID: "c1", AttemptNumber: 1, IsCorrect: true, AwardedXP: xp(10)},
		{CardID: "c2", AttemptNumber: 1, IsCorrect: false},
		{CardID: "c2", AttemptNumber: 2, IsCorrect: true, AwardedXP: xp(5)},
	}
}

func TestRecordSession_AddsXPStreakAndModule(t *testing.T) {
	ctx := context.Background()
	c := newCache()
	events := &publishedEvents{}
	h := newRecordSession(c, events)

	res, err := h.Handle(ctx, RecordSessionCommand{
		Scope:       "u1",
		PlanID:      "plan-1",
		ModuleID:    "basics",
		Attempts:    attempts(),
		CompletedAt: day,
	})
	require.NoError(t, err)
	assert.Equal(t, progress.XP(15), res.XPAwarded)
	assert.Equal(t, progress.XP(15), res.Snapshot.XP)
	assert.Equal(t, 1, res.Snapshot.Streak)
	assert.Equal(t, "2026-03-10", res.Snapshot.LastActiveDay)
	assert.True(t, res.ModuleCompleted)
	assert.Equal(t, int64(1), res.Snapshot.Version)

	stored, err := c.GetSnapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, res.Snapshot.Modules(), stored.Modules())
	assert.Equal(t, progress.XP(15), stored.XP)

	assert.Equal(t, []shared.EventType{
		shared.EventSessionCompleted,
		shared.EventStreakUpdated,
		shared.EventModuleCompleted,
	}, events.types())
}

func TestRecordSession_IdempotentPerPlan(t *testing.T) {
	ctx := context.Background()
	h := newRecordSession(newCache(), nil)
	cmd := RecordSessionCommand{Scope: "u1", PlanID: "plan-1", Attempts: attempts(), CompletedAt: day}

	_, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	dup, err := h.Handle(ctx, cmd)
	require.NoError(t, err)

	assert.True(t, dup.Duplicate)
	assert.Equal(t, progress.XP(15), dup.Snapshot.XP)
	assert.Equal(t, int64(1), dup.Snapshot.Version)
	assert.False(t, dup.StreakUpdated())
}

func TestRecordSession_StreakOncePerDay(t *testing.T) {
	ctx := context.Background()
	h := newRecordSession(newCache(), nil)

	run := func(plan string, at time.Time) *RecordSessionResult {
		res, err := h.Handle(ctx, RecordSessionCommand{Scope: "u1", PlanID: plan, Attempts: attempts(), CompletedAt: at})
		require.NoError(t, err)
		return res
	}

	assert.Equal(t, 1, run("p1", day).Snapshot.Streak)
	assert.Equal(t, 1, run("p2", day.Add(time.Hour)).Snapshot.Streak, "same day keeps the streak")
	assert.Equal(t, 2, run("p3", day.AddDate(0, 0, 1)).Snapshot.Streak)

	broken := run("p4", day.AddDate(0, 0, 4))
	assert.Equal(t, 1, broken.Snapshot.Streak)
	assert.Equal(t, 2, broken.PreviousStreak)
	assert.Equal(t, progress.XP(60), broken.Snapshot.XP)
}

func TestRecordSession_FromCompletion(t *testing.T) {
	cmd := FromCompletion("u1", session.Completion{
		PlanID:      "p",
		LessonID:    "basics",
		Attempts:    attempts(),
		CompletedAt: day,
	})
	assert.Equal(t, progress.ScopeID("u1"), cmd.Scope)
	assert.Equal(t, "basics", cmd.ModuleID)
	assert.NoError(t, cmd.Validate())

	cmd.PlanID = ""
	assert.True(t, shared.IsValidation(cmd.Validate()))
}

func TestRecordSession_Forget(t *testing.T) {
	ctx := context.Background()
	h := newRecordSession(newCache(), nil)
	cmd := RecordSessionCommand{Scope: "u1", PlanID: "p", Attempts: attempts(), CompletedAt: day}

	_, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	h.Forget("u1")

	res, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, progress.XP(30), res.Snapshot.XP)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESET PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

func TestResetProgress(t *testing.T) {
	ctx := context.Background()
	c := newCache()
	locks := reconcile.NewScopeLocks()
	canceller := &cancelRecorder{}
	events := &publishedEvents{}

	mark := NewMarkModuleCompletedHandler(c, locks, nil, logger.Discard())
	_, err := mark.Handle(ctx, MarkModuleCompletedCommand{Scope: "u1", ModuleID: "a"})
	require.NoError(t, err)
	gen := locks.Generation("u1")

	reset := NewResetProgressHandler(c, locks, canceller, events, logger.Discard())
	require.NoError(t, reset.Handle(ctx, ResetProgressCommand{Scope: "u1"}))

	snap, err := c.GetSnapshot(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())
	assert.Greater(t, locks.Generation("u1"), gen)
	assert.Equal(t, []progress.ScopeID{"u1"}, canceller.scopes)
	assert.Equal(t, []shared.EventType{shared.EventProgressReset}, events.types())
}

func TestRecordSession_EventsShareCorrelationID(t *testing.T) {
	events := &publishedEvents{}
	h := newRecordSession(newCache(), events)

	_, err := h.Handle(context.Background(), RecordSessionCommand{
		Scope: "u1", PlanID: "plan-7", ModuleID: "basics", Attempts: attempts(), CompletedAt: day,
	})
	require.NoError(t, err)

	require.Len(t, events.events, 3)
	for _, e := range events.events {
		env, err := shared.NewEventEnvelope("id", e)
		require.NoError(t, err)
		assert.Equal(t, "plan-7", env.CorrelationID, e.EventType())
	}
}

// moduleOnCompletion marks a module of the same scope from inside the publisher.
type moduleOnCompletion struct {
	marker *MarkModuleCompletedHandler
	err    error
}

func (p *moduleOnCompletion) Publish(e shared.Event) error {
	if e.EventType() == shared.EventSessionCompleted {
		_, p.err = p.marker.Handle(context.Background(), MarkModuleCompletedCommand{
			Scope:    progress.ScopeID(e.AggregateID()),
			ModuleID: "badge",
		})
	}
	return nil
}

func TestRecordSession_PublishesAfterReleasingScope(t *testing.T) {
	c := newCache()
	locks := reconcile.NewScopeLocks()
	pub := &moduleOnCompletion{marker: NewMarkModuleCompletedHandler(c, locks, nil, logger.Discard())}
	h := NewRecordSessionHandler(c, locks, pub, logger.Discard(), RecordSessionHandlerConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := h.Handle(context.Background(), RecordSessionCommand{
			Scope: "u1", PlanID: "plan-1", ModuleID: "basics", Attempts: attempts(), CompletedAt: day,
		})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("record session held the scope lock while publishing")
	}
	require.NoError(t, pub.err)

	snap, err := c.GetSnapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"badge", "basics"}, snap.Modules())
}
