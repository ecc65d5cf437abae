package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath/internal/application/reconcile"
	"github.com/learnpath/learnpath/internal/domain/progress"
	"github.com/learnpath/learnpath/internal/domain/shared"
)

type stubReconciler struct {
	res *reconcile.Result
	err error
	got progress.ScopeID
}

func (s *stubReconciler) Reconcile(_ context.Context, scope progress.ScopeID) (*reconcile.Result, error) {
	s.got = scope
	return s.res, s.err
}

func snapshot(xp progress.XP, modules ...string) *progress.Snapshot {
	snap := progress.NewSnapshot("u1")
	for _, m := range modules {
		snap.CompletedModules[m] = struct{}{}
	}
	snap.XP = xp
	snap.Streak = 3
	snap.Version = 7
	snap.UpdatedAt = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return snap
}

func TestGetCompletedModules(t *testing.T) {
	rec := &stubReconciler{res: &reconcile.Result{Snapshot: snapshot(0, "b", "a"), Outcome: reconcile.OutcomePulled}}
	h := NewGetCompletedModulesHandler(rec)

	dto, err := h.Handle(context.Background(), GetCompletedModulesQuery{Scope: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, dto.Modules)
	assert.Equal(t, int64(7), dto.Version)
	assert.Equal(t, reconcile.OutcomePulled, dto.Outcome)
	assert.Equal(t, progress.ScopeID("u1"), rec.got)
}

func TestGetCompletedModules_MalformedRemoteKeepsLocalData(t *testing.T) {
	rec := &stubReconciler{
		res: &reconcile.Result{Snapshot: snapshot(0, "local"), Outcome: reconcile.OutcomeDegraded},
		err: shared.ErrMalformedSnapshot,
	}
	h := NewGetCompletedModulesHandler(rec)

	dto, err := h.Handle(context.Background(), GetCompletedModulesQuery{Scope: "u1"})
	assert.ErrorIs(t, err, shared.ErrMalformedSnapshot)
	require.NotNil(t, dto)
	assert.Equal(t, []string{"local"}, dto.Modules)
}

func TestGetCompletedModules_LocalStoreFailure(t *testing.T) {
	h := NewGetCompletedModulesHandler(&stubReconciler{err: errors.New("disk gone")})

	dto, err := h.Handle(context.Background(), GetCompletedModulesQuery{})
	assert.Nil(t, dto)
	assert.ErrorContains(t, err, "disk gone")
}

func TestGetProgressSummary(t *testing.T) {
	rec := &stubReconciler{res: &reconcile.Result{Snapshot: snapshot(250, "a", "b", "c"), Outcome: reconcile.OutcomeInSync}}
	h := NewGetProgressSummaryHandler(rec)

	s, err := h.Handle(context.Background(), GetProgressSummaryQuery{Scope: "u1"})
	require.NoError(t, err)
	assert.Equal(t, progress.XP(250), s.XP)
	assert.Equal(t, progress.Level(2), s.Level)
	assert.Equal(t, 3, s.Streak)
	assert.Equal(t, 3, s.CompletedCount)
	assert.Equal(t, int64(7), rec.res.Snapshot.Version)
}
