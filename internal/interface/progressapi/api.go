// Package progressapi is the entry point the client UI uses for learner progress.
// It wires the session runner, the local progress cache and the reconciler
// behind a small set of operations and owns their lifecycle.
package progressapi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/learnpath/learnpath/internal/application/command"
	"github.com/learnpath/learnpath/internal/application/query"
	"github.com/learnpath/learnpath/internal/application/reconcile"
	"github.com/learnpath/learnpath/internal/domain/card"
	"github.com/learnpath/learnpath/internal/domain/progress"
	"github.com/learnpath/learnpath/internal/domain/session"
	"github.com/learnpath/learnpath/internal/domain/shared"
	"github.com/learnpath/learnpath/pkg/logger"
	"github.com/learnpath/learnpath/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains tunables for the API.
type Config struct {
	// Reconcile holds fetch and push timeouts.
	Reconcile reconcile.Config

	// Push configures background push retries.
	Push reconcile.PushConfig

	// Calendar decides day boundaries for streaks.
	Calendar timeutil.Calendar

	// XPPolicy and RetryPolicy are applied to every session started through the API.
	XPPolicy    progress.XPPolicy
	RetryPolicy session.RetryPolicy

	// Clock replaces time.Now.
	Clock func() time.Time

	// RecordTimeout bounds the write made when a session completes.
	RecordTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Reconcile:     reconcile.DefaultConfig(),
		Push:          reconcile.DefaultPushConfig(),
		XPPolicy:      progress.DefaultXPPolicy(),
		RetryPolicy:   session.DefaultRetryPolicy(),
		Clock:         time.Now,
		RecordTimeout: 5 * time.Second,
	}
}

// Dependencies contains the collaborators of the API.
type Dependencies struct {
	// Cache is the local progress cache. Required.
	Cache progress.SnapshotCache

	// Gateway is the remote progress store. Nil keeps every scope local-only.
	Gateway progress.RemoteGateway

	// Publisher receives domain events. Optional.
	Publisher shared.EventPublisher

	// Transcriber grades recorded answers. Without it an artifact-only answer is rejected.
	Transcriber session.Transcriber

	// Logger for structured logging.
	Logger *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// API
// ══════════════════════════════════════════════════════════════════════════════

// API exposes progress operations.
type API struct {
	config      Config
	logger      *slog.Logger
	transcriber session.Transcriber

	reconciler *reconcile.Reconciler

	markModule    *command.MarkModuleCompletedHandler
	recordSession *command.RecordSessionHandler
	resetProgress *command.ResetProgressHandler

	completedModules *query.GetCompletedModulesHandler
	summary          *query.GetProgressSummaryHandler
}

// New builds the API.
func New(deps Dependencies, config Config) (*API, error) {
	if deps.Cache == nil {
		return nil, errors.New("progressapi: cache is required")
	}

	defaults := DefaultConfig()
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.XPPolicy == (progress.XPPolicy{}) {
		config.XPPolicy = defaults.XPPolicy
	}
	if config.RetryPolicy.IsZero() {
		config.RetryPolicy = defaults.RetryPolicy
	}
	if config.RecordTimeout <= 0 {
		config.RecordTimeout = defaults.RecordTimeout
	}

	log := logger.OrDefault(deps.Logger)
	locks := reconcile.NewScopeLocks()
	rec := reconcile.NewReconciler(deps.Cache, deps.Gateway, locks, deps.Publisher, log, config.Reconcile, config.Push)

	return &API{
		config:      config,
		logger:      log.With(logger.Component("progress-api")),
		transcriber: deps.Transcriber,
		reconciler:  rec,

		markModule: command.NewMarkModuleCompletedHandler(deps.Cache, locks, deps.Publisher, log),
		recordSession: command.NewRecordSessionHandler(deps.Cache, locks, deps.Publisher, log, command.RecordSessionHandlerConfig{
			Calendar: config.Calendar,
			Clock:    config.Clock,
		}),
		resetProgress: command.NewResetProgressHandler(deps.Cache, locks, rec, deps.Publisher, log),

		completedModules: query.NewGetCompletedModulesHandler(rec),
		summary:          query.NewGetProgressSummaryHandler(rec),
	}, nil
}

// MarkModuleCompleted records moduleID as completed in the local cache.
// Marking the same module again changes nothing.
func (a *API) MarkModuleCompleted(ctx context.Context, moduleID string, scope progress.ScopeID) error {
	_, err := a.markModule.Handle(ctx, command.MarkModuleCompletedCommand{
		Scope:     scope,
		ModuleID:  moduleID,
		Timestamp: a.config.Clock(),
	})
	return err
}

// GetCompletedModules returns the reconciled completed modules of scope.
// Network failures are absorbed; a malformed remote snapshot is reported
// together with the local modules.
func (a *API) GetCompletedModules(ctx context.Context, scope progress.ScopeID) ([]string, error) {
	dto, err := a.completedModules.Handle(ctx, query.GetCompletedModulesQuery{Scope: scope})
	if dto == nil {
		return nil, err
	}
	return dto.Modules, err
}

// GetProgressSummary returns XP, streak, level and completed count of scope.
func (a *API) GetProgressSummary(ctx context.Context, scope progress.ScopeID) (progress.Summary, error) {
	s, err := a.summary.Handle(ctx, query.GetProgressSummaryQuery{Scope: scope})
	if s == nil {
		return progress.Summary{}, err
	}
	return *s, err
}

// ResetProgress clears the local progress of scope.
func (a *API) ResetProgress(ctx context.Context, scope progress.ScopeID) error {
	if err := a.resetProgress.Handle(ctx, command.ResetProgressCommand{Scope: scope}); err != nil {
		return err
	}
	a.recordSession.Forget(scope)
	return nil
}

// RecordSession applies a finished session to scope's progress.
func (a *API) RecordSession(ctx context.Context, scope progress.ScopeID, c session.Completion) (*command.RecordSessionResult, error) {
	return a.recordSession.Handle(ctx, command.FromCompletion(scope, c))
}

// StartSession creates a runner for plan whose completion is recorded to scope.
// onComplete, if not nil, runs after the session has been recorded.
func (a *API) StartSession(scope progress.ScopeID, plan *card.SessionPlan, onComplete session.CompletionFunc) *session.Runner {
	record := func(c session.Completion) {
		ctx, cancel := context.WithTimeout(context.Background(), a.config.RecordTimeout)
		defer cancel()
		if _, err := a.RecordSession(ctx, scope, c); err != nil {
			a.logger.Error("failed to record session",
				logger.Scope(scope.Normalize().String()),
				logger.PlanID(c.PlanID),
				logger.Err(err))
		}
		if onComplete != nil {
			onComplete(c)
		}
	}

	opts := []session.Option{
		session.WithClock(a.config.Clock),
		session.WithXPPolicy(a.config.XPPolicy),
		session.WithRetryPolicy(a.config.RetryPolicy),
		session.WithOnComplete(record),
	}
	if a.transcriber != nil {
		opts = append(opts, session.WithTranscriber(a.transcriber))
	}
	return session.NewRunner(plan, opts...)
}

// Cancel abandons in-flight reconciliation results and the pending push of scope.
func (a *API) Cancel(scope progress.ScopeID) {
	a.reconciler.Cancel(scope)
}

// Reconcile exposes the full reconciliation result, including which branch ran.
func (a *API) Reconcile(ctx context.Context, scope progress.ScopeID) (*reconcile.Result, error) {
	return a.reconciler.Reconcile(ctx, scope)
}

// Close stops background work. The API must not be used afterwards.
func (a *API) Close() {
	a.reconciler.Close()
}
