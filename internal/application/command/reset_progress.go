package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/learnpath/learnpath/internal/application/reconcile"
	"github.com/learnpath/learnpath/internal/domain/progress"
	"github.com/learnpath/learnpath/internal/domain/shared"
	"github.com/learnpath/learnpath/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESET PROGRESS COMMAND
// Удаляет локальный снимок области. Серверная запись не трогается.
// ══════════════════════════════════════════════════════════════════════════════

// ResetProgressCommand clears the local progress of a scope.
type ResetProgressCommand struct {
	// Scope is the progress scope; empty means anonymous.
	Scope progress.ScopeID `validate:"max=128"`
}

// Validate validates the command.
func (c ResetProgressCommand) Validate() error {
	return validateCommand("ResetProgress", c)
}

// Canceller stops background work for a scope.
type Canceller interface {
	Cancel(scope progress.ScopeID)
}

// ResetProgressHandler handles ResetProgressCommand.
type ResetProgressHandler struct {
	cache          progress.SnapshotCache
	locks          *reconcile.ScopeLocks
	canceller      Canceller
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
}

// NewResetProgressHandler creates a new ResetProgressHandler.
// canceller may be nil when nothing runs in the background.
func NewResetProgressHandler(
	cache progress.SnapshotCache,
	locks *reconcile.ScopeLocks,
	canceller Canceller,
	eventPublisher shared.EventPublisher,
	log *slog.Logger,
) *ResetProgressHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	return &ResetProgressHandler{
		cache:          cache,
		locks:          locks,
		canceller:      canceller,
		eventPublisher: eventPublisher,
		logger:         logger.OrDefault(log).With(logger.Component("reset-progress")),
	}
}

// Handle executes the command. In-flight reconciliations of the scope are
// invalidated and a pending push is cancelled.
func (h *ResetProgressHandler) Handle(ctx context.Context, cmd ResetProgressCommand) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("reset_progress: %w", err)
	}
	scope := cmd.Scope.Normalize()

	if h.canceller != nil {
		h.canceller.Cancel(scope)
	}

	unlock := h.locks.Lock(scope)
	err := h.cache.Delete(ctx, scope)
	h.locks.Bump(scope)
	unlock()
	if err != nil {
		return fmt.Errorf("reset_progress: %w", err)
	}

	h.logger.Info("progress reset", logger.Scope(scope.String()))
	if err := h.eventPublisher.Publish(shared.NewProgressResetEvent(scope.String())); err != nil {
		h.logger.Warn("failed to publish progress reset event", logger.Err(err))
	}
	return nil
}
