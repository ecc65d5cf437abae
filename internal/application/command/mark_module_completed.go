package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/learnpath/learnpath/internal/application/reconcile"
	"github.com/learnpath/learnpath/internal/domain/progress"
	"github.com/learnpath/learnpath/internal/domain/shared"
	"github.com/learnpath/learnpath/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MARK MODULE COMPLETED COMMAND
// Записывает завершение модуля в локальный кэш. Сеть не трогается:
// отправка на сервер происходит при следующей сверке.
// ══════════════════════════════════════════════════════════════════════════════

// MarkModuleCompletedCommand contains the data to record a completed module.
type MarkModuleCompletedCommand struct {
	// Scope is the progress scope; empty means anonymous.
	Scope progress.ScopeID `validate:"max=128"`

	// ModuleID is the completed module.
	ModuleID string `validate:"required,max=128"`

	// Timestamp is when the module was completed (defaults to now if zero).
	Timestamp time.Time
}

// Validate validates the command.
func (c MarkModuleCompletedCommand) Validate() error {
	c.ModuleID = strings.TrimSpace(c.ModuleID)
	return validateCommand("MarkModuleCompleted", c)
}

// MarkModuleCompletedResult contains the outcome of the command.
type MarkModuleCompletedResult struct {
	// Snapshot is the local snapshot after the write.
	Snapshot *progress.Snapshot

	// Changed is false when the module was already completed.
	Changed bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// MarkModuleCompletedHandler handles MarkModuleCompletedCommand.
type MarkModuleCompletedHandler struct {
	cache          progress.SnapshotCache
	locks          *reconcile.ScopeLocks
	eventPublisher shared.EventPublisher
	clock          func() time.Time
	logger         *slog.Logger
}

// NewMarkModuleCompletedHandler creates a new MarkModuleCompletedHandler.
func NewMarkModuleCompletedHandler(
	cache progress.SnapshotCache,
	locks *reconcile.ScopeLocks,
	eventPublisher shared.EventPublisher,
	log *slog.Logger,
) *MarkModuleCompletedHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	return &MarkModuleCompletedHandler{
		cache:          cache,
		locks:          locks,
		eventPublisher: eventPublisher,
		clock:          time.Now,
		logger:         logger.OrDefault(log).With(logger.Component("mark-module-completed")),
	}
}

// Handle executes the command. A repeated module is a no-op that leaves the
// stored snapshot and its version untouched.
func (h *MarkModuleCompletedHandler) Handle(ctx context.Context, cmd MarkModuleCompletedCommand) (*MarkModuleCompletedResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("mark_module_completed: %w", err)
	}

	scope := cmd.Scope.Normalize()
	moduleID := strings.TrimSpace(cmd.ModuleID)
	now := cmd.Timestamp
	if now.IsZero() {
		now = h.clock()
	}

	unlock := h.locks.Lock(scope)
	snap, changed, err := h.cache.MarkModuleCompleted(ctx, moduleID, scope, now)
	if err == nil && changed {
		h.locks.Bump(scope)
	}
	unlock()
	if err != nil {
		return nil, fmt.Errorf("mark_module_completed: %w", err)
	}

	if changed {
		h.logger.Info("module completed",
			logger.Scope(scope.String()),
			logger.ModuleID(moduleID),
			logger.Version(snap.Version))
		if err := h.eventPublisher.Publish(shared.NewModuleCompletedEvent(scope.String(), moduleID, snap.Version)); err != nil {
			h.logger.Warn("failed to publish module completed event", logger.Err(err))
		}
	}

	return &MarkModuleCompletedResult{Snapshot: snap, Changed: changed}, nil
}
