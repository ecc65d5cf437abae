package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/learnpath/learnpath/internal/application/reconcile"
	"github.com/learnpath/learnpath/internal/domain/progress"
	"github.com/learnpath/learnpath/internal/domain/session"
	"github.com/learnpath/learnpath/internal/domain/shared"
	"github.com/learnpath/learnpath/pkg/logger"
	"github.com/learnpath/learnpath/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD SESSION COMMAND
// Переносит итоги завершённой сессии в снимок прогресса: XP, серию дней
// и (для сессии урока) завершённый модуль. Одна запись на план.
// ══════════════════════════════════════════════════════════════════════════════

// RecordSessionCommand contains a finished session.
type RecordSessionCommand struct {
	// Scope is the progress scope; empty means anonymous.
	Scope progress.ScopeID `validate:"max=128"`

	// PlanID identifies the session plan. A plan is recorded at most once.
	PlanID string `validate:"required"`

	// ModuleID, when set, is marked completed together with the session.
	ModuleID string `validate:"omitempty,max=128"`

	// Attempts is the session's attempt log.
	Attempts []session.AttemptLog `validate:"required,min=1"`

	// CompletedAt is when the session ended (defaults to now if zero).
	CompletedAt time.Time
}

// Validate validates the command.
func (c RecordSessionCommand) Validate() error {
	return validateCommand("RecordSession", c)
}

// FromCompletion builds the command from a runner's completion callback.
func FromCompletion(scope progress.ScopeID, c session.Completion) RecordSessionCommand {
	return RecordSessionCommand{
		Scope:       scope,
		PlanID:      c.PlanID,
		ModuleID:    c.LessonID,
		Attempts:    c.Attempts,
		CompletedAt: c.CompletedAt,
	}
}

// RecordSessionResult contains the outcome of the command.
type RecordSessionResult struct {
	// Snapshot is the local snapshot after the write.
	Snapshot *progress.Snapshot

	// XPAwarded is the XP added by this session.
	XPAwarded progress.XP

	// PreviousStreak is the streak before the session.
	PreviousStreak int

	// ModuleCompleted is true when the session newly completed its module.
	ModuleCompleted bool

	// Duplicate is true when the plan had already been recorded; nothing was written.
	Duplicate bool
}

// StreakUpdated reports whether the session changed the streak.
func (r *RecordSessionResult) StreakUpdated() bool {
	return !r.Duplicate && r.Snapshot.Streak != r.PreviousStreak
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordSessionHandler handles RecordSessionCommand.
type RecordSessionHandler struct {
	cache          progress.SnapshotCache
	locks          *reconcile.ScopeLocks
	eventPublisher shared.EventPublisher
	calendar       timeutil.Calendar
	clock          func() time.Time
	logger         *slog.Logger

	mu       sync.Mutex
	recorded map[string]struct{}
}

// RecordSessionHandlerConfig contains configuration for the handler.
type RecordSessionHandlerConfig struct {
	// Calendar decides day boundaries for the streak rule.
	Calendar timeutil.Calendar

	// Clock replaces time.Now.
	Clock func() time.Time
}

// NewRecordSessionHandler creates a new RecordSessionHandler.
func NewRecordSessionHandler(
	cache progress.SnapshotCache,
	locks *reconcile.ScopeLocks,
	eventPublisher shared.EventPublisher,
	log *slog.Logger,
	config RecordSessionHandlerConfig,
) *RecordSessionHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &RecordSessionHandler{
		cache:          cache,
		locks:          locks,
		eventPublisher: eventPublisher,
		calendar:       config.Calendar,
		clock:          config.Clock,
		logger:         logger.OrDefault(log).With(logger.Component("record-session")),
		recorded:       make(map[string]struct{}),
	}
}

// Handle executes the command.
func (h *RecordSessionHandler) Handle(ctx context.Context, cmd RecordSessionCommand) (*RecordSessionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_session: %w", err)
	}

	scope := cmd.Scope.Normalize()
	key := scope.String() + "/" + cmd.PlanID
	now := cmd.CompletedAt
	if now.IsZero() {
		now = h.clock()
	}

	// Блокировка снимается до публикации: подписчик может писать в ту же область.
	unlock := h.locks.Lock(scope)

	if h.isRecorded(key) {
		snap, err := h.cache.GetSnapshot(ctx, scope)
		unlock()
		if err != nil {
			return nil, fmt.Errorf("record_session: %w", err)
		}
		return &RecordSessionResult{Snapshot: snap, PreviousStreak: snap.Streak, Duplicate: true}, nil
	}

	snap, err := h.cache.GetSnapshot(ctx, scope)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("record_session: %w", err)
	}

	// Сумма XP по журналу попыток: не больше одной выдачи на карточку.
	var earned progress.XP
	for _, a := range cmd.Attempts {
		earned = earned.Add(a.XP())
	}

	result := &RecordSessionResult{XPAwarded: earned}
	snap.XP = snap.XP.Add(earned)
	result.PreviousStreak = snap.RecordActivity(now, h.calendar)

	if moduleID := strings.TrimSpace(cmd.ModuleID); moduleID != "" && !snap.HasModule(moduleID) {
		snap.CompletedModules[moduleID] = struct{}{}
		result.ModuleCompleted = true
	}
	snap.Touch(now)

	if err := h.cache.SetSnapshot(ctx, scope, snap); err != nil {
		unlock()
		return nil, fmt.Errorf("record_session: %w", err)
	}
	h.locks.Bump(scope)
	h.markRecorded(key)
	unlock()
	result.Snapshot = snap

	h.logger.Info("session recorded",
		logger.Scope(scope.String()),
		logger.PlanID(cmd.PlanID),
		logger.XP(int(earned)),
		slog.Int("streak", snap.Streak),
		logger.Version(snap.Version))

	// События одной сессии связаны через id плана.
	completed := shared.NewSessionCompletedEvent(scope.String(), cmd.PlanID, cmd.ModuleID, len(cmd.Attempts), int(earned), snap.Streak)
	completed.BaseEvent = completed.BaseEvent.WithCorrelationID(cmd.PlanID)
	h.publish(completed)

	if result.StreakUpdated() {
		streak := shared.NewStreakUpdatedEvent(scope.String(), result.PreviousStreak, snap.Streak)
		streak.BaseEvent = streak.BaseEvent.WithCorrelationID(cmd.PlanID)
		if streak.Broken() {
			h.logger.Info("streak broken",
				logger.Scope(scope.String()),
				slog.Int("previous_streak", result.PreviousStreak))
		}
		h.publish(streak)
	}
	if result.ModuleCompleted {
		module := shared.NewModuleCompletedEvent(scope.String(), cmd.ModuleID, snap.Version)
		module.BaseEvent = module.BaseEvent.WithCorrelationID(cmd.PlanID)
		h.publish(module)
	}

	return result, nil
}

// Forget drops the plan ids recorded for scope, e.g. after a reset.
func (h *RecordSessionHandler) Forget(scope progress.ScopeID) {
	prefix := scope.String() + "/"
	h.mu.Lock()
	defer h.mu.Unlock()
	for key := range h.recorded {
		if strings.HasPrefix(key, prefix) {
			delete(h.recorded, key)
		}
	}
}

func (h *RecordSessionHandler) isRecorded(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.recorded[key]
	return ok
}

func (h *RecordSessionHandler) markRecorded(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recorded[key] = struct{}{}
}

func (h *RecordSessionHandler) publish(event shared.Event) {
	if err := h.eventPublisher.Publish(event); err != nil {
		h.logger.Warn("failed to publish event",
			slog.String("event_type", string(event.EventType())),
			logger.Err(err))
	}
}
