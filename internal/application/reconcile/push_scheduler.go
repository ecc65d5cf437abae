package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/learnpath/learnpath/internal/domain/progress"
	"github.com/learnpath/learnpath/internal/domain/shared"
	"github.com/learnpath/learnpath/pkg/logger"
	"github.com/learnpath/learnpath/pkg/retry"
)

// PushFunc uploads the latest local snapshot of a scope.
type PushFunc func(ctx context.Context, scope progress.ScopeID) error

// PushConfig configures background push retries.
type PushConfig struct {
	// Retrier supplies the attempt cap and the delay before each retry.
	// The awaited push made during reconciliation counts as attempt 1.
	Retrier *retry.Retrier
}

// DefaultPushConfig retries after 1s, 2s and 5s.
func DefaultPushConfig() PushConfig {
	return PushConfig{Retrier: retry.PushRetrier()}
}

// PushScheduler retries failed pushes in the background.
// At most one task runs per scope; scheduling again replaces the previous task.
type PushScheduler struct {
	push    PushFunc
	retrier *retry.Retrier
	logger  *slog.Logger

	mu     sync.Mutex
	tasks  map[progress.ScopeID]*pushTask
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type pushTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPushScheduler creates a scheduler that calls push on every retry.
func NewPushScheduler(push PushFunc, log *slog.Logger, config PushConfig) *PushScheduler {
	if config.Retrier == nil {
		config.Retrier = retry.PushRetrier()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PushScheduler{
		push:    push,
		retrier: config.Retrier,
		logger:  logger.OrDefault(log).With(logger.Component("push-scheduler")),
		tasks:   make(map[progress.ScopeID]*pushTask),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule starts retrying the push of scope, replacing any pending task.
func (s *PushScheduler) Schedule(scope progress.ScopeID) {
	scope = scope.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if prev, ok := s.tasks[scope]; ok {
		prev.cancel()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	task := &pushTask{cancel: cancel, done: make(chan struct{})}
	s.tasks[scope] = task

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(task.done)
		defer cancel()
		s.run(ctx, scope)
		s.forget(scope, task)
	}()
}

// Cancel stops the pending push of scope, if any.
func (s *PushScheduler) Cancel(scope progress.ScopeID) {
	scope = scope.Normalize()

	s.mu.Lock()
	task, ok := s.tasks[scope]
	if ok {
		delete(s.tasks, scope)
	}
	s.mu.Unlock()

	if ok {
		task.cancel()
	}
}

// Pending reports whether a push task exists for scope.
func (s *PushScheduler) Pending(scope progress.ScopeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[scope.Normalize()]
	return ok
}

// Wait blocks until the current task of scope finishes or ctx is done.
func (s *PushScheduler) Wait(ctx context.Context, scope progress.ScopeID) error {
	s.mu.Lock()
	task, ok := s.tasks[scope.Normalize()]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-task.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels every task and waits for them to exit.
func (s *PushScheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.tasks = make(map[progress.ScopeID]*pushTask)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *PushScheduler) run(ctx context.Context, scope progress.ScopeID) {
	var lastErr error
	for attempt := 1; attempt < s.retrier.MaxAttempts(); attempt++ {
		if err := wait(ctx, s.retrier.Delay(attempt)); err != nil {
			return
		}

		err := s.push(ctx, scope)
		if err == nil {
			s.logger.Info("deferred push succeeded",
				logger.Scope(scope.String()),
				slog.Int("attempt", attempt+1))
			return
		}
		if ctx.Err() != nil {
			return
		}
		if shared.IsDataError(err) || errors.Is(err, shared.ErrValidation) {
			s.logger.Error("deferred push rejected", logger.Scope(scope.String()), logger.Err(err))
			return
		}
		lastErr = err
		s.logger.Debug("deferred push failed",
			logger.Scope(scope.String()),
			slog.Int("attempt", attempt+1),
			logger.Err(err))
	}

	s.logger.Warn("giving up on push until next reconciliation",
		logger.Scope(scope.String()),
		slog.Int("attempts", s.retrier.MaxAttempts()),
		logger.Err(lastErr))
}

func (s *PushScheduler) forget(scope progress.ScopeID, task *pushTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[scope] == task {
		delete(s.tasks, scope)
	}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
