package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/learnpath/learnpath/internal/domain/progress"
	"github.com/learnpath/learnpath/internal/domain/shared"
	"github.com/learnpath/learnpath/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// OUTCOME
// ══════════════════════════════════════════════════════════════════════════════

// Outcome reports which branch a reconciliation took.
type Outcome string

const (
	// OutcomeLocalOnly: the scope never syncs, the local snapshot was returned as is.
	OutcomeLocalOnly Outcome = "local_only"

	// OutcomePulled: the remote snapshot was newer and replaced the local one.
	OutcomePulled Outcome = "pulled"

	// OutcomePushed: the local snapshot was newer (or the remote missing) and was uploaded.
	OutcomePushed Outcome = "pushed"

	// OutcomePushDeferred: the upload failed and was handed to the push scheduler.
	OutcomePushDeferred Outcome = "push_deferred"

	// OutcomeInSync: both sides carry the same (version, updatedAt).
	OutcomeInSync Outcome = "in_sync"

	// OutcomeDegraded: the remote could not be read; local data was returned.
	OutcomeDegraded Outcome = "degraded"

	// OutcomeDiscarded: local state changed while the remote was being read,
	// so the fetched result was dropped and the current local snapshot returned.
	OutcomeDiscarded Outcome = "discarded"
)

// Result is what one reconciliation produced. Snapshot is owned by the caller.
type Result struct {
	Snapshot *progress.Snapshot
	Outcome  Outcome
}

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILER
// ══════════════════════════════════════════════════════════════════════════════

// Config contains reconciler timeouts.
type Config struct {
	// FetchTimeout bounds one remote read. A timeout counts as a fetch failure.
	FetchTimeout time.Duration

	// PushTimeout bounds the push made during a reconciliation.
	PushTimeout time.Duration
}

// DefaultConfig returns 5s timeouts.
func DefaultConfig() Config {
	return Config{
		FetchTimeout: 5 * time.Second,
		PushTimeout:  5 * time.Second,
	}
}

// Reconciler merges the local snapshot of a scope with the remote one.
// Concurrent reconciliations of the same scope share a single remote round trip.
type Reconciler struct {
	cache     progress.SnapshotCache
	gateway   progress.RemoteGateway
	locks     *ScopeLocks
	pusher    *PushScheduler
	publisher shared.EventPublisher
	logger    *slog.Logger
	config    Config

	group  singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewReconciler creates a reconciler. A nil gateway makes every scope local-only.
// The reconciler owns a PushScheduler built from pushConfig.
func NewReconciler(
	cache progress.SnapshotCache,
	gateway progress.RemoteGateway,
	locks *ScopeLocks,
	publisher shared.EventPublisher,
	log *slog.Logger,
	config Config,
	pushConfig PushConfig,
) *Reconciler {
	defaults := DefaultConfig()
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = defaults.FetchTimeout
	}
	if config.PushTimeout <= 0 {
		config.PushTimeout = defaults.PushTimeout
	}
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if locks == nil {
		locks = NewScopeLocks()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		cache:     cache,
		gateway:   gateway,
		locks:     locks,
		publisher: publisher,
		logger:    logger.OrDefault(log).With(logger.Component("reconciler")),
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
	}
	r.pusher = NewPushScheduler(r.Push, r.logger, pushConfig)
	return r
}

// Locks returns the lock table shared with local writers.
func (r *Reconciler) Locks() *ScopeLocks {
	return r.locks
}

// Pusher returns the background push scheduler.
func (r *Reconciler) Pusher() *PushScheduler {
	return r.pusher
}

// Reconcile returns the scope's reconciled snapshot.
//
// Fetch failures degrade to local data and return no error. A remote payload
// that breaks the wire contract returns local data together with an error
// matching shared.ErrMalformedSnapshot. Cancelling ctx only detaches this
// caller; the shared round trip keeps running for the other callers.
func (r *Reconciler) Reconcile(ctx context.Context, scope progress.ScopeID) (*Result, error) {
	scope = scope.Normalize()

	if scope.IsLocalOnly() || r.gateway == nil {
		snap, err := r.cache.GetSnapshot(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("reconcile %s: %w", scope, err)
		}
		return &Result{Snapshot: snap, Outcome: OutcomeLocalOnly}, nil
	}

	ch := r.group.DoChan(string(scope), func() (any, error) {
		return r.reconcile(scope)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		out, _ := res.Val.(*Result)
		if out == nil {
			return nil, res.Err
		}
		// Every caller of a coalesced flight gets its own copy.
		return &Result{Snapshot: out.Snapshot.Clone(), Outcome: out.Outcome}, res.Err
	}
}

// Cancel invalidates any in-flight reconciliation of scope and stops its pending push.
func (r *Reconciler) Cancel(scope progress.ScopeID) {
	r.locks.Bump(scope)
	r.pusher.Cancel(scope)
}

// Close stops in-flight remote calls and the push scheduler.
func (r *Reconciler) Close() {
	r.cancel()
	r.pusher.Close()
}

func (r *Reconciler) reconcile(scope progress.ScopeID) (*Result, error) {
	// Local I/O is not bounded by the flight's lifetime.
	local := context.Background()
	start := time.Now()
	gen := r.locks.Generation(scope)

	remote, err := r.fetch(scope)
	if err != nil && !errors.Is(err, progress.ErrRemoteNotFound) {
		return r.degrade(scope, err)
	}

	var remoteSnap *progress.Snapshot
	if remote != nil {
		fallback, err := r.cache.GetSnapshot(local, scope)
		if err != nil {
			return nil, fmt.Errorf("reconcile %s: %w", scope, err)
		}
		if remoteSnap, err = remote.ToSnapshot(scope, fallback); err != nil {
			return r.degrade(scope, err)
		}
	}

	unlock := r.locks.Lock(scope)
	current, err := r.cache.GetSnapshot(local, scope)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("reconcile %s: %w", scope, err)
	}

	if r.locks.Generation(scope) != gen {
		unlock()
		r.logger.Debug("discarding stale reconciliation", logger.Scope(scope.String()))
		return &Result{Snapshot: current, Outcome: OutcomeDiscarded}, nil
	}

	switch {
	case remoteSnap != nil && remoteSnap.IsNewerThan(current):
		err := r.cache.SetSnapshot(local, scope, remoteSnap)
		unlock()
		if err != nil {
			return nil, fmt.Errorf("reconcile %s: apply remote: %w", scope, err)
		}
		r.logger.Info("pulled remote progress",
			logger.Scope(scope.String()),
			slog.Int64("local_version", current.Version),
			slog.Int64("remote_version", remoteSnap.Version),
			logger.Latency(time.Since(start)))
		r.publish(shared.NewSyncEvent(shared.EventSnapshotPulled, scope.String(), current.Version, remoteSnap.Version, ""))
		return &Result{Snapshot: remoteSnap, Outcome: OutcomePulled}, nil

	case remoteSnap != nil && remoteSnap.Compare(current) == 0:
		unlock()
		return &Result{Snapshot: current, Outcome: OutcomeInSync}, nil

	case current.IsEmpty():
		// Nothing on either side worth uploading.
		unlock()
		return &Result{Snapshot: current, Outcome: OutcomeInSync}, nil
	}
	unlock()

	pushCtx, cancel := context.WithTimeout(r.ctx, r.config.PushTimeout)
	defer cancel()
	if err := r.push(pushCtx, scope, current); err != nil {
		r.logger.Warn("push failed, scheduling retry",
			logger.Scope(scope.String()),
			logger.Version(current.Version),
			logger.Err(err))
		r.publish(shared.NewSyncEvent(shared.EventPushFailed, scope.String(), current.Version, remoteVersion(remoteSnap), err.Error()))
		r.pusher.Schedule(scope)
		return &Result{Snapshot: current, Outcome: OutcomePushDeferred}, nil
	}

	r.logger.Info("pushed local progress",
		logger.Scope(scope.String()),
		slog.Int64("local_version", current.Version),
		slog.Int64("remote_version", remoteVersion(remoteSnap)),
		logger.Latency(time.Since(start)))
	return &Result{Snapshot: current, Outcome: OutcomePushed}, nil
}

func (r *Reconciler) fetch(scope progress.ScopeID) (*progress.RemoteSnapshot, error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.config.FetchTimeout)
	defer cancel()
	return r.gateway.FetchSnapshot(ctx, scope)
}

// degrade serves the local snapshot after a failed or unusable fetch.
func (r *Reconciler) degrade(scope progress.ScopeID, cause error) (*Result, error) {
	snap, err := r.cache.GetSnapshot(context.Background(), scope)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", scope, err)
	}

	result := &Result{Snapshot: snap, Outcome: OutcomeDegraded}
	r.publish(shared.NewSyncEvent(shared.EventSyncDegraded, scope.String(), snap.Version, 0, cause.Error()))

	if errors.Is(cause, shared.ErrMalformedSnapshot) {
		r.logger.Error("remote snapshot is malformed, using local data",
			logger.Scope(scope.String()), logger.Err(cause))
		return result, fmt.Errorf("reconcile %s: %w", scope, cause)
	}

	if !shared.IsExternalService(cause) {
		r.logger.Error("remote fetch failed, using local data",
			logger.Scope(scope.String()), logger.Err(cause))
		return result, nil
	}
	r.logger.Warn("remote progress unavailable, using local data",
		logger.Scope(scope.String()), logger.Err(cause))
	return result, nil
}

// Push uploads the latest local snapshot of scope. An empty snapshot is not uploaded.
// It is the operation the PushScheduler retries.
func (r *Reconciler) Push(ctx context.Context, scope progress.ScopeID) error {
	if r.gateway == nil || scope.IsLocalOnly() {
		return nil
	}
	snap, err := r.cache.GetSnapshot(ctx, scope)
	if err != nil {
		return err
	}
	if snap.IsEmpty() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.PushTimeout)
	defer cancel()
	return r.push(ctx, scope, snap)
}

func (r *Reconciler) push(ctx context.Context, scope progress.ScopeID, snap *progress.Snapshot) error {
	stored, err := r.gateway.UpsertSnapshot(ctx, scope, progress.FromSnapshot(snap))
	if err != nil {
		return err
	}
	r.publish(shared.NewSyncEvent(shared.EventSnapshotPushed, scope.String(), snap.Version, snap.Version, ""))

	if stored == nil {
		return nil
	}
	// The server may have kept a newer row than the one sent.
	storedSnap, err := stored.ToSnapshot(scope, snap)
	if err != nil {
		r.logger.Warn("ignoring malformed upsert response", logger.Scope(scope.String()), logger.Err(err))
		return nil
	}
	if storedSnap.IsNewerThan(snap) {
		r.applyIfNewer(scope, storedSnap)
	}
	return nil
}

func (r *Reconciler) applyIfNewer(scope progress.ScopeID, remote *progress.Snapshot) {
	unlock := r.locks.Lock(scope)
	defer unlock()

	ctx := context.Background()
	current, err := r.cache.GetSnapshot(ctx, scope)
	if err != nil || !remote.IsNewerThan(current) {
		return
	}
	if err := r.cache.SetSnapshot(ctx, scope, remote); err != nil {
		r.logger.Warn("apply stored snapshot failed", logger.Scope(scope.String()), logger.Err(err))
		return
	}
	r.publish(shared.NewSyncEvent(shared.EventSnapshotPulled, scope.String(), current.Version, remote.Version, "upsert_response"))
}

func (r *Reconciler) publish(event shared.Event) {
	if err := r.publisher.Publish(event); err != nil {
		r.logger.Debug("publish sync event failed", slog.String("event_type", string(event.EventType())), logger.Err(err))
	}
}

func remoteVersion(s *progress.Snapshot) int64 {
	if s == nil {
		return 0
	}
	return s.Version
}
