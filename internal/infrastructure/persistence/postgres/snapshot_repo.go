package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/learnpath/learnpath/internal/domain/progress"
	"github.com/learnpath/learnpath/internal/domain/shared"
	"github.com/learnpath/learnpath/pkg/circuitbreaker"
	"github.com/learnpath/learnpath/pkg/retry"
	"github.com/learnpath/learnpath/pkg/timeutil"
)

// SnapshotRepository implements progress.RemoteGateway on the progress_snapshots table.
type SnapshotRepository struct {
	conn    *Connection
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
}

var _ progress.RemoteGateway = (*SnapshotRepository)(nil)

// NewSnapshotRepository creates a repository guarded by the database breaker.
// A nil breaker gets circuitbreaker.DatabaseBreaker.
func NewSnapshotRepository(conn *Connection, breaker *circuitbreaker.CircuitBreaker) *SnapshotRepository {
	if breaker == nil {
		breaker = circuitbreaker.DatabaseBreaker(nil)
	}
	return &SnapshotRepository{
		conn:    conn,
		breaker: breaker,
		retrier: retry.DatabaseRetrier(retry.WithRetryIf(IsTransient)),
	}
}

const selectSnapshotSQL = `
	SELECT completed_modules, xp, streak, last_active_day, version, updated_at
	FROM progress_snapshots
	WHERE scope_id = $1
`

// upsertSnapshotSQL only replaces a stored row that is not newer than the incoming one,
// so replaying the same push is harmless and a stale push cannot roll the server back.
const upsertSnapshotSQL = `
	INSERT INTO progress_snapshots (scope_id, completed_modules, xp, streak, last_active_day, version, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (scope_id) DO UPDATE SET
		completed_modules = EXCLUDED.completed_modules,
		xp                = COALESCE(EXCLUDED.xp, progress_snapshots.xp),
		streak            = COALESCE(EXCLUDED.streak, progress_snapshots.streak),
		last_active_day   = COALESCE(EXCLUDED.last_active_day, progress_snapshots.last_active_day),
		version           = EXCLUDED.version,
		updated_at        = EXCLUDED.updated_at
	WHERE (progress_snapshots.version, progress_snapshots.updated_at) <= (EXCLUDED.version, EXCLUDED.updated_at)
	RETURNING completed_modules, xp, streak, last_active_day, version, updated_at
`

// FetchSnapshot returns the stored snapshot or progress.ErrRemoteNotFound.
func (r *SnapshotRepository) FetchSnapshot(ctx context.Context, scope progress.ScopeID) (*progress.RemoteSnapshot, error) {
	snap, err := r.call(ctx, func(ctx context.Context) (*progress.RemoteSnapshot, error) {
		return scanSnapshot(r.conn.QueryRow(ctx, selectSnapshotSQL, scope.String()))
	})
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, progress.ErrRemoteNotFound
	}
	return snap, nil
}

// UpsertSnapshot stores snap unless the stored row is newer, and returns what is stored afterwards.
func (r *SnapshotRepository) UpsertSnapshot(ctx context.Context, scope progress.ScopeID, snap progress.RemoteSnapshot) (*progress.RemoteSnapshot, error) {
	row, err := toRow(snap)
	if err != nil {
		return nil, err
	}

	return r.call(ctx, func(ctx context.Context) (*progress.RemoteSnapshot, error) {
		var stored *progress.RemoteSnapshot
		err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
			var err error
			stored, err = scanSnapshot(tx.QueryRow(ctx, upsertSnapshotSQL,
				scope.String(), row.modules, row.xp, row.streak, row.lastActiveDay, row.version, row.updatedAt))
			if err != nil || stored != nil {
				return err
			}
			// Conflict lost to a newer row: report the winner.
			stored, err = scanSnapshot(tx.QueryRow(ctx, selectSnapshotSQL, scope.String()))
			return err
		})
		return stored, err
	})
}

func (r *SnapshotRepository) call(ctx context.Context, fn func(context.Context) (*progress.RemoteSnapshot, error)) (*progress.RemoteSnapshot, error) {
	snap, err := circuitbreaker.Call(ctx, r.breaker, func(ctx context.Context) (*progress.RemoteSnapshot, error) {
		return retry.DoWithData(ctx, r.retrier, fn)
	})
	if err != nil {
		return nil, mapError(err)
	}
	return snap, nil
}

func mapError(err error) error {
	switch {
	case circuitbreaker.IsRejected(err):
		return shared.WrapError("gateway", "Postgres", shared.ErrServiceUnavailable, "progress database circuit open", err)
	case errors.Is(err, context.DeadlineExceeded):
		return shared.WrapError("gateway", "Postgres", shared.ErrTimeout, "progress database timeout", err)
	case errors.Is(err, ErrConnectionClosed), IsTransient(err):
		return shared.WrapError("gateway", "Postgres", shared.ErrServiceUnavailable, "progress database unavailable", err)
	}
	return shared.WrapError("gateway", "Postgres", shared.ErrExternalService, "progress database error", err)
}

// ══════════════════════════════════════════════════════════════════════════════
// ROW MAPPING
// ══════════════════════════════════════════════════════════════════════════════

type snapshotRow struct {
	modules       []string
	xp            pgtype.Int4
	streak        pgtype.Int4
	lastActiveDay pgtype.Date
	version       int64
	updatedAt     time.Time
}

func toRow(s progress.RemoteSnapshot) (snapshotRow, error) {
	updatedAt, err := timeutil.ParseRFC3339(s.UpdatedAt)
	if err != nil {
		return snapshotRow{}, shared.WrapError("gateway", "UpsertSnapshot", shared.ErrInvalidFormat,
			fmt.Sprintf("bad updatedAt %q", s.UpdatedAt), shared.ErrMalformedSnapshot)
	}

	row := snapshotRow{
		modules:   s.CompletedModules,
		version:   s.Version,
		updatedAt: updatedAt,
	}
	if row.modules == nil {
		row.modules = []string{}
	}
	if s.XP != nil {
		row.xp = pgtype.Int4{Int32: int32(*s.XP), Valid: true}
	}
	if s.Streak != nil {
		row.streak = pgtype.Int4{Int32: int32(*s.Streak), Valid: true}
	}
	if s.LastActiveDay != "" {
		day, err := time.Parse(timeutil.DayLayout, s.LastActiveDay)
		if err != nil {
			return snapshotRow{}, shared.WrapError("gateway", "UpsertSnapshot", shared.ErrInvalidFormat,
				fmt.Sprintf("bad lastActiveDay %q", s.LastActiveDay), shared.ErrMalformedSnapshot)
		}
		row.lastActiveDay = pgtype.Date{Time: day, Valid: true}
	}
	return row, nil
}

// scanSnapshot returns (nil, nil) when the row does not exist.
func scanSnapshot(row pgx.Row) (*progress.RemoteSnapshot, error) {
	var r snapshotRow
	err := row.Scan(&r.modules, &r.xp, &r.streak, &r.lastActiveDay, &r.version, &r.updatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan progress snapshot: %w", err)
	}
	return r.toRemote(), nil
}

func (r snapshotRow) toRemote() *progress.RemoteSnapshot {
	out := &progress.RemoteSnapshot{
		CompletedModules: r.modules,
		UpdatedAt:        timeutil.FormatRFC3339(r.updatedAt),
		Version:          r.version,
	}
	if out.CompletedModules == nil {
		out.CompletedModules = []string{}
	}
	if r.xp.Valid {
		xp := progress.XP(r.xp.Int32)
		out.XP = &xp
	}
	if r.streak.Valid {
		streak := int(r.streak.Int32)
		out.Streak = &streak
	}
	if r.lastActiveDay.Valid {
		out.LastActiveDay = r.lastActiveDay.Time.Format(timeutil.DayLayout)
	}
	return out
}
