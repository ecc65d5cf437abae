package progress

import (
	"context"
	"errors"
	"time"

	"github.com/learnpath/learnpath/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищами прогресса.
// Реализации находятся в infrastructure/persistence и infrastructure/external.
// ══════════════════════════════════════════════════════════════════════════════

// ErrKeyNotFound возвращается KVStore, если ключа нет.
var ErrKeyNotFound = errors.New("progress: key not found")

// ErrRemoteNotFound возвращается RemoteGateway, если для области нет серверного снимка.
var ErrRemoteNotFound = shared.NewDomainError("gateway", "FetchSnapshot", shared.ErrNotFound, "no remote snapshot for scope")

// KVStore - локальное постоянное хранилище (JSON по строковому ключу).
// Это источник истины, пока устройство офлайн.
type KVStore interface {
	// Get возвращает значение или ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set записывает значение.
	Set(ctx context.Context, key string, value []byte) error

	// Delete удаляет ключ; удаление отсутствующего ключа не ошибка.
	Delete(ctx context.Context, key string) error
}

// SnapshotCache - типизированный доступ к снимкам по области.
// Сам не сериализует запись: вызывающий держит блокировку области.
type SnapshotCache interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Read / Write
	// ─────────────────────────────────────────────────────────────────────────

	// GetSnapshot возвращает снимок области; при промахе - пустой снимок.
	GetSnapshot(ctx context.Context, scope ScopeID) (*Snapshot, error)

	// SetSnapshot полностью заменяет снимок области.
	SetSnapshot(ctx context.Context, scope ScopeID, snap *Snapshot) error

	// ─────────────────────────────────────────────────────────────────────────
	// Mutations
	// ─────────────────────────────────────────────────────────────────────────

	// MarkModuleCompleted добавляет модуль и возвращает итоговый снимок.
	// changed=false, если модуль уже был пройден (версия не меняется).
	MarkModuleCompleted(ctx context.Context, moduleID string, scope ScopeID, now time.Time) (snap *Snapshot, changed bool, err error)

	// Delete удаляет снимок области.
	Delete(ctx context.Context, scope ScopeID) error
}

// RemoteGateway - серверная запись прогресса.
type RemoteGateway interface {
	// FetchSnapshot возвращает серверный снимок или ErrRemoteNotFound.
	FetchSnapshot(ctx context.Context, scope ScopeID) (*RemoteSnapshot, error)

	// UpsertSnapshot создаёт или заменяет серверный снимок.
	UpsertSnapshot(ctx context.Context, scope ScopeID, snap RemoteSnapshot) (*RemoteSnapshot, error)
}
