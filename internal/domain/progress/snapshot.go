package progress

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/learnpath/learnpath/internal/domain/shared"
	"github.com/learnpath/learnpath/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCOPE
// ══════════════════════════════════════════════════════════════════════════════

// ScopeID - область, к которой относится прогресс.
type ScopeID string

// AnonymousScope - область неавторизованного пользователя, живёт только на устройстве.
const AnonymousScope ScopeID = "anonymous"

// CacheKeyPrefix - префикс ключа снимка в локальном хранилище.
const CacheKeyPrefix = "progress:"

// ScopeFor возвращает область для ID пользователя; пустой ID даёт AnonymousScope.
func ScopeFor(userID string) ScopeID {
	id := strings.TrimSpace(userID)
	if id == "" {
		return AnonymousScope
	}
	return ScopeID(id)
}

// IsLocalOnly проверяет, что область не синхронизируется с сервером.
func (s ScopeID) IsLocalOnly() bool {
	return s == "" || s == AnonymousScope
}

// Normalize заменяет пустую область на AnonymousScope.
func (s ScopeID) Normalize() ScopeID {
	if s == "" {
		return AnonymousScope
	}
	return s
}

// CacheKey возвращает ключ "progress:<scopeId>".
func (s ScopeID) CacheKey() string {
	return CacheKeyPrefix + string(s.Normalize())
}

// String возвращает строковое представление.
func (s ScopeID) String() string {
	return string(s.Normalize())
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - снимок прогресса одной области.
type Snapshot struct {
	// ScopeID - область снимка.
	ScopeID ScopeID

	// CompletedModules - множество пройденных модулей.
	CompletedModules map[string]struct{}

	// XP - накопленные очки опыта.
	XP XP

	// Streak - текущая серия активных дней.
	Streak int

	// LastActiveDay - последний активный день (YYYY-MM-DD), пусто если активности не было.
	LastActiveDay string

	// UpdatedAt - время последнего изменения (UTC, точность до миллисекунд).
	UpdatedAt time.Time

	// Version - логические часы снимка, только растут.
	Version int64
}

// NewSnapshot создаёт пустой снимок с версией 0.
func NewSnapshot(scope ScopeID) *Snapshot {
	return &Snapshot{
		ScopeID:          scope.Normalize(),
		CompletedModules: make(map[string]struct{}),
	}
}

// Clone возвращает глубокую копию.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.CompletedModules = make(map[string]struct{}, len(s.CompletedModules))
	for m := range s.CompletedModules {
		c.CompletedModules[m] = struct{}{}
	}
	return &c
}

// IsEmpty проверяет, что снимок ни разу не изменялся.
func (s *Snapshot) IsEmpty() bool {
	return s.Version == 0 && s.UpdatedAt.IsZero() && len(s.CompletedModules) == 0
}

// HasModule проверяет, пройден ли модуль.
func (s *Snapshot) HasModule(moduleID string) bool {
	_, ok := s.CompletedModules[moduleID]
	return ok
}

// Modules возвращает пройденные модули в отсортированном порядке.
func (s *Snapshot) Modules() []string {
	out := make([]string, 0, len(s.CompletedModules))
	for m := range s.CompletedModules {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Touch увеличивает версию и обновляет UpdatedAt.
func (s *Snapshot) Touch(now time.Time) {
	s.Version++
	s.UpdatedAt = normalizeTime(now)
}

// MarkModuleCompleted добавляет модуль в множество.
// Повторное добавление ничего не меняет и возвращает false.
func (s *Snapshot) MarkModuleCompleted(moduleID string, now time.Time) (bool, error) {
	moduleID = strings.TrimSpace(moduleID)
	if moduleID == "" {
		return false, shared.ErrInvalidModuleID
	}
	if s.CompletedModules == nil {
		s.CompletedModules = make(map[string]struct{})
	}
	if s.HasModule(moduleID) {
		return false, nil
	}
	s.CompletedModules[moduleID] = struct{}{}
	s.Touch(now)
	return true, nil
}

// Compare сравнивает пары (Version, UpdatedAt) лексикографически.
// Возвращает -1, 0 или 1.
func (s *Snapshot) Compare(other *Snapshot) int {
	switch {
	case s.Version < other.Version:
		return -1
	case s.Version > other.Version:
		return 1
	case s.UpdatedAt.Before(other.UpdatedAt):
		return -1
	case s.UpdatedAt.After(other.UpdatedAt):
		return 1
	}
	return 0
}

// IsNewerThan - строго больше по (Version, UpdatedAt).
func (s *Snapshot) IsNewerThan(other *Snapshot) bool {
	return s.Compare(other) > 0
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOCAL WIRE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

type snapshotJSON struct {
	ScopeID          ScopeID  `json:"scopeId"`
	CompletedModules []string `json:"completedModules"`
	XP               XP       `json:"xp"`
	Streak           int      `json:"streak"`
	LastActiveDay    string   `json:"lastActiveDay,omitempty"`
	UpdatedAt        string   `json:"updatedAt,omitempty"`
	Version          int64    `json:"version"`
}

// MarshalJSON сериализует снимок с отсортированным списком модулей,
// чтобы повторная запись давала те же байты.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	raw := snapshotJSON{
		ScopeID:          s.ScopeID.Normalize(),
		CompletedModules: s.Modules(),
		XP:               s.XP,
		Streak:           s.Streak,
		LastActiveDay:    s.LastActiveDay,
		Version:          s.Version,
	}
	if !s.UpdatedAt.IsZero() {
		raw.UpdatedAt = timeutil.FormatRFC3339(s.UpdatedAt)
	}
	return json.Marshal(raw)
}

// UnmarshalJSON разбирает снимок и проверяет инварианты.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return shared.WrapError("progress", "Decode", shared.ErrInvalidFormat, "malformed local snapshot", err)
	}
	snap := NewSnapshot(raw.ScopeID)
	snap.XP = raw.XP
	snap.Streak = raw.Streak
	snap.LastActiveDay = raw.LastActiveDay
	snap.Version = raw.Version
	for _, m := range raw.CompletedModules {
		snap.CompletedModules[m] = struct{}{}
	}
	if raw.UpdatedAt != "" {
		t, err := timeutil.ParseRFC3339(raw.UpdatedAt)
		if err != nil {
			return shared.WrapError("progress", "Decode", shared.ErrInvalidFormat, "bad updatedAt", err)
		}
		snap.UpdatedAt = normalizeTime(t)
	}
	if err := snap.validate(); err != nil {
		return err
	}
	*s = *snap
	return nil
}

func (s *Snapshot) validate() error {
	if s.Version < 0 {
		return shared.WrapError("progress", "Decode", shared.ErrInvalidFormat,
			fmt.Sprintf("negative version %d", s.Version), shared.ErrMalformedSnapshot)
	}
	if !s.XP.IsValid() || s.Streak < 0 {
		return shared.WrapError("progress", "Decode", shared.ErrInvalidFormat,
			"negative xp or streak", shared.ErrMalformedSnapshot)
	}
	for m := range s.CompletedModules {
		if strings.TrimSpace(m) == "" {
			return shared.WrapError("progress", "Decode", shared.ErrInvalidFormat,
				"empty module id", shared.ErrMalformedSnapshot)
		}
	}
	if s.LastActiveDay != "" {
		if _, err := time.Parse(timeutil.DayLayout, s.LastActiveDay); err != nil {
			return shared.WrapError("progress", "Decode", shared.ErrInvalidFormat,
				"bad lastActiveDay", shared.ErrMalformedSnapshot)
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REMOTE WIRE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

// RemoteSnapshot - формат снимка на стороне сервера.
// Поля XP, Streak и LastActiveDay необязательны: сервер может хранить только завершения.
type RemoteSnapshot struct {
	CompletedModules []string `json:"completedModules"`
	UpdatedAt        string   `json:"updatedAt"`
	Version          int64    `json:"version"`
	XP               *XP      `json:"xp,omitempty"`
	Streak           *int     `json:"streak,omitempty"`
	LastActiveDay    string   `json:"lastActiveDay,omitempty"`
}

// FromSnapshot готовит снимок к отправке на сервер.
func FromSnapshot(s *Snapshot) RemoteSnapshot {
	xp, streak := s.XP, s.Streak
	r := RemoteSnapshot{
		CompletedModules: s.Modules(),
		Version:          s.Version,
		XP:               &xp,
		Streak:           &streak,
		LastActiveDay:    s.LastActiveDay,
	}
	if !s.UpdatedAt.IsZero() {
		r.UpdatedAt = timeutil.FormatRFC3339(s.UpdatedAt)
	}
	return r
}

// ToSnapshot превращает серверный снимок в доменный.
// Если сервер не прислал XP или серию, берутся значения из fallback (может быть nil).
// Нарушение контракта возвращает ошибку с shared.ErrMalformedSnapshot.
func (r RemoteSnapshot) ToSnapshot(scope ScopeID, fallback *Snapshot) (*Snapshot, error) {
	snap := NewSnapshot(scope)
	snap.Version = r.Version

	t, err := timeutil.ParseRFC3339(r.UpdatedAt)
	if err != nil {
		return nil, shared.WrapError("progress", "DecodeRemote", shared.ErrInvalidFormat,
			fmt.Sprintf("bad updatedAt %q", r.UpdatedAt), shared.ErrMalformedSnapshot)
	}
	snap.UpdatedAt = normalizeTime(t)

	for _, m := range r.CompletedModules {
		snap.CompletedModules[m] = struct{}{}
	}

	switch {
	case r.XP != nil:
		snap.XP = *r.XP
	case fallback != nil:
		snap.XP = fallback.XP
	}
	switch {
	case r.Streak != nil:
		snap.Streak = *r.Streak
		snap.LastActiveDay = r.LastActiveDay
	case fallback != nil:
		snap.Streak = fallback.Streak
		snap.LastActiveDay = fallback.LastActiveDay
	}

	if err := snap.validate(); err != nil {
		return nil, err
	}
	return snap, nil
}
