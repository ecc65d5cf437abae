// Package query contains read operations (CQRS - Queries).
// Каждое чтение прогресса проходит через сверку с сервером.
package query

import (
	"context"
	"fmt"

	"github.com/learnpath/learnpath/internal/application/reconcile"
	"github.com/learnpath/learnpath/internal/domain/progress"
)

// Reconciler - источник сверенного снимка.
type Reconciler interface {
	Reconcile(ctx context.Context, scope progress.ScopeID) (*reconcile.Result, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// GET COMPLETED MODULES QUERY
// Возвращает пройденные модули области после сверки локального кэша с сервером.
// Ошибки сети не возвращаются: при недоступности сервера отдаются локальные данные.
// ══════════════════════════════════════════════════════════════════════════════

// GetCompletedModulesQuery содержит параметры запроса.
type GetCompletedModulesQuery struct {
	// Scope - область прогресса; пустая = анонимная.
	Scope progress.ScopeID
}

// CompletedModulesDTO - пройденные модули.
type CompletedModulesDTO struct {
	// ScopeID - область.
	ScopeID progress.ScopeID `json:"scopeId"`

	// Modules - отсортированный список модулей.
	Modules []string `json:"modules"`

	// Version - версия снимка.
	Version int64 `json:"version"`

	// Outcome - какая ветка сверки сработала.
	Outcome reconcile.Outcome `json:"outcome"`
}

// GetCompletedModulesHandler обрабатывает запрос.
type GetCompletedModulesHandler struct {
	reconciler Reconciler
}

// NewGetCompletedModulesHandler создаёт обработчик.
func NewGetCompletedModulesHandler(reconciler Reconciler) *GetCompletedModulesHandler {
	return &GetCompletedModulesHandler{reconciler: reconciler}
}

// Handle выполняет запрос. Если сервер прислал битый снимок, возвращаются
// локальные данные вместе с ошибкой shared.ErrMalformedSnapshot.
func (h *GetCompletedModulesHandler) Handle(ctx context.Context, q GetCompletedModulesQuery) (*CompletedModulesDTO, error) {
	res, err := h.reconciler.Reconcile(ctx, q.Scope)
	if res == nil {
		return nil, fmt.Errorf("get_completed_modules: %w", err)
	}

	dto := &CompletedModulesDTO{
		ScopeID: q.Scope.Normalize(),
		Modules: res.Snapshot.Modules(),
		Version: res.Snapshot.Version,
		Outcome: res.Outcome,
	}
	if err != nil {
		return dto, fmt.Errorf("get_completed_modules: %w", err)
	}
	return dto, nil
}
