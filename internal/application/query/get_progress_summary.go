package query

import (
	"context"
	"fmt"

	"github.com/learnpath/learnpath/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS SUMMARY QUERY
// Сводка для профиля: XP, серия, уровень, число пройденных модулей.
// Уровень не хранится, он вычисляется из XP при каждом чтении.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressSummaryQuery содержит параметры запроса.
type GetProgressSummaryQuery struct {
	// Scope - область прогресса; пустая = анонимная.
	Scope progress.ScopeID
}

// GetProgressSummaryHandler обрабатывает запрос.
type GetProgressSummaryHandler struct {
	reconciler Reconciler
}

// NewGetProgressSummaryHandler создаёт обработчик.
func NewGetProgressSummaryHandler(reconciler Reconciler) *GetProgressSummaryHandler {
	return &GetProgressSummaryHandler{reconciler: reconciler}
}

// Handle выполняет запрос. Как и GetCompletedModules, при битом серверном
// снимке возвращает сводку по локальным данным вместе с ошибкой.
func (h *GetProgressSummaryHandler) Handle(ctx context.Context, q GetProgressSummaryQuery) (*progress.Summary, error) {
	res, err := h.reconciler.Reconcile(ctx, q.Scope)
	if res == nil {
		return nil, fmt.Errorf("get_progress_summary: %w", err)
	}

	summary := res.Snapshot.Summarize()
	if err != nil {
		return &summary, fmt.Errorf("get_progress_summary: %w", err)
	}
	return &summary, nil
}
