// Package session проводит ученика по SessionPlan, по одной карточке за раз.
package session

import (
	"context"
	"time"

	"github.com/learnpath/learnpath/internal/domain/card"
	"github.com/learnpath/learnpath/internal/domain/progress"
)

// CardState - положение карточки в автомате:
//
//	Presented -> Checking -> CorrectTerminal | IncorrectRetry | Exhausted -> Advanced
//
// Из IncorrectRetry следующий ответ снова проходит через Checking.
type CardState string

const (
	CardPresented       CardState = "presented"
	CardChecking        CardState = "checking"
	CardCorrectTerminal CardState = "correct"
	CardIncorrectRetry  CardState = "incorrect_retry"
	CardExhausted       CardState = "exhausted"
	CardAdvanced        CardState = "advanced"
)

// Resolved - с карточки можно перейти дальше.
func (s CardState) Resolved() bool {
	return s == CardCorrectTerminal || s == CardExhausted
}

// Status - состояние всей сессии.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// AttemptLog - запись об одном ответе.
type AttemptLog struct {
	CardID        string         `json:"cardId"`
	AttemptNumber int            `json:"attemptNumber"`
	Answer        card.Answer    `json:"answer"`
	IsCorrect     bool           `json:"isCorrect"`
	ElapsedMs     int64          `json:"elapsedMs"`
	ErrorType     card.ErrorType `json:"errorType,omitempty"`
	AwardedXP     *progress.XP   `json:"awardedXp,omitempty"`
}

// XP возвращает начисленный за попытку XP или 0.
func (a AttemptLog) XP() progress.XP {
	if a.AwardedXP == nil {
		return 0
	}
	return *a.AwardedXP
}

// State - снимок состояния Runner.
type State struct {
	PlanID         string
	Status         Status
	Index          int
	Total          int
	Card           card.Card
	CardState      CardState
	AttemptsOnCard int
	LastEvaluation *card.Evaluation
	XP             progress.XP
}

// IsLastCard - текущая карточка последняя в плане.
func (s State) IsLastCard() bool {
	return s.Index == s.Total-1
}

// SubmitResult - что сделал вызов Submit.
type SubmitResult struct {
	// Accepted == false, если вызов ничего не изменил: сессия завершена или карточка уже решена.
	Accepted  bool
	Attempt   AttemptLog
	CardState CardState
}

// Completion передаётся в обработчик завершения.
type Completion struct {
	PlanID      string
	PlanKind    card.PlanKind
	LessonID    string
	Attempts    []AttemptLog
	XP          progress.XP
	CompletedAt time.Time
}

// CompletionFunc вызывается ровно один раз, после перехода с последней карточки.
type CompletionFunc func(Completion)

// UnlimitedAttempts снимает ограничение попыток.
const UnlimitedAttempts = -1

// RetryPolicy ограничивает число ответов на карточку.
type RetryPolicy struct {
	// MaxAttempts - сколько ответов допускается до исчерпания карточки.
	// 0 - значение по умолчанию, UnlimitedAttempts - без ограничения.
	MaxAttempts int
}

// DefaultRetryPolicy - три попытки на карточку.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3}
}

// AttemptLimit строит политику из настройки, где 0 означает "без ограничения".
func AttemptLimit(n int) RetryPolicy {
	if n <= 0 {
		return RetryPolicy{MaxAttempts: UnlimitedAttempts}
	}
	return RetryPolicy{MaxAttempts: n}
}

// IsZero - политика не задана.
func (p RetryPolicy) IsZero() bool {
	return p.MaxAttempts == 0
}

func (p RetryPolicy) exhausted(attemptNumber int) bool {
	if p.IsZero() {
		p = DefaultRetryPolicy()
	}
	return p.MaxAttempts > 0 && attemptNumber >= p.MaxAttempts
}

// ══════════════════════════════════════════════════════════════════════════════
// РАСШИФРОВКА ЗАПИСЕЙ
// ══════════════════════════════════════════════════════════════════════════════

// Transcriber превращает голосовую запись ответа в текст для проверки.
type Transcriber interface {
	Transcribe(ctx context.Context, c card.Card, artifactURI string) (string, error)
}

// TranscriberFunc адаптирует функцию к Transcriber.
type TranscriberFunc func(ctx context.Context, c card.Card, artifactURI string) (string, error)

// Transcribe вызывает f.
func (f TranscriberFunc) Transcribe(ctx context.Context, c card.Card, artifactURI string) (string, error) {
	return f(ctx, c, artifactURI)
}
