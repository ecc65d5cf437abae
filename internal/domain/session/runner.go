package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/learnpath/learnpath/internal/domain/card"
	"github.com/learnpath/learnpath/internal/domain/progress"
	"github.com/learnpath/learnpath/internal/domain/shared"
)

// Runner - автомат состояний сессии. У него один владелец, конкурентный
// доступ не поддерживается.
type Runner struct {
	plan        *card.SessionPlan
	acc         *progress.Accumulator
	retry       RetryPolicy
	clock       func() time.Time
	transcriber Transcriber

	status    Status
	index     int
	cardState CardState
	last      *card.Evaluation
	shownAt   time.Time

	attempts       []AttemptLog
	attemptsByCard map[string]int

	onComplete CompletionFunc
	completed  bool
}

// Option настраивает Runner.
type Option func(*Runner)

// WithClock подменяет time.Now, в основном для тестов.
func WithClock(clock func() time.Time) Option {
	return func(r *Runner) { r.clock = clock }
}

// WithRetryPolicy задаёт лимит попыток на карточку.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Runner) { r.retry = p }
}

// WithXPPolicy создаёт накопитель XP с заданной политикой.
func WithXPPolicy(p progress.XPPolicy) Option {
	return func(r *Runner) { r.acc = progress.NewAccumulator(p) }
}

// WithAccumulator подставляет готовый накопитель, например при возобновлении сессии.
func WithAccumulator(acc *progress.Accumulator) Option {
	return func(r *Runner) { r.acc = acc }
}

// WithOnComplete регистрирует обработчик завершения.
func WithOnComplete(fn CompletionFunc) Option {
	return func(r *Runner) { r.onComplete = fn }
}

// WithTranscriber включает проверку голосовых ответов.
// Без него ответ, состоящий только из записи, не принимается.
func WithTranscriber(t Transcriber) Option {
	return func(r *Runner) { r.transcriber = t }
}

// NewRunner начинает сессию с первой карточки плана.
func NewRunner(plan *card.SessionPlan, opts ...Option) *Runner {
	r := &Runner{
		plan:           plan,
		retry:          DefaultRetryPolicy(),
		clock:          time.Now,
		status:         StatusRunning,
		cardState:      CardPresented,
		attemptsByCard: make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.acc == nil {
		r.acc = progress.NewAccumulator(progress.DefaultXPPolicy())
	}
	r.shownAt = r.clock()
	return r
}

// OnComplete регистрирует или заменяет обработчик завершения.
func (r *Runner) OnComplete(fn CompletionFunc) {
	r.onComplete = fn
}

// CanSubmit - можно ли отправить ответ на текущую карточку.
func (r *Runner) CanSubmit(answer card.Answer) bool {
	if r.status == StatusCompleted || r.cardState.Resolved() {
		return false
	}
	return r.current().Payload.CanSubmit(answer)
}

// Submit проверяет ответ на текущую карточку и записывает попытку.
//
// Неполный ответ даёт shared.ErrAnswerIncomplete и ничего не меняет.
// После завершения сессии или на уже решённой карточке вызов ничего не делает.
func (r *Runner) Submit(answer card.Answer) (SubmitResult, error) {
	return r.SubmitContext(context.Background(), answer)
}

// SubmitContext - Submit с контекстом для расшифровки голосового ответа.
//
// Запись без текста сначала расшифровывается. Если расшифровать нечем или
// получился пустой текст, возвращается shared.ErrArtifactUngraded, попытка не
// засчитывается и XP не начисляется.
func (r *Runner) SubmitContext(ctx context.Context, answer card.Answer) (SubmitResult, error) {
	if r.status == StatusCompleted || r.cardState.Resolved() {
		return SubmitResult{CardState: r.cardState}, nil
	}

	c := r.current()
	if !c.Payload.CanSubmit(answer) {
		return SubmitResult{CardState: r.cardState}, shared.ErrAnswerIncomplete
	}
	if card.NeedsTranscription(answer) {
		text, err := r.transcribe(ctx, c, answer.ArtifactURI)
		if err != nil {
			return SubmitResult{CardState: r.cardState}, err
		}
		answer.Text = text
	}

	r.cardState = CardChecking
	ev := c.Payload.Evaluate(answer)

	now := r.clock()
	attemptNumber := r.attemptsByCard[c.ID] + 1
	r.attemptsByCard[c.ID] = attemptNumber

	entry := AttemptLog{
		CardID:        c.ID,
		AttemptNumber: attemptNumber,
		Answer:        answer,
		IsCorrect:     ev.Correct,
		ElapsedMs:     now.Sub(r.shownAt).Milliseconds(),
		ErrorType:     ev.ErrorType,
	}
	r.shownAt = now

	var (
		res      progress.Resolution
		resolved bool
	)
	switch {
	case ev.Correct && c.Kind() == card.KindTeach:
		r.cardState, res, resolved = CardCorrectTerminal, progress.ResolvedTeach, true
	case ev.Correct:
		r.cardState, res, resolved = CardCorrectTerminal, progress.ResolvedCorrect, true
	case r.retry.exhausted(attemptNumber):
		r.cardState, res, resolved = CardExhausted, progress.ResolvedExhausted, true
	default:
		r.cardState = CardIncorrectRetry
	}

	if resolved {
		if xp, granted := r.acc.Grant(c.ID, res, attemptNumber); granted {
			entry.AwardedXP = &xp
		}
	}

	r.attempts = append(r.attempts, entry)
	r.last = &ev

	return SubmitResult{Accepted: true, Attempt: entry, CardState: r.cardState}, nil
}

// Continue засчитывает обучающую карточку и переходит дальше.
func (r *Runner) Continue() error {
	if r.status == StatusCompleted {
		return nil
	}
	if r.current().Kind() != card.KindTeach {
		return shared.ErrCardNotResolved
	}
	if _, err := r.Submit(card.Answer{}); err != nil {
		return err
	}
	return r.Advance()
}

// Advance переходит с решённой карточки. На последней карточке сессия
// завершается и обработчик вызывается ровно один раз. Дальше Advance ничего не делает.
func (r *Runner) Advance() error {
	if r.status == StatusCompleted {
		return nil
	}
	if !r.cardState.Resolved() {
		return shared.ErrCardNotResolved
	}

	if r.index < r.plan.Len()-1 {
		r.index++
		r.cardState = CardPresented
		r.last = nil
		r.shownAt = r.clock()
		return nil
	}

	r.cardState = CardAdvanced
	r.status = StatusCompleted
	r.complete()
	return nil
}

// State возвращает снимок состояния.
func (r *Runner) State() State {
	s := State{
		PlanID:         r.plan.ID(),
		Status:         r.status,
		Index:          r.index,
		Total:          r.plan.Len(),
		Card:           r.current(),
		CardState:      r.cardState,
		AttemptsOnCard: r.attemptsByCard[r.current().ID],
		XP:             r.acc.Total(),
	}
	if r.last != nil {
		ev := *r.last
		s.LastEvaluation = &ev
	}
	return s
}

// Attempts возвращает копию журнала попыток.
func (r *Runner) Attempts() []AttemptLog {
	return append([]AttemptLog(nil), r.attempts...)
}

func (r *Runner) current() card.Card {
	return r.plan.Card(r.index)
}

func (r *Runner) transcribe(ctx context.Context, c card.Card, uri string) (string, error) {
	if r.transcriber == nil {
		return "", shared.ErrArtifactUngraded
	}
	text, err := r.transcriber.Transcribe(ctx, c, uri)
	if err != nil {
		return "", fmt.Errorf("transcribe answer for card %s: %w", c.ID, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", shared.ErrArtifactUngraded
	}
	return text, nil
}

func (r *Runner) complete() {
	if r.completed {
		return
	}
	r.completed = true
	if r.onComplete == nil {
		return
	}
	r.onComplete(Completion{
		PlanID:      r.plan.ID(),
		PlanKind:    r.plan.Kind(),
		LessonID:    r.plan.LessonID(),
		Attempts:    r.Attempts(),
		XP:          r.acc.Total(),
		CompletedAt: r.clock(),
	})
}
