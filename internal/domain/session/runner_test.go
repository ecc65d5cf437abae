package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath/internal/domain/card"
	"github.com/learnpath/learnpath/internal/domain/progress"
	"github.com/learnpath/learnpath/internal/domain/shared"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func mustCard(t *testing.T, id string, p card.Payload) card.Card {
	t.Helper()
	c, err := card.New(id, p)
	require.NoError(t, err)
	return c
}

func choice(correct string) card.MultipleChoice {
	return card.MultipleChoice{
		Prompt:          "?",
		Options:         []card.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}},
		CorrectOptionID: correct,
	}
}

func newPlan(t *testing.T, cards ...card.Card) *card.SessionPlan {
	t.Helper()
	plan, err := card.NewSessionPlan(card.PlanLearn, "lesson-1", cards)
	require.NoError(t, err)
	return plan
}

func TestRunner_ThreeCardsAllCorrect(t *testing.T) {
	plan := newPlan(t,
		mustCard(t, "c1", choice("a")),
		mustCard(t, "c2", choice("b")),
		mustCard(t, "c3", choice("a")),
	)

	var calls []Completion
	r := NewRunner(plan, WithOnComplete(func(c Completion) { calls = append(calls, c) }))

	for _, opt := range []string{"a", "b", "a"} {
		res, err := r.Submit(card.Answer{OptionID: opt})
		require.NoError(t, err)
		assert.True(t, res.Accepted)
		assert.Equal(t, CardCorrectTerminal, res.CardState)
		require.NoError(t, r.Advance())
	}

	require.Len(t, calls, 1)
	done := calls[0]
	require.Len(t, done.Attempts, 3)
	for _, a := range done.Attempts {
		assert.Equal(t, 1, a.AttemptNumber)
		assert.True(t, a.IsCorrect)
		assert.Equal(t, progress.XP(10), a.XP())
	}
	assert.Equal(t, progress.XP(30), done.XP)
	assert.Equal(t, plan.ID(), done.PlanID)
	assert.Equal(t, "lesson-1", done.LessonID)
	assert.Equal(t, StatusCompleted, r.State().Status)

	// Completion is terminal.
	res, err := r.Submit(card.Answer{OptionID: "a"})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	require.NoError(t, r.Advance())
	assert.Len(t, calls, 1)
	assert.Len(t, r.Attempts(), 3)
}

func TestRunner_IncorrectThenCorrect(t *testing.T) {
	plan := newPlan(t, mustCard(t, "c1", choice("a")), mustCard(t, "c2", choice("a")))
	r := NewRunner(plan)

	res, err := r.Submit(card.Answer{OptionID: "b"})
	require.NoError(t, err)
	assert.Equal(t, CardIncorrectRetry, res.CardState)
	assert.Equal(t, card.ErrorWrongOption, res.Attempt.ErrorType)
	assert.Nil(t, res.Attempt.AwardedXP)

	st := r.State()
	assert.Equal(t, 0, st.Index, "stays on the card")
	assert.Equal(t, 1, st.AttemptsOnCard)
	require.NotNil(t, st.LastEvaluation)
	assert.False(t, st.LastEvaluation.Correct)

	assert.ErrorIs(t, r.Advance(), shared.ErrCardNotResolved)

	res, err = r.Submit(card.Answer{OptionID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempt.AttemptNumber)
	assert.Equal(t, CardCorrectTerminal, res.CardState)
	require.NotNil(t, res.Attempt.AwardedXP)
	assert.Equal(t, progress.XP(5), *res.Attempt.AwardedXP)

	require.NoError(t, r.Advance())
	st = r.State()
	assert.Equal(t, 1, st.Index)
	assert.Equal(t, CardPresented, st.CardState)
	assert.Nil(t, st.LastEvaluation, "transient state resets on advance")
	assert.Equal(t, 0, st.AttemptsOnCard)
}

func TestRunner_DuplicateSubmitIsIgnored(t *testing.T) {
	r := NewRunner(newPlan(t, mustCard(t, "c1", choice("a"))))

	_, err := r.Submit(card.Answer{OptionID: "a"})
	require.NoError(t, err)

	res, err := r.Submit(card.Answer{OptionID: "a"})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Len(t, r.Attempts(), 1)
	assert.Equal(t, progress.XP(10), r.State().XP)
}

func TestRunner_RejectsIncompleteAnswer(t *testing.T) {
	r := NewRunner(newPlan(t, mustCard(t, "c1", choice("a"))))

	assert.False(t, r.CanSubmit(card.Answer{}))
	res, err := r.Submit(card.Answer{})
	assert.ErrorIs(t, err, shared.ErrAnswerIncomplete)
	assert.True(t, shared.IsValidation(err))
	assert.False(t, res.Accepted)
	assert.Equal(t, CardPresented, r.State().CardState)
	assert.Empty(t, r.Attempts())
}

func TestRunner_ExhaustsAfterMaxAttempts(t *testing.T) {
	r := NewRunner(
		newPlan(t, mustCard(t, "c1", choice("a"))),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2}),
	)

	res, _ := r.Submit(card.Answer{OptionID: "b"})
	assert.Equal(t, CardIncorrectRetry, res.CardState)

	res, _ = r.Submit(card.Answer{OptionID: "b"})
	assert.Equal(t, CardExhausted, res.CardState)
	require.NotNil(t, res.Attempt.AwardedXP, "final attempt records the grant")
	assert.Equal(t, progress.XP(0), *res.Attempt.AwardedXP)

	var done int
	r.OnComplete(func(Completion) { done++ })
	require.NoError(t, r.Advance())
	assert.Equal(t, 1, done)
}

func TestRunner_TeachCardContinue(t *testing.T) {
	plan := newPlan(t,
		mustCard(t, "t1", card.Teach{Title: "Greetings"}),
		mustCard(t, "c1", choice("a")),
	)
	r := NewRunner(plan)

	assert.True(t, r.CanSubmit(card.Answer{}))
	require.NoError(t, r.Continue())
	assert.Equal(t, 1, r.State().Index)

	attempts := r.Attempts()
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].IsCorrect)

	assert.ErrorIs(t, r.Continue(), shared.ErrCardNotResolved, "continue is only for teach cards")
}

func TestRunner_ElapsedTime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	r := NewRunner(newPlan(t, mustCard(t, "c1", choice("a"))), WithClock(clock.Now))

	clock.Advance(1500 * time.Millisecond)
	res, _ := r.Submit(card.Answer{OptionID: "b"})
	assert.Equal(t, int64(1500), res.Attempt.ElapsedMs)

	clock.Advance(700 * time.Millisecond)
	res, _ = r.Submit(card.Answer{OptionID: "a"})
	assert.Equal(t, int64(700), res.Attempt.ElapsedMs)
}

func TestRunner_FreeTextCard(t *testing.T) {
	r := NewRunner(newPlan(t, mustCard(t, "f1", card.FillBlank{Sentence: "_ mundo", AcceptedAnswers: []string{"Hola"}})))

	_, err := r.Submit(card.Answer{Text: "  "})
	assert.ErrorIs(t, err, shared.ErrAnswerIncomplete)

	res, err := r.Submit(card.Answer{Text: "hola"})
	require.NoError(t, err)
	assert.True(t, res.Attempt.IsCorrect)
}

func listening(t *testing.T) *card.SessionPlan {
	t.Helper()
	return newPlan(t, mustCard(t, "l1", card.Listening{AudioRef: "a.mp3", Transcript: "bonjour"}))
}

func TestRunner_ArtifactWithoutTranscriberIsRejected(t *testing.T) {
	r := NewRunner(listening(t))

	res, err := r.Submit(card.Answer{ArtifactURI: "file://anything.wav"})
	assert.ErrorIs(t, err, shared.ErrArtifactUngraded)
	assert.False(t, res.Accepted)
	assert.Equal(t, CardPresented, r.State().CardState)
	assert.Empty(t, r.Attempts())
	assert.Equal(t, progress.XP(0), r.State().XP)
}

func TestRunner_ArtifactIsTranscribedBeforeGrading(t *testing.T) {
	var heard []string
	transcriber := TranscriberFunc(func(_ context.Context, c card.Card, uri string) (string, error) {
		heard = append(heard, c.ID+" "+uri)
		if uri == "file://right.wav" {
			return "Bonjour!", nil
		}
		return "bonsoir", nil
	})
	r := NewRunner(listening(t), WithTranscriber(transcriber))

	res, err := r.Submit(card.Answer{ArtifactURI: "file://wrong.wav"})
	require.NoError(t, err)
	assert.Equal(t, CardIncorrectRetry, res.CardState)
	assert.Equal(t, "bonsoir", res.Attempt.Answer.Text)

	res, err = r.Submit(card.Answer{ArtifactURI: "file://right.wav"})
	require.NoError(t, err)
	assert.Equal(t, CardCorrectTerminal, res.CardState)
	assert.Equal(t, progress.XP(5), r.State().XP)
	assert.Equal(t, []string{"l1 file://wrong.wav", "l1 file://right.wav"}, heard)
}

func TestRunner_TranscriptionFailureLeavesCardOpen(t *testing.T) {
	boom := errors.New("recognizer offline")
	calls := 0
	r := NewRunner(listening(t), WithTranscriber(TranscriberFunc(func(context.Context, card.Card, string) (string, error) {
		calls++
		if calls == 1 {
			return "", boom
		}
		return "  ", nil
	})))

	_, err := r.Submit(card.Answer{ArtifactURI: "file://rec.wav"})
	assert.ErrorIs(t, err, boom)

	_, err = r.Submit(card.Answer{ArtifactURI: "file://rec.wav"})
	assert.ErrorIs(t, err, shared.ErrArtifactUngraded)

	assert.Empty(t, r.Attempts())
	assert.Equal(t, CardPresented, r.State().CardState)
}

func TestRetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		policy    RetryPolicy
		attempt   int
		exhausted bool
	}{
		{"zero value uses default", RetryPolicy{}, 2, false},
		{"zero value exhausts at three", RetryPolicy{}, 3, true},
		{"explicit limit", RetryPolicy{MaxAttempts: 1}, 1, true},
		{"unlimited", RetryPolicy{MaxAttempts: UnlimitedAttempts}, 100, false},
		{"limit from config", AttemptLimit(4), 4, true},
		{"zero from config is unlimited", AttemptLimit(0), 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.exhausted, tt.policy.exhausted(tt.attempt))
		})
	}
}
