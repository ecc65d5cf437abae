package card

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath/internal/domain/shared"
)

func mcq() MultipleChoice {
	return MultipleChoice{
		Prompt:          "Pick the greeting",
		Options:         []Option{{ID: "a", Text: "Hola"}, {ID: "b", Text: "Adiós"}},
		CorrectOptionID: "a",
	}
}

func TestCanSubmit(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		answer  Answer
		want    bool
	}{
		{"teach without answer", Teach{Title: "Intro"}, Answer{}, true},
		{"mcq without selection", mcq(), Answer{}, false},
		{"mcq with selection", mcq(), Answer{OptionID: "b"}, true},
		{"fill blank options without selection", FillBlank{Sentence: "_ mundo", Options: mcq().Options, CorrectOptionID: "a"}, Answer{Text: "hola"}, false},
		{"fill blank options with selection", FillBlank{Sentence: "_ mundo", Options: mcq().Options, CorrectOptionID: "a"}, Answer{OptionID: "a"}, true},
		{"fill blank text blank", FillBlank{Sentence: "_ mundo", AcceptedAnswers: []string{"hola"}}, Answer{Text: "   "}, false},
		{"fill blank text", FillBlank{Sentence: "_ mundo", AcceptedAnswers: []string{"hola"}}, Answer{Text: "hola"}, true},
		{"translate empty", Translate{Source: "hello", AcceptedAnswers: []string{"hola"}}, Answer{}, false},
		{"translate artifact", Translate{Source: "hello", AcceptedAnswers: []string{"hola"}}, Answer{ArtifactURI: "file://rec.m4a"}, true},
		{"listening transcription", Listening{AudioRef: "a.mp3", Transcript: "buenos días"}, Answer{Text: "buenos dias"}, true},
		{"listening empty", Listening{AudioRef: "a.mp3", Transcript: "buenos días"}, Answer{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.payload.CanSubmit(tt.answer))
		})
	}
}

func TestEvaluate(t *testing.T) {
	t.Run("multiple choice", func(t *testing.T) {
		assert.True(t, mcq().Evaluate(Answer{OptionID: "a"}).Correct)
		ev := mcq().Evaluate(Answer{OptionID: "b"})
		assert.False(t, ev.Correct)
		assert.Equal(t, ErrorWrongOption, ev.ErrorType)
	})

	t.Run("free text is normalized", func(t *testing.T) {
		p := Translate{Source: "Good morning", AcceptedAnswers: []string{"Buenos días"}}
		assert.True(t, p.Evaluate(Answer{Text: "  buenos   DÍAS! "}).Correct)
		ev := p.Evaluate(Answer{Text: "buenas noches"})
		assert.False(t, ev.Correct)
		assert.Equal(t, ErrorWrongText, ev.ErrorType)
	})

	t.Run("listening accepts transcript", func(t *testing.T) {
		p := Listening{AudioRef: "a.mp3", Transcript: "Me llamo Ana."}
		assert.True(t, p.Evaluate(Answer{Text: "me llamo ana"}).Correct)
	})

	t.Run("artifact without transcription is not graded", func(t *testing.T) {
		rec := Answer{ArtifactURI: "file://anything.wav"}
		for _, p := range []Payload{
			Listening{AudioRef: "a.mp3", Transcript: "bonjour"},
			Translate{Source: "hello", AcceptedAnswers: []string{"bonjour"}},
		} {
			assert.True(t, NeedsTranscription(rec))
			ev := p.Evaluate(rec)
			assert.False(t, ev.Correct, p.Kind())
			assert.Equal(t, ErrorUngraded, ev.ErrorType, p.Kind())
		}
	})

	t.Run("transcribed artifact is compared", func(t *testing.T) {
		p := Listening{AudioRef: "a.mp3", Transcript: "bonjour"}
		rec := Answer{ArtifactURI: "file://rec.m4a", Text: "Bonjour."}
		assert.False(t, NeedsTranscription(rec))
		assert.True(t, p.Evaluate(rec).Correct)
		assert.False(t, p.Evaluate(Answer{ArtifactURI: "file://rec.m4a", Text: "bonsoir"}).Correct)
	})
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Hello,  World! ", "hello, world"},
		{" ?! ", ""},
		{"Me llamo Ana.", "me llamo ana"},
		{"C#", "c#"},
		{"«hola»", "«hola»"},
		{"what?!", "what"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), tt.in)
	}
}

func TestEvaluate_SymbolsAreSignificant(t *testing.T) {
	p := FillBlank{Sentence: "I write _ code", AcceptedAnswers: []string{"C"}}
	ev := p.Evaluate(Answer{Text: "C#"})
	assert.False(t, ev.Correct)
	assert.Equal(t, ErrorWrongText, ev.ErrorType)
	assert.True(t, p.Evaluate(Answer{Text: "c."}).Correct)
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", Teach{Title: "x"})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))

	bad := mcq()
	bad.CorrectOptionID = "z"
	_, err = New("c1", bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidCardPayload))

	_, err = New("c2", MultipleChoice{Prompt: "p", Options: []Option{{ID: "a", Text: "A"}}, CorrectOptionID: "a"})
	assert.ErrorIs(t, err, shared.ErrInvalidCardPayload)

	_, err = New("c3", FillBlank{Sentence: "_"})
	assert.ErrorIs(t, err, shared.ErrInvalidCardPayload)
}

func TestDecode(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		c, err := New("c1", mcq())
		require.NoError(t, err)

		data, err := json.Marshal(c)
		require.NoError(t, err)

		decoded, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, c, decoded)
		assert.Equal(t, KindMultipleChoice, decoded.Kind())
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := Decode([]byte(`{"id":"c1","kind":"speaking","payload":{}}`))
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrUnknownCardKind)
		assert.True(t, shared.IsDataError(err))
	})

	t.Run("unknown payload field", func(t *testing.T) {
		_, err := Decode([]byte(`{"id":"c1","kind":"teach","payload":{"title":"x","video":"y"}}`))
		assert.ErrorIs(t, err, shared.ErrInvalidCardPayload)
	})

	t.Run("malformed envelope", func(t *testing.T) {
		_, err := Decode([]byte(`{"id":`))
		assert.True(t, shared.IsDataError(err))
	})
}

func TestSessionPlan(t *testing.T) {
	teach, err := New("t1", Teach{Title: "Intro"})
	require.NoError(t, err)
	q, err := New("q1", mcq())
	require.NoError(t, err)

	plan, err := NewSessionPlan(PlanLearn, "lesson-1", []Card{teach, q})
	require.NoError(t, err)
	assert.NotEmpty(t, plan.ID())
	assert.Equal(t, 2, plan.Len())
	assert.Equal(t, "q1", plan.Card(1).ID)

	cards := plan.Cards()
	cards[0] = q
	assert.Equal(t, "t1", plan.Card(0).ID, "plan must not share its backing array")

	_, err = NewSessionPlan(PlanLearn, "", []Card{teach})
	assert.ErrorIs(t, err, shared.ErrInvalidPlan)

	_, err = NewSessionPlan(PlanReview, "", nil)
	assert.ErrorIs(t, err, shared.ErrInvalidPlan)

	_, err = NewSessionPlan(PlanReview, "", []Card{teach, teach})
	assert.ErrorIs(t, err, shared.ErrInvalidPlan)
}

func TestDecodeSessionPlan(t *testing.T) {
	data := []byte(`{
		"kind": "review",
		"cards": [
			{"id": "t1", "kind": "teach", "payload": {"title": "Recap"}},
			{"id": "f1", "kind": "fill_blank", "payload": {"sentence": "_ mundo", "acceptedAnswers": ["hola"]}}
		]
	}`)

	plan, err := DecodeSessionPlan(data)
	require.NoError(t, err)
	assert.Equal(t, PlanReview, plan.Kind())
	assert.Equal(t, KindFillBlank, plan.Card(1).Kind())

	_, err = DecodeSessionPlan([]byte(`{"kind":"review","cards":[{"id":"x","kind":"karaoke","payload":{}}]}`))
	assert.ErrorIs(t, err, shared.ErrUnknownCardKind)
}
