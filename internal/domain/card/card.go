// Package card описывает карточки-упражнения, из которых собирается сессия.
//
// Card - размеченное объединение: Kind выбирает вариант Payload, а каждый
// вариант сам решает, можно ли отправить ответ и верен ли он.
package card

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/learnpath/learnpath/internal/domain/shared"
)

// Kind - тип карточки.
type Kind string

const (
	KindTeach          Kind = "teach"
	KindMultipleChoice Kind = "multiple_choice"
	KindFillBlank      Kind = "fill_blank"
	KindTranslate      Kind = "translate"
	KindListening      Kind = "listening"
)

// IsValid проверяет, что тип известен.
func (k Kind) IsValid() bool {
	switch k {
	case KindTeach, KindMultipleChoice, KindFillBlank, KindTranslate, KindListening:
		return true
	}
	return false
}

// String возвращает имя типа.
func (k Kind) String() string {
	return string(k)
}

// Answer - ответ ученика на текущую карточку.
// Какие поля важны, зависит от типа карточки. ArtifactURI указывает на запись
// голоса; оценить её можно только после расшифровки в Text.
type Answer struct {
	OptionID    string `json:"optionId,omitempty"`
	Text        string `json:"text,omitempty"`
	ArtifactURI string `json:"artifactUri,omitempty"`
}

// ErrorType - вид ошибки в ответе.
type ErrorType string

const (
	ErrorNone        ErrorType = ""
	ErrorWrongOption ErrorType = "wrong_option"
	ErrorWrongText   ErrorType = "wrong_text"
	// ErrorUngraded - есть только запись без расшифровки, сравнивать нечего.
	ErrorUngraded    ErrorType = "ungraded"
)

// Evaluation - результат проверки ответа.
type Evaluation struct {
	Correct   bool
	ErrorType ErrorType
}

func correct() Evaluation { return Evaluation{Correct: true} }

func incorrect(t ErrorType) Evaluation { return Evaluation{ErrorType: t} }

// Payload реализуют только варианты из этого пакета.
type Payload interface {
	Kind() Kind
	// CanSubmit - достаточно ли ответа, чтобы его проверять.
	CanSubmit(a Answer) bool
	// Evaluate сравнивает ответ с ожидаемым.
	Evaluate(a Answer) Evaluation

	sealed()
}

// Card - одно упражнение. После сборки плана карточки не меняются.
type Card struct {
	ID      string
	Payload Payload
}

// Kind возвращает тип карточки.
func (c Card) Kind() Kind {
	if c.Payload == nil {
		return ""
	}
	return c.Payload.Kind()
}

// New создаёт карточку и валидирует её.
func New(id string, payload Payload) (Card, error) {
	c := Card{ID: id, Payload: payload}
	if err := c.Validate(); err != nil {
		return Card{}, err
	}
	return c, nil
}

// Validate проверяет идентификатор и содержимое карточки.
func (c Card) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return shared.WrapError("card", "Validate", shared.ErrInvalidID, "card id is required", shared.ErrEmptyValue)
	}
	if c.Payload == nil {
		return shared.WrapError("card", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("card %s has no payload", c.ID), shared.ErrInvalidCardPayload)
	}
	if err := validate.Struct(c.Payload); err != nil {
		return shared.WrapError("card", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("card %s (%s)", c.ID, c.Kind()), fmt.Errorf("%w: %v", shared.ErrInvalidCardPayload, err))
	}
	if v, ok := c.Payload.(interface{ check() error }); ok {
		if err := v.check(); err != nil {
			return shared.WrapError("card", "Validate", shared.ErrInvalidInput,
				fmt.Sprintf("card %s (%s)", c.ID, c.Kind()), fmt.Errorf("%w: %v", shared.ErrInvalidCardPayload, err))
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ВАРИАНТЫ
// ══════════════════════════════════════════════════════════════════════════════

// Option - вариант для выбора.
type Option struct {
	ID   string `json:"id" validate:"required"`
	Text string `json:"text" validate:"required"`
}

// Teach показывает материал. На неё не отвечают, её продолжают.
type Teach struct {
	Title string `json:"title" validate:"required"`
	Body  string `json:"body"`
}

func (Teach) Kind() Kind { return KindTeach }

// CanSubmit всегда true.
func (Teach) CanSubmit(Answer) bool { return true }

func (Teach) Evaluate(Answer) Evaluation { return correct() }

func (Teach) sealed() {}

// MultipleChoice - выбор одного варианта.
type MultipleChoice struct {
	Prompt          string   `json:"prompt" validate:"required"`
	Options         []Option `json:"options" validate:"min=2,dive"`
	CorrectOptionID string   `json:"correctOptionId" validate:"required"`
}

func (MultipleChoice) Kind() Kind { return KindMultipleChoice }

func (p MultipleChoice) CanSubmit(a Answer) bool {
	return a.OptionID != ""
}

func (p MultipleChoice) Evaluate(a Answer) Evaluation {
	if a.OptionID == p.CorrectOptionID {
		return correct()
	}
	return incorrect(ErrorWrongOption)
}

func (p MultipleChoice) check() error {
	return checkOptions(p.Options, p.CorrectOptionID)
}

func (MultipleChoice) sealed() {}

// FillBlank - заполнить пропуск выбором или свободным текстом.
type FillBlank struct {
	Sentence        string   `json:"sentence" validate:"required"`
	Options         []Option `json:"options,omitempty" validate:"omitempty,min=2,dive"`
	CorrectOptionID string   `json:"correctOptionId,omitempty"`
	AcceptedAnswers []string `json:"acceptedAnswers,omitempty" validate:"dive,required"`
}

func (FillBlank) Kind() Kind { return KindFillBlank }

// HasOptions - пропуск заполняется выбором.
func (p FillBlank) HasOptions() bool {
	return len(p.Options) > 0
}

func (p FillBlank) CanSubmit(a Answer) bool {
	if p.HasOptions() {
		return a.OptionID != ""
	}
	return strings.TrimSpace(a.Text) != ""
}

func (p FillBlank) Evaluate(a Answer) Evaluation {
	if p.HasOptions() {
		if a.OptionID == p.CorrectOptionID {
			return correct()
		}
		return incorrect(ErrorWrongOption)
	}
	if matchesAny(a.Text, p.AcceptedAnswers) {
		return correct()
	}
	return incorrect(ErrorWrongText)
}

func (p FillBlank) check() error {
	if p.HasOptions() {
		return checkOptions(p.Options, p.CorrectOptionID)
	}
	if len(p.AcceptedAnswers) == 0 {
		return fmt.Errorf("free-text blank needs at least one accepted answer")
	}
	return nil
}

func (FillBlank) sealed() {}

// Translate - перевести Source текстом или голосом.
type Translate struct {
	Source          string   `json:"source" validate:"required"`
	SourceLang      string   `json:"sourceLang,omitempty"`
	TargetLang      string   `json:"targetLang,omitempty"`
	AcceptedAnswers []string `json:"acceptedAnswers" validate:"min=1,dive,required"`
}

func (Translate) Kind() Kind { return KindTranslate }

func (p Translate) CanSubmit(a Answer) bool {
	return hasTranscriptionOrArtifact(a)
}

// Evaluate проверяет набранный или расшифрованный ответ.
// Запись без расшифровки не засчитывается.
func (p Translate) Evaluate(a Answer) Evaluation {
	if NeedsTranscription(a) {
		return incorrect(ErrorUngraded)
	}
	if matchesAny(a.Text, p.AcceptedAnswers) {
		return correct()
	}
	return incorrect(ErrorWrongText)
}

func (Translate) sealed() {}

// Listening проигрывает AudioRef, ученик записывает услышанное.
type Listening struct {
	AudioRef        string   `json:"audioRef" validate:"required"`
	Transcript      string   `json:"transcript" validate:"required"`
	AcceptedAnswers []string `json:"acceptedAnswers,omitempty" validate:"dive,required"`
}

func (Listening) Kind() Kind { return KindListening }

func (p Listening) CanSubmit(a Answer) bool {
	return hasTranscriptionOrArtifact(a)
}

func (p Listening) Evaluate(a Answer) Evaluation {
	if NeedsTranscription(a) {
		return incorrect(ErrorUngraded)
	}
	if matchesAny(a.Text, append([]string{p.Transcript}, p.AcceptedAnswers...)) {
		return correct()
	}
	return incorrect(ErrorWrongText)
}

func (Listening) sealed() {}

// ══════════════════════════════════════════════════════════════════════════════
// ФОРМАТ ПЕРЕДАЧИ
// ══════════════════════════════════════════════════════════════════════════════

type envelope struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON кодирует карточку как {"id","kind","payload"}.
func (c Card) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{ID: c.ID, Kind: c.Kind(), Payload: payload})
}

// UnmarshalJSON декодирует и валидирует конверт карточки.
func (c *Card) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}

// Decode разбирает конверт. Неизвестный тип даёт shared.ErrUnknownCardKind.
func Decode(data []byte) (Card, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Card{}, shared.WrapError("card", "Decode", shared.ErrInvalidFormat, "malformed card envelope", err)
	}

	var payload Payload
	var err error
	switch env.Kind {
	case KindTeach:
		payload, err = decodePayload[Teach](env.Payload)
	case KindMultipleChoice:
		payload, err = decodePayload[MultipleChoice](env.Payload)
	case KindFillBlank:
		payload, err = decodePayload[FillBlank](env.Payload)
	case KindTranslate:
		payload, err = decodePayload[Translate](env.Payload)
	case KindListening:
		payload, err = decodePayload[Listening](env.Payload)
	default:
		return Card{}, shared.WrapError("card", "Decode", shared.ErrInvalidFormat,
			fmt.Sprintf("card %s has kind %q", env.ID, env.Kind), shared.ErrUnknownCardKind)
	}
	if err != nil {
		return Card{}, shared.WrapError("card", "Decode", shared.ErrInvalidFormat,
			fmt.Sprintf("card %s payload", env.ID), fmt.Errorf("%w: %v", shared.ErrInvalidCardPayload, err))
	}
	return New(env.ID, payload)
}

func decodePayload[T Payload](raw json.RawMessage) (T, error) {
	var p T
	if len(raw) == 0 {
		return p, fmt.Errorf("payload is missing")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	err := dec.Decode(&p)
	return p, err
}

// ══════════════════════════════════════════════════════════════════════════════
// ВСПОМОГАТЕЛЬНЫЕ ФУНКЦИИ
// ══════════════════════════════════════════════════════════════════════════════

var validate = validator.New(validator.WithRequiredStructEnabled())

func checkOptions(options []Option, correctID string) error {
	seen := make(map[string]bool, len(options))
	for _, o := range options {
		if seen[o.ID] {
			return fmt.Errorf("duplicate option id %q", o.ID)
		}
		seen[o.ID] = true
	}
	if !seen[correctID] {
		return fmt.Errorf("correct option %q is not among the options", correctID)
	}
	return nil
}

func hasTranscriptionOrArtifact(a Answer) bool {
	return strings.TrimSpace(a.Text) != "" || strings.TrimSpace(a.ArtifactURI) != ""
}

// NeedsTranscription - в ответе есть запись, но нет текста для сравнения.
func NeedsTranscription(a Answer) bool {
	return strings.TrimSpace(a.Text) == "" && strings.TrimSpace(a.ArtifactURI) != ""
}

func matchesAny(got string, accepted []string) bool {
	n := Normalize(got)
	if n == "" {
		return false
	}
	for _, want := range accepted {
		if Normalize(want) == n {
			return true
		}
	}
	return false
}

// sentencePunct - знаки конца фразы, которые не влияют на ответ.
const sentencePunct = ".!?,;:"

// Normalize приводит к нижнему регистру, схлопывает пробелы и убирает знаки
// конца фразы по краям: "  Hello,  World! " и "hello, world" равны.
// Прочие символы значимы, "C#" не равно "C".
func Normalize(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return strings.TrimSpace(strings.Trim(s, sentencePunct))
}
