package card

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/learnpath/learnpath/internal/domain/shared"
)

// PlanKind отличает новый урок от повторения.
type PlanKind string

const (
	PlanLearn  PlanKind = "learn"
	PlanReview PlanKind = "review"
)

// SessionPlan - упорядоченный неизменяемый список карточек сессии.
type SessionPlan struct {
	id       string
	kind     PlanKind
	lessonID string
	cards    []Card
}

// NewSessionPlan валидирует карточки и создаёт план с новым id.
// План урока обязан указывать урок, id карточек уникальны.
func NewSessionPlan(kind PlanKind, lessonID string, cards []Card) (*SessionPlan, error) {
	return newSessionPlan(uuid.NewString(), kind, lessonID, cards)
}

func newSessionPlan(id string, kind PlanKind, lessonID string, cards []Card) (*SessionPlan, error) {
	if kind != PlanLearn && kind != PlanReview {
		return nil, shared.WrapError("card", "NewSessionPlan", shared.ErrInvalidInput,
			fmt.Sprintf("unknown plan kind %q", kind), shared.ErrInvalidPlan)
	}
	if kind == PlanLearn && lessonID == "" {
		return nil, shared.WrapError("card", "NewSessionPlan", shared.ErrInvalidInput,
			"learn plan requires a lesson id", shared.ErrInvalidPlan)
	}
	if len(cards) == 0 {
		return nil, shared.WrapError("card", "NewSessionPlan", shared.ErrInvalidInput,
			"plan has no cards", shared.ErrInvalidPlan)
	}

	seen := make(map[string]bool, len(cards))
	for _, c := range cards {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if seen[c.ID] {
			return nil, shared.WrapError("card", "NewSessionPlan", shared.ErrInvalidInput,
				fmt.Sprintf("duplicate card id %q", c.ID), shared.ErrInvalidPlan)
		}
		seen[c.ID] = true
	}

	return &SessionPlan{
		id:       id,
		kind:     kind,
		lessonID: lessonID,
		cards:    append([]Card(nil), cards...),
	}, nil
}

// ID возвращает id плана.
func (p *SessionPlan) ID() string { return p.id }

// Kind возвращает learn или review.
func (p *SessionPlan) Kind() PlanKind { return p.kind }

// LessonID возвращает урок плана. У повторения может быть пустым.
func (p *SessionPlan) LessonID() string { return p.lessonID }

func (p *SessionPlan) Len() int { return len(p.cards) }

// Card возвращает карточку по индексу.
func (p *SessionPlan) Card(i int) Card { return p.cards[i] }

// Cards возвращает копию списка.
func (p *SessionPlan) Cards() []Card {
	return append([]Card(nil), p.cards...)
}

type planJSON struct {
	ID       string   `json:"id,omitempty"`
	Kind     PlanKind `json:"kind"`
	LessonID string   `json:"lessonId,omitempty"`
	Cards    []Card   `json:"cards"`
}

// MarshalJSON кодирует план для передачи между процессами.
func (p *SessionPlan) MarshalJSON() ([]byte, error) {
	return json.Marshal(planJSON{ID: p.id, Kind: p.kind, LessonID: p.lessonID, Cards: p.cards})
}

// DecodeSessionPlan разбирает план из контентного пайплайна.
// Если id нет, он генерируется.
func DecodeSessionPlan(data []byte) (*SessionPlan, error) {
	var raw planJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, shared.WrapError("card", "DecodeSessionPlan", shared.ErrInvalidFormat, "malformed session plan", err)
	}
	id := raw.ID
	if id == "" {
		id = uuid.NewString()
	}
	return newSessionPlan(id, raw.Kind, raw.LessonID, raw.Cards)
}
