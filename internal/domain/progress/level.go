package progress

import "time"

// XPPerLevel - сколько XP нужно на один уровень.
const XPPerLevel = 100

// Level представляет уровень, вычисляемый из XP.
type Level int

// CalculateLevel вычисляет уровень на основе XP: floor(xp / 100).
func CalculateLevel(xp XP) Level {
	if xp < 0 {
		return 0
	}
	return Level(xp / XPPerLevel)
}

// Summary - сводка прогресса для экрана профиля.
type Summary struct {
	ScopeID        ScopeID   `json:"scopeId"`
	XP             XP        `json:"xp"`
	Streak         int       `json:"streak"`
	Level          Level     `json:"level"`
	CompletedCount int       `json:"completedCount"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Summarize строит сводку; уровень вычисляется при чтении и не хранится.
func (s *Snapshot) Summarize() Summary {
	return Summary{
		ScopeID:        s.ScopeID,
		XP:             s.XP,
		Streak:         s.Streak,
		Level:          CalculateLevel(s.XP),
		CompletedCount: len(s.CompletedModules),
		UpdatedAt:      s.UpdatedAt,
	}
}
