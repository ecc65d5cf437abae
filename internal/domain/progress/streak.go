package progress

import (
	"time"

	"github.com/learnpath/learnpath/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK (Серия активных дней)
// ══════════════════════════════════════════════════════════════════════════════

// NextStreak пересчитывает серию по дню последней активности.
//
//   - lastActive вчера - серия продолжается (+1)
//   - lastActive сегодня - серия не меняется
//   - раньше, в будущем или никогда - серия начинается заново (1)
func NextStreak(current int, lastActive, today time.Time, cal timeutil.Calendar) int {
	if lastActive.IsZero() {
		return 1
	}

	switch cal.DaysBetween(lastActive, today) {
	case 0:
		// Тот же день - ничего не меняем
		if current < 1 {
			return 1
		}
		return current
	case 1:
		// Следующий день - продолжаем серию
		return current + 1
	default:
		// Пропущены дни - сбрасываем серию
		return 1
	}
}

// RecordActivity применяет правило серии к снимку один раз за завершённую сессию.
// Возвращает предыдущее значение серии.
func (s *Snapshot) RecordActivity(now time.Time, cal timeutil.Calendar) int {
	previous := s.Streak

	var lastActive time.Time
	if s.LastActiveDay != "" {
		if t, err := cal.ParseDayKey(s.LastActiveDay); err == nil {
			lastActive = t
		}
	}

	s.Streak = NextStreak(s.Streak, lastActive, now, cal)
	s.LastActiveDay = cal.DayKey(now)
	return previous
}
