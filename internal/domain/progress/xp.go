package progress

// ══════════════════════════════════════════════════════════════════════════════
// XP
// ══════════════════════════════════════════════════════════════════════════════

// XP представляет очки опыта.
type XP int

// IsValid проверяет, что XP неотрицательный.
func (x XP) IsValid() bool {
	return x >= 0
}

// Add складывает XP.
func (x XP) Add(delta XP) XP {
	return x + delta
}

// Resolution - чем закончилась работа с карточкой.
type Resolution int

const (
	// ResolvedTeach - обучающая карточка, пользователь нажал "продолжить".
	ResolvedTeach Resolution = iota
	// ResolvedCorrect - получен правильный ответ.
	ResolvedCorrect
	// ResolvedExhausted - попытки закончились без правильного ответа.
	ResolvedExhausted
)

// XPPolicy - сколько XP даётся за карточку.
type XPPolicy struct {
	// CardXP - правильный ответ с первой попытки.
	CardXP XP
	// RetryXP - правильный ответ после ошибок.
	RetryXP XP
	// TeachXP - обучающая карточка.
	TeachXP XP
}

// DefaultXPPolicy возвращает политику по умолчанию: 10 / 5 / 0.
func DefaultXPPolicy() XPPolicy {
	return XPPolicy{CardXP: 10, RetryXP: 5, TeachXP: 0}
}

// AmountFor вычисляет XP для итога карточки.
func (p XPPolicy) AmountFor(res Resolution, attemptNumber int) XP {
	switch res {
	case ResolvedTeach:
		return p.TeachXP
	case ResolvedCorrect:
		if attemptNumber <= 1 {
			return p.CardXP
		}
		return p.RetryXP
	default:
		return 0
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCUMULATOR
// ══════════════════════════════════════════════════════════════════════════════

// Accumulator начисляет XP за карточки в рамках одной сессии.
// Каждая карточка получает не больше одного начисления, даже при повторном вызове.
// Не потокобезопасен: принадлежит одному Runner.
type Accumulator struct {
	policy          XPPolicy
	awardedXPByCard map[string]XP
	total           XP
}

// NewAccumulator создаёт аккумулятор с заданной политикой.
func NewAccumulator(policy XPPolicy) *Accumulator {
	return &Accumulator{
		policy:          policy,
		awardedXPByCard: make(map[string]XP),
	}
}

// Grant записывает начисление за карточку.
// Первый вызов для карточки возвращает (xp, true), все последующие - (0, false).
func (a *Accumulator) Grant(cardID string, res Resolution, attemptNumber int) (XP, bool) {
	if _, done := a.awardedXPByCard[cardID]; done {
		return 0, false
	}
	xp := a.policy.AmountFor(res, attemptNumber)
	a.awardedXPByCard[cardID] = xp
	a.total = a.total.Add(xp)
	return xp, true
}

// Awarded возвращает начисление за карточку, если оно было.
func (a *Accumulator) Awarded(cardID string) (XP, bool) {
	xp, ok := a.awardedXPByCard[cardID]
	return xp, ok
}

// Total возвращает сумму начислений за сессию.
func (a *Accumulator) Total() XP {
	return a.total
}
