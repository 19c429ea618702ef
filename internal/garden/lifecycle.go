package garden

import (
	mathrand "math/rand"
	"sync"
)

// Roller is the randomness a new plant draws on: a uniform float in [0,1) for
// the rarity roll and a uniform index for the species pick.
type Roller interface {
	Float64() float64
	Intn(n int) int
}

// lockedRand makes a *rand.Rand safe for concurrent requests.
type lockedRand struct {
	mu sync.Mutex
	r  *mathrand.Rand
}

func newLockedRand(src mathrand.Source) *lockedRand {
	return &lockedRand{r: mathrand.New(src)}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// Sow builds a seed-stage plant of type t, rolling its rarity and species.
func Sow(accountID string, t PlantType, pos *Position, rng Roller) (Plant, error) {
	if _, err := ParsePlantType(string(t)); err != nil {
		return Plant{}, err
	}
	rarity := RollRarity(rng.Float64())
	names := Species(t, rarity)
	if len(names) == 0 {
		return Plant{}, ErrInvalidPlantType
	}
	return Plant{
		AccountID: accountID,
		Type:      t,
		Species:   names[rng.Intn(len(names))],
		Rarity:    rarity,
		Stage:     StageSeed,
		Position:  clonePosition(pos),
	}, nil
}

// Growing reports whether a growth timer is armed.
func (p Plant) Growing() bool {
	return p.RemainingGrowthTime != nil
}

// StartGrowing arms the timer for the next stage and returns what that
// transition consumes. The plant is unchanged on error.
func (p *Plant) StartGrowing() (Growth, error) {
	if p.Stage >= StageMature {
		return Growth{}, ErrFullyGrown
	}
	if p.Growing() {
		return Growth{}, ErrAlreadyGrowing
	}
	g, err := NextGrowth(p.Stage, p.Rarity)
	if err != nil {
		return Growth{}, err
	}
	remaining := g.Duration
	p.RemainingGrowthTime = &remaining
	return g, nil
}

// Tick counts elapsed growth time off the timer. When the timer reaches zero
// the plant moves to the next stage and the timer is cleared.
func (p *Plant) Tick(elapsed int64) (advanced bool, err error) {
	if elapsed <= 0 {
		return false, ErrInvalidElapsed
	}
	if !p.Growing() {
		return false, ErrNotGrowing
	}
	remaining := *p.RemainingGrowthTime - elapsed
	if remaining > 0 {
		p.RemainingGrowthTime = &remaining
		return false, nil
	}
	p.RemainingGrowthTime = nil
	if p.Stage >= StageMature {
		return false, nil
	}
	p.Stage++
	return true, nil
}

// MoveTo places the plant at pos, or back into the inventory when pos is nil.
func (p *Plant) MoveTo(pos *Position) {
	p.Position = clonePosition(pos)
}

// SalePayoutMicros is what selling the plant right now would credit.
func (p Plant) SalePayoutMicros() (int64, error) {
	return SalePayoutMicros(p.Stage, p.Rarity)
}

func clonePosition(pos *Position) *Position {
	if pos == nil {
		return nil
	}
	cp := *pos
	return &cp
}
