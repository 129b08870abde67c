package jury

import (
	"fmt"
	"math"
	"sort"

	"disputeflow/dispute"
)

// Rand is the randomness source for panel selection. *math/rand/v2.Rand
// satisfies it.
type Rand interface {
	Float64() float64
}

// SelectPanel draws size jurors without replacement, each with probability
// proportional to its weight (Efraimidis-Spirakis). Candidates in exclude or
// with a non-positive weight are never drawn.
func SelectPanel(candidates []Candidate, size int, exclude map[string]struct{}, rng Rand) ([]Candidate, error) {
	if size <= 0 {
		return nil, fmt.Errorf("jury: panel size must be positive, got %d", size)
	}

	pool := make([]Candidate, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, skip := exclude[c.UserID]; skip {
			continue
		}
		if _, dup := seen[c.UserID]; dup || c.Weight <= 0 {
			continue
		}
		seen[c.UserID] = struct{}{}
		pool = append(pool, c)
	}
	if len(pool) < size {
		return nil, fmt.Errorf("%w: need %d, have %d", dispute.ErrInsufficientJurors, size, len(pool))
	}

	// Fixed input order so the draw depends only on rng.
	sort.Slice(pool, func(i, j int) bool { return pool[i].UserID < pool[j].UserID })

	type keyed struct {
		Candidate
		key float64
	}
	keys := make([]keyed, len(pool))
	for i, c := range pool {
		// log(u)/w orders the same as u^(1/w) without underflow.
		keys[i] = keyed{Candidate: c, key: math.Log(rng.Float64()) / c.Weight}
	}
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].key > keys[j].key })

	panel := make([]Candidate, size)
	for i := range panel {
		panel[i] = keys[i].Candidate
	}
	return panel, nil
}
