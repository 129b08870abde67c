package jury

import (
	"errors"
	"math/rand/v2"
	"testing"

	"disputeflow/dispute"
)

func pool(n int) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		out[i] = Candidate{UserID: string(rune('a' + i)), Weight: float64(50 + i)}
	}
	return out
}

func TestSelectPanel_ExcludesAndDeduplicates(t *testing.T) {
	candidates := append(pool(8), Candidate{UserID: "a", Weight: 90})
	exclude := map[string]struct{}{"b": {}, "c": {}}

	panel, err := SelectPanel(candidates, 5, exclude, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(panel) != 5 {
		t.Fatalf("expected 5 jurors, got %d", len(panel))
	}
	seen := map[string]bool{}
	for _, c := range panel {
		if _, bad := exclude[c.UserID]; bad {
			t.Fatalf("excluded juror %s selected", c.UserID)
		}
		if seen[c.UserID] {
			t.Fatalf("juror %s selected twice", c.UserID)
		}
		seen[c.UserID] = true
	}
}

func TestSelectPanel_Deterministic(t *testing.T) {
	first, err := SelectPanel(pool(10), 5, nil, rand.New(rand.NewPCG(7, 7)))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	shuffled := pool(10)
	shuffled[0], shuffled[9] = shuffled[9], shuffled[0]
	second, err := SelectPanel(shuffled, 5, nil, rand.New(rand.NewPCG(7, 7)))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	for i := range first {
		if first[i].UserID != second[i].UserID {
			t.Fatalf("expected identical panels, got %v and %v", first, second)
		}
	}
}

func TestSelectPanel_Insufficient(t *testing.T) {
	candidates := pool(5)
	candidates[0].Weight = 0
	_, err := SelectPanel(candidates, 5, nil, rand.New(rand.NewPCG(1, 1)))
	if !errors.Is(err, dispute.ErrInsufficientJurors) {
		t.Fatalf("expected ErrInsufficientJurors, got %v", err)
	}
}

func TestSelectPanel_FavoursHeavierWeights(t *testing.T) {
	candidates := []Candidate{{UserID: "heavy", Weight: 1000}, {UserID: "light", Weight: 1}}
	rng := rand.New(rand.NewPCG(3, 4))

	heavy := 0
	for i := 0; i < 200; i++ {
		panel, err := SelectPanel(candidates, 1, nil, rng)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if panel[0].UserID == "heavy" {
			heavy++
		}
	}
	if heavy < 180 {
		t.Fatalf("expected the heavy candidate to dominate, picked %d/200", heavy)
	}
}
