package autoscore

import (
	"math"
	"slices"
	"time"
)

const (
	WorkerThreshold    = 80.0
	RequesterThreshold = 20.0
)

var DefaultWeights = map[string]float64{
	CheckArtefactCount:  20,
	CheckTimeWindow:     15,
	CheckLocation:       25,
	CheckDuplicatePhoto: 15,
	CheckBearing:        10,
	CheckMinResolution:  15,
}

// checkOrder fixes the order checks appear in a Result.
var checkOrder = []string{
	CheckArtefactCount,
	CheckTimeWindow,
	CheckLocation,
	CheckDuplicatePhoto,
	CheckBearing,
	CheckMinResolution,
}

type Evaluator struct {
	weights map[string]float64
}

type Option func(*Evaluator)

// WithWeights replaces the weights of the named checks; unnamed checks keep their
// defaults.
func WithWeights(weights map[string]float64) Option {
	return func(e *Evaluator) {
		for name, w := range weights {
			e.weights[name] = w
		}
	}
}

func New(opts ...Option) *Evaluator {
	e := &Evaluator{weights: make(map[string]float64, len(DefaultWeights))}
	for name, w := range DefaultWeights {
		e.weights[name] = w
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate scores a verification result against the task requirements. It is
// deterministic for identical inputs.
func (e *Evaluator) Evaluate(v VerificationResult, req Requirements, at time.Time) Result {
	applicable := applicableChecks(req)

	checks := make([]Check, 0, len(applicable))
	var weighted, totalWeight float64
	for _, name := range checkOrder {
		if !applicable[name] {
			continue
		}
		weight := e.weights[name]
		if weight <= 0 {
			continue
		}
		passed := checkPassed(name, v)
		score := 0.0
		if passed {
			score = 100
		}
		checks = append(checks, Check{Name: name, Passed: passed, Score: score, Weight: weight})
		weighted += score * weight
		totalWeight += weight
	}

	res := Result{Checks: checks, Timestamp: at.UTC()}
	if totalWeight == 0 {
		res.Recommendation = RecommendEscalate
		return res
	}

	res.TotalScore = math.Round(weighted/totalWeight*100) / 100
	res.Recommendation = Recommend(res.TotalScore)
	return res
}

// Recommend maps a total score onto the Tier 1 decision. Both thresholds are
// inclusive.
func Recommend(total float64) Recommendation {
	switch {
	case total >= WorkerThreshold:
		return RecommendWorker
	case total <= RequesterThreshold:
		return RecommendRequester
	default:
		return RecommendEscalate
	}
}

func applicableChecks(req Requirements) map[string]bool {
	return map[string]bool{
		CheckArtefactCount:  req.ArtefactCount > 0,
		CheckTimeWindow:     req.TimeWindow != nil,
		CheckLocation:       req.LocationRadius != nil,
		CheckDuplicatePhoto: req.RejectDuplicates,
		CheckBearing:        req.Bearing != nil,
		CheckMinResolution:  req.MinResolution != nil,
	}
}

// checkPassed treats a required check the verifier never reported as failed.
func checkPassed(name string, v VerificationResult) bool {
	if slices.Contains(v.Failed, name) || slices.Contains(v.Flags, name) {
		return false
	}
	return slices.Contains(v.Passed, name)
}
