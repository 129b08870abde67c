package autoscore

import "time"

type Recommendation string

const (
	RecommendWorker    Recommendation = "worker_wins"
	RecommendRequester Recommendation = "requester_wins"
	RecommendEscalate  Recommendation = "escalate"
)

// Check names double as the identifiers the verification pipeline reports in its
// passed/failed/flags lists.
const (
	CheckArtefactCount  = "artefact_count"
	CheckTimeWindow     = "time_window"
	CheckLocation       = "location"
	CheckDuplicatePhoto = "duplicate_photo"
	CheckBearing        = "bearing"
	CheckMinResolution  = "min_resolution"
)

// VerificationResult is the opaque output of submission verification.
type VerificationResult struct {
	Passed []string `json:"passed"`
	Failed []string `json:"failed"`
	Flags  []string `json:"flags"`
	Score  float64  `json:"score"`
}

type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Requirements are the verification dimensions a task declares. A nil or zero
// field means the dimension does not apply to the task.
type Requirements struct {
	ArtefactCount    int         `json:"artefact_count,omitempty"`
	TimeWindow       *TimeWindow `json:"time_window,omitempty"`
	LocationRadius   *float64    `json:"location_radius_m,omitempty"`
	RejectDuplicates bool        `json:"reject_duplicates,omitempty"`
	Bearing          *float64    `json:"bearing_deg,omitempty"`
	MinResolution    *Resolution `json:"min_resolution,omitempty"`
}

type Check struct {
	Name   string  `json:"name"`
	Passed bool    `json:"passed"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

// Result is stored verbatim on the dispute once Tier 1 runs.
type Result struct {
	TotalScore     float64        `json:"totalScore"`
	Checks         []Check        `json:"checks"`
	Recommendation Recommendation `json:"recommendation"`
	Timestamp      time.Time      `json:"timestamp"`
}
