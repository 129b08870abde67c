package jury

// Tally counts the votes cast on a panel of Panel seats.
type Tally struct {
	Panel     int `json:"panel"`
	Worker    int `json:"worker"`
	Requester int `json:"requester"`
	Abstain   int `json:"abstain"`
}

func Count(panel int, votes []Vote) Tally {
	t := Tally{Panel: panel}
	for _, v := range votes {
		switch v.Choice {
		case ChoiceWorker:
			t.Worker++
		case ChoiceRequester:
			t.Requester++
		case ChoiceAbstain:
			t.Abstain++
		}
	}
	return t
}

// Quorum is the number of matching votes that decides a panel.
func (t Tally) Quorum() int {
	return t.Panel/2 + 1
}

func (t Tally) Voted() int {
	return t.Worker + t.Requester + t.Abstain
}

func (t Tally) Remaining() int {
	if r := t.Panel - t.Voted(); r > 0 {
		return r
	}
	return 0
}

// Majority returns the side that has reached quorum, if any.
func (t Tally) Majority() (Choice, bool) {
	q := t.Quorum()
	switch {
	case t.Worker >= q:
		return ChoiceWorker, true
	case t.Requester >= q:
		return ChoiceRequester, true
	}
	return "", false
}

// Deadlocked reports that neither side can reach quorum with the votes still
// outstanding.
func (t Tally) Deadlocked() bool {
	if _, ok := t.Majority(); ok {
		return false
	}
	q := t.Quorum()
	return t.Worker+t.Remaining() < q && t.Requester+t.Remaining() < q
}

// Leader returns the side with strictly more votes. Abstentions never lead.
func (t Tally) Leader() (Choice, bool) {
	switch {
	case t.Worker > t.Requester:
		return ChoiceWorker, true
	case t.Requester > t.Worker:
		return ChoiceRequester, true
	}
	return "", false
}
