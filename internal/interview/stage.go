package interview

import "fmt"

// Stage is a named phase of the interview state machine. Transitions are
// monotonic except for the explicit retry-same-stage edge.
type Stage string

const (
	StageGreeting   Stage = "greeting"
	StageCollecting Stage = "collecting_info"
	StageTechnical  Stage = "technical_assessment"
	StageBehavioral Stage = "behavioral_assessment"
	StageSummary    Stage = "summary"
	StageClosed     Stage = "closed"
)

var stageOrder = map[Stage]int{
	StageGreeting:   0,
	StageCollecting: 1,
	StageTechnical:  2,
	StageBehavioral: 3,
	StageSummary:    4,
	StageClosed:     5,
}

// Next returns the stage following s in the fixed progression.
func (s Stage) Next() Stage {
	switch s {
	case StageGreeting:
		return StageCollecting
	case StageCollecting:
		return StageTechnical
	case StageTechnical:
		return StageBehavioral
	case StageBehavioral:
		return StageSummary
	case StageSummary:
		return StageClosed
	default:
		return StageClosed
	}
}

// Terminal reports whether the stage ends the interview.
func (s Stage) Terminal() bool {
	return s == StageClosed
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Before reports whether s precedes other in the progression.
func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}

func (s Stage) String() string { return string(s) }

// ParseStage converts a stored stage value, failing on unknown input so that
// corrupted snapshots surface instead of silently resetting the interview.
func ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown interview stage %q", raw)
	}
	return s, nil
}
