package trial

// Stage is one phase of the ordered trial procedure.
type Stage string

const (
	StageWaiting    Stage = "waiting"
	StageIntro      Stage = "intro"
	StageOpening    Stage = "opening"
	StageIssues     Stage = "issues"
	StageDiscussion Stage = "discussion"
	StageQuestions  Stage = "questions"
	StageClosing    Stage = "closing"
	StageVerdict    Stage = "verdict"
	StageAppeal     Stage = "appeal"
)

// stageOrder is the linear chain. Appeal is not in the chain: it is a
// one-shot branch out of verdict that re-enters at opening.
var stageOrder = []Stage{
	StageWaiting,
	StageIntro,
	StageOpening,
	StageIssues,
	StageDiscussion,
	StageQuestions,
	StageClosing,
	StageVerdict,
}

// Next returns the stage after s in the fixed order. Returns false on
// the terminal stage and on stages outside the chain.
func (s Stage) Next() (Stage, bool) {
	for i, stage := range stageOrder {
		if stage == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// Index returns the position of s in the chain, or -1 for appeal and
// unknown stages. Used to reject transitions into already-passed stages.
func (s Stage) Index() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s == StageAppeal || s.Index() >= 0
}

// Terminal reports whether no further transition is possible. Verdict is
// terminal unless the one-shot appeal branch is taken; appeal completion
// always is.
func (s Stage) Terminal() bool {
	return s == StageVerdict || s == StageAppeal
}

// Timed reports whether the stage carries a countdown. Waiting is free
// chat, verdict is computed rather than sat through, and appeal is a
// branch point.
func (s Stage) Timed() bool {
	switch s {
	case StageWaiting, StageVerdict, StageAppeal:
		return false
	}
	return s.Index() >= 0
}

// Consensual reports whether the stage advances by participant
// readiness. Waiting advances only by the host starting the trial, and
// verdict is never voted into from within itself.
func (s Stage) Consensual() bool {
	return s.Timed()
}
