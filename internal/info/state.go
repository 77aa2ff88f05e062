package info

// State is the reconciled state of one migration.
type State int

const (
	Pending State = iota
	AboveTarget
	Ignored
	Success
	Failed
	FutureSuccess
	FutureFailed
	MissingSuccess
	MissingFailed
	BelowBaseline
	OutOfOrder
)

type stateAttrs struct {
	name     string
	display  string
	resolved bool
	applied  bool
	failed   bool
}

var states = map[State]stateAttrs{
	Pending:        {"PENDING", "Pending", true, false, false},
	AboveTarget:    {"ABOVE_TARGET", "Above Target", true, false, false},
	Ignored:        {"IGNORED", "Ignored", true, false, false},
	Success:        {"SUCCESS", "Success", true, true, false},
	Failed:         {"FAILED", "Failed", true, true, true},
	FutureSuccess:  {"FUTURE_SUCCESS", "Future", false, true, false},
	FutureFailed:   {"FUTURE_FAILED", "Future Failed", false, true, true},
	MissingSuccess: {"MISSING_SUCCESS", "Missing", false, true, false},
	MissingFailed:  {"MISSING_FAILED", "Missing Failed", false, true, true},
	BelowBaseline:  {"BELOW_BASELINE", "Below Baseline", true, false, false},
	OutOfOrder:     {"OUT_OF_ORDER", "Out of Order", true, true, false},
}

func (s State) String() string      { return states[s].name }
func (s State) DisplayName() string { return states[s].display }
func (s State) IsResolved() bool    { return states[s].resolved }
func (s State) IsApplied() bool     { return states[s].applied }
func (s State) IsFailed() bool      { return states[s].failed }
