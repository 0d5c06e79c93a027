package models

const (
	VerdictPass         = "PASS"
	VerdictFail         = "FAIL"
	VerdictInconclusive = "INCONCLUSIVE"
)

// Hypothesis is one testable claim generated from a research gap.
type Hypothesis struct {
	Statement string  `json:"statement"`
	Gap       string  `json:"gap"`
	Formula   string  `json:"formula,omitempty"`
	Rationale string  `json:"rationale"`
	Priority  float64 `json:"priority"`
}

// TestOutcome is the result of checking one hypothesis against the
// materials database.
type TestOutcome struct {
	Hypothesis Hypothesis `json:"hypothesis"`
	Verdict    string     `json:"verdict"`
	Confidence float64    `json:"confidence"`
	Evidence   string     `json:"evidence"`
}

// Discovery is a tested hypothesis promising enough to report.
type Discovery struct {
	Hypothesis string  `json:"hypothesis"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence"`
	Iteration  int     `json:"iteration"`
}
