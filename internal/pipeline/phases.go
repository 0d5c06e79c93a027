// Package pipeline runs research sessions through their phases, guarding
// every external call and recording progress as it goes.
package pipeline

// Phase is one step of the research pipeline. Phases are ordered; a
// session's progress floor never moves backwards even when a later
// iteration revisits an earlier phase.
type Phase int

const (
	PhaseStarting Phase = iota
	PhaseCollectingPapers
	PhasePapersCollected
	PhaseAnalyzingPapers
	PhaseAnalysisComplete
	PhaseGeneratingHypotheses
	PhaseHypothesesGenerated
	PhaseTestingHypotheses
	PhaseTestingComplete
	PhaseEvaluatingResults
	PhaseDiscoveriesFound
	PhaseCompleted
)

var phaseNames = map[Phase]string{
	PhaseStarting:             "starting",
	PhaseCollectingPapers:     "collecting_papers",
	PhasePapersCollected:      "papers_collected",
	PhaseAnalyzingPapers:      "analyzing_papers",
	PhaseAnalysisComplete:     "analysis_complete",
	PhaseGeneratingHypotheses: "generating_hypotheses",
	PhaseHypothesesGenerated:  "hypotheses_generated",
	PhaseTestingHypotheses:    "testing_hypotheses",
	PhaseTestingComplete:      "testing_complete",
	PhaseEvaluatingResults:    "evaluating_results",
	PhaseDiscoveriesFound:     "discoveries_found",
	PhaseCompleted:            "completed",
}

var phaseFloors = map[Phase]int{
	PhaseStarting:             0,
	PhaseCollectingPapers:     10,
	PhasePapersCollected:      20,
	PhaseAnalyzingPapers:      30,
	PhaseAnalysisComplete:     45,
	PhaseGeneratingHypotheses: 55,
	PhaseHypothesesGenerated:  65,
	PhaseTestingHypotheses:    75,
	PhaseTestingComplete:      85,
	PhaseEvaluatingResults:    90,
	PhaseDiscoveriesFound:     95,
	PhaseCompleted:            100,
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// Floor is the minimum progress percentage a session has reached once it
// enters this phase.
func (p Phase) Floor() int {
	return phaseFloors[p]
}
