package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhaseOrdering(t *testing.T) {
	phases := []Phase{
		PhaseStarting,
		PhaseCollectingPapers,
		PhasePapersCollected,
		PhaseAnalyzingPapers,
		PhaseAnalysisComplete,
		PhaseGeneratingHypotheses,
		PhaseHypothesesGenerated,
		PhaseTestingHypotheses,
		PhaseTestingComplete,
		PhaseEvaluatingResults,
		PhaseDiscoveriesFound,
		PhaseCompleted,
	}

	// Floors strictly increase along the phase sequence, so a monotonic
	// progress bar can rely on phase order alone.
	for i := 1; i < len(phases); i++ {
		assert.Greater(t, phases[i].Floor(), phases[i-1].Floor(),
			"%s must be above %s", phases[i], phases[i-1])
	}

	assert.Equal(t, 0, PhaseStarting.Floor())
	assert.Equal(t, 100, PhaseCompleted.Floor())

	for _, p := range phases {
		assert.NotEqual(t, "unknown", p.String())
	}
	assert.Equal(t, "unknown", Phase(99).String())
}
