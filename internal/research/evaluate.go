package research

import "github.com/sciforge/discoveryd/pkg/models"

// discoveryThreshold is the minimum confidence for a passing hypothesis to
// count as a discovery.
const discoveryThreshold = 0.6

// Evaluate filters test outcomes down to discoveries: hypotheses that
// passed with confidence above the threshold.
func Evaluate(outcomes []models.TestOutcome, iteration int) []models.Discovery {
	var discoveries []models.Discovery
	for _, o := range outcomes {
		if o.Verdict != models.VerdictPass || o.Confidence <= discoveryThreshold {
			continue
		}
		discoveries = append(discoveries, models.Discovery{
			Hypothesis: o.Hypothesis.Statement,
			Confidence: o.Confidence,
			Evidence:   o.Evidence,
			Iteration:  iteration,
		})
	}
	return discoveries
}

// MergeDiscoveries appends new discoveries to the running list, dropping
// any whose hypothesis statement was already recorded in an earlier
// iteration.
func MergeDiscoveries(existing, found []models.Discovery) []models.Discovery {
	seen := make(map[string]struct{}, len(existing))
	for _, d := range existing {
		seen[d.Hypothesis] = struct{}{}
	}
	for _, d := range found {
		if _, ok := seen[d.Hypothesis]; ok {
			continue
		}
		seen[d.Hypothesis] = struct{}{}
		existing = append(existing, d)
	}
	return existing
}
