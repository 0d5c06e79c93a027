package research

import (
	"sort"

	"github.com/sciforge/discoveryd/pkg/models"
)

// ExtractGaps flattens analyzed papers into a single gap list, scored by
// the relevance of the paper each gap came from and sorted best first.
func ExtractGaps(analyses []models.PaperAnalysis) []models.ResearchGap {
	var gaps []models.ResearchGap
	for _, a := range analyses {
		for _, g := range a.Gaps {
			if g == "" {
				continue
			}
			gaps = append(gaps, models.ResearchGap{
				Description: g,
				Score:       a.RelevanceScore,
				Source:      a.Paper.Title,
			})
		}
	}

	sort.SliceStable(gaps, func(i, j int) bool {
		return gaps[i].Score > gaps[j].Score
	})
	return gaps
}
