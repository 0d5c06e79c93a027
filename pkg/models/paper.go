package models

import "time"

// Paper is one scientific paper returned by the paper repository.
type Paper struct {
	ArxivID     string    `json:"arxiv_id"`
	Title       string    `json:"title"`
	Authors     []string  `json:"authors"`
	Abstract    string    `json:"abstract"`
	Categories  []string  `json:"categories"`
	Published   time.Time `json:"published"`
	Updated     time.Time `json:"updated"`
	PDFURL      string    `json:"pdf_url"`
	AbstractURL string    `json:"abstract_url"`
}

// PaperAnalysis is the LLM's reading of one paper.
type PaperAnalysis struct {
	Paper          Paper    `json:"paper"`
	Summary        string   `json:"summary"`
	Gaps           []string `json:"gaps"`
	RelevanceScore float64  `json:"relevance_score"`
}

// ResearchGap is one open question extracted from the analyzed papers,
// scored by the relevance of the paper it came from.
type ResearchGap struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
	Source      string  `json:"source"`
}
