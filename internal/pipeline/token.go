package pipeline

import (
	"regexp"
	"strings"
)

// Phase is an InterStageToken's coarse lifecycle marker, advancing with
// stage index.
type Phase string

const (
	PhasePreprocessing Phase = "preprocessing"
	PhaseProcessing    Phase = "processing"
	PhaseReasoning     Phase = "reasoning"
)

// phaseForStage maps a stage index to its phase: stage 0 is always
// preprocessing, the last stage is always reasoning, everything between
// is processing.
func phaseForStage(index, total int) Phase {
	if index >= total-1 {
		return PhaseReasoning
	}
	if index <= 0 {
		return PhasePreprocessing
	}
	return PhaseProcessing
}

// Token is the InterStageToken passed and accumulated between stages
// (spec.md §3: "Accumulates monotonically across stages").
type Token struct {
	OriginalQuery   string   `json:"original_query"`
	Phase           Phase    `json:"phase"`
	CompletedStages []int    `json:"completed_stages"`
	Entities        []string `json:"entities"`
	Themes          []string `json:"themes"`
	Relationships   []string `json:"relationships"`
	Conclusions     []string `json:"conclusions"`
	NextFocus       string   `json:"next_focus,omitempty"`
}

func newToken(originalQuery string) *Token {
	return &Token{OriginalQuery: originalQuery, Phase: PhasePreprocessing}
}

var sectionPatterns = map[string]*regexp.Regexp{
	"entities":      regexp.MustCompile(`(?im)^entities:\s*(.+)$`),
	"themes":        regexp.MustCompile(`(?im)^themes:\s*(.+)$`),
	"relationships": regexp.MustCompile(`(?im)^relationships:\s*(.+)$`),
	"conclusions":   regexp.MustCompile(`(?im)^conclusions:\s*(.+)$`),
	"next_focus":    regexp.MustCompile(`(?im)^next\s*focus:\s*(.+)$`),
}

// absorb extracts labeled sections from a stage's output and appends them
// to the token, then advances phase/completedStages for stageIndex
// (spec.md §4.8: "entities/themes/relationships/conclusions are extracted
// from stage output using labeled-section regexes").
func (t *Token) absorb(stageIndex, totalStages int, output string) {
	t.Entities = append(t.Entities, extractList(output, "entities")...)
	t.Themes = append(t.Themes, extractList(output, "themes")...)
	t.Relationships = append(t.Relationships, extractList(output, "relationships")...)
	t.Conclusions = append(t.Conclusions, extractList(output, "conclusions")...)
	if m := sectionPatterns["next_focus"].FindStringSubmatch(output); m != nil {
		t.NextFocus = strings.TrimSpace(m[1])
	}
	t.CompletedStages = append(t.CompletedStages, stageIndex)
	t.Phase = phaseForStage(stageIndex+1, totalStages)
}

func extractList(output, section string) []string {
	m := sectionPatterns[section].FindStringSubmatch(output)
	if m == nil {
		return nil
	}
	parts := strings.Split(m[1], ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
