package pipeline

import "fmt"

// Stage is one entry of an ordered pipeline run (spec.md §3
// PipelineStage).
type Stage struct {
	Index                int
	Name                 string
	ProviderRef           string // model name passed to the dispatcher
	SystemPromptTemplate string
	Temperature          float64
	MaxTokens            int
}

// StageResult records one stage's execution.
type StageResult struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Output    string `json:"output"`
	Tokens    int    `json:"tokens"`
	LatencyMs int64  `json:"latency_ms"`
}

// Run is the persisted record and return value of one Execute call.
type Run struct {
	ID         string        `json:"id"`
	Query      string        `json:"query"`
	Success    bool          `json:"success"`
	ErrorClass string        `json:"error_class,omitempty"`
	Stages     []StageResult `json:"stages"`
	Token      *Token        `json:"token"`
	TotalTokens int          `json:"total_tokens"`
	TotalLatencyMs int64     `json:"total_latency_ms"`
}

// FinalOutput returns the last completed stage's output, or "" if no
// stage completed.
func (r *Run) FinalOutput() string {
	if len(r.Stages) == 0 {
		return ""
	}
	return r.Stages[len(r.Stages)-1].Output
}

// stageMarker is the step-identifying marker the orchestrator prepends
// when a stage's own output omits one (spec.md §4.8).
func stageMarker(index int) string {
	return fmt.Sprintf("STAGE %d ANALYSIS:", index+1)
}
