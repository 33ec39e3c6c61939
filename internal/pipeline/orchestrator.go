// Package pipeline implements the Pipeline Orchestrator (C8): strictly
// sequential execution of an ordered list of Stages, threading an
// accumulating InterStageToken between them. Grounded on the teacher's
// orchestrator.DefaultKernel.Execute -> task.Manager hand-off
// (internal/orchestrator/kernel.go), with its tool-broker fan-out
// replaced by strict stage ordering and a minimum inter-stage delay
// since parallelism is explicitly disabled here to enforce isolation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mentat-sh/mentat/internal/config"
	"github.com/mentat-sh/mentat/internal/contract"
	"github.com/mentat-sh/mentat/internal/dispatch"
	mentaterrors "github.com/mentat-sh/mentat/internal/errors"
	"github.com/mentat-sh/mentat/internal/fsutil"
)

// Orchestrator runs Stage lists through the Fallback Dispatcher.
type Orchestrator struct {
	baseDir       string
	dispatcher    *dispatch.Dispatcher
	minStageDelay time.Duration
}

// New builds an Orchestrator wired to the shared Fallback Dispatcher.
func New(dataDir string, cfg config.PipelineConfig, d *dispatch.Dispatcher) (*Orchestrator, error) {
	delay, err := config.DurationOrDefault(cfg.MinStageDelay, config.DefaultPipelineMinStageDelay)
	if err != nil {
		return nil, fmt.Errorf("parse pipeline min stage delay: %w", err)
	}
	return &Orchestrator{
		baseDir:       filepath.Join(dataDir, "pipeline"),
		dispatcher:    d,
		minStageDelay: delay,
	}, nil
}

// Execute runs stages in index order (spec.md §4.8/§5: "the orchestrator
// MUST NOT begin stage i+1 before stage i completes successfully").
// Any stage failure aborts, returning a Run with Success=false and the
// intermediates completed so far.
func (o *Orchestrator) Execute(ctx context.Context, query string, stages []Stage) (*Run, error) {
	run := &Run{
		ID:    ulid.Make().String(),
		Query: query,
		Token: newToken(query),
	}

	for i, stage := range stages {
		if i > 0 {
			select {
			case <-ctx.Done():
				return o.fail(run, "cancelled", ctx.Err())
			case <-time.After(o.minStageDelay):
			}
		}

		result, err := o.runStage(ctx, run, stage, len(stages))
		if err != nil {
			return o.fail(run, mentaterrors.Wrap(err, "stage failed").Error(), err)
		}

		run.Stages = append(run.Stages, result)
		run.TotalTokens += result.Tokens
		run.TotalLatencyMs += result.LatencyMs
		run.Token.absorb(stage.Index, len(stages), result.Output)
	}

	run.Success = true
	o.persist(run)
	return run, nil
}

func (o *Orchestrator) runStage(ctx context.Context, run *Run, stage Stage, totalStages int) (StageResult, error) {
	prompt := buildStagePrompt(run.Query, run.FinalOutput(), run.Token, stage)

	start := time.Now()
	resp, err := o.dispatcher.Query(ctx, contract.LLMRequest{
		Prompt:       prompt,
		SystemPrompt: stage.SystemPromptTemplate,
		Model:        stage.ProviderRef,
		Temperature:  stage.Temperature,
		MaxTokens:    stage.MaxTokens,
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return StageResult{}, err
	}

	output := ensureMarker(stage.Index, resp.Text)
	return StageResult{
		Index:     stage.Index,
		Name:      stage.Name,
		Output:    output,
		Tokens:    resp.TokenUsage.Total,
		LatencyMs: latency,
	}, nil
}

// buildStagePrompt assembles (original query, previous stage output,
// current token state, role-specific directive) per spec.md §4.8.
func buildStagePrompt(originalQuery, previousOutput string, token *Token, stage Stage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original query: %s\n", originalQuery)
	if previousOutput != "" {
		fmt.Fprintf(&b, "Previous stage output:\n%s\n", previousOutput)
	}
	fmt.Fprintf(&b, "Current phase: %s\n", token.Phase)
	if len(token.Entities) > 0 {
		fmt.Fprintf(&b, "Known entities: %s\n", strings.Join(token.Entities, ", "))
	}
	if len(token.Themes) > 0 {
		fmt.Fprintf(&b, "Known themes: %s\n", strings.Join(token.Themes, ", "))
	}
	if token.NextFocus != "" {
		fmt.Fprintf(&b, "Next focus: %s\n", token.NextFocus)
	}
	fmt.Fprintf(&b, "Stage directive (%s): produce your analysis for this stage.", stage.Name)
	return b.String()
}

// ensureMarker enforces spec.md §4.8's "each stage's output begins with
// a step-identifying marker" by prepending one if absent.
func ensureMarker(index int, output string) string {
	marker := stageMarker(index)
	trimmed := strings.TrimSpace(output)
	if strings.HasPrefix(strings.ToUpper(trimmed), strings.ToUpper(marker)) {
		return trimmed
	}
	return marker + " " + trimmed
}

func (o *Orchestrator) fail(run *Run, errorClass string, err error) (*Run, error) {
	run.Success = false
	run.ErrorClass = errorClass
	o.persist(run)
	slog.Warn("pipeline run failed", "run_id", run.ID, "completed_stages", len(run.Stages), "error", err)
	return run, err
}

func (o *Orchestrator) persist(run *Run) {
	if err := fsutil.WriteJSON(filepath.Join(o.baseDir, run.ID+".json"), run); err != nil {
		slog.Error("failed to persist pipeline run", "run_id", run.ID, "error", err)
	}
}
