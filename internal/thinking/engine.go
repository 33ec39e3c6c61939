package thinking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mentat-sh/mentat/internal/cache"
	"github.com/mentat-sh/mentat/internal/config"
	"github.com/mentat-sh/mentat/internal/contract"
	"github.com/mentat-sh/mentat/internal/dispatch"
	mentaterrors "github.com/mentat-sh/mentat/internal/errors"
	"github.com/mentat-sh/mentat/internal/fsutil"
)

const cacheType = "thinking"

// Options customizes one process() call.
type Options struct {
	SystemPrompt string
	DispatchModel string
}

type cachedStep struct {
	Response string `json:"response"`
	Tokens   int    `json:"tokens"`
}

// Engine implements C7.
type Engine struct {
	baseDir    string
	cache      *cache.Cache
	dispatcher *dispatch.Dispatcher
	registry   *Registry
	maxSteps   int
	models     []config.ThinkingModelEntry
}

// New builds an Engine wired to the shared Cache Layer and Fallback
// Dispatcher.
func New(dataDir string, cfg config.ThinkingConfig, c *cache.Cache, d *dispatch.Dispatcher) *Engine {
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = config.DefaultThinkingMaxSteps
	}
	return &Engine{
		baseDir:    filepath.Join(dataDir, "thinking"),
		cache:      c,
		dispatcher: d,
		registry:   NewRegistry(cfg.DefaultStrategy),
		maxSteps:   maxSteps,
		models:     cfg.Models,
	}
}

// StrategyNames lists every registered strategy, for the
// mcp://config/reasoning-systems resource.
func (e *Engine) StrategyNames() []string { return e.registry.Names() }

func (e *Engine) defaultDispatchModel() string {
	if len(e.models) > 0 {
		return e.models[0].Name
	}
	return ""
}

// Process runs spec.md §4.7's process(problem, modelName, options) loop.
func (e *Engine) Process(ctx context.Context, problem, modelName string, opts Options) (*Process, error) {
	strategy := e.registry.Resolve(modelName, problem)
	dispatchModel := opts.DispatchModel
	if dispatchModel == "" {
		dispatchModel = e.defaultDispatchModel()
	}

	proc := &Process{
		ID:        ulid.Make().String(),
		Problem:   problem,
		Strategy:  strategy.Name(),
		State:     StateCreated,
		CreatedTs: time.Now(),
	}
	proc.transition(StateRunning)

	for i := 0; i < e.maxSteps; i++ {
		if ctx.Err() != nil {
			proc.State = StateError
			proc.ErrorClass = "cancelled"
			e.persist(proc)
			return proc, ctx.Err()
		}

		prompt, done := strategy.NextPrompt(problem, proc.Steps)
		if done {
			break
		}

		step, err := e.runStep(ctx, len(proc.Steps), dispatchModel, opts.SystemPrompt, prompt)
		if err != nil {
			proc.State = StateError
			proc.ErrorClass = mentaterrors.Wrap(err, "thinking step failed").Error()
			e.persist(proc)
			return proc, err
		}
		proc.Steps = append(proc.Steps, step)
	}

	proc.Visualization = strategy.Visualize(proc.Steps)
	proc.transition(StateCompleted)
	e.persist(proc)

	slog.Info("thinking process completed", "process_id", proc.ID, "strategy", proc.Strategy, "steps", len(proc.Steps))
	return proc, nil
}

func (e *Engine) runStep(ctx context.Context, index int, model, systemPrompt, prompt string) (Step, error) {
	key := stepCacheKey(model, systemPrompt, prompt)

	if e.cache != nil {
		var cached cachedStep
		hit, err := e.cache.Get(cacheType, key, &cached)
		if err == nil && hit {
			return Step{Index: index, Prompt: prompt, Response: cached.Response, Tokens: cached.Tokens, CacheHit: true}, nil
		}
	}

	resp, err := e.dispatcher.Query(ctx, contract.LLMRequest{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		Model:        model,
	})
	if err != nil {
		return Step{}, err
	}

	if e.cache != nil {
		_ = e.cache.Set(cacheType, key, cachedStep{Response: resp.Text, Tokens: resp.TokenUsage.Total}, 0)
	}

	return Step{Index: index, Prompt: prompt, Response: resp.Text, Tokens: resp.TokenUsage.Total}, nil
}

// stepCacheKey hashes (model, systemPrompt, prompt) per spec.md §4.7's
// "(model, systemPromptHash, promptHash)" cache key.
func stepCacheKey(model, systemPrompt, prompt string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s", model, systemPrompt, prompt)))
	return hex.EncodeToString(sum[:])
}

func (e *Engine) persist(proc *Process) {
	if err := fsutil.WriteJSON(filepath.Join(e.baseDir, proc.ID+".json"), proc); err != nil {
		slog.Error("failed to persist thinking process", "process_id", proc.ID, "error", err)
	}
}
