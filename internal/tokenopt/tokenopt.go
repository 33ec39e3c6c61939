// Package tokenopt implements the Token Optimizer (C6): tiktoken-go-based
// estimation, tier-table-driven model selection, and estimate-vs-actual
// accuracy tracking. No teacher counterpart exists (Heike never counted
// tokens before dispatch); grounded on spec.md §4.6 directly, persisted
// via the same internal/fsutil primitives the cache and memory packages
// use.
package tokenopt

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/mentat-sh/mentat/internal/config"
	"github.com/mentat-sh/mentat/internal/fsutil"
	"github.com/mentat-sh/mentat/internal/provider"
)

var _ provider.Estimator = (*Optimizer)(nil)

// Result is optimize()'s output: the chosen model, the request's
// estimated token count, and which tier it was drawn from.
type Result struct {
	SelectedModel   string
	EstimatedTokens int
	Strategy        string
}

// Hints narrows optimize()'s tier search.
type Hints struct {
	PreferredModel string
	MaxBudget      int
}

type accuracyRecord struct {
	Model        string  `json:"model"`
	SampleCount  int64   `json:"sample_count"`
	TotalError   float64 `json:"total_error"`
	TotalActual  int64   `json:"total_actual"`
}

// Optimizer implements C6.
type Optimizer struct {
	baseDir string
	tiers   []config.TokenOptimizerTier
	enc     *tiktoken.Tiktoken

	mu      sync.Mutex
	history map[string]*accuracyRecord
}

// New builds an Optimizer rooted at <dataDir>/token_history, with tier
// table and tiktoken encoding sourced from cfg.
func New(dataDir string, cfg config.TokenOptimizerConfig) (*Optimizer, error) {
	encodingName := cfg.EncodingName
	if encodingName == "" {
		encodingName = config.DefaultTokenOptimizerEncodingName
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encodingName, err)
	}

	tiers := cfg.Tiers
	if len(tiers) == 0 {
		tiers = []config.TokenOptimizerTier{{Name: "default", MaxTokens: 8000, Model: "gpt-4-turbo"}}
	}

	baseDir := filepath.Join(dataDir, "token_history")
	o := &Optimizer{
		baseDir: baseDir,
		tiers:   tiers,
		enc:     enc,
		history: make(map[string]*accuracyRecord),
	}
	return o, nil
}

// Estimate implements provider.Estimator: a tiktoken-based count for the
// given model (the encoding is fixed per Optimizer; model only labels the
// call for accuracy tracking).
func (o *Optimizer) Estimate(model, text string) int {
	return len(o.enc.Encode(text, nil, nil))
}

// Optimize picks a tier: the caller's preferred model if some tier lists
// it and the estimate fits hints.MaxBudget (when set; that tier's own
// MaxTokens is not checked), else the first tier in configured order
// whose MaxTokens (capped by MaxBudget) covers the estimate, else the
// last tier (spec.md §4.6).
func (o *Optimizer) Optimize(prompt string, hints Hints) Result {
	estimated := o.Estimate("", prompt)

	if hints.PreferredModel != "" {
		for _, tier := range o.tiers {
			if tier.Model == hints.PreferredModel && (hints.MaxBudget <= 0 || estimated <= hints.MaxBudget) {
				return Result{SelectedModel: tier.Model, EstimatedTokens: estimated, Strategy: tier.Name}
			}
		}
	}

	for _, tier := range o.tiers {
		budget := tier.MaxTokens
		if hints.MaxBudget > 0 && hints.MaxBudget < budget {
			budget = hints.MaxBudget
		}
		if estimated <= budget {
			return Result{SelectedModel: tier.Model, EstimatedTokens: estimated, Strategy: tier.Name}
		}
	}

	last := o.tiers[len(o.tiers)-1]
	return Result{SelectedModel: last.Model, EstimatedTokens: estimated, Strategy: last.Name}
}

// RecordActual accumulates estimate-vs-actual error for a (problemId,
// model) pair, persisted to <baseDir>/<model>_<problemId>.json. The
// problem id is not hashed; every character outside letters, digits,
// '-' and '_' (the separator included) is written as '_'.
func (o *Optimizer) RecordActual(problemID string, estimated, actual int, model string) error {
	key := fmt.Sprintf("%s:%s", model, problemID)

	o.mu.Lock()
	rec, ok := o.history[key]
	if !ok {
		rec = &accuracyRecord{Model: model}
		o.history[key] = rec
	}
	rec.SampleCount++
	rec.TotalError += float64(abs(actual - estimated))
	rec.TotalActual += int64(actual)
	snapshot := *rec
	o.mu.Unlock()

	return fsutil.WriteJSON(o.recordPath(key), snapshot)
}

// Stats aggregates every recorded (problem, model) pair's mean absolute
// error, keyed by model, for the stats endpoints.
func (o *Optimizer) Stats() map[string]float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	totals := make(map[string]struct {
		err   float64
		count int64
	})
	for _, rec := range o.history {
		t := totals[rec.Model]
		t.err += rec.TotalError
		t.count += rec.SampleCount
		totals[rec.Model] = t
	}

	out := make(map[string]float64, len(totals))
	for model, t := range totals {
		if t.count == 0 {
			out[model] = 0
			continue
		}
		out[model] = t.err / float64(t.count)
	}
	return out
}

// Maintenance compacts the in-memory metric history, dropping per-problem
// granularity down to per-model totals (spec.md §4.6).
func (o *Optimizer) Maintenance() {
	stats := o.Stats()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = make(map[string]*accuracyRecord, len(stats))
	for model, meanErr := range stats {
		o.history[model] = &accuracyRecord{Model: model, SampleCount: 1, TotalError: meanErr}
	}
}

func (o *Optimizer) recordPath(key string) string {
	return filepath.Join(o.baseDir, sanitizeFileName(key)+".json")
}

func sanitizeFileName(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
