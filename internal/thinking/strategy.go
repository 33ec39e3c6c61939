package thinking

import (
	"fmt"
	"sort"
	"strings"
)

// Strategy produces successive step prompts from the running step
// history, deciding when the process is complete.
type Strategy interface {
	Name() string
	NextPrompt(problem string, steps []Step) (prompt string, done bool)
	Visualize(steps []Step) *Visualization
}

// chainOfThought asks one linear "next thought" question per step until
// a step's response contains a completion marker.
type chainOfThought struct{}

func (chainOfThought) Name() string { return "chain_of_thought" }

func (chainOfThought) NextPrompt(problem string, steps []Step) (string, bool) {
	if len(steps) == 0 {
		return fmt.Sprintf("Think step by step about: %s\nStep 1:", problem), false
	}
	last := steps[len(steps)-1]
	if strings.Contains(strings.ToLower(last.Response), "final answer") {
		return "", true
	}
	return fmt.Sprintf("Continue reasoning about: %s\nPrevious step: %s\nStep %d:", problem, last.Response, len(steps)+1), false
}

func (chainOfThought) Visualize(steps []Step) *Visualization {
	if len(steps) == 0 {
		return nil
	}
	nodes := make([]string, len(steps))
	edges := make([][2]int, 0, len(steps)-1)
	for i, s := range steps {
		nodes[i] = fmt.Sprintf("step-%d", s.Index)
		if i > 0 {
			edges = append(edges, [2]int{i - 1, i})
		}
	}
	return &Visualization{Nodes: nodes, Edges: edges}
}

// treeOfThoughts asks for candidate approaches on its first step, then
// expands the latest branch with one prompt per step, converging once a
// step's response contains a completion marker. Visualize records every
// step as a sibling branch under a single root node.
type treeOfThoughts struct{}

func (treeOfThoughts) Name() string { return "tree_of_thoughts" }

func (treeOfThoughts) NextPrompt(problem string, steps []Step) (string, bool) {
	if len(steps) == 0 {
		return fmt.Sprintf("Consider up to 3 candidate approaches to: %s\nBranch 1:", problem), false
	}
	last := steps[len(steps)-1]
	if strings.Contains(strings.ToLower(last.Response), "final answer") {
		return "", true
	}
	return fmt.Sprintf("Given branch so far: %s\nExpand the most promising branch for: %s\nBranch %d:", last.Response, problem, len(steps)+1), false
}

func (treeOfThoughts) Visualize(steps []Step) *Visualization {
	if len(steps) == 0 {
		return nil
	}
	nodes := make([]string, len(steps)+1)
	nodes[0] = "root"
	edges := make([][2]int, 0, len(steps))
	for i, s := range steps {
		nodes[i+1] = fmt.Sprintf("branch-%d", s.Index)
		edges = append(edges, [2]int{0, i + 1})
	}
	return &Visualization{Nodes: nodes, Edges: edges}
}

// Registry resolves a modelName (spec.md §4.7: "a fixed set... unknown
// names fall back to a configured default") or auto-selects by a
// complexity heuristic over the problem text.
type Registry struct {
	strategies map[string]Strategy
	defaultKey string
}

func NewRegistry(defaultStrategy string) *Registry {
	r := &Registry{
		strategies: map[string]Strategy{
			"chain_of_thought": chainOfThought{},
			"tree_of_thoughts": treeOfThoughts{},
		},
		defaultKey: defaultStrategy,
	}
	if _, ok := r.strategies[r.defaultKey]; !ok {
		r.defaultKey = "chain_of_thought"
	}
	return r
}

// Names returns every registered strategy name, for the
// mcp://config/reasoning-systems resource.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve picks modelName's strategy if known; an unknown non-empty
// modelName falls back to the configured default, and an empty one
// auto-selects by complexity heuristic (length, keyword density,
// structural markers).
func (r *Registry) Resolve(modelName, problem string) Strategy {
	if s, ok := r.strategies[modelName]; ok {
		return s
	}
	if modelName != "" {
		return r.strategies[r.defaultKey]
	}
	return r.strategies[r.autoSelect(problem)]
}

// autoSelect implements spec.md §4.7's complexity heuristic: longer,
// keyword-dense, structurally marked problems get tree-of-thoughts;
// everything else gets chain-of-thought.
func (r *Registry) autoSelect(problem string) string {
	if _, ok := r.strategies["tree_of_thoughts"]; !ok {
		return r.defaultKey
	}

	score := 0
	if len(problem) > 400 {
		score++
	}
	lower := strings.ToLower(problem)
	for _, kw := range []string{"compare", "trade-off", "alternatives", "options", "versus", "vs."} {
		if strings.Contains(lower, kw) {
			score++
			break
		}
	}
	for _, marker := range []string{"\n1.", "\n-", "\n*"} {
		if strings.Contains(problem, marker) {
			score++
			break
		}
	}

	if score >= 2 {
		return "tree_of_thoughts"
	}
	return r.defaultKey
}
