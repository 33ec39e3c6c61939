// Package ollama wires openaicompat against a local Ollama daemon's
// OpenAI-compatible endpoint.
package ollama

import "github.com/mentat-sh/mentat/internal/provider"
import "github.com/mentat-sh/mentat/internal/provider/openaicompat"

const defaultBaseURL = "http://localhost:11434/v1"

// New builds the "ollama" provider client. Ollama requires no real
// credential; go-openai still wants a non-empty key string.
func New(baseURL, model string, estimator provider.Estimator, reporter provider.Reporter) *openaicompat.Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return openaicompat.New(openaicompat.Config{
		Name:         "ollama",
		APIKey:       "ollama",
		BaseURL:      baseURL,
		DefaultModel: model,
	}, estimator, reporter)
}
