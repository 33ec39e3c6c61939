// Package openai wires openaicompat against the public OpenAI API.
package openai

import "github.com/mentat-sh/mentat/internal/provider"
import "github.com/mentat-sh/mentat/internal/provider/openaicompat"

// New builds the "openai" provider client. apiKey empty falls back to
// OPENAI_API_KEY. model is the default used when a request omits Model.
func New(apiKey, model string, estimator provider.Estimator, reporter provider.Reporter) *openaicompat.Client {
	return openaicompat.New(openaicompat.Config{
		Name:         "openai",
		APIKeyEnv:    "OPENAI_API_KEY",
		APIKey:       apiKey,
		DefaultModel: model,
	}, estimator, reporter)
}
