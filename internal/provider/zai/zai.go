// Package zai wires openaicompat against the Z.ai GLM coding endpoint.
package zai

import (
	"fmt"

	"github.com/mentat-sh/mentat/internal/provider"
	"github.com/mentat-sh/mentat/internal/provider/openaicompat"
)

const (
	DefaultBaseURL = "https://api.z.ai/api/paas/v4/"
	CodingBaseURL  = "https://api.z.ai/api/coding/paas/v4/"
	defaultModel   = "glm-5"
)

func New(apiKey, model string, estimator provider.Estimator, reporter provider.Reporter) (*openaicompat.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("zai: api key is required")
	}
	if model == "" {
		model = defaultModel
	}
	return openaicompat.New(openaicompat.Config{
		Name:         "zai",
		APIKey:       apiKey,
		BaseURL:      CodingBaseURL,
		DefaultModel: model,
	}, estimator, reporter), nil
}
