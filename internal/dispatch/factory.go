package dispatch

import (
	"context"
	"fmt"

	"github.com/mentat-sh/mentat/internal/config"
	mentaterrors "github.com/mentat-sh/mentat/internal/errors"
	"github.com/mentat-sh/mentat/internal/provider"
	"github.com/mentat-sh/mentat/internal/provider/anthropic"
	"github.com/mentat-sh/mentat/internal/provider/gemini"
	"github.com/mentat-sh/mentat/internal/provider/ollama"
	"github.com/mentat-sh/mentat/internal/provider/openai"
	"github.com/mentat-sh/mentat/internal/provider/zai"
)

// BuildFromConfig constructs one provider.Client per registry entry and
// wraps each in a ProviderDescriptor, grounded on the teacher's
// DefaultModelRouter.createProvider switch (internal/model/router.go).
func BuildFromConfig(ctx context.Context, entries []config.ProviderEntry, estimator provider.Estimator, reporter provider.Reporter) ([]*ProviderDescriptor, error) {
	descriptors := make([]*ProviderDescriptor, 0, len(entries))

	for _, entry := range entries {
		client, err := buildClient(ctx, entry, estimator, reporter)
		if err != nil {
			return nil, fmt.Errorf("build provider %q: %w", entry.Name, err)
		}
		descriptors = append(descriptors, NewProviderDescriptor(client, entry.Priority, entry.Weight))
	}

	return descriptors, nil
}

func buildClient(ctx context.Context, entry config.ProviderEntry, estimator provider.Estimator, reporter provider.Reporter) (provider.Client, error) {
	switch entry.Type {
	case "anthropic":
		if entry.APIKey == "" {
			return nil, mentaterrors.InvalidInput("api key required for anthropic provider")
		}
		return anthropic.New(entry.APIKey, estimator, reporter), nil

	case "openai":
		if entry.APIKey == "" {
			return nil, mentaterrors.InvalidInput("api key required for openai provider")
		}
		return openai.New(entry.APIKey, entry.Model, estimator, reporter), nil

	case "ollama":
		return ollama.New(entry.BaseURL, entry.Model, estimator, reporter), nil

	case "gemini":
		if entry.APIKey == "" {
			return nil, mentaterrors.InvalidInput("api key required for gemini provider")
		}
		return gemini.New(ctx, entry.APIKey, estimator, reporter)

	case "zai":
		return zai.New(entry.APIKey, entry.Model, estimator, reporter)

	default:
		return nil, mentaterrors.InvalidInput(fmt.Sprintf("unknown provider type: %s", entry.Type))
	}
}
