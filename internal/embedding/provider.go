// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embedding

import (
	"context"
	"fmt"

	"github.com/pdiddy/paper-search/internal/httputil"
	"github.com/pdiddy/paper-search/pkg/types"
)

// Provider generates embeddings from text.
type Provider interface {
	// Embed generates an embedding for the given text. Empty text yields
	// ErrEmptyText.
	Embed(ctx context.Context, text string) (Embedding, error)

	// ModelName identifies the model. Indexes built with one model are
	// never queried with another.
	ModelName() string

	// Dimensions returns the vector length.
	Dimensions() int
}

// New builds the provider selected by cfg.
func New(cfg types.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case types.ProviderHash, "":
		return NewHashProvider(cfg.Dimensions), nil
	case types.ProviderOllama:
		opts := []OllamaOption{
			WithModel(cfg.Model),
			WithDimensions(cfg.Dimensions),
			WithRetry(httputil.Policy{
				MaxAttempts: cfg.Retry.Attempts,
				BaseDelay:   cfg.Retry.BaseDelay,
				MaxDelay:    cfg.Retry.MaxDelay,
			}),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, WithTimeout(cfg.Timeout))
		}
		if cfg.UserAgent != "" {
			opts = append(opts, WithUserAgent(cfg.UserAgent))
		}
		if cfg.APIKey != "" {
			opts = append(opts, WithAPIKey(cfg.APIKey))
		}
		return NewOllamaProvider(opts...), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
