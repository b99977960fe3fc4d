// Package embedding abstracts the text-to-vector model behind a Provider
// interface. The model itself runs as an external service; this package only
// knows how to call it and how its failures are classified.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/reflectai/journal/internal/config"
)

// Sentinel errors for embedding provider failures. ErrProviderUnavailable
// covers transient transport and 5xx failures after retries are exhausted.
var (
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
	ErrEmbedTimeout        = errors.New("embedding request timeout")
	ErrBadResponse         = errors.New("embedding provider returned malformed response")
)

// Provider generates fixed-length embedding vectors from text. Generation is
// assumed deterministic per model version.
type Provider interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings in the same order as the input texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector size this provider produces.
	Dimensions() int

	// Name identifies the provider for logging.
	Name() string
}

// NewProvider constructs the configured Provider implementation.
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "http":
		return NewHTTPProvider(cfg), nil
	case "mock":
		return NewDeterministicProvider(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}
}
