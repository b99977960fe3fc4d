package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// DeterministicProvider produces stable pseudo-embeddings derived from a hash
// of the input text. Used in development and tests where the real encoder
// service is not running. Similar texts do NOT get similar vectors; only
// determinism and dimensionality are guaranteed.
type DeterministicProvider struct {
	dimensions int
}

// NewDeterministicProvider creates a DeterministicProvider with the given
// output dimensionality.
func NewDeterministicProvider(dimensions int) *DeterministicProvider {
	return &DeterministicProvider{dimensions: dimensions}
}

func (p *DeterministicProvider) Name() string    { return "mock" }
func (p *DeterministicProvider) Dimensions() int { return p.dimensions }

func (p *DeterministicProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dimensions)
	seed := sha256.Sum256([]byte(text))
	state := binary.BigEndian.Uint64(seed[:8])
	var norm float64
	for i := range vec {
		// xorshift64 keyed by the text hash
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v := float64(int64(state)) / float64(math.MaxInt64)
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (p *DeterministicProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
