// File path: internal/llm/providers/local.go
package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/devtrail/devtrail/internal/common/telemetry"
)

// Message is one chat turn handed to a provider.
type Message struct {
	Role    string
	Content string
}

// Provider abstracts the model backend used for summaries and embeddings.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Embed(ctx context.Context, input []string) ([][]float32, error)
	Name() string
}

// LocalProvider is the deterministic fallback used when no API key is
// configured. Chat answers echo the request and embeddings are derived
// from token hashes, so downstream clustering stays usable offline.
type LocalProvider struct{}

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

func (l *LocalProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	telemetry.RecordCapabilityFallback("chat")
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages provided")
	}
	last := strings.TrimSpace(messages[len(messages)-1].Content)
	if idx := strings.IndexByte(last, '\n'); idx > 0 {
		last = last[:idx]
	}
	if len(last) > 120 {
		last = last[:120]
	}
	return "[local] " + last, nil
}

const localEmbedDim = 64

func (l *LocalProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	telemetry.RecordCapabilityFallback("embed")
	vectors := make([][]float32, len(input))
	for i, text := range input {
		vectors[i] = hashEmbed(text)
	}
	return vectors, nil
}

// hashEmbed buckets token hashes into a fixed-size vector and normalizes
// it. Equal inputs always produce equal vectors.
func hashEmbed(text string) []float32 {
	vec := make([]float32, localEmbedDim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[h.Sum32()%localEmbedDim]++
	}
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(float64(norm)))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func (l *LocalProvider) Name() string {
	return "local"
}
