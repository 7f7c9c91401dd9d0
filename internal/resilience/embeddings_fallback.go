package resilience

import (
	"context"

	"github.com/whisperengine-ai/whisperengine/pkg/provider/embeddings"
)

// EmbeddingsFailover implements [embeddings.Provider] with automatic failover
// across multiple embedding backends.
//
// Every registered backend must produce vectors of the same dimensionality
// and, ideally, from the same model family: vectors from different models
// live in different spaces, so mixing backends mid-collection degrades
// retrieval. Failover here is meant for redundant deployments of the same
// model, not for swapping models.
type EmbeddingsFailover struct {
	group *FallbackGroup[embeddings.Provider]
}

var _ embeddings.Provider = (*EmbeddingsFailover)(nil)

// NewEmbeddingsFailover creates an [EmbeddingsFailover] with primary as the
// preferred backend. cfg.Kind is forced to "embeddings".
func NewEmbeddingsFailover(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFailover {
	cfg.Kind = "embeddings"
	return &EmbeddingsFailover{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional embeddings provider as a fallback.
func (f *EmbeddingsFailover) AddFallback(name string, provider embeddings.Provider) {
	f.group.AddFallback(name, provider)
}

// Embed computes one embedding via the first healthy provider.
func (f *EmbeddingsFailover) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch computes a batch of embeddings via the first healthy provider.
func (f *EmbeddingsFailover) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the primary's vector length. All entries are required to
// agree, so no failover applies.
func (f *EmbeddingsFailover) Dimensions() int {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Dimensions()
	}
	return 0
}

// ModelID returns the primary's model identifier.
func (f *EmbeddingsFailover) ModelID() string {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.ModelID()
	}
	return ""
}
