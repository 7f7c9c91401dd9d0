package resilience

import (
	"context"
	"errors"
	"testing"

	embmock "github.com/whisperengine-ai/whisperengine/pkg/provider/embeddings/mock"
)

func TestEmbeddingsFailover_Embed(t *testing.T) {
	primary := &embmock.Provider{EmbedErr: errTest, EmbedBatchErr: errTest, DimensionsValue: 3, ModelIDValue: "m"}
	backup := &embmock.Provider{EmbedResult: []float32{1, 0, 0}, DimensionsValue: 3, ModelIDValue: "m"}

	f := NewEmbeddingsFailover(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	vec, err := f.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[0] != 1 {
		t.Errorf("vec = %v", vec)
	}
	if len(primary.EmbedCalls) != 1 || len(backup.EmbedCalls) != 1 {
		t.Errorf("calls: primary=%d backup=%d", len(primary.EmbedCalls), len(backup.EmbedCalls))
	}
}

func TestEmbeddingsFailover_EmbedBatch(t *testing.T) {
	primary := &embmock.Provider{EmbedBatchErr: errTest}
	backup := &embmock.Provider{EmbedBatchResult: [][]float32{{0, 1}, {1, 0}}}

	f := NewEmbeddingsFailover(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	vecs, err := f.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 2 {
		t.Errorf("vecs = %v", vecs)
	}
}

func TestEmbeddingsFailover_AllFail(t *testing.T) {
	f := NewEmbeddingsFailover(&embmock.Provider{EmbedErr: errTest}, "primary", FallbackConfig{})
	f.AddFallback("backup", &embmock.Provider{EmbedErr: errTest})

	_, err := f.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestEmbeddingsFailover_Metadata(t *testing.T) {
	f := NewEmbeddingsFailover(&embmock.Provider{DimensionsValue: 384, ModelIDValue: "all-minilm"}, "primary", FallbackConfig{})
	if f.Dimensions() != 384 {
		t.Errorf("dimensions = %d", f.Dimensions())
	}
	if f.ModelID() != "all-minilm" {
		t.Errorf("model id = %q", f.ModelID())
	}
}
