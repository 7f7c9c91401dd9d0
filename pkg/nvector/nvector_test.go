package nvector

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Run("produces unit length", func(t *testing.T) {
		v := []float32{3, 4}
		n := Normalize(v)
		var sum float64
		for _, x := range n {
			sum += float64(x) * float64(x)
		}
		if math.Abs(math.Sqrt(sum)-1) > NormTolerance {
			t.Errorf("expected unit length, got %f", math.Sqrt(sum))
		}
	})

	t.Run("zero vector passes through", func(t *testing.T) {
		n := Normalize([]float32{0, 0, 0})
		for i, x := range n {
			if x != 0 {
				t.Errorf("element %d: expected 0, got %f", i, x)
			}
		}
	})

	t.Run("does not mutate input", func(t *testing.T) {
		v := []float32{3, 4}
		_ = Normalize(v)
		if v[0] != 3 || v[1] != 4 {
			t.Errorf("input mutated: %v", v)
		}
	})
}

func TestCosine(t *testing.T) {
	t.Run("identical vectors score 1", func(t *testing.T) {
		v := Normalize([]float32{1, 2, 3})
		if got := Cosine(v, v); math.Abs(got-1) > 1e-6 {
			t.Errorf("expected 1, got %f", got)
		}
	})

	t.Run("orthogonal vectors score 0", func(t *testing.T) {
		a := []float32{1, 0}
		b := []float32{0, 1}
		if got := Cosine(a, b); got != 0 {
			t.Errorf("expected 0, got %f", got)
		}
	})

	t.Run("mismatched lengths score 0", func(t *testing.T) {
		if got := Cosine([]float32{1}, []float32{1, 0}); got != 0 {
			t.Errorf("expected 0, got %f", got)
		}
	})
}

func TestCheckDimensions(t *testing.T) {
	if err := CheckDimensions(make([]float32, Dimensions)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := CheckDimensions(make([]float32, 10)); err == nil {
		t.Error("expected error for wrong dimension count")
	}
}

func TestCheckNormalized(t *testing.T) {
	if err := CheckNormalized(Normalize(make384(0.5))); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := CheckNormalized(make384(0.5)); err == nil {
		t.Error("expected error for unnormalised vector")
	}
}

func make384(fill float32) []float32 {
	v := make([]float32, Dimensions)
	for i := range v {
		v[i] = fill
	}
	return v
}
