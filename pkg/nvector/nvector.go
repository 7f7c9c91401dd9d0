// Package nvector provides the small amount of in-process vector math that
// WhisperEngine needs on top of the database-side pgvector operators:
// L2 normalisation, cosine similarity, and dimension checks.
//
// All memory vectors are 384-dimensional and L2-normalised, so dot product
// equals cosine similarity everywhere in the system.
package nvector

import (
	"fmt"
	"math"
)

// Dimensions is the fixed embedding dimension used across the system.
// Every named vector on every memory entry has exactly this length.
const Dimensions = 384

// NormTolerance is the maximum deviation from unit length accepted by
// [CheckNormalized].
const NormTolerance = 1e-4

// Normalize returns an L2-normalised copy of v. A zero vector is returned
// unchanged — normalising it would divide by zero, and a zero vector scores
// zero against everything, which is the harmless outcome.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Cosine returns the cosine similarity of a and b. For normalised vectors
// this is the plain dot product. Returns 0 when the lengths differ or either
// vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// CheckDimensions returns an error when v does not have exactly
// [Dimensions] elements.
func CheckDimensions(v []float32) error {
	if len(v) != Dimensions {
		return fmt.Errorf("nvector: expected %d dimensions, got %d", Dimensions, len(v))
	}
	return nil
}

// CheckNormalized returns an error when v deviates from unit L2 length by
// more than [NormTolerance].
func CheckNormalized(v []float32) error {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if math.Abs(norm-1) > NormTolerance {
		return fmt.Errorf("nvector: vector is not L2-normalised (norm=%f)", norm)
	}
	return nil
}
