// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package embedding turns paper text into fixed-length vectors.
package embedding

import (
	"errors"
	"math"
	"strings"

	"github.com/pdiddy/paper-search/pkg/types"
)

// ErrEmptyText is returned when the text to embed carries no content, or
// when the resulting vector has zero norm and cannot be compared.
var ErrEmptyText = errors.New("text has no embeddable content")

// Embedding represents a vector embedding of text.
type Embedding struct {
	Vector []float32
}

// Dimensions returns the dimensionality of the embedding.
func (e Embedding) Dimensions() int {
	return len(e.Vector)
}

// RecordText is the text embedded for a paper: its title and abstract.
func RecordText(rec types.PaperRecord) string {
	return strings.TrimSpace(rec.Title + " " + rec.Abstract)
}

// Normalize returns v scaled to unit length. ok is false when v has zero
// norm.
func Normalize(v []float32) (out []float32, ok bool) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, false
	}
	norm := math.Sqrt(sum)
	out = make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, true
}

// Dot returns the dot product of two equal-length vectors; for unit
// vectors this is their cosine similarity. Mismatched lengths return 0.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
