// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultHashDimensions is the vector length of the hash provider when
// none is configured.
const DefaultHashDimensions = 384

// bigramWeight scales adjacent-word features relative to single words.
const bigramWeight = 0.5

// stopwords are dropped before hashing.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "we": true, "with": true, "our": true, "these": true,
}

// HashProvider embeds text with signed feature hashing over word unigrams
// and bigrams. It needs no model files or network, and equal text always
// yields the same vector.
type HashProvider struct {
	dims int
}

// NewHashProvider returns a hash provider producing dims-length vectors.
func NewHashProvider(dims int) *HashProvider {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashProvider{dims: dims}
}

// Embed returns the normalised feature vector of text.
func (p *HashProvider) Embed(ctx context.Context, text string) (Embedding, error) {
	if err := ctx.Err(); err != nil {
		return Embedding{}, err
	}
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return Embedding{}, ErrEmptyText
	}

	vec := make([]float32, p.dims)
	for i, tok := range tokens {
		p.add(vec, tok, 1)
		if i > 0 {
			p.add(vec, tokens[i-1]+" "+tok, bigramWeight)
		}
	}

	unit, ok := Normalize(vec)
	if !ok {
		return Embedding{}, ErrEmptyText
	}
	return Embedding{Vector: unit}, nil
}

func (p *HashProvider) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// ModelName identifies the hashing scheme and its width.
func (p *HashProvider) ModelName() string {
	return fmt.Sprintf("hash-bow-v1/%d", p.dims)
}

// Dimensions returns the vector length.
func (p *HashProvider) Dimensions() int {
	return p.dims
}

// tokenize lower-cases text and splits it into words, dropping stopwords
// and single characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}
