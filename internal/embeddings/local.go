package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalProvider is a dependency-free dense encoder built on the hashing
// trick: unigrams and bigrams are hashed into a fixed-width vector which is
// then L2-normalized. It is deterministic, cheap, and good enough for
// single-node development; production namespaces use the hosted provider.
type LocalProvider struct {
	dims int
}

// NewLocalProvider creates a local provider with the given dimension.
func NewLocalProvider(dims int) *LocalProvider {
	if dims <= 0 {
		dims = 384
	}
	return &LocalProvider{dims: dims}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Dimensions() int { return p.dims }

// Embed never fails and ignores the context; it is pure CPU work.
func (p *LocalProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dims)
	tokens := tokenize(text)

	for i, tok := range tokens {
		addFeature(vec, tok, 1.0)
		if i+1 < len(tokens) {
			addFeature(vec, tok+" "+tokens[i+1], 0.5)
		}
	}

	normalize(vec)
	return vec, nil
}

// addFeature hashes the feature twice: once for the slot, once for the sign.
// Signed hashing keeps the expected dot product of unrelated texts near zero.
func addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	slot := int(sum % uint64(len(vec)))
	if (sum>>63)&1 == 1 {
		weight = -weight
	}
	vec[slot] += weight
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
