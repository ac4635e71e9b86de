package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashingEngine is a feature-hashing embedder. Word unigrams and bigrams are
// hashed into d buckets with a sign bit, then the vector is L2-normalized.
// It has no vocabulary and no model file, so it can never drift between runs.
type HashingEngine struct {
	dim int
}

func NewHashingEngine(dim int) *HashingEngine {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return &HashingEngine{dim: dim}
}

func (e *HashingEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	tokens := tokenize(text)
	for i, tok := range tokens {
		e.bump(vec, tok)
		if i+1 < len(tokens) {
			e.bump(vec, tok+" "+tokens[i+1])
		}
	}

	var sum float64
	for _, f := range vec {
		sum += float64(f) * float64(f)
	}
	if sum > 0 {
		norm := float32(math.Sqrt(sum))
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

func (e *HashingEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *HashingEngine) Dimensions() int { return e.dim }

func (e *HashingEngine) Name() string { return fmt.Sprintf("hashing:%d", e.dim) }

// bump hashes the feature into a bucket; the low bit picks the sign so
// collisions cancel instead of compounding.
func (e *HashingEngine) bump(vec []float32, feature string) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := int(sum % uint64(e.dim))
	if sum&(1<<63) != 0 {
		vec[bucket] -= 1
	} else {
		vec[bucket] += 1
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
