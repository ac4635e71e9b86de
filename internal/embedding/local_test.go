package embedding

import (
	"context"
	"math"
	"testing"
)

func TestHashingEngineDeterministic(t *testing.T) {
	e := NewHashingEngine(DefaultDimensions)
	ctx := context.Background()

	a, err := e.Embed(ctx, "the vector index is rebuilt from sqlite")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := e.Embed(ctx, "the vector index is rebuilt from sqlite")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(a) != DefaultDimensions {
		t.Fatalf("dimensions: want=%d got=%d", DefaultDimensions, len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("non-deterministic at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestHashingEngineUnitLength(t *testing.T) {
	e := NewHashingEngine(64)
	vec, err := e.Embed(context.Background(), "alpha beta gamma delta")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	var sum float64
	for _, f := range vec {
		sum += float64(f) * float64(f)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Fatalf("norm: want=1 got=%v", sum)
	}
}

func TestHashingEngineEmptyText(t *testing.T) {
	e := NewHashingEngine(32)
	vec, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i, f := range vec {
		if f != 0 {
			t.Fatalf("empty text bucket %d: want=0 got=%v", i, f)
		}
	}
}

func TestHashingEngineSimilarTextsCloser(t *testing.T) {
	e := NewHashingEngine(DefaultDimensions)
	ctx := context.Background()

	base, _ := e.Embed(ctx, "redis cache layer with ttl eviction")
	near, _ := e.Embed(ctx, "redis cache layer with lru eviction")
	far, _ := e.Embed(ctx, "neo4j graph traversal of reasoning chains")

	if dot(base, near) <= dot(base, far) {
		t.Fatalf("similarity order: near=%v far=%v", dot(base, near), dot(base, far))
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
