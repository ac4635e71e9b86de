package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/contextkeep/ltmc/internal/thought"
)

type fakeThoughtService struct {
	created  *thought.CreateResult
	analysis *thought.ChainAnalysis
}

func (f *fakeThoughtService) Create(ctx context.Context, req thought.CreateRequest) (*thought.CreateResult, error) {
	return f.created, nil
}

func (f *fakeThoughtService) AnalyzeChain(ctx context.Context, sessionID string) (*thought.ChainAnalysis, error) {
	return f.analysis, nil
}

func (f *fakeThoughtService) FindSimilar(ctx context.Context, query string, k int, includeChains bool) ([]*thought.SimilarThought, error) {
	return nil, nil
}

func TestThoughtCreateResultIsFlat(t *testing.T) {
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fake := &fakeThoughtService{
		created: &thought.CreateResult{
			Node: &thought.Node{
				ULID:        "01J0000000000000000000TEST",
				SessionID:   "s1",
				Kind:        "reasoning",
				StepNumber:  1,
				Content:     "first step",
				ContentHash: "abc123",
				CreatedAt:   created,
			},
			DatabasesAffected: []string{"sqlite", "vector"},
			ExecutionTimeMs:   4.2,
			SLACompliant:      true,
		},
	}
	d := testDispatcher(t, Options{})
	d.Register(thoughtTool(Deps{Thought: fake}))

	resp := call(t, d, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"thought","arguments":{"action":"create","session_id":"s1","content":"first step"}}}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["success"] != true {
		t.Fatalf("result: %+v", result)
	}
	if result["ulid"] != "01J0000000000000000000TEST" || result["session_id"] != "s1" {
		t.Fatalf("identity fields not at top level: %+v", result)
	}
	if result["content_hash"] != "abc123" || result["sla_compliant"] != true {
		t.Fatalf("create fields not at top level: %+v", result)
	}
	if result["execution_time_ms"] != 4.2 {
		t.Fatalf("execution_time_ms: want=4.2 got=%v", result["execution_time_ms"])
	}
	if _, nested := result["thought"]; nested {
		t.Fatalf("create result must not nest the node: %+v", result)
	}
	// previous_thought_id is omitted for a chain head.
	if _, ok := result["previous_thought_id"]; ok {
		t.Fatalf("chain head carries no previous_thought_id: %+v", result)
	}
}

func TestThoughtAnalyzeChainResultIsFlat(t *testing.T) {
	fake := &fakeThoughtService{
		analysis: &thought.ChainAnalysis{
			SessionID:            "s1",
			ChainLength:          2,
			Thoughts:             []*thought.Node{{ULID: "a"}, {ULID: "b"}},
			KindCounts:           map[string]int{"reasoning": 2},
			AvgContentLength:     10,
			HasProblemDefinition: true,
			CoherenceScore:       0.5,
		},
	}
	d := testDispatcher(t, Options{})
	d.Register(thoughtTool(Deps{Thought: fake}))

	resp := call(t, d, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"thought","arguments":{"action":"analyze_chain","session_id":"s1"}}}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["session_id"] != "s1" || result["chain_length"] != 2 {
		t.Fatalf("chain fields not at top level: %+v", result)
	}
	thoughts, ok := result["thoughts"].([]*thought.Node)
	if !ok || len(thoughts) != 2 {
		t.Fatalf("thoughts: %+v", result["thoughts"])
	}
	analysis, ok := result["analysis"].(map[string]any)
	if !ok {
		t.Fatalf("analysis block: %+v", result["analysis"])
	}
	if analysis["coherence_score"] != 0.5 || analysis["has_problem_definition"] != true {
		t.Fatalf("analysis fields: %+v", analysis)
	}
}
