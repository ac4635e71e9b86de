package thought

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/contextkeep/ltmc/internal/domain"
	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

func thoughtRow(t *testing.T, id int64, sessionID, ulid, kind, content string, step int) *domain.Resource {
	t.Helper()
	sum := sha256.Sum256([]byte(content))
	raw, err := json.Marshal(domain.ThoughtMeta{
		SessionID:   sessionID,
		StepNumber:  step,
		Kind:        kind,
		ContentHash: hex.EncodeToString(sum[:]),
		ULID:        ulid,
	})
	if err != nil {
		t.Fatalf("marshal meta: %v", err)
	}
	return &domain.Resource{
		ID:        id,
		FileName:  thoughtFileName(sessionID, ulid),
		Type:      domain.ResourceTypeThought,
		Content:   content,
		Metadata:  datatypes.JSON(raw),
		CreatedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestToNodeVerifiesHash(t *testing.T) {
	row := thoughtRow(t, 1, "s1", "01AAAAAAAAAAAAAAAAAAAAAAAA", domain.ThoughtKindProblem, "what is drift?", 1)
	node, err := toNode(row)
	if err != nil {
		t.Fatalf("toNode: %v", err)
	}
	if node.ULID != "01AAAAAAAAAAAAAAAAAAAAAAAA" || node.StepNumber != 1 {
		t.Fatalf("node fields: %+v", node)
	}

	// Tamper with the stored content.
	row.Content = "what is drift? (edited)"
	_, err = toNode(row)
	if err == nil {
		t.Fatalf("tampered content: want error, got nil")
	}
	if kind := ltmerr.KindOf(err); kind != ltmerr.KindIntegrityError {
		t.Fatalf("tampered content kind: want=%v got=%v", ltmerr.KindIntegrityError, kind)
	}
}

func TestAnalyzeFullChain(t *testing.T) {
	nodes := []*Node{
		{ULID: "a", Kind: domain.ThoughtKindProblem, StepNumber: 1, Content: "what causes the drift?"},
		{ULID: "b", Kind: domain.ThoughtKindIntermediate, StepNumber: 2, Content: "consider index write failures"},
		{ULID: "c", Kind: domain.ThoughtKindConclusion, StepNumber: 3, Content: "therefore replay the repair queue"},
	}
	a := analyze("s1", nodes)

	if a.ChainLength != 3 {
		t.Fatalf("chain_length: want=3 got=%d", a.ChainLength)
	}
	if !a.HasProblemDefinition || !a.HasConclusion {
		t.Fatalf("problem/conclusion flags: %+v", a)
	}
	if a.CoherenceScore != 1.0 {
		t.Fatalf("coherence: want=1.0 got=%v", a.CoherenceScore)
	}
	if a.KindCounts[domain.ThoughtKindIntermediate] != 1 {
		t.Fatalf("kind counts: %+v", a.KindCounts)
	}
}

func TestAnalyzePenalizesGapsAndMissingEnds(t *testing.T) {
	nodes := []*Node{
		{ULID: "a", Kind: domain.ThoughtKindIntermediate, StepNumber: 1, Content: "some reasoning here"},
		{ULID: "b", Kind: domain.ThoughtKindIntermediate, StepNumber: 4, Content: "a jump in the chain"},
	}
	a := analyze("s1", nodes)
	if a.HasProblemDefinition || a.HasConclusion {
		t.Fatalf("flags should be false: %+v", a)
	}
	if a.CoherenceScore >= 0.5 {
		t.Fatalf("coherence for broken chain: want<0.5 got=%v", a.CoherenceScore)
	}
}

func TestAnalyzeEmptySession(t *testing.T) {
	a := analyze("empty", nil)
	if a.ChainLength != 0 || a.CoherenceScore != 0 {
		t.Fatalf("empty session: %+v", a)
	}
}

func TestHeadValueRoundTrip(t *testing.T) {
	id, step := parseHeadValue(headValue("01AAAAAAAAAAAAAAAAAAAAAAAA", 7))
	if id != "01AAAAAAAAAAAAAAAAAAAAAAAA" || step != 7 {
		t.Fatalf("round trip: id=%q step=%d", id, step)
	}

	id, step = parseHeadValue("bare-ulid")
	if id != "bare-ulid" || step != 0 {
		t.Fatalf("legacy value: id=%q step=%d", id, step)
	}
}
