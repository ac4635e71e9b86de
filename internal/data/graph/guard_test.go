package graph

import (
	"testing"

	"github.com/contextkeep/ltmc/internal/platform/ltmerr"
)

func TestGuardReadOnlyAllowsReads(t *testing.T) {
	queries := []string{
		"MATCH (m:Memory) RETURN m.id LIMIT 10",
		"MATCH (a)-[r:references]->(b) RETURN a.id, b.id",
		"MATCH (m:Memory {id: $id}) RETURN properties(m)",
		// Substrings of mutation keywords are not mutations.
		"MATCH (m:Memory) WHERE m.id CONTAINS 'reset' RETURN m",
		"MATCH (m:Memory) WHERE m.kind = 'dataset' RETURN count(m)",
	}
	for _, q := range queries {
		if err := GuardReadOnly(q); err != nil {
			t.Fatalf("GuardReadOnly(%q): unexpected error %v", q, err)
		}
	}
}

func TestGuardReadOnlyRejectsMutations(t *testing.T) {
	queries := []string{
		"CREATE (m:Memory {id: 'x'})",
		"MATCH (m:Memory) SET m.kind = 'doc' RETURN m",
		"MATCH (m:Memory) DELETE m",
		"MATCH (m:Memory) DETACH DELETE m",
		"MERGE (m:Memory {id: 'x'}) RETURN m",
		"MATCH (m:Memory) REMOVE m.kind RETURN m",
		"match (m) set m.x = 1",
		"DROP CONSTRAINT memory_id_unique",
	}
	for _, q := range queries {
		err := GuardReadOnly(q)
		if err == nil {
			t.Fatalf("GuardReadOnly(%q): want error, got nil", q)
		}
		if kind := ltmerr.KindOf(err); kind != ltmerr.KindReadOnlyViolation {
			t.Fatalf("GuardReadOnly(%q): kind want=%v got=%v", q, ltmerr.KindReadOnlyViolation, kind)
		}
	}
}
