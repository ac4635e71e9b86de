package pattern

import (
	"testing"
)

const goSample = `package store

import "context"

type LocalStore struct {
	path string
}

func NewLocalStore(path string) *LocalStore {
	return &LocalStore{path: path}
}

func (s *LocalStore) Get(ctx context.Context, key string) (string, error) {
	return "", nil
}
`

const pySample = `import os
from typing import List

class Repository:
    def __init__(self, path):
        self.path = path

    async def fetch(self, key) -> str:
        return ""

def helper():
    pass
`

func TestExtractFunctionsGo(t *testing.T) {
	got := ExtractFunctions(goSample)
	want := map[string]bool{"NewLocalStore": true, "Get": true}
	if len(got) != len(want) {
		t.Fatalf("functions: want=%d got=%d (%v)", len(want), len(got), got)
	}
	for _, sym := range got {
		if !want[sym.Name] {
			t.Fatalf("unexpected function %q", sym.Name)
		}
		if sym.Line == 0 {
			t.Fatalf("function %q has no line", sym.Name)
		}
	}
}

func TestExtractClassesGoAndPython(t *testing.T) {
	goTypes := ExtractClasses(goSample)
	if len(goTypes) != 1 || goTypes[0].Name != "LocalStore" {
		t.Fatalf("go types: %v", goTypes)
	}

	pyTypes := ExtractClasses(pySample)
	if len(pyTypes) != 1 || pyTypes[0].Name != "Repository" {
		t.Fatalf("py types: %v", pyTypes)
	}
}

func TestExtractFunctionsPython(t *testing.T) {
	got := ExtractFunctions(pySample)
	names := make(map[string]bool, len(got))
	for _, sym := range got {
		names[sym.Name] = true
	}
	for _, want := range []string{"__init__", "fetch", "helper"} {
		if !names[want] {
			t.Fatalf("missing python function %q in %v", want, got)
		}
	}
}

func TestSummarizeCode(t *testing.T) {
	s := SummarizeCode(goSample)
	if len(s.Functions) != 2 || len(s.Classes) != 1 {
		t.Fatalf("summary counts: %+v", s)
	}
	if s.Overview == "" {
		t.Fatalf("empty overview")
	}
}

func TestDriftScore(t *testing.T) {
	if got := DriftScore("a\nb\nc", "a\nb\nc"); got != 0 {
		t.Fatalf("identical: want=0 got=%v", got)
	}
	if got := DriftScore("a\nb\nc", "x\ny\nz"); got != 1 {
		t.Fatalf("disjoint: want=1 got=%v", got)
	}
	half := DriftScore("a\nb", "a\nc")
	if half <= 0 || half >= 1 {
		t.Fatalf("partial: want in (0,1) got=%v", half)
	}
	if got := DriftScore("", ""); got != 0 {
		t.Fatalf("both empty: want=0 got=%v", got)
	}
}
