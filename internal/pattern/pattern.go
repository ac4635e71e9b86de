// Package pattern is best-effort static analysis over raw text. Extraction
// is regex-based and language-agnostic enough to cover the common cases; it
// never claims to be a parser.
package pattern

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Symbol is one extracted declaration.
type Symbol struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Line      int    `json:"line"`
	Signature string `json:"signature"`
}

// Summary is the summarize_code result.
type Summary struct {
	Lines     int      `json:"lines"`
	Functions []Symbol `json:"functions"`
	Classes   []Symbol `json:"classes"`
	Imports   []string `json:"imports"`
	Overview  string   `json:"overview"`
}

var functionRes = []*regexp.Regexp{
	// Go, including methods.
	regexp.MustCompile(`^\s*func\s+(?:\([^)]*\)\s+)?([A-Za-z_]\w*)\s*\(`),
	// Python.
	regexp.MustCompile(`^\s*(?:async\s+)?def\s+([A-Za-z_]\w*)\s*\(`),
	// JavaScript / TypeScript.
	regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)\s*\(`),
	regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s+)?(?:\([^)]*\)|[A-Za-z_$][\w$]*)\s*=>`),
	// Rust.
	regexp.MustCompile(`^\s*(?:pub\s+)?(?:async\s+)?fn\s+([A-Za-z_]\w*)`),
	// C-family free functions (return type then name).
	regexp.MustCompile(`^\s*(?:[A-Za-z_][\w:<>,\s\*&]*\s+)+([A-Za-z_]\w*)\s*\([^;]*\)\s*\{`),
}

var classRes = []*regexp.Regexp{
	regexp.MustCompile(`^\s*(?:export\s+)?(?:abstract\s+)?class\s+([A-Za-z_]\w*)`),
	regexp.MustCompile(`^\s*type\s+([A-Za-z_]\w*)\s+(?:struct|interface)\b`),
	regexp.MustCompile(`^\s*(?:pub\s+)?(?:struct|enum|trait)\s+([A-Za-z_]\w*)`),
}

var importRes = []*regexp.Regexp{
	regexp.MustCompile(`^\s*import\s+(?:[\w.{}\s,*]+\s+from\s+)?["']([^"']+)["']`),
	regexp.MustCompile(`^\s*(?:from\s+([\w.]+)\s+import|import\s+([\w.]+))\s*$`),
	regexp.MustCompile(`^\s*(?:import\s+)?(?:\w+\s+)?"([\w./-]+)"\s*$`),
	regexp.MustCompile(`^\s*use\s+([\w:]+)`),
}

// ExtractFunctions scans for function-shaped declarations.
func ExtractFunctions(source string) []Symbol {
	return extract(source, functionRes, "function")
}

// ExtractClasses scans for type-shaped declarations.
func ExtractClasses(source string) []Symbol {
	return extract(source, classRes, "class")
}

func extract(source string, patterns []*regexp.Regexp, kind string) []Symbol {
	var out []Symbol
	seen := make(map[string]bool)
	for i, line := range strings.Split(source, "\n") {
		for _, re := range patterns {
			m := re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			name := firstGroup(m)
			if name == "" {
				continue
			}
			key := fmt.Sprintf("%s:%d", name, i+1)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Symbol{
				Name:      name,
				Kind:      kind,
				Line:      i + 1,
				Signature: strings.TrimSpace(line),
			})
			break
		}
	}
	return out
}

// SummarizeCode combines extraction passes into a single overview.
func SummarizeCode(source string) *Summary {
	lines := strings.Split(source, "\n")
	s := &Summary{
		Lines:     len(lines),
		Functions: ExtractFunctions(source),
		Classes:   ExtractClasses(source),
	}

	seen := make(map[string]bool)
	for _, line := range lines {
		for _, re := range importRes {
			m := re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			if imp := firstGroup(m); imp != "" && !seen[imp] {
				seen[imp] = true
				s.Imports = append(s.Imports, imp)
			}
			break
		}
	}
	sort.Strings(s.Imports)

	s.Overview = fmt.Sprintf("%d lines, %d functions, %d types, %d imports",
		s.Lines, len(s.Functions), len(s.Classes), len(s.Imports))
	return s
}

// DriftScore measures how far current content has moved from a stored
// snapshot, as the fraction of changed lines (Jaccard distance over the line
// sets). 0 means identical, 1 means nothing in common.
func DriftScore(stored, current string) float64 {
	a := lineSet(stored)
	b := lineSet(current)
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for line := range a {
		if b[line] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return 1 - float64(inter)/float64(union)
}

func lineSet(text string) map[string]bool {
	out := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out[line] = true
		}
	}
	return out
}

func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}
