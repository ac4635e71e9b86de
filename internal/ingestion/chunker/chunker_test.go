package chunker

import (
	"strings"
	"testing"
)

func TestSplitEmpty(t *testing.T) {
	if got := Split("", Options{}); got != nil {
		t.Fatalf("empty text: want=nil got=%v", got)
	}
	if got := Split("   \n\t  ", Options{}); got != nil {
		t.Fatalf("whitespace text: want=nil got=%v", got)
	}
}

func TestSplitDefaultTargetSize(t *testing.T) {
	if DefaultTargetSize != 512 {
		t.Fatalf("default target size: want=512 got=%d", DefaultTargetSize)
	}
	// Zero options take the defaults: a text just over the 10% slack must
	// split, one under it must not.
	over := strings.Repeat("word ", 120) // 600 runes
	if got := Split(over, Options{}); len(got) < 2 {
		t.Fatalf("text over the default cap: want>=2 chunks got=%d", len(got))
	}
	under := strings.Repeat("word ", 100) // 500 runes
	if got := Split(under, Options{}); len(got) != 1 {
		t.Fatalf("text under the default cap: want=1 chunk got=%d", len(got))
	}
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	text := "A single small paragraph that fits in one chunk."
	got := Split(text, Options{TargetSize: 1000, Overlap: 50})
	if len(got) != 1 || got[0] != text {
		t.Fatalf("short text: want=[%q] got=%v", text, got)
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("Sentence one is here. Sentence two follows it. ", 80)
	a := Split(text, Options{TargetSize: 300, Overlap: 40})
	b := Split(text, Options{TargetSize: 300, Overlap: 40})
	if len(a) != len(b) {
		t.Fatalf("chunk count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("chunk %d differs:\n%q\n%q", i, a[i], b[i])
		}
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	para := strings.Repeat("word ", 40) // ~200 runes
	text := strings.TrimSpace(strings.Repeat(para+"\n\n", 6))
	got := Split(text, Options{TargetSize: 250, Overlap: 0})
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}
	for i, c := range got {
		if strings.Contains(c, "\n\n") {
			t.Fatalf("chunk %d spans a paragraph boundary: %q", i, c)
		}
	}
}

func TestSplitRespectsHardCap(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta epsilon. ", 200)
	target := 300
	got := Split(text, Options{TargetSize: target, Overlap: 0})
	maxLen := int(float64(target) * slackFactor)
	for i, c := range got {
		if n := len([]rune(c)); n > maxLen {
			t.Fatalf("chunk %d has %d runes, cap %d", i, n, maxLen)
		}
	}
}

func TestSplitHardCutsUnbrokenToken(t *testing.T) {
	text := strings.Repeat("x", 950)
	got := Split(text, Options{TargetSize: 200, Overlap: 0})
	if len(got) < 4 {
		t.Fatalf("expected hard cuts, got %d chunks", len(got))
	}
	var total int
	for _, c := range got {
		total += len([]rune(c))
	}
	if total != 950 {
		t.Fatalf("hard cut lost runes: want=950 got=%d", total)
	}
}

func TestSplitRuneSafety(t *testing.T) {
	text := strings.Repeat("héllo wörld ", 400)
	got := Split(text, Options{TargetSize: 100, Overlap: 20})
	for i, c := range got {
		if !strings.HasPrefix(c, "h") && !strings.HasPrefix(c, "w") && !strings.HasPrefix(c, "é") && !strings.HasPrefix(c, "ö") {
			t.Fatalf("chunk %d starts mid-token: %q", i, c[:8])
		}
		if strings.ContainsRune(c, '�') {
			t.Fatalf("chunk %d contains a broken UTF-8 sequence", i)
		}
	}
}

func TestSplitOverlapCarriesTail(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 60)
	overlap := 30
	got := Split(text, Options{TargetSize: 200, Overlap: overlap})
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		head := []rune(got[i])
		if len(head) > overlap {
			head = head[:overlap]
		}
		if !strings.Contains(got[i-1], strings.TrimSpace(string(head[:10]))) {
			t.Fatalf("chunk %d head not found in predecessor tail", i)
		}
	}
}
