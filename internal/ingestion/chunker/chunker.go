// Package chunker splits documents into retrieval-sized pieces. Splitting is
// deterministic: the same text and options always produce the same chunks,
// which keeps re-ingestion idempotent.
package chunker

import (
	"strings"
)

const (
	// DefaultTargetSize is the per-chunk rune budget.
	DefaultTargetSize = 512
	// DefaultOverlap is how many trailing runes of a chunk reappear at the
	// head of the next one.
	DefaultOverlap = 50
	// slackFactor allows a chunk to run a little over target rather than
	// split mid-sentence.
	slackFactor = 1.10
)

type Options struct {
	TargetSize int
	Overlap    int
}

func (o Options) normalized() Options {
	if o.TargetSize <= 0 {
		o.TargetSize = DefaultTargetSize
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.Overlap >= o.TargetSize {
		o.Overlap = o.TargetSize / 2
	}
	return o
}

// Split recursively partitions text: paragraph boundaries first, then
// sentence boundaries, then whitespace, then a hard rune cut as the last
// resort. Chunks may exceed TargetSize by up to 10% to finish a sentence.
func Split(text string, opts Options) []string {
	opts = opts.normalized()
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	hardCap := int(float64(opts.TargetSize) * slackFactor)
	if len([]rune(text)) <= hardCap {
		return []string{text}
	}

	pieces := splitRecursive(text, opts.TargetSize, hardCap)
	return applyOverlap(pieces, opts.Overlap)
}

var separators = []string{"\n\n", "\n", ". ", "? ", "! ", " "}

func splitRecursive(text string, target, hardCap int) []string {
	runes := []rune(text)
	if len(runes) <= hardCap {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	for _, sep := range separators {
		parts := splitKeepSep(text, sep)
		if len(parts) < 2 {
			continue
		}
		return packParts(parts, target, hardCap)
	}

	// No separator anywhere (one giant token): hard cut on rune boundaries.
	var out []string
	for start := 0; start < len(runes); start += target {
		end := start + target
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// splitKeepSep splits on sep, keeping the separator attached to the piece it
// terminates, so joining the pieces reproduces the input exactly.
func splitKeepSep(text, sep string) []string {
	raw := strings.SplitAfter(text, sep)
	out := raw[:0]
	for _, p := range raw {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// packParts greedily accumulates parts up to the target size; any single part
// still over the cap recurses with the next finer separator.
func packParts(parts []string, target, hardCap int) []string {
	var out []string
	var buf strings.Builder
	bufLen := 0

	flush := func() {
		if bufLen == 0 {
			return
		}
		trimmed := strings.TrimSpace(buf.String())
		if trimmed != "" {
			out = append(out, trimmed)
		}
		buf.Reset()
		bufLen = 0
	}

	for _, part := range parts {
		plen := len([]rune(part))
		if bufLen > 0 && bufLen+plen > target {
			flush()
		}
		if plen > hardCap {
			flush()
			out = append(out, splitRecursive(part, target, hardCap)...)
			continue
		}
		buf.WriteString(part)
		bufLen += plen
	}
	flush()
	return out
}

// applyOverlap prefixes each chunk after the first with the tail of its
// predecessor, cut on a rune boundary.
func applyOverlap(chunks []string, overlap int) []string {
	if overlap <= 0 || len(chunks) < 2 {
		return chunks
	}
	out := make([]string, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		start := len(prev) - overlap
		if start < 0 {
			start = 0
		}
		tail := strings.TrimSpace(string(prev[start:]))
		if tail != "" {
			out[i] = tail + " " + chunks[i]
		} else {
			out[i] = chunks[i]
		}
	}
	return out
}
