// internal/diff/diff.go
package diff

import (
	"bytes"
	"fmt"
	"strings"
)

// Line represents a single line in a diff with its type and content
type Line struct {
	Type    LineType
	Content string
	OldNum  int
	NewNum  int
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// Granularity selects the token a diff is computed over.
type Granularity int

const (
	LineLevel Granularity = iota
	WordLevel
	CharLevel
)

// ParseGranularity maps "line", "word" and "char" to a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(s) {
	case "", "line":
		return LineLevel, nil
	case "word":
		return WordLevel, nil
	case "char", "character":
		return CharLevel, nil
	}
	return LineLevel, fmt.Errorf("unknown diff granularity %q", s)
}

// DiffResult contains the complete diff information
type DiffResult struct {
	Hunks []Hunk
	Stats struct {
		Additions int
		Deletions int
		Changes   int
	}
}

// Hunk represents a continuous section of changes
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Segment is a run of tokens sharing one LineType in an inline diff.
type Segment struct {
	Type LineType
	Text string
}

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	return &Engine{
		contextLines: contextLines,
	}
}

// Diff generates a line-by-line diff between two contents
func (e *Engine) Diff(oldContent, newContent []byte) (*DiffResult, error) {
	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	ops := editScript(oldLines, newLines)

	result := &DiffResult{}
	result.Hunks = e.buildHunks(ops)

	// Calculate stats
	for _, op := range ops {
		switch op.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions

	return result, nil
}

// Inline diffs two contents at word or character granularity and merges
// adjacent tokens of the same type into segments.
func (e *Engine) Inline(oldContent, newContent []byte, g Granularity) []Segment {
	var oldTokens, newTokens []string
	switch g {
	case WordLevel:
		oldTokens, newTokens = splitWords(string(oldContent)), splitWords(string(newContent))
	case CharLevel:
		oldTokens, newTokens = splitChars(string(oldContent)), splitChars(string(newContent))
	default:
		oldTokens, newTokens = splitKeepNewline(string(oldContent)), splitKeepNewline(string(newContent))
	}

	var segments []Segment
	for _, op := range editScript(oldTokens, newTokens) {
		if n := len(segments); n > 0 && segments[n-1].Type == op.Type {
			segments[n-1].Text += op.Content
			continue
		}
		segments = append(segments, Segment{Type: op.Type, Text: op.Content})
	}
	return segments
}

// buildHunks groups an edit script into hunks with surrounding context.
func (e *Engine) buildHunks(ops []Line) []Hunk {
	var hunks []Hunk
	var current *Hunk
	lastChange := -1

	flush := func() {
		if current != nil {
			hunks = append(hunks, *current)
			current = nil
		}
	}

	for i, op := range ops {
		if op.Type == Context {
			continue
		}

		// Start a new hunk when the gap since the last change is wider
		// than the context on both sides.
		if current != nil && i-lastChange > 2*e.contextLines+1 {
			for j := lastChange + 1; j <= lastChange+e.contextLines && j < len(ops); j++ {
				current.add(ops[j])
			}
			flush()
		}

		if current == nil {
			start := max(0, i-e.contextLines)
			if lastChange >= 0 {
				start = max(start, lastChange+1)
			}
			current = &Hunk{OldStart: oldStart(ops, start), NewStart: newStart(ops, start)}
			for j := start; j < i; j++ {
				current.add(ops[j])
			}
		} else {
			for j := lastChange + 1; j < i; j++ {
				current.add(ops[j])
			}
		}

		current.add(op)
		lastChange = i
	}

	if current != nil {
		for j := lastChange + 1; j <= lastChange+e.contextLines && j < len(ops); j++ {
			current.add(ops[j])
		}
		flush()
	}

	return hunks
}

func (h *Hunk) add(l Line) {
	h.Lines = append(h.Lines, l)
	switch l.Type {
	case Context:
		h.OldLines++
		h.NewLines++
	case Addition:
		h.NewLines++
	case Deletion:
		h.OldLines++
	}
}

// oldStart returns the 1-based old line number at ops[i].
func oldStart(ops []Line, i int) int {
	for ; i < len(ops); i++ {
		if ops[i].OldNum > 0 {
			return ops[i].OldNum
		}
	}
	return 0
}

// newStart returns the 1-based new line number at ops[i].
func newStart(ops []Line, i int) int {
	for ; i < len(ops); i++ {
		if ops[i].NewNum > 0 {
			return ops[i].NewNum
		}
	}
	return 0
}

// Format returns a string representation of the diff
func (r *DiffResult) Format() string {
	var buf bytes.Buffer

	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteString("+ ")
			case Deletion:
				buf.WriteString("- ")
			case Context:
				buf.WriteString("  ")
			}
			buf.WriteString(line.Content)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

// FormatInline renders segments with [-removed-] and {+added+} markers.
func FormatInline(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		switch s.Type {
		case Addition:
			b.WriteString("{+" + s.Text + "+}")
		case Deletion:
			b.WriteString("[-" + s.Text + "-]")
		default:
			b.WriteString(s.Text)
		}
	}
	return b.String()
}
