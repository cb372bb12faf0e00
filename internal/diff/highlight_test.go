package diff

import (
	"testing"
)

func TestHighlightUnified(t *testing.T) {
	raw, err := Unified("Cat", "the cat sat", "the cat sat down", 3)
	if err != nil {
		t.Fatalf("Unified failed: %v", err)
	}

	highlighted := HighlightUnified(raw)
	want := len(splitLines(raw))
	if len(highlighted) != want {
		t.Fatalf("expected %d highlighted lines, got %d", want, len(highlighted))
	}

	if highlighted[0].Plain() != "diff --git a/Cat b/Cat" {
		t.Errorf("plain text mismatch: %q", highlighted[0].Plain())
	}

	last := highlighted[len(highlighted)-1]
	if last.Plain() != "+the cat sat down" {
		t.Errorf("unexpected last line %q", last.Plain())
	}
}

func TestHighlightLinesUnknownLexer(t *testing.T) {
	lines := []string{"some content", "more content"}
	highlighted := HighlightLines("no-such-lexer-xyz123", lines)

	if len(highlighted) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(highlighted))
	}
	if highlighted[0].Plain() != "some content" {
		t.Errorf("expected plain passthrough, got %q", highlighted[0].Plain())
	}
}

func splitLines(raw string) []string {
	var out []string
	start := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\n' {
			out = append(out, raw[start:i])
			start = i + 1
		}
	}
	if start < len(raw) {
		out = append(out, raw[start:])
	}
	return out
}
