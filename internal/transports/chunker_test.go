package transports

import (
	"strings"
	"testing"
)

func TestChunkMessageShortTextUntouched(t *testing.T) {
	chunks := ChunkMessage("hello there", 100)
	if len(chunks) != 1 || chunks[0] != "hello there" {
		t.Errorf("chunks = %q", chunks)
	}
}

func TestChunkMessageParagraphs(t *testing.T) {
	a := strings.Repeat("aa ", 30)
	b := strings.Repeat("bb ", 30)
	text := strings.TrimSpace(a) + "\n\n" + strings.TrimSpace(b)

	chunks := ChunkMessage(text, 100)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d: %q", len(chunks), chunks)
	}
	for i, c := range chunks {
		if width(c) > 100 {
			t.Errorf("chunk %d width %d exceeds limit", i, width(c))
		}
	}
	if !strings.HasPrefix(chunks[0], "aa") || !strings.HasPrefix(chunks[1], "bb") {
		t.Errorf("paragraph boundary not respected: %q", chunks)
	}
}

func TestChunkMessageSentences(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("This is a full sentence. ", 20))
	chunks := ChunkMessage(text, 120)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %q", chunks)
	}
	for i, c := range chunks {
		if width(c) > 120 {
			t.Errorf("chunk %d width %d exceeds limit", i, width(c))
		}
		if i < len(chunks)-1 && !strings.HasSuffix(strings.TrimSpace(c), ".") {
			t.Errorf("chunk %d does not end on a sentence boundary: %q", i, c)
		}
	}
}

func TestChunkMessageCodeBlockRefenced(t *testing.T) {
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, "fmt.Println(\"line\")")
	}
	text := "```go\n" + strings.Join(lines, "\n") + "\n```"

	chunks := ChunkMessage(text, 200)
	if len(chunks) < 2 {
		t.Fatalf("oversized code block not split: %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if !strings.HasPrefix(c, "```go\n") || !strings.HasSuffix(c, "\n```") {
			t.Errorf("chunk %d not re-fenced: %q", i, c)
		}
		if width(c) > 200 {
			t.Errorf("chunk %d width %d exceeds limit", i, width(c))
		}
	}
}

func TestChunkMessageProseAroundCode(t *testing.T) {
	text := "Here is the fix:\n\n```go\nx := 1\n```\n\nLet me know if it works."
	chunks := ChunkMessage(text, 2000)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %q", chunks)
	}
	if !strings.Contains(chunks[0], "```go\nx := 1\n```") {
		t.Errorf("code block mangled: %q", chunks[0])
	}
}

func TestChunkMessageLongWordTruncated(t *testing.T) {
	word := strings.Repeat("x", 300)
	chunks := ChunkMessage("intro "+word, 100)
	for i, c := range chunks {
		if width(c) > 100 {
			t.Errorf("chunk %d width %d exceeds limit", i, width(c))
		}
	}
}

func TestChunkMessageMergesShortTail(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("Sentence one here. ", 10)) + "\n\nok."
	chunks := ChunkMessage(text, 150)
	last := chunks[len(chunks)-1]
	if width(last) < minChunkSize && len(chunks) > 1 {
		prev := chunks[len(chunks)-2]
		if width(prev)+width(last)+1 <= 150 {
			t.Errorf("short tail not merged: %q", chunks)
		}
	}
}

func TestChunkMessageWideRunes(t *testing.T) {
	// Each CJK rune is two cells wide; byte length must not be the measure.
	text := strings.Repeat("统", 120)
	chunks := ChunkMessage(text, 100)
	for i, c := range chunks {
		if width(c) > 100 {
			t.Errorf("chunk %d width %d exceeds limit", i, width(c))
		}
	}
}
