package channels

import (
	"strings"
	"testing"
)

func TestChunkShortTextUnchanged(t *testing.T) {
	c := NewChunker(100)
	got := c.Chunk("short message")
	if len(got) != 1 || got[0] != "short message" {
		t.Errorf("Chunk = %v", got)
	}
	if c.Chunk("") != nil {
		t.Error("empty input should produce no chunks")
	}
}

func TestChunkPrefersParagraphBreaks(t *testing.T) {
	c := NewChunker(40)
	text := "first paragraph here\n\nsecond paragraph goes on"
	got := c.Chunk(text)
	if len(got) != 2 {
		t.Fatalf("got %d chunks: %v", len(got), got)
	}
	if got[0] != "first paragraph here" {
		t.Errorf("first chunk = %q", got[0])
	}
}

func TestChunkBreaksOnSentence(t *testing.T) {
	c := NewChunker(30)
	got := c.Chunk("One short sentence. Another one follows here")
	if len(got) < 2 {
		t.Fatalf("got %v", got)
	}
	if !strings.HasSuffix(got[0], ".") {
		t.Errorf("first chunk %q does not end at sentence", got[0])
	}
}

func TestChunkHardBreak(t *testing.T) {
	c := NewChunker(10)
	got := c.Chunk(strings.Repeat("a", 25))
	if len(got) != 3 {
		t.Fatalf("got %d chunks: %v", len(got), got)
	}
	for i, chunk := range got {
		if len(chunk) > 10 {
			t.Errorf("chunk %d is %d chars", i, len(chunk))
		}
	}
}

func TestChunkAllWithinLimit(t *testing.T) {
	c := NewChunker(50)
	text := strings.Repeat("some words in a sentence. ", 20)
	for i, chunk := range c.Chunk(text) {
		if len(chunk) > 50 {
			t.Errorf("chunk %d over limit: %d chars", i, len(chunk))
		}
		if chunk == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func TestChunkerDefaultSize(t *testing.T) {
	if c := NewChunker(0); c.MaxSize != 4000 {
		t.Errorf("MaxSize = %d", c.MaxSize)
	}
}
