package index

import (
	"fmt"
	"strings"
	"testing"
)

func TestSplitText_ShortTextSingleChunk(t *testing.T) {
	chunks := SplitText("hello world", 1000, 200)
	if len(chunks) != 1 || chunks[0] != "hello world" {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestSplitText_Empty(t *testing.T) {
	if chunks := SplitText("", 1000, 200); chunks != nil {
		t.Fatalf("chunks = %v, want nil", chunks)
	}
	if chunks := SplitText("   ", 1000, 200); chunks != nil {
		t.Fatalf("chunks = %v, want nil", chunks)
	}
}

func TestSplitText_CutsAtWhitespace(t *testing.T) {
	text := "alpha beta gamma delta"
	chunks := SplitText(text, 12, 0)
	for _, c := range chunks {
		for _, w := range strings.Fields(c) {
			if !strings.Contains(text, w) {
				t.Fatalf("chunk %q split a word", c)
			}
		}
	}
	if len(chunks) < 2 {
		t.Fatalf("chunks = %v, expected multiple", chunks)
	}
}

func TestSplitText_OverlapSharesText(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&b, "w%03d ", i)
	}
	chunks := SplitText(b.String(), 100, 20)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, expected multiple", len(chunks))
	}
	// The first word of each chunk must also appear at the end of the
	// previous chunk, because of the overlap window.
	for i := 1; i < len(chunks); i++ {
		first := strings.Fields(chunks[i])[0]
		if !strings.Contains(chunks[i-1], first) {
			t.Fatalf("chunk %d does not overlap chunk %d: %q vs %q", i, i-1, chunks[i], chunks[i-1])
		}
	}
}

func TestSplitText_CoversAllText(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 50)
	chunks := SplitText(text, 200, 40)

	joined := strings.Join(chunks, " ")
	for _, w := range strings.Fields(text) {
		if !strings.Contains(joined, w) {
			t.Fatalf("word %q missing from chunks", w)
		}
	}
}

func TestSplitText_InvalidSize(t *testing.T) {
	if chunks := SplitText("text", 0, 0); chunks != nil {
		t.Fatalf("chunks = %v, want nil for size 0", chunks)
	}
}

func TestSplitText_OverlapLargerThanSizeIgnored(t *testing.T) {
	chunks := SplitText(strings.Repeat("a ", 50), 10, 50)
	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}
}
