package telegram

import (
	"strings"
	"testing"
)

func TestSplitTextShortPassthrough(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 100, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("chunks = %v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("line one\n", 20)
	chunks := splitText(text, 50, "")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 50 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
		if strings.Contains(c, "line one\nline") && !strings.HasSuffix(c, "one") {
			continue
		}
	}
	// No content lost besides separators.
	joined := strings.Join(chunks, "\n") + "\n"
	if strings.ReplaceAll(joined, "\n", "") != strings.ReplaceAll(text, "\n", "") {
		t.Fatal("content changed across split")
	}
}

func TestSplitTextAvoidsHTMLTagSplit(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("x", 40) + "<a href=\"https://example.com\">link</a>"
	chunks := splitText(text, 50, "HTML")
	for i, c := range chunks {
		if strings.Count(c, "<") != strings.Count(c, ">") {
			t.Fatalf("chunk %d splits inside a tag: %q", i, c)
		}
	}
}

func TestSplitTextEmpty(t *testing.T) {
	t.Parallel()
	got := splitText("", 10, "")
	if len(got) != 1 {
		t.Fatalf("chunks = %v, want single empty chunk", got)
	}
}
