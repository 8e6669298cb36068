package telegram

import (
	"strings"
	"testing"
)

func TestSplitTextShortPassesThrough(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 100, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 50) + "\n" + strings.Repeat("b", 50)
	chunks := splitText(text, 80, "")
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2 (%v)", len(chunks), chunks)
	}
	if strings.ContainsRune(chunks[0], 'b') {
		t.Fatalf("first chunk crossed the newline: %q", chunks[0])
	}
}

func TestSplitTextAvoidsDanglingHTMLTag(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("x", 70) + "<b>bold content here</b>" + strings.Repeat("y", 40)
	for _, chunk := range splitText(text, 80, "HTML") {
		open := strings.LastIndex(chunk, "<")
		close := strings.LastIndex(chunk, ">")
		if open > close {
			t.Fatalf("chunk ends inside a tag: %q", chunk)
		}
	}
}

func TestSplitTextNeverEmpty(t *testing.T) {
	t.Parallel()
	if got := splitText("", 10, ""); len(got) != 1 {
		t.Fatalf("want single empty chunk, got %v", got)
	}
	if got := splitText("\n\n\n", 2, ""); len(got) == 0 {
		t.Fatal("want at least one chunk")
	}
}

func TestSplitTextCoversAllContent(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("word ", 500) // no newlines, so nothing gets trimmed
	var rebuilt strings.Builder
	for _, c := range splitText(text, 100, "") {
		if n := len([]rune(c)); n > 100 {
			t.Fatalf("chunk exceeds limit: %d runes", n)
		}
		rebuilt.WriteString(c)
	}
	if rebuilt.String() != text {
		t.Fatalf("content changed: %d of %d bytes survived", rebuilt.Len(), len(text))
	}
}
