package logx

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in, zerolog.InfoLevel); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNopLoggerIsSafe(t *testing.T) {
	t.Parallel()
	l := Nop()
	l.Info("should not panic", String("k", "v"))
	l.With(Int("n", 1)).Named("sub").Error("still fine", Err(nil))
}

func TestNamedNesting(t *testing.T) {
	t.Parallel()
	l := Logger{name: "core"}.Named("announce")
	if l.name != "core.announce" {
		t.Fatalf("nested name = %q, want core.announce", l.name)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 100)
	got := truncate(long, 10)
	if len(got) > 12 { // ellipsis rune is 3 bytes
		t.Fatalf("truncate kept %d bytes", len(got))
	}
	if truncate("short", 10) != "short" {
		t.Fatal("short strings must pass through")
	}
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()
	line := formatChatLine([]byte(`{"level":"warn","message":"boom","svc":"remind","n":3}`))
	if !strings.HasPrefix(line, "[warn] boom") {
		t.Fatalf("unexpected prefix: %q", line)
	}
	if !strings.Contains(line, `svc="remind"`) || !strings.Contains(line, "n=3") {
		t.Fatalf("fields missing: %q", line)
	}
}
