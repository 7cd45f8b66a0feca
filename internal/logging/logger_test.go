package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestNewLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn")
	if l.GetLevel() != log.WarnLevel {
		t.Fatalf("expected warn level, got %v", l.GetLevel())
	}
	l.Info("hidden")
	l.Warn("shown", "day", "2026-02-24")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") || !strings.Contains(out, "2026-02-24") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestNewUnknownLevel(t *testing.T) {
	if l := New(&bytes.Buffer{}, "loud"); l.GetLevel() != log.InfoLevel {
		t.Fatalf("expected info fallback, got %v", l.GetLevel())
	}
}
