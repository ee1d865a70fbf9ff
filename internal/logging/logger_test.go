package logging

import (
	"errors"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	if l := New(slog.LevelInfo, "json"); l == nil || l.Logger == nil {
		t.Fatal("expected non-nil json logger")
	}
	if l := New(slog.LevelDebug, "text"); l == nil || l.Logger == nil {
		t.Fatal("expected non-nil text logger")
	}
}

func TestFieldHelpers(t *testing.T) {
	attr := Source("radar")
	if attr.Key != FieldSource || attr.Value.String() != "radar" {
		t.Errorf("unexpected attr %v", attr)
	}

	attr = EventID("atk-42")
	if attr.Key != FieldEventID || attr.Value.String() != "atk-42" {
		t.Errorf("unexpected attr %v", attr)
	}

	attr = Error(errors.New("boom"))
	if attr.Key != FieldError || attr.Value.String() != "boom" {
		t.Errorf("unexpected attr %v", attr)
	}

	attr = Count(3)
	if attr.Key != FieldCount || attr.Value.Int64() != 3 {
		t.Errorf("unexpected attr %v", attr)
	}
}
