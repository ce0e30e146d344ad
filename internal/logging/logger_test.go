package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level   string
		format  string
		wantLvl zapcore.Level
	}{
		{"debug", "console", zapcore.DebugLevel},
		{"info", "json", zapcore.InfoLevel},
		{"warn", "", zapcore.WarnLevel},
		{"error", "JSON", zapcore.ErrorLevel},
		{"", "console", zapcore.InfoLevel},
		{"unknown", "console", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			l, err := New(tt.level, tt.format)
			if err != nil {
				t.Fatalf("New(%q, %q) returned error: %v", tt.level, tt.format, err)
			}
			if l == nil {
				t.Fatal("New returned nil logger")
			}
			if !l.Core().Enabled(tt.wantLvl) {
				t.Errorf("level %v not enabled", tt.wantLvl)
			}
			if tt.wantLvl > zapcore.DebugLevel && l.Core().Enabled(tt.wantLvl-1) {
				t.Errorf("level %v enabled, want minimum %v", tt.wantLvl-1, tt.wantLvl)
			}
		})
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New("info", "xml"); err == nil {
		t.Fatal("New with format xml returned nil error")
	}
}

func TestParseLevel(t *testing.T) {
	if got := ParseLevel(" Warning "); got != zapcore.WarnLevel {
		t.Errorf("ParseLevel(Warning) = %v, want warn", got)
	}
}
