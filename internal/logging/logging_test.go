package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	cases := []struct {
		level   string
		dev     bool
		enabled zapcore.Level
		ok      bool
	}{
		{LevelDebug, true, zapcore.DebugLevel, true},
		{LevelInfo, false, zapcore.InfoLevel, true},
		{"WARN", false, zapcore.WarnLevel, true},
		{"loud", false, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.level, func(t *testing.T) {
			l, err := New(tc.level, tc.dev)
			if (err == nil) != tc.ok {
				t.Fatalf("New(%q) err = %v", tc.level, err)
			}
			if !tc.ok {
				return
			}
			if !l.Core().Enabled(tc.enabled) {
				t.Fatalf("level %v not enabled", tc.enabled)
			}
			if tc.enabled > zapcore.DebugLevel && l.Core().Enabled(tc.enabled-1) {
				t.Fatalf("level below %v enabled", tc.enabled)
			}
		})
	}
}

func TestNone(t *testing.T) {
	l := Must(LevelNone, false)
	if l.Core().Enabled(zapcore.FatalLevel) {
		t.Fatalf("none logger is enabled")
	}
}
