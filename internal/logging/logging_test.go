package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"", LevelInfo, false},
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestEnabled(t *testing.T) {
	defer SetLevel(LevelInfo)

	SetLevel(LevelWarn)
	if Enabled(LevelDebug) || Enabled(LevelInfo) {
		t.Error("debug/info should be disabled at warn")
	}
	if !Enabled(LevelWarn) || !Enabled(LevelError) {
		t.Error("warn/error should be enabled at warn")
	}
}

func TestLevelGating(t *testing.T) {
	defer SetLevel(LevelInfo)
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	tests := []struct {
		level Level
		want  []string
		skip  []string
	}{
		{LevelDebug, []string{"d-line", "i-line", "w-line", "e-line"}, nil},
		{LevelInfo, []string{"i-line", "w-line", "e-line"}, []string{"d-line"}},
		{LevelWarn, []string{"w-line", "e-line"}, []string{"d-line", "i-line"}},
		{LevelError, []string{"e-line"}, []string{"d-line", "i-line", "w-line"}},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			buf.Reset()
			SetLevel(tt.level)
			Debugf("d-line")
			Infof("i-line")
			Warnf("w-line")
			Errorf("e-line")
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			for _, s := range tt.skip {
				if strings.Contains(out, s) {
					t.Errorf("output has %q at %s:\n%s", s, tt.level, out)
				}
			}
		})
	}
}

func TestSetup_File(t *testing.T) {
	defer SetLevel(LevelInfo)
	path := filepath.Join(t.TempDir(), "handset.log")

	closer, err := Setup(Options{Level: "debug", File: path})
	if err != nil {
		t.Fatalf("Setup error: %v", err)
	}
	Debugf("logging: test line %d", 42)
	log.Printf("logging: plain line")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	for _, want := range []string{"test line 42", "plain line"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file missing %q:\n%s", want, data)
		}
	}
}

func TestSetup_BadLevel(t *testing.T) {
	if _, err := Setup(Options{Level: "shout"}); err == nil {
		t.Error("Setup should reject an unknown level")
	}
}
