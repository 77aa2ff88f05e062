package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONEnabled(t *testing.T) {
	l := New(false)
	if l.JSONEnabled() {
		t.Fatal("expected false")
	}
	l = New(true)
	if !l.JSONEnabled() {
		t.Fatal("expected true")
	}
	var nilLogger *Logger
	if nilLogger.JSONEnabled() {
		t.Fatal("nil logger must not report JSON")
	}
	nilLogger.Info("discarded", nil)
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(true)
	l.SetOutput(&buf)
	l.Info("migrate.success", map[string]any{"version": "1.2"})

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if payload["msg"] != "migrate.success" || payload["version"] != "1.2" || payload["level"] != "info" {
		t.Fatalf("unexpected payload: %#v", payload)
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatal("missing ts field")
	}
}

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(false)
	l.SetOutput(&buf)

	l.Debug("hidden", nil)
	if buf.Len() != 0 {
		t.Fatal("debug must be hidden at info level")
	}
	l.SetLevel(LevelDebug)
	l.Debug("shown", nil)
	if !strings.Contains(buf.String(), "shown") {
		t.Fatal("debug must be shown with -X")
	}

	buf.Reset()
	l.SetLevel(LevelQuiet)
	l.Info("quiet", nil)
	l.Warn("loud", nil)
	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "loud") {
		t.Fatalf("unexpected quiet output: %q", buf.String())
	}
}
