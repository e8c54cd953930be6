package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestNew_AddsServiceField(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "debug", Service: "authstream", Output: &buf})

	log.Info().Msg("hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid json log line: %v", err)
	}
	if rec["service"] != "authstream" {
		t.Fatalf("expected service field, got %v", rec["service"])
	}
	if rec["message"] != "hello" {
		t.Fatalf("unexpected message: %v", rec["message"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" warn ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInit_OnlyFirstCallApplies(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	var first, second bytes.Buffer
	Init(Options{Output: &first})
	Init(Options{Output: &second})

	l := Get()
	l.Info().Msg("once")

	if first.Len() == 0 {
		t.Fatalf("expected output on the first writer")
	}
	if second.Len() != 0 {
		t.Fatalf("second Init must not replace the logger")
	}
}

func TestKgoLogger_ForwardsKeyvals(t *testing.T) {
	var buf bytes.Buffer
	kl := NewKgoLogger(New(Options{Level: "info", Output: &buf}))

	if kl.Level() != kgo.LogLevelInfo {
		t.Fatalf("expected info level, got %v", kl.Level())
	}

	kl.Log(kgo.LogLevelWarn, "metadata refresh failed", "broker", "kafka:9092", "attempt", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid json log line: %v", err)
	}
	if rec["level"] != "warn" || rec["broker"] != "kafka:9092" || rec["component"] != "kgo" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec["attempt"] != float64(3) {
		t.Fatalf("expected attempt=3, got %v", rec["attempt"])
	}
}

func TestKgoLogger_DropsDebugAtInfo(t *testing.T) {
	var buf bytes.Buffer
	kl := NewKgoLogger(New(Options{Level: "info", Output: &buf}))

	kl.Log(kgo.LogLevelDebug, "noise")

	if buf.Len() != 0 {
		t.Fatalf("debug record should be filtered, got %q", buf.String())
	}
}
