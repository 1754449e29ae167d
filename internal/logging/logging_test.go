package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseTopics(t *testing.T) {
	got := ParseTopics(" process, events ,,scheduler")
	want := []string{"process", "events", "scheduler"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseTopics() = %#v, want %#v", got, want)
	}
	if got := ParseTopics(""); got != nil {
		t.Fatalf("ParseTopics(\"\") = %#v, want nil", got)
	}
}

func TestTopicFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, []string{"events"})

	logger.Info("startup")
	Topic(logger, "process").Info("snapshot hidden")
	Topic(logger, "events").Info("event shown")
	Topic(logger, "process").Warn("process warning shown")
	logger.Info("attr topic hidden", "topic", "process")

	out := buf.String()
	for _, want := range []string{"startup", "event shown", "process warning shown"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	for _, hidden := range []string{"snapshot hidden", "attr topic hidden"} {
		if strings.Contains(out, hidden) {
			t.Fatalf("output contains filtered %q:\n%s", hidden, out)
		}
	}
}

func TestTopicAllEnablesEverything(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, []string{"all"})

	Topic(logger, "scheduler").Debug("tick")
	if !strings.Contains(buf.String(), "tick") {
		t.Fatalf("output missing debug record with all topics:\n%s", buf.String())
	}
}

func TestNew_WritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defender.log")
	logger, closer := New(Options{File: path})

	logger.Info("written to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Fatalf("log file missing record:\n%s", data)
	}
}

func TestNew_StderrCloserIsNoop(t *testing.T) {
	_, closer := New(Options{})
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
