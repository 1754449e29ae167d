package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings, applied when a field is left at zero.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Options configures New.
type Options struct {
	// File is the log path. Empty means stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Topics enables topic-tagged records. "all" enables every topic.
	Topics []string
}

// ParseTopics splits a comma-separated topic flag.
func ParseTopics(s string) []string {
	var topics []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// New builds the daemon logger. The returned closer releases the log file and
// is a no-op for stderr.
func New(o Options) (*slog.Logger, io.Closer) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if o.File != "" {
		f := &lj.Logger{
			Filename:   o.File,
			MaxSize:    valOr(o.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(o.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(o.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   o.Compress,
		}
		w, closer = f, f
	}
	return NewWithWriter(w, o.Topics), closer
}

// NewWithWriter builds a topic-filtered text logger writing to w.
func NewWithWriter(w io.Writer, topics []string) *slog.Logger {
	enabled := make(map[string]bool, len(topics))
	for _, t := range topics {
		enabled[t] = true
	}
	return slog.New(&topicHandler{
		inner:  slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}),
		topics: enabled,
	})
}

// Topic returns a child logger whose records are tagged with topic.
func Topic(l *slog.Logger, topic string) *slog.Logger {
	return l.With("topic", topic)
}

// topicHandler wraps an slog.Handler and filters records by a "topic" attribute.
// Records without a topic always pass through (startup messages, errors).
// Records with a topic only pass if that topic is enabled, unless they are
// warnings or worse.
type topicHandler struct {
	inner  slog.Handler
	topics map[string]bool
	topic  string // set when WithAttrs includes a "topic" key
}

func (h *topicHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *topicHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.topics["all"] || r.Level >= slog.LevelWarn {
		return h.inner.Handle(ctx, r)
	}
	topic := h.topic
	if topic == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "topic" {
				topic = a.Value.String()
				return false
			}
			return true
		})
	}
	if topic != "" && !h.topics[topic] {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *topicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	topic := h.topic
	for _, a := range attrs {
		if a.Key == "topic" {
			topic = a.Value.String()
		}
	}
	return &topicHandler{inner: h.inner.WithAttrs(attrs), topics: h.topics, topic: topic}
}

func (h *topicHandler) WithGroup(name string) slog.Handler {
	return &topicHandler{inner: h.inner.WithGroup(name), topics: h.topics, topic: h.topic}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
