package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// MockClock is a settable clock for code that takes a now func
type MockClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{current: start}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}

func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}

// LogEntry is one captured log record. Attributes of groups are keyed by
// their dotted path.
type LogEntry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// TestLogger captures records written through the *slog.Logger returned by
// Logger.
type TestLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

// Logger returns a *slog.Logger that records into l at every level
func (l *TestLogger) Logger() *slog.Logger {
	return slog.New(&captureHandler{logger: l})
}

func (l *TestLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// EntriesAt returns the entries logged at level
func (l *TestLogger) EntriesAt(level slog.Level) []LogEntry {
	var out []LogEntry
	for _, e := range l.Entries() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Find returns the first entry whose message contains msg
func (l *TestLogger) Find(msg string) (LogEntry, bool) {
	for _, e := range l.Entries() {
		if strings.Contains(e.Message, msg) {
			return e, true
		}
	}
	return LogEntry{}, false
}

func (l *TestLogger) HasDebug() bool   { return len(l.EntriesAt(slog.LevelDebug)) > 0 }
func (l *TestLogger) HasWarning() bool { return len(l.EntriesAt(slog.LevelWarn)) > 0 }
func (l *TestLogger) HasError() bool   { return len(l.EntriesAt(slog.LevelError)) > 0 }

func (l *TestLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

func (l *TestLogger) add(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

type captureHandler struct {
	logger *TestLogger
	attrs  []slog.Attr
	prefix string
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	entry := LogEntry{Level: r.Level, Message: r.Message, Attrs: make(map[string]any)}
	for _, a := range h.attrs {
		flatten(entry.Attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		flatten(entry.Attrs, h.prefix, a)
		return true
	})
	h.logger.add(entry)
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &captureHandler{logger: h.logger, prefix: h.prefix}
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		next.attrs = append(next.attrs, a)
	}
	return next
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &captureHandler{logger: h.logger, attrs: h.attrs, prefix: h.prefix + name + "."}
}

func flatten(into map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			flatten(into, prefix+a.Key+".", ga)
		}
		return
	}
	into[prefix+a.Key] = v.Any()
}
