package alog

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/stretchr/testify/assert"
)

// TestingT is the subset of *testing.T used by TestLogger.
type TestingT interface {
	Errorf(format string, args ...any)
	Helper()
}

// Test returns a logger recording every line, including the livestore levels,
// with assertions on what was logged. The assertions follow stretchr/testify:
// they report to t and return whether they passed.
// It is safe to log from multiple goroutines while asserting.
func Test(t TestingT) *TestLogger {
	if t == nil {
		panic("t is nil")
	}

	rec := &recorder{}

	return &TestLogger{
		Logger: slog.New(newHandler(
			WithLevel(LevelDebug),
			WithHandler(slog.NewTextHandler(rec, textOptions())),
		)),
		t:   t,
		rec: rec,
	}
}

// TestLogger can be injected wherever a Logger or *slog.Logger is expected.
type TestLogger struct {
	*slog.Logger

	t   TestingT
	rec *recorder
}

var (
	_ Logger          = (*TestLogger)(nil)
	_ LevelController = (*TestLogger)(nil)
)

func (l *TestLogger) SetLevel(level slog.Level) {
	Unwrap(l.Logger).SetLevel(level)
}

func (l *TestLogger) Level() slog.Level {
	return Unwrap(l.Logger).Level()
}

// String returns the complete output.
func (l *TestLogger) String() string {
	return strings.Join(l.Lines(), "")
}

// Lines returns each logged line, in order.
func (l *TestLogger) Lines() []string {
	return l.rec.lines()
}

// Empty asserts that the logger has no lines logged.
func (l *TestLogger) Empty(msgAndArgs ...any) bool {
	l.t.Helper()

	if n := len(l.Lines()); n > 0 {
		return assert.Fail(l.t, fmt.Sprintf("logger is not empty, it has %d line(s)", n), msgAndArgs...)
	}

	return true
}

// NotEmpty asserts that the logger has at least one line.
func (l *TestLogger) NotEmpty(msgAndArgs ...any) bool {
	l.t.Helper()

	if len(l.Lines()) == 0 {
		return assert.Fail(l.t, "logger is empty, should not be", msgAndArgs...)
	}

	return true
}

// Contains asserts that at least one line contains substr.
func (l *TestLogger) Contains(substr string, msgAndArgs ...any) bool {
	l.t.Helper()

	if l.count(substr) == 0 {
		return assert.Fail(l.t, "log output does not have a line which contains: "+substr, msgAndArgs...)
	}

	return true
}

// NotContains asserts that no line contains substr.
func (l *TestLogger) NotContains(substr string, msgAndArgs ...any) bool {
	l.t.Helper()

	if n := l.count(substr); n > 0 {
		return assert.Fail(l.t, fmt.Sprintf("log output has %d line(s) which contain: %s", n, substr), msgAndArgs...)
	}

	return true
}

// Count asserts that exactly n lines contain substr,
// e.g. to check how often a subscription changed its state.
func (l *TestLogger) Count(substr string, n int, msgAndArgs ...any) bool {
	l.t.Helper()

	if got := l.count(substr); got != n {
		return assert.Fail(l.t, fmt.Sprintf("log output has %d line(s) which contain: %s, expected: %d", got, substr, n), msgAndArgs...)
	}

	return true
}

func (l *TestLogger) count(substr string) int {
	var n int

	for _, line := range l.Lines() {
		if strings.Contains(line, substr) {
			n++
		}
	}

	return n
}

// Total asserts that the logger has exactly total number of lines logged.
func (l *TestLogger) Total(total int, msgAndArgs ...any) bool {
	l.t.Helper()

	if n := len(l.Lines()); n != total {
		return assert.Fail(l.t, fmt.Sprintf("logger does not have %d lines, it has: %d", total, n), msgAndArgs...)
	}

	return true
}

// recorder keeps each Write as one line; slog handlers write one record per call.
type recorder struct {
	mu  sync.Mutex
	out []string
}

func (r *recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.out = append(r.out, string(p))

	return len(p), nil
}

func (r *recorder) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.out)
}
