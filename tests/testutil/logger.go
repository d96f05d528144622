package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/keysync/internal/logging"
)

// TestLogger is a real logging.Logger whose output is captured in memory.
//
// Writes may come from goroutines such as the OAuth callback receiver, so
// the buffer is guarded separately from the logger.
//
// Example usage:
//
//	logs := testutil.NewTestLogger(t, true)
//	storage := tokens.NewStorage(store, logs.Logger)
//	// exercise code
//	logs.AssertRedacted(t, "gho_secret")
type TestLogger struct {
	*logging.Logger

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewTestLogger creates a capturing logger without colors. Debug messages
// are kept only when debug is true.
func NewTestLogger(t *testing.T, debug bool) *TestLogger {
	t.Helper()

	l := &TestLogger{}
	l.Logger = logging.NewWithWriter(lockedWriter{l}, debug, true)
	return l
}

type lockedWriter struct{ l *TestLogger }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.l.mu.Lock()
	defer w.l.mu.Unlock()
	return w.l.buf.Write(p)
}

// Output returns everything logged so far.
func (l *TestLogger) Output() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

// Lines returns the logged lines without the trailing newline.
func (l *TestLogger) Lines() []string {
	out := strings.TrimRight(l.Output(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// AssertContains asserts that the captured output contains substr.
func (l *TestLogger) AssertContains(t *testing.T, substr string) {
	t.Helper()
	assert.Contains(t, l.Output(), substr, "Expected log output to contain %q", substr)
}

// AssertRedacted asserts that secretValue never appears in the captured
// output and that at least one [REDACTED] marker does.
func (l *TestLogger) AssertRedacted(t *testing.T, secretValue string) {
	t.Helper()
	AssertSecretRedacted(t, l.Output(), secretValue)
}
