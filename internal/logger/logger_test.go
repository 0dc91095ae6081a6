package logger

import (
	"bytes"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// syncBuffer makes the captured log output safe to read while the
// background writer is still running.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestPrefixAndDurationThreshold(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	var buf syncBuffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	SetPrefix("api")
	t.Cleanup(func() { SetPrefix("") })

	// The worker preserves enqueue order, so once the slow line shows up,
	// the fast one is conclusively absent.
	DeferLogDuration("fastOp", time.Now())()
	DeferLogDuration("slowOp", time.Now().Add(-time.Second))()
	Infof("listening on %s", ":8080")
	Errorf("boom %d", 7)

	require.Eventually(t, func() bool {
		s := buf.String()
		return strings.Contains(s, "fn=slowOp") &&
			strings.Contains(s, "listening on :8080") &&
			strings.Contains(s, "ERROR: boom 7")
	}, 2*time.Second, 10*time.Millisecond)

	out := buf.String()
	require.NotContains(t, out, "fastOp")
	require.Contains(t, out, "[api] ")
}
