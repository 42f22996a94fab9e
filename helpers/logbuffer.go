package helpers

import (
	"bytes"
	"sync"
)

// LogBuffer is an io.Writer that keeps the most recent log output in
// memory. It is safe for concurrent use, so one logger can be shared by
// the bridge goroutines and the TUI.
type LogBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	limit   int
	version uint64
}

// NewLogBuffer keeps at most limit bytes, trimming whole lines from the
// front. A limit <= 0 means 64 KiB.
func NewLogBuffer(limit int) *LogBuffer {
	if limit <= 0 {
		limit = 64 << 10
	}
	return &LogBuffer{limit: limit}
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, _ := b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		data := b.buf.Bytes()
		cut := over
		if i := bytes.IndexByte(data[over-1:], '\n'); i >= 0 {
			cut = over + i
		}
		b.buf.Next(cut)
	}
	b.version++
	return n, nil
}

// String returns the buffered output.
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Version changes every time the buffer does.
func (b *LogBuffer) Version() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// Reset drops everything buffered.
func (b *LogBuffer) Reset() {
	b.mu.Lock()
	b.buf.Reset()
	b.version++
	b.mu.Unlock()
}
