package video

import (
	"bytes"
	"sync"
)

// chunkLog is the append-only sequence of encoded chunks of one run. The
// encoder writes to it from its own goroutine.
type chunkLog struct {
	mu     sync.Mutex
	chunks [][]byte
	size   int
	sealed bool
}

// Write appends a copy of p. Writes after the log is sealed are discarded.
func (l *chunkLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.sealed && len(p) > 0 {
		l.chunks = append(l.chunks, bytes.Clone(p))
		l.size += len(p)
	}
	return len(p), nil
}

// assemble seals the log and joins its chunks in write order.
func (l *chunkLog) assemble() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sealed = true
	out := make([]byte, 0, l.size)
	for _, c := range l.chunks {
		out = append(out, c...)
	}
	return out
}

// discard seals the log and drops everything written so far.
func (l *chunkLog) discard() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sealed = true
	l.chunks = nil
	l.size = 0
}

func (l *chunkLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.chunks)
}
