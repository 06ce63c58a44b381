package runner

import "sync"

// tailBuffer keeps the last max bytes written to it. Worker stdout and
// stderr both funnel through one buffer so the tail reads in emission
// order across streams.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = DefaultTailSize
	}
	return &tailBuffer{max: max}
}

// Write implements io.Writer. It never fails; the writer always reports
// the full length so it is safe inside an io.MultiWriter next to real
// sinks.
func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return len(p), nil
	}
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
