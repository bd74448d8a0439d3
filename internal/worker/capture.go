package worker

import "bytes"

// cappedBuffer keeps the first limit bytes written to it and silently discards
// the rest, so a chatty agent never blocks on a full pipe.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped int64
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	switch {
	case room <= 0:
		c.dropped += int64(len(p))
	case len(p) > room:
		c.buf.Write(p[:room])
		c.dropped += int64(len(p) - room)
	default:
		c.buf.Write(p)
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	return c.buf.String()
}

// Truncated reports whether any output was discarded.
func (c *cappedBuffer) Truncated() bool {
	return c.dropped > 0
}
