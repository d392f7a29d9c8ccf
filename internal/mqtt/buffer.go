package mqtt

import (
	"log"

	"github.com/openpsg/pressure-sensor/internal/sampler"
)

// windowBuffer keeps the most recent windows while the broker is
// unreachable. Windows are held decoded and only encoded when replayed.
// Once full, each new window evicts the oldest.
// Not safe for concurrent use; RealPublisher guards it with its mutex.
type windowBuffer struct {
	windows []sampler.Values
	first   int // index of the oldest window
	n       int
	dropped int  // evicted since startup
	warned  bool // eviction logged for the current outage
}

func newWindowBuffer(capacity int) *windowBuffer {
	return &windowBuffer{windows: make([]sampler.Values, capacity)}
}

func (b *windowBuffer) capacity() int {
	return len(b.windows)
}

func (b *windowBuffer) add(v sampler.Values) {
	if b.n < len(b.windows) {
		b.windows[(b.first+b.n)%len(b.windows)] = v
		b.n++
		return
	}
	if !b.warned {
		log.Printf("mqtt: buffer full (%d windows), dropping oldest from %s", len(b.windows), b.windows[b.first].Timestamp)
		b.warned = true
	}
	b.windows[b.first] = v
	b.first = (b.first + 1) % len(b.windows)
	b.dropped++
}

// take removes up to max windows and returns them oldest first.
func (b *windowBuffer) take(max int) []sampler.Values {
	if max > b.n {
		max = b.n
	}
	if max <= 0 {
		return nil
	}
	out := make([]sampler.Values, max)
	for i := range out {
		j := (b.first + i) % len(b.windows)
		out[i] = b.windows[j]
		b.windows[j] = sampler.Values{}
	}
	b.first = (b.first + max) % len(b.windows)
	b.n -= max
	if b.n == 0 {
		b.first = 0
		b.warned = false
	}
	return out
}

func (b *windowBuffer) len() int {
	return b.n
}
