package endpoint

import "github.com/MrWong99/earwig/pkg/audio"

// ring is the pre-roll buffer: a fixed-capacity FIFO of the most recent
// frames seen while idle. A zero-capacity ring retains nothing.
type ring struct {
	buf   []audio.Frame
	head  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]audio.Frame, max(capacity, 0))}
}

// push appends f, evicting the oldest frame when full.
func (r *ring) push(f audio.Frame) {
	if len(r.buf) == 0 {
		return
	}
	if r.count == len(r.buf) {
		r.buf[r.head] = f
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[(r.head+r.count)%len(r.buf)] = f
	r.count++
}

// drain returns the contents oldest-first in a new slice with room for extra
// more frames, and empties the ring.
func (r *ring) drain(extra int) []audio.Frame {
	out := make([]audio.Frame, 0, r.count+extra)
	for i := range r.count {
		idx := (r.head + i) % len(r.buf)
		out = append(out, r.buf[idx])
		r.buf[idx] = audio.Frame{}
	}
	r.head, r.count = 0, 0
	return out
}

func (r *ring) len() int { return r.count }
