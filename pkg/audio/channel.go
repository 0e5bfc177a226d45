package audio

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrInvalidCapacity is returned by [NewFrameChannel] for a non-positive
// capacity.
var ErrInvalidCapacity = errors.New("audio: frame channel capacity must be positive")

// FrameChannel is a bounded FIFO of frames between one producer (the capture
// loop) and one consumer (the endpointer).
//
// Overflow contract: [FrameChannel.Push] never blocks and never fails. When the
// channel already holds Cap frames, the single oldest queued frame is evicted
// before the new one is appended. Latency is therefore bounded by Cap frames at
// the cost of dropped audio under sustained overload. Evictions are counted and
// reported by [FrameChannel.Dropped]; they are not errors.
//
// Push and Pop are each atomic; callers need no external locking.
type FrameChannel struct {
	mu    sync.Mutex
	buf   []Frame
	head  int // index of the oldest frame
	count int

	// ready holds at most one token; Push deposits one after appending so a
	// waiting Pop wakes up.
	ready chan struct{}

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewFrameChannel returns an empty channel holding at most capacity frames.
func NewFrameChannel(capacity int) (*FrameChannel, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &FrameChannel{
		buf:   make([]Frame, capacity),
		ready: make(chan struct{}, 1),
	}, nil
}

// Push appends f, evicting the oldest queued frame first if the channel is
// full.
func (c *FrameChannel) Push(f Frame) {
	c.mu.Lock()
	if c.count == len(c.buf) {
		c.buf[c.head] = Frame{}
		c.head = (c.head + 1) % len(c.buf)
		c.count--
		c.dropped.Add(1)
	}
	c.buf[(c.head+c.count)%len(c.buf)] = f
	c.count++
	c.mu.Unlock()
	c.pushed.Add(1)

	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest frame, waiting up to timeout for one to
// arrive. ok is false when the timeout elapsed with the channel still empty.
// A zero or negative timeout polls without waiting.
func (c *FrameChannel) Pop(timeout time.Duration) (f Frame, ok bool) {
	if f, ok = c.tryPop(); ok {
		return f, true
	}
	if timeout <= 0 {
		return Frame{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-c.ready:
			if f, ok = c.tryPop(); ok {
				return f, true
			}
		case <-timer.C:
			return c.tryPop()
		}
	}
}

func (c *FrameChannel) tryPop() (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == 0 {
		return Frame{}, false
	}
	f := c.buf[c.head]
	c.buf[c.head] = Frame{}
	c.head = (c.head + 1) % len(c.buf)
	c.count--
	return f, true
}

// Len returns the number of queued frames.
func (c *FrameChannel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Cap returns the channel capacity.
func (c *FrameChannel) Cap() int { return len(c.buf) }

// Pushed returns the total number of frames ever pushed.
func (c *FrameChannel) Pushed() uint64 { return c.pushed.Load() }

// Dropped returns the number of frames evicted by the overflow policy.
func (c *FrameChannel) Dropped() uint64 { return c.dropped.Load() }
