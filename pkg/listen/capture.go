package listen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/earwig/pkg/audio"
)

// capture is the producer side of the pipeline: one goroutine reading frames
// from an open input stream and pushing them into the frame channel. The
// goroutine owns the stream and closes it on every exit path.
type capture struct {
	stream     audio.InputStream
	ch         *audio.FrameChannel
	frameBytes int
	frameDur   time.Duration
	log        *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// err is written by the capture goroutine before done closes.
	err error

	readErrs    atomic.Uint64
	shortFrames atomic.Uint64
}

// startCapture opens dev synchronously and starts the capture goroutine. An
// open failure wraps ErrDeviceOpen and leaves nothing running.
func startCapture(ctx context.Context, dev audio.Device, cfg Config, ch *audio.FrameChannel, log *slog.Logger) (*capture, error) {
	stream, err := dev.Open(ctx, cfg.SampleRate, cfg.FrameSamples())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceOpen, err)
	}
	c := &capture{
		stream:     stream,
		ch:         ch,
		frameBytes: cfg.FrameBytes(),
		frameDur:   cfg.FrameDuration(),
		log:        log,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go c.run()
	return c, nil
}

func (c *capture) stopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *capture) run() {
	defer close(c.done)
	defer func() {
		if err := c.stream.Close(); err != nil {
			c.log.Warn("listen: close input stream", "err", err)
		}
	}()

	var seq uint64
	for !c.stopping() {
		data, err := c.stream.Read()
		if err != nil {
			if errors.Is(err, audio.ErrTransient) {
				c.readErrs.Add(1)
				c.log.Debug("listen: transient read error", "err", err)
				continue
			}
			if c.stopping() {
				return
			}
			c.err = fmt.Errorf("listen: capture: %w", err)
			c.log.Error("listen: capture stopped", "err", err)
			return
		}
		if len(data) != c.frameBytes {
			c.shortFrames.Add(1)
			c.log.Debug("listen: skipping malformed frame", "bytes", len(data), "want", c.frameBytes)
			continue
		}
		c.ch.Push(audio.Frame{Data: data, Seq: seq, Duration: c.frameDur})
		seq++
	}
}

// stop signals the goroutine and waits up to timeout for it to release the
// device. Safe to call more than once.
func (c *capture) stop(timeout time.Duration) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-c.done:
		return nil
	case <-t.C:
		return ErrJoinTimeout
	}
}

// finished reports whether the goroutine has exited, and with which error.
func (c *capture) finished() (bool, error) {
	select {
	case <-c.done:
		return true, c.err
	default:
		return false, nil
	}
}
