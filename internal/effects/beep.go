package effects

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

// DefaultSampleRate is the output rate of the speaker.
const DefaultSampleRate beep.SampleRate = 44100

// resampleQuality is passed to beep.Resample.
const resampleQuality = 4

// output is the mixer the player writes to. The speaker package satisfies it;
// tests substitute a fake.
type output interface {
	Play(s ...beep.Streamer)
	Clear()
	Lock()
	Unlock()
	Close()
}

type speakerOutput struct{}

func (speakerOutput) Play(s ...beep.Streamer) { speaker.Play(s...) }
func (speakerOutput) Clear()                  { speaker.Clear() }
func (speakerOutput) Lock()                   { speaker.Lock() }
func (speakerOutput) Unlock()                 { speaker.Unlock() }
func (speakerOutput) Close()                  { speaker.Close() }

// BeepOption configures a [BeepPlayer].
type BeepOption func(*BeepPlayer)

// WithSampleRate sets the speaker rate. Every clip is resampled to it.
func WithSampleRate(rate int) BeepOption {
	return func(p *BeepPlayer) { p.rate = beep.SampleRate(rate) }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) BeepOption {
	return func(p *BeepPlayer) { p.log = l }
}

// BeepPlayer plays wav and mp3 files through the default output device using
// faiface/beep. Decoded clips are cached in memory, resampled to the speaker
// rate.
type BeepPlayer struct {
	rate beep.SampleRate
	out  output
	log  *slog.Logger
	pick func(int) int

	mu     sync.Mutex
	cache  map[string]*beep.Buffer
	loop   *beep.Ctrl
	closed bool
}

var _ Player = (*BeepPlayer)(nil)

// NewBeepPlayer initialises the speaker and returns a player.
func NewBeepPlayer(opts ...BeepOption) (*BeepPlayer, error) {
	p := newBeepPlayer(speakerOutput{}, opts...)
	if err := speaker.Init(p.rate, p.rate.N(time.Second/10)); err != nil {
		return nil, fmt.Errorf("effects: init speaker: %w", err)
	}
	return p, nil
}

func newBeepPlayer(out output, opts ...BeepOption) *BeepPlayer {
	p := &BeepPlayer{
		rate:  DefaultSampleRate,
		out:   out,
		log:   slog.Default(),
		cache: make(map[string]*beep.Buffer),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// PlayRandom implements [Player].
func (p *BeepPlayer) PlayRandom(dir string) error {
	file, err := pickFile(dir, p.pick)
	if err != nil {
		return err
	}
	buf, err := p.load(file)
	if err != nil {
		return err
	}
	p.log.Debug("effects: playing", "file", file)
	p.out.Play(buf.Streamer(0, buf.Len()))
	return nil
}

// StartLoop implements [Player].
func (p *BeepPlayer) StartLoop(file string) error {
	buf, err := p.load(file)
	if err != nil {
		return err
	}
	ctrl := &beep.Ctrl{Streamer: beep.Loop(-1, buf.Streamer(0, buf.Len()))}

	p.mu.Lock()
	prev := p.loop
	p.loop = ctrl
	p.mu.Unlock()

	if prev != nil {
		p.silence(prev)
	}
	p.log.Debug("effects: loop started", "file", file)
	p.out.Play(ctrl)
	return nil
}

// StopLoop implements [Player].
func (p *BeepPlayer) StopLoop() {
	p.mu.Lock()
	ctrl := p.loop
	p.loop = nil
	p.mu.Unlock()
	if ctrl != nil {
		p.silence(ctrl)
		p.log.Debug("effects: loop stopped")
	}
}

// silence detaches a control's streamer so the mixer drops it on its next
// pull.
func (p *BeepPlayer) silence(ctrl *beep.Ctrl) {
	p.out.Lock()
	ctrl.Streamer = nil
	p.out.Unlock()
}

// Close implements [Player].
func (p *BeepPlayer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.loop = nil
	p.mu.Unlock()

	p.out.Clear()
	p.out.Close()
	return nil
}

// load returns the cached clip for file, decoding it on first use.
func (p *BeepPlayer) load(file string) (*beep.Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("effects: player closed")
	}
	if buf, ok := p.cache[file]; ok {
		return buf, nil
	}
	buf, err := decodeFile(file, p.rate)
	if err != nil {
		return nil, err
	}
	p.cache[file] = buf
	return buf, nil
}

// decodeFile decodes a wav or mp3 file completely into a buffer at rate.
func decodeFile(file string, rate beep.SampleRate) (*beep.Buffer, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("effects: open %q: %w", file, err)
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
	)
	switch strings.ToLower(filepath.Ext(file)) {
	case ".wav":
		stream, format, err = wav.Decode(f)
	case ".mp3":
		stream, format, err = mp3.Decode(f)
	default:
		f.Close()
		return nil, fmt.Errorf("effects: %q: unsupported format", file)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("effects: decode %q: %w", file, err)
	}
	defer stream.Close()

	buf := beep.NewBuffer(beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2})
	var s beep.Streamer = stream
	if format.SampleRate != rate {
		s = beep.Resample(resampleQuality, format.SampleRate, rate, stream)
	}
	buf.Append(s)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("effects: decode %q: %w", file, err)
	}
	return buf, nil
}
