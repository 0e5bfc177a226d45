// Package portaudio implements [audio.Device] on top of the PortAudio C
// library via github.com/gordonklaus/portaudio.
//
// Each opened stream holds its own Initialize/Terminate pair so streams can be
// opened and released independently; PortAudio reference-counts initialisation.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/earwig/pkg/audio"
	pa "github.com/gordonklaus/portaudio"
)

// ErrNoInputDevice is returned by Open when no input-capable device matches.
var ErrNoInputDevice = errors.New("portaudio: no matching input device")

// Option is a functional option for [Device].
type Option func(*Device)

// WithDeviceName selects the first input device whose name contains name
// (case-insensitive). The default input device is used when unset.
func WithDeviceName(name string) Option {
	return func(d *Device) { d.deviceName = name }
}

// WithCaptureFormat makes the device capture at the given native rate and
// channel count and convert every buffer to the requested mono format. Use it
// for hardware that cannot open a 16 kHz mono stream directly.
func WithCaptureFormat(sampleRate, channels int) Option {
	return func(d *Device) {
		d.captureRate = sampleRate
		d.captureChannels = channels
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) { d.log = l }
}

// Device opens PortAudio input streams.
type Device struct {
	deviceName      string
	captureRate     int
	captureChannels int
	log             *slog.Logger
}

// New returns a PortAudio [audio.Device].
func New(opts ...Option) *Device {
	d := &Device{log: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open implements [audio.Device].
func (d *Device) Open(_ context.Context, sampleRate, frameSamples int) (audio.InputStream, error) {
	if sampleRate <= 0 || frameSamples <= 0 {
		return nil, fmt.Errorf("portaudio: invalid format %d Hz / %d samples", sampleRate, frameSamples)
	}
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	s, err := d.open(sampleRate, frameSamples)
	if err != nil {
		_ = pa.Terminate()
		return nil, err
	}
	return s, nil
}

func (d *Device) open(sampleRate, frameSamples int) (*stream, error) {
	info, err := d.findDevice()
	if err != nil {
		return nil, err
	}

	src := audio.Format{SampleRate: sampleRate, Channels: 1}
	if d.captureRate > 0 {
		src.SampleRate = d.captureRate
	}
	if d.captureChannels > 0 {
		src.Channels = d.captureChannels
	}
	framesPerBuffer := int(int64(frameSamples) * int64(src.SampleRate) / int64(sampleRate))

	buf := make([]int16, framesPerBuffer*src.Channels)
	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   info,
			Channels: src.Channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(src.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}
	ps, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open %q: %w", info.Name, err)
	}
	if err := ps.Start(); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("portaudio: start %q: %w", info.Name, err)
	}

	d.log.Info("audio capture opened",
		"device", info.Name,
		"format", src.String(),
		"frames_per_buffer", framesPerBuffer,
	)
	return &stream{
		ps:   ps,
		buf:  buf,
		conv: &audio.Converter{Source: src, Target: audio.Format{SampleRate: sampleRate, Channels: 1}},
	}, nil
}

func (d *Device) findDevice() (*pa.DeviceInfo, error) {
	if d.deviceName == "" {
		info, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input: %w: %w", ErrNoInputDevice, err)
		}
		return info, nil
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	want := strings.ToLower(d.deviceName)
	for _, info := range devices {
		if info.MaxInputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(info.Name), want) {
			return info, nil
		}
	}
	return nil, fmt.Errorf("portaudio: %w: %q", ErrNoInputDevice, d.deviceName)
}

// stream is an open PortAudio capture handle.
type stream struct {
	ps   *pa.Stream
	buf  []int16
	conv *audio.Converter
	once sync.Once
	err  error
}

// Read implements [audio.InputStream]. Input overflow is reported as
// [audio.ErrTransient].
func (s *stream) Read() ([]byte, error) {
	if err := s.ps.Read(); err != nil {
		if errors.Is(err, pa.InputOverflowed) {
			return nil, fmt.Errorf("portaudio: read: %w: %w", audio.ErrTransient, err)
		}
		return nil, fmt.Errorf("portaudio: read: %w", err)
	}
	pcm := s.conv.Convert(audio.Int16ToBytes(s.buf))
	if pcm == nil {
		return nil, fmt.Errorf("portaudio: read: %w: unconvertible buffer", audio.ErrTransient)
	}
	return pcm, nil
}

// Close implements [audio.InputStream]: Stop, Close, then Terminate.
func (s *stream) Close() error {
	s.once.Do(func() {
		s.err = errors.Join(s.ps.Stop(), s.ps.Close(), pa.Terminate())
		if s.err != nil {
			s.err = fmt.Errorf("portaudio: close: %w", s.err)
		}
	})
	return s.err
}

var (
	_ audio.Device      = (*Device)(nil)
	_ audio.InputStream = (*stream)(nil)
)
