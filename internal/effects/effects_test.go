package effects

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/faiface/beep"

	"github.com/MrWong99/earwig/pkg/audio"
)

// fakeOutput records what the player hands to the mixer.
type fakeOutput struct {
	mu      sync.Mutex
	played  []beep.Streamer
	locks   int
	cleared int
	closed  int
}

func (o *fakeOutput) Play(s ...beep.Streamer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.played = append(o.played, s...)
}

func (o *fakeOutput) Clear()  { o.mu.Lock(); o.cleared++; o.mu.Unlock() }
func (o *fakeOutput) Lock()   { o.mu.Lock(); o.locks++; o.mu.Unlock() }
func (o *fakeOutput) Unlock() {}
func (o *fakeOutput) Close()  { o.mu.Lock(); o.closed++; o.mu.Unlock() }

func writeTone(t *testing.T, path string, samples, rate int) {
	t.Helper()
	pcm := make([]int16, samples)
	for i := range pcm {
		if i%20 < 10 {
			pcm[i] = 8000
		} else {
			pcm[i] = -8000
		}
	}
	if err := os.WriteFile(path, audio.EncodeWAV(audio.Int16ToBytes(pcm), rate), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPickFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"a.wav", "b.MP3", "notes.txt", ".hidden.wav"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.wav"), 0o755); err != nil {
		t.Fatal(err)
	}

	var n int
	got, err := pickFile(dir, func(k int) int { n = k; return k - 1 })
	if err != nil {
		t.Fatalf("pickFile: %v", err)
	}
	if n != 2 {
		t.Errorf("candidates = %d, want 2", n)
	}
	if filepath.Base(got) != "b.MP3" {
		t.Errorf("picked %q, want b.MP3", got)
	}
}

func TestPickFile_Empty(t *testing.T) {
	t.Parallel()

	_, err := pickFile(t.TempDir(), nil)
	if !errors.Is(err, ErrNoSounds) {
		t.Fatalf("err = %v, want ErrNoSounds", err)
	}
	if _, err := pickFile(filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestDecodeFile_Resamples(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tone.wav")
	writeTone(t, path, 1600, 16000)

	buf, err := decodeFile(path, DefaultSampleRate)
	if err != nil {
		t.Fatalf("decodeFile: %v", err)
	}
	if buf.Format().SampleRate != DefaultSampleRate {
		t.Errorf("rate = %d, want %d", buf.Format().SampleRate, DefaultSampleRate)
	}
	// 100 ms at 44.1 kHz.
	if buf.Len() < 4000 || buf.Len() > 4500 {
		t.Errorf("len = %d, want about 4410", buf.Len())
	}
}

func TestDecodeFile_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.wav")
	if err := os.WriteFile(bad, []byte("not a wav"), 0o644); err != nil {
		t.Fatal(err)
	}
	ogg := filepath.Join(dir, "x.ogg")
	if err := os.WriteFile(ogg, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{bad, ogg, filepath.Join(dir, "missing.wav")} {
		if _, err := decodeFile(path, DefaultSampleRate); err == nil {
			t.Errorf("decodeFile(%q): expected error", filepath.Base(path))
		}
	}
}

func TestBeepPlayer_PlayRandomCaches(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTone(t, filepath.Join(dir, "yes.wav"), 800, 16000)

	out := &fakeOutput{}
	p := newBeepPlayer(out)
	for range 2 {
		if err := p.PlayRandom(dir); err != nil {
			t.Fatalf("PlayRandom: %v", err)
		}
	}
	if len(out.played) != 2 {
		t.Fatalf("played %d streamers, want 2", len(out.played))
	}
	if len(p.cache) != 1 {
		t.Errorf("cache size = %d, want 1", len(p.cache))
	}
}

func TestBeepPlayer_Loop(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "crying.wav")
	writeTone(t, file, 800, 44100)

	out := &fakeOutput{}
	p := newBeepPlayer(out)

	if err := p.StartLoop(file); err != nil {
		t.Fatalf("StartLoop: %v", err)
	}
	first, ok := out.played[0].(*beep.Ctrl)
	if !ok {
		t.Fatalf("played %T, want *beep.Ctrl", out.played[0])
	}

	// A looping streamer never runs dry.
	samples := make([][2]float64, 2000)
	for range 3 {
		if n, ok := first.Stream(samples); n != len(samples) || !ok {
			t.Fatalf("loop stream = (%d, %v), want (%d, true)", n, ok, len(samples))
		}
	}

	if err := p.StartLoop(file); err != nil {
		t.Fatalf("second StartLoop: %v", err)
	}
	if first.Streamer != nil {
		t.Error("replaced loop still has a streamer")
	}
	second := out.played[1].(*beep.Ctrl)

	p.StopLoop()
	if second.Streamer != nil {
		t.Error("stopped loop still has a streamer")
	}
	p.StopLoop()

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if out.closed != 1 || out.cleared != 1 {
		t.Errorf("closed=%d cleared=%d, want 1 and 1", out.closed, out.cleared)
	}
	if err := p.StartLoop(file); err == nil {
		t.Error("StartLoop after Close: expected error")
	}
}

func TestNop(t *testing.T) {
	t.Parallel()

	var p Player = Nop{}
	if err := p.PlayRandom("/nonexistent"); err != nil {
		t.Error(err)
	}
	if err := p.StartLoop("/nonexistent"); err != nil {
		t.Error(err)
	}
	p.StopLoop()
	if err := p.Close(); err != nil {
		t.Error(err)
	}
}
