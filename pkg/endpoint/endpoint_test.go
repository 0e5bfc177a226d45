package endpoint_test

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/MrWong99/earwig/pkg/audio"
	"github.com/MrWong99/earwig/pkg/endpoint"
	"github.com/MrWong99/earwig/pkg/provider/vad/mock"
)

const frameDur = 30 * time.Millisecond

// defaultConfig mirrors the production defaults: 30 ms frames, 300 ms end
// silence, 300 ms pre-roll (10 frames), 15 s cap.
func defaultConfig() endpoint.Config {
	return endpoint.Config{
		SampleRate:    16000,
		FrameDuration: frameDur,
		EndSilence:    300 * time.Millisecond,
		MaxUtterance:  15 * time.Second,
		PrerollFrames: 10,
	}
}

// feeder produces frames with increasing sequence numbers. The first data
// byte marks speech for the mock classifier.
type feeder struct{ seq uint64 }

func (f *feeder) frame(speech bool) audio.Frame {
	data := make([]byte, 960)
	if speech {
		data[0] = 1
	}
	fr := audio.Frame{Data: data, Seq: f.seq, Duration: frameDur}
	f.seq++
	return fr
}

func byteClassifier() *mock.Classifier {
	return &mock.Classifier{Func: func(frame []byte) bool { return len(frame) > 0 && frame[0] == 1 }}
}

func newEndpointer(t *testing.T, cfg endpoint.Config) *endpoint.Endpointer {
	t.Helper()
	e, err := endpoint.New(cfg, byteClassifier())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

// push feeds n frames of the given kind and returns every finalized utterance.
func push(e *endpoint.Endpointer, f *feeder, speech bool, n int) []endpoint.Utterance {
	var out []endpoint.Utterance
	for range n {
		if u, ok := e.Push(f.frame(speech)); ok {
			out = append(out, u)
		}
	}
	return out
}

func assertSeqs(t *testing.T, u endpoint.Utterance, first, last uint64) {
	t.Helper()
	if got := uint64(len(u.Frames)); got != last-first+1 {
		t.Fatalf("utterance has %d frames, want %d", got, last-first+1)
	}
	for i, fr := range u.Frames {
		if fr.Seq != first+uint64(i) {
			t.Fatalf("frame %d: seq %d, want %d", i, fr.Seq, first+uint64(i))
		}
	}
}

func TestSilenceEndpoint(t *testing.T) {
	t.Parallel()
	e := newEndpointer(t, defaultConfig())
	var f feeder

	if got := push(e, &f, false, 10); len(got) != 0 {
		t.Fatalf("silence produced %d utterances", len(got))
	}
	if e.PrerollLen() != 10 {
		t.Fatalf("PrerollLen = %d, want 10", e.PrerollLen())
	}
	if got := push(e, &f, true, 5); len(got) != 0 {
		t.Fatal("speech alone must not finalize")
	}
	if e.State() != endpoint.Armed || e.PrerollLen() != 0 || e.VoicedLen() != 15 {
		t.Fatalf("after onset: state=%s preroll=%d voiced=%d", e.State(), e.PrerollLen(), e.VoicedLen())
	}
	if got := push(e, &f, false, 9); len(got) != 0 {
		t.Fatal("finalized before end silence reached")
	}
	got := push(e, &f, false, 1)
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}

	u := got[0]
	assertSeqs(t, u, 0, 24)
	if u.Reason != endpoint.ReasonSilence {
		t.Errorf("Reason = %s, want silence", u.Reason)
	}
	if u.Preroll != 10 {
		t.Errorf("Preroll = %d, want 10", u.Preroll)
	}
	if u.Speech != 5*frameDur {
		t.Errorf("Speech = %s, want %s", u.Speech, 5*frameDur)
	}
	if u.Duration() != 25*frameDur {
		t.Errorf("Duration = %s, want %s", u.Duration(), 25*frameDur)
	}
	if len(u.PCM()) != 25*960 {
		t.Errorf("PCM length = %d, want %d", len(u.PCM()), 25*960)
	}
	if e.State() != endpoint.Idle || e.PrerollLen() != 0 || e.VoicedLen() != 0 {
		t.Errorf("after finalize: state=%s preroll=%d voiced=%d", e.State(), e.PrerollLen(), e.VoicedLen())
	}
}

func TestMaxDurationCap(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	e := newEndpointer(t, cfg)
	var f feeder

	capFrames := int(cfg.MaxUtterance / cfg.FrameDuration) // 500
	got := push(e, &f, true, capFrames+1)
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}
	u := got[0]
	assertSeqs(t, u, 0, uint64(capFrames-1))
	if u.Reason != endpoint.ReasonMaxDuration {
		t.Errorf("Reason = %s, want max_duration", u.Reason)
	}

	// Frame 501 started a fresh utterance rather than resuming the old one.
	if e.State() != endpoint.Armed || e.VoicedLen() != 1 {
		t.Errorf("after cap: state=%s voiced=%d, want armed/1", e.State(), e.VoicedLen())
	}
}

func TestCapFrameNotCountedAsSilence(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	cfg.MaxUtterance = 600 * time.Millisecond // 20 frames
	e := newEndpointer(t, cfg)
	var f feeder

	// 10 speech frames then 10 silent ones: frame 20 reaches both the cap and
	// 300 ms of silence. The cap wins and takes the silent frame with it.
	push(e, &f, true, 10)
	got := push(e, &f, false, 10)
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}
	if got[0].Reason != endpoint.ReasonMaxDuration || got[0].Len() != 20 {
		t.Errorf("got reason=%s len=%d, want max_duration/20", got[0].Reason, got[0].Len())
	}
	if e.State() != endpoint.Idle {
		t.Errorf("state = %s, want idle", e.State())
	}
}

func TestSpeechResetsSilence(t *testing.T) {
	t.Parallel()
	e := newEndpointer(t, defaultConfig())
	var f feeder

	push(e, &f, true, 1)
	for range 5 {
		if got := push(e, &f, false, 9); len(got) != 0 {
			t.Fatal("pause shorter than end silence finalized the utterance")
		}
		push(e, &f, true, 1)
	}
	if got := push(e, &f, false, 10); len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}
}

func TestAllSilence(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	e := newEndpointer(t, cfg)
	var f feeder

	for range 1000 {
		if _, ok := e.Push(f.frame(false)); ok {
			t.Fatal("silence produced an utterance")
		}
		if e.PrerollLen() > cfg.PrerollFrames {
			t.Fatalf("pre-roll grew to %d", e.PrerollLen())
		}
		if e.State() != endpoint.Idle {
			t.Fatal("silence armed the endpointer")
		}
	}
}

func TestPrerollKeepsMostRecent(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	cfg.PrerollFrames = 3
	e := newEndpointer(t, cfg)
	var f feeder

	push(e, &f, false, 7) // seq 0..6, ring keeps 4,5,6
	push(e, &f, true, 1)  // seq 7
	got := push(e, &f, false, 10)
	if len(got) != 1 {
		t.Fatalf("got %d utterances", len(got))
	}
	assertSeqs(t, got[0], 4, 17)
	if got[0].Preroll != 3 {
		t.Errorf("Preroll = %d, want 3", got[0].Preroll)
	}
}

func TestZeroPreroll(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	cfg.PrerollFrames = 0
	e := newEndpointer(t, cfg)
	var f feeder

	push(e, &f, false, 20)
	if e.PrerollLen() != 0 {
		t.Fatalf("PrerollLen = %d, want 0", e.PrerollLen())
	}
	push(e, &f, true, 2)
	got := push(e, &f, false, 10)
	if len(got) != 1 {
		t.Fatalf("got %d utterances", len(got))
	}
	assertSeqs(t, got[0], 20, 31)
}

func TestPrerollNotReconstructedAfterFinalize(t *testing.T) {
	t.Parallel()
	e := newEndpointer(t, defaultConfig())
	var f feeder

	push(e, &f, true, 3)
	if got := push(e, &f, false, 10); len(got) != 1 {
		t.Fatal("expected finalize")
	}
	// The next utterance starts from a fresh ring: only frames after the
	// finalize may appear as pre-roll.
	push(e, &f, false, 2)
	push(e, &f, true, 1)
	got := push(e, &f, false, 10)
	if len(got) != 1 {
		t.Fatal("expected second finalize")
	}
	assertSeqs(t, got[0], 13, 25)
}

func TestClassifierErrorIsNonSpeech(t *testing.T) {
	t.Parallel()
	c := &mock.Classifier{Err: errors.New("bad frame")}
	e, err := endpoint.New(defaultConfig(), c)
	if err != nil {
		t.Fatal(err)
	}
	var f feeder
	for range 50 {
		if _, ok := e.Push(f.frame(true)); ok {
			t.Fatal("classifier errors must never finalize")
		}
	}
	if e.State() != endpoint.Idle {
		t.Errorf("state = %s, want idle", e.State())
	}
	if e.ClassifierErrors() != 50 {
		t.Errorf("ClassifierErrors = %d, want 50", e.ClassifierErrors())
	}
}

func TestClassifierSeesConfiguredRate(t *testing.T) {
	t.Parallel()
	c := byteClassifier()
	e, _ := endpoint.New(defaultConfig(), c)
	var f feeder
	e.Push(f.frame(false))
	if len(c.Calls) != 1 || c.Calls[0].SampleRate != 16000 {
		t.Errorf("calls = %+v", c.Calls)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	e := newEndpointer(t, defaultConfig())
	var f feeder

	push(e, &f, false, 4)
	push(e, &f, true, 6)
	if n := e.Reset(); n != 10 {
		t.Errorf("Reset abandoned %d frames, want 10", n)
	}
	if e.State() != endpoint.Idle || e.PrerollLen() != 0 || e.VoicedLen() != 0 {
		t.Errorf("after reset: state=%s preroll=%d voiced=%d", e.State(), e.PrerollLen(), e.VoicedLen())
	}

	push(e, &f, false, 4)
	if n := e.Reset(); n != 0 {
		t.Errorf("Reset while idle abandoned %d frames", n)
	}
	if e.PrerollLen() != 0 {
		t.Error("Reset must clear the pre-roll ring")
	}
}

func TestZeroDurationFrameUsesConfig(t *testing.T) {
	t.Parallel()
	e := newEndpointer(t, defaultConfig())
	for i := range 11 {
		fr := audio.Frame{Data: make([]byte, 960), Seq: uint64(i)}
		if i == 0 {
			fr.Data[0] = 1
		}
		if u, ok := e.Push(fr); ok {
			if i != 10 || u.Duration() != 11*frameDur {
				t.Fatalf("finalized at %d with duration %s", i, u.Duration())
			}
			return
		}
	}
	t.Fatal("expected finalize after 10 silent frames")
}

// TestInvariantsRandom drives the machine with a random speech pattern and
// checks the structural invariants after every frame.
func TestInvariantsRandom(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	cfg.MaxUtterance = 3 * time.Second
	e := newEndpointer(t, cfg)
	r := rand.New(rand.NewPCG(1, 2))
	var f feeder

	seen := make(map[uint64]bool)
	lastSeq := int64(-1)
	speaking := false
	for range 20000 {
		if r.IntN(10) == 0 {
			speaking = !speaking
		}
		u, ok := e.Push(f.frame(speaking))

		switch e.State() {
		case endpoint.Idle:
			if e.VoicedLen() != 0 {
				t.Fatal("voiced buffer non-empty while idle")
			}
			if e.PrerollLen() > cfg.PrerollFrames {
				t.Fatal("pre-roll over capacity")
			}
		case endpoint.Armed:
			if e.PrerollLen() != 0 {
				t.Fatal("pre-roll non-empty while armed")
			}
		default:
			t.Fatalf("unknown state %v", e.State())
		}

		if !ok {
			continue
		}
		// The cap runs from the trigger frame; pre-roll comes on top.
		if spoken := u.Duration() - time.Duration(u.Preroll)*cfg.FrameDuration; spoken > cfg.MaxUtterance {
			t.Fatalf("utterance with %s after onset exceeds cap", spoken)
		}
		if u.Preroll > cfg.PrerollFrames {
			t.Fatalf("utterance carries %d pre-roll frames, ring holds %d", u.Preroll, cfg.PrerollFrames)
		}
		for _, fr := range u.Frames {
			if seen[fr.Seq] {
				t.Fatalf("frame %d emitted twice", fr.Seq)
			}
			if int64(fr.Seq) <= lastSeq {
				t.Fatalf("frame %d out of order after %d", fr.Seq, lastSeq)
			}
			seen[fr.Seq] = true
			lastSeq = int64(fr.Seq)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*endpoint.Config)
	}{
		{"zero rate", func(c *endpoint.Config) { c.SampleRate = 0 }},
		{"zero frame", func(c *endpoint.Config) { c.FrameDuration = 0 }},
		{"zero end silence", func(c *endpoint.Config) { c.EndSilence = 0 }},
		{"cap not above silence", func(c *endpoint.Config) { c.MaxUtterance = c.EndSilence }},
		{"negative preroll", func(c *endpoint.Config) { c.PrerollFrames = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tt.mutate(&cfg)
			if _, err := endpoint.New(cfg, byteClassifier()); !errors.Is(err, endpoint.ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}

	if _, err := endpoint.New(defaultConfig(), nil); !errors.Is(err, endpoint.ErrInvalidConfig) {
		t.Errorf("nil classifier: err = %v", err)
	}
}

func TestFinalizeReasonString(t *testing.T) {
	t.Parallel()
	if endpoint.ReasonSilence.String() != "silence" || endpoint.ReasonMaxDuration.String() != "max_duration" {
		t.Error("unexpected reason strings")
	}
	if endpoint.FinalizeReason(0).String() != "unknown" {
		t.Error("zero reason should be unknown")
	}
}
