package command

import (
	"testing"
	"time"
)

var (
	morning   = time.Date(2026, 10, 15, 10, 28, 0, 0, time.UTC)
	afternoon = time.Date(2026, 10, 15, 15, 2, 0, 0, time.UTC)
)

func TestClean(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"It's 10:30.":       "its 1030",
		"  Time is 7:45!  ": "  time is 745  ",
		"Sorry, sorry...":   "sorry sorry",
		"Ünïcode Wörds 12":  "ünïcode wörds 12",
		"":                  "",
	}
	for in, want := range tests {
		if got := Clean(in); got != want {
			t.Errorf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTextAfterKeyphrase(t *testing.T) {
	t.Parallel()
	phrases := []string{"it is", "its", "time is"}
	tests := []struct {
		text   string
		want   string
		wantOK bool
	}{
		{"its 1030", "1030", true},
		{"well it is   745 now", "745 now", true},
		{"the time is 3", "3", true},
		{"hello there", "", false},
		// List order wins over position in the text.
		{"its late and it is 9", "9", true},
	}
	for _, tt := range tests {
		got, ok := TextAfterKeyphrase(tt.text, phrases)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("TextAfterKeyphrase(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.wantOK)
		}
	}
	if _, ok := TextAfterKeyphrase("anything", []string{""}); ok {
		t.Error("empty phrase matched")
	}
}

func TestHasKeyphrase(t *testing.T) {
	t.Parallel()
	if !HasKeyphrase("you are stupid", []string{"dumb", "stupid"}, nil) {
		t.Error("exact keyword not found")
	}
	if HasKeyphrase("anything at all", []string{"", "idiot"}, nil) {
		t.Error("empty keyword must not match everything")
	}
	if HasKeyphrase("i am sory", []string{"sorry"}, nil) {
		t.Error("misspelling matched without a matcher")
	}
	if !HasKeyphrase("i am sory", []string{"sorry"}, NewMatcher()) {
		t.Error("phonetic matcher did not accept a misspelling")
	}
	if HasKeyphrase("hello there", []string{"sorry"}, NewMatcher()) {
		t.Error("phonetic matcher accepted an unrelated phrase")
	}
}

func TestMatcher_MultiWordKeywordNeverFuzzy(t *testing.T) {
	t.Parallel()
	if _, ok := NewMatcher().MatchToken("i am so sorry", "so sorry"); ok {
		t.Error("multi-word keyword went through the token matcher")
	}
}

func TestParseTime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		text   string
		now    time.Time
		want   string
		wantOK bool
	}{
		{"hour only morning", "7", morning, "07:00", true},
		{"two digit hour", "11", morning, "11:00", true},
		{"noon hour in the morning is midnight", "12", morning, "00:00", true},
		{"H:MM", "745", morning, "07:45", true},
		{"HH:MM", "1030", morning, "10:30", true},
		{"afternoon shifts to pm", "3", afternoon, "15:00", true},
		{"twelve in the afternoon stays noon", "1215", afternoon, "12:15", true},
		{"digits spread out", "about 1 0 3 0 or so", morning, "10:30", true},
		{"no digits", "ten thirty", morning, "", false},
		{"five digits", "10305", morning, "", false},
		{"hour zero", "0", morning, "", false},
		{"hour thirteen", "1330", morning, "", false},
		{"minute sixty", "760", morning, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseTime(tt.text, tt.now)
			if ok != tt.wantOK {
				t.Fatalf("ParseTime(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if s := got.Format("15:04"); s != tt.want {
				t.Errorf("ParseTime(%q) = %s, want %s", tt.text, s, tt.want)
			}
			if y, m, d := got.Date(); y != 2026 || m != time.October || d != 15 {
				t.Errorf("date = %v, want the date of now", got)
			}
		})
	}
}

func TestClockDistance(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 10, 15, 0, 2, 0, 0, time.UTC)
	late := time.Date(2026, 10, 15, 23, 58, 0, 0, time.UTC)
	if got := clockDistance(base, late); got != 4*time.Minute {
		t.Errorf("distance across midnight = %v, want 4m", got)
	}
	if got := clockDistance(morning, morning.Add(-3*time.Minute)); got != 3*time.Minute {
		t.Errorf("distance = %v, want 3m", got)
	}
}

// ---- interpreter ------------------------------------------------------------

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newInterpreter(c *clock) *Interpreter {
	return New(Config{
		TimePhrases:     []string{"it is", "its", "time is"},
		InsultKeywords:  []string{"stupid", "dumb"},
		ApologyKeywords: []string{"sorry"},
		InsultWindow:    time.Minute,
		TimeErrorMargin: 5 * time.Minute,
	}, WithClock(c.now))
}

func TestInterpreter_TimeJudgement(t *testing.T) {
	t.Parallel()
	c := &clock{t: morning} // 10:28
	in := newInterpreter(c)

	tests := []struct {
		text   string
		action Action
	}{
		{"It's 10:30.", ActionCorrect},
		{"It is 10:23", ActionCorrect},
		{"Time is 10:34", ActionIncorrect},
		{"It's 2:15", ActionIncorrect},
		{"Hello there", ActionNone},
		{"It is ten thirty", ActionNone},
	}
	for _, tt := range tests {
		if got := in.Handle(tt.text); got.Action != tt.action {
			t.Errorf("Handle(%q) = %v (%s), want %v", tt.text, got.Action, got.Reason, tt.action)
		}
	}

	d := in.Handle("It's 10:30.")
	if d.Delta != 2*time.Minute || d.Spoken.Format("15:04") != "10:30" {
		t.Errorf("decision = %+v", d)
	}
	if d.Text != "its 1030" {
		t.Errorf("Text = %q", d.Text)
	}
}

func TestInterpreter_NoneReasons(t *testing.T) {
	t.Parallel()
	in := newInterpreter(&clock{t: morning})
	if d := in.Handle("good morning"); d.Reason != "no time phrase" {
		t.Errorf("reason = %q", d.Reason)
	}
	if d := in.Handle("it is late"); d.Reason != "unparseable time" {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestInterpreter_InsultAndApology(t *testing.T) {
	t.Parallel()
	c := &clock{t: morning}
	in := newInterpreter(c)

	// An insult with no preceding time announcement is ignored.
	if d := in.Handle("you are stupid"); d.Action != ActionNone {
		t.Fatalf("insult without announcement: %v", d.Action)
	}
	// Apologising while not crying does nothing.
	if d := in.Handle("sorry"); d.Action != ActionNone {
		t.Fatalf("apology while calm: %v", d.Action)
	}

	in.Handle("it's 10:30")
	c.advance(30 * time.Second)
	if d := in.Handle("You're so STUPID!"); d.Action != ActionStartCrying {
		t.Fatalf("insult in window: %v", d.Action)
	}
	if !in.Crying() {
		t.Fatal("not crying after insult")
	}
	// Further insults while crying do not restart it.
	if d := in.Handle("dumb"); d.Action == ActionStartCrying {
		t.Error("crying restarted while already crying")
	}
	if d := in.Handle("I'm sorry"); d.Action != ActionStopCrying {
		t.Fatalf("apology while crying: %v", d.Action)
	}
	if in.Crying() {
		t.Error("still crying after apology")
	}
}

func TestInterpreter_InsultWindowExpires(t *testing.T) {
	t.Parallel()
	c := &clock{t: morning}
	in := newInterpreter(c)

	in.Handle("it is 10:28")
	c.advance(time.Minute)
	if d := in.Handle("stupid"); d.Action != ActionNone {
		t.Errorf("insult after window: %v", d.Action)
	}
}

func TestInterpreter_FuzzyApology(t *testing.T) {
	t.Parallel()
	c := &clock{t: morning}
	in := New(Config{
		TimePhrases:     []string{"its"},
		InsultKeywords:  []string{"stupid"},
		ApologyKeywords: []string{"sorry"},
		InsultWindow:    time.Minute,
		TimeErrorMargin: time.Minute,
		Fuzzy:           true,
	}, WithClock(c.now))

	in.Handle("its 1028")
	in.Handle("stupid")
	if d := in.Handle("sory"); d.Action != ActionStopCrying {
		t.Errorf("fuzzy apology: %v", d.Action)
	}
}

func TestAction_String(t *testing.T) {
	t.Parallel()
	for a, want := range map[Action]string{
		ActionNone:        "none",
		ActionCorrect:     "correct",
		ActionIncorrect:   "incorrect",
		ActionStartCrying: "start_crying",
		ActionStopCrying:  "stop_crying",
		Action(99):        "unknown",
	} {
		if got := a.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(a), got, want)
		}
	}
}
