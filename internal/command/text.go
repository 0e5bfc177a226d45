package command

import (
	"strings"
	"time"
	"unicode"
)

// Clean keeps letters, digits and whitespace of text and lower-cases it.
// "It's 10:30." becomes "its 1030".
func Clean(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// TextAfterKeyphrase finds the first phrase, in list order, occurring in
// text and returns what follows its first occurrence with leading whitespace
// removed. Empty phrases are ignored.
func TextAfterKeyphrase(text string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if p == "" {
			continue
		}
		if i := strings.Index(text, p); i >= 0 {
			return strings.TrimLeftFunc(text[i+len(p):], unicode.IsSpace), true
		}
	}
	return "", false
}

// HasKeyphrase reports whether any non-empty phrase occurs in text as a
// substring. A non-nil matcher additionally accepts phonetic matches of
// single-word phrases.
func HasKeyphrase(text string, phrases []string, m *Matcher) bool {
	for _, p := range phrases {
		if p == "" {
			continue
		}
		if strings.Contains(text, p) {
			return true
		}
		if m != nil {
			if _, ok := m.MatchToken(text, p); ok {
				return true
			}
		}
	}
	return false
}

// ParseTime reads a 12-hour clock time from the digits of text, in order.
//
// One or two digits are the hour ("7", "12"), three are H:MM ("745") and four
// are HH:MM ("1030"). No digits or five and more yield false, as does an hour
// outside 1..12 or a minute outside 0..59. AM or PM is taken from now, and the
// result is on now's date in now's location.
func ParseTime(text string, now time.Time) (time.Time, bool) {
	var digits []int
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}

	var hour, minute int
	switch len(digits) {
	case 1:
		hour = digits[0]
	case 2:
		hour = digits[0]*10 + digits[1]
	case 3:
		hour = digits[0]
		minute = digits[1]*10 + digits[2]
	case 4:
		hour = digits[0]*10 + digits[1]
		minute = digits[2]*10 + digits[3]
	default:
		return time.Time{}, false
	}
	if hour < 1 || hour > 12 || minute > 59 {
		return time.Time{}, false
	}

	if now.Hour() < 12 {
		hour %= 12
	} else if hour != 12 {
		hour += 12
	}
	y, mo, d := now.Date()
	return time.Date(y, mo, d, hour, minute, 0, 0, now.Location()), true
}

// clockDistance returns the distance between the times of day of a and b,
// going round midnight when that is shorter.
func clockDistance(a, b time.Time) time.Duration {
	const day = 24 * time.Hour
	d := a.Sub(b) % day
	if d < 0 {
		d = -d
	}
	if d > day/2 {
		d = day - d
	}
	return d
}
