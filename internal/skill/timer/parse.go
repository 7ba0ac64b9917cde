package timer

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoDuration is returned when no usable duration is found.
	ErrNoDuration = errors.New("timer: no duration")

	// ErrBadClockTime is returned when an alarm time cannot be understood.
	ErrBadClockTime = errors.New("timer: bad clock time")
)

var (
	hoursRe   = regexp.MustCompile(`(\d+)\s*(?:hours?|hrs?)\b`)
	minutesRe = regexp.MustCompile(`(\d+)\s*min(?:ute)?s?\b`)
	secondsRe = regexp.MustCompile(`(\d+)\s*sec(?:ond)?s?\b`)
	numberRe  = regexp.MustCompile(`\d+`)
	clockRe   = regexp.MustCompile(`^(\d{1,2})(?:[: ](\d{2}))?\s*(am|pm)?$`)
)

// ParseDuration reads spoken durations such as "5 minutes", "1 minute and 30
// seconds", "an hour", "ten seconds", or "half an hour". A bare number is
// taken as minutes.
func ParseDuration(text string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.ReplaceAll(s, "half an hour", "30 minutes")
	s = strings.ReplaceAll(s, "half a minute", "30 seconds")
	s = wordsToDigits(s)

	var total time.Duration
	found := false
	for _, u := range []struct {
		re   *regexp.Regexp
		unit time.Duration
	}{{hoursRe, time.Hour}, {minutesRe, time.Minute}, {secondsRe, time.Second}} {
		if m := u.re.FindStringSubmatch(s); m != nil {
			d, ok := scale(m[1], u.unit)
			if !ok || total > math.MaxInt64-d {
				return 0, fmt.Errorf("%w: %q is out of range", ErrNoDuration, text)
			}
			total += d
			found = true
		}
	}
	if !found {
		m := numberRe.FindString(s)
		if m == "" {
			return 0, fmt.Errorf("%w in %q", ErrNoDuration, text)
		}
		d, ok := scale(m, time.Minute)
		if !ok {
			return 0, fmt.Errorf("%w: %q is out of range", ErrNoDuration, text)
		}
		total = d
	}
	if total <= 0 {
		return 0, fmt.Errorf("%w in %q", ErrNoDuration, text)
	}
	return total, nil
}

// scale converts a run of digits to a count of unit. It reports false when the
// number does not fit a time.Duration.
func scale(digits string, unit time.Duration) (time.Duration, bool) {
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n > math.MaxInt64/int64(unit) {
		return 0, false
	}
	return time.Duration(n) * unit, true
}

// ParseClock reads an alarm time such as "7:30 am", "7 pm", "19:30", "seven
// thirty in the morning", or "noon", and returns its next occurrence after
// now. A time that has already passed today rolls over to tomorrow.
func ParseClock(text string, now time.Time) (time.Time, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.ReplaceAll(s, ".", "")
	s = clockPhrases.Replace(s)
	switch strings.TrimSpace(s) {
	case "noon", "midday":
		s = "12:00 pm"
	case "midnight":
		s = "12:00 am"
	}
	s = strings.Join(strings.Fields(wordsToDigits(s)), " ")

	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadClockTime, text)
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if minute > 59 {
		return time.Time{}, fmt.Errorf("%w: minute %d in %q", ErrBadClockTime, minute, text)
	}
	switch m[3] {
	case "am", "pm":
		if hour < 1 || hour > 12 {
			return time.Time{}, fmt.Errorf("%w: hour %d in %q", ErrBadClockTime, hour, text)
		}
		hour %= 12
		if m[3] == "pm" {
			hour += 12
		}
	default:
		if hour > 23 {
			return time.Time{}, fmt.Errorf("%w: hour %d in %q", ErrBadClockTime, hour, text)
		}
	}

	at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, nil
}

var clockPhrases = strings.NewReplacer(
	"in the morning", "am",
	"in the afternoon", "pm",
	"in the evening", "pm",
	"at night", "pm",
	"o'clock", "",
	"oclock", "",
)

var (
	smallNumbers = map[string]int{
		"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
		"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
		"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
		"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18,
		"nineteen": 19,
	}
	tens = map[string]int{
		"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
		"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
	}
	unitWords = map[string]bool{
		"hour": true, "minute": true, "second": true,
	}
)

// wordsToDigits rewrites number words below one hundred as digits and "a" or
// "an" before a time unit as 1. "twenty-five" and "twenty five" both become 25.
func wordsToDigits(s string) string {
	tokens := strings.Fields(strings.ReplaceAll(s, "-", " "))
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if (tok == "a" || tok == "an") && i+1 < len(tokens) && unitWords[strings.TrimSuffix(tokens[i+1], "s")] {
			out = append(out, "1")
			continue
		}
		if n, ok := tens[tok]; ok {
			if i+1 < len(tokens) {
				if u, ok := smallNumbers[tokens[i+1]]; ok && u > 0 && u < 10 {
					n += u
					i++
				}
			}
			out = append(out, strconv.Itoa(n))
			continue
		}
		if n, ok := smallNumbers[tok]; ok {
			out = append(out, strconv.Itoa(n))
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

// Speak renders d the way it should be read out, e.g. "1 minute and 30
// seconds". Sub-second remainders are dropped.
func Speak(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)

	var parts []string
	if h > 0 {
		parts = append(parts, plural(h, "hour"))
	}
	if m > 0 {
		parts = append(parts, plural(m, "minute"))
	}
	if s > 0 || len(parts) == 0 {
		parts = append(parts, plural(s, "second"))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
