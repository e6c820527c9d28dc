package flow

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	bookingIntentRe = regexp.MustCompile(`(?i)\b(book|booking|appointment|schedule|reserve|reservation)\b`)
	cancelRe        = regexp.MustCompile(`(?i)\b(cancel|stop|never\s*mind|nevermind|forget it|quit)\b`)
	affirmativeRe   = regexp.MustCompile(`(?i)^\s*(yes|yep|yeah|yup|confirm|confirmed|sure|ok|okay|sounds good|correct|y)\s*[.!]*\s*$`)
	negativeRe      = regexp.MustCompile(`(?i)^\s*(no|nope|nah|wrong|change|n)\s*[.!]*\s*$`)
	phoneRe         = regexp.MustCompile(`(?:\+?\d[\d\s().-]{5,}\d)`)
	emailRe         = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	clockRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// WantsBooking reports whether free text reads like a booking request.
func WantsBooking(text string) bool {
	return bookingIntentRe.MatchString(text)
}

// WantsCancel reports whether the user is bailing out of the dialogue.
func WantsCancel(text string) bool {
	return cancelRe.MatchString(text)
}

// IsAffirmative matches short confirmation replies.
func IsAffirmative(text string) bool {
	return affirmativeRe.MatchString(text)
}

// IsNegative matches short rejection replies.
func IsNegative(text string) bool {
	return negativeRe.MatchString(text)
}

// ParseName accepts anything that plausibly reads as a person's name.
func ParseName(text string) (string, bool) {
	name := strings.TrimSpace(text)
	if name == "" || len(name) > 120 {
		return "", false
	}
	if phoneRe.MatchString(name) {
		return "", false
	}
	return name, true
}

// ParseContact extracts a phone number or email address from free text.
func ParseContact(text string) (string, bool) {
	if m := emailRe.FindString(text); m != "" {
		return m, true
	}
	if m := phoneRe.FindString(text); m != "" {
		return strings.TrimSpace(m), true
	}
	return "", false
}

// ParseService accepts a short free-text service description.
func ParseService(text string) (string, bool) {
	svc := strings.TrimSpace(text)
	if svc == "" || len(svc) > 200 {
		return "", false
	}
	return svc, true
}

// ParseWhen resolves colloquial scheduling text ("tomorrow 2pm", "friday
// 10:30", "2026-09-01 14:00") to a concrete future time relative to now.
// Minutes default to zero; bare times without a day land on the next
// occurrence of that clock time.
func ParseWhen(text string, now time.Time) (time.Time, bool) {
	lower := strings.ToLower(text)

	if t, err := time.ParseInLocation("2006-01-02 15:04", strings.TrimSpace(lower), now.Location()); err == nil {
		return t, true
	}

	hour, minute, ok := parseClock(lower)
	if !ok {
		return time.Time{}, false
	}

	day := now
	switch {
	case strings.Contains(lower, "tomorrow"):
		day = now.AddDate(0, 0, 1)
	case strings.Contains(lower, "today"):
		// day stays as now
	default:
		if wd, found := findWeekday(lower); found {
			offset := (int(wd) - int(now.Weekday()) + 7) % 7
			if offset == 0 {
				offset = 7
			}
			day = now.AddDate(0, 0, offset)
		}
	}

	candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, true
}

func parseClock(lower string) (hour, minute int, ok bool) {
	m := clockRe.FindStringSubmatch(lower)
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch m[3] {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	default:
		// A bare "2" is ambiguous; without am/pm require 24h form with minutes.
		if m[2] == "" {
			return 0, 0, false
		}
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

func findWeekday(lower string) (time.Weekday, bool) {
	for name, wd := range weekdays {
		if strings.Contains(lower, name) {
			return wd, true
		}
	}
	return 0, false
}
