package quotawatch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	ansiCSIRe = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)
	ansiOSCRe = regexp.MustCompile(`\x1b\][^\x07]*(\x07|\x1b\\)`)
)

// StripANSI removes CSI and OSC escape sequences from terminal output.
func StripANSI(s string) string {
	if !strings.ContainsRune(s, 0x1b) {
		return s
	}
	s = ansiCSIRe.ReplaceAllString(s, "")
	return ansiOSCRe.ReplaceAllString(s, "")
}

// StripInvisibles drops zero-width and BOM runes that some CLIs embed in
// their screen output.
func StripInvisibles(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case 0, '​', '‌', '‍', '﻿':
			return -1
		default:
			return r
		}
	}, s)
}

var resetPartRe = regexp.MustCompile(`(?i)\b(\d+)\s*(days?|hours?|hrs?|minutes?|mins?|d|h|m)\b`)

// ParseRelativeReset decomposes a relative duration phrase such as
// "6d 23h 22m" or "2 hours 5 minutes" into a duration. ok is false when no
// component is found or the components sum to zero, so callers never mistake
// an unparseable phrase for an imminent reset.
func ParseRelativeReset(s string) (time.Duration, bool) {
	var total time.Duration
	for _, m := range resetPartRe.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		switch unicode.ToLower(rune(m[2][0])) {
		case 'd':
			total += time.Duration(n) * 24 * time.Hour
		case 'h':
			total += time.Duration(n) * time.Hour
		case 'm':
			total += time.Duration(n) * time.Minute
		}
	}
	return total, total > 0
}

// FormatResetIn renders a duration as the compact "6d 23h 22m" style used in
// reset phrases. Durations under a minute render as "less than a minute".
func FormatResetIn(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)

	parts := make([]string, 0, 3)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	return strings.Join(parts, " ")
}

// CapitalizeFirst upper-cases the first rune, as when turning a captured
// "resets in 2h" phrase into display text.
func CapitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
