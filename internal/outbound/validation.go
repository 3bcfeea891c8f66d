package outbound

import (
	"strconv"
	"strings"
	"time"
)

// ValidatePhone strips surrounding whitespace and leading zeros, checks the
// 10-digit-starting-with-3 rule, and returns the E.164 form (57-prefixed) on
// success (spec §4.6).
func ValidatePhone(phone string) (string, bool) {
	phone = strings.TrimLeft(strings.TrimSpace(phone), "0")
	if len(phone) != 10 {
		return "", false
	}
	if phone[0] != '3' {
		return "", false
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return "57" + phone, true
}

// CutDayEligible implements the cut-day dispatch gate (spec §4.6):
// let d = current day of month, c = cut day; include iff
// (d == c-1 OR d >= c) AND c >= d-3.
func CutDayEligible(now time.Time, cutDay int) bool {
	d := now.Day()
	c := cutDay
	return (d == c-1 || d >= c) && c >= d-3
}

// ParseCutDay parses the "corte" column (day-of-month as string).
func ParseCutDay(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 31 {
		return 0, false
	}
	return n, true
}
