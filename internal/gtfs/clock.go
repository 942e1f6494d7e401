package gtfs

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseClock parses HH:MM[:SS] into seconds since service-day midnight.
// Hours of 24 and above are taken as-is; no day rollover is applied.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	vals := [3]int{}
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, fmt.Errorf("invalid clock %q: %w", s, err)
		}
		vals[i] = v
	}
	return vals[0]*3600 + vals[1]*60 + vals[2], nil
}

// ElapsedSeconds returns the scheduled travel time from leaving start to
// arriving at end. Missing departure falls back to arrival and vice versa.
// The result is negative when a feed wraps past midnight without using 24+ hours.
func ElapsedSeconds(start, end StopTime) (int, error) {
	from, err := ParseClock(firstNonEmpty(start.DepartureTime, start.ArrivalTime))
	if err != nil {
		return 0, err
	}
	to, err := ParseClock(firstNonEmpty(end.ArrivalTime, end.DepartureTime))
	if err != nil {
		return 0, err
	}
	return to - from, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
