package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ServiceTime is a GTFS time of day in seconds since the service-day
// midnight. Trips running past midnight carry hours of 24 and above,
// so a ServiceTime is not reduced modulo 24 hours anywhere.
type ServiceTime int

// ParseServiceTime accepts "H:MM", "HH:MM" and "HH:MM:SS" forms.
func ParseServiceTime(s string) (ServiceTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("parsing service time %q: expected HH:MM or HH:MM:SS", s)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, fmt.Errorf("parsing service time %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("parsing service time %q: bad minute", s)
	}
	sec := 0
	if len(parts) == 3 {
		sec, err = strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return 0, fmt.Errorf("parsing service time %q: bad second", s)
		}
	}

	return ServiceTime(h*3600 + m*60 + sec), nil
}

// Minute truncates to minute precision.
func (t ServiceTime) Minute() ServiceTime {
	return t - t%60
}

// Hours returns the whole hours, which may be 24 or more.
func (t ServiceTime) Hours() int {
	return int(t) / 3600
}

// AddHours shifts the time by whole hours.
func (t ServiceTime) AddHours(h int) ServiceTime {
	return t + ServiceTime(h*3600)
}

// Clock returns the hour, minute and second components.
func (t ServiceTime) Clock() (int, int, int) {
	return int(t) / 3600, int(t) % 3600 / 60, int(t) % 60
}

// String renders minute precision, zero padded, hours unwrapped ("25:10").
func (t ServiceTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/3600, int(t)%3600/60)
}
