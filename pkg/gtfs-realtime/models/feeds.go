package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LocalTime handles feed timestamps that carry no timezone information.
// The upstream endpoints report wall-clock time in the agency's zone,
// which is assumed to be the process-local zone.
type LocalTime struct {
	time.Time
}

// UnmarshalJSON handles parsing of timestamps without timezone
func (lt *LocalTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), "\"")
	if s == "null" || s == "" {
		return nil
	}

	formats := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		time.RFC3339,
	}

	var parseErr error
	for _, format := range formats {
		t, err := time.ParseInLocation(format, s, time.Local)
		if err == nil {
			lt.Time = t
			return nil
		}
		parseErr = err
	}

	return fmt.Errorf("unable to parse time %q: %w", s, parseErr)
}

// MarshalJSON converts the time back to JSON
func (lt LocalTime) MarshalJSON() ([]byte, error) {
	if lt.Time.IsZero() {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("%q", lt.Time.Format("2006-01-02 15:04:05"))), nil
}

// DelayFeed is the delay endpoint document: stop ID to the reports
// currently attributed to that stop.
type DelayFeed map[string]StopDelays

type StopDelays struct {
	LastUpdate string        `json:"lastUpdate"`
	Delay      []DelayReport `json:"delay"`
}

// DelayReport identifies a vehicle only by route, stop and scheduled
// departure; the trip identity has to be recovered from the timetable.
type DelayReport struct {
	RouteID         json.Number `json:"routeId"`
	TheoreticalTime string      `json:"theoreticalTime"` // HH:MM
	EstimatedTime   string      `json:"estimatedTime"`   // HH:MM
	Timestamp       string      `json:"timestamp"`       // HH:MM:SS wall clock
	DelaySeconds    int         `json:"delayInSeconds"`
	VehicleID       json.Number `json:"vehicleId"`
}

type VehicleFeed struct {
	Vehicles []VehicleRecord `json:"Vehicles"`
}

type VehicleRecord struct {
	VehicleID     json.Number `json:"VehicleId"`
	VehicleCode   json.Number `json:"VehicleCode"`
	Line          string      `json:"Line"`
	GPSQuality    int         `json:"GPSQuality"`
	Lat           float64     `json:"Lat"`
	Lon           float64     `json:"Lon"`
	Speed         float64     `json:"Speed"` // km/h
	DataGenerated LocalTime   `json:"DataGenerated"`
}

// AlertMessage is one raw alert entry; Body may contain HTML markup.
type AlertMessage struct {
	Title string    `json:"title"`
	Body  string    `json:"body"`
	Start LocalTime `json:"start"`
	End   LocalTime `json:"end"`
}
