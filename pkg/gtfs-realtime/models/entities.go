package models

import (
	static "github.com/transitpulse/pkg/gtfs-static/models"
)

// Alert is a rider-facing service notice with markup already stripped.
type Alert struct {
	Header      string
	Description string
	Start       int64 // epoch seconds
	End         int64
}

// StopUpdate is one matched delay report attributed to a trip.
type StopUpdate struct {
	StopID    string
	Delay     int // seconds
	Estimated static.ServiceTime
	Timestamp int64 // epoch seconds of the report
}

// TripDelayRecord collects the matched reports for one trip over a
// cycle. Updates accumulate in match order and are sorted by estimated
// time when the snapshot is assembled.
type TripDelayRecord struct {
	TripID    string
	VehicleID string
	Updates   []StopUpdate
}

// VehiclePosition is a filtered, unit-normalized GPS fix.
type VehiclePosition struct {
	Code      string
	Lat       float64
	Lon       float64
	Speed     float64 // m/s
	Timestamp int64
}
