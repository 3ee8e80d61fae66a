package models

// The three GTFS static tables the matching engine needs. Column names
// follow the GTFS reference; unknown columns in the source files are
// ignored by the CSV decoder.

const ServiceAdded = 1

type CalendarDate struct {
	ServiceID     string `csv:"service_id"`
	Date          string `csv:"date"` // YYYYMMDD
	ExceptionType int    `csv:"exception_type"`
}

type Trip struct {
	TripID    string `csv:"trip_id"`
	RouteID   string `csv:"route_id"`
	ServiceID string `csv:"service_id"`
}

type StopTime struct {
	TripID        string `csv:"trip_id"`
	StopID        string `csv:"stop_id"`
	StopSequence  int    `csv:"stop_sequence"`
	DepartureTime string `csv:"departure_time"` // HH:MM:SS, hours may exceed 23
}
