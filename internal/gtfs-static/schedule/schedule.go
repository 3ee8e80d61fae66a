package schedule

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/transitpulse/internal/common/logger"
	"github.com/transitpulse/pkg/gtfs-static/models"
)

// FormatError reports a bundle that cannot serve as a timetable:
// unreadable archive, missing table or missing required column.
type FormatError struct {
	Table  string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("schedule format: %s", e.Reason)
	}
	return fmt.Sprintf("schedule format: %s: %s", e.Table, e.Reason)
}

// DepartureKey identifies one scheduled departure the way the delay
// feed describes it: stop, route and minute-precision departure time.
// The time component keeps hours of 24 and above as written.
type DepartureKey struct {
	StopID    string
	RouteID   string
	Departure models.ServiceTime
}

// Snapshot is the immutable product of one schedule load. Lookups are
// read-only after Build returns, so it is safe to share.
type Snapshot struct {
	LoadedAt   time.Time
	ServiceDay time.Time

	activeServices map[string]struct{}
	tripRoute      map[string]string
	departures     map[DepartureKey]string
	collisions     int
}

// ServiceDay resolves the calendar date a timetable applies to. Trips
// running past midnight still belong to the previous day's service, so
// before 04:00 local the previous date is used.
func ServiceDay(now time.Time) time.Time {
	if now.Hour() < 4 {
		now = now.AddDate(0, 0, -1)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// Build indexes a GTFS bundle for the service day derived from now.
func Build(archive *zip.Reader, now time.Time, log logger.Logger) (*Snapshot, error) {
	snap := &Snapshot{
		LoadedAt:       now,
		ServiceDay:     ServiceDay(now),
		activeServices: make(map[string]struct{}),
		tripRoute:      make(map[string]string),
		departures:     make(map[DepartureKey]string),
	}

	fileMap := make(map[string]*zip.File)
	for _, file := range archive.File {
		fileMap[file.Name] = file
	}

	var calendarDates []*models.CalendarDate
	if err := decodeTable(fileMap, "calendar_dates.txt", &calendarDates, "service_id", "date", "exception_type"); err != nil {
		return nil, err
	}

	dayTag := snap.ServiceDay.Format("20060102")
	for _, cd := range calendarDates {
		if cd.Date == dayTag && cd.ExceptionType == models.ServiceAdded {
			snap.activeServices[cd.ServiceID] = struct{}{}
		}
	}

	var trips []*models.Trip
	if err := decodeTable(fileMap, "trips.txt", &trips, "trip_id", "route_id", "service_id"); err != nil {
		return nil, err
	}

	for _, trip := range trips {
		if trip.TripID == "" {
			continue
		}
		if _, ok := snap.activeServices[trip.ServiceID]; !ok {
			continue
		}
		snap.tripRoute[trip.TripID] = stripNamespace(trip.RouteID)
	}

	var stopTimes []*models.StopTime
	if err := decodeTable(fileMap, "stop_times.txt", &stopTimes, "trip_id", "stop_id", "departure_time"); err != nil {
		return nil, err
	}

	skipped := 0
	for _, st := range stopTimes {
		route, ok := snap.tripRoute[st.TripID]
		if !ok {
			continue
		}
		if st.DepartureTime == "" {
			// interpolated stop, no timepoint to match against
			continue
		}

		departure, err := models.ParseServiceTime(st.DepartureTime)
		if err != nil {
			skipped++
			continue
		}

		key := DepartureKey{StopID: st.StopID, RouteID: route, Departure: departure.Minute()}
		if kept, exists := snap.departures[key]; exists {
			snap.collisions++
			log.Debug("Departure key collision, keeping first trip",
				"stop_id", key.StopID,
				"route_id", key.RouteID,
				"departure", key.Departure.String(),
				"kept", kept,
				"dropped", st.TripID)
			continue
		}
		snap.departures[key] = st.TripID
	}

	if skipped > 0 {
		log.Warn("Skipped stop times with unparseable departures", "rows", skipped)
	}
	if snap.collisions > 0 {
		log.Warn("Duplicate scheduled departures share an index key, first occurrence kept",
			"collisions", snap.collisions)
	}

	log.Info("Schedule indexed",
		"service_day", dayTag,
		"active_services", len(snap.activeServices),
		"trips", len(snap.tripRoute),
		"departures", len(snap.departures))

	return snap, nil
}

// TripFor resolves a scheduled departure to its trip ID.
func (s *Snapshot) TripFor(stopID, routeID string, departure models.ServiceTime) (string, bool) {
	trip, ok := s.departures[DepartureKey{StopID: stopID, RouteID: routeID, Departure: departure.Minute()}]
	return trip, ok
}

// ServiceActive reports whether a service ID runs on the service day.
func (s *Snapshot) ServiceActive(serviceID string) bool {
	_, ok := s.activeServices[serviceID]
	return ok
}

func (s *Snapshot) ActiveServices() int { return len(s.activeServices) }
func (s *Snapshot) Trips() int          { return len(s.tripRoute) }
func (s *Snapshot) Departures() int     { return len(s.departures) }
func (s *Snapshot) Collisions() int     { return s.collisions }

func decodeTable(fileMap map[string]*zip.File, name string, out interface{}, columns ...string) error {
	file, ok := fileMap[name]
	if !ok {
		return &FormatError{Table: name, Reason: "required table missing"}
	}

	if err := requireColumns(file, columns); err != nil {
		return err
	}

	rc, err := file.Open()
	if err != nil {
		return &FormatError{Table: name, Reason: err.Error()}
	}
	defer rc.Close()

	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		r := csv.NewReader(in)
		r.FieldsPerRecord = -1
		r.TrimLeadingSpace = true
		return r
	})

	if err := gocsv.Unmarshal(skipBOM(rc), out); err != nil {
		return &FormatError{Table: name, Reason: err.Error()}
	}
	return nil
}

// skipBOM drops a UTF-8 byte order mark so the first header column
// matches its struct tag. Agencies routinely export tables with one.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if lead, err := br.Peek(3); err == nil && bytes.Equal(lead, []byte{0xEF, 0xBB, 0xBF}) {
		br.Discard(3)
	}
	return br
}

func requireColumns(file *zip.File, columns []string) error {
	rc, err := file.Open()
	if err != nil {
		return &FormatError{Table: file.Name, Reason: err.Error()}
	}
	defer rc.Close()

	r := csv.NewReader(skipBOM(rc))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return &FormatError{Table: file.Name, Reason: "missing header row"}
	}

	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[strings.TrimSpace(h)] = true
	}
	for _, col := range columns {
		if !present[col] {
			return &FormatError{Table: file.Name, Reason: fmt.Sprintf("required column %q missing", col)}
		}
	}
	return nil
}

// stripNamespace drops an agency prefix from a route ID ("ZTM:512"
// becomes "512") so route IDs compare equal with the delay feed.
func stripNamespace(routeID string) string {
	if i := strings.Index(routeID, ":"); i >= 0 {
		return routeID[i+1:]
	}
	return routeID
}
