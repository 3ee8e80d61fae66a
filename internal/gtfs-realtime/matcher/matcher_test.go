package matcher

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/transitpulse/internal/common/logger"
	"github.com/transitpulse/internal/gtfs-static/schedule"
	"github.com/transitpulse/pkg/gtfs-realtime/models"
	static "github.com/transitpulse/pkg/gtfs-static/models"
)

// testSnapshot indexes a small timetable for service day 2026-08-25:
// trip T1 (route 5) departs stop A 08:15 and stop B 08:30, night trip
// T2 (route 5) departs stop A 25:10 and stop B 25:20.
func testSnapshot(t *testing.T, now time.Time) *schedule.Snapshot {
	t.Helper()

	tables := map[string]string{
		"calendar_dates.txt": "service_id,date,exception_type\nWKDY,20260825,1\n",
		"trips.txt": "route_id,service_id,trip_id\n" +
			"ZTM:5,WKDY,T1\n" +
			"ZTM:5,WKDY,T2\n",
		"stop_times.txt": "trip_id,stop_id,stop_sequence,departure_time\n" +
			"T1,A,1,08:15:30\n" +
			"T1,B,2,08:30:00\n" +
			"T2,A,1,25:10:00\n" +
			"T2,B,2,25:20:00\n",
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range tables {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("Creating %s in archive: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("Writing %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Closing archive: %v", err)
	}

	archive, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("Reopening archive: %v", err)
	}

	snap, err := schedule.Build(archive, now, logger.New(io.Discard))
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	return snap
}

func report(route, theoretical, estimated, stamp string, delay int, vehicle string) models.DelayReport {
	return models.DelayReport{
		RouteID:         json.Number(route),
		TheoreticalTime: theoretical,
		EstimatedTime:   estimated,
		Timestamp:       stamp,
		DelaySeconds:    delay,
		VehicleID:       json.Number(vehicle),
	}
}

func newMatcher(t *testing.T, now time.Time) *Matcher {
	t.Helper()
	return New(testSnapshot(t, now), now, false, logger.New(io.Discard))
}

func TestMatchAttributesReportToTrip(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 2, 0, 0, time.UTC)
	m := newMatcher(t, now)

	if !m.Match("A", report("5", "08:15", "08:17", "12:00:30", 120, "43012")) {
		t.Fatal("Expected the report to match T1")
	}

	records := m.Records()
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}

	rec := records[0]
	if rec.TripID != "T1" {
		t.Errorf("Expected T1, got %s", rec.TripID)
	}
	if rec.VehicleID != "43012" {
		t.Errorf("Expected vehicle 43012, got %s", rec.VehicleID)
	}
	if len(rec.Updates) != 1 {
		t.Fatalf("Expected 1 stop update, got %d", len(rec.Updates))
	}

	u := rec.Updates[0]
	if u.StopID != "A" {
		t.Errorf("Expected stop A, got %s", u.StopID)
	}
	if u.Delay != 120 {
		t.Errorf("Expected 120 seconds of delay, got %d", u.Delay)
	}
	if want, _ := static.ParseServiceTime("08:17"); u.Estimated != want {
		t.Errorf("Expected estimate 08:17, got %s", u.Estimated.String())
	}
	if want := time.Date(2026, 8, 25, 12, 0, 30, 0, time.UTC).Unix(); u.Timestamp != want {
		t.Errorf("Expected timestamp %d, got %d", want, u.Timestamp)
	}

	if m.Matched() != 1 || m.Unmatched() != 0 {
		t.Errorf("Counters = %d/%d, want 1/0", m.Matched(), m.Unmatched())
	}
}

func TestMatchCountsMisses(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	m := newMatcher(t, now)

	if m.Match("A", report("5", "09:45", "09:47", "12:00:00", 60, "1")) {
		t.Error("No departure is scheduled at 09:45")
	}
	if m.Match("Z", report("5", "08:15", "08:17", "12:00:00", 60, "1")) {
		t.Error("Stop Z is not in the timetable")
	}
	if m.Match("A", report("7", "08:15", "08:17", "12:00:00", 60, "1")) {
		t.Error("Route 7 does not serve stop A")
	}

	if m.Matched() != 0 {
		t.Errorf("Expected 0 matches, got %d", m.Matched())
	}
	if m.Unmatched() != 3 {
		t.Errorf("Expected 3 misses, got %d", m.Unmatched())
	}
	if len(m.Records()) != 0 {
		t.Errorf("Expected no records, got %d", len(m.Records()))
	}
}

func TestMatchDropsUnparseableTimes(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	m := newMatcher(t, now)

	if m.Match("A", report("5", "8h15", "08:17", "12:00:00", 60, "1")) {
		t.Error("A scheduled time that does not parse cannot match")
	}
	if m.Match("A", report("5", "08:15", "junk", "12:00:00", 60, "1")) {
		t.Error("An estimate that does not parse cannot be recorded")
	}
	if m.Unmatched() != 2 {
		t.Errorf("Expected 2 misses, got %d", m.Unmatched())
	}
}

func TestReportTimestampNormalization(t *testing.T) {
	// The matcher runs just after midnight while the feed still
	// carries clock times from before midnight.
	now := time.Date(2026, 8, 26, 0, 1, 0, 0, time.UTC)
	m := newMatcher(t, now)

	if !m.Match("A", report("5", "08:15", "08:17", "23:59:30", 60, "1")) {
		t.Fatal("Expected the first report to match")
	}
	if !m.Match("B", report("5", "08:30", "08:32", "00:00:30", 60, "1")) {
		t.Fatal("Expected the second report to match")
	}

	updates := m.Records()[0].Updates
	if want := time.Date(2026, 8, 25, 23, 59, 30, 0, time.UTC).Unix(); updates[0].Timestamp != want {
		t.Errorf("A clock time ahead of now belongs to the previous day: got %d, want %d",
			updates[0].Timestamp, want)
	}
	if want := time.Date(2026, 8, 26, 0, 0, 30, 0, time.UTC).Unix(); updates[1].Timestamp != want {
		t.Errorf("A clock time within the window stays on the current day: got %d, want %d",
			updates[1].Timestamp, want)
	}
}

func TestEstimateWrapsPastMidnight(t *testing.T) {
	now := time.Date(2026, 8, 26, 1, 5, 0, 0, time.UTC)
	m := newMatcher(t, now)

	if !m.Match("A", report("5", "25:10", "24:58", "01:00:00", 300, "7")) {
		t.Fatal("Expected the first report to match T2")
	}
	if !m.Match("B", report("5", "25:20", "00:03", "01:00:10", 480, "7")) {
		t.Fatal("Expected the second report to match T2")
	}

	records := m.Records()
	if len(records) != 1 {
		t.Fatalf("Expected both reports on one record, got %d", len(records))
	}

	updates := records[0].Updates
	if want, _ := static.ParseServiceTime("24:58"); updates[0].Estimated != want {
		t.Errorf("First estimate = %s, want 24:58", updates[0].Estimated.String())
	}
	if want, _ := static.ParseServiceTime("24:03"); updates[1].Estimated != want {
		t.Errorf("An estimate after a 24h+ one must shift a day forward, got %s",
			updates[1].Estimated.String())
	}
}

func TestEstimateWithoutWraparoundHistory(t *testing.T) {
	now := time.Date(2026, 8, 26, 1, 5, 0, 0, time.UTC)
	m := newMatcher(t, now)

	if !m.Match("A", report("5", "25:10", "00:05", "01:00:00", 120, "7")) {
		t.Fatal("Expected the report to match T2")
	}

	want, _ := static.ParseServiceTime("00:05")
	if got := m.Records()[0].Updates[0].Estimated; got != want {
		t.Errorf("With no 24h+ history the estimate must stay as reported, got %s", got.String())
	}
}

func TestConsumeVisitsStopsInOrder(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	m := newMatcher(t, now)

	feed := models.DelayFeed{
		"B": {Delay: []models.DelayReport{report("5", "08:30", "08:33", "12:00:00", 180, "2")}},
		"A": {Delay: []models.DelayReport{report("5", "25:10", "25:12", "12:00:00", 120, "7")}},
	}
	m.Consume(feed)

	records := m.Records()
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].TripID != "T2" || records[1].TripID != "T1" {
		t.Errorf("Expected records in stop order [T2 T1], got [%s %s]",
			records[0].TripID, records[1].TripID)
	}
	if m.Matched() != 2 {
		t.Errorf("Expected 2 matches, got %d", m.Matched())
	}
}

func TestVehicleBindingLastWins(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	m := newMatcher(t, now)

	m.Match("A", report("5", "08:15", "08:17", "12:00:00", 60, "100"))
	m.Match("B", report("5", "08:30", "08:32", "12:00:05", 60, "200"))

	rec := m.Records()[0]
	if rec.VehicleID != "200" {
		t.Errorf("Expected the later report's vehicle to win, got %s", rec.VehicleID)
	}

	m.Match("A", report("5", "08:15", "08:18", "12:00:10", 90, ""))
	if rec.VehicleID != "200" {
		t.Errorf("An empty vehicle id must not erase the binding, got %q", rec.VehicleID)
	}
}
