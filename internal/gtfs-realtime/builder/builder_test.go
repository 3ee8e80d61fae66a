package builder

import (
	"bytes"
	"testing"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/transitpulse/pkg/gtfs-realtime/models"
	static "github.com/transitpulse/pkg/gtfs-static/models"
)

var buildTime = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

func serviceTime(s string) static.ServiceTime {
	st, err := static.ParseServiceTime(s)
	if err != nil {
		panic(err)
	}
	return st
}

func sampleInputs() ([]models.Alert, []*models.TripDelayRecord, map[string]models.VehiclePosition) {
	alerts := []models.Alert{
		{Header: "Detour", Description: "Route 5 diverted", Start: 1756100000, End: 1756200000},
	}
	records := []*models.TripDelayRecord{
		{
			TripID:    "T1",
			VehicleID: "43012",
			Updates: []models.StopUpdate{
				{StopID: "B", Delay: 300, Estimated: serviceTime("08:31"), Timestamp: 1756111000},
				{StopID: "A", Delay: 120, Estimated: serviceTime("08:17"), Timestamp: 1756110900},
			},
		},
		{
			TripID:    "T2",
			VehicleID: "99",
			Updates: []models.StopUpdate{
				{StopID: "A", Delay: -60, Estimated: serviceTime("25:12"), Timestamp: 1756111100},
			},
		},
	}
	positions := map[string]models.VehiclePosition{
		"43012": {Code: "5612", Lat: 54.35, Lon: 18.65, Speed: 8.25, Timestamp: 1756111050},
	}
	return alerts, records, positions
}

func TestBuildEntityOrder(t *testing.T) {
	alerts, records, positions := sampleInputs()
	msg, counts := Build(buildTime, alerts, records, positions)

	want := []string{"ALERT_0", "UPDATE_0", "VEHICLE_0", "UPDATE_1"}
	if len(msg.GetEntity()) != len(want) {
		t.Fatalf("Expected %d entities, got %d", len(want), len(msg.GetEntity()))
	}
	for i, entity := range msg.GetEntity() {
		if entity.GetId() != want[i] {
			t.Errorf("Entity %d: expected %s, got %s", i, want[i], entity.GetId())
		}
	}

	if counts.Alerts != 1 || counts.TripUpdates != 2 || counts.Vehicles != 1 {
		t.Errorf("Counts = %+v, want 1 alert, 2 trip updates, 1 vehicle", counts)
	}
}

func TestBuildHeader(t *testing.T) {
	msg, counts := Build(buildTime, nil, nil, nil)

	header := msg.GetHeader()
	if header.GetGtfsRealtimeVersion() != "2.0" {
		t.Errorf("Expected version 2.0, got %s", header.GetGtfsRealtimeVersion())
	}
	if header.GetIncrementality() != gtfsrt.FeedHeader_FULL_DATASET {
		t.Errorf("Expected FULL_DATASET, got %v", header.GetIncrementality())
	}
	if header.GetTimestamp() != uint64(buildTime.Unix()) {
		t.Errorf("Expected timestamp %d, got %d", buildTime.Unix(), header.GetTimestamp())
	}

	// An empty cycle still publishes a valid, entity-less snapshot.
	if len(msg.GetEntity()) != 0 {
		t.Errorf("Expected no entities, got %d", len(msg.GetEntity()))
	}
	if counts != (Counts{}) {
		t.Errorf("Expected zero counts, got %+v", counts)
	}
}

func TestBuildAlertEntity(t *testing.T) {
	alerts := []models.Alert{{Header: "Detour", Description: "Route 5 diverted", Start: 100, End: 200}}
	msg, _ := Build(buildTime, alerts, nil, nil)

	alert := msg.GetEntity()[0].GetAlert()
	if alert == nil {
		t.Fatal("Expected an alert entity")
	}
	if got := alert.GetHeaderText().GetTranslation()[0].GetText(); got != "Detour" {
		t.Errorf("Expected header Detour, got %q", got)
	}
	if got := alert.GetDescriptionText().GetTranslation()[0].GetText(); got != "Route 5 diverted" {
		t.Errorf("Expected description text, got %q", got)
	}

	period := alert.GetActivePeriod()[0]
	if period.GetStart() != 100 || period.GetEnd() != 200 {
		t.Errorf("Period = [%d, %d], want [100, 200]", period.GetStart(), period.GetEnd())
	}

	open := []models.Alert{{Header: "x", Description: "y"}}
	msg, _ = Build(buildTime, open, nil, nil)
	period = msg.GetEntity()[0].GetAlert().GetActivePeriod()[0]
	if period.Start != nil || period.End != nil {
		t.Error("Open ended alerts must leave period bounds unset")
	}
}

func TestBuildSortsStopUpdates(t *testing.T) {
	_, records, _ := sampleInputs()
	msg, _ := Build(buildTime, nil, records, nil)

	update := msg.GetEntity()[0].GetTripUpdate()
	if update.GetTrip().GetTripId() != "T1" {
		t.Fatalf("Expected T1 first, got %s", update.GetTrip().GetTripId())
	}

	stops := update.GetStopTimeUpdate()
	if len(stops) != 2 {
		t.Fatalf("Expected 2 stop updates, got %d", len(stops))
	}
	if stops[0].GetStopId() != "A" || stops[1].GetStopId() != "B" {
		t.Errorf("Stop updates must be ordered by estimated time, got [%s %s]",
			stops[0].GetStopId(), stops[1].GetStopId())
	}
	if stops[0].GetArrival().GetDelay() != 120 || stops[1].GetArrival().GetDelay() != 300 {
		t.Errorf("Arrival delays = [%d %d], want [120 300]",
			stops[0].GetArrival().GetDelay(), stops[1].GetArrival().GetDelay())
	}

	if update.GetDelay() != 120 {
		t.Errorf("Trip delay must come from the earliest stop update, got %d", update.GetDelay())
	}
	if update.GetTimestamp() != 1756110900 {
		t.Errorf("Trip timestamp must be the oldest report, got %d", update.GetTimestamp())
	}
}

func TestBuildVehicleCompanion(t *testing.T) {
	_, records, positions := sampleInputs()
	msg, counts := Build(buildTime, nil, records, positions)

	vehicle := msg.GetEntity()[1].GetVehicle()
	if vehicle == nil {
		t.Fatal("Expected a vehicle entity right after UPDATE_0")
	}
	if vehicle.GetTrip().GetTripId() != "T1" {
		t.Errorf("Expected trip T1, got %s", vehicle.GetTrip().GetTripId())
	}
	if vehicle.GetVehicle().GetId() != "43012" {
		t.Errorf("Expected vehicle 43012, got %s", vehicle.GetVehicle().GetId())
	}
	if vehicle.GetVehicle().GetLabel() != "5612" {
		t.Errorf("Expected label 5612, got %s", vehicle.GetVehicle().GetLabel())
	}

	pos := vehicle.GetPosition()
	if pos.GetLatitude() != float32(54.35) || pos.GetLongitude() != float32(18.65) {
		t.Errorf("Unexpected coordinates: %v/%v", pos.GetLatitude(), pos.GetLongitude())
	}
	if pos.GetSpeed() != 8.25 {
		t.Errorf("Expected speed 8.25 m/s, got %v", pos.GetSpeed())
	}
	if vehicle.GetTimestamp() != 1756111050 {
		t.Errorf("Expected timestamp 1756111050, got %d", vehicle.GetTimestamp())
	}

	// T2's vehicle reported no usable position this cycle.
	if counts.Vehicles != 1 {
		t.Errorf("Expected 1 vehicle entity, got %d", counts.Vehicles)
	}
	if last := msg.GetEntity()[2]; last.GetVehicle() != nil || last.GetId() != "UPDATE_1" {
		t.Errorf("Expected UPDATE_1 with no companion, got %s", last.GetId())
	}
}

func TestBuildSkipsEmptyRecords(t *testing.T) {
	records := []*models.TripDelayRecord{
		{TripID: "EMPTY"},
		{
			TripID:  "T1",
			Updates: []models.StopUpdate{{StopID: "A", Delay: 5, Estimated: serviceTime("08:17"), Timestamp: 1}},
		},
	}

	msg, counts := Build(buildTime, nil, records, nil)
	if counts.TripUpdates != 1 {
		t.Errorf("Expected 1 trip update, got %d", counts.TripUpdates)
	}
	entity := msg.GetEntity()[0]
	if entity.GetId() != "UPDATE_0" {
		t.Errorf("Numbering must skip empty records, got %s", entity.GetId())
	}
	if entity.GetTripUpdate().GetTrip().GetTripId() != "T1" {
		t.Errorf("Expected T1, got %s", entity.GetTripUpdate().GetTrip().GetTripId())
	}
}

func TestBuildDeterministic(t *testing.T) {
	alerts, records, positions := sampleInputs()

	msg1, _ := Build(buildTime, alerts, records, positions)
	first, err := proto.Marshal(msg1)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}

	msg2, _ := Build(buildTime, alerts, records, positions)
	second, err := proto.Marshal(msg2)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("Two builds from identical inputs must serialize identically")
	}
}
