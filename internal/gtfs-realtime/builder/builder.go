package builder

import (
	"fmt"
	"sort"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/transitpulse/pkg/gtfs-realtime/models"
)

const feedVersion = "2.0"

// Counts reports how many entities of each kind went into a snapshot.
type Counts struct {
	Alerts      int
	TripUpdates int
	Vehicles    int
}

// Build assembles a full-dataset feed message: alert entities first,
// then one trip update per record, each followed by its companion
// vehicle when a position is known for the bound vehicle. Entity IDs
// are ordinal within their kind, and a vehicle shares the ordinal of
// its trip update.
func Build(now time.Time, alerts []models.Alert, records []*models.TripDelayRecord, positions map[string]models.VehiclePosition) (*gtfsrt.FeedMessage, Counts) {
	msg := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: proto.String(feedVersion),
			Incrementality:      gtfsrt.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
	}
	var counts Counts

	for i, alert := range alerts {
		msg.Entity = append(msg.Entity, &gtfsrt.FeedEntity{
			Id:    proto.String(fmt.Sprintf("ALERT_%d", i)),
			Alert: alertEntity(alert),
		})
		counts.Alerts++
	}

	n := 0
	for _, record := range records {
		if len(record.Updates) == 0 {
			continue
		}
		sortUpdates(record.Updates)

		msg.Entity = append(msg.Entity, &gtfsrt.FeedEntity{
			Id:         proto.String(fmt.Sprintf("UPDATE_%d", n)),
			TripUpdate: tripUpdate(record),
		})
		counts.TripUpdates++

		if pos, ok := positions[record.VehicleID]; ok {
			msg.Entity = append(msg.Entity, &gtfsrt.FeedEntity{
				Id:      proto.String(fmt.Sprintf("VEHICLE_%d", n)),
				Vehicle: vehicleEntity(record, pos),
			})
			counts.Vehicles++
		}
		n++
	}

	return msg, counts
}

// sortUpdates orders a record's updates by estimated time. The sort is
// stable so reports with equal estimates keep their arrival order.
func sortUpdates(updates []models.StopUpdate) {
	sort.SliceStable(updates, func(i, j int) bool {
		return updates[i].Estimated < updates[j].Estimated
	})
}

func alertEntity(alert models.Alert) *gtfsrt.Alert {
	period := &gtfsrt.TimeRange{}
	if alert.Start > 0 {
		period.Start = proto.Uint64(uint64(alert.Start))
	}
	if alert.End > 0 {
		period.End = proto.Uint64(uint64(alert.End))
	}
	return &gtfsrt.Alert{
		ActivePeriod:    []*gtfsrt.TimeRange{period},
		HeaderText:      translated(alert.Header),
		DescriptionText: translated(alert.Description),
	}
}

func translated(text string) *gtfsrt.TranslatedString {
	return &gtfsrt.TranslatedString{
		Translation: []*gtfsrt.TranslatedString_Translation{
			{Text: proto.String(text)},
		},
	}
}

// tripUpdate flattens a record. The trip-level delay is the delay at
// the earliest estimated stop; the trip-level timestamp is the oldest
// report timestamp so consumers see when the data was generated, not
// when it was assembled.
func tripUpdate(record *models.TripDelayRecord) *gtfsrt.TripUpdate {
	update := &gtfsrt.TripUpdate{
		Trip:  &gtfsrt.TripDescriptor{TripId: proto.String(record.TripID)},
		Delay: proto.Int32(int32(record.Updates[0].Delay)),
	}

	oldest := record.Updates[0].Timestamp
	for _, u := range record.Updates {
		if u.Timestamp < oldest {
			oldest = u.Timestamp
		}
		update.StopTimeUpdate = append(update.StopTimeUpdate, &gtfsrt.TripUpdate_StopTimeUpdate{
			StopId: proto.String(u.StopID),
			Arrival: &gtfsrt.TripUpdate_StopTimeEvent{
				Delay: proto.Int32(int32(u.Delay)),
			},
		})
	}
	update.Timestamp = proto.Uint64(uint64(oldest))

	return update
}

func vehicleEntity(record *models.TripDelayRecord, pos models.VehiclePosition) *gtfsrt.VehiclePosition {
	return &gtfsrt.VehiclePosition{
		Trip: &gtfsrt.TripDescriptor{TripId: proto.String(record.TripID)},
		Vehicle: &gtfsrt.VehicleDescriptor{
			Id:    proto.String(record.VehicleID),
			Label: proto.String(pos.Code),
		},
		Position: &gtfsrt.Position{
			Latitude:  proto.Float32(float32(pos.Lat)),
			Longitude: proto.Float32(float32(pos.Lon)),
			Speed:     proto.Float32(float32(pos.Speed)),
		},
		Timestamp: proto.Uint64(uint64(pos.Timestamp)),
	}
}
