package vehicles

import (
	"github.com/transitpulse/pkg/gtfs-realtime/models"
)

// GPS quality value the position feed uses for a proper satellite fix.
const gpsFixed = 3

// Store holds the usable vehicle positions for one cycle, keyed by
// vehicle ID. Like the matcher it is rebuilt every cycle.
type Store struct {
	positions map[string]models.VehiclePosition
	dropped   int
}

func NewStore() *Store {
	return &Store{positions: make(map[string]models.VehiclePosition)}
}

// Add keeps a record only when the fix is usable: GPS quality 3 and a
// line assignment. Speed arrives in km/h and is stored in m/s. A later
// record for the same vehicle replaces the earlier one.
func (s *Store) Add(rec models.VehicleRecord) bool {
	if rec.GPSQuality != gpsFixed || rec.Line == "" {
		s.dropped++
		return false
	}

	var generated int64
	if !rec.DataGenerated.IsZero() {
		generated = rec.DataGenerated.Unix()
	}

	s.positions[rec.VehicleID.String()] = models.VehiclePosition{
		Code:      rec.VehicleCode.String(),
		Lat:       rec.Lat,
		Lon:       rec.Lon,
		Speed:     rec.Speed / 3.6,
		Timestamp: generated,
	}
	return true
}

func (s *Store) AddAll(records []models.VehicleRecord) {
	for _, rec := range records {
		s.Add(rec)
	}
}

// Position returns the stored fix for a vehicle ID.
func (s *Store) Position(vehicleID string) (models.VehiclePosition, bool) {
	pos, ok := s.positions[vehicleID]
	return pos, ok
}

// All returns the stored positions keyed by vehicle ID.
func (s *Store) All() map[string]models.VehiclePosition { return s.positions }

// Len counts stored positions.
func (s *Store) Len() int { return len(s.positions) }

// Dropped counts records rejected by the quality filter.
func (s *Store) Dropped() int { return s.dropped }
