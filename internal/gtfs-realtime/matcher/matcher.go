package matcher

import (
	"sort"
	"time"

	"github.com/transitpulse/internal/common/logger"
	"github.com/transitpulse/internal/gtfs-static/schedule"
	"github.com/transitpulse/pkg/gtfs-realtime/models"
	static "github.com/transitpulse/pkg/gtfs-static/models"
)

// Matcher attributes anonymous delay reports to scheduled trips. One
// matcher serves one cycle and is thrown away afterwards, so nothing
// from a previous snapshot can leak into the next one.
type Matcher struct {
	snapshot *schedule.Snapshot
	now      time.Time
	debug    bool
	logger   logger.Logger

	records []*models.TripDelayRecord
	byTrip  map[string]*models.TripDelayRecord

	// trips with a recorded estimate at or past 24:00; later estimates
	// below 24:00 for these trips have wrapped past midnight
	pastMidnight map[string]bool

	matched   int
	unmatched int
}

func New(snapshot *schedule.Snapshot, now time.Time, debug bool, log logger.Logger) *Matcher {
	return &Matcher{
		snapshot:     snapshot,
		now:          now,
		debug:        debug,
		logger:       log,
		byTrip:       make(map[string]*models.TripDelayRecord),
		pastMidnight: make(map[string]bool),
	}
}

// Consume matches every report in a delay document. Stops are visited
// in sorted order so record order does not depend on map iteration.
func (m *Matcher) Consume(feed models.DelayFeed) {
	stopIDs := make([]string, 0, len(feed))
	for stopID := range feed {
		stopIDs = append(stopIDs, stopID)
	}
	sort.Strings(stopIDs)

	for _, stopID := range stopIDs {
		for _, report := range feed[stopID].Delay {
			m.Match(stopID, report)
		}
	}
}

// Match attributes one report to a trip. It returns false when the
// report names no scheduled departure, or carries times the timetable
// cannot be compared against; such reports are dropped.
func (m *Matcher) Match(stopID string, report models.DelayReport) bool {
	route := report.RouteID.String()

	scheduled, err := static.ParseServiceTime(report.TheoreticalTime)
	if err != nil {
		m.miss("Report dropped, unparseable scheduled time",
			"stop_id", stopID, "route_id", route, "scheduled", report.TheoreticalTime)
		return false
	}

	tripID, ok := m.snapshot.TripFor(stopID, route, scheduled)
	if !ok {
		m.miss("Report matched no scheduled departure",
			"stop_id", stopID, "route_id", route, "departure", scheduled.String())
		return false
	}

	estimated, err := static.ParseServiceTime(report.EstimatedTime)
	if err != nil {
		m.miss("Report dropped, unparseable estimated time",
			"stop_id", stopID, "trip_id", tripID, "estimated", report.EstimatedTime)
		return false
	}

	record, ok := m.byTrip[tripID]
	if !ok {
		record = &models.TripDelayRecord{TripID: tripID}
		m.byTrip[tripID] = record
		m.records = append(m.records, record)
	}

	// The estimate carries no date. Once a trip has reported a time at
	// or past 24:00, smaller values mean the feed wrapped to the next
	// clock day and belong 24 hours later.
	if m.pastMidnight[tripID] && estimated.Hours() < 24 {
		estimated = estimated.AddHours(24)
	}
	if estimated.Hours() >= 24 {
		m.pastMidnight[tripID] = true
	}

	record.Updates = append(record.Updates, models.StopUpdate{
		StopID:    stopID,
		Delay:     report.DelaySeconds,
		Estimated: estimated,
		Timestamp: m.reportEpoch(report.Timestamp),
	})
	if vehicleID := report.VehicleID.String(); vehicleID != "" {
		record.VehicleID = vehicleID
	}

	m.matched++
	return true
}

// reportEpoch anchors a wall-clock report time to a calendar date.
// The feed emits times without dates; anything more than two minutes
// ahead of now was generated before midnight and belongs to yesterday.
func (m *Matcher) reportEpoch(stamp string) int64 {
	t, err := static.ParseServiceTime(stamp)
	if err != nil {
		return m.now.Unix()
	}

	hour, min, sec := t.Clock()
	at := time.Date(m.now.Year(), m.now.Month(), m.now.Day(), hour, min, sec, 0, m.now.Location())
	if at.After(m.now.Add(2 * time.Minute)) {
		at = at.AddDate(0, 0, -1)
	}
	return at.Unix()
}

func (m *Matcher) miss(msg string, fields ...interface{}) {
	m.unmatched++
	if m.debug {
		m.logger.Debug(msg, fields...)
	}
}

// Records returns the accumulated per-trip records in the order their
// first report matched. Updates within a record keep arrival order;
// the snapshot builder sorts them by estimated time.
func (m *Matcher) Records() []*models.TripDelayRecord { return m.records }

// Matched counts reports attributed to a trip this cycle.
func (m *Matcher) Matched() int { return m.matched }

// Unmatched counts reports dropped this cycle.
func (m *Matcher) Unmatched() int { return m.unmatched }
