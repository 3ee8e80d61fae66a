package gtfs_realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/transitpulse/internal/common/config"
	"github.com/transitpulse/internal/common/db"
	"github.com/transitpulse/internal/common/discord"
	"github.com/transitpulse/internal/common/logger"
	"github.com/transitpulse/internal/common/metrics"
	"github.com/transitpulse/internal/gtfs-realtime/alerts"
	"github.com/transitpulse/internal/gtfs-realtime/builder"
	"github.com/transitpulse/internal/gtfs-realtime/feeds"
	"github.com/transitpulse/internal/gtfs-realtime/matcher"
	"github.com/transitpulse/internal/gtfs-realtime/publisher"
	"github.com/transitpulse/internal/gtfs-realtime/vehicles"
	"github.com/transitpulse/internal/gtfs-static/loader"
	"github.com/transitpulse/internal/gtfs-static/schedule"
	"github.com/transitpulse/pkg/gtfs-realtime/models"
)

// minSleep keeps an overrunning cycle from spinning on the upstream
// endpoints.
const minSleep = 15 * time.Second

// Engine drives the fetch, match and publish cycle. Everything runs on
// the caller's goroutine: a cycle that overruns its period delays the
// next one rather than overlapping it. Feed failures skip the feed for
// the cycle, reload failures keep the previous timetable, and only the
// very first schedule load can stop the engine.
type Engine struct {
	cfg     *config.Config
	loader  *loader.Loader
	feeds   *feeds.Client
	output  *publisher.Writer
	metrics *metrics.Collector
	journal *db.CycleJournal
	webhook *discord.Client
	logger  logger.Logger

	mu      sync.Mutex
	running bool

	snapshot  *schedule.Snapshot
	lastCheck time.Time
}

// NewEngine wires an engine from configuration. journal may be nil
// when no database is configured.
func NewEngine(cfg *config.Config, collector *metrics.Collector, journal *db.CycleJournal, webhook *discord.Client, log logger.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		loader:  loader.New(loader.NewSource(cfg.Schedule.Source), log),
		feeds:   feeds.NewClient(cfg.Feeds, log),
		output:  publisher.New(cfg.Output.Path, cfg.Output.Readable),
		metrics: collector,
		journal: journal,
		webhook: webhook,
		logger:  log,
	}
}

// Run blocks until ctx is cancelled. The first schedule load must
// succeed; after that the engine keeps cycling on whatever timetable
// it has. Cancellation is honored between cycles and never leaves a
// partial snapshot behind.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	snap, err := e.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("initial schedule load: %w", err)
	}
	e.adopt(snap)
	e.lastCheck = time.Now()

	e.logger.Info("Engine started",
		"cycle_period", e.cfg.Cycle.Period.String(),
		"output", e.output.Path())

	for {
		started := time.Now()

		e.refreshSchedule(ctx)
		cycle := e.collect(ctx)

		if ctx.Err() != nil {
			e.logger.Info("Shutdown requested, cycle abandoned before publish")
			return nil
		}

		e.publish(started, cycle)

		elapsed := time.Since(started)
		sleep := e.cfg.Cycle.Period - elapsed
		if sleep <= 0 {
			e.logger.Warn("Cycle overran its period",
				"elapsed", elapsed.String(),
				"period", e.cfg.Cycle.Period.String())
			sleep = minSleep
		}

		select {
		case <-ctx.Done():
			e.logger.Info("Shutdown requested")
			return nil
		case <-time.After(sleep):
		}
	}
}

func (e *Engine) adopt(snap *schedule.Snapshot) {
	e.snapshot = snap
	e.metrics.ServiceDay.Set(float64(snap.ServiceDay.Unix()))
}

// refreshSchedule checks the source at most once per configured
// interval and swaps in a fresh timetable when the bundle changed.
// Every failure leaves the current timetable in place.
func (e *Engine) refreshSchedule(ctx context.Context) {
	if time.Since(e.lastCheck) < e.cfg.Schedule.CheckInterval {
		return
	}
	e.lastCheck = time.Now()

	newer, err := e.loader.HasUpdate(ctx)
	if err != nil {
		e.metrics.ScheduleReloads.WithLabelValues("failure").Inc()
		e.logger.Warn("Schedule staleness check failed, keeping current timetable", "error", err)
		return
	}
	if !newer {
		e.logger.Debug("Schedule source unchanged")
		return
	}

	snap, err := e.loader.Load(ctx)
	if err != nil {
		e.metrics.ScheduleReloads.WithLabelValues("failure").Inc()
		var formatErr *schedule.FormatError
		if errors.As(err, &formatErr) {
			e.logger.Error("New bundle rejected, keeping current timetable", "error", err)
		} else {
			e.logger.Error("Schedule reload failed, keeping current timetable", "error", err)
		}
		if werr := e.webhook.NotifyReloadFailure(e.cfg.Schedule.Source, err); werr != nil {
			e.logger.Warn("Webhook delivery failed", "error", werr)
		}
		return
	}

	e.adopt(snap)
	e.metrics.ScheduleReloads.WithLabelValues("success").Inc()

	serviceDay := snap.ServiceDay.Format("2006-01-02")
	e.logger.Info("Timetable replaced",
		"service_day", serviceDay,
		"trips", snap.Trips(),
		"departures", snap.Departures())
	if werr := e.webhook.NotifyScheduleLoaded(serviceDay, snap.Trips(), snap.Departures()); werr != nil {
		e.logger.Warn("Webhook delivery failed", "error", werr)
	}
}

// cycleData is everything one cycle gathered before assembly.
type cycleData struct {
	alerts    []models.Alert
	records   []*models.TripDelayRecord
	positions map[string]models.VehiclePosition
	matched   int
	unmatched int
}

// collect fetches the three live feeds and matches delay reports
// against the timetable. A failed feed is logged, counted and skipped;
// the cycle continues with whatever arrived.
func (e *Engine) collect(ctx context.Context) *cycleData {
	m := matcher.New(e.snapshot, time.Now(), e.cfg.Cycle.Debug, e.logger)

	if delayFeed, err := e.feeds.Delays(ctx); err != nil {
		e.metrics.FeedErrors.WithLabelValues("delays").Inc()
		e.logger.Warn("Delay feed skipped this cycle", "error", err)
	} else {
		m.Consume(delayFeed)
	}

	store := vehicles.NewStore()
	if records, err := e.feeds.Positions(ctx); err != nil {
		e.metrics.FeedErrors.WithLabelValues("positions").Inc()
		e.logger.Warn("Position feed skipped this cycle", "error", err)
	} else {
		store.AddAll(records)
		if store.Dropped() > 0 {
			e.logger.Debug("Vehicle records rejected by quality filter", "dropped", store.Dropped())
		}
	}

	var alertList []models.Alert
	if messages, err := e.feeds.Alerts(ctx); err != nil {
		e.metrics.FeedErrors.WithLabelValues("alerts").Inc()
		e.logger.Warn("Alert feed skipped this cycle", "error", err)
	} else {
		alertList = alerts.Convert(messages)
	}

	return &cycleData{
		alerts:    alertList,
		records:   m.Records(),
		positions: store.All(),
		matched:   m.Matched(),
		unmatched: m.Unmatched(),
	}
}

// publish assembles the snapshot, writes it out and records the cycle.
func (e *Engine) publish(started time.Time, cycle *cycleData) {
	msg, counts := builder.Build(time.Now(), cycle.alerts, cycle.records, cycle.positions)

	if err := e.output.Publish(msg); err != nil {
		e.metrics.PublishErrors.Inc()
		e.logger.Error("Snapshot write failed", "error", err)
		return
	}

	duration := time.Since(started)
	e.metrics.CyclesTotal.Inc()
	e.metrics.CycleDuration.Observe(duration.Seconds())
	e.metrics.MatchedReports.Add(float64(cycle.matched))
	e.metrics.UnmatchedReports.Add(float64(cycle.unmatched))
	e.metrics.PublishedEntities.WithLabelValues("alerts").Set(float64(counts.Alerts))
	e.metrics.PublishedEntities.WithLabelValues("trip_updates").Set(float64(counts.TripUpdates))
	e.metrics.PublishedEntities.WithLabelValues("vehicles").Set(float64(counts.Vehicles))

	e.logger.Info("Snapshot published",
		"alerts", counts.Alerts,
		"trip_updates", counts.TripUpdates,
		"vehicles", counts.Vehicles,
		"matched", cycle.matched,
		"unmatched", cycle.unmatched,
		"duration", duration.String())

	if e.journal == nil {
		return
	}
	journalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := e.journal.Record(journalCtx, db.CycleRecord{
		PublishedAt:      time.Now(),
		ServiceDay:       e.snapshot.ServiceDay,
		ScheduleLoadedAt: e.snapshot.LoadedAt,
		Alerts:           counts.Alerts,
		TripUpdates:      counts.TripUpdates,
		Vehicles:         counts.Vehicles,
		MatchedReports:   cycle.matched,
		UnmatchedReports: cycle.unmatched,
		Duration:         duration,
	})
	if err != nil {
		e.logger.Warn("Cycle journal write failed", "error", err)
	}
}
