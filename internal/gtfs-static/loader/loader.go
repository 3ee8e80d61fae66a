package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/transitpulse/internal/common/logger"
	"github.com/transitpulse/internal/gtfs-static/schedule"
)

const fetchRetries = 2

// FetchError reports that the bundle could not be retrieved from its
// source. It is distinct from schedule.FormatError so callers can tell
// a transport problem from a bad bundle.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching schedule from %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Loader fetches GTFS bundles and turns them into schedule snapshots.
// It remembers the modification stamp of the last bundle it built, so
// HasUpdate can answer without downloading anything.
type Loader struct {
	source       Source
	logger       logger.Logger
	lastModified time.Time
}

func New(source Source, log logger.Logger) *Loader {
	return &Loader{
		source: source,
		logger: log,
	}
}

// HasUpdate reports whether the source changed since the last
// successful Load. Sources that advertise no modification time are
// treated as unchanged.
func (l *Loader) HasUpdate(ctx context.Context) (bool, error) {
	modified, err := l.source.LastModified(ctx)
	if err != nil {
		return false, &FetchError{Source: l.source.Location(), Err: err}
	}
	if modified.IsZero() {
		l.logger.Debug("Schedule source advertises no modification time, treating as unchanged",
			"source", l.source.Location())
		return false, nil
	}
	return modified.After(l.lastModified), nil
}

// Load downloads the bundle and builds a snapshot for the current
// service day. Transport failures come back as *FetchError, unusable
// bundles as *schedule.FormatError.
func (l *Loader) Load(ctx context.Context) (*schedule.Snapshot, error) {
	data, err := l.fetch(ctx)
	if err != nil {
		return nil, err
	}

	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &schedule.FormatError{Reason: fmt.Sprintf("opening archive: %v", err)}
	}

	snap, err := schedule.Build(archive, time.Now(), l.logger)
	if err != nil {
		return nil, err
	}

	if modified, err := l.source.LastModified(ctx); err == nil {
		l.lastModified = modified
	}

	l.logger.Info("Schedule bundle loaded",
		"source", l.source.Location(),
		"bytes", len(data))

	return snap, nil
}

// fetch reads the whole bundle into memory, retrying transient
// failures a couple of times before giving up for this attempt.
func (l *Loader) fetch(ctx context.Context) ([]byte, error) {
	operation := func() ([]byte, error) {
		rc, err := l.source.Open(ctx)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	notify := func(err error, wait time.Duration) {
		l.logger.Warn("Bundle fetch failed, retrying",
			"source", l.source.Location(),
			"wait", wait.String(),
			"error", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), fetchRetries), ctx)
	data, err := backoff.RetryNotifyWithData(operation, policy, notify)
	if err != nil {
		return nil, &FetchError{Source: l.source.Location(), Err: err}
	}
	return data, nil
}
