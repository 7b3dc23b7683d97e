// Package reminder runs the hearing reminder loop: an hourly pass over
// the case register that finds hearings about a day away, reserves a
// dispatch marker, and sends exactly one notification per hearing date.
package reminder

import (
	"context"
	"time"

	"casewatch/internal/eventbus"
	"casewatch/internal/hearing"
	"casewatch/internal/notify"
	"casewatch/internal/storage"
	logx "casewatch/pkg/logx"
)

// Config holds the resolved (already parsed) scheduler knobs.
type Config struct {
	// Interval between evaluation passes.
	Interval time.Duration
	// Lead and Window define the match range: [now+Lead-Window, now+Lead].
	Lead   time.Duration
	Window time.Duration
	// InitialDelay schedules one pass shortly after Start so a restart
	// doesn't wait a full interval.
	InitialDelay time.Duration
	// MarkerRetention prunes dispatched markers older than this after a
	// pass. Zero keeps markers forever.
	MarkerRetention time.Duration
	// Location drives the cron trigger and timestamp interpretation.
	// Nil means the host timezone.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.Lead <= 0 {
		c.Lead = 24 * time.Hour
	}
	if c.Window <= 0 {
		c.Window = c.Interval
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 5 * time.Second
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

func (c Config) window() hearing.Window {
	return hearing.Window{Lead: c.Lead, Width: c.Window}
}

// SettingsSource provides the operator-controlled notification settings.
type SettingsSource interface {
	Settings(ctx context.Context) (storage.NotifySettings, error)
}

// CaseSource lists the case records to evaluate.
type CaseSource interface {
	ListCases(ctx context.Context) ([]storage.CaseRecord, error)
}

// Ledger is the dispatch marker store. Reserve-then-send: a marker is
// written before the notification goes out and released only on a
// confirmed send failure.
type Ledger interface {
	HasMarker(ctx context.Context, k storage.MarkerKey) (bool, error)
	ReserveMarker(ctx context.Context, k storage.MarkerKey, m storage.Marker) (bool, error)
	ReleaseMarker(ctx context.Context, k storage.MarkerKey) error
	PruneMarkers(ctx context.Context, before time.Time) (int64, error)
}

// Deps wires the service's collaborators. Bus may be nil.
type Deps struct {
	Settings SettingsSource
	Cases    CaseSource
	Ledger   Ledger
	Sender   notify.Sender
	Bus      eventbus.Bus
	Log      logx.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}
