package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "casewatch/pkg/logx"
)

// Store is the persistence API used by the reminder service and the app.
type Store interface {
	// Settings reads the notification settings from the settings table.
	// Missing keys come back as zero values, not errors.
	Settings(ctx context.Context) (NotifySettings, error)
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	PutSetting(ctx context.Context, key, value string) error

	// ListCases returns every case record (full scan; the dataset is small).
	ListCases(ctx context.Context) ([]CaseRecord, error)
	UpsertCase(ctx context.Context, c CaseRecord) error

	// HasMarker reports whether a reminder for the key was already dispatched.
	HasMarker(ctx context.Context, k MarkerKey) (bool, error)
	// ReserveMarker inserts the marker if absent and reports whether this
	// call inserted it. A false result with nil error means someone got
	// there first; the caller must not send.
	ReserveMarker(ctx context.Context, k MarkerKey, m Marker) (bool, error)
	// ReleaseMarker removes a reservation after a confirmed send failure.
	ReleaseMarker(ctx context.Context, k MarkerKey) error
	// PruneMarkers deletes markers sent before the cutoff.
	PruneMarkers(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
