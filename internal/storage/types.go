package storage

import (
	"errors"
	"time"

	"casewatch/internal/hearing"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (the only supported driver)
//
// If Driver is empty, "sqlite" is assumed.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// CaseRecord is one legal case as stored by the intake application.
// The reminder daemon reads these; it never edits case data.
//
// Hearing timestamps are kept as the raw strings the intake UI stored
// (ISO datetime-local or "DD-MM-YYYY HH:MM"); parsing is the window
// evaluator's problem, not the store's.
type CaseRecord struct {
	ID                   int64
	Plaintiff            string
	Defendant            string
	FirstInstanceHearing string
	AppealHearing        string
}

// HearingRaw returns the stored timestamp string for the given slot.
func (c CaseRecord) HearingRaw(t hearing.Type) string {
	switch t {
	case hearing.FirstInstance:
		return c.FirstInstanceHearing
	case hearing.Appeal:
		return c.AppealHearing
	default:
		return ""
	}
}

// NotifySettings is the operator-controlled reminder configuration kept
// in the settings table so the case-file UI can change it at runtime.
type NotifySettings struct {
	Enabled   bool
	Recipient string
	Sender    string
}

// Configured reports whether reminders should run at all this tick.
func (s NotifySettings) Configured() bool {
	return s.Enabled && s.Recipient != "" && s.Sender != ""
}

// Settings table keys used by the reminder daemon.
const (
	SettingNotifyEnabled   = "notify.enabled"
	SettingNotifyRecipient = "notify.recipient"
	SettingNotifySender    = "notify.sender"
)

// MarkerKey identifies one dispatched reminder. The raw timestamp string
// is part of the key on purpose: when an operator edits a hearing date,
// the new value is a brand-new notification target and the old marker
// just orphans.
type MarkerKey struct {
	CaseID    int64
	Hearing   hearing.Type
	Timestamp string
}

// Marker is the metadata stored alongside a reserved reminder.
type Marker struct {
	SentAt    time.Time
	HearingAt time.Time
}
