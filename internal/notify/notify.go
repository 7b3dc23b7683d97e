// Package notify renders and delivers hearing reminders. The reminder
// service talks to the Sender interface only; SMTP and the optional
// Telegram mirror live behind it.
package notify

import (
	"context"
	"fmt"
	"time"

	"casewatch/internal/hearing"
)

// Notice carries the structured facts of one due hearing.
type Notice struct {
	CaseID    int64
	Plaintiff string
	Defendant string
	Hearing   hearing.Type
	At        time.Time
	Raw       string // timestamp as stored on the case record
}

// Sender delivers one reminder. A nil error means delivered; the caller
// owns dedup and never retries within the same tick.
type Sender interface {
	Send(ctx context.Context, to, from string, n Notice) error
}

// Func adapts a function to the Sender interface. Handy in tests.
type Func func(ctx context.Context, to, from string, n Notice) error

func (f Func) Send(ctx context.Context, to, from string, n Notice) error {
	return f(ctx, to, from, n)
}

func hearingLabel(t hearing.Type) string {
	switch t {
	case hearing.FirstInstance:
		return "first instance hearing"
	case hearing.Appeal:
		return "appeal hearing"
	default:
		return string(t)
	}
}

// Subject is the one-line summary used for email subjects and the
// Telegram mirror header.
func Subject(n Notice) string {
	return fmt.Sprintf("Hearing reminder: %s vs %s on %s",
		n.Plaintiff, n.Defendant, n.At.Format("02 Jan 2006 15:04"))
}

// Body renders the plain-text reminder message.
func Body(n Notice) string {
	return fmt.Sprintf(
		"This is an automatic reminder from the case file register.\n\n"+
			"Case #%d: %s vs %s\n"+
			"The %s is scheduled for %s (in about 24 hours).\n",
		n.CaseID, n.Plaintiff, n.Defendant,
		hearingLabel(n.Hearing), n.At.Format("Monday, 02 January 2006 at 15:04"))
}
