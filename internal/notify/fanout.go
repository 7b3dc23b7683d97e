package notify

import (
	"context"

	logx "casewatch/pkg/logx"
)

// Fanout sends through a primary sender and mirrors the notice to any
// number of secondary senders. Only the primary result is reported;
// mirror failures are logged and swallowed so a broken mirror cannot
// block reminders or poison the dedup ledger.
type Fanout struct {
	primary Sender
	mirrors []Sender
	log     logx.Logger
}

func NewFanout(primary Sender, log logx.Logger, mirrors ...Sender) *Fanout {
	return &Fanout{primary: primary, mirrors: mirrors, log: log}
}

func (f *Fanout) Send(ctx context.Context, to, from string, n Notice) error {
	err := f.primary.Send(ctx, to, from, n)
	if err != nil {
		return err
	}
	for _, m := range f.mirrors {
		if m == nil {
			continue
		}
		if merr := m.Send(ctx, to, from, n); merr != nil {
			f.log.Warn("reminder mirror failed",
				logx.Int64("case_id", n.CaseID),
				logx.Err(merr),
			)
		}
	}
	return nil
}
