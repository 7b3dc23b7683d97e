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

// tickStats summarizes one pass; published on the bus as reminder.tick.
type tickStats struct {
	Cases      int           `json:"cases"`
	Candidates int           `json:"candidates"`
	Sent       int           `json:"sent"`
	Deduped    int           `json:"deduped"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Elapsed    time.Duration `json:"elapsed"`
}

// tick runs one evaluation pass. Candidates are processed one at a time;
// a failure on one never stops the rest of the pass.
func (s *Service) tick(ctx context.Context) {
	if !s.inTick.CompareAndSwap(false, true) {
		s.log.Warn("previous pass still running; skipping this trigger")
		return
	}
	defer s.inTick.Store(false)

	if ctx.Err() != nil {
		return
	}

	started := s.now()
	now := started.In(s.cfg.Location)

	settings, err := s.deps.Settings.Settings(ctx)
	if err != nil {
		s.log.Error("settings read failed; pass aborted", logx.Err(err))
		return
	}
	if !settings.Configured() {
		s.log.Debug("notifications not configured; pass skipped")
		return
	}

	cases, err := s.deps.Cases.ListCases(ctx)
	if err != nil {
		s.log.Error("case list failed; pass aborted", logx.Err(err))
		return
	}

	var stats tickStats
	stats.Cases = len(cases)
	win := s.cfg.window()

	for _, c := range cases {
		if ctx.Err() != nil {
			return
		}
		for _, slot := range hearing.Types() {
			raw := c.HearingRaw(slot)
			at, due := win.Evaluate(now, raw)
			if !due {
				continue
			}
			stats.Candidates++
			s.processCandidate(ctx, settings, c, slot, raw, at, &stats)
		}
	}

	stats.Elapsed = s.now().Sub(started)
	s.log.Info("reminder pass done",
		logx.Int("cases", stats.Cases),
		logx.Int("candidates", stats.Candidates),
		logx.Int("sent", stats.Sent),
		logx.Int("deduped", stats.Deduped),
		logx.Int("failed", stats.Failed),
		logx.Duration("elapsed", stats.Elapsed),
	)
	s.publish(eventbus.TypeTickDone, stats)

	s.prune(ctx, now)
}

// processCandidate handles one due hearing: dedup check, reserve, send,
// release on failure. Every ledger hiccup skips just this candidate; the
// next pass sees it again.
func (s *Service) processCandidate(
	ctx context.Context,
	settings storage.NotifySettings,
	c storage.CaseRecord,
	slot hearing.Type,
	raw string,
	at time.Time,
	stats *tickStats,
) {
	key := storage.MarkerKey{CaseID: c.ID, Hearing: slot, Timestamp: raw}
	clog := s.log.With(
		logx.Int64("case_id", c.ID),
		logx.String("hearing", string(slot)),
		logx.String("hearing_raw", raw),
	)

	sent, err := s.deps.Ledger.HasMarker(ctx, key)
	if err != nil {
		stats.Skipped++
		clog.Warn("marker lookup failed; candidate skipped", logx.Err(err))
		s.publish(eventbus.TypeReminderSkipped, key)
		return
	}
	if sent {
		stats.Deduped++
		clog.Debug("reminder already dispatched for this hearing date")
		s.publish(eventbus.TypeReminderDeduped, key)
		return
	}

	reserved, err := s.deps.Ledger.ReserveMarker(ctx, key, storage.Marker{
		SentAt:    s.now(),
		HearingAt: at,
	})
	if err != nil {
		stats.Skipped++
		clog.Warn("marker reserve failed; candidate skipped", logx.Err(err))
		s.publish(eventbus.TypeReminderSkipped, key)
		return
	}
	if !reserved {
		stats.Deduped++
		clog.Debug("marker already reserved elsewhere")
		s.publish(eventbus.TypeReminderDeduped, key)
		return
	}

	notice := notify.Notice{
		CaseID:    c.ID,
		Plaintiff: c.Plaintiff,
		Defendant: c.Defendant,
		Hearing:   slot,
		At:        at,
		Raw:       raw,
	}
	if err := s.deps.Sender.Send(ctx, settings.Recipient, settings.Sender, notice); err != nil {
		stats.Failed++
		clog.Error("reminder send failed", logx.Err(err))
		if rerr := s.deps.Ledger.ReleaseMarker(ctx, key); rerr != nil {
			// Marker stays; the reminder is lost rather than duplicated.
			clog.Error("marker release failed after send failure", logx.Err(rerr))
		}
		s.publish(eventbus.TypeReminderFailed, key)
		return
	}

	stats.Sent++
	clog.Info("reminder sent", logx.Time("hearing_at", at))
	s.publish(eventbus.TypeReminderSent, key)
}

func (s *Service) prune(ctx context.Context, now time.Time) {
	if s.cfg.MarkerRetention <= 0 || ctx.Err() != nil {
		return
	}
	cutoff := now.Add(-s.cfg.MarkerRetention)
	n, err := s.deps.Ledger.PruneMarkers(ctx, cutoff)
	if err != nil {
		s.log.Warn("marker prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Debug("old markers pruned",
			logx.Int64("removed", n),
			logx.Time("cutoff", cutoff),
		)
	}
}

func (s *Service) publish(typ string, data any) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}
