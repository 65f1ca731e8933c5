package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type journalMark struct {
	at  time.Time
	seq uint64
}

// RunJournalRetention drops journal segments whose records are all older
// than retain. The store is the source of truth, so the journal only has to
// cover the window an operator may want to audit.
func (s *OrderService) RunJournalRetention(ctx context.Context, interval, retain time.Duration) error {
	if interval <= 0 || retain <= 0 {
		return nil
	}
	marks := make(map[string][]journalMark)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.retainJournals(marks, s.deps.Now(), retain)
		}
	}
}

func (s *OrderService) retainJournals(marks map[string][]journalMark, now time.Time, retain time.Duration) {
	for _, w := range s.Workers() {
		j := w.journal
		if j == nil {
			continue
		}
		ms := append(marks[w.code], journalMark{at: now, seq: j.LastSeq()})

		var cut uint64
		for len(ms) > 0 && now.Sub(ms[0].at) >= retain {
			cut = ms[0].seq
			ms = ms[1:]
		}
		marks[w.code] = ms
		if cut == 0 {
			continue
		}

		n, err := j.TruncateBefore(cut)
		if err != nil {
			s.log.Warn("journal truncate failed", zap.String("pair", w.code), zap.Error(err))
			continue
		}
		if n > 0 {
			s.log.Info("journal segments dropped", zap.String("pair", w.code), zap.Int("segments", n), zap.Uint64("through_seq", cut))
		}
	}
}
