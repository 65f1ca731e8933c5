// Package otcupdater periodically reprices external orders against the
// reference price feeds.
package otcupdater

import (
	"context"
	"time"

	"go.uber.org/zap"

	"spotex/service"
)

// Repricer is the part of the order service the job drives.
type Repricer interface {
	OTCBulkUpdate(ctx context.Context, pair string) (service.Result, error)
}

type Updater struct {
	svc      Repricer
	pairs    func() []string
	interval time.Duration
	log      *zap.Logger
}

// New builds an updater over the pairs returned by pairs, read on every round
// so catalog changes are picked up.
func New(svc Repricer, pairs func() []string, interval time.Duration, log *zap.Logger) *Updater {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Updater{svc: svc, pairs: pairs, interval: interval, log: log.Named("otc")}
}

func (u *Updater) Run(ctx context.Context) error {
	t := time.NewTicker(u.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			u.Round(ctx)
		}
	}
}

// Round reprices every pair once and returns how many orders moved. A pair
// that fails is logged and skipped.
func (u *Updater) Round(ctx context.Context) int {
	moved := 0
	for _, pair := range u.pairs() {
		if ctx.Err() != nil {
			return moved
		}
		res, err := u.svc.OTCBulkUpdate(ctx, pair)
		if err != nil {
			u.log.Warn("otc update failed", zap.String("pair", pair), zap.Error(err))
			continue
		}
		if n := len(res.Repriced); n > 0 {
			u.log.Debug("otc orders repriced", zap.String("pair", pair), zap.Int("orders", n))
			moved += n
		}
	}
	return moved
}
