package snapshot

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spotex/domain/event"
	"spotex/service"
)

// Source yields the latest published view of one book.
type Source interface {
	Pair() string
	View() *service.BookView
}

type Publisher interface {
	Publish(ctx context.Context, events ...event.Event)
}

// Sink takes snapshots on a best-effort basis.
type Sink interface {
	Push(ctx context.Context, events ...event.Event) error
}

type Config struct {
	// Period bounds the emission rate of one book.
	Period time.Duration
	// DownTimeout is the silence after which an alert is raised. Zero disables the watchdog.
	DownTimeout time.Duration
	// DownMulti grows the alert threshold after every alert.
	DownMulti  float64
	Precisions []decimal.Decimal
}

type Metrics struct {
	Snapshots       *prometheus.CounterVec
	StackDownAlerts *prometheus.CounterVec
}

type Snapshotter struct {
	src     Source
	cfg     Config
	bus     Publisher
	sink    Sink
	metrics Metrics
	log     *zap.Logger
	now     func() time.Time

	mu          sync.Mutex
	version     uint64
	lastEmit    time.Time
	started     time.Time
	multiplier  int
	latest      *event.BookSnapshot
	latestPrecs []event.PrecisionSnapshot
}

func New(src Source, cfg Config, bus Publisher, sink Sink, m Metrics, log *zap.Logger, now func() time.Time) *Snapshotter {
	if cfg.Period <= 0 {
		cfg.Period = time.Second
	}
	if cfg.DownMulti < 1 {
		cfg.DownMulti = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Snapshotter{
		src:        src,
		cfg:        cfg,
		bus:        bus,
		sink:       sink,
		metrics:    m,
		log:        log.Named("snapshot").With(zap.String("pair", src.Pair())),
		now:        now,
		started:    now(),
		multiplier: 1,
	}
}

// Run emits snapshots until ctx is done. The watchdog runs on its own
// ticker so a stalled emission still raises alerts.
func (s *Snapshotter) Run(ctx context.Context) error {
	tick := max(s.cfg.Period/4, 10*time.Millisecond)
	emit := time.NewTicker(tick)
	defer emit.Stop()

	var watch <-chan time.Time
	if s.cfg.DownTimeout > 0 {
		t := time.NewTicker(max(s.cfg.DownTimeout/4, 10*time.Millisecond))
		defer t.Stop()
		watch = t.C
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-watch:
				s.Check(ctx)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-emit.C:
			s.Tick(ctx)
		}
	}
}

// Tick emits a snapshot when one is due and reports whether it did.
func (s *Snapshotter) Tick(ctx context.Context) bool {
	v := s.src.View()
	if v == nil {
		return false
	}
	now := s.now()
	if !s.due(v, now) {
		return false
	}

	snap := Build(v, now)
	precs := Precisions(snap, s.cfg.Precisions)
	events := make([]event.Event, 0, 1+len(precs))
	events = append(events, event.NewBookSnapshot(snap))
	for _, p := range precs {
		events = append(events, event.NewPrecisionSnapshot(p))
	}

	s.bus.Publish(ctx, events...)
	if s.sink != nil {
		if err := s.sink.Push(ctx, events...); err != nil {
			s.log.Warn("snapshot sink push failed", zap.Error(err))
		}
	}
	if s.metrics.Snapshots != nil {
		s.metrics.Snapshots.WithLabelValues(v.Pair).Inc()
	}

	s.mu.Lock()
	s.version = v.Version
	s.lastEmit = now
	s.multiplier = 1
	s.latest = &snap
	s.latestPrecs = precs
	s.mu.Unlock()
	return true
}

// due holds when the book changed since the last snapshot and a period
// has passed since it went out, or when the book has been quiet for a
// period, which keeps idle books visible.
func (s *Snapshotter) due(v *service.BookView, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastEmit.IsZero() {
		return true
	}
	sinceEmit := now.Sub(s.lastEmit)
	if sinceEmit < s.cfg.Period {
		return false
	}
	return v.Version != s.version || now.Sub(v.Touched) >= s.cfg.Period
}

// Check raises a stack-down alert when nothing was emitted for longer than
// the current threshold, then widens the threshold.
func (s *Snapshotter) Check(ctx context.Context) bool {
	if s.cfg.DownTimeout <= 0 {
		return false
	}
	now := s.now()

	s.mu.Lock()
	emitted := s.lastEmit
	last := emitted
	if last.IsZero() {
		last = s.started
	}
	silence := now.Sub(last)
	mult := s.multiplier
	if silence <= s.cfg.DownTimeout*time.Duration(mult) {
		s.mu.Unlock()
		return false
	}
	s.multiplier = max(mult, int(math.Ceil(float64(mult)*s.cfg.DownMulti)))
	s.mu.Unlock()

	pair := s.src.Pair()
	s.bus.Publish(ctx, event.NewStackDown(event.StackDown{
		Pair:        pair,
		Silence:     silence,
		Multiplier:  mult,
		LastEmitted: emitted,
	}, now))
	if s.metrics.StackDownAlerts != nil {
		s.metrics.StackDownAlerts.WithLabelValues(pair).Inc()
	}
	s.log.Warn("book stopped publishing", zap.Duration("silence", silence), zap.Int("multiplier", mult))
	return true
}

// Latest returns the last emitted snapshot rewritten for user, or false
// before the first emission.
func (s *Snapshotter) Latest(user uint64) (event.BookSnapshot, bool) {
	s.mu.Lock()
	snap := s.latest
	s.mu.Unlock()
	if snap == nil {
		return event.BookSnapshot{}, false
	}
	return ForUser(*snap, user), true
}

// LatestPrecision returns the last grouped snapshot at precision rewritten for user.
func (s *Snapshotter) LatestPrecision(precision decimal.Decimal, user uint64) (event.PrecisionSnapshot, bool) {
	s.mu.Lock()
	precs := s.latestPrecs
	s.mu.Unlock()
	for _, p := range precs {
		if p.Precision.Equal(precision) {
			return ForUserPrecision(p, user), true
		}
	}
	return event.PrecisionSnapshot{}, false
}
