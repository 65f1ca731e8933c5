package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"spotex/config"
	"spotex/domain/catalog"
	"spotex/domain/event"
	"spotex/domain/ledger"
	"spotex/domain/matching"
	"spotex/domain/money"
	"spotex/domain/order"
	"spotex/domain/pricing"
	"spotex/infra/metrics"
	"spotex/infra/prices"
	"spotex/infra/sequence"
	"spotex/infra/store"
)

const (
	pairCode = "BTC-USDT"
	feeUser  = 999
)

func d(s string) decimal.Decimal { return money.MustParse(s) }

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(_ context.Context, events ...event.Event) {
	r.mu.Lock()
	r.events = append(r.events, events...)
	r.mu.Unlock()
}

func (r *recorder) ofKind(k event.Kind) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

type setup struct {
	rate        string
	feeUser     uint64
	deviation   string
	customPrice string
	noAuto      []uint64
	journals    func(pair string) (Journal, error)
	// idle leaves the workers stopped.
	idle bool
}

type harness struct {
	t      *testing.T
	cfg    setup
	st     *store.Memory
	ledger *ledger.Ledger
	prices *prices.Memory
	bus    *recorder
	svc    *OrderService
	now    time.Time
	ctx    context.Context
	stop   context.CancelFunc
}

func newHarness(t *testing.T, cfg setup) *harness {
	t.Helper()
	h := &harness{t: t, cfg: cfg, st: store.NewMemory(), prices: prices.NewMemory(0), now: time.Unix(1700000000, 0)}
	h.start()
	return h
}

func (h *harness) start() {
	t := h.t
	t.Helper()
	if h.stop != nil {
		h.stop()
	}

	c, err := catalog.New(
		[]catalog.Currency{
			{Code: "BTC", Scale: 8, StackEnabled: true, ExchangeEnabled: true},
			{Code: "USDT", Scale: 8, StackEnabled: true, ExchangeEnabled: true},
		},
		[]catalog.Pair{{
			Base:              "BTC",
			Quote:             "USDT",
			PriceStep:         d("0.01"),
			QuantityStep:      d("0.00000001"),
			Enabled:           true,
			AutoOrdersEnabled: true,
			Deviation:         orZero(h.cfg.deviation),
			CustomPrice:       orZero(h.cfg.customPrice),
		}},
	)
	require.NoError(t, err)

	seq := Sequences{Orders: sequence.New(0), Transactions: sequence.New(0), Results: sequence.New(0)}
	h.ledger = ledger.New(seq.Transactions)
	h.bus = &recorder{}
	deps := Deps{
		Catalog:  catalog.NewRegistry(c),
		Ledger:   h.ledger,
		Store:    h.st,
		Bus:      h.bus,
		Seq:      seq,
		Fees:     &config.FeeTable{Default: orZero(h.cfg.rate)},
		OTC:      pricing.NewOTC(pricing.OTCConfig{PercentLimit: d("10")}, h.prices, nil),
		External: h.prices,
		Policy:   config.NewUserPolicy(h.cfg.noAuto...),
		Metrics:  metrics.New(),
		Log:      zap.NewNop(),
		Now:      func() time.Time { return h.now },
		Journals: h.cfg.journals,
	}
	svc, err := NewOrderService(Config{
		Worker: WorkerConfig{
			ExportDepth: 20,
			Matching:    matching.Config{FeeUserID: h.cfg.feeUser},
		},
	}, deps)
	require.NoError(t, err)
	h.svc = svc

	ctx, cancel := context.WithCancel(context.Background())
	h.ctx, h.stop = ctx, cancel
	t.Cleanup(cancel)
	require.NoError(t, svc.Recover(ctx))
	if !h.cfg.idle {
		go svc.Run(ctx)
	}
}

// resume starts the workers of an idle harness.
func (h *harness) resume() {
	go h.svc.Run(h.ctx)
}

func orZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	return d(s)
}

func (h *harness) deposit(user uint64, cur, amount string) {
	h.t.Helper()
	_, err := h.svc.Deposit(context.Background(), user, cur, d(amount))
	require.NoError(h.t, err)
}

func (h *harness) limit(user uint64, side order.Side, qty, price string) Result {
	h.t.Helper()
	res, err := h.svc.Place(context.Background(), PlaceRequest{
		Pair: pairCode, UserID: user, Side: side, Kind: order.Limit, Quantity: d(qty), Price: d(price),
	})
	require.NoError(h.t, err)
	return res
}

func (h *harness) available(user uint64, cur string) decimal.Decimal {
	return h.ledger.Balance(user, cur).Available
}

func (h *harness) onHold(user uint64, cur string) decimal.Decimal {
	return h.ledger.Balance(user, cur).OnHold
}

// total sums available and on hold over users plus the fee account.
func (h *harness) total(cur string, users ...uint64) decimal.Decimal {
	sum := decimal.Zero
	for _, u := range append(users, feeUser) {
		b := h.ledger.Balance(u, cur)
		sum = sum.Add(b.Available).Add(b.OnHold)
	}
	return sum
}

func (h *harness) view() *BookView {
	v, err := h.svc.Book(pairCode)
	require.NoError(h.t, err)
	return v
}

func dEqual(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}
