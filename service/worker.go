package service

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spotex/domain/catalog"
	"spotex/domain/errs"
	"spotex/domain/event"
	"spotex/domain/ledger"
	"spotex/domain/matching"
	"spotex/domain/order"
	"spotex/domain/orderbook"
	"spotex/domain/pricing"
	"spotex/infra/metrics"
	"spotex/infra/sequence"
	"spotex/infra/store"
	entrywal "spotex/infra/wal/entry"
)

// Sequences issue the ids shared by every worker.
type Sequences struct {
	Orders       *sequence.Sequencer
	Transactions *sequence.Sequencer
	Results      *sequence.Sequencer
}

// Deps are the collaborators shared by all workers.
type Deps struct {
	Catalog  *catalog.Registry
	Ledger   *ledger.Ledger
	Store    Store
	Bus      Publisher
	Seq      Sequences
	Fees     matching.FeeSchedule
	OTC      *pricing.OTC
	External pricing.Source
	Policy   Policy
	Metrics  *metrics.Metrics
	Log      *zap.Logger
	Now      func() time.Time
	// Journals opens the command journal of a pair; nil disables journaling.
	Journals func(pair string) (Journal, error)
}

type WorkerConfig struct {
	InboxSize int
	// ExportDepth is the number of levels per side in the published view.
	ExportDepth int
	// CancelGuard suppresses repeated cancels of the same order.
	CancelGuard time.Duration
	// PlaceGuard is how long a (user, client id) place maps to the order it
	// created, so a retry after a timed-out wait finds it.
	PlaceGuard time.Duration
	// ExchangeLimit is the allowed distance, in percent, of an exchange
	// quote from the last trade.
	ExchangeLimit decimal.Decimal
	Matching      matching.Config
}

const (
	cancelGuardSize = 1 << 16
	placeGuardSize  = 1 << 16
)

// Worker owns the book of one pair. All of its state is touched only from
// the Run goroutine; other goroutines read the published BookView.
type Worker struct {
	code    string
	deps    Deps
	cfg     WorkerConfig
	pair    *catalog.Pair
	book    *orderbook.OrderBook
	matcher *matching.Matcher
	journal Journal
	jseq    uint64

	stops     map[uint64]*order.Order
	pending   []*order.Order
	guard     *expirable.LRU[uint64, struct{}]
	placed    *expirable.LRU[string, uint64]
	lastPrice decimal.Decimal
	version   uint64
	view      atomic.Pointer[BookView]

	inbox chan command
	done  chan struct{}
	log   *zap.Logger
}

func NewWorker(code string, journal Journal, deps Deps, cfg WorkerConfig) (*Worker, error) {
	pair, err := deps.Catalog.Current().Pair(code)
	if err != nil {
		return nil, err
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	if cfg.CancelGuard <= 0 {
		cfg.CancelGuard = time.Minute
	}
	if cfg.PlaceGuard <= 0 {
		cfg.PlaceGuard = 2 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Policy == nil {
		deps.Policy = allowAll{}
	}

	book := orderbook.New(code, pair.Ticker())
	w := &Worker{
		code:    code,
		deps:    deps,
		cfg:     cfg,
		pair:    pair,
		book:    book,
		matcher: matching.New(pair, book, deps.Fees, deps.Seq.Results, cfg.Matching),
		journal: journal,
		stops:   make(map[uint64]*order.Order),
		guard:   expirable.NewLRU[uint64, struct{}](cancelGuardSize, nil, cfg.CancelGuard),
		placed:  expirable.NewLRU[string, uint64](placeGuardSize, nil, cfg.PlaceGuard),
		inbox:   make(chan command, cfg.InboxSize),
		done:    make(chan struct{}),
		log:     deps.Log.Named("worker").With(zap.String("pair", code)),
	}
	if journal != nil {
		w.jseq = journal.LastSeq()
	}
	w.touch(deps.Now())
	return w, nil
}

func (w *Worker) Pair() string { return w.code }

// View returns the latest published book view.
func (w *Worker) View() *BookView { return w.view.Load() }

// Run processes commands until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	w.log.Info("worker started", zap.Int("resting", w.book.Len()), zap.Int("stops", len(w.stops)))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped")
			return nil
		case cmd := <-w.inbox:
			w.execute(context.WithoutCancel(ctx), cmd)
		}
	}
}

// Submit queues cmd and waits for its reply. The command runs to completion
// even when ctx expires first.
func (w *Worker) submit(ctx context.Context, cmd command) (Result, error) {
	cmd.reply = make(chan reply, 1)
	select {
	case w.inbox <- cmd:
	case <-w.done:
		return Result{}, errs.ErrUnavailable
	case <-ctx.Done():
		return Result{}, errs.Wrap(errs.CodeTimeout, ctx.Err(), "queueing "+cmd.kind.String())
	}
	if m := w.deps.Metrics; m != nil {
		m.InboxDepth.WithLabelValues(w.code).Set(float64(len(w.inbox)))
	}

	select {
	case r := <-cmd.reply:
		return r.res, r.err
	case <-ctx.Done():
		return Result{}, errs.Wrap(errs.CodeTimeout, ctx.Err(), "waiting for "+cmd.kind.String())
	}
}

func (w *Worker) execute(ctx context.Context, cmd command) {
	w.refreshPair()
	start := time.Now()
	if cmd.at.IsZero() {
		cmd.at = w.deps.Now()
	}

	res, err := w.dispatch(ctx, cmd)
	w.observe(cmd.kind, start, err)
	if err != nil {
		w.log.Info("command rejected",
			zap.Stringer("command", cmd.kind),
			zap.Uint64("order_id", cmd.orderID),
			zap.String("code", string(errs.CodeOf(err))),
			zap.Error(err))
	}
	if cmd.reply != nil {
		cmd.reply <- reply{res: res, err: err}
	}

	w.drainPending(ctx)
}

// drainPending submits triggered stops so they enter the book before the
// next command. A stop that fails stays queued for the next drain.
func (w *Worker) drainPending(ctx context.Context) {
	var failed []*order.Order
	for len(w.pending) > 0 {
		o := w.pending[0]
		w.pending = w.pending[1:]
		start := time.Now()
		_, err := w.triggerStop(ctx, o, w.deps.Now())
		w.observe(cmdStopTrigger, start, err)
		if err != nil {
			w.log.Error("stop trigger failed", zap.Uint64("order_id", o.ID), zap.Error(err))
			failed = append(failed, o)
		}
	}
	w.pending = failed
}

func (w *Worker) dispatch(ctx context.Context, cmd command) (Result, error) {
	switch cmd.kind {
	case cmdPlace:
		return w.place(ctx, cmd.place, cmd.at)
	case cmdCancel:
		return w.cancel(ctx, cmd.orderID, cmd.userID, cmd.at)
	case cmdUpdate:
		return w.update(ctx, cmd.update, cmd.at)
	case cmdOTCUpdate:
		return w.otcUpdate(ctx, cmd.at)
	case cmdRevert:
		return w.revert(ctx, cmd.orderID, cmd.at)
	}
	return Result{}, errs.New(errs.CodeInternal, "unknown command %d", cmd.kind)
}

func (w *Worker) refreshPair() {
	p, err := w.deps.Catalog.Current().Pair(w.code)
	if err != nil || p == w.pair {
		return
	}
	w.pair = p
	w.matcher.SetPair(p)
}

func (w *Worker) record(t entrywal.RecordType, c entrywal.Command, at time.Time) error {
	if w.journal == nil {
		return nil
	}
	w.jseq++
	if err := w.journal.Append(entrywal.NewRecord(t, w.jseq, at, c.Marshal())); err != nil {
		w.jseq--
		return errs.Wrap(errs.CodeInternal, err, "journal append")
	}
	return nil
}

// -------------------- commit / apply --------------------

type commitArgs struct {
	unit    *ledger.Unit
	plan    *matching.Plan
	orders  []*order.Order
	changes []order.Change
	states  []order.StateChange
	// reserve is the reservation of owner, a new order.
	reserve *ledger.Transaction
	owner   *order.Order
}

type outcome struct {
	balances []ledger.Balance
	results  []order.ExecutionResult
}

// commit persists the changeset while the ledger unit holds its accounts,
// so either both become visible or neither does.
func (w *Worker) commit(ctx context.Context, s commitArgs) (outcome, error) {
	var out outcome
	persist := func(txns []ledger.Transaction) error {
		cs := &store.Changeset{Transactions: txns, Changes: s.changes, Pair: w.code}
		if s.reserve != nil && s.owner != nil {
			s.owner.ReservationTxnID = s.reserve.ID
		}
		if pl := s.plan; pl != nil {
			out.results = pl.Results(w.deps.Seq.Results, w.code)
			cs.Results = out.results
			cs.Orders = append(cs.Orders, pl.Touched()...)
			cs.StateChanges = append(cs.StateChanges, pl.StateChanges...)
			if p, ok := pl.LastPrice(); ok {
				cs.LastPrice = p
			}
		}
		cs.Orders = append(cs.Orders, s.orders...)
		cs.StateChanges = append(cs.StateChanges, s.states...)
		if err := w.deps.Store.Commit(ctx, cs); err != nil {
			return errs.Wrap(errs.CodeInternal, err, "persist changeset")
		}
		return nil
	}

	if s.unit == nil || s.unit.Empty() {
		return out, persist(nil)
	}
	res, err := s.unit.Commit(persist)
	if err != nil {
		return outcome{}, err
	}
	out.balances = res.Balances
	return out, nil
}

// apply replays a committed plan on the live book and queues the stops it
// triggered.
func (w *Worker) apply(pl *matching.Plan, triggered []*order.Order, at time.Time) {
	if err := w.matcher.Apply(pl); err != nil {
		w.log.Error("book diverged from committed state", zap.Uint64("order_id", pl.Taker.ID), zap.Error(err))
	}
	if p, ok := pl.LastPrice(); ok {
		w.lastPrice = p
	}
	for _, t := range triggered {
		delete(w.stops, t.ID)
		w.pending = append(w.pending, t)
	}
	if m := w.deps.Metrics; m != nil && len(pl.Fills) > 0 {
		m.Fills.WithLabelValues(w.code).Add(float64(len(pl.Fills)))
	}
	w.touch(at)
}

// crossedStops returns copies of the resting stop orders a fill of pl
// triggers, already marked in_stack so they persist with the fill.
func (w *Worker) crossedStops(pl *matching.Plan) []*order.Order {
	if len(pl.Fills) == 0 || len(w.stops) == 0 {
		return nil
	}
	var out []*order.Order
	for _, s := range w.stops {
		for _, f := range pl.Fills {
			if s.StopTriggered(f.Price) {
				c := s.Clone()
				c.InStack = true
				out = append(out, c)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *Worker) touch(at time.Time) {
	w.version++
	w.view.Store(buildView(w.code, w.version, w.book, w.cfg.ExportDepth, w.lastPrice, at))
	if m := w.deps.Metrics; m != nil {
		m.OpenOrders.WithLabelValues(w.code).Set(float64(w.book.Len() + len(w.stops)))
	}
}

// -------------------- events --------------------

// emit publishes trades first, then order states, then balances.
func (w *Worker) emit(ctx context.Context, primary *order.Order, action event.OrderAction, pl *matching.Plan, out outcome, at time.Time) {
	var events []event.Event

	if pl != nil {
		// one trade per fill, named from the side that came in
		for _, f := range pl.Fills {
			events = append(events, event.NewTrade(event.Trade{
				Pair:         w.code,
				TakerOrderID: f.Taker,
				MakerOrderID: f.Maker,
				Price:        f.Price,
				Quantity:     f.Quantity,
				TakerSide:    pl.Taker.Side.String(),
				At:           at,
			}))
		}
	}

	seen := make(map[uint64]bool)
	addState := func(o *order.Order, a event.OrderAction) {
		if o == nil || seen[o.ID] {
			return
		}
		seen[o.ID] = true
		events = append(events, orderStateEvent(o, actionFor(o, a), at))
	}
	addState(primary, action)
	if pl != nil {
		for _, o := range pl.Touched() {
			addState(o, event.ActionExecute)
		}
	}

	for _, b := range out.balances {
		events = append(events, event.NewBalanceChanged(event.BalanceChanged{
			UserID:    b.UserID,
			Currency:  b.Currency,
			Available: b.Available,
			OnHold:    b.OnHold,
		}, at))
	}

	if len(events) == 0 || w.deps.Bus == nil {
		return
	}
	w.deps.Bus.Publish(ctx, events...)
}

func actionFor(o *order.Order, fallback event.OrderAction) event.OrderAction {
	switch o.State {
	case order.Closed:
		return event.ActionClose
	case order.Cancelled:
		return event.ActionCancel
	case order.Reverted:
		return event.ActionRevert
	}
	return fallback
}

func orderStateEvent(o *order.Order, a event.OrderAction, at time.Time) event.Event {
	return event.NewOrderState(event.OrderState{
		UserID:       o.UserID,
		OrderID:      o.ID,
		Pair:         o.Pair,
		Action:       a,
		State:        o.State.String(),
		Side:         o.Side.String(),
		Kind:         o.Kind.String(),
		Price:        o.Price,
		Quantity:     o.Quantity,
		QuantityLeft: o.QuantityLeft,
		VWAP:         o.VWAP,
		At:           at,
	})
}

func (w *Worker) observe(kind commandKind, start time.Time, err error) {
	m := w.deps.Metrics
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(errs.CodeOf(err))
	}
	m.Commands.WithLabelValues(w.code, kind.String(), result).Inc()
	m.CommandTime.WithLabelValues(w.code, kind.String()).Observe(time.Since(start).Seconds())
}

func resultsFor(id uint64, rs []order.ExecutionResult) []order.ExecutionResult {
	var out []order.ExecutionResult
	for _, r := range rs {
		if r.OrderID == id {
			out = append(out, r)
		}
	}
	return out
}
