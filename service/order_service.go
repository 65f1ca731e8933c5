package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"spotex/domain/errs"
	"spotex/domain/event"
	"spotex/domain/ledger"
	"spotex/domain/order"
	"spotex/infra/store"
)

type Config struct {
	// RequestTimeout bounds how long a caller waits for a worker. The
	// command itself still runs to completion.
	RequestTimeout time.Duration
	// PlaceDelay is how long a (user, client id) place is answered from cache.
	PlaceDelay time.Duration
	// CancelWindow coalesces repeated cancels of one order.
	CancelWindow time.Duration
	Worker       WorkerConfig
}

const recentSize = 1 << 16

/*
OrderService is the ONLY write entry point into the core.

It validates routing, deduplicates retried requests and hands every
command to the Worker of its pair. Workers never call each other.
*/
type OrderService struct {
	cfg  Config
	deps Deps

	workers map[string]*Worker
	codes   []string

	places  *expirable.LRU[string, Result]
	cancels *expirable.LRU[uint64, Result]
	flight  singleflight.Group

	log *zap.Logger
}

// NewOrderService creates one Worker per pair of the catalog.
func NewOrderService(cfg Config, deps Deps) (*OrderService, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.PlaceDelay <= 0 {
		cfg.PlaceDelay = 2 * time.Second
	}
	if cfg.CancelWindow <= 0 {
		cfg.CancelWindow = 2 * time.Minute
	}
	if cfg.Worker.PlaceGuard <= 0 {
		cfg.Worker.PlaceGuard = cfg.PlaceDelay
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &OrderService{
		cfg:     cfg,
		deps:    deps,
		workers: make(map[string]*Worker),
		places:  expirable.NewLRU[string, Result](recentSize, nil, cfg.PlaceDelay),
		cancels: expirable.NewLRU[uint64, Result](recentSize, nil, cfg.CancelWindow),
		log:     deps.Log.Named("orders"),
	}
	for _, p := range deps.Catalog.Current().Pairs() {
		var journal Journal
		if deps.Journals != nil {
			j, err := deps.Journals(p.Code)
			if err != nil {
				return nil, fmt.Errorf("open journal of %s: %w", p.Code, err)
			}
			journal = j
		}
		w, err := NewWorker(p.Code, journal, deps, cfg.Worker)
		if err != nil {
			return nil, err
		}
		s.workers[p.Code] = w
		s.codes = append(s.codes, p.Code)
	}
	sort.Strings(s.codes)
	return s, nil
}

//
// ──────────────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────────────
//

// Recover seeds the id sequencers and balances from the store and rebuilds
// every book. It must finish before Run.
func (s *OrderService) Recover(ctx context.Context) error {
	ids, err := s.deps.Store.LastIDs(ctx)
	if err != nil {
		return fmt.Errorf("load last ids: %w", err)
	}
	s.deps.Seq.Orders.Advance(ids.Order)
	s.deps.Seq.Transactions.Advance(ids.Transaction)
	s.deps.Seq.Results.Advance(ids.Result)

	var txns []ledger.Transaction
	err = s.deps.Store.ForEachTransaction(ctx, func(tx ledger.Transaction) error {
		txns = append(txns, tx)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}
	s.deps.Ledger.Restore(txns)

	for _, code := range s.codes {
		if err := s.workers[code].Rehydrate(ctx); err != nil {
			return fmt.Errorf("rehydrate %s: %w", code, err)
		}
	}
	s.log.Info("core recovered",
		zap.Int("pairs", len(s.codes)),
		zap.Int("transactions", len(txns)),
		zap.Uint64("last_order_id", ids.Order))
	return nil
}

// Run starts every worker and blocks until ctx is cancelled.
func (s *OrderService) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, code := range s.codes {
		w := s.workers[code]
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// Place submits a new order. A retry with the same client id inside
// PlaceDelay returns the first answer instead of placing twice.
func (s *OrderService) Place(ctx context.Context, req PlaceRequest) (Result, error) {
	w, err := s.worker(req.Pair)
	if err != nil {
		return Result{}, err
	}
	if req.ClientID == "" {
		return s.submit(ctx, w, command{kind: cmdPlace, place: &req})
	}

	key := placeKey(req.UserID, req.ClientID)
	if res, ok := s.places.Get(key); ok {
		return res, nil
	}
	v, err, _ := s.flight.Do("place:"+key, func() (any, error) {
		res, err := s.submit(ctx, w, command{kind: cmdPlace, place: &req})
		if err == nil {
			s.places.Add(key, res)
		}
		return res, err
	})
	res, _ := v.(Result)
	return res, err
}

// Cancel takes an open order off its book. Repeats inside CancelWindow
// observe the first cancel.
func (s *OrderService) Cancel(ctx context.Context, userID, orderID uint64) (Result, error) {
	if res, ok := s.cancels.Get(orderID); ok && res.Order.UserID == userID {
		return res, nil
	}
	v, err, _ := s.flight.Do("cancel:"+strconv.FormatUint(orderID, 10), func() (any, error) {
		w, err := s.workerOf(ctx, orderID)
		if err != nil {
			return Result{}, err
		}
		res, err := s.submit(ctx, w, command{kind: cmdCancel, orderID: orderID, userID: userID})
		if err == nil {
			s.cancels.Add(orderID, res)
		}
		return res, err
	})
	res, _ := v.(Result)
	return res, err
}

// Update changes price, quantity, stop or OTC terms of an open order.
func (s *OrderService) Update(ctx context.Context, req UpdateRequest) (Result, error) {
	w, err := s.workerOf(ctx, req.OrderID)
	if err != nil {
		return Result{}, err
	}
	return s.submit(ctx, w, command{kind: cmdUpdate, update: &req, orderID: req.OrderID, userID: req.UserID})
}

// Revert undoes the fills of a terminal order. Administrative.
func (s *OrderService) Revert(ctx context.Context, orderID uint64) (Result, error) {
	w, err := s.workerOf(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	return s.submit(ctx, w, command{kind: cmdRevert, orderID: orderID})
}

// OTCBulkUpdate reprices the EXTERNAL orders of a pair.
func (s *OrderService) OTCBulkUpdate(ctx context.Context, pair string) (Result, error) {
	w, err := s.worker(pair)
	if err != nil {
		return Result{}, err
	}
	return s.submit(ctx, w, command{kind: cmdOTCUpdate})
}

// Deposit credits funds that arrive from outside the core.
func (s *OrderService) Deposit(ctx context.Context, userID uint64, currency string, amount decimal.Decimal) (ledger.Balance, error) {
	cur, err := s.deps.Catalog.Current().Currency(currency)
	if err != nil {
		return ledger.Balance{}, errs.New(errs.CodeCurrencyDisabled, "unknown currency %s", currency)
	}
	if amount.Sign() <= 0 {
		return ledger.Balance{}, errs.New(errs.CodeInvalidQuantity, "deposit must be positive, got %s", amount)
	}

	u := s.deps.Ledger.Begin()
	u.Credit(userID, cur.Code, amount, ledger.ReasonDeposit, 0)
	res, err := u.Commit(func(txns []ledger.Transaction) error {
		return s.deps.Store.Commit(ctx, &store.Changeset{Transactions: txns})
	})
	if err != nil {
		return ledger.Balance{}, errs.Wrap(errs.CodeInternal, err, "commit deposit")
	}
	b := res.Balances[0]
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(ctx, event.NewBalanceChanged(event.BalanceChanged{
			UserID:    b.UserID,
			Currency:  b.Currency,
			Available: b.Available,
			OnHold:    b.OnHold,
		}, s.deps.Now()))
	}
	return b, nil
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

func (s *OrderService) Balance(userID uint64, currency string) ledger.Balance {
	return s.deps.Ledger.Balance(userID, currency)
}

// Book returns the last published view of a pair.
func (s *OrderService) Book(pair string) (*BookView, error) {
	w, err := s.worker(pair)
	if err != nil {
		return nil, err
	}
	return w.View(), nil
}

// Order reads the persisted state of an order.
func (s *OrderService) Order(ctx context.Context, id uint64) (*order.Order, error) {
	o, err := s.deps.Store.Order(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.New(errs.CodeOrderNotFound, "order %d not found", id)
	}
	return o, err
}

// Workers returns the workers ordered by pair code.
func (s *OrderService) Workers() []*Worker {
	out := make([]*Worker, 0, len(s.codes))
	for _, c := range s.codes {
		out = append(out, s.workers[c])
	}
	return out
}

//
// ──────────────────────────────────────────────────────────
// Routing
// ──────────────────────────────────────────────────────────
//

func (s *OrderService) worker(pair string) (*Worker, error) {
	w, ok := s.workers[normalizePair(pair)]
	if !ok {
		return nil, errs.New(errs.CodePairDisabled, "unknown pair %s", pair)
	}
	return w, nil
}

func (s *OrderService) workerOf(ctx context.Context, orderID uint64) (*Worker, error) {
	o, err := s.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.worker(o.Pair)
}

func (s *OrderService) submit(ctx context.Context, w *Worker, cmd command) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	cmd.at = s.deps.Now()
	return w.submit(ctx, cmd)
}

func placeKey(user uint64, clientID string) string {
	return strconv.FormatUint(user, 10) + ":" + clientID
}

func normalizePair(pair string) string {
	return strings.ToUpper(strings.TrimSpace(pair))
}
