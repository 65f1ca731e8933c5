package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/shopspring/decimal"

	"spotex/domain/ledger"
	"spotex/domain/order"
)

// Key layout, all ids zero padded so lexical order is numeric order:
//
//	o/<id>                 order
//	open/<pair>/<id>       index of OPEN orders
//	t/<id>                 transaction
//	to/<order>/<txn>       transactions of an order
//	r/<id>                 execution result
//	ro/<order>/<result>    results of an order
//	sc/<order>/<ts>-<n>    state changes
//	ch/<order>/<ts>-<n>    field changes
//	lp/<pair>              last trade price
const (
	pfxOrder   = "o/"
	pfxOpen    = "open/"
	pfxTxn     = "t/"
	pfxTxnIdx  = "to/"
	pfxResult  = "r/"
	pfxResIdx  = "ro/"
	pfxState   = "sc/"
	pfxChange  = "ch/"
	pfxLastPrc = "lp/"
)

func id20(id uint64) string { return fmt.Sprintf("%020d", id) }

func key(parts ...string) []byte { return []byte(strings.Join(parts, "")) }

// upper returns the exclusive upper bound of a prefix scan.
func upper(prefix string) []byte {
	b := []byte(prefix)
	b[len(b)-1]++
	return b
}

// Pebble is the durable Store.
type Pebble struct {
	db *pebble.DB
}

func OpenPebble(dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Close() error { return p.db.Close() }

func (p *Pebble) Commit(_ context.Context, c *Changeset) error {
	const op = "Pebble.Commit"

	b := p.db.NewBatch()
	defer b.Close()

	put := func(k []byte, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Set(k, raw, nil)
	}

	for _, o := range c.Orders {
		if err := put(key(pfxOrder, id20(o.ID)), o); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		open := key(pfxOpen, o.Pair, "/", id20(o.ID))
		var err error
		if o.State == order.Open {
			err = b.Set(open, nil, nil)
		} else {
			err = b.Delete(open, nil)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	for _, tx := range c.Transactions {
		if err := put(key(pfxTxn, id20(tx.ID)), tx); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if tx.OrderID != 0 {
			if err := b.Set(key(pfxTxnIdx, id20(tx.OrderID), "/", id20(tx.ID)), nil, nil); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
	}
	for _, r := range c.Results {
		if err := put(key(pfxResult, id20(r.ID)), r); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := b.Set(key(pfxResIdx, id20(r.OrderID), "/", id20(r.ID)), nil, nil); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	for i, sc := range c.StateChanges {
		k := key(pfxState, id20(sc.OrderID), "/", id20(uint64(sc.At.UnixNano())), "-", strconv.Itoa(i))
		if err := put(k, sc); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	for i, ch := range c.Changes {
		k := key(pfxChange, id20(ch.OrderID), "/", id20(uint64(ch.At.UnixNano())), "-", strconv.Itoa(i))
		if err := put(k, ch); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if c.LastPrice.Sign() > 0 {
		if err := b.Set(key(pfxLastPrc, c.Pair), []byte(c.LastPrice.String()), nil); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Pebble) get(k []byte, v any) error {
	raw, closer, err := p.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	return json.Unmarshal(raw, v)
}

// scan visits the keys under prefix in order.
func (p *Pebble) scan(prefix string, fn func(k, v []byte) error) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upper(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// tailID parses the id after the last slash of k.
func tailID(k []byte) (uint64, error) {
	s := string(k)
	return strconv.ParseUint(s[strings.LastIndexByte(s, '/')+1:], 10, 64)
}

func (p *Pebble) Order(_ context.Context, id uint64) (*order.Order, error) {
	var o order.Order
	if err := p.get(key(pfxOrder, id20(id)), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (p *Pebble) OpenOrders(ctx context.Context, pair string) ([]*order.Order, error) {
	var out []*order.Order
	err := p.scan(pfxOpen+pair+"/", func(k, _ []byte) error {
		id, err := tailID(k)
		if err != nil {
			return err
		}
		o, err := p.Order(ctx, id)
		if err != nil {
			return err
		}
		out = append(out, o)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Pebble.OpenOrders: %w", err)
	}
	sortOpen(out)
	return out, nil
}

func (p *Pebble) TransactionsByOrder(_ context.Context, id uint64) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	err := p.scan(pfxTxnIdx+id20(id)+"/", func(k, _ []byte) error {
		txID, err := tailID(k)
		if err != nil {
			return err
		}
		var tx ledger.Transaction
		if err := p.get(key(pfxTxn, id20(txID)), &tx); err != nil {
			return err
		}
		out = append(out, tx)
		return nil
	})
	return out, err
}

func (p *Pebble) ResultsByOrder(_ context.Context, id uint64) ([]order.ExecutionResult, error) {
	var out []order.ExecutionResult
	err := p.scan(pfxResIdx+id20(id)+"/", func(k, _ []byte) error {
		rID, err := tailID(k)
		if err != nil {
			return err
		}
		var r order.ExecutionResult
		if err := p.get(key(pfxResult, id20(rID)), &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

func (p *Pebble) StateChanges(_ context.Context, id uint64) ([]order.StateChange, error) {
	var out []order.StateChange
	err := p.scan(pfxState+id20(id)+"/", func(_, v []byte) error {
		var sc order.StateChange
		if err := json.Unmarshal(v, &sc); err != nil {
			return err
		}
		out = append(out, sc)
		return nil
	})
	return out, err
}

func (p *Pebble) Changes(_ context.Context, id uint64) ([]order.Change, error) {
	var out []order.Change
	err := p.scan(pfxChange+id20(id)+"/", func(_, v []byte) error {
		var ch order.Change
		if err := json.Unmarshal(v, &ch); err != nil {
			return err
		}
		out = append(out, ch)
		return nil
	})
	return out, err
}

func (p *Pebble) ForEachTransaction(_ context.Context, fn func(ledger.Transaction) error) error {
	return p.scan(pfxTxn, func(_, v []byte) error {
		var tx ledger.Transaction
		if err := json.Unmarshal(v, &tx); err != nil {
			return err
		}
		return fn(tx)
	})
}

func (p *Pebble) LastTradePrice(_ context.Context, pair string) (decimal.Decimal, bool, error) {
	raw, closer, err := p.db.Get(key(pfxLastPrc, pair))
	if errors.Is(err, pebble.ErrNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	defer closer.Close()
	v, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, false, err
	}
	return v, true, nil
}

func (p *Pebble) lastID(prefix string) (uint64, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: []byte(prefix), UpperBound: upper(prefix)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, iter.Error()
	}
	return tailID(iter.Key())
}

func (p *Pebble) LastIDs(context.Context) (LastIDs, error) {
	var ids LastIDs
	var err error
	if ids.Order, err = p.lastID(pfxOrder); err != nil {
		return ids, err
	}
	if ids.Transaction, err = p.lastID(pfxTxn); err != nil {
		return ids, err
	}
	if ids.Result, err = p.lastID(pfxResult); err != nil {
		return ids, err
	}
	return ids, nil
}
