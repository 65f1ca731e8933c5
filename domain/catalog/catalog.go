// Package catalog is the process-wide registry of currencies and pairs.
// A Catalog is immutable once built; operational changes go through Registry.Reload.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"spotex/domain/money"
)

// Currency is a tradable asset.
type Currency struct {
	Code            string
	Scale           int32
	StackEnabled    bool
	ExchangeEnabled bool
}

// Pair is an ordered (base, quote) market.
type Pair struct {
	Code  string
	Base  string
	Quote string

	PriceStep    decimal.Decimal
	QuantityStep decimal.Decimal
	MinOrderCost decimal.Decimal
	// MaxOrderCost of zero means unlimited.
	MaxOrderCost decimal.Decimal
	// Deviation is the allowed percent distance of a limit price from the reference. Zero disables.
	Deviation   decimal.Decimal
	Enabled     bool
	CustomPrice decimal.Decimal

	AutoOrdersEnabled bool
	// Precisions are the grouping steps for aggregated snapshots.
	Precisions []decimal.Decimal

	ticker money.Ticker
}

// Ticker converts prices of this pair to ladder keys.
func (p *Pair) Ticker() money.Ticker { return p.ticker }

// PairCode joins base and quote.
func PairCode(base, quote string) string {
	return strings.ToUpper(base) + "-" + strings.ToUpper(quote)
}

var (
	ErrUnknownPair     = errors.New("catalog: unknown pair")
	ErrUnknownCurrency = errors.New("catalog: unknown currency")
)

// Catalog is an immutable view of currencies and pairs.
type Catalog struct {
	currencies map[string]*Currency
	pairs      map[string]*Pair
}

// New validates the definitions and builds a Catalog.
func New(currencies []Currency, pairs []Pair) (*Catalog, error) {
	c := &Catalog{
		currencies: make(map[string]*Currency, len(currencies)),
		pairs:      make(map[string]*Pair, len(pairs)),
	}
	for i := range currencies {
		cur := currencies[i]
		cur.Code = strings.ToUpper(cur.Code)
		if cur.Code == "" {
			return nil, errors.New("catalog: currency without code")
		}
		if _, dup := c.currencies[cur.Code]; dup {
			return nil, fmt.Errorf("catalog: duplicate currency %s", cur.Code)
		}
		c.currencies[cur.Code] = &cur
	}
	for i := range pairs {
		p := pairs[i]
		p.Base = strings.ToUpper(p.Base)
		p.Quote = strings.ToUpper(p.Quote)
		p.Code = PairCode(p.Base, p.Quote)
		if _, ok := c.currencies[p.Base]; !ok {
			return nil, fmt.Errorf("%w %s in pair %s", ErrUnknownCurrency, p.Base, p.Code)
		}
		if _, ok := c.currencies[p.Quote]; !ok {
			return nil, fmt.Errorf("%w %s in pair %s", ErrUnknownCurrency, p.Quote, p.Code)
		}
		if p.QuantityStep.Sign() <= 0 {
			return nil, fmt.Errorf("catalog: pair %s: quantity step must be positive", p.Code)
		}
		tk, err := money.NewTicker(p.PriceStep)
		if err != nil {
			return nil, fmt.Errorf("catalog: pair %s: %w", p.Code, err)
		}
		p.ticker = tk
		if _, dup := c.pairs[p.Code]; dup {
			return nil, fmt.Errorf("catalog: duplicate pair %s", p.Code)
		}
		c.pairs[p.Code] = &p
	}
	return c, nil
}

// Pair looks up a pair by code.
func (c *Catalog) Pair(code string) (*Pair, error) {
	p, ok := c.pairs[strings.ToUpper(code)]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownPair, code)
	}
	return p, nil
}

// Currency looks up a currency by code.
func (c *Catalog) Currency(code string) (*Currency, error) {
	cur, ok := c.currencies[strings.ToUpper(code)]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownCurrency, code)
	}
	return cur, nil
}

// Pairs returns all pairs sorted by code.
func (c *Catalog) Pairs() []*Pair {
	out := make([]*Pair, 0, len(c.pairs))
	for _, p := range c.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Registry publishes the current Catalog to readers without locking.
type Registry struct {
	mu  sync.Mutex
	cur atomic.Pointer[Catalog]
}

func NewRegistry(c *Catalog) *Registry {
	r := &Registry{}
	r.cur.Store(c)
	return r
}

// Current returns the catalog in effect. Callers keep the pointer for the
// duration of one command so the view does not change under them.
func (r *Registry) Current() *Catalog {
	return r.cur.Load()
}

// Reload swaps in a new catalog. Pairs cannot be removed while running since
// their workers own live books.
func (r *Registry) Reload(next *Catalog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.cur.Load()
	for code := range prev.pairs {
		if _, ok := next.pairs[code]; !ok {
			return fmt.Errorf("catalog: reload drops pair %s", code)
		}
	}
	r.cur.Store(next)
	return nil
}
