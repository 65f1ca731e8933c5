package config

import "github.com/shopspring/decimal"

// FeeTable is a flat per-user fee rate with a default.
type FeeTable struct {
	Default   decimal.Decimal
	Overrides map[uint64]decimal.Decimal
}

func (t *FeeTable) Rate(user uint64) decimal.Decimal {
	if r, ok := t.Overrides[user]; ok {
		return r
	}
	return t.Default
}

// UserPolicy holds per-user restrictions.
type UserPolicy struct {
	autoDisabled map[uint64]struct{}
}

func NewUserPolicy(autoDisabled ...uint64) *UserPolicy {
	p := &UserPolicy{autoDisabled: make(map[uint64]struct{}, len(autoDisabled))}
	for _, id := range autoDisabled {
		p.autoDisabled[id] = struct{}{}
	}
	return p
}

// AutoOrdersAllowed reports whether user may place EXTERNAL orders.
func (p *UserPolicy) AutoOrdersAllowed(user uint64) bool {
	_, off := p.autoDisabled[user]
	return !off
}
