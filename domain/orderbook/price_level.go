package orderbook

import (
	"github.com/shopspring/decimal"

	"spotex/domain/order"
)

// entry is the book's handle on a resting order.
type entry struct {
	order *order.Order
	level *PriceLevel
	next  *entry
	prev  *entry
}

// PriceLevel is the FIFO queue of orders resting at one price.
type PriceLevel struct {
	Price decimal.Decimal
	key   int64

	head *entry
	tail *entry

	depth decimal.Decimal
	count int
}

func (p *PriceLevel) enqueue(e *entry) {
	e.level = p
	if p.tail == nil {
		p.head = e
		p.tail = e
	} else {
		p.tail.next = e
		e.prev = p.tail
		p.tail = e
	}
	p.depth = p.depth.Add(e.order.QuantityLeft)
	p.count++
}

// unlink removes e in O(1) wherever it sits in the queue.
func (p *PriceLevel) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		p.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		p.tail = e.prev
	}
	e.next, e.prev, e.level = nil, nil, nil

	p.depth = p.depth.Sub(e.order.QuantityLeft)
	p.count--
}

func (p *PriceLevel) Empty() bool { return p.head == nil }

// Head is the earliest order at this price.
func (p *PriceLevel) Head() *order.Order {
	if p.head == nil {
		return nil
	}
	return p.head.order
}

// Depth is the sum of quantity_left at this price.
func (p *PriceLevel) Depth() decimal.Decimal { return p.depth }

func (p *PriceLevel) Len() int { return p.count }

// Each visits orders in time priority until fn returns false.
func (p *PriceLevel) Each(fn func(*order.Order) bool) bool {
	for e := p.head; e != nil; e = e.next {
		if !fn(e.order) {
			return false
		}
	}
	return true
}
