// Package memory holds allocation helpers for hot write paths.
package memory

import "sync"

// Pool is a typed sync.Pool. Reset runs on every Put so pooled values never
// leak state between users.
type Pool[T any] struct {
	p     sync.Pool
	reset func(*T)
}

func NewPool[T any](ctor func() *T, reset func(*T)) *Pool[T] {
	pl := &Pool[T]{reset: reset}
	pl.p.New = func() any { return ctor() }
	return pl
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	if p.reset != nil {
		p.reset(v)
	}
	p.p.Put(v)
}
