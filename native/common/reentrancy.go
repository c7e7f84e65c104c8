package common

import (
	"errors"
	"sync/atomic"
)

var ErrReentrantCall = errors.New("reentrant call rejected")

// ReentrancyGuard rejects a mutating call that starts while another one is
// still running on the same engine. It does not serialise callers: a second
// entry fails immediately instead of waiting.
type ReentrancyGuard struct {
	entered atomic.Bool
}

// Enter marks the guard as held. The returned release function must be called
// exactly once when the operation finishes.
func (g *ReentrancyGuard) Enter() (func(), error) {
	if !g.entered.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	return func() { g.entered.Store(false) }, nil
}

// Held reports whether an operation is currently inside the guard.
func (g *ReentrancyGuard) Held() bool {
	return g.entered.Load()
}
