package export

import "sync/atomic"

// Guard admits one export at a time within the process.
type Guard struct {
	busy atomic.Bool
}

// TryAcquire returns ok=false when an export is already running. On success
// the caller must defer release; calling it more than once is harmless.
func (g *Guard) TryAcquire() (release func(), ok bool) {
	if !g.busy.CompareAndSwap(false, true) {
		return func() {}, false
	}
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			g.busy.Store(false)
		}
	}, true
}

// Busy reports whether an export holds the guard.
func (g *Guard) Busy() bool {
	return g.busy.Load()
}
