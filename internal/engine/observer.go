package engine

import "time"

// PassStats summarizes one propagation pass.
type PassStats struct {
	Seeds      int
	Recomputed int
	Changed    int
	Stores     int
	Duration   time.Duration
}

// Observer receives engine lifecycle callbacks. Passes nest when a subscriber
// writes to another store, so PassStarted pairs with PassCompleted or
// PassFailed like a stack. Failed reports reads that failed outside a pass.
//
// Callbacks run synchronously on the engine goroutine and must not call
// back into the engine.
type Observer interface {
	PassStarted(seeds int)
	Recomputed(ref ValueRef)
	PassCompleted(stats PassStats)
	PassFailed(err error)
	Failed(err error)
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) PassStarted(int)         {}
func (NopObserver) Recomputed(ValueRef)     {}
func (NopObserver) PassCompleted(PassStats) {}
func (NopObserver) PassFailed(error)        {}
func (NopObserver) Failed(error)            {}

type multiObserver []Observer

func (m multiObserver) PassStarted(seeds int) {
	for _, o := range m {
		o.PassStarted(seeds)
	}
}

func (m multiObserver) Recomputed(ref ValueRef) {
	for _, o := range m {
		o.Recomputed(ref)
	}
}

func (m multiObserver) PassCompleted(stats PassStats) {
	for _, o := range m {
		o.PassCompleted(stats)
	}
}

func (m multiObserver) PassFailed(err error) {
	for _, o := range m {
		o.PassFailed(err)
	}
}

func (m multiObserver) Failed(err error) {
	for _, o := range m {
		o.Failed(err)
	}
}
