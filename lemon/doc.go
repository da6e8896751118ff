// Package lemon provides reactive state stores with automatic dependency
// tracking.
//
// A Store holds named properties. Static properties are plain values;
// computed properties are Computed functions that read other properties,
// in the same store or in other stores on the same Engine, through a View:
//
//	prices, _ := lemon.NewStore(map[string]any{"net": 100}, lemon.WithName("prices"))
//	cart, _ := lemon.NewStore(map[string]any{
//		"qty": 2,
//		"total": lemon.Computed(func(v *lemon.View) (any, error) {
//			net, err := lemon.Get[int](prices.State(), "net")
//			if err != nil {
//				return nil, err
//			}
//			qty, err := lemon.Get[int](v, "qty")
//			return net * qty, err
//		}),
//	})
//
// Computed values are evaluated lazily and memoized. SetState runs a
// propagation pass that recomputes only values whose dependencies
// changed and notifies each affected store's subscribers once with the
// exact set of changed names. SmartSubscribe narrows notifications to the
// names a subscriber reads.
//
// ActionStore adds named actions and an optional devtools bridge (see
// package devtools).
//
// Stores are single-threaded: every store sharing an Engine must be used
// from one goroutine.
package lemon
