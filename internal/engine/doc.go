// Package engine implements the lemonstate dependency graph engine.
//
// The engine owns every tracked value of every store created against it
// and evaluates computed values lazily, memoizing results until one of
// their dependencies changes.
//
// ARCHITECTURE:
//
// Registry:
// Values are identified by monotonically increasing ValueIDs that are never
// reused. Each record keeps its owning store, its cache and two mutually
// consistent edge sets: dependsOn (what its last computation read) and
// dependents (who read it).
//
// Read path:
// Resolve records an edge from the active computation, then returns the
// cache. Inside a propagation pass a computed value is first validated:
// its dependencies are resolved, and it recomputes only if one of them
// changed in this pass.
//
// Write path:
// A store opens a Pass, assigns its static values and calls Propagate.
// The pass resolves its needs-update set to a fixpoint, then groups the
// changed values by store and calls each store's Publish once.
//
// CRITICAL PATTERNS:
//
// Write-during-read:
// No write may start while a computation is active or a pass is resolving.
// Subscribers run after resolution ends, so they may start nested passes.
//
// Clear on failure:
// Every error aborts the evaluation and resets the active computation,
// the chain and the current pass before it reaches the caller.
package engine
