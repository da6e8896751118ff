// Package harness runs declarative store scenarios against a fresh engine.
//
// A scenario declares stores whose computed properties are small
// expressions, then runs steps against them and checks notifications,
// state and errors. Traces can be compared against golden files.
//
// # Scenario Format
//
// Scenarios are YAML files (or CUE files exporting the same shape):
//
//	name: cart_total
//	description: "Total follows quantity and the catalog price"
//	stores:
//	  - name: catalog
//	    state: { price: 5 }
//	  - name: cart
//	    state: { qty: 2 }
//	    computed:
//	      total: {mul: [{ref: qty}, {ref: price, store: catalog}]}
//	steps:
//	  - set: { store: catalog, state: { price: 7 } }
//	    expect_notify: { catalog: [price], cart: [total] }
//	    expect_state: { store: cart, state: { total: 14 } }
//	  - remove: catalog
//	  - read: { store: cart, key: total }
//	    expect_error: { code: ACCESS }
//	assertions:
//	  - type: recompute_count
//	    store: cart
//	    key: total
//	    count: 2
//
// # Expressions
//
// ref, add, mul, concat, len, split, not, eq and if. See Expr.
//
// # Assertion Types
//
//   - notify_count: a store was notified exactly N times
//   - notify_order: stores were first notified in the given order
//   - recompute_count: a computed property was derived exactly N times
//   - final_state: properties of a store after the last step
package harness
