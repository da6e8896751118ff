// Package journal is a devtools.Connector that records every snapshot a
// store sends into SQLite.
//
// Each connection is a session. Init is stored as an @@INIT entry and
// every dispatched action as an action entry; all entries share one
// logical clock, so seq orders the whole journal. Snapshots are stored as
// canonical JSON with a content hash, which makes identical states easy to
// spot across sessions.
//
// Session.Jump sends a recorded snapshot back to the store as a DISPATCH
// message, the same message a remote debugger sends for time travel.
package journal
