// Package docstore defines the document store contract the resource adapters
// orchestrate: references, query constraints, snapshots and the Store
// interface.
//
// The adapters never talk to a database directly. They resolve paths into
// references with Collection and Doc, build queries with NewQuery, and call
// the Store for one-shot reads, watches and writes. Two implementations live
// in subpackages: memstore (in-memory) and sqlstore (SQLite).
//
// # Paths
//
// Paths are slash-separated with no empty segments. Collection paths have an
// odd number of segments ("users", "users/u1/todos"), document paths an even
// number ("users/u1").
//
// # Ordering
//
// Query results are ordered by the query's OrderBy constraints and then by
// document id ascending, so results are deterministic. Documents missing an
// ordered field are excluded from the results.
//
// # Watches
//
// WatchDoc and WatchQuery deliver an initial snapshot and then one snapshot
// per observed change. Callbacks for one watch run in order and never
// concurrently, and they are never invoked on the caller's goroutine, so a
// callback may cancel its own watch or start new ones.
package docstore
