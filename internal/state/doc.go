// Package state binds reactive containers to remote documents, queries and
// key-value nodes.
//
// Every resource is a Base: an observer-counted container whose lifecycle
// resolves the signed-in user once, computes its backend reference once, and
// then either fetches once or keeps a live subscription open while it has
// observers. The resource kinds differ only in their source strategy:
//
//   - Collection: a query result set, with optimistic Add.
//   - Document: one document, addressed directly or found by a query.
//   - Aggregate: count/sum/avg over a query, fetch only.
//   - Node and NodeList: a key or the children of a prefix in a kvstore.
//
// Unresolved references are not errors. A path function that returns ""
// leaves the resource without a reference; its data reads as null and
// mutations are logged no-ops. Backend failures on the background path are
// logged and reported through Options.OnError; failures of explicit calls
// (Refetch, Add, Save, ...) are returned to the caller and never retried.
package state
