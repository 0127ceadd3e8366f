package docstore

import "context"

// Unsubscribe cancels a watch. It is idempotent.
type Unsubscribe func()

// Store is the minimal capability set the resource adapters depend on.
//
// Implementations must be safe for concurrent use. Reads return snapshots
// that the caller owns; mutating them never affects stored state.
type Store interface {
	// GetDoc reads one document. A missing document is not an error: the
	// snapshot has Exists == false.
	GetDoc(ctx context.Context, ref DocRef) (DocumentSnapshot, error)

	// GetDocs runs a query once.
	GetDocs(ctx context.Context, q Query) (QuerySnapshot, error)

	// WatchDoc calls fn with the document's initial state and after every
	// change until the returned Unsubscribe is called.
	WatchDoc(ctx context.Context, ref DocRef, fn func(DocumentSnapshot)) (Unsubscribe, error)

	// WatchQuery calls fn with the query's initial result set and after
	// every change to it until the returned Unsubscribe is called.
	WatchQuery(ctx context.Context, q Query, fn func(QuerySnapshot)) (Unsubscribe, error)

	// SetMerge upserts a document, deep-merging fields into what is stored.
	SetMerge(ctx context.Context, ref DocRef, fields Fields) error

	// Add creates a document with a store-generated id.
	Add(ctx context.Context, c CollectionRef, fields Fields) (DocRef, error)

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, ref DocRef) error

	// Aggregate computes the aggregations in spec over the query's results.
	Aggregate(ctx context.Context, q Query, spec AggregateSpec) (AggregateResult, error)

	// Close releases resources and cancels all watches.
	Close() error
}
