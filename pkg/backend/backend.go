package backend

import "context"

// Entry is one (collection, key, value) triple in a multi-key write.
type Entry struct {
	Collection string
	Key        string
	Value      []byte
}

// Store is the uniform key/collection contract shared by every state
// manager. A collection is a flat namespace of string keys; values are
// opaque bytes. The single-process Memory variant and the shared Redis
// variant implement the same contract, so the managers built on top never
// branch on which one they were given.
type Store interface {
	// Get returns the value stored under (collection, key), or ErrNotFound.
	Get(ctx context.Context, collection, key string) ([]byte, error)

	// Set stores value under (collection, key), overwriting any previous value.
	Set(ctx context.Context, collection, key string, value []byte) error

	// SetMulti stores every entry as one atomic step: a concurrent reader
	// on any process sees either none of the writes or all of them. The
	// save path depends on this to update a saved copy and its dirty flag
	// together.
	SetMulti(ctx context.Context, entries ...Entry) error

	// Delete removes (collection, key). Deleting an absent key is not an error.
	Delete(ctx context.Context, collection, key string) error

	// Keys enumerates every key in the collection. Only the reset/bootstrap
	// path uses this; it is not a hot-path operation.
	Keys(ctx context.Context, collection string) ([]string, error)

	// ResetPrefix deletes every key in the collection that starts with
	// prefix. The deletion itself is a single atomic step: a concurrent
	// reader sees either all of the keys or none of them.
	ResetPrefix(ctx context.Context, collection, prefix string) error
}
