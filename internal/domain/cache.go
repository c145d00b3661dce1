package domain

// DocumentCache defines the cache surface the lookup service relies on
type DocumentCache interface {
	// Fetch returns the cached document or loads and stores it on a miss
	Fetch(key string, loadFn func() (Document, error)) (Document, error)

	// Set stores a document under the given key with the default TTL
	Set(key string, value Document) error

	// Del removes a document from the cache by key
	Del(key string) error

	// Flush discards every cached document
	Flush() error

	// Keys lists the live cache keys in canonical order
	Keys() ([]string, error)
}
