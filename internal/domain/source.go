package domain

import "context"

// DocumentSource defines the interface for the slow backing store documents
// are loaded from on a cache miss
type DocumentSource interface {
	// Load retrieves a document by ID
	Load(ctx context.Context, id string) (Document, error)
}
