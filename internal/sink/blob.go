package sink

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by BlobStore.Get for a missing key.
var ErrNotFound = eris.New("sink: object not found")

// BlobStore is a flat key/value object namespace with "/"-separated keys.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every key under prefix, recursively.
	List(ctx context.Context, prefix string) ([]string, error)
}
