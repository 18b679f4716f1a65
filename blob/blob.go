// Package blob defines the content-addressable store that holds the
// encrypted artifacts exchanged between duchies, and the path scheme used to
// address them.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/duchynet/duchy/computation"
)

// ErrNotFound is returned when reading a path nothing was written to.
var ErrNotFound = errors.New("blob not found")

// Store is a write-once artifact store. Writes are atomic: a partially
// written blob is never observable under its path.
type Store interface {
	// Write stores the full content under the given path.
	Write(ctx context.Context, path string, content io.Reader) error
	// Read returns the content stored under path, or ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)
	Close() error
}

// NewPath builds the storage path for an artifact about to be written:
// localId/stage/name/randomId. The random disambiguator keeps retried writes
// from colliding; the slot in the token store records which write won.
func NewPath(token *computation.Token, name string) string {
	return fmt.Sprintf("%d/%s/%s/%s", token.LocalID, token.Stage, name, uuid.NewString())
}
