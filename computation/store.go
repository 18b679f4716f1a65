package computation

import "context"

// TokenStore is the durable home of computation tokens. Implementations must
// provide optimistic concurrency: every mutation carries the token the caller
// read, and commits only if its Version still matches the stored row. On a
// successful commit the stored Version strictly increases.
type TokenStore interface {
	// GetToken returns the current token for a computation, or ErrNotFound.
	GetToken(ctx context.Context, globalID string) (*Token, error)

	// Create admits a new computation. Returns ErrAlreadyExists when a token
	// with the same global id is present.
	Create(ctx context.Context, token *Token) error

	// FillSlot records the blob path for the slot at the given index. Slots
	// are write-once: a slot that already holds a path yields ErrSlotFilled.
	// A stale token yields ErrVersionMismatch. Returns the updated token.
	FillSlot(ctx context.Context, token *Token, slot int, path string) (*Token, error)

	// Transition atomically moves the computation to the next stage, carrying
	// inputPaths into the new stage's input slots and creating the output
	// slots the new stage waits on. A stale token yields ErrVersionMismatch,
	// a move outside the stage machine ErrInvalidTransition. Returns the
	// updated token.
	Transition(ctx context.Context, token *Token, next Stage, inputPaths []string) (*Token, error)

	// InStages lists the tokens currently sitting in any of the given stages.
	InStages(ctx context.Context, stages ...Stage) ([]*Token, error)

	// NextLocalID reserves a fresh store-local numeric id for a computation.
	NextLocalID(ctx context.Context) (uint64, error)

	Close() error
}
