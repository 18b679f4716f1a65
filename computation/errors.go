package computation

import "errors"

var (
	// ErrNotFound is returned when no token exists for a computation id.
	ErrNotFound = errors.New("computation not found")

	// ErrVersionMismatch is returned when a mutation presents a token version
	// the store has already moved past. The caller must re-fetch and
	// re-evaluate; whether the mutation is still wanted may have changed.
	ErrVersionMismatch = errors.New("token version mismatch")

	// ErrSlotFilled is returned on an attempt to fill a slot that already
	// holds a path. Slots are write-once.
	ErrSlotFilled = errors.New("blob slot already filled")

	// ErrNoSuchSlot is returned when no output slot matches the requested
	// peer label.
	ErrNoSuchSlot = errors.New("no blob slot for sender")

	// ErrNoSingleOutput is returned when a stage does not have exactly one
	// output slot and a caller asked for "the" output.
	ErrNoSingleOutput = errors.New("stage does not have a single output slot")

	// ErrInvalidTransition is returned when a transition is not in the stage
	// machine for the token's role.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrUnknownRole is a configuration fault: a token with a role outside
	// the known set. Never retried.
	ErrUnknownRole = errors.New("unknown role in computation")

	// ErrUnknownArtifact is returned for artifact kinds outside the protocol.
	ErrUnknownArtifact = errors.New("unknown artifact kind")

	// ErrAlreadyExists is returned when admitting a computation id twice.
	ErrAlreadyExists = errors.New("computation already exists")
)
