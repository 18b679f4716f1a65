// Package computation holds the types describing a single multi-party
// computation as seen by one duchy: its versioned token, the per-protocol
// stage machine and the blob slot accounting used to decide when a stage has
// received everything it is waiting for.
package computation

// Protocol identifies the finite stage set a computation runs under. Each
// protocol defines its own stages; tokens of different protocols never mix.
type Protocol uint32

const (
	ProtocolUnknown Protocol = iota
	// LiquidLegionsV1 is the liquid legions sketch aggregation protocol.
	LiquidLegionsV1
)

func (p Protocol) String() string {
	switch p {
	case LiquidLegionsV1:
		return "LIQUID_LEGIONS_SKETCH_AGGREGATION_V1"
	default:
		return "UNKNOWN_PROTOCOL"
	}
}

// Role is the duchy's role in a computation, fixed for its lifetime. The
// primary duchy is the aggregation point and does strictly more work at every
// fan-in stage.
type Role uint32

const (
	RoleUnknown Role = iota
	RolePrimary
	RoleSecondary
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "PRIMARY"
	case RoleSecondary:
		return "SECONDARY"
	default:
		return "UNKNOWN"
	}
}

// SlotKind says whether a blob slot is an input to the current stage or an
// artifact the stage is still waiting to receive or produce.
type SlotKind uint32

const (
	SlotInput SlotKind = iota
	SlotOutput
)

// BlobSlot references one expected artifact of the current stage. An empty
// Path means the artifact has not been written yet; a slot goes from empty to
// non-empty exactly once and is never cleared.
type BlobSlot struct {
	Kind SlotKind `json:"kind"`
	// Label identifies the peer a slot belongs to for fan-in stages, and is
	// empty for single-output stages.
	Label string `json:"label"`
	Path  string `json:"path"`
}

// Token is the snapshot of a computation's state held by the token store.
// Every mutation must present the Version it read; the store rejects stale
// versions, which is the only concurrency control this package relies on.
type Token struct {
	GlobalID string   `json:"global_id"`
	LocalID  uint64   `json:"local_id"`
	Protocol Protocol `json:"protocol"`
	Stage    Stage    `json:"stage"`
	Role     Role     `json:"role"`
	Version  uint64   `json:"version"`
	// Peers are the other duchies taking part, in ring order. Set at
	// admission, immutable afterwards.
	Peers []string   `json:"peers"`
	Slots []BlobSlot `json:"slots"`
}

// NewToken returns the token of a freshly admitted computation.
func NewToken(globalID string, localID uint64, role Role, peers []string) *Token {
	return &Token{
		GlobalID: globalID,
		LocalID:  localID,
		Protocol: LiquidLegionsV1,
		Stage:    StageCreated,
		Role:     role,
		Version:  1,
		Peers:    peers,
		Slots:    SlotsForStage(StageCreated, peers, nil),
	}
}

// Clone returns a deep copy so callers can hand tokens across goroutines
// without sharing the slot slice.
func (t *Token) Clone() *Token {
	c := *t
	c.Peers = append([]string(nil), t.Peers...)
	c.Slots = append([]BlobSlot(nil), t.Slots...)
	return &c
}

// OutputSlot returns the index of the stage's single output slot. It fails
// when the stage has zero or several output slots, since "the" output is then
// meaningless.
func (t *Token) OutputSlot() (int, error) {
	found := -1
	for i, s := range t.Slots {
		if s.Kind != SlotOutput {
			continue
		}
		if found >= 0 {
			return 0, ErrNoSingleOutput
		}
		found = i
	}
	if found < 0 {
		return 0, ErrNoSingleOutput
	}
	return found, nil
}

// SlotFor returns the index of the output slot labelled with the given peer.
func (t *Token) SlotFor(label string) (int, error) {
	for i, s := range t.Slots {
		if s.Kind == SlotOutput && s.Label == label {
			return i, nil
		}
	}
	return 0, ErrNoSuchSlot
}

// Remaining is the number of slots whose artifact has not arrived yet. It is
// always computed from the token snapshot at hand, never from a cached
// counter: the token is the single source of truth under concurrent writers.
func (t *Token) Remaining() int {
	n := 0
	for _, s := range t.Slots {
		if s.Path == "" {
			n++
		}
	}
	return n
}

// OutputPaths returns the paths of the filled output slots, in slot order.
// Once Remaining is zero these are the inputs carried into the next stage.
func (t *Token) OutputPaths() []string {
	var paths []string
	for _, s := range t.Slots {
		if s.Kind == SlotOutput && s.Path != "" {
			paths = append(paths, s.Path)
		}
	}
	return paths
}

// InputPaths returns the paths of the current stage's input slots.
func (t *Token) InputPaths() []string {
	var paths []string
	for _, s := range t.Slots {
		if s.Kind == SlotInput {
			paths = append(paths, s.Path)
		}
	}
	return paths
}

// SlotsForStage builds the slot table a token carries while in the given
// stage: one input slot per carried-over path, plus the output slots the
// stage waits on. WAIT_SKETCHES fans in one artifact per peer; the other
// non-terminal stages produce or await a single artifact.
func SlotsForStage(stage Stage, peers, inputPaths []string) []BlobSlot {
	var slots []BlobSlot
	for _, p := range inputPaths {
		slots = append(slots, BlobSlot{Kind: SlotInput, Path: p})
	}
	switch {
	case stage == StageWaitSketches:
		for _, peer := range peers {
			slots = append(slots, BlobSlot{Kind: SlotOutput, Label: peer})
		}
	case stage == StageCompleted:
		// terminal, nothing further expected
	default:
		slots = append(slots, BlobSlot{Kind: SlotOutput})
	}
	return slots
}
