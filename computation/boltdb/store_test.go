package boltdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duchynet/duchy/computation"
	"github.com/duchynet/duchy/log"
)

func newStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(context.Background(), log.DefaultLogger(), t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitSketchesToken(t *testing.T, s *BoltStore, id string, role computation.Role) *computation.Token {
	t.Helper()
	ctx := context.Background()
	tok := computation.NewToken(id, 7, role, []string{"duchy-b", "duchy-c"})
	tok.Stage = computation.StageWaitSketches
	tok.Slots = computation.SlotsForStage(computation.StageWaitSketches, tok.Peers, nil)
	require.NoError(t, s.Create(ctx, tok))
	got, err := s.GetToken(ctx, id)
	require.NoError(t, err)
	return got
}

func TestBoltStoreCreateAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.GetToken(ctx, "missing")
	require.ErrorIs(t, err, computation.ErrNotFound)

	tok := computation.NewToken("C1", 7, computation.RolePrimary, []string{"duchy-b"})
	require.NoError(t, s.Create(ctx, tok))
	require.ErrorIs(t, s.Create(ctx, tok), computation.ErrAlreadyExists)

	got, err := s.GetToken(ctx, "C1")
	require.NoError(t, err)
	require.Equal(t, tok.GlobalID, got.GlobalID)
	require.Equal(t, tok.Version, got.Version)
	require.Equal(t, tok.Role, got.Role)
}

func TestBoltStoreFillSlotWriteOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	tok := waitSketchesToken(t, s, "C1", computation.RolePrimary)

	updated, err := s.FillSlot(ctx, tok, 0, "7/WAIT_SKETCHES/duchy-b/abc")
	require.NoError(t, err)
	require.Equal(t, tok.Version+1, updated.Version)
	require.Equal(t, "7/WAIT_SKETCHES/duchy-b/abc", updated.Slots[0].Path)
	require.Equal(t, 1, updated.Remaining())

	// second write to the same slot must be detected
	_, err = s.FillSlot(ctx, updated, 0, "7/WAIT_SKETCHES/duchy-b/other")
	require.ErrorIs(t, err, computation.ErrSlotFilled)

	// a stale token must never overwrite the committed state
	_, err = s.FillSlot(ctx, tok, 1, "7/WAIT_SKETCHES/duchy-c/xyz")
	require.ErrorIs(t, err, computation.ErrVersionMismatch)
	got, err := s.GetToken(ctx, "C1")
	require.NoError(t, err)
	require.Empty(t, got.Slots[1].Path)

	_, err = s.FillSlot(ctx, updated, 5, "nope")
	require.ErrorIs(t, err, computation.ErrNoSuchSlot)
}

func TestBoltStoreTransition(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	tok := waitSketchesToken(t, s, "C1", computation.RolePrimary)

	tok, err := s.FillSlot(ctx, tok, 0, "p0")
	require.NoError(t, err)
	tok, err = s.FillSlot(ctx, tok, 1, "p1")
	require.NoError(t, err)

	next, err := s.Transition(ctx, tok, computation.StageToAppendSketchesAndAddNoise, tok.OutputPaths())
	require.NoError(t, err)
	require.Equal(t, computation.StageToAppendSketchesAndAddNoise, next.Stage)
	require.Equal(t, tok.Version+1, next.Version)
	// two inputs carried over plus the stage's single output
	require.Len(t, next.Slots, 3)
	require.Equal(t, 1, next.Remaining())

	// replaying the transition with the old token is a conflict, not an
	// overwrite
	_, err = s.Transition(ctx, tok, computation.StageToAppendSketchesAndAddNoise, tok.OutputPaths())
	require.ErrorIs(t, err, computation.ErrVersionMismatch)

	// moves outside the stage machine are rejected
	_, err = s.Transition(ctx, next, computation.StageCompleted, nil)
	require.ErrorIs(t, err, computation.ErrInvalidTransition)
}

func TestBoltStoreVersionStrictlyIncreases(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	tok := waitSketchesToken(t, s, "C1", computation.RoleSecondary)

	last := tok.Version
	tok, err := s.FillSlot(ctx, tok, 0, "p0")
	require.NoError(t, err)
	require.Greater(t, tok.Version, last)

	last = tok.Version
	tok, err = s.FillSlot(ctx, tok, 1, "p1")
	require.NoError(t, err)
	require.Greater(t, tok.Version, last)

	last = tok.Version
	tok, err = s.Transition(ctx, tok, computation.StageToAppendSketchesAndAddNoise, tok.OutputPaths())
	require.NoError(t, err)
	require.Greater(t, tok.Version, last)
}

func TestBoltStoreNextLocalID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first, err := s.NextLocalID(ctx)
	require.NoError(t, err)
	second, err := s.NextLocalID(ctx)
	require.NoError(t, err)
	require.Greater(t, second, first)
}

func TestBoltStoreInStages(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	waitSketchesToken(t, s, "C1", computation.RolePrimary)
	waitSketchesToken(t, s, "C2", computation.RoleSecondary)
	tok := computation.NewToken("C3", 9, computation.RolePrimary, nil)
	require.NoError(t, s.Create(ctx, tok))

	toks, err := s.InStages(ctx, computation.StageWaitSketches)
	require.NoError(t, err)
	require.Len(t, toks, 2)

	toks, err = s.InStages(ctx, computation.StageCreated)
	require.NoError(t, err)
	require.Len(t, toks, 1)
	require.Equal(t, "C3", toks[0].GlobalID)

	toks, err = s.InStages(ctx, computation.StageCompleted)
	require.NoError(t, err)
	require.Empty(t, toks)
}
