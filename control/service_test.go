package control

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/duchynet/duchy/blob/memblob"
	"github.com/duchynet/duchy/computation"
	"github.com/duchynet/duchy/computation/boltdb"
	"github.com/duchynet/duchy/log"
	"github.com/duchynet/duchy/net"
)

// fakeStream feeds a fixed frame sequence into the service the way a gRPC
// client stream would.
type fakeStream struct {
	grpc.ServerStream
	frames []*net.ProcessRequest
	i      int
	acked  bool
}

func (f *fakeStream) Context() context.Context { return context.Background() }

func (f *fakeStream) Recv() (*net.ProcessRequest, error) {
	if f.i >= len(f.frames) {
		return nil, io.EOF
	}
	r := f.frames[f.i]
	f.i++
	return r, nil
}

func (f *fakeStream) SendAndClose(*emptypb.Empty) error {
	f.acked = true
	return nil
}

func sketchStream(id, sender string, content []byte) *fakeStream {
	return &fakeStream{frames: []*net.ProcessRequest{
		{Header: &net.ProcessRequestHeader{
			ComputationID: id,
			Kind:          computation.ArtifactNoisedSketch,
			Sender:        sender,
		}},
		{Chunk: content},
	}}
}

func singleOutputStream(id string, kind computation.ArtifactKind, content []byte) *fakeStream {
	return &fakeStream{frames: []*net.ProcessRequest{
		{Header: &net.ProcessRequestHeader{ComputationID: id, Kind: kind}},
		{Chunk: content},
	}}
}

type fixture struct {
	service *Service
	tokens  *boltdb.BoltStore
	blobs   *memblob.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := boltdb.NewBoltStore(context.Background(), log.DefaultLogger(), t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tokens.Close() })

	blobs := memblob.NewStore()
	return &fixture{
		service: NewService(log.DefaultLogger(), tokens, blobs),
		tokens:  tokens,
		blobs:   blobs,
	}
}

func (f *fixture) admit(t *testing.T, id string, role computation.Role, stage computation.Stage, peers []string) *computation.Token {
	t.Helper()
	tok := computation.NewToken(id, 7, role, peers)
	tok.Stage = stage
	tok.Slots = computation.SlotsForStage(stage, peers, nil)
	require.NoError(t, f.tokens.Create(context.Background(), tok))
	return tok
}

func (f *fixture) token(t *testing.T, id string) *computation.Token {
	t.Helper()
	tok, err := f.tokens.GetToken(context.Background(), id)
	require.NoError(t, err)
	return tok
}

// The end to end scenario: a secondary in WAIT_SKETCHES with two expected
// peers, contributions arriving one by one, then a duplicate after the
// transition.
func TestProcessNoisedSketchFanIn(t *testing.T) {
	f := newFixture(t)
	f.admit(t, "C1", computation.RoleSecondary, computation.StageWaitSketches, []string{"A", "B"})

	// first contribution: slot filled, stage unchanged
	st := sketchStream("C1", "A", []byte("abc"))
	require.NoError(t, f.service.ProcessNoisedSketch(st))
	require.True(t, st.acked)

	tok := f.token(t, "C1")
	require.Equal(t, computation.StageWaitSketches, tok.Stage)
	require.Equal(t, 1, tok.Remaining())
	require.Equal(t, 1, f.blobs.Len())

	// second contribution completes the fan-in
	st = sketchStream("C1", "B", []byte("xyz"))
	require.NoError(t, f.service.ProcessNoisedSketch(st))
	require.True(t, st.acked)

	tok = f.token(t, "C1")
	require.Equal(t, computation.StageToAppendSketchesAndAddNoise, tok.Stage)
	require.Len(t, tok.InputPaths(), 2)
	require.Equal(t, 2, f.blobs.Len())

	// re-delivery of A's sketch after the transition: downstream, no write
	st = sketchStream("C1", "A", []byte("abc"))
	require.NoError(t, f.service.ProcessNoisedSketch(st))
	require.True(t, st.acked)

	tok = f.token(t, "C1")
	require.Equal(t, computation.StageToAppendSketchesAndAddNoise, tok.Stage)
	require.Equal(t, 2, f.blobs.Len())
}

// Delivering the same artifact twice while still in the receiving stage
// results in exactly one blob write and a successful second ack.
func TestProcessNoisedSketchIdempotent(t *testing.T) {
	f := newFixture(t)
	f.admit(t, "C1", computation.RolePrimary, computation.StageWaitSketches, []string{"A", "B"})

	require.NoError(t, f.service.ProcessNoisedSketch(sketchStream("C1", "A", []byte("abc"))))
	st := sketchStream("C1", "A", []byte("abc"))
	require.NoError(t, f.service.ProcessNoisedSketch(st))
	require.True(t, st.acked)

	require.Equal(t, 1, f.blobs.Len())
	tok := f.token(t, "C1")
	require.Equal(t, computation.StageWaitSketches, tok.Stage)
	require.Equal(t, 1, tok.Remaining())
}

// For all arrival orders of the expected contributions the final state is
// identical.
func TestProcessNoisedSketchAnyOrder(t *testing.T) {
	orders := [][]string{
		{"A", "B", "C"},
		{"C", "B", "A"},
		{"B", "A", "C"},
	}
	for _, order := range orders {
		f := newFixture(t)
		f.admit(t, "C1", computation.RolePrimary, computation.StageWaitSketches, []string{"A", "B", "C"})
		for _, sender := range order {
			require.NoError(t, f.service.ProcessNoisedSketch(
				sketchStream("C1", sender, []byte("sketch-"+sender))))
		}
		tok := f.token(t, "C1")
		require.Equal(t, computation.StageToAppendSketchesAndAddNoise, tok.Stage)
		require.Len(t, tok.InputPaths(), 3)
		require.Equal(t, 3, f.blobs.Len())
	}
}

// A primary and a secondary receiving the same concatenated sketch move to
// their distinct next stages.
func TestProcessConcatenatedSketchRoleBranching(t *testing.T) {
	cases := []struct {
		role computation.Role
		next computation.Stage
	}{
		{computation.RolePrimary, computation.StageToBlindPositionsAndJoinRegisters},
		{computation.RoleSecondary, computation.StageToBlindPositions},
	}
	for _, tc := range cases {
		f := newFixture(t)
		f.admit(t, "C1", tc.role, computation.StageWaitConcatenated, []string{"A"})

		st := singleOutputStream("C1", computation.ArtifactConcatenatedSketch, []byte("concat"))
		require.NoError(t, f.service.ProcessConcatenatedSketch(st))
		require.True(t, st.acked)

		require.Equal(t, tc.next, f.token(t, "C1").Stage, tc.role.String())
	}
}

func TestProcessFlagsAndCountsRoleBranching(t *testing.T) {
	cases := []struct {
		role computation.Role
		next computation.Stage
	}{
		{computation.RolePrimary, computation.StageToDecryptFlagCountsAndComputeMetrics},
		{computation.RoleSecondary, computation.StageToDecryptFlagCounts},
	}
	for _, tc := range cases {
		f := newFixture(t)
		f.admit(t, "C1", tc.role, computation.StageWaitFlagCounts, []string{"A"})

		st := singleOutputStream("C1", computation.ArtifactFlagsAndCounts, []byte("flags"))
		require.NoError(t, f.service.ProcessEncryptedFlagsAndCounts(st))

		require.Equal(t, tc.next, f.token(t, "C1").Stage, tc.role.String())
	}
}

// An artifact arriving in a stage outside both the expected and downstream
// sets is a protocol violation and mutates nothing.
func TestProcessRejectsUnexpectedStage(t *testing.T) {
	f := newFixture(t)
	f.admit(t, "C1", computation.RolePrimary, computation.StageWaitFlagCounts, []string{"A"})

	st := sketchStream("C1", "A", []byte("abc"))
	err := f.service.ProcessNoisedSketch(st)
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
	require.False(t, st.acked)

	require.Zero(t, f.blobs.Len())
	tok := f.token(t, "C1")
	require.Equal(t, computation.StageWaitFlagCounts, tok.Stage)
	require.Equal(t, 1, tok.Remaining())
}

func TestProcessUnknownComputation(t *testing.T) {
	f := newFixture(t)
	err := f.service.ProcessNoisedSketch(sketchStream("nope", "A", []byte("abc")))
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestProcessUnknownSender(t *testing.T) {
	f := newFixture(t)
	f.admit(t, "C1", computation.RolePrimary, computation.StageWaitSketches, []string{"A"})

	err := f.service.ProcessNoisedSketch(sketchStream("C1", "Z", []byte("abc")))
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
	require.Zero(t, f.blobs.Len())
}

func TestProcessViolations(t *testing.T) {
	f := newFixture(t)
	f.admit(t, "C1", computation.RolePrimary, computation.StageWaitSketches, []string{"A"})

	// no frames at all
	err := f.service.ProcessNoisedSketch(&fakeStream{})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	// missing computation id
	err = f.service.ProcessNoisedSketch(sketchStream("", "A", []byte("abc")))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	// header only, no body
	st := &fakeStream{frames: []*net.ProcessRequest{
		{Header: &net.ProcessRequestHeader{ComputationID: "C1", Sender: "A"}},
	}}
	err = f.service.ProcessNoisedSketch(st)
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	// artifact kind not matching the stream it arrived on
	st = &fakeStream{frames: []*net.ProcessRequest{
		{Header: &net.ProcessRequestHeader{
			ComputationID: "C1",
			Kind:          computation.ArtifactFlagsAndCounts,
			Sender:        "A",
		}},
		{Chunk: []byte("abc")},
	}}
	err = f.service.ProcessNoisedSketch(st)
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	require.Zero(t, f.blobs.Len())
}

// conflictStore makes the first Transition attempt lose against a concurrent
// writer that already advanced the stage.
type conflictStore struct {
	computation.TokenStore
	raced bool
}

func (c *conflictStore) Transition(ctx context.Context, tok *computation.Token, next computation.Stage, inputs []string) (*computation.Token, error) {
	if !c.raced {
		c.raced = true
		// the concurrent winner commits first
		if _, err := c.TokenStore.Transition(ctx, tok, next, inputs); err != nil {
			return nil, err
		}
		return nil, computation.ErrVersionMismatch
	}
	return c.TokenStore.Transition(ctx, tok, next, inputs)
}

// Losing the transition race is absorbed as success: the delivery still acks
// and the committed state is the one the winner wrote.
func TestTransitionConflictIsBenign(t *testing.T) {
	f := newFixture(t)
	f.admit(t, "C1", computation.RoleSecondary, computation.StageWaitConcatenated, []string{"A"})

	cs := &conflictStore{TokenStore: f.tokens}
	svc := NewService(log.DefaultLogger(), cs, f.blobs)

	st := singleOutputStream("C1", computation.ArtifactConcatenatedSketch, []byte("concat"))
	require.NoError(t, svc.ProcessConcatenatedSketch(st))
	require.True(t, st.acked)
	require.True(t, cs.raced)

	require.Equal(t, computation.StageToBlindPositions, f.token(t, "C1").Stage)
}

// raceyFillStore fails the first FillSlot with a stale version while another
// writer fills a different slot, forcing the re-fetch and re-evaluate loop.
type raceyFillStore struct {
	computation.TokenStore
	raced bool
}

func (r *raceyFillStore) FillSlot(ctx context.Context, tok *computation.Token, slot int, path string) (*computation.Token, error) {
	if !r.raced {
		r.raced = true
		other, err := r.TokenStore.GetToken(ctx, tok.GlobalID)
		if err != nil {
			return nil, err
		}
		otherSlot := (slot + 1) % len(other.Slots)
		if _, err := r.TokenStore.FillSlot(ctx, other, otherSlot, "racer/path"); err != nil {
			return nil, err
		}
		return nil, computation.ErrVersionMismatch
	}
	return r.TokenStore.FillSlot(ctx, tok, slot, path)
}

func TestFillSlotConflictRetries(t *testing.T) {
	f := newFixture(t)
	f.admit(t, "C1", computation.RoleSecondary, computation.StageWaitSketches, []string{"A", "B"})

	rs := &raceyFillStore{TokenStore: f.tokens}
	svc := NewService(log.DefaultLogger(), rs, f.blobs)

	st := sketchStream("C1", "A", []byte("abc"))
	require.NoError(t, svc.ProcessNoisedSketch(st))
	require.True(t, st.acked)

	// both slots ended up filled: the racer's and ours, so the fan-in
	// completed and the stage advanced
	tok := f.token(t, "C1")
	require.Equal(t, computation.StageToAppendSketchesAndAddNoise, tok.Stage)
}

func TestGetComputationToken(t *testing.T) {
	f := newFixture(t)
	f.admit(t, "C1", computation.RolePrimary, computation.StageWaitSketches, []string{"A"})

	resp, err := f.service.GetComputationToken(context.Background(), &net.GetTokenRequest{
		ComputationID: "C1",
		Protocol:      computation.LiquidLegionsV1,
	})
	require.NoError(t, err)
	require.Equal(t, "C1", resp.Token.GlobalID)
	require.Equal(t, computation.StageWaitSketches, resp.Token.Stage)

	_, err = f.service.GetComputationToken(context.Background(), &net.GetTokenRequest{ComputationID: "nope"})
	require.Equal(t, codes.NotFound, status.Code(err))

	_, err = f.service.GetComputationToken(context.Background(), &net.GetTokenRequest{})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}
