package core

import (
	"context"
	gonet "net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duchynet/duchy/computation"
	"github.com/duchynet/duchy/mill/milltesting"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := gonet.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func startDaemon(t *testing.T, self string, ring *Ring) *Daemon {
	t.Helper()
	ctx := context.Background()

	me, err := ring.Find(self)
	require.NoError(t, err)

	cfg := NewConfig(self, ring,
		WithConfigFolder(t.TempDir()),
		WithListenAddress(me.Address),
		WithInsecure(),
		WithCryptoWorker(&milltesting.FakeCrypto{}),
		WithPollInterval(50*time.Millisecond),
	)
	d, err := NewDaemon(ctx, cfg)
	require.NoError(t, err)
	d.Start(ctx)
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, d.Stop(stopCtx))
	})
	return d
}

func stageOf(t *testing.T, d *Daemon, id string) computation.Stage {
	t.Helper()
	tok, err := d.Tokens().GetToken(context.Background(), id)
	if err != nil {
		return computation.StageUnknown
	}
	return tok.Stage
}

// Two duchies run the whole protocol against each other over real gRPC: both
// admit their sketch, the mills and control services bounce the artifacts
// around the ring until both computations complete.
func TestTwoDuchiesRunTheProtocol(t *testing.T) {
	ring := &Ring{
		Aggregator: "duchy-a",
		Duchies: []*DuchyInfo{
			{Name: "duchy-a", Address: freeAddr(t)},
			{Name: "duchy-b", Address: freeAddr(t)},
		},
	}
	require.NoError(t, ring.Validate())

	a := startDaemon(t, "duchy-a", ring)
	b := startDaemon(t, "duchy-b", ring)

	ctx := context.Background()
	tokA, err := a.Admit(ctx, "C1", []byte("sa"))
	require.NoError(t, err)
	require.Equal(t, computation.RolePrimary, tokA.Role)
	require.Equal(t, computation.StageToAddNoise, tokA.Stage)

	tokB, err := b.Admit(ctx, "C1", []byte("sb"))
	require.NoError(t, err)
	require.Equal(t, computation.RoleSecondary, tokB.Role)

	require.Eventually(t, func() bool {
		return stageOf(t, a, "C1") == computation.StageCompleted &&
			stageOf(t, b, "C1") == computation.StageCompleted
	}, 20*time.Second, 50*time.Millisecond)

	// the aggregator holds the final metrics
	final, err := a.Tokens().GetToken(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, final.InputPaths(), 1)

	metrics, err := a.Blobs().Read(ctx, final.InputPaths()[0])
	require.NoError(t, err)
	want := "metrics(decrypted(joined(blinded(concat(noised(sa)|noised(sb))))))"
	require.Equal(t, want, string(metrics))
}

func TestAdmitRejectsDuplicates(t *testing.T) {
	ring := &Ring{
		Aggregator: "duchy-a",
		Duchies: []*DuchyInfo{
			{Name: "duchy-a", Address: freeAddr(t)},
			{Name: "duchy-b", Address: "127.0.0.1:1"},
		},
	}

	d := startDaemon(t, "duchy-a", ring)
	ctx := context.Background()

	_, err := d.Admit(ctx, "C1", []byte("sa"))
	require.NoError(t, err)
	_, err = d.Admit(ctx, "C1", []byte("sa"))
	require.ErrorIs(t, err, computation.ErrAlreadyExists)

	_, err = d.Admit(ctx, "C2", nil)
	require.Error(t, err)
}
