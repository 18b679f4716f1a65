package net

import (
	"bytes"
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/duchynet/duchy/computation"
	"github.com/duchynet/duchy/log"
	"github.com/duchynet/duchy/metrics"
)

// DefaultChunkSize is the size of the content frames an artifact is split
// into when streamed to a peer.
const DefaultChunkSize = 1 << 20

// ProcessClient is the client view of one outbound artifact stream.
type ProcessClient interface {
	Send(*ProcessRequest) error
	CloseAndRecv() (*emptypb.Empty, error)
	grpc.ClientStream
}

type processClient struct {
	grpc.ClientStream
}

func (x *processClient) Send(m *ProcessRequest) error {
	return x.ClientStream.SendMsg(m)
}

func (x *processClient) CloseAndRecv() (*emptypb.Empty, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(emptypb.Empty)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

var methodByKind = map[computation.ArtifactKind]int{
	computation.ArtifactNoisedSketch:       0,
	computation.ArtifactConcatenatedSketch: 1,
	computation.ArtifactFlagsAndCounts:     2,
}

// ControlClient holds the outbound connections to peer duchies. Connections
// are created lazily and reused.
type ControlClient struct {
	sync.Mutex
	conns     map[string]*grpc.ClientConn
	dialOpts  []grpc.DialOption
	chunkSize int

	log log.Logger
}

// NewControlClient returns a client with no active connections.
func NewControlClient(l log.Logger, opts ...grpc.DialOption) *ControlClient {
	return &ControlClient{
		conns:     make(map[string]*grpc.ClientConn),
		dialOpts:  opts,
		chunkSize: DefaultChunkSize,
		log:       l,
	}
}

func (c *ControlClient) conn(p Peer) (*grpc.ClientConn, error) {
	c.Lock()
	defer c.Unlock()

	if conn, ok := c.conns[p.Address()]; ok {
		return conn, nil
	}

	opts := append([]grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, c.dialOpts...)
	if p.IsTLS() {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
	} else {
		opts = append(opts, grpc.WithInsecure())
	}

	conn, err := grpc.Dial(p.Address(), opts...)
	if err != nil {
		metrics.PeerDialFailures.WithLabelValues(p.Address()).Inc()
		return nil, err
	}
	c.conns[p.Address()] = conn
	return conn, nil
}

// SendArtifact streams one artifact to a peer: a header frame followed by
// the content split into chunk frames, then waits for the ack. Empty content
// is rejected locally, the protocol never carries empty artifacts.
func (c *ControlClient) SendArtifact(ctx context.Context, p Peer, header *ProcessRequestHeader, content []byte) error {
	if len(content) == 0 {
		return ErrEmptyArtifact
	}
	idx, ok := methodByKind[header.Kind]
	if !ok {
		return computation.ErrUnknownArtifact
	}

	conn, err := c.conn(p)
	if err != nil {
		return err
	}

	desc := &Control_ServiceDesc.Streams[idx]
	method := "/" + controlServiceName + "/" + desc.StreamName
	cs, err := conn.NewStream(ctx, desc, method)
	if err != nil {
		return err
	}
	stream := &processClient{cs}

	if err := stream.Send(&ProcessRequest{Header: header}); err != nil {
		return err
	}
	buf := bytes.NewBuffer(content)
	for buf.Len() > 0 {
		if err := stream.Send(&ProcessRequest{Chunk: buf.Next(c.chunkSize)}); err != nil {
			return err
		}
	}

	_, err = stream.CloseAndRecv()
	if err != nil {
		c.log.Errorw("artifact rejected by peer",
			"peer", p.Address(), "kind", header.Kind.String(), "id", header.ComputationID, "err", err)
	}
	return err
}

// GetComputationToken fetches the token a peer holds for a computation.
func (c *ControlClient) GetComputationToken(ctx context.Context, p Peer, in *GetTokenRequest) (*GetTokenResponse, error) {
	conn, err := c.conn(p)
	if err != nil {
		return nil, err
	}
	out := new(GetTokenResponse)
	method := "/" + controlServiceName + "/GetComputationToken"
	if err := conn.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stop closes all active connections.
func (c *ControlClient) Stop() error {
	c.Lock()
	defer c.Unlock()

	var result *multierror.Error
	for addr, conn := range c.conns {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		delete(c.conns, addr)
	}
	return result.ErrorOrNil()
}
