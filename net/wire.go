// Package net holds the transport layer: the wire messages exchanged between
// duchies, the hand-written gRPC service definition for the computation
// control protocol, the server listener and the outbound peer client.
//
// The service definition is written by hand against grpc.ServiceDesc instead
// of being generated, so the repository does not require a protoc toolchain.
// Messages are carried by the registered wire codec (see codec.go).
package net

import (
	"errors"

	"github.com/duchynet/duchy/computation"
)

// ErrEmptyArtifact is returned when asked to send an artifact with no
// content; an artifact write with empty content is never valid for this
// protocol.
var ErrEmptyArtifact = errors.New("refusing to send empty artifact")

// ProcessRequestHeader is the first frame of every artifact stream. It
// routes the remaining frames to a computation and, for fan-in stages,
// identifies the sending duchy.
type ProcessRequestHeader struct {
	ComputationID string                   `json:"computation_id"`
	Kind          computation.ArtifactKind `json:"artifact_kind"`
	Sender        string                   `json:"sender"`
}

// ProcessRequest is one frame of an artifact stream: exactly one of Header
// (first frame) or Chunk (all following frames) is set.
type ProcessRequest struct {
	Header *ProcessRequestHeader `json:"header,omitempty"`
	Chunk  []byte                `json:"chunk,omitempty"`
}

// GetTokenRequest looks up the current token of a computation.
type GetTokenRequest struct {
	ComputationID string               `json:"computation_id"`
	Protocol      computation.Protocol `json:"protocol"`
}

// GetTokenResponse carries the token snapshot at lookup time.
type GetTokenResponse struct {
	Token *computation.Token `json:"token"`
}
