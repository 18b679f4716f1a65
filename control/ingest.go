// Package control implements the network-facing orchestrator of the duchy:
// it ingests artifact streams from peer duchies, persists them and advances
// the computation's stage once every expected contribution has arrived.
package control

import (
	"bytes"
	"errors"
	"io"

	"github.com/duchynet/duchy/net"
)

var (
	// ErrEmptyStream means the request carried no frames at all.
	ErrEmptyStream = errors.New("empty request stream")
	// ErrMissingHeader means the first frame was not a header frame.
	ErrMissingHeader = errors.New("first frame is not a header")
	// ErrMissingComputationID means the header did not route anywhere.
	ErrMissingComputationID = errors.New("missing computation id")
	// ErrEmptyBody means the header was not followed by any content. An
	// artifact write with empty content is never valid for this protocol.
	ErrEmptyBody = errors.New("request stream has no body")
	// ErrUnexpectedHeader means a header frame arrived after the first.
	ErrUnexpectedHeader = errors.New("header frame after first frame")
)

// frameSource is the receive side of one inbound artifact stream.
type frameSource interface {
	Recv() (*net.ProcessRequest, error)
}

type parseState uint8

const (
	awaitingHeader parseState = iota
	consumingChunks
	done
)

// ingestion is the explicit two-state parser over one artifact stream: it
// starts awaiting the header frame and then consumes chunk frames, in
// arrival order, in a single pass. All protocol-violation checks happen here
// before any persistence is attempted.
type ingestion struct {
	src    frameSource
	state  parseState
	header *net.ProcessRequestHeader
}

// newIngestion consumes and validates the header frame.
func newIngestion(src frameSource) (*ingestion, error) {
	in := &ingestion{src: src}

	req, err := src.Recv()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyStream
	}
	if err != nil {
		return nil, err
	}
	if req.Header == nil {
		return nil, ErrMissingHeader
	}
	if req.Header.ComputationID == "" {
		return nil, ErrMissingComputationID
	}

	in.header = req.Header
	in.state = consumingChunks
	return in, nil
}

func (in *ingestion) Header() *net.ProcessRequestHeader {
	return in.header
}

// ReadBody concatenates the remaining chunk frames into the artifact
// content. No reordering, no buffering beyond the assembled content itself.
func (in *ingestion) ReadBody() ([]byte, error) {
	if in.state != consumingChunks {
		return nil, ErrEmptyBody
	}

	var buf bytes.Buffer
	chunks := 0
	for {
		req, err := in.src.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if req.Header != nil {
			return nil, ErrUnexpectedHeader
		}
		chunks++
		buf.Write(req.Chunk)
	}
	in.state = done

	if chunks == 0 || buf.Len() == 0 {
		return nil, ErrEmptyBody
	}
	return buf.Bytes(), nil
}

// Drain consumes and discards the rest of the stream, keeping the request
// well-formed when the artifact turns out to be superseded.
func (in *ingestion) Drain() error {
	if in.state == done {
		return nil
	}
	for {
		_, err := in.src.Recv()
		if errors.Is(err, io.EOF) {
			in.state = done
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// isViolation reports whether an ingestion error is a protocol violation, as
// opposed to a transport failure.
func isViolation(err error) bool {
	return errors.Is(err, ErrEmptyStream) ||
		errors.Is(err, ErrMissingHeader) ||
		errors.Is(err, ErrMissingComputationID) ||
		errors.Is(err, ErrEmptyBody) ||
		errors.Is(err, ErrUnexpectedHeader)
}
