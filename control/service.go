package control

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/duchynet/duchy/blob"
	"github.com/duchynet/duchy/computation"
	"github.com/duchynet/duchy/log"
	"github.com/duchynet/duchy/metrics"
	"github.com/duchynet/duchy/net"
)

// Service is the ComputationControl server of one duchy. For every inbound
// artifact it reads the computation token, classifies the current stage,
// persists the artifact into its write-once slot and atomically advances the
// stage once the fan-in completes. All mutation goes through the token
// store's compare-and-swap; the service itself holds no computation state.
type Service struct {
	tokens computation.TokenStore
	blobs  blob.Store

	log log.Logger
}

// NewService returns a control service backed by the given stores.
func NewService(l log.Logger, tokens computation.TokenStore, blobs blob.Store) *Service {
	return &Service{
		tokens: tokens,
		blobs:  blobs,
		log:    l.Named("control"),
	}
}

// ProcessNoisedSketch ingests one noised sketch sent by a peer duchy.
func (s *Service) ProcessNoisedSketch(stream net.ProcessStream) error {
	return s.process(stream, computation.ArtifactNoisedSketch)
}

// ProcessConcatenatedSketch ingests the concatenated sketch passed around
// the duchy ring.
func (s *Service) ProcessConcatenatedSketch(stream net.ProcessStream) error {
	return s.process(stream, computation.ArtifactConcatenatedSketch)
}

// ProcessEncryptedFlagsAndCounts ingests the encrypted flag and count blob.
func (s *Service) ProcessEncryptedFlagsAndCounts(stream net.ProcessStream) error {
	return s.process(stream, computation.ArtifactFlagsAndCounts)
}

// GetComputationToken returns the current token for a computation.
func (s *Service) GetComputationToken(ctx context.Context, req *net.GetTokenRequest) (*net.GetTokenResponse, error) {
	if req.ComputationID == "" {
		return nil, status.Error(codes.InvalidArgument, ErrMissingComputationID.Error())
	}
	if req.Protocol != computation.ProtocolUnknown && req.Protocol != computation.LiquidLegionsV1 {
		return nil, status.Errorf(codes.InvalidArgument, "unsupported computation type %s", req.Protocol)
	}

	tok, err := s.tokens.GetToken(ctx, req.ComputationID)
	if errors.Is(err, computation.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "no computation with id %q", req.ComputationID)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "unable to retrieve token for computation %q", req.ComputationID)
	}
	return &net.GetTokenResponse{Token: tok}, nil
}

// process is the shared template behind the three artifact operations.
func (s *Service) process(stream net.ProcessStream, kind computation.ArtifactKind) error {
	ctx := stream.Context()

	in, err := newIngestion(stream)
	if err != nil {
		if isViolation(err) {
			metrics.ProtocolViolations.WithLabelValues(kind.String()).Inc()
			return status.Error(codes.InvalidArgument, err.Error())
		}
		return err
	}
	header := in.Header()
	if header.Kind != computation.ArtifactUnknown && header.Kind != kind {
		metrics.ProtocolViolations.WithLabelValues(kind.String()).Inc()
		return status.Errorf(codes.InvalidArgument,
			"header says %s on the %s stream", header.Kind, kind)
	}

	l := s.log.With("id", header.ComputationID, "kind", kind.String())

	tok, err := s.tokens.GetToken(ctx, header.ComputationID)
	if err != nil {
		return s.mapStoreError(err, header.ComputationID)
	}

	// The loop re-evaluates after every version conflict: the meaning of
	// "should I still write" may have changed under a concurrent delivery.
	var content []byte
	for {
		switch computation.ClassifyStage(kind, tok.Stage) {
		case computation.ClassInvalid:
			metrics.ProtocolViolations.WithLabelValues(kind.String()).Inc()
			l.Warnw("artifact rejected", "stage", tok.Stage.String())
			return status.Errorf(codes.FailedPrecondition,
				"did not expect %s for computation %q in stage %s", kind, tok.GlobalID, tok.Stage)

		case computation.ClassDownstream:
			// already consumed in an earlier stage: ack without writing
			if err := in.Drain(); err != nil {
				return err
			}
			metrics.DuplicateDeliveries.WithLabelValues(kind.String()).Inc()
			l.Infow("superseded artifact acked", "stage", tok.Stage.String())
			return ack(stream)

		case computation.ClassExpected:
			slot, name, err := s.selectSlot(tok, kind, header.Sender)
			if err != nil {
				metrics.ProtocolViolations.WithLabelValues(kind.String()).Inc()
				return status.Errorf(codes.FailedPrecondition,
					"no slot for %s from %q in computation %q", kind, header.Sender, tok.GlobalID)
			}
			if tok.Slots[slot].Path != "" {
				// duplicate delivery of a slot we already hold
				if err := in.Drain(); err != nil {
					return err
				}
				metrics.DuplicateDeliveries.WithLabelValues(kind.String()).Inc()
				l.Infow("duplicate artifact acked", "sender", header.Sender)
				return ack(stream)
			}

			if content == nil {
				content, err = in.ReadBody()
				if err != nil {
					if isViolation(err) {
						metrics.ProtocolViolations.WithLabelValues(kind.String()).Inc()
						return status.Error(codes.InvalidArgument, err.Error())
					}
					return err
				}
			}

			path := blob.NewPath(tok, name)
			if err := s.blobs.Write(ctx, path, bytes.NewReader(content)); err != nil {
				l.Errorw("blob write failed", "path", path, "err", err)
				return status.Error(codes.Internal, "unable to persist artifact")
			}

			updated, err := s.tokens.FillSlot(ctx, tok, slot, path)
			if errors.Is(err, computation.ErrVersionMismatch) || errors.Is(err, computation.ErrSlotFilled) {
				// someone else moved the computation; re-fetch and re-evaluate
				tok, err = s.tokens.GetToken(ctx, tok.GlobalID)
				if err != nil {
					return s.mapStoreError(err, header.ComputationID)
				}
				continue
			}
			if err != nil {
				return s.mapStoreError(err, header.ComputationID)
			}
			tok = updated
			metrics.ArtifactsReceived.WithLabelValues(kind.String()).Inc()
			l.Infow("artifact persisted", "sender", header.Sender, "path", path)

			if err := s.maybeTransition(ctx, l, tok, kind); err != nil {
				return err
			}
			return ack(stream)
		}
	}
}

// maybeTransition advances the stage once the last outstanding slot of the
// current stage was filled. Losing the transition to a concurrent delivery
// is benign: another delivery path completed the fan-in.
func (s *Service) maybeTransition(ctx context.Context, l log.Logger, tok *computation.Token, kind computation.ArtifactKind) error {
	if remaining := tok.Remaining(); remaining > 0 {
		l.Infow("artifact saved, fan-in incomplete", "remaining", remaining)
		return nil
	}

	next, err := computation.NextStage(kind, tok.Role)
	if err != nil {
		l.Errorw("cannot compute next stage", "role", tok.Role.String(), "err", err)
		return status.Errorf(codes.FailedPrecondition, "unknown role in computation %q", tok.GlobalID)
	}

	carry := tok.OutputPaths()
	if kind == computation.ArtifactNoisedSketch {
		// the aggregator's own noised sketch sits in an input slot and is
		// appended together with the collected ones
		carry = append(tok.InputPaths(), carry...)
	}
	_, err = s.tokens.Transition(ctx, tok, next, carry)
	if errors.Is(err, computation.ErrVersionMismatch) {
		metrics.TransitionConflicts.Inc()
		l.Infow("stage already advanced by concurrent delivery", "wanted", next.String())
		return nil
	}
	if err != nil {
		l.Errorw("stage transition failed", "next", next.String(), "err", err)
		return status.Error(codes.Internal, "unable to advance computation stage")
	}
	metrics.StageTransitions.WithLabelValues(next.String()).Inc()
	l.Infow("transitioned stage", "next", next.String())
	return nil
}

// selectSlot picks the write-once slot an expected artifact belongs in, and
// the name component of its blob path.
func (s *Service) selectSlot(tok *computation.Token, kind computation.ArtifactKind, sender string) (int, string, error) {
	if kind == computation.ArtifactNoisedSketch {
		slot, err := tok.SlotFor(sender)
		return slot, sender, err
	}
	slot, err := tok.OutputSlot()
	return slot, strings.ToLower(kind.String()), err
}

func (s *Service) mapStoreError(err error, id string) error {
	if errors.Is(err, computation.ErrNotFound) {
		return status.Errorf(codes.NotFound, "no computation with id %q", id)
	}
	s.log.Errorw("token store failure", "id", id, "err", err)
	return status.Error(codes.Internal, "token store unavailable")
}

func ack(stream net.ProcessStream) error {
	return stream.SendAndClose(&emptypb.Empty{})
}
