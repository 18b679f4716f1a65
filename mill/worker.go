package mill

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	clock "github.com/jonboulle/clockwork"

	"github.com/duchynet/duchy/blob"
	"github.com/duchynet/duchy/computation"
	"github.com/duchynet/duchy/log"
	"github.com/duchynet/duchy/metrics"
	"github.com/duchynet/duchy/net"
)

// DefaultPollInterval is how often the worker scans the token store for
// claimable stages when no interval is configured.
const DefaultPollInterval = 5 * time.Second

// Forwarder sends a produced artifact to a peer duchy. Satisfied by
// net.ControlClient.
type Forwarder interface {
	SendArtifact(ctx context.Context, p net.Peer, header *net.ProcessRequestHeader, content []byte) error
}

// Config ties a worker to its place in the duchy ring.
type Config struct {
	// Self is the sender label peers know this duchy by.
	Self string
	// Aggregator is the primary duchy collecting the noised sketches.
	Aggregator net.Peer
	// Successor is the next duchy in the ring.
	Successor net.Peer
	// PollInterval between scans of the token store.
	PollInterval time.Duration
}

// millStages are the stages the worker claims, in protocol order.
var millStages = []computation.Stage{
	computation.StageToAddNoise,
	computation.StageToAppendSketchesAndAddNoise,
	computation.StageToBlindPositions,
	computation.StageToBlindPositionsAndJoinRegisters,
	computation.StageToDecryptFlagCounts,
	computation.StageToDecryptFlagCountsAndComputeMetrics,
}

// Worker drives the TO_* stages of every computation this duchy holds. One
// pass per tick: transform, persist, forward, advance. Every step is
// restartable, so a crash or a lost race with another worker instance leaves
// the computation claimable again rather than wedged.
type Worker struct {
	cfg    Config
	tokens computation.TokenStore
	blobs  blob.Store
	crypto CryptoWorker
	fwd    Forwarder

	clock clock.Clock
	log   log.Logger
	stop  chan struct{}
	done  chan struct{}
}

// NewWorker returns a worker that is not ticking yet.
func NewWorker(l log.Logger, cfg Config, tokens computation.TokenStore, blobs blob.Store, cw CryptoWorker, fwd Forwarder, c clock.Clock) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Worker{
		cfg:    cfg,
		tokens: tokens,
		blobs:  blobs,
		crypto: cw,
		fwd:    fwd,
		clock:  c,
		log:    l.Named("mill"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the polling loop until Stop is called.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		ticker := w.clock.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				w.Tick(ctx)
			case <-w.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the loop and waits for the in-flight pass to finish.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

// Tick runs one pass over every claimable computation. Failures are logged
// and retried on the next tick; one stuck computation never blocks the rest.
func (w *Worker) Tick(ctx context.Context) {
	toks, err := w.tokens.InStages(ctx, millStages...)
	if err != nil {
		w.log.Errorw("token store scan failed", "err", err)
		return
	}
	for _, tok := range toks {
		if err := w.process(ctx, tok); err != nil {
			w.log.Errorw("stage pass failed",
				"id", tok.GlobalID, "stage", tok.Stage.String(), "err", err)
		}
	}
}

// process moves one computation through its current TO_* stage.
func (w *Worker) process(ctx context.Context, tok *computation.Token) error {
	kind, dest := w.route(tok.Role, tok.Stage)

	outSlot, err := tok.OutputSlot()
	if err != nil {
		return fmt.Errorf("stage %s has no output slot: %w", tok.Stage, err)
	}

	var content []byte
	if path := tok.Slots[outSlot].Path; path != "" {
		// output produced on an earlier pass that did not get to forward;
		// re-read it and pick up where we left off
		content, err = w.blobs.Read(ctx, path)
		if err != nil {
			return err
		}
	} else {
		content, err = w.transform(ctx, tok)
		if err != nil {
			return err
		}

		name := strings.ToLower(tok.Stage.String())
		path := blob.NewPath(tok, name)
		if err := w.blobs.Write(ctx, path, bytes.NewReader(content)); err != nil {
			return err
		}
		updated, err := w.tokens.FillSlot(ctx, tok, outSlot, path)
		if errors.Is(err, computation.ErrVersionMismatch) || errors.Is(err, computation.ErrSlotFilled) {
			// another worker claimed this stage first
			w.log.Debugw("lost stage claim", "id", tok.GlobalID, "stage", tok.Stage.String())
			return nil
		}
		if err != nil {
			return err
		}
		tok = updated
	}

	if dest != nil {
		header := &net.ProcessRequestHeader{
			ComputationID: tok.GlobalID,
			Kind:          kind,
			Sender:        w.cfg.Self,
		}
		if err := w.fwd.SendArtifact(ctx, dest, header, content); err != nil {
			return fmt.Errorf("forwarding %s to %s: %w", kind, dest.Address(), err)
		}
	}

	next, err := w.nextStage(tok.Role, tok.Stage)
	if err != nil {
		return err
	}
	_, err = w.tokens.Transition(ctx, tok, next, tok.OutputPaths())
	if errors.Is(err, computation.ErrVersionMismatch) {
		metrics.TransitionConflicts.Inc()
		return nil
	}
	if err != nil {
		return err
	}
	metrics.StageTransitions.WithLabelValues(next.String()).Inc()
	w.log.Infow("stage worked", "id", tok.GlobalID,
		"stage", tok.Stage.String(), "next", next.String())
	return nil
}

// transform runs the stage's cryptographic operation over the input blobs.
func (w *Worker) transform(ctx context.Context, tok *computation.Token) ([]byte, error) {
	var inputs [][]byte
	for _, path := range tok.InputPaths() {
		b, err := w.blobs.Read(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("reading input %q: %w", path, err)
		}
		inputs = append(inputs, b)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("stage %s of computation %q has no inputs", tok.Stage, tok.GlobalID)
	}

	switch tok.Stage {
	case computation.StageToAddNoise:
		return w.crypto.AddNoise(ctx, inputs[0])
	case computation.StageToAppendSketchesAndAddNoise:
		return w.crypto.AppendSketchesAndAddNoise(ctx, inputs)
	case computation.StageToBlindPositions:
		return w.crypto.BlindPositions(ctx, inputs[0])
	case computation.StageToBlindPositionsAndJoinRegisters:
		return w.crypto.BlindPositionsAndJoinRegisters(ctx, inputs[0])
	case computation.StageToDecryptFlagCounts:
		return w.crypto.DecryptFlagCounts(ctx, inputs[0])
	case computation.StageToDecryptFlagCountsAndComputeMetrics:
		return w.crypto.DecryptFlagCountsAndComputeMetrics(ctx, inputs[0])
	}
	return nil, fmt.Errorf("stage %s is not workable", tok.Stage)
}

// route says which artifact a stage produces and where it goes. A nil peer
// means the result stays local: the primary's own noised sketch rides into
// WAIT_SKETCHES as an input slot, and the final metrics are the end of the
// line.
func (w *Worker) route(role computation.Role, stage computation.Stage) (computation.ArtifactKind, net.Peer) {
	switch stage {
	case computation.StageToAddNoise:
		if role == computation.RoleSecondary {
			return computation.ArtifactNoisedSketch, w.cfg.Aggregator
		}
		return computation.ArtifactNoisedSketch, nil
	case computation.StageToAppendSketchesAndAddNoise:
		return computation.ArtifactConcatenatedSketch, w.cfg.Successor
	case computation.StageToBlindPositions:
		return computation.ArtifactConcatenatedSketch, w.cfg.Successor
	case computation.StageToBlindPositionsAndJoinRegisters:
		return computation.ArtifactFlagsAndCounts, w.cfg.Successor
	case computation.StageToDecryptFlagCounts:
		return computation.ArtifactFlagsAndCounts, w.cfg.Successor
	}
	return computation.ArtifactUnknown, nil
}

// nextStage is where a worked stage lands.
func (w *Worker) nextStage(role computation.Role, stage computation.Stage) (computation.Stage, error) {
	switch stage {
	case computation.StageToAddNoise:
		if role == computation.RolePrimary {
			return computation.StageWaitSketches, nil
		}
		return computation.StageWaitConcatenated, nil
	case computation.StageToAppendSketchesAndAddNoise:
		return computation.StageWaitConcatenated, nil
	case computation.StageToBlindPositions, computation.StageToBlindPositionsAndJoinRegisters:
		return computation.StageWaitFlagCounts, nil
	case computation.StageToDecryptFlagCounts, computation.StageToDecryptFlagCountsAndComputeMetrics:
		return computation.StageCompleted, nil
	}
	return computation.StageUnknown, fmt.Errorf("stage %s is not workable", stage)
}
