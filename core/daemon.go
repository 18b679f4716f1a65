// Package core assembles one duchy daemon: the token and blob stores, the
// ComputationControl listener, the peer client and the mill worker, wired
// from a single Config.
package core

import (
	"bytes"
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/duchynet/duchy/blob"
	"github.com/duchynet/duchy/blob/memblob"
	"github.com/duchynet/duchy/computation"
	"github.com/duchynet/duchy/computation/boltdb"
	"github.com/duchynet/duchy/control"
	"github.com/duchynet/duchy/fs"
	"github.com/duchynet/duchy/log"
	"github.com/duchynet/duchy/metrics"
	"github.com/duchynet/duchy/mill"
	"github.com/duchynet/duchy/net"
)

// Daemon is one running duchy.
type Daemon struct {
	cfg *Config
	log log.Logger

	tokens   computation.TokenStore
	blobs    blob.Store
	client   *net.ControlClient
	listener net.Listener
	worker   *mill.Worker
}

// NewDaemon opens the stores and builds the daemon's components. Nothing is
// serving until Start is called.
func NewDaemon(ctx context.Context, cfg *Config) (*Daemon, error) {
	self, err := cfg.Ring().Find(cfg.Self())
	if err != nil {
		return nil, err
	}
	l := cfg.Logger().Named(self.Name)

	dbFolder, err := fs.CreateSecureFolder(cfg.DBFolder())
	if err != nil {
		return nil, fmt.Errorf("preparing db folder: %w", err)
	}
	tokens, err := boltdb.NewBoltStore(ctx, l, dbFolder, cfg.boltOpts)
	if err != nil {
		return nil, fmt.Errorf("opening token store: %w", err)
	}

	blobs := cfg.blobs
	if blobs == nil {
		blobs = memblob.NewStore()
	}

	service := control.NewService(l, tokens, blobs)
	listener, err := net.NewGRPCListener(l, cfg.ListenAddress(), service,
		cfg.insecure, cfg.certPath, cfg.keyPath)
	if err != nil {
		_ = tokens.Close()
		return nil, fmt.Errorf("binding %s: %w", cfg.ListenAddress(), err)
	}

	client := net.NewControlClient(l, cfg.grpcOpts...)

	d := &Daemon{
		cfg:      cfg,
		log:      l,
		tokens:   tokens,
		blobs:    blobs,
		client:   client,
		listener: listener,
	}

	if cfg.crypto != nil {
		aggregator, err := cfg.Ring().Find(cfg.Ring().Aggregator)
		if err != nil {
			return nil, err
		}
		successor, err := cfg.Ring().Successor(self.Name)
		if err != nil {
			return nil, err
		}
		d.worker = mill.NewWorker(l, mill.Config{
			Self:         self.Name,
			Aggregator:   aggregator.Peer(),
			Successor:    successor.Peer(),
			PollInterval: cfg.pollInterval,
		}, tokens, blobs, cfg.crypto, client, cfg.clock)
	}

	return d, nil
}

// Start serves the control API and runs the mill.
func (d *Daemon) Start(ctx context.Context) {
	go func() {
		if err := d.listener.Start(); err != nil {
			d.log.Errorw("control listener stopped", "err", err)
		}
	}()
	if d.worker != nil {
		d.worker.Start(ctx)
	}
	if d.cfg.metricsPort != 0 {
		metrics.Start(d.log, d.cfg.metricsPort)
	}
	d.log.Infow("duchy daemon running", "addr", d.listener.Addr(),
		"role", d.role().String())
}

// Stop shuts everything down, waiting for in-flight requests up to the
// context deadline.
func (d *Daemon) Stop(ctx context.Context) error {
	if d.worker != nil {
		d.worker.Stop()
	}
	d.listener.Stop(ctx)

	var result *multierror.Error
	if err := d.client.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := d.tokens.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := d.blobs.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Addr is the address the control API is actually bound to.
func (d *Daemon) Addr() string {
	return d.listener.Addr()
}

// Tokens exposes the daemon's token store.
func (d *Daemon) Tokens() computation.TokenStore {
	return d.tokens
}

// Blobs exposes the daemon's blob store.
func (d *Daemon) Blobs() blob.Store {
	return d.blobs
}

func (d *Daemon) role() computation.Role {
	if d.cfg.Ring().Aggregator == d.cfg.Self() {
		return computation.RolePrimary
	}
	return computation.RoleSecondary
}

// Admit registers a new computation with this duchy's raw sketch and hands it
// to the mill. The role and peer set derive from the ring: the aggregator
// runs as primary, everyone else as secondary.
func (d *Daemon) Admit(ctx context.Context, globalID string, sketch []byte) (*computation.Token, error) {
	if len(sketch) == 0 {
		return nil, fmt.Errorf("computation %q admitted without a sketch", globalID)
	}

	localID, err := d.tokens.NextLocalID(ctx)
	if err != nil {
		return nil, err
	}
	tok := computation.NewToken(globalID, localID, d.role(), d.cfg.Ring().Others(d.cfg.Self()))
	if err := d.tokens.Create(ctx, tok); err != nil {
		return nil, err
	}

	path := blob.NewPath(tok, "sketch")
	if err := d.blobs.Write(ctx, path, bytes.NewReader(sketch)); err != nil {
		return nil, err
	}
	slot, err := tok.OutputSlot()
	if err != nil {
		return nil, err
	}
	tok, err = d.tokens.FillSlot(ctx, tok, slot, path)
	if err != nil {
		return nil, err
	}
	tok, err = d.tokens.Transition(ctx, tok, computation.StageToAddNoise, tok.OutputPaths())
	if err != nil {
		return nil, err
	}
	d.log.Infow("computation admitted", "id", globalID, "local_id", localID)
	return tok, nil
}
