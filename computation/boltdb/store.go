// Package boltdb implements the computation.TokenStore interface using the
// kv storage boltdb (native golang implementation). Tokens are stored
// hexjson-encoded in the db file, one row per global computation id.
//
// All mutations run inside a single bolt update transaction and re-read the
// stored row before committing, which gives the compare-and-swap semantics
// the rest of the system relies on: a caller presenting a stale token version
// never overwrites a newer row.
package boltdb

import (
	"context"
	"path"

	json "github.com/nikkolasg/hexjson"
	bolt "go.etcd.io/bbolt"

	"github.com/duchynet/duchy/computation"
	"github.com/duchynet/duchy/log"
)

// BoltStore implements the TokenStore interface using boltdb.
type BoltStore struct {
	db *bolt.DB

	log log.Logger
}

var tokenBucket = []byte("tokens")

// BoltFileName is the name of the file boltdb writes to
const BoltFileName = "duchy.db"

// BoltStoreOpenPerm is the permission we will use to read the bolt store file
// from disk
const BoltStoreOpenPerm = 0660

// NewBoltStore returns a TokenStore implementation using the boltdb storage
// engine.
func NewBoltStore(ctx context.Context, l log.Logger, folder string, opts *bolt.Options) (*BoltStore, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	dbPath := path.Join(folder, BoltFileName)
	db, err := bolt.Open(dbPath, BoltStoreOpenPerm, opts)
	if err != nil {
		return nil, err
	}
	// create the bucket already
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokenBucket)
		return err
	})

	return &BoltStore{
		log: l,
		db:  db,
	}, err
}

func (b *BoltStore) Close() error {
	err := b.db.Close()
	if err != nil {
		b.log.Errorw("", "boltdb", "close", "err", err)
	}
	return err
}

// GetToken returns the current token for a computation.
func (b *BoltStore) GetToken(ctx context.Context, globalID string) (*computation.Token, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var tok *computation.Token
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		tok, err = getTokenTx(tx, globalID)
		return err
	})
	return tok, err
}

// Create admits a new computation to this store.
func (b *BoltStore) Create(ctx context.Context, token *computation.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(tokenBucket)
		if bucket.Get([]byte(token.GlobalID)) != nil {
			return computation.ErrAlreadyExists
		}
		return putTokenTx(tx, token)
	})
}

// FillSlot records a blob path into the given slot of the token's stage. The
// write commits only when the stored row still carries the caller's version
// and the slot is still empty; slots are write-once.
func (b *BoltStore) FillSlot(ctx context.Context, token *computation.Token, slot int, blobPath string) (*computation.Token, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var updated *computation.Token
	err := b.db.Update(func(tx *bolt.Tx) error {
		stored, err := getTokenTx(tx, token.GlobalID)
		if err != nil {
			return err
		}
		if stored.Version != token.Version {
			return computation.ErrVersionMismatch
		}
		if slot < 0 || slot >= len(stored.Slots) {
			return computation.ErrNoSuchSlot
		}
		if stored.Slots[slot].Path != "" {
			return computation.ErrSlotFilled
		}

		stored.Slots[slot].Path = blobPath
		stored.Version++
		if err := putTokenTx(tx, stored); err != nil {
			return err
		}
		updated = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.log.Debugw("filled blob slot", "id", token.GlobalID, "slot", slot, "path", blobPath)
	return updated, nil
}

// Transition atomically moves the computation to the next stage. The new row
// carries the given paths as input slots plus the output slots the next
// stage waits on.
func (b *BoltStore) Transition(ctx context.Context, token *computation.Token, next computation.Stage, inputPaths []string) (*computation.Token, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var updated *computation.Token
	err := b.db.Update(func(tx *bolt.Tx) error {
		stored, err := getTokenTx(tx, token.GlobalID)
		if err != nil {
			return err
		}
		if stored.Version != token.Version {
			return computation.ErrVersionMismatch
		}
		if !computation.ValidTransition(stored.Role, stored.Stage, next) {
			return computation.ErrInvalidTransition
		}

		stored.Stage = next
		stored.Slots = computation.SlotsForStage(next, stored.Peers, inputPaths)
		stored.Version++
		if err := putTokenTx(tx, stored); err != nil {
			return err
		}
		updated = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.log.Infow("stage transition", "id", token.GlobalID, "stage", next.String(), "version", updated.Version)
	return updated, nil
}

// InStages scans the bucket for tokens sitting in any of the given stages.
func (b *BoltStore) InStages(ctx context.Context, stages ...computation.Stage) ([]*computation.Token, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	wanted := make(map[computation.Stage]bool, len(stages))
	for _, s := range stages {
		wanted[s] = true
	}

	var toks []*computation.Token
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(tokenBucket).ForEach(func(_, v []byte) error {
			tok := new(computation.Token)
			if err := json.Unmarshal(v, tok); err != nil {
				return err
			}
			if wanted[tok.Stage] {
				toks = append(toks, tok)
			}
			return nil
		})
	})
	return toks, err
}

// NextLocalID reserves a fresh local id off the bucket sequence.
func (b *BoltStore) NextLocalID(ctx context.Context) (uint64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	var id uint64
	err := b.db.Update(func(tx *bolt.Tx) error {
		var err error
		id, err = tx.Bucket(tokenBucket).NextSequence()
		return err
	})
	return id, err
}

func getTokenTx(tx *bolt.Tx, globalID string) (*computation.Token, error) {
	v := tx.Bucket(tokenBucket).Get([]byte(globalID))
	if v == nil {
		return nil, computation.ErrNotFound
	}
	tok := new(computation.Token)
	if err := json.Unmarshal(v, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func putTokenTx(tx *bolt.Tx, token *computation.Token) error {
	buff, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return tx.Bucket(tokenBucket).Put([]byte(token.GlobalID), buff)
}
