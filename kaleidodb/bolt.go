package kaleidodb

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido/proof"
	"go.etcd.io/bbolt"
)

var (
	// proofBucket maps a proof's digest and anchor txid to the encoded
	// proof.
	proofBucket = []byte("proofs")

	// keyIndexBucket holds a sub-bucket per proof key, mapping an
	// insertion sequence number to a proofBucket key.
	keyIndexBucket = []byte("proof-keys")
)

// BoltConfig holds the config of the bbolt backend.
type BoltConfig struct {
	// DatabaseFileName is the full path of the database file.
	DatabaseFileName string `long:"dbfile" description:"The full path to the bolt database."`

	// Timeout is how long to wait for the file lock.
	Timeout time.Duration `long:"timeout" description:"How long to wait for the database file lock."`
}

// BoltArchiver is a proof.Archiver backed by a single bbolt file.
type BoltArchiver struct {
	db *bbolt.DB
}

// NewBoltArchiver opens or creates the database file.
func NewBoltArchiver(cfg *BoltConfig) (*BoltArchiver, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultStoreTimeout
	}

	db, err := bbolt.Open(cfg.DatabaseFileName, 0600, &bbolt.Options{
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open %v: %w",
			cfg.DatabaseFileName, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(proofBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(keyIndexBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Infof("Using bolt database '%s'", cfg.DatabaseFileName)

	return &BoltArchiver{
		db: db,
	}, nil
}

// Close closes the database file.
func (b *BoltArchiver) Close() error {
	return b.db.Close()
}

// fetch returns the proofs filed under key in insertion order.
func (b *BoltArchiver) fetch(key string) ([]*proof.Proof, error) {
	var proofs []*proof.Proof
	err := b.db.View(func(tx *bbolt.Tx) error {
		index := tx.Bucket(keyIndexBucket).Bucket([]byte(key))
		if index == nil {
			return nil
		}

		blobs := tx.Bucket(proofBucket)
		return index.ForEach(func(_, proofKey []byte) error {
			blob := blobs.Get(proofKey)
			if blob == nil {
				return fmt.Errorf("proof %x missing from "+
					"store", proofKey)
			}

			p, err := proof.Decode(blob)
			if err != nil {
				return err
			}
			proofs = append(proofs, p)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return proofs, nil
}

// FetchProofs returns all proofs filed under the outpoint, in insertion
// order.
//
// NOTE: This implements the proof.Fetcher interface.
func (b *BoltArchiver) FetchProofs(_ context.Context,
	op wire.OutPoint) ([]*proof.Proof, error) {

	return b.fetch(proof.OutPointKey(op))
}

// FetchBurns returns all proofs anchored in txid that carry burn entries.
func (b *BoltArchiver) FetchBurns(_ context.Context,
	txid chainhash.Hash) ([]*proof.Proof, error) {

	return b.fetch(proof.BurnKey(txid))
}

// identityKey is the proofBucket key of a proof.
func identityKey(id proof.Identity) []byte {
	key := make([]byte, 0, len(id.Digest)+len(id.AnchorTxid))
	key = append(key, id.Digest[:]...)
	return append(key, id.AnchorTxid[:]...)
}

// SaveProof stores the proof under every key it's filed under. Saving a
// proof twice is a no-op.
//
// NOTE: This implements the proof.Archiver interface.
func (b *BoltArchiver) SaveProof(_ context.Context, p *proof.Proof) error {
	if p.AnchorTxid == (chainhash.Hash{}) {
		return proof.ErrUnanchored
	}
	if err := p.Validate(); err != nil {
		return err
	}

	blob, err := p.Bytes()
	if err != nil {
		return err
	}
	proofKey := identityKey(p.Identity())

	return b.db.Update(func(tx *bbolt.Tx) error {
		blobs := tx.Bucket(proofBucket)
		if blobs.Get(proofKey) != nil {
			return nil
		}
		if err := blobs.Put(proofKey, blob); err != nil {
			return err
		}

		indexes := tx.Bucket(keyIndexBucket)
		for _, key := range proof.Keys(p) {
			index, err := indexes.CreateBucketIfNotExists(
				[]byte(key),
			)
			if err != nil {
				return err
			}

			seq, err := index.NextSequence()
			if err != nil {
				return err
			}

			var seqKey [8]byte
			binary.BigEndian.PutUint64(seqKey[:], seq)
			if err := index.Put(seqKey[:], proofKey); err != nil {
				return err
			}
		}

		return nil
	})
}

// A compile-time interface to ensure BoltArchiver meets the proof.Archiver
// interface.
var _ proof.Archiver = (*BoltArchiver)(nil)
