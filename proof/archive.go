package proof

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// ProofFileSuffix is the main file suffix for the proof files stored
	// on disk.
	ProofFileSuffix = ".proof"

	// ProofDirName is the name of the directory we'll use to store our
	// proofs.
	ProofDirName = "proofs"

	// burnSuffix replaces the output index in the key of burn entries.
	burnSuffix = "BURN"
)

var (
	// ErrProofNotFound is returned when a proof that must exist can't be
	// found.
	ErrProofNotFound = fmt.Errorf("unable to find proof")

	// ErrUnanchored is returned when a proof without an anchor txid is
	// stored. Its outputs can't be addressed.
	ErrUnanchored = errors.New("proof has no anchor txid")
)

// OutPointKey is the key a proof is filed under for a given outpoint.
func OutPointKey(op wire.OutPoint) string {
	return op.String()
}

// BurnKey is the key proofs with burn entries are filed under.
func BurnKey(txid chainhash.Hash) string {
	return txid.String() + ":" + burnSuffix
}

// Keys returns every key the proof is filed under.
func Keys(p *Proof) []string {
	var keys []string
	for _, op := range p.OutPoints() {
		keys = append(keys, OutPointKey(op))
	}
	if p.HasBurns() {
		keys = append(keys, BurnKey(p.AnchorTxid))
	}
	return keys
}

// Fetcher looks up the proofs that claim an outpoint.
type Fetcher interface {
	// FetchProofs returns all proofs with an entry bound to the outpoint.
	// An outpoint without history yields an empty slice and no error.
	FetchProofs(ctx context.Context, op wire.OutPoint) ([]*Proof, error)
}

// Archiver is the storage backend for proofs. Proofs are never deleted.
type Archiver interface {
	Fetcher

	// SaveProof indexes the proof under every outpoint its spend entries
	// produce. The write is durable once SaveProof returns. Saving the
	// same proof again is a no-op.
	SaveProof(ctx context.Context, p *Proof) error

	// FetchBurns returns all proofs anchored in txid that carry burn
	// entries.
	FetchBurns(ctx context.Context, txid chainhash.Hash) ([]*Proof, error)
}

// checkStorable makes sure the proof can be filed.
func checkStorable(p *Proof) error {
	if p.AnchorTxid == (chainhash.Hash{}) {
		return ErrUnanchored
	}
	return p.Validate()
}

// FileArchiver implements proof Archiver backed by an on-disk file system. The
// archiver takes a single root directory then creates the following
// mapping:
//
// proofs/
// ├─ txid:vout/
// │  ├─ digest1.proof
// │  ├─ digest2.proof
// ├─ txid:BURN/
// │  ├─ digest3.proof
type FileArchiver struct {
	// proofPath is the directory name that we'll use as the root for all
	// our files.
	proofPath string
}

// NewFileArchiver creates a new file archiver rooted at dirName.
func NewFileArchiver(dirName string) (*FileArchiver, error) {
	// First, we'll make sure our main proof directory has already been
	// created.
	proofPath := filepath.Join(dirName, ProofDirName)
	if err := os.MkdirAll(proofPath, 0750); err != nil {
		return nil, fmt.Errorf("unable to create proof dir: %w", err)
	}

	return &FileArchiver{
		proofPath: proofPath,
	}, nil
}

// genProofFilePath generates the full proof file path for a key and digest.
// The final path is: root/key/digest.proof
func genProofFilePath(rootPath, key string, d Digest) string {
	return filepath.Join(rootPath, key, d.String()+ProofFileSuffix)
}

// FetchProofs returns all proofs filed under the outpoint.
//
// NOTE: This implements the Archiver interface.
func (f *FileArchiver) FetchProofs(_ context.Context,
	op wire.OutPoint) ([]*Proof, error) {

	return f.readDir(OutPointKey(op))
}

// FetchBurns returns all proofs anchored in txid that carry burn entries.
func (f *FileArchiver) FetchBurns(_ context.Context,
	txid chainhash.Hash) ([]*Proof, error) {

	return f.readDir(BurnKey(txid))
}

func (f *FileArchiver) readDir(key string) ([]*Proof, error) {
	dir := filepath.Join(f.proofPath, key)

	files, err := os.ReadDir(dir)
	switch {
	case os.IsNotExist(err):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("unable to list proofs: %w", err)
	}

	var proofs []*Proof
	for _, file := range files {
		if file.IsDir() ||
			!strings.HasSuffix(file.Name(), ProofFileSuffix) {

			continue
		}

		proofBytes, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("unable to read proof: %w", err)
		}

		p, err := Decode(proofBytes)
		if err != nil {
			return nil, fmt.Errorf("unable to decode proof %v: %w",
				file.Name(), err)
		}
		proofs = append(proofs, p)
	}

	return proofs, nil
}

// SaveProof stores the proof under every key it is filed under.
//
// NOTE: This implements the Archiver interface.
func (f *FileArchiver) SaveProof(_ context.Context, p *Proof) error {
	if err := checkStorable(p); err != nil {
		return err
	}

	proofBytes, err := p.Bytes()
	if err != nil {
		return fmt.Errorf("unable to encode proof: %w", err)
	}

	digest := p.Digest()
	for _, key := range Keys(p) {
		proofPath := genProofFilePath(f.proofPath, key, digest)
		if err := writeFileAtomic(proofPath, proofBytes); err != nil {
			return fmt.Errorf("unable to store proof: %w", err)
		}
	}

	log.Debugf("Stored proof %v anchored in %v", digest, p.AnchorTxid)

	return nil
}

// writeFileAtomic writes the file through a synced temporary file that is
// renamed into place, so readers only ever see complete proofs.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	// Proof files are content addressed, an existing one is identical.
	if existing, err := os.ReadFile(path); err == nil &&
		bytes.Equal(existing, content) {

		return nil
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	dirFile, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer dirFile.Close()

	return dirFile.Sync()
}

// A compile-time interface to ensure FileArchiver meets the Archiver
// interface.
var _ Archiver = (*FileArchiver)(nil)

// MemArchiver is an in-memory Archiver.
type MemArchiver struct {
	mu     sync.RWMutex
	proofs map[string]map[Digest]*Proof
	order  map[string][]Digest
}

// NewMemArchiver creates an empty in-memory archiver.
func NewMemArchiver() *MemArchiver {
	return &MemArchiver{
		proofs: make(map[string]map[Digest]*Proof),
		order:  make(map[string][]Digest),
	}
}

// FetchProofs returns all proofs filed under the outpoint, in insertion
// order.
//
// NOTE: This implements the Archiver interface.
func (m *MemArchiver) FetchProofs(_ context.Context,
	op wire.OutPoint) ([]*Proof, error) {

	return m.fetch(OutPointKey(op)), nil
}

// FetchBurns returns all proofs anchored in txid that carry burn entries.
func (m *MemArchiver) FetchBurns(_ context.Context,
	txid chainhash.Hash) ([]*Proof, error) {

	return m.fetch(BurnKey(txid)), nil
}

func (m *MemArchiver) fetch(key string) []*Proof {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var proofs []*Proof
	for _, d := range m.order[key] {
		proofs = append(proofs, m.proofs[key][d])
	}
	return proofs
}

// SaveProof stores the proof.
//
// NOTE: This implements the Archiver interface.
func (m *MemArchiver) SaveProof(_ context.Context, p *Proof) error {
	if err := checkStorable(p); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	digest := p.Digest()
	for _, key := range Keys(p) {
		if m.proofs[key] == nil {
			m.proofs[key] = make(map[Digest]*Proof)
		}
		if _, ok := m.proofs[key][digest]; ok {
			continue
		}

		m.proofs[key][digest] = p
		m.order[key] = append(m.order[key], digest)
	}

	return nil
}

// A compile-time interface to ensure MemArchiver meets the Archiver
// interface.
var _ Archiver = (*MemArchiver)(nil)

// MultiArchiver stores proofs locally and falls back to a remote fetcher
// when the local store has no history for an outpoint.
type MultiArchiver struct {
	local  Archiver
	remote Fetcher
}

// NewMultiArchiver creates a new MultiArchiver.
func NewMultiArchiver(local Archiver, remote Fetcher) *MultiArchiver {
	return &MultiArchiver{
		local:  local,
		remote: remote,
	}
}

// FetchProofs asks the local store first, then the remote.
//
// NOTE: This implements the Archiver interface.
func (m *MultiArchiver) FetchProofs(ctx context.Context,
	op wire.OutPoint) ([]*Proof, error) {

	proofs, err := m.local.FetchProofs(ctx, op)
	if err != nil {
		return nil, err
	}
	if len(proofs) > 0 || m.remote == nil {
		return proofs, nil
	}

	log.Debugf("No local proofs for %v, asking remote", op)

	return m.remote.FetchProofs(ctx, op)
}

// SaveProof saves the proof to the local store.
//
// NOTE: This implements the Archiver interface.
func (m *MultiArchiver) SaveProof(ctx context.Context, p *Proof) error {
	return m.local.SaveProof(ctx, p)
}

// FetchBurns returns the burns held by the local store.
//
// NOTE: This implements the Archiver interface.
func (m *MultiArchiver) FetchBurns(ctx context.Context,
	txid chainhash.Hash) ([]*Proof, error) {

	return m.local.FetchBurns(ctx, txid)
}

// A compile-time interface to ensure MultiArchiver meets the Archiver
// interface.
var _ Archiver = (*MultiArchiver)(nil)
