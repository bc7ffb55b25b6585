package kaleidodb

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/kaleido/asset"
	"github.com/lightninglabs/kaleido/kaleidodb/sqlc"
	"github.com/lightninglabs/kaleido/proof"
)

type (
	// NewProof is a type alias for the params to insert a proof.
	NewProof = sqlc.UpsertProofParams

	// ProofOutPoint is a type alias for the params to file a proof under
	// an outpoint.
	ProofOutPoint = sqlc.InsertProofOutPointParams

	// OutPointQuery is a type alias for a query of the proofs filed under
	// an outpoint.
	OutPointQuery = sqlc.FetchProofsByOutPointParams

	// ProofRow is a type alias for a proof fetched by outpoint.
	ProofRow = sqlc.FetchProofsByOutPointRow

	// BurnProofRow is a type alias for a proof fetched by its anchor txid.
	BurnProofRow = sqlc.FetchBurnProofsRow

	// NewContract is a type alias for the params to insert a contract.
	NewContract = sqlc.UpsertContractParams

	// ContractRow is a type alias for a stored contract.
	ContractRow = sqlc.Contract
)

// ProofStoreQueries is the subset of the sqlc.Querier the ProofStore needs.
type ProofStoreQueries interface {
	// UpsertProof inserts a proof, or returns the primary key of the
	// existing copy.
	UpsertProof(ctx context.Context, arg NewProof) (int64, error)

	// InsertProofOutPoint files a proof under an outpoint.
	InsertProofOutPoint(ctx context.Context, arg ProofOutPoint) error

	// FetchProofsByOutPoint returns the proofs filed under an outpoint.
	FetchProofsByOutPoint(ctx context.Context,
		arg OutPointQuery) ([]ProofRow, error)

	// FetchBurnProofs returns the proofs with burns anchored in a txid.
	FetchBurnProofs(ctx context.Context,
		anchorTxid []byte) ([]BurnProofRow, error)

	// UpsertContract stores a contract unless it's known already.
	UpsertContract(ctx context.Context, arg NewContract) error

	// FetchContracts returns all stored contracts.
	FetchContracts(ctx context.Context) ([]ContractRow, error)
}

// ProofStoreTxOptions defines the set of db txn options the ProofStore
// understands.
type ProofStoreTxOptions struct {
	// readOnly governs if a read only transaction is needed or not.
	readOnly bool
}

// ReadOnly returns true if the transaction should be read only.
//
// NOTE: This implements the TxOptions interface.
func (p *ProofStoreTxOptions) ReadOnly() bool {
	return p.readOnly
}

// NewProofStoreReadTx creates a new read transaction option set.
func NewProofStoreReadTx() ProofStoreTxOptions {
	return ProofStoreTxOptions{
		readOnly: true,
	}
}

// BatchedProofStore is a version of the ProofStoreQueries that's capable of
// batched database operations.
type BatchedProofStore interface {
	ProofStoreQueries

	BatchedTx[ProofStoreQueries]
}

// NewBatchedProofStore wraps an open database in a transaction executor for
// the ProofStore.
func NewBatchedProofStore(db *BaseDB) BatchedProofStore {
	return NewTransactionExecutor(db,
		func(tx Tx) ProofStoreQueries {
			return db.QueriesFromTx(tx)
		},
	)
}

// ProofStore is a proof.Archiver backed by a SQL database.
type ProofStore struct {
	db BatchedProofStore

	clock func() time.Time
}

// NewProofStore creates a new ProofStore.
func NewProofStore(db BatchedProofStore) *ProofStore {
	return &ProofStore{
		db:    db,
		clock: time.Now,
	}
}

// decodeRows decodes the stored proofs, checking them against their digest.
func decodeRows(digests, blobs [][]byte) ([]*proof.Proof, error) {
	proofs := make([]*proof.Proof, 0, len(blobs))
	for i, blob := range blobs {
		p, err := proof.Decode(blob)
		if err != nil {
			return nil, fmt.Errorf("unable to decode proof: %w", err)
		}

		d := p.Digest()
		if string(d[:]) != string(digests[i]) {
			return nil, fmt.Errorf("stored proof digest mismatch: "+
				"%x vs %v", digests[i], d)
		}

		proofs = append(proofs, p)
	}
	return proofs, nil
}

// FetchProofs returns all proofs filed under the outpoint, in insertion
// order.
//
// NOTE: This implements the proof.Fetcher interface.
func (s *ProofStore) FetchProofs(ctx context.Context,
	op wire.OutPoint) ([]*proof.Proof, error) {

	var (
		digests, blobs [][]byte
		readOpts       = NewProofStoreReadTx()
	)
	err := s.db.ExecTx(ctx, &readOpts, func(q ProofStoreQueries) error {
		digests, blobs = nil, nil

		rows, err := q.FetchProofsByOutPoint(ctx, OutPointQuery{
			Txid:        op.Hash[:],
			OutputIndex: int32(op.Index),
		})
		if err != nil {
			return err
		}

		for _, row := range rows {
			digests = append(digests, row.Digest)
			blobs = append(blobs, row.ProofBytes)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to fetch proofs for %v: %w", op,
			err)
	}

	return decodeRows(digests, blobs)
}

// FetchBurns returns all proofs anchored in txid that carry burn entries.
func (s *ProofStore) FetchBurns(ctx context.Context,
	txid chainhash.Hash) ([]*proof.Proof, error) {

	var (
		digests, blobs [][]byte
		readOpts       = NewProofStoreReadTx()
	)
	err := s.db.ExecTx(ctx, &readOpts, func(q ProofStoreQueries) error {
		digests, blobs = nil, nil

		rows, err := q.FetchBurnProofs(ctx, txid[:])
		if err != nil {
			return err
		}

		for _, row := range rows {
			digests = append(digests, row.Digest)
			blobs = append(blobs, row.ProofBytes)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to fetch burns of %v: %w", txid,
			err)
	}

	return decodeRows(digests, blobs)
}

// SaveProof stores the proof and files it under every outpoint it assigns
// assets to. Saving a proof twice is a no-op, a copy anchored in another
// transaction is stored separately.
//
// NOTE: This implements the proof.Archiver interface.
func (s *ProofStore) SaveProof(ctx context.Context, p *proof.Proof) error {
	if p.AnchorTxid == (chainhash.Hash{}) {
		return proof.ErrUnanchored
	}
	if err := p.Validate(); err != nil {
		return err
	}

	proofBytes, err := p.Bytes()
	if err != nil {
		return err
	}
	digest := p.Digest()

	var writeTxOpts ProofStoreTxOptions
	err = s.db.ExecTx(ctx, &writeTxOpts, func(q ProofStoreQueries) error {
		proofID, err := q.UpsertProof(ctx, NewProof{
			Digest:     digest[:],
			AnchorTxid: p.AnchorTxid[:],
			HasBurns:   p.HasBurns(),
			IsGenesis:  p.IsGenesis(),
			ProofBytes: proofBytes,
			CreatedAt:  s.clock().UTC(),
		})
		if err != nil {
			return fmt.Errorf("unable to insert proof: %w", err)
		}

		for _, op := range p.OutPoints() {
			err := q.InsertProofOutPoint(ctx, ProofOutPoint{
				ProofID:     proofID,
				Txid:        op.Hash[:],
				OutputIndex: int32(op.Index),
			})
			if err != nil {
				return fmt.Errorf("unable to file proof under "+
					"%v: %w", op, err)
			}
		}

		if !p.IsGenesis() {
			return nil
		}

		contract := p.Contract
		assetID := contract.AssetID()
		return q.UpsertContract(ctx, NewContract{
			AssetID:        assetID[:],
			Title:          contract.Title,
			TotalSupply:    int64(contract.TotalSupply),
			Network:        int16(contract.Network),
			GenesisProofID: proofID,
		})
	})
	if err != nil {
		return MapSQLError(err)
	}

	log.Debugf("Stored proof %v anchored in %v", digest, p.AnchorTxid)

	return nil
}

// contractFromRow turns a stored contract back into its asset form. Only
// the parts needed for display are stored, the genesis outpoints live in
// the genesis proof.
func contractFromRow(row ContractRow) (asset.ID, *asset.Contract) {
	var id asset.ID
	copy(id[:], row.AssetID)

	return id, &asset.Contract{
		Title:       row.Title,
		TotalSupply: uint64(row.TotalSupply),
		Network:     asset.Network(row.Network),
	}
}

// FetchContracts returns the title, supply and network of every asset we
// hold a genesis proof of.
func (s *ProofStore) FetchContracts(
	ctx context.Context) (map[asset.ID]*asset.Contract, error) {

	contracts := make(map[asset.ID]*asset.Contract)
	readOpts := NewProofStoreReadTx()
	err := s.db.ExecTx(ctx, &readOpts, func(q ProofStoreQueries) error {
		rows, err := q.FetchContracts(ctx)
		if err != nil {
			return err
		}

		for _, row := range rows {
			id, contract := contractFromRow(row)
			contracts[id] = contract
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return contracts, nil
}

// A compile-time interface to ensure ProofStore meets the proof.Archiver
// interface.
var _ proof.Archiver = (*ProofStore)(nil)
