package sqlc

import (
	"context"
	"time"
)

const fetchBurnProofs = `-- name: FetchBurnProofs :many
SELECT proof_id, digest, proof_bytes
FROM proofs
WHERE anchor_txid = $1 AND has_burns = TRUE
ORDER BY proof_id
`

type FetchBurnProofsRow struct {
	ProofID    int64
	Digest     []byte
	ProofBytes []byte
}

func (q *Queries) FetchBurnProofs(ctx context.Context, anchorTxid []byte) ([]FetchBurnProofsRow, error) {
	rows, err := q.db.QueryContext(ctx, fetchBurnProofs, anchorTxid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []FetchBurnProofsRow
	for rows.Next() {
		var i FetchBurnProofsRow
		if err := rows.Scan(&i.ProofID, &i.Digest, &i.ProofBytes); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const fetchContracts = `-- name: FetchContracts :many
SELECT asset_id, title, total_supply, network, genesis_proof_id
FROM contracts
ORDER BY title, asset_id
`

func (q *Queries) FetchContracts(ctx context.Context) ([]Contract, error) {
	rows, err := q.db.QueryContext(ctx, fetchContracts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Contract
	for rows.Next() {
		var i Contract
		if err := rows.Scan(
			&i.AssetID,
			&i.Title,
			&i.TotalSupply,
			&i.Network,
			&i.GenesisProofID,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const fetchProofsByOutPoint = `-- name: FetchProofsByOutPoint :many
SELECT proofs.proof_id, proofs.digest, proofs.proof_bytes
FROM proofs
JOIN proof_outpoints
    ON proof_outpoints.proof_id = proofs.proof_id
WHERE proof_outpoints.txid = $1 AND proof_outpoints.output_index = $2
ORDER BY proofs.proof_id
`

type FetchProofsByOutPointParams struct {
	Txid        []byte
	OutputIndex int32
}

type FetchProofsByOutPointRow struct {
	ProofID    int64
	Digest     []byte
	ProofBytes []byte
}

func (q *Queries) FetchProofsByOutPoint(ctx context.Context, arg FetchProofsByOutPointParams) ([]FetchProofsByOutPointRow, error) {
	rows, err := q.db.QueryContext(ctx, fetchProofsByOutPoint, arg.Txid, arg.OutputIndex)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []FetchProofsByOutPointRow
	for rows.Next() {
		var i FetchProofsByOutPointRow
		if err := rows.Scan(&i.ProofID, &i.Digest, &i.ProofBytes); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertProofOutPoint = `-- name: InsertProofOutPoint :exec
INSERT INTO proof_outpoints (
    proof_id, txid, output_index
) VALUES (
    $1, $2, $3
) ON CONFLICT DO NOTHING
`

type InsertProofOutPointParams struct {
	ProofID     int64
	Txid        []byte
	OutputIndex int32
}

func (q *Queries) InsertProofOutPoint(ctx context.Context, arg InsertProofOutPointParams) error {
	_, err := q.db.ExecContext(ctx, insertProofOutPoint, arg.ProofID, arg.Txid, arg.OutputIndex)
	return err
}

const upsertContract = `-- name: UpsertContract :exec
INSERT INTO contracts (
    asset_id, title, total_supply, network, genesis_proof_id
) VALUES (
    $1, $2, $3, $4, $5
) ON CONFLICT (asset_id) DO NOTHING
`

type UpsertContractParams struct {
	AssetID        []byte
	Title          string
	TotalSupply    int64
	Network        int16
	GenesisProofID int64
}

func (q *Queries) UpsertContract(ctx context.Context, arg UpsertContractParams) error {
	_, err := q.db.ExecContext(ctx, upsertContract,
		arg.AssetID,
		arg.Title,
		arg.TotalSupply,
		arg.Network,
		arg.GenesisProofID,
	)
	return err
}

const upsertProof = `-- name: UpsertProof :one
INSERT INTO proofs (
    digest, anchor_txid, has_burns, is_genesis, proof_bytes, created_at
) VALUES (
    $1, $2, $3, $4, $5, $6
)
ON CONFLICT (digest, anchor_txid)
    -- This is a no-op to allow returning the proof_id.
    DO UPDATE SET digest = EXCLUDED.digest
RETURNING proof_id
`

type UpsertProofParams struct {
	Digest     []byte
	AnchorTxid []byte
	HasBurns   bool
	IsGenesis  bool
	ProofBytes []byte
	CreatedAt  time.Time
}

func (q *Queries) UpsertProof(ctx context.Context, arg UpsertProofParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertProof,
		arg.Digest,
		arg.AnchorTxid,
		arg.HasBurns,
		arg.IsGenesis,
		arg.ProofBytes,
		arg.CreatedAt,
	)
	var proof_id int64
	err := row.Scan(&proof_id)
	return proof_id, err
}
