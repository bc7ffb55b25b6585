package sqlc

import (
	"context"
)

type Querier interface {
	FetchBurnProofs(ctx context.Context, anchorTxid []byte) ([]FetchBurnProofsRow, error)
	FetchContracts(ctx context.Context) ([]Contract, error)
	FetchProofsByOutPoint(ctx context.Context, arg FetchProofsByOutPointParams) ([]FetchProofsByOutPointRow, error)
	InsertProofOutPoint(ctx context.Context, arg InsertProofOutPointParams) error
	UpsertContract(ctx context.Context, arg UpsertContractParams) error
	UpsertProof(ctx context.Context, arg UpsertProofParams) (int64, error)
}

var _ Querier = (*Queries)(nil)
