package sqlc

import (
	"time"
)

type Contract struct {
	AssetID        []byte
	Title          string
	TotalSupply    int64
	Network        int16
	GenesisProofID int64
}

type Proof struct {
	ProofID    int64
	Digest     []byte
	AnchorTxid []byte
	HasBurns   bool
	IsGenesis  bool
	ProofBytes []byte
	CreatedAt  time.Time
}

type ProofOutpoint struct {
	ProofID     int64
	Txid        []byte
	OutputIndex int32
}
