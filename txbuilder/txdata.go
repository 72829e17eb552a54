package txbuilder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/ethpandaops/blob-sender/kzg"
)

// TxMetadata holds the caller supplied transaction parameters. Chain id and
// nonce are stamped later by the wallet.
type TxMetadata struct {
	GasTipCap  *uint256.Int // a.k.a. maxPriorityFeePerGas
	GasFeeCap  *uint256.Int // a.k.a. maxFeePerGas
	BlobFeeCap *uint256.Int // a.k.a. maxFeePerBlobGas
	Gas        uint64
	To         *common.Address
	Value      *uint256.Int
	Data       []byte
	AccessList types.AccessList
}

// BlobTransaction is the unsigned EIP-4844 payload. The field order is the
// RLP field order of the consensus encoding and must not be changed.
type BlobTransaction struct {
	ChainID    *uint256.Int
	Nonce      uint64
	GasTipCap  *uint256.Int // a.k.a. maxPriorityFeePerGas
	GasFeeCap  *uint256.Int // a.k.a. maxFeePerGas
	Gas        uint64
	To         common.Address
	Value      *uint256.Int
	Data       []byte
	AccessList types.AccessList
	BlobFeeCap *uint256.Int // a.k.a. maxFeePerBlobGas
	BlobHashes []common.Hash
}

// Signature holds a recoverable secp256k1 signature. YParity is 0 or 1.
type Signature struct {
	YParity uint8
	R       [32]byte
	S       [32]byte
}

type SignedTransaction struct {
	Tx        BlobTransaction
	Signature Signature
}

// BlobSidecar holds the parallel blob, commitment and proof lists carried in
// the network wrapper.
type BlobSidecar struct {
	Blobs       []kzg.Blob
	Commitments []kzg.Commitment
	Proofs      []kzg.Proof
}

type NetworkTransaction struct {
	SignedTransaction
	Sidecar *BlobSidecar
}

func (sc *BlobSidecar) Len() int {
	return len(sc.Blobs)
}

func (sc *BlobSidecar) BlobHashes() []common.Hash {
	hashes := make([]common.Hash, len(sc.Commitments))
	for i := range sc.Commitments {
		hashes[i] = kzg.VersionedHash(sc.Commitments[i])
	}
	return hashes
}

// Verify checks every blob against its commitment and proof.
func (sc *BlobSidecar) Verify(kzgCtx *kzg.Context) error {
	if len(sc.Commitments) != len(sc.Blobs) || len(sc.Proofs) != len(sc.Blobs) {
		return fmt.Errorf("%w: sidecar length mismatch (blobs: %v, commitments: %v, proofs: %v)", ErrEncoding, len(sc.Blobs), len(sc.Commitments), len(sc.Proofs))
	}
	for i := range sc.Blobs {
		commitment, err := kzgCtx.Commit(&sc.Blobs[i])
		if err != nil {
			return fmt.Errorf("blob %v: %w", i, err)
		}
		if commitment != sc.Commitments[i] {
			return fmt.Errorf("%w: blob %v does not match its commitment", ErrEncoding, i)
		}
		ok, err := kzgCtx.Verify(&sc.Blobs[i], sc.Commitments[i], sc.Proofs[i])
		if err != nil {
			return fmt.Errorf("blob %v: %w", i, err)
		}
		if !ok {
			return fmt.Errorf("%w: blob %v proof does not verify", ErrEncoding, i)
		}
	}
	return nil
}
