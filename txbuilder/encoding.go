package txbuilder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/ethpandaops/blob-sender/kzg"
)

const (
	BlobTxType byte = types.BlobTxType

	// per transaction blob limit of the Cancun fork
	MaxBlobsPerTransaction = 6
)

// signedTxFields is the RLP layout of a signed blob transaction: the consensus
// fields followed by yParity, r and s.
type signedTxFields struct {
	ChainID    *uint256.Int
	Nonce      uint64
	GasTipCap  *uint256.Int
	GasFeeCap  *uint256.Int
	Gas        uint64
	To         common.Address
	Value      *uint256.Int
	Data       []byte
	AccessList types.AccessList
	BlobFeeCap *uint256.Int
	BlobHashes []common.Hash
	YParity    uint8
	R          *uint256.Int
	S          *uint256.Int
}

// networkWrapper is the outer list of the network encoding.
type networkWrapper struct {
	Tx          *signedTxFields
	Blobs       []kzg.Blob
	Commitments []kzg.Commitment
	Proofs      []kzg.Proof
}

func (tx *BlobTransaction) validate() error {
	if tx.ChainID == nil {
		return fmt.Errorf("%w: missing chain id", ErrEncoding)
	}
	if tx.GasTipCap == nil || tx.GasFeeCap == nil || tx.Value == nil || tx.BlobFeeCap == nil {
		return fmt.Errorf("%w: missing fee or value field", ErrEncoding)
	}
	if len(tx.BlobHashes) == 0 {
		return fmt.Errorf("%w: blob transaction without blob hashes", ErrEncoding)
	}
	if len(tx.BlobHashes) > MaxBlobsPerTransaction {
		return fmt.Errorf("%w: too many blob hashes (%v, limit: %v)", ErrEncoding, len(tx.BlobHashes), MaxBlobsPerTransaction)
	}
	for i, hash := range tx.BlobHashes {
		if hash[0] != kzg.VersionedHashVersionKZG {
			return fmt.Errorf("%w: blob hash %v has unsupported version 0x%02x", ErrEncoding, i, hash[0])
		}
	}
	return nil
}

func (sig *Signature) validate() error {
	if sig.YParity > 1 {
		return fmt.Errorf("%w: invalid y parity %v", ErrEncoding, sig.YParity)
	}
	return nil
}

func typedEnvelope(payload interface{}) ([]byte, error) {
	body, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return append([]byte{BlobTxType}, body...), nil
}

// EncodeConsensusForm returns 0x03 || rlp(tx). This is the signing pre-image.
func EncodeConsensusForm(tx *BlobTransaction) ([]byte, error) {
	if err := tx.validate(); err != nil {
		return nil, err
	}
	return typedEnvelope(tx)
}

// EncodeSignedTx returns the canonical signed encoding without blobs, as it
// appears in blocks. Its keccak256 is the transaction hash.
func EncodeSignedTx(stx *SignedTransaction) ([]byte, error) {
	fields, err := stx.fields()
	if err != nil {
		return nil, err
	}
	return typedEnvelope(fields)
}

// EncodeNetworkWrapper returns 0x03 || rlp([signedTx, blobs, commitments, proofs]).
// This is the form accepted by eth_sendRawTransaction and must never be hashed
// for signing.
func EncodeNetworkWrapper(ntx *NetworkTransaction) ([]byte, error) {
	fields, err := ntx.fields()
	if err != nil {
		return nil, err
	}
	if err := validateSidecar(&ntx.Tx, ntx.Sidecar); err != nil {
		return nil, err
	}
	return typedEnvelope(&networkWrapper{
		Tx:          fields,
		Blobs:       ntx.Sidecar.Blobs,
		Commitments: ntx.Sidecar.Commitments,
		Proofs:      ntx.Sidecar.Proofs,
	})
}

func validateSidecar(tx *BlobTransaction, sidecar *BlobSidecar) error {
	if sidecar == nil {
		return fmt.Errorf("%w: missing blob sidecar", ErrEncoding)
	}
	count := len(tx.BlobHashes)
	if len(sidecar.Blobs) != count || len(sidecar.Commitments) != count || len(sidecar.Proofs) != count {
		return fmt.Errorf("%w: sidecar length mismatch (hashes: %v, blobs: %v, commitments: %v, proofs: %v)", ErrEncoding, count, len(sidecar.Blobs), len(sidecar.Commitments), len(sidecar.Proofs))
	}
	for i, hash := range sidecar.BlobHashes() {
		if hash != tx.BlobHashes[i] {
			return fmt.Errorf("%w: blob hash %v does not match commitment (have %v, want %v)", ErrEncoding, i, tx.BlobHashes[i], hash)
		}
	}
	return nil
}

func (stx *SignedTransaction) fields() (*signedTxFields, error) {
	if err := stx.Tx.validate(); err != nil {
		return nil, err
	}
	if err := stx.Signature.validate(); err != nil {
		return nil, err
	}
	tx := &stx.Tx
	return &signedTxFields{
		ChainID:    tx.ChainID,
		Nonce:      tx.Nonce,
		GasTipCap:  tx.GasTipCap,
		GasFeeCap:  tx.GasFeeCap,
		Gas:        tx.Gas,
		To:         tx.To,
		Value:      tx.Value,
		Data:       tx.Data,
		AccessList: tx.AccessList,
		BlobFeeCap: tx.BlobFeeCap,
		BlobHashes: tx.BlobHashes,
		YParity:    stx.Signature.YParity,
		R:          new(uint256.Int).SetBytes32(stx.Signature.R[:]),
		S:          new(uint256.Int).SetBytes32(stx.Signature.S[:]),
	}, nil
}

func (f *signedTxFields) signedTransaction() *SignedTransaction {
	stx := &SignedTransaction{
		Tx: BlobTransaction{
			ChainID:    f.ChainID,
			Nonce:      f.Nonce,
			GasTipCap:  f.GasTipCap,
			GasFeeCap:  f.GasFeeCap,
			Gas:        f.Gas,
			To:         f.To,
			Value:      f.Value,
			Data:       f.Data,
			AccessList: f.AccessList,
			BlobFeeCap: f.BlobFeeCap,
			BlobHashes: f.BlobHashes,
		},
		Signature: Signature{
			YParity: f.YParity,
			R:       f.R.Bytes32(),
			S:       f.S.Bytes32(),
		},
	}
	// the decoder yields empty slices where the encoder was given nil
	if len(stx.Tx.Data) == 0 {
		stx.Tx.Data = nil
	}
	if len(stx.Tx.AccessList) == 0 {
		stx.Tx.AccessList = nil
	}
	return stx
}

func splitTypedEnvelope(input []byte) ([]byte, error) {
	if len(input) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrEncoding)
	}
	if input[0] != BlobTxType {
		return nil, fmt.Errorf("%w: unexpected transaction type 0x%02x", ErrEncoding, input[0])
	}
	return input[1:], nil
}

// isNetworkWrapper reports whether the payload's first list element is itself
// a list, which only holds for the network encoding.
func isNetworkWrapper(payload []byte) (bool, error) {
	content, _, err := rlp.SplitList(payload)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	kind, _, _, err := rlp.Split(content)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return kind == rlp.List, nil
}

func DecodeSignedTx(input []byte) (*SignedTransaction, error) {
	payload, err := splitTypedEnvelope(input)
	if err != nil {
		return nil, err
	}
	wrapped, err := isNetworkWrapper(payload)
	if err != nil {
		return nil, err
	}
	if wrapped {
		return nil, fmt.Errorf("%w: input is a network wrapper, not a signed transaction", ErrEncoding)
	}
	fields := &signedTxFields{}
	if err := rlp.DecodeBytes(payload, fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	stx := fields.signedTransaction()
	if err := stx.Tx.validate(); err != nil {
		return nil, err
	}
	if err := stx.Signature.validate(); err != nil {
		return nil, err
	}
	return stx, nil
}

func DecodeNetworkWrapper(input []byte) (*NetworkTransaction, error) {
	payload, err := splitTypedEnvelope(input)
	if err != nil {
		return nil, err
	}
	wrapped, err := isNetworkWrapper(payload)
	if err != nil {
		return nil, err
	}
	if !wrapped {
		return nil, fmt.Errorf("%w: input is a signed transaction without blobs", ErrEncoding)
	}
	wrapper := &networkWrapper{}
	if err := rlp.DecodeBytes(payload, wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	ntx := &NetworkTransaction{
		SignedTransaction: *wrapper.Tx.signedTransaction(),
		Sidecar: &BlobSidecar{
			Blobs:       wrapper.Blobs,
			Commitments: wrapper.Commitments,
			Proofs:      wrapper.Proofs,
		},
	}
	if _, err := ntx.fields(); err != nil {
		return nil, err
	}
	if err := validateSidecar(&ntx.Tx, ntx.Sidecar); err != nil {
		return nil, err
	}
	return ntx, nil
}

// SigningHash is keccak256 over the consensus form.
func SigningHash(tx *BlobTransaction) (common.Hash, error) {
	consensus, err := EncodeConsensusForm(tx)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(consensus), nil
}

// TxHash is keccak256 over the signed form, the hash a node reports for the
// transaction.
func TxHash(stx *SignedTransaction) (common.Hash, error) {
	signed, err := EncodeSignedTx(stx)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(signed), nil
}
