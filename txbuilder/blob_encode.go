package txbuilder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethpandaops/blob-sender/kzg"
)

type BlobEncoding string

const (
	// BlobEncodingPacked stores 31 data bytes per field element, so any input
	// yields a valid blob.
	BlobEncodingPacked BlobEncoding = "packed"
	// BlobEncodingRaw copies the input as is; every 32 byte chunk must be a
	// canonical field element.
	BlobEncodingRaw BlobEncoding = "raw"
)

func ParseBlobEncoding(name string) (BlobEncoding, error) {
	switch BlobEncoding(name) {
	case BlobEncodingPacked, "":
		return BlobEncodingPacked, nil
	case BlobEncodingRaw:
		return BlobEncodingRaw, nil
	}
	return "", fmt.Errorf("unknown blob encoding: %v", name)
}

func (encoding BlobEncoding) MaxDataSize() int {
	if encoding == BlobEncodingRaw {
		return kzg.BlobSize
	}
	return kzg.MaxPackedDataSize
}

type BlobCommitment struct {
	Blob          kzg.Blob
	Commitment    kzg.Commitment
	Proof         kzg.Proof
	VersionedHash common.Hash
}

func EncodeBlob(kzgCtx *kzg.Context, data []byte, encoding BlobEncoding) (*BlobCommitment, error) {
	var blob *kzg.Blob
	var err error
	switch encoding {
	case BlobEncodingRaw:
		if len(data) > kzg.BlobSize {
			return nil, fmt.Errorf("%w: blob data longer than allowed (length: %v, limit: %v)", kzg.ErrInvalidBlob, len(data), kzg.BlobSize)
		}
		raw := make([]byte, kzg.BlobSize)
		copy(raw, data)
		blob, err = kzg.NewBlob(raw)
	default:
		blob, err = kzg.PackBlob(data)
	}
	if err != nil {
		return nil, err
	}

	blobCommitment := BlobCommitment{Blob: *blob}

	// generate blob commitment
	blobCommitment.Commitment, err = kzgCtx.Commit(blob)
	if err != nil {
		return nil, fmt.Errorf("failed generating blob commitment: %w", err)
	}

	// generate blob proof
	blobCommitment.Proof, err = kzgCtx.Prove(blob, blobCommitment.Commitment)
	if err != nil {
		return nil, fmt.Errorf("failed generating blob proof: %w", err)
	}

	// build versioned hash
	blobCommitment.VersionedHash = kzg.VersionedHash(blobCommitment.Commitment)
	return &blobCommitment, nil
}
