package kzg

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
)

const (
	BytesPerFieldElement = params.BlobTxBytesPerFieldElement
	FieldElementsPerBlob = params.BlobTxFieldElementsPerBlob
	BlobSize             = FieldElementsPerBlob * BytesPerFieldElement
	CommitmentSize       = 48
	ProofSize            = 48

	// usable bytes per field element when packing arbitrary data
	packedBytesPerElement = BytesPerFieldElement - 1
	MaxPackedDataSize     = FieldElementsPerBlob * packedBytesPerElement

	// VersionedHashVersionKZG is the EIP-4844 version byte of a KZG versioned hash.
	VersionedHashVersionKZG byte = 0x01
)

var ErrInvalidBlob = errors.New("invalid blob")

type Blob [BlobSize]byte
type Commitment [CommitmentSize]byte
type Proof [ProofSize]byte

// NewBlob copies raw into a blob. raw must be exactly BlobSize bytes and every
// 32 byte chunk must be a canonical BLS12-381 scalar.
func NewBlob(raw []byte) (*Blob, error) {
	if len(raw) != BlobSize {
		return nil, fmt.Errorf("%w: length %v, expected %v", ErrInvalidBlob, len(raw), BlobSize)
	}
	blob := new(Blob)
	copy(blob[:], raw)
	if err := ValidateBlob(blob); err != nil {
		return nil, err
	}
	return blob, nil
}

// PackBlob spreads data over the blob 31 bytes at a time, keeping the high
// byte of every field element zero so the result is always a valid blob.
func PackBlob(data []byte) (*Blob, error) {
	if len(data) > MaxPackedDataSize {
		return nil, fmt.Errorf("%w: packed data longer than allowed (length: %v, limit: %v)", ErrInvalidBlob, len(data), MaxPackedDataSize)
	}
	blob := new(Blob)
	for idx := 0; len(data) > 0; idx++ {
		n := copy(blob[idx*BytesPerFieldElement+1:(idx+1)*BytesPerFieldElement], data)
		data = data[n:]
	}
	return blob, nil
}

// UnpackBlob reverses PackBlob. The trailing zero padding cannot be told apart
// from data, so callers need to know the original length.
func UnpackBlob(blob *Blob, length int) ([]byte, error) {
	if length < 0 || length > MaxPackedDataSize {
		return nil, fmt.Errorf("%w: invalid packed length %v", ErrInvalidBlob, length)
	}
	data := make([]byte, 0, length)
	for idx := 0; len(data) < length; idx++ {
		element := blob[idx*BytesPerFieldElement : (idx+1)*BytesPerFieldElement]
		if element[0] != 0 {
			return nil, fmt.Errorf("%w: field element %v is not packed", ErrInvalidBlob, idx)
		}
		end := packedBytesPerElement
		if remaining := length - len(data); remaining < end {
			end = remaining
		}
		data = append(data, element[1:1+end]...)
	}
	return data, nil
}

func ValidateBlob(blob *Blob) error {
	if blob == nil {
		return fmt.Errorf("%w: nil blob", ErrInvalidBlob)
	}
	var element fr.Element
	for idx := 0; idx < FieldElementsPerBlob; idx++ {
		err := element.SetBytesCanonical(blob[idx*BytesPerFieldElement : (idx+1)*BytesPerFieldElement])
		if err != nil {
			return fmt.Errorf("%w: field element %v is not canonical: %v", ErrInvalidBlob, idx, err)
		}
	}
	return nil
}

// VersionedHash returns 0x01 followed by the last 31 bytes of sha256(commitment).
func VersionedHash(commitment Commitment) common.Hash {
	hash := common.Hash(sha256.Sum256(commitment[:]))
	hash[0] = VersionedHashVersionKZG
	return hash
}
