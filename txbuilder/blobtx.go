package txbuilder

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	mathRand "math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ethpandaops/blob-sender/kzg"
)

// BlobBuilder turns blob references into committed sidecar entries.
//
// Each blob is described by a list of refs whose bytes are concatenated:
//
//	0x<hex>                 literal bytes
//	file:<path>             file contents
//	url:<http url>          response body
//	repeat:0x<hex>:<count>  hex bytes repeated count times
//	random[:<length>]       random bytes, random length if omitted
//	copy:<index>            data of an earlier blob of the same transaction
//	zero                    no data (all-zero blob)
type BlobBuilder struct {
	kzgCtx     *kzg.Context
	encoding   BlobEncoding
	httpClient *http.Client
	sources    [][]byte
	tx         *BlobTransaction
	sidecar    *BlobSidecar
}

func NewBlobBuilder(kzgCtx *kzg.Context, encoding BlobEncoding) *BlobBuilder {
	return &BlobBuilder{
		kzgCtx:     kzgCtx,
		encoding:   encoding,
		httpClient: http.DefaultClient,
	}
}

// BuildBlobTx assembles an unsigned blob transaction and its sidecar. Chain
// id and nonce are left for the wallet.
func (builder *BlobBuilder) BuildBlobTx(ctx context.Context, txData *TxMetadata, blobRefs [][]string) (*BlobTransaction, *BlobSidecar, error) {
	if txData.To == nil {
		return nil, nil, fmt.Errorf("to cannot be nil for blob transaction")
	}
	if len(blobRefs) == 0 {
		return nil, nil, fmt.Errorf("%w: blob transaction needs at least one blob", ErrEncoding)
	}
	if len(blobRefs) > MaxBlobsPerTransaction {
		return nil, nil, fmt.Errorf("%w: too many blobs (%v, limit: %v)", ErrEncoding, len(blobRefs), MaxBlobsPerTransaction)
	}

	builder.sources = make([][]byte, 0, len(blobRefs))
	builder.tx = &BlobTransaction{
		GasTipCap:  valueOrZero(txData.GasTipCap),
		GasFeeCap:  valueOrZero(txData.GasFeeCap),
		Gas:        txData.Gas,
		To:         *txData.To,
		Value:      valueOrZero(txData.Value),
		Data:       txData.Data,
		AccessList: txData.AccessList,
		BlobFeeCap: valueOrZero(txData.BlobFeeCap),
		BlobHashes: make([]common.Hash, 0, len(blobRefs)),
	}
	builder.sidecar = &BlobSidecar{
		Blobs:       make([]kzg.Blob, 0, len(blobRefs)),
		Commitments: make([]kzg.Commitment, 0, len(blobRefs)),
		Proofs:      make([]kzg.Proof, 0, len(blobRefs)),
	}

	for idx, blobRef := range blobRefs {
		err := builder.parseBlobRefs(ctx, blobRef)
		if err != nil {
			return nil, nil, fmt.Errorf("blob %v: %w", idx, err)
		}
	}

	return builder.tx, builder.sidecar, nil
}

func valueOrZero(val *uint256.Int) *uint256.Int {
	if val == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(val)
}

func (builder *BlobBuilder) parseBlobRefs(ctx context.Context, blobRefs []string) error {
	var err error
	var blobBytes []byte

	for _, blobRef := range blobRefs {
		var blobRefBytes []byte
		if strings.HasPrefix(blobRef, "0x") {
			blobRefBytes = common.FromHex(blobRef)
		} else {
			refParts := strings.Split(blobRef, ":")
			switch refParts[0] {
			case "zero":
				blobRefBytes = []byte{}
			case "file":
				blobRefBytes, err = os.ReadFile(strings.Join(refParts[1:], ":"))
				if err != nil {
					return err
				}
			case "url":
				blobRefBytes, err = builder.loadUrlRef(ctx, strings.Join(refParts[1:], ":"))
				if err != nil {
					return err
				}
			case "repeat":
				if len(refParts) != 3 {
					return fmt.Errorf("invalid repeat ref format: %v", blobRef)
				}
				repeatCount, err := strconv.Atoi(refParts[2])
				if err != nil || repeatCount < 0 {
					return fmt.Errorf("invalid repeat count: %v", refParts[2])
				}
				repeatBytes := common.FromHex(refParts[1])
				repeatBytesLen := len(repeatBytes)
				remaining := builder.encoding.MaxDataSize() - len(blobBytes)
				if repeatBytesLen > 0 && repeatCount > remaining/repeatBytesLen {
					return fmt.Errorf("repeat ref exceeds blob size: %v", blobRef)
				}
				blobRefBytes = bytes.Repeat(repeatBytes, repeatCount)
			case "random":
				var blobLen int
				if len(refParts) > 1 {
					blobLen, err = strconv.Atoi(refParts[1])
					if err != nil || blobLen < 0 {
						return fmt.Errorf("invalid random length: %v", refParts[1])
					}
					if blobLen > builder.encoding.MaxDataSize()-len(blobBytes) {
						return fmt.Errorf("random ref exceeds blob size: %v", blobRef)
					}
				} else {
					remaining := builder.encoding.MaxDataSize() - len(blobBytes)
					if remaining > 0 {
						blobLen = mathRand.Intn(remaining)
					}
				}
				blobRefBytes, err = randomBlobData(blobLen)
				if err != nil {
					return err
				}
			case "copy":
				if len(refParts) != 2 {
					return fmt.Errorf("invalid copy ref format: %v", blobRef)
				}
				copyIdx, err := strconv.Atoi(refParts[1])
				if err != nil {
					return fmt.Errorf("invalid copy index: %v", refParts[1])
				}
				if copyIdx < 0 || copyIdx >= len(builder.sources) {
					return fmt.Errorf("invalid copy index: %v must be smaller than current blob index", refParts[1])
				}
				blobRefBytes = builder.sources[copyIdx]
			}
		}

		if blobRefBytes == nil {
			return fmt.Errorf("unknown blob ref: %v", blobRef)
		}
		blobBytes = append(blobBytes, blobRefBytes...)
	}

	blobCommitment, err := EncodeBlob(builder.kzgCtx, blobBytes, builder.encoding)
	if err != nil {
		return fmt.Errorf("invalid blob: %w", err)
	}

	builder.sources = append(builder.sources, blobBytes)
	builder.tx.BlobHashes = append(builder.tx.BlobHashes, blobCommitment.VersionedHash)
	builder.sidecar.Blobs = append(builder.sidecar.Blobs, blobCommitment.Blob)
	builder.sidecar.Commitments = append(builder.sidecar.Commitments, blobCommitment.Commitment)
	builder.sidecar.Proofs = append(builder.sidecar.Proofs, blobCommitment.Proof)
	return nil
}

func (builder *BlobBuilder) loadUrlRef(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	response, err := builder.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received http error: %v", response.Status)
	}
	return io.ReadAll(io.LimitReader(response.Body, int64(builder.encoding.MaxDataSize())+1))
}

func randomBlobData(size int) ([]byte, error) {
	data := make([]byte, size)
	n, err := rand.Read(data)
	if err != nil {
		return nil, err
	}
	if n != size {
		return nil, fmt.Errorf("could not create random blob data with size %d: %v", size, err)
	}
	return data, nil
}
