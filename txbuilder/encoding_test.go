package txbuilder

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/blob-sender/kzg"
)

const testPrivkey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

var (
	testKzgOnce sync.Once
	testKzgCtx  *kzg.Context
	testKzgErr  error
)

func testKzgContext(t *testing.T) *kzg.Context {
	t.Helper()
	testKzgOnce.Do(func() {
		testKzgCtx, testKzgErr = kzg.NewEmbeddedContext()
	})
	require.NoError(t, testKzgErr)
	return testKzgCtx
}

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.HexToECDSA(testPrivkey)
	require.NoError(t, err)
	return key
}

func testWallet(t *testing.T, chainId int64, nonce uint64) *Wallet {
	t.Helper()
	wallet, err := NewWallet(testPrivkey)
	require.NoError(t, err)
	wallet.SetChainId(big.NewInt(chainId))
	wallet.SetNonce(nonce)
	return wallet
}

// buildTestTx builds an unsigned transaction with the given blob refs.
func buildTestTx(t *testing.T, blobRefs ...[]string) (*BlobTransaction, *BlobSidecar) {
	t.Helper()
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	tx, sidecar, err := NewBlobBuilder(testKzgContext(t), BlobEncodingPacked).BuildBlobTx(context.Background(), &TxMetadata{
		GasTipCap:  uint256.NewInt(1_000_000_000),
		GasFeeCap:  uint256.NewInt(20_000_000_000),
		BlobFeeCap: uint256.NewInt(0xffff),
		Gas:        21000,
		To:         &to,
		Value:      uint256.NewInt(0),
	}, blobRefs)
	require.NoError(t, err)
	return tx, sidecar
}

func buildSignedTestTx(t *testing.T, blobRefs ...[]string) *NetworkTransaction {
	t.Helper()
	tx, sidecar := buildTestTx(t, blobRefs...)
	signed, err := testWallet(t, 5, 0).BuildBlobTx(tx)
	require.NoError(t, err)
	return &NetworkTransaction{
		SignedTransaction: *signed,
		Sidecar:           sidecar,
	}
}

func TestGoldenConsensusForm(t *testing.T) {
	tx, _ := buildTestTx(t, []string{"zero"})
	tx.ChainID = uint256.NewInt(5)
	tx.Nonce = 0

	consensus, err := EncodeConsensusForm(tx)
	require.NoError(t, err)
	assert.Equal(t,
		"0x03f84d0580843b9aca008504a817c8008252089411111111111111111111111111111111111111118080c082ffffe1a0010657f37554c781402a22917dee2f75def7ab966d7b770905398eba3c444014",
		hexutil.Encode(consensus),
	)

	digest, err := SigningHash(tx)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x51dfecc31b88e953e89cbef5da444cff2233f5c879273cb010174e933e4f6713"), digest)

	again, err := EncodeConsensusForm(tx)
	require.NoError(t, err)
	assert.Equal(t, consensus, again)
}

func TestZeroValuesEncodeAsEmptyStrings(t *testing.T) {
	tx, _ := buildTestTx(t, []string{"zero"})
	tx.ChainID = uint256.NewInt(1)

	consensus, err := EncodeConsensusForm(tx)
	require.NoError(t, err)
	require.Equal(t, BlobTxType, consensus[0])

	var fields []rlp.RawValue
	require.NoError(t, rlp.DecodeBytes(consensus[1:], &fields))
	require.Len(t, fields, 11)

	assert.Equal(t, []byte{0x80}, []byte(fields[1]), "nonce")
	assert.Equal(t, []byte{0x80}, []byte(fields[6]), "value")
	assert.Equal(t, []byte{0x80}, []byte(fields[7]), "data")
	assert.Equal(t, []byte{0xc0}, []byte(fields[8]), "access list")
}

func TestEncodingFormsDiffer(t *testing.T) {
	ntx := buildSignedTestTx(t, []string{"0x010203"}, []string{"random:512"})

	consensus, err := EncodeConsensusForm(&ntx.Tx)
	require.NoError(t, err)
	signed, err := EncodeSignedTx(&ntx.SignedTransaction)
	require.NoError(t, err)
	wrapper, err := EncodeNetworkWrapper(ntx)
	require.NoError(t, err)

	assert.NotEqual(t, consensus, wrapper)
	assert.NotEqual(t, consensus, signed)
	assert.NotEqual(t, signed, wrapper)
	assert.Greater(t, len(wrapper), 2*kzg.BlobSize)

	// everything in the consensus form can be recovered from the wrapper
	decoded, err := DecodeNetworkWrapper(wrapper)
	require.NoError(t, err)
	recovered, err := EncodeConsensusForm(&decoded.Tx)
	require.NoError(t, err)
	assert.Equal(t, consensus, recovered)

	// the wrapper embeds the signed form as its first element
	var outer []rlp.RawValue
	require.NoError(t, rlp.DecodeBytes(wrapper[1:], &outer))
	require.Len(t, outer, 4)
	assert.Equal(t, signed[1:], []byte(outer[0]))
}

func TestOnlyConsensusFormVerifies(t *testing.T) {
	ntx := buildSignedTestTx(t, []string{"zero"})
	expected := crypto.PubkeyToAddress(testKey(t).PublicKey)

	sender, err := ntx.Sender()
	require.NoError(t, err)
	assert.Equal(t, expected, sender)

	wrapper, err := EncodeNetworkWrapper(ntx)
	require.NoError(t, err)
	recovered, err := recoverDigest(crypto.Keccak256(wrapper), ntx.Signature)
	if err == nil {
		assert.NotEqual(t, expected, recovered)
	}

	_, err = SignConsensusForm(wrapper, testKey(t))
	require.ErrorIs(t, err, ErrSigning)
}

func TestNetworkWrapperRoundTrip(t *testing.T) {
	tx, sidecar := buildTestTx(t, []string{"repeat:0x42:1337"}, []string{"0xdeadbeef", "random:100"}, []string{"copy:0"})
	tx.Value = uint256.NewInt(12345)
	tx.Data = []byte{0xca, 0xfe}
	tx.AccessList = types.AccessList{{
		Address:     common.HexToAddress("0x2222222222222222222222222222222222222222"),
		StorageKeys: []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")},
	}}
	signed, err := testWallet(t, 17000, 42).BuildBlobTx(tx)
	require.NoError(t, err)
	ntx := &NetworkTransaction{SignedTransaction: *signed, Sidecar: sidecar}

	wrapper, err := EncodeNetworkWrapper(ntx)
	require.NoError(t, err)

	decoded, err := DecodeNetworkWrapper(wrapper)
	require.NoError(t, err)
	assert.Equal(t, ntx.Tx, decoded.Tx)
	assert.Equal(t, ntx.Signature, decoded.Signature)
	assert.Equal(t, ntx.Sidecar.Blobs, decoded.Sidecar.Blobs)
	assert.Equal(t, ntx.Sidecar.Commitments, decoded.Sidecar.Commitments)
	assert.Equal(t, ntx.Sidecar.Proofs, decoded.Sidecar.Proofs)
	require.NoError(t, decoded.Sidecar.Verify(testKzgContext(t)))

	// copy:0 reuses the first blob
	assert.Equal(t, sidecar.Commitments[0], sidecar.Commitments[2])
}

func TestSignedTxRoundTrip(t *testing.T) {
	ntx := buildSignedTestTx(t, []string{"0x01"})

	signed, err := EncodeSignedTx(&ntx.SignedTransaction)
	require.NoError(t, err)

	decoded, err := DecodeSignedTx(signed)
	require.NoError(t, err)
	assert.Equal(t, ntx.SignedTransaction, *decoded)

	hash, err := TxHash(&ntx.SignedTransaction)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(signed), hash)
}

func TestMatchesGethEncoding(t *testing.T) {
	ntx := buildSignedTestTx(t, []string{"0xc0ffee"}, []string{"zero"})
	tx := &ntx.Tx

	gethSidecar := &types.BlobTxSidecar{}
	for i := range ntx.Sidecar.Blobs {
		gethSidecar.Blobs = append(gethSidecar.Blobs, kzg4844.Blob(ntx.Sidecar.Blobs[i]))
		gethSidecar.Commitments = append(gethSidecar.Commitments, kzg4844.Commitment(ntx.Sidecar.Commitments[i]))
		gethSidecar.Proofs = append(gethSidecar.Proofs, kzg4844.Proof(ntx.Sidecar.Proofs[i]))
	}
	signer := types.NewCancunSigner(tx.ChainID.ToBig())
	gethTx, err := types.SignNewTx(testKey(t), signer, &types.BlobTx{
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
		Sidecar:    gethSidecar,
	})
	require.NoError(t, err)

	signingHash, err := SigningHash(tx)
	require.NoError(t, err)
	assert.Equal(t, signer.Hash(gethTx), signingHash)

	txHash, err := TxHash(&ntx.SignedTransaction)
	require.NoError(t, err)
	assert.Equal(t, gethTx.Hash(), txHash)

	v, r, s := gethTx.RawSignatureValues()
	assert.Equal(t, uint64(ntx.Signature.YParity), v.Uint64())
	assert.Equal(t, ntx.Signature.R, uint256.MustFromBig(r).Bytes32())
	assert.Equal(t, ntx.Signature.S, uint256.MustFromBig(s).Bytes32())

	gethWrapper, err := gethTx.MarshalBinary()
	require.NoError(t, err)
	wrapper, err := EncodeNetworkWrapper(ntx)
	require.NoError(t, err)
	assert.Equal(t, gethWrapper, wrapper)

	gethSigned, err := gethTx.WithoutBlobTxSidecar().MarshalBinary()
	require.NoError(t, err)
	signed, err := EncodeSignedTx(&ntx.SignedTransaction)
	require.NoError(t, err)
	assert.Equal(t, gethSigned, signed)
}

func TestEncodingErrors(t *testing.T) {
	base := buildSignedTestTx(t, []string{"0x01"}, []string{"0x02"})

	cases := map[string]func(ntx *NetworkTransaction){
		"missing chain id": func(ntx *NetworkTransaction) {
			ntx.Tx.ChainID = nil
		},
		"missing tip cap": func(ntx *NetworkTransaction) {
			ntx.Tx.GasTipCap = nil
		},
		"missing fee cap": func(ntx *NetworkTransaction) {
			ntx.Tx.GasFeeCap = nil
		},
		"missing value": func(ntx *NetworkTransaction) {
			ntx.Tx.Value = nil
		},
		"missing blob fee cap": func(ntx *NetworkTransaction) {
			ntx.Tx.BlobFeeCap = nil
		},
		"no blob hashes": func(ntx *NetworkTransaction) {
			ntx.Tx.BlobHashes = nil
		},
		"too many blob hashes": func(ntx *NetworkTransaction) {
			for len(ntx.Tx.BlobHashes) <= MaxBlobsPerTransaction {
				ntx.Tx.BlobHashes = append(ntx.Tx.BlobHashes, ntx.Tx.BlobHashes[0])
			}
		},
		"bad hash version": func(ntx *NetworkTransaction) {
			ntx.Tx.BlobHashes = []common.Hash{{0x02}, ntx.Tx.BlobHashes[1]}
		},
		"invalid y parity": func(ntx *NetworkTransaction) {
			ntx.Signature.YParity = 27
		},
		"missing sidecar": func(ntx *NetworkTransaction) {
			ntx.Sidecar = nil
		},
		"missing proof": func(ntx *NetworkTransaction) {
			ntx.Sidecar.Proofs = ntx.Sidecar.Proofs[:1]
		},
		"extra blob": func(ntx *NetworkTransaction) {
			ntx.Sidecar.Blobs = append(ntx.Sidecar.Blobs, kzg.Blob{})
		},
		"swapped commitments": func(ntx *NetworkTransaction) {
			ntx.Sidecar.Commitments = []kzg.Commitment{ntx.Sidecar.Commitments[1], ntx.Sidecar.Commitments[0]}
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			sidecar := *base.Sidecar
			ntx := &NetworkTransaction{SignedTransaction: base.SignedTransaction, Sidecar: &sidecar}
			ntx.Tx.BlobHashes = append([]common.Hash{}, base.Tx.BlobHashes...)
			mutate(ntx)

			_, err := EncodeNetworkWrapper(ntx)
			require.ErrorIs(t, err, ErrEncoding)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	ntx := buildSignedTestTx(t, []string{"0x01"})
	wrapper, err := EncodeNetworkWrapper(ntx)
	require.NoError(t, err)
	signed, err := EncodeSignedTx(&ntx.SignedTransaction)
	require.NoError(t, err)

	fields, err := ntx.fields()
	require.NoError(t, err)
	fiveElements, err := typedEnvelope([]interface{}{fields, ntx.Sidecar.Blobs, ntx.Sidecar.Commitments, ntx.Sidecar.Proofs, []byte{}})
	require.NoError(t, err)
	shortCommitment, err := typedEnvelope([]interface{}{fields, ntx.Sidecar.Blobs, [][]byte{ntx.Sidecar.Commitments[0][:47]}, ntx.Sidecar.Proofs})
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":             {},
		"legacy type":       append([]byte{0x02}, wrapper[1:]...),
		"trailing bytes":    append(append([]byte{}, wrapper...), 0x00),
		"truncated":         wrapper[:len(wrapper)/2],
		"signed form":       signed,
		"five elements":     fiveElements,
		"short commitment":  shortCommitment,
		"not a list":        {BlobTxType, 0x82, 0x01, 0x02},
		"garbage after tag": {BlobTxType, 0xff},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeNetworkWrapper(input)
			require.ErrorIs(t, err, ErrEncoding)
		})
	}

	_, err = DecodeSignedTx(wrapper)
	require.ErrorIs(t, err, ErrEncoding)
}
