package txbuilder

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

type Wallet struct {
	privkey *ecdsa.PrivateKey
	address common.Address
	chainid *big.Int
	nonce   uint64
}

func NewWallet(privkey string) (*Wallet, error) {
	wallet := &Wallet{}
	err := wallet.loadPrivateKey(privkey)
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

func (wallet *Wallet) loadPrivateKey(privkey string) error {
	privkey = strings.TrimPrefix(strings.TrimSpace(privkey), "0x")
	if privkey == "" {
		return fmt.Errorf("%w: no private key specified", ErrSigning)
	}
	privateKey, err := crypto.HexToECDSA(privkey)
	if err != nil {
		return fmt.Errorf("%w: malformed private key: %v", ErrSigning, err)
	}

	wallet.privkey = privateKey
	wallet.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	return nil
}

func (wallet *Wallet) GetAddress() common.Address {
	return wallet.address
}

func (wallet *Wallet) GetChainId() *big.Int {
	return wallet.chainid
}

func (wallet *Wallet) GetNonce() uint64 {
	return wallet.nonce
}

func (wallet *Wallet) SetChainId(chainid *big.Int) {
	wallet.chainid = chainid
}

func (wallet *Wallet) SetNonce(nonce uint64) {
	wallet.nonce = nonce
}

// BuildBlobTx stamps the wallet's chain id and nonce onto tx and signs it.
// The nonce is only advanced when signing succeeded.
func (wallet *Wallet) BuildBlobTx(tx *BlobTransaction) (*SignedTransaction, error) {
	if wallet.chainid == nil {
		return nil, fmt.Errorf("%w: wallet chain id not set", ErrSigning)
	}
	chainId, overflow := uint256.FromBig(wallet.chainid)
	if overflow || wallet.chainid.Sign() <= 0 {
		return nil, fmt.Errorf("%w: invalid chain id %v", ErrSigning, wallet.chainid)
	}
	tx.ChainID = chainId
	tx.Nonce = wallet.nonce

	signedTx, err := wallet.SignTx(tx)
	if err != nil {
		return nil, err
	}
	wallet.nonce++
	return signedTx, nil
}

func (wallet *Wallet) SignTx(tx *BlobTransaction) (*SignedTransaction, error) {
	consensus, err := EncodeConsensusForm(tx)
	if err != nil {
		return nil, err
	}
	sig, err := SignConsensusForm(consensus, wallet.privkey)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{
		Tx:        *tx,
		Signature: sig,
	}, nil
}

// SignConsensusForm signs keccak256(consensus) with key. The input has to be
// the consensus form; a network wrapper is rejected.
func SignConsensusForm(consensus []byte, key *ecdsa.PrivateKey) (Signature, error) {
	if key == nil {
		return Signature{}, fmt.Errorf("%w: no private key", ErrSigning)
	}
	payload, err := splitTypedEnvelope(consensus)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	wrapped, err := isNetworkWrapper(payload)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	if wrapped {
		return Signature{}, fmt.Errorf("%w: refusing to sign a network wrapper", ErrSigning)
	}

	sig, err := crypto.Sign(crypto.Keccak256(consensus), key)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	recoveryId := sig[crypto.RecoveryIDOffset]
	if recoveryId >= 27 {
		recoveryId -= 27
	}
	if recoveryId > 1 {
		return Signature{}, fmt.Errorf("%w: unexpected recovery id %v", ErrSigning, sig[crypto.RecoveryIDOffset])
	}

	signature := Signature{YParity: recoveryId}
	copy(signature.R[:], sig[0:32])
	copy(signature.S[:], sig[32:64])
	return signature, nil
}

// RecoverSigner returns the address that produced sig over tx's consensus form.
func RecoverSigner(tx *BlobTransaction, sig Signature) (common.Address, error) {
	digest, err := SigningHash(tx)
	if err != nil {
		return common.Address{}, err
	}
	return recoverDigest(digest[:], sig)
}

func recoverDigest(digest []byte, sig Signature) (common.Address, error) {
	r := new(big.Int).SetBytes(sig.R[:])
	s := new(big.Int).SetBytes(sig.S[:])
	if !crypto.ValidateSignatureValues(sig.YParity, r, s, true) {
		return common.Address{}, fmt.Errorf("%w: invalid signature values", ErrSigning)
	}
	raw := make([]byte, crypto.SignatureLength)
	copy(raw[0:32], sig.R[:])
	copy(raw[32:64], sig.S[:])
	raw[crypto.RecoveryIDOffset] = sig.YParity

	pubkey, err := crypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return crypto.PubkeyToAddress(*pubkey), nil
}

func (stx *SignedTransaction) Sender() (common.Address, error) {
	return RecoverSigner(&stx.Tx, stx.Signature)
}

