package kzg

import (
	"errors"
	"fmt"

	gokzg4844 "github.com/crate-crypto/go-kzg-4844"
	"github.com/sirupsen/logrus"
)

var ErrSetupNotLoaded = errors.New("kzg trusted setup not loaded")

// Context holds a loaded trusted setup and can be reused for any number of
// blobs.
type Context struct {
	ctx    *gokzg4844.Context
	source string
}

// NewEmbeddedContext uses the mainnet ceremony output bundled with go-kzg-4844.
func NewEmbeddedContext() (*Context, error) {
	ctx, err := gokzg4844.NewContext4096Secure()
	if err != nil {
		return nil, fmt.Errorf("failed loading embedded trusted setup: %w", err)
	}
	return &Context{
		ctx:    ctx,
		source: "embedded",
	}, nil
}

// LoadTrustedSetup loads the trusted setup at path. The special path
// "embedded" selects the bundled mainnet setup.
func LoadTrustedSetup(path string) (*Context, error) {
	if path == "embedded" {
		return NewEmbeddedContext()
	}
	setup, err := readTrustedSetup(path)
	if err != nil {
		return nil, err
	}
	ctx, err := gokzg4844.NewContext4096(setup)
	if err != nil {
		return nil, fmt.Errorf("failed initializing trusted setup from %v: %w", path, err)
	}
	logrus.WithField("module", "kzg").Debugf("loaded trusted setup from %v", path)
	return &Context{
		ctx:    ctx,
		source: path,
	}, nil
}

func (c *Context) Source() string {
	if c == nil {
		return ""
	}
	return c.source
}

func (c *Context) loaded() error {
	if c == nil || c.ctx == nil {
		return ErrSetupNotLoaded
	}
	return nil
}

func (c *Context) Commit(blob *Blob) (Commitment, error) {
	if err := c.loaded(); err != nil {
		return Commitment{}, err
	}
	if err := ValidateBlob(blob); err != nil {
		return Commitment{}, err
	}
	commitment, err := c.ctx.BlobToKZGCommitment((*gokzg4844.Blob)(blob), 0)
	if err != nil {
		return Commitment{}, fmt.Errorf("failed generating blob commitment: %w", err)
	}
	return Commitment(commitment), nil
}

func (c *Context) Prove(blob *Blob, commitment Commitment) (Proof, error) {
	if err := c.loaded(); err != nil {
		return Proof{}, err
	}
	if err := ValidateBlob(blob); err != nil {
		return Proof{}, err
	}
	proof, err := c.ctx.ComputeBlobKZGProof((*gokzg4844.Blob)(blob), gokzg4844.KZGCommitment(commitment), 0)
	if err != nil {
		return Proof{}, fmt.Errorf("failed generating blob proof: %w", err)
	}
	return Proof(proof), nil
}

// Verify reports whether proof attests that commitment opens to blob. A
// malformed commitment or proof is reported as false, not as an error.
func (c *Context) Verify(blob *Blob, commitment Commitment, proof Proof) (bool, error) {
	if err := c.loaded(); err != nil {
		return false, err
	}
	if err := ValidateBlob(blob); err != nil {
		return false, err
	}
	err := c.ctx.VerifyBlobKZGProof((*gokzg4844.Blob)(blob), gokzg4844.KZGCommitment(commitment), gokzg4844.KZGProof(proof))
	return err == nil, nil
}
