package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

var ErrConfig = errors.New("invalid configuration")

// fee defaults used when no node is available to suggest fees (offline mode)
const (
	DefaultMaxFeePerGas = 20
	DefaultMaxPrioFee   = 1.2
	DefaultMaxBlobFee   = 10
)

// Config holds the sender settings. Secrets and endpoints can come from the
// environment, transaction settings only from the config file and flags.
type Config struct {
	PrivateKey       string        `yaml:"privateKey" envconfig:"OWNER_PRIVATE_KEY"`
	RpcUrl           string        `yaml:"rpcUrl" envconfig:"RPC_URL"`
	TrustedSetupPath string        `yaml:"trustedSetupPath" envconfig:"TRUSTED_SETUP_PATH"`
	RpcTimeout       time.Duration `yaml:"rpcTimeout" envconfig:"RPC_TIMEOUT"`

	Tx TxConfig `yaml:"tx" ignored:"true"`
}

type TxConfig struct {
	To           string   `yaml:"to"`
	Value        uint64   `yaml:"value"`
	Data         string   `yaml:"data"`
	Blobs        []string `yaml:"blobs"`
	BlobEncoding string   `yaml:"blobEncoding"`
	GasLimit     uint64   `yaml:"gasLimit"`

	// fees in gwei, 0 = ask the node
	MaxFeePerGas float64 `yaml:"maxFeePerGas"`
	MaxPrioFee   float64 `yaml:"maxPrioFee"`
	MaxBlobFee   float64 `yaml:"maxBlobFee"`
}

func Default() *Config {
	return &Config{
		RpcTimeout: 30 * time.Second,
		Tx: TxConfig{
			BlobEncoding: "packed",
			GasLimit:     500000,
		},
	}
}

// Load reads the config file (optional), the .env file (optional, missing is
// fine) and the process environment, in this order of precedence.
func Load(path string, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		err := readConfigFile(cfg, path)
		if err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		// godotenv never overrides variables already set in the environment
		err := godotenv.Load(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: error loading env file %v: %v", ErrConfig, envFile, err)
		}
	}

	err := envconfig.Process("", cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: error processing environment: %v", ErrConfig, err)
	}

	return cfg, nil
}

func readConfigFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: error opening config file %v: %v", ErrConfig, path, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	err = decoder.Decode(cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: error decoding config file %v: %v", ErrConfig, path, err)
	}
	return nil
}

// Validate checks that all required settings are present. The rpc url is not
// needed when transactions are only printed.
func (cfg *Config) Validate(offline bool) error {
	if cfg.PrivateKey == "" {
		return fmt.Errorf("%w: no private key specified (OWNER_PRIVATE_KEY)", ErrConfig)
	}
	if cfg.TrustedSetupPath == "" {
		return fmt.Errorf("%w: no trusted setup specified (TRUSTED_SETUP_PATH)", ErrConfig)
	}
	if !offline && cfg.RpcUrl == "" {
		return fmt.Errorf("%w: no rpc url specified (RPC_URL)", ErrConfig)
	}
	if cfg.RpcTimeout < 0 {
		return fmt.Errorf("%w: negative rpc timeout %v", ErrConfig, cfg.RpcTimeout)
	}
	if cfg.Tx.MaxFeePerGas < 0 || cfg.Tx.MaxPrioFee < 0 || cfg.Tx.MaxBlobFee < 0 {
		return fmt.Errorf("%w: fees cannot be negative", ErrConfig)
	}
	return nil
}
