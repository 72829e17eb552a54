package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{"OWNER_PRIVATE_KEY", "RPC_URL", "TRUSTED_SETUP_PATH", "RPC_TIMEOUT"}

// clearEnv removes the config variables for the duration of the test,
// including values godotenv sets while loading.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		value, ok := os.LookupEnv(key)
		require.NoError(t, os.Unsetenv(key))
		t.Cleanup(func() {
			if ok {
				os.Setenv(key, value)
			} else {
				os.Unsetenv(key)
			}
		})
	}
}

func writeFile(t *testing.T, name string, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 30*time.Second, cfg.RpcTimeout)
	assert.Equal(t, "packed", cfg.Tx.BlobEncoding)
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)

	configFile := writeFile(t, "config.yaml", `
privateKey: "0xaaaa"
rpcUrl: "http://file:8545"
trustedSetupPath: "file-setup.txt"
rpcTimeout: 5s
tx:
  to: "0x1111111111111111111111111111111111111111"
  blobs:
    - "zero"
    - "0x0102,random:10"
  gasLimit: 21000
  maxBlobFee: 3.5
`)
	envFile := writeFile(t, ".env", "OWNER_PRIVATE_KEY=0xbbbb\nRPC_URL=http://dotenv:8545\n")
	t.Setenv("RPC_URL", "http://env:8545")

	cfg, err := Load(configFile, envFile)
	require.NoError(t, err)

	assert.Equal(t, "0xbbbb", cfg.PrivateKey, ".env overrides the config file")
	assert.Equal(t, "http://env:8545", cfg.RpcUrl, "environment overrides .env")
	assert.Equal(t, "file-setup.txt", cfg.TrustedSetupPath)
	assert.Equal(t, 5*time.Second, cfg.RpcTimeout)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", cfg.Tx.To)
	assert.Equal(t, []string{"zero", "0x0102,random:10"}, cfg.Tx.Blobs)
	assert.Equal(t, uint64(21000), cfg.Tx.GasLimit)
	assert.Equal(t, 3.5, cfg.Tx.MaxBlobFee)
	assert.Equal(t, "packed", cfg.Tx.BlobEncoding)
}

func TestLoadEnvTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("RPC_TIMEOUT", "1m30s")
	t.Setenv("TRUSTED_SETUP_PATH", "embedded")

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.RpcTimeout)
	assert.Equal(t, "embedded", cfg.TrustedSetupPath)

	t.Setenv("RPC_TIMEOUT", "soon")
	_, err = Load("", "")
	require.ErrorIs(t, err, ErrConfig)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.ErrorIs(t, err, ErrConfig)

	_, err = Load(writeFile(t, "bad.yaml", "rpcUrl: [1, 2"), "")
	require.ErrorIs(t, err, ErrConfig)

	_, err = Load(writeFile(t, "unknown.yaml", "rpcHost: http://localhost:8545\n"), "")
	require.ErrorIs(t, err, ErrConfig)

	cfg, err := Load(writeFile(t, "empty.yaml", ""), "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.PrivateKey = "0xaaaa"
		cfg.RpcUrl = "http://localhost:8545"
		cfg.TrustedSetupPath = "embedded"
		return cfg
	}
	require.NoError(t, valid().Validate(false))

	cases := map[string]func(cfg *Config){
		"missing private key":   func(cfg *Config) { cfg.PrivateKey = "" },
		"missing trusted setup": func(cfg *Config) { cfg.TrustedSetupPath = "" },
		"missing rpc url":       func(cfg *Config) { cfg.RpcUrl = "" },
		"negative timeout":      func(cfg *Config) { cfg.RpcTimeout = -time.Second },
		"negative fee":          func(cfg *Config) { cfg.Tx.MaxPrioFee = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			require.ErrorIs(t, cfg.Validate(false), ErrConfig)
		})
	}

	offline := valid()
	offline.RpcUrl = ""
	require.NoError(t, offline.Validate(true))
}
