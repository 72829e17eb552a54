package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/ethpandaops/blob-sender/config"
	"github.com/ethpandaops/blob-sender/kzg"
	"github.com/ethpandaops/blob-sender/txbuilder"
	"github.com/ethpandaops/blob-sender/utils"
)

type CliArgs struct {
	configPath string
	envFile    string
	verbose    bool
	trace      bool

	rpchost      string
	privkey      string
	trustedSetup string
	timeout      time.Duration

	txTo         string
	txValue      uint64
	txData       string
	txBlobs      []string
	blobEncoding string
	gaslimit     uint64
	maxfeepergas float64
	maxpriofee   float64
	maxblobfee   float64

	output   bool
	chainid  uint64
	nonce    uint64
	addnonce int64
}

func main() {
	err := run(context.Background(), os.Args[1:], os.Stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logrus.Errorf("%v", err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (*CliArgs, *flag.FlagSet, error) {
	cliArgs := &CliArgs{}
	flags := flag.NewFlagSet("blob-sender", flag.ContinueOnError)

	flags.StringVarP(&cliArgs.configPath, "config", "c", "", "Path to a yaml config file.")
	flags.StringVar(&cliArgs.envFile, "env-file", ".env", "Path to a .env file (ignored if missing).")
	flags.BoolVarP(&cliArgs.verbose, "verbose", "v", false, "Run the script with verbose output")
	flags.BoolVar(&cliArgs.trace, "trace", false, "Run the script with tracing output")

	flags.StringVarP(&cliArgs.rpchost, "rpchost", "r", "", "The RPC host to send the transaction to. (env: RPC_URL)")
	flags.StringVarP(&cliArgs.privkey, "privkey", "p", "", "The private key of the sending wallet. (env: OWNER_PRIVATE_KEY)")
	flags.StringVarP(&cliArgs.trustedSetup, "trusted-setup", "s", "", "Path to the KZG trusted setup (json or text format), or \"embedded\". (env: TRUSTED_SETUP_PATH)")
	flags.DurationVar(&cliArgs.timeout, "timeout", 0, "Timeout for each RPC request. (env: RPC_TIMEOUT)")

	flags.StringVarP(&cliArgs.txTo, "to", "t", "", "The transaction to address. (default: sending wallet)")
	flags.Uint64VarP(&cliArgs.txValue, "value", "a", 0, "The transaction value in wei.")
	flags.StringVarP(&cliArgs.txData, "data", "d", "", "The transaction calldata.")
	flags.StringArrayVarP(&cliArgs.txBlobs, "blobs", "b", []string{}, "The blobs to reference in the transaction, one flag per blob.\nA blob is a comma separated list of refs: 0x<hex>, file:<path>, url:<url>, repeat:0x<hex>:<count>, random[:<len>], copy:<idx>, zero")
	flags.StringVar(&cliArgs.blobEncoding, "blob-encoding", "", "How blob data is laid out in field elements: packed or raw.")
	flags.Uint64Var(&cliArgs.gaslimit, "gaslimit", 0, "The gas limit for the transaction.")
	flags.Float64Var(&cliArgs.maxfeepergas, "maxfeepergas", 0, "The maximum fee per gas in gwei. (default: suggested by node)")
	flags.Float64Var(&cliArgs.maxpriofee, "maxpriofee", 0, "The maximum priority fee per gas in gwei. (default: suggested by node)")
	flags.Float64Var(&cliArgs.maxblobfee, "maxblobfee", 0, "The maximum fee per blob gas in gwei. (default: suggested by node)")

	flags.BoolVarP(&cliArgs.output, "output", "o", false, "Output the signed transaction to stdout instead of broadcasting it (offline mode).")
	flags.Uint64Var(&cliArgs.chainid, "chainid", 0, "ChainID of the network (For offline mode in combination with --output or to override the node's chain id)")
	flags.Uint64Var(&cliArgs.nonce, "nonce", 0, "Current nonce of the wallet (For offline mode in combination with --output)")
	flags.Int64Var(&cliArgs.addnonce, "addnonce", 0, "Nonce offset to use for the transaction (useful for replacement transactions)")

	err := flags.Parse(args)
	if err != nil {
		return nil, nil, err
	}
	return cliArgs, flags, nil
}

// loadConfig layers the command line on top of the config file and environment.
func loadConfig(cliArgs *CliArgs, flags *flag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(cliArgs.configPath, cliArgs.envFile)
	if err != nil {
		return nil, err
	}

	if flags.Changed("rpchost") {
		cfg.RpcUrl = cliArgs.rpchost
	}
	if flags.Changed("privkey") {
		cfg.PrivateKey = cliArgs.privkey
	}
	if flags.Changed("trusted-setup") {
		cfg.TrustedSetupPath = cliArgs.trustedSetup
	}
	if flags.Changed("timeout") {
		cfg.RpcTimeout = cliArgs.timeout
	}
	if flags.Changed("to") {
		cfg.Tx.To = cliArgs.txTo
	}
	if flags.Changed("value") {
		cfg.Tx.Value = cliArgs.txValue
	}
	if flags.Changed("data") {
		cfg.Tx.Data = cliArgs.txData
	}
	if flags.Changed("blobs") {
		cfg.Tx.Blobs = cliArgs.txBlobs
	}
	if flags.Changed("blob-encoding") {
		cfg.Tx.BlobEncoding = cliArgs.blobEncoding
	}
	if flags.Changed("gaslimit") {
		cfg.Tx.GasLimit = cliArgs.gaslimit
	}
	if flags.Changed("maxfeepergas") {
		cfg.Tx.MaxFeePerGas = cliArgs.maxfeepergas
	}
	if flags.Changed("maxpriofee") {
		cfg.Tx.MaxPrioFee = cliArgs.maxpriofee
	}
	if flags.Changed("maxblobfee") {
		cfg.Tx.MaxBlobFee = cliArgs.maxblobfee
	}

	err = cfg.Validate(cliArgs.output)
	if err != nil {
		return nil, err
	}
	if cliArgs.output && cliArgs.chainid == 0 {
		return nil, fmt.Errorf("%w: --chainid is required in offline mode", config.ErrConfig)
	}
	if cfg.Tx.To != "" && !common.IsHexAddress(cfg.Tx.To) {
		return nil, fmt.Errorf("%w: invalid to address: %v", config.ErrConfig, cfg.Tx.To)
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cliArgs, flags, err := parseArgs(args)
	if err != nil {
		return err
	}

	if cliArgs.trace {
		logrus.SetLevel(logrus.TraceLevel)
	} else if cliArgs.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.Debugf("blob-sender %v", utils.GetBuildVersion())

	cfg, err := loadConfig(cliArgs, flags)
	if err != nil {
		return err
	}

	blobEncoding, err := txbuilder.ParseBlobEncoding(cfg.Tx.BlobEncoding)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfig, err)
	}

	kzgCtx, err := kzg.LoadTrustedSetup(cfg.TrustedSetupPath)
	if err != nil {
		return err
	}
	logrus.Debugf("using trusted setup: %v", kzgCtx.Source())

	wallet, err := txbuilder.NewWallet(cfg.PrivateKey)
	if err != nil {
		return err
	}

	var client *txbuilder.Client
	if !cliArgs.output {
		client, err = txbuilder.NewClient(cfg.RpcUrl)
		if err != nil {
			return err
		}
		defer client.Close()
		client.Timeout = cfg.RpcTimeout

		err = client.UpdateWallet(ctx, wallet)
		if err != nil {
			return err
		}
	}
	if cliArgs.chainid != 0 {
		wallet.SetChainId(new(big.Int).SetUint64(cliArgs.chainid))
	}
	if flags.Changed("nonce") {
		wallet.SetNonce(cliArgs.nonce)
	}
	if cliArgs.addnonce != 0 {
		nonce, err := addNonceOffset(wallet.GetNonce(), cliArgs.addnonce)
		if err != nil {
			return err
		}
		wallet.SetNonce(nonce)
	}

	txMetadata, err := buildTxMetadata(ctx, cfg, wallet, client)
	if err != nil {
		return err
	}

	blobRefs := [][]string{}
	for _, blobRef := range cfg.Tx.Blobs {
		blobRefs = append(blobRefs, strings.Split(blobRef, ","))
	}
	if len(blobRefs) == 0 {
		blobRefs = append(blobRefs, []string{"zero"})
	}

	txData, sidecar, err := txbuilder.NewBlobBuilder(kzgCtx, blobEncoding).BuildBlobTx(ctx, txMetadata, blobRefs)
	if err != nil {
		return err
	}
	tx, err := wallet.BuildBlobTx(txData)
	if err != nil {
		return err
	}
	err = sidecar.Verify(kzgCtx)
	if err != nil {
		return err
	}

	ntx := &txbuilder.NetworkTransaction{
		SignedTransaction: *tx,
		Sidecar:           sidecar,
	}
	txBytes, err := txbuilder.EncodeNetworkWrapper(ntx)
	if err != nil {
		return err
	}
	txHash, err := txbuilder.TxHash(tx)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"hash":  txHash.String(),
		"from":  wallet.GetAddress().String(),
		"nonce": tx.Tx.Nonce,
		"blobs": sidecar.Len(),
	}).Debugf("built blob transaction")

	if cliArgs.output {
		fmt.Fprintln(stdout, hexutil.Encode(txBytes))
		return nil
	}

	submittedHash, err := client.SubmitTransaction(ctx, txBytes)
	if err != nil {
		return err
	}
	if submittedHash != txHash {
		logrus.Warnf("node reported tx hash %v, expected %v", submittedHash.String(), txHash.String())
	}
	fmt.Fprintf(stdout, "TX: %v\n", submittedHash.String())
	return nil
}

func addNonceOffset(nonce uint64, offset int64) (uint64, error) {
	if offset < 0 {
		// -(offset+1) stays in range for math.MinInt64
		sub := uint64(-(offset + 1)) + 1
		if sub > nonce {
			return 0, fmt.Errorf("%w: cannot use negative nonce", config.ErrConfig)
		}
		return nonce - sub, nil
	}
	if uint64(offset) > math.MaxUint64-nonce {
		return 0, fmt.Errorf("%w: nonce overflows", config.ErrConfig)
	}
	return nonce + uint64(offset), nil
}

// buildTxMetadata fills in fees, asking the node for every fee not given
// explicitly. Offline mode falls back to fixed defaults instead.
func buildTxMetadata(ctx context.Context, cfg *config.Config, wallet *txbuilder.Wallet, client *txbuilder.Client) (*txbuilder.TxMetadata, error) {
	toAddr := wallet.GetAddress()
	if cfg.Tx.To != "" {
		toAddr = common.HexToAddress(cfg.Tx.To)
	}

	txMetadata := &txbuilder.TxMetadata{
		GasTipCap:  utils.GweiToWei(cfg.Tx.MaxPrioFee),
		GasFeeCap:  utils.GweiToWei(cfg.Tx.MaxFeePerGas),
		BlobFeeCap: utils.GweiToWei(cfg.Tx.MaxBlobFee),
		Gas:        cfg.Tx.GasLimit,
		To:         &toAddr,
		Value:      uint256.NewInt(cfg.Tx.Value),
		Data:       common.FromHex(cfg.Tx.Data),
	}

	if client == nil {
		if cfg.Tx.MaxPrioFee == 0 {
			txMetadata.GasTipCap = utils.GweiToWei(config.DefaultMaxPrioFee)
		}
		if cfg.Tx.MaxFeePerGas == 0 {
			txMetadata.GasFeeCap = utils.GweiToWei(config.DefaultMaxFeePerGas)
		}
		if cfg.Tx.MaxBlobFee == 0 {
			txMetadata.BlobFeeCap = utils.GweiToWei(config.DefaultMaxBlobFee)
		}
		return txMetadata, nil
	}

	if cfg.Tx.MaxPrioFee == 0 || cfg.Tx.MaxFeePerGas == 0 {
		feeCap, tipCap, err := client.GetSuggestedFee(ctx)
		if err != nil {
			return nil, err
		}
		if cfg.Tx.MaxPrioFee == 0 {
			txMetadata.GasTipCap = tipCap
		}
		if cfg.Tx.MaxFeePerGas == 0 {
			txMetadata.GasFeeCap = feeCap
		}
	}
	if cfg.Tx.MaxBlobFee == 0 {
		blobFeeCap, err := client.GetBlobFeeCap(ctx)
		if err != nil {
			return nil, err
		}
		txMetadata.BlobFeeCap = blobFeeCap
	}

	logrus.Debugf("fees: maxfeepergas %v gwei, maxpriofee %v gwei, maxblobfee %v gwei",
		utils.WeiToGwei(txMetadata.GasFeeCap), utils.WeiToGwei(txMetadata.GasTipCap), utils.WeiToGwei(txMetadata.BlobFeeCap))
	return txMetadata, nil
}
