// Command evmpay pays a store order from a local key.
//
// It fetches the order's payment configuration from the gateway, sends the
// token transfer through an RPC node and reports the transaction hash back
// to the gateway's settlement endpoint.
//
//	EVMPAY_PRIVATE_KEY=0x... evmpay -server https://shop.example -order 42 -rpc https://bsc-dataseed.binance.org
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/stcchain/evmpay"
	evmhttp "github.com/stcchain/evmpay/http"
	"github.com/stcchain/evmpay/mechanisms/evm"
	evmsigner "github.com/stcchain/evmpay/signers/evm"
)

const envPrivateKey = "EVMPAY_PRIVATE_KEY"

type options struct {
	server  string
	orderID uint64
	rpcURL  string
	key     string
	wait    bool
	timeout time.Duration
	verbose bool
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.server, "server", "http://localhost:8080", "gateway base URL")
	flag.Uint64Var(&opts.orderID, "order", 0, "order id to pay")
	flag.StringVar(&opts.rpcURL, "rpc", os.Getenv(evmpay.EnvRPCURL), "JSON-RPC endpoint of the token's chain")
	flag.StringVar(&opts.key, "key", "", "hex private key (default $"+envPrivateKey+")")
	flag.BoolVar(&opts.wait, "wait", false, "wait for the transfer to be mined before reporting it")
	flag.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall timeout")
	flag.BoolVar(&opts.verbose, "v", false, "verbose logging")
	flag.Parse()

	if opts.key == "" {
		opts.key = os.Getenv(envPrivateKey)
	}

	logger := zap.NewNop()
	if opts.verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
			os.Exit(1)
		}
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	redirect, err := pay(ctx, opts, logger)
	if err != nil {
		var perr *evmpay.PaymentError
		if errors.As(err, &perr) {
			fmt.Fprintf(os.Stderr, "payment failed [%s]: %s\n", perr.Code, perr.Message)
		} else {
			fmt.Fprintf(os.Stderr, "payment failed: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Println(redirect)
}

func pay(ctx context.Context, opts options, logger *zap.Logger) (string, error) {
	switch {
	case opts.orderID == 0:
		return "", errors.New("-order is required")
	case opts.rpcURL == "":
		return "", errors.New("-rpc is required")
	case opts.key == "":
		return "", fmt.Errorf("-key or %s is required", envPrivateKey)
	}

	client, err := ethclient.DialContext(ctx, opts.rpcURL)
	if err != nil {
		return "", fmt.Errorf("dial rpc: %w", err)
	}
	defer client.Close()

	wallet, err := evmsigner.NewKeyWallet(opts.key, client)
	if err != nil {
		return "", err
	}

	gateway, err := evmhttp.NewSettlementClient(opts.server)
	if err != nil {
		return "", err
	}

	cfg, err := gateway.FetchConfig(ctx, opts.orderID)
	if err != nil {
		return "", err
	}
	logger.Info("payment config",
		zap.Uint64("order_id", cfg.OrderID),
		zap.String("network", string(cfg.NetworkID)),
		zap.String("token_amount", cfg.TokenAmount),
		zap.String("payer", wallet.Address()),
	)

	if err := checkBalance(ctx, wallet, cfg); err != nil {
		return "", err
	}

	initiator := evm.NewPaymentInitiator(wallet,
		evm.WithContractABI(cfg.ABI),
		evm.WithReporter(gateway),
		evm.WithInitiatorLogger(logger),
	)

	if !opts.wait {
		resp, err := initiator.Pay(ctx, *cfg)
		if err != nil {
			return "", err
		}
		return resp.Data.Redirect, nil
	}

	if err := initiator.ValidateNetwork(ctx, cfg.NetworkID); err != nil {
		return "", err
	}
	tx, err := initiator.SubmitOrderPayment(ctx, cfg.OrderID, cfg.Amount, cfg.TargetAddress, cfg.ContractAddress, cfg.TokenDecimals)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "sent %s, waiting for receipt\n", tx)

	receipt, err := wallet.WaitForReceipt(ctx, tx.String(), 2*time.Second)
	if err != nil {
		return "", err
	}
	if receipt.Status != evm.TxStatusSuccess {
		return "", fmt.Errorf("transaction %s reverted in block %d", tx, receipt.BlockNumber)
	}

	resp, err := gateway.ReportSettlement(ctx, cfg.Nonce, cfg.OrderID, tx)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", evmpay.NewPaymentError(resp.Data.Code, resp.Data.Message, map[string]interface{}{"tx": tx.String()})
	}
	return resp.Data.Redirect, nil
}

func checkBalance(ctx context.Context, wallet *evmsigner.KeyWallet, cfg *evmpay.PaymentConfig) error {
	want, ok := new(big.Int).SetString(cfg.TokenAmount, 10)
	if !ok {
		return fmt.Errorf("gateway returned invalid token amount %q", cfg.TokenAmount)
	}
	have, err := wallet.TokenBalance(ctx, cfg.ContractAddress, evm.ERC20BalanceOfABI)
	if err != nil {
		return fmt.Errorf("read token balance: %w", err)
	}
	if have.Cmp(want) < 0 {
		return fmt.Errorf("insufficient token balance: have %s, need %s",
			evm.FormatAmount(have, cfg.TokenDecimals), evm.FormatAmount(want, cfg.TokenDecimals))
	}
	return nil
}
