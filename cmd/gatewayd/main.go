// Command gatewayd serves the EVM token payment gateway over HTTP.
//
// Configuration comes from EVMPAY_* environment variables, optionally loaded
// from a .env file. Orders live in memory unless DATABASE_URL is set, and
// the settlement guard uses Redis when REDIS_URL is set.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stcchain/evmpay"
	"github.com/stcchain/evmpay/extensions/idempotency"
	evmhttp "github.com/stcchain/evmpay/http"
	echoadapter "github.com/stcchain/evmpay/http/echo"
	ginadapter "github.com/stcchain/evmpay/http/gin"
	"github.com/stcchain/evmpay/mechanisms/evm"
	"github.com/stcchain/evmpay/pkg/stdlib"
	"github.com/stcchain/evmpay/pkg/tokenmetadata"
	gormstore "github.com/stcchain/evmpay/stores/gorm"
	"github.com/stcchain/evmpay/stores/memory"
)

const (
	envPort         = "PORT"
	envDatabaseURL  = "DATABASE_URL"
	envRedisURL     = "REDIS_URL"
	envRouter       = "EVMPAY_ROUTER"
	envAllowOrigins = "EVMPAY_ALLOW_ORIGINS"
	envRateLimit    = "EVMPAY_RATE_LIMIT"
	envDemoOrder    = "EVMPAY_DEMO_ORDER_TOTAL"
	envDebug        = "EVMPAY_DEBUG"

	defaultPort = "8080"
)

type store interface {
	evmpay.OrderStore
	evmpay.PendingMarker
}

func main() {
	os.Exit(serve())
}

// serve runs the gateway and returns the process exit code. The logger is
// flushed before it returns.
func serve() int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		return 1
	}

	logger, err := newLogger(os.Getenv(envDebug) != "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Error("gateway stopped", zap.Error(err))
		return 1
	}
	return 0
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := evmpay.LoadSettingsFromEnv()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	secret := settings.NonceSecret
	if secret == "" {
		secret, err = evmhttp.RandomSecret()
		if err != nil {
			return err
		}
		logger.Warn("no nonce secret configured; issued nonces will not survive a restart",
			zap.String("env", evmpay.EnvNonceSecret))
	}
	nonces, err := evmhttp.NewNonceManager([]byte(secret))
	if err != nil {
		return err
	}

	orders, err := openStore(ctx, settings.Currency, logger)
	if err != nil {
		return err
	}

	guard, closeGuard, err := openGuard(ctx, logger)
	if err != nil {
		return err
	}
	defer closeGuard()

	settler := evmpay.NewSettler(orders, guard, nonces,
		evmpay.WithLogger(logger),
		evmpay.WithReturnBaseURL(settings.ReturnBaseURL),
	)

	if settings.RPCURL != "" {
		client, err := ethclient.DialContext(ctx, settings.RPCURL)
		if err != nil {
			return fmt.Errorf("dial rpc: %w", err)
		}
		defer client.Close()

		checkToken(ctx, client, settings, logger)
		if settings.VerifyOnchain {
			settler.OnBeforeSettle(evm.NewReceiptVerifier(client, settings, logger).Hook())
			logger.Info("on-chain receipt verification enabled", zap.String("network", settings.NetworkID.CAIP2()))
		}
	}

	svc := evmhttp.NewPaymentService(settler, orders, settings, nonces, evmhttp.WithServiceLogger(logger))

	handler, err := newHandler(svc, logger)
	if err != nil {
		return err
	}

	port := os.Getenv(envPort)
	if port == "" {
		port = defaultPort
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			zap.String("addr", srv.Addr),
			zap.String("network", settings.NetworkID.CAIP2()),
			zap.Bool("enabled", settings.Enabled),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// checkToken logs the token's on-chain metadata and warns when the configured
// decimals disagree with the contract.
func checkToken(ctx context.Context, client *ethclient.Client, settings evmpay.GatewaySettings, logger *zap.Logger) {
	chainID, err := settings.NetworkID.ChainID()
	if err != nil {
		return
	}
	metadata, err := tokenmetadata.NewClient(client, chainID).CheckDecimals(ctx, settings.ContractAddress, settings.TokenDecimals)
	if metadata == nil {
		logger.Warn("could not read token metadata", zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.String("chain", tokenmetadata.ChainName(chainID)),
		zap.String("token", metadata.TokenAddress),
		zap.String("symbol", metadata.Symbol),
		zap.Int("decimals", metadata.Decimals),
	}
	if err != nil {
		logger.Warn("token decimals mismatch; order amounts will be wrong", append(fields, zap.Error(err))...)
		return
	}
	logger.Info("token metadata", fields...)
}

func openStore(ctx context.Context, currency string, logger *zap.Logger) (store, error) {
	if dsn := os.Getenv(envDatabaseURL); dsn != "" {
		db, err := gormstore.Open(dsn)
		if err != nil {
			return nil, err
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("using database order store")
		return gormstore.New(db), nil
	}

	orders := memory.NewStore()
	if raw := os.Getenv(envDemoOrder); raw != "" {
		total, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envDemoOrder, err)
		}
		order, err := orders.Create(ctx, "wc_order_demo", total, currency)
		if err != nil {
			return nil, err
		}
		logger.Info("seeded demo order",
			zap.Uint64("order_id", order.ID),
			zap.String("order_key", order.OrderKey),
			zap.String("total", total.String()),
		)
	}
	logger.Warn("using in-memory order store; orders are lost on restart")
	return orders, nil
}

func openGuard(ctx context.Context, logger *zap.Logger) (evmpay.OrderGuard, func(), error) {
	raw := os.Getenv(envRedisURL)
	if raw == "" {
		return idempotency.NewInMemoryGuard(), func() {}, nil
	}

	opt, err := redis.ParseURL(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", envRedisURL, err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("using redis settlement guard", zap.String("addr", opt.Addr))
	return idempotency.NewRedisGuard(client), func() { _ = client.Close() }, nil
}

func newHandler(svc *evmhttp.PaymentService, logger *zap.Logger) (http.Handler, error) {
	var origins []string
	if raw := os.Getenv(envAllowOrigins); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
	}

	var rateLimit float64
	if raw := os.Getenv(envRateLimit); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envRateLimit, err)
		}
		rateLimit = v
	}
	secure := len(origins) > 0 && strings.HasPrefix(origins[0], "https://")

	switch strings.ToLower(os.Getenv(envRouter)) {
	case "", "gin":
		return ginadapter.NewRouter(svc, ginadapter.Config{
			AllowOrigins:  origins,
			RateLimit:     rateLimit,
			SecureCookies: secure,
			Logger:        logger,
		}), nil
	case "echo":
		return echoadapter.NewEcho(svc, echoadapter.Config{
			AllowOrigins:  origins,
			RateLimit:     rateLimit,
			SecureCookies: secure,
			Logger:        logger,
		}), nil
	case "stdlib":
		if len(origins) > 0 || rateLimit > 0 {
			logger.Warn("stdlib router has no CORS or rate limiting; settings ignored",
				zap.Strings(envAllowOrigins, origins),
				zap.Float64(envRateLimit, rateLimit),
			)
		}
		return stdlib.NewHandler(svc,
			stdlib.WithSecureCookies(secure),
			stdlib.WithLogger(logger),
		), nil
	default:
		return nil, fmt.Errorf("%s: unknown router %q", envRouter, os.Getenv(envRouter))
	}
}
