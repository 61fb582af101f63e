package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/ligun0805/pharos-autostake/internal/api"
	"github.com/ligun0805/pharos-autostake/internal/chain"
	"github.com/ligun0805/pharos-autostake/internal/config"
	"github.com/ligun0805/pharos-autostake/internal/httpx"
	"github.com/ligun0805/pharos-autostake/internal/logging"
	"github.com/ligun0805/pharos-autostake/internal/proxy"
	"github.com/ligun0805/pharos-autostake/internal/staking"
)

type cliFlags struct {
	configPath   string
	accounts     string
	proxies      string
	promptKey    bool
	debug        bool
	stakingCount int
	minDelay     int
	maxDelay     int
	usdc         float64
	usdt         float64
	musd         float64
	useProxy     bool
	rotateProxy  bool
	workers      int
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", getenv("CONFIG_FILE", ""), "Path to YAML config (optional)")
	flag.StringVar(&f.accounts, "accounts", "", "File with one private key per line (default accounts.txt)")
	flag.StringVar(&f.proxies, "proxies", "", "File with one proxy per line (default proxy.txt)")
	flag.BoolVar(&f.promptKey, "prompt-key", false, "Read one extra private key from the terminal")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.IntVar(&f.stakingCount, "staking-count", 0, "Staking rounds per wallet")
	flag.IntVar(&f.minDelay, "min-delay", 0, "Minimum delay between rounds and accounts (seconds)")
	flag.IntVar(&f.maxDelay, "max-delay", 0, "Maximum delay between rounds and accounts (seconds)")
	flag.Float64Var(&f.usdc, "usdc", 0, "USDC amount per round")
	flag.Float64Var(&f.usdt, "usdt", 0, "USDT amount per round")
	flag.Float64Var(&f.musd, "musd", 0, "MockUSD amount per round")
	flag.BoolVar(&f.useProxy, "use-proxy", false, "Route traffic through proxies")
	flag.BoolVar(&f.rotateProxy, "rotate-proxy", false, "Rotate to the next proxy on failures")
	flag.IntVar(&f.workers, "workers", 0, "Process this many wallets concurrently (default 1)")
	flag.Parse()
	return f
}

// apply copies explicitly set flags over the loaded settings.
func (f cliFlags) apply(st *config.Settings) {
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "accounts":
			st.AccountsFile = f.accounts
		case "proxies":
			st.ProxyFile = f.proxies
		case "staking-count":
			st.StakingCount = f.stakingCount
		case "min-delay":
			st.MinDelaySec = f.minDelay
		case "max-delay":
			st.MaxDelaySec = f.maxDelay
		case "usdc":
			st.USDCAmount = f.usdc
		case "usdt":
			st.USDTAmount = f.usdt
		case "musd":
			st.MUSDAmount = f.musd
		case "use-proxy":
			st.UseProxy = f.useProxy
		case "rotate-proxy":
			st.RotateProxy = f.rotateProxy
		case "workers":
			st.Workers = f.workers
		}
	})
	if f.debug {
		st.LogLevel = "debug"
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()
	f := parseFlags()

	st, err := config.Load(f.configPath)
	if err == nil {
		f.apply(&st)
		err = st.Validate()
	}
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	runID := uuid.NewString()
	logger := logging.New(os.Stderr, st.LogFormat, logging.ParseLevel(st.LogLevel)).With("run_id", runID)
	slog.SetDefault(logger)

	if err := run(logger, st, f.promptKey); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Interrupted")
			return
		}
		logger.Error("Run failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, st config.Settings, promptKey bool) error {
	keys, err := config.ReadLines(st.AccountsFile)
	if err != nil && !(promptKey && errors.Is(err, os.ErrNotExist)) {
		return fmt.Errorf("read accounts: %w", err)
	}
	if promptKey {
		k, err := readPassword("Private key: ")
		if err != nil {
			return err
		}
		logger.Info("Key added from terminal", "key", maskHex(k))
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return fmt.Errorf("no private keys in %s", st.AccountsFile)
	}
	logger.Info("Accounts loaded", "count", len(keys))

	var proxies []string
	if st.UseProxy {
		proxies, err = config.ReadProxies(st.ProxyFile)
		if err != nil || len(proxies) == 0 {
			logger.Warn("No proxies available, running without proxy", "file", st.ProxyFile, "error", err)
			st.UseProxy = false
		} else {
			logger.Info("Proxies loaded", "count", len(proxies))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if st.MetricsAddr != "" {
		srv := startMetrics(logger, st.MetricsAddr)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	sink := logging.EventSink(logger)
	debugf := func(format string, args ...any) { logger.Debug(fmt.Sprintf(format, args...)) }
	eventf := func(format string, args ...any) { sink(fmt.Sprintf(format, args...)) }

	pool := proxy.NewPool(proxies)
	hc := &httpx.Client{
		Pool:   pool,
		Rotate: st.RotateProxy,
		Origin: st.APIHost,
		Logf:   debugf,
	}
	if st.APIRateLimit > 0 {
		hc.Limiter = rate.NewLimiter(rate.Limit(st.APIRateLimit), 1)
	}

	pemText := st.AuthKeyPEM
	if pemText == "" {
		pemText = api.DefaultPublicKeyPEM
	}
	auth, err := api.NewAuthenticator(pemText)
	if err != nil {
		return err
	}

	runner := &staking.Runner{
		Connector: staking.RPCConnector{
			Connector:      chain.Connector{RPCURL: st.RPCURL},
			ChainID:        big.NewInt(st.ChainID),
			FeeMode:        st.FeeMode,
			FeeFloorGwei:   st.FeeFloorGwei,
			ConfirmTimeout: st.ConfirmTimeout(),
		},
		API: &api.Client{
			HTTP:     hc,
			Host:     st.APIHost,
			Fallback: st.APIFallback,
			ChainID:  st.ChainID,
			Logf:     eventf,
		},
		Auth:    auth,
		Checker: proxy.Checker{UserAgent: httpx.RandomUserAgent},
		Contracts: staking.Addresses{
			USDC:   common.HexToAddress(st.Contracts.USDC),
			USDT:   common.HexToAddress(st.Contracts.USDT),
			MUSD:   common.HexToAddress(st.Contracts.MUSD),
			Faucet: common.HexToAddress(st.Contracts.Faucet),
			Router: common.HexToAddress(st.Contracts.Router),
		},
		ExplorerURL: st.ExplorerURL,
		Workers:     st.Workers,
	}

	return runner.Run(ctx, sink, staking.Task{
		PrivateKeys:  keys,
		Proxies:      pool,
		StakingCount: st.StakingCount,
		MinDelay:     st.MinDelaySec,
		MaxDelay:     st.MaxDelaySec,
		Amounts:      staking.Amounts{USDC: st.USDCAmount, USDT: st.USDTAmount, MUSD: st.MUSDAmount},
		UseProxy:     st.UseProxy,
		RotateProxy:  st.RotateProxy,
		Nonces:       chain.NewNonceLedger(),
	})
}

func startMetrics(logger *slog.Logger, addr string) *http.Server {
	h := http.NewServeMux()
	h.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", "error", err)
		}
	}()
	logger.Info("Metrics listening", "addr", addr)
	return srv
}
