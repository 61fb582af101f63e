package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/ligun0805/pharos-autostake/internal/proxy"
)

// Contracts holds the token, faucet and router addresses on the testnet.
type Contracts struct {
	USDC   string `yaml:"usdc"`
	USDT   string `yaml:"usdt"`
	MUSD   string `yaml:"musd"`
	Faucet string `yaml:"faucet"`
	Router string `yaml:"router"`
}

// Settings keeps all configuration options.
// Precedence: defaults, then the YAML file, then environment variables.
type Settings struct {
	RPCURL      string `yaml:"rpc_url"`
	ChainID     int64  `yaml:"chain_id"`
	ExplorerURL string `yaml:"explorer_url"`

	APIHost      string  `yaml:"api_host"`
	APIFallback  string  `yaml:"api_fallback"`
	AuthKeyPEM   string  `yaml:"auth_public_key"`
	APIRateLimit float64 `yaml:"api_rate_limit"`

	Contracts Contracts `yaml:"contracts"`

	StakingCount int     `yaml:"staking_count"`
	MinDelaySec  int     `yaml:"min_delay_sec"`
	MaxDelaySec  int     `yaml:"max_delay_sec"`
	USDCAmount   float64 `yaml:"usdc_amount"`
	USDTAmount   float64 `yaml:"usdt_amount"`
	MUSDAmount   float64 `yaml:"musd_amount"`

	UseProxy     bool   `yaml:"use_proxy"`
	RotateProxy  bool   `yaml:"rotate_proxy"`
	AccountsFile string `yaml:"accounts_file"`
	ProxyFile    string `yaml:"proxy_file"`
	Workers      int    `yaml:"workers"`

	FeeMode           string `yaml:"fee_mode"`
	FeeFloorGwei      int64  `yaml:"fee_floor_gwei"`
	ConfirmTimeoutSec int    `yaml:"confirm_timeout_sec"`

	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Defaults returns the Pharos testnet settings.
func Defaults() Settings {
	return Settings{
		RPCURL:      "https://testnet.dplabs-internal.com/",
		ChainID:     688688,
		ExplorerURL: "https://testnet.pharosscan.xyz/tx/",
		APIHost:     "https://autostaking.pro",
		APIFallback: "https://asia-east2-auto-staking.cloudfunctions.net",
		Contracts: Contracts{
			USDC:   "0x72df0bcd7276f2dFbAc900D1CE63c272C4BCcCED",
			USDT:   "0xD4071393f8716661958F766DF660033b3d35fD29",
			MUSD:   "0x7F5e05460F927Ee351005534423917976F92495e",
			Faucet: "0xF1CF5D79bE4682D50f7A60A047eACa9bD351fF8e",
			Router: "0x11cD3700B310339003641Fdce57c1f9BD21aE015",
		},
		StakingCount:      1,
		MinDelaySec:       30,
		MaxDelaySec:       60,
		USDCAmount:        1,
		USDTAmount:        1,
		MUSDAmount:        1,
		AccountsFile:      "accounts.txt",
		ProxyFile:         "proxy.txt",
		Workers:           1,
		FeeMode:           "fixed",
		FeeFloorGwei:      1,
		ConfirmTimeoutSec: 300,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// ConfirmTimeout is ConfirmTimeoutSec as a duration.
func (s Settings) ConfirmTimeout() time.Duration {
	return time.Duration(s.ConfirmTimeoutSec) * time.Second
}

// Load applies the YAML file at path (skipped when empty) and environment
// overrides on top of Defaults. Keys are read in both lower_case and UPPER_CASE.
func Load(path string) (Settings, error) {
	st := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return st, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &st); err != nil {
			return st, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	applyEnv(&st)
	if err := st.Validate(); err != nil {
		return st, err
	}
	return st, nil
}

func applyEnv(st *Settings) {
	get := func(keys []string, def string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				return v
			}
		}
		return def
	}
	getInt := func(keys []string, def int) int {
		s := get(keys, "")
		if s == "" {
			return def
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		return def
	}
	getInt64 := func(keys []string, def int64) int64 {
		s := get(keys, "")
		if s == "" {
			return def
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		return def
	}
	getFloat := func(keys []string, def float64) float64 {
		s := get(keys, "")
		if s == "" {
			return def
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
		return def
	}
	getBool := func(keys []string, def bool) bool {
		s := strings.ToLower(get(keys, ""))
		if s == "" {
			return def
		}
		return s == "1" || s == "true" || s == "yes" || s == "on" || s == "y"
	}
	keys := func(name string) []string { return []string{name, strings.ToUpper(name)} }

	st.RPCURL = get(keys("rpc_url"), st.RPCURL)
	st.ChainID = getInt64(keys("chain_id"), st.ChainID)
	st.ExplorerURL = get(keys("explorer_url"), st.ExplorerURL)
	st.APIHost = get(keys("api_host"), st.APIHost)
	st.APIFallback = get(keys("api_fallback"), st.APIFallback)
	st.AuthKeyPEM = get(keys("auth_public_key"), st.AuthKeyPEM)
	st.APIRateLimit = getFloat(keys("api_rate_limit"), st.APIRateLimit)

	st.Contracts.USDC = get(keys("usdc_contract"), st.Contracts.USDC)
	st.Contracts.USDT = get(keys("usdt_contract"), st.Contracts.USDT)
	st.Contracts.MUSD = get(keys("musd_contract"), st.Contracts.MUSD)
	st.Contracts.Faucet = get(keys("faucet_contract"), st.Contracts.Faucet)
	st.Contracts.Router = get(keys("router_contract"), st.Contracts.Router)

	st.StakingCount = getInt(keys("staking_count"), st.StakingCount)
	st.MinDelaySec = getInt(keys("min_delay"), st.MinDelaySec)
	st.MaxDelaySec = getInt(keys("max_delay"), st.MaxDelaySec)
	st.USDCAmount = getFloat(keys("usdc_amount"), st.USDCAmount)
	st.USDTAmount = getFloat(keys("usdt_amount"), st.USDTAmount)
	st.MUSDAmount = getFloat(keys("musd_amount"), st.MUSDAmount)

	st.UseProxy = getBool(keys("use_proxy"), st.UseProxy)
	st.RotateProxy = getBool(keys("rotate_proxy"), st.RotateProxy)
	st.AccountsFile = get(keys("accounts_file"), st.AccountsFile)
	st.ProxyFile = get(keys("proxy_file"), st.ProxyFile)
	st.Workers = getInt(keys("workers"), st.Workers)

	st.FeeMode = strings.ToLower(get(keys("fee_mode"), st.FeeMode))
	st.FeeFloorGwei = getInt64(keys("fee_floor_gwei"), st.FeeFloorGwei)
	st.ConfirmTimeoutSec = getInt(keys("confirm_timeout_sec"), st.ConfirmTimeoutSec)

	st.LogLevel = get(keys("log_level"), st.LogLevel)
	st.LogFormat = get(keys("log_format"), st.LogFormat)
	st.MetricsAddr = get(keys("metrics_addr"), st.MetricsAddr)
}

// Validate rejects settings the runner cannot work with.
func (s Settings) Validate() error {
	var errs []error
	if s.RPCURL == "" {
		errs = append(errs, errors.New("rpc_url is empty"))
	}
	if s.ChainID <= 0 {
		errs = append(errs, fmt.Errorf("chain_id must be positive, got %d", s.ChainID))
	}
	if s.StakingCount < 0 {
		errs = append(errs, fmt.Errorf("staking_count must be >= 0, got %d", s.StakingCount))
	}
	if s.MinDelaySec < 0 || s.MaxDelaySec < s.MinDelaySec {
		errs = append(errs, fmt.Errorf("delay range [%d,%d] is invalid", s.MinDelaySec, s.MaxDelaySec))
	}
	if s.USDCAmount < 0 || s.USDTAmount < 0 || s.MUSDAmount < 0 {
		errs = append(errs, errors.New("token amounts must be non-negative"))
	}
	for name, addr := range map[string]string{
		"usdc": s.Contracts.USDC, "usdt": s.Contracts.USDT, "musd": s.Contracts.MUSD,
		"faucet": s.Contracts.Faucet, "router": s.Contracts.Router,
	} {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Errorf("contracts.%s: invalid address %q", name, addr))
		}
	}
	if s.FeeMode != "fixed" && s.FeeMode != "suggest" {
		errs = append(errs, fmt.Errorf("fee_mode must be fixed or suggest, got %q", s.FeeMode))
	}
	if s.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1, got %d", s.Workers))
	}
	return errors.Join(errs...)
}

// ReadLines returns the trimmed non-empty lines of path, skipping # comments.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

// ReadProxies reads a proxy list, adding http:// where no scheme is given.
func ReadProxies(path string) ([]string, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, proxy.Normalize(l))
	}
	return out, nil
}
