// Package api talks to the AutoStaking recommendation service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ligun0805/pharos-autostake/internal/chain"
	"github.com/ligun0805/pharos-autostake/internal/httpx"
	"github.com/ligun0805/pharos-autostake/internal/retry"
)

// ErrInvalidResponse marks a 2xx answer without the expected fields.
var ErrInvalidResponse = errors.New("invalid API response")

const (
	DefaultHost     = "https://autostaking.pro"
	DefaultFallback = "https://asia-east2-auto-staking.cloudfunctions.net"
	DefaultChunk    = "/_next/static/chunks/5603-ca6c90d1ea776b3f.js"
	BasePathSuffix  = "/auto_staking_pharos_v6"
	DefaultChainID  = 688688

	// Prompt is the allocation policy sent with every recommendation request.
	Prompt = `1. Mandatory Requirement: The product's TVL must be higher than one million USD.
2. Balance Preference: Prioritize products that have a good balance of high current APY and high TVL.
3. Portfolio Allocation: Select the 3 products with the best combined ranking in terms of current APY and TVL among those with TVL > 1,000,000 USD. To determine the combined ranking, rank all eligible products by current APY (highest to lowest) and by TVL (highest to lowest), then sum the two ranks for each product. Choose the 3 products with the smallest sum of ranks. Allocate the investment equally among these 3 products, with each receiving approximately 33.3% of the investment.`
)

var baseURLPattern = regexp.MustCompile(`r\s*=\s*o\.Z\s*\?\s*"([^"]+)"`)

// Transport is the slice of *httpx.Client used by the API client.
type Transport interface {
	Do(ctx context.Context, req httpx.Request, proxyURL string, retries int) ([]byte, error)
	FetchText(ctx context.Context, url, proxyURL string, retries int) (string, error)
}

// Client builds and sends recommendation and calldata requests.
type Client struct {
	HTTP      Transport
	Host      string
	Fallback  string
	ChainID   int64
	Protocols []string
	Retries   int

	Sleep func(ctx context.Context, d time.Duration) error
	Logf  func(format string, args ...any)
}

func (c *Client) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

func (c *Client) host() string {
	if c.Host != "" {
		return strings.TrimSuffix(c.Host, "/")
	}
	return DefaultHost
}

func (c *Client) chainID() int64 {
	if c.ChainID != 0 {
		return c.ChainID
	}
	return DefaultChainID
}

func (c *Client) retries() int {
	if c.Retries > 0 {
		return c.Retries
	}
	return httpx.DefaultRetries
}

// ResolveBaseURL scrapes the API base from the web bundle. It never fails:
// after five attempts it returns the fallback base.
func (c *Client) ResolveBaseURL(ctx context.Context, proxyURL string) string {
	const attempts = 5
	url := c.host() + DefaultChunk
	base, err := retry.DoValue(ctx, retry.Policy{
		Attempts: attempts,
		Backoff:  retry.Fixed(5 * time.Second),
		Sleep:    c.Sleep,
	}, func(ctx context.Context, attempt int) (string, error) {
		text, err := c.HTTP.FetchText(ctx, url, proxyURL, 1)
		if err == nil {
			if m := baseURLPattern.FindStringSubmatch(text); len(m) == 2 && m[1] != "" {
				return m[1] + BasePathSuffix, nil
			}
			err = errors.New("base API URL not found in response")
		}
		c.logf("System | Warning: Failed to fetch Base API URL (attempt %d/%d): %v", attempt, attempts, err)
		return "", err
	})
	if err == nil {
		c.logf("System | Base API URL: %s", base)
		return base
	}
	fallback := c.Fallback
	if fallback == "" {
		fallback = DefaultFallback
	}
	fallback = strings.TrimSuffix(fallback, "/") + BasePathSuffix
	c.logf("System | Warning: Using fallback Base API URL: %s", fallback)
	return fallback
}

// Holding is one asset the wallet offers to the allocator.
type Holding struct {
	Name     string
	Symbol   string
	Address  string
	Decimals int
	Amount   float64
}

// RecommendInput identifies the caller of Recommend.
type RecommendInput struct {
	User     string
	Token    string
	ProxyURL string
	Holdings []Holding
}

type chainRef struct {
	ID int64 `json:"id"`
}

type userAsset struct {
	Chain     chainRef `json:"chain"`
	Name      string   `json:"name"`
	Symbol    string   `json:"symbol"`
	Decimals  int      `json:"decimals"`
	Address   string   `json:"address"`
	Assets    string   `json:"assets"`
	Price     float64  `json:"price"`
	AssetsUSD float64  `json:"assetsUsd"`
}

type recommendPayload struct {
	User          string      `json:"user"`
	Profile       string      `json:"profile"`
	UserPositions []any       `json:"userPositions"`
	UserAssets    []userAsset `json:"userAssets"`
	ChainIDs      []int64     `json:"chainIds"`
	Tokens        []string    `json:"tokens"`
	Protocols     []string    `json:"protocols"`
	Env           string      `json:"env"`
}

func (c *Client) recommendPayload(in RecommendInput) recommendPayload {
	p := recommendPayload{
		User:          in.User,
		Profile:       Prompt,
		UserPositions: []any{},
		UserAssets:    make([]userAsset, 0, len(in.Holdings)),
		ChainIDs:      []int64{c.chainID()},
		Tokens:        make([]string, 0, len(in.Holdings)),
		Protocols:     c.Protocols,
		Env:           "pharos",
	}
	if len(p.Protocols) == 0 {
		p.Protocols = []string{"MockVault"}
	}
	for _, h := range in.Holdings {
		scale := math.Pow10(h.Decimals)
		p.UserAssets = append(p.UserAssets, userAsset{
			Chain:     chainRef{ID: c.chainID()},
			Name:      h.Name,
			Symbol:    h.Symbol,
			Decimals:  h.Decimals,
			Address:   h.Address,
			Assets:    strconv.FormatFloat(math.Floor(h.Amount*scale), 'f', 0, 64),
			Price:     1,
			AssetsUSD: h.Amount,
		})
		p.Tokens = append(p.Tokens, h.Symbol)
	}
	return p
}

func (c *Client) post(ctx context.Context, url, token, proxyURL string, body any) ([]byte, error) {
	return c.HTTP.Do(ctx, httpx.Request{
		Method:  http.MethodPost,
		URL:     url,
		Body:    body,
		Headers: map[string]string{"Authorization": token},
	}, proxyURL, c.retries())
}

// recommendation extracts data.changes.
func recommendation(body []byte) (json.RawMessage, bool) {
	var resp struct {
		Data *struct {
			Changes json.RawMessage `json:"changes"`
		} `json:"data"`
	}
	if json.Unmarshal(body, &resp) != nil || resp.Data == nil {
		return nil, false
	}
	ch := resp.Data.Changes
	if len(ch) == 0 || string(ch) == "null" {
		return nil, false
	}
	return ch, true
}

// Recommend fetches the allocation for in.User and returns its opaque
// change set. An answer without data is retried once without Authorization.
func (c *Client) Recommend(ctx context.Context, base string, in RecommendInput) (json.RawMessage, error) {
	url := strings.TrimSuffix(base, "/") + "/investment/financial-portfolio-recommendation"
	payload := c.recommendPayload(in)

	body, err := c.post(ctx, url, in.Token, in.ProxyURL, payload)
	if err != nil {
		return nil, err
	}
	if changes, ok := recommendation(body); ok {
		return changes, nil
	}
	c.logf("%s | Warning: Retrying portfolio recommendation without Authorization...", chain.ShortAddress(in.User))
	body, err = c.post(ctx, url, "", in.ProxyURL, payload)
	if err != nil {
		return nil, err
	}
	changes, ok := recommendation(body)
	if !ok {
		return nil, ErrInvalidResponse
	}
	return changes, nil
}

// CalldataInput carries a recommendation into calldata generation.
type CalldataInput struct {
	User     string
	Token    string
	ProxyURL string
	Changes  json.RawMessage
}

// GenerateCalldata turns a change set into router calldata for the chain.
func (c *Client) GenerateCalldata(ctx context.Context, base string, in CalldataInput) ([]byte, error) {
	url := strings.TrimSuffix(base, "/") + "/investment/generate-change-transactions"
	changes := in.Changes
	if len(changes) == 0 {
		changes = json.RawMessage("null")
	}
	payload := struct {
		User                   string          `json:"user"`
		Changes                json.RawMessage `json:"changes"`
		PrevTransactionResults struct{}        `json:"prevTransactionResults"`
	}{User: in.User, Changes: changes}

	body, err := c.post(ctx, url, in.Token, in.ProxyURL, payload)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data map[string]struct {
			Data string `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	key := strconv.FormatInt(c.chainID(), 10)
	entry, ok := resp.Data[key]
	if !ok || entry.Data == "" {
		return nil, fmt.Errorf("%w: no calldata for chain %s", ErrInvalidResponse, key)
	}
	calldata, err := hexutil.Decode(entry.Data)
	if err != nil || len(calldata) == 0 {
		return nil, fmt.Errorf("%w: calldata %q", ErrInvalidResponse, entry.Data)
	}
	return calldata, nil
}
