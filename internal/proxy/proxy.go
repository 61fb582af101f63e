// Package proxy keeps the run's proxy list and builds transports that route
// through a given proxy URL.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// ErrUnreachable is returned when a proxy fails the connectivity probe.
var ErrUnreachable = errors.New("proxy unreachable")

// CheckURL answers with the caller's public IP.
const CheckURL = "https://api.ipify.org?format=json"

// Pool is a fixed-size list of proxy URLs that can be rotated round-robin.
// Slots may be replaced while wallets are being processed.
type Pool struct {
	mu      sync.RWMutex
	proxies []string
}

// NewPool copies list into a new pool.
func NewPool(list []string) *Pool {
	p := &Pool{proxies: make([]string, 0, len(list))}
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			p.proxies = append(p.proxies, s)
		}
	}
	return p
}

// Len returns the number of proxies.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.proxies)
}

// At returns the proxy assigned to index i (i modulo pool size), or "" for an empty pool.
func (p *Pool) At(i int) string {
	if p == nil {
		return ""
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.proxies) == 0 {
		return ""
	}
	return p.proxies[i%len(p.proxies)]
}

// Next returns the proxy after current. An unknown current maps to the first entry.
func (p *Pool) Next(current string) string {
	if p == nil {
		return ""
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.proxies) == 0 {
		return ""
	}
	idx := -1
	for i, s := range p.proxies {
		if s == current {
			idx = i
			break
		}
	}
	return p.proxies[(idx+1)%len(p.proxies)]
}

// Replace overwrites slot i (modulo pool size).
func (p *Pool) Replace(i int, proxyURL string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.proxies) == 0 {
		return
	}
	p.proxies[i%len(p.proxies)] = proxyURL
}

// Normalize adds an http:// scheme to bare host:port entries.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"http://", "https://", "socks4://", "socks5://", "socks5h://", "socks://"} {
		if strings.HasPrefix(strings.ToLower(s), scheme) {
			return s
		}
	}
	return "http://" + s
}

// NewTransport returns an http.Transport that dials through proxyURL.
// An empty proxyURL gives a direct transport.
func NewTransport(proxyURL string) (*http.Transport, error) {
	tr := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
	}
	if proxyURL == "" {
		tr.Proxy = http.ProxyFromEnvironment
		return tr, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy %q: %w", proxyURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		tr.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h", "socks":
		var auth *xproxy.Auth
		if u.User != nil {
			pw, _ := u.User.Password()
			auth = &xproxy.Auth{User: u.User.Username(), Password: pw}
		}
		d, err := xproxy.SOCKS5("tcp", u.Host, auth, &net.Dialer{Timeout: 30 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}
		cd, ok := d.(xproxy.ContextDialer)
		if !ok {
			return nil, errors.New("socks5 dialer does not support contexts")
		}
		tr.DialContext = cd.DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	return tr, nil
}

// NewHTTPClient wraps NewTransport with a request timeout.
func NewHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	tr, err := NewTransport(proxyURL)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: tr, Timeout: timeout}, nil
}

// Checker probes a proxy by fetching CheckURL through it.
type Checker struct {
	URL     string
	Timeout time.Duration
	// UserAgent is sent with every probe when non-empty.
	UserAgent func() string
}

// Check returns nil when the probe URL answered 200 through proxyURL.
func (c Checker) Check(ctx context.Context, proxyURL string) error {
	target := c.URL
	if target == "" {
		target = CheckURL
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc, err := NewHTTPClient(proxyURL, timeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if c.UserAgent != nil {
		req.Header.Set("User-Agent", c.UserAgent())
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}
