package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RoundRobin(t *testing.T) {
	p := NewPool([]string{"http://a:1", " ", "http://b:2", "http://c:3"})
	require.Equal(t, 3, p.Len())

	assert.Equal(t, "http://a:1", p.At(0))
	assert.Equal(t, "http://a:1", p.At(3))
	assert.Equal(t, "http://b:2", p.Next("http://a:1"))
	assert.Equal(t, "http://a:1", p.Next("http://c:3"))
	assert.Equal(t, "http://a:1", p.Next("http://unknown"))

	p.Replace(4, "http://d:4")
	assert.Equal(t, "http://d:4", p.At(1))
}

func TestPool_Empty(t *testing.T) {
	var nilPool *Pool
	assert.Equal(t, 0, nilPool.Len())
	assert.Equal(t, "", nilPool.At(2))

	p := NewPool(nil)
	assert.Equal(t, "", p.At(0))
	assert.Equal(t, "", p.Next("x"))
	p.Replace(0, "x")
	assert.Equal(t, 0, p.Len())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "http://1.2.3.4:8080", Normalize("1.2.3.4:8080"))
	assert.Equal(t, "socks5://u:p@host:1080", Normalize("socks5://u:p@host:1080"))
	assert.Equal(t, "https://host:443", Normalize(" https://host:443 "))
	assert.Equal(t, "", Normalize("  "))
}

func TestNewTransport(t *testing.T) {
	tr, err := NewTransport("http://user:pw@127.0.0.1:8080")
	require.NoError(t, err)
	require.NotNil(t, tr.Proxy)

	tr, err = NewTransport("socks5://127.0.0.1:1080")
	require.NoError(t, err)
	assert.NotNil(t, tr.DialContext)

	_, err = NewTransport("ftp://127.0.0.1:21")
	assert.Error(t, err)
}

func TestChecker(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "probe", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"ip":"1.1.1.1"}`))
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	c := Checker{URL: ok.URL, UserAgent: func() string { return "probe" }}
	assert.NoError(t, c.Check(context.Background(), ""))

	c.URL = bad.URL
	c.UserAgent = nil
	assert.ErrorIs(t, c.Check(context.Background(), ""), ErrUnreachable)
}
