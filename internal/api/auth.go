package api

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

// DefaultPublicKeyPEM encrypts the per-address Authorization token.
const DefaultPublicKeyPEM = `-----BEGIN PUBLIC KEY-----
MIGfMA0GCSqGSIb3DQEBAQUAA4GNADCBiQKBgQDWPv2qP8+xLABhn3F/U/hp76HP
e8dD7kvPUh70TC14kfvwlLpCTHhYf2/6qulU1aLWpzCz3PJr69qonyqocx8QlThq
5Hik6H/5fmzHsjFvoPeGN5QRwYsVUH07MbP7MNbJH5M2zD5Z1WEp9AHJklITbS1z
h23cf2WfZ0vwDYzZ8QIDAQAB
-----END PUBLIC KEY-----`

// Authenticator produces Authorization tokens: base64 RSA-OAEP(SHA-256)
// ciphertext of the checksummed address.
type Authenticator struct {
	pub *rsa.PublicKey
}

// NewAuthenticator parses a PKIX PEM public key.
func NewAuthenticator(pemText string) (*Authenticator, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, errors.New("auth key: no PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth key: expected RSA, got %T", key)
	}
	return &Authenticator{pub: pub}, nil
}

// Token encrypts address. OAEP is randomized, so each call differs.
func (a *Authenticator) Token(address string) (string, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, a.pub, []byte(address), nil)
	if err != nil {
		return "", fmt.Errorf("encrypt auth token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}
