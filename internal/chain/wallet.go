package chain

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Wallet is a signing key and its address.
type Wallet struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// DeriveWallet parses a hex private key (with or without 0x).
func DeriveWallet(privateHex string) (*Wallet, error) {
	h := strings.TrimSpace(privateHex)
	h = strings.TrimPrefix(strings.TrimPrefix(h, "0x"), "0X")
	if h == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	prv, err := gethcrypto.HexToECDSA(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Wallet{Key: prv, Address: gethcrypto.PubkeyToAddress(prv.PublicKey)}, nil
}

// ShortAddress renders 0x1234******abcdef; empty input gives N/A.
func ShortAddress(addr string) string {
	if len(addr) < 12 {
		return "N/A"
	}
	return addr[:6] + "******" + addr[len(addr)-6:]
}

// Short is ShortAddress of the checksummed address.
func (w *Wallet) Short() string {
	if w == nil {
		return "N/A"
	}
	return ShortAddress(w.Address.Hex())
}
