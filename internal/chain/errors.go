package chain

import (
	"errors"
	"strings"
)

var (
	ErrInvalidKey        = errors.New("invalid private key")
	ErrRPCUnreachable    = errors.New("rpc unreachable")
	ErrChainQuery        = errors.New("chain query failed")
	ErrTxNotConfirmed    = errors.New("transaction not confirmed after maximum retries")
	ErrTxReverted        = errors.New("transaction reverted")
	ErrFaucetUnavailable = errors.New("claimFaucet not callable")
)

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "-32005") || strings.Contains(s, "429")
}

// IsNonceTooLow matches node rejections for an already used nonce.
func IsNonceTooLow(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

// IsUnderpriced matches fee rejections (new or replacement transactions).
func IsUnderpriced(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "underpriced") || strings.Contains(s, "fee too low")
}

// ClassifyRPCError returns a short label for metrics and logs.
func ClassifyRPCError(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsNonceTooLow(err):
		return "nonce_too_low"
	case IsUnderpriced(err):
		return "underpriced"
	case isRateLimitError(err):
		return "rate_limited"
	case errors.Is(err, ErrTxReverted):
		return "reverted"
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "insufficient funds"):
		return "insufficient_funds"
	case strings.Contains(s, "execution reverted"):
		return "reverted"
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"):
		return "timeout"
	case strings.Contains(s, "connection refused"), strings.Contains(s, "eof"), strings.Contains(s, "no such host"):
		return "network"
	}
	return "other"
}

func revertReason(e error) string {
	s := e.Error()
	if i := strings.Index(s, "execution reverted"); i >= 0 {
		return s[i:]
	}
	return s
}
