package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run counters. Served on METRICS_ADDR when it is set.

var (
	// Orchestrator
	WalletsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autostake",
		Subsystem: "runner",
		Name:      "wallets_processed_total",
		Help:      "Wallets that reached the end of their pipeline, by outcome",
	}, []string{"outcome"})

	StakingRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autostake",
		Subsystem: "runner",
		Name:      "staking_rounds_total",
		Help:      "Staking rounds attempted, by result",
	}, []string{"result"})

	// Chain
	Transactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autostake",
		Subsystem: "chain",
		Name:      "transactions_total",
		Help:      "Transactions sent, by kind and status",
	}, []string{"kind", "status"})

	TxSendRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autostake",
		Subsystem: "chain",
		Name:      "send_retries_total",
		Help:      "Transaction send retries, by classified reason",
	}, []string{"reason"})

	// HTTP
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autostake",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests issued, by status class",
	}, []string{"status"})

	HTTPRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autostake",
		Subsystem: "http",
		Name:      "retries_total",
		Help:      "HTTP retries, by reason",
	}, []string{"reason"})

	ProxyRotations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "autostake",
		Subsystem: "http",
		Name:      "proxy_rotations_total",
		Help:      "Times a request or wallet switched to the next proxy",
	})
)
