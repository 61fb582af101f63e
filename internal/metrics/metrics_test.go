package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistered(t *testing.T) {
	assert.NotNil(t, WalletsProcessed)
	assert.NotNil(t, StakingRounds)
	assert.NotNil(t, Transactions)
	assert.NotNil(t, TxSendRetries)
	assert.NotNil(t, APIRequests)
	assert.NotNil(t, HTTPRetries)
	assert.NotNil(t, ProxyRotations)
}

func TestCountersIncrement(t *testing.T) {
	c := Transactions.WithLabelValues("approve", "success")
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}
