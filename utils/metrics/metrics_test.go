package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestDiscoveryMetrics(t *testing.T) {
	m := NewDiscoveryMetrics("test", prometheus.NewRegistry())

	m.ObserveTick(time.Now().Add(-10*time.Millisecond), false)
	m.ObserveTick(time.Now(), true)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Ticks))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EmptyRounds))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Submissions))
}
