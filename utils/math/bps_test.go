package math

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyBps(t *testing.T) {
	assert.Equal(t, int64(50), ApplyBps(big.NewInt(10000), 50).Int64())
	assert.Equal(t, int64(0), ApplyBps(big.NewInt(0), 500).Int64())
	assert.Equal(t, int64(10000), ApplyBps(big.NewInt(10000), 10000).Int64())
}

func TestDiscountBps(t *testing.T) {
	assert.Equal(t, int64(9950), DiscountBps(big.NewInt(10000), 50).Int64())
	assert.Equal(t, int64(0), DiscountBps(big.NewInt(10000), 10000).Int64())
	assert.Equal(t, int64(0), DiscountBps(big.NewInt(10000), 20000).Int64())
}

func TestProfitBps(t *testing.T) {
	// 50 profit on 1000 input = 500 bps
	assert.Equal(t, int64(500), ProfitBps(big.NewInt(50), big.NewInt(1000)))
	assert.Equal(t, int64(-500), ProfitBps(big.NewInt(-50), big.NewInt(1000)))
	assert.Equal(t, int64(0), ProfitBps(big.NewInt(50), big.NewInt(0)))
	assert.Equal(t, int64(0), ProfitBps(nil, big.NewInt(1000)))
}

func TestImpactBps(t *testing.T) {
	// actual 980 vs linear 1000 = 200 bps short
	assert.Equal(t, uint64(200), ImpactBps(big.NewInt(1000), big.NewInt(980)))
	assert.Equal(t, uint64(0), ImpactBps(big.NewInt(1000), big.NewInt(1000)))
	assert.Equal(t, uint64(0), ImpactBps(big.NewInt(1000), big.NewInt(1100)))
	assert.Equal(t, uint64(0), ImpactBps(big.NewInt(0), big.NewInt(10)))
}
