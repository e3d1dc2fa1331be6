package gas

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateCycleGas(t *testing.T) {
	assert.Equal(t, uint64(21000+2*152000), EstimateCycleGas(2))
	assert.Equal(t, uint64(21000+3*152000), EstimateCycleGas(3))
}

func TestCostWei(t *testing.T) {
	src := NewStaticSource(big.NewInt(50_000_000_000)) // 50 Gwei

	cost, err := CostWei(context.Background(), src, 100000)
	require.NoError(t, err)
	assert.Equal(t, "5000000000000000", cost.String())

	src.SetPrice(big.NewInt(100_000_000_000))
	cost, err = CostWei(context.Background(), src, 100000)
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", cost.String())
}
