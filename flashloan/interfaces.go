package flashloan

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNoProvider            = errors.New("no loan provider available")
	ErrInsufficientLiquidity = errors.New("no provider has enough liquidity")
)

// Provider defines the interface for flash loan capital sources
type Provider interface {
	// Fee returns the absolute fee charged for borrowing amount of token.
	Fee(ctx context.Context, token common.Address, amount *big.Int) (*big.Int, error)
	// Liquidity returns how much of token the provider can lend right now.
	Liquidity(ctx context.Context, token common.Address) (*big.Int, error)
	String() string
}

// Terms describes a priced loan ready for an execution plan
type Terms struct {
	Provider Provider
	Token    common.Address
	Amount   *big.Int
	Fee      *big.Int
}

// Repayment returns principal plus fee
func (t *Terms) Repayment() *big.Int {
	return new(big.Int).Add(t.Amount, t.Fee)
}
