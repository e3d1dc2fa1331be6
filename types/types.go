package types

import (
	"math/big"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
)

// Quote is a single venue's answer for swapping AmountIn of TokenIn into
// TokenOut. Quotes are valid only for the exact venue/pair/amount they were
// computed for and expire after the aggregator's TTL.
type Quote struct {
	VenueID        string
	TokenIn        common.Address
	TokenOut       common.Address
	AmountIn       *big.Int
	AmountOut      *big.Int
	GasEstimate    uint64
	PriceImpactBps uint64
	Liquidity      *big.Int
	FetchedAt      time.Time
}

// Expired reports whether the quote is older than ttl.
func (q *Quote) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(q.FetchedAt) > ttl
}

// PathStep is one swap leg of a candidate path.
type PathStep struct {
	VenueID        string
	TokenIn        common.Address
	TokenOut       common.Address
	AmountIn       *big.Int
	ExpectedOut    *big.Int
	MinOut         *big.Int
	GasEstimate    uint64
	PriceImpactBps uint64
}

// CandidatePath is an ordered sequence of swap legs forming a closed cycle:
// the first leg's input token equals the last leg's output token.
type CandidatePath struct {
	Steps          []PathStep
	StartToken     common.Address
	AmountIn       *big.Int
	ExpectedOut    *big.Int
	ExpectedProfit *big.Int
	GasEstimate    uint64
	RequiresLoan   bool
	QuotedAt       time.Time
}

// Closed reports whether the path forms a valid 2- or 3-leg cycle with
// matching tokens between consecutive legs.
func (p *CandidatePath) Closed() bool {
	if len(p.Steps) < 2 || len(p.Steps) > 3 {
		return false
	}
	if p.Steps[0].TokenIn != p.StartToken {
		return false
	}
	for i := 1; i < len(p.Steps); i++ {
		if p.Steps[i].TokenIn != p.Steps[i-1].TokenOut {
			return false
		}
	}
	return p.Steps[len(p.Steps)-1].TokenOut == p.StartToken
}

// MaxImpactBps returns the worst per-leg price impact of the path.
func (p *CandidatePath) MaxImpactBps() uint64 {
	var max uint64
	for _, s := range p.Steps {
		if s.PriceImpactBps > max {
			max = s.PriceImpactBps
		}
	}
	return max
}

// Fingerprint is a stable 64-bit digest of the path shape (venues, tokens,
// input amount), used to correlate audit events across discovery cycles.
func (p *CandidatePath) Fingerprint() uint64 {
	h := xxhash.New()
	h.Write(p.StartToken.Bytes())
	if p.AmountIn != nil {
		h.Write(p.AmountIn.Bytes())
	}
	for _, s := range p.Steps {
		h.WriteString(s.VenueID)
		h.Write(s.TokenIn.Bytes())
		h.Write(s.TokenOut.Bytes())
	}
	return h.Sum64()
}

// ExecutionState tracks an execution through the coordinator's state machine.
type ExecutionState int

const (
	StatePlanning ExecutionState = iota
	StateSubmitted
	StateSettled
	StateRolledBack
	StateAborted
)

func (s ExecutionState) String() string {
	switch s {
	case StatePlanning:
		return "planning"
	case StateSubmitted:
		return "submitted"
	case StateSettled:
		return "settled"
	case StateRolledBack:
		return "rolled_back"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ExecutionPlan is a validated candidate path resolved against a loan
// provider. Plans are immutable once handed to the settlement collaborator.
type ExecutionPlan struct {
	ID           uint64
	Path         CandidatePath
	LoanAmount   *big.Int
	LoanFee      *big.Int
	MinProfitBps uint64
	CreatedAt    time.Time
}

// Repayment is the total the settlement collaborator must return to the
// loan provider: principal plus fee.
func (p *ExecutionPlan) Repayment() *big.Int {
	return new(big.Int).Add(p.LoanAmount, p.LoanFee)
}
