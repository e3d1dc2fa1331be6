package math

import "math/big"

// BpsDenominator is the basis-point scale: 10000 bps = 100%.
const BpsDenominator = 10000

var bpsDenom = big.NewInt(BpsDenominator)

// ApplyBps returns amount * bps / 10000.
func ApplyBps(amount *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Div(out, bpsDenom)
}

// DiscountBps returns amount reduced by bps, i.e. amount * (10000 - bps) / 10000.
// A discount of 10000 bps or more yields zero.
func DiscountBps(amount *big.Int, bps uint64) *big.Int {
	if bps >= BpsDenominator {
		return new(big.Int)
	}
	return ApplyBps(amount, BpsDenominator-bps)
}

// ProfitBps expresses profit relative to amountIn in basis points, rounded
// down. Negative profit yields a negative result. A zero amountIn yields zero.
func ProfitBps(profit, amountIn *big.Int) int64 {
	if amountIn == nil || amountIn.Sign() <= 0 || profit == nil {
		return 0
	}
	bps := new(big.Int).Mul(profit, bpsDenom)
	bps.Quo(bps, amountIn)
	return bps.Int64()
}

// ImpactBps computes price impact in basis points: how far actualOut falls
// short of linearOut, relative to linearOut. Returns 0 when linearOut is not
// positive or actualOut is not below it.
func ImpactBps(linearOut, actualOut *big.Int) uint64 {
	if linearOut == nil || linearOut.Sign() <= 0 || actualOut == nil {
		return 0
	}
	short := new(big.Int).Sub(linearOut, actualOut)
	if short.Sign() <= 0 {
		return 0
	}
	short.Mul(short, bpsDenom)
	short.Div(short, linearOut)
	return short.Uint64()
}

// Clone returns a defensive copy of x, treating nil as zero.
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}
