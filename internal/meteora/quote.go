package meteora

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// PriceDigits is the fractional precision kept when converting exact ratios
const PriceDigits = 24

var (
	// ErrZeroSqrtPrice is returned when a pool has no sqrt price to derive from
	ErrZeroSqrtPrice = errors.New("pool sqrt price is zero")
	// ErrZeroReserves is returned when a reserve ratio has an empty side
	ErrZeroReserves = errors.New("pool reserve is zero")
	// ErrQuoteOverflow is returned when a quoted amount does not fit in u64
	ErrQuoteOverflow = errors.New("quoted amount overflows u64")
)

var (
	// MinTokenPriceSOL and MaxTokenPriceSOL bound an accepted token price in SOL
	MinTokenPriceSOL = decimal.New(1, -10)
	MaxTokenPriceSOL = decimal.NewFromInt(100)

	q128 = new(big.Int).Lsh(big.NewInt(1), 128)
)

// Amount converts a raw token amount to UI units
func Amount(raw uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -int32(decimals))
}

// CurvePrice returns the bonding curve price of one base token in quote units.
// An empty reserve on either side prices the token at zero.
func CurvePrice(baseReserve, quoteReserve uint64, baseDecimals, quoteDecimals uint8) decimal.Decimal {
	if baseReserve == 0 || quoteReserve == 0 {
		return decimal.Zero
	}
	return Amount(quoteReserve, quoteDecimals).DivRound(Amount(baseReserve, baseDecimals), PriceDigits)
}

// SqrtPriceRatio returns the exact tokenB per tokenA price in UI units,
// (sqrtPrice / 2^64)^2 * 10^(decA - decB)
func SqrtPriceRatio(sqrtPrice *big.Int, decimalsA, decimalsB uint8) *big.Rat {
	num := new(big.Int).Mul(sqrtPrice, sqrtPrice)
	num.Mul(num, pow10(decimalsA))
	den := new(big.Int).Mul(q128, pow10(decimalsB))
	return new(big.Rat).SetFrac(num, den)
}

// TokenPriceFromSqrtPrice prices the non-SOL side of a pool in SOL
func TokenPriceFromSqrtPrice(sqrtPrice *big.Int, decimalsA, decimalsB uint8, solIsA bool) (decimal.Decimal, error) {
	if sqrtPrice == nil || sqrtPrice.Sign() == 0 {
		return decimal.Zero, ErrZeroSqrtPrice
	}
	ratio := SqrtPriceRatio(sqrtPrice, decimalsA, decimalsB)
	if solIsA {
		ratio.Inv(ratio)
	}
	return ratToDecimal(ratio)
}

// TokenPriceFromVaults prices the token side in SOL from the two vault balances
func TokenPriceFromVaults(solAmount, tokenAmount uint64, solDecimals, tokenDecimals uint8) (decimal.Decimal, error) {
	if solAmount == 0 || tokenAmount == 0 {
		return decimal.Zero, ErrZeroReserves
	}
	return Amount(solAmount, solDecimals).DivRound(Amount(tokenAmount, tokenDecimals), PriceDigits), nil
}

// PriceInBounds reports whether a token price in SOL is plausible
func PriceInBounds(priceSOL decimal.Decimal) bool {
	return priceSOL.GreaterThanOrEqual(MinTokenPriceSOL) && priceSOL.LessThanOrEqual(MaxTokenPriceSOL)
}

// WithdrawQuote returns the token amounts a liquidity delta redeems for at the
// pool's current price. Both sides round down.
func WithdrawQuote(pool *Pool, liquidityDelta *big.Int) (amountA, amountB uint64, err error) {
	if liquidityDelta == nil || liquidityDelta.Sign() <= 0 {
		return 0, 0, nil
	}
	sqrtP, sqrtMin, sqrtMax := pool.SqrtPrice, pool.SqrtMinPrice, pool.SqrtMaxPrice
	if sqrtP == nil || sqrtP.Sign() == 0 {
		return 0, 0, ErrZeroSqrtPrice
	}

	// A side: L * (sqrtMax - sqrtP) / (sqrtP * sqrtMax)
	a := new(big.Int)
	if sqrtMax != nil && sqrtMax.Cmp(sqrtP) > 0 {
		a.Sub(sqrtMax, sqrtP)
		a.Mul(a, liquidityDelta)
		a.Quo(a, new(big.Int).Mul(sqrtP, sqrtMax))
	}

	// B side: L * (sqrtP - sqrtMin) >> 128
	b := new(big.Int)
	if sqrtMin != nil && sqrtP.Cmp(sqrtMin) > 0 {
		b.Sub(sqrtP, sqrtMin)
		b.Mul(b, liquidityDelta)
		b.Rsh(b, 128)
	}

	if !a.IsUint64() || !b.IsUint64() {
		return 0, 0, fmt.Errorf("withdraw quote for pool %s: %w", pool.Address, ErrQuoteOverflow)
	}
	return a.Uint64(), b.Uint64(), nil
}

// SpotSwapQuote returns the output of swapping amountIn at the pool's spot
// price, ignoring fees and price impact
func SpotSwapQuote(pool *Pool, amountIn uint64, inputIsA bool) (uint64, error) {
	sqrtP := pool.SqrtPrice
	if sqrtP == nil || sqrtP.Sign() == 0 {
		return 0, ErrZeroSqrtPrice
	}
	priceX128 := new(big.Int).Mul(sqrtP, sqrtP)
	in := new(big.Int).SetUint64(amountIn)

	out := new(big.Int)
	if inputIsA {
		out.Mul(in, priceX128)
		out.Rsh(out, 128)
	} else {
		out.Lsh(in, 128)
		out.Quo(out, priceX128)
	}

	if !out.IsUint64() {
		return 0, fmt.Errorf("swap quote for pool %s: %w", pool.Address, ErrQuoteOverflow)
	}
	return out.Uint64(), nil
}

// MinimumOut applies a slippage tolerance in basis points to an expected output
func MinimumOut(expected uint64, slippageBps int) uint64 {
	if slippageBps <= 0 {
		return expected
	}
	if slippageBps >= 10000 {
		return 0
	}
	v := new(big.Int).SetUint64(expected)
	v.Mul(v, big.NewInt(int64(10000-slippageBps)))
	v.Quo(v, big.NewInt(10000))
	return v.Uint64()
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func ratToDecimal(r *big.Rat) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(r.FloatString(PriceDigits))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to convert price: %w", err)
	}
	return d, nil
}
