// Package amount holds the integer arithmetic used for principal, balances and
// basis-point interest. Every operation is checked: overflow is reported as an
// arithmetic_overflow error and never wrapped or saturated.
package amount

import (
	"github.com/holiman/uint256"

	dErrors "bondledger/pkg/domain-errors"
)

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator = 10_000

var bpsDenominator = uint256.NewInt(BpsDenominator)

// Add returns a+b or an overflow error.
func Add(a, b uint64) (uint64, error) {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !sum.IsUint64() {
		return 0, dErrors.Newf(dErrors.CodeArithmeticOverflow, "%d + %d overflows uint64", a, b)
	}
	return sum.Uint64(), nil
}

// Sub returns a-b. Callers guard a >= b; a negative result is an invariant
// violation rather than a user error.
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, dErrors.Newf(dErrors.CodeInvariantViolation, "%d - %d underflows", a, b)
	}
	return a - b, nil
}

// Payout computes interest = floor(principal*rateBps/10000) and
// payout = principal + interest. The product is formed in 256 bits so it can
// never overflow before the division.
func Payout(principal uint64, rateBps uint32) (interest uint64, payout uint64, err error) {
	product := new(uint256.Int).Mul(uint256.NewInt(principal), uint256.NewInt(uint64(rateBps)))
	q := new(uint256.Int).Div(product, bpsDenominator)
	if !q.IsUint64() {
		return 0, 0, dErrors.Newf(dErrors.CodeArithmeticOverflow, "interest on %d at %d bps overflows", principal, rateBps)
	}
	interest = q.Uint64()
	payout, err = Add(principal, interest)
	if err != nil {
		return 0, 0, err
	}
	return interest, payout, nil
}
