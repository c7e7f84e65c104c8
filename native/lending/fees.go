package lending

import (
	"fmt"
	"math/big"
)

// MaxFeeRateBps caps the protocol fee at 100% of the interest.
const MaxFeeRateBps = 10_000

var basisPoints = big.NewInt(10_000)

// ComputeFee returns the protocol share of the interest on a loan,
// (repay - loan) * bps / 10000 truncated toward zero. A repay amount below
// the loan amount is rejected rather than producing a negative fee.
func ComputeFee(repay, loan *big.Int, bps uint64) (*big.Int, error) {
	repay = cloneBigInt(repay)
	loan = cloneBigInt(loan)
	if repay.Cmp(loan) < 0 {
		return nil, fmt.Errorf("%w: repay amount %s below loan amount %s", ErrIllegalState, repay, loan)
	}
	if bps > MaxFeeRateBps {
		return nil, fmt.Errorf("%w: fee rate %d bps exceeds %d", ErrInvalidParams, bps, MaxFeeRateBps)
	}
	interest := new(big.Int).Sub(repay, loan)
	fee := interest.Mul(interest, new(big.Int).SetUint64(bps))
	return fee.Quo(fee, basisPoints), nil
}

// Accrue adds amount to the balance tracked for kind.
func (f *FeeBalances) Accrue(kind AssetKind, amount *big.Int) {
	if f == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	switch kind {
	case AssetNative:
		f.Native = new(big.Int).Add(cloneBigInt(f.Native), amount)
	case AssetToken:
		f.Token = new(big.Int).Add(cloneBigInt(f.Token), amount)
	}
}

// Balance returns a copy of the accrued balance for kind.
func (f *FeeBalances) Balance(kind AssetKind) *big.Int {
	if f == nil {
		return big.NewInt(0)
	}
	if kind == AssetToken {
		return cloneBigInt(f.Token)
	}
	return cloneBigInt(f.Native)
}

// Reset zeroes the balance tracked for kind.
func (f *FeeBalances) Reset(kind AssetKind) {
	if f == nil {
		return
	}
	if kind == AssetToken {
		f.Token = big.NewInt(0)
		return
	}
	f.Native = big.NewInt(0)
}
