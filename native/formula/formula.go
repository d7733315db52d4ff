// Package formula implements the weighted bonding-curve pricing functions.
// Amounts are 256-bit integers, weights are parts per million and every
// result is rounded in favour of the pool.
package formula

import (
	"math/big"

	"github.com/holiman/uint256"

	amerr "convertnet/core/errors"
	"convertnet/native/mathex"
)

// MaxWeight is the weight of a reserve that backs the whole pool (100%).
const MaxWeight uint32 = 1_000_000

func validWeight(w uint32) bool { return w > 0 && w <= MaxWeight }

func validRatio(r uint32) bool { return r > 1 && r <= 2*MaxWeight }

// PurchaseTargetAmount returns the pool tokens minted for depositing amount
// into a reserve: supply * ((1 + amount/reserveBalance)^(weight/MaxWeight) - 1).
func PurchaseTargetAmount(supply, reserveBalance *uint256.Int, weight uint32, amount *uint256.Int) (*uint256.Int, error) {
	if supply.IsZero() {
		return nil, amerr.ErrInvalidAmount
	}
	if reserveBalance.IsZero() {
		return nil, amerr.ErrInvalidReserve
	}
	if !validWeight(weight) {
		return nil, amerr.ErrInvalidWeight
	}
	if amount.IsZero() {
		return mathex.Zero(), nil
	}
	if weight == MaxWeight {
		return mathex.MulDivFloor(supply, amount, reserveBalance)
	}
	baseN := new(big.Int).Add(amount.ToBig(), reserveBalance.ToBig())
	result, precision, err := Power(baseN, reserveBalance.ToBig(), uint64(weight), uint64(MaxWeight))
	if err != nil {
		return nil, err
	}
	return growth(supply.ToBig(), result, precision)
}

// SaleTargetAmount returns the reserve paid for burning amount pool tokens:
// reserveBalance * (1 - (1 - amount/supply)^(MaxWeight/weight)). Selling the
// entire supply returns the entire reserve.
func SaleTargetAmount(supply, reserveBalance *uint256.Int, weight uint32, amount *uint256.Int) (*uint256.Int, error) {
	if supply.IsZero() {
		return nil, amerr.ErrInvalidAmount
	}
	if reserveBalance.IsZero() {
		return nil, amerr.ErrInvalidReserve
	}
	if !validWeight(weight) {
		return nil, amerr.ErrInvalidWeight
	}
	if amount.Gt(supply) {
		return nil, amerr.ErrInvalidAmount
	}
	if amount.IsZero() {
		return mathex.Zero(), nil
	}
	if amount.Eq(supply) {
		return mathex.Clone(reserveBalance), nil
	}
	if weight == MaxWeight {
		return mathex.MulDivFloor(reserveBalance, amount, supply)
	}
	baseD := new(big.Int).Sub(supply.ToBig(), amount.ToBig())
	result, precision, err := Power(supply.ToBig(), baseD, uint64(MaxWeight), uint64(weight))
	if err != nil {
		return nil, err
	}
	return decay(reserveBalance.ToBig(), result, precision)
}

// CrossReserveTargetAmount returns the target reserve paid for depositing
// amount into the source reserve without touching the pool token:
// dstBalance * (1 - (srcBalance/(srcBalance+amount))^(srcWeight/dstWeight)).
func CrossReserveTargetAmount(srcBalance *uint256.Int, srcWeight uint32, dstBalance *uint256.Int, dstWeight uint32, amount *uint256.Int) (*uint256.Int, error) {
	if srcBalance.IsZero() || dstBalance.IsZero() {
		return nil, amerr.ErrInvalidReserve
	}
	if !validWeight(srcWeight) || !validWeight(dstWeight) {
		return nil, amerr.ErrInvalidWeight
	}
	if amount.IsZero() {
		return mathex.Zero(), nil
	}
	if srcWeight == dstWeight {
		denominator, err := mathex.Add(srcBalance, amount)
		if err != nil {
			return nil, err
		}
		return mathex.MulDivFloor(dstBalance, amount, denominator)
	}
	baseN := new(big.Int).Add(srcBalance.ToBig(), amount.ToBig())
	result, precision, err := Power(baseN, srcBalance.ToBig(), uint64(srcWeight), uint64(dstWeight))
	if err != nil {
		return nil, err
	}
	return decay(dstBalance.ToBig(), result, precision)
}

// CrossReserveSourceAmount is the inverse of CrossReserveTargetAmount: the
// source deposit required to receive targetAmount, rounded up.
func CrossReserveSourceAmount(srcBalance *uint256.Int, srcWeight uint32, dstBalance *uint256.Int, dstWeight uint32, targetAmount *uint256.Int) (*uint256.Int, error) {
	if srcBalance.IsZero() || dstBalance.IsZero() {
		return nil, amerr.ErrInvalidReserve
	}
	if !validWeight(srcWeight) || !validWeight(dstWeight) {
		return nil, amerr.ErrInvalidWeight
	}
	if !targetAmount.Lt(dstBalance) {
		return nil, amerr.ErrInvalidAmount
	}
	if targetAmount.IsZero() {
		return mathex.Zero(), nil
	}
	remaining := new(uint256.Int).Sub(dstBalance, targetAmount)
	if srcWeight == dstWeight {
		return mathex.MulDivCeil(srcBalance, targetAmount, remaining)
	}
	result, precision, err := Power(dstBalance.ToBig(), remaining.ToBig(), uint64(dstWeight), uint64(srcWeight))
	if err != nil {
		return nil, err
	}
	return growthCeil(srcBalance.ToBig(), result, precision)
}

// FundCost returns the reserve amount required to mint amount pool tokens in a
// pool whose reserve weights add up to reserveRatio, rounded up.
func FundCost(supply, reserveBalance *uint256.Int, reserveRatio uint32, amount *uint256.Int) (*uint256.Int, error) {
	if supply.IsZero() {
		return nil, amerr.ErrInvalidAmount
	}
	if reserveBalance.IsZero() {
		return nil, amerr.ErrInvalidReserve
	}
	if !validRatio(reserveRatio) {
		return nil, amerr.ErrInvalidWeight
	}
	if amount.IsZero() {
		return mathex.Zero(), nil
	}
	if reserveRatio == MaxWeight {
		return mathex.MulDivCeil(amount, reserveBalance, supply)
	}
	baseN := new(big.Int).Add(supply.ToBig(), amount.ToBig())
	result, precision, err := Power(baseN, supply.ToBig(), uint64(MaxWeight), uint64(reserveRatio))
	if err != nil {
		return nil, err
	}
	return growthCeil(reserveBalance.ToBig(), result, precision)
}

// FundSupplyAmount returns the pool tokens minted for depositing amount of a
// reserve in a pool whose reserve weights add up to reserveRatio.
func FundSupplyAmount(supply, reserveBalance *uint256.Int, reserveRatio uint32, amount *uint256.Int) (*uint256.Int, error) {
	if supply.IsZero() {
		return nil, amerr.ErrInvalidAmount
	}
	if reserveBalance.IsZero() {
		return nil, amerr.ErrInvalidReserve
	}
	if !validRatio(reserveRatio) {
		return nil, amerr.ErrInvalidWeight
	}
	if amount.IsZero() {
		return mathex.Zero(), nil
	}
	if reserveRatio == MaxWeight {
		return mathex.MulDivFloor(amount, supply, reserveBalance)
	}
	baseN := new(big.Int).Add(reserveBalance.ToBig(), amount.ToBig())
	result, precision, err := Power(baseN, reserveBalance.ToBig(), uint64(reserveRatio), uint64(MaxWeight))
	if err != nil {
		return nil, err
	}
	return growth(supply.ToBig(), result, precision)
}

// LiquidateReserveAmount returns the reserve paid for burning amount pool
// tokens in a pool whose reserve weights add up to reserveRatio.
func LiquidateReserveAmount(supply, reserveBalance *uint256.Int, reserveRatio uint32, amount *uint256.Int) (*uint256.Int, error) {
	if supply.IsZero() {
		return nil, amerr.ErrInvalidAmount
	}
	if reserveBalance.IsZero() {
		return nil, amerr.ErrInvalidReserve
	}
	if !validRatio(reserveRatio) {
		return nil, amerr.ErrInvalidWeight
	}
	if amount.Gt(supply) {
		return nil, amerr.ErrInvalidAmount
	}
	if amount.IsZero() {
		return mathex.Zero(), nil
	}
	if amount.Eq(supply) {
		return mathex.Clone(reserveBalance), nil
	}
	if reserveRatio == MaxWeight {
		return mathex.MulDivFloor(amount, reserveBalance, supply)
	}
	baseD := new(big.Int).Sub(supply.ToBig(), amount.ToBig())
	result, precision, err := Power(supply.ToBig(), baseD, uint64(MaxWeight), uint64(reserveRatio))
	if err != nil {
		return nil, err
	}
	return decay(reserveBalance.ToBig(), result, precision)
}

// growth returns floor(x*result/2^precision) - x.
func growth(x, result *big.Int, precision uint) (*uint256.Int, error) {
	v := new(big.Int).Mul(x, result)
	v.Rsh(v, precision)
	v.Sub(v, x)
	return fromBig(v)
}

// growthCeil returns ceil(x*result/2^precision) - x.
func growthCeil(x, result *big.Int, precision uint) (*uint256.Int, error) {
	v := new(big.Int).Mul(x, result)
	v.Sub(v, big.NewInt(1))
	v.Rsh(v, precision)
	v.Add(v, big.NewInt(1))
	v.Sub(v, x)
	return fromBig(v)
}

// decay returns floor(x*(result - 2^precision)/result).
func decay(x, result *big.Int, precision uint) (*uint256.Int, error) {
	num := new(big.Int).Mul(x, result)
	num.Sub(num, new(big.Int).Lsh(x, precision))
	return fromBig(num.Quo(num, result))
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v.Sign() < 0 {
		return mathex.Zero(), nil
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, amerr.ErrOverflow
	}
	return u, nil
}
