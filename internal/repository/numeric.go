package repository

import (
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
)

// NumericToCents converts a pgtype.Numeric (from a numeric(12,2) money column)
// to minor units. Digits beyond the second decimal are rounded half away from
// zero. Returns an error if the value is NULL, NaN, infinite or overflows int64.
func NumericToCents(n pgtype.Numeric) (int64, error) {
	if !n.Valid {
		return 0, fmt.Errorf("numeric value is NULL")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return 0, fmt.Errorf("numeric value is not finite")
	}

	// value = Int * 10^Exp, cents = Int * 10^(Exp+2)
	bi := new(big.Int)
	if n.Int != nil {
		bi.Set(n.Int)
	}
	shift := int64(n.Exp) + 2

	if shift > 0 {
		multiplier := new(big.Int).Exp(big.NewInt(10), big.NewInt(shift), nil)
		bi.Mul(bi, multiplier)
	} else if shift < 0 {
		divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(-shift), nil)
		q, rem := new(big.Int).QuoRem(bi, divisor, new(big.Int))
		// round half away from zero
		rem.Abs(rem).Mul(rem, big.NewInt(2))
		if rem.Cmp(divisor) >= 0 {
			if bi.Sign() < 0 {
				q.Sub(q, big.NewInt(1))
			} else {
				q.Add(q, big.NewInt(1))
			}
		}
		bi = q
	}

	if !bi.IsInt64() {
		return 0, fmt.Errorf("numeric value %s overflows int64", bi.String())
	}
	return bi.Int64(), nil
}

// CentsToNumeric converts minor units to a pgtype.Numeric with two decimals.
func CentsToNumeric(cents int64) pgtype.Numeric {
	return pgtype.Numeric{
		Int:              big.NewInt(cents),
		Exp:              -2,
		NaN:              false,
		InfinityModifier: pgtype.Finite,
		Valid:            true,
	}
}
