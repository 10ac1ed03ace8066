package verse

import (
	"fmt"
	"math/big"
)

// ErrUndefinedPrice is returned when the bonding curve price cannot be
// computed. Pricing never substitutes a default value.
type ErrUndefinedPrice struct {
	Exchange string
	Reason   string
}

func (e ErrUndefinedPrice) Error() string {
	return fmt.Sprintf("price undefined for exchange %s: %s", e.Exchange, e.Reason)
}

// PriceRatio computes the bonding curve token price as an exact rational:
//
//	price = poolBalance / ((reserveRatio / maxRatio) * totalSupply)
//	      = poolBalance * maxRatio / (reserveRatio * totalSupply)
//
// The numerator/denominator pair is returned unreduced; dividing happens only
// when a price is materialized for reading, so no rounding error accumulates
// across trades. Fails when reserveRatio or totalSupply is zero.
func PriceRatio(exchange string, poolBalance, reserveRatio, totalSupply, maxRatio *big.Int) (num, den *big.Int, err error) {
	if totalSupply == nil || totalSupply.Sign() == 0 {
		return nil, nil, ErrUndefinedPrice{Exchange: exchange, Reason: "total supply is zero"}
	}
	if reserveRatio == nil || reserveRatio.Sign() == 0 {
		return nil, nil, ErrUndefinedPrice{Exchange: exchange, Reason: "reserve ratio is zero"}
	}

	num = new(big.Int).Mul(poolBalance, maxRatio)
	den = new(big.Int).Mul(reserveRatio, totalSupply)
	return num, den, nil
}
