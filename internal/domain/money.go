package domain

import (
	"fmt"
	"math"
)

// Cents is a monetary amount in integer cents. All prices and offer amounts
// are stored fixed-point; floating point only appears transiently inside the
// multiplier formula.
type Cents int64

// Dollars returns the display value.
func (c Cents) Dollars() float64 {
	return float64(c) / 100
}

func (c Cents) String() string {
	return fmt.Sprintf("$%.2f", c.Dollars())
}

// MulRound multiplies the amount by a factor and rounds half-up to the
// nearest cent.
func (c Cents) MulRound(factor float64) Cents {
	return Cents(math.Round(float64(c) * factor))
}
