package gateway

import (
	"strconv"

	"github.com/kylebaus/Baus/internal/core"
)

const maxWireDecimals = 8

// stepDecimals derives the number of wire decimals from a precision step,
// e.g. 0.01 -> 2.
func stepDecimals(step float64) int {
	if step <= 0 {
		return maxWireDecimals
	}
	decimals := 0
	for step < 0.9999999 && decimals < maxWireDecimals {
		step *= 10
		decimals++
	}
	return decimals
}

// FormatPrice renders a price with the instrument's price precision.
func FormatPrice(instrument *core.Instrument, price float64) string {
	return strconv.FormatFloat(price, 'f', stepDecimals(instrument.PriceTick), 64)
}

// FormatQuantity renders a quantity with the instrument's quantity precision.
func FormatQuantity(instrument *core.Instrument, quantity float64) string {
	return strconv.FormatFloat(quantity, 'f', stepDecimals(instrument.QuantityStep), 64)
}
