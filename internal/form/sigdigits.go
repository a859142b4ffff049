package form

import (
	"math"
	"regexp"

	"github.com/shopspring/decimal"
)

var digitsRe = regexp.MustCompile(`(\d+)(?:\.(\d+))?`)

// SignificantDigits counts the meaningful digits of x in its shortest decimal
// form. Values whose whole part is zero, and non-finite values, report 0:
// their precision cannot be told from the literal.
func SignificantDigits(x float64) int {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	m := digitsRe.FindStringSubmatch(decimal.NewFromFloat(x).String())
	if m == nil || m[1] == "0" {
		return 0
	}
	return len(m[1]) + len(m[2])
}

// roundToSignificant rounds x to sd significant digits. sd <= 0 returns x.
func roundToSignificant(x float64, sd int) float64 {
	if sd <= 0 || x == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	d := decimal.NewFromFloat(x)
	magnitude := len(d.Abs().Coefficient().String()) - 1 + int(d.Exponent())
	out, _ := d.Round(int32(sd - 1 - magnitude)).Float64()
	return out
}
