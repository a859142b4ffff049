// Package ucum converts values between UCUM unit codes.
//
// It understands prefixed atoms (mg, dL, kPa, ...), products and a single
// division (mg/dL, kg/m2, /min), integer exponents, curly-brace annotations
// and the affine temperature units Cel, [degF] and K.
package ucum

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// SystemURI is the canonical UCUM code system.
const SystemURI = "http://unitsofmeasure.org"

// Status of a conversion attempt.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusError     Status = "error"
)

// Result is the outcome of Convert.
type Result struct {
	Status Status
	ToVal  float64
	Msg    []string
}

// Converter converts a value from one unit code to another.
type Converter interface {
	Convert(fromCode string, value float64, toCode string) Result
}

// dimension exponents: mass, length, time, amount, temperature
type dims [5]int

type atom struct {
	factor     float64 // to base units (g, m, s, mol, K)
	dim        dims
	prefixable bool
	// affine temperature scale; only valid when the atom is the whole term
	offset func(v float64) float64
	back   func(v float64) float64
}

var prefixes = map[string]float64{
	"Y": 1e24, "Z": 1e21, "E": 1e18, "P": 1e15, "T": 1e12, "G": 1e9, "M": 1e6,
	"k": 1e3, "h": 1e2, "da": 1e1, "d": 1e-1, "c": 1e-2, "m": 1e-3, "u": 1e-6,
	"n": 1e-9, "p": 1e-12, "f": 1e-15, "a": 1e-18,
}

var (
	dimMass   = dims{1, 0, 0, 0, 0}
	dimLength = dims{0, 1, 0, 0, 0}
	dimTime   = dims{0, 0, 1, 0, 0}
	dimAmount = dims{0, 0, 0, 1, 0}
	dimTemp   = dims{0, 0, 0, 0, 1}
	dimVolume = dims{0, 3, 0, 0, 0}
	dimPress  = dims{1, -1, -2, 0, 0}
	dimNone   = dims{}
)

var atoms = map[string]atom{
	"g":         {factor: 1, dim: dimMass, prefixable: true},
	"[lb_av]":   {factor: 453.59237, dim: dimMass},
	"[oz_av]":   {factor: 28.349523125, dim: dimMass},
	"[gr]":      {factor: 0.06479891, dim: dimMass},
	"m":         {factor: 1, dim: dimLength, prefixable: true},
	"[in_i]":    {factor: 0.0254, dim: dimLength},
	"[ft_i]":    {factor: 0.3048, dim: dimLength},
	"[yd_i]":    {factor: 0.9144, dim: dimLength},
	"[mi_i]":    {factor: 1609.344, dim: dimLength},
	"L":         {factor: 1e-3, dim: dimVolume, prefixable: true},
	"l":         {factor: 1e-3, dim: dimVolume, prefixable: true},
	"[foz_us]":  {factor: 29.5735295625e-6, dim: dimVolume},
	"[pt_us]":   {factor: 473.176473e-6, dim: dimVolume},
	"[qt_us]":   {factor: 946.352946e-6, dim: dimVolume},
	"[gal_us]":  {factor: 3.785411784e-3, dim: dimVolume},
	"s":         {factor: 1, dim: dimTime, prefixable: true},
	"min":       {factor: 60, dim: dimTime},
	"h":         {factor: 3600, dim: dimTime},
	"d":         {factor: 86400, dim: dimTime},
	"wk":        {factor: 604800, dim: dimTime},
	"mo":        {factor: 2629800, dim: dimTime},
	"a":         {factor: 31557600, dim: dimTime},
	"mol":       {factor: 1, dim: dimAmount, prefixable: true},
	"Pa":        {factor: 1e3, dim: dimPress, prefixable: true},
	"bar":       {factor: 1e8, dim: dimPress, prefixable: true},
	"mm[Hg]":    {factor: 133322, dim: dimPress},
	"[in_i'Hg]": {factor: 3386378.8, dim: dimPress},
	"%":         {factor: 1e-2, dim: dimNone},
	"1":         {factor: 1, dim: dimNone},
	"K":         {factor: 1, dim: dimTemp},
	"Cel": {
		factor: 1, dim: dimTemp,
		offset: func(v float64) float64 { return v + 273.15 },
		back:   func(v float64) float64 { return v - 273.15 },
	},
	"[degF]": {
		factor: 1, dim: dimTemp,
		offset: func(v float64) float64 { return (v + 459.67) * 5 / 9 },
		back:   func(v float64) float64 { return v*9/5 - 459.67 },
	},
}

// unit is a parsed term reduced to base units.
type unit struct {
	factor float64
	dim    dims
	affine *atom
}

// TableConverter is a Converter backed by a static table of UCUM atoms.
type TableConverter struct{}

// NewConverter returns the default converter.
func NewConverter() *TableConverter {
	return &TableConverter{}
}

// Convert converts value expressed in fromCode into toCode.
func (TableConverter) Convert(fromCode string, value float64, toCode string) Result {
	from, err := parse(fromCode)
	if err != nil {
		return Result{Status: StatusError, Msg: []string{err.Error()}}
	}
	to, err := parse(toCode)
	if err != nil {
		return Result{Status: StatusError, Msg: []string{err.Error()}}
	}
	if from.dim != to.dim {
		return Result{
			Status: StatusFailed,
			Msg:    []string{fmt.Sprintf("%s and %s are not commensurable", fromCode, toCode)},
		}
	}

	if from.affine != nil || to.affine != nil {
		base := value * from.factor
		if from.affine != nil && from.affine.offset != nil {
			base = from.affine.offset(value)
		}
		out := base / to.factor
		if to.affine != nil && to.affine.back != nil {
			out = to.affine.back(base)
		}
		return Result{Status: StatusSucceeded, ToVal: out}
	}

	return Result{Status: StatusSucceeded, ToVal: value * from.factor / to.factor}
}

func parse(code string) (unit, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return unit{}, fmt.Errorf("empty unit code")
	}
	if a, ok := atoms[code]; ok && a.offset != nil {
		return unit{factor: a.factor, dim: a.dim, affine: &a}, nil
	}

	num, den, hasDiv := strings.Cut(code, "/")
	if hasDiv && strings.Contains(den, "/") {
		return unit{}, fmt.Errorf("unsupported unit expression %q", code)
	}

	u := unit{factor: 1}
	if num != "" {
		n, err := parseProduct(num)
		if err != nil {
			return unit{}, err
		}
		u = n
	}
	if hasDiv {
		d, err := parseProduct(den)
		if err != nil {
			return unit{}, err
		}
		u.factor /= d.factor
		for i := range u.dim {
			u.dim[i] -= d.dim[i]
		}
	}
	return u, nil
}

func parseProduct(expr string) (unit, error) {
	u := unit{factor: 1}
	for _, part := range strings.Split(expr, ".") {
		c, err := parseComponent(part)
		if err != nil {
			return unit{}, err
		}
		u.factor *= c.factor
		for i := range u.dim {
			u.dim[i] += c.dim[i]
		}
	}
	return u, nil
}

func parseComponent(s string) (unit, error) {
	// annotations such as {beats} are dimensionless
	for {
		open := strings.IndexByte(s, '{')
		if open < 0 {
			break
		}
		end := strings.IndexByte(s[open:], '}')
		if end < 0 {
			return unit{}, fmt.Errorf("unterminated annotation in %q", s)
		}
		s = s[:open] + s[open+end+1:]
	}
	if s == "" {
		return unit{factor: 1}, nil
	}

	// trailing integer exponent, e.g. m2 or s-1
	exp := 1
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i > 0 && s[i-1] == '-' {
		i--
	}
	if i > 0 && i < len(s) {
		if n, err := strconv.Atoi(s[i:]); err == nil {
			if _, isAtom := atoms[s]; !isAtom {
				exp = n
				s = s[:i]
			}
		}
	}

	a, factor, err := lookup(s)
	if err != nil {
		return unit{}, err
	}
	if a.offset != nil {
		return unit{}, fmt.Errorf("%s cannot be combined with other units", s)
	}
	out := unit{factor: math.Pow(a.factor*factor, float64(exp))}
	for d := range a.dim {
		out.dim[d] = a.dim[d] * exp
	}
	return out, nil
}

func lookup(s string) (atom, float64, error) {
	if a, ok := atoms[s]; ok {
		return a, 1, nil
	}
	for p, f := range prefixes {
		if !strings.HasPrefix(s, p) {
			continue
		}
		if a, ok := atoms[s[len(p):]]; ok && a.prefixable {
			return a, f, nil
		}
	}
	return atom{}, 0, fmt.Errorf("unknown unit %q", s)
}
