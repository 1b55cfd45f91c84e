// Package curves implements the curve families and the saturating MSE metric
// evaluated at every grid candidate.
package curves

import (
	"fmt"
	"math"
	"strings"
)

// Family identifies a curve family.
type Family string

const (
	FamilyProportional Family = "proportional"
	FamilyPowerLaw     Family = "power"
	FamilyExponential  Family = "exponential"
)

// SaturatedError replaces any error that is not finite or does not fit a float32.
const SaturatedError float32 = math.MaxFloat32

// Curve represents a parametric curve family
type Curve interface {
	// Family returns the family identifier
	Family() Family

	// ParamNames returns the names of the full parameter vector
	ParamNames() []string

	// Arity returns the accepted parameter vector lengths
	Arity() (min, max int)

	// Predict evaluates the curve at x. Missing trailing parameters take
	// their family default.
	Predict(x float64, params []float32) float64
}

// Linearizable is implemented by curves with parameters that enter the
// model linearly once the remaining parameters are fixed.
type Linearizable interface {
	Curve

	// LinearParams returns the positions of the linear parameters for a
	// vector of length n.
	LinearParams(n int) []int

	// Basis writes the basis function values at x into dst, one per linear
	// parameter, with the nonlinear parameters taken from params.
	Basis(x float64, params []float32, dst []float64)
}

// Proportional is y = a*x.
type Proportional struct{}

func (Proportional) Family() Family         { return FamilyProportional }
func (Proportional) ParamNames() []string   { return []string{"a"} }
func (Proportional) Arity() (int, int)      { return 1, 1 }
func (Proportional) LinearParams(int) []int { return []int{0} }

func (Proportional) Predict(x float64, p []float32) float64 {
	return float64(p[0]) * x
}

func (Proportional) Basis(x float64, _ []float32, dst []float64) {
	dst[0] = x
}

// PowerLaw is y = a*x^n. With a single parameter n is 1.
type PowerLaw struct{}

func (PowerLaw) Family() Family         { return FamilyPowerLaw }
func (PowerLaw) ParamNames() []string   { return []string{"a", "n"} }
func (PowerLaw) Arity() (int, int)      { return 1, 2 }
func (PowerLaw) LinearParams(int) []int { return []int{0} }

func (PowerLaw) Predict(x float64, p []float32) float64 {
	n := 1.0
	if len(p) > 1 {
		n = float64(p[1])
	}
	return float64(p[0]) * math.Pow(x, n)
}

func (PowerLaw) Basis(x float64, p []float32, dst []float64) {
	n := 1.0
	if len(p) > 1 {
		n = float64(p[1])
	}
	dst[0] = math.Pow(x, n)
}

// Exponential is y = a*e^(b*x) + c. With two parameters c is 0.
type Exponential struct{}

func (Exponential) Family() Family       { return FamilyExponential }
func (Exponential) ParamNames() []string { return []string{"a", "b", "c"} }
func (Exponential) Arity() (int, int)    { return 2, 3 }

func (Exponential) Predict(x float64, p []float32) float64 {
	y := float64(p[0]) * math.Exp(float64(p[1])*x)
	if len(p) > 2 {
		y += float64(p[2])
	}
	return y
}

func (Exponential) LinearParams(n int) []int {
	if n > 2 {
		return []int{0, 2}
	}
	return []int{0}
}

func (Exponential) Basis(x float64, p []float32, dst []float64) {
	dst[0] = math.Exp(float64(p[1]) * x)
	if len(p) > 2 {
		dst[1] = 1
	}
}

// Lookup resolves a family name. Matching is case-insensitive and accepts
// a few common aliases.
func Lookup(name string) (Curve, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "proportional", "linear", "prop":
		return Proportional{}, nil
	case "power", "powerlaw", "power-law", "power_law":
		return PowerLaw{}, nil
	case "exponential", "exp", "expo":
		return Exponential{}, nil
	default:
		return nil, fmt.Errorf("unknown curve family %q", name)
	}
}

// Families lists the supported families.
func Families() []Family {
	return []Family{FamilyProportional, FamilyPowerLaw, FamilyExponential}
}

// CheckArity reports whether n parameters are valid for c.
func CheckArity(c Curve, n int) error {
	lo, hi := c.Arity()
	if n < lo || n > hi {
		if lo == hi {
			return fmt.Errorf("%s expects %d parameter(s), got %d", c.Family(), lo, n)
		}
		return fmt.Errorf("%s expects %d to %d parameters, got %d", c.Family(), lo, hi, n)
	}
	return nil
}
