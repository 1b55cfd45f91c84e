package curves

import "fmt"

// Params is a typed view over a flat parameter vector.
type Params interface {
	Family() Family
	Vector() []float32
	String() string
}

// ProportionalParams holds y = A*x.
type ProportionalParams struct{ A float32 }

// PowerLawParams holds y = A*x^N.
type PowerLawParams struct{ A, N float32 }

// ExponentialParams holds y = A*e^(B*x) + C.
type ExponentialParams struct{ A, B, C float32 }

func (p ProportionalParams) Family() Family    { return FamilyProportional }
func (p ProportionalParams) Vector() []float32 { return []float32{p.A} }
func (p ProportionalParams) String() string    { return fmt.Sprintf("y = %g*x", p.A) }

func (p PowerLawParams) Family() Family    { return FamilyPowerLaw }
func (p PowerLawParams) Vector() []float32 { return []float32{p.A, p.N} }
func (p PowerLawParams) String() string    { return fmt.Sprintf("y = %g*x^%g", p.A, p.N) }

func (p ExponentialParams) Family() Family    { return FamilyExponential }
func (p ExponentialParams) Vector() []float32 { return []float32{p.A, p.B, p.C} }
func (p ExponentialParams) String() string {
	return fmt.Sprintf("y = %g*e^(%g*x) + %g", p.A, p.B, p.C)
}

// Decode builds the typed view of vec for family. Missing trailing
// parameters take the family default (n = 1, c = 0).
func Decode(family Family, vec []float32) (Params, error) {
	c, err := Lookup(string(family))
	if err != nil {
		return nil, err
	}
	if err := CheckArity(c, len(vec)); err != nil {
		return nil, err
	}
	switch c.Family() {
	case FamilyProportional:
		return ProportionalParams{A: vec[0]}, nil
	case FamilyPowerLaw:
		p := PowerLawParams{A: vec[0], N: 1}
		if len(vec) > 1 {
			p.N = vec[1]
		}
		return p, nil
	default:
		p := ExponentialParams{A: vec[0], B: vec[1]}
		if len(vec) > 2 {
			p.C = vec[2]
		}
		return p, nil
	}
}
