package calibration

import "math"

// Degree is the polynomial degree of every calibration curve.
const Degree = 3

// FitStats describes how well a curve matches the standards it was fitted to.
// It is informational only.
type FitStats struct {
	Standards int     `json:"standards"`
	Distinct  int     `json:"distinct"`
	RSquared  float64 `json:"r_squared"`
}

// Curve is an immutable degree-3 calibration curve mapping a measured signal
// to a concentration. Coefficients are held against the normalized signal
// u = (signal - shift) / scale.
type Curve struct {
	coef  [Degree + 1]float64
	shift float64
	scale float64
	stats FitStats
}

// NewCurve builds a curve directly from ascending raw coefficients,
// i.e. c0 + c1*x + c2*x^2 + c3*x^3.
func NewCurve(coefficients [Degree + 1]float64) Curve {
	return Curve{coef: coefficients, scale: 1}
}

// Eval returns the predicted concentration for signal.
func (c Curve) Eval(signal float64) float64 {
	scale := c.scale
	if scale == 0 {
		scale = 1
	}
	u := (signal - c.shift) / scale
	y := c.coef[Degree]
	for k := Degree - 1; k >= 0; k-- {
		y = y*u + c.coef[k]
	}
	return y
}

// Func returns the curve as a plain function value.
func (c Curve) Func() func(float64) float64 {
	return c.Eval
}

// Stats returns the fit quality recorded when the curve was fitted.
func (c Curve) Stats() FitStats {
	return c.stats
}

// Coefficients returns the ascending coefficients in the raw signal domain.
func (c Curve) Coefficients() [Degree + 1]float64 {
	var raw [Degree + 1]float64
	scale := c.scale
	if scale == 0 {
		scale = 1
	}
	// c_k * ((x - m)/s)^k = c_k * s^-k * sum_j C(k,j) x^j (-m)^(k-j)
	for k := 0; k <= Degree; k++ {
		ck := c.coef[k] / math.Pow(scale, float64(k))
		for j := 0; j <= k; j++ {
			raw[j] += ck * binomial(k, j) * math.Pow(-c.shift, float64(k-j))
		}
	}
	return raw
}

func binomial(n, k int) float64 {
	r := 1.0
	for i := 1; i <= k; i++ {
		r = r * float64(n-k+i) / float64(i)
	}
	return r
}
