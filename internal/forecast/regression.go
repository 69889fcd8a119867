package forecast

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoTrainingRows = errors.New("no training rows")
	ErrNonFinite      = errors.New("non-finite value")
)

// Kind selects the regression used for a target.
type Kind string

const (
	KindLinear Kind = "linear"
	KindRidge  Kind = "ridge"
	KindBagged Kind = "bagged"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindLinear, KindRidge, KindBagged:
		return k, nil
	}
	return "", fmt.Errorf("unknown model kind %q (allowed: linear, ridge, bagged)", s)
}

const (
	// rcond is the relative cutoff below which singular values are treated as
	// zero in the least-squares solve.
	rcond = 1e-12

	DefaultAlpha      = 1.0
	DefaultEstimators = 25
	DefaultSeed       = 42
)

type FitOptions struct {
	Kind Kind
	// Alpha is the ridge penalty on standardised features.
	Alpha float64
	// Estimators is the bagged ensemble size.
	Estimators int
	Seed       uint64
}

func (o FitOptions) withDefaults() FitOptions {
	if o.Kind == "" {
		o.Kind = KindLinear
	}
	if o.Alpha <= 0 {
		o.Alpha = DefaultAlpha
	}
	if o.Estimators <= 0 {
		o.Estimators = DefaultEstimators
	}
	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}
	return o
}

// Model is a fitted linear predictor y = Intercept + Coef·x. The bagged kind
// stores the mean of its members' coefficients, which predicts the same as
// averaging the members.
type Model struct {
	Kind      Kind      `json:"kind"`
	Intercept float64   `json:"intercept"`
	Coef      []float64 `json:"coef"`
}

// Predict evaluates the model on one feature vector.
func (m *Model) Predict(x []float64) (float64, error) {
	if len(x) != len(m.Coef) {
		return 0, fmt.Errorf("predict: %d features, model expects %d", len(x), len(m.Coef))
	}
	y := m.Intercept
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("predict: feature %d: %w", i, ErrNonFinite)
		}
		y += m.Coef[i] * v
	}
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, fmt.Errorf("predict: result: %w", ErrNonFinite)
	}
	return y, nil
}

// Fit trains a model on X (rows × features), targets y and per-row weights w.
// A nil w weights every row equally.
func Fit(X [][]float64, y, w []float64, opts FitOptions) (*Model, error) {
	opts = opts.withDefaults()
	if len(X) == 0 {
		return nil, ErrNoTrainingRows
	}
	if len(y) != len(X) {
		return nil, fmt.Errorf("fit: %d rows but %d targets", len(X), len(y))
	}
	if w == nil {
		w = make([]float64, len(X))
		for i := range w {
			w[i] = 1
		}
	}
	if len(w) != len(X) {
		return nil, fmt.Errorf("fit: %d rows but %d weights", len(X), len(w))
	}
	p := len(X[0])
	if p == 0 {
		return nil, errors.New("fit: no features")
	}
	for i, row := range X {
		if len(row) != p {
			return nil, fmt.Errorf("fit: row %d has %d features, want %d", i, len(row), p)
		}
		for _, v := range row {
			if !finite(v) {
				return nil, fmt.Errorf("fit: row %d: %w", i, ErrNonFinite)
			}
		}
		if !finite(y[i]) {
			return nil, fmt.Errorf("fit: target %d: %w", i, ErrNonFinite)
		}
		if !finite(w[i]) || w[i] < 0 {
			return nil, fmt.Errorf("fit: weight %d is %v", i, w[i])
		}
	}

	var (
		m   *Model
		err error
	)
	switch opts.Kind {
	case KindLinear:
		m, err = fitLinear(X, y, w)
	case KindRidge:
		m, err = fitRidge(X, y, w, opts.Alpha)
	case KindBagged:
		m, err = fitBagged(X, y, w, opts)
	default:
		return nil, fmt.Errorf("fit: unknown model kind %q", opts.Kind)
	}
	if err != nil {
		return nil, err
	}
	m.Kind = opts.Kind

	if !finite(m.Intercept) {
		return nil, fmt.Errorf("fit: intercept: %w", ErrNonFinite)
	}
	for i, c := range m.Coef {
		if !finite(c) {
			return nil, fmt.Errorf("fit: coefficient %d: %w", i, ErrNonFinite)
		}
	}
	return m, nil
}

// centre returns the weighted column means of X and the weighted mean of y.
func centre(X [][]float64, y, w []float64) (xMean []float64, yMean float64, err error) {
	var wSum float64
	for _, v := range w {
		wSum += v
	}
	if wSum <= 0 {
		return nil, 0, fmt.Errorf("fit: weights sum to %v: %w", wSum, ErrNoTrainingRows)
	}

	xMean = make([]float64, len(X[0]))
	for i, row := range X {
		for j, v := range row {
			xMean[j] += w[i] * v
		}
		yMean += w[i] * y[i]
	}
	for j := range xMean {
		xMean[j] /= wSum
	}
	yMean /= wSum
	return xMean, yMean, nil
}

// fitLinear solves weighted least squares on centred data for the
// minimum-norm coefficients, then recovers the intercept from the means.
func fitLinear(X [][]float64, y, w []float64) (*Model, error) {
	xMean, yMean, err := centre(X, y, w)
	if err != nil {
		return nil, err
	}

	n, p := len(X), len(X[0])
	a := mat.NewDense(n, p, nil)
	b := mat.NewDense(n, 1, nil)
	for i, row := range X {
		sw := math.Sqrt(w[i])
		for j, v := range row {
			a.Set(i, j, (v-xMean[j])*sw)
		}
		b.Set(i, 0, (y[i]-yMean)*sw)
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, errors.New("fit: SVD did not converge")
	}
	rank := svd.Rank(rcond)

	coef := make([]float64, p)
	if rank > 0 {
		var beta mat.Dense
		svd.SolveTo(&beta, b, rank)
		for j := range coef {
			coef[j] = beta.At(j, 0)
		}
	}

	return &Model{Intercept: intercept(yMean, xMean, coef), Coef: coef}, nil
}

// fitRidge standardises each feature by its weighted standard deviation and
// solves (XᵀWX + αI)β = XᵀWy. Constant features get a zero coefficient.
func fitRidge(X [][]float64, y, w []float64, alpha float64) (*Model, error) {
	xMean, yMean, err := centre(X, y, w)
	if err != nil {
		return nil, err
	}

	n, p := len(X), len(X[0])
	var wSum float64
	for _, v := range w {
		wSum += v
	}
	scale := make([]float64, p)
	for i, row := range X {
		for j, v := range row {
			d := v - xMean[j]
			scale[j] += w[i] * d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / wSum)
	}

	a := mat.NewDense(n, p, nil)
	b := mat.NewVecDense(n, nil)
	for i, row := range X {
		sw := math.Sqrt(w[i])
		for j, v := range row {
			if scale[j] > 0 {
				a.Set(i, j, (v-xMean[j])/scale[j]*sw)
			}
		}
		b.SetVec(i, (y[i]-yMean)*sw)
	}

	var gram mat.Dense
	gram.Mul(a.T(), a)
	for j := 0; j < p; j++ {
		gram.Set(j, j, gram.At(j, j)+alpha)
	}
	var rhs mat.VecDense
	rhs.MulVec(a.T(), b)

	var beta mat.VecDense
	if err := beta.SolveVec(&gram, &rhs); err != nil {
		return nil, fmt.Errorf("fit: ridge solve: %w", err)
	}

	coef := make([]float64, p)
	for j := range coef {
		if scale[j] > 0 {
			coef[j] = beta.AtVec(j) / scale[j]
		}
	}
	return &Model{Intercept: intercept(yMean, xMean, coef), Coef: coef}, nil
}

// fitBagged averages ridge fits on bootstrap resamples drawn from a seeded
// generator, so a given input always yields the same model.
func fitBagged(X [][]float64, y, w []float64, opts FitOptions) (*Model, error) {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	n, p := len(X), len(X[0])

	sum := &Model{Coef: make([]float64, p)}
	fitted := 0
	for e := 0; e < opts.Estimators; e++ {
		bx := make([][]float64, n)
		by := make([]float64, n)
		bw := make([]float64, n)
		for i := range bx {
			k := rng.IntN(n)
			bx[i], by[i], bw[i] = X[k], y[k], w[k]
		}

		m, err := fitRidge(bx, by, bw, opts.Alpha)
		if errors.Is(err, ErrNoTrainingRows) {
			// every drawn row had zero weight
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fit: estimator %d: %w", e, err)
		}
		sum.Intercept += m.Intercept
		for j, c := range m.Coef {
			sum.Coef[j] += c
		}
		fitted++
	}
	if fitted == 0 {
		return nil, ErrNoTrainingRows
	}

	sum.Intercept /= float64(fitted)
	for j := range sum.Coef {
		sum.Coef[j] /= float64(fitted)
	}
	return sum, nil
}

func intercept(yMean float64, xMean, coef []float64) float64 {
	b := yMean
	for j, c := range coef {
		b -= c * xMean[j]
	}
	return b
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
