package waveform

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/dartlas/internal/lidarerr"
)

// Residual model for the least-squares solver. Eval writes f(x_i; p) into
// out and the Jacobian ∂f_i/∂p_j into jac.
type model interface {
	NumParams() int
	Eval(p []float64, out []float64, jac *mat.Dense)
}

// lmSettings tunes the bounded Levenberg–Marquardt solver.
type lmSettings struct {
	MaxIter   int     // iteration budget; exhausting it is a fit failure
	FTol      float64 // relative reduction in cost that counts as converged
	XTol      float64 // relative step size that counts as converged
	GTol      float64 // max |gradient| that counts as converged
	LambdaMax float64 // damping beyond which the current point is accepted as a minimum
}

// maxLMIter bounds the iteration budget however many components are fitted.
const maxLMIter = 2000

func defaultLMSettings(numParams int) lmSettings {
	return lmSettings{
		MaxIter:   min(100*(numParams+1), maxLMIter),
		FTol:      1e-10,
		XTol:      1e-10,
		GTol:      1e-12,
		LambdaMax: 1e16,
	}
}

// levenbergMarquardt minimises Σ (y_i - f_i(p))² subject to p_j ≥ lower_j,
// starting from p (modified in place). Steps are projected onto the bounds.
// It returns lidarerr.ErrFitFailure when the cost becomes non-finite or the
// iteration budget runs out.
func levenbergMarquardt(m model, y, p, lower []float64, s lmSettings) error {
	n, k := len(y), m.NumParams()
	project(p, lower)

	f := make([]float64, n)
	r := make([]float64, n)
	jac := mat.NewDense(n, k, nil)
	trial := make([]float64, k)
	trialF := make([]float64, n)

	var jtj mat.SymDense
	damped := mat.NewSymDense(k, nil)
	grad := mat.NewVecDense(k, nil)
	step := mat.NewVecDense(k, nil)
	var chol mat.Cholesky

	m.Eval(p, f, jac)
	cost := residuals(y, f, r)
	if !finite(cost) {
		return lidarerr.ErrFitFailure
	}
	if cost == 0 {
		return nil
	}

	lambda := 1e-3
	for iter := 0; iter < s.MaxIter; iter++ {
		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(n, r))
		if mat.Norm(grad, math.Inf(1)) <= s.GTol {
			return nil
		}

		accepted := false
		for !accepted {
			if lambda > s.LambdaMax {
				// No damped step reduces the cost; the current point is a
				// (bounded) local minimum.
				return nil
			}
			for i := 0; i < k; i++ {
				for j := i; j < k; j++ {
					damped.SetSym(i, j, jtj.At(i, j))
				}
				d := jtj.At(i, i)
				if d < 1e-12 {
					d = 1e-12
				}
				damped.SetSym(i, i, jtj.At(i, i)+lambda*d)
			}
			if ok := chol.Factorize(damped); !ok {
				lambda *= 10
				continue
			}
			if err := chol.SolveVecTo(step, grad); err != nil {
				lambda *= 10
				continue
			}

			for j := 0; j < k; j++ {
				trial[j] = p[j] + step.AtVec(j)
			}
			project(trial, lower)

			m.Eval(trial, trialF, nil)
			trialCost := sumSquares(y, trialF)
			if !finite(trialCost) || trialCost >= cost {
				lambda *= 10
				continue
			}

			accepted = true
			dx := floats.Distance(trial, p, 2)
			px := floats.Norm(p, 2)
			reduction := cost - trialCost

			copy(p, trial)
			m.Eval(p, f, jac)
			cost = residuals(y, f, r)
			lambda = math.Max(lambda/10, 1e-12)

			if reduction <= s.FTol*(cost+reduction) || dx <= s.XTol*(px+s.XTol) || cost == 0 {
				return nil
			}
		}
	}
	return lidarerr.ErrFitFailure
}

// project clamps p onto its lower bounds.
func project(p, lower []float64) {
	for i := range p {
		if p[i] < lower[i] || math.IsNaN(p[i]) {
			p[i] = lower[i]
		}
	}
}

func residuals(y, f, r []float64) float64 {
	floats.SubTo(r, y, f)
	return floats.Dot(r, r)
}

func sumSquares(y, f []float64) float64 {
	var c float64
	for i := range y {
		d := y[i] - f[i]
		c += d * d
	}
	return c
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
