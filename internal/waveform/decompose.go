// Package waveform decomposes a digitized return waveform into Gaussian echoes.
//
// Each echo is modelled as an area-normalised Gaussian over the bin index x:
//
//	g(x) = A / (σ·√(2π)) · exp(-(x-c)² / (2σ²))
//
// so A is the integrated echo energy, c the centre bin and σ the width in
// bins. All echoes of a pulse are fitted jointly with a bounded
// Levenberg–Marquardt solver.
package waveform

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// sqrt2Pi is √(2π).
var sqrt2Pi = math.Sqrt(2 * math.Pi)

// minSigma keeps σ strictly positive while iterating.
const minSigma = 1e-6

// Echo is one fitted Gaussian component.
type Echo struct {
	Amplitude float64 // integrated area A
	Center    float64 // centre bin c
	Sigma     float64 // σ in bins
}

// Peak returns the Gaussian's maximum height, A/(σ√(2π)).
func (e Echo) Peak() float64 {
	return e.Amplitude / (e.Sigma * sqrt2Pi)
}

// FWHM returns the full width at half maximum in bins.
func (e Echo) FWHM() float64 {
	return 2 * math.Sqrt(2*math.Ln2) * e.Sigma
}

// Eval returns the echo's contribution at bin x.
func (e Echo) Eval(x float64) float64 {
	d := (x - e.Center) / e.Sigma
	return e.Amplitude / (e.Sigma * sqrt2Pi) * math.Exp(-0.5*d*d)
}

// Decomposer holds the peak detector settings. The zero value detects every
// positive local maximum with no suppression window and no component cap.
type Decomposer struct {
	NoiseThreshold  float64 // samples must exceed this to seed a peak
	MinPeakDistance int     // suppression window in bins
	MaxComponents   int     // most peaks fitted; 0 means no limit
}

// Decompose fits one Gaussian per detected peak of samples. It returns an
// empty result, not an error, when no peak exceeds the noise threshold, and
// lidarerr.ErrFitFailure when the joint fit does not converge. Components
// whose fitted amplitude is not positive are dropped.
func (d Decomposer) Decompose(samples []float64) ([]Echo, error) {
	peaks := FindPeaks(samples, d.NoiseThreshold, d.MinPeakDistance)
	if len(peaks) == 0 {
		return nil, nil
	}
	if d.MaxComponents > 0 {
		peaks = StrongestPeaks(samples, peaks, d.MaxComponents)
	}

	guess := InitialGuess(samples, peaks)
	p := make([]float64, 0, 3*len(guess))
	lower := make([]float64, 0, 3*len(guess))
	for _, g := range guess {
		p = append(p, g.Amplitude, g.Center, g.Sigma)
		lower = append(lower, 0, 0, minSigma)
	}

	if err := levenbergMarquardt(mixture{n: len(samples), k: len(guess)}, samples, p, lower, defaultLMSettings(len(p))); err != nil {
		return nil, err
	}

	echoes := make([]Echo, 0, len(guess))
	for i := 0; i < len(p); i += 3 {
		e := Echo{Amplitude: p[i], Center: p[i+1], Sigma: p[i+2]}
		if !(e.Amplitude > 0) || !finite(e.Center) || !finite(e.Sigma) {
			continue
		}
		echoes = append(echoes, e)
	}
	return echoes, nil
}

// StrongestPeaks keeps the n highest of peaks, returned in ascending index
// order. Equal heights favour the earlier index.
func StrongestPeaks(y []float64, peaks []int, n int) []int {
	if len(peaks) <= n {
		return peaks
	}
	order := append([]int(nil), peaks...)
	sort.SliceStable(order, func(a, b int) bool { return y[order[a]] > y[order[b]] })
	kept := order[:n]
	sort.Ints(kept)
	return kept
}

// SupportInterval walks outward from peak while the samples do not increase
// and returns the inclusive bounds of the peak's support.
func SupportInterval(y []float64, peak int) (lo, hi int) {
	lo, hi = peak, peak
	for lo > 0 && y[lo-1] <= y[lo] {
		lo--
	}
	for hi < len(y)-1 && y[hi+1] <= y[hi] {
		hi++
	}
	return lo, hi
}

// InitialGuess derives a starting Echo for every peak from the moments of its
// support interval: the interval sum for A, the weighted centroid for c and
// the weighted spread for σ. A lone peak whose interval yields no usable
// spread is given the whole array as support.
func InitialGuess(y []float64, peaks []int) []Echo {
	guess := make([]Echo, len(peaks))
	for i, pk := range peaks {
		lo, hi := SupportInterval(y, pk)
		e, ok := moments(y, lo, hi)
		if !ok && len(peaks) == 1 {
			e, ok = moments(y, 0, len(y)-1)
		}
		if !ok {
			e = Echo{Amplitude: y[pk] * sqrt2Pi, Center: float64(pk), Sigma: 1}
		}
		guess[i] = e
	}
	return guess
}

func moments(y []float64, lo, hi int) (Echo, bool) {
	if hi-lo < 2 {
		return Echo{}, false
	}
	seg := y[lo : hi+1]
	sum := floats.Sum(seg)
	if !(sum > 0) {
		return Echo{}, false
	}
	var c float64
	for i, v := range seg {
		c += float64(lo+i) * v
	}
	c /= sum
	var v2 float64
	for i, v := range seg {
		dx := float64(lo+i) - c
		v2 += dx * dx * v
	}
	sigma := math.Sqrt(v2 / sum)
	if !(sigma > 0) {
		return Echo{}, false
	}
	return Echo{Amplitude: sum, Center: c, Sigma: sigma}, true
}

// Mixture evaluates the sum of echoes at bin x.
func Mixture(echoes []Echo, x float64) float64 {
	var s float64
	for _, e := range echoes {
		s += e.Eval(x)
	}
	return s
}

// mixture is the least-squares model: k area-normalised Gaussians sampled
// at x = 0..n-1, parameters laid out as (A, c, σ) triples.
type mixture struct {
	n, k int
}

func (m mixture) NumParams() int { return 3 * m.k }

func (m mixture) Eval(p []float64, out []float64, jac *mat.Dense) {
	for i := range out {
		out[i] = 0
	}
	for c := 0; c < m.k; c++ {
		a, mu, sigma := p[3*c], p[3*c+1], p[3*c+2]
		norm := 1 / (sigma * sqrt2Pi)
		for i := 0; i < m.n; i++ {
			x := float64(i)
			d := x - mu
			e := math.Exp(-d * d / (2 * sigma * sigma))
			g := a * norm * e
			out[i] += g
			if jac != nil {
				jac.Set(i, 3*c, norm*e)
				jac.Set(i, 3*c+1, g*d/(sigma*sigma))
				jac.Set(i, 3*c+2, g*(d*d/(sigma*sigma*sigma)-1/sigma))
			}
		}
	}
}
