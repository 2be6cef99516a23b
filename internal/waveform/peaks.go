package waveform

import "sort"

// FindPeaks returns the indices of local maxima of y that exceed threshold,
// in ascending index order.
//
// Peaks are located where the first difference changes sign from positive to
// negative. Flat runs in the difference are first filled from their
// neighbours: a run touching the left edge takes the first non-zero
// difference to its right, a run touching the right edge takes the last one
// to its left, and an interior run takes its left neighbour on its left half
// and its right neighbour on the rest. A completely flat signal has no peaks.
//
// When minDist > 1, peaks are visited from highest to lowest and every
// weaker peak within minDist samples of a retained one is dropped.
func FindPeaks(y []float64, threshold float64, minDist int) []int {
	n := len(y)
	if n < 3 {
		return nil
	}

	dy := make([]float64, n-1)
	var zeros []int
	for i := range dy {
		dy[i] = y[i+1] - y[i]
		if dy[i] == 0 {
			zeros = append(zeros, i)
		}
	}
	if len(zeros) == len(dy) {
		return nil
	}

	if len(zeros) > 0 {
		plateaus := splitRuns(zeros)

		if first := plateaus[0]; first[0] == 0 {
			fill := dy[first[len(first)-1]+1]
			for _, i := range first {
				dy[i] = fill
			}
			plateaus = plateaus[1:]
		}
		if k := len(plateaus); k > 0 {
			if last := plateaus[k-1]; last[len(last)-1] == len(dy)-1 {
				fill := dy[last[0]-1]
				for _, i := range last {
					dy[i] = fill
				}
				plateaus = plateaus[:k-1]
			}
		}
		for _, run := range plateaus {
			left := dy[run[0]-1]
			right := dy[run[len(run)-1]+1]
			// Median of a run of consecutive indices.
			median := float64(run[0]+run[len(run)-1]) / 2
			for _, i := range run {
				if float64(i) < median {
					dy[i] = left
				} else {
					dy[i] = right
				}
			}
		}
	}

	var peaks []int
	for i := 1; i < n-1; i++ {
		if dy[i] < 0 && dy[i-1] > 0 && y[i] > threshold {
			peaks = append(peaks, i)
		}
	}

	if len(peaks) > 1 && minDist > 1 {
		peaks = suppressNearby(y, peaks, minDist)
	}
	return peaks
}

// splitRuns splits sorted indices into runs of consecutive values.
func splitRuns(idx []int) [][]int {
	var runs [][]int
	start := 0
	for i := 1; i <= len(idx); i++ {
		if i == len(idx) || idx[i] != idx[i-1]+1 {
			runs = append(runs, idx[start:i])
			start = i
		}
	}
	return runs
}

// suppressNearby keeps, within every minDist window, only the highest peak.
// Ties are resolved in favour of the later index.
func suppressNearby(y []float64, peaks []int, minDist int) []int {
	order := append([]int(nil), peaks...)
	sort.SliceStable(order, func(a, b int) bool { return y[order[a]] < y[order[b]] })
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}

	removed := make([]bool, len(y))
	for i := range removed {
		removed[i] = true
	}
	for _, p := range peaks {
		removed[p] = false
	}

	for _, p := range order {
		if removed[p] {
			continue
		}
		lo := p - minDist
		if lo < 0 {
			lo = 0
		}
		hi := p + minDist
		if hi > len(y)-1 {
			hi = len(y) - 1
		}
		for k := lo; k <= hi; k++ {
			removed[k] = true
		}
		removed[p] = false
	}

	kept := peaks[:0:0]
	for i, r := range removed {
		if !r {
			kept = append(kept, i)
		}
	}
	return kept
}
