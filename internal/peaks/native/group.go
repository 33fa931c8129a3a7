package native

import (
	"cmp"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/524D/mzbatch/internal/pipeline"
)

// median of x, or NaN when x is empty
func median(x []float64) float64 {
	n := len(x)
	if n == 0 {
		return math.NaN()
	}
	s := slices.Clone(x)
	slices.Sort(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// groupPeaks groups the peaks of ds into features. Peaks are cut into
// m/z slices wherever consecutive m/z values differ more than the
// window width, then each slice is cut wherever consecutive retention
// times differ more than the bandwidth.
func groupPeaks(ds *pipeline.Dataset, p pipeline.GroupParams) []pipeline.Feature {
	idx := make([]int, len(ds.Peaks))
	for i := range idx {
		idx[i] = i
	}
	slices.SortFunc(idx, func(a, b int) int { return cmp.Compare(ds.Peaks[a].Mz, ds.Peaks[b].Mz) })

	classSize := ds.ClassSizes()
	var features []pipeline.Feature
	for lo := 0; lo < len(idx); {
		hi := lo + 1
		for hi < len(idx) && ds.Peaks[idx[hi]].Mz-ds.Peaks[idx[hi-1]].Mz <= p.MzWid {
			hi++
		}
		mzSlice := slices.Clone(idx[lo:hi])
		slices.SortFunc(mzSlice, func(a, b int) int { return cmp.Compare(ds.Peaks[a].Rt, ds.Peaks[b].Rt) })
		for clo := 0; clo < len(mzSlice); {
			chi := clo + 1
			for chi < len(mzSlice) && ds.Peaks[mzSlice[chi]].Rt-ds.Peaks[mzSlice[chi-1]].Rt <= p.Bandwidth {
				chi++
			}
			members := mzSlice[clo:chi]
			if enoughSamples(ds, members, classSize, p) {
				features = append(features, newFeature(ds, members))
			}
			clo = chi
		}
		lo = hi
	}
	slices.SortFunc(features, func(a, b pipeline.Feature) int {
		if c := cmp.Compare(a.MzMed, b.MzMed); c != 0 {
			return c
		}
		return cmp.Compare(a.RtMed, b.RtMed)
	})
	return features
}

// enoughSamples checks that in at least one class the peaks cover
// MinSamp samples and a MinFrac fraction of the class.
func enoughSamples(ds *pipeline.Dataset, members []int, classSize map[string]int, p pipeline.GroupParams) bool {
	present := make(map[string]map[int]bool)
	for _, pi := range members {
		s := ds.Peaks[pi].Sample
		c := ds.Samples[s].Class
		if present[c] == nil {
			present[c] = make(map[int]bool)
		}
		present[c][s] = true
	}
	for c, samples := range present {
		n := len(samples)
		if n >= p.MinSamp && float64(n)/float64(classSize[c]) >= p.MinFrac {
			return true
		}
	}
	return false
}

func newFeature(ds *pipeline.Dataset, members []int) pipeline.Feature {
	mzs := make([]float64, len(members))
	rts := make([]float64, len(members))
	for i, pi := range members {
		mzs[i] = ds.Peaks[pi].Mz
		rts[i] = ds.Peaks[pi].Rt
	}
	peaks := slices.Clone(members)
	slices.Sort(peaks)
	return pipeline.Feature{
		MzMed: median(mzs),
		MzMin: floats.Min(mzs),
		MzMax: floats.Max(mzs),
		RtMed: median(rts),
		RtMin: floats.Min(rts),
		RtMax: floats.Max(rts),
		Peaks: peaks,
	}
}
