package native

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"

	"github.com/524D/mzbatch/internal/pipeline"
)

var (
	// ErrNoAnchors means no feature is shared by enough samples to align on
	ErrNoAnchors = errors.New("native: no anchor features for retention correction")
	// ErrUnknownMethod means the retention correction method is not supported
	ErrUnknownMethod = errors.New("native: unknown retention correction method")
	// ErrReferenceSample means the reference sample is out of range
	ErrReferenceSample = errors.New("native: reference sample out of range")
)

// maxKnots limits the size of a correction table
const maxKnots = 100000

// anchor holds, per sample, the retention time of a feature that is
// well represented in (nearly) all samples.
type anchor map[int]float64

// anchorFeatures selects features that have a peak in all samples but
// at most one, and at most one extra peak.
func anchorFeatures(ds *pipeline.Dataset) []anchor {
	n := len(ds.Samples)
	missing := 0
	if n >= 3 {
		missing = 1
	}
	var anchors []anchor
	for _, f := range ds.Features {
		a := make(anchor)
		maxo := make(map[int]float64)
		for _, pi := range f.Peaks {
			pk := ds.Peaks[pi]
			if _, ok := a[pk.Sample]; !ok || pk.Maxo > maxo[pk.Sample] {
				maxo[pk.Sample] = pk.Maxo
				a[pk.Sample] = pk.Rt
			}
		}
		if len(a) >= n-missing && len(f.Peaks) <= len(a)+1 {
			anchors = append(anchors, a)
		}
	}
	return anchors
}

// referenceSample returns the 0-based reference sample: center-1, or
// the sample with most peaks when center is 0.
func referenceSample(ds *pipeline.Dataset, center int) (int, error) {
	n := len(ds.Samples)
	if center < 0 || center > n {
		return 0, fmt.Errorf("%w: %d (have %d samples)", ErrReferenceSample, center, n)
	}
	if center > 0 {
		return center - 1, nil
	}
	count := make([]int, n)
	for _, pk := range ds.Peaks {
		count[pk.Sample]++
	}
	best := 0
	for i, c := range count {
		if c > count[best] {
			best = i
		}
	}
	return best, nil
}

// rtSpan returns the retention time range covered by the peaks of
// each sample.
func rtSpan(ds *pipeline.Dataset) (lo, hi []float64) {
	n := len(ds.Samples)
	lo = make([]float64, n)
	hi = make([]float64, n)
	for i := range lo {
		lo[i], hi[i] = math.Inf(1), math.Inf(-1)
	}
	for _, pk := range ds.Peaks {
		lo[pk.Sample] = math.Min(lo[pk.Sample], pk.RtMin)
		hi[pk.Sample] = math.Max(hi[pk.Sample], pk.RtMax)
	}
	return lo, hi
}

func correctRetention(ds *pipeline.Dataset, p pipeline.RetentionParams) (*pipeline.Dataset, error) {
	if !slices.Contains(pipeline.RetentionMethods, p.Method) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, p.Method)
	}
	if !p.SuppressPlot {
		zap.L().Warn("native: retention correction plots are not rendered")
	}
	n := len(ds.Samples)
	out := ds.Clone()
	out.Corrections = make([]pipeline.Correction, n)
	out.Features = nil
	if n < 2 {
		return out, nil
	}

	ref := -1
	if p.Method == pipeline.MethodObiwarp {
		var err error
		if ref, err = referenceSample(ds, p.Center); err != nil {
			return nil, err
		}
	}
	anchors := anchorFeatures(ds)
	if len(anchors) == 0 {
		return nil, ErrNoAnchors
	}
	targets := make([]float64, len(anchors))
	for i, a := range anchors {
		if ref >= 0 {
			rt, ok := a[ref]
			if !ok {
				rt = math.NaN()
			}
			targets[i] = rt
			continue
		}
		rts := make([]float64, 0, len(a))
		for _, rt := range a {
			rts = append(rts, rt)
		}
		targets[i] = median(rts)
	}

	lo, hi := rtSpan(ds)
	funcs := make([]func(float64) float64, n)
	for s := 0; s < n; s++ {
		var raw, target []float64
		for i, a := range anchors {
			rt, ok := a[s]
			if !ok || math.IsNaN(targets[i]) {
				continue
			}
			raw = append(raw, rt)
			target = append(target, targets[i])
		}
		corr, err := fitCorrection(p, raw, target, lo[s], hi[s])
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 && len(ds.Peaks) > 0 {
			zap.L().Warn("native: no anchors for sample, retention times left as is", zap.String("sample", ds.Samples[s].Name))
		}
		out.Corrections[s] = corr
		funcs[s] = corr.Func()
	}

	for i := range out.Peaks {
		pk := &out.Peaks[i]
		f := funcs[pk.Sample]
		rt, rtMin, rtMax := f(pk.Rt), f(pk.RtMin), f(pk.RtMax)
		pk.Rt = rt
		pk.RtMin = math.Min(rt, math.Min(rtMin, rtMax))
		pk.RtMax = math.Max(rt, math.Max(rtMin, rtMax))
	}
	return out, nil
}

// fitCorrection computes the correction of one sample from its anchor
// retention times (raw) and where they should be (target).
func fitCorrection(p pipeline.RetentionParams, raw, target []float64, lo, hi float64) (pipeline.Correction, error) {
	if len(raw) == 0 || math.IsInf(lo, 0) {
		return pipeline.Correction{}, nil
	}
	lo = math.Min(lo, slices.Min(raw))
	hi = math.Max(hi, slices.Max(raw))
	knots := rtGrid(lo, hi, p.Step)

	var shift func(float64) float64
	switch p.Method {
	case pipeline.MethodPeakGroups, pipeline.MethodObiwarp:
		shift = blendedShift(raw, target, p.Response)
	default:
		f, err := fitDrift(raw, target, p.Method, hi)
		if err != nil {
			return pipeline.Correction{}, err
		}
		if f == nil {
			return pipeline.Correction{}, nil
		}
		shift = func(x float64) float64 { return x - f(x) }
	}
	c := pipeline.Correction{Knots: knots, Shift: make([]float64, len(knots))}
	for i, x := range knots {
		c.Shift[i] = shift(x)
	}
	return c, nil
}

// rtGrid returns knots from lo to hi (inclusive) at the given step.
func rtGrid(lo, hi, step float64) []float64 {
	if step <= 0 {
		step = 1
	}
	if hi-lo > step*(maxKnots-1) {
		step = (hi - lo) / (maxKnots - 1)
	}
	n := max(0, int(math.Ceil((hi-lo)/step-1e-9)))
	knots := make([]float64, 0, n+1)
	for i := 0; i < n; i++ {
		knots = append(knots, lo+float64(i)*step)
	}
	knots = append(knots, hi)
	return knots
}

// blendedShift mixes a global linear fit of the deviations with a
// piecewise linear curve through them. response 0 gives the linear
// fit, 100 the curve.
func blendedShift(raw, target []float64, response float64) func(float64) float64 {
	type dev struct{ x, d float64 }
	devs := make([]dev, len(raw))
	for i := range raw {
		devs[i] = dev{raw[i], raw[i] - target[i]}
	}
	slices.SortFunc(devs, func(a, b dev) int { return cmp.Compare(a.x, b.x) })

	// average deviations with equal raw times
	var xs, ds []float64
	for i := 0; i < len(devs); {
		j, sum := i, 0.0
		for ; j < len(devs) && devs[j].x == devs[i].x; j++ {
			sum += devs[j].d
		}
		xs = append(xs, devs[i].x)
		ds = append(ds, sum/float64(j-i))
		i = j
	}
	if len(xs) == 1 {
		d := ds[0]
		return func(float64) float64 { return d }
	}

	alpha, beta := stat.LinearRegression(xs, ds, nil, false)
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ds); err != nil {
		return func(x float64) float64 { return alpha + beta*x }
	}
	w := math.Max(0, math.Min(100, response)) / 100
	return func(x float64) float64 {
		return (1-w)*(alpha+beta*x) + w*pl.Predict(x)
	}
}
