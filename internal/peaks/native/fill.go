package native

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/integrate"

	"github.com/524D/mzbatch/internal/mzml"
	"github.com/524D/mzbatch/internal/pipeline"
	"github.com/524D/mzbatch/internal/spectra"
)

// window is the m/z and (corrected) retention time region a feature
// is integrated in.
type window struct {
	mzMin, mzMax float64
	rtMin, rtMax float64
}

// featureWindow spans the m/z range of the feature's peaks and the
// median retention time bounds of its peaks.
func featureWindow(ds *pipeline.Dataset, f pipeline.Feature) window {
	w := window{mzMin: math.Inf(1), mzMax: math.Inf(-1)}
	var rtMins, rtMaxs []float64
	for _, pi := range f.Peaks {
		pk := ds.Peaks[pi]
		w.mzMin = math.Min(w.mzMin, pk.MzMin)
		w.mzMax = math.Max(w.mzMax, pk.MzMax)
		rtMins = append(rtMins, pk.RtMin)
		rtMaxs = append(rtMaxs, pk.RtMax)
	}
	w.rtMin = median(rtMins)
	w.rtMax = median(rtMaxs)
	return w
}

func (pr *Processor) fillGaps(ctx context.Context, ds *pipeline.Dataset) (*pipeline.Dataset, error) {
	out := ds.Clone()
	has := make([]map[int]bool, len(ds.Features))
	for fi, f := range ds.Features {
		has[fi] = make(map[int]bool)
		for _, pi := range f.Peaks {
			has[fi][ds.Peaks[pi].Sample] = true
		}
	}

	filled := 0
	for s, sample := range ds.Samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var missing []int
		for fi := range ds.Features {
			if !has[fi][s] {
				missing = append(missing, fi)
			}
		}
		if len(missing) == 0 {
			continue
		}
		scans, err := pr.loadScans(sample.Path, 0, 0)
		if err != nil {
			return nil, err
		}
		rt := correctedTimes(scans, ds, s)
		for _, fi := range missing {
			pk := integrateWindow(scans, rt, featureWindow(ds, ds.Features[fi]))
			if pk.Into == 0 {
				pk.Mz = ds.Features[fi].MzMed
				pk.Rt = ds.Features[fi].RtMed
			}
			pk.Sample = s
			pk.Filled = true
			out.Peaks = append(out.Peaks, pk)
			out.Features[fi].Peaks = append(out.Features[fi].Peaks, len(out.Peaks)-1)
			filled++
		}
	}
	zap.L().Debug("native: filled peaks", zap.Int("filled", filled))
	return out, nil
}

// correctedTimes applies the retention time correction of sample s to
// the scan times.
func correctedTimes(scans []spectra.Scan, ds *pipeline.Dataset, s int) []float64 {
	f := func(rt float64) float64 { return rt }
	if s < len(ds.Corrections) {
		f = ds.Corrections[s].Func()
	}
	rt := make([]float64, len(scans))
	for i, sc := range scans {
		rt[i] = f(sc.RetentionTime)
	}
	return rt
}

// integrateWindow sums, per scan, the intensity within the m/z window
// and integrates that trace over the retention time window.
func integrateWindow(scans []spectra.Scan, rt []float64, w window) pipeline.Peak {
	pk := pipeline.Peak{MzMin: w.mzMin, MzMax: w.mzMax, RtMin: w.rtMin, RtMax: w.rtMax}
	var rts, ints []float64
	var sumMz, sumI float64
	for i, sc := range scans {
		if rt[i] < w.rtMin || rt[i] > w.rtMax {
			continue
		}
		total := 0.0
		for _, p := range mzRange(sc.Peaks, w.mzMin, w.mzMax) {
			total += p.Intens
			sumMz += p.Mz * p.Intens
		}
		sumI += total
		rts = append(rts, rt[i])
		ints = append(ints, total)
		if total > pk.Maxo {
			pk.Maxo = total
			pk.Rt = rt[i]
		}
	}
	if sumI > 0 {
		pk.Mz = sumMz / sumI
	}
	if len(rts) >= 2 && sort.Float64sAreSorted(rts) {
		pk.Into = integrate.Trapezoidal(rts, ints)
	} else {
		pk.Into = sumI
	}
	return pk
}

// mzRange returns the peaks with m/z in [lo, hi]. Peaks are sorted by m/z.
func mzRange(p []mzml.Peak, lo, hi float64) []mzml.Peak {
	i := sort.Search(len(p), func(i int) bool { return p[i].Mz >= lo })
	j := sort.Search(len(p), func(j int) bool { return p[j].Mz > hi })
	if j < i {
		return nil
	}
	return p[i:j]
}
