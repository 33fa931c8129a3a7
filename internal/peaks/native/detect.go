package native

import (
	"cmp"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/524D/mzbatch/internal/pipeline"
	"github.com/524D/mzbatch/internal/spectra"
)

// maxScanGap is the number of scans a region of interest may miss
// before it is closed
const maxScanGap = 1

type point struct {
	scan   int
	rt     float64
	mz     float64
	intens float64
}

// roi is a region of interest: centroids of (about) the same m/z in
// consecutive scans.
type roi struct {
	mz   float64 // intensity weighted mean
	sumI float64
	last int
	pts  []point
}

func (r *roi) add(pt point) {
	r.sumI += pt.intens
	r.mz += (pt.mz - r.mz) * pt.intens / r.sumI
	r.last = pt.scan
	r.pts = append(r.pts, pt)
}

func newROI(pt point) *roi {
	r := &roi{mz: pt.mz}
	r.add(pt)
	return r
}

// nearestROI returns the index of the region with the m/z closest to
// mz, or -1 if there are none. active is sorted by m/z.
func nearestROI(active []*roi, mz float64) int {
	if len(active) == 0 {
		return -1
	}
	i := sort.Search(len(active), func(i int) bool { return active[i].mz >= mz })
	switch {
	case i == len(active):
		return i - 1
	case i == 0:
		return 0
	case mz-active[i-1].mz < active[i].mz-mz:
		return i - 1
	}
	return i
}

// buildROIs traces centroids across scans.
func buildROIs(scans []spectra.Scan, p pipeline.DetectParams) []*roi {
	var active, done []*roi
	for si, sc := range scans {
		used := make([]bool, len(active))
		var started []*roi
		for _, pk := range sc.Peaks {
			if pk.Intens <= 0 || pk.Intens < p.Noise {
				continue
			}
			pt := point{scan: si, rt: sc.RetentionTime, mz: pk.Mz, intens: pk.Intens}
			tol := pk.Mz * p.PPM * 1e-6
			j := nearestROI(active, pk.Mz)
			if j >= 0 && !used[j] && math.Abs(active[j].mz-pk.Mz) <= tol {
				used[j] = true
				active[j].add(pt)
				continue
			}
			started = append(started, newROI(pt))
		}
		next := started
		for j, r := range active {
			if used[j] || si-r.last <= maxScanGap {
				next = append(next, r)
			} else {
				done = append(done, r)
			}
		}
		slices.SortFunc(next, func(a, b *roi) int { return cmp.Compare(a.mz, b.mz) })
		active = next
	}
	return append(done, active...)
}

// passesPrefilter checks that at least k points reach intensity i.
func passesPrefilter(r *roi, k int, i float64) bool {
	n := 0
	for _, pt := range r.pts {
		if pt.intens >= i {
			n++
		}
	}
	return n >= k
}

// detectSample finds the peaks of one sample.
func detectSample(scans []spectra.Scan, p pipeline.DetectParams, sample int) []pipeline.Peak {
	var peaks []pipeline.Peak
	for _, r := range buildROIs(scans, p) {
		if len(r.pts) < 2 || !passesPrefilter(r, p.PrefilterCount, p.PrefilterIntensity) {
			continue
		}
		peaks = append(peaks, roiPeaks(r, p, sample)...)
	}
	peaks = applyMzDiff(peaks, p.MzDiff)
	slices.SortFunc(peaks, func(a, b pipeline.Peak) int {
		if c := cmp.Compare(a.Mz, b.Mz); c != 0 {
			return c
		}
		return cmp.Compare(a.Rt, b.Rt)
	})
	return peaks
}

// roiPeaks splits the trace of a region of interest into peaks. Each
// peak runs from its apex down to the nearest local minimum or the
// noise level on both sides.
func roiPeaks(r *roi, p pipeline.DetectParams, sample int) []pipeline.Peak {
	pts := r.pts
	baseline := pts[0].intens
	for _, pt := range pts {
		baseline = math.Min(baseline, pt.intens)
	}
	noise := math.Max(p.Noise, baseline)

	var peaks []pipeline.Peak
	type segment struct{ lo, hi int }
	todo := []segment{{0, len(pts) - 1}}
	for len(todo) > 0 {
		seg := todo[len(todo)-1]
		todo = todo[:len(todo)-1]
		if seg.hi < seg.lo {
			continue
		}
		apex := seg.lo
		for i := seg.lo; i <= seg.hi; i++ {
			if pts[i].intens > pts[apex].intens {
				apex = i
			}
		}
		if pts[apex].intens < p.PrefilterIntensity || pts[apex].intens <= noise {
			continue
		}
		l := apex
		for l > seg.lo && pts[l-1].intens <= pts[l].intens && pts[l-1].intens > noise {
			l--
		}
		h := apex
		for h < seg.hi && pts[h+1].intens <= pts[h].intens && pts[h+1].intens > noise {
			h++
		}
		todo = append(todo, segment{seg.lo, l - 1}, segment{h + 1, seg.hi})

		if pk, ok := makePeak(pts[l:h+1], apex-l, noise, p); ok {
			pk.Sample = sample
			peaks = append(peaks, pk)
		}
	}
	return peaks
}

func makePeak(pts []point, apex int, noise float64, p pipeline.DetectParams) (pipeline.Peak, bool) {
	width := pts[len(pts)-1].rt - pts[0].rt
	if width < p.PeakWidthMin || width > p.PeakWidthMax {
		return pipeline.Peak{}, false
	}
	maxo := pts[apex].intens
	sn := maxo / math.Max(noise, 1)
	if sn < p.SNR {
		return pipeline.Peak{}, false
	}

	rts := make([]float64, len(pts))
	mzs := make([]float64, len(pts))
	ints := make([]float64, len(pts))
	for i, pt := range pts {
		rts[i], mzs[i], ints[i] = pt.rt, pt.mz, pt.intens
	}
	pk := pipeline.Peak{
		Mz:    stat.Mean(mzs, ints),
		MzMin: floats.Min(mzs),
		MzMax: floats.Max(mzs),
		Rt:    rts[apex],
		RtMin: rts[0],
		RtMax: rts[len(rts)-1],
		Maxo:  maxo,
		SN:    sn,
		Into:  integrateTrace(rts, ints, p.Integrate),
	}
	if p.FitGauss {
		pk.Rt = gaussApex(rts, ints, apex)
	}
	return pk, true
}

// integrateTrace integrates intensity over retention time. Mode 1 uses
// the trapezoidal rule, mode 2 sums the raw intensities times the mean
// scan interval.
func integrateTrace(rts, ints []float64, mode int) float64 {
	if len(rts) < 2 {
		return 0
	}
	if mode == 2 {
		dt := (rts[len(rts)-1] - rts[0]) / float64(len(rts)-1)
		return floats.Sum(ints) * dt
	}
	return integrate.Trapezoidal(rts, ints)
}

// gaussApex refines the apex retention time by fitting a parabola
// through the log intensities around the apex.
func gaussApex(rts, ints []float64, apex int) float64 {
	if apex == 0 || apex == len(rts)-1 {
		return rts[apex]
	}
	x0, x1, x2 := rts[apex-1], rts[apex], rts[apex+1]
	y0, y1, y2 := math.Log(ints[apex-1]), math.Log(ints[apex]), math.Log(ints[apex+1])
	den := (x0-x1)*(x0-x2)*(x1-x2)
	if den == 0 {
		return x1
	}
	a := (x2*(y1-y0) + x1*(y0-y2) + x0*(y2-y1)) / den
	b := (x2*x2*(y0-y1) + x1*x1*(y2-y0) + x0*x0*(y1-y2)) / den
	if a >= 0 {
		return x1
	}
	v := -b / (2 * a)
	return math.Max(x0, math.Min(x2, v))
}

// applyMzDiff drops the weaker of two peaks that overlap in retention
// time and are closer than mzDiff in m/z.
func applyMzDiff(peaks []pipeline.Peak, mzDiff float64) []pipeline.Peak {
	if mzDiff <= 0 || len(peaks) < 2 {
		return peaks
	}
	byMaxo := slices.Clone(peaks)
	slices.SortStableFunc(byMaxo, func(a, b pipeline.Peak) int { return cmp.Compare(b.Maxo, a.Maxo) })

	var kept []pipeline.Peak // sorted by m/z
	for _, pk := range byMaxo {
		lo, _ := slices.BinarySearchFunc(kept, pk.Mz-mzDiff, func(q pipeline.Peak, mz float64) int {
			return cmp.Compare(q.Mz, mz)
		})
		clash := false
		for i := lo; i < len(kept) && kept[i].Mz < pk.Mz+mzDiff; i++ {
			q := kept[i]
			if math.Abs(q.Mz-pk.Mz) < mzDiff && q.RtMin <= pk.RtMax && pk.RtMin <= q.RtMax {
				clash = true
				break
			}
		}
		if clash {
			continue
		}
		at, _ := slices.BinarySearchFunc(kept, pk.Mz, func(q pipeline.Peak, mz float64) int {
			return cmp.Compare(q.Mz, mz)
		})
		kept = slices.Insert(kept, at, pk)
	}
	return kept
}
