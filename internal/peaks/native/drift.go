package native

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/optimize"

	"github.com/524D/mzbatch/internal/pipeline"
)

// anchorPoint is an anchor's retention time in a sample (raw) and on
// the reference scale (ref).
type anchorPoint struct {
	raw float64
	ref float64
}

// getNrDriftPars returns the number of parameters of a drift model
func getNrDriftPars(method string) int {
	switch method {
	case pipeline.MethodOffset:
		return 1
	case pipeline.MethodPoly1:
		return 2
	case pipeline.MethodPoly2:
		return 3
	case pipeline.MethodPoly3:
		return 4
	}
	return 0
}

func rtRecalPolyN(x float64, p []float64, degree int) float64 {
	mp := 1.0
	rt := 0.0
	for i := 0; i <= degree; i++ {
		rt += p[i] * mp
		mp *= x
	}
	return rt
}

// rtRecal maps a raw retention time to the reference scale. Polynomials
// work on times divided by scale to keep the coefficients of similar
// size.
func rtRecal(raw float64, method string, p []float64, scale float64) float64 {
	switch method {
	case pipeline.MethodOffset:
		return raw + p[0]*scale
	case pipeline.MethodPoly1:
		return rtRecalPolyN(raw/scale, p, 1) * scale
	case pipeline.MethodPoly2:
		return rtRecalPolyN(raw/scale, p, 2) * scale
	case pipeline.MethodPoly3:
		return rtRecalPolyN(raw/scale, p, 3) * scale
	}
	return raw
}

// fitDrift fits a drift model that maps raw to target times, removing
// outlying anchors until none are left. It returns nil when there are
// not enough anchors for the model.
func fitDrift(raw, target []float64, method string, scale float64) (func(float64) float64, error) {
	if scale <= 0 {
		scale = 1
	}
	points := make([]anchorPoint, len(raw))
	for i := range raw {
		points[i] = anchorPoint{raw: raw[i], ref: target[i]}
	}
	nrPars := getNrDriftPars(method)

	// We use the gonum.optimize package to find the best parameters:
	// https://pkg.go.dev/gonum.org/v1/gonum/optimize#Minimize
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			sumOfResiduals := 0.0
			for _, pt := range points {
				diff := (rtRecal(pt.raw, method, x, scale) - pt.ref) / scale
				sumOfResiduals += diff * diff
			}
			return math.Sqrt(sumOfResiduals)
		},
	}

	var p []float64
	satisfied := false
	for !satisfied && len(points) >= nrPars {
		// Start from the identity: parameter 1 (the slope) is 1.0,
		// the others 0.0
		pIn := make([]float64, nrPars)
		if nrPars > 1 {
			pIn[1] = 1.0
		}
		res, err := optimize.Minimize(problem, pIn, nil, nil)
		if err != nil {
			return nil, err
		}
		p = res.X
		points, satisfied = removeOutliersIQR(points, method, p, scale)
	}
	if !satisfied {
		return nil, nil
	}
	return func(x float64) float64 { return rtRecal(x, method, p, scale) }, nil
}

// minOutlierError is the error (in seconds) below which an anchor is
// never an outlier
const minOutlierError = 1e-3

// removeOutliersIQR removes anchors whose error lies outside
// [Q1 - 1.5*IQR, Q3 + 1.5*IQR], following the outlier definition of
// mzQC (The HUPO-PSI Quality Control Working Group, 2020).
// It reports true when no anchor had to be removed.
func removeOutliersIQR(points []anchorPoint, method string, p []float64, scale float64) ([]anchorPoint, bool) {
	errs := make([]float64, len(points))
	for i, pt := range points {
		errs[i] = pt.ref - rtRecal(pt.raw, method, p, scale)
	}
	sorted := slices.Clone(errs)
	slices.Sort(sorted)

	var q1i1, q1i2 int
	// Special case: for < 6 anchors, adapt method for mzQC to work well
	switch {
	case len(sorted) < 4:
		// For less than 4 anchors, we omit outlier detection
		return points, true
	case len(sorted) < 6:
		// For 4 to 5 anchors, we use for Q1 and Q3 the values 1 position from extreme
		q1i1, q1i2 = 1, 1
	default:
		nq1 := len(sorted) / 2 // count of samples that Q1 is based on (odd numbers are rounded down)
		q1i1 = (nq1 - 1) / 2   // index 1 of the median of lower half
		q1i2 = nq1 / 2         // index 2 of the median of lower half
	}
	q1 := (sorted[q1i1] + sorted[q1i2]) / 2
	q3 := (sorted[len(sorted)-q1i1-1] + sorted[len(sorted)-q1i2-1]) / 2
	iqr := q3 - q1
	olLowLim := q1 - 1.5*iqr
	olHighLim := q3 + 1.5*iqr

	accepted := points[:0:0]
	for i, pt := range points {
		if (errs[i] >= olLowLim && errs[i] <= olHighLim) || math.Abs(errs[i]) <= minOutlierError {
			accepted = append(accepted, pt)
		}
	}
	return accepted, len(accepted) == len(points)
}
