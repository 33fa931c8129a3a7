package native

import (
	"cmp"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/524D/mzbatch/internal/classify"
	"github.com/524D/mzbatch/internal/pipeline"
)

// ErrUnknownClass means a differential report names a class without samples
var ErrUnknownClass = errors.New("native: class has no samples")

// ErrColumnName means a sample name clashes with another report column.
var ErrColumnName = errors.New("native: sample name clashes with a report column")

// Presence tags of a differential report
const (
	PresenceA    = "A"
	PresenceB    = "B"
	PresenceBoth = "both"
	PresenceNone = "none"
)

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NA"
	case math.IsInf(v, 1):
		return "Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// featureNames names features "M<mz>T<rt>" with rounded m/z and
// retention time, making duplicates unique with a "_<n>" suffix.
func featureNames(ds *pipeline.Dataset) []string {
	names := make([]string, len(ds.Features))
	seen := make(map[string]int)
	for i, f := range ds.Features {
		name := fmt.Sprintf("M%dT%d", int(math.Round(f.MzMed)), int(math.Round(f.RtMed)))
		if n := seen[name]; n > 0 {
			seen[name]++
			name = fmt.Sprintf("%s_%d", name, n)
		} else {
			seen[name] = 1
		}
		names[i] = name
	}
	return names
}

// welch returns Welch's t statistic (b relative to a) and its two
// sided p-value, or NaN when either group has fewer than two values or
// there is no variance.
func welch(a, b []float64) (float64, float64) {
	na, nb := float64(len(a)), float64(len(b))
	if na < 2 || nb < 2 {
		return math.NaN(), math.NaN()
	}
	ma, va := stat.MeanVariance(a, nil)
	mb, vb := stat.MeanVariance(b, nil)
	sa, sb := va/na, vb/nb
	se2 := sa + sb
	if se2 == 0 {
		return math.NaN(), math.NaN()
	}
	t := (mb - ma) / math.Sqrt(se2)
	df := se2 * se2 / (sa*sa/(na-1) + sb*sb/(nb-1))
	p := 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Survival(math.Abs(t))
	return t, p
}

func presence(detected map[string]int, a, b string) string {
	switch inA, inB := detected[a] > 0, detected[b] > 0; {
	case inA && inB:
		return PresenceBoth
	case inA:
		return PresenceA
	case inB:
		return PresenceB
	}
	return PresenceNone
}

// reportTable builds the intermediate table. The first header is
// empty; that column holds the feature names.
func reportTable(ds *pipeline.Dataset, req pipeline.ReportRequest) ([]string, [][]string, error) {
	var classes []string
	for c := range ds.ClassSizes() {
		if c != "" {
			classes = append(classes, c)
		}
	}
	slices.Sort(classes)

	differential := req.Mode == classify.Differential
	var inA, inB []int
	if differential {
		for i, s := range ds.Samples {
			switch s.Class {
			case req.ClassA:
				inA = append(inA, i)
			case req.ClassB:
				inB = append(inB, i)
			}
		}
		if len(inA) == 0 {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnknownClass, req.ClassA)
		}
		if len(inB) == 0 {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnknownClass, req.ClassB)
		}
		classes = []string{req.ClassA, req.ClassB}
	}

	header := []string{""}
	if differential {
		header = append(header, pipeline.ContrastColumns...)
	}
	header = append(header, pipeline.FeatureColumns...)
	for _, c := range classes {
		header = append(header, pipeline.CountColumn(c))
	}
	for _, s := range ds.Samples {
		if pipeline.ReservedColumn(s.Name, classes) || slices.Contains(header[1:], s.Name) {
			return nil, nil, fmt.Errorf("%w: %q", ErrColumnName, s.Name)
		}
		header = append(header, s.Name)
	}

	names := featureNames(ds)
	type row struct {
		cells  []string
		pvalue float64
	}
	rows := make([]row, len(ds.Features))
	for fi, f := range ds.Features {
		detected := ds.Detected(fi)
		npeaks := 0
		for _, n := range detected {
			npeaks += n
		}
		r := row{cells: []string{names[fi]}, pvalue: math.NaN()}
		if differential {
			a := groupValues(ds, fi, inA)
			b := groupValues(ds, fi, inB)
			t, p := welch(a, b)
			fold := stat.Mean(b, nil) / stat.Mean(a, nil)
			r.pvalue = p
			r.cells = append(r.cells, formatFloat(fold), formatFloat(t), formatFloat(p),
				presence(detected, req.ClassA, req.ClassB))
		}
		r.cells = append(r.cells,
			formatFloat(f.MzMed), formatFloat(f.MzMin), formatFloat(f.MzMax),
			formatFloat(f.RtMed), formatFloat(f.RtMin), formatFloat(f.RtMax),
			strconv.Itoa(npeaks))
		for _, c := range classes {
			r.cells = append(r.cells, strconv.Itoa(detected[c]))
		}
		for s := range ds.Samples {
			r.cells = append(r.cells, formatFloat(ds.Intensity(fi, s)))
		}
		rows[fi] = r
	}
	if differential {
		slices.SortStableFunc(rows, func(x, y row) int {
			switch xn, yn := math.IsNaN(x.pvalue), math.IsNaN(y.pvalue); {
			case xn && yn:
				return 0
			case xn:
				return 1
			case yn:
				return -1
			}
			return cmp.Compare(x.pvalue, y.pvalue)
		})
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = r.cells
	}
	return header, out, nil
}

// groupValues returns the intensities of a feature in the given
// samples, with missing values as 0.
func groupValues(ds *pipeline.Dataset, feature int, samples []int) []float64 {
	v := make([]float64, len(samples))
	for i, s := range samples {
		x := ds.Intensity(feature, s)
		if !math.IsNaN(x) {
			v[i] = x
		}
	}
	return v
}

func writeReport(ds *pipeline.Dataset, req pipeline.ReportRequest) error {
	header, rows, err := reportTable(ds, req)
	if err != nil {
		return err
	}
	f, err := os.Create(req.Path)
	if err != nil {
		return eris.Wrap(err, "native: create report")
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return eris.Wrap(err, "native: write report")
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return eris.Wrap(err, "native: write report")
	}
	return eris.Wrap(f.Close(), "native: close report")
}
