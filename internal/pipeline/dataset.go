// Package pipeline runs the fixed five stage peak pipeline (detect,
// group, retention correction, regroup, gap filling) against a
// PeakProcessor and asks it for the report.
package pipeline

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/interp"
)

// Stage names a pipeline step.
type Stage string

const (
	StageDetect           Stage = "detect"
	StageGroup            Stage = "group"
	StageRetentionCorrect Stage = "retcor"
	StageRegroup          Stage = "regroup"
	StageFillGaps         Stage = "fillpeaks"
	StageReport           Stage = "report"
)

// Sample is one input file and the class it belongs to ("" when the
// file is not in a class directory).
type Sample struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	Class string `json:"class"`
}

// Peak is a chromatographic peak in one sample. Retention times are in
// seconds. Filled peaks were integrated by gap filling rather than
// detected.
type Peak struct {
	Sample int     `json:"sample"`
	Mz     float64 `json:"mz"`
	MzMin  float64 `json:"mzmin"`
	MzMax  float64 `json:"mzmax"`
	Rt     float64 `json:"rt"`
	RtMin  float64 `json:"rtmin"`
	RtMax  float64 `json:"rtmax"`
	Into   float64 `json:"into"`
	Maxo   float64 `json:"maxo"`
	SN     float64 `json:"sn"`
	Filled bool    `json:"filled,omitempty"`
}

// Feature is a group of peaks that correspond across samples. Peaks
// holds indices into Dataset.Peaks.
type Feature struct {
	MzMed float64 `json:"mzmed"`
	MzMin float64 `json:"mzmin"`
	MzMax float64 `json:"mzmax"`
	RtMed float64 `json:"rtmed"`
	RtMin float64 `json:"rtmin"`
	RtMax float64 `json:"rtmax"`
	Peaks []int   `json:"peaks"`
}

// Correction maps raw retention times of one sample to corrected
// ones: corrected = raw - shift(raw), with shift linearly interpolated
// between the knots and constant outside them.
type Correction struct {
	Knots []float64 `json:"knots"`
	Shift []float64 `json:"shift"`
}

// Func returns the raw to corrected retention time mapping.
func (c Correction) Func() func(float64) float64 {
	if len(c.Shift) != len(c.Knots) || !increasing(c.Knots) {
		return func(rt float64) float64 { return rt }
	}
	switch len(c.Knots) {
	case 0:
		return func(rt float64) float64 { return rt }
	case 1:
		s := c.Shift[0]
		return func(rt float64) float64 { return rt - s }
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(c.Knots, c.Shift); err != nil {
		return func(rt float64) float64 { return rt }
	}
	return func(rt float64) float64 { return rt - pl.Predict(rt) }
}

func increasing(x []float64) bool {
	for i := 1; i < len(x); i++ {
		if !(x[i] > x[i-1]) {
			return false
		}
	}
	return true
}

// Dataset is the state passed between stages. A stage never modifies
// its input; it returns a new Dataset. Lineage lists the stages that
// produced it, in order, and is maintained by the orchestrator.
type Dataset struct {
	Samples     []Sample     `json:"samples"`
	Peaks       []Peak       `json:"peaks"`
	Features    []Feature    `json:"features"`
	Corrections []Correction `json:"corrections,omitempty"`
	Lineage     []Stage      `json:"lineage"`
}

// Clone returns a deep copy.
func (d *Dataset) Clone() *Dataset {
	c := &Dataset{
		Samples:     slices.Clone(d.Samples),
		Peaks:       slices.Clone(d.Peaks),
		Lineage:     slices.Clone(d.Lineage),
		Features:    make([]Feature, len(d.Features)),
		Corrections: make([]Correction, len(d.Corrections)),
	}
	for i, f := range d.Features {
		f.Peaks = slices.Clone(f.Peaks)
		c.Features[i] = f
	}
	for i, cr := range d.Corrections {
		c.Corrections[i] = Correction{Knots: slices.Clone(cr.Knots), Shift: slices.Clone(cr.Shift)}
	}
	if d.Features == nil {
		c.Features = nil
	}
	if d.Corrections == nil {
		c.Corrections = nil
	}
	return c
}

// HasStage reports whether s is in the lineage.
func (d *Dataset) HasStage(s Stage) bool {
	return slices.Contains(d.Lineage, s)
}

// Intensity returns the integrated intensity of a feature in a sample,
// taking the most intense peak when there are several, or NaN when the
// sample has no peak in the feature.
func (d *Dataset) Intensity(feature, sample int) float64 {
	v := math.NaN()
	maxo := math.Inf(-1)
	for _, pi := range d.Features[feature].Peaks {
		p := d.Peaks[pi]
		if p.Sample == sample && p.Maxo > maxo {
			maxo = p.Maxo
			v = p.Into
		}
	}
	return v
}

// Detected returns the number of detected (not filled) peaks of a
// feature per sample class.
func (d *Dataset) Detected(feature int) map[string]int {
	n := make(map[string]int)
	seen := make(map[int]bool)
	for _, pi := range d.Features[feature].Peaks {
		p := d.Peaks[pi]
		if p.Filled || seen[p.Sample] {
			continue
		}
		seen[p.Sample] = true
		n[d.Samples[p.Sample].Class]++
	}
	return n
}

// ClassSizes returns the number of samples per class.
func (d *Dataset) ClassSizes() map[string]int {
	n := make(map[string]int)
	for _, s := range d.Samples {
		n[s.Class]++
	}
	return n
}

// fingerprint summarises a dataset for detecting in-place changes.
type fingerprint struct {
	samples, peaks, features, lineage int
}

func (d *Dataset) fingerprint() fingerprint {
	return fingerprint{len(d.Samples), len(d.Peaks), len(d.Features), len(d.Lineage)}
}
