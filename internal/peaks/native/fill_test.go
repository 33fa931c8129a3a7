package native

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/524D/mzbatch/internal/mzml"
	"github.com/524D/mzbatch/internal/pipeline"
)

func TestMzRange(t *testing.T) {
	p := []mzml.Peak{{Mz: 100}, {Mz: 200}, {Mz: 300}, {Mz: 400}}
	assert.Len(t, mzRange(p, 200, 300), 2)
	assert.Len(t, mzRange(p, 250, 260), 0)
	assert.Len(t, mzRange(p, 0, 1000), 4)
}

func TestFillGaps(t *testing.T) {
	ds := testDataset("A", "A")
	in := addPeak(ds, 0, 300, 30, 1000)
	ds.Peaks[in].RtMin, ds.Peaks[in].RtMax = 20, 40
	quiet := addPeak(ds, 0, 700, 50, 1000)
	ds.Features = []pipeline.Feature{
		{MzMed: 300, MzMin: 300, MzMax: 300, RtMed: 30, RtMin: 30, RtMax: 30, Peaks: []int{in}},
		{MzMed: 700, MzMin: 700, MzMax: 700, RtMed: 50, RtMin: 50, RtMax: 50, Peaks: []int{quiet}},
	}
	ds.Lineage = []pipeline.Stage{pipeline.StageDetect}

	// sample s0 has all features and is never read
	pr := testProcessor(map[string]*mzml.MzML{
		"s1": synthDoc(t, 0, gauss{mz: 300, rt: 30, height: 1e5, sigma: 3}),
	})
	out, err := pr.FillGaps(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, out.Peaks, 4)
	assert.Len(t, ds.Peaks, 2, "input untouched")

	filled := out.Peaks[2]
	assert.True(t, filled.Filled)
	assert.Equal(t, 1, filled.Sample)
	assert.Equal(t, 30.0, filled.Rt)
	assert.Equal(t, 1e5, filled.Maxo)
	assert.InDelta(t, 300.0, filled.Mz, 1e-9)
	assert.InEpsilon(t, 1e5*3*math.Sqrt(2*math.Pi), filled.Into, 0.01)
	assert.Equal(t, []int{in, 2}, out.Features[0].Peaks)

	empty := out.Peaks[3]
	assert.True(t, empty.Filled)
	assert.Equal(t, 0.0, empty.Into)
	assert.Equal(t, 700.0, empty.Mz)
	assert.Equal(t, 50.0, empty.Rt)

	assert.Equal(t, 1, out.Detected(0)["A"])
	assert.InEpsilon(t, filled.Into, out.Intensity(0, 1), 1e-12)
}

func TestFillGaps_Corrected(t *testing.T) {
	ds := testDataset("", "")
	in := addPeak(ds, 0, 300, 30, 1000)
	ds.Peaks[in].RtMin, ds.Peaks[in].RtMax = 20, 40
	ds.Features = []pipeline.Feature{{MzMed: 300, MzMin: 300, MzMax: 300, RtMed: 30, RtMin: 30, RtMax: 30, Peaks: []int{in}}}
	// sample s1 elutes 5 seconds late; its correction takes that off
	ds.Corrections = []pipeline.Correction{{}, {Knots: []float64{0}, Shift: []float64{5}}}

	pr := testProcessor(map[string]*mzml.MzML{
		"s1": synthDoc(t, 5, gauss{mz: 300, rt: 30, height: 1e5, sigma: 3}),
	})
	out, err := pr.FillGaps(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, out.Peaks, 2)
	assert.Equal(t, 30.0, out.Peaks[1].Rt)
	assert.Equal(t, 1e5, out.Peaks[1].Maxo)
}

func TestFillGaps_MissingFile(t *testing.T) {
	ds := testDataset("", "")
	in := addPeak(ds, 0, 300, 30, 1000)
	ds.Features = []pipeline.Feature{{MzMed: 300, Peaks: []int{in}}}
	_, err := testProcessor(nil).FillGaps(context.Background(), ds)
	assert.Error(t, err)
}
