package native

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/524D/mzbatch/internal/pipeline"
)

func testDataset(classes ...string) *pipeline.Dataset {
	ds := &pipeline.Dataset{}
	for i, c := range classes {
		name := fmt.Sprintf("s%d", i)
		ds.Samples = append(ds.Samples, pipeline.Sample{Path: name, Name: name, Class: c})
	}
	return ds
}

// addPeak adds a detected peak 6 seconds wide and returns its index.
func addPeak(ds *pipeline.Dataset, sample int, mz, rt, into float64) int {
	ds.Peaks = append(ds.Peaks, pipeline.Peak{
		Sample: sample,
		Mz:     mz, MzMin: mz, MzMax: mz,
		Rt: rt, RtMin: rt - 3, RtMax: rt + 3,
		Into: into, Maxo: into / 5, SN: 100,
	})
	return len(ds.Peaks) - 1
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 2, 3}))
	assert.True(t, median(nil) != median(nil), "NaN for no values")
}

func TestGroupPeaks(t *testing.T) {
	ds := testDataset("A", "A", "B", "B")
	for s := 0; s < 4; s++ {
		addPeak(ds, s, 100, 10+float64(s), 1000)
	}
	lone := addPeak(ds, 0, 100.005, 50, 1000)
	pairA := addPeak(ds, 0, 200, 20, 1000)
	pairB := addPeak(ds, 2, 200.001, 21, 1000)

	p := pipeline.GroupParams{Bandwidth: 10, MzWid: 0.015, MinFrac: 0.5, MinSamp: 1}
	got := groupPeaks(ds, p)
	want := []pipeline.Feature{
		{MzMed: 100, MzMin: 100, MzMax: 100, RtMed: 11.5, RtMin: 10, RtMax: 13, Peaks: []int{0, 1, 2, 3}},
		{MzMed: 100.005, MzMin: 100.005, MzMax: 100.005, RtMed: 50, RtMin: 50, RtMax: 50, Peaks: []int{lone}},
		{MzMed: 200.0005, MzMin: 200, MzMax: 200.001, RtMed: 20.5, RtMin: 20, RtMax: 21, Peaks: []int{pairA, pairB}},
	}
	approx := cmp.Comparer(func(x, y float64) bool { return x-y < 1e-9 && y-x < 1e-9 })
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("groupPeaks mismatch (-want +got):\n%s", diff)
	}

	p.MinFrac = 0.75
	got = groupPeaks(ds, p)
	if assert.Len(t, got, 1) {
		assert.Equal(t, []int{0, 1, 2, 3}, got[0].Peaks)
	}

	p.MinFrac = 0
	p.MinSamp = 2
	assert.Len(t, groupPeaks(ds, p), 1)
}

func TestGroupPeaks_Bandwidth(t *testing.T) {
	ds := testDataset("", "")
	addPeak(ds, 0, 100, 10, 1)
	addPeak(ds, 1, 100, 16, 1)

	p := pipeline.GroupParams{Bandwidth: 10, MzWid: 0.015, MinFrac: 0.5, MinSamp: 1}
	assert.Len(t, groupPeaks(ds, p), 1)
	p.Bandwidth = 5
	assert.Len(t, groupPeaks(ds, p), 2)
}

func TestGroupPeaks_Empty(t *testing.T) {
	ds := testDataset("A")
	assert.Empty(t, groupPeaks(ds, pipeline.GroupParams{Bandwidth: 10, MzWid: 0.015}))
}
