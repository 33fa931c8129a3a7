package native

import (
	"context"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/524D/mzbatch/internal/classify"
	"github.com/524D/mzbatch/internal/pipeline"
)

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "NA", formatFloat(math.NaN()))
	assert.Equal(t, "Inf", formatFloat(math.Inf(1)))
	assert.Equal(t, "-Inf", formatFloat(math.Inf(-1)))
	assert.Equal(t, "300.1", formatFloat(300.1))
	assert.Equal(t, "0", formatFloat(0))
}

func TestFeatureNames(t *testing.T) {
	ds := &pipeline.Dataset{Features: []pipeline.Feature{
		{MzMed: 100.2, RtMed: 29.6},
		{MzMed: 99.8, RtMed: 30.4},
		{MzMed: 200.7, RtMed: 61},
		{MzMed: 100, RtMed: 30},
	}}
	assert.Equal(t, []string{"M100T30", "M100T30_1", "M201T61", "M100T30_2"}, featureNames(ds))
}

func TestWelch(t *testing.T) {
	tstat, p := welch([]float64{1, 2, 3}, []float64{4, 5, 6})
	assert.InDelta(t, 3.0/math.Sqrt(2.0/3.0), tstat, 1e-9)
	assert.Greater(t, p, 0.015)
	assert.Less(t, p, 0.03)

	tstat, p = welch([]float64{4, 5, 6}, []float64{1, 2, 3})
	assert.Less(t, tstat, 0.0)
	assert.Greater(t, p, 0.015)

	tstat, p = welch([]float64{1, 1}, []float64{1, 1})
	assert.True(t, math.IsNaN(tstat))
	assert.True(t, math.IsNaN(p))

	_, p = welch([]float64{1}, []float64{1, 2})
	assert.True(t, math.IsNaN(p))
}

func TestReportTable_Single(t *testing.T) {
	ds := testDataset("A", "B", "")
	a := addPeak(ds, 0, 100, 30, 10)
	b := addPeak(ds, 1, 100, 30, 5)
	ds.Peaks[b].Filled = true
	ds.Features = []pipeline.Feature{{MzMed: 100, MzMin: 100, MzMax: 100, RtMed: 30, RtMin: 30, RtMax: 30, Peaks: []int{a, b}}}

	header, rows, err := reportTable(ds, pipeline.ReportRequest{Mode: classify.SingleOrNone})
	require.NoError(t, err)
	assert.Equal(t, []string{"", "mzmed", "mzmin", "mzmax", "rtmed", "rtmin", "rtmax", "npeaks", "n_A", "n_B", "s0", "s1", "s2"}, header)
	assert.Equal(t, [][]string{{"M100T30", "100", "100", "100", "30", "30", "30", "1", "1", "0", "10", "5", "NA"}}, rows)
}

func TestReportTable_Differential(t *testing.T) {
	ds := testDataset("A", "A", "A", "B", "B", "B", "")
	flat := pipeline.Feature{MzMed: 100, MzMin: 100, MzMax: 100, RtMed: 30, RtMin: 30, RtMax: 30}
	up := pipeline.Feature{MzMed: 300, MzMin: 300, MzMax: 300, RtMed: 60, RtMin: 60, RtMax: 60}
	for s := 0; s < 6; s++ {
		pi := addPeak(ds, s, 100, 30, 10)
		if s >= 3 {
			ds.Peaks[pi].Filled = true
		}
		flat.Peaks = append(flat.Peaks, pi)
		up.Peaks = append(up.Peaks, addPeak(ds, s, 300, 60, float64(s+1)))
	}
	ds.Features = []pipeline.Feature{flat, up}

	header, rows, err := reportTable(ds, pipeline.ReportRequest{Mode: classify.Differential, ClassA: "A", ClassB: "B"})
	require.NoError(t, err)
	assert.Equal(t, []string{"", "fold", "tstat", "pvalue", "presence",
		"mzmed", "mzmin", "mzmax", "rtmed", "rtmin", "rtmax", "npeaks", "n_A", "n_B",
		"s0", "s1", "s2", "s3", "s4", "s5", "s6"}, header)
	require.Len(t, rows, 2)

	// sorted by p-value, the flat feature has none
	assert.Equal(t, "M300T60", rows[0][0])
	assert.Equal(t, "2.5", rows[0][1])
	assert.Equal(t, PresenceBoth, rows[0][4])
	assert.Equal(t, "NA", rows[0][len(header)-1])

	assert.Equal(t, "M100T30", rows[1][0])
	assert.Equal(t, "1", rows[1][1])
	assert.Equal(t, "NA", rows[1][3])
	assert.Equal(t, PresenceA, rows[1][4])
	assert.Equal(t, "3", rows[1][11])
}

func TestReportTable_UnknownClass(t *testing.T) {
	ds := testDataset("A", "B")
	_, _, err := reportTable(ds, pipeline.ReportRequest{Mode: classify.Differential, ClassA: "A", ClassB: "C"})
	assert.ErrorIs(t, err, ErrUnknownClass)
}

func TestReportTable_SampleNamedLikeColumn(t *testing.T) {
	for _, name := range []string{"A", "n_A", "mzmed", "npeaks", "id", "pvalue"} {
		ds := testDataset("A", "A")
		ds.Samples[0].Name = name
		pi := addPeak(ds, 0, 100, 30, 10)
		ds.Features = []pipeline.Feature{{MzMed: 100, RtMed: 30, Peaks: []int{pi}}}
		header, _, err := reportTable(ds, pipeline.ReportRequest{Mode: classify.SingleOrNone})
		if name == "A" {
			// class counts live in n_A, so a sample may be named after its class
			require.NoError(t, err)
			assert.Equal(t, []string{"n_A", "A", "s1"}, header[len(header)-3:])
			continue
		}
		assert.ErrorIs(t, err, ErrColumnName, "sample %q", name)
	}
}

func TestProcessor_Report(t *testing.T) {
	ds := testDataset("")
	pi := addPeak(ds, 0, 100, 30, 10)
	ds.Features = []pipeline.Feature{{MzMed: 100, RtMed: 30, Peaks: []int{pi}}}
	path := filepath.Join(t.TempDir(), "out.raw.csv")

	require.NoError(t, New().Report(context.Background(), ds, pipeline.ReportRequest{Path: path}))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "", records[0][0])
	assert.Equal(t, "s0", records[0][len(records[0])-1])
	assert.Equal(t, "10", records[1][len(records[1])-1])
}
