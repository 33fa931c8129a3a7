package external

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/524D/mzbatch/internal/classify"
	"github.com/524D/mzbatch/internal/pipeline"
)

// passthrough wraps the sample list into a dataset with one peak per
// sample, copies datasets through, and writes a one line report.
const passthrough = `#!/bin/sh
stage=$1; params=$2; in=$3; out=$4
case $stage in
detect)
	n=$(grep -o '"path"' "$in" | wc -l)
	peaks=""
	i=0
	while [ $i -lt $n ]; do
		[ -n "$peaks" ] && peaks="$peaks,"
		peaks="$peaks{\"sample\":$i,\"mz\":100}"
		i=$((i+1))
	done
	printf '{"samples":%s,"peaks":[%s]}' "$(cat "$in")" "$peaks" > "$out" ;;
report)
	printf ',mzmed\nF1,100\n' > "$out" ;;
*)
	cp "$in" "$out" ;;
esac
`

func script(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "backend.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func testSamples() []pipeline.Sample {
	return []pipeline.Sample{
		{Path: "/data/A/a1.mzML", Name: "a1", Class: "A"},
		{Path: "/data/B/b1.mzML", Name: "b1", Class: "B"},
	}
}

func TestProcessor_Pipeline(t *testing.T) {
	p := New(script(t, passthrough))
	reportPath := filepath.Join(t.TempDir(), "out.raw.csv")

	ds, err := pipeline.New(p, pipeline.Params{}).Run(context.Background(), testSamples(),
		pipeline.ReportRequest{Mode: classify.Differential, ClassA: "A", ClassB: "B", Path: reportPath})
	require.NoError(t, err)
	assert.Equal(t, testSamples(), ds.Samples)
	assert.Len(t, ds.Peaks, 2)
	assert.Equal(t, []pipeline.Stage{
		pipeline.StageDetect, pipeline.StageGroup, pipeline.StageRetentionCorrect,
		pipeline.StageRegroup, pipeline.StageFillGaps,
	}, ds.Lineage)

	b, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Equal(t, ",mzmed\nF1,100\n", string(b))
}

func TestProcessor_CommandFails(t *testing.T) {
	p := New(script(t, "#!/bin/sh\necho 'no licence' >&2\nexit 3\n"))
	_, err := p.Detect(context.Background(), testSamples(), pipeline.DetectParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no licence")
}

func TestProcessor_BadOutput(t *testing.T) {
	p := New(script(t, "#!/bin/sh\necho '[1, 2]' > \"$4\"\n"))
	_, err := p.Group(context.Background(), &pipeline.Dataset{}, pipeline.GroupParams{})
	assert.ErrorIs(t, err, ErrBadOutput)

	p = New(script(t, "#!/bin/sh\ntrue\n"))
	_, err = p.Group(context.Background(), &pipeline.Dataset{}, pipeline.GroupParams{})
	assert.ErrorIs(t, err, ErrBadOutput, "no output file")

	err = p.Report(context.Background(), &pipeline.Dataset{}, pipeline.ReportRequest{Path: filepath.Join(t.TempDir(), "r.csv")})
	assert.ErrorIs(t, err, ErrBadOutput, "no report")
}

func TestProcessor_DanglingPeak(t *testing.T) {
	p := New(script(t, "#!/bin/sh\necho '{\"samples\":[],\"peaks\":[],\"features\":[{\"peaks\":[4]}]}' > \"$4\"\n"))
	_, err := p.FillGaps(context.Background(), &pipeline.Dataset{})
	assert.ErrorIs(t, err, ErrBadOutput)
}

func TestProcessor_DetectSampleCount(t *testing.T) {
	p := New(script(t, "#!/bin/sh\necho '{\"samples\":[]}' > \"$4\"\n"))
	_, err := p.Detect(context.Background(), testSamples(), pipeline.DetectParams{})
	assert.ErrorIs(t, err, ErrBadOutput)
}

func TestProcessor_Args(t *testing.T) {
	// leading args come before the stage
	p := New("/bin/sh", script(t, passthrough))
	ds, err := p.Group(context.Background(), &pipeline.Dataset{Samples: testSamples()}, pipeline.GroupParams{Bandwidth: 5})
	require.NoError(t, err)
	assert.Equal(t, testSamples(), ds.Samples)
}
