package classify

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		names []string
		want  Mode
	}{
		{nil, SingleOrNone},
		{[]string{"A"}, SingleOrNone},
		{[]string{"A", "B"}, Differential},
	}
	for _, tt := range tests {
		got, err := Classify(tt.names)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v", tt.names)
	}

	got, err := Classify([]string{"A", "B", "C"})
	assert.Equal(t, Invalid, got)
	assert.ErrorIs(t, err, ErrTooManyClasses)
	assert.Contains(t, err.Error(), "A, B, C")
}

func TestSampleClasses(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "ctrl", "c1.mzML"))
	touch(t, filepath.Join(dir, "case", "sub", "x1.mzXML"))
	touch(t, filepath.Join(dir, "empty", "readme.txt"))
	touch(t, filepath.Join(dir, ".hidden", "h.mzML"))
	touch(t, filepath.Join(dir, "root.mzML"))

	names, err := SampleClasses(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"case", "ctrl"}, names)
}

func TestSampleClasses_Missing(t *testing.T) {
	_, err := SampleClasses(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, "A", ClassOf("/w", "/w/A/s.mzML"))
	assert.Equal(t, "A", ClassOf("/w", "/w/A/deep/s.mzML"))
	assert.Equal(t, "", ClassOf("/w", "/w/s.mzML"))
	assert.Equal(t, "", ClassOf("/w", "/other/A/s.mzML"))
}

func TestModeText(t *testing.T) {
	b, err := json.Marshal(map[string]Mode{"mode": Differential})
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"differential"}`, string(b))

	var m Mode
	require.NoError(t, m.UnmarshalText([]byte("single")))
	assert.Equal(t, SingleOrNone, m)
	assert.Error(t, m.UnmarshalText([]byte("other")))
}
