package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/524D/mzbatch/internal/pipeline"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no mzbatch.yaml is found
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.InDelta(t, 2.5, cfg.Params.PPMTolerance, 1e-9)
	assert.InDelta(t, 10, cfg.Params.PeakWidthMin, 1e-9)
	assert.InDelta(t, 60, cfg.Params.PeakWidthMax, 1e-9)
	assert.Equal(t, 3, cfg.Params.PrefilterCount)
	assert.InDelta(t, -0.001, cfg.Params.MzDrift, 1e-12)
	assert.Equal(t, pipeline.MethodObiwarp, cfg.Params.RetentionMethod)
	assert.True(t, cfg.Params.SuppressPlot)
	assert.InDelta(t, 0.015, cfg.Params.MzWindow, 1e-12)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 1, cfg.Validation.Workers)
	assert.Equal(t, BackendNative, cfg.Backend.Name)
	assert.Equal(t, "tsv", cfg.Report.Format)
	assert.Empty(t, cfg.Ledger.Path)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := `
params:
  ppm-tolerance: 5
  retention-method: peakgroups
  scan-range: "10:500"
log:
  level: debug
  format: console
backend:
  name: external
  command: /usr/bin/Rscript
  args: [pipeline.R]
report:
  format: xlsx
  lipidfinder: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mzbatch.yaml"), []byte(yaml), 0o644))

	cfg, err := Load("", dir)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.InDelta(t, 5, cfg.Params.PPMTolerance, 1e-9)
	assert.Equal(t, pipeline.MethodPeakGroups, cfg.Params.RetentionMethod)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, BackendExternal, cfg.Backend.Name)
	assert.Equal(t, []string{"pipeline.R"}, cfg.Backend.Args)
	assert.Equal(t, "xlsx", cfg.Report.Format)
	assert.True(t, cfg.Report.LipidFinder)
	// Defaults still apply for unset values
	assert.InDelta(t, 10, cfg.Params.SNRThreshold, 1e-9)

	p, err := cfg.Params.Pipeline()
	require.NoError(t, err)
	assert.Equal(t, 10, p.Detect.ScanFirst)
	assert.Equal(t, 500, p.Detect.ScanLast)
}

func TestLoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "other.yaml")
	require.NoError(t, os.WriteFile(path, []byte("validate:\n  workers: 4\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Validation.Workers)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mzbatch.yaml"), []byte("params:\n  snr-threshold: 3\n"), 0o644))
	t.Setenv("MZBATCH_PARAMS_SNR_THRESHOLD", "20")
	t.Setenv("MZBATCH_LOG_LEVEL", "warn")

	cfg, err := Load("", dir)
	require.NoError(t, err)
	assert.InDelta(t, 20, cfg.Params.SNRThreshold, 1e-9)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"peak width", func(c *Config) { c.Params.PeakWidthMin = 80 }},
		{"integration", func(c *Config) { c.Params.IntegrationMode = 3 }},
		{"min fraction", func(c *Config) { c.Params.MinFraction = 1.5 }},
		{"regroup wider", func(c *Config) { c.Params.RegroupBandwidth = 20 }},
		{"method", func(c *Config) { c.Params.RetentionMethod = "loess" }},
		{"response", func(c *Config) { c.Params.ResponseWeight = 101 }},
		{"scan range", func(c *Config) { c.Params.ScanRange = "50:10" }},
		{"scan range no colon", func(c *Config) { c.Params.ScanRange = "50" }},
		{"workers", func(c *Config) { c.Validation.Workers = 0 }},
		{"backend", func(c *Config) { c.Backend.Name = "matlab" }},
		{"external without command", func(c *Config) { c.Backend.Name = BackendExternal }},
		{"report format", func(c *Config) { c.Report.Format = "pdf" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestParamsPipeline(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Params.ScanRange = "5:"

	p, err := cfg.Params.Pipeline()
	require.NoError(t, err)
	assert.Equal(t, 5, p.Detect.ScanFirst)
	assert.Equal(t, 0, p.Detect.ScanLast)
	assert.InDelta(t, 10, p.Group.Bandwidth, 1e-9)
	assert.InDelta(t, 5, p.Regroup.Bandwidth, 1e-9)
	assert.Equal(t, p.Group.MzWid, p.Regroup.MzWid)
	assert.Equal(t, 1, p.Detect.Integrate)
	assert.Equal(t, pipeline.MethodObiwarp, p.Retention.Method)

	cfg.Params.PPMTolerance = 0
	_, err = cfg.Params.Pipeline()
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestInitLogger(t *testing.T) {
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
