// Package config loads the run configuration from defaults, an optional
// YAML file and MZBATCH_ environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/524D/mzbatch/internal/pipeline"
	"github.com/524D/mzbatch/internal/report"
)

// ErrInvalid means a configuration value is out of range or inconsistent
// with another one.
var ErrInvalid = errors.New("config: invalid value")

// Backends that can run the peak pipeline.
const (
	BackendNative   = "native"
	BackendExternal = "external"
)

// Config holds the full configuration.
type Config struct {
	Params     ParamsConfig   `yaml:"params" mapstructure:"params"`
	Log        LogConfig      `yaml:"log" mapstructure:"log"`
	Validation ValidateConfig `yaml:"validate" mapstructure:"validate"`
	Backend    BackendConfig  `yaml:"backend" mapstructure:"backend"`
	Report     ReportConfig   `yaml:"report" mapstructure:"report"`
	Ledger     LedgerConfig   `yaml:"ledger" mapstructure:"ledger"`
}

// ParamsConfig holds the named pipeline parameters. ScanRange is
// "first:last" (1-based, inclusive); empty means all scans.
type ParamsConfig struct {
	PPMTolerance       float64 `yaml:"ppm-tolerance" mapstructure:"ppm-tolerance"`
	PeakWidthMin       float64 `yaml:"peak-width-min" mapstructure:"peak-width-min"`
	PeakWidthMax       float64 `yaml:"peak-width-max" mapstructure:"peak-width-max"`
	SNRThreshold       float64 `yaml:"snr-threshold" mapstructure:"snr-threshold"`
	PrefilterCount     int     `yaml:"prefilter-count" mapstructure:"prefilter-count"`
	PrefilterIntensity float64 `yaml:"prefilter-intensity" mapstructure:"prefilter-intensity"`
	IntegrationMode    int     `yaml:"integration-mode" mapstructure:"integration-mode"`
	MzDrift            float64 `yaml:"mz-drift" mapstructure:"mz-drift"`
	FitGaussian        bool    `yaml:"fit-gaussian" mapstructure:"fit-gaussian"`
	NoiseFloor         float64 `yaml:"noise-floor" mapstructure:"noise-floor"`
	ScanRange          string  `yaml:"scan-range" mapstructure:"scan-range"`
	GroupBandwidth     float64 `yaml:"group-bandwidth" mapstructure:"group-bandwidth"`
	RegroupBandwidth   float64 `yaml:"regroup-bandwidth" mapstructure:"regroup-bandwidth"`
	MzWindow           float64 `yaml:"mz-window" mapstructure:"mz-window"`
	MinFraction        float64 `yaml:"min-fraction" mapstructure:"min-fraction"`
	MinSamples         int     `yaml:"min-samples" mapstructure:"min-samples"`
	RetentionMethod    string  `yaml:"retention-method" mapstructure:"retention-method"`
	RetentionStep      float64 `yaml:"retention-step" mapstructure:"retention-step"`
	ResponseWeight     float64 `yaml:"response-weight" mapstructure:"response-weight"`
	ReferenceSample    int     `yaml:"reference-sample" mapstructure:"reference-sample"`
	SuppressPlot       bool    `yaml:"suppress-plot" mapstructure:"suppress-plot"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ValidateConfig configures file validation.
type ValidateConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// BackendConfig selects the peak processing backend. Command and Args
// are used by the external backend only.
type BackendConfig struct {
	Name    string   `yaml:"name" mapstructure:"name"`
	Command string   `yaml:"command" mapstructure:"command"`
	Args    []string `yaml:"args" mapstructure:"args"`
}

// ReportConfig configures the delivered report.
type ReportConfig struct {
	Format      string `yaml:"format" mapstructure:"format"`
	LipidFinder bool   `yaml:"lipidfinder" mapstructure:"lipidfinder"`
}

// LedgerConfig configures the run ledger; an empty path disables it.
type LedgerConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("params.ppm-tolerance", 2.5)
	v.SetDefault("params.peak-width-min", 10.0)
	v.SetDefault("params.peak-width-max", 60.0)
	v.SetDefault("params.snr-threshold", 10.0)
	v.SetDefault("params.prefilter-count", 3)
	v.SetDefault("params.prefilter-intensity", 500.0)
	v.SetDefault("params.integration-mode", 1)
	v.SetDefault("params.mz-drift", -0.001)
	v.SetDefault("params.fit-gaussian", false)
	v.SetDefault("params.noise-floor", 0.0)
	v.SetDefault("params.scan-range", "")
	v.SetDefault("params.group-bandwidth", 10.0)
	v.SetDefault("params.regroup-bandwidth", 5.0)
	v.SetDefault("params.mz-window", 0.015)
	v.SetDefault("params.min-fraction", 0.5)
	v.SetDefault("params.min-samples", 1)
	v.SetDefault("params.retention-method", pipeline.MethodObiwarp)
	v.SetDefault("params.retention-step", 1.0)
	v.SetDefault("params.response-weight", 1.0)
	v.SetDefault("params.reference-sample", 0)
	v.SetDefault("params.suppress-plot", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("validate.workers", 1)
	v.SetDefault("backend.name", BackendNative)
	v.SetDefault("backend.command", "")
	v.SetDefault("backend.args", []string{})
	v.SetDefault("report.format", string(report.FormatTSV))
	v.SetDefault("report.lipidfinder", false)
	v.SetDefault("ledger.path", "")
}

// Load reads the configuration. file, when set, must exist; otherwise
// mzbatch.yaml is looked up in dirs (the current directory when none
// are given) and is optional.
func Load(file string, dirs ...string) (*Config, error) {
	v := viper.New()

	// Config file
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("mzbatch")
		v.SetConfigType("yaml")
		if len(dirs) == 0 {
			dirs = []string{"."}
		}
		for _, d := range dirs {
			v.AddConfigPath(d)
		}
	}

	// Environment
	v.SetEnvPrefix("MZBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if used := v.ConfigFileUsed(); used != "" {
		zap.L().Debug("config: loaded", zap.String("file", used))
	}
	return &cfg, nil
}

func invalid(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, a...))
}

// Validate rejects out of range and inconsistent values.
func (c *Config) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return err
	}
	if c.Validation.Workers < 1 {
		return invalid("validate.workers must be at least 1, got %d", c.Validation.Workers)
	}
	switch c.Backend.Name {
	case BackendNative:
	case BackendExternal:
		if c.Backend.Command == "" {
			return invalid("backend.command is required for the external backend")
		}
	default:
		return invalid("unknown backend %q", c.Backend.Name)
	}
	if _, err := report.ParseFormat(c.Report.Format); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level: %v", err)
	}
	return nil
}

// Validate rejects out of range and inconsistent parameters.
func (p *ParamsConfig) Validate() error {
	switch {
	case p.PPMTolerance <= 0:
		return invalid("ppm-tolerance must be positive, got %g", p.PPMTolerance)
	case p.PeakWidthMin < 0 || p.PeakWidthMin > p.PeakWidthMax:
		return invalid("peak width %g:%g", p.PeakWidthMin, p.PeakWidthMax)
	case p.IntegrationMode != 1 && p.IntegrationMode != 2:
		return invalid("integration-mode must be 1 or 2, got %d", p.IntegrationMode)
	case p.MinFraction < 0 || p.MinFraction > 1:
		return invalid("min-fraction must be in [0,1], got %g", p.MinFraction)
	case p.MinSamples < 0:
		return invalid("min-samples must not be negative, got %d", p.MinSamples)
	case p.GroupBandwidth <= 0 || p.RegroupBandwidth <= 0:
		return invalid("bandwidths must be positive, got %g and %g", p.GroupBandwidth, p.RegroupBandwidth)
	case p.RegroupBandwidth > p.GroupBandwidth:
		return invalid("regroup-bandwidth %g is wider than group-bandwidth %g", p.RegroupBandwidth, p.GroupBandwidth)
	case p.MzWindow <= 0:
		return invalid("mz-window must be positive, got %g", p.MzWindow)
	case !slices.Contains(pipeline.RetentionMethods, p.RetentionMethod):
		return invalid("unknown retention-method %q", p.RetentionMethod)
	case p.RetentionStep <= 0:
		return invalid("retention-step must be positive, got %g", p.RetentionStep)
	case p.ResponseWeight < 0 || p.ResponseWeight > 100:
		return invalid("response-weight must be in [0,100], got %g", p.ResponseWeight)
	case p.ReferenceSample < 0:
		return invalid("reference-sample must not be negative, got %d", p.ReferenceSample)
	}
	if _, _, err := p.scanRange(); err != nil {
		return invalid("scan-range %q: %v", p.ScanRange, err)
	}
	return nil
}

// scanRange returns the 1-based first and last scan; 0 means open.
func (p *ParamsConfig) scanRange() (int, int, error) {
	if strings.TrimSpace(p.ScanRange) == "" {
		return 0, 0, nil
	}
	if !strings.Contains(p.ScanRange, ":") {
		return 0, 0, ErrRangeSpec
	}
	first, last, err := ParseIntRange(p.ScanRange, 1, math.MaxInt32)
	if err != nil {
		return 0, 0, err
	}
	if last == math.MaxInt32 {
		last = 0
	}
	return first, last, nil
}

// Pipeline converts the named parameters to the pipeline's stage
// parameters.
func (p *ParamsConfig) Pipeline() (pipeline.Params, error) {
	if err := p.Validate(); err != nil {
		return pipeline.Params{}, err
	}
	first, last, _ := p.scanRange()
	group := pipeline.GroupParams{
		Bandwidth: p.GroupBandwidth,
		MzWid:     p.MzWindow,
		MinFrac:   p.MinFraction,
		MinSamp:   p.MinSamples,
	}
	regroup := group
	regroup.Bandwidth = p.RegroupBandwidth
	return pipeline.Params{
		Detect: pipeline.DetectParams{
			PPM:                p.PPMTolerance,
			PeakWidthMin:       p.PeakWidthMin,
			PeakWidthMax:       p.PeakWidthMax,
			SNR:                p.SNRThreshold,
			PrefilterCount:     p.PrefilterCount,
			PrefilterIntensity: p.PrefilterIntensity,
			Integrate:          p.IntegrationMode,
			MzDiff:             p.MzDrift,
			FitGauss:           p.FitGaussian,
			Noise:              p.NoiseFloor,
			ScanFirst:          first,
			ScanLast:           last,
		},
		Group:   group,
		Regroup: regroup,
		Retention: pipeline.RetentionParams{
			Method:       p.RetentionMethod,
			Step:         p.RetentionStep,
			Response:     p.ResponseWeight,
			Center:       p.ReferenceSample,
			SuppressPlot: p.SuppressPlot,
		},
	}, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
