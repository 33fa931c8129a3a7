// Package native is the built-in PeakProcessor. Peak detection works on
// regions of interest (runs of centroids within a ppm window over
// consecutive scans), grouping on m/z slices split by retention time
// gaps, and retention time correction on anchor features.
package native

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/524D/mzbatch/internal/mzml"
	"github.com/524D/mzbatch/internal/pipeline"
	"github.com/524D/mzbatch/internal/spectra"
)

// Processor implements pipeline.PeakProcessor.
type Processor struct {
	open func(path string) (spectra.File, error)
}

// New returns a Processor that reads samples from disk.
func New() *Processor {
	return &Processor{open: spectra.Open}
}

var _ pipeline.PeakProcessor = (*Processor)(nil)

// loadScans reads the MS1 scans of one sample within the scan range.
// The decoded file is released when loadScans returns.
func (pr *Processor) loadScans(path string, first, last int) ([]spectra.Scan, error) {
	f, err := pr.open(path)
	if err != nil {
		return nil, err
	}
	scans, err := spectra.MS1Scans(f, first, last)
	if err != nil {
		return nil, eris.Wrapf(err, "native: read scans of %s", path)
	}
	for _, sc := range scans {
		if !mzml.SortedByMz(sc.Peaks) {
			spectra.SortPeaks(sc.Peaks)
		}
	}
	return scans, nil
}

// Detect finds chromatographic peaks in every sample.
func (pr *Processor) Detect(ctx context.Context, samples []pipeline.Sample, p pipeline.DetectParams) (*pipeline.Dataset, error) {
	out := &pipeline.Dataset{Samples: samples}
	for i, s := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scans, err := pr.loadScans(s.Path, p.ScanFirst, p.ScanLast)
		if err != nil {
			return nil, err
		}
		peaks := detectSample(scans, p, i)
		zap.L().Debug("native: detected peaks", zap.String("sample", s.Name), zap.Int("scans", len(scans)), zap.Int("peaks", len(peaks)))
		out.Peaks = append(out.Peaks, peaks...)
	}
	return out, nil
}

// Group groups peaks into features.
func (pr *Processor) Group(ctx context.Context, ds *pipeline.Dataset, p pipeline.GroupParams) (*pipeline.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := ds.Clone()
	out.Features = groupPeaks(out, p)
	return out, nil
}

// RetentionCorrect aligns retention times across samples.
func (pr *Processor) RetentionCorrect(ctx context.Context, ds *pipeline.Dataset, p pipeline.RetentionParams) (*pipeline.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return correctRetention(ds, p)
}

// FillGaps integrates raw data for features a sample has no peak in.
func (pr *Processor) FillGaps(ctx context.Context, ds *pipeline.Dataset) (*pipeline.Dataset, error) {
	return pr.fillGaps(ctx, ds)
}

// Report writes the intermediate table.
func (pr *Processor) Report(ctx context.Context, ds *pipeline.Dataset, req pipeline.ReportRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeReport(ds, req)
}
