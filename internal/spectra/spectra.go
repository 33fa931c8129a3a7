// Package spectra gives format independent access to LC-MS scan files.
package spectra

import (
	"cmp"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/524D/mzbatch/internal/mzml"
	"github.com/524D/mzbatch/internal/mzxml"
)

// File is read access to the scans of a spectral file. Scans are
// addressed by their position in the file.
type File interface {
	NumSpecs() int
	ReadScan(scanIndex int) ([]mzml.Peak, error)
	RetentionTime(scanIndex int) (float64, error)
	MSLevel(scanIndex int) (int, error)
	Centroid(scanIndex int) (bool, error)
	ScanID(scanIndex int) (string, error)
}

// Format identifies the on-disk format of a spectral file.
type Format int

const (
	// FormatUnknown is anything that is not a spectral file
	FormatUnknown Format = iota
	FormatMzML
	FormatMzXML
)

func (f Format) String() string {
	switch f {
	case FormatMzML:
		return "mzML"
	case FormatMzXML:
		return "mzXML"
	}
	return "unknown"
}

// ErrUnknownFormat means the file extension is not a spectral format
var ErrUnknownFormat = errors.New("spectra: unknown file format")

var extensions = map[string]Format{
	".mzml":  FormatMzML,
	".mzxml": FormatMzXML,
}

// FormatOf returns the format of a path, judged by its
// (case-insensitive) extension.
func FormatOf(path string) Format {
	return extensions[strings.ToLower(filepath.Ext(path))]
}

// IsSpectral reports whether path names a spectral file.
func IsSpectral(path string) bool {
	return FormatOf(path) != FormatUnknown
}

// Stem returns the file name without directory and extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Discover walks root and returns all spectral files, sorted.
// Hidden directories are skipped.
func Discover(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsSpectral(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "spectra: discover %s", root)
	}
	slices.Sort(files)
	return files, nil
}

// Open reads a spectral file completely. The file handle is closed
// before Open returns.
func Open(path string) (File, error) {
	format := FormatOf(path)
	if format == FormatUnknown {
		return nil, eris.Wrap(ErrUnknownFormat, path)
	}
	r, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "spectra: open %s", path)
	}
	defer r.Close()

	switch format {
	case FormatMzXML:
		f, err := mzxml.Read(r)
		if err != nil {
			return nil, eris.Wrapf(err, "spectra: read %s", path)
		}
		return &f, nil
	default:
		f, err := mzml.Read(r)
		if err != nil {
			return nil, eris.Wrapf(err, "spectra: read %s", path)
		}
		return &f, nil
	}
}

// SortPeaks sorts peaks by m/z. Peaks with equal m/z keep their order.
func SortPeaks(p []mzml.Peak) {
	slices.SortStableFunc(p, func(a, b mzml.Peak) int {
		return cmp.Compare(a.Mz, b.Mz)
	})
}

// ConvertToMzML builds an mzML document holding all scans of src, each
// sorted by m/z.
func ConvertToMzML(src File, runID string) (*mzml.MzML, error) {
	doc := mzml.New(runID)
	for i := 0; i < src.NumSpecs(); i++ {
		p, err := src.ReadScan(i)
		if err != nil {
			return nil, err
		}
		SortPeaks(p)
		s := mzml.Spectrum{Peaks: p}
		if s.ID, err = src.ScanID(i); err != nil {
			return nil, err
		}
		if s.MSLevel, err = src.MSLevel(i); err != nil {
			return nil, err
		}
		if s.Centroid, err = src.Centroid(i); err != nil {
			return nil, err
		}
		if s.RetentionTime, err = src.RetentionTime(i); err != nil {
			return nil, err
		}
		if err := doc.AppendSpectrum(s); err != nil {
			return nil, eris.Wrapf(err, "spectra: convert scan %d", i)
		}
	}
	return &doc, nil
}

// Scan is one MS1 scan of a sample, as used by peak processing.
type Scan struct {
	Index         int
	RetentionTime float64
	Peaks         []mzml.Peak
}

// MS1Scans returns the MS1 scans of f whose position (1-based) lies in
// [first, last]. last <= 0 means up to the last scan.
func MS1Scans(f File, first, last int) ([]Scan, error) {
	var scans []Scan
	n := f.NumSpecs()
	if last <= 0 || last > n {
		last = n
	}
	if first < 1 {
		first = 1
	}
	for i := first - 1; i < last; i++ {
		level, err := f.MSLevel(i)
		if err != nil {
			return nil, err
		}
		if level != 1 {
			continue
		}
		rt, err := f.RetentionTime(i)
		if err != nil {
			return nil, err
		}
		p, err := f.ReadScan(i)
		if err != nil {
			return nil, err
		}
		scans = append(scans, Scan{Index: i, RetentionTime: rt, Peaks: p})
	}
	return scans, nil
}
