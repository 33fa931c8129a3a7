// Package validate checks spectral files for scans whose peaks are not
// sorted by m/z and repairs such files in place.
package validate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/524D/mzbatch/internal/mzml"
	"github.com/524D/mzbatch/internal/spectra"
)

// ErrRepair means a file needed repair but it could not be written.
var ErrRepair = errors.New("validate: repair failed")

// SoftwareID and SoftwareVersion identify the program in the software
// and dataProcessing lists of a repaired file.
var (
	SoftwareID      = "mzbatch"
	SoftwareVersion = "Unknown"
)

// Status is the outcome of validating one file.
type Status int

const (
	// StatusOK means every scan is sorted; the file was not touched
	StatusOK Status = iota
	// StatusRepaired means the file was replaced by a sorted mzML copy
	StatusRepaired
)

func (s Status) String() string {
	if s == StatusRepaired {
		return "repaired"
	}
	return "ok"
}

// Result describes what Validate did with a file.
type Result struct {
	Path         string
	Status       Status
	Scan         int    // first scan out of order, -1 for a clean file
	BackupPath   string // the original file after a repair
	RepairedPath string // the sorted mzML copy
}

// Validate checks that the peaks of every scan in path are in
// non-decreasing m/z order. At the first scan that is not, the whole
// file is rewritten as mzML with every scan sorted, the original is
// renamed to a .bak backup and the copy takes the name <stem>.mzML.
func Validate(path string) (Result, error) {
	res := Result{Path: path, Scan: -1}
	f, err := spectra.Open(path)
	if err != nil {
		return res, err
	}
	scan, err := firstUnsortedScan(f)
	if err != nil {
		return res, eris.Wrapf(err, "validate: %s", path)
	}
	if scan < 0 {
		return res, nil
	}
	res.Scan = scan
	zap.L().Info("validate: scan not sorted by m/z, repairing",
		zap.String("file", path), zap.Int("scan", scan))

	doc, err := sortedCopy(f, spectra.Stem(path))
	if err != nil {
		return res, eris.Wrapf(fmt.Errorf("%w: %w", ErrRepair, err), "validate: repair %s", path)
	}
	backup, repaired, err := replace(path, doc)
	if err != nil {
		return res, eris.Wrapf(fmt.Errorf("%w: %w", ErrRepair, err), "validate: repair %s", path)
	}
	res.Status = StatusRepaired
	res.BackupPath = backup
	res.RepairedPath = repaired
	return res, nil
}

// firstUnsortedScan returns the index of the first scan with peaks out
// of m/z order, or -1 if there is none.
func firstUnsortedScan(f spectra.File) (int, error) {
	for i := 0; i < f.NumSpecs(); i++ {
		p, err := f.ReadScan(i)
		if err != nil {
			return -1, eris.Wrapf(err, "scan %d", i)
		}
		if !mzml.SortedByMz(p) {
			return i, nil
		}
	}
	return -1, nil
}

// sortedCopy returns an mzML document with every scan of f sorted and
// stored as zlib compressed 64-bit floats. mzML input keeps all its
// metadata; other formats are converted.
func sortedCopy(f spectra.File, runID string) (*mzml.MzML, error) {
	doc, ok := f.(*mzml.MzML)
	if !ok {
		var err error
		if doc, err = spectra.ConvertToMzML(f, runID); err != nil {
			return nil, err
		}
	} else {
		for i := 0; i < doc.NumSpecs(); i++ {
			p, err := doc.ReadScan(i)
			if err != nil {
				return nil, err
			}
			spectra.SortPeaks(p)
			if err := doc.ReplaceScan(i, p); err != nil {
				return nil, eris.Wrapf(err, "scan %d", i)
			}
		}
	}
	doc.AppendSoftwareInfo(SoftwareID, SoftwareVersion)
	doc.AppendDataProcessing(mzml.DataProcessing{
		ID:             SoftwareID + "_sort",
		ProcessingMeth: sortMethod(SoftwareID),
	})
	return doc, nil
}

func sortMethod(softwareRef string) []mzml.ProcessingMethod {
	return []mzml.ProcessingMethod{{
		SoftwareRef: softwareRef,
		CvPar: []mzml.CVParam{{
			CvRef:     "MS",
			Accession: "MS:1000544",
			Name:      "Conversion to mzML",
		}},
	}}
}

// replace writes doc next to path, moves path to its backup name and
// moves the new file to <stem>.mzML. The original is only moved after
// the copy is completely written.
func replace(path string, doc *mzml.MzML) (string, string, error) {
	dir := filepath.Dir(path)
	repaired := filepath.Join(dir, spectra.Stem(path)+".mzML")
	if repaired != path {
		if _, err := os.Stat(repaired); err == nil {
			return "", "", eris.Errorf("%s already exists", repaired)
		}
	}
	backup, err := backupName(path)
	if err != nil {
		return "", "", err
	}

	tmp, err := writeTemp(dir, doc)
	if err != nil {
		return "", "", err
	}
	if err := os.Rename(path, backup); err != nil {
		os.Remove(tmp)
		return "", "", err
	}
	if err := os.Rename(tmp, repaired); err != nil {
		if rerr := os.Rename(backup, path); rerr != nil {
			zap.L().Error("validate: restoring original failed",
				zap.String("file", path), zap.String("backup", backup), zap.Error(rerr))
		}
		os.Remove(tmp)
		return "", "", err
	}
	return backup, repaired, nil
}

// backupName returns <path>.bak, or <path>.bakN for the lowest N that
// is not taken.
func backupName(path string) (string, error) {
	name := path + ".bak"
	for n := 1; ; n++ {
		_, err := os.Lstat(name)
		if errors.Is(err, os.ErrNotExist) {
			return name, nil
		}
		if err != nil {
			return "", err
		}
		name = path + ".bak" + strconv.Itoa(n)
	}
}

func writeTemp(dir string, doc *mzml.MzML) (string, error) {
	f, err := os.CreateTemp(dir, ".mzbatch-*.tmp")
	if err != nil {
		return "", err
	}
	w := bufio.NewWriter(f)
	err = doc.Write(w)
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// ValidateAll validates paths with at most workers files in progress
// at a time. Results are in the order of paths. The first error stops
// the remaining files from being started.
func ValidateAll(ctx context.Context, paths []string, workers int) ([]Result, error) {
	results := make([]Result, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := Validate(path)
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Repaired returns the results that are repairs.
func Repaired(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Status == StatusRepaired {
			out = append(out, r)
		}
	}
	return out
}
