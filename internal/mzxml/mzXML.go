// Package mzxml reads the (older) mzXML format. Only what is needed for
// peak access is parsed, the file is never written.
package mzxml

import (
	"errors"
	"strconv"
	"strings"

	"github.com/524D/mzbatch/internal/mzml"
)

// MzXML wraps the scans of an mzXML file. Nested (MSn) scans are
// flattened in document order.
type MzXML struct {
	scans []scan
}

type mzXMLContent struct {
	Scans []scan `xml:"msRun>scan"`
}

type scan struct {
	Num           int     `xml:"num,attr"`
	MsLevel       int     `xml:"msLevel,attr"`
	PeaksCount    int     `xml:"peaksCount,attr"`
	RetentionTime string  `xml:"retentionTime,attr"`
	Centroided    string  `xml:"centroided,attr"`
	Peaks         []peaks `xml:"peaks"`
	Scans         []scan  `xml:"scan"`
}

type peaks struct {
	Precision       int    `xml:"precision,attr"`
	ByteOrder       string `xml:"byteOrder,attr"`
	PairOrder       string `xml:"pairOrder,attr"`
	ContentType     string `xml:"contentType,attr"`
	CompressionType string `xml:"compressionType,attr"`
	Value           string `xml:",chardata"`
}

var (
	// ErrInvalidScanIndex means an invalid scan index is supplied
	ErrInvalidScanIndex = errors.New("MzXML: invalid scan index")
	// ErrNoContent means the input holds no mzXML element
	ErrNoContent = errors.New("MzXML: no mzXML content")
	// ErrUnsupportedEncoding means the peak data uses a byte order,
	// precision or compression that cannot be decoded
	ErrUnsupportedEncoding = errors.New("MzXML: unsupported peak encoding")
	// ErrInvalidDuration means a retention time is not an xs:duration
	ErrInvalidDuration = errors.New("MzXML: invalid retention time")
)

func flatten(in []scan, out []scan) []scan {
	for _, s := range in {
		children := s.Scans
		s.Scans = nil
		out = append(out, s)
		out = flatten(children, out)
	}
	return out
}

// NumSpecs returns the number of spectra
func (f *MzXML) NumSpecs() int {
	return len(f.scans)
}

// ScanID returns the mzML style id ("scan=<num>") of a scan
func (f *MzXML) ScanID(scanIndex int) (string, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return "", ErrInvalidScanIndex
	}
	return "scan=" + strconv.Itoa(f.scans[scanIndex].Num), nil
}

// MSLevel returns the MS level of a scan
func (f *MzXML) MSLevel(scanIndex int) (int, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return 0, ErrInvalidScanIndex
	}
	if f.scans[scanIndex].MsLevel == 0 {
		return 1, nil
	}
	return f.scans[scanIndex].MsLevel, nil
}

// Centroid returns true is the spectrum contains centroid peaks
func (f *MzXML) Centroid(scanIndex int) (bool, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return false, ErrInvalidScanIndex
	}
	c := f.scans[scanIndex].Centroided
	return c == "1" || c == "true", nil
}

// RetentionTime returns the retention time of a spectrum in seconds,
// or -1 if the scan has no retention time
func (f *MzXML) RetentionTime(scanIndex int) (float64, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return 0, ErrInvalidScanIndex
	}
	rt := f.scans[scanIndex].RetentionTime
	if rt == "" {
		return -1, nil
	}
	return parseDuration(rt)
}

// parseDuration converts the time part of an xs:duration ("PT1M3.5S")
// to seconds
func parseDuration(d string) (float64, error) {
	s := strings.TrimPrefix(d, "P")
	s = strings.TrimPrefix(s, "T")
	if s == d || s == "" {
		return 0, ErrInvalidDuration
	}
	total := 0.0
	for s != "" {
		i := strings.IndexAny(s, "HMS")
		if i <= 0 {
			return 0, ErrInvalidDuration
		}
		v, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			return 0, ErrInvalidDuration
		}
		switch s[i] {
		case 'H':
			total += v * 3600
		case 'M':
			total += v * 60
		case 'S':
			total += v
		}
		s = s[i+1:]
	}
	return total, nil
}

// ReadScan reads the peaks of a single scan
func (f *MzXML) ReadScan(scanIndex int) ([]mzml.Peak, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return nil, ErrInvalidScanIndex
	}
	var p []mzml.Peak
	for i := range f.scans[scanIndex].Peaks {
		pk, err := decodePeaks(&f.scans[scanIndex].Peaks[i])
		if err != nil {
			return nil, err
		}
		p = append(p, pk...)
	}
	if p == nil {
		p = []mzml.Peak{}
	}
	return p, nil
}
