// Package classify decides the report mode from the sample classes
// found in a working directory.
package classify

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/524D/mzbatch/internal/spectra"
)

// Mode is the kind of report a run produces.
type Mode int

const (
	// SingleOrNone produces the full aligned feature table
	SingleOrNone Mode = iota
	// Differential contrasts two sample classes
	Differential
	// Invalid means more than two classes; nothing may be run
	Invalid
)

// ErrTooManyClasses is returned together with Invalid.
var ErrTooManyClasses = errors.New("classify: more than two sample classes")

func (m Mode) String() string {
	switch m {
	case SingleOrNone:
		return "single"
	case Differential:
		return "differential"
	}
	return "invalid"
}

// MarshalText encodes the mode as its name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "single":
		*m = SingleOrNone
	case "differential":
		*m = Differential
	case "invalid":
		*m = Invalid
	default:
		return eris.Errorf("classify: unknown mode %q", b)
	}
	return nil
}

// Classify maps the number of sample classes to a report mode.
func Classify(names []string) (Mode, error) {
	switch n := len(names); {
	case n <= 1:
		return SingleOrNone, nil
	case n == 2:
		return Differential, nil
	default:
		return Invalid, eris.Wrapf(ErrTooManyClasses, "found %d classes (%s)", n, strings.Join(names, ", "))
	}
}

// SampleClasses returns the sorted names of the top-level, non-hidden
// directories of root that hold at least one spectral file.
func SampleClasses(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: read %s", root)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files, err := spectra.Discover(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// ClassOf returns the class (top-level directory below root) of path,
// or "" for files directly in root.
func ClassOf(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 || parts[0] == ".." {
		return ""
	}
	return parts[0]
}
