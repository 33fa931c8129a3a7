package report

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/rotisserie/eris"
)

// LipidFinderPath is where the LipidFinder export is written.
func LipidFinderPath(dir, base string) string {
	return filepath.Join(dir, base+".lipidfinder.csv")
}

// WriteLipidFinder writes the report in the layout LipidFinder reads:
// id, MZ (the median m/z), Time (the median retention time in minutes,
// 2 decimals) and one intensity column per sample. Missing intensities
// are written as 0.
func WriteLipidFinder(path string, t Table, samples []string) error {
	id, mz, rt := 0, t.Column("mzmed"), t.Column("rtmed")
	if mz < 0 || rt < 0 {
		return fmt.Errorf("%w: lipidfinder export needs mzmed and rtmed", ErrConversion)
	}
	cols := make([]int, len(samples))
	for i, s := range samples {
		if cols[i] = t.Column(s); cols[i] < 0 {
			return fmt.Errorf("%w: lipidfinder export: no column for sample %q", ErrConversion, s)
		}
		if slices.Index(t.Header[cols[i]+1:], s) >= 0 {
			return fmt.Errorf("%w: lipidfinder export: more than one column named %q", ErrConversion, s)
		}
	}

	out := Table{Header: append([]string{"id", "MZ", "Time"}, samples...)}
	for _, r := range t.Rows {
		seconds, err := strconv.ParseFloat(r[rt], 64)
		if err != nil {
			return eris.Wrapf(fmt.Errorf("%w: %w", ErrConversion, err), "report: lipidfinder retention time of %s", r[id])
		}
		row := []string{r[id], r[mz], strconv.FormatFloat(seconds/60, 'f', 2, 64)}
		for _, c := range cols {
			v := r[c]
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				v = "0"
			}
			row = append(row, v)
		}
		out.Rows = append(out.Rows, row)
	}
	return writeAtomic(path, func(w io.Writer) error { return writeDelimited(w, out, ',') })
}
