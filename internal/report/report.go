// Package report turns the intermediate feature table written by the
// peak pipeline into the delivered report.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

// Format is the format of the delivered report.
type Format string

const (
	FormatTSV  Format = "tsv"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Formats lists the supported report formats.
var Formats = []Format{FormatTSV, FormatCSV, FormatXLSX}

// SheetName is the name of the worksheet in xlsx reports.
const SheetName = "features"

var (
	// ErrConversion means the intermediate table could not be turned
	// into the report. The intermediate is kept.
	ErrConversion = errors.New("report: conversion failed")
	// ErrUnknownFormat means the format is not one of Formats
	ErrUnknownFormat = errors.New("report: unknown format")
)

// ParseFormat returns the Format named s.
func ParseFormat(s string) (Format, error) {
	f := Format(s)
	if !slices.Contains(Formats, f) {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
	return f, nil
}

// Options controls Convert.
type Options struct {
	Format Format
}

// Table is a report: a header and rows of the same width.
type Table struct {
	Header []string
	Rows   [][]string
}

// Column returns the index of the column named name, or -1.
func (t Table) Column(name string) int {
	return slices.Index(t.Header, name)
}

// RawPath is where the pipeline writes the intermediate table.
func RawPath(dir, base string) string {
	return filepath.Join(dir, base+".raw.csv")
}

// FinalPath is where the report in format f is delivered.
func FinalPath(dir, base string, f Format) string {
	return filepath.Join(dir, base+"."+string(f))
}

// ReadRaw reads an intermediate comma separated table.
func ReadRaw(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return Table{}, err
	}
	if len(records) == 0 {
		return Table{}, errors.New("no header")
	}
	return Table{Header: records[0], Rows: records[1:]}, nil
}

// Convert reads the intermediate table at rawPath, names its first
// column "id" and writes it to finalPath. The report is written to a
// temporary file next to finalPath and renamed into place; the
// intermediate is removed only after that. On failure the intermediate
// is kept, no report is left behind and the error wraps ErrConversion.
func Convert(rawPath, finalPath string, opts Options) (Table, error) {
	if opts.Format == "" {
		opts.Format = FormatTSV
	}
	if _, err := ParseFormat(string(opts.Format)); err != nil {
		return Table{}, eris.Wrap(fmt.Errorf("%w: %w", ErrConversion, err), "report: convert")
	}
	t, err := ReadRaw(rawPath)
	if err != nil {
		return Table{}, eris.Wrapf(fmt.Errorf("%w: %w", ErrConversion, err), "report: read %s", rawPath)
	}
	t.Header[0] = "id"

	if err := writeAtomic(finalPath, func(w io.Writer) error { return write(w, t, opts.Format) }); err != nil {
		return Table{}, eris.Wrapf(fmt.Errorf("%w: %w", ErrConversion, err), "report: write %s", finalPath)
	}
	if err := os.Remove(rawPath); err != nil {
		zap.L().Warn("report: remove intermediate", zap.String("path", rawPath), zap.Error(err))
	}
	zap.L().Info("report: written", zap.String("path", finalPath), zap.Int("rows", len(t.Rows)), zap.Int("columns", len(t.Header)))
	return t, nil
}

// writeAtomic writes through a temporary file in the directory of path
// that is renamed to path once complete.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".mzbatch-*.tmp")
	if err != nil {
		return err
	}
	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	ok = true
	return nil
}

func write(w io.Writer, t Table, f Format) error {
	switch f {
	case FormatXLSX:
		return writeXLSX(w, t)
	case FormatCSV:
		return writeDelimited(w, t, ',')
	}
	return writeDelimited(w, t, '\t')
}

func writeDelimited(w io.Writer, t Table, comma rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// writeXLSX writes the table to the sheet "features". Numbers other
// than the id column become numeric cells.
func writeXLSX(w io.Writer, t Table) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return err
	}
	row := sheet.AddRow()
	for _, h := range t.Header {
		row.AddCell().SetString(h)
	}
	for _, r := range t.Rows {
		row := sheet.AddRow()
		for i, v := range r {
			cell := row.AddCell()
			if x, err := strconv.ParseFloat(v, 64); err == nil && i > 0 && !math.IsNaN(x) && !math.IsInf(x, 0) {
				cell.SetFloat(x)
			} else {
				cell.SetString(v)
			}
		}
	}
	return f.Write(w)
}
