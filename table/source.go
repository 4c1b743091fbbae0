// Package table materializes per-cell feature matrices inside a bundle as
// AnnData-style zarr groups and reads them back for validation.
package table

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/jameshyojaelee/omnispatial/errors"
)

var (
	// ErrInvalidTable is returned for empty, ragged or malformed matrices.
	ErrInvalidTable = errors.New("invalid feature matrix")

	// ErrMissingColumn is returned when a requested column is absent.
	ErrMissingColumn = errors.New("missing column")

	// ErrUnsupportedFormat is returned for files that are not CSV or TSV.
	ErrUnsupportedFormat = errors.New("unsupported feature matrix format")
)

// Delimiter returns the field separator implied by the file extension.
func Delimiter(path string) (rune, error) {
	name := strings.ToLower(filepath.Base(path))
	name = strings.TrimSuffix(name, ".gz")
	switch filepath.Ext(name) {
	case ".csv":
		return ',', nil
	case ".tsv", ".txt":
		return '\t', nil
	}
	return 0, errors.Wrapf(ErrUnsupportedFormat, "%s", path)
}

type matrixReader struct {
	file *os.File
	gz   *gzip.Reader
	csv  *csv.Reader
}

func openMatrix(path string) (*matrixReader, error) {
	delim, err := Delimiter(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open feature matrix")
	}
	m := &matrixReader{file: f}
	var r io.Reader = f
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		m.gz, err = gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrapf(err, "gunzip %s", path)
		}
		r = m.gz
	}
	m.csv = csv.NewReader(r)
	m.csv.Comma = delim
	m.csv.ReuseRecord = true
	m.csv.FieldsPerRecord = 0
	return m, nil
}

func (m *matrixReader) Close() error {
	if m.gz != nil {
		_ = m.gz.Close()
	}
	return m.file.Close()
}

// header reads the first record and returns a copy of it.
func (m *matrixReader) header() ([]string, error) {
	rec, err := m.csv.Read()
	if err == io.EOF {
		return nil, errors.Wrap(ErrInvalidTable, "file is empty")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	return append([]string(nil), rec...), nil
}

// Scan describes a feature matrix without materializing it.
type Scan struct {
	Header []string
	Rows   int
	// Numeric marks columns whose every value parses as a float.
	Numeric []bool
	// Widths holds the longest value of each column in bytes, at least 1.
	Widths []int
}

// ScanFile reads path once to count rows and classify columns.
func ScanFile(path string) (Scan, error) {
	m, err := openMatrix(path)
	if err != nil {
		return Scan{}, err
	}
	defer m.Close()

	header, err := m.header()
	if err != nil {
		return Scan{}, errors.Wrapf(err, "%s", path)
	}
	s := Scan{Header: header, Numeric: make([]bool, len(header)), Widths: make([]int, len(header))}
	for i := range s.Numeric {
		s.Numeric[i] = true
		s.Widths[i] = 1
	}
	for {
		rec, err := m.csv.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Scan{}, errors.Wrapf(errors.Mark(err, ErrInvalidTable), "%s", path)
		}
		for i, v := range rec {
			s.Widths[i] = max(s.Widths[i], len(v))
			if s.Numeric[i] {
				if _, ok := parseFloat(v); !ok {
					s.Numeric[i] = false
				}
			}
		}
		s.Rows++
	}
	if s.Rows == 0 {
		return Scan{}, errors.Wrapf(ErrInvalidTable, "%s has no rows", path)
	}
	return s, nil
}

// parseFloat accepts empty cells as NaN.
func parseFloat(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "nan") || strings.EqualFold(v, "na") {
		return nanValue, true
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}
