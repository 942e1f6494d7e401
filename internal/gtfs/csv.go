package gtfs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
)

var (
	// ErrMissingTable is returned when a required table file is absent.
	ErrMissingTable = errors.New("missing table")
	// ErrMissingColumn is returned when a table lacks a required header.
	ErrMissingColumn = errors.New("missing column")
)

// TableOptions controls how a delimited table is tokenized.
type TableOptions struct {
	Separator rune
	Trim      bool
}

// ReadTable decodes the delimited table in r into out (a pointer to a slice of
// csv-tagged row structs). An empty table leaves out untouched. Headers are
// always trimmed and stripped of a UTF-8 BOM; cells are trimmed when opts.Trim.
func ReadTable(r io.Reader, opts TableOptions, out interface{}, required ...string) error {
	cr := csv.NewReader(r)
	if opts.Separator != 0 {
		cr.Comma = opts.Separator
	}
	// GTFS allows rows shorter than the header.
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	for _, col := range required {
		if !hasColumn(header, col) {
			return fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}
	if opts.Trim {
		for _, rec := range records[1:] {
			for i := range rec {
				rec[i] = strings.TrimSpace(rec[i])
			}
		}
	}

	return gocsv.UnmarshalCSV(&recordReader{records: records}, out)
}

func hasColumn(header []string, col string) bool {
	for _, h := range header {
		if h == col {
			return true
		}
	}
	return false
}

// recordReader replays pre-read records through the gocsv.CSVReader interface.
type recordReader struct {
	records [][]string
	pos     int
}

func (r *recordReader) Read() ([]string, error) {
	if r.pos >= len(r.records) {
		return nil, io.EOF
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, nil
}

func (r *recordReader) ReadAll() ([][]string, error) {
	rest := r.records[r.pos:]
	r.pos = len(r.records)
	return rest, nil
}
