package feeder

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CSVOptions controls how a CSV file is read.
type CSVOptions struct {
	// Delimiter defaults to ','.
	Delimiter rune
	// FieldNames, when set, name the columns and the first row is data.
	FieldNames []string
	// Loop makes readers wrap around instead of stopping at the end.
	Loop bool
}

// LoadCSV reads a CSV file. Unless opts.FieldNames is set, the first row is
// treated as the header containing field names.
func LoadCSV(path string, opts CSVOptions) (*Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}

	header := opts.FieldNames
	if len(header) == 0 {
		header, err = reader.Read()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("CSV file is empty")
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV header: %w", err)
		}
	}

	var records []Record
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV: %w", err)
		}
		if len(row) != len(header) {
			return nil, fmt.Errorf("row %d has %d fields, expected %d", line, len(row), len(header))
		}
		record := make(Record, len(header))
		for j, field := range header {
			record[field] = row[j]
		}
		records = append(records, record)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("CSV file %s has no data rows", path)
	}
	return NewSource(filepath.Base(path), records, opts.Loop), nil
}
