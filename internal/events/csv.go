// Package events reads point events from CSV files and orders them for the
// ledger engine.
package events

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
)

const (
	// TimestampLayout is the layout of the timestamp column.
	TimestampLayout = time.RFC3339

	columnPayer     = "payer"
	columnPoints    = "points"
	columnTimestamp = "timestamp"
	recordFields    = 3

	errorOperationRead = "read"
	errorSubjectFile   = "file"
	errorSubjectRecord = "record"
	errorCodeOpen      = "open"
	errorCodeParse     = "parse"
	errorCodeFields    = "fields"
	errorCodePoints    = "points"
	errorCodeTimestamp = "timestamp"
	errorCodePayer     = "payer"
)

// ReadFile opens path and reads its events.
func ReadFile(path string) ([]ledger.Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, ledger.WrapError(errorOperationRead, errorSubjectFile, errorCodeOpen, err)
	}
	defer file.Close()
	return read(file, path)
}

// Read parses "payer,points,timestamp" rows. A leading header row is skipped.
// Each event carries its line number as origin.
func Read(reader io.Reader) ([]ledger.Event, error) {
	return read(reader, "")
}

func read(reader io.Reader, source string) ([]ledger.Event, error) {
	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	var parsed []ledger.Event
	for line := 1; ; line++ {
		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			return parsed, nil
		}
		if err != nil {
			return nil, wrapRecordError(errorCodeParse, fmt.Errorf("%w: %v", ledger.ErrMalformedInput, err))
		}
		if line == 1 && isHeader(record) {
			continue
		}
		event, err := parseRecord(line, record)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, event.WithOrigin(ledger.Origin{Source: source, Line: line}))
	}
}

// SortChronologically orders events by timestamp. Events sharing a timestamp
// keep their input order.
func SortChronologically(events []ledger.Event) []ledger.Event {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(left, right ledger.Event) int {
		return left.Timestamp.Compare(right.Timestamp)
	})
	return sorted
}

func isHeader(record []string) bool {
	if len(record) != recordFields {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(record[0]), columnPayer) &&
		strings.EqualFold(strings.TrimSpace(record[1]), columnPoints) &&
		strings.EqualFold(strings.TrimSpace(record[2]), columnTimestamp)
}

func parseRecord(line int, record []string) (ledger.Event, error) {
	if len(record) != recordFields {
		return ledger.Event{}, wrapRecordError(errorCodeFields, fmt.Errorf("%w: line %d has %d fields, want %d", ledger.ErrMalformedInput, line, len(record), recordFields))
	}
	points, err := strconv.ParseInt(strings.TrimSpace(record[1]), 10, 64)
	if err != nil {
		return ledger.Event{}, wrapRecordError(errorCodePoints, fmt.Errorf("%w: line %d points %q", ledger.ErrMalformedInput, line, record[1]))
	}
	timestamp, err := time.Parse(TimestampLayout, strings.TrimSpace(record[2]))
	if err != nil {
		return ledger.Event{}, wrapRecordError(errorCodeTimestamp, fmt.Errorf("%w: line %d timestamp %q", ledger.ErrMalformedInput, line, record[2]))
	}
	event, err := ledger.NewEvent(record[0], points, timestamp)
	if err != nil {
		code := errorCodePoints
		if errors.Is(err, ledger.ErrInvalidPayer) {
			code = errorCodePayer
		}
		return ledger.Event{}, wrapRecordError(code, fmt.Errorf("%w: line %d: %v", ledger.ErrMalformedInput, line, err))
	}
	return event, nil
}

func wrapRecordError(code string, err error) error {
	return ledger.WrapError(errorOperationRead, errorSubjectRecord, code, err)
}
