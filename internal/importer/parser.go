package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// Format identifies how a submitted blob is encoded.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat maps a format name or file extension onto a Format.
func ParseFormat(raw string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), ".") {
	case "", "csv", "text/csv":
		return FormatCSV, nil
	case "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

// ErrEmptyWorkbook marks a workbook without any worksheet.
var ErrEmptyWorkbook = errors.New("workbook has no sheets")

// RowSource yields candidate rows once each, in file order. It cannot be rewound.
type RowSource interface {
	Next() (CandidateRow, bool)
	Close() error
}

// Parse opens a row source for the blob's format.
func Parse(kind EntityKind, format Format, data []byte) (RowSource, error) {
	switch format {
	case FormatCSV, "":
		return ParseCSV(kind, bytes.NewReader(data)), nil
	case FormatXLSX:
		return ParseXLSX(kind, bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// recordReader abstracts the per-format record stream.
type recordReader interface {
	// read returns io.EOF when exhausted; any other error marks only the current record as unreadable.
	read() ([]string, error)
	close() error
	// padShort reports whether short records are padded instead of rejected (spreadsheets drop trailing blanks).
	padShort() bool
}

type rowSource struct {
	kind   EntityKind
	reader recordReader
	header []string
	row    int
	done   bool
	seeded bool
}

// ParseCSV returns a lazy source over comma-separated text whose first record is the header.
func ParseCSV(kind EntityKind, r io.Reader) RowSource {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return &rowSource{kind: kind, reader: &csvRecords{reader: reader}}
}

// ParseXLSX returns a lazy source over the first worksheet of a workbook.
func ParseXLSX(kind EntityKind, r io.Reader) (RowSource, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		_ = file.Close()
		return nil, ErrEmptyWorkbook
	}
	rows, err := file.Rows(sheets[0])
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return &rowSource{kind: kind, reader: &xlsxRecords{file: file, rows: rows}}, nil
}

func (s *rowSource) Next() (CandidateRow, bool) {
	if s.done {
		return CandidateRow{}, false
	}
	if !s.seeded {
		s.seeded = true
		if failed, ok := s.readHeader(); !ok {
			return failed, failed.ParseError != ""
		}
	}

	for {
		record, err := s.reader.read()
		if errors.Is(err, io.EOF) {
			s.done = true
			return CandidateRow{}, false
		}
		s.row++
		if err != nil {
			return s.failed(fmt.Sprintf("row could not be read: %v", unwrapParseError(err))), true
		}
		if blank(record) {
			continue
		}
		return s.build(record), true
	}
}

func (s *rowSource) Close() error {
	s.done = true
	return s.reader.close()
}

// readHeader consumes the header record. A header that cannot be read is reported as a failed row 1.
func (s *rowSource) readHeader() (CandidateRow, bool) {
	record, err := s.reader.read()
	if errors.Is(err, io.EOF) {
		s.done = true
		return CandidateRow{}, false
	}
	s.row = 1
	if err != nil {
		s.done = true
		return s.failed(fmt.Sprintf("header could not be read: %v", unwrapParseError(err))), false
	}
	if len(record) > 0 {
		record[0] = strings.TrimPrefix(record[0], "\ufeff")
	}
	if !utf8.ValidString(strings.Join(record, "")) {
		s.done = true
		return s.failed("header is not valid UTF-8"), false
	}
	s.header = make([]string, len(record))
	for i, name := range record {
		s.header[i] = normalizeColumn(name)
	}
	return CandidateRow{}, true
}

func (s *rowSource) build(record []string) CandidateRow {
	if len(record) > len(s.header) {
		for _, extra := range record[len(s.header):] {
			if strings.TrimSpace(extra) != "" {
				return s.failed(fmt.Sprintf("expected %d columns, found %d", len(s.header), len(record)))
			}
		}
		record = record[:len(s.header)]
	}
	if len(record) < len(s.header) && !s.reader.padShort() {
		return s.failed(fmt.Sprintf("expected %d columns, found %d", len(s.header), len(record)))
	}

	values := make(map[string]string, len(s.header))
	for i, column := range s.header {
		if column == "" {
			continue
		}
		if _, seen := values[column]; seen {
			continue
		}
		value := ""
		if i < len(record) {
			value = strings.TrimSpace(record[i])
		}
		if !utf8.ValidString(value) {
			return s.failed(fmt.Sprintf("column %s is not valid UTF-8", column))
		}
		values[column] = value
	}
	return CandidateRow{Kind: s.kind, Row: s.row, Values: values}
}

func (s *rowSource) failed(message string) CandidateRow {
	return CandidateRow{Kind: s.kind, Row: s.row, ParseError: message}
}

func normalizeColumn(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	return strings.ReplaceAll(name, "-", "_")
}

func blank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func unwrapParseError(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return parseErr.Err
	}
	return err
}

type csvRecords struct {
	reader *csv.Reader
}

func (c *csvRecords) read() ([]string, error) { return c.reader.Read() }
func (c *csvRecords) close() error { return nil }
func (c *csvRecords) padShort() bool { return false }

// xlsxRecords reads the sheet through the excelize row iterator, which yields an empty record for
// each row index missing from the sheet XML, so the row counter stays on the sheet row number.
type xlsxRecords struct {
	file *excelize.File
	rows *excelize.Rows
}

func (x *xlsxRecords) read() ([]string, error) {
	if !x.rows.Next() {
		if err := x.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return x.rows.Columns()
}

func (x *xlsxRecords) close() error {
	if err := x.rows.Close(); err != nil {
		_ = x.file.Close()
		return err
	}
	return x.file.Close()
}

func (x *xlsxRecords) padShort() bool { return true }

// Collect drains a source into a slice, closing it afterwards.
func Collect(source RowSource) ([]CandidateRow, error) {
	var rows []CandidateRow
	for {
		row, ok := source.Next()
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	return rows, source.Close()
}
