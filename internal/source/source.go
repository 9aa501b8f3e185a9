package source

import (
	"fmt"
	"io"
)

// Format identifies the row encoding of a source file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

var ErrUnsupportedFormat = fmt.Errorf("unsupported source format")

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatXLSX:
		return Format(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// RowReader yields raw rows from a source file, one at a time. Next returns
// io.EOF once the file is exhausted. Readers are forward-only; a fresh pass
// requires reopening the source.
type RowReader interface {
	Next() ([]string, error)
	Close() error
}

// NewRowReader wraps a byte stream in the reader for the declared format.
// The reader takes ownership of rc and closes it on Close.
func NewRowReader(format Format, rc io.ReadCloser) (RowReader, error) {
	switch format {
	case FormatCSV:
		return newCSVReader(rc), nil
	case FormatXLSX:
		return newXLSXReader(rc)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}
