package source

import (
	"encoding/csv"
	"io"
)

// csvReader streams rows from a delimited text file. Only one row is
// resident in memory at a time.
type csvReader struct {
	rc     io.ReadCloser
	reader *csv.Reader
}

func newCSVReader(rc io.ReadCloser) *csvReader {
	r := csv.NewReader(rc)
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	// Rows with fewer cells than the header are handled by the codec.
	r.FieldsPerRecord = -1
	return &csvReader{rc: rc, reader: r}
}

func (r *csvReader) Next() ([]string, error) {
	return r.reader.Read()
}

func (r *csvReader) Close() error {
	return r.rc.Close()
}
