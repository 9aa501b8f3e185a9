package source

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// xlsxReader streams rows from the first worksheet of a spreadsheet. The
// workbook container is buffered on open but rows are decoded one at a time
// through the excelize streaming iterator.
type xlsxReader struct {
	rc   io.ReadCloser
	file *excelize.File
	rows *excelize.Rows
}

func newXLSXReader(rc io.ReadCloser) (*xlsxReader, error) {
	f, err := excelize.OpenReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("opening spreadsheet: %w", err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		rc.Close()
		return nil, fmt.Errorf("spreadsheet has no worksheets")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		rc.Close()
		return nil, fmt.Errorf("reading worksheet %q: %w", sheets[0], err)
	}

	return &xlsxReader{rc: rc, file: f, rows: rows}, nil
}

func (r *xlsxReader) Next() ([]string, error) {
	if !r.rows.Next() {
		if err := r.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return r.rows.Columns()
}

func (r *xlsxReader) Close() error {
	r.rows.Close()
	err := r.file.Close()
	if cerr := r.rc.Close(); err == nil {
		err = cerr
	}
	return err
}
