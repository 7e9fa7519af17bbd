package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/boroughwatch/london-crime-etl/internal/domain"
)

// csvRows streams records from a CSV resource.
type csvRows struct {
	reader *csv.Reader
	layout *columnSet
	res    domain.SourceResource
	line   int
	rec    domain.RawRecord
	err    error
}

// newCSVRows decodes the bytes, locates the header row within the first
// maxHeaderScan rows and returns an iterator positioned at the first data
// row. Bytes that are not valid UTF-8 are decoded as Windows-1252, the
// encoding older dataset exports use.
func newCSVRows(data []byte, res domain.SourceResource) (*csvRows, error) {
	var src io.Reader = bytes.NewReader(data)
	if !utf8.Valid(data) {
		src = transform.NewReader(src, charmap.Windows1252.NewDecoder())
	}

	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	rows := &csvRows{reader: r, res: res}
	for rows.line < maxHeaderScan {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &domain.ParseError{
				Resource: res.Filename, Line: rows.line + 1,
				Msg: "malformed csv", Err: err,
			}
		}
		rows.line++
		if layout, ok := detectLayout(stripBOM(row)); ok {
			rows.layout = layout
			return rows, nil
		}
	}
	return nil, &domain.ParseError{
		Resource: res.Filename, Line: rows.line,
		Msg: "no recognizable header row; the source layout may have changed",
	}
}

func (c *csvRows) Next() bool {
	if c.err != nil {
		return false
	}
	for {
		row, err := c.reader.Read()
		if errors.Is(err, io.EOF) {
			return false
		}
		if err != nil {
			c.err = &domain.ParseError{
				Resource: c.res.Filename, Line: c.line + 1,
				Msg: "malformed csv row", Err: err,
			}
			return false
		}
		c.line++
		if rec, ok := c.layout.rowToRecord(row, "", c.line); ok {
			c.rec = rec
			return true
		}
	}
}

func (c *csvRows) Record() domain.RawRecord { return c.rec }
func (c *csvRows) Err() error               { return c.err }
func (c *csvRows) Close() error             { return nil }

// stripBOM removes a UTF-8 byte order mark from the first header cell.
func stripBOM(row []string) []string {
	if len(row) > 0 {
		row[0] = string(bytes.TrimPrefix([]byte(row[0]), []byte{0xEF, 0xBB, 0xBF}))
	}
	return row
}
