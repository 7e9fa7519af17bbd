// Package parser converts raw spreadsheet bytes into the uniform RawRecord
// row model. It recognizes a small closed set of header layouts (borough,
// ward and LSOA wide-format tables); bytes whose header matches none of them
// fail loudly with a ParseError rather than producing garbage rows.
package parser

import (
	"fmt"

	"github.com/boroughwatch/london-crime-etl/internal/domain"
)

// maxHeaderScan bounds how many leading metadata rows may precede the real
// header row.
const maxHeaderScan = 10

// Rows is a one-pass, non-restartable iterator over parsed records.
// Re-parse from bytes to iterate again.
type Rows interface {
	Next() bool
	Record() domain.RawRecord
	Err() error
	Close() error
}

// Parse returns a row iterator for the resource's declared format.
func Parse(data []byte, res domain.SourceResource) (Rows, error) {
	switch res.Format {
	case domain.FormatCSV:
		return newCSVRows(data, res)
	case domain.FormatXLSX:
		return newXLSXRows(data, res)
	default:
		return nil, &domain.ParseError{
			Resource: res.Filename,
			Msg:      fmt.Sprintf("unsupported format %q", res.Format),
		}
	}
}

// columnSet holds the resolved identity-column indexes of a matched layout.
type columnSet struct {
	kind      domain.SourceKind
	geography int // ward/LSOA name column; equals borough for borough layouts
	borough   int
	major     int
	minor     int
	periods   []periodColumn
}

type periodColumn struct {
	index  int
	header string
}

// Header name candidates, in normalized form. The sets cover the column-name
// drift observed across dataset vintages; extending them is a data change,
// not a control-flow change.
var (
	boroughColumns = []string{"boroughname", "lookup boroughname", "borough", "borough name"}
	wardColumns    = []string{"wardname", "ward name"}
	lsoaColumns    = []string{"lsoa name", "lsoa11 name", "lsoaname"}
	majorColumns   = []string{"majortext", "major category", "major class description"}
	minorColumns   = []string{"minortext", "minor category", "minor class description"}
)

// detectLayout matches a candidate header row against the known layouts.
// A match needs a borough column, both category columns and at least one
// period column. The geography kind follows from which name columns exist,
// regardless of what the listing page declared.
func detectLayout(header []string) (*columnSet, bool) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		n := domain.NormalizeLabel(h)
		if _, dup := index[n]; !dup {
			index[n] = i
		}
	}

	cs := &columnSet{geography: -1}

	cs.borough = findColumn(index, boroughColumns)
	cs.major = findColumn(index, majorColumns)
	cs.minor = findColumn(index, minorColumns)
	if cs.borough < 0 || cs.major < 0 || cs.minor < 0 {
		return nil, false
	}

	switch {
	case findColumn(index, lsoaColumns) >= 0:
		cs.kind = domain.KindLSOA
		cs.geography = findColumn(index, lsoaColumns)
	case findColumn(index, wardColumns) >= 0:
		cs.kind = domain.KindWard
		cs.geography = findColumn(index, wardColumns)
	default:
		cs.kind = domain.KindBorough
		cs.geography = cs.borough
	}

	for i, h := range header {
		if domain.IsPeriodHeader(h) {
			cs.periods = append(cs.periods, periodColumn{index: i, header: h})
		}
	}
	if len(cs.periods) == 0 {
		return nil, false
	}
	return cs, true
}

// findColumn returns the index of the first candidate present, or -1.
func findColumn(index map[string]int, candidates []string) int {
	for _, c := range candidates {
		if i, ok := index[c]; ok {
			return i
		}
	}
	return -1
}

// rowToRecord maps one data row onto a RawRecord using the matched layout.
// Returns false for blank rows.
func (cs *columnSet) rowToRecord(row []string, sheet string, line int) (domain.RawRecord, bool) {
	cell := func(i int) string {
		if i >= 0 && i < len(row) {
			return row[i]
		}
		return ""
	}

	rec := domain.RawRecord{
		Kind:      cs.kind,
		Geography: cell(cs.geography),
		Borough:   cell(cs.borough),
		Major:     cell(cs.major),
		Minor:     cell(cs.minor),
		Sheet:     sheet,
		Line:      line,
	}
	if rec.Borough == "" && rec.Major == "" && rec.Minor == "" {
		return domain.RawRecord{}, false
	}

	rec.Counts = make([]domain.PeriodCount, 0, len(cs.periods))
	for _, pc := range cs.periods {
		rec.Counts = append(rec.Counts, domain.PeriodCount{Period: pc.header, Value: cell(pc.index)})
	}
	return rec, true
}
