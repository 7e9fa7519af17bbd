package parser

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/boroughwatch/london-crime-etl/internal/domain"
)

// sheetPlan records where the header row was found on one data sheet.
type sheetPlan struct {
	name   string
	layout *columnSet
	offset int // rows above the header
}

// xlsxRows streams records from every recognizable data sheet of a workbook.
// Summary or notes sheets without a matching header are skipped.
type xlsxRows struct {
	file   *excelize.File
	res    domain.SourceResource
	plans  []sheetPlan
	sheet  int
	cursor *excelize.Rows
	line   int
	rec    domain.RawRecord
	err    error
}

// newXLSXRows opens the workbook, scans the first maxHeaderScan rows of each
// sheet for a known header layout, and fails if no sheet holds data. The
// metadata sheets most workbooks lead with (titles, source notes) are what
// the header-offset scan and per-sheet matching exist for.
func newXLSXRows(data []byte, res domain.SourceResource) (*xlsxRows, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &domain.ParseError{
			Resource: res.Filename, Msg: "open workbook", Err: err,
		}
	}

	x := &xlsxRows{file: file, res: res}
	for _, name := range file.GetSheetList() {
		plan, ok, err := scanSheet(file, name)
		if err != nil {
			file.Close()
			return nil, &domain.ParseError{
				Resource: res.Filename, Sheet: name, Msg: "scan sheet", Err: err,
			}
		}
		if ok {
			x.plans = append(x.plans, plan)
		}
	}
	if len(x.plans) == 0 {
		file.Close()
		return nil, &domain.ParseError{
			Resource: res.Filename,
			Msg:      fmt.Sprintf("no sheet out of %d has a recognizable header; the source layout may have changed", len(file.GetSheetList())),
		}
	}
	return x, nil
}

// scanSheet looks for a known header layout in the sheet's leading rows.
func scanSheet(file *excelize.File, name string) (sheetPlan, bool, error) {
	rows, err := file.Rows(name)
	if err != nil {
		return sheetPlan{}, false, err
	}
	defer rows.Close()

	for offset := 0; offset < maxHeaderScan && rows.Next(); offset++ {
		header, err := rows.Columns()
		if err != nil {
			return sheetPlan{}, false, err
		}
		if layout, ok := detectLayout(header); ok {
			return sheetPlan{name: name, layout: layout, offset: offset}, true, nil
		}
	}
	return sheetPlan{}, false, nil
}

func (x *xlsxRows) Next() bool {
	if x.err != nil {
		return false
	}
	for {
		if x.cursor == nil {
			if x.sheet >= len(x.plans) {
				return false
			}
			if err := x.openSheet(x.plans[x.sheet]); err != nil {
				x.err = err
				return false
			}
			if x.cursor == nil { // sheet exhausted while skipping metadata rows
				x.sheet++
				continue
			}
		}

		plan := x.plans[x.sheet]
		for x.cursor.Next() {
			row, err := x.cursor.Columns()
			if err != nil {
				x.err = &domain.ParseError{
					Resource: x.res.Filename, Sheet: plan.name, Line: x.line + 1,
					Msg: "read row", Err: err,
				}
				return false
			}
			x.line++
			if rec, ok := plan.layout.rowToRecord(row, plan.name, x.line); ok {
				x.rec = rec
				return true
			}
		}

		x.cursor.Close()
		x.cursor = nil
		x.sheet++
	}
}

// openSheet positions a fresh row cursor just past the sheet's header row.
// Leaves x.cursor nil when the sheet runs out before the header row.
func (x *xlsxRows) openSheet(plan sheetPlan) error {
	cursor, err := x.file.Rows(plan.name)
	if err != nil {
		return &domain.ParseError{
			Resource: x.res.Filename, Sheet: plan.name, Msg: "open sheet", Err: err,
		}
	}
	x.line = 0
	for i := 0; i <= plan.offset; i++ {
		if !cursor.Next() {
			cursor.Close()
			x.cursor = nil
			return nil
		}
		x.line++
	}
	x.cursor = cursor
	return nil
}

func (x *xlsxRows) Record() domain.RawRecord { return x.rec }
func (x *xlsxRows) Err() error               { return x.err }

func (x *xlsxRows) Close() error {
	if x.cursor != nil {
		x.cursor.Close()
	}
	return x.file.Close()
}
