package engine

import (
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

const (
	xlsxSheet        = "Report"
	xlsxDefaultWidth = 18
	xlsxMinWidth     = 8
	xlsxMaxWidth     = 60
)

type xlsxStyles struct {
	title  int
	header int
	right  int
	center int
}

func newXLSXFile() (*excelize.File, *xlsxStyles, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		f.Close()
		return nil, nil, err
	}

	var st xlsxStyles
	var err error
	if st.title, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}}); err != nil {
		f.Close()
		return nil, nil, err
	}
	st.header, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6E6FA"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if st.right, err = f.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{Horizontal: "right"}}); err != nil {
		f.Close()
		return nil, nil, err
	}
	if st.center, err = f.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{Horizontal: "center"}}); err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, &st, nil
}

func (st *xlsxStyles) align(a string) int {
	switch a {
	case "right":
		return st.right
	case "center":
		return st.center
	}
	return 0
}

// xlsxValue keeps numbers numeric unless the column format changed their text.
func xlsxValue(c Cell) any {
	if isNumber(c.Value) {
		if _, err := strconv.ParseFloat(c.Text, 64); err == nil {
			return c.Value
		}
	}
	return c.Text
}

// preamble returns the rows written above the column headers.
func preamble(h Head) []string {
	lines := []string{h.Title}
	if h.Description != "" {
		lines = append(lines, h.Description)
	}
	return append(lines, h.Header...)
}

// xlsxStreamSerializer emits spreadsheet rows through excelize's stream
// writer, one row per SetRow call.
type xlsxStreamSerializer struct {
	sink   io.Writer
	f      *excelize.File
	sw     *excelize.StreamWriter
	styles *xlsxStyles
	footer []string
	row    int
}

func newExcelStreamPipeline(job Job) (Pipeline, error) {
	f, styles, err := newXLSXFile()
	if err != nil {
		return nil, err
	}
	sw, err := f.NewStreamWriter(xlsxSheet)
	if err != nil {
		f.Close()
		return nil, err
	}
	ser := &xlsxStreamSerializer{sink: job.Sink, f: f, sw: sw, styles: styles}
	return newStreamPipeline(job.Report, ser), nil
}

func (s *xlsxStreamSerializer) Begin(h Head) error {
	// Widths must be set before the first row.
	for i, c := range h.Columns {
		w := float64(xlsxDefaultWidth)
		if c.Width > 0 {
			w = clampWidth(c.Width / 2)
		}
		if err := s.sw.SetColWidth(i+1, i+1, w); err != nil {
			return err
		}
	}

	for i, line := range preamble(h) {
		style := 0
		if i == 0 {
			style = s.styles.title
		}
		if err := s.setRow([]any{excelize.Cell{StyleID: style, Value: line}}); err != nil {
			return err
		}
	}
	s.row++

	header := make([]any, len(h.Columns))
	for i, c := range h.Columns {
		header[i] = excelize.Cell{StyleID: s.styles.header, Value: c.Title()}
	}
	s.footer = h.Footer
	return s.setRow(header)
}

func (s *xlsxStreamSerializer) Row(cells []Cell) error {
	values := make([]any, len(cells))
	for i, c := range cells {
		values[i] = excelize.Cell{StyleID: s.styles.align(c.Align), Value: xlsxValue(c)}
	}
	return s.setRow(values)
}

func (s *xlsxStreamSerializer) End() error {
	if len(s.footer) > 0 {
		s.row++
		for _, line := range s.footer {
			if err := s.setRow([]any{line}); err != nil {
				return err
			}
		}
	}
	if err := s.sw.Flush(); err != nil {
		return err
	}
	return s.f.Write(s.sink)
}

func (s *xlsxStreamSerializer) setRow(values []any) error {
	s.row++
	cell, err := excelize.CoordinatesToCellName(1, s.row)
	if err != nil {
		return err
	}
	return s.sw.SetRow(cell, values)
}

func (s *xlsxStreamSerializer) Close() error { return s.f.Close() }

// xlsFlowSerializer measures column widths and merge ranges over the whole
// table first, then writes the workbook.
type xlsFlowSerializer struct {
	sink   io.Writer
	f      *excelize.File
	styles *xlsxStyles

	widths    []float64
	lastCol   string
	headerRow int
}

func newXLSFlowPipeline(job Job) (Pipeline, error) {
	f, styles, err := newXLSXFile()
	if err != nil {
		return nil, err
	}
	return newFlowPipeline(job.Report, &xlsFlowSerializer{sink: job.Sink, f: f, styles: styles}), nil
}

func (s *xlsFlowSerializer) Measure(t *Table) error {
	cols := t.Head.Columns
	s.widths = make([]float64, len(cols))
	for i, c := range cols {
		s.widths[i] = float64(utf8.RuneCountInString(c.Title()))
	}
	for _, row := range t.Rows {
		for i, c := range row {
			if n := float64(utf8.RuneCountInString(c.Text)); n > s.widths[i] {
				s.widths[i] = n
			}
		}
	}
	for i := range s.widths {
		s.widths[i] = clampWidth(s.widths[i] + 2)
	}

	n := len(cols)
	if n == 0 {
		n = 1
	}
	last, err := excelize.ColumnNumberToName(n)
	if err != nil {
		return err
	}
	s.lastCol = last
	s.headerRow = len(preamble(t.Head)) + 2
	return nil
}

func (s *xlsFlowSerializer) Emit(t *Table) error {
	f := s.f
	for i, line := range preamble(t.Head) {
		row := i + 1
		left, right := fmt.Sprintf("A%d", row), fmt.Sprintf("%s%d", s.lastCol, row)
		if err := f.SetCellValue(xlsxSheet, left, line); err != nil {
			return err
		}
		if s.lastCol != "A" {
			if err := f.MergeCell(xlsxSheet, left, right); err != nil {
				return err
			}
		}
		if i == 0 {
			if err := f.SetCellStyle(xlsxSheet, left, right, s.styles.title); err != nil {
				return err
			}
		}
	}

	for i, c := range t.Head.Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, s.headerRow)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(xlsxSheet, cell, c.Title()); err != nil {
			return err
		}
		if err := f.SetCellStyle(xlsxSheet, cell, cell, s.styles.header); err != nil {
			return err
		}
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(xlsxSheet, name, name, s.widths[i]); err != nil {
			return err
		}
	}

	for r, row := range t.Rows {
		for i, c := range row {
			cell, err := excelize.CoordinatesToCellName(i+1, s.headerRow+1+r)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(xlsxSheet, cell, xlsxValue(c)); err != nil {
				return err
			}
			if style := s.styles.align(c.Align); style != 0 {
				if err := f.SetCellStyle(xlsxSheet, cell, cell, style); err != nil {
					return err
				}
			}
		}
	}

	lastRow := s.headerRow + len(t.Rows)
	if len(t.Head.Columns) > 0 && len(t.Rows) > 0 {
		ref := fmt.Sprintf("A%d:%s%d", s.headerRow, s.lastCol, lastRow)
		if err := f.AutoFilter(xlsxSheet, ref, nil); err != nil {
			return err
		}
		if err := f.SetPanes(xlsxSheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      s.headerRow,
			TopLeftCell: fmt.Sprintf("A%d", s.headerRow+1),
			ActivePane:  "bottomLeft",
		}); err != nil {
			return err
		}
	}

	for i, line := range t.Head.Footer {
		if err := f.SetCellValue(xlsxSheet, fmt.Sprintf("A%d", lastRow+2+i), line); err != nil {
			return err
		}
	}

	return f.Write(s.sink)
}

func (s *xlsFlowSerializer) Close() error { return s.f.Close() }

func clampWidth(w float64) float64 {
	if w < xlsxMinWidth {
		return xlsxMinWidth
	}
	if w > xlsxMaxWidth {
		return xlsxMaxWidth
	}
	return w
}
