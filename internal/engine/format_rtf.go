package engine

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

// Page geometry in twips.
const (
	rtfPortraitWidth  = 11906
	rtfPortraitHeight = 16838
	rtfMargin         = 1134
	rtfMinCell        = 600
)

// rtfSerializer lays the table out in twips during Measure, then writes a
// plain RTF 1.x document.
type rtfSerializer struct {
	sink      io.Writer
	landscape bool

	cellx []int
}

func newRTFPipeline(job Job) (Pipeline, error) {
	ser := &rtfSerializer{
		sink:      job.Sink,
		landscape: strings.EqualFold(job.Report.Document.Page.Orientation, "landscape"),
	}
	return newFlowPipeline(job.Report, ser), nil
}

func (s *rtfSerializer) pageSize() (w, h int) {
	if s.landscape {
		return rtfPortraitHeight, rtfPortraitWidth
	}
	return rtfPortraitWidth, rtfPortraitHeight
}

// Measure splits the printable width between columns in proportion to the
// longest text in each of them.
func (s *rtfSerializer) Measure(t *Table) error {
	cols := t.Head.Columns
	if len(cols) == 0 {
		s.cellx = nil
		return nil
	}

	weights := make([]int, len(cols))
	for i, c := range cols {
		weights[i] = utf8.RuneCountInString(c.Title())
	}
	for _, row := range t.Rows {
		for i, c := range row {
			if n := utf8.RuneCountInString(c.Text); n > weights[i] {
				weights[i] = n
			}
		}
	}
	total := 0
	for i := range weights {
		if weights[i] < 4 {
			weights[i] = 4
		}
		total += weights[i]
	}

	pageW, _ := s.pageSize()
	usable := pageW - 2*rtfMargin
	s.cellx = make([]int, len(cols))
	x := 0
	for i, w := range weights {
		width := usable * w / total
		if width < rtfMinCell {
			width = rtfMinCell
		}
		x += width
		s.cellx[i] = x
	}
	return nil
}

func (s *rtfSerializer) Emit(t *Table) error {
	w := bufio.NewWriter(s.sink)
	pageW, pageH := s.pageSize()

	w.WriteString(`{\rtf1\ansi\ansicpg1252\deff0`)
	w.WriteString(`{\fonttbl{\f0\fswiss Helvetica;}}`)
	w.WriteString(`{\colortbl;\red0\green0\blue0;\red230\green230\blue250;}`)
	fmt.Fprintf(w, "\n\\paperw%d\\paperh%d\\margl%d\\margr%d\\margt%d\\margb%d", pageW, pageH, rtfMargin, rtfMargin, rtfMargin, rtfMargin)
	if s.landscape {
		w.WriteString(`\landscape`)
	}
	w.WriteString("\n")

	h := t.Head
	fmt.Fprintf(w, "{\\pard\\sa120\\b\\fs32 %s\\par}\n", rtfEscape(h.Title))
	if h.Description != "" {
		fmt.Fprintf(w, "{\\pard\\sa60\\fs20 %s\\par}\n", rtfEscape(h.Description))
	}
	for _, line := range h.Header {
		fmt.Fprintf(w, "{\\pard\\fs20 %s\\par}\n", rtfEscape(line))
	}
	w.WriteString("{\\pard\\par}\n")

	if len(s.cellx) > 0 {
		titles := make([]Cell, len(h.Columns))
		for i, c := range h.Columns {
			titles[i] = Cell{Text: c.Title(), Align: "left"}
		}
		s.writeRow(w, titles, true)
		for _, row := range t.Rows {
			s.writeRow(w, row, false)
		}
	}

	if len(h.Footer) > 0 {
		w.WriteString("{\\pard\\par}\n")
		for _, line := range h.Footer {
			fmt.Fprintf(w, "{\\pard\\fs18 %s\\par}\n", rtfEscape(line))
		}
	}
	w.WriteString("}\n")
	return w.Flush()
}

func (s *rtfSerializer) writeRow(w *bufio.Writer, cells []Cell, header bool) {
	w.WriteString(`\trowd\trgaph70`)
	if header {
		w.WriteString(`\trhdr`)
	}
	for _, x := range s.cellx {
		w.WriteString(`\clbrdrt\brdrs\clbrdrl\brdrs\clbrdrb\brdrs\clbrdrr\brdrs`)
		if header {
			w.WriteString(`\clcbpat2`)
		}
		fmt.Fprintf(w, `\cellx%d`, x)
	}
	w.WriteString("\n")
	for _, c := range cells {
		w.WriteString(`\pard\intbl`)
		w.WriteString(rtfAlign(c.Align))
		w.WriteString(`\fs18 `)
		if header {
			w.WriteString(`{\b `)
			w.WriteString(rtfEscape(c.Text))
			w.WriteString(`}`)
		} else {
			w.WriteString(rtfEscape(c.Text))
		}
		w.WriteString(`\cell `)
	}
	w.WriteString("\\row\n")
}

func (s *rtfSerializer) Close() error { return nil }

func rtfAlign(a string) string {
	switch a {
	case "right":
		return `\qr`
	case "center":
		return `\qc`
	}
	return `\ql`
}

// rtfEscape quotes control characters and writes non-ASCII runes as \uN.
func rtfEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\\' || r == '{' || r == '}':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\line `)
		case r == '\t':
			b.WriteString(`\tab `)
		case r < 0x20:
		case r < 0x80:
			b.WriteRune(r)
		default:
			// \u takes a signed 16-bit value; runes outside the BMP go as
			// surrogate pairs.
			if r1, r2 := utf16.EncodeRune(r); r1 != unicode.ReplacementChar {
				fmt.Fprintf(&b, `\u%d?\u%d?`, int16(r1), int16(r2))
			} else {
				fmt.Fprintf(&b, `\u%d?`, int16(r))
			}
		}
	}
	return b.String()
}
