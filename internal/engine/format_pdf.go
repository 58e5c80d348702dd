package engine

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

const (
	pdfMargin    = 15.0
	pdfRowHeight = 6.0
	pdfLine      = 5.0
	pdfTitle     = 10.0
	pdfLogo      = 16.0
	pdfFont      = "Helvetica"
)

// pdfSerializer draws laid-out pages with gofpdf and writes the document
// once every page is done.
type pdfSerializer struct {
	rt     *Runtime
	sink   io.Writer
	pdf    *gofpdf.Fpdf
	widths []float64
	logo   bool
}

func newPDFPipeline(job Job) (Pipeline, error) {
	page := job.Report.Document.Page
	orientation := "P"
	if strings.EqualFold(page.Orientation, "landscape") {
		orientation = "L"
	}
	size := page.Size
	if size == "" {
		size = "A4"
	}

	pdf := gofpdf.New(orientation, "mm", size, "")
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("pdf page %q: %w", size, err)
	}
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreator("report_engine", true)

	ser := &pdfSerializer{rt: job.Runtime, sink: job.Sink, pdf: pdf}
	return newPagedPipeline(job.Report, ser), nil
}

func (s *pdfSerializer) Capacity(h Head) (first, rest int) {
	s.pdf.SetTitle(h.Title, true)
	s.layoutColumns(h.Columns)
	s.logo = s.registerLogo(h.Logo)

	_, pageH := s.pdf.GetPageSize()
	body := pageH - 2*pdfMargin - float64(len(h.Footer)+1)*pdfLine

	top := pdfTitle + float64(len(h.Header))*pdfLine + pdfLine
	if h.Description != "" {
		top += pdfLine
	}
	if s.logo {
		top += pdfLogo + 2
	}

	first = int((body - top - pdfRowHeight) / pdfRowHeight)
	rest = int((body - pdfRowHeight) / pdfRowHeight)
	return first, rest
}

// layoutColumns scales declared widths to the printable width; columns
// without a width share what is left.
func (s *pdfSerializer) layoutColumns(cols []Column) {
	pageW, _ := s.pdf.GetPageSize()
	usable := pageW - 2*pdfMargin

	var declared float64
	var free int
	for _, c := range cols {
		if c.Width > 0 {
			declared += c.Width
		} else {
			free++
		}
	}

	s.widths = make([]float64, len(cols))
	remaining := usable - declared
	if remaining < 0 || free == 0 {
		remaining = 0
	}
	scale := 1.0
	if declared > 0 && (declared > usable || free == 0) {
		scale = usable / declared
	}
	for i, c := range cols {
		if c.Width > 0 {
			s.widths[i] = c.Width * scale
			continue
		}
		if remaining > 0 {
			s.widths[i] = remaining / float64(free)
		} else {
			s.widths[i] = usable / float64(len(cols))
		}
	}
}

func (s *pdfSerializer) registerLogo(res *Resource) bool {
	if res == nil || len(res.Data) == 0 {
		return false
	}
	var typ string
	switch res.MIME {
	case "image/png":
		typ = "PNG"
	case "image/jpeg":
		typ = "JPG"
	case "image/gif":
		typ = "GIF"
	default:
		return false
	}
	s.pdf.RegisterImageOptionsReader("logo", gofpdf.ImageOptions{ImageType: typ}, bytes.NewReader(res.Data))
	return s.pdf.Ok()
}

func (s *pdfSerializer) Page(h Head, p LaidOutPage) error {
	pdf := s.pdf
	tr := s.rt.pdfText
	pdf.AddPage()

	if p.Number == 1 {
		if s.logo {
			pdf.ImageOptions("logo", pdfMargin, pdfMargin, 0, pdfLogo, true, gofpdf.ImageOptions{}, 0, "")
			pdf.Ln(2)
		}
		pdf.SetFont(pdfFont, "B", 14)
		pdf.CellFormat(0, pdfTitle, tr(h.Title), "", 1, "L", false, 0, "")
		pdf.SetFont(pdfFont, "", 9)
		if h.Description != "" {
			pdf.CellFormat(0, pdfLine, tr(h.Description), "", 1, "L", false, 0, "")
		}
		for _, line := range h.Header {
			pdf.CellFormat(0, pdfLine, tr(line), "", 1, "L", false, 0, "")
		}
		pdf.Ln(pdfLine)
	}

	pdf.SetFont(pdfFont, "B", 9)
	pdf.SetFillColor(230, 230, 250)
	for i, c := range h.Columns {
		pdf.CellFormat(s.widths[i], pdfRowHeight, s.fit(tr(c.Title()), s.widths[i]), "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont(pdfFont, "", 9)
	for _, row := range p.Rows {
		for i, c := range row {
			pdf.CellFormat(s.widths[i], pdfRowHeight, s.fit(tr(c.Text), s.widths[i]), "1", 0, pdfAlign(c.Align), false, 0, "")
		}
		pdf.Ln(-1)
	}

	_, pageH := pdf.GetPageSize()
	y := pageH - pdfMargin - float64(len(h.Footer)+1)*pdfLine
	pdf.SetFont(pdfFont, "", 8)
	for _, line := range h.Footer {
		pdf.SetXY(pdfMargin, y)
		pdf.CellFormat(0, pdfLine, tr(line), "", 0, "L", false, 0, "")
		y += pdfLine
	}
	pdf.SetXY(pdfMargin, y)
	pdf.CellFormat(0, pdfLine, fmt.Sprintf("%d / %d", p.Number, p.Total), "", 0, "R", false, 0, "")

	return pdf.Error()
}

func (s *pdfSerializer) Finish() error {
	return s.pdf.Output(s.sink)
}

func (s *pdfSerializer) Close() error {
	s.pdf = nil
	return nil
}

// fit shortens text so it fits into a cell of width w.
func (s *pdfSerializer) fit(text string, w float64) string {
	max := w - 2
	if s.pdf.GetStringWidth(text) <= max {
		return text
	}
	for len(text) > 0 && s.pdf.GetStringWidth(text+"...") > max {
		text = text[:len(text)-1]
	}
	return text + "..."
}

func pdfAlign(a string) string {
	switch a {
	case "right":
		return "R"
	case "center":
		return "C"
	}
	return "L"
}
