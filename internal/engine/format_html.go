package engine

import (
	"bufio"
	"encoding/base64"
	"html/template"
	"io"
	"path/filepath"
	"strings"
)

type htmlPage struct {
	Title       string
	Description string
	Header      []string
	Footer      []string
	Columns     []Column
	LogoSrc     any
	Rows        [][]Cell
}

func newHTMLPage(h Head) htmlPage {
	return htmlPage{
		Title:       h.Title,
		Description: h.Description,
		Header:      h.Header,
		Footer:      h.Footer,
		Columns:     h.Columns,
	}
}

// rewriteURL makes a resource URL relative to the directory of the template,
// so the page works when written next to its resources on disk.
func rewriteURL(baseDir string, res *Resource) string {
	if res == nil {
		return ""
	}
	if res.Key == "" {
		return res.URL
	}
	rel, err := filepath.Rel(filepath.FromSlash(baseDir), filepath.FromSlash(res.Key))
	if err != nil {
		return res.URL
	}
	return filepath.ToSlash(rel)
}

// htmlStreamSerializer writes the document head, then each row as it
// arrives, then the tail.
type htmlStreamSerializer struct {
	rt   *Runtime
	w    *bufio.Writer
	page htmlPage
}

func newHTMLStreamPipeline(job Job) (Pipeline, error) {
	ser := &htmlStreamSerializer{rt: job.Runtime, w: bufio.NewWriter(job.Sink)}
	return newStreamPipeline(job.Report, ser), nil
}

func (s *htmlStreamSerializer) Begin(h Head) error {
	s.page = newHTMLPage(h)
	if src, ok := inlineLogo(h.Logo); ok && h.Logo.Key == "" {
		s.page.LogoSrc = src
	} else if src := rewriteURL(h.BaseDir, h.Logo); src != "" {
		s.page.LogoSrc = src
	}
	return s.rt.html.ExecuteTemplate(s.w, "head", s.page)
}

func (s *htmlStreamSerializer) Row(cells []Cell) error {
	var b strings.Builder
	b.WriteString("<tr>")
	for _, c := range cells {
		b.WriteString(`<td class="`)
		b.WriteString(alignClass(c.Align))
		b.WriteString(`">`)
		b.WriteString(template.HTMLEscapeString(c.Text))
		b.WriteString("</td>")
	}
	b.WriteString("</tr>\n")
	_, err := s.w.WriteString(b.String())
	return err
}

func (s *htmlStreamSerializer) End() error {
	if err := s.rt.html.ExecuteTemplate(s.w, "tail", s.page); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *htmlStreamSerializer) Close() error { return nil }

// newHTMLEmbeddedPipeline renders a self-contained page in one template call:
// styles are inline and the logo is embedded as a data URI.
func newHTMLEmbeddedPipeline(job Job) (Pipeline, error) {
	p := &callPipeline{source: source{report: job.Report}}
	p.render = func(t *Table) error {
		return writeEmbeddedHTML(job.Sink, job.Runtime, t)
	}
	return p, nil
}

func writeEmbeddedHTML(w io.Writer, rt *Runtime, t *Table) error {
	page := newHTMLPage(t.Head)
	page.Rows = t.Rows
	if src, ok := inlineLogo(t.Head.Logo); ok {
		page.LogoSrc = src
	} else if logo := t.Head.Logo; logo != nil && logo.Key == "" {
		page.LogoSrc = logo.URL
	}
	return rt.html.ExecuteTemplate(w, "embedded", page)
}

// inlineLogo encodes loaded image bytes as a data URI.
func inlineLogo(res *Resource) (template.URL, bool) {
	if res == nil || len(res.Data) == 0 || !strings.HasPrefix(res.MIME, "image/") {
		return "", false
	}
	return template.URL("data:" + res.MIME + ";base64," + base64.StdEncoding.EncodeToString(res.Data)), true
}
