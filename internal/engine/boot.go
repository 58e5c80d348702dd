package engine

import (
	"fmt"
	"html/template"
	"strings"
	"sync"

	"github.com/jung-kurt/gofpdf"
)

// Runtime holds process-wide rendering state prepared once by Boot. It is
// read-only afterwards and shared by concurrent render calls.
type Runtime struct {
	html *template.Template
	// pdfText converts UTF-8 to the code page of the PDF core fonts.
	pdfText func(string) string
}

var bootRuntime = sync.OnceValues(startRuntime)

// Boot prepares the shared runtime. Concurrent first calls wait for the same
// initialisation; later calls return the cached result.
func Boot() (*Runtime, error) {
	return bootRuntime()
}

func startRuntime() (*Runtime, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"align": alignClass,
	}).Parse(htmlTemplates)
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}

	probe := gofpdf.New("P", "mm", "A4", "")
	translate := probe.UnicodeTranslatorFromDescriptor("")
	if err := probe.Error(); err != nil {
		return nil, fmt.Errorf("load pdf code page: %w", err)
	}

	return &Runtime{html: tmpl, pdfText: translate}, nil
}

func alignClass(a string) string {
	switch a {
	case "right", "center":
		return "a-" + a
	}
	return "a-left"
}

const htmlStyle = `body{font-family:Helvetica,Arial,sans-serif;font-size:12px;color:#222;margin:24px}
h1{font-size:20px;margin:0 0 8px}
p.desc{color:#555;margin:0 0 12px}
div.lines p{margin:2px 0}
table.report{border-collapse:collapse;width:100%;margin-top:12px}
table.report th{background:#e6e6fa;text-align:left;border:1px solid #999;padding:4px 6px}
table.report td{border:1px solid #ccc;padding:3px 6px}
.a-left{text-align:left}.a-right{text-align:right}.a-center{text-align:center}
div.footer{margin-top:12px;color:#555}
img.logo{max-height:64px;margin-bottom:8px}`

var htmlTemplates = strings.ReplaceAll(`
{{define "head"}}<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>STYLE</style>
</head>
<body>
{{if .LogoSrc}}<img class="logo" src="{{.LogoSrc}}" alt="">
{{end}}<h1>{{.Title}}</h1>
{{if .Description}}<p class="desc">{{.Description}}</p>
{{end}}{{if .Header}}<div class="lines">{{range .Header}}<p>{{.}}</p>{{end}}</div>
{{end}}<table class="report">
<thead><tr>{{range .Columns}}<th class="{{align .Align}}">{{.Title}}</th>{{end}}</tr></thead>
<tbody>
{{end}}

{{define "tail"}}</tbody>
</table>
{{if .Footer}}<div class="footer">{{range .Footer}}<p>{{.}}</p>{{end}}</div>
{{end}}</body>
</html>
{{end}}

{{define "embedded"}}{{template "head" .}}{{range .Rows}}<tr>{{range .}}<td class="{{align .Align}}">{{.Text}}</td>{{end}}</tr>
{{end}}{{template "tail" .}}{{end}}
`, "STYLE", htmlStyle)
