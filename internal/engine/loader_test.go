package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngLogo(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

const logoTemplate = `
name: sales
title: Sales
logo: img/logo.png
columns:
  - field: region
  - field: total
    format: "%.2f"
rows:
  - {region: EU, total: 1200.5}
  - {region: US, total: 99}
`

func TestLoadResolvesLogo(t *testing.T) {
	logo := pngLogo(t)
	l := NewLoader(reportDir{}, memTemplates{
		"reports/sales/sales.yaml":     []byte(logoTemplate),
		"reports/sales/img/logo.png":   logo,
		"reports/shared/header.yaml":   []byte("name: header\nlogo: /reports/sales/img/logo.png\n"),
		"reports/remote/remote.yaml":   []byte("name: remote\nlogo: https://cdn.example.com/logo.png\n"),
		"reports/broken/missing.yaml":  []byte("name: missing\nlogo: nowhere.png\n"),
		"reports/broken/unknown.yaml":  []byte("name: unknown\nlogo: ftp://host/logo.png\n"),
		"reports/broken/noname.yaml":   []byte("title: no name\n"),
		"reports/broken/badfield.yaml": []byte("name: x\ncolour: red\n"),
	}, testLogger())
	ctx := context.Background()

	doc, err := l.Load(ctx, ReportRef{Name: "sales", File: "sales/sales.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "reports/sales/sales.yaml", doc.Path)
	require.NotNil(t, doc.Logo)
	assert.Equal(t, "reports/sales/img/logo.png", doc.Logo.Key)
	assert.Equal(t, "image/png", doc.Logo.MIME)
	assert.Equal(t, logo, doc.Logo.Data)

	doc, err = l.Load(ctx, ReportRef{Name: "header", File: "shared/header.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "reports/sales/img/logo.png", doc.Logo.Key)

	doc, err = l.Load(ctx, ReportRef{Name: "remote", File: "remote/remote.yaml"})
	require.NoError(t, err)
	assert.Empty(t, doc.Logo.Key)
	assert.Nil(t, doc.Logo.Data)

	for _, file := range []string{"broken/missing.yaml", "broken/unknown.yaml", "broken/noname.yaml", "broken/badfield.yaml", "nothing.yaml", ""} {
		_, err := l.Load(ctx, ReportRef{Name: "broken", File: file})
		assert.ErrorIs(t, err, ErrResourceLoad, file)
	}
}

func TestParseDocumentValidation(t *testing.T) {
	tests := map[string]string{
		"duplicate parameter": "name: x\nparameters:\n  - name: a\n  - name: a\n",
		"empty column":        "name: x\ncolumns:\n  - header: Empty\n",
		"bad align":           "name: x\ncolumns:\n  - field: a\n    align: justify\n",
		"bad expression":      "name: x\ncolumns:\n  - expression: 'a +'\n",
		"bad orientation":     "name: x\npage:\n  orientation: diagonal\n",
	}
	for name, src := range tests {
		_, err := ParseDocument([]byte(src))
		assert.Error(t, err, name)
	}
}

func renderSales(t *testing.T, export ExportType) []byte {
	t.Helper()
	e := newTestEngine(t, memTemplates{
		"reports/sales/sales.yaml":   []byte(logoTemplate),
		"reports/sales/img/logo.png": pngLogo(t),
	}, Dependencies{})
	out, err := e.Render(context.Background(), RenderRequest{
		Report:     ReportRef{Name: "sales", File: "sales/sales.yaml"},
		ExportType: export,
	})
	require.NoError(t, err)
	return out.Content
}

func TestHTMLLogo(t *testing.T) {
	stream := string(renderSales(t, ExportHTMLStream))
	assert.Contains(t, stream, `src="img/logo.png"`)
	assert.Contains(t, stream, `<td class="a-right">1200.50</td>`)
	assert.Contains(t, stream, `<td class="a-right">99.00</td>`)

	embedded := string(renderSales(t, ExportHTMLEmbedded))
	assert.Contains(t, embedded, `src="data:image/png;base64,`)
	assert.Contains(t, embedded, `<td class="a-left">EU</td>`)
}

func TestHTMLInlineLogo(t *testing.T) {
	inline := "name: sales\ntitle: Sales\nlogo: \"data:image/png;base64," +
		base64.StdEncoding.EncodeToString(pngLogo(t)) + "\"\ncolumns:\n  - field: region\nrows:\n  - {region: EU}\n"
	e := newTestEngine(t, memTemplates{
		"reports/sales/sales.yaml":  []byte(inline),
		"reports/sales/text.yaml":   []byte("name: text\nlogo: \"data:text/plain,hello\"\n"),
		"reports/sales/broken.yaml": []byte("name: broken\nlogo: \"data:image/png;base64,!!!\"\n"),
	}, Dependencies{})
	ctx := context.Background()

	for _, export := range []ExportType{ExportHTMLStream, ExportHTMLEmbedded} {
		out, err := e.Render(ctx, RenderRequest{
			Report:     ReportRef{Name: "sales", File: "sales/sales.yaml"},
			ExportType: export,
		})
		require.NoError(t, err, export)
		html := string(out.Content)
		assert.Contains(t, html, `src="data:image/png;base64,`, export)
		assert.NotContains(t, html, "ZgotmplZ", export)
	}

	for _, file := range []string{"sales/text.yaml", "sales/broken.yaml"} {
		_, err := e.Render(ctx, RenderRequest{
			Report:     ReportRef{Name: "x", File: file},
			ExportType: ExportHTMLStream,
		})
		assert.ErrorIs(t, err, ErrResourceLoad, file)
	}
}

func TestPDFWithLogoAndManyPages(t *testing.T) {
	out := renderSales(t, ExportPDF)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))

	db := openItemsDB(t, 300)
	e := newTestEngine(t, memTemplates{"reports/items.yaml": []byte(`
name: items
page:
  size: A4
  orientation: landscape
footer:
  - Confidential
query: SELECT n, name FROM items ORDER BY n
`)}, Dependencies{Connections: dbConnections{db: db}})
	res, err := e.Render(context.Background(), RenderRequest{
		Report:     ReportRef{Name: "items", File: "items.yaml", DataSourceID: dataSource(1)},
		ExportType: ExportPDF,
	})
	require.NoError(t, err)
	assert.Greater(t, bytes.Count(res.Content, []byte("/Type /Page\n")), 5)
}
