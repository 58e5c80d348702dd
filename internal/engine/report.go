package engine

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
)

var (
	tokenPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.]*)\}`)
	floatVerb    = regexp.MustCompile(`%[-+# 0]*[0-9]*(\.[0-9]+)?[eEfFgG]`)
)

// BoundReport is a document with its parameters and data binding for one call.
type BoundReport struct {
	Document   *Document
	Parameters map[string]any
	Binding    *DataBinding
}

// Head is everything rendered around the data rows.
type Head struct {
	Title       string
	Description string
	Header      []string
	Footer      []string
	Columns     []Column
	Logo        *Resource
	// BaseDir is the storage directory of the template, used to rewrite
	// resource URLs.
	BaseDir string
}

// Cell is a formatted value ready for a serializer.
type Cell struct {
	Value any
	Text  string
	Align string
}

// Table is fully materialised report data, used by two-pass and paginated output.
type Table struct {
	Head Head
	Rows [][]Cell
}

// Open returns the rows of the report: the bound query, or the rows embedded
// in the template.
func (r *BoundReport) Open(ctx context.Context) (RowSource, error) {
	if r.Binding != nil {
		return r.Binding.Open(ctx)
	}
	return newStaticRowSource(r.Document.Rows), nil
}

// Columns returns the template columns, or one column per source column when
// the template declares none.
func (r *BoundReport) Columns(src RowSource) []Column {
	if len(r.Document.Columns) > 0 {
		return r.Document.Columns
	}
	cols := make([]Column, 0, len(src.Columns()))
	for _, name := range src.Columns() {
		cols = append(cols, Column{Field: name})
	}
	return cols
}

// Head builds the substituted title, header and footer.
func (r *BoundReport) Head(cols []Column) Head {
	doc := r.Document
	title := doc.Title
	if title == "" {
		title = doc.Name
	}
	return Head{
		Title:       r.Substitute(title),
		Description: r.Substitute(doc.Description),
		Header:      r.substituteAll(doc.Header),
		Footer:      r.substituteAll(doc.Footer),
		Columns:     cols,
		Logo:        doc.Logo,
		BaseDir:     path.Dir(doc.Path),
	}
}

// Substitute replaces ${name} tokens with parameter values. Unknown names
// become empty strings.
func (r *BoundReport) Substitute(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		name := tokenPattern.FindStringSubmatch(tok)[1]
		v, ok := r.Parameters[name]
		if !ok || v == nil {
			return ""
		}
		return formatValue(v, "")
	})
}

func (r *BoundReport) substituteAll(lines []string) []string {
	if len(lines) == 0 {
		return nil
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = r.Substitute(l)
	}
	return out
}

// Cells formats one record into cells for cols.
func (r *BoundReport) Cells(cols []Column, rec Record) ([]Cell, error) {
	cells := make([]Cell, len(cols))
	var env map[string]any
	for i, c := range cols {
		var v any
		if c.program != nil {
			if env == nil {
				env = make(map[string]any, len(rec)+1)
				for k, val := range rec {
					env[k] = val
				}
				env["params"] = r.Parameters
			}
			out, err := expr.Run(c.program, env)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", c.Title(), err)
			}
			v = out
		} else {
			v = rec[c.Field]
		}

		align := c.Align
		if align == "" {
			align = "left"
			if isNumber(v) {
				align = "right"
			}
		}
		cells[i] = Cell{Value: v, Text: formatValue(v, c.Format), Align: align}
	}
	return cells, nil
}

// collect reads src to the end into a Table.
func collect(ctx context.Context, r *BoundReport, src RowSource) (*Table, error) {
	cols := r.Columns(src)
	t := &Table{Head: r.Head(cols)}
	for src.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cells, err := r.Cells(cols, src.Record())
		if err != nil {
			return nil, err
		}
		t.Rows = append(t.Rows, cells)
	}
	if err := src.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return t, nil
}

func formatValue(v any, format string) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		if format != "" && !strings.Contains(format, "%") {
			return x.Format(format)
		}
		return x.Format("2006-01-02")
	case []byte:
		v = string(x)
	}
	if strings.Contains(format, "%") {
		if floatVerb.MatchString(format) {
			if f, ok := toFloat(v); ok {
				v = f
			}
		}
		return fmt.Sprintf(format, v)
	}
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	}
	return fmt.Sprint(v)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
