package engine

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"
)

// Page describes the paper used by paginated output.
type Page struct {
	Size        string `yaml:"size"`
	Orientation string `yaml:"orientation"`
}

// ParameterDef is a parameter slot declared by a report template.
type ParameterDef struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Label    string `yaml:"label" json:"label,omitempty"`
	Default  any    `yaml:"default" json:"default,omitempty"`
	Required bool   `yaml:"required" json:"required"`
}

// Column is one output column. Value comes from Field, or from Expression
// evaluated against the row and the parameters.
type Column struct {
	Field      string  `yaml:"field"`
	Header     string  `yaml:"header"`
	Width      float64 `yaml:"width"`
	Align      string  `yaml:"align"`
	Format     string  `yaml:"format"`
	Expression string  `yaml:"expression"`

	program *vm.Program
}

// Title returns the header text of the column.
func (c Column) Title() string {
	if c.Header != "" {
		return c.Header
	}
	return c.Field
}

// Resource is an auxiliary file referenced by the template, such as a logo.
type Resource struct {
	// URL as written in the template.
	URL string
	// Key is the storage key the URL resolved to, empty for remote URLs.
	Key  string
	Data []byte
	MIME string
}

// Document is a parsed report template. It is loaded fresh for each render
// call and is not modified after Load returns.
type Document struct {
	Name        string           `yaml:"name"`
	Title       string           `yaml:"title"`
	Description string           `yaml:"description"`
	Page        Page             `yaml:"page"`
	Parameters  []ParameterDef   `yaml:"parameters"`
	Query       string           `yaml:"query"`
	Columns     []Column         `yaml:"columns"`
	Header      []string         `yaml:"header"`
	Footer      []string         `yaml:"footer"`
	Rows        []map[string]any `yaml:"rows"`
	LogoURL     string           `yaml:"logo"`

	// Path is the storage key the template was read from.
	Path string    `yaml:"-"`
	Logo *Resource `yaml:"-"`
}

// ParseDocument decodes a YAML report template.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("template has no name")
	}

	seen := make(map[string]bool, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.Name == "" {
			return fmt.Errorf("parameter without name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
	}

	for i := range d.Columns {
		c := &d.Columns[i]
		if c.Field == "" && c.Expression == "" {
			return fmt.Errorf("column %d has neither field nor expression", i+1)
		}
		switch c.Align {
		case "", "left", "right", "center":
		default:
			return fmt.Errorf("column %q: unknown align %q", c.Title(), c.Align)
		}
		if c.Expression != "" {
			program, err := expr.Compile(c.Expression, expr.AllowUndefinedVariables())
			if err != nil {
				return fmt.Errorf("column %q: compile expression: %w", c.Title(), err)
			}
			c.program = program
		}
	}

	switch strings.ToLower(d.Page.Orientation) {
	case "", "portrait", "landscape":
	default:
		return fmt.Errorf("unknown page orientation %q", d.Page.Orientation)
	}
	return nil
}

// Defaults returns the default value of every parameter that declares one.
func (d *Document) Defaults() map[string]any {
	out := make(map[string]any, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}
