package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxRowsProperty is the property that caps rows returned by report queries.
const MaxRowsProperty = "maxRows"

// PropertyProvider reads named configuration properties.
type PropertyProvider interface {
	GetProperty(ctx context.Context, name string) (string, bool, error)
}

// Binder merges caller parameters into a document and applies the row cap.
type Binder struct {
	props PropertyProvider
}

// NewBinder creates a parameter and limit binder.
func NewBinder(props PropertyProvider) *Binder {
	return &Binder{props: props}
}

// QueryLimit reads the configured row cap. It returns zero when no cap is set.
func (b *Binder) QueryLimit(ctx context.Context) (int, error) {
	if b.props == nil {
		return 0, nil
	}
	raw, ok, err := b.props.GetProperty(ctx, MaxRowsProperty)
	if err != nil {
		return 0, newError(KindConfiguration, "read "+MaxRowsProperty, err)
	}
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, newError(KindConfiguration, "parse "+MaxRowsProperty, err)
	}
	if n < 0 {
		return 0, newError(KindConfiguration, "parse "+MaxRowsProperty, fmt.Errorf("negative row limit %d", n))
	}
	return n, nil
}

// Bind merges params over the template defaults, checks required parameters
// and binds them and the row cap to the query.
func (b *Binder) Bind(doc *Document, params map[string]any, binding *DataBinding, limit int) (*BoundReport, error) {
	merged := doc.Defaults()
	for k, v := range params {
		merged[k] = v
	}

	var missing []string
	for _, p := range doc.Parameters {
		if _, ok := merged[p.Name]; p.Required && !ok {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, newError(KindRendering, "bind parameters",
			fmt.Errorf("required parameters without value: %s", strings.Join(missing, ", ")))
	}

	if binding != nil {
		binding.SetLimit(limit)
		if err := binding.bindParameters(merged); err != nil {
			return nil, newError(KindDataBinding, "bind query parameters", err)
		}
	}

	return &BoundReport{
		Document:   doc,
		Parameters: merged,
		Binding:    binding,
	}, nil
}
