package engine

import (
	"context"
	"errors"
	"fmt"
)

// StreamSerializer writes rows as they are read, in a single pass.
type StreamSerializer interface {
	Begin(h Head) error
	Row(cells []Cell) error
	End() error
	Close() error
}

// FlowSerializer needs the whole table: Measure computes the layout and Emit
// writes the final bytes.
type FlowSerializer interface {
	Measure(t *Table) error
	Emit(t *Table) error
	Close() error
}

// PageSerializer writes pages laid out ahead of time.
type PageSerializer interface {
	// Capacity returns how many rows fit on the first and on later pages.
	Capacity(h Head) (first, rest int)
	Page(h Head, p LaidOutPage) error
	Finish() error
	Close() error
}

// LaidOutPage is one page of a paginated report.
type LaidOutPage struct {
	Number int
	Total  int
	Rows   [][]Cell
}

// source holds the row cursor shared by every strategy.
type source struct {
	report *BoundReport
	rows   RowSource
	closed bool
}

func (s *source) open(ctx context.Context) (RowSource, error) {
	rows, err := s.report.Open(ctx)
	if err != nil {
		return nil, err
	}
	s.rows = rows
	return rows, nil
}

func (s *source) close(ser interface{ Close() error }) error {
	if s.closed {
		return errPipelineClosed
	}
	s.closed = true

	var errs []error
	if s.rows != nil {
		if err := s.rows.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rows: %w", err))
		}
	}
	if err := ser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close serializer: %w", err))
	}
	return errors.Join(errs...)
}

// streamPipeline pushes each row to the serializer as soon as it is read.
type streamPipeline struct {
	source
	ser StreamSerializer
}

func newStreamPipeline(r *BoundReport, ser StreamSerializer) *streamPipeline {
	return &streamPipeline{source: source{report: r}, ser: ser}
}

func (p *streamPipeline) Process(ctx context.Context) error {
	rows, err := p.open(ctx)
	if err != nil {
		return err
	}
	cols := p.report.Columns(rows)
	if err := p.ser.Begin(p.report.Head(cols)); err != nil {
		return err
	}
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		cells, err := p.report.Cells(cols, rows.Record())
		if err != nil {
			return err
		}
		if err := p.ser.Row(cells); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read rows: %w", err)
	}
	return p.ser.End()
}

func (p *streamPipeline) Close() error { return p.close(p.ser) }

// flowPipeline materialises the table and runs two passes over it.
type flowPipeline struct {
	source
	ser FlowSerializer
}

func newFlowPipeline(r *BoundReport, ser FlowSerializer) *flowPipeline {
	return &flowPipeline{source: source{report: r}, ser: ser}
}

func (p *flowPipeline) Process(ctx context.Context) error {
	rows, err := p.open(ctx)
	if err != nil {
		return err
	}
	table, err := collect(ctx, p.report, rows)
	if err != nil {
		return err
	}
	if err := p.ser.Measure(table); err != nil {
		return fmt.Errorf("layout pass: %w", err)
	}
	if err := p.ser.Emit(table); err != nil {
		return fmt.Errorf("output pass: %w", err)
	}
	return nil
}

func (p *flowPipeline) Close() error { return p.close(p.ser) }

// pagedPipeline lays out every page before writing the first one.
type pagedPipeline struct {
	source
	ser PageSerializer
}

func newPagedPipeline(r *BoundReport, ser PageSerializer) *pagedPipeline {
	return &pagedPipeline{source: source{report: r}, ser: ser}
}

func (p *pagedPipeline) Process(ctx context.Context) error {
	rows, err := p.open(ctx)
	if err != nil {
		return err
	}
	table, err := collect(ctx, p.report, rows)
	if err != nil {
		return err
	}

	first, rest := p.ser.Capacity(table.Head)
	for _, page := range paginate(table.Rows, first, rest) {
		if err := p.ser.Page(table.Head, page); err != nil {
			return fmt.Errorf("page %d: %w", page.Number, err)
		}
	}
	return p.ser.Finish()
}

func (p *pagedPipeline) Close() error { return p.close(p.ser) }

// paginate splits rows into pages. There is always at least one page.
func paginate(rows [][]Cell, first, rest int) []LaidOutPage {
	if first < 1 {
		first = 1
	}
	if rest < 1 {
		rest = 1
	}

	var pages []LaidOutPage
	capacity := first
	for start := 0; start < len(rows) || len(pages) == 0; {
		end := start + capacity
		if end > len(rows) {
			end = len(rows)
		}
		pages = append(pages, LaidOutPage{Number: len(pages) + 1, Rows: rows[start:end]})
		start = end
		capacity = rest
	}
	for i := range pages {
		pages[i].Total = len(pages)
	}
	return pages
}

// callPipeline runs a single render function over the whole table, for
// formats that the underlying writer produces in one call.
type callPipeline struct {
	source
	render func(t *Table) error
}

func (p *callPipeline) Process(ctx context.Context) error {
	rows, err := p.open(ctx)
	if err != nil {
		return err
	}
	table, err := collect(ctx, p.report, rows)
	if err != nil {
		return err
	}
	return p.render(table)
}

func (p *callPipeline) Close() error { return p.close(nopCloser{}) }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
