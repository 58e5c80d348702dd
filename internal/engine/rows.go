package engine

import (
	"database/sql"
	"sort"
)

// Record is one row of report data keyed by column name.
type Record map[string]any

// RowSource iterates over report data. It must be closed by its consumer.
type RowSource interface {
	Columns() []string
	Next() bool
	Record() Record
	Err() error
	Close() error
}

type sqlRowSource struct {
	rows    *sql.Rows
	columns []string
	limit   int
	count   int
	current Record
	err     error
}

func (s *sqlRowSource) Columns() []string { return s.columns }

func (s *sqlRowSource) Next() bool {
	if s.err != nil || (s.limit > 0 && s.count >= s.limit) {
		return false
	}
	if !s.rows.Next() {
		return false
	}

	vals := make([]any, len(s.columns))
	ptrs := make([]any, len(s.columns))
	for i := range ptrs {
		ptrs[i] = &vals[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		s.err = err
		return false
	}

	rec := make(Record, len(s.columns))
	for i, col := range s.columns {
		if b, ok := vals[i].([]byte); ok {
			rec[col] = string(b)
			continue
		}
		rec[col] = vals[i]
	}
	s.current = rec
	s.count++
	return true
}

func (s *sqlRowSource) Record() Record { return s.current }

func (s *sqlRowSource) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.rows.Err()
}

func (s *sqlRowSource) Close() error { return s.rows.Close() }

// staticRowSource serves rows embedded in the template.
type staticRowSource struct {
	rows    []map[string]any
	columns []string
	pos     int
}

func newStaticRowSource(rows []map[string]any) *staticRowSource {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range rows {
		var keys []string
		for k := range r {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		cols = append(cols, keys...)
	}
	return &staticRowSource{rows: rows, columns: cols, pos: -1}
}

func (s *staticRowSource) Columns() []string { return s.columns }

func (s *staticRowSource) Next() bool {
	if s.pos+1 >= len(s.rows) {
		return false
	}
	s.pos++
	return true
}

func (s *staticRowSource) Record() Record { return Record(s.rows[s.pos]) }

func (s *staticRowSource) Err() error { return nil }

func (s *staticRowSource) Close() error { return nil }
