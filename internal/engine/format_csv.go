package engine

import (
	"encoding/csv"
)

// csvSerializer writes a header line and one delimited line per row.
type csvSerializer struct {
	w *csv.Writer
}

func newCSVPipeline(job Job) (Pipeline, error) {
	return newStreamPipeline(job.Report, &csvSerializer{w: csv.NewWriter(job.Sink)}), nil
}

func (s *csvSerializer) Begin(h Head) error {
	header := make([]string, len(h.Columns))
	for i, c := range h.Columns {
		header[i] = c.Title()
	}
	return s.w.Write(header)
}

func (s *csvSerializer) Row(cells []Cell) error {
	record := make([]string, len(cells))
	for i, c := range cells {
		record[i] = c.Text
	}
	if err := s.w.Write(record); err != nil {
		return err
	}
	// csv.Writer buffers; surface sink errors while streaming.
	return s.w.Error()
}

func (s *csvSerializer) End() error {
	s.w.Flush()
	return s.w.Error()
}

func (s *csvSerializer) Close() error { return nil }
