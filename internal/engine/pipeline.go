package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Pipeline renders one report into its sink. It is built fresh for every
// call and must be closed exactly once.
type Pipeline interface {
	Process(ctx context.Context) error
	Close() error
}

// Sink accumulates rendered bytes.
type Sink interface {
	io.Writer
	Bytes() []byte
	// Discard drops everything written so far.
	Discard()
}

type bufferSink struct {
	buf bytes.Buffer
}

// NewBufferSink returns an in-memory sink.
func NewBufferSink() Sink {
	return &bufferSink{}
}

func (s *bufferSink) Write(p []byte) (int, error) { return s.buf.Write(p) }

func (s *bufferSink) Bytes() []byte { return s.buf.Bytes() }

func (s *bufferSink) Discard() { s.buf.Reset() }

// Job is the input of a pipeline builder.
type Job struct {
	Report  *BoundReport
	Sink    io.Writer
	Runtime *Runtime
}

// PipelineBuilder constructs the pipeline of one export type.
type PipelineBuilder func(job Job) (Pipeline, error)

// Dispatcher maps export types to pipeline builders. Register is meant for
// setup and must not race with Dispatch.
type Dispatcher struct {
	builders map[ExportType]PipelineBuilder
}

// NewDispatcher returns a dispatcher with every built-in format registered.
// IMAGE and TEXT have no builder.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{builders: make(map[ExportType]PipelineBuilder)}
	d.Register(ExportPDF, newPDFPipeline)
	d.Register(ExportExcelStream, newExcelStreamPipeline)
	d.Register(ExportXLSFlow, newXLSFlowPipeline)
	d.Register(ExportHTMLStream, newHTMLStreamPipeline)
	d.Register(ExportHTMLEmbedded, newHTMLEmbeddedPipeline)
	d.Register(ExportCSV, newCSVPipeline)
	d.Register(ExportRTF, newRTFPipeline)
	return d
}

// Register sets the builder for t, replacing any previous one.
func (d *Dispatcher) Register(t ExportType, b PipelineBuilder) {
	d.builders[t] = b
}

// Supports reports whether t has a registered builder.
func (d *Dispatcher) Supports(t ExportType) bool {
	_, ok := d.builders[t]
	return ok
}

// Formats lists the export types that have a builder.
func (d *Dispatcher) Formats() []ExportType {
	out := make([]ExportType, 0, len(d.builders))
	for t := range d.builders {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch builds the pipeline for t.
func (d *Dispatcher) Dispatch(t ExportType, job Job) (Pipeline, error) {
	b, ok := d.builders[t]
	if !ok {
		return nil, unsupported(t)
	}
	p, err := b(job)
	if err != nil {
		return nil, newError(KindRendering, "build pipeline", err)
	}
	return p, nil
}

func unsupported(t ExportType) error {
	return newError(KindUnsupportedFormat, "dispatch", fmt.Errorf("format %s not yet supported", t))
}

var errPipelineClosed = errors.New("pipeline already closed")
