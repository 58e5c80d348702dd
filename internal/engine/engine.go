package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BackendTemplate is the YAML template backend.
const BackendTemplate = "template"

// Engine renders reports. Backends are selected by name through New.
type Engine interface {
	Render(ctx context.Context, req RenderRequest) (*RenderOutput, error)
	ListParameters(ctx context.Context, ref ReportRef) ([]ParameterDef, error)
	// Formats lists the export types the backend can render.
	Formats() []ExportType
}

// RenderRequest is one render call.
type RenderRequest struct {
	Report     ReportRef
	Parameters map[string]any
	ExportType ExportType
}

// RenderOutput is the rendered document. ContentType is empty when the
// export type has no MIME type.
type RenderOutput struct {
	Content     []byte
	ContentType string
}

// Dependencies are the collaborators a backend consumes.
type Dependencies struct {
	Directory   DirectoryProvider
	Templates   TemplateSource
	Connections ConnectionProvider
	Properties  PropertyProvider
	Logger      *logrus.Logger
}

// Option customises a TemplateEngine.
type Option func(*TemplateEngine)

// WithDispatcher replaces the built-in format dispatcher.
func WithDispatcher(d *Dispatcher) Option {
	return func(e *TemplateEngine) { e.dispatcher = d }
}

// WithSinkFactory replaces the in-memory sink used for each call.
func WithSinkFactory(f func() Sink) Option {
	return func(e *TemplateEngine) { e.newSink = f }
}

// New returns the backend registered under name.
func New(backend string, deps Dependencies, opts ...Option) (Engine, error) {
	switch backend {
	case BackendTemplate, "":
		e, err := NewTemplateEngine(deps, opts...)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, newError(KindConfiguration, "select backend", fmt.Errorf("unknown engine backend %q", backend))
	}
}

// TemplateEngine renders YAML report templates. It keeps no per-call state
// and is safe for concurrent use.
type TemplateEngine struct {
	loader     *Loader
	resolver   *Resolver
	binder     *Binder
	dispatcher *Dispatcher
	newSink    func() Sink
	logger     *logrus.Logger
}

// NewTemplateEngine wires the template backend.
func NewTemplateEngine(deps Dependencies, opts ...Option) (*TemplateEngine, error) {
	if deps.Directory == nil || deps.Templates == nil {
		return nil, newError(KindConfiguration, "new engine", fmt.Errorf("directory provider and template source are required"))
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	e := &TemplateEngine{
		loader:     NewLoader(deps.Directory, deps.Templates, logger),
		resolver:   NewResolver(deps.Connections, logger),
		binder:     NewBinder(deps.Properties),
		dispatcher: NewDispatcher(),
		newSink:    NewBufferSink,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Render loads, binds and renders one report.
func (e *TemplateEngine) Render(ctx context.Context, req RenderRequest) (out *RenderOutput, err error) {
	log := e.logger.WithFields(logrus.Fields{
		"request_id":  uuid.NewString(),
		"report":      req.Report.Name,
		"export_type": req.ExportType.String(),
	})
	start := time.Now()
	log.Info("render started")

	defer func() {
		if err != nil {
			err = &RenderError{Report: req.Report.Name, ExportType: req.ExportType, Err: err}
			log.WithError(err).Error("render failed")
			return
		}
		log.WithFields(logrus.Fields{
			"duration": time.Since(start).String(),
			"bytes":    len(out.Content),
		}).Info("render finished")
	}()

	rt, err := Boot()
	if err != nil {
		return nil, newError(KindRendering, "boot", err)
	}
	if !e.dispatcher.Supports(req.ExportType) {
		return nil, unsupported(req.ExportType)
	}

	doc, err := e.loader.Load(ctx, req.Report)
	if err != nil {
		return nil, err
	}

	// The limit is read before any connection is taken.
	limit, err := e.binder.QueryLimit(ctx)
	if err != nil {
		return nil, err
	}

	binding, err := e.resolver.Resolve(ctx, req.Report, doc)
	if err != nil {
		return nil, err
	}
	if binding != nil {
		defer func() {
			if rerr := binding.Release(); rerr != nil {
				log.WithError(rerr).Warn("release connection")
			}
		}()
	}

	report, err := e.binder.Bind(doc, req.Parameters, binding, limit)
	if err != nil {
		return nil, err
	}

	sink := e.newSink()
	p, err := e.dispatcher.Dispatch(req.ExportType, Job{Report: report, Sink: sink, Runtime: rt})
	if err != nil {
		return nil, err
	}

	content, err := Execute(ctx, p, sink, log)
	if err != nil {
		return nil, err
	}

	contentType, _ := ContentType(req.ExportType)
	return &RenderOutput{Content: content, ContentType: contentType}, nil
}

// ListParameters returns the parameters declared by the report template.
func (e *TemplateEngine) ListParameters(ctx context.Context, ref ReportRef) ([]ParameterDef, error) {
	doc, err := e.loader.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	params := make([]ParameterDef, len(doc.Parameters))
	copy(params, doc.Parameters)
	return params, nil
}

// Formats lists the export types with a registered pipeline.
func (e *TemplateEngine) Formats() []ExportType {
	return e.dispatcher.Formats()
}
