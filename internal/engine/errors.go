package engine

import (
	"errors"
	"fmt"
)

// Kind classifies where in the render call an error originated.
type Kind string

const (
	KindConfiguration     Kind = "configuration"
	KindResourceLoad      Kind = "resource_load"
	KindDataBinding       Kind = "data_binding"
	KindRendering         Kind = "rendering"
	KindUnsupportedFormat Kind = "unsupported_format"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrConfiguration     = &Error{Kind: KindConfiguration}
	ErrResourceLoad      = &Error{Kind: KindResourceLoad}
	ErrDataBinding       = &Error{Kind: KindDataBinding}
	ErrRendering         = &Error{Kind: KindRendering}
	ErrUnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
)

// Error is a categorised failure of one render stage.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind so callers can use the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// RenderError is the single error a caller of Render receives.
type RenderError struct {
	Report     string
	ExportType ExportType
	Err        error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render report %q as %s: %v", e.Report, e.ExportType, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
