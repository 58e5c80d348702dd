package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
)

// ReportRef identifies the report to render and carries its stored metadata.
type ReportRef struct {
	ID   uint
	Name string
	// File is the template path relative to the report directory.
	File         string
	DataSourceID *uint
	// Query overrides the query embedded in the template when set.
	Query string
}

// DirectoryProvider resolves a report to the storage key of its template.
type DirectoryProvider interface {
	ResolveReportPath(ctx context.Context, ref ReportRef) (string, error)
}

// TemplateSource reads template files and their resources.
type TemplateSource interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Loader turns a report reference into a parsed Document.
type Loader struct {
	dirs      DirectoryProvider
	templates TemplateSource
	logger    *logrus.Logger
}

// NewLoader creates a template loader.
func NewLoader(dirs DirectoryProvider, templates TemplateSource, logger *logrus.Logger) *Loader {
	return &Loader{dirs: dirs, templates: templates, logger: logger}
}

// Load resolves, reads and parses the template of ref. Nothing is cached.
func (l *Loader) Load(ctx context.Context, ref ReportRef) (*Document, error) {
	key, err := l.dirs.ResolveReportPath(ctx, ref)
	if err != nil {
		return nil, newError(KindResourceLoad, "resolve report path", err)
	}

	data, err := l.read(ctx, key)
	if err != nil {
		return nil, newError(KindResourceLoad, "read template", err)
	}

	doc, err := ParseDocument(data)
	if err != nil {
		return nil, newError(KindResourceLoad, "parse template", fmt.Errorf("%s: %w", key, err))
	}
	doc.Path = key

	if doc.LogoURL != "" {
		logo, err := l.loadResource(ctx, key, doc.LogoURL)
		if err != nil {
			return nil, newError(KindResourceLoad, "load resource", err)
		}
		doc.Logo = logo
	}

	l.logger.WithFields(logrus.Fields{
		"report":  ref.Name,
		"path":    key,
		"columns": len(doc.Columns),
	}).Debug("template loaded")

	return doc, nil
}

func (l *Loader) read(ctx context.Context, key string) ([]byte, error) {
	rc, err := l.templates.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// loadResource reads a resource referenced from the template at templateKey.
// Remote URLs are kept as they are and not fetched.
func (l *Loader) loadResource(ctx context.Context, templateKey, ref string) (*Resource, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("resource %q: %w", ref, err)
	}

	var key string
	switch u.Scheme {
	case "http", "https":
		return &Resource{URL: ref}, nil
	case "data":
		return decodeDataURL(ref)
	case "file":
		key = strings.TrimPrefix(u.Path, "/")
	case "":
		if strings.HasPrefix(u.Path, "/") {
			key = strings.TrimPrefix(u.Path, "/")
		} else {
			key = path.Join(path.Dir(templateKey), u.Path)
		}
	default:
		return nil, fmt.Errorf("resource %q: unsupported scheme %q", ref, u.Scheme)
	}

	data, err := l.read(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resource %q: %w", ref, err)
	}

	return &Resource{
		URL:  ref,
		Key:  key,
		Data: data,
		MIME: mimetype.Detect(data).String(),
	}, nil
}

// decodeDataURL reads an inline data: resource. Only images are accepted.
func decodeDataURL(ref string) (*Resource, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("resource %q: malformed data URL", ref)
	}

	var (
		data []byte
		err  error
	)
	if declared, isBase64 := strings.CutSuffix(meta, ";base64"); isBase64 {
		meta = declared
		data, err = base64.StdEncoding.DecodeString(payload)
	} else {
		var s string
		s, err = url.PathUnescape(payload)
		data = []byte(s)
	}
	if err != nil {
		return nil, fmt.Errorf("resource data URL: %w", err)
	}

	mime := mimetype.Detect(data).String()
	if !strings.HasPrefix(mime, "image/") {
		mime, _, _ = strings.Cut(meta, ";")
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("resource data URL: %q is not an image", mime)
	}
	return &Resource{URL: ref, Data: data, MIME: mime}, nil
}
