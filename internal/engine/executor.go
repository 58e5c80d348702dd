package engine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Execute drives p into sink and closes p exactly once on every path. On
// failure the sink is discarded and no bytes are returned. A close error is
// returned when rendering succeeded, and only logged when it did not.
func Execute(ctx context.Context, p Pipeline, sink Sink, logger *logrus.Entry) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newError(KindRendering, "process", fmt.Errorf("panic: %v", r))
		}

		closeErr := closePipeline(p)
		switch {
		case closeErr != nil && err == nil:
			err = newError(KindRendering, "close pipeline", closeErr)
		case closeErr != nil:
			logger.WithError(closeErr).Warn("pipeline close failed after render error")
		}

		if err != nil {
			sink.Discard()
			out = nil
		}
	}()

	if err := p.Process(ctx); err != nil {
		return nil, newError(KindRendering, "process", err)
	}
	return bytes.Clone(sink.Bytes()), nil
}

// closePipeline turns a panic in Close into an error so the deferred cleanup
// in Execute always completes.
func closePipeline(p Pipeline) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Close()
}
