package pkg

import (
	"fmt"
	"io"

	"go.uber.org/multierr"
)

// CombinedWriter fans every write out to all of its sinks. A failing sink does not stop
// the others; its error is reported together with the errors of the other failing sinks.
type CombinedWriter struct {
	sinks []io.Writer
}

func NewCombinedWriter(sinks ...io.Writer) *CombinedWriter {
	cw := &CombinedWriter{}
	for _, s := range sinks {
		if s != nil {
			cw.sinks = append(cw.sinks, s)
		}
	}
	return cw
}

func (cw *CombinedWriter) Len() int {
	return len(cw.sinks)
}

// Write reports len(p) when at least one sink took the whole buffer, so log lines are not
// retried only because a secondary sink is broken.
func (cw *CombinedWriter) Write(p []byte) (int, error) {
	var (
		errs    error
		written bool
	)
	for i, s := range cw.sinks {
		n, err := s.Write(p)
		if err == nil && n < len(p) {
			err = io.ErrShortWrite
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sink %d: %w", i, err))
			continue
		}
		written = true
	}
	if !written && len(cw.sinks) > 0 {
		return 0, errs
	}
	return len(p), errs
}
