package log

import (
	"errors"
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// MultiWriter duplicates log output to every appender. A failing appender
// does not stop the others.
type MultiWriter struct {
	writers []io.Writer
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{}
}

func (m *MultiWriter) Write(p []byte) (int, error) {
	var errs []error
	for _, w := range m.writers {
		if _, err := w.Write(p); err != nil {
			errs = append(errs, err)
		}
	}
	return len(p), errors.Join(errs...)
}

func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.writers = append(m.writers, writer)
	return m
}

// Close closes the file appenders. Standard streams stay open.
func (m *MultiWriter) Close() error {
	var errs []error
	for _, w := range m.writers {
		if f, ok := w.(*lumberjack.Logger); ok {
			errs = append(errs, f.Close())
		}
	}
	return errors.Join(errs...)
}
