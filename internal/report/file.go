// Package report persists and publishes check reports: JSON files in an
// output directory, Kafka messages and MongoDB documents.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andrej220/guestcheck/internal/checks"
)

const (
	indent = "    "
	prefix = ""
)

// Sink receives every finished report.
type Sink interface {
	Publish(ctx context.Context, r checks.Report) error
}

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	return json.MarshalIndent(data, s.Prefix, s.Indent)
}

type FileWriter struct {
	Overwrite bool
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	if !w.Overwrite {
		_, err := os.Stat(filename)
		switch {
		case err == nil:
			return os.ErrExist
		case !os.IsNotExist(err):
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}

// WriteJSONToFile marshals data with serializer and hands it to writer.
func WriteJSONToFile(data any, filename string, serializer Serializer, writer Writer) error {
	if filename == "" {
		return fmt.Errorf("invalid filename: %w", os.ErrInvalid)
	}
	bytes, err := serializer.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := writer.Write(filename, bytes); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return nil
}

// WriteJSON writes data as indented JSON, replacing any existing file.
func WriteJSON(data any, filename string) error {
	return WriteJSONToFile(data, filename, JSONSerializer{Prefix: prefix, Indent: indent}, FileWriter{Overwrite: true})
}

// FileSink writes each report to <Dir>/<target>-<runId>.json.
type FileSink struct {
	Dir        string
	Serializer Serializer
	Writer     Writer
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{
		Dir:        dir,
		Serializer: JSONSerializer{Prefix: prefix, Indent: indent},
		Writer:     FileWriter{Overwrite: true},
	}
}

// Filename returns where r is written.
func (s *FileSink) Filename(r checks.Report) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s-%s.json", safeName(r.Target), r.RunID))
}

func (s *FileSink) Publish(_ context.Context, r checks.Report) error {
	return WriteJSONToFile(r, s.Filename(r), s.Serializer, s.Writer)
}

func safeName(target string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, target)
}

// Multi publishes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, r checks.Report) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
