package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Renderable is data with a human-readable rendering.
type Renderable interface {
	Render(s *Styles) string
}

// Formatter writes command output in one format.
type Formatter interface {
	Format(data interface{}) error
}

// FormatterOptions contains configuration for formatters
type FormatterOptions struct {
	// Writer is where output is written (defaults to os.Stdout)
	Writer io.Writer
	// Compact enables compact output (no indentation for JSON/YAML)
	Compact bool
}

// NewFormatter creates a formatter for "text", "json" or "yaml".
func NewFormatter(format string, opts *FormatterOptions) (Formatter, error) {
	if opts == nil {
		opts = &FormatterOptions{}
	}
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}

	switch format {
	case "json":
		return &JSONFormatter{opts: opts}, nil
	case "yaml":
		return &YAMLFormatter{opts: opts}, nil
	case "text", "":
		return &TextFormatter{opts: opts, styles: NewStyles(opts.Writer)}, nil
	default:
		return nil, fmt.Errorf("unknown format: %s (supported: text, json, yaml)", format)
	}
}

// JSONFormatter formats output as JSON
type JSONFormatter struct {
	opts *FormatterOptions
}

// Format writes data as JSON
func (f *JSONFormatter) Format(data interface{}) error {
	encoder := json.NewEncoder(f.opts.Writer)
	if !f.opts.Compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(exported(data))
}

// YAMLFormatter formats output as YAML
type YAMLFormatter struct {
	opts *FormatterOptions
}

// Format writes data as YAML
func (f *YAMLFormatter) Format(data interface{}) error {
	encoder := yaml.NewEncoder(f.opts.Writer)
	if !f.opts.Compact {
		encoder.SetIndent(2)
	}
	defer encoder.Close()
	return encoder.Encode(exported(data))
}

// Exporter converts a Renderable into plain data for JSON and YAML.
type Exporter interface {
	Export() interface{}
}

func exported(data interface{}) interface{} {
	if e, ok := data.(Exporter); ok {
		return e.Export()
	}
	return data
}

// TextFormatter renders Renderables with styles; strings and Stringers
// are printed as is.
type TextFormatter struct {
	opts   *FormatterOptions
	styles *Styles
}

// Format writes data as styled text.
func (f *TextFormatter) Format(data interface{}) error {
	var out string
	switch v := data.(type) {
	case Renderable:
		out = v.Render(f.styles)
	case string:
		out = v
	case fmt.Stringer:
		out = v.String()
	default:
		return fmt.Errorf("text output is not supported for %T", data)
	}
	_, err := fmt.Fprintln(f.opts.Writer, out)
	return err
}

var (
	_ Formatter = (*JSONFormatter)(nil)
	_ Formatter = (*YAMLFormatter)(nil)
	_ Formatter = (*TextFormatter)(nil)
)
