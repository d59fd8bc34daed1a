// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/util"
)

// Generator names the producer in exported metadata.
const Generator = "streamchat"

// ErrNilSession is returned when there is nothing to export.
var ErrNilSession = errors.New("session is nil")

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter converts one session to a file format.
type Exporter interface {
	// Export converts a session to the target format and returns the content.
	Export(s *model.Session) ([]byte, error)

	// FileExtension returns the file extension, including the dot.
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is the directory where files will be saved.
	// Default: current working directory
	OutputDir string

	// IncludeMetadata adds a metadata header (dates, message count).
	IncludeMetadata bool

	// IncludeTimestamps adds per-message timestamps (Markdown only).
	IncludeTimestamps bool

	// Now stamps the export. Default: time.Now
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Now:               time.Now,
	}
}

func (o *Options) now() time.Time {
	if o == nil || o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// =============================================================================
// FORMATS
// =============================================================================

// Formats lists the accepted format names.
func Formats() []string {
	return []string{"markdown", "json", "yaml"}
}

// ForFormat returns the exporter for a format name. "md" and "yml" are
// accepted as aliases.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "markdown", "md":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	case "yaml", "yml":
		return NewYAMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("unsupported export format: %q (want one of %s)", format, strings.Join(Formats(), ", "))
	}
}

// Markdown renders s as Markdown with default options.
func Markdown(s *model.Session) ([]byte, error) {
	return NewMarkdownExporter(nil).Export(s)
}

// JSON renders s as indented JSON with default options.
func JSON(s *model.Session) ([]byte, error) {
	return NewJSONExporter(nil).Export(s)
}

// YAML renders s as YAML with default options.
func YAML(s *model.Session) ([]byte, error) {
	return NewYAMLExporter(nil).Export(s)
}

// =============================================================================
// FILE OUTPUT
// =============================================================================

// ToFile exports s into opts.OutputDir and returns the file path.
func ToFile(s *model.Session, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if s == nil {
		return "", ErrNilSession
	}

	content, err := exporter.Export(s)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	filename := fmt.Sprintf("session_%s_%s%s",
		sanitizeFilename(s.Title),
		opts.now().Format("20060102_150405"),
		exporter.FileExtension(),
	)
	outputPath := filepath.Join(dir, filename)

	if err := util.AtomicWriteFile(outputPath, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return outputPath, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// document is the JSON and YAML export shape.
type document struct {
	Generator  string        `json:"generator" yaml:"generator"`
	ExportedAt time.Time     `json:"exported_at" yaml:"exported_at"`
	Session    model.Session `json:"session" yaml:"session"`
}

func newDocument(s *model.Session, opts *Options) document {
	sess := s.Clone()
	if sess.Messages == nil {
		sess.Messages = []model.Message{}
	}
	return document{
		Generator:  Generator,
		ExportedAt: opts.now().UTC().Round(time.Second),
		Session:    sess,
	}
}

// sanitizeFilename replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	s = util.PrefixRunes(strings.TrimSpace(s), 50, "")

	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune('_')
		case r < 32 || r == 127:
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "session"
	}
	return b.String()
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a timestamp for inline display.
func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
