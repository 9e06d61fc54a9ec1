// Package export renders drafts as print-ready HTML and converts them to
// PDF (headless Chrome) or DOCX (pandoc).
package export

import "errors"

// Format is the export output format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Request selects what to export.
type Request struct {
	StatementID     string
	Version         int // 0 means current published version
	Format          Format
	IncludeComments bool
}

// Result is the generated artifact.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable means the draft content could not be loaded.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing means no Chromium binary was found.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing means the pandoc binary was not found.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
