// Package render turns a document's raw bytes into an ordered sequence of
// single-page artifacts the analysis adapters accept as page images.
package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"document-ai-indexing/internal/domain/ports/adapter"
)

var _ adapter.PageRenderer = (*PDFRenderer)(nil)

// PDFRenderer splits a PDF into per-page artifacts with pdfcpu. The onPage
// callback receives pages in page-number order with the document's true
// page count, which is only known once the document has been opened.
type PDFRenderer struct{}

func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

func (r *PDFRenderer) Render(ctx context.Context, content []byte, opts adapter.RenderOptions, onPage adapter.OnPage) error {
	tempDir, err := os.MkdirTemp("", "page-render-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(sourcePath, content, 0o600); err != nil {
		return fmt.Errorf("write source pdf: %w", err)
	}
	if err := api.ValidateFile(sourcePath, nil); err != nil {
		return fmt.Errorf("validate pdf: %w", err)
	}

	total, err := api.PageCountFile(sourcePath)
	if err != nil {
		return fmt.Errorf("page count: %w", err)
	}
	dims, err := api.PageDimsFile(sourcePath)
	if err != nil {
		return fmt.Errorf("page dims: %w", err)
	}

	if err := api.SplitFile(sourcePath, tempDir, 1, nil); err != nil {
		return fmt.Errorf("split pdf: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(sourcePath), ".pdf")
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		pagePath := filepath.Join(tempDir, fmt.Sprintf("%s_%d.pdf", base, i))
		data, err := os.ReadFile(pagePath)
		if err != nil {
			return fmt.Errorf("read split page %d: %w", i, err)
		}
		var w, h int
		if i-1 < len(dims) {
			w = int(dims[i-1].Width)
			h = int(dims[i-1].Height)
		}
		page := adapter.RenderedPage{
			PageNumber: i,
			Image:      data,
			MIMEType:   "application/pdf",
			Width:      w,
			Height:     h,
		}
		if err := onPage(page, i-1, total); err != nil {
			return err
		}
	}
	return nil
}
