package adapter

import "context"

// RenderOptions is the render-time slice of the job's config snapshot.
type RenderOptions struct {
	DPI     int
	Quality int
}

// RenderedPage is one page produced by the renderer.
type RenderedPage struct {
	PageNumber int // 1-based
	Image      []byte
	MIMEType   string
	Width      int
	Height     int
}

// OnPage is invoked once per page, in page-number order, before Render
// returns. total is the document's true page count, known from the first
// invocation onward. Returning an error aborts the render.
type OnPage func(page RenderedPage, index, total int) error

// PageRenderer converts a document's raw bytes into an ordered sequence of
// page images.
type PageRenderer interface {
	Render(ctx context.Context, content []byte, opts RenderOptions, onPage OnPage) error
}
