package domain

import "context"

// Renderer opens PDF files for page rasterization
type Renderer interface {
	// Open returns a handle on the document; an unreadable or corrupt file
	// yields a PDFReadError.
	Open(path string) (Document, error)
}

// Document is an opened PDF
type Document interface {
	NumPages() int

	// Render rasterizes the 1-based page number
	Render(ctx context.Context, pageNumber int) (PageImage, error)

	Close() error
}

// PageRequest is one extraction call: a page image plus its context.
type PageRequest struct {
	Image       PageImage
	Context     PageContext
	Instruction string
}

// Completion is the outcome of an extraction call. Attempts is the number of
// HTTP calls made, also when the call ultimately failed.
type Completion struct {
	Text     string
	Attempts int
	Cached   bool
}

// ExtractionClient sends page images to the multimodal completion API
type ExtractionClient interface {
	Extract(ctx context.Context, req PageRequest) (Completion, error)
}
