package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/procurement-extractor/internal/domain"
	"github.com/spherical/procurement-extractor/internal/observability"
)

const (
	// DefaultDPI matches a 1.5x zoom of the 72 DPI page space.
	DefaultDPI     = 108
	DefaultQuality = 85
)

// Renderer rasterizes PDF pages to in-memory JPEGs using go-fitz
type Renderer struct {
	dpi       float64
	quality   int
	validator *Validator
	logger    *observability.Logger
}

// NewRenderer creates a renderer. Zero values select the defaults.
func NewRenderer(dpi float64, quality int, logger *observability.Logger) *Renderer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	if quality == 0 {
		quality = DefaultQuality
	}
	if logger == nil {
		logger = observability.Nop()
	}
	log := logger.WithComponent("pdf")
	return &Renderer{
		dpi:       dpi,
		quality:   quality,
		validator: NewValidator(log),
		logger:    log,
	}
}

// Open validates and opens a PDF. Any failure is a PDFReadError.
func (r *Renderer) Open(path string) (domain.Document, error) {
	if err := r.validator.ValidateQuality(r.quality); err != nil {
		return nil, err
	}
	if err := r.validator.ValidatePDFPath(path); err != nil {
		return nil, domain.PDFReadError("invalid PDF path", err)
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.PDFReadError(fmt.Sprintf("failed to open %s", path), err)
	}

	n := doc.NumPage()
	if n <= 0 {
		doc.Close()
		return nil, domain.PDFReadError(fmt.Sprintf("%s has no pages", path), nil)
	}

	return &document{doc: doc, pages: n, renderer: r}, nil
}

// document is an open go-fitz handle
type document struct {
	doc      *fitz.Document
	pages    int
	renderer *Renderer
}

func (d *document) NumPages() int {
	return d.pages
}

// Render rasterizes the 1-based page and extracts its embedded text.
func (d *document) Render(ctx context.Context, pageNumber int) (domain.PageImage, error) {
	select {
	case <-ctx.Done():
		return domain.PageImage{}, ctx.Err()
	default:
	}

	if pageNumber < 1 || pageNumber > d.pages {
		return domain.PageImage{}, domain.ValidationError(fmt.Sprintf("page %d out of range 1-%d", pageNumber, d.pages), nil)
	}

	img, err := d.doc.ImageDPI(pageNumber-1, d.renderer.dpi)
	if err != nil {
		return domain.PageImage{}, domain.PDFReadError(fmt.Sprintf("failed to render page %d", pageNumber), err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: d.renderer.quality}); err != nil {
		return domain.PageImage{}, domain.PDFReadError(fmt.Sprintf("failed to encode page %d as JPG", pageNumber), err)
	}

	text, err := d.doc.Text(pageNumber - 1)
	if err != nil {
		// scans often carry no text layer
		d.renderer.logger.Debug().Int("page", pageNumber).Err(err).Msg("no page text")
		text = ""
	}

	bounds := img.Bounds()
	return domain.PageImage{
		PageNumber: pageNumber,
		Data:       buf.Bytes(),
		MIMEType:   "image/jpeg",
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Text:       text,
	}, nil
}

func (d *document) Close() error {
	if d.doc == nil {
		return nil
	}
	err := d.doc.Close()
	d.doc = nil
	return err
}
