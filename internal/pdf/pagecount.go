package pdf

import (
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/spherical/procurement-extractor/internal/domain"
)

// PageCounter reads page counts from the PDF structure with pdfcpu, without
// rasterizing anything.
type PageCounter struct {
	conf *model.Configuration
}

// NewPageCounter creates a counter using relaxed validation, which tolerates
// the minor defects common in scanned district documents.
func NewPageCounter() *PageCounter {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PageCounter{conf: conf}
}

// PageCount returns the number of pages in path.
func (c *PageCounter) PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, domain.PDFReadError(fmt.Sprintf("cannot open %s", path), err)
	}
	defer f.Close()

	ctx, err := api.ReadValidateAndOptimize(f, c.conf)
	if err != nil {
		return 0, domain.PDFReadError(fmt.Sprintf("cannot read %s", path), err)
	}
	return ctx.PageCount, nil
}
