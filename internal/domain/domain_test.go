package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	cause := errors.New("no such file")
	err := fmt.Errorf("open: %w", PDFReadError("corrupt.pdf", cause))

	assert.Equal(t, ErrorTypePDFRead, TypeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsFatal(err))
	assert.Contains(t, err.Error(), "[pdf_read] corrupt.pdf: no such file")

	assert.True(t, IsFatal(StartupError("missing key", nil)))
	assert.True(t, IsFatal(ConfigError("bad yaml", nil)))
	assert.False(t, IsFatal(APIError("429", nil)))
	assert.Equal(t, ErrorType(""), TypeOf(cause))
}

func TestRunStatistics(t *testing.T) {
	var s RunStatistics
	s.RecordError(ErrorTypeAPI)
	s.RecordError(ErrorTypeParse)
	s.RecordError(ErrorTypePDFRead)
	s.RecordError(ErrorTypeIO)
	assert.Equal(t, 4, s.Errors)
	assert.Equal(t, 1, s.APIErrors)
	assert.Equal(t, 1, s.ParseErrors)
	assert.Equal(t, 1, s.PDFReadErrors)

	s.Add(RunStatistics{PagesAnalyzed: 3, APICalls: 5, Errors: 1, APIErrors: 1})
	assert.Equal(t, 3, s.PagesAnalyzed)
	assert.Equal(t, 5, s.APICalls)
	assert.Equal(t, 5, s.Errors)
	assert.Equal(t, 2, s.APIErrors)
}

func TestDistrictSummaryTotals(t *testing.T) {
	s := DistrictSummary{District: "Acme"}
	s.Pages[1], s.Pages[4] = 3, 7
	s.PDFs[2] = 2
	assert.Equal(t, 10, s.TotalPages())
	assert.Equal(t, 2, s.TotalPDFs())
}

func TestPDFRefFileName(t *testing.T) {
	assert.Equal(t, "quote.pdf", PDFRef{Key: "Acme/R1/2019/quote.pdf"}.FileName())
	assert.Equal(t, "top.pdf", PDFRef{Key: "top.pdf"}.FileName())
}

func TestValidRound(t *testing.T) {
	assert.True(t, ValidRound(1))
	assert.True(t, ValidRound(4))
	assert.False(t, ValidRound(0))
	assert.False(t, ValidRound(5))
}
