package domain

import "fmt"

// RunStatistics contains the counters of a single pipeline run. It is owned
// by the pipeline driver and handed by pointer to collaborators that need
// to record against it.
type RunStatistics struct {
	DistrictsProcessed int `json:"districts_processed"`
	PDFsProcessed      int `json:"pdfs_processed"`
	PagesAnalyzed      int `json:"pages_analyzed"`
	RecordsExtracted   int `json:"records_extracted"`
	APICalls           int `json:"api_calls"`
	CacheHits          int `json:"cache_hits"`
	Errors             int `json:"errors"`
	PDFReadErrors      int `json:"pdf_read_errors"`
	APIErrors          int `json:"api_errors"`
	ParseErrors        int `json:"parse_errors"`
}

// RecordError counts a non-fatal error of the given type.
func (s *RunStatistics) RecordError(t ErrorType) {
	s.Errors++
	switch t {
	case ErrorTypePDFRead:
		s.PDFReadErrors++
	case ErrorTypeAPI:
		s.APIErrors++
	case ErrorTypeParse:
		s.ParseErrors++
	}
}

func (s RunStatistics) String() string {
	return fmt.Sprintf("districts=%d pdfs=%d pages=%d records=%d api_calls=%d errors=%d",
		s.DistrictsProcessed, s.PDFsProcessed, s.PagesAnalyzed, s.RecordsExtracted, s.APICalls, s.Errors)
}

// Add accumulates o into s.
func (s *RunStatistics) Add(o RunStatistics) {
	s.DistrictsProcessed += o.DistrictsProcessed
	s.PDFsProcessed += o.PDFsProcessed
	s.PagesAnalyzed += o.PagesAnalyzed
	s.RecordsExtracted += o.RecordsExtracted
	s.APICalls += o.APICalls
	s.CacheHits += o.CacheHits
	s.Errors += o.Errors
	s.PDFReadErrors += o.PDFReadErrors
	s.APIErrors += o.APIErrors
	s.ParseErrors += o.ParseErrors
}
