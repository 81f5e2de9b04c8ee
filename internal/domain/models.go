package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MinRound and MaxRound bound the data-collection waves.
const (
	MinRound = 1
	MaxRound = 4
)

// ApproxLevel is the school level a purchase applies to.
type ApproxLevel string

const (
	LevelPreK       ApproxLevel = "PreK"
	LevelElementary ApproxLevel = "Elementary"
	LevelMiddle     ApproxLevel = "Middle"
	LevelHigh       ApproxLevel = "High"
	LevelMultiple   ApproxLevel = "Multiple"
	LevelAlt        ApproxLevel = "Alt"
)

// ApproxLevels lists the accepted ApproxLevel values in display order.
var ApproxLevels = []ApproxLevel{LevelPreK, LevelElementary, LevelMiddle, LevelHigh, LevelMultiple, LevelAlt}

// UseType distinguishes administrative from instructional software.
type UseType string

const (
	UseAdministrative UseType = "Administrative"
	UseInstructional  UseType = "Instructional"
)

// UseTypes lists the accepted UseType values.
var UseTypes = []UseType{UseAdministrative, UseInstructional}

// HostType is whether software is cloud-hosted or locally installed.
type HostType string

const (
	HostCloud   HostType = "Cloud"
	HostInstall HostType = "Install"
)

// HostTypes lists the accepted HostType values.
var HostTypes = []HostType{HostCloud, HostInstall}

// PDFRef identifies one PDF yielded by the district walker.
type PDFRef struct {
	District    string
	Round       int
	RoundFolder string
	Path        string // absolute or root-joined path on disk
	Key         string // slash-separated path relative to the input root
}

// FileName returns the base name used as Source_File.
func (r PDFRef) FileName() string {
	if i := strings.LastIndex(r.Key, "/"); i >= 0 {
		return r.Key[i+1:]
	}
	return r.Key
}

// PageContext carries the authoritative provenance stamped on every record.
type PageContext struct {
	District   string
	Round      int
	SourceFile string
	PageNumber int
}

// PageImage represents a single rendered PDF page
type PageImage struct {
	PageNumber int
	Data       []byte // encoded image bytes
	MIMEType   string
	Width      int
	Height     int
	Text       string // embedded page text, may be empty for scans
}

// SoftwareRecord is one extracted row. Optional numeric fields are nil or
// invalid when the document did not state them.
type SoftwareRecord struct {
	District            string              `json:"district"`
	SchoolName          string              `json:"school_name,omitempty"`
	ApproxLevel         ApproxLevel         `json:"approx_level,omitempty"`
	Software            string              `json:"software"`
	Vendor              string              `json:"vendor,omitempty"`
	UseType             UseType             `json:"use_type,omitempty"`
	HostType            HostType            `json:"host_type,omitempty"`
	NumSchoolLic        *int                `json:"num_school_lic,omitempty"`
	NumDistrictLic      *int                `json:"num_district_lic,omitempty"`
	CostPerLic          decimal.NullDecimal `json:"cost_per_lic"`
	CostTotal           decimal.NullDecimal `json:"cost_total"`
	ContractStartMonth  string              `json:"contract_start_month,omitempty"`
	ContractStartYear   *int                `json:"contract_start_year,omitempty"`
	ContractLengthYears decimal.NullDecimal `json:"contract_length_years"`
	InstallMonth        string              `json:"install_month,omitempty"`
	InstallYear         *int                `json:"install_year,omitempty"`
	QuoteMonth          string              `json:"quote_month,omitempty"`
	QuoteYear           *int                `json:"quote_year,omitempty"`
	MiscNotes           string              `json:"misc_notes,omitempty"`
	Round               int                 `json:"round"`
	SourceFile          string              `json:"source_file"`
	PageNumber          int                 `json:"page_number"`
}

// DistrictSummary holds per-district page and PDF counts by round.
type DistrictSummary struct {
	District        string            `json:"district"`
	Pages           [MaxRound + 1]int `json:"pages"` // index 1..4; 0 unused
	PDFs            [MaxRound + 1]int `json:"pdfs"`
	SoftwareRecords int               `json:"software_records"`
}

// TotalPages sums pages over all rounds.
func (s DistrictSummary) TotalPages() int {
	total := 0
	for r := MinRound; r <= MaxRound; r++ {
		total += s.Pages[r]
	}
	return total
}

// TotalPDFs sums PDFs over all rounds.
func (s DistrictSummary) TotalPDFs() int {
	total := 0
	for r := MinRound; r <= MaxRound; r++ {
		total += s.PDFs[r]
	}
	return total
}

// ValidRound reports whether r is a known round number.
func ValidRound(r int) bool {
	return r >= MinRound && r <= MaxRound
}

// EventType represents the type of progress event
type EventType string

const (
	EventDistrictStart EventType = "district_start"
	EventFileStart     EventType = "file_start"
	EventFileSkipped   EventType = "file_skipped"
	EventPageComplete  EventType = "page_complete"
	EventFileComplete  EventType = "file_complete"
	EventDistrictDone  EventType = "district_done"
	EventCheckpoint    EventType = "checkpoint"
	EventError         EventType = "error"
)

// ProgressEvent is emitted by the pipeline as work advances
type ProgressEvent struct {
	Type       EventType `json:"type"`
	District   string    `json:"district,omitempty"`
	Round      int       `json:"round,omitempty"`
	SourceFile string    `json:"source_file,omitempty"`
	PageNumber int       `json:"page_number,omitempty"`
	Pages      int       `json:"pages,omitempty"`
	Records    int       `json:"records,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
