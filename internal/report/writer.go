// Package report writes extraction results as CSV files and an XLSX workbook.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spherical/procurement-extractor/internal/domain"
	"github.com/spherical/procurement-extractor/internal/observability"
)

// Output file names inside the results directory.
const (
	DetailedFile  = "extracted_software_data.csv"
	SummaryFile   = "district_summary.csv"
	SoftwareFile  = "software_popularity_report.csv"
	VendorFile    = "vendor_market_share_report.csv"
	DistrictFile  = "district_analysis_report.csv"
	WorkbookFile  = "procurement_report.xlsx"
	InventoryFile = "pdf_inventory.csv"
)

// DetailedColumns is the header of the detailed CSV, one column per record field.
var DetailedColumns = []string{
	"District", "School_Name", "Approx_Level", "Software", "Vendor", "Use_Type", "Host_Type",
	"Num_School_LIC", "Num_District_LIC", "Cost_per_LIC", "Cost_total",
	"Contract_StartMonth", "Contract_StartYear", "Contract_Length_Years",
	"Install_Month", "Install_Year", "Quote_Month", "Quote_Year",
	"Misc_Notes", "Round", "Source_File", "Page_Number",
}

// SummaryColumns is the header of the district summary CSV.
var SummaryColumns = func() []string {
	cols := []string{"District"}
	for r := domain.MinRound; r <= domain.MaxRound; r++ {
		cols = append(cols, fmt.Sprintf("Round_%d_Pages", r))
	}
	cols = append(cols, "Total_Pages")
	for r := domain.MinRound; r <= domain.MaxRound; r++ {
		cols = append(cols, fmt.Sprintf("Round_%d_PDFs", r))
	}
	return append(cols, "Total_PDFs", "Software_Records")
}()

// Writer writes reports into a directory.
type Writer struct {
	dir    string
	logger *observability.Logger
}

// NewWriter creates a writer for dir. A nil logger discards output.
func NewWriter(dir string, logger *observability.Logger) *Writer {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Writer{dir: dir, logger: logger.WithComponent("report")}
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// WriteResults replaces the detailed and summary CSVs. It is called at
// checkpoints and at the end of a run.
func (w *Writer) WriteResults(records []domain.SoftwareRecord, summaries []domain.DistrictSummary) error {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, RecordRow(rec))
	}
	if err := w.writeCSV(DetailedFile, DetailedColumns, rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, s := range summaries {
		rows = append(rows, SummaryRow(s))
	}
	if err := w.writeCSV(SummaryFile, SummaryColumns, rows); err != nil {
		return err
	}

	w.logger.Debug().Int("records", len(records)).Int("districts", len(summaries)).Msg("results written")
	return nil
}

// WriteAll writes the results, the aggregate reports and, when xlsx is set,
// the workbook. It returns the aggregates for display.
func (w *Writer) WriteAll(records []domain.SoftwareRecord, summaries []domain.DistrictSummary, xlsx bool) (*Aggregates, error) {
	if err := w.WriteResults(records, summaries); err != nil {
		return nil, err
	}

	agg := Aggregate(records)
	if err := w.WriteAggregates(agg); err != nil {
		return nil, err
	}

	if xlsx {
		if err := WriteWorkbook(filepath.Join(w.dir, WorkbookFile), records, summaries, agg); err != nil {
			return nil, err
		}
	}

	w.logger.Info().
		Str("dir", w.dir).
		Int("records", len(records)).
		Int("software", len(agg.Software)).
		Int("vendors", len(agg.Vendors)).
		Bool("xlsx", xlsx).
		Msg("reports written")
	return agg, nil
}

// WriteAggregates writes the software, vendor and district reports.
func (w *Writer) WriteAggregates(agg *Aggregates) error {
	if err := w.writeCSV(SoftwareFile, SoftwareColumns, softwareRows(agg.Software)); err != nil {
		return err
	}
	if err := w.writeCSV(VendorFile, VendorColumns, vendorRows(agg.Vendors)); err != nil {
		return err
	}
	return w.writeCSV(DistrictFile, DistrictColumns, districtRows(agg.Districts))
}

// WriteInventory writes page and PDF counts per district and round. The
// Software_Records column is left out since nothing was extracted.
func (w *Writer) WriteInventory(summaries []domain.DistrictSummary) error {
	n := len(SummaryColumns) - 1
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, SummaryRow(s)[:n])
	}
	return w.writeCSV(InventoryFile, SummaryColumns[:n], rows)
}

// writeCSV replaces name in the output directory via a temp file rename.
func (w *Writer) writeCSV(name string, header []string, rows [][]string) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return domain.IOError("create results dir", err)
	}

	tmp, err := os.CreateTemp(w.dir, "."+name+"-*.tmp")
	if err != nil {
		return domain.IOError("create "+name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	cw := csv.NewWriter(tmp)
	if err := cw.Write(header); err != nil {
		tmp.Close()
		return domain.IOError("write "+name, err)
	}
	if err := cw.WriteAll(rows); err != nil {
		tmp.Close()
		return domain.IOError("write "+name, err)
	}
	if err := tmp.Close(); err != nil {
		return domain.IOError("close "+name, err)
	}

	if err := os.Rename(tmpName, filepath.Join(w.dir, name)); err != nil {
		return domain.IOError("replace "+name, err)
	}
	return nil
}

// RecordRow renders a record in DetailedColumns order. Absent values are empty.
func RecordRow(r domain.SoftwareRecord) []string {
	return []string{
		r.District,
		r.SchoolName,
		string(r.ApproxLevel),
		r.Software,
		r.Vendor,
		string(r.UseType),
		string(r.HostType),
		optInt(r.NumSchoolLic),
		optInt(r.NumDistrictLic),
		optDecimal(r.CostPerLic),
		optDecimal(r.CostTotal),
		r.ContractStartMonth,
		optInt(r.ContractStartYear),
		optDecimal(r.ContractLengthYears),
		r.InstallMonth,
		optInt(r.InstallYear),
		r.QuoteMonth,
		optInt(r.QuoteYear),
		r.MiscNotes,
		strconv.Itoa(r.Round),
		r.SourceFile,
		strconv.Itoa(r.PageNumber),
	}
}

// SummaryRow renders a summary in SummaryColumns order.
func SummaryRow(s domain.DistrictSummary) []string {
	row := []string{s.District}
	for r := domain.MinRound; r <= domain.MaxRound; r++ {
		row = append(row, strconv.Itoa(s.Pages[r]))
	}
	row = append(row, strconv.Itoa(s.TotalPages()))
	for r := domain.MinRound; r <= domain.MaxRound; r++ {
		row = append(row, strconv.Itoa(s.PDFs[r]))
	}
	return append(row, strconv.Itoa(s.TotalPDFs()), strconv.Itoa(s.SoftwareRecords))
}
