package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/spherical/procurement-extractor/internal/domain"
)

// Workbook sheet names.
const (
	SheetRecords   = "Records"
	SheetDistricts = "District Summary"
	SheetSoftware  = "Software"
	SheetVendors   = "Vendors"
	SheetAnalysis  = "District Analysis"
)

// WriteWorkbook writes every report as a sheet of one XLSX file. Numeric
// columns are written as numbers so they can be summed in a spreadsheet.
func WriteWorkbook(path string, records []domain.SoftwareRecord, summaries []domain.DistrictSummary, agg *Aggregates) error {
	f := excelize.NewFile()
	defer f.Close()

	if agg == nil {
		agg = Aggregate(records)
	}

	recordRows := make([][]any, 0, len(records))
	for _, r := range records {
		recordRows = append(recordRows, []any{
			r.District, r.SchoolName, string(r.ApproxLevel), r.Software, r.Vendor,
			string(r.UseType), string(r.HostType),
			cellInt(r.NumSchoolLic), cellInt(r.NumDistrictLic),
			cellDecimal(r.CostPerLic), cellDecimal(r.CostTotal),
			r.ContractStartMonth, cellInt(r.ContractStartYear), cellDecimal(r.ContractLengthYears),
			r.InstallMonth, cellInt(r.InstallYear), r.QuoteMonth, cellInt(r.QuoteYear),
			r.MiscNotes, r.Round, r.SourceFile, r.PageNumber,
		})
	}

	summaryRows := make([][]any, 0, len(summaries))
	for _, s := range summaries {
		row := []any{s.District}
		for r := domain.MinRound; r <= domain.MaxRound; r++ {
			row = append(row, s.Pages[r])
		}
		row = append(row, s.TotalPages())
		for r := domain.MinRound; r <= domain.MaxRound; r++ {
			row = append(row, s.PDFs[r])
		}
		summaryRows = append(summaryRows, append(row, s.TotalPDFs(), s.SoftwareRecords))
	}

	softwareRows := make([][]any, 0, len(agg.Software))
	for _, s := range agg.Software {
		softwareRows = append(softwareRows, []any{
			s.Software, s.DistrictsUsing, s.PrimaryVendor, s.TotalCost.InexactFloat64(),
			cellDecimal(s.AvgCost), s.RecordsWithCost, formatRounds(s.Rounds),
		})
	}

	vendorRows := make([][]any, 0, len(agg.Vendors))
	for _, v := range agg.Vendors {
		vendorRows = append(vendorRows, []any{
			v.Vendor, v.SoftwareCount, v.DistrictsServed, v.TotalRevenue.InexactFloat64(),
			v.RevenueShare.InexactFloat64(), v.RecordsWithCost, formatRounds(v.Rounds),
		})
	}

	analysisRows := make([][]any, 0, len(agg.Districts))
	for _, d := range agg.Districts {
		analysisRows = append(analysisRows, []any{
			d.District, d.SoftwareCount, d.UniqueVendors, d.TotalCost.InexactFloat64(),
			d.RecordsWithCost, formatRounds(d.Rounds),
		})
	}

	sheets := []struct {
		name   string
		header []string
		rows   [][]any
	}{
		{SheetRecords, DetailedColumns, recordRows},
		{SheetDistricts, SummaryColumns, summaryRows},
		{SheetSoftware, SoftwareColumns, softwareRows},
		{SheetVendors, VendorColumns, vendorRows},
		{SheetAnalysis, DistrictColumns, analysisRows},
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return domain.IOError("xlsx header style", err)
	}

	for i, sh := range sheets {
		if i == 0 {
			// the default sheet becomes the first report
			if err := f.SetSheetName("Sheet1", sh.name); err != nil {
				return domain.IOError("xlsx rename sheet", err)
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			return domain.IOError("xlsx new sheet "+sh.name, err)
		}
		if err := writeSheet(f, sh.name, sh.header, sh.rows, headerStyle); err != nil {
			return err
		}
	}

	if idx, _ := f.GetSheetIndex(SheetRecords); idx >= 0 {
		f.SetActiveSheet(idx)
	}

	_ = f.SetColWidth(SheetRecords, "A", "A", 18) // district
	_ = f.SetColWidth(SheetRecords, "B", "B", 28) // school
	_ = f.SetColWidth(SheetRecords, "D", "E", 28) // software, vendor
	_ = f.SetColWidth(SheetRecords, "S", "S", 48) // notes
	_ = f.SetColWidth(SheetRecords, "U", "U", 32) // source file
	_ = f.SetColWidth(SheetDistricts, "A", "A", 18)
	_ = f.SetColWidth(SheetSoftware, "A", "A", 28)
	_ = f.SetColWidth(SheetSoftware, "C", "C", 28)
	_ = f.SetColWidth(SheetVendors, "A", "A", 28)
	_ = f.SetColWidth(SheetAnalysis, "A", "A", 18)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.IOError("create workbook dir", err)
	}
	if err := f.SaveAs(path); err != nil {
		return domain.IOError(fmt.Sprintf("xlsx write %s", path), err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any, headerStyle int) error {
	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return domain.IOError("xlsx header", err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	_ = f.SetCellStyle(sheet, "A1", last, headerStyle)

	for r, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return domain.IOError(fmt.Sprintf("xlsx row %d of %s", r+2, sheet), err)
		}
	}

	_ = f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
	return nil
}

// cellInt returns nil for absent values so the cell stays empty.
func cellInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func cellDecimal(v decimal.NullDecimal) any {
	if !v.Valid {
		return nil
	}
	return v.Decimal.InexactFloat64()
}
