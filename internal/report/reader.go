package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/spherical/procurement-extractor/internal/domain"
)

// ReadRecords loads a detailed CSV written by WriteResults. Columns are
// matched by header name, so extra or reordered columns are tolerated.
func ReadRecords(path string) ([]domain.SoftwareRecord, error) {
	header, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	for _, col := range []string{"District", "Software", "Round"} {
		if _, ok := header[col]; !ok {
			return nil, domain.ValidationError(fmt.Sprintf("%s: missing column %s", path, col), nil)
		}
	}

	records := make([]domain.SoftwareRecord, 0, len(rows))
	for i, row := range rows {
		get := func(col string) string {
			if idx, ok := header[col]; ok && idx < len(row) {
				return strings.TrimSpace(row[idx])
			}
			return ""
		}

		rec := domain.SoftwareRecord{
			District:           get("District"),
			SchoolName:         get("School_Name"),
			ApproxLevel:        domain.ApproxLevel(get("Approx_Level")),
			Software:           get("Software"),
			Vendor:             get("Vendor"),
			UseType:            domain.UseType(get("Use_Type")),
			HostType:           domain.HostType(get("Host_Type")),
			ContractStartMonth: get("Contract_StartMonth"),
			InstallMonth:       get("Install_Month"),
			QuoteMonth:         get("Quote_Month"),
			MiscNotes:          get("Misc_Notes"),
			SourceFile:         get("Source_File"),
		}

		var errs []error
		rec.NumSchoolLic = readInt(get("Num_School_LIC"), &errs)
		rec.NumDistrictLic = readInt(get("Num_District_LIC"), &errs)
		rec.ContractStartYear = readInt(get("Contract_StartYear"), &errs)
		rec.InstallYear = readInt(get("Install_Year"), &errs)
		rec.QuoteYear = readInt(get("Quote_Year"), &errs)
		rec.CostPerLic = readDecimal(get("Cost_per_LIC"), &errs)
		rec.CostTotal = readDecimal(get("Cost_total"), &errs)
		rec.ContractLengthYears = readDecimal(get("Contract_Length_Years"), &errs)
		if v := readInt(get("Round"), &errs); v != nil {
			rec.Round = *v
		}
		if v := readInt(get("Page_Number"), &errs); v != nil {
			rec.PageNumber = *v
		}

		if err := errors.Join(errs...); err != nil {
			return nil, domain.ValidationError(fmt.Sprintf("%s: row %d", path, i+2), err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadSummaries loads a district summary CSV.
func ReadSummaries(path string) ([]domain.DistrictSummary, error) {
	header, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	out := make([]domain.DistrictSummary, 0, len(rows))
	for i, row := range rows {
		get := func(col string) string {
			if idx, ok := header[col]; ok && idx < len(row) {
				return strings.TrimSpace(row[idx])
			}
			return ""
		}

		s := domain.DistrictSummary{District: get("District")}
		var errs []error
		for r := domain.MinRound; r <= domain.MaxRound; r++ {
			if v := readInt(get(fmt.Sprintf("Round_%d_Pages", r)), &errs); v != nil {
				s.Pages[r] = *v
			}
			if v := readInt(get(fmt.Sprintf("Round_%d_PDFs", r)), &errs); v != nil {
				s.PDFs[r] = *v
			}
		}
		if v := readInt(get("Software_Records"), &errs); v != nil {
			s.SoftwareRecords = *v
		}
		if err := errors.Join(errs...); err != nil {
			return nil, domain.ValidationError(fmt.Sprintf("%s: row %d", path, i+2), err)
		}
		out = append(out, s)
	}
	return out, nil
}

func readCSV(path string) (map[string]int, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, domain.IOError("open "+path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	head, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, domain.ValidationError(path+" is empty", nil)
	}
	if err != nil {
		return nil, nil, domain.IOError("read "+path, err)
	}

	header := make(map[string]int, len(head))
	for i, col := range head {
		header[strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))] = i
	}

	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, domain.IOError("read "+path, err)
	}
	return header, rows, nil
}

func readInt(s string, errs *[]error) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		*errs = append(*errs, err)
		return nil
	}
	return &v
}

func readDecimal(s string, errs *[]error) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		*errs = append(*errs, err)
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optDecimal(v decimal.NullDecimal) string {
	if !v.Valid {
		return ""
	}
	return v.Decimal.String()
}
