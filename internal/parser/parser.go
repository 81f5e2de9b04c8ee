// Package parser turns raw model responses into SoftwareRecord rows.
package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"github.com/spherical/procurement-extractor/internal/domain"
	"github.com/spherical/procurement-extractor/internal/observability"
)

// MismatchNote is appended to Misc_Notes when the contract start year does
// not belong to the round the document was filed under.
const MismatchNote = "[Year-Round mismatch noted]"

// wrapperKeys are tried in order when the payload is an object holding the
// entries in an array field.
var wrapperKeys = []string{"items", "records", "software", "data", "results", "entries"}

// Parser validates and coerces model output. It holds no per-call state and
// may be reused across pages.
type Parser struct {
	schema *jsonschema.Schema
	logger *observability.Logger
}

// New creates a Parser. A nil logger discards output.
func New(logger *observability.Logger) (*Parser, error) {
	if logger == nil {
		logger = observability.Nop()
	}
	schema, err := compileEntrySchema()
	if err != nil {
		return nil, domain.StartupError("compile entry schema", err)
	}
	return &Parser{schema: schema, logger: logger.WithComponent("parser")}, nil
}

// Parse returns the records found in raw, stamped with the provenance in pc.
// Malformed payloads yield no records and exactly one parse error in stats.
// RecordsExtracted is incremented by the number of records returned.
func (p *Parser) Parse(raw string, pc domain.PageContext, stats *domain.RunStatistics) []domain.SoftwareRecord {
	log := p.logger.With().
		Str("district", pc.District).
		Str("source_file", pc.SourceFile).
		Int("page", pc.PageNumber).
		Logger()

	entries, err := decodeEntries(raw)
	if err != nil {
		if stats != nil {
			stats.RecordError(domain.ErrorTypeParse)
		}
		log.Warn().Err(err).Str("raw", truncate(raw, 500)).Msg("malformed model response")
		return nil
	}

	var records []domain.SoftwareRecord
	for i, entry := range entries {
		fields := canonicalize(entry)
		if err := p.schema.Validate(map[string]any(fields)); err != nil {
			log.Warn().Int("entry", i).Err(err).Msg("dropping entry without software name")
			continue
		}
		records = append(records, buildRecord(fields, pc))
	}

	if stats != nil {
		stats.RecordsExtracted += len(records)
	}
	log.Debug().Int("entries", len(entries)).Int("records", len(records)).Msg("page parsed")
	return records
}

// decodeEntries strips fences, decodes the first JSON value in the text,
// and flattens it into entry objects. A decode failure after the repair
// pass is a ParseError.
func decodeEntries(raw string) ([]map[string]any, error) {
	payload := stripFences(raw)
	if payload == "" {
		return nil, domain.ParseError("empty response", nil)
	}

	v, err := decodeFirst(payload)
	if err != nil {
		return nil, domain.ParseError("decode JSON", err)
	}

	switch t := v.(type) {
	case []any:
		return objects(t), nil
	case map[string]any:
		if arr, ok := wrapped(t); ok {
			return objects(arr), nil
		}
		return []map[string]any{t}, nil
	case nil:
		return nil, nil
	default:
		return nil, domain.ParseError(fmt.Sprintf("unexpected JSON %T", v), nil)
	}
}

// wrapped finds the entry array of a wrapper object such as {"items": [...]}.
// An object that names software itself, under any accepted alias, is an
// entry, not a wrapper.
func wrapped(obj map[string]any) ([]any, bool) {
	for key, val := range obj {
		if fieldAliases[normalizeKey(key)] == "software" {
			if _, isArr := val.([]any); !isArr {
				return nil, false
			}
		}
	}
	for _, k := range wrapperKeys {
		for key, val := range obj {
			if normalizeKey(key) == k {
				if arr, ok := val.([]any); ok {
					return arr, true
				}
			}
		}
	}

	// a lone array-valued field, whatever its name
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var found []any
	count := 0
	for _, k := range keys {
		if arr, ok := obj[k].([]any); ok {
			found = arr
			count++
		}
	}
	if count == 1 {
		return found, true
	}
	return nil, false
}

func objects(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// buildRecord coerces canonical fields into a record. Values that cannot be
// coerced are kept verbatim in Misc_Notes.
func buildRecord(f map[string]any, pc domain.PageContext) domain.SoftwareRecord {
	rec := domain.SoftwareRecord{
		District:   pc.District,
		Round:      pc.Round,
		SourceFile: pc.SourceFile,
		PageNumber: pc.PageNumber,
		Software:   text(f["software"]),
		Vendor:     text(f["vendor"]),
		SchoolName: text(f["school_name"]),
	}

	var notes []string
	if n := text(f["misc_notes"]); n != "" {
		notes = append(notes, n)
	}
	unparsed := func(label string, v any) {
		notes = append(notes, label+": "+text(v))
	}

	if s := text(f["approx_level"]); s != "" {
		if l, ok := parseLevel(s); ok {
			rec.ApproxLevel = l
		} else {
			unparsed("Approx_Level", s)
		}
	}
	if s := text(f["use_type"]); s != "" {
		if u, ok := matchEnum(s, domain.UseTypes); ok {
			rec.UseType = u
		} else {
			unparsed("Use_Type", s)
		}
	}
	if s := text(f["host_type"]); s != "" {
		if h, ok := matchEnum(s, domain.HostTypes); ok {
			rec.HostType = h
		} else if strings.EqualFold(s, "installed") || strings.EqualFold(s, "on-premise") || strings.EqualFold(s, "local") {
			rec.HostType = domain.HostInstall
		} else {
			unparsed("Host_Type", s)
		}
	}

	counts := []struct {
		key   string
		label string
		dst   **int
	}{
		{"num_school_lic", "Num_School_LIC", &rec.NumSchoolLic},
		{"num_district_lic", "Num_District_LIC", &rec.NumDistrictLic},
	}
	for _, c := range counts {
		if text(f[c.key]) == "" {
			continue
		}
		if n, ok := parseCount(f[c.key]); ok {
			*c.dst = &n
		} else {
			unparsed(c.label, f[c.key])
		}
	}

	decimals := []struct {
		key   string
		label string
		dst   *decimal.NullDecimal
	}{
		{"cost_per_lic", "Cost_per_LIC", &rec.CostPerLic},
		{"cost_total", "Cost_total", &rec.CostTotal},
		{"contract_length_years", "Contract_Length_Years", &rec.ContractLengthYears},
	}
	for _, d := range decimals {
		if text(f[d.key]) == "" {
			continue
		}
		if v, ok := parseDecimal(f[d.key]); ok {
			*d.dst = decimal.NullDecimal{Decimal: v, Valid: true}
		} else {
			unparsed(d.label, f[d.key])
		}
	}

	monthFields := []struct {
		key   string
		label string
		dst   *string
	}{
		{"contract_start_month", "Contract_StartMonth", &rec.ContractStartMonth},
		{"install_month", "Install_Month", &rec.InstallMonth},
		{"quote_month", "Quote_Month", &rec.QuoteMonth},
	}
	for _, m := range monthFields {
		if text(f[m.key]) == "" {
			continue
		}
		if name, ok := parseMonth(f[m.key]); ok {
			*m.dst = name
		} else {
			unparsed(m.label, f[m.key])
		}
	}

	years := []struct {
		key   string
		label string
		dst   **int
	}{
		{"contract_start_year", "Contract_StartYear", &rec.ContractStartYear},
		{"install_year", "Install_Year", &rec.InstallYear},
		{"quote_year", "Quote_Year", &rec.QuoteYear},
	}
	for _, y := range years {
		if text(f[y.key]) == "" {
			continue
		}
		if n, ok := parseYear(f[y.key]); ok {
			*y.dst = &n
		} else {
			unparsed(y.label, f[y.key])
		}
	}

	rec.MiscNotes = strings.Join(notes, "; ")
	if rec.ContractStartYear != nil {
		if want, ok := expectedRound(*rec.ContractStartYear); ok && want != pc.Round {
			rec.MiscNotes = strings.TrimSpace(rec.MiscNotes + " " + MismatchNote)
		}
	}
	return rec
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
