package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const entrySchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["software"],
  "properties": {
    "software": {"type": "string", "minLength": 1, "pattern": "\\S"},
    "vendor": {"type": ["string", "null"]},
    "school_name": {"type": ["string", "null"]},
    "misc_notes": {"type": ["string", "null"]}
  }
}`

func compileEntrySchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("entry.json", strings.NewReader(entrySchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("entry.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// fieldAliases maps normalized keys (lowercase, letters and digits only) to
// canonical field names. Covers snake_case keys and CSV column names.
var fieldAliases = map[string]string{
	"software":            "software",
	"softwarename":        "software",
	"product":             "software",
	"application":         "software",
	"vendor":              "vendor",
	"vendorname":          "vendor",
	"company":             "vendor",
	"schoolname":          "school_name",
	"school":              "school_name",
	"approxlevel":         "approx_level",
	"level":               "approx_level",
	"usetype":             "use_type",
	"hosttype":            "host_type",
	"numschoollic":        "num_school_lic",
	"numschoollicenses":   "num_school_lic",
	"numdistrictlic":      "num_district_lic",
	"numdistrictlicenses": "num_district_lic",
	"costperlic":          "cost_per_lic",
	"costperlicense":      "cost_per_lic",
	"costtotal":           "cost_total",
	"totalcost":           "cost_total",
	"contractstartmonth":  "contract_start_month",
	"contractstartyear":   "contract_start_year",
	"contractlengthyears": "contract_length_years",
	"contractlength":      "contract_length_years",
	"installmonth":        "install_month",
	"installyear":         "install_year",
	"quotemonth":          "quote_month",
	"quoteyear":           "quote_year",
	"miscnotes":           "misc_notes",
	"notes":               "misc_notes",
}

func normalizeKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// canonicalize renames recognized keys and drops the rest. A key spelled
// like the canonical name beats an alias; among aliases the first in sorted
// order wins.
func canonicalize(entry map[string]any) map[string]any {
	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(entry))
	for _, exact := range []bool{true, false} {
		for _, k := range keys {
			nk := normalizeKey(k)
			name, ok := fieldAliases[nk]
			if !ok || (nk == strings.ReplaceAll(name, "_", "")) != exact {
				continue
			}
			if _, dup := out[name]; dup {
				continue
			}
			v := entry[k]
			switch name {
			case "software", "vendor", "school_name", "misc_notes":
				if v != nil {
					v = text(v)
				}
			}
			out[name] = v
		}
	}
	return out
}
