package llm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spherical/procurement-extractor/internal/domain"
)

// maxHintChars bounds the embedded page text passed along with the image.
const maxHintChars = 800

// BuildInstruction returns the fixed extraction instruction for one page.
// pageText is the embedded text layer, if any, and is truncated.
func BuildInstruction(pc domain.PageContext, pageText string) string {
	hint := strings.TrimSpace(pageText)
	if utf8.RuneCountInString(hint) > maxHintChars {
		hint = string([]rune(hint)[:maxHintChars]) + "..."
	}
	if hint == "" {
		hint = "(no text layer)"
	}

	return fmt.Sprintf(instructionTemplate, pc.District, pc.Round, pc.PageNumber, pc.SourceFile, hint)
}

const instructionTemplate = `You are reading a page from a %s school district procurement document (Round %d, Page %d).

Document: %s
Text layer: %s

Find every educational software product, application, web service, license, subscription or
technology contract on this page. Ignore physical hardware, non-technology services, office
supplies and furniture.

Return one JSON object per software item with these fields:
{
  "software": "product or service name",
  "vendor": "company providing it",
  "school_name": "school, empty when district-wide",
  "approx_level": "PreK, Elementary, Middle, High, Multiple or Alt",
  "use_type": "Administrative or Instructional",
  "host_type": "Cloud or Install",
  "num_school_lic": "school license count, digits only",
  "num_district_lic": "district license count, digits only",
  "cost_per_lic": "cost per license, digits only",
  "cost_total": "total cost, digits only",
  "contract_start_month": "full month name",
  "contract_start_year": "4-digit year",
  "contract_length_years": "length in years, digits only",
  "install_month": "full month name",
  "install_year": "4-digit year",
  "quote_month": "full month name",
  "quote_year": "4-digit year",
  "misc_notes": "renewal details, special terms"
}

Rules:
1. One entry per line item; do not merge items.
2. Use only what the page states; leave unknown fields as "".
3. Include renewals and maintenance subscriptions for software.

Return ONLY a JSON array, no other text. If the page has no software, return [].`
