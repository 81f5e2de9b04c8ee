package walker

import (
	"path/filepath"

	"github.com/spherical/procurement-extractor/internal/domain"
)

// InventoryResult holds per-district PDF and page counts gathered without
// rendering or calling the model.
type InventoryResult struct {
	Summaries []domain.DistrictSummary
	// Unreadable lists the keys of PDFs whose page count failed.
	Unreadable []string
}

// Inventory counts PDFs and pages per district and round for every PDF the
// traversal yields. Listed districts without PDFs still get a zero row.
// onFile, when set, is called after each PDF is counted.
func Inventory(t *Traversal, counter PageCounter, onFile func(ref domain.PDFRef, pages int)) InventoryResult {
	var res InventoryResult
	index := make(map[string]int)
	for _, d := range t.Districts() {
		index[d] = len(res.Summaries)
		res.Summaries = append(res.Summaries, domain.DistrictSummary{District: d})
	}

	for {
		ref, ok := t.Next()
		if !ok {
			break
		}
		i, ok := index[ref.District]
		if !ok {
			index[ref.District] = len(res.Summaries)
			i = len(res.Summaries)
			res.Summaries = append(res.Summaries, domain.DistrictSummary{District: ref.District})
		}

		pages, err := counter.PageCount(ref.Path)
		if err != nil {
			t.logger.Warn().Err(err).Str("pdf", filepath.Base(ref.Path)).Msg("page count failed")
			res.Unreadable = append(res.Unreadable, ref.Key)
			pages = 0
		}

		s := &res.Summaries[i]
		s.PDFs[ref.Round]++
		s.Pages[ref.Round] += pages
		if onFile != nil {
			onFile(ref, pages)
		}
	}
	return res
}
