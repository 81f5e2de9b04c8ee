// Package walker enumerates district round folders and the PDFs inside them.
package walker

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spherical/procurement-extractor/internal/domain"
	"github.com/spherical/procurement-extractor/internal/observability"
)

// PageCounter reports the page count of a PDF without rendering it.
type PageCounter interface {
	PageCount(path string) (int, error)
}

// Options controls which districts and PDFs a Traversal yields.
type Options struct {
	// Districts filters by name: exact case-insensitive match first, then substring.
	Districts         []string
	LimitDistricts    int
	LimitPDFsPerRound int
	Overrides         map[string]map[string]int
	// PageCounter, when set, orders PDFs inside a round by ascending page count.
	PageCounter PageCounter
	Logger      *observability.Logger
}

// RoundFolder is a recognized round directory of a district.
type RoundFolder struct {
	Name  string
	Round int
	Path  string
}

// Traversal is a finite, non-restartable sequence of PDF refs.
type Traversal struct {
	root      string
	opts      Options
	rounds    *RoundTable
	logger    *observability.Logger
	districts []string

	next    int // index into districts of the next district to expand
	pending []domain.PDFRef
}

// New reads root eagerly and selects districts. Round folders and PDFs are
// listed lazily, one district at a time, as Next is called.
func New(root string, opts Options) (*Traversal, error) {
	logger := opts.Logger
	if logger == nil {
		logger = observability.Nop()
	}

	all, err := ListDistricts(root)
	if err != nil {
		return nil, err
	}

	selected := FilterDistricts(all, opts.Districts)
	for _, want := range opts.Districts {
		if len(FilterDistricts(all, []string{want})) == 0 {
			logger.Warn().Str("district", want).Msg("no district matches filter")
		}
	}
	if opts.LimitDistricts > 0 && len(selected) > opts.LimitDistricts {
		selected = selected[:opts.LimitDistricts]
	}

	return &Traversal{
		root:      root,
		opts:      opts,
		rounds:    NewRoundTable(opts.Overrides),
		logger:    logger.WithComponent("walker"),
		districts: selected,
	}, nil
}

// Districts returns the selected districts in visiting order.
func (t *Traversal) Districts() []string {
	out := make([]string, len(t.districts))
	copy(out, t.districts)
	return out
}

// Next returns the next PDF, or false once every selected district is exhausted.
func (t *Traversal) Next() (domain.PDFRef, bool) {
	for len(t.pending) == 0 {
		if t.next >= len(t.districts) {
			return domain.PDFRef{}, false
		}
		district := t.districts[t.next]
		t.next++
		t.pending = t.expand(district)
	}

	ref := t.pending[0]
	t.pending = t.pending[1:]
	return ref, true
}

// expand lists every PDF of a district in (round, folder name, file) order.
func (t *Traversal) expand(district string) []domain.PDFRef {
	log := t.logger.WithDistrict(district)

	folders, err := RoundFolders(filepath.Join(t.root, district), district, t.rounds, log)
	if err != nil {
		log.Warn().Err(err).Msg("cannot list district folder")
		return nil
	}

	var refs []domain.PDFRef
	for _, folder := range folders {
		pdfs, err := t.listPDFs(folder.Path, log)
		if err != nil {
			log.Warn().Err(err).Str("folder", folder.Name).Msg("cannot list round folder")
			continue
		}
		if len(pdfs) == 0 {
			log.Debug().Str("folder", folder.Name).Msg("round folder has no PDFs")
		}

		for _, path := range pdfs {
			refs = append(refs, domain.PDFRef{
				District:    district,
				Round:       folder.Round,
				RoundFolder: folder.Name,
				Path:        path,
				Key:         t.key(path),
			})
		}
	}

	log.Info().Int("rounds", len(folders)).Int("pdfs", len(refs)).Msg("district listed")
	return refs
}

func (t *Traversal) key(path string) string {
	rel, err := filepath.Rel(t.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (t *Traversal) listPDFs(dir string, log *observability.Logger) ([]string, error) {
	pdfs, err := FindPDFs(dir)
	if err != nil {
		return nil, err
	}

	if t.opts.PageCounter != nil {
		pdfs = orderByPageCount(pdfs, t.opts.PageCounter, log)
	}

	if t.opts.LimitPDFsPerRound > 0 && len(pdfs) > t.opts.LimitPDFsPerRound {
		pdfs = pdfs[:t.opts.LimitPDFsPerRound]
	}
	return pdfs, nil
}

// ListDistricts returns the visible immediate subfolders of root, sorted.
// An unreadable root is a startup error.
func ListDistricts(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, domain.StartupError("cannot read input root "+root, err)
	}

	var districts []string
	for _, e := range entries {
		if !e.IsDir() || skipDir(e.Name()) {
			continue
		}
		districts = append(districts, e.Name())
	}
	sort.Strings(districts)
	return districts, nil
}

// FilterDistricts selects districts by name. For each wanted name an exact
// case-insensitive match wins; otherwise every district containing it is taken.
// An empty filter selects everything. Result keeps the order of all.
func FilterDistricts(all, wanted []string) []string {
	if len(wanted) == 0 {
		return all
	}

	chosen := make(map[string]bool)
	for _, w := range wanted {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		exact := false
		for _, d := range all {
			if strings.ToLower(d) == w {
				chosen[d] = true
				exact = true
			}
		}
		if exact {
			continue
		}
		for _, d := range all {
			if strings.Contains(strings.ToLower(d), w) {
				chosen[d] = true
			}
		}
	}

	var out []string
	for _, d := range all {
		if chosen[d] {
			out = append(out, d)
		}
	}
	return out
}

// RoundFolders lists the recognized round folders of a district directory,
// ordered by (round, name). Unrecognized folders are logged and skipped.
func RoundFolders(dir, district string, rounds *RoundTable, log *observability.Logger) ([]RoundFolder, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var folders []RoundFolder
	for _, e := range entries {
		if !e.IsDir() || skipDir(e.Name()) {
			continue
		}
		round, ok := rounds.Normalize(district, e.Name())
		if !ok {
			log.Warn().Str("folder", e.Name()).Msg("unrecognized round folder, skipping")
			continue
		}
		folders = append(folders, RoundFolder{Name: e.Name(), Round: round, Path: filepath.Join(dir, e.Name())})
	}

	sort.SliceStable(folders, func(i, j int) bool {
		if folders[i].Round != folders[j].Round {
			return folders[i].Round < folders[j].Round
		}
		return folders[i].Name < folders[j].Name
	})
	return folders, nil
}

// FindPDFs returns every .pdf file below dir (case-insensitive extension),
// sorted by path. Hidden directories are skipped.
func FindPDFs(dir string) ([]string, error) {
	var pdfs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir {
				return walkErr
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".pdf") && !strings.HasPrefix(d.Name(), ".") {
			pdfs = append(pdfs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(pdfs)
	return pdfs, nil
}

func orderByPageCount(pdfs []string, counter PageCounter, log *observability.Logger) []string {
	counts := make(map[string]int, len(pdfs))
	for _, p := range pdfs {
		n, err := counter.PageCount(p)
		if err != nil {
			// counted as empty so they sort first; the renderer reports them
			log.Debug().Err(err).Str("pdf", filepath.Base(p)).Msg("page count failed")
			n = 0
		}
		counts[p] = n
	}

	out := make([]string, len(pdfs))
	copy(out, pdfs)
	sort.SliceStable(out, func(i, j int) bool {
		return counts[out[i]] < counts[out[j]]
	})
	return out
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "__pycache__"
}
