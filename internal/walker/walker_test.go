package walker

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/procurement-extractor/internal/domain"
)

func TestRoundTableNormalize(t *testing.T) {
	table := NewRoundTable(map[string]map[string]int{
		"Canton": {"FY 16-17": 1, "FY 17-18": 2, "FY 18-19": 3},
	})

	tests := []struct {
		district string
		folder   string
		want     int
		ok       bool
	}{
		{"Acme", "R1", 1, true},
		{"Acme", "r2", 2, true},
		{"Acme", "Round 3", 3, true},
		{"Acme", "round4", 4, true},
		{"Acme", "ROUND 1", 1, true},
		{"Acme", "Round_2", 2, true},
		{"Acme", "R5", 0, false},
		{"Acme", "R0", 0, false},
		{"Acme", "Misc", 0, false},
		{"Acme", "FY 16-17", 0, false},
		{"Canton", "FY 16-17", 1, true},
		{"canton", "fy 18-19", 3, true},
		{"Canton", "R2", 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.district+"/"+tt.folder, func(t *testing.T) {
			got, ok := table.Normalize(tt.district, tt.folder)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNilRoundTable(t *testing.T) {
	var table *RoundTable
	got, ok := table.Normalize("Acme", "Round 2")
	assert.True(t, ok)
	assert.Equal(t, 2, got)
}

func touch(t *testing.T, root string, parts ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{root}, parts...)...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))
	return path
}

func collect(tr *Traversal) []domain.PDFRef {
	var refs []domain.PDFRef
	for {
		ref, ok := tr.Next()
		if !ok {
			return refs
		}
		refs = append(refs, ref)
	}
}

func keys(refs []domain.PDFRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Key
	}
	return out
}

func TestTraversalOrderAndNormalization(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "Acme", "Round 2", "b.pdf")
	touch(t, root, "Acme", "R1", "a.PDF")
	touch(t, root, "Acme", "R1", "notes.txt")
	touch(t, root, "Acme", "R1", "sub", "c.pdf")
	touch(t, root, "Acme", "Archive", "x.pdf")
	touch(t, root, "Acme", "R7", "y.pdf")
	touch(t, root, "Bolt", "r3", "z.pdf")
	touch(t, root, ".hidden", "R1", "h.pdf")
	touch(t, root, "__pycache__", "R1", "p.pdf")
	touch(t, root, "Canton", "FY 17-18", "q.pdf")

	tr, err := New(root, Options{Overrides: map[string]map[string]int{"Canton": {"FY 17-18": 2}}})
	require.NoError(t, err)

	assert.Equal(t, []string{"Acme", "Bolt", "Canton"}, tr.Districts())

	refs := collect(tr)
	assert.Equal(t, []string{
		"Acme/R1/a.PDF",
		"Acme/R1/sub/c.pdf",
		"Acme/Round 2/b.pdf",
		"Bolt/r3/z.pdf",
		"Canton/FY 17-18/q.pdf",
	}, keys(refs))

	assert.Equal(t, 1, refs[0].Round)
	assert.Equal(t, "a.PDF", refs[0].FileName())
	assert.Equal(t, 2, refs[2].Round)
	assert.Equal(t, "Round 2", refs[2].RoundFolder)
	assert.Equal(t, 3, refs[3].Round)
	assert.Equal(t, 2, refs[4].Round)

	_, ok := tr.Next()
	assert.False(t, ok, "traversal is not restartable")
}

func TestTraversalDuplicateRoundsMerge(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "Acme", "R1", "a.pdf")
	touch(t, root, "Acme", "Round 1", "a.pdf")

	tr, err := New(root, Options{})
	require.NoError(t, err)

	refs := collect(tr)
	require.Len(t, refs, 2)
	assert.Equal(t, []string{"Acme/R1/a.pdf", "Acme/Round 1/a.pdf"}, keys(refs))
	for _, r := range refs {
		assert.Equal(t, 1, r.Round)
	}
}

func TestTraversalFiltersAndLimits(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "Acme Unified", "R1", "a.pdf")
	touch(t, root, "Acme Unified", "R1", "b.pdf")
	touch(t, root, "Acme Unified", "R1", "c.pdf")
	touch(t, root, "Acme", "R1", "a.pdf")
	touch(t, root, "Bolt", "R1", "a.pdf")
	touch(t, root, "Canton", "R1", "a.pdf")

	t.Run("exact match wins", func(t *testing.T) {
		tr, err := New(root, Options{Districts: []string{"acme"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"Acme"}, tr.Districts())
	})

	t.Run("substring match", func(t *testing.T) {
		tr, err := New(root, Options{Districts: []string{"unified", "bol"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"Acme Unified", "Bolt"}, tr.Districts())
	})

	t.Run("limit districts", func(t *testing.T) {
		tr, err := New(root, Options{LimitDistricts: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"Acme", "Acme Unified"}, tr.Districts())
	})

	t.Run("limit pdfs per round", func(t *testing.T) {
		tr, err := New(root, Options{Districts: []string{"Acme Unified"}, LimitPDFsPerRound: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"Acme Unified/R1/a.pdf", "Acme Unified/R1/b.pdf"}, keys(collect(tr)))
	})
}

type fakeCounter map[string]int

func (f fakeCounter) PageCount(path string) (int, error) {
	n, ok := f[filepath.Base(path)]
	if !ok {
		return 0, errors.New("corrupt")
	}
	return n, nil
}

func TestTraversalOrderByPageCount(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "Acme", "R1", "a.pdf")
	touch(t, root, "Acme", "R1", "b.pdf")
	touch(t, root, "Acme", "R1", "c.pdf")
	touch(t, root, "Acme", "R1", "d.pdf")

	tr, err := New(root, Options{PageCounter: fakeCounter{"a.pdf": 9, "b.pdf": 1, "d.pdf": 4}, LimitPDFsPerRound: 3})
	require.NoError(t, err)

	// c.pdf cannot be counted and is treated as empty
	assert.Equal(t, []string{"Acme/R1/c.pdf", "Acme/R1/b.pdf", "Acme/R1/d.pdf"}, keys(collect(tr)))
}

func TestNewUnreadableRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), Options{})
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, domain.ErrorTypeStartup, domain.TypeOf(err))
}

func TestEmptyDistrictYieldsNothing(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Empty", "R1"), 0o755))

	tr, err := New(root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Empty"}, tr.Districts())
	assert.Empty(t, collect(tr))
}

func TestInventory(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "Acme", "R1", "a.pdf")
	touch(t, root, "Acme", "R1", "b.pdf")
	touch(t, root, "Acme", "Round 3", "c.pdf")
	touch(t, root, "Bolt", "R2", "broken.pdf")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Empty", "R1"), 0o755))

	tr, err := New(root, Options{})
	require.NoError(t, err)

	var seen []string
	res := Inventory(tr, fakeCounter{"a.pdf": 3, "b.pdf": 5, "c.pdf": 2}, func(ref domain.PDFRef, pages int) {
		seen = append(seen, ref.Key)
	})

	require.Len(t, res.Summaries, 3)
	acme := res.Summaries[0]
	assert.Equal(t, "Acme", acme.District)
	assert.Equal(t, 8, acme.Pages[1])
	assert.Equal(t, 2, acme.PDFs[1])
	assert.Equal(t, 2, acme.Pages[3])
	assert.Equal(t, 10, acme.TotalPages())
	assert.Equal(t, 3, acme.TotalPDFs())

	bolt := res.Summaries[1]
	assert.Equal(t, 1, bolt.PDFs[2])
	assert.Zero(t, bolt.TotalPages())

	assert.Equal(t, "Empty", res.Summaries[2].District)
	assert.Zero(t, res.Summaries[2].TotalPDFs())

	assert.Equal(t, []string{"Bolt/R2/broken.pdf"}, res.Unreadable)
	assert.Len(t, seen, 4)
}
