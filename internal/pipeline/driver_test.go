package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/procurement-extractor/internal/checkpoint"
	"github.com/spherical/procurement-extractor/internal/domain"
	"github.com/spherical/procurement-extractor/internal/parser"
	"github.com/spherical/procurement-extractor/internal/report"
	"github.com/spherical/procurement-extractor/internal/walker"
)

// fakeRenderer opens documents by path. Paths in broken fail to open.
type fakeRenderer struct {
	pages  map[string]int
	broken map[string]bool
}

func (r *fakeRenderer) Open(path string) (domain.Document, error) {
	if r.broken[path] {
		return nil, domain.PDFReadError("corrupt "+path, nil)
	}
	n, ok := r.pages[path]
	if !ok {
		n = 1
	}
	return &fakeDoc{pages: n}, nil
}

type fakeDoc struct {
	pages  int
	closed bool
}

func (d *fakeDoc) NumPages() int { return d.pages }

func (d *fakeDoc) Render(ctx context.Context, page int) (domain.PageImage, error) {
	if err := ctx.Err(); err != nil {
		return domain.PageImage{}, err
	}
	return domain.PageImage{PageNumber: page, Data: []byte{byte(page)}, MIMEType: "image/jpeg"}, nil
}

func (d *fakeDoc) Close() error {
	d.closed = true
	return nil
}

// fakeClient answers with one record per page named after the page, unless
// respond is set. cancelAfter cancels the run once that many calls were made.
type fakeClient struct {
	calls       int
	respond     func(pc domain.PageContext) (domain.Completion, error)
	cancelAfter int
	cancel      context.CancelFunc
}

func (c *fakeClient) Extract(ctx context.Context, req domain.PageRequest) (domain.Completion, error) {
	if err := ctx.Err(); err != nil {
		return domain.Completion{}, err
	}
	c.calls++
	if c.cancel != nil && c.calls > c.cancelAfter {
		c.cancel()
		return domain.Completion{Attempts: 1}, ctx.Err()
	}
	if c.respond != nil {
		return c.respond(req.Context)
	}
	pc := req.Context
	text := fmt.Sprintf(`[{"software": "%s-p%d", "vendor": "Vendor %s", "cost_total": "$1,000"}]`, pc.SourceFile, pc.PageNumber, pc.District)
	return domain.Completion{Text: text, Attempts: 1}, nil
}

// sliceSource replays refs and lists districts.
type sliceSource struct {
	districts []string
	refs      []domain.PDFRef
}

func (s *sliceSource) Next() (domain.PDFRef, bool) {
	if len(s.refs) == 0 {
		return domain.PDFRef{}, false
	}
	ref := s.refs[0]
	s.refs = s.refs[1:]
	return ref, true
}

func (s *sliceSource) Districts() []string { return s.districts }

func newSource(districts []string, perDistrict int) *sliceSource {
	src := &sliceSource{districts: districts}
	for _, d := range districts {
		for i := 0; i < perDistrict; i++ {
			key := fmt.Sprintf("%s/R1/f%d.pdf", d, i)
			src.refs = append(src.refs, domain.PDFRef{District: d, Round: 1, RoundFolder: "R1", Path: "/in/" + key, Key: key})
		}
	}
	return src
}

// recordingStore counts saves on top of a real file store.
type recordingStore struct {
	*checkpoint.FileStore
	saves int
}

func (s *recordingStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	s.saves++
	return s.FileStore.Save(ctx, cp)
}

type countingReporter struct{ calls int }

func (r *countingReporter) WriteResults([]domain.SoftwareRecord, []domain.DistrictSummary) error {
	r.calls++
	return nil
}

func newParser(t *testing.T) *parser.Parser {
	t.Helper()
	p, err := parser.New(nil)
	require.NoError(t, err)
	return p
}

func newTestDriver(t *testing.T, r domain.Renderer, c domain.ExtractionClient, store checkpoint.Store, opts Options) *Driver {
	t.Helper()
	d := NewDriver(r, c, newParser(t), store, opts)
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func TestRunExtractsRecordsInOrder(t *testing.T) {
	r := &fakeRenderer{pages: map[string]int{"/in/Acme/R1/f0.pdf": 2}}
	src := newSource([]string{"Acme", "Bolt"}, 2)

	res, err := newTestDriver(t, r, &fakeClient{}, nil, Options{}).Run(context.Background(), src)
	require.NoError(t, err)

	var names []string
	for _, rec := range res.Records {
		names = append(names, rec.Software)
	}
	assert.Equal(t, []string{"f0.pdf-p1", "f0.pdf-p2", "f1.pdf-p1", "f0.pdf-p1", "f1.pdf-p1"}, names)

	first := res.Records[0]
	assert.Equal(t, "Acme", first.District)
	assert.Equal(t, 1, first.Round)
	assert.Equal(t, "f0.pdf", first.SourceFile)
	assert.Equal(t, "1000", first.CostTotal.Decimal.String())

	assert.Equal(t, 2, res.Stats.DistrictsProcessed)
	assert.Equal(t, 4, res.Stats.PDFsProcessed)
	assert.Equal(t, 5, res.Stats.PagesAnalyzed)
	assert.Equal(t, 5, res.Stats.APICalls)
	assert.Equal(t, 5, res.Stats.RecordsExtracted)
	assert.Zero(t, res.Stats.Errors)

	require.Len(t, res.Summaries, 2)
	assert.Equal(t, "Acme", res.Summaries[0].District)
	assert.Equal(t, 3, res.Summaries[0].Pages[1])
	assert.Equal(t, 2, res.Summaries[0].PDFs[1])
	assert.Equal(t, 3, res.Summaries[0].SoftwareRecords)
	assert.NotEqual(t, "", res.RunID.String())
}

func TestRunSkipsCorruptPDF(t *testing.T) {
	src := newSource([]string{"Acme"}, 10)
	r := &fakeRenderer{broken: map[string]bool{"/in/Acme/R1/f4.pdf": true}}
	store := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "checkpoint.json"))

	res, err := newTestDriver(t, r, &fakeClient{}, store, Options{}).Run(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, 9, res.Stats.PDFsProcessed)
	assert.Equal(t, 1, res.Stats.PDFReadErrors)
	assert.Equal(t, 1, res.Stats.Errors)
	assert.Len(t, res.Records, 9)
	assert.Equal(t, 9, res.Summaries[0].PDFs[1])

	cp, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, cp.Processed, 9)
	assert.NotContains(t, cp.Processed, "Acme/R1/f4.pdf")
	assert.Equal(t, []string{"Acme/R1/f4.pdf"}, cp.Failed)
}

func TestRunContinuesAfterAPIAndParseErrors(t *testing.T) {
	r := &fakeRenderer{pages: map[string]int{"/in/Acme/R1/f0.pdf": 3}}
	client := &fakeClient{respond: func(pc domain.PageContext) (domain.Completion, error) {
		switch pc.PageNumber {
		case 1:
			return domain.Completion{Attempts: 3}, domain.APIError("retries exhausted", nil)
		case 2:
			return domain.Completion{Text: "not json at all", Attempts: 1}, nil
		default:
			return domain.Completion{Text: `{"software": "Canvas"}`, Attempts: 1}, nil
		}
	}}

	res, err := newTestDriver(t, r, client, nil, Options{}).Run(context.Background(), newSource([]string{"Acme"}, 1))
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, 3, res.Records[0].PageNumber)
	assert.Equal(t, 5, res.Stats.APICalls)
	assert.Equal(t, 1, res.Stats.APIErrors)
	assert.Equal(t, 1, res.Stats.ParseErrors)
	assert.Equal(t, 2, res.Stats.Errors)
	assert.Equal(t, 1, res.Stats.PDFsProcessed)
}

func TestRunSleepsAfterSuccessfulUncachedCalls(t *testing.T) {
	r := &fakeRenderer{pages: map[string]int{"/in/Acme/R1/f0.pdf": 4}}
	client := &fakeClient{respond: func(pc domain.PageContext) (domain.Completion, error) {
		switch pc.PageNumber {
		case 2:
			return domain.Completion{Attempts: 3}, domain.APIError("down", nil)
		case 3:
			return domain.Completion{Text: "[]", Cached: true}, nil
		default:
			return domain.Completion{Text: "[]", Attempts: 1}, nil
		}
	}}

	d := NewDriver(r, client, newParser(t), nil, Options{CallInterval: 1500 * time.Millisecond})
	var slept []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return nil
	}

	res, err := d.Run(context.Background(), newSource([]string{"Acme"}, 1))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 1500 * time.Millisecond}, slept)
	assert.Equal(t, 1, res.Stats.CacheHits)
}

func TestRunCheckpointsEveryNDistricts(t *testing.T) {
	districts := []string{"A", "B", "C", "D", "E", "F", "G"}
	store := &recordingStore{FileStore: checkpoint.NewFileStore(filepath.Join(t.TempDir(), "cp.json"))}
	reporter := &countingReporter{}

	res, err := newTestDriver(t, &fakeRenderer{}, &fakeClient{}, store, Options{CheckpointInterval: 2, Reporter: reporter}).
		Run(context.Background(), newSource(districts, 1))
	require.NoError(t, err)

	assert.Equal(t, 7, res.Stats.DistrictsProcessed)
	// after B, D, F, then the final save
	assert.Equal(t, 4, store.saves)
	assert.Equal(t, 3, reporter.calls)
}

func TestRunCountsEmptyListedDistricts(t *testing.T) {
	src := newSource([]string{"Acme"}, 1)
	src.districts = []string{"Acme", "Empty", "Zeta"}
	src.refs = append(src.refs, domain.PDFRef{District: "Zeta", Round: 2, Path: "/in/Zeta/R2/z.pdf", Key: "Zeta/R2/z.pdf"})

	res, err := newTestDriver(t, &fakeRenderer{}, &fakeClient{}, nil, Options{}).Run(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Stats.DistrictsProcessed)
	require.Len(t, res.Summaries, 3)
	assert.Equal(t, "Empty", res.Summaries[1].District)
	assert.Zero(t, res.Summaries[1].TotalPDFs())
	assert.Equal(t, 1, res.Summaries[2].PDFs[2])
}

func TestRunResumeMatchesUninterruptedRun(t *testing.T) {
	districts := []string{"Acme", "Bolt", "Cole"}
	pages := map[string]int{"/in/Bolt/R1/f1.pdf": 3}

	full, err := newTestDriver(t, &fakeRenderer{pages: pages}, &fakeClient{}, nil, Options{}).
		Run(context.Background(), newSource(districts, 2))
	require.NoError(t, err)

	store := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "cp.json"))

	// interrupt in the middle of Bolt/R1/f1.pdf
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	partial, err := newTestDriver(t, &fakeRenderer{pages: pages}, &fakeClient{cancel: cancel, cancelAfter: 4}, store, Options{CheckpointInterval: 1}).
		Run(ctx, newSource(districts, 2))
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, partial.Records, 3)

	cp, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme/R1/f0.pdf", "Acme/R1/f1.pdf", "Bolt/R1/f0.pdf"}, cp.Processed)
	assert.Equal(t, []string{"Acme"}, cp.CompletedDistricts)

	client := &fakeClient{}
	resumed, err := newTestDriver(t, &fakeRenderer{pages: pages}, client, store, Options{Resume: true}).
		Run(context.Background(), newSource(districts, 2))
	require.NoError(t, err)

	assert.Equal(t, full.Records, resumed.Records)
	assert.Equal(t, full.Summaries, resumed.Summaries)
	assert.Equal(t, partial.RunID, resumed.RunID)
	assert.Equal(t, full.Stats.DistrictsProcessed, resumed.Stats.DistrictsProcessed)
	assert.Equal(t, full.Stats.PDFsProcessed, resumed.Stats.PDFsProcessed)
	assert.Equal(t, full.Stats.RecordsExtracted, resumed.Stats.RecordsExtracted)
	// only Bolt/R1/f1.pdf (3 pages) and Cole were redone
	assert.Equal(t, 5, client.calls)
}

func TestRunResumeDoesNotRecountUnreadablePDFs(t *testing.T) {
	districts := []string{"Acme", "Bolt", "Cole"}
	broken := map[string]bool{"/in/Acme/R1/f0.pdf": true, "/in/Bolt/R1/f0.pdf": true}

	full, err := newTestDriver(t, &fakeRenderer{broken: broken}, &fakeClient{}, nil, Options{}).
		Run(context.Background(), newSource(districts, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, full.Stats.PDFReadErrors)

	store := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "cp.json"))

	// interrupt during Bolt/R1/f1.pdf, after Bolt/R1/f0.pdf failed to open
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = newTestDriver(t, &fakeRenderer{broken: broken}, &fakeClient{cancel: cancel, cancelAfter: 1}, store, Options{CheckpointInterval: 1}).
		Run(ctx, newSource(districts, 2))
	require.ErrorIs(t, err, context.Canceled)

	cp, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme"}, cp.CompletedDistricts)
	assert.Equal(t, []string{"Acme/R1/f1.pdf"}, cp.Processed)
	assert.Equal(t, []string{"Acme/R1/f0.pdf", "Bolt/R1/f0.pdf"}, cp.Failed)

	r := &fakeRenderer{broken: broken}
	resumed, err := newTestDriver(t, r, &fakeClient{}, store, Options{Resume: true}).
		Run(context.Background(), newSource(districts, 2))
	require.NoError(t, err)

	assert.Equal(t, full.Stats, resumed.Stats)
	assert.Equal(t, full.Records, resumed.Records)
	assert.Equal(t, full.Summaries, resumed.Summaries)
}

func TestRunResumeWithoutCheckpointStartsFresh(t *testing.T) {
	store := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "cp.json"))
	res, err := newTestDriver(t, &fakeRenderer{}, &fakeClient{}, store, Options{Resume: true}).
		Run(context.Background(), newSource([]string{"Acme"}, 1))
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
}

func TestRunResumeWithUnreadableCheckpointFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))

	_, err := newTestDriver(t, &fakeRenderer{}, &fakeClient{}, checkpoint.NewFileStore(path), Options{Resume: true}).
		Run(context.Background(), newSource([]string{"Acme"}, 1))
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
}

func TestRunCancelledDuringPause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDriver(&fakeRenderer{}, &fakeClient{}, newParser(t), nil, Options{CallInterval: time.Second})
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res, err := d.Run(ctx, newSource([]string{"Acme"}, 2))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, res.Records)
	assert.Zero(t, res.Stats.PDFsProcessed)
}

func TestRunEmitsEvents(t *testing.T) {
	events := make(chan domain.ProgressEvent, 64)
	_, err := newTestDriver(t, &fakeRenderer{}, &fakeClient{}, nil, Options{Events: events}).
		Run(context.Background(), newSource([]string{"Acme"}, 1))
	require.NoError(t, err)
	close(events)

	var types []domain.EventType
	for ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventDistrictStart,
		domain.EventFileStart,
		domain.EventPageComplete,
		domain.EventFileComplete,
		domain.EventDistrictDone,
	}, types)
}

func TestRunDeliversEveryDistrictDoneToSlowConsumer(t *testing.T) {
	districts := []string{"Acme", "Bolt", "Cole", "Dune", "Echo"}
	events := make(chan domain.ProgressEvent, 1)

	done := make(chan int)
	go func() {
		n := 0
		for ev := range events {
			time.Sleep(time.Millisecond)
			if ev.Type == domain.EventDistrictDone {
				n++
			}
		}
		done <- n
	}()

	_, err := newTestDriver(t, &fakeRenderer{}, &fakeClient{}, nil, Options{Events: events}).
		Run(context.Background(), newSource(districts, 2))
	close(events)
	require.NoError(t, err)

	assert.Equal(t, len(districts), <-done)
}

// Acme/R1/a.pdf with two pages, one record on page 1, through the walker,
// the driver and the CSV writer.
func TestAcmeEndToEnd(t *testing.T) {
	root := t.TempDir()
	pdfPath := filepath.Join(root, "Acme", "R1", "a.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(pdfPath), 0o755))
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4"), 0o644))

	trav, err := walker.New(root, walker.Options{})
	require.NoError(t, err)

	client := &fakeClient{respond: func(pc domain.PageContext) (domain.Completion, error) {
		if pc.PageNumber == 1 {
			return domain.Completion{Text: "```json\n[{\"software\": \"ClassLink\"}]\n```", Attempts: 1}, nil
		}
		return domain.Completion{Text: "[]", Attempts: 1}, nil
	}}

	res, err := newTestDriver(t, &fakeRenderer{pages: map[string]int{pdfPath: 2}}, client, nil, Options{}).
		Run(context.Background(), trav)
	require.NoError(t, err)

	out := t.TempDir()
	require.NoError(t, report.NewWriter(out, nil).WriteResults(res.Records, res.Summaries))

	f, err := os.Open(filepath.Join(out, report.DetailedFile))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	row := map[string]string{}
	for i, col := range rows[0] {
		row[col] = rows[1][i]
	}
	assert.Equal(t, "Acme", row["District"])
	assert.Equal(t, "1", row["Round"])
	assert.Equal(t, "a.pdf", row["Source_File"])
	assert.Equal(t, "1", row["Page_Number"])
	assert.Equal(t, "ClassLink", row["Software"])

	summary, err := os.ReadFile(filepath.Join(out, report.SummaryFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(summary), "District,Round_1_Pages"))
	assert.Contains(t, string(summary), "Acme,2,0,0,0,2,1,0,0,0,1,1")
}
