// Package pipeline drives the extraction run: walk, render, extract, parse,
// checkpoint.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/procurement-extractor/internal/checkpoint"
	"github.com/spherical/procurement-extractor/internal/domain"
	"github.com/spherical/procurement-extractor/internal/observability"
)

const (
	DefaultCallInterval       = 1500 * time.Millisecond
	DefaultCheckpointInterval = 5
)

// Source yields the PDFs to process, grouped by district.
type Source interface {
	Next() (domain.PDFRef, bool)
}

// DistrictLister is implemented by sources that know their districts up
// front. Listed districts are counted and summarized even when they hold
// no PDFs.
type DistrictLister interface {
	Districts() []string
}

// RecordParser turns a raw model response into records.
type RecordParser interface {
	Parse(raw string, pc domain.PageContext, stats *domain.RunStatistics) []domain.SoftwareRecord
}

// Reporter persists intermediate results at checkpoints.
type Reporter interface {
	WriteResults(records []domain.SoftwareRecord, summaries []domain.DistrictSummary) error
}

// Options configures a Driver.
type Options struct {
	// CallInterval is the pause after each successful uncached API call.
	// Zero disables pacing; DefaultCallInterval suits the public API limits.
	CallInterval       time.Duration
	CheckpointInterval int
	Resume             bool
	Reporter           Reporter
	Events             chan<- domain.ProgressEvent
	Logger             *observability.Logger
}

// Result is the outcome of a run. On cancellation it holds everything
// committed up to the last fully processed PDF.
type Result struct {
	RunID     uuid.UUID
	Records   []domain.SoftwareRecord
	Stats     domain.RunStatistics
	Summaries []domain.DistrictSummary
}

// Driver orchestrates a single sequential extraction run.
type Driver struct {
	renderer domain.Renderer
	client   domain.ExtractionClient
	parser   RecordParser
	store    checkpoint.Store
	opts     Options
	logger   *observability.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewDriver creates a driver. store may be nil, in which case nothing is
// checkpointed and Resume is ignored.
func NewDriver(renderer domain.Renderer, client domain.ExtractionClient, parser RecordParser, store checkpoint.Store, opts Options) *Driver {
	if opts.CallInterval < 0 {
		opts.CallInterval = 0
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = DefaultCheckpointInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Nop()
	}

	return &Driver{
		renderer: renderer,
		client:   client,
		parser:   parser,
		store:    store,
		opts:     opts,
		logger:   logger.WithComponent("pipeline"),
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// runState is the committed progress of a run. Work on a PDF is staged
// separately and only merged here once the whole file is done, so a
// checkpoint never holds half a file.
type runState struct {
	runID     uuid.UUID
	records   []domain.SoftwareRecord
	stats     domain.RunStatistics
	processed map[string]bool
	failed    map[string]bool // unreadable, already counted
	completed map[string]bool

	summaries    map[string]*domain.DistrictSummary
	summaryOrder []string

	// per-run bookkeeping, not persisted
	finished        map[string]bool
	order           []string
	orderIndex      map[string]int
	cursor          int
	sinceCheckpoint int
}

// Run processes every PDF src yields. It returns an error only when the
// context is cancelled (after writing a checkpoint) or when a requested
// resume cannot load the checkpoint.
func (d *Driver) Run(ctx context.Context, src Source) (*Result, error) {
	st, err := d.initState(ctx)
	if err != nil {
		return nil, err
	}

	if lister, ok := src.(DistrictLister); ok {
		st.order = lister.Districts()
		for i, name := range st.order {
			st.orderIndex[name] = i
			st.summary(name)
		}
	}

	start := d.now()
	d.logger.Info().
		Str("run_id", st.runID.String()).
		Int("districts", len(st.order)).
		Int("already_processed", len(st.processed)).
		Msg("pipeline started")

	current := ""
	for {
		if err := ctx.Err(); err != nil {
			return d.interrupt(st, err)
		}

		ref, ok := src.Next()
		if !ok {
			break
		}

		if ref.District != current {
			if err := d.advanceTo(ctx, st, current, ref.District); err != nil {
				return d.interrupt(st, err)
			}
			current = ref.District
			st.summary(current)
			d.emit(domain.ProgressEvent{Type: domain.EventDistrictStart, District: current})
		}

		if st.completed[ref.District] || st.processed[ref.Key] || st.failed[ref.Key] {
			d.logger.Debug().Str("file", ref.Key).Msg("already handled, skipping")
			d.emit(domain.ProgressEvent{Type: domain.EventFileSkipped, District: ref.District, Round: ref.Round, SourceFile: ref.FileName()})
			continue
		}

		if err := d.processPDF(ctx, st, ref); err != nil {
			return d.interrupt(st, err)
		}
	}

	if err := d.advanceTo(ctx, st, current, ""); err != nil {
		return d.interrupt(st, err)
	}

	if err := d.saveCheckpoint(context.WithoutCancel(ctx), st); err != nil {
		d.logger.Error().Err(err).Msg("final checkpoint failed")
	}

	d.logger.Info().
		Str("run_id", st.runID.String()).
		Dur("elapsed", d.now().Sub(start)).
		Str("stats", st.stats.String()).
		Msg("pipeline complete")

	return st.result(), nil
}

func (d *Driver) initState(ctx context.Context) (*runState, error) {
	st := &runState{
		processed:  make(map[string]bool),
		failed:     make(map[string]bool),
		completed:  make(map[string]bool),
		summaries:  make(map[string]*domain.DistrictSummary),
		finished:   make(map[string]bool),
		orderIndex: make(map[string]int),
	}

	if d.opts.Resume && d.store != nil {
		cp, err := d.store.Load(ctx)
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
			d.logger.Info().Msg("no checkpoint found, starting fresh")
		case err != nil:
			return nil, domain.StartupError("load checkpoint", err)
		default:
			st.seed(cp)
			d.logger.Info().
				Str("run_id", cp.RunID.String()).
				Int("records", len(cp.Records)).
				Int("processed", len(cp.Processed)).
				Msg("resuming from checkpoint")
		}
	}

	if st.runID == uuid.Nil {
		st.runID = uuid.New()
	}
	return st, nil
}

// advanceTo finishes the current district and every listed district
// ordered before next. An empty next finishes everything.
func (d *Driver) advanceTo(ctx context.Context, st *runState, current, next string) error {
	nextIdx, listed := st.orderIndex[next]
	if next == "" {
		nextIdx, listed = len(st.order), true
	}

	if current != "" {
		if err := d.finishDistrict(ctx, st, current); err != nil {
			return err
		}
	}

	if !listed {
		return nil
	}
	for st.cursor < nextIdx && st.cursor < len(st.order) {
		if err := d.finishDistrict(ctx, st, st.order[st.cursor]); err != nil {
			return err
		}
		st.cursor++
	}
	if st.cursor == nextIdx && next != "" {
		st.cursor++
	}
	return nil
}

func (d *Driver) finishDistrict(ctx context.Context, st *runState, district string) error {
	if st.finished[district] {
		return nil
	}
	st.finished[district] = true
	st.summary(district)

	if st.completed[district] {
		d.emitWait(ctx, domain.ProgressEvent{Type: domain.EventDistrictDone, District: district, Message: "completed in an earlier run"})
		return nil
	}
	st.completed[district] = true
	st.stats.DistrictsProcessed++
	st.sinceCheckpoint++

	s := st.summaries[district]
	d.logger.Info().
		Str("district", district).
		Int("pdfs", s.TotalPDFs()).
		Int("pages", s.TotalPages()).
		Int("records", s.SoftwareRecords).
		Msg("district complete")
	d.emitWait(ctx, domain.ProgressEvent{Type: domain.EventDistrictDone, District: district, Records: s.SoftwareRecords})

	if st.sinceCheckpoint >= d.opts.CheckpointInterval {
		st.sinceCheckpoint = 0
		if err := d.saveCheckpoint(ctx, st); err != nil {
			d.logger.Error().Err(err).Msg("checkpoint failed")
		}
		if d.opts.Reporter != nil {
			if err := d.opts.Reporter.WriteResults(st.records, st.summaryList()); err != nil {
				d.logger.Error().Err(err).Msg("intermediate results not written")
			}
		}
	}
	return ctx.Err()
}

// processPDF handles one file. It returns an error only on cancellation.
func (d *Driver) processPDF(ctx context.Context, st *runState, ref domain.PDFRef) error {
	log := d.logger.With().
		Str("district", ref.District).
		Int("round", ref.Round).
		Str("file", ref.Key).
		Logger()

	doc, err := d.renderer.Open(ref.Path)
	if err != nil {
		st.stats.RecordError(domain.ErrorTypePDFRead)
		st.failed[ref.Key] = true
		log.Error().Err(err).Msg("cannot read PDF, skipping")
		d.emit(domain.ProgressEvent{Type: domain.EventError, District: ref.District, SourceFile: ref.FileName(), Message: err.Error()})
		return nil
	}
	defer doc.Close()

	pages := doc.NumPages()
	log.Info().Int("pages", pages).Msg("processing PDF")
	d.emit(domain.ProgressEvent{Type: domain.EventFileStart, District: ref.District, Round: ref.Round, SourceFile: ref.FileName(), Pages: pages})

	var (
		staged  []domain.SoftwareRecord
		scratch domain.RunStatistics
	)

	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		pc := domain.PageContext{
			District:   ref.District,
			Round:      ref.Round,
			SourceFile: ref.FileName(),
			PageNumber: page,
		}

		records, err := d.processPage(ctx, doc, pc, &scratch, log)
		if err != nil {
			return err
		}
		staged = append(staged, records...)
		d.emit(domain.ProgressEvent{Type: domain.EventPageComplete, District: ref.District, Round: ref.Round, SourceFile: pc.SourceFile, PageNumber: page, Pages: pages, Records: len(records)})
	}

	// commit
	scratch.PDFsProcessed++
	st.stats.Add(scratch)
	st.records = append(st.records, staged...)
	st.processed[ref.Key] = true

	s := st.summary(ref.District)
	if domain.ValidRound(ref.Round) {
		s.PDFs[ref.Round]++
		s.Pages[ref.Round] += pages
	}
	s.SoftwareRecords += len(staged)

	log.Info().Int("records", len(staged)).Msg("PDF complete")
	d.emit(domain.ProgressEvent{Type: domain.EventFileComplete, District: ref.District, Round: ref.Round, SourceFile: ref.FileName(), Pages: pages, Records: len(staged)})
	return nil
}

// processPage renders, extracts and parses one page. Non-fatal failures are
// counted in stats and yield no records.
func (d *Driver) processPage(ctx context.Context, doc domain.Document, pc domain.PageContext, stats *domain.RunStatistics, log *observability.Logger) ([]domain.SoftwareRecord, error) {
	img, err := doc.Render(ctx, pc.PageNumber)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		stats.RecordError(domain.ErrorTypePDFRead)
		log.Warn().Int("page", pc.PageNumber).Err(err).Msg("page render failed")
		return nil, nil
	}
	stats.PagesAnalyzed++

	comp, err := d.client.Extract(ctx, domain.PageRequest{Image: img, Context: pc})
	stats.APICalls += comp.Attempts
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		stats.RecordError(domain.ErrorTypeAPI)
		log.Error().Int("page", pc.PageNumber).Int("attempts", comp.Attempts).Err(err).Msg("extraction failed")
		return nil, nil
	}

	if comp.Cached {
		stats.CacheHits++
	} else if d.opts.CallInterval > 0 {
		if err := d.sleep(ctx, d.opts.CallInterval); err != nil {
			return nil, err
		}
	}

	records := d.parser.Parse(comp.Text, pc, stats)
	log.Debug().Int("page", pc.PageNumber).Int("records", len(records)).Bool("cached", comp.Cached).Msg("page analyzed")
	return records, nil
}

// interrupt saves what has been committed and returns the partial result.
func (d *Driver) interrupt(st *runState, cause error) (*Result, error) {
	d.logger.Warn().Err(cause).Str("stats", st.stats.String()).Msg("run interrupted, saving checkpoint")
	if err := d.saveCheckpoint(context.Background(), st); err != nil {
		d.logger.Error().Err(err).Msg("checkpoint on interrupt failed")
	}
	return st.result(), cause
}

func (d *Driver) saveCheckpoint(ctx context.Context, st *runState) error {
	if d.store == nil {
		return nil
	}
	cp := &checkpoint.Checkpoint{
		RunID:              st.runID,
		UpdatedAt:          d.now().UTC(),
		Stats:              st.stats,
		Records:            st.records,
		Processed:          checkpoint.SortedKeys(st.processed),
		Failed:             checkpoint.SortedKeys(st.failed),
		CompletedDistricts: checkpoint.SortedKeys(st.completed),
		Summaries:          st.summaryList(),
	}
	if err := d.store.Save(ctx, cp); err != nil {
		return domain.IOError("save checkpoint", err)
	}
	d.logger.Debug().Int("processed", len(cp.Processed)).Int("records", len(cp.Records)).Msg("checkpoint saved")
	d.emit(domain.ProgressEvent{Type: domain.EventCheckpoint, Records: len(cp.Records), Message: fmt.Sprintf("%d files", len(cp.Processed))})
	return nil
}

// emit sends an event without blocking.
func (d *Driver) emit(ev domain.ProgressEvent) {
	if d.opts.Events == nil {
		return
	}
	ev.Timestamp = d.now()
	select {
	case d.opts.Events <- ev:
	default:
		d.logger.Debug().Str("event", string(ev.Type)).Msg("event channel full, dropping event")
	}
}

// emitWait delivers district-level events, which drive progress counts,
// waiting for the consumer until ctx is done.
func (d *Driver) emitWait(ctx context.Context, ev domain.ProgressEvent) {
	if d.opts.Events == nil {
		return
	}
	ev.Timestamp = d.now()
	select {
	case d.opts.Events <- ev:
		return
	default:
	}
	select {
	case d.opts.Events <- ev:
	case <-ctx.Done():
		d.logger.Debug().Str("event", string(ev.Type)).Msg("run cancelled, dropping event")
	}
}

func (st *runState) seed(cp *checkpoint.Checkpoint) {
	st.runID = cp.RunID
	st.stats = cp.Stats
	st.records = append(st.records, cp.Records...)
	for _, k := range cp.Processed {
		st.processed[k] = true
	}
	for _, k := range cp.Failed {
		st.failed[k] = true
	}
	for _, dname := range cp.CompletedDistricts {
		st.completed[dname] = true
	}
	for _, s := range cp.Summaries {
		st.summaries[s.District] = &s
		st.summaryOrder = append(st.summaryOrder, s.District)
	}
}

// summary returns the summary of district, creating it if needed.
func (st *runState) summary(district string) *domain.DistrictSummary {
	if s, ok := st.summaries[district]; ok {
		return s
	}
	s := &domain.DistrictSummary{District: district}
	st.summaries[district] = s
	st.summaryOrder = append(st.summaryOrder, district)
	return s
}

func (st *runState) summaryList() []domain.DistrictSummary {
	out := make([]domain.DistrictSummary, 0, len(st.summaryOrder))
	for _, name := range st.summaryOrder {
		out = append(out, *st.summaries[name])
	}
	return out
}

func (st *runState) result() *Result {
	records := make([]domain.SoftwareRecord, len(st.records))
	copy(records, st.records)
	return &Result{
		RunID:     st.runID,
		Records:   records,
		Stats:     st.stats,
		Summaries: st.summaryList(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
