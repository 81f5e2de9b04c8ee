package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/procurement-extractor/cmd/procurement-extractor/ui"
	"github.com/spherical/procurement-extractor/internal/cache"
	"github.com/spherical/procurement-extractor/internal/checkpoint"
	"github.com/spherical/procurement-extractor/internal/config"
	"github.com/spherical/procurement-extractor/internal/domain"
	"github.com/spherical/procurement-extractor/internal/llm"
	"github.com/spherical/procurement-extractor/internal/parser"
	"github.com/spherical/procurement-extractor/internal/pdf"
	"github.com/spherical/procurement-extractor/internal/pipeline"
	"github.com/spherical/procurement-extractor/internal/report"
)

var (
	runRoot               string
	runDistricts          []string
	runLimitDistricts     int
	runLimitPDFs          int
	runResume             bool
	runCheckpointInterval int
	runOutput             string
	runNoXLSX             bool
	runOrderByPages       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract procurement records from the district folders",
	Long: `Process every PDF under <root>/<District>/<Round>/ and write the results to
the output directory. Progress is checkpointed every few districts; use
--resume to continue an interrupted run.`,
	Example: `  procurement-extractor run --root Districts
  procurement-extractor run --district canton --district "North Shore" --limit-pdfs 2
  procurement-extractor run --resume`,
	RunE: runExtraction,
}

func init() {
	runCmd.Flags().StringVar(&runRoot, "root", "", "districts root folder")
	runCmd.Flags().StringArrayVarP(&runDistricts, "district", "d", nil, "only process matching districts (repeatable, exact or partial name)")
	runCmd.Flags().IntVar(&runLimitDistricts, "limit-districts", 0, "process at most this many districts")
	runCmd.Flags().IntVar(&runLimitPDFs, "limit-pdfs", 0, "process at most this many PDFs per round")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "resume from the last checkpoint")
	runCmd.Flags().IntVar(&runCheckpointInterval, "checkpoint-interval", 0, "districts between checkpoints")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "results directory")
	runCmd.Flags().BoolVar(&runNoXLSX, "no-xlsx", false, "skip the XLSX workbook")
	runCmd.Flags().BoolVar(&runOrderByPages, "order-by-pages", true, "process smaller PDFs first within each round")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overlays explicitly set flags on the loaded config.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Input.Root = runRoot
	}
	if flags.Changed("district") {
		cfg.Input.Districts = runDistricts
	}
	if flags.Changed("limit-districts") {
		cfg.Input.LimitDistricts = runLimitDistricts
	}
	if flags.Changed("limit-pdfs") {
		cfg.Input.LimitPDFsPerRound = runLimitPDFs
	}
	if flags.Changed("checkpoint-interval") {
		cfg.Checkpoint.Interval = runCheckpointInterval
	}
	if flags.Changed("output") {
		setOutputDir(cfg, runOutput)
	}
	if runNoXLSX {
		cfg.Output.XLSX = false
	}
	if flags.Changed("order-by-pages") {
		cfg.Input.OrderByPages = runOrderByPages
	}
}

func runExtraction(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return domain.ConfigError("invalid configuration", err)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return domain.StartupError("OPENAI_API_KEY is not set (EXTRACTION_API_KEY is also accepted); add it to your environment or .env file", nil)
	}

	logger, logCloser, err := newLogger(cfg, true)
	if err != nil {
		return domain.StartupError("init logger", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	trav, err := newTraversal(cfg, logger)
	if err != nil {
		return err
	}
	districts := trav.Districts()
	if len(districts) == 0 {
		ui.Warning("No districts to process under %s", cfg.Input.Root)
		return nil
	}

	apiClient, err := llm.NewClient(llm.Options{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.Extraction.BaseURL,
		Model:       cfg.Extraction.Model,
		MaxTokens:   cfg.Extraction.MaxTokens,
		Temperature: cfg.Extraction.Temperature,
		Timeout:     cfg.Extraction.Timeout,
		Retry: llm.RetryConfig{
			MaxAttempts:    cfg.Extraction.Retry.MaxAttempts,
			InitialBackoff: cfg.Extraction.Retry.InitialBackoff,
			Multiplier:     cfg.Extraction.Retry.Multiplier,
			MaxBackoff:     cfg.Extraction.Retry.MaxBackoff,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	var client domain.ExtractionClient = apiClient
	responseCache, err := cache.New(cfg.Cache)
	if err != nil {
		return domain.StartupError("init response cache", err)
	}
	if responseCache != nil {
		defer responseCache.Close()
		client = llm.NewCachedClient(apiClient, responseCache, cfg.Extraction.Model, cfg.Cache.TTL, logger)
	}

	recordParser, err := parser.New(logger)
	if err != nil {
		return err
	}

	store, err := openCheckpoint(cfg)
	if err != nil {
		return domain.StartupError("open checkpoint store", err)
	}
	defer store.Close()

	if !runResume {
		if _, err := store.Load(ctx); err == nil {
			ui.Warning("An earlier checkpoint exists and will be replaced. Use --resume to continue it.")
		}
	}

	writer := report.NewWriter(cfg.Output.Dir, logger)
	renderer := pdf.NewRenderer(cfg.Extraction.DPI, cfg.Extraction.ImageQuality, logger)

	events := make(chan domain.ProgressEvent, 256)
	driver := pipeline.NewDriver(renderer, client, recordParser, store, pipeline.Options{
		CallInterval:       cfg.Extraction.CallInterval,
		CheckpointInterval: cfg.Checkpoint.Interval,
		Resume:             runResume,
		Reporter:           writer,
		Events:             events,
		Logger:             logger,
	})

	ui.Section("Procurement Extraction")
	ui.KeyValue("Root", cfg.Input.Root)
	ui.KeyValue("Districts", fmt.Sprintf("%d", len(districts)))
	ui.KeyValue("Model", apiClient.Model())
	ui.KeyValue("Output", cfg.Output.Dir)
	if runResume {
		ui.KeyValue("Mode", "resume")
	}
	if cfg.Logging.File != "" {
		ui.KeyValue("Log file", cfg.Logging.File)
	}
	ui.Newline()

	type outcome struct {
		res *pipeline.Result
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		res, err := driver.Run(ctx, trav)
		close(events)
		done <- outcome{res: res, err: err}
	}()

	tracker := newRunTracker(len(districts))
	for ev := range events {
		tracker.handle(ev)
	}
	tracker.finish()

	out := <-done
	if out.res == nil {
		return out.err
	}

	spin := ui.NewSpinner("Writing reports...")
	spin.Start()
	agg, werr := writer.WriteAll(out.res.Records, out.res.Summaries, cfg.Output.XLSX)
	spin.Stop()
	if werr != nil {
		ui.Error("Writing reports failed: %v", werr)
	}

	showRunSummary(out.res, time.Since(start))
	if agg != nil {
		showOverview(agg)
		ui.Newline()
		ui.Success("Reports saved to %s", cfg.Output.Dir)
	}

	if out.err != nil {
		if errors.Is(out.err, context.Canceled) {
			ui.Warning("Run interrupted. Progress was checkpointed; continue with --resume.")
			return fmt.Errorf("interrupted")
		}
		return out.err
	}
	if werr != nil {
		return werr
	}
	return nil
}

// runTracker renders pipeline events as a district progress bar.
type runTracker struct {
	bar *ui.ProgressBar
}

func newRunTracker(districts int) *runTracker {
	return &runTracker{bar: ui.NewProgressBar(int64(districts), "Starting", "districts")}
}

func (t *runTracker) handle(ev domain.ProgressEvent) {
	switch ev.Type {
	case domain.EventDistrictStart:
		t.bar.Describe(ev.District)
	case domain.EventFileStart:
		t.bar.Describe(fmt.Sprintf("%s R%d %s", ev.District, ev.Round, ev.SourceFile))
	case domain.EventPageComplete:
		t.bar.Describe(fmt.Sprintf("%s R%d %s p%d/%d", ev.District, ev.Round, ev.SourceFile, ev.PageNumber, ev.Pages))
	case domain.EventDistrictDone:
		t.bar.Add(1)
	case domain.EventError:
		ui.Debug("%s: %s", ev.SourceFile, ev.Message)
	}
}

func (t *runTracker) finish() {
	t.bar.Finish()
}

func showRunSummary(res *pipeline.Result, elapsed time.Duration) {
	st := res.Stats
	ui.Section("Run Summary")
	ui.Table([]string{"Metric", "Value"}, [][]string{
		{"Run ID", res.RunID.String()},
		{"Duration", ui.FormatDuration(elapsed)},
		{"Districts processed", fmt.Sprintf("%d", st.DistrictsProcessed)},
		{"PDFs processed", fmt.Sprintf("%d", st.PDFsProcessed)},
		{"Pages analyzed", fmt.Sprintf("%d", st.PagesAnalyzed)},
		{"Records extracted", fmt.Sprintf("%d", st.RecordsExtracted)},
		{"API calls", fmt.Sprintf("%d", st.APICalls)},
		{"Cache hits", fmt.Sprintf("%d", st.CacheHits)},
		{"Errors", fmt.Sprintf("%d (pdf %d, api %d, parse %d)", st.Errors, st.PDFReadErrors, st.APIErrors, st.ParseErrors)},
	})
}

// showOverview prints the headline aggregates, top entries first.
func showOverview(agg *report.Aggregates) {
	ov := agg.Overview
	ui.Section("Analysis")
	ui.KeyValue("Software records", fmt.Sprintf("%d", ov.Records))
	ui.KeyValue("Districts", fmt.Sprintf("%d", ov.Districts))
	ui.KeyValue("Software products", fmt.Sprintf("%d", ov.Software))
	ui.KeyValue("Vendors", fmt.Sprintf("%d", ov.Vendors))
	ui.KeyValue("Records with cost", fmt.Sprintf("%d / %d", ov.RecordsWithCost, ov.Records))
	ui.KeyValue("Total documented cost", "$"+ov.TotalCost.StringFixed(2))
	if ov.AvgCost.Valid {
		ui.KeyValue("Average / median / max", fmt.Sprintf("$%s / $%s / $%s",
			ov.AvgCost.Decimal.StringFixed(2), ov.MedianCost.Decimal.StringFixed(2), ov.MaxCost.Decimal.StringFixed(2)))
	}

	var rounds []string
	for r := domain.MinRound; r <= domain.MaxRound; r++ {
		if n := ov.ByRound[r]; n > 0 {
			rounds = append(rounds, fmt.Sprintf("R%d: %d", r, n))
		}
	}
	if len(rounds) > 0 {
		ui.KeyValue("Records by round", strings.Join(rounds, ", "))
	}

	if len(agg.Vendors) > 0 {
		ui.Newline()
		rows := [][]string{}
		for i, v := range agg.Vendors {
			if i == 10 {
				break
			}
			rows = append(rows, []string{v.Vendor, fmt.Sprintf("%d", v.SoftwareCount), fmt.Sprintf("%d", v.DistrictsServed), "$" + v.TotalRevenue.StringFixed(2)})
		}
		ui.Table([]string{"Top vendors", "Software", "Districts", "Revenue"}, rows)
	}

	if len(agg.Software) > 0 {
		ui.Newline()
		rows := [][]string{}
		for i, s := range agg.Software {
			if i == 10 {
				break
			}
			rows = append(rows, []string{s.Software, fmt.Sprintf("%d", s.DistrictsUsing), s.PrimaryVendor})
		}
		ui.Table([]string{"Top software", "Districts", "Vendor"}, rows)
	}
}

// checkpointSummary describes a checkpoint in one line for status output.
func checkpointSummary(cp *checkpoint.Checkpoint) string {
	return fmt.Sprintf("%s, %s, %s",
		plural(len(cp.CompletedDistricts), "district"),
		plural(len(cp.Processed), "file"),
		plural(len(cp.Records), "record"))
}
