package commands

import (
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/spherical/procurement-extractor/cmd/procurement-extractor/ui"
	"github.com/spherical/procurement-extractor/internal/report"
)

var (
	reportOutput string
	reportNoXLSX bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Rebuild the aggregate reports and workbook from the detailed CSV",
	Long: `Read ` + report.DetailedFile + ` (and ` + report.SummaryFile + ` when present) from the
results directory and regenerate the software, vendor and district reports
and the XLSX workbook. No model calls are made.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "results directory")
	reportCmd.Flags().BoolVar(&reportNoXLSX, "no-xlsx", false, "skip the XLSX workbook")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	if cmd.Flags().Changed("output") {
		setOutputDir(cfg, reportOutput)
	}
	if reportNoXLSX {
		cfg.Output.XLSX = false
	}

	logger, logCloser, err := newLogger(cfg, true)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	dir := cfg.Output.Dir
	records, err := report.ReadRecords(filepath.Join(dir, report.DetailedFile))
	if err != nil {
		return err
	}

	summaries, err := report.ReadSummaries(filepath.Join(dir, report.SummaryFile))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		ui.Warning("%s not found; the workbook will have no district summary", report.SummaryFile)
		summaries = nil
	}

	w := report.NewWriter(dir, logger)
	agg := report.Aggregate(records)
	if err := w.WriteAggregates(agg); err != nil {
		return err
	}
	if cfg.Output.XLSX {
		if err := report.WriteWorkbook(filepath.Join(dir, report.WorkbookFile), records, summaries, agg); err != nil {
			return err
		}
	}

	showOverview(agg)
	ui.Newline()
	ui.Success("Reports saved to %s", dir)
	return nil
}
