package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/procurement-extractor/cmd/procurement-extractor/ui"
	"github.com/spherical/procurement-extractor/internal/checkpoint"
	"github.com/spherical/procurement-extractor/internal/domain"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved checkpoint of the last run",
	RunE:  showStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "", "results directory holding the checkpoint")
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	if cmd.Flags().Changed("output") {
		setOutputDir(cfg, statusOutput)
	}

	store, err := openCheckpoint(cfg)
	if err != nil {
		return domain.StartupError("open checkpoint store", err)
	}
	defer store.Close()

	cp, err := store.Load(cmd.Context())
	if errors.Is(err, checkpoint.ErrNotFound) {
		ui.Info("No checkpoint at %s", cfg.Checkpoint.Path)
		return nil
	}
	if err != nil {
		return err
	}

	st := cp.Stats
	ui.Section("Checkpoint")
	ui.KeyValue("Path", cfg.Checkpoint.Path)
	ui.KeyValue("Run ID", cp.RunID.String())
	ui.KeyValue("Saved", fmt.Sprintf("%s (%s ago)", cp.UpdatedAt.Local().Format(time.DateTime), ui.FormatDuration(time.Since(cp.UpdatedAt))))
	ui.KeyValue("Contents", checkpointSummary(cp))
	ui.KeyValue("Pages analyzed", fmt.Sprintf("%d", st.PagesAnalyzed))
	ui.KeyValue("API calls", fmt.Sprintf("%d (cache hits %d)", st.APICalls, st.CacheHits))
	ui.KeyValue("Errors", fmt.Sprintf("%d (pdf %d, api %d, parse %d)", st.Errors, st.PDFReadErrors, st.APIErrors, st.ParseErrors))
	if len(cp.CompletedDistricts) > 0 {
		ui.KeyValue("Completed", strings.Join(cp.CompletedDistricts, ", "))
	}
	ui.Newline()
	ui.Info("Continue with: procurement-extractor run --resume")
	return nil
}
