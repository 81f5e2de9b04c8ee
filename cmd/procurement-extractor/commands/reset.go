package commands

import (
	"github.com/spf13/cobra"

	"github.com/spherical/procurement-extractor/cmd/procurement-extractor/ui"
	"github.com/spherical/procurement-extractor/internal/cache"
	"github.com/spherical/procurement-extractor/internal/domain"
	"github.com/spherical/procurement-extractor/internal/llm"
)

var (
	resetOutput string
	resetCache  bool
	resetYes    bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the saved checkpoint and optionally the response cache",
	Example: `  procurement-extractor reset
  procurement-extractor reset --cache --yes`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringVarP(&resetOutput, "output", "o", "", "results directory holding the checkpoint")
	resetCmd.Flags().BoolVar(&resetCache, "cache", false, "also drop cached model responses")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	if cmd.Flags().Changed("output") {
		setOutputDir(cfg, resetOutput)
	}

	if !resetYes {
		ok, err := ui.Confirm("Delete the checkpoint at "+cfg.Checkpoint.Path+"?", false)
		if err != nil {
			return err
		}
		if !ok {
			ui.Info("Nothing deleted")
			return nil
		}
	}

	store, err := openCheckpoint(cfg)
	if err != nil {
		return domain.StartupError("open checkpoint store", err)
	}
	defer store.Close()

	if err := store.Delete(cmd.Context()); err != nil {
		return err
	}
	ui.Success("Checkpoint deleted")

	if !resetCache {
		return nil
	}
	if cfg.Cache.Driver == "memory" {
		ui.Info("The memory cache lives only for one run; nothing to clear")
		return nil
	}
	c, err := cache.New(cfg.Cache)
	if err != nil {
		return domain.StartupError("open response cache", err)
	}
	if c == nil {
		ui.Info("Response cache is disabled")
		return nil
	}
	defer c.Close()

	if err := c.DeleteByPrefix(cmd.Context(), llm.CacheKeyPrefix); err != nil {
		return domain.IOError("clear response cache", err)
	}
	ui.Success("Cached responses deleted")
	return nil
}
