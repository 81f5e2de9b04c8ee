package commands

import (
	"github.com/spf13/cobra"

	"github.com/spherical/procurement-extractor/cmd/procurement-extractor/ui"
	"github.com/spherical/procurement-extractor/internal/config"
	"github.com/spherical/procurement-extractor/internal/domain"
)

var (
	cfgFile string
	verbose bool
	noColor bool

	// appConfig is loaded once per invocation by the root pre-run hook.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "procurement-extractor",
	Short: "Extract school software procurement records from district PDFs",
	Long: `procurement-extractor walks <root>/<District>/<Round>/ folders, renders every
PDF page, asks a multimodal model for the software purchases on it and
writes the results as CSV reports and an XLSX workbook.

Runs are checkpointed and can be resumed after an interruption.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.InitUI(noColor, verbose)
		config.LoadDotEnv()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return domain.ConfigError("load config", err)
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		appConfig = cfg
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// SetVersion sets the version reported by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
