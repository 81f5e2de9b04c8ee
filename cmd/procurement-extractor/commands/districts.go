package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical/procurement-extractor/cmd/procurement-extractor/ui"
	"github.com/spherical/procurement-extractor/internal/walker"
)

var (
	districtsRoot   string
	districtsFilter []string
)

var districtsCmd = &cobra.Command{
	Use:   "districts",
	Short: "List district folders and their recognized rounds",
	Example: `  procurement-extractor districts --root Districts
  procurement-extractor districts -d canton`,
	RunE: listDistricts,
}

func init() {
	districtsCmd.Flags().StringVar(&districtsRoot, "root", "", "districts root folder")
	districtsCmd.Flags().StringArrayVarP(&districtsFilter, "district", "d", nil, "only show matching districts (repeatable)")
	rootCmd.AddCommand(districtsCmd)
}

func listDistricts(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	if cmd.Flags().Changed("root") {
		cfg.Input.Root = districtsRoot
	}
	filter := cfg.Input.Districts
	if cmd.Flags().Changed("district") {
		filter = districtsFilter
	}

	logger, logCloser, err := newLogger(cfg, true)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	all, err := walker.ListDistricts(cfg.Input.Root)
	if err != nil {
		return err
	}
	selected := walker.FilterDistricts(all, filter)

	ui.Section(fmt.Sprintf("Districts in %s", cfg.Input.Root))
	if len(selected) == 0 {
		ui.Warning("No districts found")
		return nil
	}

	rounds := walker.NewRoundTable(cfg.Rounds.Overrides)
	rows := make([][]string, 0, len(selected))
	for _, d := range selected {
		folders, err := walker.RoundFolders(filepath.Join(cfg.Input.Root, d), d, rounds, logger.WithDistrict(d))
		if err != nil {
			rows = append(rows, []string{d, "unreadable", ""})
			continue
		}
		names := make([]string, 0, len(folders))
		for _, f := range folders {
			names = append(names, fmt.Sprintf("%s (R%d)", f.Name, f.Round))
		}
		rows = append(rows, []string{d, fmt.Sprintf("%d", len(folders)), strings.Join(names, ", ")})
	}
	ui.Table([]string{"District", "Rounds", "Folders"}, rows)
	ui.Newline()
	ui.Info("%s of %d", plural(len(selected), "district"), len(all))
	return nil
}
