package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/spherical/procurement-extractor/cmd/procurement-extractor/ui"
	"github.com/spherical/procurement-extractor/internal/domain"
	"github.com/spherical/procurement-extractor/internal/pdf"
	"github.com/spherical/procurement-extractor/internal/report"
	"github.com/spherical/procurement-extractor/internal/walker"
)

var (
	inventoryRoot      string
	inventoryDistricts []string
	inventoryOutput    string
	inventorySave      bool
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Count PDFs and pages per district and round without calling the model",
	Long: `Walk the district folders and count PDFs and pages per round. Useful to
estimate the number of API calls a run will make. Nothing is rendered.`,
	Example: `  procurement-extractor inventory --root Districts
  procurement-extractor inventory --save -o results`,
	RunE: runInventory,
}

func init() {
	inventoryCmd.Flags().StringVar(&inventoryRoot, "root", "", "districts root folder")
	inventoryCmd.Flags().StringArrayVarP(&inventoryDistricts, "district", "d", nil, "only count matching districts (repeatable)")
	inventoryCmd.Flags().StringVarP(&inventoryOutput, "output", "o", "", "results directory for --save")
	inventoryCmd.Flags().BoolVar(&inventorySave, "save", false, "write "+report.InventoryFile+" to the results directory")
	rootCmd.AddCommand(inventoryCmd)
}

func runInventory(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Input.Root = inventoryRoot
	}
	if flags.Changed("district") {
		cfg.Input.Districts = inventoryDistricts
	}
	if flags.Changed("output") {
		setOutputDir(cfg, inventoryOutput)
	}
	// page counts are taken here anyway; ordering would count twice
	cfg.Input.OrderByPages = false

	logger, logCloser, err := newLogger(cfg, true)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	trav, err := newTraversal(cfg, logger)
	if err != nil {
		return err
	}
	if len(trav.Districts()) == 0 {
		ui.Warning("No districts to count under %s", cfg.Input.Root)
		return nil
	}

	files := 0
	spin := ui.NewSpinner("Counting pages...")
	spin.Start()
	res := walker.Inventory(trav, pdf.NewPageCounter(), func(ref domain.PDFRef, pages int) {
		files++
		spin.UpdateMessage(fmt.Sprintf("Counting pages... %d PDFs (%s)", files, ref.District))
	})
	spin.Stop()

	ui.Section("PDF Inventory")
	rows := make([][]string, 0, len(res.Summaries)+1)
	var total domain.DistrictSummary
	for _, s := range res.Summaries {
		rows = append(rows, inventoryRow(s.District, s))
		for r := domain.MinRound; r <= domain.MaxRound; r++ {
			total.Pages[r] += s.Pages[r]
			total.PDFs[r] += s.PDFs[r]
		}
	}
	rows = append(rows, inventoryRow("TOTAL", total))

	header := []string{"District"}
	for r := domain.MinRound; r <= domain.MaxRound; r++ {
		header = append(header, fmt.Sprintf("R%d", r))
	}
	ui.Table(append(header, "PDFs", "Pages"), rows)
	ui.Newline()
	ui.Info("Each page is one model call: about %s", plural(total.TotalPages(), "call"))

	if len(res.Unreadable) > 0 {
		ui.Warning("%s could not be read:", plural(len(res.Unreadable), "PDF"))
		fmt.Print(ui.FormatList(res.Unreadable))
	}

	if inventorySave {
		w := report.NewWriter(cfg.Output.Dir, logger)
		if err := w.WriteInventory(res.Summaries); err != nil {
			return err
		}
		ui.Success("Inventory saved to %s", filepath.Join(cfg.Output.Dir, report.InventoryFile))
	}
	return nil
}

// inventoryRow shows "pdfs/pages" per round.
func inventoryRow(name string, s domain.DistrictSummary) []string {
	row := []string{name}
	for r := domain.MinRound; r <= domain.MaxRound; r++ {
		row = append(row, fmt.Sprintf("%d/%d", s.PDFs[r], s.Pages[r]))
	}
	return append(row, fmt.Sprintf("%d", s.TotalPDFs()), fmt.Sprintf("%d", s.TotalPages()))
}
