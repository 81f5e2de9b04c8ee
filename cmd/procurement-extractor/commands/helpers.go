package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spherical/procurement-extractor/internal/checkpoint"
	"github.com/spherical/procurement-extractor/internal/config"
	"github.com/spherical/procurement-extractor/internal/observability"
	"github.com/spherical/procurement-extractor/internal/pdf"
	"github.com/spherical/procurement-extractor/internal/walker"
)

// newLogger builds the run logger. With quietConsole, console output is
// suppressed unless --verbose is set, so the progress bar stays readable;
// the log file still receives everything.
func newLogger(cfg *config.Config, quietConsole bool) (*observability.Logger, io.Closer, error) {
	var out io.Writer = os.Stderr
	if quietConsole && !verbose {
		out = io.Discard
	}
	return observability.NewLogger(observability.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      out,
		File:        cfg.Logging.File,
		ServiceName: "procurement-extractor",
	})
}

// newTraversal builds the district walker from the input config.
func newTraversal(cfg *config.Config, logger *observability.Logger) (*walker.Traversal, error) {
	opts := walker.Options{
		Districts:         cfg.Input.Districts,
		LimitDistricts:    cfg.Input.LimitDistricts,
		LimitPDFsPerRound: cfg.Input.LimitPDFsPerRound,
		Overrides:         cfg.Rounds.Overrides,
		Logger:            logger,
	}
	if cfg.Input.OrderByPages {
		opts.PageCounter = pdf.NewPageCounter()
	}
	return walker.New(cfg.Input.Root, opts)
}

// setOutputDir points the results at dir. The default checkpoint moves along
// so it stays next to the results it describes.
func setOutputDir(cfg *config.Config, dir string) {
	if cfg.Checkpoint.Path == config.DefaultConfig().Checkpoint.Path {
		cfg.Checkpoint.Path = filepath.Join(dir, filepath.Base(cfg.Checkpoint.Path))
	}
	cfg.Output.Dir = dir
}

func openCheckpoint(cfg *config.Config) (checkpoint.Store, error) {
	return checkpoint.Open(cfg.Checkpoint)
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}
