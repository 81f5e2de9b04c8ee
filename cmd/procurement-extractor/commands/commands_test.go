package commands

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/procurement-extractor/internal/config"
	"github.com/spherical/procurement-extractor/internal/domain"
)

func TestSetOutputDirMovesDefaultCheckpoint(t *testing.T) {
	cfg := config.DefaultConfig()
	setOutputDir(cfg, "out")
	assert.Equal(t, "out", cfg.Output.Dir)
	assert.Equal(t, filepath.Join("out", "checkpoint.json"), cfg.Checkpoint.Path)

	cfg = config.DefaultConfig()
	cfg.Checkpoint.Path = "/var/lib/extractor/state.db"
	setOutputDir(cfg, "out")
	assert.Equal(t, "/var/lib/extractor/state.db", cfg.Checkpoint.Path)
}

func TestApplyRunFlags(t *testing.T) {
	flags := runCmd.Flags()
	require.NoError(t, flags.Set("root", "Districts"))
	require.NoError(t, flags.Set("district", "canton"))
	require.NoError(t, flags.Set("district", "North Shore"))
	require.NoError(t, flags.Set("limit-pdfs", "2"))
	require.NoError(t, flags.Set("checkpoint-interval", "3"))
	require.NoError(t, flags.Set("no-xlsx", "true"))
	require.NoError(t, flags.Set("order-by-pages", "false"))

	cfg := config.DefaultConfig()
	cfg.Input.LimitDistricts = 7
	applyRunFlags(runCmd, cfg)

	assert.Equal(t, "Districts", cfg.Input.Root)
	assert.Equal(t, []string{"canton", "North Shore"}, cfg.Input.Districts)
	assert.Equal(t, 2, cfg.Input.LimitPDFsPerRound)
	assert.Equal(t, 7, cfg.Input.LimitDistricts, "unset flags keep config values")
	assert.Equal(t, 3, cfg.Checkpoint.Interval)
	assert.False(t, cfg.Output.XLSX)
	assert.False(t, cfg.Input.OrderByPages)
}

func TestInventoryRow(t *testing.T) {
	s := domain.DistrictSummary{District: "Acme"}
	s.PDFs[1], s.Pages[1] = 2, 8
	s.PDFs[4], s.Pages[4] = 1, 3
	assert.Equal(t, []string{"Acme", "2/8", "0/0", "0/0", "1/3", "3", "11"}, inventoryRow("Acme", s))
}

func TestPlural(t *testing.T) {
	assert.Equal(t, "1 district", plural(1, "district"))
	assert.Equal(t, "0 files", plural(0, "file"))
	assert.Equal(t, "12 records", plural(12, "record"))
}
