package pipeline

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/procurement-extractor/internal/config"
	"github.com/spherical/procurement-extractor/internal/domain"
	"github.com/spherical/procurement-extractor/internal/llm"
	"github.com/spherical/procurement-extractor/internal/parser"
	"github.com/spherical/procurement-extractor/internal/pdf"
	"github.com/spherical/procurement-extractor/internal/report"
	"github.com/spherical/procurement-extractor/internal/walker"
)

// TestLiveExtraction runs one PDF of one district through the real renderer
// and model. It needs PROCUREMENT_SAMPLE_ROOT pointing at a districts folder
// and an API key.
func TestLiveExtraction(t *testing.T) {
	_ = godotenv.Load("../../.env")

	root := os.Getenv("PROCUREMENT_SAMPLE_ROOT")
	if root == "" {
		t.Skip("PROCUREMENT_SAMPLE_ROOT not set")
	}
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cfg := config.DefaultConfig()
	trav, err := walker.New(root, walker.Options{LimitDistricts: 1, LimitPDFsPerRound: 1, Overrides: cfg.Rounds.Overrides})
	require.NoError(t, err)
	if len(trav.Districts()) == 0 {
		t.Skipf("no districts under %s", root)
	}

	client, err := llm.NewClient(llm.Options{
		APIKey:    apiKey,
		BaseURL:   cfg.Extraction.BaseURL,
		Model:     cfg.Extraction.Model,
		MaxTokens: cfg.Extraction.MaxTokens,
		Timeout:   cfg.Extraction.Timeout,
	})
	require.NoError(t, err)

	p, err := parser.New(nil)
	require.NoError(t, err)

	events := make(chan domain.ProgressEvent, 1024)
	d := NewDriver(pdf.NewRenderer(cfg.Extraction.DPI, cfg.Extraction.ImageQuality, nil), client, p, nil, Options{CallInterval: cfg.Extraction.CallInterval, Events: events})

	res, err := d.Run(ctx, trav)
	close(events)
	require.NoError(t, err)

	for ev := range events {
		if ev.Type == domain.EventPageComplete {
			t.Logf("%s R%d %s page %d: %d records", ev.District, ev.Round, ev.SourceFile, ev.PageNumber, ev.Records)
		}
	}

	assert.Equal(t, 1, res.Stats.DistrictsProcessed)
	assert.Positive(t, res.Stats.PagesAnalyzed)
	assert.Zero(t, res.Stats.APIErrors)

	dir := t.TempDir()
	_, err = report.NewWriter(dir, nil).WriteAll(res.Records, res.Summaries, true)
	require.NoError(t, err)
	t.Logf("%d records written to %s", len(res.Records), dir)
}
