package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/spherical/procurement-extractor/internal/cache"
	"github.com/spherical/procurement-extractor/internal/domain"
	"github.com/spherical/procurement-extractor/internal/observability"
)

// CacheKeyPrefix prefixes every cached page response.
const CacheKeyPrefix = "page:"

// CachedClient serves repeated pages from a response cache. Only successful
// completions are stored. Cache failures are logged and never fail a call.
type CachedClient struct {
	inner  domain.ExtractionClient
	store  cache.Client
	model  string
	ttl    time.Duration
	logger *observability.Logger
}

// NewCachedClient wraps inner. model is part of the cache key so switching
// models does not reuse stale answers.
func NewCachedClient(inner domain.ExtractionClient, store cache.Client, model string, ttl time.Duration, logger *observability.Logger) *CachedClient {
	if logger == nil {
		logger = observability.Nop()
	}
	return &CachedClient{
		inner:  inner,
		store:  store,
		model:  model,
		ttl:    ttl,
		logger: logger.WithComponent("llm-cache"),
	}
}

// Extract implements domain.ExtractionClient.
func (c *CachedClient) Extract(ctx context.Context, req domain.PageRequest) (domain.Completion, error) {
	key := c.key(req)

	if data, err := c.store.Get(ctx, key); err == nil {
		c.logger.Debug().Str("source_file", req.Context.SourceFile).Int("page", req.Context.PageNumber).Msg("cache hit")
		return domain.Completion{Text: string(data), Cached: true}, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn().Err(err).Msg("cache lookup failed")
	}

	comp, err := c.inner.Extract(ctx, req)
	if err != nil {
		return comp, err
	}

	if err := c.store.Set(ctx, key, []byte(comp.Text), c.ttl); err != nil {
		c.logger.Warn().Err(err).Msg("cache store failed")
	}
	return comp, nil
}

// key hashes model, instruction and image bytes.
func (c *CachedClient) key(req domain.PageRequest) string {
	h := sha256.New()
	h.Write([]byte(c.model))
	h.Write([]byte{0})
	h.Write([]byte(instructionFor(req)))
	h.Write([]byte{0})
	h.Write(req.Image.Data)
	return CacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}
