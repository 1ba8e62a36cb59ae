package content

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"example.com/vedabloom/internal/domain"
	"example.com/vedabloom/internal/observability"
)

// CachedSource keeps the last successfully fetched document and refreshes it
// on a cron schedule. A failed refresh leaves the cached document in place.
type CachedSource struct {
	source Source
	cron   *cron.Cron
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	doc       Document
	fetchedAt time.Time
}

// CacheOption configures a CachedSource.
type CacheOption func(*CachedSource)

// WithCacheLogger overrides the logger.
func WithCacheLogger(logger *zap.Logger) CacheOption {
	return func(c *CachedSource) {
		c.logger = logger
	}
}

// NewCachedSource wraps source. schedule is a standard five-field cron
// expression or a descriptor such as "@every 15m".
func NewCachedSource(source Source, schedule string, opts ...CacheOption) (*CachedSource, error) {
	c := &CachedSource{
		source: source,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if _, err := c.cron.AddFunc(schedule, c.scheduledRefresh); err != nil {
		return nil, fmt.Errorf("parse content refresh schedule %q: %w", schedule, err)
	}
	return c, nil
}

// Start performs an initial refresh and starts the schedule. A failed initial
// refresh is logged; Fetch retries on demand until a document is cached.
func (c *CachedSource) Start(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("initial content refresh failed", zap.Error(err))
	}
	c.cron.Start()
}

// Stop halts the schedule and waits for a running refresh to finish.
func (c *CachedSource) Stop() {
	<-c.cron.Stop().Done()
}

// Fetch implements Source.
func (c *CachedSource) Fetch(ctx context.Context) (Document, error) {
	c.mu.RLock()
	doc := c.doc
	c.mu.RUnlock()
	if doc != nil {
		return doc, nil
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc, nil
}

// Refresh fetches the document from the underlying source.
func (c *CachedSource) Refresh(ctx context.Context) error {
	doc, err := c.source.Fetch(ctx)
	if err != nil {
		observability.RecordContentFailure()
		return fmt.Errorf("%w: refresh: %v", domain.ErrContentSourceUnavailable, err)
	}

	now := c.now()
	c.mu.Lock()
	c.doc = doc
	c.fetchedAt = now
	c.mu.Unlock()

	observability.RecordContentRefreshed(now)
	c.logger.Debug("content document refreshed", zap.Int("cohorts", len(doc)))
	return nil
}

// FetchedAt reports when the cached document was last refreshed.
func (c *CachedSource) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

func (c *CachedSource) scheduledRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("scheduled content refresh failed", zap.Error(err))
	}
}
