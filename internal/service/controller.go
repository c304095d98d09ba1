package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// CacheKey and TimestampKey are the persisted snapshot keys. Bump the version on shape changes.
	CacheKey     = "kpi-cache:v1"
	TimestampKey = "kpi-cache-ts:v1"

	DefaultRefreshInterval = 5 * time.Minute

	defaultFetchTimeout = 15 * time.Second
	defaultStoreTimeout = 5 * time.Second
	refreshFlightKey    = "refresh"
)

var ErrUnknownPayload = errors.New("unexpected API response shape")

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

func WithInterval(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

func WithFetchTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

func WithStore(store Cacher) ControllerOption {
	return func(c *Controller) { c.store = store }
}

// WithVisibility subscribes the controller to foreground-visibility pings.
func WithVisibility(sub Subscriber) ControllerOption {
	return func(c *Controller) { c.visibility = sub }
}

// WithPublisher is pinged every time a different summary is published.
func WithPublisher(b Broadcaster) ControllerOption {
	return func(c *Controller) { c.publisher = b }
}

// WithCoalescing makes overlapping refreshes share one fetch instead of racing.
func WithCoalescing(enabled bool) ControllerOption {
	return func(c *Controller) { c.coalesce = enabled }
}

func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLocation(loc *time.Location) ControllerOption {
	return func(c *Controller) {
		if loc != nil {
			c.location = loc
		}
	}
}

// Controller owns the last-known summary and keeps it fresh. A failed refresh never clears
// a summary that was already shown.
type Controller struct {
	fetcher    Fetcher
	store      Cacher
	visibility Subscriber
	publisher  Broadcaster
	logger     *zap.Logger

	interval     time.Duration
	fetchTimeout time.Duration
	coalesce     bool
	now          func() time.Time
	location     *time.Location
	sfGroup      singleflight.Group

	mu          sync.RWMutex
	summary     *Summary
	encoded     []byte
	loading     bool
	inflight    int
	lastErr     string
	lastUpdated time.Time

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	triggered sync.WaitGroup
}

// NewController creates a Controller. It starts in the loading state until a summary is shown.
func NewController(fetcher Fetcher, logger *zap.Logger, opts ...ControllerOption) *Controller {
	if fetcher == nil {
		panic("nil Fetcher provided to NewController")
	}
	if logger == nil {
		l, _ := zap.NewProduction()
		logger = l
	}

	c := &Controller{
		fetcher:      fetcher,
		logger:       logger.Named("refresh"),
		interval:     DefaultRefreshInterval,
		fetchTimeout: defaultFetchTimeout,
		now:          time.Now,
		location:     time.Local,
		loading:      true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start hydrates from the persisted snapshot, triggers one refresh, and keeps refreshing on the
// interval and on every visibility ping until Stop is called or ctx is done.
func (c *Controller) Start(ctx context.Context) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.cancel != nil {
		return
	}

	c.hydrate(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(c.interval)
	var visible chan struct{}
	if c.visibility != nil {
		visible = c.visibility.Subscribe()
	}

	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(loopCtx, ticker, visible)

	c.logger.Info("refresh loop started", zap.Duration("interval", c.interval))
}

// Stop releases the ticker and the visibility subscription and waits for triggered refreshes.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.cancel == nil {
		return
	}

	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil

	c.logger.Info("refresh loop stopped")
}

func (c *Controller) run(ctx context.Context, ticker *time.Ticker, visible chan struct{}) {
	defer close(c.done)

	sub := visible
	defer func() {
		ticker.Stop()
		if sub != nil {
			c.visibility.Unsubscribe(sub)
		}
		c.triggered.Wait()
	}()

	c.trigger(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.trigger(ctx, "interval")
		case _, ok := <-visible:
			if !ok {
				visible = nil
				sub = nil
				continue
			}
			c.trigger(ctx, "visibility")
		}
	}
}

// trigger starts a refresh without waiting for it; overlapping refreshes are allowed.
func (c *Controller) trigger(ctx context.Context, reason string) {
	c.triggered.Add(1)
	go func() {
		defer c.triggered.Done()
		c.logger.Debug("refresh triggered", zap.String("reason", reason))
		_ = c.Refresh(ctx)
	}()
}

// Refresh fetches, normalizes if needed, and publishes the summary when it changed.
func (c *Controller) Refresh(ctx context.Context) error {
	if !c.coalesce {
		return c.refresh(ctx)
	}
	_, err, shared := c.sfGroup.Do(refreshFlightKey, func() (any, error) {
		return nil, c.refresh(ctx)
	})
	if shared {
		c.logger.Debug("refresh shared with in-flight request")
	}
	return err
}

func (c *Controller) refresh(ctx context.Context) error {
	c.setRefreshing(1)
	defer c.setRefreshing(-1)

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	summary, err := c.load(fetchCtx)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			c.logger.Debug("refresh abandoned", zap.Error(err))
			return err
		}
		c.fail(err)
		return err
	}

	encoded, err := json.Marshal(summary)
	if err != nil {
		err = fmt.Errorf("encode summary: %w", err)
		c.fail(err)
		return err
	}

	now := c.now()
	c.mu.Lock()
	changed := !bytes.Equal(c.encoded, encoded)
	if changed {
		c.summary = &summary
		c.encoded = encoded
	}
	c.lastErr = ""
	c.loading = false
	c.lastUpdated = now
	c.mu.Unlock()

	if changed {
		c.logger.Info("summary published", zap.String("week_ending", summary.WeekEnding))
		if c.publisher != nil {
			c.publisher.Broadcast()
		}
	} else {
		c.logger.Debug("summary unchanged")
	}

	c.persist(ctx, summary, now)
	return nil
}

func (c *Controller) load(ctx context.Context) (Summary, error) {
	payload, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return Summary{}, err
	}
	return SummaryFromPayload(payload, c.now().In(c.location))
}

// SummaryFromPayload uses a summary-shaped payload as is and normalizes a rows payload at now.
func SummaryFromPayload(payload Payload, now time.Time) (Summary, error) {
	switch payload.Kind {
	case PayloadSummary:
		if payload.Summary == nil {
			return Summary{}, ErrUnknownPayload
		}
		return *payload.Summary, nil
	case PayloadRows:
		return Summarize(payload.Rows, now), nil
	default:
		return Summary{}, ErrUnknownPayload
	}
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.loading = c.summary == nil
	c.mu.Unlock()

	c.logger.Warn("refresh failed, keeping previous summary", zap.Error(err))
}

func (c *Controller) setRefreshing(delta int) {
	c.mu.Lock()
	c.inflight += delta
	c.mu.Unlock()
}

// hydrate publishes the persisted snapshot, if any. Missing or corrupt entries are ignored.
func (c *Controller) hydrate(ctx context.Context) {
	if c.store == nil {
		return
	}

	getCtx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	defer cancel()

	var cached *Summary
	if err := c.store.Get(getCtx, CacheKey, &cached); err != nil {
		c.logger.Debug("no cached summary", zap.Error(err))
		return
	}
	if cached == nil {
		return
	}
	encoded, err := json.Marshal(cached)
	if err != nil {
		return
	}

	var ts int64
	if err := c.store.Get(getCtx, TimestampKey, &ts); err != nil {
		c.logger.Debug("no cached timestamp", zap.Error(err))
	}

	c.mu.Lock()
	c.summary = cached
	c.encoded = encoded
	c.loading = false
	if ts > 0 {
		c.lastUpdated = time.UnixMilli(ts)
	}
	c.mu.Unlock()

	c.logger.Info("hydrated from cache", zap.String("week_ending", cached.WeekEnding))
	if c.publisher != nil {
		c.publisher.Broadcast()
	}
}

func (c *Controller) persist(ctx context.Context, summary Summary, at time.Time) {
	if c.store == nil {
		return
	}

	setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultStoreTimeout)
	defer cancel()

	if err := c.store.Set(setCtx, CacheKey, summary, 0); err != nil {
		c.logger.Warn("failed to persist summary", zap.Error(err))
		return
	}
	if err := c.store.Set(setCtx, TimestampKey, at.UnixMilli(), 0); err != nil {
		c.logger.Warn("failed to persist refresh timestamp", zap.Error(err))
	}
}

// Summary returns the published summary. The result shares memory with the controller and must
// not be modified.
func (c *Controller) Summary() (Summary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.summary == nil {
		return Summary{}, false
	}
	return *c.summary, true
}

// Status returns the loading, refreshing and error flags.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		Loading:      c.loading,
		IsRefreshing: c.inflight > 0,
		Error:        c.lastErr,
	}
	if !c.lastUpdated.IsZero() {
		t := c.lastUpdated
		st.LastUpdated = &t
	}
	if c.summary != nil {
		st.WeekEnding = c.summary.WeekEnding
	}
	return st
}
