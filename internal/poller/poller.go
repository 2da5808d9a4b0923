package poller

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/chatlink/internal/api"
	"github.com/rickgao/chatlink/internal/connection"
	"github.com/rickgao/chatlink/internal/model"
	"github.com/rickgao/chatlink/internal/socket"
)

// Fetcher reads conversation history.
type Fetcher interface {
	ListMessagesSince(ctx context.Context, conversationID, after string, limit, maxPages int) (*api.MessagesResponse, error)
}

// Injector accepts frames as if they had arrived on the socket.
type Injector interface {
	Inject(frame []byte)
}

// HealthReporter is told whether the last poll cycle reached the server.
type HealthReporter interface {
	SetFallbackHealthy(healthy bool)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 5s)
	Concurrency int           // Max concurrent requests (default: 4)
	Timeout     time.Duration // Per-conversation timeout (default: 10s)
	PageSize    int           // Messages per request (default: 100)
	MaxPages    int           // Pages per conversation per cycle (default: 5)
	SeenHistory int           // Delivered IDs remembered per conversation (default: 512)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		Concurrency: 4,
		Timeout:     10 * time.Second,
		PageSize:    100,
		MaxPages:    5,
		SeenHistory: 512,
	}
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithHealth sets the health reporter.
func WithHealth(h HealthReporter) Option {
	return func(p *Poller) { p.health = h }
}

// Stats contains runtime statistics.
type Stats struct {
	Cycles    int64
	Fetched   int64
	Injected  int64
	Duplicate int64
	Errors    int64
}

// conversation is the polling state of one tracked conversation.
type conversation struct {
	cursor string
	seen   map[string]struct{}
	order  []string // seen IDs, oldest first
}

// Poller fetches missed messages over REST while the socket is down.
type Poller struct {
	cfg     Config
	fetcher Fetcher
	inject  Injector
	health  HealthReporter
	logger  *slog.Logger

	mu    sync.Mutex
	convs map[string]*conversation

	active atomic.Bool
	kick   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycles, fetched, injected, duplicate, errors atomic.Int64
}

// New creates a new Poller.
func New(cfg Config, fetcher Fetcher, inject Injector, opts ...Option) *Poller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.SeenHistory <= 0 {
		cfg.SeenHistory = def.SeenHistory
	}

	p := &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		inject:  inject,
		logger:  slog.Default(),
		convs:   make(map[string]*conversation),
		kick:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "poller")
	return p
}

// Track starts polling conversationID from cursor. An empty cursor starts
// from the server's default window. Tracking an already tracked
// conversation keeps its current cursor.
func (p *Poller) Track(conversationID, cursor string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.convs[conversationID]; ok {
		return
	}
	p.convs[conversationID] = &conversation{cursor: cursor, seen: make(map[string]struct{})}
}

// Untrack stops polling conversationID.
func (p *Poller) Untrack(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.convs, conversationID)
}

// Tracked returns the number of tracked conversations.
func (p *Poller) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.convs)
}

// Cursor returns the resume cursor of a tracked conversation.
func (p *Poller) Cursor(conversationID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.convs[conversationID]
	if !ok {
		return "", false
	}
	return c.cursor, true
}

// Seen records that messageID was delivered, so polling will not
// inject it again.
func (p *Poller) Seen(conversationID, messageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.convs[conversationID]; ok {
		p.markSeenLocked(c, messageID)
	}
}

// HandleStateChange activates polling whenever the connection is not up.
func (p *Poller) HandleStateChange(change connection.StateChange) {
	p.SetActive(change.New != connection.StateConnected)
}

// SetActive turns polling on or off. Turning it on triggers an immediate
// cycle.
func (p *Poller) SetActive(active bool) {
	was := p.active.Swap(active)
	if active && !was {
		p.logger.Info("polling fallback active")
		select {
		case p.kick <- struct{}{}:
		default:
		}
	} else if !active && was {
		p.logger.Info("polling fallback idle")
	}
}

// Active reports whether polling is on.
func (p *Poller) Active() bool {
	return p.active.Load()
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns runtime statistics.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:    p.cycles.Load(),
		Fetched:   p.fetched.Load(),
		Injected:  p.injected.Load(),
		Duplicate: p.duplicate.Load(),
		Errors:    p.errors.Load(),
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		case <-p.kick:
		}
		if p.active.Load() {
			p.PollOnce(p.ctx)
		}
	}
}

// PollOnce runs one cycle over every tracked conversation. It returns the
// number of injected messages.
func (p *Poller) PollOnce(ctx context.Context) int {
	start := time.Now()
	p.cycles.Add(1)

	p.mu.Lock()
	ids := make([]string, 0, len(p.convs))
	for id := range p.convs {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	if len(ids) == 0 {
		p.logger.Debug("no conversations to poll")
		return 0
	}

	var ok, failed, injected atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			n, err := p.pollConversation(gctx, id)
			if err != nil {
				p.logger.Warn("failed to poll conversation",
					"conversation", id,
					"err", err,
				)
				p.errors.Add(1)
				failed.Add(1)
				return nil
			}
			ok.Add(1)
			injected.Add(int64(n))
			return nil
		})
	}
	g.Wait()

	if p.health != nil && p.active.Load() {
		p.health.SetFallbackHealthy(ok.Load() > 0)
	}

	p.logger.Debug("poll cycle complete",
		"conversations", len(ids),
		"ok", ok.Load(),
		"failed", failed.Load(),
		"injected", injected.Load(),
		"duration", time.Since(start),
	)

	return int(injected.Load())
}

// pollConversation fetches one conversation and injects unseen messages.
func (p *Poller) pollConversation(ctx context.Context, id string) (int, error) {
	p.mu.Lock()
	c, ok := p.convs[id]
	if !ok {
		p.mu.Unlock()
		return 0, nil
	}
	cursor := c.cursor
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := p.fetcher.ListMessagesSince(ctx, id, cursor, p.cfg.PageSize, p.cfg.MaxPages)
	if err != nil {
		return 0, err
	}
	p.fetched.Add(int64(len(resp.Messages)))

	var frames [][]byte
	p.mu.Lock()
	c, ok = p.convs[id]
	if !ok || c.cursor != cursor {
		// Untracked or polled concurrently; drop this result.
		p.mu.Unlock()
		return 0, nil
	}
	for _, msg := range resp.Messages {
		if _, dup := c.seen[msg.ID]; dup {
			p.duplicate.Add(1)
			continue
		}
		frame, err := encodeMessage(msg)
		if err != nil {
			p.logger.Warn("cannot encode fetched message", "conversation", id, "id", msg.ID, "err", err)
			continue
		}
		p.markSeenLocked(c, msg.ID)
		frames = append(frames, frame)
	}
	if resp.Cursor != "" {
		c.cursor = resp.Cursor
	}
	p.mu.Unlock()

	for _, frame := range frames {
		p.inject.Inject(frame)
	}
	p.injected.Add(int64(len(frames)))
	return len(frames), nil
}

func (p *Poller) markSeenLocked(c *conversation, id string) {
	if _, ok := c.seen[id]; ok {
		return
	}
	c.seen[id] = struct{}{}
	c.order = append(c.order, id)
	if len(c.order) > p.cfg.SeenHistory {
		delete(c.seen, c.order[0])
		c.order = c.order[1:]
	}
}

func encodeMessage(msg model.ChatMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return socket.Encode(socket.EventMessage, json.RawMessage(data))
}
