package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guarzo/wanderer-kills/internal/zkillboard/dto"
	"github.com/guarzo/wanderer-kills/pkg/config"
	"github.com/guarzo/wanderer-kills/pkg/metrics"
)

// ConsumerState is the lifecycle state of the RedisQ consumer.
type ConsumerState int32

const (
	StateStopped ConsumerState = iota
	StateRunning
	StateBackingOff
)

func (s ConsumerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateBackingOff:
		return "backing_off"
	default:
		return "unknown"
	}
}

// ConsumerMetrics tracks poller activity for the status endpoint.
type ConsumerMetrics struct {
	TotalPolls     atomic.Int64
	NullResponses  atomic.Int64
	KillmailsFound atomic.Int64
	HTTPErrors     atomic.Int64
	ParseErrors    atomic.Int64
	ProcessErrors  atomic.Int64
	Duplicates     atomic.Int64
	SkippedOld     atomic.Int64
	LastKillmailID atomic.Int64
}

// Consumer long-polls the RedisQ endpoint and feeds packages into the
// ingest pipeline. Pacing is adaptive: a package triggers an immediate
// fast re-poll, an empty response slows to the idle interval, and
// transport errors back off exponentially up to a cap.
type Consumer struct {
	httpClient *http.Client
	pipeline   *Pipeline
	cfg        config.StreamConfig
	queueID    string

	state    atomic.Int32
	running  atomic.Bool
	lastPoll atomic.Int64 // unix nano of last poll attempt
	backoff  time.Duration
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	mu       sync.Mutex

	metrics ConsumerMetrics
}

// NewConsumer creates a consumer over the given pipeline.
func NewConsumer(pipeline *Pipeline, cfg config.StreamConfig) *Consumer {
	hostname, _ := os.Hostname()
	queueID := config.GetEnv("STREAM_QUEUE_ID", fmt.Sprintf("wanderer-kills-%s-%d", hostname, time.Now().Unix()))

	return &Consumer{
		httpClient: &http.Client{Timeout: cfg.PollTimeout},
		pipeline:   pipeline,
		cfg:        cfg,
		queueID:    queueID,
		backoff:    cfg.BackoffBase,
	}
}

// Start launches the poll loop. It is a no-op when already running.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return fmt.Errorf("consumer already running")
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.backoff = c.cfg.BackoffBase
	c.running.Store(true)
	c.state.Store(int32(StateRunning))

	c.wg.Add(1)
	go c.pollLoop(ctx)

	slog.Info("RedisQ consumer started", "queue_id", c.queueID, "endpoint", c.cfg.Endpoint)
	return nil
}

// Stop cancels the poll loop and waits for it to exit.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.running.Store(false)
	c.state.Store(int32(StateStopped))
	slog.Info("RedisQ consumer stopped", "queue_id", c.queueID)
}

func (c *Consumer) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		wait := c.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// pollOnce performs one poll and returns how long to wait before the
// next one.
func (c *Consumer) pollOnce(ctx context.Context) time.Duration {
	c.lastPoll.Store(time.Now().UnixNano())
	c.metrics.TotalPolls.Add(1)
	metrics.Polls.Inc()

	pkg, err := c.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		metrics.PollErrors.Inc()
		c.state.Store(int32(StateBackingOff))
		wait := c.nextBackoff()
		slog.Warn("RedisQ poll failed", "error", err, "backoff", wait)
		return wait
	}

	c.resetBackoff()
	c.state.Store(int32(StateRunning))

	if pkg == nil {
		c.metrics.NullResponses.Add(1)
		return c.cfg.IdleInterval
	}

	c.metrics.KillmailsFound.Add(1)
	c.metrics.LastKillmailID.Store(pkg.KillID)

	km, skip, err := c.pipeline.Process(ctx, pkg)
	switch {
	case err != nil:
		c.metrics.ProcessErrors.Add(1)
		slog.Warn("Killmail processing failed", "kill_id", pkg.KillID, "error", err)
	case skip == SkipDuplicate:
		c.metrics.Duplicates.Add(1)
	case skip == SkipTooOld:
		c.metrics.SkippedOld.Add(1)
	default:
		slog.Debug("Killmail ingested",
			"killmail_id", km.KillmailID,
			"system_id", km.SolarSystemID,
			"enriched", km.EnrichmentComplete)
	}

	return c.cfg.FastInterval
}

func (c *Consumer) fetch(ctx context.Context) (*dto.RedisQPackage, error) {
	pollURL := fmt.Sprintf("%s?queueID=%s", c.cfg.Endpoint, url.QueryEscape(c.queueID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "wanderer-kills/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.HTTPErrors.Add(1)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.HTTPErrors.Add(1)
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("queue returned status %d", resp.StatusCode)
	}

	var envelope dto.RedisQResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		c.metrics.ParseErrors.Add(1)
		return nil, fmt.Errorf("failed to decode queue response: %w", err)
	}
	return envelope.Package, nil
}

func (c *Consumer) nextBackoff() time.Duration {
	wait := c.backoff
	c.backoff *= 2
	if c.backoff > c.cfg.BackoffMax {
		c.backoff = c.cfg.BackoffMax
	}
	return wait
}

func (c *Consumer) resetBackoff() {
	c.backoff = c.cfg.BackoffBase
}

// ConsumerStatus is a snapshot of poller state for the status endpoint.
type ConsumerStatus struct {
	State          string     `json:"state"`
	QueueID        string     `json:"queue_id"`
	Endpoint       string     `json:"endpoint"`
	LastPoll       *time.Time `json:"last_poll,omitempty"`
	TotalPolls     int64      `json:"total_polls"`
	NullResponses  int64      `json:"null_responses"`
	KillmailsFound int64      `json:"killmails_found"`
	HTTPErrors     int64      `json:"http_errors"`
	ParseErrors    int64      `json:"parse_errors"`
	ProcessErrors  int64      `json:"process_errors"`
	Duplicates     int64      `json:"duplicates"`
	SkippedOld     int64      `json:"skipped_old"`
	LastKillmailID int64      `json:"last_killmail_id"`
}

// Status returns a snapshot of poller state.
func (c *Consumer) Status() ConsumerStatus {
	status := ConsumerStatus{
		State:          ConsumerState(c.state.Load()).String(),
		QueueID:        c.queueID,
		Endpoint:       c.cfg.Endpoint,
		TotalPolls:     c.metrics.TotalPolls.Load(),
		NullResponses:  c.metrics.NullResponses.Load(),
		KillmailsFound: c.metrics.KillmailsFound.Load(),
		HTTPErrors:     c.metrics.HTTPErrors.Load(),
		ParseErrors:    c.metrics.ParseErrors.Load(),
		ProcessErrors:  c.metrics.ProcessErrors.Load(),
		Duplicates:     c.metrics.Duplicates.Load(),
		SkippedOld:     c.metrics.SkippedOld.Load(),
		LastKillmailID: c.metrics.LastKillmailID.Load(),
	}
	if nano := c.lastPoll.Load(); nano > 0 {
		t := time.Unix(0, nano).UTC()
		status.LastPoll = &t
	}
	return status
}
