package tsdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/fpf-core/internal/infrastructure/config"
)

var (
	ErrDisabled         = errors.New("tsdb: disabled in configuration")
	ErrNotConnected     = errors.New("tsdb: not connected")
	ErrConnectionFailed = errors.New("tsdb: connection failed")
	ErrWriteFailed      = errors.New("tsdb: write failed")
	ErrQueryFailed      = errors.New("tsdb: query failed")
)

const (
	connectTimeout = 10 * time.Second
	requestTimeout = 5 * time.Second

	defaultBatchSize    = 500
	defaultFlushSeconds = 1
)

// Client talks to VictoriaMetrics over its HTTP API: line protocol on
// /write and PromQL on /api/v1/query.
//
// WritePoint buffers lines; the buffer is sent when it holds BatchSize
// lines, every FlushInterval seconds, on Flush and on Close.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	url        string
	httpClient *http.Client
	connected  atomic.Bool

	bufMu     sync.Mutex
	buf       bytes.Buffer
	lines     int
	batchSize int

	stop    context.CancelFunc
	stopped chan struct{}

	errMu   sync.RWMutex
	onError func(err error)
}

// Connect checks /health and starts the periodic flush. It returns
// ErrDisabled when tsdb.enabled is false.
func Connect(ctx context.Context, cfg config.TSDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	c := &Client{
		url:        strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		batchSize:  cfg.BatchSize,
		stopped:    make(chan struct{}),
	}
	if c.batchSize <= 0 {
		c.batchSize = defaultBatchSize
	}

	checkCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := c.health(checkCtx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.connected.Store(true)

	interval := time.Duration(cfg.FlushInterval) * time.Second
	if interval <= 0 {
		interval = defaultFlushSeconds * time.Second
	}
	loopCtx, stop := context.WithCancel(context.Background())
	c.stop = stop
	go c.flushEvery(loopCtx, interval)

	return c, nil
}

func (c *Client) flushEvery(ctx context.Context, interval time.Duration) {
	defer close(c.stopped)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Flush()
		}
	}
}

// Close stops the periodic flush and sends the remaining buffer. Writes
// after Close are dropped.
func (c *Client) Close() error {
	if c == nil || !c.connected.CompareAndSwap(true, false) {
		return nil
	}
	c.stop()
	<-c.stopped
	c.Flush()
	return nil
}

// IsConnected reports whether the client accepts writes.
func (c *Client) IsConnected() bool {
	return c != nil && c.connected.Load()
}

// SetOnError registers the callback for failed flushes.
func (c *Client) SetOnError(fn func(err error)) {
	c.errMu.Lock()
	c.onError = fn
	c.errMu.Unlock()
}

func (c *Client) reportError(err error) {
	c.errMu.RLock()
	fn := c.onError
	c.errMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// HealthCheck calls GET /health.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.health(ctx)
}

func (c *Client) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tsdb health check: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for connection reuse

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tsdb health check: status %d", resp.StatusCode)
	}
	return nil
}

// buffer appends one line and reports whether the batch is full.
func (c *Client) buffer(line string) bool {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	if c.lines > 0 {
		c.buf.WriteByte('\n')
	}
	c.buf.WriteString(line)
	c.lines++
	return c.lines >= c.batchSize
}

// Flush sends the buffered lines in one POST /write. Failures go to the
// SetOnError callback; the lines are not retried.
func (c *Client) Flush() {
	c.bufMu.Lock()
	if c.lines == 0 {
		c.bufMu.Unlock()
		return
	}
	body := bytes.Clone(c.buf.Bytes())
	n := c.lines
	c.buf.Reset()
	c.lines = 0
	c.bufMu.Unlock()

	if err := c.post(body); err != nil {
		c.reportError(fmt.Errorf("%w: %d lines dropped: %w", ErrWriteFailed, n, err))
	}
}

func (c *Client) post(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/write", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for connection reuse

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	default:
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
}
