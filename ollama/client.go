// Package ollama talks to an Ollama-compatible /api/generate endpoint
// under the advisor's latency budget: shared connection pool, bounded
// in-flight requests, per-request timeout, LRU response cache.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// ErrTimeout means the backend missed the deadline. Recoverable: the
// caller treats it as "no answer this time".
var ErrTimeout = errors.New("ollama: request timed out")

// BackendError is a non-success HTTP status from the backend.
type BackendError struct {
	Status int
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("ollama: backend status %d", e.Status)
}

// TransportError is a connection-level failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ollama: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

type Config struct {
	URL           string
	Model         string
	Timeout       time.Duration
	MaxConcurrent int
	PoolSize      int
	CacheSize     int
}

// Counters is a point-in-time view of the client's performance.
type Counters struct {
	Requests     uint64        `json:"requests"`
	CacheHits    uint64        `json:"cache_hits"`
	Successes    uint64        `json:"successes"`
	Timeouts     uint64        `json:"timeouts"`
	CacheHitRate float64       `json:"cache_hit_rate"`
	SuccessRate  float64       `json:"success_rate"`
	CacheSize    int           `json:"cache_size"`
	LastLatency  time.Duration `json:"last_latency"`
}

type Client struct {
	cfg        Config
	transport  *http.Transport
	httpClient *http.Client
	logger     *log.Logger

	// sem bounds in-flight backend calls; cache hits bypass it.
	sem chan struct{}

	cacheMu sync.Mutex
	cache   *responseCache

	requests    atomic.Uint64
	cacheHits   atomic.Uint64
	successes   atomic.Uint64
	timeouts    atomic.Uint64
	lastLatency atomic.Int64

	closeOnce sync.Once
}

func New(cfg Config, logger *log.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize,
		IdleConnTimeout:     60 * time.Second,
	}

	logger.Info("inference client ready",
		"url", cfg.URL,
		"model", cfg.Model,
		"timeout", cfg.Timeout,
		"pool", cfg.PoolSize,
		"concurrency", cfg.MaxConcurrent,
	)

	return &Client{
		cfg:        cfg,
		transport:  transport,
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		cache:      newResponseCache(cfg.CacheSize),
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64  `json:"temperature"`
	TopK        int      `json:"top_k"`
	TopP        float64  `json:"top_p"`
	NumPredict  int      `json:"num_predict"`
	Stop        []string `json:"stop"`
	NumCtx      int      `json:"num_ctx"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate answers a prompt. key is the raw question text used for
// cache lookup; pass "" to bypass the cache. Errors are one of
// ErrTimeout, *BackendError, *TransportError — none fatal.
func (c *Client) Generate(ctx context.Context, key, prompt string) (string, error) {
	c.requests.Add(1)

	normalized := cacheKey(key)
	if normalized != "" {
		c.cacheMu.Lock()
		cached, ok := c.cache.get(normalized)
		c.cacheMu.Unlock()
		if ok {
			c.cacheHits.Add(1)
			return cached, nil
		}
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return "", &TransportError{Err: ctx.Err()}
	}
	defer func() { <-c.sem }()

	start := time.Now()
	text, err := c.call(ctx, prompt)
	if err != nil {
		return "", err
	}

	c.successes.Add(1)
	c.lastLatency.Store(time.Since(start).Nanoseconds())

	if normalized != "" && text != "" {
		c.cacheMu.Lock()
		c.cache.put(normalized, text)
		c.cacheMu.Unlock()
	}
	return text, nil
}

func (c *Client) call(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Model:  c.cfg.Model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: 0.3,
			TopK:        20,
			TopP:        0.9,
			NumPredict:  100,
			Stop:        []string{"\n\n", "\nQ:", "\nA:"},
			NumCtx:      512,
		},
	})
	if err != nil {
		return "", &TransportError{Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		c.cfg.URL,
		bytes.NewReader(payload),
	)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
			c.timeouts.Add(1)
			c.logger.Warn("backend timeout", "timeout", c.cfg.Timeout)
			return "", ErrTimeout
		}
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", &BackendError{Status: resp.StatusCode}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &TransportError{Err: err}
	}
	return strings.TrimSpace(out.Response), nil
}

// Stats returns the current performance counters.
func (c *Client) Stats() Counters {
	requests := c.requests.Load()
	hits := c.cacheHits.Load()
	successes := c.successes.Load()

	c.cacheMu.Lock()
	cacheSize := c.cache.len()
	c.cacheMu.Unlock()

	counters := Counters{
		Requests:    requests,
		CacheHits:   hits,
		Successes:   successes,
		Timeouts:    c.timeouts.Load(),
		CacheSize:   cacheSize,
		LastLatency: time.Duration(c.lastLatency.Load()),
	}
	if requests > 0 {
		counters.CacheHitRate = float64(hits) / float64(requests)
		counters.SuccessRate = float64(successes) / float64(requests)
	}
	return counters
}

// Close drains pooled connections. Safe to call once at shutdown.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.transport.CloseIdleConnections()
		c.logger.Info("inference client closed")
	})
}
