package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func testConfig(url string) Config {
	return Config{
		URL:           url,
		Model:         "test",
		Timeout:       2 * time.Second,
		MaxConcurrent: 3,
		PoolSize:      5,
		CacheSize:     50,
	}
}

func newTestClient(url string, mutate func(*Config)) *Client {
	cfg := testConfig(url)
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, log.New(io.Discard))
}

func okBackend(calls *atomic.Int64, response string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Response: response})
	}
}

func TestGenerateSuccess(t *testing.T) {
	srv := httptest.NewServer(okBackend(nil, "• TCP is a transport protocol"))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	defer c.Close()

	got, err := c.Generate(context.Background(), "What is TCP?", "Q: What is TCP?")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "• TCP is a transport protocol" {
		t.Errorf("got %q", got)
	}

	stats := c.Stats()
	if stats.Successes != 1 || stats.Requests != 1 {
		t.Errorf("stats = %+v, want 1 request 1 success", stats)
	}
}

func TestDuplicateQuestionIsCacheHit(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(okBackend(&calls, "• TCP is a transport protocol"))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	defer c.Close()

	first, err := c.Generate(context.Background(), "What is TCP?", "prompt")
	if err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	second, err := c.Generate(context.Background(), "What is TCP?", "prompt")
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}

	if calls.Load() != 1 {
		t.Errorf("backend called %d times, want 1", calls.Load())
	}
	if first != second {
		t.Errorf("cached response differs: %q vs %q", first, second)
	}
	if got := c.Stats().CacheHits; got != 1 {
		t.Errorf("cache hits = %d, want 1", got)
	}
}

func TestTimeoutReturnsErrTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, func(cfg *Config) {
		cfg.Timeout = 50 * time.Millisecond
	})
	defer c.Close()

	_, err := c.Generate(context.Background(), "slow question?", "prompt")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if got := c.Stats().Timeouts; got != 1 {
		t.Errorf("timeout counter = %d, want 1", got)
	}
}

func TestBackendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	defer c.Close()

	_, err := c.Generate(context.Background(), "question?", "prompt")
	var backendErr *BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("err = %v, want *BackendError", err)
	}
	if backendErr.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", backendErr.Status)
	}
}

func TestTransportError(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1/api/generate", nil)
	defer c.Close()

	_, err := c.Generate(context.Background(), "question?", "prompt")
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
}

func TestConcurrencyLimitHolds(t *testing.T) {
	const limit = 3

	var inFlight, peak atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		json.NewEncoder(w).Encode(generateResponse{Response: "a response long enough"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, func(cfg *Config) {
		cfg.MaxConcurrent = limit
	})
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < limit*3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Distinct questions so the cache cannot absorb calls.
			c.Generate(context.Background(), fmt.Sprintf("question %d?", i), "prompt")
		}(i)
	}
	wg.Wait()

	if got := peak.Load(); got > limit {
		t.Errorf("peak concurrency = %d, want <= %d", got, limit)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1/api/generate", nil)
	c.Close()
	c.Close()
}
