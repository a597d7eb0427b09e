// Package feed subscribes to the streaming transcription source and
// hands text fragments to the pipeline, surviving feed restarts with
// capped exponential backoff.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	initialBackoff   = time.Second
	maxBackoff       = 10 * time.Second
	handshakeTimeout = 5 * time.Second
)

// Fragment is one arrival of transcribed text. Consumed once, never
// persisted.
type Fragment struct {
	Text       string
	ReceivedAt time.Time
}

type Source struct {
	url       string
	logger    *log.Logger
	fragments chan Fragment

	reconnects atomic.Uint64
}

func New(url string, logger *log.Logger) *Source {
	return &Source{
		url:       url,
		logger:    logger,
		fragments: make(chan Fragment, 64),
	}
}

// Fragments delivers decoded fragments in arrival order. Closed when
// Run returns.
func (s *Source) Fragments() <-chan Fragment {
	return s.fragments
}

// Reconnects counts completed backoff-reconnect cycles.
func (s *Source) Reconnects() uint64 {
	return s.reconnects.Load()
}

// Run dials the feed and streams until ctx is cancelled. Every
// disconnect waits the current backoff delay, which doubles up to
// maxBackoff and resets to initialBackoff on a successful connection.
func (s *Source) Run(ctx context.Context) {
	defer close(s.fragments)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		connected, err := s.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = initialBackoff
		}

		s.reconnects.Add(1)
		s.logger.Warn("feed disconnected", "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

// stream runs one connection to completion. The returned bool reports
// whether the dial succeeded, so the caller can reset backoff.
func (s *Source) stream(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, http.Header{})
	if err != nil {
		return false, err
	}
	defer conn.Close()

	s.logger.Info("feed connected", "url", s.url)

	// Unblock the read loop when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}

		var msg struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("malformed feed message", "error", err)
			continue
		}

		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}

		select {
		case s.fragments <- Fragment{Text: text, ReceivedAt: time.Now()}:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}
