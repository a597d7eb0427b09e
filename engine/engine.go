// Package engine wires the transcript feed, context store, advisor,
// and client hub into one running pipeline and owns every background
// task it spawns.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"earshot/advisor"
	"earshot/config"
	"earshot/feed"
	"earshot/hub"
	"earshot/memory"
	"earshot/ollama"
)

type Engine struct {
	cfg    *config.Config
	logger *log.Logger

	store   *memory.Store
	client  *ollama.Client
	advisor *advisor.Engine
	feed    *feed.Source
	hub     *hub.Hub

	stats pipelineStats

	mu           sync.Mutex
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

func New(cfg *config.Config, logger *log.Logger) *Engine {
	store := memory.New(
		cfg.ContextMaxEntries,
		cfg.FlushInterval,
		logger.With().WithPrefix("memo"),
	)

	client := ollama.New(ollama.Config{
		URL:           cfg.OllamaURL(),
		Model:         cfg.AdvisorModel,
		Timeout:       cfg.AdvisorTimeout,
		MaxConcurrent: cfg.MaxConcurrent,
		PoolSize:      cfg.PoolSize,
		CacheSize:     cfg.CacheSize,
	}, logger.With().WithPrefix("infer"))

	e := &Engine{
		cfg:     cfg,
		logger:  logger.With().WithPrefix("core"),
		store:   store,
		client:  client,
		advisor: advisor.New(store, client, cfg.MaxContextBytes, logger.With().WithPrefix("mind")),
		feed:    feed.New(cfg.FeedURL(), logger.With().WithPrefix("hear")),
	}
	e.hub = hub.New(func() any { return e.snapshotStats() }, logger.With().WithPrefix("show"))
	return e
}

// HubAddr is the hub's bound address, available after Run has started
// the listener.
func (e *Engine) HubAddr() string {
	return e.hub.Addr()
}

// Run brings up the hub listener first, then the ingestion loop and
// reporting tickers. It blocks until ctx is cancelled and all owned
// tasks have stopped.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	// Listener first, so clients can connect before data flows.
	if err := e.hub.Start(e.cfg.HubAddr()); err != nil {
		cancel()
		return fmt.Errorf("start hub: %w", err)
	}

	e.logger.Info("pipeline started",
		"feed", e.cfg.FeedURL(),
		"model", e.cfg.AdvisorModel,
		"memory", e.cfg.MemoryEnabled,
	)

	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.feed.Run(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.ingest(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.report(runCtx)
	}()

	<-runCtx.Done()
	e.Shutdown()
	e.wg.Wait()
	return nil
}

// ingest is the single consumer of the fragment stream, so context
// updates happen in arrival order. Advisor work runs on its own
// goroutine per question; subsequent fragments never wait on
// inference latency.
func (e *Engine) ingest(ctx context.Context) {
	for fragment := range e.feed.Fragments() {
		e.stats.transcripts.Add(1)
		e.logger.Debug("fragment", "text", fragment.Text)

		if e.cfg.MemoryEnabled {
			e.store.Add(fragment.Text, fragment.ReceivedAt)
			e.stats.contextUpdates.Add(1)
		}

		if !e.advisor.IsQuestion(fragment.Text) {
			continue
		}

		e.wg.Add(1)
		go func(text string) {
			defer e.wg.Done()
			if response := e.advisor.Process(ctx, text); response != "" {
				e.hub.Broadcast(response)
				e.stats.questions.Add(1)
			}
		}(fragment.Text)
	}
}

// report runs the periodic context-debug and stats tickers.
func (e *Engine) report(ctx context.Context) {
	debug := time.NewTicker(e.cfg.DebugInterval)
	defer debug.Stop()
	stats := time.NewTicker(e.cfg.StatsInterval)
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-debug.C:
			if e.cfg.MemoryEnabled {
				e.logger.Debug("context", "state", e.store.DebugDump())
			}
		case <-stats.C:
			snap := e.snapshotStats()
			e.logger.Info("stats",
				"transcripts", snap.TranscriptsProcessed,
				"questions", snap.QuestionsProcessed,
				"reconnects", snap.FeedReconnects,
				"clients", snap.Clients,
				"last_response", e.advisor.LastResponseTime(),
			)
		}
	}
}

// Shutdown stops feed reconnection, closes the hub, and releases the
// inference client. Idempotent and safe from a signal handler.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.logger.Info("shutting down")

		e.mu.Lock()
		cancel := e.cancel
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		ctx, release := context.WithTimeout(context.Background(), 5*time.Second)
		defer release()
		e.hub.Shutdown(ctx)
		e.client.Close()
	})
}
