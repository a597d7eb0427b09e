// Package advisor decides whether a transcribed fragment deserves an
// advisory answer and produces one within the latency budget.
package advisor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"earshot/memory"
)

// Inference turns a prompt into a response. key is the raw question
// text for cache lookup.
type Inference interface {
	Generate(ctx context.Context, key, prompt string) (string, error)
}

type Engine struct {
	store           *memory.Store
	client          Inference
	maxContextBytes int
	logger          *log.Logger

	lastLatency atomic.Int64
}

func New(store *memory.Store, client Inference, maxContextBytes int, logger *log.Logger) *Engine {
	return &Engine{
		store:           store,
		client:          client,
		maxContextBytes: maxContextBytes,
		logger:          logger,
	}
}

// IsQuestion reports whether the fragment should trigger the advisor.
func (e *Engine) IsQuestion(text string) bool {
	return IsQuestion(text)
}

// BuildPrompt is pure: identical inputs yield identical prompts.
func BuildPrompt(question string, snap memory.Snapshot) string {
	entityNames := make([]string, 0, len(snap.Entities))
	for name := range snap.Entities {
		entityNames = append(entityNames, name)
	}
	sort.Strings(entityNames)

	entities := "none"
	if len(entityNames) > 0 {
		entities = strings.Join(entityNames, ", ")
	}

	return fmt.Sprintf(
		`You are a real-time AI assistant providing brief, bullet-pointed answers for questions during live conversations.

Context Summary: %s
Current Entities: %s

Question: %s

Provide a concise response in this format:
• Key point 1
• Key point 2
• Key point 3 (if relevant)

Keep each bullet under 10 words. Focus on essential information only.`,
		snap.Summary,
		entities,
		question,
	)
}

// Process returns an advisory response for a question, or "" when the
// fragment is not a question or the backend produced nothing usable.
// Never panics or errors past this boundary.
func (e *Engine) Process(ctx context.Context, text string) string {
	if !IsQuestion(text) {
		return ""
	}

	start := time.Now()

	snap := e.store.Snapshot(e.maxContextBytes)
	prompt := BuildPrompt(strings.TrimSpace(text), snap)

	response, err := e.client.Generate(ctx, text, prompt)

	elapsed := time.Since(start)
	e.lastLatency.Store(elapsed.Nanoseconds())

	if err != nil {
		e.logger.Warn("no advisory answer", "error", err, "question", text)
		return ""
	}
	if response == "" {
		e.logger.Warn("empty advisory answer", "question", text)
		return ""
	}

	if !strings.HasPrefix(response, "•") {
		response = "• " + response
	}

	e.logger.Info("advisory answer", "elapsed", elapsed, "question", text)
	return response
}

// LastResponseTime is the wall-clock duration of the most recent
// Process call that reached the inference path.
func (e *Engine) LastResponseTime() time.Duration {
	return time.Duration(e.lastLatency.Load())
}
