package engine

import (
	"sync/atomic"

	"earshot/ollama"
)

// pipelineStats are process-wide counters touched from the ingestion
// loop and advisor goroutines; everything is atomic.
type pipelineStats struct {
	transcripts    atomic.Uint64
	questions      atomic.Uint64
	contextUpdates atomic.Uint64
}

// StatsSnapshot is the JSON shape served at /stats and printed by the
// stats command.
type StatsSnapshot struct {
	TranscriptsProcessed uint64          `json:"transcripts_processed"`
	QuestionsProcessed   uint64          `json:"questions_processed"`
	ContextUpdates       uint64          `json:"context_updates"`
	ContextEntries       int             `json:"context_entries"`
	FeedReconnects       uint64          `json:"feed_reconnects"`
	Clients              int             `json:"clients"`
	Paused               bool            `json:"paused"`
	LastResponseSeconds  float64         `json:"last_response_seconds"`
	Inference            ollama.Counters `json:"inference"`
}

func (e *Engine) snapshotStats() StatsSnapshot {
	return StatsSnapshot{
		TranscriptsProcessed: e.stats.transcripts.Load(),
		QuestionsProcessed:   e.stats.questions.Load(),
		ContextUpdates:       e.stats.contextUpdates.Load(),
		ContextEntries:       e.store.Len(),
		FeedReconnects:       e.feed.Reconnects(),
		Clients:              e.hub.ClientCount(),
		Paused:               e.hub.Paused(),
		LastResponseSeconds:  e.advisor.LastResponseTime().Seconds(),
		Inference:            e.client.Stats(),
	}
}
