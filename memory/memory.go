// Package memory keeps the rolling conversational context: a bounded
// FIFO of recent utterances plus a summary and entity map maintained
// by a cold-path summarizer outside this process. The hot path only
// appends fragments and takes read-only snapshots.
package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
)

// Entry is one flushed chunk of transcript. Immutable once created.
type Entry struct {
	Timestamp time.Time
	Text      string
}

// Snapshot is the read-only projection handed to the advisor when a
// question is being answered.
type Snapshot struct {
	Summary  string
	Entities map[string]string
}

type Store struct {
	mu            sync.Mutex
	maxEntries    int
	flushInterval time.Duration
	entries       []Entry
	pending       string
	lastFlush     time.Time
	summary       string
	entities      map[string]string
	logger        *log.Logger

	now func() time.Time
}

func New(maxEntries int, flushInterval time.Duration, logger *log.Logger) *Store {
	s := &Store{
		maxEntries:    maxEntries,
		flushInterval: flushInterval,
		entities:      make(map[string]string),
		logger:        logger,
		now:           time.Now,
	}
	s.lastFlush = s.now()
	return s
}

// Add appends a transcribed fragment to the pending buffer and
// flushes it into an Entry when the fragment completes a sentence or
// the flush interval has elapsed. A zero timestamp means now. Add
// never fails.
func (s *Store) Add(text string, timestamp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timestamp.IsZero() {
		timestamp = s.now()
	}

	s.pending = strings.TrimSpace(s.pending + " " + text)

	hasSentence := strings.ContainsAny(text, ".!?")
	timerExpired := s.now().Sub(s.lastFlush) > s.flushInterval
	if hasSentence || timerExpired {
		s.flushLocked()
	}
}

// flushLocked moves pending text into the entry ring. A no-op when
// nothing meaningful is pending, in which case the flush timer keeps
// running.
func (s *Store) flushLocked() {
	if strings.TrimSpace(s.pending) == "" {
		return
	}

	s.entries = append(s.entries, Entry{
		Timestamp: s.now(),
		Text:      strings.TrimSpace(s.pending),
	})
	if len(s.entries) > s.maxEntries {
		s.entries = s.entries[len(s.entries)-s.maxEntries:]
	}

	s.pending = ""
	s.lastFlush = s.now()

	s.logger.Info("context updated", "entries", len(s.entries))
}

// Snapshot returns the current summary and entities. If maxBytes is
// positive and the summary is longer, it is truncated on a rune
// boundary and an ellipsis marker appended. The read path never
// touches pending state.
func (s *Store) Snapshot(maxBytes int) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	entities := make(map[string]string, len(s.entities))
	for name, meta := range s.entities {
		entities[name] = meta
	}

	return Snapshot{
		Summary:  truncate(s.summary, maxBytes),
		Entities: entities,
	}
}

// Len reports the number of flushed context entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// SetSummary replaces the current summary. Called by the cold-path
// summarizer; the pipeline itself never writes it.
func (s *Store) SetSummary(summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = summary
}

// SetEntity records or updates a tracked entity.
func (s *Store) SetEntity(name, meta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[name] = meta
}

// DebugDump renders a human-readable status line for the periodic
// context ticker. Diagnostic only.
func (s *Store) DebugDump() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.entities))
	for name := range s.entities {
		names = append(names, name)
	}

	return fmt.Sprintf(
		"entries=%d summary=%q entities=[%s]",
		len(s.entries),
		s.summary,
		strings.Join(names, " "),
	)
}

// truncate cuts s to at most max bytes without splitting a multi-byte
// rune, appending an ellipsis marker when anything was cut.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
