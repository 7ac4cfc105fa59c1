// Package session holds the in-memory session store: a bounded set of terminal
// sessions, each with bounded output and command history.
package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rama-kairi/termcore/internal/config"
	"github.com/rama-kairi/termcore/internal/logger"
)

// RemoveReason says why a session left the store
type RemoveReason string

const (
	ReasonClosed  RemoveReason = "closed"
	ReasonEvicted RemoveReason = "evicted"
	ReasonIdle    RemoveReason = "idle"
)

// RemoveHook is told about every session that leaves the store. Hooks run
// after the store lock is released and may call back into the store.
type RemoveHook func(id string, reason RemoveReason)

// Session is a snapshot of one session. Slices are copies owned by the caller.
type Session struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Title            string    `json:"title"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivityAt   time.Time `json:"last_activity_at"`
	IsActive         bool      `json:"is_active"`
	CurrentDirectory string    `json:"current_directory"`
	CommandHistory   []string  `json:"command_history"`
	OutputBuffer     []string  `json:"output_buffer"`
}

// Update lists the fields to merge into a session; nil fields are left alone
type Update struct {
	Title            *string
	CurrentDirectory *string
}

// Stats summarizes the store contents
type Stats struct {
	Sessions       int    `json:"sessions"`
	ActiveSession  string `json:"active_session,omitempty"`
	OutputLines    int    `json:"output_lines"`
	HistoryEntries int    `json:"history_entries"`
	Created        uint64 `json:"created_total"`
	Evicted        uint64 `json:"evicted_total"`
	Expired        uint64 `json:"expired_total"`
}

// Options configures a Store. Zero bounds fall back to DefaultOptions.
type Options struct {
	MaxSessions       int
	MaxOutputLines    int
	MaxHistoryEntries int
	IdleTimeout       time.Duration
	CleanupInterval   time.Duration
	WorkingDir        string

	Clock  func() time.Time
	Logger *logger.Logger
}

// DefaultOptions returns the stock bounds
func DefaultOptions() Options {
	return Options{
		MaxSessions:       10,
		MaxOutputLines:    5000,
		MaxHistoryEntries: 1000,
		IdleTimeout:       2 * time.Hour,
		CleanupInterval:   5 * time.Minute,
	}
}

// OptionsFromConfig maps the session section of the config onto Options
func OptionsFromConfig(cfg config.SessionConfig) Options {
	return Options{
		MaxSessions:       cfg.MaxSessions,
		MaxOutputLines:    cfg.MaxOutputLines,
		MaxHistoryEntries: cfg.MaxHistoryEntries,
		IdleTimeout:       cfg.IdleTimeout.Std(),
		CleanupInterval:   cfg.CleanupInterval.Std(),
		WorkingDir:        cfg.WorkingDir,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxSessions <= 0 {
		o.MaxSessions = def.MaxSessions
	}
	if o.MaxOutputLines <= 0 {
		o.MaxOutputLines = def.MaxOutputLines
	}
	if o.MaxHistoryEntries <= 0 {
		o.MaxHistoryEntries = def.MaxHistoryEntries
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = def.IdleTimeout
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = def.CleanupInterval
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	return o
}

type record struct {
	id           string
	name         string
	title        string
	createdAt    time.Time
	lastActivity time.Time
	seq          uint64
	dir          string
	history      *Ring[string]
	output       *Ring[string]
}

func (r *record) snapshot(active bool) Session {
	return Session{
		ID:               r.id,
		Name:             r.name,
		Title:            r.title,
		CreatedAt:        r.createdAt,
		LastActivityAt:   r.lastActivity,
		IsActive:         active,
		CurrentDirectory: r.dir,
		CommandHistory:   r.history.Items(),
		OutputBuffer:     r.output.Items(),
	}
}

type removal struct {
	id     string
	name   string
	reason RemoveReason
}

// Store owns every session. All methods are safe for concurrent use; mutators
// on unknown ids do nothing.
type Store struct {
	opts   Options
	logger *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*record
	activeID string
	seq      uint64
	evicted  uint64
	expired  uint64

	hooksMu sync.RWMutex
	hooks   []RemoveHook

	janitorMu   sync.Mutex
	stopJanitor chan struct{}
	janitorDone chan struct{}
}

// NewStore creates a store with the given bounds
func NewStore(opts Options) *Store {
	opts = opts.withDefaults()
	return &Store{
		opts:     opts,
		logger:   opts.Logger.WithComponent("session_store"),
		sessions: make(map[string]*record),
	}
}

// Options returns the effective configuration
func (s *Store) Options() Options {
	return s.opts
}

// OnRemove registers a hook called whenever a session leaves the store
func (s *Store) OnRemove(hook RemoveHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// CreateSession adds a session and returns its id. When the store is full the
// session with the earliest creation time is evicted first.
func (s *Store) CreateSession(title string) string {
	s.mu.Lock()

	var removed []removal
	for len(s.sessions) >= s.opts.MaxSessions {
		oldest := s.oldestLocked()
		if oldest == nil {
			break
		}
		s.deleteLocked(oldest.id)
		s.evicted++
		removed = append(removed, removal{id: oldest.id, name: oldest.name, reason: ReasonEvicted})
	}

	now := s.opts.Clock()
	s.seq++
	name := fmt.Sprintf("Terminal %d", s.seq)
	if strings.TrimSpace(title) == "" {
		title = name
	}

	rec := &record{
		id:           uuid.New().String(),
		name:         name,
		title:        title,
		createdAt:    now,
		lastActivity: now,
		seq:          s.seq,
		dir:          s.opts.WorkingDir,
		history:      NewRing[string](s.opts.MaxHistoryEntries),
		output:       NewRing[string](s.opts.MaxOutputLines),
	}
	s.sessions[rec.id] = rec
	s.mu.Unlock()

	s.notify(removed)
	s.logger.LogSessionEvent("created", rec.id, rec.name, map[string]interface{}{
		"title": title,
	})
	return rec.id
}

// oldestLocked picks the earliest created session; creation order breaks ties
func (s *Store) oldestLocked() *record {
	var oldest *record
	for _, rec := range s.sessions {
		if oldest == nil ||
			rec.createdAt.Before(oldest.createdAt) ||
			(rec.createdAt.Equal(oldest.createdAt) && rec.seq < oldest.seq) {
			oldest = rec
		}
	}
	return oldest
}

func (s *Store) deleteLocked(id string) {
	delete(s.sessions, id)
	if s.activeID == id {
		s.activeID = ""
	}
}

// RemoveSession deletes a session. No other session becomes active.
func (s *Store) RemoveSession(id string) {
	s.mu.Lock()
	rec, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.deleteLocked(id)
	s.mu.Unlock()

	s.notify([]removal{{id: id, name: rec.name, reason: ReasonClosed}})
}

// SetActiveSession gives id the focus and clears it everywhere else
func (s *Store) SetActiveSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return
	}
	s.activeID = id
	rec.lastActivity = s.opts.Clock()
}

// UpdateSession merges the non-nil fields of u into the session
func (s *Store) UpdateSession(id string, u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return
	}
	if u.Title != nil {
		rec.title = *u.Title
	}
	if u.CurrentDirectory != nil {
		rec.dir = *u.CurrentDirectory
	}
	rec.lastActivity = s.opts.Clock()
}

// AddOutput appends a chunk of output. Chunks are split on newlines so the
// bound counts lines; a trailing newline does not add an empty line.
func (s *Store) AddOutput(id, chunk string) {
	lines := splitLines(chunk)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return
	}
	for _, line := range lines {
		rec.output.Push(line)
	}
	rec.lastActivity = s.opts.Clock()
}

func splitLines(chunk string) []string {
	if !strings.Contains(chunk, "\n") {
		return []string{strings.TrimSuffix(chunk, "\r")}
	}
	lines := strings.Split(strings.TrimSuffix(chunk, "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// AddToHistory appends a submitted command line
func (s *Store) AddToHistory(id, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return
	}
	rec.history.Push(line)
	rec.lastActivity = s.opts.Clock()
}

// ClearOutput empties the output buffer of a session
func (s *Store) ClearOutput(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.sessions[id]; ok {
		rec.output.Clear()
		rec.lastActivity = s.opts.Clock()
	}
}

// CleanupSessions removes every session idle for longer than the idle timeout
// and returns how many were removed.
func (s *Store) CleanupSessions() int {
	s.mu.Lock()
	cutoff := s.opts.Clock().Add(-s.opts.IdleTimeout)

	var removed []removal
	for id, rec := range s.sessions {
		if rec.lastActivity.Before(cutoff) {
			s.deleteLocked(id)
			s.expired++
			removed = append(removed, removal{id: id, name: rec.name, reason: ReasonIdle})
		}
	}
	s.mu.Unlock()

	s.notify(removed)
	if len(removed) > 0 {
		s.logger.Info("Cleaned up idle sessions", map[string]interface{}{
			"removed":      len(removed),
			"idle_timeout": s.opts.IdleTimeout.String(),
		})
	}
	return len(removed)
}

// GetSession returns a snapshot of the session
func (s *Store) GetSession(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return rec.snapshot(id == s.activeID), true
}

// Exists reports whether id is a live session
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// Directory returns the current directory of a session
func (s *Store) Directory(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[id]
	if !ok {
		return "", false
	}
	return rec.dir, true
}

// Output returns the newest n output lines, all of them when n <= 0
func (s *Store) Output(id string, n int) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if n <= 0 {
		return rec.output.Items(), true
	}
	return rec.output.Tail(n), true
}

// History returns the newest n history entries, all of them when n <= 0
func (s *Store) History(id string, n int) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if n <= 0 {
		return rec.history.Items(), true
	}
	return rec.history.Tail(n), true
}

// ListSessions returns snapshots ordered by creation time
func (s *Store) ListSessions() []Session {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.sessions))
	for _, rec := range s.sessions {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].seq < recs[j].seq
	})

	out := make([]Session, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.snapshot(rec.id == s.activeID))
	}
	s.mu.RUnlock()
	return out
}

// Count returns the number of live sessions
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ActiveSessionID returns the focused session, if any
func (s *Store) ActiveSessionID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID, s.activeID != ""
}

// Stats returns aggregate counters
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Sessions:      len(s.sessions),
		ActiveSession: s.activeID,
		Created:       s.seq,
		Evicted:       s.evicted,
		Expired:       s.expired,
	}
	for _, rec := range s.sessions {
		st.OutputLines += rec.output.Len()
		st.HistoryEntries += rec.history.Len()
	}
	return st
}

func (s *Store) notify(removed []removal) {
	if len(removed) == 0 {
		return
	}

	s.hooksMu.RLock()
	hooks := make([]RemoveHook, len(s.hooks))
	copy(hooks, s.hooks)
	s.hooksMu.RUnlock()

	for _, r := range removed {
		s.logger.LogSessionEvent(string(r.reason), r.id, r.name)
		for _, hook := range hooks {
			hook(r.id, r.reason)
		}
	}
}
