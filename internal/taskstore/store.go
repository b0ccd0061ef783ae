// Package taskstore caches the signed-in user's tasks and derives the
// filtered list and aggregate counts from that cache. The cache is only ever
// replaced wholesale by a reload; mutations go to the server and are followed
// by a reload instead of being applied locally.
package taskstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"taskpilot/cli/internal/logging"
	"taskpilot/cli/internal/metrics"
)

var (
	ErrNoSession     = errors.New("not signed in")
	ErrTitleRequired = errors.New("task title is required")
	ErrTaskNotFound  = errors.New("task not found")
)

type Requester interface {
	Do(ctx context.Context, method, path string, body, out any) error
}

// Gate reports whether a session currently exists. No request is sent
// without one.
type Gate interface {
	Authenticated() bool
}

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Collectors
}

type Store struct {
	api     Requester
	gate    Gate
	logger  *slog.Logger
	metrics *metrics.Collectors

	mu      sync.RWMutex
	tasks   []Task
	loaded  bool
	filter  Filter
	query   string
	seq     uint64
	applied uint64
	epoch   uint64

	listenersMu sync.Mutex
	listeners   []func()
}

func New(api Requester, gate Gate, opts Options) *Store {
	lg := opts.Logger
	if lg == nil {
		lg = logging.Discard()
	}
	return &Store{
		api:     api,
		gate:    gate,
		logger:  lg,
		metrics: opts.Metrics,
		filter:  FilterAll,
	}
}

// OnChange registers fn to run after the cache or the filter/search state
// changes.
func (s *Store) OnChange(fn func()) {
	if fn == nil {
		return
	}
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

func (s *Store) notify() {
	s.listenersMu.Lock()
	fns := append([]func(){}, s.listeners...)
	s.listenersMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *Store) checkSession() error {
	if s.gate != nil && !s.gate.Authenticated() {
		return ErrNoSession
	}
	return nil
}

// Reload replaces the cache with the server's task list. On failure the
// previous cache is kept. A response older than one already applied, or one
// that arrives after Reset, is discarded.
func (s *Store) Reload(ctx context.Context) error {
	if err := s.checkSession(); err != nil {
		return err
	}
	s.mu.Lock()
	s.seq++
	seq, epoch := s.seq, s.epoch
	s.mu.Unlock()

	var tasks []Task
	if err := s.api.Do(ctx, http.MethodGet, "/v1/tasks", nil, &tasks); err != nil {
		s.metrics.ObserveReload("failed")
		return fmt.Errorf("reload tasks: %w", err)
	}
	if tasks == nil {
		tasks = []Task{}
	}

	s.mu.Lock()
	if epoch != s.epoch || seq < s.applied {
		s.mu.Unlock()
		s.metrics.ObserveReload("discarded")
		s.logger.Debug("discarding stale task list", "seq", seq, "epoch", epoch)
		return nil
	}
	s.tasks = tasks
	s.applied = seq
	s.loaded = true
	s.mu.Unlock()

	s.metrics.ObserveReload("applied")
	s.logger.Debug("task cache replaced", "seq", seq, "count", len(tasks))
	s.notify()
	return nil
}

func (s *Store) Create(ctx context.Context, f Fields) (Task, error) {
	if f.Title == nil || strings.TrimSpace(*f.Title) == "" {
		return Task{}, ErrTitleRequired
	}
	if err := s.checkSession(); err != nil {
		return Task{}, err
	}
	var created Task
	if err := s.api.Do(ctx, http.MethodPost, "/v1/tasks", f, &created); err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	s.logger.Info("task created", "task_id", created.ID)
	return created, s.reloadAfter(ctx, "create")
}

func (s *Store) Update(ctx context.Context, id string, f Fields) (Task, error) {
	if f.Title != nil && strings.TrimSpace(*f.Title) == "" {
		return Task{}, ErrTitleRequired
	}
	if f.Status != nil && !f.Status.Valid() {
		return Task{}, fmt.Errorf("unknown status %q", *f.Status)
	}
	if err := s.checkSession(); err != nil {
		return Task{}, err
	}
	var updated Task
	if err := s.api.Do(ctx, http.MethodPatch, taskPath(id), f, &updated); err != nil {
		return Task{}, fmt.Errorf("update task %s: %w", id, err)
	}
	s.logger.Info("task updated", "task_id", id)
	return updated, s.reloadAfter(ctx, "update")
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.checkSession(); err != nil {
		return err
	}
	if err := s.api.Do(ctx, http.MethodDelete, taskPath(id), nil, nil); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	s.logger.Info("task deleted", "task_id", id)
	return s.reloadAfter(ctx, "delete")
}

// ToggleDone marks a cached task done, or back to todo if it already is.
func (s *Store) ToggleDone(ctx context.Context, id string) (Task, error) {
	t, ok := s.Get(id)
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	next := StatusDone
	if t.Status == StatusDone {
		next = StatusTodo
	}
	return s.Update(ctx, id, Fields{Status: &next})
}

// Breakdown asks the server to suggest subtasks. It does not touch the cache.
func (s *Store) Breakdown(ctx context.Context, id string) (Breakdown, error) {
	if err := s.checkSession(); err != nil {
		return Breakdown{}, err
	}
	var out Breakdown
	if err := s.api.Do(ctx, http.MethodPost, taskPath(id)+"/ai-breakdown", nil, &out); err != nil {
		return Breakdown{}, fmt.Errorf("break down task %s: %w", id, err)
	}
	return out, nil
}

func (s *Store) Estimate(ctx context.Context, id string) (Estimate, error) {
	if err := s.checkSession(); err != nil {
		return Estimate{}, err
	}
	var out Estimate
	if err := s.api.Do(ctx, http.MethodPost, taskPath(id)+"/estimate", nil, &out); err != nil {
		return Estimate{}, fmt.Errorf("estimate task %s: %w", id, err)
	}
	return out, nil
}

func (s *Store) reloadAfter(ctx context.Context, op string) error {
	if err := s.Reload(ctx); err != nil {
		return fmt.Errorf("%s succeeded but refresh failed: %w", op, err)
	}
	return nil
}

func (s *Store) SetFilter(f Filter) error {
	parsed, err := ParseFilter(string(f))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.filter = parsed
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Store) SetSearch(query string) {
	s.mu.Lock()
	s.query = strings.ToLower(strings.TrimSpace(query))
	s.mu.Unlock()
	s.notify()
}

func (s *Store) Filter() Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

func (s *Store) Search() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query
}

// View returns the cached tasks matching the status filter and the search
// query, in server order.
func (s *Store) View() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if s.filter.matches(t.Status) && t.matchesQuery(s.query) {
			out = append(out, t)
		}
	}
	return out
}

// Stats counts over the whole cache; filter and search never apply.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Total: len(s.tasks)}
	for _, t := range s.tasks {
		switch t.Status {
		case StatusDone:
			st.Done++
		case StatusInProgress:
			st.InProgress++
		case StatusTodo:
			st.Todo++
		case StatusBlocked:
			st.Blocked++
		}
	}
	return st
}

// Recent returns the first n cached tasks, unfiltered.
func (s *Store) Recent(n int) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n < 0 || n > len(s.tasks) {
		n = len(s.tasks)
	}
	return append([]Task(nil), s.tasks[:n]...)
}

func (s *Store) All() []Task {
	return s.Recent(-1)
}

func (s *Store) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Reset empties the cache and the filter/search state. Reloads still in
// flight when Reset runs are discarded on arrival.
func (s *Store) Reset() {
	s.mu.Lock()
	s.tasks = nil
	s.loaded = false
	s.filter = FilterAll
	s.query = ""
	s.epoch++
	s.applied = s.seq
	s.mu.Unlock()
	s.logger.Debug("task cache reset")
	s.notify()
}

func taskPath(id string) string {
	return "/v1/tasks/" + url.PathEscape(strings.TrimSpace(id))
}
