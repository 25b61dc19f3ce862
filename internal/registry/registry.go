package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/insightloop/insightloop/internal/observability"
	"github.com/insightloop/insightloop/internal/workflow"
)

var (
	ErrCapacity  = errors.New("registry: at capacity")
	ErrDuplicate = errors.New("registry: workflow id already registered")
	ErrNotFound  = errors.New("registry: workflow not found")
)

// Handle is the in-memory view of one run: the latest state snapshot, the
// event stream, and the cancel function for the run's goroutine.
type Handle struct {
	ID      string
	Emitter *workflow.Emitter

	mu      sync.Mutex
	snap    workflow.State
	updated time.Time
	cancel  context.CancelFunc
}

// Snapshot returns the most recent state copy.
func (h *Handle) Snapshot() workflow.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap.Clone()
}

// Update replaces the snapshot. Called by the run's observer after every
// stage.
func (h *Handle) Update(s workflow.State, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap = s
	h.updated = now
}

// Cancel stops the run's goroutine. Safe to call more than once.
func (h *Handle) Cancel() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (h *Handle) terminalSince(now time.Time) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.snap.Terminal() {
		return 0, false
	}
	return now.Sub(h.updated), true
}

// Registry indexes live runs by workflow id so HTTP handlers can attach to a
// run started by an earlier request. Terminal runs linger for a grace period
// so late subscribers can still replay the event stream, then the sweeper
// evicts them; the persistent record lives in the run store.
type Registry struct {
	capacity int
	grace    time.Duration
	logger   *slog.Logger
	clock    func() time.Time

	mu      sync.Mutex
	handles map[string]*Handle
}

func New(capacity int, grace time.Duration, logger *slog.Logger) *Registry {
	if capacity <= 0 {
		capacity = 1024
	}
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		capacity: capacity,
		grace:    grace,
		logger:   logger,
		clock:    time.Now,
		handles:  map[string]*Handle{},
	}
}

// Add registers a new run and returns its handle.
func (r *Registry) Add(id string, initial workflow.State, emitter *workflow.Emitter, cancel context.CancelFunc) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[id]; exists {
		return nil, ErrDuplicate
	}
	if len(r.handles) >= r.capacity {
		return nil, ErrCapacity
	}
	handle := &Handle{
		ID:      id,
		Emitter: emitter,
		snap:    initial,
		updated: r.clock(),
		cancel:  cancel,
	}
	r.handles[id] = handle
	observability.SetRegistryLiveRuns(len(r.handles))
	return handle, nil
}

func (r *Registry) Get(id string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle, ok := r.handles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return handle, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Sweep evicts terminal handles whose grace period has elapsed and returns
// how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, handle := range r.handles {
		if age, terminal := handle.terminalSince(now); terminal && age >= r.grace {
			delete(r.handles, id)
			removed++
		}
	}
	if removed > 0 {
		observability.SetRegistryLiveRuns(len(r.handles))
	}
	return removed
}

// RunSweeper sweeps on the given interval until ctx is cancelled. Run it in
// its own goroutine.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := r.Sweep(r.clock()); removed > 0 {
				r.logger.Debug("registry sweep", slog.Int("evicted", removed), slog.Int("live", r.Len()))
			}
		}
	}
}
