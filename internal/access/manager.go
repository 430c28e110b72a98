package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadflow-engine/internal/metrics"
)

// Priority orders queued waiters. A waiter that is already granted is never
// preempted, whatever arrives behind it.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

var (
	// ErrLockTimeout means the wait budget ran out; safe to retry with backoff.
	ErrLockTimeout = errors.New("resource lock: wait timed out")
	// ErrDeadlockDetected means granting this wait would close a cycle in the
	// wait-for graph. The caller should back off and retry.
	ErrDeadlockDetected = errors.New("resource lock: deadlock detected")
)

type waiter struct {
	owner   string
	names   []string
	prio    Priority
	seq     uint64
	ready   chan struct{}
	granted bool
}

// Manager hands out exclusive locks on named resources. Two operations whose
// resource sets overlap never run their critical sections at the same time;
// disjoint sets proceed in parallel.
type Manager struct {
	mu      sync.Mutex
	seq     uint64
	holders map[string]string   // resource name -> owner token
	held    map[string][]string // owner token -> resource names it holds
	waiters []*waiter
}

func NewManager() *Manager {
	return &Manager{
		holders: make(map[string]string),
		held:    make(map[string][]string),
	}
}

// Acquire blocks until every name is exclusively held by owner, the context
// expires (ErrLockTimeout), or the wait would deadlock (ErrDeadlockDetected).
// The returned release func must be called exactly once.
func (m *Manager) Acquire(ctx context.Context, owner string, prio Priority, names ...string) (func(), error) {
	if len(names) == 0 {
		return nil, errors.New("resource lock: no resource names declared")
	}
	if owner == "" {
		owner = uuid.NewString()
	}
	names = normalize(names)
	start := time.Now()

	m.mu.Lock()
	if m.freeFor(owner, names) {
		m.grant(owner, names)
		m.mu.Unlock()
		return m.releaser(owner, names), nil
	}

	if m.wouldDeadlock(owner, names) {
		m.mu.Unlock()
		metrics.RecordDeadlock()
		return nil, fmt.Errorf("%w (owner=%s resources=%v)", ErrDeadlockDetected, owner, names)
	}

	m.seq++
	w := &waiter{
		owner: owner,
		names: names,
		prio:  prio,
		seq:   m.seq,
		ready: make(chan struct{}),
	}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	select {
	case <-w.ready:
		for _, n := range names {
			metrics.RecordLockWait(n, time.Since(start))
		}
		return m.releaser(owner, names), nil
	case <-ctx.Done():
		m.mu.Lock()
		if w.granted {
			// granted while we were giving up; hand it straight back
			m.ungrant(owner, names)
			m.wakeWaiters()
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		}
		m.removeWaiter(w)
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
	}
}

// WithResources runs fn inside the lock on names, releasing it on every exit
// path including panic.
func (m *Manager) WithResources(ctx context.Context, owner string, prio Priority, names []string, fn func(ctx context.Context) error) error {
	release, err := m.Acquire(ctx, owner, prio, names...)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Stats reports how many resources are currently held and how many
// operations are queued behind them.
func (m *Manager) Stats() (held, queued int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.holders), len(m.waiters)
}

func (m *Manager) releaser(owner string, names []string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.ungrant(owner, names)
			m.wakeWaiters()
			m.mu.Unlock()
		})
	}
}

// freeFor reports whether every name is either unheld or already held by
// owner (re-entrant sets are granted, not self-deadlocked).
func (m *Manager) freeFor(owner string, names []string) bool {
	for _, n := range names {
		if h, ok := m.holders[n]; ok && h != owner {
			return false
		}
	}
	return true
}

func (m *Manager) grant(owner string, names []string) {
	for _, n := range names {
		if m.holders[n] != owner {
			m.holders[n] = owner
			m.held[owner] = append(m.held[owner], n)
		}
	}
}

func (m *Manager) ungrant(owner string, names []string) {
	for _, n := range names {
		if m.holders[n] == owner {
			delete(m.holders, n)
		}
	}
	kept := m.held[owner][:0]
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	for _, n := range m.held[owner] {
		if !drop[n] {
			kept = append(kept, n)
		}
	}
	if len(kept) == 0 {
		delete(m.held, owner)
	} else {
		m.held[owner] = kept
	}
}

// wakeWaiters grants every queued waiter whose full set is now free,
// highest priority first, FIFO within a priority class.
func (m *Manager) wakeWaiters() {
	for {
		granted := false
		sort.SliceStable(m.waiters, func(i, j int) bool {
			if m.waiters[i].prio != m.waiters[j].prio {
				return m.waiters[i].prio > m.waiters[j].prio
			}
			return m.waiters[i].seq < m.waiters[j].seq
		})
		for _, w := range m.waiters {
			if w.granted {
				continue
			}
			if m.freeFor(w.owner, w.names) {
				m.grant(w.owner, w.names)
				w.granted = true
				close(w.ready)
				m.removeWaiter(w)
				granted = true
				break
			}
		}
		if !granted {
			return
		}
	}
}

func (m *Manager) removeWaiter(w *waiter) {
	for i, x := range m.waiters {
		if x == w {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

func normalize(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
