package session

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrTooManyConnections = errors.New("too many connections")
	ErrDuplicateConn      = errors.New("connection already registered")
)

// Registry is the set of live connections. It is the only connection state
// shared between connection handlers.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*ConnInfo
	max   int
}

// NewRegistry creates a registry. max <= 0 means unlimited.
func NewRegistry(max int) *Registry {
	return &Registry{
		conns: make(map[string]*ConnInfo),
		max:   max,
	}
}

func (r *Registry) Add(info *ConnInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[info.ID]; ok {
		return ErrDuplicateConn
	}
	if r.max > 0 && len(r.conns) >= r.max {
		return ErrTooManyConnections
	}
	r.conns[info.ID] = info.Clone()
	return nil
}

// Remove deletes the connection and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) Get(id string) (*ConnInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// GetAll returns copies of all entries, oldest connection first.
func (r *Registry) GetAll() []*ConnInfo {
	r.mu.RLock()
	result := make([]*ConnInfo, 0, len(r.conns))
	for _, c := range r.conns {
		result = append(result, c.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].ConnectedAt.Before(result[j].ConnectedAt)
	})
	return result
}

func (r *Registry) SetTracking(id string, tracking bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.Tracking = tracking
	}
}

func (r *Registry) TrackingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, c := range r.conns {
		if c.Tracking {
			count++
		}
	}
	return count
}
