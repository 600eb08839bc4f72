// Package adjacency tracks the configured neighbor routers and the liveness
// state the hello prober maintains for each of them.
package adjacency

import (
	"sync"

	"github.com/ryandielhenn/zephyrroute/pkg/name"
)

// Status is the liveness state of a neighbor. The zero value is inactive:
// every neighbor starts dead until a validated hello response proves
// otherwise.
type Status uint8

const (
	StatusInactive Status = iota
	StatusActive
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	default:
		return "inactive"
	}
}

// Neighbor is one configured adjacency.
type Neighbor struct {
	Name    name.Name
	Address string // configured or discovered endpoint, "" when unknown
	FaceID  uint64 // transport face, 0 means no usable face
	Status  Status
	// TimeoutCount counts consecutive probe failures since the last
	// validated response.
	TimeoutCount uint32
}

// List is the set of neighbors. Membership and face bindings are mutated by
// configuration load and discovery; status and timeout counters are owned by
// the hello prober's outcome handlers. All accessors treat an unknown name
// as a no-op so that outcomes for since-removed neighbors fall through
// harmlessly.
type List struct {
	mu        sync.RWMutex
	neighbors map[string]*Neighbor
}

func NewList() *List {
	return &List{neighbors: make(map[string]*Neighbor)}
}

// Add inserts a neighbor, or updates its address if already present.
// Status and counters of an existing entry are preserved.
func (l *List) Add(n name.Name, address string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := n.String()
	if nb, ok := l.neighbors[key]; ok {
		nb.Address = address
		return
	}
	l.neighbors[key] = &Neighbor{Name: n, Address: address}
}

// Remove deletes a neighbor. In-flight probe outcomes for it become no-ops.
func (l *List) Remove(n name.Name) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.neighbors, n.String())
}

func (l *List) IsNeighbor(n name.Name) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.neighbors[n.String()]
	return ok
}

// Snapshot returns a copy of all neighbors, safe to iterate without holding
// the list open.
func (l *List) Snapshot() []Neighbor {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Neighbor, 0, len(l.neighbors))
	for _, nb := range l.neighbors {
		out = append(out, *nb)
	}
	return out
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.neighbors)
}

// ActiveCount returns the number of neighbors currently active.
func (l *List) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, nb := range l.neighbors {
		if nb.Status == StatusActive {
			n++
		}
	}
	return n
}

func (l *List) Status(n name.Name) Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if nb, ok := l.neighbors[n.String()]; ok {
		return nb.Status
	}
	return StatusInactive
}

func (l *List) SetStatus(n name.Name, s Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if nb, ok := l.neighbors[n.String()]; ok {
		nb.Status = s
	}
}

func (l *List) TimeoutCount(n name.Name) uint32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if nb, ok := l.neighbors[n.String()]; ok {
		return nb.TimeoutCount
	}
	return 0
}

func (l *List) SetTimeoutCount(n name.Name, c uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if nb, ok := l.neighbors[n.String()]; ok {
		nb.TimeoutCount = c
	}
}

// IncrementTimeoutCount bumps the consecutive-failure counter and returns
// the new value.
func (l *List) IncrementTimeoutCount(n name.Name) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if nb, ok := l.neighbors[n.String()]; ok {
		nb.TimeoutCount++
		return nb.TimeoutCount
	}
	return 0
}

func (l *List) Face(n name.Name) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if nb, ok := l.neighbors[n.String()]; ok {
		return nb.FaceID
	}
	return 0
}

// SetFace binds a transport face to a neighbor. Face 0 detaches it; the
// prober skips faceless neighbors.
func (l *List) SetFace(n name.Name, faceID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if nb, ok := l.neighbors[n.String()]; ok {
		nb.FaceID = faceID
	}
}
