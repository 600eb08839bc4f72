package cstore

import (
	"container/list"
	"sync"
	"time"

	"github.com/ryandielhenn/zephyrroute/pkg/name"
	"github.com/ryandielhenn/zephyrroute/pkg/transport"
)

type entry struct {
	key      string
	data     *transport.Data
	size     int
	expireAt time.Time
}

// Store is an in-memory content store: recently produced data packets kept
// for the duration of their freshness period, with LRU eviction by bytes
// capacity. A fresh entry satisfies a repeated interest without waking the
// responder.
type Store struct {
	mu   sync.Mutex
	data map[string]*list.Element
	ll   *list.List
	used int
	cap  int
}

func New(capacityBytes int) *Store {
	return &Store{
		data: make(map[string]*list.Element),
		ll:   list.New(),
		cap:  capacityBytes,
	}
}

// Insert stores d, keyed by its full name, expiring after its freshness
// period. Data without a freshness period is not cacheable.
func (s *Store) Insert(d *transport.Data) {
	if d.FreshnessPeriod <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := d.Name.String()
	exp := time.Now().Add(d.FreshnessPeriod)
	size := len(key) + len(d.Content) + len(d.Signature)

	if el, ok := s.data[key]; ok {
		old := el.Value.(*entry)
		s.used -= old.size
		old.data = d
		old.size = size
		old.expireAt = exp
		s.used += size
		s.ll.MoveToFront(el)
	} else {
		e := &entry{key: key, data: d, size: size, expireAt: exp}
		el := s.ll.PushFront(e)
		s.data[key] = el
		s.used += size
	}
	s.evictIfNeeded()
}

// Find returns a still-fresh data packet whose name extends prefix, most
// recently used first. Expired entries encountered on the way are dropped.
func (s *Store) Find(prefix name.Name) (*transport.Data, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for el := s.ll.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if now.After(e.expireAt) {
			s.removeElement(el)
			el = next
			continue
		}
		if prefix.IsPrefixOf(e.data.Name) {
			s.ll.MoveToFront(el)
			return e.data, true
		}
		el = next
	}
	return nil, false
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *Store) evictIfNeeded() {
	for s.used > s.cap && s.ll.Back() != nil {
		s.removeElement(s.ll.Back())
	}
}

func (s *Store) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	delete(s.data, e.key)
	s.used -= e.size
	s.ll.Remove(el)
}
