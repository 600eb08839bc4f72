package transport

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ryandielhenn/zephyrroute/pkg/name"
)

// Endpoint is one side of an in-process transport pair. It keeps the same
// contract as the UDP transport (exactly one outcome per expressed interest)
// and exists for tests and single-host experiments, where a lossy network
// is simulated with SetDown.
type Endpoint struct {
	mu       sync.Mutex
	peer     *Endpoint
	post     func(func())
	handlers []handlerEntry
	pending  map[uint64]*pendingInterest
	down     bool
}

// Pair returns two connected endpoints. Each posts its callbacks through the
// corresponding executor; pass nil to run callbacks inline.
func Pair(postA, postB func(func())) (*Endpoint, *Endpoint) {
	if postA == nil {
		postA = func(fn func()) { fn() }
	}
	if postB == nil {
		postB = func(fn func()) { fn() }
	}
	a := &Endpoint{post: postA, pending: make(map[uint64]*pendingInterest)}
	b := &Endpoint{post: postB, pending: make(map[uint64]*pendingInterest)}
	a.peer, b.peer = b, a
	return a, b
}

// SetDown simulates link loss: expressed interests time out and inbound
// traffic is dropped while down.
func (e *Endpoint) SetDown(down bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.down = down
}

func (e *Endpoint) isDown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.down
}

// AttachHandler registers h for inbound interests under prefix.
func (e *Endpoint) AttachHandler(prefix name.Name, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handlerEntry{prefix: prefix, h: h})
}

// Express delivers the interest to the peer, or arranges a timeout/nack.
func (e *Endpoint) Express(i *Interest, onData func(*Interest, *Data), onNack func(*Interest, string), onTimeout func(*Interest)) {
	sent := *i
	if sent.Nonce == 0 {
		sent.Nonce = rand.Uint64()
	}

	if e.isDown() || e.peer.isDown() {
		p := &pendingInterest{interest: &sent, onData: onData, onNack: onNack, onTimeout: onTimeout}
		e.mu.Lock()
		e.pending[sent.Nonce] = p
		p.timer = time.AfterFunc(sent.Lifetime, func() { e.expire(sent.Nonce) })
		e.mu.Unlock()
		return
	}

	h := e.peer.lookupHandler(sent.Name)
	if h == nil {
		e.post(func() { onNack(&sent, NackNoRoute) })
		return
	}

	p := &pendingInterest{interest: &sent, onData: onData, onNack: onNack, onTimeout: onTimeout}
	e.mu.Lock()
	e.pending[sent.Nonce] = p
	p.timer = time.AfterFunc(sent.Lifetime, func() { e.expire(sent.Nonce) })
	e.mu.Unlock()

	in := sent
	e.peer.post(func() { h(in.Name, &in) })
}

// Put answers interests pending on the peer whose name prefixes the data.
func (e *Endpoint) Put(d *Data) {
	if e.isDown() {
		return
	}
	requester := e.peer

	requester.mu.Lock()
	var matched []*pendingInterest
	for nonce, p := range requester.pending {
		if p.interest.Name.IsPrefixOf(d.Name) {
			p.timer.Stop()
			delete(requester.pending, nonce)
			matched = append(matched, p)
		}
	}
	requester.mu.Unlock()

	for _, p := range matched {
		p := p
		requester.post(func() { p.onData(p.interest, d) })
	}
}

func (e *Endpoint) expire(nonce uint64) {
	e.mu.Lock()
	p, ok := e.pending[nonce]
	if ok {
		delete(e.pending, nonce)
	}
	e.mu.Unlock()
	if ok {
		e.post(func() { p.onTimeout(p.interest) })
	}
}

func (e *Endpoint) lookupHandler(n name.Name) Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	var best Handler
	bestLen := -1
	for _, h := range e.handlers {
		if h.prefix.IsPrefixOf(n) && h.prefix.Len() > bestLen {
			best, bestLen = h.h, h.prefix.Len()
		}
	}
	return best
}
