package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrroute/pkg/name"
)

// UDPOption configures a UDP transport.
type UDPOption func(*UDP)

// WithLog configures the transport with a logger.
func WithLog(log *zap.SugaredLogger) UDPOption {
	return func(t *UDP) { t.log = log }
}

// WithCache attaches a data cache consulted before inbound interests reach
// the responder.
func WithCache(c DataCache) UDPOption {
	return func(t *UDP) { t.cache = c }
}

// WithPost routes outcome callbacks and inbound interests through the given
// executor, normally the daemon event loop's Post. The default runs them
// inline on the transport goroutine.
func WithPost(post func(func())) UDPOption {
	return func(t *UDP) { t.post = post }
}

// UDP exchanges one packet per datagram with peer routers. Faces are
// registered remote addresses; routes map name prefixes to faces.
type UDP struct {
	conn  *net.UDPConn
	log   *zap.SugaredLogger
	cache DataCache
	post  func(func())

	mu         sync.Mutex
	nextFace   uint64
	faces      map[uint64]*net.UDPAddr
	faceByAddr map[string]uint64
	routes     map[string]routeEntry
	handlers   []handlerEntry
	pending    map[uint64]*pendingInterest
	inbound    map[string]inboundEntry
}

type routeEntry struct {
	prefix name.Name
	faceID uint64
}

type inboundEntry struct {
	prefix name.Name
	src    *net.UDPAddr
	at     time.Time
}

// inboundTTL bounds how long an unanswered inbound interest keeps its return
// path; stale entries are pruned lazily.
const inboundTTL = 30 * time.Second

func NewUDP(listen string, opts ...UDPOption) (*UDP, error) {
	addr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", listen, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", listen, err)
	}
	t := &UDP{
		conn:       conn,
		log:        zap.NewNop().Sugar(),
		post:       func(fn func()) { fn() },
		faces:      make(map[uint64]*net.UDPAddr),
		faceByAddr: make(map[string]uint64),
		routes:     make(map[string]routeEntry),
		pending:    make(map[uint64]*pendingInterest),
		inbound:    make(map[string]inboundEntry),
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// LocalAddr returns the bound listen address.
func (t *UDP) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// RegisterFace resolves a remote address and returns a stable non-zero face
// id for it. Registering the same address twice returns the same id.
func (t *UDP) RegisterFace(address string) (uint64, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return 0, fmt.Errorf("transport: resolve face %q: %w", address, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.faceByAddr[addr.String()]; ok {
		return id, nil
	}
	t.nextFace++
	id := t.nextFace
	t.faces[id] = addr
	t.faceByAddr[addr.String()] = id
	return id, nil
}

// AddRoute directs interests under prefix to the given face.
func (t *UDP) AddRoute(prefix name.Name, faceID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[prefix.String()] = routeEntry{prefix: prefix, faceID: faceID}
}

// RemoveRoute drops the route for prefix, if any.
func (t *UDP) RemoveRoute(prefix name.Name) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.routes, prefix.String())
}

// AttachHandler registers h for inbound interests under prefix. The longest
// matching prefix wins.
func (t *UDP) AttachHandler(prefix name.Name, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, handlerEntry{prefix: prefix, h: h})
}

// Express sends one interest and guarantees exactly one of the three
// callbacks fires for it: data arrival, nack, or lifetime expiry.
func (t *UDP) Express(i *Interest, onData func(*Interest, *Data), onNack func(*Interest, string), onTimeout func(*Interest)) {
	sent := *i
	if sent.Nonce == 0 {
		sent.Nonce = rand.Uint64()
	}

	t.mu.Lock()
	faceID := t.lookupRouteLocked(sent.Name)
	addr := t.faces[faceID]
	if addr == nil {
		t.mu.Unlock()
		t.log.Debugw("no route for interest", "name", sent.Name.String())
		t.post(func() { onNack(&sent, NackNoRoute) })
		return
	}
	p := &pendingInterest{interest: &sent, onData: onData, onNack: onNack, onTimeout: onTimeout}
	t.pending[sent.Nonce] = p
	p.timer = time.AfterFunc(sent.Lifetime, func() { t.expire(sent.Nonce) })
	t.mu.Unlock()

	if _, err := t.conn.WriteToUDP(encodeInterest(&sent), addr); err != nil {
		t.log.Warnw("interest send failed", "name", sent.Name.String(), zap.Error(err))
		if q := t.take(sent.Nonce); q != nil {
			t.post(func() { q.onNack(q.interest, NackSendError) })
		}
	}
}

// Put answers an earlier inbound interest whose name is a prefix of the data
// name, and feeds the cache.
func (t *UDP) Put(d *Data) {
	if t.cache != nil {
		t.cache.Insert(d)
	}

	t.mu.Lock()
	var dst *net.UDPAddr
	for key, e := range t.inbound {
		if e.prefix.IsPrefixOf(d.Name) {
			dst = e.src
			delete(t.inbound, key)
			break
		}
	}
	t.mu.Unlock()

	if dst == nil {
		t.log.Debugw("data has no waiting requester", "name", d.Name.String())
		return
	}
	if _, err := t.conn.WriteToUDP(encodeData(d), dst); err != nil {
		t.log.Warnw("data send failed", "name", d.Name.String(), zap.Error(err))
	}
}

// Run reads datagrams until ctx is canceled.
func (t *UDP) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		t.conn.Close()
	}()

	buf := make([]byte, maxPacket)
	for {
		n, src, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			t.log.Warnw("read failed", zap.Error(err))
			continue
		}
		pkt, err := decodePacket(buf[:n])
		if err != nil {
			t.log.Debugw("dropping undecodable packet", "src", src.String(), zap.Error(err))
			continue
		}
		switch pkt.kind {
		case msgInterest:
			t.handleInterest(pkt.interest, src)
		case msgData:
			t.handleData(pkt.data)
		case msgNack:
			t.handleNack(pkt.nonce, pkt.reason)
		}
	}
}

func (t *UDP) handleInterest(i *Interest, src *net.UDPAddr) {
	if t.cache != nil {
		if d, ok := t.cache.Find(i.Name); ok {
			if _, err := t.conn.WriteToUDP(encodeData(d), src); err != nil {
				t.log.Warnw("cached data send failed", "name", d.Name.String(), zap.Error(err))
			}
			return
		}
	}

	t.mu.Lock()
	now := time.Now()
	for key, e := range t.inbound {
		if now.Sub(e.at) > inboundTTL {
			delete(t.inbound, key)
		}
	}
	h := t.lookupHandlerLocked(i.Name)
	if h != nil {
		t.inbound[i.Name.String()] = inboundEntry{prefix: i.Name, src: src, at: now}
	}
	t.mu.Unlock()

	if h == nil {
		t.log.Debugw("no handler for interest", "name", i.Name.String())
		if _, err := t.conn.WriteToUDP(encodeNack(i.Name, i.Nonce, NackNoRoute), src); err != nil {
			t.log.Warnw("nack send failed", "name", i.Name.String(), zap.Error(err))
		}
		return
	}
	t.post(func() { h(i.Name, i) })
}

func (t *UDP) handleData(d *Data) {
	t.mu.Lock()
	var matched []*pendingInterest
	for nonce, p := range t.pending {
		if p.interest.Name.IsPrefixOf(d.Name) {
			p.timer.Stop()
			delete(t.pending, nonce)
			matched = append(matched, p)
		}
	}
	t.mu.Unlock()

	if len(matched) == 0 {
		t.log.Debugw("unsolicited data", "name", d.Name.String())
		return
	}
	for _, p := range matched {
		p := p
		t.post(func() { p.onData(p.interest, d) })
	}
}

func (t *UDP) handleNack(nonce uint64, reason string) {
	if p := t.take(nonce); p != nil {
		t.post(func() { p.onNack(p.interest, reason) })
	}
}

func (t *UDP) expire(nonce uint64) {
	if p := t.take(nonce); p != nil {
		t.post(func() { p.onTimeout(p.interest) })
	}
}

// take removes and returns the pending entry for nonce, stopping its timer.
// It returns nil if the outcome was already delivered.
func (t *UDP) take(nonce uint64) *pendingInterest {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[nonce]
	if !ok {
		return nil
	}
	p.timer.Stop()
	delete(t.pending, nonce)
	return p
}

func (t *UDP) lookupRouteLocked(n name.Name) uint64 {
	var best routeEntry
	bestLen := -1
	for _, r := range t.routes {
		if r.prefix.IsPrefixOf(n) && r.prefix.Len() > bestLen {
			best, bestLen = r, r.prefix.Len()
		}
	}
	if bestLen < 0 {
		return 0
	}
	return best.faceID
}

func (t *UDP) lookupHandlerLocked(n name.Name) Handler {
	var best Handler
	bestLen := -1
	for _, e := range t.handlers {
		if e.prefix.IsPrefixOf(n) && e.prefix.Len() > bestLen {
			best, bestLen = e.h, e.prefix.Len()
		}
	}
	return best
}
