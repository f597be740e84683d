// Package ws is the peer transport: it accepts websocket connections, assigns peer ids
// and moves binary frames between sockets and the tick loop. It never touches
// simulation state.
package ws

import (
	"encoding/binary"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/time/rate"

	"duckovtogether/internal/protocol"
)

type Config struct {
	MaxPeers     int
	GameKey      string
	QueueSize    int
	InboxSize    int
	FrameRate    rate.Limit
	FrameBurst   int
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

func (c *Config) defaults() {
	if c.MaxPeers <= 0 {
		c.MaxPeers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 4096
	}
	if c.FrameRate <= 0 {
		c.FrameRate = 240
	}
	if c.FrameBurst <= 0 {
		c.FrameBurst = 480
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 2 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
}

// Inbound is one frame read from a peer.
type Inbound struct {
	Peer  uint32
	Frame []byte
	At    time.Time
}

// Connect announces an accepted peer.
type Connect struct {
	Peer      uint32
	SessionID string
	Name      string
	EndPoint  string
	At        time.Time
}

// Disconnect announces a peer whose socket is gone.
type Disconnect struct {
	Peer   uint32
	Reason string
	At     time.Time
}

type PeerInfo struct {
	ID          uint32    `json:"id"`
	SessionID   string    `json:"session_id"`
	Name        string    `json:"name"`
	EndPoint    string    `json:"endpoint"`
	LatencyMs   int       `json:"latency_ms"`
	ConnectedAt time.Time `json:"connected_at"`
}

type Stats struct {
	Peers       int    `json:"peers"`
	Rejected    uint64 `json:"rejected"`
	DroppedOut  uint64 `json:"dropped_out"`
	DroppedIn   uint64 `json:"dropped_in"`
	RateLimited uint64 `json:"rate_limited"`
}

type peer struct {
	id        uint32
	sessionID string
	name      string
	endpoint  string
	connected time.Time

	conn    *websocket.Conn
	out     chan []byte
	limiter *rate.Limiter

	latencyMs atomic.Int64

	closeOnce   sync.Once
	closing     chan struct{}
	closeReason atomic.Value
}

func (p *peer) close(reason string) {
	p.closeOnce.Do(func() {
		p.closeReason.Store(reason)
		close(p.closing)
	})
}

func (p *peer) reason() string {
	if r, ok := p.closeReason.Load().(string); ok {
		return r
	}
	return ""
}

type Hub struct {
	cfg Config
	log *log.Logger

	upgrader websocket.Upgrader

	mu       deadlock.Mutex
	nextID   uint32
	reserved int
	peers    map[uint32]*peer

	inbox  chan Inbound
	joins  chan Connect
	leaves chan Disconnect
	done   chan struct{}
	once   sync.Once

	rejected    atomic.Uint64
	droppedOut  atomic.Uint64
	droppedIn   atomic.Uint64
	rateLimited atomic.Uint64
}

func NewHub(cfg Config, logger *log.Logger) *Hub {
	cfg.defaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		cfg: cfg,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		peers:  map[uint32]*peer{},
		inbox:  make(chan Inbound, cfg.InboxSize),
		joins:  make(chan Connect, cfg.MaxPeers*2),
		leaves: make(chan Disconnect, cfg.MaxPeers*2),
		done:   make(chan struct{}),
	}
}

func (h *Hub) Inbox() <-chan Inbound     { return h.inbox }
func (h *Hub) Joins() <-chan Connect     { return h.joins }
func (h *Hub) Leaves() <-chan Disconnect { return h.leaves }

// reserve claims a peer slot before the upgrade so the capacity check and the
// registration cannot race.
func (h *Hub) reserve() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.peers)+h.reserved >= h.cfg.MaxPeers {
		return false
	}
	h.reserved++
	return true
}

func (h *Hub) release() {
	h.mu.Lock()
	h.reserved--
	h.mu.Unlock()
}

// Handler serves GET ?key=<secret>&name=<display>. Requests are rejected before the
// upgrade with 503 when full and 403 on a bad key.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		select {
		case <-h.done:
			http.Error(rw, protocol.ErrShutdown, http.StatusServiceUnavailable)
			return
		default:
		}
		q := r.URL.Query()
		if !h.reserve() {
			h.rejected.Add(1)
			h.log.Printf("reject %s: server full", r.RemoteAddr)
			http.Error(rw, protocol.ErrServerFull, http.StatusServiceUnavailable)
			return
		}
		if q.Get("key") != h.cfg.GameKey {
			h.release()
			h.rejected.Add(1)
			h.log.Printf("reject %s: bad key", r.RemoteAddr)
			http.Error(rw, protocol.ErrBadKey, http.StatusForbidden)
			return
		}
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			h.release()
			return
		}
		p := h.register(conn, strings.TrimSpace(q.Get("name")), r.RemoteAddr)
		h.serve(p)
	}
}

func (h *Hub) register(conn *websocket.Conn, name, endpoint string) *peer {
	h.mu.Lock()
	h.reserved--
	h.nextID++
	p := &peer{
		id:        h.nextID,
		sessionID: uuid.NewString(),
		name:      name,
		endpoint:  endpoint,
		connected: time.Now(),
		conn:      conn,
		out:       make(chan []byte, h.cfg.QueueSize),
		limiter:   rate.NewLimiter(h.cfg.FrameRate, h.cfg.FrameBurst),
		closing:   make(chan struct{}),
	}
	h.peers[p.id] = p
	h.mu.Unlock()

	h.log.Printf("peer %d connected: name=%q endpoint=%s session=%s", p.id, name, endpoint, p.sessionID)
	select {
	case h.joins <- Connect{Peer: p.id, SessionID: p.sessionID, Name: name, EndPoint: endpoint, At: p.connected}:
	case <-h.done:
		p.close(protocol.ErrShutdown)
	}
	return p
}

func (h *Hub) unregister(p *peer, reason string) {
	h.mu.Lock()
	_, ok := h.peers[p.id]
	delete(h.peers, p.id)
	h.mu.Unlock()
	if !ok {
		return
	}
	if r := p.reason(); r != "" {
		reason = r
	}
	h.log.Printf("peer %d disconnected: %s", p.id, reason)
	select {
	case h.leaves <- Disconnect{Peer: p.id, Reason: reason, At: time.Now()}:
	case <-h.done:
	}
}

func (h *Hub) serve(p *peer) {
	defer p.conn.Close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(p)
	}()

	reason := h.readLoop(p)
	p.close(reason)
	<-writerDone
	h.unregister(p, reason)
}

func (h *Hub) readLoop(p *peer) string {
	p.conn.SetPongHandler(func(data string) error {
		if len(data) == 8 {
			sent := int64(binary.LittleEndian.Uint64([]byte(data)))
			p.latencyMs.Store(time.Since(time.Unix(0, sent)).Milliseconds())
		}
		return p.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})
	for {
		_ = p.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		mt, msg, err := p.conn.ReadMessage()
		if err != nil {
			return "read: " + err.Error()
		}
		if mt != websocket.BinaryMessage || len(msg) == 0 {
			continue
		}
		if !p.limiter.Allow() {
			h.rateLimited.Add(1)
			continue
		}
		select {
		case h.inbox <- Inbound{Peer: p.id, Frame: msg, At: time.Now()}:
		case <-p.closing:
			return p.reason()
		case <-h.done:
			return protocol.ErrShutdown
		default:
			h.droppedIn.Add(1)
		}
	}
}

func (h *Hub) writeLoop(p *peer) {
	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()
	for {
		select {
		case b := <-p.out:
			if err := h.write(p, b); err != nil {
				p.close("write: " + err.Error())
				_ = p.conn.Close()
				return
			}
		case <-ping.C:
			var data [8]byte
			binary.LittleEndian.PutUint64(data[:], uint64(time.Now().UnixNano()))
			if err := p.conn.WriteControl(websocket.PingMessage, data[:], time.Now().Add(5*time.Second)); err != nil {
				p.close("ping: " + err.Error())
				_ = p.conn.Close()
				return
			}
		case <-p.closing:
			h.flush(p)
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, p.reason()),
				time.Now().Add(time.Second))
			_ = p.conn.Close()
			return
		}
	}
}

// flush writes whatever is already queued, so a kick frame reaches the peer before the close.
func (h *Hub) flush(p *peer) {
	for {
		select {
		case b := <-p.out:
			if err := h.write(p, b); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *Hub) write(p *peer, b []byte) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (h *Hub) get(id uint32) *peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peers[id]
}

func (h *Hub) snapshot() []*peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p)
	}
	return out
}

// Send queues frame for one peer, dropping the oldest queued frame when full.
func (h *Hub) Send(id uint32, frame []byte) bool {
	p := h.get(id)
	if p == nil {
		return false
	}
	h.sendLatest(p, frame)
	return true
}

func (h *Hub) Broadcast(frame []byte) {
	for _, p := range h.snapshot() {
		h.sendLatest(p, frame)
	}
}

// BroadcastExcept queues frame for every peer but from.
func (h *Hub) BroadcastExcept(from uint32, frame []byte) {
	for _, p := range h.snapshot() {
		if p.id != from {
			h.sendLatest(p, frame)
		}
	}
}

func (h *Hub) sendLatest(p *peer, b []byte) {
	select {
	case p.out <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-p.out:
		h.droppedOut.Add(1)
	default:
	}
	select {
	case p.out <- b:
	default:
		h.droppedOut.Add(1)
	}
}

// Disconnect closes a peer after its queued frames are written.
func (h *Hub) Disconnect(id uint32, reason string) bool {
	p := h.get(id)
	if p == nil {
		return false
	}
	p.close(reason)
	return true
}

func (h *Hub) Latency(id uint32) int {
	if p := h.get(id); p != nil {
		return int(p.latencyMs.Load())
	}
	return 0
}

func (h *Hub) Peers() []PeerInfo {
	ps := h.snapshot()
	out := make([]PeerInfo, 0, len(ps))
	for _, p := range ps {
		out = append(out, PeerInfo{
			ID:          p.id,
			SessionID:   p.sessionID,
			Name:        p.name,
			EndPoint:    p.endpoint,
			LatencyMs:   int(p.latencyMs.Load()),
			ConnectedAt: p.connected,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *Hub) Stats() Stats {
	return Stats{
		Peers:       h.Count(),
		Rejected:    h.rejected.Load(),
		DroppedOut:  h.droppedOut.Load(),
		DroppedIn:   h.droppedIn.Load(),
		RateLimited: h.rateLimited.Load(),
	}
}

// Close refuses new connections and disconnects every peer.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.done) })
	for _, p := range h.snapshot() {
		p.close(protocol.ErrShutdown)
	}
}
