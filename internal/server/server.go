// Package server runs the fixed-rate tick loop: it drains the transport inbox, dispatches
// requests through the validation gates, steps the AI, drains domain events into the
// broadcaster and lets the coordinator keep the clock and the saves.
package server

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"duckovtogether/internal/broadcast"
	"duckovtogether/internal/events"
	"duckovtogether/internal/persistence/indexdb"
	plog "duckovtogether/internal/persistence/log"
	"duckovtogether/internal/protocol"
	"duckovtogether/internal/security"
	"duckovtogether/internal/sim/store"
	"duckovtogether/internal/sim/tuning"
	"duckovtogether/internal/sim/world"
	"duckovtogether/internal/transport/ws"
)

var ErrStopped = errors.New("server stopped")

// Transport is the peer side of the loop: frames and connection events in, frames out.
type Transport interface {
	broadcast.Sender
	BroadcastExcept(from uint32, frame []byte)
	Disconnect(peer uint32, reason string) bool
	Latency(peer uint32) int
	Inbox() <-chan ws.Inbound
	Joins() <-chan ws.Connect
	Leaves() <-chan ws.Disconnect
}

// SessionIndex receives session and violation rows for the read-model index.
type SessionIndex interface {
	RecordSessionStart(indexdb.SessionRow)
	RecordSessionEnd(indexdb.SessionRow)
	RecordViolation(indexdb.ViolationRow)
}

type SessionLogger interface {
	WriteSession(plog.SessionEntry) error
}

type ViolationLogger interface {
	WriteViolation(plog.ViolationEntry) error
}

type Options struct {
	Transport    Transport
	Store        *store.Store
	Validator    *security.Validator
	Broadcaster  *broadcast.Broadcaster
	Coordinator  *world.Coordinator
	Events       *events.Queue
	Validation   tuning.Validation
	TickInterval time.Duration
	Logger       *log.Logger
}

type session struct {
	id       string
	name     string
	endpoint string
	kicked   bool
}

type Metrics struct {
	Ticks          uint64 `json:"ticks"`
	LastTickMicros int64  `json:"last_tick_us"`
	FramesIn       uint64 `json:"frames_in"`
	FramesRelayed  uint64 `json:"frames_relayed"`
	FramesDropped  uint64 `json:"frames_dropped"`
	Violations     uint64 `json:"violations"`
	Kicks          uint64 `json:"kicks"`
	AIStrikes      uint64 `json:"ai_strikes"`
	LootOpened     uint64 `json:"loot_opened"`
}

type adminReq struct {
	fn   func(now time.Time) error
	resp chan error
}

type Server struct {
	out   Transport
	store *store.Store
	val   *security.Validator
	bc    *broadcast.Broadcaster
	coord *world.Coordinator
	queue *events.Queue
	cfg   tuning.Validation
	log   *log.Logger

	interval time.Duration
	admin    chan adminReq
	stopped  chan struct{}

	index    SessionIndex
	sessLog  SessionLogger
	violLog  ViolationLogger
	sessions map[uint32]*session
	// leaves that arrived before their peer's join; applied right after the join
	early map[uint32]ws.Disconnect

	ticks          atomic.Uint64
	lastTickMicros atomic.Int64
	framesIn       atomic.Uint64
	framesRelayed  atomic.Uint64
	framesDropped  atomic.Uint64
	violations     atomic.Uint64
	kicks          atomic.Uint64
	aiStrikes      atomic.Uint64
	lootOpened     atomic.Uint64
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second / 60
	}
	if opts.Events == nil {
		opts.Events = events.NewQueue()
	}
	return &Server{
		out:      opts.Transport,
		store:    opts.Store,
		val:      opts.Validator,
		bc:       opts.Broadcaster,
		coord:    opts.Coordinator,
		queue:    opts.Events,
		cfg:      opts.Validation,
		log:      opts.Logger,
		interval: opts.TickInterval,
		admin:    make(chan adminReq, 16),
		stopped:  make(chan struct{}),
		sessions: map[uint32]*session{},
		early:    map[uint32]ws.Disconnect{},
	}
}

func (s *Server) SetSessionIndex(idx SessionIndex)     { s.index = idx }
func (s *Server) SetSessionLogger(l SessionLogger)     { s.sessLog = l }
func (s *Server) SetViolationLogger(l ViolationLogger) { s.violLog = l }

// Run drives the loop until ctx is cancelled, then runs the shutdown save.
func (s *Server) Run(ctx context.Context) error {
	defer close(s.stopped)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var (
		pendingJoins   []ws.Connect
		pendingLeaves  []ws.Disconnect
		pendingInbound []ws.Inbound
		pendingAdmin   []adminReq
	)

	for {
		select {
		case <-ctx.Done():
			s.shutdown(time.Now())
			for _, req := range pendingAdmin {
				req.resp <- ErrStopped
			}
			return ctx.Err()
		case c := <-s.out.Joins():
			pendingJoins = append(pendingJoins, c)
		case d := <-s.out.Leaves():
			pendingLeaves = append(pendingLeaves, d)
		case in := <-s.out.Inbox():
			pendingInbound = append(pendingInbound, in)
		case req := <-s.admin:
			pendingAdmin = append(pendingAdmin, req)
		case now := <-ticker.C:
			start := time.Now()
			s.step(now, pendingJoins, pendingLeaves, pendingInbound)
			for _, req := range pendingAdmin {
				req.resp <- req.fn(now)
			}
			s.lastTickMicros.Store(time.Since(start).Microseconds())
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingInbound = pendingInbound[:0]
			pendingAdmin = pendingAdmin[:0]
		}
	}
}

// step is one tick: joins, inbound dispatch, leaves, AI, events, cadences, persistence.
func (s *Server) step(now time.Time, joins []ws.Connect, leaves []ws.Disconnect, inbound []ws.Inbound) {
	s.ticks.Add(1)
	for _, c := range joins {
		s.handleJoin(c, now)
	}
	for _, in := range inbound {
		s.dispatch(in, now)
	}
	for _, d := range leaves {
		s.handleLeave(d, now)
	}

	s.store.AdvanceAI(now)

	for _, ev := range s.queue.Drain() {
		s.observe(ev, now)
		s.bc.Publish(ev, now)
	}

	for _, p := range s.store.Players() {
		lat := s.out.Latency(p.PeerID)
		if lat != p.LatencyMs {
			s.store.UpdatePlayer(p.PeerID, func(ps *store.PlayerState) { ps.LatencyMs = lat })
		}
	}
	s.bc.Tick(now)
	s.coord.Tick(now)
}

func (s *Server) handleJoin(c ws.Connect, now time.Time) {
	p := store.PlayerState{
		PeerID:      c.Peer,
		EndPoint:    c.EndPoint,
		SessionID:   c.SessionID,
		Name:        c.Name,
		ConnectedAt: c.At,
		UpdatedAt:   now,
	}
	s.store.AddPlayer(p)
	s.val.Join(c.Peer)
	s.coord.PlayerJoined(p, now)
	s.sessions[c.Peer] = &session{id: c.SessionID, name: c.Name, endpoint: c.EndPoint}

	s.bc.SetID(c.Peer, c.EndPoint, c.SessionID, now)
	if scene := s.store.CurrentScene(); scene != "" {
		s.bc.LootFullSync(c.Peer, scene, now)
	}
	if st := s.coord.VoteState(); st.Active {
		s.bc.SceneVote(st.Active, st.Target, st.Votes)
	}
	s.bc.PlayerList()

	if s.index != nil {
		s.index.RecordSessionStart(indexdb.SessionRow{SessionID: c.SessionID, PeerID: c.Peer, Name: c.Name, EndPoint: c.EndPoint, JoinedAt: c.At})
	}
	s.writeSession("join", c.Peer, "", now)
	s.log.Printf("player %d joined: name=%q endpoint=%s", c.Peer, c.Name, c.EndPoint)

	if d, ok := s.early[c.Peer]; ok {
		delete(s.early, c.Peer)
		s.handleLeave(d, now)
	}
}

func (s *Server) handleLeave(d ws.Disconnect, now time.Time) {
	p, ok := s.store.RemovePlayer(d.Peer)
	if !ok {
		if _, joined := s.sessions[d.Peer]; !joined {
			s.early[d.Peer] = d
		}
		return
	}
	violations := s.val.ViolationCount(d.Peer)
	s.val.Leave(d.Peer)
	s.coord.PlayerLeft(p, now)
	s.queue.Publish(events.PlayerLeft{PeerID: d.Peer})

	if sess, ok := s.sessions[d.Peer]; ok {
		if s.index != nil {
			s.index.RecordSessionEnd(indexdb.SessionRow{SessionID: sess.id, LeftAt: now, Violations: violations, Reason: d.Reason})
		}
		s.writeSession("leave", d.Peer, d.Reason, now)
		delete(s.sessions, d.Peer)
	}
	s.log.Printf("player %d left: %s (violations=%d)", d.Peer, d.Reason, violations)
}

// observe applies the server's own policies to a drained event.
func (s *Server) observe(ev events.Event, now time.Time) {
	switch e := ev.(type) {
	case events.Violation:
		s.violations.Add(1)
		s.recordViolation(e)
		if s.cfg.KickAfterViolations > 0 && e.Count >= s.cfg.KickAfterViolations {
			s.kick(e.PeerID, protocol.ErrKicked, "too many violations", now)
		}
	case events.SceneChanged:
		for _, p := range s.store.Players() {
			s.val.ResetMotion(p.PeerID)
			s.bc.LootFullSync(p.PeerID, e.To, now)
		}
	case events.AIStrike:
		s.aiStrikes.Add(1)
	case events.ContainerLooted:
		s.lootOpened.Add(1)
	}
}

func (s *Server) recordViolation(e events.Violation) {
	sess := s.sessions[e.PeerID]
	var sid, name string
	if sess != nil {
		sid, name = sess.id, sess.name
	}
	if s.index != nil {
		s.index.RecordViolation(indexdb.ViolationRow{SessionID: sid, PeerID: e.PeerID, Type: e.Type, Detail: e.Detail, Count: e.Count, At: e.At})
	}
	if s.violLog != nil {
		if err := s.violLog.WriteViolation(plog.ViolationEntry{At: e.At, SessionID: sid, PeerID: e.PeerID, Name: name, Type: e.Type, Detail: e.Detail, Count: e.Count}); err != nil {
			s.log.Printf("violation log: %v", err)
		}
	}
}

// kick sends the kick message and closes the peer once it has been written.
func (s *Server) kick(peer uint32, code, reason string, now time.Time) bool {
	sess := s.sessions[peer]
	if sess == nil || sess.kicked {
		return false
	}
	sess.kicked = true
	s.kicks.Add(1)
	s.bc.Kick(peer, code, reason, now)
	s.out.Disconnect(peer, "kicked: "+reason)
	s.writeSession("kick", peer, reason, now)
	s.log.Printf("player %d kicked: %s", peer, reason)
	return true
}

func (s *Server) writeSession(event string, peer uint32, reason string, now time.Time) {
	if s.sessLog == nil {
		return
	}
	sess := s.sessions[peer]
	if sess == nil {
		return
	}
	e := plog.SessionEntry{At: now, Event: event, SessionID: sess.id, PeerID: peer, Name: sess.name, EndPoint: sess.endpoint, Reason: reason}
	if err := s.sessLog.WriteSession(e); err != nil {
		s.log.Printf("session log: %v", err)
	}
}

func (s *Server) shutdown(now time.Time) {
	for peer := range s.sessions {
		s.bc.Kick(peer, protocol.ErrShutdown, "server shutting down", now)
	}
	if err := s.coord.Shutdown(now); err != nil {
		s.log.Printf("shutdown save: %v", err)
	}
}

// do runs fn on the loop goroutine after the next tick.
func (s *Server) do(ctx context.Context, fn func(now time.Time) error) error {
	req := adminReq{fn: fn, resp: make(chan error, 1)}
	select {
	case s.admin <- req:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.resp:
		return err
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

var ErrUnknownPeer = errors.New("unknown peer")

// Kick disconnects a peer on behalf of the operator.
func (s *Server) Kick(ctx context.Context, peer uint32, reason string) error {
	if reason == "" {
		reason = "kicked by operator"
	}
	return s.do(ctx, func(now time.Time) error {
		if !s.kick(peer, protocol.ErrKicked, reason, now) {
			return ErrUnknownPeer
		}
		return nil
	})
}

func (s *Server) Save(ctx context.Context) error {
	return s.do(ctx, func(now time.Time) error { return s.coord.SaveAll(world.ReasonManual, now) })
}

func (s *Server) ForceScene(ctx context.Context, sceneID string) error {
	return s.do(ctx, func(now time.Time) error { return s.coord.ForceScene(sceneID, now) })
}

func (s *Server) Metrics() Metrics {
	return Metrics{
		Ticks:          s.ticks.Load(),
		LastTickMicros: s.lastTickMicros.Load(),
		FramesIn:       s.framesIn.Load(),
		FramesRelayed:  s.framesRelayed.Load(),
		FramesDropped:  s.framesDropped.Load(),
		Violations:     s.violations.Load(),
		Kicks:          s.kicks.Load(),
		AIStrikes:      s.aiStrikes.Load(),
		LootOpened:     s.lootOpened.Load(),
	}
}
