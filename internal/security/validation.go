// Package security validates client-reported actions before they reach the store.
// Checks never disconnect anyone; they count violations per peer and publish them.
package security

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sasha-s/go-deadlock"

	"duckovtogether/internal/events"
	"duckovtogether/internal/sim/tuning"
)

type ViolationType string

const (
	SpeedHack        ViolationType = "speed_hack"
	DamageHack       ViolationType = "damage_hack"
	PositionHack     ViolationType = "position_hack"
	HealthHack       ViolationType = "health_hack"
	SequenceHack     ViolationType = "sequence_hack"
	SignatureInvalid ViolationType = "signature_invalid"
	TimestampInvalid ViolationType = "timestamp_invalid"
	RateLimit        ViolationType = "rate_limit"
)

// ViolationError is how a Backend rejects an action.
type ViolationError struct {
	Type   ViolationType
	Detail string
}

func (e *ViolationError) Error() string { return fmt.Sprintf("%s: %s", e.Type, e.Detail) }

type Violation struct {
	Type   ViolationType `json:"type"`
	Detail string        `json:"detail"`
	At     time.Time     `json:"at"`
}

// PeerReport is the read-only view of one peer's validation state.
type PeerReport struct {
	PeerID     uint32     `json:"peer_id"`
	JoinedAt   time.Time  `json:"joined_at"`
	Samples    int        `json:"samples"`
	Violations int        `json:"violations"`
	Last       *Violation `json:"last,omitempty"`
}

type peerState struct {
	joinedAt time.Time

	hasPos    bool
	lastPos   mgl64.Vec3
	lastPosAt time.Time
	samples   int

	windowStart time.Time
	windowCount int

	violations int
	last       *Violation
}

type Options struct {
	Tuning  tuning.Validation
	Backend Backend
	Events  events.Publisher
	Logger  *log.Logger
	Now     func() time.Time
}

type Validator struct {
	mu deadlock.Mutex

	cfg     tuning.Validation
	backend Backend
	pub     events.Publisher
	log     *log.Logger
	now     func() time.Time

	peers map[uint32]*peerState
}

func NewValidator(opts Options) *Validator {
	if opts.Backend == nil {
		opts.Backend = Permissive{}
	}
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Validator{
		cfg:     opts.Tuning,
		backend: opts.Backend,
		pub:     opts.Events,
		log:     opts.Logger,
		now:     opts.Now,
		peers:   map[uint32]*peerState{},
	}
}

func (v *Validator) Backend() string { return v.backend.Name() }

// Close shuts the backend down and forgets every peer.
func (v *Validator) Close() error {
	v.mu.Lock()
	v.peers = map[uint32]*peerState{}
	v.mu.Unlock()
	if err := v.backend.Close(); err != nil {
		return fmt.Errorf("close guard %s: %w", v.backend.Name(), err)
	}
	return nil
}

func (v *Validator) Join(peer uint32) {
	now := v.now()
	v.mu.Lock()
	v.peers[peer] = &peerState{joinedAt: now, windowStart: now}
	v.mu.Unlock()
	if err := v.backend.Register(peer); err != nil {
		v.log.Printf("guard %s: register peer %d: %v", v.backend.Name(), peer, err)
	}
}

func (v *Validator) Leave(peer uint32) {
	v.mu.Lock()
	delete(v.peers, peer)
	v.mu.Unlock()
	v.backend.Unregister(peer)
}

// ResetMotion forgets the last accepted position, e.g. after a scene load teleports the peer.
// The next update reseeds the track and the sample grace period starts over.
func (v *Validator) ResetMotion(peer uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.peers[peer]
	if !ok {
		return
	}
	st.hasPos = false
	st.samples = 0
}

// ValidatePosition checks that pos is reachable from the last accepted position.
// The first update only seeds the track. Rejected positions do not move the track.
// Non-finite coordinates are always rejected.
func (v *Validator) ValidatePosition(peer uint32, pos mgl64.Vec3) bool {
	if !finiteVec(pos) {
		v.report(peer, PositionHack, fmt.Sprintf("non-finite position %v", pos))
		return false
	}
	now := v.now()
	v.mu.Lock()
	st, ok := v.peers[peer]
	if !ok {
		v.mu.Unlock()
		return true
	}
	if !st.hasPos {
		st.hasPos = true
		st.lastPos = pos
		st.lastPosAt = now
		st.samples++
		v.mu.Unlock()
		v.backend.UpdatePosition(peer, pos)
		return true
	}
	dt := clamp(now.Sub(st.lastPosAt).Seconds(), v.cfg.MinDeltaSec, v.cfg.MaxDeltaSec)
	dist := pos.Sub(st.lastPos).Len()
	limit := v.cfg.MaxSpeed * dt * v.cfg.SpeedTolerance
	if dist > limit && dist > v.cfg.MinDisplacement && st.samples >= v.cfg.MinSamples {
		v.mu.Unlock()
		v.report(peer, SpeedHack, fmt.Sprintf("speed %.1f over %.3fs, max %.1f", dist/dt, dt, v.cfg.MaxSpeed))
		return false
	}
	v.mu.Unlock()

	if !v.consult(peer, v.backend.ValidatePosition(peer, pos, dt)) {
		return false
	}

	v.mu.Lock()
	if st, ok := v.peers[peer]; ok {
		st.lastPos = pos
		st.lastPosAt = now
		st.samples++
	}
	v.mu.Unlock()
	return true
}

func (v *Validator) ValidateDamage(peer uint32, target int32, damage float64, attacker, victim mgl64.Vec3) bool {
	if !v.known(peer) {
		return true
	}
	if !finiteVec(attacker) || !finiteVec(victim) {
		v.report(peer, PositionHack, "non-finite attack position")
		return false
	}
	if damage < 0 || damage > v.cfg.MaxDamage || math.IsNaN(damage) {
		v.report(peer, DamageHack, fmt.Sprintf("damage %.1f, max %.1f", damage, v.cfg.MaxDamage))
		return false
	}
	dist := attacker.Sub(victim).Len()
	if dist > v.cfg.MaxAttackRange {
		v.report(peer, PositionHack, fmt.Sprintf("attack range %.1f, max %.1f", dist, v.cfg.MaxAttackRange))
		return false
	}
	return v.consult(peer, v.backend.ValidateDamage(peer, target, damage, dist))
}

// ValidateHealth checks a self-reported health change. A rise from zero is a respawn, not a jump.
func (v *Validator) ValidateHealth(peer uint32, oldHealth, newHealth, maxHealth float64) bool {
	if !finite(newHealth) || !finite(maxHealth) {
		v.report(peer, HealthHack, fmt.Sprintf("non-finite health %v/%v", newHealth, maxHealth))
		return false
	}
	if !v.known(peer) {
		return true
	}
	if newHealth > maxHealth+v.cfg.HealthEpsilon {
		v.report(peer, HealthHack, fmt.Sprintf("health %.1f > max %.1f", newHealth, maxHealth))
		return false
	}
	if oldHealth > 0 && newHealth > oldHealth+v.cfg.HealthJump {
		v.report(peer, HealthHack, fmt.Sprintf("health jump %.1f -> %.1f", oldHealth, newHealth))
		return false
	}
	return v.consult(peer, v.backend.ValidateHealth(peer, oldHealth, newHealth, maxHealth))
}

func (v *Validator) ValidatePickup(peer uint32, dropID string, player, item mgl64.Vec3) bool {
	if !v.known(peer) {
		return true
	}
	dist := player.Sub(item).Len()
	if !finite(dist) || dist > v.cfg.MaxPickupRange {
		v.report(peer, PositionHack, fmt.Sprintf("pickup %s at range %.1f", dropID, dist))
		return false
	}
	return true
}

// CheckRate counts one action against the peer's fixed window.
func (v *Validator) CheckRate(peer uint32, action string) bool {
	now := v.now()
	v.mu.Lock()
	st, ok := v.peers[peer]
	if !ok {
		v.mu.Unlock()
		return true
	}
	if now.Sub(st.windowStart) > v.cfg.RateWindow() {
		st.windowStart = now
		st.windowCount = 0
	}
	st.windowCount++
	count := st.windowCount
	v.mu.Unlock()

	if count > v.cfg.RateLimit {
		v.report(peer, RateLimit, fmt.Sprintf("action %s, count %d", action, count))
		return false
	}
	return true
}

func (v *Validator) ViolationCount(peer uint32) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if st, ok := v.peers[peer]; ok {
		return st.violations
	}
	return 0
}

func (v *Validator) Report(peer uint32) (PeerReport, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.peers[peer]
	if !ok {
		return PeerReport{}, false
	}
	return st.report(peer), true
}

func (v *Validator) Reports() []PeerReport {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]PeerReport, 0, len(v.peers))
	for id, st := range v.peers {
		out = append(out, st.report(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

func (st *peerState) report(id uint32) PeerReport {
	r := PeerReport{PeerID: id, JoinedAt: st.joinedAt, Samples: st.samples, Violations: st.violations}
	if st.last != nil {
		cp := *st.last
		r.Last = &cp
	}
	return r
}

func (v *Validator) known(peer uint32) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.peers[peer]
	return ok
}

// consult turns a backend verdict into a pass/fail. Backend faults other than a
// ViolationError are logged and pass.
func (v *Validator) consult(peer uint32, err error) bool {
	if err == nil {
		return true
	}
	var ve *ViolationError
	if errors.As(err, &ve) {
		v.report(peer, ve.Type, ve.Detail)
		return false
	}
	v.log.Printf("guard %s: peer %d: %v", v.backend.Name(), peer, err)
	return true
}

func (v *Validator) report(peer uint32, typ ViolationType, detail string) {
	now := v.now()
	v.mu.Lock()
	st, ok := v.peers[peer]
	if !ok {
		v.mu.Unlock()
		return
	}
	st.violations++
	st.last = &Violation{Type: typ, Detail: detail, At: now}
	count := st.violations
	v.mu.Unlock()

	v.log.Printf("violation peer=%d type=%s count=%d: %s", peer, typ, count, detail)
	v.pub.Publish(events.Violation{PeerID: peer, Type: string(typ), Detail: detail, Count: count, At: now})
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

func finiteVec(p mgl64.Vec3) bool { return finite(p[0]) && finite(p[1]) && finite(p[2]) }

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if hi > 0 && x > hi {
		return hi
	}
	return x
}
