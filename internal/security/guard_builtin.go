package security

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sasha-s/go-deadlock"
)

const (
	builtinMaxSpeed       = 15.0
	builtinSpeedTolerance = 0.5
	builtinMaxDamage      = 500.0
	builtinMaxAttackRange = 100.0
	builtinHealthJump     = 50.0
)

type builtinPeer struct {
	hasPos bool
	pos    mgl64.Vec3
}

// Builtin is the in-process guard with fixed limits and its own position track per peer.
type Builtin struct {
	mu    deadlock.Mutex
	peers map[uint32]*builtinPeer
}

func NewBuiltin() *Builtin {
	return &Builtin{peers: map[uint32]*builtinPeer{}}
}

func (b *Builtin) Name() string { return "builtin" }

func (b *Builtin) Register(peer uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers[peer] = &builtinPeer{}
	return nil
}

func (b *Builtin) Unregister(peer uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers, peer)
}

func (b *Builtin) UpdatePosition(peer uint32, pos mgl64.Vec3) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.peers[peer]; ok {
		p.hasPos = true
		p.pos = pos
	}
}

func (b *Builtin) ValidatePosition(peer uint32, pos mgl64.Vec3, dt float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.peers[peer]
	if !ok {
		return fmt.Errorf("builtin guard: peer %d not registered", peer)
	}
	if dt <= 0 {
		dt = 0.016
	}
	if !p.hasPos {
		p.hasPos = true
		p.pos = pos
		return nil
	}
	dist := pos.Sub(p.pos).Len()
	speed := dist / dt
	maxAllowed := builtinMaxSpeed * (1 + builtinSpeedTolerance)
	if speed > maxAllowed && dist > 1 {
		return &ViolationError{Type: SpeedHack, Detail: fmt.Sprintf("speed %.2f, max %.2f, dist %.2f", speed, maxAllowed, dist)}
	}
	p.pos = pos
	return nil
}

func (b *Builtin) ValidateDamage(peer uint32, target int32, damage, distance float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.peers[peer]; !ok {
		return fmt.Errorf("builtin guard: peer %d not registered", peer)
	}
	if damage < 0 || damage > builtinMaxDamage || math.IsNaN(damage) {
		return &ViolationError{Type: DamageHack, Detail: fmt.Sprintf("damage %.2f on %d, max %.2f", damage, target, builtinMaxDamage)}
	}
	if distance > builtinMaxAttackRange {
		return &ViolationError{Type: PositionHack, Detail: fmt.Sprintf("attack distance %.2f", distance)}
	}
	return nil
}

func (b *Builtin) ValidateHealth(peer uint32, oldHealth, newHealth, maxHealth float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.peers[peer]; !ok {
		return fmt.Errorf("builtin guard: peer %d not registered", peer)
	}
	if newHealth > maxHealth+0.1 {
		return &ViolationError{Type: HealthHack, Detail: fmt.Sprintf("health %.2f, max %.2f", newHealth, maxHealth)}
	}
	if oldHealth > 0 && newHealth > oldHealth+builtinHealthJump {
		return &ViolationError{Type: HealthHack, Detail: fmt.Sprintf("health jump %.2f -> %.2f", oldHealth, newHealth)}
	}
	return nil
}

func (b *Builtin) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers = map[uint32]*builtinPeer{}
	return nil
}
