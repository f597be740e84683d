package ai

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"duckovtogether/internal/sim/catalogs"
)

type State int

const (
	Idle State = iota
	Patrol
	Chase
	Attack
	Flee
	Dead
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Patrol:
		return "Patrol"
	case Chase:
		return "Chase"
	case Attack:
		return "Attack"
	case Flee:
		return "Flee"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Anim mirrors the animator parameters clients expect in ai_anim_snapshot.
type Anim struct {
	Speed    float64
	DirX     float64
	DirY     float64
	Hand     int
	GunReady bool
	Dashing  bool
}

// Entity is one server-owned AI. Target is a peer id; 0 means no target.
type Entity struct {
	ID        int32
	TypeName  string
	Category  catalogs.AICategory
	SceneID   string
	SpawnerID int32

	State    State
	Position mgl64.Vec3
	Forward  mgl64.Vec3

	MaxHealth float64
	Health    float64

	DetectRange    float64
	AttackRange    float64
	AttackDamage   float64
	AttackCooldown time.Duration
	MoveSpeed      float64

	Target      uint32
	PatrolPath  []mgl64.Vec3
	PatrolIndex int

	SpawnedAt      time.Time
	UpdatedAt      time.Time
	LastAttackAt   time.Time
	StateChangedAt time.Time

	Anim Anim
}

// EntityID derives the stable id of the entity spawned by spawnerID at pos (FNV-1a).
func EntityID(spawnerID int32, pos mgl64.Vec3) int32 {
	const (
		offset = 2166136261
		prime  = 16777619
	)
	h := uint32(offset)
	h ^= uint32(spawnerID)
	h *= prime
	h ^= positionHash(pos)
	h *= prime
	return int32(h)
}

func positionHash(pos mgl64.Vec3) uint32 {
	var b [12]byte
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(float32(pos[i])))
	}
	h := uint32(2166136261)
	for _, c := range b {
		h ^= uint32(c)
		h *= 16777619
	}
	return h
}

func NewEntity(sceneID string, sp catalogs.AISpawn, now time.Time) *Entity {
	e := &Entity{
		ID:             EntityID(sp.SpawnerID, sp.Position),
		TypeName:       sp.AIType,
		Category:       sp.Category,
		SceneID:        sceneID,
		SpawnerID:      sp.SpawnerID,
		Position:       sp.Position,
		Forward:        sp.Forward,
		MaxHealth:      sp.MaxHealth,
		Health:         sp.MaxHealth,
		DetectRange:    sp.DetectRange,
		AttackRange:    sp.AttackRange,
		AttackDamage:   sp.AttackDamage,
		AttackCooldown: time.Duration(sp.AttackCooldown * float64(time.Second)),
		MoveSpeed:      sp.MoveSpeed,
		PatrolPath:     append([]mgl64.Vec3(nil), sp.PatrolPath...),
		SpawnedAt:      now,
		UpdatedAt:      now,
		StateChangedAt: now,
	}
	if e.Forward.Len() == 0 {
		e.Forward = mgl64.Vec3{0, 0, 1}
	}
	if len(e.PatrolPath) > 0 {
		e.State = Patrol
	}
	return e
}

func (e *Entity) IsDead() bool { return e.State == Dead }

func (e *Entity) setState(s State, now time.Time) {
	if e.State == s {
		return
	}
	e.State = s
	e.StateChangedAt = now
	e.Anim.GunReady = s == Chase || s == Attack
}

// TakeDamage lowers health by amount (negative amounts count as zero).
// It reports whether the call changed health and whether it killed the entity.
// A surviving Idle or Patrol entity starts chasing from.
func (e *Entity) TakeDamage(amount float64, from uint32, now time.Time) (applied, died bool) {
	if e.IsDead() {
		return false, false
	}
	if amount < 0 || math.IsNaN(amount) {
		amount = 0
	}
	e.Health = math.Max(0, e.Health-amount)
	e.UpdatedAt = now
	if e.Health <= 0 {
		e.Target = 0
		e.setState(Dead, now)
		e.Anim = Anim{}
		return true, true
	}
	if (e.State == Idle || e.State == Patrol) && from != 0 {
		e.Target = from
		e.setState(Chase, now)
	}
	return true, false
}

// ReportHealth applies a client-observed health value. Health never rises through this path
// and MaxHealth stays what the spawn point set.
func (e *Entity) ReportHealth(current float64, now time.Time) (applied, died bool) {
	if e.IsDead() || math.IsNaN(current) || math.IsInf(current, 0) {
		return false, false
	}
	if current > e.MaxHealth {
		current = e.MaxHealth
	}
	if current >= e.Health {
		return false, false
	}
	return e.TakeDamage(e.Health-current, 0, now)
}

// MoveTo advances toward target by MoveSpeed*dt, snapping onto it when the step would overshoot.
func (e *Entity) MoveTo(target mgl64.Vec3, dt float64) {
	delta := target.Sub(e.Position)
	dist := delta.Len()
	if dist == 0 {
		e.Anim.Speed = 0
		return
	}
	dir := delta.Mul(1 / dist)
	step := e.MoveSpeed * dt
	if step >= dist {
		e.Position = target
	} else {
		e.Position = e.Position.Add(dir.Mul(step))
	}
	e.Forward = dir
	e.Anim.Speed = e.MoveSpeed
	e.Anim.DirX = dir[0]
	e.Anim.DirY = dir[2]
}
