package ai

import (
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Player is the view of a connected player the engine targets.
type Player struct {
	PeerID   uint32
	SceneID  string
	InGame   bool
	Position mgl64.Vec3
}

type Config struct {
	WaypointReach    float64
	DisengageFactor  float64
	AttackExitFactor float64
}

func DefaultConfig() Config {
	return Config{WaypointReach: 0.5, DisengageFactor: 1.5, AttackExitFactor: 1.2}
}

// Strike records one attack fired during a step.
type Strike struct {
	AIID   int32
	Target uint32
	Damage float64
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.WaypointReach <= 0 {
		cfg.WaypointReach = def.WaypointReach
	}
	if cfg.DisengageFactor < 1 {
		cfg.DisengageFactor = def.DisengageFactor
	}
	if cfg.AttackExitFactor < 1 {
		cfg.AttackExitFactor = def.AttackExitFactor
	}
	return &Engine{cfg: cfg}
}

// Eligible filters players to those the entity may target, ordered by peer id.
func Eligible(players []Player, sceneID string) []Player {
	out := make([]Player, 0, len(players))
	for _, p := range players {
		if p.InGame && p.SceneID == sceneID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// Nearest returns the closest candidate; ties keep the lowest peer id.
func Nearest(pos mgl64.Vec3, candidates []Player) (Player, float64, bool) {
	var (
		best  Player
		bestD float64
		found bool
	)
	for _, p := range candidates {
		d := p.Position.Sub(pos).Len()
		if !found || d < bestD {
			best, bestD, found = p, d, true
		}
	}
	return best, bestD, found
}

func find(candidates []Player, peer uint32) (Player, bool) {
	for _, p := range candidates {
		if p.PeerID == peer {
			return p, true
		}
	}
	return Player{}, false
}

// Step advances one entity by dt seconds. candidates must already be filtered with Eligible.
func (g *Engine) Step(e *Entity, candidates []Player, dt float64, now time.Time) (Strike, bool) {
	if e.IsDead() {
		return Strike{}, false
	}
	e.UpdatedAt = now

	switch e.State {
	case Idle:
		e.Anim.Speed = 0
		if p, d, ok := Nearest(e.Position, candidates); ok && d < e.DetectRange {
			e.Target = p.PeerID
			e.setState(Chase, now)
		} else if len(e.PatrolPath) > 0 {
			e.setState(Patrol, now)
		}

	case Patrol:
		if p, d, ok := Nearest(e.Position, candidates); ok && d < e.DetectRange {
			e.Target = p.PeerID
			e.setState(Chase, now)
			break
		}
		if len(e.PatrolPath) == 0 {
			e.setState(Idle, now)
			break
		}
		if e.PatrolIndex >= len(e.PatrolPath) {
			e.PatrolIndex = 0
		}
		wp := e.PatrolPath[e.PatrolIndex]
		e.MoveTo(wp, dt)
		if wp.Sub(e.Position).Len() < g.cfg.WaypointReach {
			e.PatrolIndex = (e.PatrolIndex + 1) % len(e.PatrolPath)
		}

	case Chase:
		p, ok := find(candidates, e.Target)
		if !ok {
			e.Target = 0
			e.setState(Idle, now)
			break
		}
		d := p.Position.Sub(e.Position).Len()
		switch {
		case d > e.DetectRange*g.cfg.DisengageFactor:
			e.Target = 0
			e.setState(Idle, now)
		case d <= e.AttackRange:
			e.Anim.Speed = 0
			e.setState(Attack, now)
		default:
			e.MoveTo(p.Position, dt)
		}

	case Attack:
		p, ok := find(candidates, e.Target)
		if !ok {
			e.Target = 0
			e.setState(Idle, now)
			break
		}
		d := p.Position.Sub(e.Position).Len()
		if d > e.AttackRange*g.cfg.AttackExitFactor {
			e.setState(Chase, now)
			break
		}
		if d > 0 {
			e.Forward = p.Position.Sub(e.Position).Normalize()
		}
		if e.LastAttackAt.IsZero() || now.Sub(e.LastAttackAt) >= e.AttackCooldown {
			e.LastAttackAt = now
			return Strike{AIID: e.ID, Target: p.PeerID, Damage: e.AttackDamage}, true
		}

	case Flee:
		// Reserved; no transition leads here yet.
		e.setState(Idle, now)
	}
	return Strike{}, false
}
