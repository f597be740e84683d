package ai

import (
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"duckovtogether/internal/sim/catalogs"
)

func newTestEntity(t *testing.T, pos mgl64.Vec3, path ...mgl64.Vec3) *Entity {
	t.Helper()
	sp := catalogs.DefaultAISpawn()
	sp.SpawnerID = 1
	sp.Position = pos
	sp.PatrolPath = path
	return NewEntity("S", sp, time.Unix(0, 0))
}

func player(id uint32, x, z float64) Player {
	return Player{PeerID: id, SceneID: "S", InGame: true, Position: mgl64.Vec3{x, 0, z}}
}

func TestEntityID_StableAcrossLoads(t *testing.T) {
	a := EntityID(1, mgl64.Vec3{10, 0, 10})
	b := EntityID(1, mgl64.Vec3{10, 0, 10})
	if a != b {
		t.Fatalf("ids differ: %d vs %d", a, b)
	}
	if a == EntityID(2, mgl64.Vec3{10, 0, 10}) || a == EntityID(1, mgl64.Vec3{10, 0, 11}) {
		t.Fatalf("expected distinct ids for distinct spawn points")
	}
}

func TestNewEntity_InitialState(t *testing.T) {
	if e := newTestEntity(t, mgl64.Vec3{}); e.State != Idle || e.Health != 100 {
		t.Fatalf("no path: state=%v health=%v", e.State, e.Health)
	}
	if e := newTestEntity(t, mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}); e.State != Patrol {
		t.Fatalf("with path: state=%v want Patrol", e.State)
	}
}

func TestStep_IdleDetectsNearestPlayer(t *testing.T) {
	g := NewEngine(DefaultConfig())
	e := newTestEntity(t, mgl64.Vec3{})
	cands := Eligible([]Player{
		player(3, 5, 0),
		player(2, -5, 0), // tie: lower peer id wins
		{PeerID: 1, SceneID: "Other", InGame: true},
		{PeerID: 4, SceneID: "S", InGame: false},
	}, "S")
	if len(cands) != 2 {
		t.Fatalf("eligible=%d want 2", len(cands))
	}
	g.Step(e, cands, 0.05, time.Unix(1, 0))
	if e.State != Chase || e.Target != 2 {
		t.Fatalf("state=%v target=%d", e.State, e.Target)
	}
}

func TestStep_ChaseHysteresisBoundary(t *testing.T) {
	g := NewEngine(DefaultConfig())
	now := time.Unix(1, 0)

	e := newTestEntity(t, mgl64.Vec3{})
	e.State, e.Target = Chase, 1
	g.Step(e, []Player{player(1, 22.5, 0)}, 0.01, now)
	if e.State != Chase {
		t.Fatalf("at exactly 1.5x detect range: state=%v want Chase", e.State)
	}

	e = newTestEntity(t, mgl64.Vec3{})
	e.State, e.Target = Chase, 1
	g.Step(e, []Player{player(1, 22.5001, 0)}, 0.01, now)
	if e.State != Idle || e.Target != 0 {
		t.Fatalf("beyond 1.5x detect range: state=%v target=%d", e.State, e.Target)
	}
}

func TestStep_ChaseToAttackAndCooldown(t *testing.T) {
	g := NewEngine(DefaultConfig())
	e := newTestEntity(t, mgl64.Vec3{})
	e.State, e.Target = Chase, 1
	p := []Player{player(1, 2, 0)}

	t0 := time.Unix(100, 0)
	g.Step(e, p, 0.05, t0)
	if e.State != Attack {
		t.Fatalf("state=%v want Attack", e.State)
	}
	if _, ok := g.Step(e, p, 0.05, t0); !ok {
		t.Fatalf("first attack should fire")
	}
	if _, ok := g.Step(e, p, 0.05, t0.Add(time.Second)); ok {
		t.Fatalf("attack inside cooldown must not fire")
	}
	s, ok := g.Step(e, p, 0.05, t0.Add(1500*time.Millisecond))
	if !ok || s.Target != 1 || s.Damage != 10 {
		t.Fatalf("attack after cooldown: ok=%v strike=%+v", ok, s)
	}

	// 2.4 is exactly AttackRange*1.2: stay in Attack.
	g.Step(e, []Player{player(1, 2.4, 0)}, 0.05, t0.Add(2*time.Second))
	if e.State != Attack {
		t.Fatalf("at exit boundary: state=%v", e.State)
	}
	g.Step(e, []Player{player(1, 2.5, 0)}, 0.05, t0.Add(2*time.Second))
	if e.State != Chase {
		t.Fatalf("beyond exit boundary: state=%v want Chase", e.State)
	}
	g.Step(e, nil, 0.05, t0.Add(3*time.Second))
	if e.State != Idle {
		t.Fatalf("target gone: state=%v want Idle", e.State)
	}
}

func TestStep_PatrolWrapsAround(t *testing.T) {
	g := NewEngine(DefaultConfig())
	e := newTestEntity(t, mgl64.Vec3{}, mgl64.Vec3{0, 0, 0}, mgl64.Vec3{2, 0, 0}, mgl64.Vec3{2, 0, 2})
	want := []int{1, 2, 0, 1}
	for i, w := range want {
		g.Step(e, nil, 1.0, time.Unix(int64(i), 0))
		if e.PatrolIndex != w {
			t.Fatalf("step %d: index=%d want %d", i, e.PatrolIndex, w)
		}
		if e.PatrolIndex < 0 || e.PatrolIndex >= len(e.PatrolPath) {
			t.Fatalf("index out of range: %d", e.PatrolIndex)
		}
	}
	if e.Position != (mgl64.Vec3{0, 0, 0}) {
		t.Fatalf("expected snap onto waypoint 0, got %v", e.Position)
	}
}

func TestMoveTo_SnapsAndPartialSteps(t *testing.T) {
	e := newTestEntity(t, mgl64.Vec3{})
	e.MoveTo(mgl64.Vec3{10, 0, 0}, 1.0)
	if e.Position != (mgl64.Vec3{3.5, 0, 0}) {
		t.Fatalf("partial step: %v", e.Position)
	}
	if e.Forward != (mgl64.Vec3{1, 0, 0}) {
		t.Fatalf("forward: %v", e.Forward)
	}
	e.MoveTo(mgl64.Vec3{4, 0, 0}, 1.0)
	if e.Position != (mgl64.Vec3{4, 0, 0}) {
		t.Fatalf("snap: %v", e.Position)
	}
}

func TestHealth_MonotonicAndDeadTerminal(t *testing.T) {
	e := newTestEntity(t, mgl64.Vec3{})
	now := time.Unix(5, 0)
	prev := e.Health
	for _, d := range []float64{10, -50, 0, 30, 1e9, 10} {
		e.TakeDamage(d, 7, now)
		if e.Health > prev {
			t.Fatalf("health increased: %v -> %v", prev, e.Health)
		}
		if (e.Health <= 0) != e.IsDead() {
			t.Fatalf("dead flag mismatch: health=%v state=%v", e.Health, e.State)
		}
		prev = e.Health
	}
	if !e.IsDead() || e.Health != 0 {
		t.Fatalf("expected dead at 0, got %v %v", e.State, e.Health)
	}
	if applied, _ := e.ReportHealth(100, now); applied || e.IsDead() == false {
		t.Fatalf("dead entity must not be revived")
	}
	g := NewEngine(DefaultConfig())
	g.Step(e, []Player{player(7, 1, 0)}, 0.05, now)
	if e.State != Dead {
		t.Fatalf("dead is terminal, got %v", e.State)
	}
}

func TestTakeDamage_ExactlyOnceDeathAndAggro(t *testing.T) {
	e := newTestEntity(t, mgl64.Vec3{})
	now := time.Unix(1, 0)
	if _, died := e.TakeDamage(40, 9, now); died || e.State != Chase || e.Target != 9 {
		t.Fatalf("survivor should chase attacker: state=%v target=%d", e.State, e.Target)
	}
	if _, died := e.TakeDamage(60, 9, now); !died {
		t.Fatalf("expected death")
	}
	if applied, died := e.TakeDamage(60, 9, now); applied || died {
		t.Fatalf("second kill must be a no-op")
	}
}

func TestReportHealth_NeverRaises(t *testing.T) {
	e := newTestEntity(t, mgl64.Vec3{})
	now := time.Unix(1, 0)
	e.ReportHealth(70, now)
	if e.Health != 70 {
		t.Fatalf("health=%v want 70", e.Health)
	}
	if applied, _ := e.ReportHealth(90, now); applied || e.Health != 70 {
		t.Fatalf("report must not heal: health=%v", e.Health)
	}
	if _, died := e.ReportHealth(0, now); !died {
		t.Fatalf("report to zero should kill")
	}
}

func TestReportHealth_KeepsSpawnMaxHealth(t *testing.T) {
	e := newTestEntity(t, mgl64.Vec3{})
	maxHP := e.MaxHealth
	now := time.Unix(1, 0)
	if applied, _ := e.ReportHealth(math.Inf(1), now); applied {
		t.Fatalf("infinite report applied")
	}
	e.ReportHealth(maxHP-10, now)
	if e.MaxHealth != maxHP || e.Health != maxHP-10 {
		t.Fatalf("health=%v/%v want %v/%v", e.Health, e.MaxHealth, maxHP-10, maxHP)
	}
}
