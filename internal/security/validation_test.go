package security

import (
	"errors"
	"io"
	"log"
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"duckovtogether/internal/events"
	"duckovtogether/internal/sim/tuning"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newValidator(t *testing.T, b Backend) (*Validator, *fakeClock, *events.Queue) {
	t.Helper()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	q := events.NewQueue()
	v := NewValidator(Options{
		Tuning:  tuning.Defaults().Validation,
		Backend: b,
		Events:  q,
		Logger:  quietLogger(),
		Now:     clk.Now,
	})
	return v, clk, q
}

func TestValidatePosition_GraceThenFlag(t *testing.T) {
	v, clk, q := newValidator(t, Permissive{})
	v.Join(1)

	x := 0.0
	for i := 1; i <= 10; i++ {
		clk.Advance(100 * time.Millisecond)
		x += 100
		if !v.ValidatePosition(1, mgl64.Vec3{x, 0, 0}) {
			t.Fatalf("update %d rejected inside the sample grace", i)
		}
	}
	if v.ViolationCount(1) != 0 {
		t.Fatalf("violations during grace: %d", v.ViolationCount(1))
	}

	clk.Advance(100 * time.Millisecond)
	if v.ValidatePosition(1, mgl64.Vec3{x + 100, 0, 0}) {
		t.Fatalf("update 11 should be flagged")
	}
	if v.ViolationCount(1) != 1 {
		t.Fatalf("expected exactly one violation, got %d", v.ViolationCount(1))
	}
	evs := q.Drain()
	if len(evs) != 1 {
		t.Fatalf("expected one event, got %d", len(evs))
	}
	ev, ok := evs[0].(events.Violation)
	if !ok || ev.PeerID != 1 || ev.Type != string(SpeedHack) || ev.Count != 1 {
		t.Fatalf("unexpected event: %#v", evs[0])
	}

	// The rejected position did not move the track; a legal step from the old one passes.
	clk.Advance(100 * time.Millisecond)
	if !v.ValidatePosition(1, mgl64.Vec3{x + 1, 0, 0}) {
		t.Fatalf("legal step rejected after violation")
	}
}

func TestValidatePosition_SlowMovementNeverFlagged(t *testing.T) {
	v, clk, _ := newValidator(t, Permissive{})
	v.Join(1)
	for i := 0; i < 50; i++ {
		clk.Advance(100 * time.Millisecond)
		// 1.2 units per 100ms is 12 u/s, under the 15 u/s limit.
		if !v.ValidatePosition(1, mgl64.Vec3{float64(i) * 1.2, 0, 0}) {
			t.Fatalf("update %d rejected", i)
		}
	}
}

func TestResetMotion_RestartsGrace(t *testing.T) {
	v, clk, _ := newValidator(t, Permissive{})
	v.Join(1)
	for i := 0; i < 12; i++ {
		clk.Advance(100 * time.Millisecond)
		v.ValidatePosition(1, mgl64.Vec3{float64(i), 0, 0})
	}
	v.ResetMotion(1)
	clk.Advance(100 * time.Millisecond)
	if !v.ValidatePosition(1, mgl64.Vec3{500, 0, 500}) {
		t.Fatalf("teleport after reset must reseed")
	}
}

func TestValidateDamage(t *testing.T) {
	v, _, _ := newValidator(t, Permissive{})
	v.Join(1)
	cases := []struct {
		name   string
		damage float64
		dist   float64
		want   bool
	}{
		{"normal", 25, 10, true},
		{"max", 500, 10, true},
		{"too much", 501, 10, false},
		{"negative", -1, 10, false},
		{"far", 10, 150, false},
	}
	for _, tc := range cases {
		got := v.ValidateDamage(1, 7, tc.damage, mgl64.Vec3{}, mgl64.Vec3{tc.dist, 0, 0})
		if got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
	r, _ := v.Report(1)
	if r.Violations != 3 || r.Last == nil || r.Last.Type != PositionHack {
		t.Fatalf("report: %+v", r)
	}
}

func TestValidateHealth(t *testing.T) {
	v, _, _ := newValidator(t, Permissive{})
	v.Join(1)
	cases := []struct {
		name          string
		old, new, max float64
		want          bool
	}{
		{"within epsilon", 90, 100.05, 100, true},
		{"over max", 90, 101, 100, false},
		{"small heal", 40, 80, 100, true},
		{"jump", 10, 70, 100, false},
		{"respawn", 0, 100, 100, true},
	}
	for _, tc := range cases {
		if got := v.ValidateHealth(1, tc.old, tc.new, tc.max); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestValidatePickup(t *testing.T) {
	v, _, _ := newValidator(t, Permissive{})
	v.Join(1)
	if !v.ValidatePickup(1, "drop_1", mgl64.Vec3{}, mgl64.Vec3{4, 0, 0}) {
		t.Fatalf("pickup in range rejected")
	}
	if v.ValidatePickup(1, "drop_1", mgl64.Vec3{}, mgl64.Vec3{6, 0, 0}) {
		t.Fatalf("pickup out of range accepted")
	}
}

func TestCheckRate_WindowResets(t *testing.T) {
	v, clk, _ := newValidator(t, Permissive{})
	v.Join(1)
	for i := 0; i < 100; i++ {
		if !v.CheckRate(1, "frame") {
			t.Fatalf("action %d rejected", i+1)
		}
	}
	if v.CheckRate(1, "frame") {
		t.Fatalf("action 101 accepted")
	}
	clk.Advance(1001 * time.Millisecond)
	if !v.CheckRate(1, "frame") {
		t.Fatalf("window did not reset")
	}
}

func TestUnknownPeerPasses(t *testing.T) {
	v, _, q := newValidator(t, Permissive{})
	if !v.ValidateDamage(9, 1, 9999, mgl64.Vec3{}, mgl64.Vec3{}) || !v.CheckRate(9, "x") {
		t.Fatalf("unknown peers are not validated")
	}
	v.Join(9)
	v.Leave(9)
	if v.ViolationCount(9) != 0 || q.Len() != 0 {
		t.Fatalf("state left behind after leave")
	}
}

func TestValidatePosition_NonFiniteNeverMovesTrack(t *testing.T) {
	v, clk, _ := newValidator(t, Permissive{})
	v.Join(1)
	x := 0.0
	for i := 0; i < 12; i++ {
		clk.Advance(100 * time.Millisecond)
		x += 0.5
		if !v.ValidatePosition(1, mgl64.Vec3{x, 0, 0}) {
			t.Fatalf("legal sample %d rejected", i)
		}
	}

	clk.Advance(100 * time.Millisecond)
	if v.ValidatePosition(1, mgl64.Vec3{math.NaN(), 0, 0}) {
		t.Fatalf("NaN position accepted")
	}
	clk.Advance(100 * time.Millisecond)
	if v.ValidatePosition(1, mgl64.Vec3{5000, 0, 5000}) {
		t.Fatalf("teleport after NaN accepted")
	}
	clk.Advance(100 * time.Millisecond)
	if v.ValidatePosition(1, mgl64.Vec3{0, math.Inf(1), 0}) {
		t.Fatalf("Inf position accepted")
	}
	if got := v.ViolationCount(1); got != 3 {
		t.Fatalf("violations = %d want 3", got)
	}
	r, _ := v.Report(1)
	if r.Last == nil || r.Last.Type != PositionHack {
		t.Fatalf("last violation: %+v", r.Last)
	}

	// A fresh peer cannot seed its track with NaN either.
	v.Join(2)
	if v.ValidatePosition(2, mgl64.Vec3{math.NaN(), 0, 0}) {
		t.Fatalf("NaN seed accepted")
	}
}

func TestNonFiniteHealthAndDamageRejected(t *testing.T) {
	v, _, _ := newValidator(t, Permissive{})
	v.Join(1)
	if v.ValidateHealth(1, 50, math.NaN(), 100) {
		t.Fatalf("NaN health accepted")
	}
	if v.ValidateHealth(1, 50, 50, math.Inf(1)) {
		t.Fatalf("Inf max health accepted")
	}
	if v.ValidateDamage(1, 1, 10, mgl64.Vec3{math.NaN(), 0, 0}, mgl64.Vec3{}) {
		t.Fatalf("NaN attacker position accepted")
	}
	if v.ValidatePickup(1, "d", mgl64.Vec3{math.Inf(-1), 0, 0}, mgl64.Vec3{}) {
		t.Fatalf("Inf pickup position accepted")
	}
	if got := v.ViolationCount(1); got != 4 {
		t.Fatalf("violations = %d want 4", got)
	}
}

type closingBackend struct {
	Permissive
	closed int
}

func (b *closingBackend) Close() error {
	b.closed++
	return nil
}

func TestClose_ShutsBackendDown(t *testing.T) {
	b := &closingBackend{}
	v, _, _ := newValidator(t, b)
	v.Join(1)
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if b.closed != 1 {
		t.Fatalf("backend closed %d times", b.closed)
	}
	if _, ok := v.Report(1); ok {
		t.Fatalf("peer state kept after Close")
	}
}

type faultyBackend struct{ Permissive }

func (faultyBackend) ValidateDamage(uint32, int32, float64, float64) error {
	return errors.New("backend crashed")
}

func TestBackendFaultPasses(t *testing.T) {
	v, _, _ := newValidator(t, faultyBackend{})
	v.Join(1)
	if !v.ValidateDamage(1, 1, 10, mgl64.Vec3{}, mgl64.Vec3{}) {
		t.Fatalf("backend fault must not reject")
	}
	if v.ViolationCount(1) != 0 {
		t.Fatalf("backend fault counted as violation")
	}
}

func TestBuiltinBackendRejectsTeleport(t *testing.T) {
	v, clk, _ := newValidator(t, NewBuiltin())
	v.Join(1)
	clk.Advance(100 * time.Millisecond)
	if !v.ValidatePosition(1, mgl64.Vec3{0, 0, 0}) {
		t.Fatalf("seed rejected")
	}
	clk.Advance(100 * time.Millisecond)
	if v.ValidatePosition(1, mgl64.Vec3{50, 0, 0}) {
		t.Fatalf("builtin backend should reject a 500 u/s step")
	}
	r, _ := v.Report(1)
	if r.Last == nil || r.Last.Type != SpeedHack {
		t.Fatalf("report: %+v", r)
	}
}

func TestOpenBackend_FallsBack(t *testing.T) {
	l := quietLogger()
	if _, ok := OpenBackend("builtin", "k", l).(*Builtin); !ok {
		t.Fatalf("builtin not selected")
	}
	if b := OpenBackend("plugin:/nonexistent/guard.so", "k", l); b.Name() != "permissive" {
		t.Fatalf("missing plugin should fall back, got %s", b.Name())
	}
	if b := OpenBackend("nonsense", "k", l); b.Name() != "permissive" {
		t.Fatalf("unknown backend should fall back, got %s", b.Name())
	}
}
