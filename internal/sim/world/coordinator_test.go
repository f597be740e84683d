package world

import (
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"duckovtogether/internal/events"
	"duckovtogether/internal/persistence/indexdb"
	"duckovtogether/internal/persistence/saves"
	"duckovtogether/internal/sim/catalogs"
	"duckovtogether/internal/sim/store"
)

type fakeArchiver struct{ reasons []string }

func (a *fakeArchiver) ArchiveWorld(ws *saves.WorldState, reason string) (string, error) {
	a.reasons = append(a.reasons, reason)
	return "archive/" + ws.CurrentScene, nil
}

type fakeRecorder struct{ rows []indexdb.SaveRow }

func (r *fakeRecorder) RecordSave(row indexdb.SaveRow) { r.rows = append(r.rows, row) }

type harness struct {
	store *store.Store
	saves *saves.Manager
	queue *events.Queue
	coord *Coordinator
}

func newHarness(t *testing.T, dir string, cfg Config) harness {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	q := events.NewQueue()
	st := store.New(store.Options{Events: q, Rand: rand.New(rand.NewSource(1)), Logger: logger})
	st.RegisterScene(catalogs.DefaultScene())
	sv := saves.New(dir, logger)
	return harness{store: st, saves: sv, queue: q, coord: New(cfg, st, sv, q, logger)}
}

func sceneChanges(evs []events.Event) []events.SceneChanged {
	var out []events.SceneChanged
	for _, e := range evs {
		if sc, ok := e.(events.SceneChanged); ok {
			out = append(out, sc)
		}
	}
	return out
}

func TestBoot_EmptySaveThenSceneCommand(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, dir, Config{WorldID: "default"})
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	h.coord.Boot(now)
	ws, created, err := h.saves.LoadWorld("default")
	if err != nil || created {
		t.Fatalf("boot must write the world file: created=%v err=%v", created, err)
	}
	if ws.GameDay != 1 || ws.GameTime != 8.0 || ws.CurrentScene != "" {
		t.Fatalf("fresh world: %+v", ws)
	}
	if n := h.store.Counts().AI; n != 0 {
		t.Fatalf("no scene loaded yet, ai=%d", n)
	}

	if err := h.coord.ForceScene(catalogs.DefaultSceneID, now.Add(time.Second)); err != nil {
		t.Fatalf("ForceScene: %v", err)
	}
	if n := h.store.Counts().AI; n != 3 {
		t.Fatalf("ai after scene command = %d want 3", n)
	}
	sc := sceneChanges(h.queue.Drain())
	if len(sc) != 1 || sc[0].From != "" || sc[0].To != catalogs.DefaultSceneID {
		t.Fatalf("scene events: %+v", sc)
	}
	ws, _, _ = h.saves.LoadWorld("default")
	if ws.CurrentScene != catalogs.DefaultSceneID {
		t.Fatalf("persisted scene = %q", ws.CurrentScene)
	}
	if err := h.coord.ForceScene("  ", now); err == nil {
		t.Fatalf("blank scene must be rejected")
	}
}

func TestTick_ClockRollsOverToNextDay(t *testing.T) {
	h := newHarness(t, t.TempDir(), Config{WorldID: "w", HoursPerSecond: 1})
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	h.coord.Boot(now)
	h.coord.Tick(now.Add(17 * time.Second))
	s := h.coord.Summary()
	if s.GameDay != 2 || s.GameTime < 0.999 || s.GameTime > 1.001 {
		t.Fatalf("clock after 17h: day=%d time=%.3f", s.GameDay, s.GameTime)
	}
	h.coord.Tick(now.Add(10 * time.Second))
	if got := h.coord.Summary(); got.GameTime != s.GameTime {
		t.Fatalf("clock moved backwards: %.3f -> %.3f", s.GameTime, got.GameTime)
	}
}

func TestTick_AutosaveInterval(t *testing.T) {
	h := newHarness(t, t.TempDir(), Config{WorldID: "w", Autosave: 5 * time.Minute})
	rec := &fakeRecorder{}
	h.coord.SetSaveRecorder(rec)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	h.coord.Boot(now)
	if h.coord.Tick(now.Add(4*time.Minute + 59*time.Second)) {
		t.Fatalf("autosave ran early")
	}
	if !h.coord.Tick(now.Add(5 * time.Minute)) {
		t.Fatalf("autosave did not run at the interval")
	}
	if h.coord.Tick(now.Add(6 * time.Minute)) {
		t.Fatalf("autosave ran twice in one interval")
	}
	if len(rec.rows) != 2 || rec.rows[0].Reason != ReasonBoot || rec.rows[1].Reason != ReasonAutosave || !rec.rows[1].OK {
		t.Fatalf("save rows: %+v", rec.rows)
	}
}

func TestVote_TransitionPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, dir, Config{WorldID: "w"})
	arch := &fakeArchiver{}
	h.coord.SetArchiver(arch)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	h.coord.Boot(now)
	for _, p := range []store.PlayerState{{PeerID: 1, Name: "Alice"}, {PeerID: 2, Name: "Bob"}} {
		h.store.AddPlayer(p)
		h.coord.PlayerJoined(p, now)
	}
	h.queue.Drain()

	if err := h.coord.RequestVote(1, catalogs.DefaultSceneID, now); err != nil {
		t.Fatalf("RequestVote: %v", err)
	}
	if err := h.coord.RequestVote(2, "Other", now); err == nil {
		t.Fatalf("second vote must be rejected while active")
	}
	if st := h.coord.VoteState(); !st.Active || !st.Votes[1] || st.Votes[2] {
		t.Fatalf("vote state: %+v", st)
	}
	if err := h.coord.SetReady(2, true, now.Add(time.Second)); err != nil {
		t.Fatalf("SetReady: %v", err)
	}

	evs := h.queue.Drain()
	var last events.VoteChanged
	for _, e := range evs {
		if v, ok := e.(events.VoteChanged); ok {
			last = v
		}
	}
	if last.Active {
		t.Fatalf("final vote event still active: %+v", last)
	}
	if sc := sceneChanges(evs); len(sc) != 1 || sc[0].To != catalogs.DefaultSceneID {
		t.Fatalf("scene events: %+v", sc)
	}
	if h.store.CurrentScene() != catalogs.DefaultSceneID || h.store.Counts().AI != 3 {
		t.Fatalf("store not reloaded: scene=%q counts=%+v", h.store.CurrentScene(), h.store.Counts())
	}
	if len(arch.reasons) != 1 || arch.reasons[0] != ReasonTransition {
		t.Fatalf("archive calls: %v", arch.reasons)
	}
	ws, _, _ := h.saves.LoadWorld("w")
	if ws.CurrentScene != catalogs.DefaultSceneID {
		t.Fatalf("saved scene = %q", ws.CurrentScene)
	}
}

func TestPlayerLeft_SavesRecordAndUnblocksVote(t *testing.T) {
	h := newHarness(t, t.TempDir(), Config{WorldID: "w"})
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	h.coord.Boot(now)
	alice := store.PlayerState{PeerID: 1, Name: "Alice"}
	anon := store.PlayerState{PeerID: 2}
	for _, p := range []store.PlayerState{alice, anon} {
		h.store.AddPlayer(p)
		h.coord.PlayerJoined(p, now)
	}
	if err := h.coord.RequestVote(1, catalogs.DefaultSceneID, now); err != nil {
		t.Fatalf("RequestVote: %v", err)
	}

	anon.SceneID = "Level_X"
	anon.Position = mgl64.Vec3{1, 2, 3}
	h.store.RemovePlayer(2)
	h.coord.PlayerLeft(anon, now.Add(90*time.Second))

	if h.store.CurrentScene() != catalogs.DefaultSceneID {
		t.Fatalf("vote should pass once the blocker leaves")
	}
	rec, err := h.saves.LoadPlayer("peer_2")
	if err != nil {
		t.Fatalf("LoadPlayer: %v", err)
	}
	if rec.LastScene != "Level_X" || rec.LastPosZ != 3 || rec.TotalPlayTime != 90 {
		t.Fatalf("player record: %+v", rec)
	}
	if _, err := h.saves.LoadPlayer("Alice"); err != nil {
		t.Fatalf("joined player record missing: %v", err)
	}
}

func TestBoot_RestoresPersistedAI(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	h := newHarness(t, dir, Config{WorldID: "w"})
	h.coord.Boot(now)
	if err := h.coord.ForceScene(catalogs.DefaultSceneID, now); err != nil {
		t.Fatalf("ForceScene: %v", err)
	}
	victim := h.store.AIInScene(catalogs.DefaultSceneID)[0].ID
	if _, err := h.store.Damage(victim, 1e6, 1, now); err != nil {
		t.Fatalf("Damage: %v", err)
	}
	if err := h.coord.SaveAll(ReasonManual, now); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	h2 := newHarness(t, dir, Config{WorldID: "w"})
	h2.coord.Boot(now.Add(time.Hour))
	if h2.store.CurrentScene() != catalogs.DefaultSceneID {
		t.Fatalf("restored scene = %q", h2.store.CurrentScene())
	}
	e, ok := h2.store.AI(victim)
	if !ok || !e.IsDead() {
		t.Fatalf("dead AI not restored: ok=%v %+v", ok, e)
	}
	if c := h2.store.Counts(); c.AliveAI != 2 {
		t.Fatalf("alive ai = %d want 2", c.AliveAI)
	}
}

func TestTransition_RevisitKeepsLootedAndDeadState(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, dir, Config{WorldID: "w"})
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	h.coord.Boot(now)
	if err := h.coord.ForceScene(catalogs.DefaultSceneID, now); err != nil {
		t.Fatalf("ForceScene: %v", err)
	}
	cid := h.store.ContainersInScene(catalogs.DefaultSceneID)[0].ID
	if _, ok := h.store.TryLoot(cid, 1, now); !ok {
		t.Fatalf("first loot failed")
	}
	victim := h.store.AIInScene(catalogs.DefaultSceneID)[0].ID
	if _, err := h.store.Damage(victim, 1e6, 1, now); err != nil {
		t.Fatalf("Damage: %v", err)
	}

	if err := h.coord.ForceScene("Other", now.Add(time.Second)); err != nil {
		t.Fatalf("ForceScene Other: %v", err)
	}
	if err := h.coord.ForceScene(catalogs.DefaultSceneID, now.Add(2*time.Second)); err != nil {
		t.Fatalf("ForceScene back: %v", err)
	}

	if c, ok := h.store.Container(cid); !ok || !c.Looted || c.LootedBy != 1 {
		t.Fatalf("container after revisit: ok=%v %+v", ok, c)
	}
	if _, ok := h.store.TryLoot(cid, 2, now.Add(3*time.Second)); ok {
		t.Fatalf("container looted twice")
	}
	if e, ok := h.store.AI(victim); !ok || !e.IsDead() {
		t.Fatalf("dead AI revived on revisit: ok=%v %+v", ok, e)
	}

	if err := h.coord.SaveAll(ReasonManual, now.Add(4*time.Second)); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	ws, _, _ := h.saves.LoadWorld("w")
	if st, ok := ws.LootContainers[cid]; !ok || !st.IsLooted {
		t.Fatalf("persisted container after revisit: ok=%v %+v", ok, st)
	}
}

func TestBoot_SaveFailureKeepsRunning(t *testing.T) {
	// A regular file where the save directory should be makes every write fail.
	blocker := filepath.Join(t.TempDir(), "saves")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	h := newHarness(t, blocker, Config{WorldID: "w"})
	rec := &fakeRecorder{}
	h.coord.SetSaveRecorder(rec)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	h.coord.Boot(now)
	if len(rec.rows) != 1 || rec.rows[0].OK || rec.rows[0].Reason != ReasonBoot {
		t.Fatalf("boot save row: %+v", rec.rows)
	}
	if s := h.coord.Summary(); s.WorldID != "w" || s.GameDay != 1 {
		t.Fatalf("world not usable after failed boot save: %+v", s)
	}
	if err := h.coord.ForceScene(catalogs.DefaultSceneID, now); err != nil {
		t.Fatalf("ForceScene: %v", err)
	}
	if h.store.CurrentScene() != catalogs.DefaultSceneID {
		t.Fatalf("scene = %q", h.store.CurrentScene())
	}
}
