package saves

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWorld_MissingYieldsDefaults(t *testing.T) {
	m := New(t.TempDir(), nil)
	ws, created, err := m.LoadWorld("default")
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	if !created || ws.GameDay != 1 || ws.GameTime != 8.0 || ws.CurrentScene != "" {
		t.Fatalf("defaults: created=%v %+v", created, ws)
	}
	if _, err := os.Stat(m.WorldPath("default")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("load must not write the world file")
	}
}

func TestSaveWorld_RoundTrip(t *testing.T) {
	m := New(t.TempDir(), nil)
	ws := NewWorldState("w1", time.Unix(100, 0).UTC())
	ws.CurrentScene = "Level_2"
	ws.AIEntities["42"] = AIEntityState{AIID: 42, AIType: "Scav", SceneID: "Level_2", IsDead: true}
	ws.LootContainers["Level_2_1"] = LootContainerState{ContainerID: "Level_2_1", IsLooted: true, LootedBy: 3}
	if err := m.SaveWorld(&ws); err != nil {
		t.Fatalf("SaveWorld: %v", err)
	}
	got, created, err := m.LoadWorld("w1")
	if err != nil || created {
		t.Fatalf("reload: created=%v err=%v", created, err)
	}
	if got.CurrentScene != "Level_2" || !got.AIEntities["42"].IsDead || got.LootContainers["Level_2_1"].LootedBy != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	// No temp files left behind.
	ents, _ := os.ReadDir(filepath.Dir(m.WorldPath("w1")))
	if len(ents) != 1 {
		t.Fatalf("expected exactly one file, got %d", len(ents))
	}
}

func TestLoadWorld_CorruptMovedAside(t *testing.T) {
	m := New(t.TempDir(), nil)
	path := m.WorldPath("w1")
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ws, created, err := m.LoadWorld("w1")
	if err == nil || !created || ws.GameDay != 1 {
		t.Fatalf("expected defaults with error: created=%v err=%v", created, err)
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Fatalf("corrupt file not moved aside: %v", err)
	}
}

func TestPlayers_SaveLoadList(t *testing.T) {
	m := New(t.TempDir(), nil)
	if _, err := m.LoadPlayer("nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	p := NewPlayer("a/b:c", "Alice", time.Unix(0, 0))
	p.Stats["kills"] = 3
	if err := m.SavePlayer(&p); err != nil {
		t.Fatalf("SavePlayer: %v", err)
	}
	if filepath.Base(m.PlayerPath("a/b:c")) != "a_b_c.json" {
		t.Fatalf("path not sanitized: %s", m.PlayerPath("a/b:c"))
	}
	got, err := m.LoadPlayer("a/b:c")
	if err != nil {
		t.Fatalf("LoadPlayer: %v", err)
	}
	if got.PlayerName != "Alice" || got.Stats["kills"] != 3 {
		t.Fatalf("player mismatch: %+v", got)
	}
	ids, err := m.ListPlayers()
	if err != nil || len(ids) != 1 || ids[0] != "a_b_c" {
		t.Fatalf("ListPlayers: %v %v", ids, err)
	}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"Player_1":       "Player_1",
		"127.0.0.1:9050": "127.0.0.1_9050",
		`a\b|c`:          "a_b_c",
		"":               "_",
		"..":             "__",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Fatalf("Sanitize(%q)=%q want %q", in, got, want)
		}
	}
}

func TestSaveWorld_FailureKeepsPreviousFile(t *testing.T) {
	m := New(t.TempDir(), nil)
	ws := NewWorldState("w1", time.Unix(0, 0))
	ws.CurrentScene = "first"
	if err := m.SaveWorld(&ws); err != nil {
		t.Fatalf("SaveWorld: %v", err)
	}
	bad := NewWorldState("w1", time.Unix(0, 0))
	bad.CurrentScene = "second"
	bad.LootContainers["x"] = LootContainerState{Items: []ItemState{{ItemID: "i", Properties: map[string]any{"bad": func() {}}}}}
	if err := m.SaveWorld(&bad); err == nil {
		t.Fatalf("expected marshal failure")
	}
	got, _, err := m.LoadWorld("w1")
	if err != nil || got.CurrentScene != "first" {
		t.Fatalf("previous save clobbered: %+v err=%v", got, err)
	}
}
