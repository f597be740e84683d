package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"duckovtogether/internal/persistence/saves"
)

func TestArchiveWorld_RoundTripAndPrune(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, 2)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	a.now = func() time.Time { n++; return t0.Add(time.Duration(n) * time.Second) }

	ws := saves.NewWorldState("default", t0)
	ws.CurrentScene = "Level_GroundZero_Main"
	var last string
	for i := 1; i <= 3; i++ {
		ws.GameDay = i
		p, err := a.ArchiveWorld(&ws, "transition")
		if err != nil {
			t.Fatalf("ArchiveWorld #%d: %v", i, err)
		}
		if _, err := os.Stat(filepath.Join(p, "meta.json")); err != nil {
			t.Fatalf("meta.json missing: %v", err)
		}
		last = p
	}

	list, err := a.List("default")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[1] != last {
		t.Fatalf("expected 2 newest archives, got %v", list)
	}

	got, err := Load(last)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.GameDay != 3 || got.CurrentScene != "Level_GroundZero_Main" || got.WorldID != "default" {
		t.Fatalf("archived state mismatch: %+v", got)
	}
}

func TestArchiveWorld_NilState(t *testing.T) {
	if _, err := New(t.TempDir(), 1).ArchiveWorld(nil, "x"); err == nil {
		t.Fatalf("expected error for nil state")
	}
}

func TestList_MissingWorld(t *testing.T) {
	list, err := New(t.TempDir(), 1).List("nope")
	if err != nil || len(list) != 0 {
		t.Fatalf("List on missing world: %v %v", list, err)
	}
}
