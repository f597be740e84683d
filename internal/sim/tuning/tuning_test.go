package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreate_WritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "tuning.yaml")
	tu, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true")
	}
	if tu.AI.DisengageFactor != 1.5 || tu.AI.AttackExitFactor != 1.2 {
		t.Fatalf("hysteresis defaults: %+v", tu.AI)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file: %v", err)
	}

	again, created, err := LoadOrCreate(path)
	if err != nil || created {
		t.Fatalf("second load: created=%v err=%v", created, err)
	}
	if again != tu {
		t.Fatalf("round trip mismatch: %+v vs %+v", again, tu)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("validation:\n  max_speed: 20\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.Validation.MaxSpeed != 20 {
		t.Fatalf("max_speed=%v want 20", tu.Validation.MaxSpeed)
	}
	if tu.Validation.MinSamples != 10 || tu.Broadcast.AIIntervalMs != 100 {
		t.Fatalf("defaults lost: %+v %+v", tu.Validation, tu.Broadcast)
	}
}

func TestLoad_RejectsBadFactors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("ai:\n  disengage_factor: 0.5\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if tu != Defaults() {
		t.Fatalf("rejected file must yield the defaults: %+v", tu.AI)
	}
}

func TestLoadServerOrCreate_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	t.Setenv("DUCKOV_GAME_KEY", "s3cret")
	s, err := LoadServerOrCreate(path)
	if err != nil {
		t.Fatalf("LoadServerOrCreate: %v", err)
	}
	if s.GameKey != "s3cret" || s.MaxPlayers != 4 || s.TickRateHz != 60 {
		t.Fatalf("unexpected server config: %+v", s)
	}
	if s.TickInterval() <= 0 {
		t.Fatalf("tick interval must be positive")
	}
}

func TestLoadServerOrCreate_MalformedFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte("max_players: [oops\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DUCKOV_GAME_KEY", "s3cret")
	s, err := LoadServerOrCreate(path)
	if err == nil {
		t.Fatalf("expected parse error")
	}
	want := DefaultServer()
	want.GameKey = "s3cret"
	if s != want {
		t.Fatalf("fallback config: %+v", s)
	}
}
