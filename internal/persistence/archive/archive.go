package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"duckovtogether/internal/persistence/saves"
)

type Meta struct {
	WorldID   string  `json:"world_id"`
	Reason    string  `json:"reason"`
	Scene     string  `json:"scene"`
	GameDay   int     `json:"game_day"`
	GameTime  float64 `json:"game_time"`
	Snapshot  string  `json:"snapshot"`
	CreatedAt string  `json:"created_at"`
}

// Archiver keeps compressed copies of world saves under <dir>/<worldId>/<stamp>/
// and prunes all but the newest keep entries.
type Archiver struct {
	dir  string
	keep int
	now  func() time.Time
}

func New(dir string, keep int) *Archiver {
	if keep <= 0 {
		keep = 10
	}
	return &Archiver{dir: dir, keep: keep, now: time.Now}
}

// ArchiveWorld writes world.json.zst and meta.json and returns the archive directory.
func (a *Archiver) ArchiveWorld(ws *saves.WorldState, reason string) (string, error) {
	if ws == nil {
		return "", fmt.Errorf("archive: nil world state")
	}
	worldDir := filepath.Join(a.dir, saves.Sanitize(ws.WorldID))
	stamp := a.now().UTC().Format("20060102T150405.000000000Z")
	dst := filepath.Join(worldDir, stamp)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}
	if err := writeZstdJSON(filepath.Join(dst, "world.json.zst"), ws); err != nil {
		_ = os.RemoveAll(dst)
		return "", fmt.Errorf("archive world %s: %w", ws.WorldID, err)
	}
	meta := Meta{
		WorldID:   ws.WorldID,
		Reason:    reason,
		Scene:     ws.CurrentScene,
		GameDay:   ws.GameDay,
		GameTime:  ws.GameTime,
		Snapshot:  "world.json.zst",
		CreatedAt: a.now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(dst, "meta.json"), b, 0o644)
	}
	if err := a.prune(worldDir); err != nil {
		return dst, err
	}
	return dst, nil
}

// List returns archive directories of a world, oldest first.
func (a *Archiver) List(worldID string) ([]string, error) {
	worldDir := filepath.Join(a.dir, saves.Sanitize(worldID))
	ents, err := os.ReadDir(worldDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, filepath.Join(worldDir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (a *Archiver) prune(worldDir string) error {
	all, err := a.List(filepath.Base(worldDir))
	if err != nil {
		return err
	}
	for len(all) > a.keep {
		if err := os.RemoveAll(all[0]); err != nil {
			return err
		}
		all = all[1:]
	}
	return nil
}

// Load decodes the world state stored in an archive directory.
func Load(archiveDir string) (saves.WorldState, error) {
	var ws saves.WorldState
	f, err := os.Open(filepath.Join(archiveDir, "world.json.zst"))
	if err != nil {
		return ws, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return ws, err
	}
	defer dec.Close()
	if err := json.NewDecoder(dec).Decode(&ws); err != nil {
		return ws, fmt.Errorf("decode archive %s: %w", archiveDir, err)
	}
	return ws, nil
}

func writeZstdJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	if err := json.NewEncoder(enc).Encode(v); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
