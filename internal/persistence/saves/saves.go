package saves

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var ErrNotFound = errors.New("save not found")

type WorldState struct {
	WorldID        string                        `json:"worldId"`
	CreatedAt      time.Time                     `json:"createdAt"`
	LastSaved      time.Time                     `json:"lastSaved"`
	CurrentScene   string                        `json:"currentScene"`
	GameDay        int                           `json:"gameDay"`
	GameTime       float64                       `json:"gameTime"`
	LootContainers map[string]LootContainerState `json:"lootContainers"`
	AIEntities     map[string]AIEntityState      `json:"aiEntities"`
	DroppedItems   []DroppedItemState            `json:"droppedItems"`
}

type LootContainerState struct {
	ContainerID string      `json:"containerId"`
	SceneID     string      `json:"sceneId"`
	IsLooted    bool        `json:"isLooted"`
	LootedAt    *time.Time  `json:"lootedAt,omitempty"`
	LootedBy    uint32      `json:"lootedBy,omitempty"`
	Items       []ItemState `json:"items"`
}

type ItemState struct {
	ItemID     string         `json:"itemId"`
	ItemType   string         `json:"itemType,omitempty"`
	Count      int            `json:"count"`
	Properties map[string]any `json:"properties,omitempty"`
}

type AIEntityState struct {
	AIID    int32   `json:"aiId"`
	AIType  string  `json:"aiType"`
	SceneID string  `json:"sceneId"`
	IsDead  bool    `json:"isDead"`
	Health  float64 `json:"health"`
	PosX    float64 `json:"posX"`
	PosY    float64 `json:"posY"`
	PosZ    float64 `json:"posZ"`
}

type DroppedItemState struct {
	DropID    string    `json:"dropId"`
	ItemID    string    `json:"itemId"`
	Count     int       `json:"count"`
	SceneID   string    `json:"sceneId"`
	PosX      float64   `json:"posX"`
	PosY      float64   `json:"posY"`
	PosZ      float64   `json:"posZ"`
	DroppedAt time.Time `json:"droppedAt"`
}

type PlayerSaveData struct {
	PlayerID      string             `json:"playerId"`
	PlayerName    string             `json:"playerName"`
	CreatedAt     time.Time          `json:"createdAt"`
	LastSaved     time.Time          `json:"lastSaved"`
	LastLogin     time.Time          `json:"lastLogin"`
	TotalPlayTime float64            `json:"totalPlayTime"`
	LastScene     string             `json:"lastScene"`
	LastPosX      float64            `json:"lastPosX"`
	LastPosY      float64            `json:"lastPosY"`
	LastPosZ      float64            `json:"lastPosZ"`
	Inventory     []ItemState        `json:"inventory"`
	Stats         map[string]float64 `json:"stats"`
}

func NewWorldState(worldID string, now time.Time) WorldState {
	return WorldState{
		WorldID:        worldID,
		CreatedAt:      now,
		LastSaved:      now,
		GameDay:        1,
		GameTime:       8.0,
		LootContainers: map[string]LootContainerState{},
		AIEntities:     map[string]AIEntityState{},
	}
}

func NewPlayer(id, name string, now time.Time) PlayerSaveData {
	return PlayerSaveData{
		PlayerID:   id,
		PlayerName: name,
		CreatedAt:  now,
		LastSaved:  now,
		LastLogin:  now,
		Stats:      map[string]float64{},
	}
}

// Manager stores world and player records as JSON under root:
// world/<worldId>.json and players/<sanitized playerId>.json.
type Manager struct {
	root string
	log  *log.Logger
	now  func() time.Time
}

func New(root string, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{root: root, log: logger, now: time.Now}
}

func (m *Manager) Root() string { return m.root }

func (m *Manager) WorldPath(worldID string) string {
	return filepath.Join(m.root, "world", Sanitize(worldID)+".json")
}

func (m *Manager) PlayerPath(playerID string) string {
	return filepath.Join(m.root, "players", Sanitize(playerID)+".json")
}

// LoadWorld reads the world record. A missing record yields fresh defaults (created=true).
// An unreadable record is moved aside to <path>.corrupt and also yields defaults.
func (m *Manager) LoadWorld(worldID string) (ws WorldState, created bool, err error) {
	path := m.WorldPath(worldID)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewWorldState(worldID, m.now()), true, nil
	}
	if err != nil {
		return NewWorldState(worldID, m.now()), true, fmt.Errorf("read world %s: %w", worldID, err)
	}
	if err := json.Unmarshal(raw, &ws); err != nil {
		aside := path + ".corrupt"
		if rerr := os.Rename(path, aside); rerr != nil {
			m.log.Printf("move corrupt world save aside: %v", rerr)
		}
		return NewWorldState(worldID, m.now()), true, fmt.Errorf("decode world %s (moved to %s): %w", worldID, filepath.Base(aside), err)
	}
	if ws.WorldID == "" {
		ws.WorldID = worldID
	}
	if ws.LootContainers == nil {
		ws.LootContainers = map[string]LootContainerState{}
	}
	if ws.AIEntities == nil {
		ws.AIEntities = map[string]AIEntityState{}
	}
	if ws.GameDay <= 0 {
		ws.GameDay = 1
	}
	return ws, false, nil
}

func (m *Manager) SaveWorld(ws *WorldState) error {
	ws.LastSaved = m.now()
	if err := writeJSONAtomic(m.WorldPath(ws.WorldID), ws); err != nil {
		return fmt.Errorf("save world %s: %w", ws.WorldID, err)
	}
	return nil
}

func (m *Manager) LoadPlayer(playerID string) (PlayerSaveData, error) {
	var p PlayerSaveData
	raw, err := os.ReadFile(m.PlayerPath(playerID))
	if errors.Is(err, os.ErrNotExist) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, fmt.Errorf("read player %s: %w", playerID, err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode player %s: %w", playerID, err)
	}
	if p.Stats == nil {
		p.Stats = map[string]float64{}
	}
	return p, nil
}

func (m *Manager) SavePlayer(p *PlayerSaveData) error {
	p.LastSaved = m.now()
	if err := writeJSONAtomic(m.PlayerPath(p.PlayerID), p); err != nil {
		return fmt.Errorf("save player %s: %w", p.PlayerID, err)
	}
	return nil
}

// ListPlayers returns the sanitized ids of every stored player record.
func (m *Manager) ListPlayers() ([]string, error) {
	ents, err := os.ReadDir(filepath.Join(m.root, "players"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Sanitize replaces every character that is unsafe in a file name with '_'.
func Sanitize(name string) string {
	if name == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(`<>:"/\|?*`, r) {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	s := b.String()
	if s == "." || s == ".." {
		return strings.Repeat("_", len(s))
	}
	return s
}

// writeJSONAtomic writes through a temp file in the destination directory and renames it
// over path, so a failed write leaves the previous file intact.
func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
