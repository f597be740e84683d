package catalogs

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed scene.schema.json
var sceneSchemaJSON string

type Catalogs struct {
	Items  ItemCatalog
	Scenes SceneCatalog
}

type ItemCatalog struct {
	ByID   map[string]ItemDef
	Digest string
}

type SceneCatalog struct {
	ByID   map[string]Scene
	Order  []string
	Digest string
}

type ItemCategory string

const (
	CategoryWeapon  ItemCategory = "Weapon"
	CategoryArmor   ItemCategory = "Armor"
	CategoryAmmo    ItemCategory = "Ammo"
	CategoryMedical ItemCategory = "Medical"
	CategoryFood    ItemCategory = "Food"
	CategoryKey     ItemCategory = "Key"
	CategoryQuest   ItemCategory = "Quest"
	CategoryMisc    ItemCategory = "Misc"
)

type ItemDef struct {
	ID         string         `json:"itemId"`
	Name       string         `json:"name"`
	Category   ItemCategory   `json:"category"`
	StackSize  int            `json:"stackSize"`
	Weight     float64        `json:"weight"`
	Value      int            `json:"value"`
	Properties map[string]any `json:"properties,omitempty"`
}

func (d *ItemDef) UnmarshalJSON(b []byte) error {
	type plain ItemDef
	p := plain{Category: CategoryMisc, StackSize: 1, Weight: 0.1, Value: 100}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = ItemDef(p)
	return nil
}

type AICategory string

const (
	AINormal AICategory = "Normal"
	AIElite  AICategory = "Elite"
	AIBoss   AICategory = "Boss"
)

type AISpawn struct {
	SpawnerID      int32        `json:"spawnerId"`
	AIType         string       `json:"aiType"`
	Category       AICategory   `json:"category"`
	Position       mgl64.Vec3   `json:"position"`
	Forward        mgl64.Vec3   `json:"forward"`
	MaxHealth      float64      `json:"maxHealth"`
	DetectRange    float64      `json:"detectRange"`
	AttackRange    float64      `json:"attackRange"`
	AttackDamage   float64      `json:"attackDamage"`
	AttackCooldown float64      `json:"attackCooldown"`
	MoveSpeed      float64      `json:"moveSpeed"`
	RespawnTime    float64      `json:"respawnTime"`
	PatrolPath     []mgl64.Vec3 `json:"patrolPath,omitempty"`
}

func DefaultAISpawn() AISpawn {
	return AISpawn{
		AIType:         "Scav",
		Category:       AINormal,
		Forward:        mgl64.Vec3{0, 0, 1},
		MaxHealth:      100,
		DetectRange:    15,
		AttackRange:    2,
		AttackDamage:   10,
		AttackCooldown: 1.5,
		MoveSpeed:      3.5,
		RespawnTime:    300,
	}
}

func (s *AISpawn) UnmarshalJSON(b []byte) error {
	type plain AISpawn
	p := plain(DefaultAISpawn())
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = AISpawn(p)
	return nil
}

type LootEntry struct {
	ItemID   string  `json:"itemId"`
	Chance   float64 `json:"chance"`
	MinCount int     `json:"minCount"`
	MaxCount int     `json:"maxCount"`
}

func (e *LootEntry) UnmarshalJSON(b []byte) error {
	type plain LootEntry
	p := plain{Chance: 10, MinCount: 1, MaxCount: 1}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = LootEntry(p)
	return nil
}

type LootSpawn struct {
	SpawnerID     int32       `json:"spawnerId"`
	Position      mgl64.Vec3  `json:"position"`
	ContainerType string      `json:"containerType"`
	LootTable     []LootEntry `json:"lootTable,omitempty"`
	MinItems      int         `json:"minItems"`
	MaxItems      int         `json:"maxItems"`
	RespawnTime   float64     `json:"respawnTime"`
}

func (s *LootSpawn) UnmarshalJSON(b []byte) error {
	type plain LootSpawn
	p := plain{ContainerType: "crate", MinItems: 1, MaxItems: 3, RespawnTime: 600}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = LootSpawn(p)
	return nil
}

type Scene struct {
	SceneID      string       `json:"sceneId"`
	DisplayName  string       `json:"displayName"`
	AISpawns     []AISpawn    `json:"aiSpawns"`
	LootSpawns   []LootSpawn  `json:"lootSpawns"`
	PlayerSpawns []mgl64.Vec3 `json:"playerSpawns"`
}

// Load reads <dataDir>/items.json and <dataDir>/scenes/*.json.
// Missing files are replaced by the built-in defaults, which are written back to disk.
// Load always returns usable catalogs: an unreadable items.json falls back to the
// built-in items and a bad scene file is skipped. The returned error lists what fell back.
func Load(dataDir string) (*Catalogs, error) {
	var c Catalogs
	var errs []error
	if err := loadItems(filepath.Join(dataDir, "items.json"), &c.Items); err != nil {
		errs = append(errs, err)
		c.Items = defaultItemCatalog()
	}
	errs = append(errs, loadScenes(filepath.Join(dataDir, "scenes"), &c.Scenes)...)
	return &c, errors.Join(errs...)
}

func (c *Catalogs) Item(id string) (ItemDef, bool) {
	d, ok := c.Items.ByID[id]
	return d, ok
}

func (c *Catalogs) Scene(id string) (Scene, bool) {
	s, ok := c.Scenes.ByID[id]
	return s, ok
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		raw, err = writeJSON(path, DefaultItems())
	}
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	byID := make(map[string]ItemDef, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("items.json: empty itemId")
		}
		if _, dup := byID[d.ID]; dup {
			return fmt.Errorf("items.json: duplicate itemId %q", d.ID)
		}
		byID[d.ID] = d
	}
	out.ByID = byID
	return nil
}

func defaultItemCatalog() ItemCatalog {
	defs := DefaultItems()
	c := ItemCatalog{ByID: make(map[string]ItemDef, len(defs))}
	for _, d := range defs {
		c.ByID[d.ID] = d
	}
	if b, err := json.Marshal(defs); err == nil {
		c.Digest = sha256Hex(b)
	}
	return c
}


// loadScenes fills out with every valid scene file in dir. Bad files are skipped and
// reported; when no file is usable the built-in scene is used.
func loadScenes(dir string, out *SceneCatalog) []error {
	out.ByID = map[string]Scene{}
	out.Order = out.Order[:0]

	var errs []error
	if err := os.MkdirAll(dir, 0o755); err != nil {
		errs = append(errs, err)
	}
	names, err := sceneFiles(dir)
	if err != nil {
		errs = append(errs, err)
	}
	if len(names) == 0 && len(errs) == 0 {
		def := DefaultScene()
		if _, err := writeJSON(filepath.Join(dir, def.SceneID+".json"), def); err != nil {
			errs = append(errs, err)
		} else {
			names = []string{def.SceneID + ".json"}
		}
	}

	schema, err := jsonschema.CompileString("scene.schema.json", sceneSchemaJSON)
	if err != nil {
		return append(errs, fmt.Errorf("scene schema: %w", err))
	}

	var all []byte
	for _, name := range names {
		raw, s, err := readScene(filepath.Join(dir, name), schema)
		if err != nil {
			errs = append(errs, fmt.Errorf("scenes/%s: %w", name, err))
			continue
		}
		if _, dup := out.ByID[s.SceneID]; dup {
			errs = append(errs, fmt.Errorf("scenes/%s: duplicate sceneId %q", name, s.SceneID))
			continue
		}
		out.ByID[s.SceneID] = s
		out.Order = append(out.Order, s.SceneID)
		all = append(all, raw...)
	}
	if len(out.Order) == 0 {
		def := DefaultScene()
		out.ByID[def.SceneID] = def
		out.Order = append(out.Order, def.SceneID)
		all, _ = json.Marshal(def)
	}
	out.Digest = sha256Hex(all)
	return errs
}

func readScene(path string, schema *jsonschema.Schema) ([]byte, Scene, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, Scene{}, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, Scene{}, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, Scene{}, err
	}
	var s Scene
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, Scene{}, err
	}
	return raw, s, nil
}

func sceneFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func writeJSON(path string, v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return nil, err
	}
	return b, nil
}
