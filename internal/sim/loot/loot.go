package loot

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"duckovtogether/internal/sim/catalogs"
)

type Item struct {
	ItemID string `json:"itemId"`
	Count  int    `json:"count"`
}

// Roller is the randomness the generator draws from; *math/rand.Rand satisfies it.
type Roller interface {
	Float64() float64
	Intn(n int) int
}

type Container struct {
	ID        string
	SceneID   string
	SpawnerID int32
	Position  mgl64.Vec3
	Type      string
	Items     []Item
	SpawnedAt time.Time

	Looted   bool
	LootedBy uint32
	LootedAt time.Time
}

type Drop struct {
	ID        string
	ItemID    string
	Count     int
	Position  mgl64.Vec3
	SceneID   string
	DroppedAt time.Time
	DroppedBy uint32
}

func ContainerID(sceneID string, spawnerID int32) string {
	return fmt.Sprintf("%s_%d", sceneID, spawnerID)
}

func DropID(n uint64) string { return fmt.Sprintf("drop_%d", n) }

func NewContainer(r Roller, sceneID string, sp catalogs.LootSpawn, now time.Time) *Container {
	return &Container{
		ID:        ContainerID(sceneID, sp.SpawnerID),
		SceneID:   sceneID,
		SpawnerID: sp.SpawnerID,
		Position:  sp.Position,
		Type:      sp.ContainerType,
		Items:     Generate(r, sp),
		SpawnedAt: now,
	}
}

// Generate draws a uniform item count in [MinItems, MaxItems] and rolls the table once per slot.
func Generate(r Roller, sp catalogs.LootSpawn) []Item {
	if len(sp.LootTable) == 0 {
		return nil
	}
	n := between(r, sp.MinItems, sp.MaxItems)
	items := make([]Item, 0, n)
	for i := 0; i < n; i++ {
		if it, ok := Roll(r, sp.LootTable); ok {
			items = append(items, it)
		}
	}
	return items
}

// Roll picks at most one entry. The roll is uniform in [0,100); each entry claims its
// chance in table order, and a roll beyond the cumulative sum yields nothing.
func Roll(r Roller, table []catalogs.LootEntry) (Item, bool) {
	roll := r.Float64() * 100
	for _, e := range table {
		if roll < e.Chance {
			return Item{ItemID: e.ItemID, Count: between(r, e.MinCount, e.MaxCount)}, true
		}
		roll -= e.Chance
	}
	return Item{}, false
}

func between(r Roller, lo, hi int) int {
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}
	return lo + r.Intn(hi-lo+1)
}
