package store

import (
	"strconv"

	"github.com/go-gl/mathgl/mgl64"

	"duckovtogether/internal/persistence/saves"
	"duckovtogether/internal/sim/ai"
	"duckovtogether/internal/sim/loot"
)

// ExportWorld writes the live AI, container and drop state into ws, replacing the
// entries of the current scene and keeping records of other scenes.
func (s *Store) ExportWorld(ws *saves.WorldState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ws.AIEntities == nil {
		ws.AIEntities = map[string]saves.AIEntityState{}
	}
	if ws.LootContainers == nil {
		ws.LootContainers = map[string]saves.LootContainerState{}
	}
	for k, v := range ws.AIEntities {
		if v.SceneID == s.currentScene {
			delete(ws.AIEntities, k)
		}
	}
	for k, v := range ws.LootContainers {
		if v.SceneID == s.currentScene {
			delete(ws.LootContainers, k)
		}
	}

	for _, e := range s.entities {
		ws.AIEntities[strconv.FormatInt(int64(e.ID), 10)] = saves.AIEntityState{
			AIID:    e.ID,
			AIType:  e.TypeName,
			SceneID: e.SceneID,
			IsDead:  e.IsDead(),
			Health:  e.Health,
			PosX:    e.Position[0],
			PosY:    e.Position[1],
			PosZ:    e.Position[2],
		}
	}
	for _, c := range s.containers {
		st := saves.LootContainerState{
			ContainerID: c.ID,
			SceneID:     c.SceneID,
			IsLooted:    c.Looted,
			LootedBy:    c.LootedBy,
			Items:       make([]saves.ItemState, 0, len(c.Items)),
		}
		if c.Looted {
			at := c.LootedAt
			st.LootedAt = &at
		}
		for _, it := range c.Items {
			is := saves.ItemState{ItemID: it.ItemID, Count: it.Count}
			if def, ok := s.items[it.ItemID]; ok {
				is.ItemType = string(def.Category)
			}
			st.Items = append(st.Items, is)
		}
		ws.LootContainers[c.ID] = st
	}

	ws.DroppedItems = ws.DroppedItems[:0]
	for _, d := range s.drops {
		ws.DroppedItems = append(ws.DroppedItems, saves.DroppedItemState{
			DropID:    d.ID,
			ItemID:    d.ItemID,
			Count:     d.Count,
			SceneID:   d.SceneID,
			PosX:      d.Position[0],
			PosY:      d.Position[1],
			PosZ:      d.Position[2],
			DroppedAt: d.DroppedAt,
		})
	}
}

// ApplyWorld reattaches persisted AI and container state to the live entities with the
// same ids. Entities without a record keep their freshly spawned state.
func (s *Store) ApplyWorld(ws saves.WorldState) (aiApplied, lootApplied int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range ws.AIEntities {
		e, ok := s.entities[st.AIID]
		if !ok || e.SceneID != st.SceneID {
			continue
		}
		e.Position = mgl64.Vec3{st.PosX, st.PosY, st.PosZ}
		if st.IsDead || st.Health <= 0 {
			e.Health = 0
			e.Target = 0
			e.State = ai.Dead
		} else if st.Health < e.Health {
			e.Health = st.Health
		}
		aiApplied++
	}
	for id, st := range ws.LootContainers {
		c, ok := s.containers[id]
		if !ok || c.SceneID != st.SceneID {
			continue
		}
		c.Looted = st.IsLooted
		c.LootedBy = st.LootedBy
		if st.LootedAt != nil {
			c.LootedAt = *st.LootedAt
		}
		c.Items = c.Items[:0]
		for _, it := range st.Items {
			c.Items = append(c.Items, loot.Item{ItemID: it.ItemID, Count: it.Count})
		}
		lootApplied++
	}
	return aiApplied, lootApplied
}
