// Package store owns the authoritative AI, loot, drop and player maps.
// All access goes through one coarse lock; readers get copies.
package store

import (
	"errors"
	"log"
	"math/rand"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sasha-s/go-deadlock"

	"duckovtogether/internal/events"
	"duckovtogether/internal/sim/ai"
	"duckovtogether/internal/sim/catalogs"
	"duckovtogether/internal/sim/loot"
)

var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrUnknownItem   = errors.New("unknown item")
	ErrBadCount      = errors.New("count must be positive")
)

type PlayerState struct {
	PeerID    uint32
	EndPoint  string
	SessionID string
	Name      string
	LatencyMs int
	InGame    bool
	SceneID   string
	Position  mgl64.Vec3
	Rotation  mgl64.Quat
	Health    float64
	MaxHealth float64

	ConnectedAt time.Time
	UpdatedAt   time.Time
}

type Options struct {
	Engine       *ai.Engine
	StepInterval time.Duration
	Events       events.Publisher
	Items        map[string]catalogs.ItemDef
	Rand         *rand.Rand
	Logger       *log.Logger
}

type Store struct {
	mu deadlock.Mutex

	engine       *ai.Engine
	stepInterval time.Duration
	pub          events.Publisher
	items        map[string]catalogs.ItemDef
	rng          *rand.Rand
	log          *log.Logger

	scenes       map[string]catalogs.Scene
	currentScene string

	entities   map[int32]*ai.Entity
	containers map[string]*loot.Container
	drops      map[string]*loot.Drop
	nextDrop   uint64
	players    map[uint32]*PlayerState

	lastStep time.Time
}

func New(opts Options) *Store {
	if opts.Engine == nil {
		opts.Engine = ai.NewEngine(ai.DefaultConfig())
	}
	if opts.StepInterval <= 0 {
		opts.StepInterval = 50 * time.Millisecond
	}
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Store{
		engine:       opts.Engine,
		stepInterval: opts.StepInterval,
		pub:          opts.Events,
		items:        opts.Items,
		rng:          opts.Rand,
		log:          opts.Logger,
		scenes:       map[string]catalogs.Scene{},
		entities:     map[int32]*ai.Entity{},
		containers:   map[string]*loot.Container{},
		drops:        map[string]*loot.Drop{},
		players:      map[uint32]*PlayerState{},
	}
}

func (s *Store) RegisterScene(sc catalogs.Scene) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenes[sc.SceneID] = sc
}

// Scenes lists the registered scene ids, sorted.
func (s *Store) Scenes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.scenes))
	for id := range s.scenes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) CurrentScene() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentScene
}

// LoadScene makes id the current scene: AI and containers of every other scene are evicted
// and the registered spawn points of id are instantiated, all under one lock hold.
// Drops are scene-tagged and survive the switch.
func (s *Store) LoadScene(id string, now time.Time) (spawnedAI, spawnedLoot int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for eid := range s.entities {
		delete(s.entities, eid)
	}
	for cid := range s.containers {
		delete(s.containers, cid)
	}
	s.currentScene = id
	s.lastStep = time.Time{}

	sc, ok := s.scenes[id]
	if !ok {
		s.log.Printf("scene %q has no spawn data; loaded empty", id)
		return 0, 0
	}
	for _, sp := range sc.AISpawns {
		if _, created := s.spawnAILocked(id, sp, now); created {
			spawnedAI++
		}
	}
	for _, sp := range sc.LootSpawns {
		if _, created := s.spawnLootLocked(id, sp, now); created {
			spawnedLoot++
		}
	}
	s.log.Printf("scene %s loaded: ai=%d loot=%d", id, spawnedAI, spawnedLoot)
	return spawnedAI, spawnedLoot
}

// SpawnAI instantiates sp unless an entity with the same id already exists.
func (s *Store) SpawnAI(sceneID string, sp catalogs.AISpawn, now time.Time) (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawnAILocked(sceneID, sp, now)
}

func (s *Store) spawnAILocked(sceneID string, sp catalogs.AISpawn, now time.Time) (int32, bool) {
	id := ai.EntityID(sp.SpawnerID, sp.Position)
	if _, ok := s.entities[id]; ok {
		return id, false
	}
	s.entities[id] = ai.NewEntity(sceneID, sp, now)
	return id, true
}

// SpawnLoot instantiates a container for sp unless one with the same id already exists.
func (s *Store) SpawnLoot(sceneID string, sp catalogs.LootSpawn, now time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawnLootLocked(sceneID, sp, now)
}

func (s *Store) spawnLootLocked(sceneID string, sp catalogs.LootSpawn, now time.Time) (string, bool) {
	id := loot.ContainerID(sceneID, sp.SpawnerID)
	if _, ok := s.containers[id]; ok {
		return id, false
	}
	s.containers[id] = loot.NewContainer(s.rng, sceneID, sp, now)
	return id, true
}

type HealthResult struct {
	AIID      int32
	Health    float64
	MaxHealth float64
	Applied   bool
	Died      bool
}

// Damage applies amount to AI id on behalf of peer from.
func (s *Store) Damage(id int32, amount float64, from uint32, now time.Time) (HealthResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return HealthResult{AIID: id}, ErrUnknownEntity
	}
	applied, died := e.TakeDamage(amount, from, now)
	return s.healthResultLocked(e, applied, died), nil
}

// ReportAIHealth applies a client-observed health value; it can only lower health.
func (s *Store) ReportAIHealth(id int32, current float64, now time.Time) (HealthResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return HealthResult{AIID: id}, ErrUnknownEntity
	}
	applied, died := e.ReportHealth(current, now)
	return s.healthResultLocked(e, applied, died), nil
}

func (s *Store) healthResultLocked(e *ai.Entity, applied, died bool) HealthResult {
	r := HealthResult{AIID: e.ID, Health: e.Health, MaxHealth: e.MaxHealth, Applied: applied, Died: died}
	if applied {
		s.pub.Publish(events.AIHealth{AIID: e.ID, Health: e.Health, MaxHealth: e.MaxHealth, Died: died})
	}
	return r
}

// TryLoot marks the container looted by peer. Only the first call for a container succeeds.
func (s *Store) TryLoot(containerID string, peer uint32, now time.Time) (loot.Container, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[containerID]
	if !ok || c.Looted {
		return loot.Container{}, false
	}
	c.Looted = true
	c.LootedBy = peer
	c.LootedAt = now
	s.pub.Publish(events.ContainerLooted{ContainerID: containerID, PeerID: peer})
	return copyContainer(c), true
}

func (s *Store) DropItem(peer uint32, itemID string, count int, pos mgl64.Vec3, sceneID string, now time.Time) (loot.Drop, error) {
	if count <= 0 {
		return loot.Drop{}, ErrBadCount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items != nil {
		if _, ok := s.items[itemID]; !ok {
			return loot.Drop{}, ErrUnknownItem
		}
	}
	s.nextDrop++
	d := &loot.Drop{
		ID:        loot.DropID(s.nextDrop),
		ItemID:    itemID,
		Count:     count,
		Position:  pos,
		SceneID:   sceneID,
		DroppedAt: now,
		DroppedBy: peer,
	}
	s.drops[d.ID] = d
	s.pub.Publish(events.ItemDropped{Drop: *d})
	return *d, nil
}

// TryPickup removes and returns the drop. Only the first call for a drop succeeds.
func (s *Store) TryPickup(dropID string, peer uint32) (loot.Drop, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drops[dropID]
	if !ok {
		return loot.Drop{}, false
	}
	delete(s.drops, dropID)
	s.pub.Publish(events.ItemPickedUp{DropID: dropID, PeerID: peer})
	return *d, true
}

// AdvanceAI runs one AI step when at least the step interval has passed since the last one.
// It reports whether a step ran.
func (s *Store) AdvanceAI(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dt float64
	if s.lastStep.IsZero() {
		dt = s.stepInterval.Seconds()
	} else {
		elapsed := now.Sub(s.lastStep)
		if elapsed < s.stepInterval {
			return false
		}
		dt = elapsed.Seconds()
	}
	s.lastStep = now

	views := make([]ai.Player, 0, len(s.players))
	for _, p := range s.players {
		views = append(views, ai.Player{PeerID: p.PeerID, SceneID: p.SceneID, InGame: p.InGame, Position: p.Position})
	}
	byScene := map[string][]ai.Player{}
	for _, e := range s.sortedEntitiesLocked() {
		if e.IsDead() {
			continue
		}
		cands, ok := byScene[e.SceneID]
		if !ok {
			cands = ai.Eligible(views, e.SceneID)
			byScene[e.SceneID] = cands
		}
		if strike, ok := s.engine.Step(e, cands, dt, now); ok {
			s.pub.Publish(events.AIStrike{AIID: strike.AIID, Target: strike.Target, Damage: strike.Damage})
		}
	}
	return true
}

func (s *Store) sortedEntitiesLocked() []*ai.Entity {
	out := make([]*ai.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) AI(id int32) (ai.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return ai.Entity{}, false
	}
	return copyEntity(e), true
}

// AIInScene returns copies of the scene's entities ordered by id.
func (s *Store) AIInScene(sceneID string) []ai.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ai.Entity
	for _, e := range s.sortedEntitiesLocked() {
		if e.SceneID == sceneID {
			out = append(out, copyEntity(e))
		}
	}
	return out
}

func (s *Store) Container(id string) (loot.Container, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[id]
	if !ok {
		return loot.Container{}, false
	}
	return copyContainer(c), true
}

func (s *Store) ContainersInScene(sceneID string) []loot.Container {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []loot.Container
	for _, c := range s.containers {
		if c.SceneID == sceneID {
			out = append(out, copyContainer(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpawnerID < out[j].SpawnerID })
	return out
}

func (s *Store) Drop(id string) (loot.Drop, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drops[id]
	if !ok {
		return loot.Drop{}, false
	}
	return *d, true
}

func (s *Store) DropsInScene(sceneID string) []loot.Drop {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []loot.Drop
	for _, d := range s.drops {
		if d.SceneID == sceneID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DroppedAt.Before(out[j].DroppedAt) || (out[i].DroppedAt.Equal(out[j].DroppedAt) && out[i].ID < out[j].ID) })
	return out
}

type Counts struct {
	Players    int `json:"players"`
	AI         int `json:"ai"`
	AliveAI    int `json:"alive_ai"`
	Containers int `json:"containers"`
	Looted     int `json:"looted"`
	Drops      int `json:"drops"`
}

func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Counts{Players: len(s.players), AI: len(s.entities), Containers: len(s.containers), Drops: len(s.drops)}
	for _, e := range s.entities {
		if !e.IsDead() {
			c.AliveAI++
		}
	}
	for _, ct := range s.containers {
		if ct.Looted {
			c.Looted++
		}
	}
	return c
}

func copyEntity(e *ai.Entity) ai.Entity {
	cp := *e
	cp.PatrolPath = append([]mgl64.Vec3(nil), e.PatrolPath...)
	return cp
}

func copyContainer(c *loot.Container) loot.Container {
	cp := *c
	cp.Items = append([]loot.Item(nil), c.Items...)
	return cp
}
