// Package world owns the persisted world record: game clock, scene votes, scene
// transitions and save passes over the store and the player records.
package world

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/sasha-s/go-deadlock"

	"duckovtogether/internal/events"
	"duckovtogether/internal/persistence/indexdb"
	"duckovtogether/internal/persistence/saves"
	"duckovtogether/internal/sim/store"
	"duckovtogether/internal/sim/vote"
)

const (
	ReasonAutosave   = "autosave"
	ReasonBoot       = "boot"
	ReasonManual     = "manual"
	ReasonShutdown   = "shutdown"
	ReasonTransition = "transition"
)

type Config struct {
	WorldID        string
	Autosave       time.Duration
	HoursPerSecond float64
}

// Archiver keeps compressed copies of world saves.
type Archiver interface {
	ArchiveWorld(ws *saves.WorldState, reason string) (string, error)
}

// SaveRecorder receives one row per save pass.
type SaveRecorder interface {
	RecordSave(row indexdb.SaveRow)
}

type Summary struct {
	WorldID   string       `json:"world_id"`
	Scene     string       `json:"scene"`
	GameDay   int          `json:"game_day"`
	GameTime  float64      `json:"game_time"`
	LastSaved time.Time    `json:"last_saved"`
	Vote      vote.State   `json:"vote"`
	Counts    store.Counts `json:"counts"`
}

type playerRecord struct {
	data  saves.PlayerSaveData
	since time.Time
}

type Coordinator struct {
	mu deadlock.Mutex

	cfg   Config
	store *store.Store
	saves *saves.Manager
	pub   events.Publisher
	log   *log.Logger

	archiver Archiver
	recorder SaveRecorder

	ws       saves.WorldState
	vote     *vote.Machine
	players  map[uint32]*playerRecord
	lastSave time.Time
	lastTick time.Time
}

func New(cfg Config, st *store.Store, sv *saves.Manager, pub events.Publisher, logger *log.Logger) *Coordinator {
	if cfg.WorldID == "" {
		cfg.WorldID = "default"
	}
	if pub == nil {
		pub = events.Discard{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		cfg:     cfg,
		store:   st,
		saves:   sv,
		pub:     pub,
		log:     logger,
		vote:    vote.New(),
		players: map[uint32]*playerRecord{},
	}
}

func (c *Coordinator) SetArchiver(a Archiver) {
	c.mu.Lock()
	c.archiver = a
	c.mu.Unlock()
}

func (c *Coordinator) SetSaveRecorder(r SaveRecorder) {
	c.mu.Lock()
	c.recorder = r
	c.mu.Unlock()
}

// Boot loads the world record. A fresh record is saved immediately with no scene; an
// existing one reloads its scene and reattaches the persisted AI and loot state.
// Load and save failures are logged and the world runs from defaults.
func (c *Coordinator) Boot(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ws, created, err := c.saves.LoadWorld(c.cfg.WorldID)
	if err != nil {
		c.log.Printf("load world %s: %v (using defaults)", c.cfg.WorldID, err)
	}
	c.ws = ws
	c.lastSave = now
	c.lastTick = now

	if created {
		c.ws.CurrentScene = ""
		c.log.Printf("world %s created: day=%d time=%.2f", c.cfg.WorldID, c.ws.GameDay, c.ws.GameTime)
		_ = c.saveLocked(ReasonBoot, now, false)
		return
	}
	if c.ws.CurrentScene == "" {
		c.log.Printf("world %s loaded with no scene", c.cfg.WorldID)
		return
	}
	c.store.LoadScene(c.ws.CurrentScene, now)
	aiN, lootN := c.store.ApplyWorld(c.ws)
	c.log.Printf("world %s restored: scene=%s day=%d ai=%d loot=%d", c.cfg.WorldID, c.ws.CurrentScene, c.ws.GameDay, aiN, lootN)
}

// Tick advances the game clock by the wall time since the previous tick and runs the
// autosave when it is due. It reports whether a save pass ran.
func (c *Coordinator) Tick(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.After(c.lastTick) {
		if !c.lastTick.IsZero() {
			c.advanceClockLocked(now.Sub(c.lastTick))
		}
		c.lastTick = now
	}

	if c.cfg.Autosave <= 0 || now.Sub(c.lastSave) < c.cfg.Autosave {
		return false
	}
	if err := c.saveLocked(ReasonAutosave, now, false); err != nil {
		c.log.Printf("autosave: %v", err)
	}
	return true
}

func (c *Coordinator) advanceClockLocked(dt time.Duration) {
	c.ws.GameTime += dt.Seconds() * c.cfg.HoursPerSecond
	for c.ws.GameTime >= 24 {
		c.ws.GameTime -= 24
		c.ws.GameDay++
		c.log.Printf("day %d begins", c.ws.GameDay)
	}
}

// PlayerSaveID is the player record id for a peer: its display name, or peer_<id> when
// the name is blank.
func PlayerSaveID(p store.PlayerState) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return "peer_" + strconv.FormatUint(uint64(p.PeerID), 10)
}

// PlayerJoined loads or creates the player's record and saves it with the new login time.
func (c *Coordinator) PlayerJoined(p store.PlayerState, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := PlayerSaveID(p)
	rec, err := c.saves.LoadPlayer(id)
	switch {
	case errors.Is(err, saves.ErrNotFound):
		rec = saves.NewPlayer(id, p.Name, now)
		c.log.Printf("player record created: %s", id)
	case err != nil:
		c.log.Printf("load player %s: %v (starting fresh)", id, err)
		rec = saves.NewPlayer(id, p.Name, now)
	}
	rec.PlayerName = p.Name
	rec.LastLogin = now
	c.players[p.PeerID] = &playerRecord{data: rec, since: now}
	if err := c.saves.SavePlayer(&rec); err != nil {
		c.log.Printf("save player %s: %v", id, err)
	}
}

// PlayerLeft saves the departing player's record and removes them from any active vote.
func (c *Coordinator) PlayerLeft(p store.PlayerState, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.players[p.PeerID]; ok {
		c.flushPlayerLocked(rec, p, now)
		delete(c.players, p.PeerID)
	}
	c.applyVoteLocked(c.vote.Remove(p.PeerID), now)
}

func (c *Coordinator) flushPlayerLocked(rec *playerRecord, p store.PlayerState, now time.Time) {
	rec.data.TotalPlayTime += now.Sub(rec.since).Seconds()
	rec.since = now
	if p.SceneID != "" {
		rec.data.LastScene = p.SceneID
	}
	rec.data.LastPosX = p.Position[0]
	rec.data.LastPosY = p.Position[1]
	rec.data.LastPosZ = p.Position[2]
	if err := c.saves.SavePlayer(&rec.data); err != nil {
		c.log.Printf("save player %s: %v", rec.data.PlayerID, err)
	}
}

// RequestVote opens a vote to move every connected player to target.
func (c *Coordinator) RequestVote(peer uint32, target string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	players := c.store.Players()
	ids := make([]uint32, 0, len(players))
	for _, p := range players {
		ids = append(ids, p.PeerID)
	}
	r, err := c.vote.Start(target, peer, ids)
	if err != nil {
		return err
	}
	c.log.Printf("vote started by %d: target=%s voters=%d", peer, target, len(ids))
	c.applyVoteLocked(r, now)
	return nil
}

func (c *Coordinator) SetReady(peer uint32, ready bool, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.vote.SetReady(peer, ready)
	if err != nil {
		return err
	}
	c.applyVoteLocked(r, now)
	return nil
}

func (c *Coordinator) CancelVote(peer uint32, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.vote.Cancel()
	if !r.Changed {
		return vote.ErrInactive
	}
	c.log.Printf("vote cancelled by %d", peer)
	c.applyVoteLocked(r, now)
	return nil
}

func (c *Coordinator) VoteState() vote.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vote.State()
}

func (c *Coordinator) applyVoteLocked(r vote.Result, now time.Time) {
	if !r.Changed {
		return
	}
	st := c.vote.State()
	c.pub.Publish(events.VoteChanged{Active: st.Active, Target: st.Target, Votes: st.Votes})
	if r.Passed {
		c.log.Printf("vote passed: target=%s", r.Target)
		c.transitionLocked(r.Target, now)
	}
}

// ForceScene moves the world to target without a vote, cancelling any vote in progress.
func (c *Coordinator) ForceScene(target string, now time.Time) error {
	if strings.TrimSpace(target) == "" {
		return vote.ErrNoTarget
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.applyVoteLocked(c.vote.Cancel(), now)
	c.transitionLocked(target, now)
	return nil
}

func (c *Coordinator) transitionLocked(target string, now time.Time) {
	from := c.store.CurrentScene()
	c.store.ExportWorld(&c.ws)
	c.ws.CurrentScene = target
	if err := c.saveLocked(ReasonTransition, now, true); err != nil {
		c.log.Printf("transition save: %v", err)
	}
	c.store.LoadScene(target, now)
	// Spawn ids are stable, so records from an earlier visit rejoin the new instances.
	aiN, lootN := c.store.ApplyWorld(c.ws)
	c.pub.Publish(events.SceneChanged{From: from, To: target})
	c.log.Printf("scene transition %q -> %q (restored ai=%d loot=%d)", from, target, aiN, lootN)
}

// SaveAll writes the world record and every connected player's record.
func (c *Coordinator) SaveAll(reason string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked(reason, now, false)
}

// Shutdown runs the final save pass.
func (c *Coordinator) Shutdown(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked(ReasonShutdown, now, true)
}

func (c *Coordinator) saveLocked(reason string, now time.Time, archive bool) error {
	if c.store.CurrentScene() == c.ws.CurrentScene {
		c.store.ExportWorld(&c.ws)
	}
	c.ws.LastSaved = now
	c.lastSave = now

	row := indexdb.SaveRow{
		WorldID:  c.ws.WorldID,
		Scene:    c.ws.CurrentScene,
		Reason:   reason,
		Path:     c.saves.WorldPath(c.ws.WorldID),
		GameDay:  c.ws.GameDay,
		GameTime: c.ws.GameTime,
		At:       now,
	}

	err := c.saves.SaveWorld(&c.ws)
	if err != nil {
		err = fmt.Errorf("save world %s: %w", c.ws.WorldID, err)
		c.log.Printf("%v", err)
	}

	for _, p := range c.store.Players() {
		row.Players++
		if rec, ok := c.players[p.PeerID]; ok {
			c.flushPlayerLocked(rec, p, now)
		}
	}

	if err == nil && archive && c.archiver != nil {
		path, aerr := c.archiver.ArchiveWorld(&c.ws, reason)
		if aerr != nil {
			c.log.Printf("archive world %s: %v", c.ws.WorldID, aerr)
		}
		row.Archive = path
	}

	row.OK = err == nil
	if err != nil {
		row.Error = err.Error()
	}
	if c.recorder != nil {
		c.recorder.RecordSave(row)
	}
	c.log.Printf("world saved (%s): scene=%s day=%d time=%.2f players=%d", reason, c.ws.CurrentScene, c.ws.GameDay, c.ws.GameTime, row.Players)
	return err
}

func (c *Coordinator) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Summary{
		WorldID:   c.ws.WorldID,
		Scene:     c.ws.CurrentScene,
		GameDay:   c.ws.GameDay,
		GameTime:  c.ws.GameTime,
		LastSaved: c.ws.LastSaved,
		Vote:      c.vote.State(),
		Counts:    c.store.Counts(),
	}
}
