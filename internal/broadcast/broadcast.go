// Package broadcast turns simulation state and events into outbound frames.
// It only reads the store; every payload is a kind byte followed by its body.
package broadcast

import (
	"log"
	"sort"
	"strconv"
	"time"

	"duckovtogether/internal/events"
	"duckovtogether/internal/protocol"
	"duckovtogether/internal/sim/ai"
	"duckovtogether/internal/sim/loot"
	"duckovtogether/internal/sim/store"
	"duckovtogether/internal/sim/tuning"
)

// Sender delivers frames to connected peers. Implementations must not block.
type Sender interface {
	Broadcast(frame []byte)
	Send(peer uint32, frame []byte) bool
}

// Source is the read-only state the broadcaster snapshots.
type Source interface {
	CurrentScene() string
	AIInScene(sceneID string) []ai.Entity
	ContainersInScene(sceneID string) []loot.Container
	Players() []store.PlayerState
}

const lootBoxCapacity = 10

type Broadcaster struct {
	src Source
	out Sender
	log *log.Logger
	cfg tuning.Broadcast

	lastAI      time.Time
	lastPlayers time.Time

	sent uint64
}

func New(src Source, out Sender, cfg tuning.Broadcast, logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.Default()
	}
	return &Broadcaster{src: src, out: out, cfg: cfg, log: logger}
}

// Sent is the number of frames handed to the sender.
func (b *Broadcaster) Sent() uint64 { return b.sent }

// Tick runs whichever cadences are due at now.
func (b *Broadcaster) Tick(now time.Time) {
	if now.Sub(b.lastAI) >= b.cfg.AIInterval() {
		b.lastAI = now
		b.AISnapshot()
	}
	if now.Sub(b.lastPlayers) >= b.cfg.PlayersInterval() {
		b.lastPlayers = now
		b.PlayerList()
	}
}

// AISnapshot broadcasts transforms then animation state of the current scene's AI.
// Nothing is sent when there is no current scene or it has no AI.
func (b *Broadcaster) AISnapshot() {
	scene := b.src.CurrentScene()
	if scene == "" {
		return
	}
	ents := b.src.AIInScene(scene)
	if len(ents) == 0 {
		return
	}
	tr := protocol.AITransformSnapshotMsg{Type: protocol.TypeAITransformSnapshot, Transforms: make([]protocol.AITransform, 0, len(ents))}
	an := protocol.AIAnimSnapshotMsg{Type: protocol.TypeAIAnimSnapshot, Anims: make([]protocol.AIAnim, 0, len(ents))}
	for _, e := range ents {
		tr.Transforms = append(tr.Transforms, protocol.AITransform{
			AIID:     e.ID,
			Position: protocol.FromVec(e.Position),
			Forward:  protocol.FromVec(e.Forward),
		})
		an.Anims = append(an.Anims, protocol.AIAnim{
			AIID:     e.ID,
			Speed:    e.Anim.Speed,
			DirX:     e.Anim.DirX,
			DirY:     e.Anim.DirY,
			Hand:     e.Anim.Hand,
			GunReady: e.Anim.GunReady,
			Dashing:  e.Anim.Dashing,
		})
	}
	b.broadcast(tr)
	b.broadcast(an)
}

func (b *Broadcaster) PlayerList() {
	ps := b.src.Players()
	msg := protocol.PlayerListMsg{Type: protocol.TypePlayerList, Players: make([]protocol.PlayerInfo, 0, len(ps))}
	for _, p := range ps {
		msg.Players = append(msg.Players, protocol.PlayerInfo{
			PeerID:     p.PeerID,
			EndPoint:   p.EndPoint,
			PlayerName: p.Name,
			IsInGame:   p.InGame,
			SceneID:    p.SceneID,
			Latency:    p.LatencyMs,
		})
	}
	b.broadcast(msg)
}

func (b *Broadcaster) AIHealth(id int32, health, maxHealth float64) {
	b.broadcast(protocol.AIHealthSyncMsg{Type: protocol.TypeAIHealthSync, AIID: id, MaxHealth: maxHealth, CurrentHealth: health})
}

func (b *Broadcaster) SceneVote(active bool, target string, votes map[uint32]bool) {
	ids := make([]uint32, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	msg := protocol.SceneVoteMsg{Type: protocol.TypeSceneVote, Active: active, TargetScene: target, Votes: make([]protocol.VoteEntry, 0, len(ids))}
	for _, id := range ids {
		msg.Votes = append(msg.Votes, protocol.VoteEntry{PlayerID: strconv.FormatUint(uint64(id), 10), Ready: votes[id]})
	}
	b.broadcast(msg)
}

func (b *Broadcaster) ForceSceneLoad(sceneID string, now time.Time) {
	b.broadcast(protocol.ForceSceneLoadMsg{Type: protocol.TypeForceSceneLoad, SceneID: sceneID, Timestamp: protocol.Timestamp(now)})
	b.log.Printf("force scene load: %s", sceneID)
}

func (b *Broadcaster) SetID(peer uint32, networkID, sessionID string, now time.Time) {
	b.send(peer, protocol.SetIDMsg{
		Type:      protocol.TypeSetID,
		NetworkID: networkID,
		PeerID:    peer,
		SessionID: sessionID,
		Timestamp: protocol.Timestamp(now),
	})
}

func (b *Broadcaster) Kick(peer uint32, code, reason string, now time.Time) {
	b.send(peer, protocol.KickMsg{Type: protocol.TypeKick, Code: code, Reason: reason, Timestamp: protocol.Timestamp(now)})
}

// LootFullSync sends the peer every container of sceneID.
func (b *Broadcaster) LootFullSync(peer uint32, sceneID string, now time.Time) {
	cs := b.src.ContainersInScene(sceneID)
	msg := protocol.LootFullSyncMsg{Type: protocol.TypeLootFullSync, Timestamp: protocol.Timestamp(now), LootBoxes: make([]protocol.LootBox, 0, len(cs))}
	for _, c := range cs {
		box := protocol.LootBox{
			LootUID:     protocol.HashID(c.ID),
			ContainerID: c.ID,
			Position:    protocol.FromVec(c.Position),
			Rotation:    protocol.Quat{W: 1},
			Capacity:    lootBoxCapacity,
			Items:       make([]protocol.LootItem, 0, len(c.Items)),
		}
		for i, it := range c.Items {
			box.Items = append(box.Items, protocol.LootItem{
				Position: i,
				TypeID:   protocol.HashID(it.ItemID),
				ItemID:   it.ItemID,
				Stack:    it.Count,
			})
		}
		msg.LootBoxes = append(msg.LootBoxes, box)
	}
	b.send(peer, msg)
}

func (b *Broadcaster) ItemDropped(d loot.Drop) {
	b.broadcast(protocol.ItemDroppedMsg{
		Type:     protocol.TypeItemDropped,
		DropID:   d.ID,
		ItemID:   d.ItemID,
		Count:    d.Count,
		Position: protocol.FromVec(d.Position),
		SceneID:  d.SceneID,
	})
}

func (b *Broadcaster) ItemPickedUp(dropID string, peer uint32) {
	b.broadcast(protocol.ItemPickedUpMsg{Type: protocol.TypeItemPickedUp, DropID: dropID, PeerID: peer})
}

// Publish emits the immediate messages for one drained event.
func (b *Broadcaster) Publish(ev events.Event, now time.Time) {
	switch e := ev.(type) {
	case events.AIHealth:
		b.AIHealth(e.AIID, e.Health, e.MaxHealth)
	case events.VoteChanged:
		b.SceneVote(e.Active, e.Target, e.Votes)
	case events.SceneChanged:
		b.ForceSceneLoad(e.To, now)
	case events.ItemDropped:
		b.ItemDropped(e.Drop)
	case events.ItemPickedUp:
		b.ItemPickedUp(e.DropID, e.PeerID)
	case events.PlayerLeft:
		b.PlayerList()
	}
}

func (b *Broadcaster) broadcast(v any) {
	frame, err := protocol.EncodeJSON(v)
	if err != nil {
		b.log.Printf("encode %T: %v", v, err)
		return
	}
	b.sent++
	b.out.Broadcast(frame)
}

func (b *Broadcaster) send(peer uint32, v any) {
	frame, err := protocol.EncodeJSON(v)
	if err != nil {
		b.log.Printf("encode %T: %v", v, err)
		return
	}
	if b.out.Send(peer, frame) {
		b.sent++
	}
}
