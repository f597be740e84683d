package server

import (
	"math"
	"strconv"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"duckovtogether/internal/protocol"
	"duckovtogether/internal/sim/store"
	"duckovtogether/internal/transport/ws"
)

// dispatch routes one inbound frame. Malformed frames are logged and dropped without
// a penalty; frames from peers that already left are ignored.
func (s *Server) dispatch(in ws.Inbound, now time.Time) {
	s.framesIn.Add(1)
	kind, body, err := protocol.SplitFrame(in.Frame)
	if err != nil {
		s.drop(in.Peer, "split frame: %v", err)
		return
	}
	if _, ok := s.store.Player(in.Peer); !ok {
		s.framesDropped.Add(1)
		return
	}
	if !s.val.CheckRate(in.Peer, "kind_"+strconv.Itoa(int(kind))) {
		s.framesDropped.Add(1)
		return
	}

	switch kind {
	case protocol.KindClientStatus:
		st, err := protocol.DecodeLegacyClientStatus(body)
		if err != nil {
			s.drop(in.Peer, "client status: %v", err)
			return
		}
		s.applyStatus(in.Peer, st.PlayerName, st.IsInGame, st.SceneID, now)
	case protocol.KindPlayerPosition:
		pos, err := protocol.DecodeLegacyPosition(body)
		if err != nil {
			s.drop(in.Peer, "position: %v", err)
			return
		}
		s.applyPosition(in.Peer, pos, now)
	case protocol.KindChat:
		text, err := protocol.DecodeLegacyChat(body)
		if err != nil {
			s.drop(in.Peer, "chat: %v", err)
			return
		}
		p, _ := s.store.Player(in.Peer)
		s.log.Printf("chat %s: %s", displayName(p), text)
	case protocol.KindJSON:
		msg, err := protocol.DecodeInbound(body)
		if err != nil {
			s.drop(in.Peer, "json: %v", err)
			return
		}
		s.dispatchJSON(in.Peer, msg, now)
	default:
		if kind.Relayed() {
			s.framesRelayed.Add(1)
			s.out.BroadcastExcept(in.Peer, in.Frame)
			return
		}
		s.drop(in.Peer, "unknown kind %d", kind)
	}
}

func (s *Server) drop(peer uint32, format string, args ...any) {
	s.framesDropped.Add(1)
	s.log.Printf("drop frame from %d: "+format, append([]any{peer}, args...)...)
}

func displayName(p store.PlayerState) string {
	if p.Name != "" {
		return p.Name
	}
	return "Player_" + strconv.FormatUint(uint64(p.PeerID), 10)
}

func (s *Server) dispatchJSON(peer uint32, msg any, now time.Time) {
	switch m := msg.(type) {
	case *protocol.ClientStatusMsg:
		s.applyStatus(peer, m.PlayerName, m.IsInGame, m.SceneID, now)
		if m.IsInGame {
			s.applyPosition(peer, mgl64.Vec3{m.PosX, m.PosY, m.PosZ}, now)
		}
		if m.Health != nil {
			s.applyHealth(peer, *m.Health, m.MaxHealth, now)
		}
	case *protocol.SceneVoteRequestMsg:
		if err := s.coord.RequestVote(peer, m.TargetScene, now); err != nil {
			s.log.Printf("vote request from %d: %v", peer, err)
		}
	case *protocol.SceneVoteReadyMsg:
		if err := s.coord.SetReady(peer, m.Ready, now); err != nil {
			s.log.Printf("vote ready from %d: %v", peer, err)
		}
	case *protocol.SceneVoteCancelMsg:
		if err := s.coord.CancelVote(peer, now); err != nil {
			s.log.Printf("vote cancel from %d: %v", peer, err)
		}
	case *protocol.LootRequestMsg:
		if _, ok := s.store.TryLoot(m.ContainerID, peer, now); ok {
			s.bc.LootFullSync(peer, s.store.CurrentScene(), now)
		}
	case *protocol.ItemDropRequestMsg:
		pos := mgl64.Vec3{m.PosX, m.PosY, m.PosZ}
		if _, err := s.store.DropItem(peer, m.ItemID, m.Count, pos, s.store.CurrentScene(), now); err != nil {
			s.log.Printf("drop %s x%d from %d: %v", m.ItemID, m.Count, peer, err)
		}
	case *protocol.ItemPickupRequestMsg:
		d, ok := s.store.Drop(m.DropID)
		if !ok {
			return
		}
		p, _ := s.store.Player(peer)
		if !s.val.ValidatePickup(peer, m.DropID, p.Position, d.Position) {
			return
		}
		s.store.TryPickup(m.DropID, peer)
	case *protocol.DamageReportMsg:
		if m.TargetType != "ai" {
			return
		}
		e, ok := s.store.AI(m.TargetID)
		if !ok {
			return
		}
		p, _ := s.store.Player(peer)
		if !s.val.ValidateDamage(peer, m.TargetID, m.Damage, p.Position, e.Position) {
			return
		}
		if _, err := s.store.Damage(m.TargetID, m.Damage, peer, now); err != nil {
			s.log.Printf("damage %d from %d: %v", m.TargetID, peer, err)
		}
	case *protocol.AIHealthReportMsg:
		e, ok := s.store.AI(m.AIID)
		if !ok {
			return
		}
		// A reported drop is damage dealt by the reporter.
		if drop := e.Health - m.CurrentHealth; drop > 0 || math.IsNaN(drop) {
			p, _ := s.store.Player(peer)
			if !s.val.ValidateDamage(peer, m.AIID, drop, p.Position, e.Position) {
				return
			}
		}
		if _, err := s.store.ReportAIHealth(m.AIID, m.CurrentHealth, now); err != nil {
			s.log.Printf("ai health report %d from %d: %v", m.AIID, peer, err)
		}
	}
}

// applyStatus updates name, in-game flag and scene. A scene change restarts motion
// validation since the peer was teleported by the load.
func (s *Server) applyStatus(peer uint32, name string, inGame bool, scene string, now time.Time) {
	var sceneChanged bool
	s.store.UpdatePlayer(peer, func(p *store.PlayerState) {
		if name != "" {
			p.Name = name
		}
		sceneChanged = p.SceneID != scene
		p.InGame = inGame
		p.SceneID = scene
		p.UpdatedAt = now
	})
	if sceneChanged {
		s.val.ResetMotion(peer)
	}
}

func (s *Server) applyPosition(peer uint32, pos mgl64.Vec3, now time.Time) {
	if !s.val.ValidatePosition(peer, pos) {
		return
	}
	s.store.UpdatePlayer(peer, func(p *store.PlayerState) {
		p.Position = pos
		p.UpdatedAt = now
	})
}

func (s *Server) applyHealth(peer uint32, health float64, maxHealth *float64, now time.Time) {
	p, ok := s.store.Player(peer)
	if !ok {
		return
	}
	maxHP := p.MaxHealth
	if maxHealth != nil {
		maxHP = *maxHealth
	}
	if maxHP <= 0 {
		maxHP = health
	}
	if !s.val.ValidateHealth(peer, p.Health, health, maxHP) {
		return
	}
	s.store.UpdatePlayer(peer, func(p *store.PlayerState) {
		p.Health = health
		p.MaxHealth = maxHP
		p.UpdatedAt = now
	})
}
