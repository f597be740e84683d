package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"duckovtogether/internal/protocol"
)

func TestSchemas_ValidateMessages(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, msg any) {
		t.Helper()
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate %s: %v", string(b), err)
		}
	}

	validate(compile("damage_report.schema.json"), protocol.DamageReportMsg{
		Type: protocol.TypeDamageReport, TargetType: "ai", TargetID: -12345, Damage: 10,
	})

	hp := 80.0
	validate(compile("client_status.schema.json"), protocol.ClientStatusMsg{
		Type: protocol.TypeUpdateClientStatus, PlayerName: "p1", IsInGame: true, SceneID: "Level_GroundZero_Main",
		PosX: 1, PosY: 0, PosZ: -3, Health: &hp,
	})

	validate(compile("ai_transform_snapshot.schema.json"), protocol.AITransformSnapshotMsg{
		Type: protocol.TypeAITransformSnapshot,
		Transforms: []protocol.AITransform{
			{AIID: 7, Position: protocol.Vec3{X: 1, Y: 2, Z: 3}, Forward: protocol.Vec3{Z: 1}},
		},
	})

	validate(compile("player_list.schema.json"), protocol.PlayerListMsg{
		Type: protocol.TypePlayerList,
		Players: []protocol.PlayerInfo{
			{PeerID: 1, EndPoint: "127.0.0.1:5000", PlayerName: "Player_1", IsInGame: true, SceneID: "S", Latency: 12},
		},
	})

	validate(compile("loot_full_sync.schema.json"), protocol.LootFullSyncMsg{
		Type:      protocol.TypeLootFullSync,
		Timestamp: protocol.Timestamp(time.Date(2026, 1, 2, 3, 4, 5, 6e6, time.UTC)),
		LootBoxes: []protocol.LootBox{{
			LootUID:     protocol.HashID("S_1"),
			ContainerID: "S_1",
			Position:    protocol.Vec3{X: 5, Z: 5},
			Rotation:    protocol.Quat{W: 1},
			Capacity:    10,
			Items:       []protocol.LootItem{{Position: 0, TypeID: protocol.HashID("ammo_9mm"), ItemID: "ammo_9mm", Stack: 12, Durability: 1}},
		}},
	})

	validate(compile("scene_vote.schema.json"), protocol.SceneVoteMsg{
		Type: protocol.TypeSceneVote, Active: true, TargetScene: "Level_2",
		Votes: []protocol.VoteEntry{{PlayerID: "1", Ready: true}, {PlayerID: "2", Ready: false}},
	})
}

func TestSchemas_RejectUnknownDamageField(t *testing.T) {
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", "damage_report.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	var v any
	_ = json.Unmarshal([]byte(`{"type":"damageReport","targetType":"ai","targetId":1,"damage":1,"crit":true}`), &v)
	if err := s.Validate(v); err == nil {
		t.Fatalf("expected additionalProperties violation")
	}
}
