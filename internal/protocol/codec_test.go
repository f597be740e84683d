package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestDecodeInbound_TypedMessages(t *testing.T) {
	v, err := DecodeInbound([]byte(`{"type":"damageReport","targetType":"ai","targetId":42,"damage":12.5}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	dm, ok := v.(*DamageReportMsg)
	if !ok {
		t.Fatalf("got %T want *DamageReportMsg", v)
	}
	if dm.TargetID != 42 || dm.Damage != 12.5 || dm.TargetType != "ai" {
		t.Fatalf("unexpected fields: %+v", dm)
	}

	v, err = DecodeInbound([]byte(`{"type":"clientStatus","playerName":"p","isInGame":true,"sceneId":"S","posX":1,"posY":2,"posZ":3}`))
	if err != nil {
		t.Fatalf("decode clientStatus: %v", err)
	}
	st := v.(*ClientStatusMsg)
	if st.Health != nil || st.SceneID != "S" || st.PosZ != 3 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestDecodeInbound_RejectsUnknown(t *testing.T) {
	if _, err := DecodeInbound([]byte(`{"type":"teleport"}`)); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
	_, err := DecodeInbound([]byte(`{"type":"lootRequest","containerId":"a","extra":1}`))
	if err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
	if _, err := DecodeInbound([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for garbage")
	}
}

func TestLegacyBodies(t *testing.T) {
	frame, err := EncodeLegacyClientStatus(LegacyClientStatus{PlayerName: "alice", IsInGame: true, SceneID: "Level_1"})
	if err != nil {
		t.Fatalf("encode status: %v", err)
	}
	kind, body, err := SplitFrame(frame)
	if err != nil || kind != KindClientStatus {
		t.Fatalf("split: kind=%d err=%v", kind, err)
	}
	st, err := DecodeLegacyClientStatus(body)
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.PlayerName != "alice" || !st.IsInGame || st.SceneID != "Level_1" {
		t.Fatalf("status mismatch: %+v", st)
	}

	_, body, _ = SplitFrame(EncodeLegacyPosition(mgl64.Vec3{1.5, -2, 3.25}))
	pos, err := DecodeLegacyPosition(body)
	if err != nil {
		t.Fatalf("decode pos: %v", err)
	}
	if pos != (mgl64.Vec3{1.5, -2, 3.25}) {
		t.Fatalf("pos=%v", pos)
	}

	if _, err := DecodeLegacyPosition([]byte{1, 2, 3}); !errors.Is(err, ErrShortBody) {
		t.Fatalf("expected ErrShortBody, got %v", err)
	}
	if _, _, err := SplitFrame(nil); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestHashID_Stable(t *testing.T) {
	if HashID("Level_1_1") != HashID("Level_1_1") {
		t.Fatalf("hash not stable")
	}
	if HashID("Level_1_1") == HashID("Level_1_2") {
		t.Fatalf("expected distinct hashes")
	}
}

func TestKindRelayed(t *testing.T) {
	if !KindPlayerAnimation.Relayed() || !KindWeaponFire.Relayed() {
		t.Fatalf("animation and weapon fire should relay")
	}
	if KindJSON.Relayed() || KindChat.Relayed() {
		t.Fatalf("json/chat are dispatched, not relayed")
	}
}
