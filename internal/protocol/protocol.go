package protocol

import "encoding/json"

// Kind is the first byte of every frame on the wire.
type Kind byte

const (
	KindClientStatus    Kind = 1
	KindPlayerPosition  Kind = 2
	KindPlayerAnimation Kind = 3
	KindChat            Kind = 4
	KindSceneVote       Kind = 5
	KindJSON            Kind = 9
	KindAISync          Kind = 10
	KindAIHealth        Kind = 11
	KindAIAnimation     Kind = 12
	KindLootSync        Kind = 20
	KindItemPickup      Kind = 21
	KindWeaponFire      Kind = 30
	KindDamage          Kind = 31
	KindPlayerHealth    Kind = 32
	KindSetID           Kind = 100
	KindKick            Kind = 101
)

// Relayed reports whether frames of this kind are forwarded verbatim to the other peers.
func (k Kind) Relayed() bool {
	return k == KindPlayerAnimation || k == KindWeaponFire
}

// Inbound JSON envelope types.
const (
	TypeSceneVoteRequest   = "sceneVoteRequest"
	TypeSceneVoteReady     = "sceneVoteReady"
	TypeSceneVoteCancel    = "sceneVoteCancel"
	TypeUpdateClientStatus = "updateClientStatus"
	TypeClientStatus       = "clientStatus"
	TypeLootRequest        = "lootRequest"
	TypeItemDropRequest    = "itemDropRequest"
	TypeItemPickupRequest  = "itemPickupRequest"
	TypeDamageReport       = "damageReport"
	TypeAIHealthReport     = "ai_health_report"
)

// Outbound JSON envelope types.
const (
	TypePlayerList          = "playerList"
	TypeAITransformSnapshot = "ai_transform_snapshot"
	TypeAIAnimSnapshot      = "ai_anim_snapshot"
	TypeAIHealthSync        = "ai_health_sync"
	TypeLootFullSync        = "lootFullSync"
	TypeSceneVote           = "sceneVote"
	TypeForceSceneLoad      = "forceSceneLoad"
	TypeSetID               = "setId"
	TypeKick                = "kick"
	TypeItemDropped         = "itemDropped"
	TypeItemPickedUp        = "itemPickedUp"
)

// TimestampLayout is the wall-clock format carried in outbound messages.
const TimestampLayout = "2006-01-02 15:04:05.000"

// BaseMessage lets us route JSON envelopes by type.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
