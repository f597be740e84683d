package protocol

import "github.com/go-gl/mathgl/mgl64"

// Vec3 is the object form of a position on the wire.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func FromVec(v mgl64.Vec3) Vec3 { return Vec3{X: v[0], Y: v[1], Z: v[2]} }
func (v Vec3) Vec() mgl64.Vec3  { return mgl64.Vec3{v.X, v.Y, v.Z} }

type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// --- client -> server ---

type SceneVoteRequestMsg struct {
	Type        string `json:"type"`
	TargetScene string `json:"targetScene"`
}

type SceneVoteReadyMsg struct {
	Type  string `json:"type"`
	Ready bool   `json:"ready"`
}

type SceneVoteCancelMsg struct {
	Type string `json:"type"`
}

// ClientStatusMsg is accepted under both "updateClientStatus" and "clientStatus".
type ClientStatusMsg struct {
	Type       string   `json:"type"`
	PlayerName string   `json:"playerName"`
	IsInGame   bool     `json:"isInGame"`
	SceneID    string   `json:"sceneId"`
	PosX       float64  `json:"posX"`
	PosY       float64  `json:"posY"`
	PosZ       float64  `json:"posZ"`
	Health     *float64 `json:"health,omitempty"`
	MaxHealth  *float64 `json:"maxHealth,omitempty"`
}

type LootRequestMsg struct {
	Type        string `json:"type"`
	ContainerID string `json:"containerId"`
}

type ItemDropRequestMsg struct {
	Type   string  `json:"type"`
	ItemID string  `json:"itemId"`
	Count  int     `json:"count"`
	PosX   float64 `json:"posX"`
	PosY   float64 `json:"posY"`
	PosZ   float64 `json:"posZ"`
}

type ItemPickupRequestMsg struct {
	Type   string `json:"type"`
	DropID string `json:"dropId"`
}

type DamageReportMsg struct {
	Type       string  `json:"type"`
	TargetType string  `json:"targetType"`
	TargetID   int32   `json:"targetId"`
	Damage     float64 `json:"damage"`
}

type AIHealthReportMsg struct {
	Type          string  `json:"type"`
	AIID          int32   `json:"aiId"`
	MaxHealth     float64 `json:"maxHealth"`
	CurrentHealth float64 `json:"currentHealth"`
}

// --- server -> client ---

type PlayerInfo struct {
	PeerID     uint32 `json:"peerId"`
	EndPoint   string `json:"endPoint"`
	PlayerName string `json:"playerName"`
	IsInGame   bool   `json:"isInGame"`
	SceneID    string `json:"sceneId"`
	Latency    int    `json:"latency"`
}

type PlayerListMsg struct {
	Type    string       `json:"type"`
	Players []PlayerInfo `json:"players"`
}

type AITransform struct {
	AIID     int32 `json:"aiId"`
	Position Vec3  `json:"position"`
	Forward  Vec3  `json:"forward"`
}

type AITransformSnapshotMsg struct {
	Type       string        `json:"type"`
	Transforms []AITransform `json:"transforms"`
}

type AIAnim struct {
	AIID     int32   `json:"aiId"`
	Speed    float64 `json:"speed"`
	DirX     float64 `json:"dirX"`
	DirY     float64 `json:"dirY"`
	Hand     int     `json:"hand"`
	GunReady bool    `json:"gunReady"`
	Dashing  bool    `json:"dashing"`
}

type AIAnimSnapshotMsg struct {
	Type  string   `json:"type"`
	Anims []AIAnim `json:"anims"`
}

type AIHealthSyncMsg struct {
	Type          string  `json:"type"`
	AIID          int32   `json:"aiId"`
	MaxHealth     float64 `json:"maxHealth"`
	CurrentHealth float64 `json:"currentHealth"`
}

type LootItem struct {
	Position       int     `json:"position"`
	TypeID         int32   `json:"typeId"`
	ItemID         string  `json:"itemId"`
	Stack          int     `json:"stack"`
	Durability     float64 `json:"durability"`
	DurabilityLoss float64 `json:"durabilityLoss"`
	Inspected      bool    `json:"inspected"`
}

type LootBox struct {
	LootUID     int32      `json:"lootUid"`
	ContainerID string     `json:"containerId"`
	AIID        int32      `json:"aiId"`
	Position    Vec3       `json:"position"`
	Rotation    Quat       `json:"rotation"`
	Capacity    int        `json:"capacity"`
	Items       []LootItem `json:"items"`
}

type LootFullSyncMsg struct {
	Type      string    `json:"type"`
	Timestamp string    `json:"timestamp"`
	LootBoxes []LootBox `json:"lootBoxes"`
}

type VoteEntry struct {
	PlayerID string `json:"playerId"`
	Ready    bool   `json:"ready"`
}

type SceneVoteMsg struct {
	Type        string      `json:"type"`
	Active      bool        `json:"active"`
	TargetScene string      `json:"targetScene"`
	Votes       []VoteEntry `json:"votes"`
}

type ForceSceneLoadMsg struct {
	Type      string `json:"type"`
	SceneID   string `json:"sceneId"`
	Timestamp string `json:"timestamp"`
}

type SetIDMsg struct {
	Type      string `json:"type"`
	NetworkID string `json:"networkId"`
	PeerID    uint32 `json:"peerId"`
	SessionID string `json:"sessionId"`
	Timestamp string `json:"timestamp"`
}

type KickMsg struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

type ItemDroppedMsg struct {
	Type     string `json:"type"`
	DropID   string `json:"dropId"`
	ItemID   string `json:"itemId"`
	Count    int    `json:"count"`
	Position Vec3   `json:"position"`
	SceneID  string `json:"sceneId"`
}

type ItemPickedUpMsg struct {
	Type   string `json:"type"`
	DropID string `json:"dropId"`
	PeerID uint32 `json:"peerId"`
}
