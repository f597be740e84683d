package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	ErrEmptyFrame     = errors.New("protocol: empty frame")
	ErrUnknownMessage = errors.New("protocol: unknown message type")
	ErrShortBody      = errors.New("protocol: short body")
	ErrStringTooLarge = errors.New("protocol: string too large")
)

// Frame prefixes body with its kind byte.
func Frame(kind Kind, body []byte) []byte {
	b := make([]byte, 1+len(body))
	b[0] = byte(kind)
	copy(b[1:], body)
	return b
}

func SplitFrame(b []byte) (Kind, []byte, error) {
	if len(b) == 0 {
		return 0, nil, ErrEmptyFrame
	}
	return Kind(b[0]), b[1:], nil
}

// EncodeJSON marshals v into a kind-9 frame.
func EncodeJSON(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Frame(KindJSON, body), nil
}

func Timestamp(t time.Time) string { return t.Format(TimestampLayout) }

// DecodeInbound decodes a kind-9 body into the typed message for its "type".
// Unknown types and unknown fields are rejected.
func DecodeInbound(body []byte) (any, error) {
	base, err := DecodeBase(body)
	if err != nil {
		return nil, fmt.Errorf("decode base: %w", err)
	}
	var v any
	switch base.Type {
	case TypeSceneVoteRequest:
		v = &SceneVoteRequestMsg{}
	case TypeSceneVoteReady:
		v = &SceneVoteReadyMsg{}
	case TypeSceneVoteCancel:
		v = &SceneVoteCancelMsg{}
	case TypeUpdateClientStatus, TypeClientStatus:
		v = &ClientStatusMsg{}
	case TypeLootRequest:
		v = &LootRequestMsg{}
	case TypeItemDropRequest:
		v = &ItemDropRequestMsg{}
	case TypeItemPickupRequest:
		v = &ItemPickupRequestMsg{}
	case TypeDamageReport:
		v = &DamageReportMsg{}
	case TypeAIHealthReport:
		v = &AIHealthReportMsg{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, base.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return nil, fmt.Errorf("%s: %w", base.Type, err)
	}
	return v, nil
}

// Legacy binary bodies. Strings are uint16 little-endian length + UTF-8 bytes.

type LegacyClientStatus struct {
	PlayerName string
	IsInGame   bool
	SceneID    string
}

func DecodeLegacyClientStatus(body []byte) (LegacyClientStatus, error) {
	var st LegacyClientStatus
	r := reader{b: body}
	st.PlayerName = r.str()
	st.IsInGame = r.bool()
	st.SceneID = r.str()
	return st, r.err
}

func EncodeLegacyClientStatus(st LegacyClientStatus) ([]byte, error) {
	var w writer
	w.str(st.PlayerName)
	w.bool(st.IsInGame)
	w.str(st.SceneID)
	if w.err != nil {
		return nil, w.err
	}
	return Frame(KindClientStatus, w.buf.Bytes()), nil
}

func DecodeLegacyPosition(body []byte) (mgl64.Vec3, error) {
	r := reader{b: body}
	v := mgl64.Vec3{r.f32(), r.f32(), r.f32()}
	return v, r.err
}

func EncodeLegacyPosition(v mgl64.Vec3) []byte {
	var w writer
	for i := 0; i < 3; i++ {
		w.f32(v[i])
	}
	return Frame(KindPlayerPosition, w.buf.Bytes())
}

func DecodeLegacyChat(body []byte) (string, error) {
	r := reader{b: body}
	s := r.str()
	return s, r.err
}

func EncodeLegacyChat(text string) ([]byte, error) {
	var w writer
	w.str(text)
	if w.err != nil {
		return nil, w.err
	}
	return Frame(KindChat, w.buf.Bytes()), nil
}

// HashID folds s into a stable int32 with FNV-1a.
func HashID(s string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int32(h.Sum32())
}

type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.b) {
		r.err = ErrShortBody
		return nil
	}
	p := r.b[r.off : r.off+n]
	r.off += n
	return p
}

func (r *reader) str() string {
	p := r.take(2)
	if p == nil {
		return ""
	}
	n := int(binary.LittleEndian.Uint16(p))
	return string(r.take(n))
}

func (r *reader) bool() bool {
	p := r.take(1)
	return p != nil && p[0] != 0
}

func (r *reader) f32() float64 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(p)))
}

type writer struct {
	buf bytes.Buffer
	err error
}

func (w *writer) str(s string) {
	if len(s) > math.MaxUint16 {
		w.err = ErrStringTooLarge
		return
	}
	var n [2]byte
	binary.LittleEndian.PutUint16(n[:], uint16(len(s)))
	w.buf.Write(n[:])
	w.buf.WriteString(s)
}

func (w *writer) bool(v bool) {
	if v {
		w.buf.WriteByte(1)
		return
	}
	w.buf.WriteByte(0)
}

func (w *writer) f32(v float64) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], math.Float32bits(float32(v)))
	w.buf.Write(n[:])
}
