package main

import (
	"encoding/json"
	"flag"
	"log"
	"math"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"

	"duckovtogether/internal/protocol"
)

// bot is a headless client: it joins, reports its status, walks a circle inside the
// speed limit and readies up for every scene vote. Useful as a smoke test against a
// running server.
func main() {
	var (
		addr   = flag.String("url", "ws://localhost:9050/v1/ws", "ws url")
		key    = flag.String("key", "gameKey", "game key")
		name   = flag.String("name", "bot", "player name")
		scene  = flag.String("scene", "Level_GroundZero_Main", "scene the bot claims to be in")
		radius = flag.Float64("radius", 5, "walk circle radius")
		vote   = flag.String("vote", "", "request a scene vote for this scene after joining")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	u, err := url.Parse(*addr)
	if err != nil {
		logger.Fatalf("url: %v", err)
	}
	q := u.Query()
	q.Set("key", *key)
	q.Set("name", *name)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			logger.Fatalf("dial: %v (http %d)", err, resp.StatusCode)
		}
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	status, err := protocol.EncodeLegacyClientStatus(protocol.LegacyClientStatus{PlayerName: *name, IsInGame: true, SceneID: *scene})
	if err != nil {
		logger.Fatalf("encode status: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, status); err != nil {
		logger.Fatalf("send status: %v", err)
	}
	if *vote != "" {
		send(conn, logger, protocol.SceneVoteRequestMsg{Type: protocol.TypeSceneVoteRequest, TargetScene: *vote})
	}

	frames := make(chan []byte, 64)
	go func() {
		defer close(frames)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Printf("read: %v", err)
				return
			}
			frames <- msg
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-stop:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			return
		case msg, ok := <-frames:
			if !ok {
				return
			}
			handleFrame(conn, logger, msg)
		case now := <-ticker.C:
			// 2 rad/s around the circle keeps the speed at 2*radius units/s.
			a := 2 * now.Sub(start).Seconds()
			pos := mgl64.Vec3{*radius * math.Cos(a), 0, *radius * math.Sin(a)}
			if err := conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeLegacyPosition(pos)); err != nil {
				logger.Printf("send position: %v", err)
				return
			}
		}
	}
}

func handleFrame(conn *websocket.Conn, logger *log.Logger, frame []byte) {
	kind, body, err := protocol.SplitFrame(frame)
	if err != nil || kind != protocol.KindJSON {
		return
	}
	base, err := protocol.DecodeBase(body)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypeSetID:
		var m protocol.SetIDMsg
		if json.Unmarshal(body, &m) == nil {
			logger.Printf("SETID peer=%d session=%s", m.PeerID, m.SessionID)
		}
	case protocol.TypePlayerList:
		var m protocol.PlayerListMsg
		if json.Unmarshal(body, &m) == nil {
			logger.Printf("PLAYERS %d", len(m.Players))
		}
	case protocol.TypeSceneVote:
		var m protocol.SceneVoteMsg
		if json.Unmarshal(body, &m) == nil && m.Active {
			logger.Printf("VOTE target=%s votes=%d", m.TargetScene, len(m.Votes))
			send(conn, logger, protocol.SceneVoteReadyMsg{Type: protocol.TypeSceneVoteReady, Ready: true})
		}
	case protocol.TypeForceSceneLoad:
		var m protocol.ForceSceneLoadMsg
		if json.Unmarshal(body, &m) == nil {
			logger.Printf("LOAD scene=%s", m.SceneID)
		}
	case protocol.TypeKick:
		var m protocol.KickMsg
		if json.Unmarshal(body, &m) == nil {
			logger.Printf("KICK code=%s reason=%s", m.Code, m.Reason)
		}
	}
}

func send(conn *websocket.Conn, logger *log.Logger, v any) {
	b, err := protocol.EncodeJSON(v)
	if err != nil {
		logger.Printf("encode: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		logger.Printf("send: %v", err)
	}
}
