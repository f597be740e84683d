package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"
	"time"

	"duckovtogether/internal/persistence/indexdb"
	"duckovtogether/internal/security"
	"duckovtogether/internal/server"
	"duckovtogether/internal/sim/store"
	"duckovtogether/internal/sim/tuning"
	"duckovtogether/internal/sim/vote"
	"duckovtogether/internal/sim/world"
	"duckovtogether/internal/transport/ws"
)

// app holds the handles the HTTP surface reads from. Mutations go through srv so
// they run on the tick goroutine.
type app struct {
	cfg   tuning.Server
	hub   *ws.Hub
	store *store.Store
	coord *world.Coordinator
	srv   *server.Server
	val   *security.Validator
	idx   *indexdb.SQLiteIndex
	log   *log.Logger
}

type playerView struct {
	ID         uint32     `json:"id"`
	Name       string     `json:"name"`
	SessionID  string     `json:"session_id"`
	EndPoint   string     `json:"endpoint"`
	LatencyMs  int        `json:"latency_ms"`
	InGame     bool       `json:"in_game"`
	SceneID    string     `json:"scene_id"`
	Position   [3]float64 `json:"position"`
	Health     float64    `json:"health"`
	MaxHealth  float64    `json:"max_health"`
	Violations int        `json:"violations"`
	Connected  time.Time  `json:"connected_at"`
}

func (a *app) routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.handleMetrics)
	mux.HandleFunc("/v1/discover", a.handleDiscover)
	mux.HandleFunc("/v1/ws", a.hub.Handler())

	if envBool("DUCKOV_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		mux.HandleFunc("/admin/v1/status", a.loopback(a.handleStatus))
		mux.HandleFunc("/admin/v1/players", a.loopback(a.handlePlayers))
		mux.HandleFunc("/admin/v1/world", a.loopback(a.handleWorld))
		mux.HandleFunc("/admin/v1/kick", a.loopback(a.post(a.handleKick)))
		mux.HandleFunc("/admin/v1/save", a.loopback(a.post(a.handleSave)))
		mux.HandleFunc("/admin/v1/scene", a.loopback(a.post(a.handleScene)))
	} else {
		a.log.Printf("admin endpoints disabled (DUCKOV_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("DUCKOV_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
}

func (a *app) loopback(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (a *app) post(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(rw, r)
	}
}

func (a *app) handleDiscover(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"name":        a.cfg.Name,
		"players":     a.hub.Count(),
		"max_players": a.cfg.MaxPlayers,
	})
}

func (a *app) handleStatus(rw http.ResponseWriter, r *http.Request) {
	sum := a.coord.Summary()
	resp := struct {
		Name       string         `json:"name"`
		Players    int            `json:"players"`
		MaxPlayers int            `json:"max_players"`
		Guard      string         `json:"guard"`
		World      world.Summary  `json:"world"`
		Loop       server.Metrics `json:"loop"`
		Transport  ws.Stats       `json:"transport"`
	}{
		Name:       a.cfg.Name,
		Players:    a.hub.Count(),
		MaxPlayers: a.cfg.MaxPlayers,
		Guard:      a.val.Backend(),
		World:      sum,
		Loop:       a.srv.Metrics(),
		Transport:  a.hub.Stats(),
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (a *app) handlePlayers(rw http.ResponseWriter, r *http.Request) {
	players := a.store.Players()
	out := make([]playerView, 0, len(players))
	for _, p := range players {
		out = append(out, playerView{
			ID:         p.PeerID,
			Name:       p.Name,
			SessionID:  p.SessionID,
			EndPoint:   p.EndPoint,
			LatencyMs:  p.LatencyMs,
			InGame:     p.InGame,
			SceneID:    p.SceneID,
			Position:   [3]float64{p.Position.X(), p.Position.Y(), p.Position.Z()},
			Health:     p.Health,
			MaxHealth:  p.MaxHealth,
			Violations: a.val.ViolationCount(p.PeerID),
			Connected:  p.ConnectedAt,
		})
	}
	writeJSON(rw, http.StatusOK, out)
}

func (a *app) handleWorld(rw http.ResponseWriter, r *http.Request) {
	sum := a.coord.Summary()
	resp := struct {
		world.Summary
		Scenes []string `json:"scenes"`
	}{Summary: sum, Scenes: a.store.Scenes()}
	writeJSON(rw, http.StatusOK, resp)
}

func (a *app) handleKick(rw http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.URL.Query().Get("id"), 10, 32)
	if err != nil || id == 0 {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "id must be a peer id"})
		return
	}
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	a.runAdmin(rw, r, func(ctx context.Context) error { return a.srv.Kick(ctx, uint32(id), reason) })
}

func (a *app) handleSave(rw http.ResponseWriter, r *http.Request) {
	a.runAdmin(rw, r, a.srv.Save)
}

func (a *app) handleScene(rw http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	a.runAdmin(rw, r, func(ctx context.Context) error { return a.srv.ForceScene(ctx, id) })
}

func (a *app) runAdmin(rw http.ResponseWriter, r *http.Request, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		writeJSON(rw, adminStatus(err), map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
}

func adminStatus(err error) int {
	switch {
	case errors.Is(err, server.ErrUnknownPeer):
		return http.StatusNotFound
	case errors.Is(err, vote.ErrNoTarget):
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	m := a.srv.Metrics()
	t := a.hub.Stats()
	c := a.store.Counts()
	sum := a.coord.Summary()
	wid := sum.WorldID

	gauge := func(name, help string, v any) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
		fmt.Fprintf(rw, "%s{world=%q} %v\n", name, wid, v)
	}
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s counter\n", name)
		fmt.Fprintf(rw, "%s{world=%q} %d\n", name, wid, v)
	}

	counter("duckov_ticks_total", "Tick loop iterations.", m.Ticks)
	gauge("duckov_tick_us", "Last tick step duration in microseconds.", m.LastTickMicros)
	gauge("duckov_peers", "Connected peers.", t.Peers)
	gauge("duckov_max_peers", "Configured player capacity.", a.cfg.MaxPlayers)
	counter("duckov_frames_in_total", "Inbound frames dispatched.", m.FramesIn)
	counter("duckov_frames_relayed_total", "Inbound frames relayed verbatim.", m.FramesRelayed)
	counter("duckov_frames_dropped_total", "Inbound frames dropped as malformed, unknown or rate limited.", m.FramesDropped)
	counter("duckov_violations_total", "Anti-cheat violations.", m.Violations)
	counter("duckov_kicks_total", "Peers kicked.", m.Kicks)
	counter("duckov_ai_strikes_total", "AI melee strikes.", m.AIStrikes)
	counter("duckov_loot_opened_total", "Loot containers opened.", m.LootOpened)
	counter("duckov_ws_rejected_total", "Handshakes rejected.", t.Rejected)
	counter("duckov_ws_dropped_out_total", "Outbound frames dropped from full peer queues.", t.DroppedOut)
	counter("duckov_ws_dropped_in_total", "Inbound frames dropped from a full inbox.", t.DroppedIn)
	counter("duckov_ws_rate_limited_total", "Inbound frames over the per-connection rate.", t.RateLimited)

	fmt.Fprintf(rw, "# HELP duckov_entities Entities held by the store.\n")
	fmt.Fprintf(rw, "# TYPE duckov_entities gauge\n")
	fmt.Fprintf(rw, "duckov_entities{world=%q,kind=%q} %d\n", wid, "ai", c.AI)
	fmt.Fprintf(rw, "duckov_entities{world=%q,kind=%q} %d\n", wid, "ai_alive", c.AliveAI)
	fmt.Fprintf(rw, "duckov_entities{world=%q,kind=%q} %d\n", wid, "containers", c.Containers)
	fmt.Fprintf(rw, "duckov_entities{world=%q,kind=%q} %d\n", wid, "containers_looted", c.Looted)
	fmt.Fprintf(rw, "duckov_entities{world=%q,kind=%q} %d\n", wid, "drops", c.Drops)

	gauge("duckov_game_day", "In-game day.", sum.GameDay)
	gauge("duckov_game_time_hours", "In-game time of day in hours.", sum.GameTime)

	if a.idx != nil {
		s := a.idx.Stats()
		gauge("duckov_index_queue_depth", "Index writer queue depth.", s.QueueDepth)
		counter("duckov_index_dropped_total", "Index rows dropped because the writer queue was full.",
			s.DropSessionTotal+s.DropViolationTotal+s.DropSaveTotal)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
