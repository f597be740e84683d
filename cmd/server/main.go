package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"duckovtogether/internal/broadcast"
	"duckovtogether/internal/events"
	"duckovtogether/internal/persistence/archive"
	persistlog "duckovtogether/internal/persistence/log"
	"duckovtogether/internal/persistence/saves"
	"duckovtogether/internal/security"
	"duckovtogether/internal/server"
	"duckovtogether/internal/sim/ai"
	"duckovtogether/internal/sim/catalogs"
	"duckovtogether/internal/sim/store"
	"duckovtogether/internal/sim/tuning"
	"duckovtogether/internal/sim/world"
	"duckovtogether/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":9050", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		configDir  = flag.String("config", "./configs", "config directory (server.yaml, tuning.yaml)")
		worldID    = flag.String("world", "", "world id (default: world_id from server.yaml)")
		guardName  = flag.String("guard", "", "anti-cheat backend: permissive|builtin|plugin:<path> (default: guard from server.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (sessions, violations, saves)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <config>/tuning.yaml)")
	)
	flag.Parse()

	logger := newLogger("server")

	srvCfg, err := tuning.LoadServerOrCreate(filepath.Join(*configDir, "server.yaml"))
	if err != nil {
		logger.Printf("load server config (using defaults): %v", err)
	}
	if id := strings.TrimSpace(*worldID); id != "" {
		srvCfg.WorldID = id
	}
	if g := strings.TrimSpace(*guardName); g != "" {
		srvCfg.Guard = g
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, created, err := tuning.LoadOrCreate(tp)
	if err != nil {
		logger.Printf("load tuning (using defaults): %v", err)
	}
	if created {
		logger.Printf("wrote default tuning to %s", tp)
	}

	cats, err := catalogs.Load(filepath.Join(*dataDir, srvCfg.DataPath))
	if err != nil {
		logger.Printf("load catalogs (falling back to built-in data where needed): %v", err)
	}
	logger.Printf("catalogs: %d items, %d scenes", len(cats.Items.ByID), len(cats.Scenes.Order))

	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Printf("index backend disabled: %v", err)
		idx = nil
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	queue := events.NewQueue()
	st := store.New(store.Options{
		Engine: ai.NewEngine(ai.Config{
			WaypointReach:    tune.AI.WaypointReach,
			DisengageFactor:  tune.AI.DisengageFactor,
			AttackExitFactor: tune.AI.AttackExitFactor,
		}),
		StepInterval: tune.AI.StepInterval(),
		Events:       queue,
		Items:        cats.Items.ByID,
		Rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
		Logger:       newLogger("store"),
	})
	for _, id := range cats.Scenes.Order {
		st.RegisterScene(cats.Scenes.ByID[id])
	}

	guardLog := newLogger("guard")
	val := security.NewValidator(security.Options{
		Tuning:  tune.Validation,
		Backend: security.OpenBackend(srvCfg.Guard, srvCfg.GameKey, guardLog),
		Events:  queue,
		Logger:  guardLog,
	})

	hub := ws.NewHub(ws.Config{MaxPeers: srvCfg.MaxPlayers, GameKey: srvCfg.GameKey}, newLogger("ws"))
	bc := broadcast.New(st, hub, tune.Broadcast, newLogger("broadcast"))

	sv := saves.New(filepath.Join(*dataDir, "saves"), newLogger("saves"))
	coord := world.New(world.Config{
		WorldID:        srvCfg.WorldID,
		Autosave:       tune.Persistence.Autosave(),
		HoursPerSecond: tune.Clock.HoursPerSecond,
	}, st, sv, queue, newLogger("world"))
	coord.SetArchiver(archive.New(filepath.Join(*dataDir, "archives"), tune.Persistence.ArchiveKeep))
	if idx != nil {
		coord.SetSaveRecorder(idx)
	}
	coord.Boot(time.Now())

	srv := server.New(server.Options{
		Transport:    hub,
		Store:        st,
		Validator:    val,
		Broadcaster:  bc,
		Coordinator:  coord,
		Events:       queue,
		Validation:   tune.Validation,
		TickInterval: srvCfg.TickInterval(),
		Logger:       logger,
	})
	sessLog := persistlog.NewSessionLogger(*dataDir)
	violLog := persistlog.NewViolationLogger(*dataDir)
	defer sessLog.Close()
	defer violLog.Close()
	srv.SetSessionLogger(sessLog)
	srv.SetViolationLogger(violLog)
	if idx != nil {
		srv.SetSessionIndex(idx)
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatalf("listen %s: %v", *addr, err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := srv.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("tick loop stopped: %v", err)
		}
	}()

	a := &app{
		cfg:   srvCfg,
		hub:   hub,
		store: st,
		coord: coord,
		srv:   srv,
		val:   val,
		idx:   idx,
		log:   logger,
	}
	mux := http.NewServeMux()
	a.routes(mux)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = httpSrv.Shutdown(ctx2)
	}()

	logger.Printf("%s listening on %s (world=%s max_players=%d guard=%s)",
		srvCfg.Name, *addr, srvCfg.WorldID, srvCfg.MaxPlayers, val.Backend())
	if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
		logger.Printf("Serve: %v", err)
		cancel()
	}
	<-runDone
	hub.Close()
	if err := val.Close(); err != nil {
		logger.Printf("%v", err)
	}
	logger.Printf("stopped")
}

func newLogger(component string) *log.Logger {
	return log.New(os.Stdout, "["+component+"] ", log.LstdFlags|log.Lmicroseconds)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
