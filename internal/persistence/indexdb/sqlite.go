package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"duckovtogether/internal/sim/catalogs"
	"duckovtogether/internal/sim/tuning"
)

// SQLiteIndex is a queryable read model of sessions, violations and saves.
// Writes are queued and applied by one goroutine in batched transactions; the JSON
// save files and JSONL audit logs stay the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropSession   atomic.Uint64
	dropViolation atomic.Uint64
	dropSave      atomic.Uint64
}

type reqKind int

const (
	reqSessionStart reqKind = iota + 1
	reqSessionEnd
	reqViolation
	reqSave
)

type req struct {
	kind reqKind

	session   SessionRow
	violation ViolationRow
	save      SaveRow
}

type SessionRow struct {
	SessionID  string    `json:"session_id"`
	PeerID     uint32    `json:"peer_id"`
	Name       string    `json:"name"`
	EndPoint   string    `json:"endpoint"`
	JoinedAt   time.Time `json:"joined_at"`
	LeftAt     time.Time `json:"left_at,omitempty"`
	Violations int       `json:"violations"`
	Reason     string    `json:"reason,omitempty"`
}

type ViolationRow struct {
	SessionID string    `json:"session_id"`
	PeerID    uint32    `json:"peer_id"`
	Type      string    `json:"type"`
	Detail    string    `json:"detail"`
	Count     int       `json:"count"`
	At        time.Time `json:"at"`
}

type SaveRow struct {
	WorldID  string    `json:"world_id"`
	Scene    string    `json:"scene"`
	Reason   string    `json:"reason"`
	Path     string    `json:"path"`
	Archive  string    `json:"archive,omitempty"`
	GameDay  int       `json:"game_day"`
	GameTime float64   `json:"game_time"`
	Players  int       `json:"players"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

type Stats struct {
	QueueDepth         int    `json:"queue_depth"`
	QueueCapacity      int    `json:"queue_capacity"`
	DropSessionTotal   uint64 `json:"drop_session_total"`
	DropViolationTotal uint64 `json:"drop_violation_total"`
	DropSaveTotal      uint64 `json:"drop_save_total"`
}

const queueSize = 8192

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, queueSize)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			peer_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			joined_at TEXT NOT NULL,
			left_at TEXT,
			violations INTEGER NOT NULL DEFAULT 0,
			reason TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_joined ON sessions(joined_at);`,
		`CREATE TABLE IF NOT EXISTS violations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			peer_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			detail TEXT NOT NULL,
			count INTEGER NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_violations_session ON violations(session_id, at);`,
		`CREATE TABLE IF NOT EXISTS saves (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			world_id TEXT NOT NULL,
			scene TEXT NOT NULL,
			reason TEXT NOT NULL,
			path TEXT NOT NULL,
			archive TEXT,
			game_day INTEGER NOT NULL,
			game_time REAL NOT NULL,
			players INTEGER NOT NULL,
			ok INTEGER NOT NULL,
			error TEXT,
			at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:         len(s.ch),
		QueueCapacity:      cap(s.ch),
		DropSessionTotal:   s.dropSession.Load(),
		DropViolationTotal: s.dropViolation.Load(),
		DropSaveTotal:      s.dropSave.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteIndex) RecordSessionStart(r SessionRow) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqSessionStart, session: r}, &s.dropSession)
}

func (s *SQLiteIndex) RecordSessionEnd(r SessionRow) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqSessionEnd, session: r}, &s.dropSession)
}

func (s *SQLiteIndex) RecordViolation(r ViolationRow) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqViolation, violation: r}, &s.dropViolation)
}

func (s *SQLiteIndex) RecordSave(r SaveRow) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqSave, save: r}, &s.dropSave)
}

// UpsertCatalogs stores the item and scene catalogs and the applied tuning, keyed by name
// with their digests, so a db reader can tell which reference data a run used.
func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil || cats == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	{
		items := make([]catalogs.ItemDef, 0, len(cats.Items.ByID))
		for _, it := range cats.Items.ByID {
			items = append(items, it)
		}
		sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
		if b, _ := json.Marshal(items); len(b) > 0 {
			rows = append(rows, kv{name: "items", digest: cats.Items.Digest, json: b})
		}
	}
	{
		scenes := make([]catalogs.Scene, 0, len(cats.Scenes.Order))
		for _, id := range cats.Scenes.Order {
			scenes = append(scenes, cats.Scenes.ByID[id])
		}
		if b, _ := json.Marshal(scenes); len(b) > 0 {
			rows = append(rows, kv{name: "scenes", digest: cats.Scenes.Digest, json: b})
		}
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(session_id,peer_id,name,endpoint,joined_at) VALUES(?,?,?,?,?)`)
	endSession, _ := s.db.Prepare(`UPDATE sessions SET left_at=?, violations=?, reason=? WHERE session_id=?`)
	insertViolation, _ := s.db.Prepare(`INSERT INTO violations(session_id,peer_id,type,detail,count,at) VALUES(?,?,?,?,?,?)`)
	insertSave, _ := s.db.Prepare(`INSERT INTO saves(world_id,scene,reason,path,archive,game_day,game_time,players,ok,error,at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertSession, endSession, insertViolation, insertSave} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqSessionStart:
			se := r.session
			exec(insertSession, se.SessionID, int64(se.PeerID), se.Name, se.EndPoint, ts(se.JoinedAt))
		case reqSessionEnd:
			se := r.session
			exec(endSession, ts(se.LeftAt), se.Violations, se.Reason, se.SessionID)
		case reqViolation:
			v := r.violation
			exec(insertViolation, v.SessionID, int64(v.PeerID), v.Type, v.Detail, v.Count, ts(v.At))
		case reqSave:
			sv := r.save
			exec(insertSave, sv.WorldID, sv.Scene, sv.Reason, sv.Path, sv.Archive, sv.GameDay, sv.GameTime, sv.Players, sv.OK, sv.Error, ts(sv.At))
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0) {
			commit()
		}
	}
	commit()
}
