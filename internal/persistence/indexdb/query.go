package indexdb

import (
	"context"
	"database/sql"
	"time"
)

// OpenReadOnly opens an index file for queries without starting a writer.
func OpenReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func parseTS(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return t
}

func Sessions(ctx context.Context, db *sql.DB, limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `SELECT session_id,peer_id,name,endpoint,joined_at,left_at,violations,reason FROM sessions ORDER BY joined_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRow
	for rows.Next() {
		var (
			r            SessionRow
			peer         int64
			joined, left sql.NullString
			reason       sql.NullString
		)
		if err := rows.Scan(&r.SessionID, &peer, &r.Name, &r.EndPoint, &joined, &left, &r.Violations, &reason); err != nil {
			return nil, err
		}
		r.PeerID = uint32(peer)
		r.JoinedAt = parseTS(joined)
		r.LeftAt = parseTS(left)
		r.Reason = reason.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Violations lists recent violations, optionally only those of one session.
func Violations(ctx context.Context, db *sql.DB, sessionID string, limit int) ([]ViolationRow, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT session_id,peer_id,type,detail,count,at FROM violations`
	args := []any{}
	if sessionID != "" {
		q += ` WHERE session_id=?`
		args = append(args, sessionID)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ViolationRow
	for rows.Next() {
		var (
			r    ViolationRow
			peer int64
			at   sql.NullString
		)
		if err := rows.Scan(&r.SessionID, &peer, &r.Type, &r.Detail, &r.Count, &at); err != nil {
			return nil, err
		}
		r.PeerID = uint32(peer)
		r.At = parseTS(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func Saves(ctx context.Context, db *sql.DB, limit int) ([]SaveRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `SELECT world_id,scene,reason,path,archive,game_day,game_time,players,ok,error,at FROM saves ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SaveRow
	for rows.Next() {
		var (
			r            SaveRow
			archive, msg sql.NullString
			at           sql.NullString
		)
		if err := rows.Scan(&r.WorldID, &r.Scene, &r.Reason, &r.Path, &archive, &r.GameDay, &r.GameTime, &r.Players, &r.OK, &msg, &at); err != nil {
			return nil, err
		}
		r.Archive = archive.String
		r.Error = msg.String
		r.At = parseTS(at)
		out = append(out, r)
	}
	return out, rows.Err()
}
