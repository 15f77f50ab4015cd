package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"scriptdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// GetSession loads the persisted session row.
func (r Repo) GetSession(ctx context.Context) (domain.Session, error) {
	var (
		s           domain.Session
		role        string
		established string
	)
	err := r.DB.QueryRowContext(ctx, `SELECT token,actor_id,actor_name,actor_email,actor_role,established_at FROM session WHERE id=1`).
		Scan(&s.Token, &s.Actor.ID, &s.Actor.Name, &s.Actor.Email, &role, &established)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Actor.Role, err = domain.ParseRole(role)
	if err != nil {
		return s, fmt.Errorf("stored session: %w", err)
	}
	if ts, perr := time.Parse(time.RFC3339Nano, established); perr == nil {
		s.EstablishedAt = ts
	}
	return s, nil
}

// SaveSession replaces the session row.
func (r Repo) SaveSession(ctx context.Context, s domain.Session) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO session(id,token,actor_id,actor_name,actor_email,actor_role,established_at) VALUES (1,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET token=excluded.token, actor_id=excluded.actor_id, actor_name=excluded.actor_name,
actor_email=excluded.actor_email, actor_role=excluded.actor_role, established_at=excluded.established_at`,
		s.Token, s.Actor.ID, s.Actor.Name, s.Actor.Email, string(s.Actor.Role), s.EstablishedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// ClearSession removes the session row. Clearing an absent session is not an error.
func (r Repo) ClearSession(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM session WHERE id=1`)
	return err
}

func (r Repo) InsertJournalEntry(ctx context.Context, e domain.JournalEntry) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO journal(id,ts,type,script_id,actor_id,request_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.TS, e.Type, nullableID(e.ScriptID), nullableID(e.ActorID), nullable(e.RequestID), e.Payload)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type JournalFilters struct {
	Type     string
	ScriptID int64
	Limit    int
	// Before restricts results to seq values below it when positive.
	Before int64
}

// LatestJournal returns entries newest first.
func (r Repo) LatestJournal(ctx context.Context, f JournalFilters) ([]domain.JournalEntry, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.ScriptID > 0 {
		clauses = append(clauses, "script_id=?")
		args = append(args, f.ScriptID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "seq<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT seq,id,ts,type,script_id,actor_id,request_id,payload_json FROM journal %s ORDER BY seq DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryJournal(ctx, query, args...)
}

// JournalAfter returns entries with seq greater than the cursor in ascending order.
func (r Repo) JournalAfter(ctx context.Context, limit int, cursor int64) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryJournal(ctx, `SELECT seq,id,ts,type,script_id,actor_id,request_id,payload_json FROM journal WHERE seq>? ORDER BY seq ASC LIMIT ?`, cursor, limit)
}

// LatestJournalSeq returns the highest seq, or 0 for an empty journal.
func (r Repo) LatestJournalSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM journal`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (r Repo) queryJournal(ctx context.Context, query string, args ...any) ([]domain.JournalEntry, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JournalEntry
	for rows.Next() {
		var (
			e         domain.JournalEntry
			scriptID  sql.NullInt64
			actorID   sql.NullInt64
			requestID sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.TS, &e.Type, &scriptID, &actorID, &requestID, &e.Payload); err != nil {
			return nil, err
		}
		e.ScriptID = scriptID.Int64
		e.ActorID = actorID.Int64
		e.RequestID = requestID.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// WebhookCursor returns the last delivered seq for url.
func (r Repo) WebhookCursor(ctx context.Context, url string) (int64, error) {
	var seq int64
	err := r.DB.QueryRowContext(ctx, `SELECT last_seq FROM webhook_cursors WHERE url=?`, url).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return seq, err
}

func (r Repo) SetWebhookCursor(ctx context.Context, url string, seq int64) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO webhook_cursors(url,last_seq,updated_at) VALUES (?,?,?)
ON CONFLICT(url) DO UPDATE SET last_seq=excluded.last_seq, updated_at=excluded.updated_at`,
		url, seq, time.Now().UTC().Format(time.RFC3339))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableID(v int64) any {
	if v <= 0 {
		return nil
	}
	return v
}
