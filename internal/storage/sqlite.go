package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"workmgr/internal/work"
	logx "workmgr/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	// FULL: a committed Put survives power loss, not just a process crash.
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Put(ctx context.Context, rec work.Record) error {
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO work_records(id, seq, state, unique_name, next_eligible_at, updated_at, body)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   seq=excluded.seq, state=excluded.state, unique_name=excluded.unique_name,
		   next_eligible_at=excluded.next_eligible_at, updated_at=excluded.updated_at, body=excluded.body`,
		rec.ID, rec.Seq, rec.State.String(), nullStr(rec.UniqueName),
		rec.NextEligibleAt.UnixMilli(), rec.UpdatedAt.UnixMilli(), string(body),
	)
	return err
}

func (s *sqliteStore) Get(ctx context.Context, id string) (work.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT body FROM work_records WHERE id = ?`, id)
	return scanOne(row)
}

func (s *sqliteStore) FindByUniqueName(ctx context.Context, name string) (work.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT body FROM work_records WHERE unique_name = ? ORDER BY seq DESC LIMIT 1`, name)
	return scanOne(row)
}

func (s *sqliteStore) ListEligible(ctx context.Context, now time.Time) ([]work.Record, error) {
	return s.query(ctx,
		`SELECT body FROM work_records WHERE state = ? AND next_eligible_at <= ? ORDER BY seq, id`,
		work.Enqueued.String(), now.UnixMilli())
}

func (s *sqliteStore) List(ctx context.Context) ([]work.Record, error) {
	return s.query(ctx, `SELECT body FROM work_records ORDER BY seq, id`)
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM work_records WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return work.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) PruneFinished(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM work_records WHERE state IN (?,?,?) AND updated_at < ?`,
		work.Succeeded.String(), work.Failed.String(), work.Cancelled.String(), before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *sqliteStore) query(ctx context.Context, q string, args ...any) ([]work.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []work.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rec work.Record
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("decode work record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanOne(row *sql.Row) (work.Record, error) {
	var body string
	err := row.Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return work.Record{}, work.ErrNotFound
	}
	if err != nil {
		return work.Record{}, err
	}
	var rec work.Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return work.Record{}, fmt.Errorf("decode work record: %w", err)
	}
	return rec, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
