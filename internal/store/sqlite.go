package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver

	"kanzelcast/internal/upload"
)

const sqliteSchemaVersion = 1

// SQLiteStore keeps records as JSON rows. Chosen over column-per-field so
// the schema survives record shape changes without migrations.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database at dbPath with WAL mode and busy timeout
// applied to every pooled connection via the DSN.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= sqliteSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS upload_sessions (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS event_snapshots (
		event_id TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Put(ctx context.Context, rec *upload.Session) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO upload_sessions (id, data, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, rec.ID, string(buf), time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*upload.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM upload_sessions WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec upload.Session
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update runs fn inside one transaction. The single-connection pool
// serializes writers, so the read cannot go stale before the write lands.
func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(*upload.Session) error) (*upload.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var data string
	err = tx.QueryRowContext(ctx, "SELECT data FROM upload_sessions WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, upload.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec upload.Session
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	if err := fn(&rec); err != nil {
		return nil, err
	}

	buf, err := json.Marshal(&rec)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE upload_sessions SET data = ?, updated_at = ? WHERE id = ?",
		string(buf), time.Now().UTC().Format(time.RFC3339), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM upload_sessions WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) List(ctx context.Context) ([]*upload.Session, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM upload_sessions")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var list []*upload.Session
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec upload.Session
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue
		}
		list = append(list, &rec)
	}
	return list, rows.Err()
}

func (s *SQLiteStore) PutSnapshot(ctx context.Context, eventID string, blob []byte) error {
	query := `
	INSERT INTO event_snapshots (event_id, data, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(event_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, eventID, blob, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, eventID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM event_snapshots WHERE event_id = ?", eventID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM event_snapshots WHERE event_id = ?", eventID)
	return err
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT event_id, data FROM event_snapshots")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]byte)
	for rows.Next() {
		var eventID string
		var data []byte
		if err := rows.Scan(&eventID, &data); err != nil {
			return nil, err
		}
		out[eventID] = data
	}
	return out, rows.Err()
}

var _ Store = (*SQLiteStore)(nil)
var _ upload.Store = (*SQLiteStore)(nil)
