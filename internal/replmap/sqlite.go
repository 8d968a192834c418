package replmap

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists doc snapshots per room so a list survives restarts
// and loads before the first sync round, mirroring the original app's
// load-local-then-connect behavior.
type SQLiteStore struct {
	Dir string
}

const sqliteFileName = "lists.sqlite"

func (s SQLiteStore) Ensure() error {
	return os.MkdirAll(s.Dir, 0o755)
}

func (s SQLiteStore) path() string {
	return filepath.Join(s.Dir, sqliteFileName)
}

func (s SQLiteStore) open(ctx context.Context) (*sql.DB, error) {
	if err := s.Ensure(); err != nil {
		return nil, err
	}
	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", s.path())
	if err != nil {
		return nil, err
	}
	// WAL enables one writer + many readers; busy_timeout avoids
	// "database is locked" flakiness when a CLI command runs next to the TUI.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS registers (
    room       TEXT NOT NULL,
    key        TEXT NOT NULL,
    prop       TEXT NOT NULL,
    value_json TEXT NOT NULL,
    deleted    INTEGER NOT NULL DEFAULT 0,
    stamp_ms   INTEGER NOT NULL,
    replica    TEXT NOT NULL,
    PRIMARY KEY (room, key, prop)
);
CREATE INDEX IF NOT EXISTS idx_registers_room ON registers(room);
`)
	return err
}

// Save writes the doc's full snapshot for room. Replace-all inside one
// transaction keeps the on-disk state consistent without tracking deltas.
func (s SQLiteStore) Save(ctx context.Context, room string, doc *Doc) error {
	if doc == nil {
		return errors.New("nil doc")
	}
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM registers WHERE room = ?`, room); err != nil {
		return err
	}

	snap := doc.EncodeSnapshot()
	for _, op := range snap.Ops {
		prop := op.Prop
		deleted := 0
		if op.Delete {
			// Entry tombstones share the table; the empty prop name is
			// reserved for them.
			prop = ""
			deleted = 1
		}
		raw, err := json.Marshal(op.Value)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO registers(room, key, prop, value_json, deleted, stamp_ms, replica) VALUES(?, ?, ?, ?, ?, ?, ?)`,
			room, op.Key, prop, string(raw), deleted, op.Stamp.Millis, op.Stamp.Replica); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Load merges the saved snapshot for room into doc. Missing rooms load as
// empty without error.
func (s SQLiteStore) Load(ctx context.Context, room string, doc *Doc) error {
	if doc == nil {
		return errors.New("nil doc")
	}
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT key, prop, value_json, deleted, stamp_ms, replica FROM registers WHERE room = ?`, room)
	if err != nil {
		return err
	}
	defer rows.Close()

	var ops []Op
	for rows.Next() {
		var (
			key, prop, valueJSON, replica string
			deleted                       int
			stampMS                       int64
		)
		if err := rows.Scan(&key, &prop, &valueJSON, &deleted, &stampMS, &replica); err != nil {
			return err
		}
		op := Op{Key: key, Stamp: Stamp{Millis: stampMS, Replica: replica}}
		if deleted != 0 {
			op.Delete = true
		} else {
			op.Prop = prop
			if err := json.Unmarshal([]byte(valueJSON), &op.Value); err != nil {
				return err
			}
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(ops) > 0 {
		doc.ApplyUpdate(Update{Ops: ops})
	}
	return nil
}

// Rooms lists every room with saved state.
func (s SQLiteStore) Rooms(ctx context.Context) ([]string, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT DISTINCT room FROM registers ORDER BY room`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var room string
		if err := rows.Scan(&room); err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	return out, rows.Err()
}
