//go:build sqlite
// +build sqlite

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

	"heraldbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteBackend stores the document as a single row. The JSON body stays
// the unit of persistence so both drivers survive the same schema changes.
type sqliteBackend struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	be := &sqliteBackend{db: db, log: log}
	if err := be.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return newStore(be)
}

func (b *sqliteBackend) migrate(ctx context.Context) error {
	schema, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, string(schema))
	return err
}

func (b *sqliteBackend) Load() (document, error) {
	var body string
	err := b.db.QueryRow(`SELECT body FROM state WHERE id = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return newDocument(), nil
	}
	if err != nil {
		return document{}, err
	}
	var doc document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		b.log.Warn("state row corrupt; starting from empty document", logx.Err(err))
		return newDocument(), nil
	}
	return doc, nil
}

func (b *sqliteBackend) Save(doc document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = b.db.Exec(
		`INSERT INTO state(id, body, updated_at) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		string(body), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (b *sqliteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
