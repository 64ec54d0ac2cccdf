// Package store persists architecture snapshots in SQLite so a restarted
// server can answer from the last known state.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"springls/internal/architecture"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tliron/commonlog"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

var log = commonlog.GetLogger("springls.store")

var ErrClosed = errors.New("store: database is closed")

// Store implements architecture.SnapshotStore on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	log.Debugf("opened snapshot store %s", path)
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if version == schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return tx.Commit()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SaveSnapshot replaces the stored snapshot of its project.
func (s *Store) SaveSnapshot(ctx context.Context, snap *architecture.Snapshot) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE project_uri = ?`, snap.ProjectURI); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (project_uri, updated_at) VALUES (?, ?)`,
			snap.ProjectURI, time.Now().Unix()); err != nil {
			return err
		}
		for _, m := range snap.Modules {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO modules (project_uri, name, base_package) VALUES (?, ?, ?)`,
				snap.ProjectURI, m.Name, m.BasePackage); err != nil {
				return err
			}
			for iface, types := range m.NamedInterfaces {
				for _, typ := range types {
					if _, err := tx.ExecContext(ctx, `
                        INSERT OR IGNORE INTO named_interfaces (project_uri, module, interface, type_name)
                        VALUES (?, ?, ?, ?)
                    `, snap.ProjectURI, m.Name, iface, typ); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

func (s *Store) DeleteSnapshot(ctx context.Context, projectURI string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE project_uri = ?`, projectURI)
		return err
	})
}

// LoadSnapshots returns every stored snapshot, sorted by project.
func (s *Store) LoadSnapshots(ctx context.Context) ([]*architecture.Snapshot, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	modules := map[string]map[string]*architecture.Module{}
	projects := []string{}

	rows, err := s.db.QueryContext(ctx, `
        SELECT s.project_uri, m.name, m.base_package
        FROM snapshots s LEFT JOIN modules m ON m.project_uri = s.project_uri
        ORDER BY s.project_uri, m.name
    `)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var uri string
		var name, base sql.NullString
		if err := rows.Scan(&uri, &name, &base); err != nil {
			rows.Close()
			return nil, err
		}
		if _, ok := modules[uri]; !ok {
			modules[uri] = map[string]*architecture.Module{}
			projects = append(projects, uri)
		}
		if name.Valid {
			modules[uri][name.String] = &architecture.Module{Name: name.String, BasePackage: base.String}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
        SELECT project_uri, module, interface, type_name
        FROM named_interfaces
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var uri, module, iface, typ string
		if err := rows.Scan(&uri, &module, &iface, &typ); err != nil {
			return nil, err
		}
		m, ok := modules[uri][module]
		if !ok {
			continue
		}
		if m.NamedInterfaces == nil {
			m.NamedInterfaces = map[string][]string{}
		}
		m.NamedInterfaces[iface] = append(m.NamedInterfaces[iface], typ)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Strings(projects)
	out := make([]*architecture.Snapshot, 0, len(projects))
	for _, uri := range projects {
		mods := make([]architecture.Module, 0, len(modules[uri]))
		for _, m := range modules[uri] {
			mods = append(mods, *m)
		}
		out = append(out, architecture.NewSnapshot(uri, mods))
	}
	return out, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
