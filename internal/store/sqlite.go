package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// Schema version tracking:
// 0 - pre-migration
// 1 - initial greeted/control tables and index sets
const sqliteSchemaVersion = 1

// SQLite is the local store backend.
// Uses WAL mode for concurrent read access from both loops.
type SQLite struct {
	db        *sql.DB
	namespace string
	retention time.Duration
	now       func() time.Time
}

// OpenSQLite creates or opens a SQLite database at the given path.
// Applies required pragmas and the schema automatically; idempotent.
func OpenSQLite(path string, opts Options) (*SQLite, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applySQLitePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{
		db:        db,
		namespace: opts.Namespace,
		retention: opts.Retention,
		now:       opts.Now,
	}, nil
}

func applySQLitePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySQLiteSchema(db *sql.DB) error {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < sqliteSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) PutGreeted(ctx context.Context, user, greeter string) error {
	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put greeted %q: %w", user, err)
	}
	defer tx.Rollback()

	// Opportunistic purge keeps expired rows from piling up; correctness does
	// not depend on it since reads filter on expires_at.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM greeted WHERE namespace = ? AND expires_at <= ?`,
		s.namespace, now.Unix()); err != nil {
		return fmt.Errorf("purge greeted: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO greeted (namespace, username, greeter, normal_edit_seen, created_at, expires_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT (namespace, username) DO UPDATE SET
			greeter = excluded.greeter,
			normal_edit_seen = 0,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		s.namespace, user, greeter, now.Unix(), now.Add(s.retention).Unix()); err != nil {
		return fmt.Errorf("put greeted %q: %w", user, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO greeted_index (namespace, username, added_at)
		VALUES (?, ?, ?)
		ON CONFLICT (namespace, username) DO NOTHING`,
		s.namespace, user, now.Unix()); err != nil {
		return fmt.Errorf("index greeted %q: %w", user, err)
	}

	return tx.Commit()
}

func (s *SQLite) GetGreeted(ctx context.Context, user string) (*GreetedRecord, error) {
	var (
		greeter   string
		seen      int
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT greeter, normal_edit_seen, created_at
		FROM greeted
		WHERE namespace = ? AND username = ? AND expires_at > ?`,
		s.namespace, user, s.now().UTC().Unix()).Scan(&greeter, &seen, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get greeted %q: %w", user, err)
	}
	return &GreetedRecord{
		User:           user,
		Greeter:        greeter,
		NormalEditSeen: seen != 0,
		CreatedAt:      time.Unix(createdAt, 0).UTC(),
	}, nil
}

func (s *SQLite) SetGreetedEditSeen(ctx context.Context, user string) error {
	// Silent no-op when the record expired or was deleted concurrently.
	_, err := s.db.ExecContext(ctx, `
		UPDATE greeted SET normal_edit_seen = 1
		WHERE namespace = ? AND username = ? AND expires_at > ?`,
		s.namespace, user, s.now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("set edit seen %q: %w", user, err)
	}
	return nil
}

func (s *SQLite) RemoveGreeted(ctx context.Context, user string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM greeted WHERE namespace = ? AND username = ?`,
		s.namespace, user)
	if err != nil {
		return fmt.Errorf("remove greeted %q: %w", user, err)
	}
	return nil
}

func (s *SQLite) PutControlGroup(ctx context.Context, user string) error {
	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put control %q: %w", user, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM control_group WHERE namespace = ? AND expires_at <= ?`,
		s.namespace, now.Unix()); err != nil {
		return fmt.Errorf("purge control: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO control_group (namespace, username, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, username) DO NOTHING`,
		s.namespace, user, now.Unix(), now.Add(s.retention).Unix()); err != nil {
		return fmt.Errorf("put control %q: %w", user, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO control_index (namespace, username, added_at)
		VALUES (?, ?, ?)
		ON CONFLICT (namespace, username) DO NOTHING`,
		s.namespace, user, now.Unix()); err != nil {
		return fmt.Errorf("index control %q: %w", user, err)
	}

	return tx.Commit()
}

func (s *SQLite) GetControlGroup(ctx context.Context, user string) (*ControlRecord, error) {
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM control_group
		WHERE namespace = ? AND username = ? AND expires_at > ?`,
		s.namespace, user, s.now().UTC().Unix()).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get control %q: %w", user, err)
	}
	return &ControlRecord{User: user, CreatedAt: time.Unix(createdAt, 0).UTC()}, nil
}

func (s *SQLite) ListGreeted(ctx context.Context) ([]Member, error) {
	return s.listIndex(ctx, "greeted_index")
}

func (s *SQLite) ListControlGroup(ctx context.Context) ([]Member, error) {
	return s.listIndex(ctx, "control_index")
}

func (s *SQLite) listIndex(ctx context.Context, table string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT username, added_at FROM %s
		WHERE namespace = ?
		ORDER BY added_at ASC, username ASC`, table),
		s.namespace)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var (
			user    string
			addedAt int64
		)
		if err := rows.Scan(&user, &addedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		members = append(members, Member{User: user, AddedAt: time.Unix(addedAt, 0).UTC()})
	}
	return members, rows.Err()
}

func (s *SQLite) ClearIndexes(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear indexes: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"greeted_index", "control_index"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE namespace = ?", table), s.namespace); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}
