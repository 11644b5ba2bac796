package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

//go:embed schema_postgres.sql
var postgresSchema string

const postgresOperationTimeout = 5 * time.Second

// Postgres is the networked store backend.
type Postgres struct {
	db        *sql.DB
	namespace string
	retention time.Duration
	now       func() time.Time
}

// OpenPostgres connects to the database identified by dsn and ensures the
// schema exists. Idempotent.
func OpenPostgres(dsn string, opts Options) (*Postgres, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Postgres{
		db:        db,
		namespace: opts.Namespace,
		retention: opts.Retention,
		now:       opts.Now,
	}, nil
}

// Close closes the database connection.
func (s *Postgres) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Postgres) PutGreeted(ctx context.Context, user, greeter string) error {
	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put greeted %q: %w", user, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM greeted WHERE namespace = $1 AND expires_at <= $2`,
		s.namespace, now); err != nil {
		return fmt.Errorf("purge greeted: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO greeted (namespace, username, greeter, normal_edit_seen, created_at, expires_at)
		VALUES ($1, $2, $3, FALSE, $4, $5)
		ON CONFLICT (namespace, username) DO UPDATE SET
			greeter = EXCLUDED.greeter,
			normal_edit_seen = FALSE,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`,
		s.namespace, user, greeter, now, now.Add(s.retention)); err != nil {
		return fmt.Errorf("put greeted %q: %w", user, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO greeted_index (namespace, username, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (namespace, username) DO NOTHING`,
		s.namespace, user, now); err != nil {
		return fmt.Errorf("index greeted %q: %w", user, err)
	}

	return tx.Commit()
}

func (s *Postgres) GetGreeted(ctx context.Context, user string) (*GreetedRecord, error) {
	var (
		greeter   string
		seen      bool
		createdAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT greeter, normal_edit_seen, created_at
		FROM greeted
		WHERE namespace = $1 AND username = $2 AND expires_at > $3`,
		s.namespace, user, s.now().UTC()).Scan(&greeter, &seen, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get greeted %q: %w", user, err)
	}
	return &GreetedRecord{
		User:           user,
		Greeter:        greeter,
		NormalEditSeen: seen,
		CreatedAt:      createdAt.UTC(),
	}, nil
}

func (s *Postgres) SetGreetedEditSeen(ctx context.Context, user string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE greeted SET normal_edit_seen = TRUE
		WHERE namespace = $1 AND username = $2 AND expires_at > $3`,
		s.namespace, user, s.now().UTC())
	if err != nil {
		return fmt.Errorf("set edit seen %q: %w", user, err)
	}
	return nil
}

func (s *Postgres) RemoveGreeted(ctx context.Context, user string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM greeted WHERE namespace = $1 AND username = $2`,
		s.namespace, user)
	if err != nil {
		return fmt.Errorf("remove greeted %q: %w", user, err)
	}
	return nil
}

func (s *Postgres) PutControlGroup(ctx context.Context, user string) error {
	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put control %q: %w", user, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM control_group WHERE namespace = $1 AND expires_at <= $2`,
		s.namespace, now); err != nil {
		return fmt.Errorf("purge control: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO control_group (namespace, username, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, username) DO NOTHING`,
		s.namespace, user, now, now.Add(s.retention)); err != nil {
		return fmt.Errorf("put control %q: %w", user, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO control_index (namespace, username, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (namespace, username) DO NOTHING`,
		s.namespace, user, now); err != nil {
		return fmt.Errorf("index control %q: %w", user, err)
	}

	return tx.Commit()
}

func (s *Postgres) GetControlGroup(ctx context.Context, user string) (*ControlRecord, error) {
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM control_group
		WHERE namespace = $1 AND username = $2 AND expires_at > $3`,
		s.namespace, user, s.now().UTC()).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get control %q: %w", user, err)
	}
	return &ControlRecord{User: user, CreatedAt: createdAt.UTC()}, nil
}

func (s *Postgres) ListGreeted(ctx context.Context) ([]Member, error) {
	return s.listIndex(ctx, "greeted_index")
}

func (s *Postgres) ListControlGroup(ctx context.Context) ([]Member, error) {
	return s.listIndex(ctx, "control_index")
}

func (s *Postgres) listIndex(ctx context.Context, table string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT username, added_at FROM %s
		WHERE namespace = $1
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
			addedAt time.Time
		)
		if err := rows.Scan(&user, &addedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		members = append(members, Member{User: user, AddedAt: addedAt.UTC()})
	}
	return members, rows.Err()
}

func (s *Postgres) ClearIndexes(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear indexes: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"greeted_index", "control_index"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE namespace = $1", table), s.namespace); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}
