package store

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLStore keeps artifacts in a model_artifacts table on SQLite or PostgreSQL.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore opens the configured database and applies the schema.
func NewSQLStore(cfg domain.ModelConfig) (*SQLStore, error) {
	dsn, err := dsnFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Store, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Store, err)
	}

	switch {
	case cfg.Store == "sqlite":
		// One connection keeps version allocation transactions from failing
		// with SQLITE_BUSY on lock upgrade.
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &SQLStore{db: db, driver: cfg.Store}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to reach %s database: %w", cfg.Store, err)
	}
	if _, err := db.ExecContext(ctx, schemaFor(s.driver)); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return s, nil
}

// Save inserts the artifact as the next version of name.
func (s *SQLStore) Save(ctx context.Context, name string, artifact []byte) (int64, error) {
	if err := checkName(name); err != nil {
		return 0, err
	}
	if err := checkArtifact(artifact); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.driver == "postgres" {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name); err != nil {
			return 0, fmt.Errorf("failed to lock artifact name: %w", err)
		}
	}

	var version int64
	query := `SELECT COALESCE(MAX(version), 0) FROM model_artifacts WHERE name = ?`
	if err := tx.QueryRowContext(ctx, s.rebind(query), name).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read latest version: %w", err)
	}
	version++

	query = `
		INSERT INTO model_artifacts (name, version, artifact, size, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, s.rebind(query),
		name, version, artifact, len(artifact), time.Now().UTC(),
	); err != nil {
		return 0, fmt.Errorf("failed to insert artifact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit artifact: %w", err)
	}
	return version, nil
}

// Load returns the highest version stored under name.
func (s *SQLStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	query := `
		SELECT artifact FROM model_artifacts
		WHERE name = ?
		ORDER BY version DESC
		LIMIT 1
	`

	var artifact []byte
	err := s.db.QueryRowContext(ctx, s.rebind(query), name).Scan(&artifact)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

// List returns the latest version of every artifact, sorted by name.
func (s *SQLStore) List(ctx context.Context) ([]domain.ArtifactInfo, error) {
	query := `
		SELECT a.name, a.version, a.size, a.created_at
		FROM model_artifacts a
		WHERE a.version = (
			SELECT MAX(b.version) FROM model_artifacts b WHERE b.name = a.name
		)
		ORDER BY a.name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ArtifactInfo
	for rows.Next() {
		var info domain.ArtifactInfo
		if err := rows.Scan(&info.Name, &info.Version, &info.Size, &info.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	var n int64
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.FormatInt(n, 10))
	}
	return b.String()
}

// dsnFor builds the driver connection string. SQLite runs in WAL mode with a
// busy timeout; its parent directory is created when missing.
func dsnFor(cfg domain.ModelConfig) (string, error) {
	switch cfg.Store {
	case "sqlite":
		path := cmp.Or(cfg.Path, "./kestrel.db")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("failed to create database directory: %w", err)
		}
		return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", nil

	case "postgres":
		port := cfg.PostgresPort
		if port == 0 {
			port = 5432
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword),
			Host:     net.JoinHostPort(cmp.Or(cfg.PostgresHost, "localhost"), strconv.Itoa(port)),
			Path:     "/" + cmp.Or(cfg.PostgresDB, "kestrel"),
			RawQuery: url.Values{"sslmode": {cmp.Or(cfg.PostgresSSLMode, "disable")}}.Encode(),
		}
		return u.String(), nil

	default:
		return "", fmt.Errorf("unsupported driver: %s", cfg.Store)
	}
}
