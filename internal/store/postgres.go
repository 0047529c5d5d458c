package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// uniqueViolation is the Postgres SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// PostgresStore is a pgx pool backed account store.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgres connects to url and verifies the connection.
func NewPostgres(ctx context.Context, url string, log *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool, log: log}, nil
}

// Migrate executes all embedded .sql files in name order.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := migrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return err
		}
		if _, err := p.pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		p.log.Info("migration applied", "file", e.Name())
	}
	return nil
}

// CreateUser inserts u and returns it with the database-assigned id and
// creation time.
func (p *PostgresStore) CreateUser(ctx context.Context, u User) (User, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id::text, created_at
	`, u.Name, NormalizeEmail(u.Email), u.PasswordHash)

	u.Email = NormalizeEmail(u.Email)
	var createdAt time.Time
	if err := row.Scan(&u.ID, &createdAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	u.CreatedAt = createdAt.UTC()
	return u, nil
}

// FindUserByEmail returns the account registered under email.
func (p *PostgresStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	return p.findOne(ctx, `
		SELECT id::text, name, email, password_hash, created_at
		FROM users
		WHERE email = $1
	`, NormalizeEmail(email))
}

// FindUserByID returns the account with the given id.
func (p *PostgresStore) FindUserByID(ctx context.Context, id string) (User, error) {
	return p.findOne(ctx, `
		SELECT id::text, name, email, password_hash, created_at
		FROM users
		WHERE id::text = $1
	`, id)
}

func (p *PostgresStore) findOne(ctx context.Context, query string, arg any) (User, error) {
	var u User
	err := p.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

// Close releases the pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
