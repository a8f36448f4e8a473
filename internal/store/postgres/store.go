package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	storepkg "storefront/internal/store"
)

const schema = `create table if not exists client_credentials (
	name       text primary key,
	value      text not null,
	updated_at timestamptz not null default now()
)`

// Store keeps the credential in a single row of client_credentials, keyed by
// store.TokenKey. Several client processes can share one database.
type Store struct {
	db     *sql.DB
	sealer storepkg.Sealer
}

func NewStore(databaseURL string, sealer storepkg.Sealer) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate client_credentials: %w", err)
	}
	return &Store{db: db, sealer: sealer}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`select value from client_credentials where name = $1`,
		storepkg.TokenKey,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storepkg.ErrNotFound
		}
		return "", err
	}
	if s.sealer == nil {
		return value, nil
	}
	token, err := s.sealer.Open(value)
	if err != nil {
		return "", fmt.Errorf("open persisted credential: %w", err)
	}
	return token, nil
}

func (s *Store) Save(ctx context.Context, token string) error {
	value := token
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(token)
		if err != nil {
			return fmt.Errorf("seal credential: %w", err)
		}
		value = sealed
	}
	_, err := s.db.ExecContext(ctx,
		`insert into client_credentials(name, value, updated_at)
		 values ($1, $2, now())
		 on conflict (name) do update
		 set value = excluded.value,
		     updated_at = now()`,
		storepkg.TokenKey, value,
	)
	return err
}

func (s *Store) Delete(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `delete from client_credentials where name = $1`, storepkg.TokenKey)
	return err
}
