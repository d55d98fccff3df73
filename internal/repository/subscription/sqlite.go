package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	wp "github.com/SherClockHolmes/webpush-go"
	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
)

// Repository defines the subscription operations the push transport depends on.
type Repository interface {
	Subscribe(ctx context.Context, sub *wp.Subscription) error
	Unsubscribe(ctx context.Context, endpoint string) error
	List(ctx context.Context) ([]*wp.Subscription, error)
}

var (
	// errEndpointRequired is returned for a subscription without endpoint.
	errEndpointRequired = errors.New("subscription endpoint is required")
	// errKeysRequired is returned for a subscription without encryption keys.
	errKeysRequired = errors.New("subscription keys are required")
)

const schema = `create table if not exists subscriptions (
	endpoint text primary key on conflict replace,
	p256dh text not null,
	auth text not null
);`

// SQLiteRepository persists subscriptions in a SQLite database file.
type SQLiteRepository struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open subscription database: %w", err)
	}

	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	if _, err = db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Subscribe stores sub, replacing any subscription with the same endpoint.
func (r *SQLiteRepository) Subscribe(ctx context.Context, sub *wp.Subscription) error {
	if sub == nil || sub.Endpoint == "" {
		return errEndpointRequired
	}

	if sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return errKeysRequired
	}

	_, err := r.db.ExecContext(ctx,
		"insert into subscriptions(endpoint, p256dh, auth) values(?, ?, ?);",
		sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}

	return nil
}

// Unsubscribe removes the subscription for endpoint. Missing endpoints are ignored.
func (r *SQLiteRepository) Unsubscribe(ctx context.Context, endpoint string) error {
	if _, err := r.db.ExecContext(ctx, "delete from subscriptions where endpoint = ?;", endpoint); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}

	return nil
}

// List returns every stored subscription ordered by endpoint.
func (r *SQLiteRepository) List(ctx context.Context) ([]*wp.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, "select endpoint, p256dh, auth from subscriptions order by endpoint;")
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*wp.Subscription

	for rows.Next() {
		sub := new(wp.Subscription)
		if err = rows.Scan(&sub.Endpoint, &sub.Keys.P256dh, &sub.Keys.Auth); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}

		subs = append(subs, sub)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}

	return subs, nil
}
