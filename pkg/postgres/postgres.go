// Package postgres keeps reflux store documents as rows of a PostgreSQL
// table and watches them with LISTEN/NOTIFY.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zoobzio/reflux"
)

const (
	// DefaultTable holds one row per document.
	DefaultTable = "reflux_documents"
	// DefaultChannel receives the key of every inserted or updated row.
	DefaultChannel = "reflux_document_changed"
)

var channelPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type options struct {
	table   string
	channel string
}

// Option configures a Document, Watcher or EnsureSchema.
type Option func(*options)

// WithTable sets the table holding the documents.
func WithTable(table string) Option {
	return func(o *options) {
		o.table = table
	}
}

// WithChannel sets the notification channel.
func WithChannel(channel string) Option {
	return func(o *options) {
		o.channel = channel
	}
}

func apply(opts []Option) options {
	o := options{table: DefaultTable, channel: DefaultChannel}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// EnsureSchema creates the document table and the trigger notifying the
// channel with the key of every inserted or updated row. It is idempotent.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, opts ...Option) error {
	o := apply(opts)
	if !channelPattern.MatchString(o.channel) {
		return fmt.Errorf("invalid channel name %q", o.channel)
	}
	table := pgx.Identifier{o.table}.Sanitize()
	fn := pgx.Identifier{o.table + "_notify"}.Sanitize()
	trigger := pgx.Identifier{o.table + "_changed"}.Sanitize()

	_, err := pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL
		);

		CREATE OR REPLACE FUNCTION %[2]s() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify(TG_ARGV[0], NEW.key);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS %[3]s ON %[1]s;
		CREATE TRIGGER %[3]s
			AFTER INSERT OR UPDATE ON %[1]s
			FOR EACH ROW EXECUTE FUNCTION %[2]s('%[4]s');
	`, table, fn, trigger, o.channel))
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Document is a reflux.Document held in one row of the document table.
type Document struct {
	pool  *pgxpool.Pool
	key   string
	table string
}

// NewDocument creates a Document for the row under key.
func NewDocument(pool *pgxpool.Pool, key string, opts ...Option) *Document {
	o := apply(opts)
	return &Document{pool: pool, key: key, table: o.table}
}

// Read implements reflux.Document.
func (d *Document) Read(ctx context.Context) ([]byte, error) {
	return fetchValue(ctx, d.pool, d.table, d.key)
}

// Write implements reflux.Document.
func (d *Document) Write(ctx context.Context, data []byte) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, pgx.Identifier{d.table}.Sanitize())
	_, err := d.pool.Exec(ctx, query, d.key, data)
	return err
}

// NewStore opens a reflux store kept in the row under key.
func NewStore(ctx context.Context, pool *pgxpool.Pool, key string, opts ...Option) (*reflux.DocumentStore, error) {
	return reflux.NewDocumentStore(ctx, NewDocument(pool, key, opts...), reflux.JSONCodec{})
}

// Watcher watches one row of the document table using LISTEN/NOTIFY. The
// table must carry the trigger EnsureSchema installs.
type Watcher struct {
	pool    *pgxpool.Pool
	key     string
	table   string
	channel string
}

// New creates a new Watcher for the row under key.
func New(pool *pgxpool.Pool, key string, opts ...Option) *Watcher {
	o := apply(opts)
	return &Watcher{
		pool:    pool,
		key:     key,
		table:   o.table,
		channel: o.channel,
	}
}

// Watch implements reflux.Watcher. The current document is emitted first,
// as an empty document when the row does not exist yet.
func (w *Watcher) Watch(ctx context.Context) (<-chan []byte, error) {
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{w.channel}.Sanitize())
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", w.channel, err)
	}

	// Read after LISTEN so no change can fall between the two.
	initial, err := fetchValue(ctx, w.pool, w.table, w.key)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to get initial value: %w", err)
	}
	if initial == nil {
		initial = []byte{}
	}

	out := make(chan []byte)

	go func() {
		defer close(out)
		defer conn.Release()

		select {
		case out <- initial:
		case <-ctx.Done():
			return
		}

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if notification.Payload != w.key {
				continue
			}

			value, err := fetchValue(ctx, w.pool, w.table, w.key)
			if err != nil || value == nil {
				continue
			}

			select {
			case out <- value:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// fetchValue reads the row under key; a missing row is nil, nil.
func fetchValue(ctx context.Context, pool *pgxpool.Pool, table, key string) ([]byte, error) {
	var value []byte
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", pgx.Identifier{table}.Sanitize())
	err := pool.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

var (
	_ reflux.Document = (*Document)(nil)
	_ reflux.Watcher  = (*Watcher)(nil)
)
