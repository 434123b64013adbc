package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/and161185/recipient-keeper/internal/model"
	"github.com/and161185/recipient-keeper/internal/repository"
)

// Notification channels.
const (
	ChannelChanges = "recipient_changes"
	ChannelEvents  = "recipient_events"
)

// notifyBatch keeps each payload well under the 8000 byte NOTIFY limit.
const notifyBatch = 100

func publishChanges(ctx context.Context, q querier, changes []model.Change) error {
	for start := 0; start < len(changes); start += notifyBatch {
		end := min(start+notifyBatch, len(changes))
		payload, err := json.Marshal(changes[start:end])
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `SELECT pg_notify($1, $2)`, ChannelChanges, string(payload)); err != nil {
			return fmt.Errorf("notify %s: %w", ChannelChanges, err)
		}
	}
	return nil
}

// Publisher announces merge events on ChannelEvents.
type Publisher struct{ db *DB }

var _ repository.EventSink = (*Publisher)(nil)

// NewPublisher constructs an event publisher.
func NewPublisher(db *DB) *Publisher { return &Publisher{db: db} }

// PublishEvents sends all events as one notification.
func (p *Publisher) PublishEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	payload, err := json.Marshal(events)
	if err != nil {
		return err
	}
	if _, err := p.db.Pool.Exec(ctx, `SELECT pg_notify($1, $2)`, ChannelEvents, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", ChannelEvents, err)
	}
	return nil
}

// listenConn is the part of *pgx.Conn a Listener uses.
type listenConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// ChangeFeed opens a dedicated LISTEN connection per subscriber.
type ChangeFeed struct{ DSN string }

var _ repository.ChangeFeed = ChangeFeed{}

// Subscribe connects and starts listening on ChannelChanges.
func (f ChangeFeed) Subscribe(ctx context.Context) (repository.ChangeStream, error) {
	conn, err := pgx.Connect(ctx, f.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	l, err := listen(ctx, conn, ChannelChanges)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return l, nil
}

// Listener receives change batches published by committed merge transactions.
type Listener struct{ conn listenConn }

func listen(ctx context.Context, conn listenConn, channel string) (*Listener, error) {
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	return &Listener{conn: conn}, nil
}

// Next blocks until the next notification and decodes it.
func (l *Listener) Next(ctx context.Context) ([]model.Change, error) {
	n, err := l.conn.WaitForNotification(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for notification: %w", err)
	}
	return decodeChanges(n.Payload)
}

// Close releases the listening connection.
func (l *Listener) Close(ctx context.Context) error { return l.conn.Close(ctx) }

func decodeChanges(payload string) ([]model.Change, error) {
	var changes []model.Change
	if err := json.Unmarshal([]byte(payload), &changes); err != nil {
		return nil, fmt.Errorf("decode change payload: %w", err)
	}
	return changes, nil
}
