package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/pointsledger/internal/store/dberrors"
	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	errorOperationStore     = "store"
	errorSubjectEvent       = "event"
	errorSubjectSchema      = "schema"
	errorSubjectTransaction = "transaction"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeCreate         = "create"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"

	sqlCreateSchema = `
		create table if not exists point_events(
			seq bigserial primary key,
			event_id uuid not null unique,
			payer text not null,
			points bigint not null,
			occurred_at timestamptz not null,
			metadata jsonb not null default '{}'::jsonb,
			created_at timestamptz not null default now()
		);
		create index if not exists idx_point_events_occurred on point_events(occurred_at, seq);
		create index if not exists idx_point_events_payer on point_events(payer);
	`

	sqlInsertEvent = `
		insert into point_events(event_id, payer, points, occurred_at, metadata, created_at)
		values($1, $2, $3, $4, $5::jsonb, $6)
	`

	sqlListEvents = `
		select event_id::text, payer, points, occurred_at, metadata
		from point_events
		order by occurred_at asc, seq asc
	`
)

// Store implements ledger.EventStore using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the point_events table when missing.
func (store *Store) EnsureSchema(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, sqlCreateSchema); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeCreate, err)
	}
	return nil
}

// InsertEvents stores events in one transaction.
func (store *Store) InsertEvents(ctx context.Context, events []ledger.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	batch, err := buildInsertBatch(events, time.Now().UTC())
	if err != nil {
		_ = tx.Rollback(ctx)
		return wrapStoreError(errorSubjectEvent, errorCodeInvalid, err)
	}
	results := tx.SendBatch(ctx, batch)
	for range events {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			_ = tx.Rollback(ctx)
			return wrapStoreError(errorSubjectEvent, dberrors.Classify(err, errorCodeInsert), err)
		}
	}
	if err := results.Close(); err != nil {
		_ = tx.Rollback(ctx)
		return wrapStoreError(errorSubjectEvent, dberrors.Classify(err, errorCodeInsert), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, dberrors.Classify(err, errorCodeCommit), err)
	}
	return nil
}

// ListEvents returns every stored event ordered by occurrence time, then by
// insertion order.
func (store *Store) ListEvents(ctx context.Context) ([]ledger.Event, error) {
	rows, err := store.pool.Query(ctx, sqlListEvents)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEvent, errorCodeList, err)
	}
	defer rows.Close()
	events, err := scanEvents(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEvent, errorCodeInvalid, err)
	}
	return events, nil
}

// Rows of one batch receive increasing seq values in queue order.
func buildInsertBatch(events []ledger.Event, now time.Time) (*pgx.Batch, error) {
	batch := &pgx.Batch{}
	for _, event := range events {
		metadata, err := json.Marshal(event.Origin)
		if err != nil {
			return nil, err
		}
		batch.Queue(sqlInsertEvent,
			uuid.NewString(),
			event.Payer.String(),
			event.Points.Int64(),
			event.Timestamp.UTC(),
			string(metadata),
			now,
		)
	}
	return batch, nil
}

func scanEvents(rows pgx.Rows) ([]ledger.Event, error) {
	var events []ledger.Event
	for rows.Next() {
		var (
			eventID    string
			payer      string
			points     int64
			occurredAt time.Time
			metadata   []byte
			origin     ledger.Origin
		)
		if err := rows.Scan(&eventID, &payer, &points, &occurredAt, &metadata); err != nil {
			return nil, err
		}
		event, err := ledger.NewEvent(payer, points, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", eventID, err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &origin); err != nil {
				return nil, fmt.Errorf("event %s metadata: %w", eventID, err)
			}
		}
		events = append(events, event.WithOrigin(origin))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}
