package gormstore

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/pointsledger/internal/store/dberrors"
	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	insertBatchSize      = 500
	errorOperationStore  = "store"
	errorSubjectEvent    = "event"
	errorSubjectSchema   = "schema"
	errorCodeInsert      = "insert"
	errorCodeInvalid     = "invalid"
	errorCodeList        = "list"
	errorCodeAutoMigrate = "auto_migrate"
)

// Store implements ledger.EventStore using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the point_events table.
func (store *Store) Migrate(ctx context.Context) error {
	if err := store.db.WithContext(ctx).AutoMigrate(&PointEvent{}); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeAutoMigrate, err)
	}
	return nil
}

// InsertEvents stores events in one transaction.
func (store *Store) InsertEvents(ctx context.Context, events []ledger.Event) error {
	if len(events) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]PointEvent, 0, len(events))
	for _, event := range events {
		rows = append(rows, PointEvent{
			Payer:      event.Payer.String(),
			Points:     event.Points.Int64(),
			OccurredAt: event.Timestamp.UTC(),
			Metadata:   datatypes.NewJSONType(event.Origin),
			CreatedAt:  now,
		})
	}
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return transaction.CreateInBatches(&rows, insertBatchSize).Error
	})
	if err != nil {
		return wrapStoreError(errorSubjectEvent, dberrors.Classify(err, errorCodeInsert), err)
	}
	return nil
}

// ListEvents returns every stored event ordered by occurrence time, then by
// insertion order.
func (store *Store) ListEvents(ctx context.Context) ([]ledger.Event, error) {
	var rows []PointEvent
	err := store.db.WithContext(ctx).
		Order("occurred_at ASC").
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEvent, errorCodeList, err)
	}
	events := make([]ledger.Event, 0, len(rows))
	for _, row := range rows {
		event, err := ledger.NewEvent(row.Payer, row.Points, row.OccurredAt)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEvent, errorCodeInvalid, fmt.Errorf("event %s: %w", row.EventID, err))
		}
		events = append(events, event.WithOrigin(row.Metadata.Data()))
	}
	return events, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}
