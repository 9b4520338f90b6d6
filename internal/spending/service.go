// Package spending loads point events from a source and runs the ledger
// engine over them.
package spending

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/pointsledger/internal/events"
	"github.com/MarkoPoloResearchLab/pointsledger/internal/logging"
	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"go.uber.org/zap"
)

// ErrReadOnlySource is returned when events are added to a source that cannot store them.
var ErrReadOnlySource = errors.New("read-only event source")

// FileSource reads events from a CSV file on every call.
type FileSource struct {
	path string
}

// NewFileSource returns a source for the CSV file at path.
func NewFileSource(path string) FileSource {
	return FileSource{path: path}
}

// ListEvents implements ledger.EventSource.
func (source FileSource) ListEvents(_ context.Context) ([]ledger.Event, error) {
	return events.ReadFile(source.path)
}

// Service answers spend and balance queries over an event source.
type Service struct {
	source ledger.EventSource
	policy ledger.CapacityPolicy
	logger *zap.Logger
}

// NewService wires a Service.
func NewService(source ledger.EventSource, policy ledger.CapacityPolicy, logger *zap.Logger) (*Service, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: event source is nil", ledger.ErrInvalidEngineConfig)
	}
	parsedPolicy, err := ledger.ParseCapacityPolicy(policy.String())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{source: source, policy: parsedPolicy, logger: logger}, nil
}

// Spend depletes amount points oldest-first and reports what is left per payer.
func (service *Service) Spend(ctx context.Context, amount ledger.SpendAmount) (ledger.SpendResult, error) {
	loaded, err := service.source.ListEvents(ctx)
	if err != nil {
		return ledger.SpendResult{}, err
	}
	engine, err := ledger.NewEngine(amount,
		ledger.WithCapacityPolicy(service.policy),
		ledger.WithOperationLogger(logging.NewOperationLogger(service.logger)),
	)
	if err != nil {
		return ledger.SpendResult{}, err
	}
	return engine.Run(ctx, events.SortChronologically(loaded))
}

// Balances reports per-payer balances without spending.
func (service *Service) Balances(ctx context.Context) (ledger.Balances, error) {
	result, err := service.Spend(ctx, ledger.SpendAmount{})
	if err != nil {
		return nil, err
	}
	return result.Balances, nil
}

// AddEvents stores events when the source supports it.
func (service *Service) AddEvents(ctx context.Context, added []ledger.Event) error {
	store, ok := service.source.(ledger.EventStore)
	if !ok {
		return ErrReadOnlySource
	}
	if err := store.InsertEvents(ctx, added); err != nil {
		return err
	}
	service.logger.Info("point events stored", zap.Int("events", len(added)))
	return nil
}
