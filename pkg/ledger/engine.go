package ledger

import (
	"context"
	"fmt"
	"math"
)

// Snapshot is the ledger state after ingestion. It is not mutated by Spend.
type Snapshot struct {
	book           *lotBook
	policy         CapacityPolicy
	events         int
	unmatchedDebit int64
}

// Ingest replays chronologically sorted events into a new Snapshot.
//
// Deposits (including zero-point ones) open a lot at the back of the ledger.
// Debits remove points from the globally oldest open lots regardless of the
// payer that issued them.
func Ingest(events []Event, policy CapacityPolicy) (*Snapshot, error) {
	if policy != CapacityPolicyStrict && policy != CapacityPolicyClamp {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPolicy, policy)
	}
	snapshot := &Snapshot{book: newLotBook(len(events)), policy: policy, events: len(events)}
	for index, event := range events {
		if index > 0 && event.Timestamp.Before(events[index-1].Timestamp) {
			return nil, WrapError(operationIngest, subjectEvent, codeUnsorted, fmt.Errorf("%w: event %d at %s precedes %s", ErrUnsortedInput, index, event.Timestamp, events[index-1].Timestamp))
		}
		if event.Points == math.MinInt64 {
			return nil, WrapError(operationIngest, subjectEvent, codeInvalid, fmt.Errorf("%w: event %d points %d out of range", ErrMalformedInput, index, event.Points))
		}
		if !event.IsDebit() {
			if err := snapshot.book.deposit(event.Payer, event.Points.Int64()); err != nil {
				return nil, err
			}
			continue
		}
		snapshot.book.registerPayer(event.Payer)
		owed := -event.Points.Int64()
		taken, _, err := snapshot.book.consume(operationIngest, owed)
		if err != nil {
			return nil, err
		}
		if taken < owed {
			if policy == CapacityPolicyStrict {
				return nil, WrapError(operationIngest, subjectDebit, codeEmptyLedger, fmt.Errorf("%w: debit of %d by %q at event %d exceeds open capacity by %d", ErrInsufficientCapacity, owed, event.Payer.String(), index, owed-taken))
			}
			snapshot.unmatchedDebit += owed - taken
		}
	}
	return snapshot, nil
}

// Payers returns every payer seen during ingestion in first-seen order.
func (snapshot *Snapshot) Payers() []PayerName {
	return append([]PayerName(nil), snapshot.book.payerOrder...)
}

// Policy returns the capacity policy the snapshot was ingested with.
func (snapshot *Snapshot) Policy() CapacityPolicy {
	return snapshot.policy
}

// Balances sums the open lots of every payer seen during ingestion.
func (snapshot *Snapshot) Balances() Balances {
	return snapshot.book.balances()
}

// Capacity returns the total points held by open lots.
func (snapshot *Snapshot) Capacity() int64 {
	return snapshot.book.capacity()
}

// OpenLots returns the open lots, oldest first.
func (snapshot *Snapshot) OpenLots() []Lot {
	return snapshot.book.openLots()
}

// UnmatchedDebit returns the debit points that found no open lot under the clamp policy.
func (snapshot *Snapshot) UnmatchedDebit() int64 {
	return snapshot.unmatchedDebit
}

// Spend depletes amount points from the oldest open lots across all payers and
// reports the balances left behind.
func (snapshot *Snapshot) Spend(amount SpendAmount) (SpendResult, error) {
	book := snapshot.book.clone()
	spent, depletions, err := book.consume(operationSpend, amount.Int64())
	if err != nil {
		return SpendResult{}, err
	}
	shortfall := amount.Int64() - spent
	if shortfall > 0 && snapshot.policy == CapacityPolicyStrict {
		return SpendResult{}, WrapError(operationSpend, subjectAmount, codeShortfall, fmt.Errorf("%w: spend of %d exceeds open capacity by %d", ErrInsufficientCapacity, amount.Int64(), shortfall))
	}
	return SpendResult{
		Balances:   book.balances(),
		Spent:      spent,
		Shortfall:  shortfall,
		Depletions: depletions,
	}, nil
}

// Engine runs one spend against an event sequence.
type Engine struct {
	amount SpendAmount
	policy CapacityPolicy
	logger OperationLogger
}

// NewEngine wires an Engine for a fixed spend amount.
func NewEngine(amount SpendAmount, options ...Option) (*Engine, error) {
	engine := &Engine{amount: amount, policy: CapacityPolicyStrict}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	if engine.policy != CapacityPolicyStrict && engine.policy != CapacityPolicyClamp {
		return nil, fmt.Errorf("%w: unknown capacity policy %q", ErrInvalidEngineConfig, engine.policy)
	}
	return engine, nil
}

// Amount returns the spend amount fixed at construction.
func (engine *Engine) Amount() SpendAmount {
	return engine.amount
}

// Ingest builds a Snapshot from sorted events.
func (engine *Engine) Ingest(ctx context.Context, events []Event) (*Snapshot, error) {
	snapshot, operationError := Ingest(events, engine.policy)
	entry := OperationLog{
		Operation: operationIngest,
		Policy:    engine.policy,
		Events:    len(events),
		Error:     operationError,
	}
	if snapshot != nil {
		entry.Payers = len(snapshot.book.payerOrder)
		entry.UnmatchedDebit = snapshot.unmatchedDebit
	}
	engine.logOperation(ctx, entry)
	return snapshot, operationError
}

// Spend applies the engine's amount to the snapshot.
func (engine *Engine) Spend(ctx context.Context, snapshot *Snapshot) (SpendResult, error) {
	if snapshot == nil {
		return SpendResult{}, fmt.Errorf("%w: snapshot is nil", ErrInvalidEngineConfig)
	}
	result, operationError := snapshot.Spend(engine.amount)
	engine.logOperation(ctx, OperationLog{
		Operation: operationSpend,
		Policy:    snapshot.policy,
		Events:    snapshot.events,
		Payers:    len(snapshot.book.payerOrder),
		Amount:    engine.amount.Int64(),
		Spent:     result.Spent,
		Shortfall: result.Shortfall,
		Error:     operationError,
	})
	return result, operationError
}

// Run ingests events and spends the engine's amount.
func (engine *Engine) Run(ctx context.Context, events []Event) (SpendResult, error) {
	snapshot, err := engine.Ingest(ctx, events)
	if err != nil {
		return SpendResult{}, err
	}
	return engine.Spend(ctx, snapshot)
}

func (engine *Engine) logOperation(ctx context.Context, entry OperationLog) {
	if engine.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	engine.logger.LogOperation(ctx, entry)
}
