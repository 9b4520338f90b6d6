package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Points is a signed point delta. Positive values deposit, negative values debit.
type Points int64

// Int64 returns the raw value.
func (points Points) Int64() int64 {
	return int64(points)
}

// PayerName identifies the payer that owns a lot.
type PayerName struct {
	value string
}

// NewPayerName validates and normalizes a payer name.
func NewPayerName(raw string) (PayerName, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PayerName{}, fmt.Errorf("%w: empty value", ErrInvalidPayer)
	}
	return PayerName{value: trimmed}, nil
}

// String returns the normalized name.
func (name PayerName) String() string {
	return name.value
}

// SpendAmount is the non-negative number of points a spend removes.
type SpendAmount struct {
	value int64
}

// NewSpendAmount validates a spend amount.
func NewSpendAmount(raw int64) (SpendAmount, error) {
	if raw < 0 {
		return SpendAmount{}, fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	}
	return SpendAmount{value: raw}, nil
}

// ParseSpendAmount parses a decimal integer spend amount.
func ParseSpendAmount(raw string) (SpendAmount, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return SpendAmount{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidAmount, raw)
	}
	return NewSpendAmount(parsed)
}

// Int64 returns the raw value.
func (amount SpendAmount) Int64() int64 {
	return amount.value
}

// Origin records where an event was loaded from. It does not affect ledger
// arithmetic.
type Origin struct {
	Source string `json:"source,omitempty"`
	Line   int    `json:"line,omitempty"`
}

// IsZero reports whether no origin was recorded.
func (origin Origin) IsZero() bool {
	return origin == Origin{}
}

// Event is one chronological point movement for a payer.
type Event struct {
	Payer     PayerName
	Points    Points
	Timestamp time.Time
	Origin    Origin
}

// NewEvent validates the payer name and builds an Event.
func NewEvent(payer string, points int64, timestamp time.Time) (Event, error) {
	payerName, err := NewPayerName(payer)
	if err != nil {
		return Event{}, err
	}
	if points == math.MinInt64 {
		return Event{}, fmt.Errorf("%w: points %d out of range", ErrMalformedInput, points)
	}
	if timestamp.IsZero() {
		return Event{}, fmt.Errorf("%w: missing timestamp", ErrMalformedInput)
	}
	return Event{Payer: payerName, Points: Points(points), Timestamp: timestamp.UTC()}, nil
}

// WithOrigin returns a copy of the event tagged with origin.
func (event Event) WithOrigin(origin Origin) Event {
	event.Origin = origin
	return event
}

// IsDebit reports whether the event removes points.
func (event Event) IsDebit() bool {
	return event.Points < 0
}

// Balances maps payer names to their remaining points.
type Balances map[string]int64

// Total sums every payer balance.
func (balances Balances) Total() int64 {
	var total int64
	for _, points := range balances {
		total += points
	}
	return total
}

// Payers returns the payer names in lexical order.
func (balances Balances) Payers() []string {
	names := make([]string, 0, len(balances))
	for name := range balances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CapacityPolicy decides what happens when a debit or spend asks for more
// points than the ledger holds.
type CapacityPolicy string

const (
	// CapacityPolicyStrict fails with ErrInsufficientCapacity.
	CapacityPolicyStrict CapacityPolicy = "strict"
	// CapacityPolicyClamp consumes what is available and records the remainder.
	CapacityPolicyClamp CapacityPolicy = "clamp"
)

// ParseCapacityPolicy validates a policy name. Empty input selects strict.
func ParseCapacityPolicy(raw string) (CapacityPolicy, error) {
	switch CapacityPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", CapacityPolicyStrict:
		return CapacityPolicyStrict, nil
	case CapacityPolicyClamp:
		return CapacityPolicyClamp, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, raw)
	}
}

// String returns the policy name.
func (policy CapacityPolicy) String() string {
	return string(policy)
}

// Lot is a read-only view of an open deposit lot.
type Lot struct {
	Payer     PayerName
	Remaining int64
	Sequence  int
}

// Depletion records how many points a spend took from one lot.
type Depletion struct {
	Payer    PayerName
	Sequence int
	Points   int64
}

// SpendResult is the outcome of a spend against a snapshot.
type SpendResult struct {
	Balances   Balances
	Spent      int64
	Shortfall  int64
	Depletions []Depletion
}

// EventSource supplies stored point events.
type EventSource interface {
	ListEvents(ctx context.Context) ([]Event, error)
}

// EventStore is the persistence contract for point events.
type EventStore interface {
	EventSource
	InsertEvents(ctx context.Context, events []Event) error
}
