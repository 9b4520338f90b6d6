package spending

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"go.uber.org/zap"
)

const canonicalCSV = `payer,points,timestamp
DANNON,1000,2020-11-02T14:00:00Z
UNILEVER,200,2020-10-31T11:00:00Z
DANNON,-200,2020-10-31T15:00:00Z
MILLER COORS,10000,2020-11-01T14:00:00Z
DANNON,300,2020-10-31T10:00:00Z
`

type stubStore struct {
	events    []ledger.Event
	listErr   error
	insertErr error
}

func (store *stubStore) ListEvents(_ context.Context) ([]ledger.Event, error) {
	if store.listErr != nil {
		return nil, store.listErr
	}
	return append([]ledger.Event(nil), store.events...), nil
}

func (store *stubStore) InsertEvents(_ context.Context, added []ledger.Event) error {
	if store.insertErr != nil {
		return store.insertErr
	}
	store.events = append(store.events, added...)
	return nil
}

func TestServiceSpendsFromCSVFile(test *testing.T) {
	test.Parallel()
	path := filepath.Join(test.TempDir(), "transactions.csv")
	if err := os.WriteFile(path, []byte(canonicalCSV), 0o600); err != nil {
		test.Fatalf("write fixture: %v", err)
	}
	service := mustService(test, NewFileSource(path), ledger.CapacityPolicyStrict)
	result, err := service.Spend(context.Background(), mustSpendAmount(test, 5000))
	if err != nil {
		test.Fatalf("spend: %v", err)
	}
	want := ledger.Balances{"DANNON": 1000, "UNILEVER": 0, "MILLER COORS": 5300}
	if !reflect.DeepEqual(result.Balances, want) {
		test.Fatalf("expected %v, got %v", want, result.Balances)
	}
}

func TestServiceSortsStoredEvents(test *testing.T) {
	test.Parallel()
	base := time.Date(2020, 10, 31, 10, 0, 0, 0, time.UTC)
	store := &stubStore{events: []ledger.Event{
		mustEvent(test, "P2", 200, base.Add(time.Hour)),
		mustEvent(test, "P1", 100, base),
	}}
	service := mustService(test, store, ledger.CapacityPolicyStrict)
	result, err := service.Spend(context.Background(), mustSpendAmount(test, 150))
	if err != nil {
		test.Fatalf("spend: %v", err)
	}
	want := ledger.Balances{"P1": 0, "P2": 150}
	if !reflect.DeepEqual(result.Balances, want) {
		test.Fatalf("expected %v, got %v", want, result.Balances)
	}
}

func TestServiceBalancesAndAddEvents(test *testing.T) {
	test.Parallel()
	store := &stubStore{}
	service := mustService(test, store, ledger.CapacityPolicyStrict)
	added := []ledger.Event{mustEvent(test, "P1", 40, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC))}
	if err := service.AddEvents(context.Background(), added); err != nil {
		test.Fatalf("add events: %v", err)
	}
	balances, err := service.Balances(context.Background())
	if err != nil {
		test.Fatalf("balances: %v", err)
	}
	if balances["P1"] != 40 {
		test.Fatalf("expected 40, got %v", balances)
	}
}

func TestServiceErrors(test *testing.T) {
	test.Parallel()
	errStore := errors.New("store failure")

	if _, err := NewService(nil, ledger.CapacityPolicyStrict, nil); !errors.Is(err, ledger.ErrInvalidEngineConfig) {
		test.Fatalf("expected ErrInvalidEngineConfig, got %v", err)
	}
	if _, err := NewService(&stubStore{}, ledger.CapacityPolicy("lenient"), nil); !errors.Is(err, ledger.ErrInvalidPolicy) {
		test.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}

	failing := mustService(test, &stubStore{listErr: errStore, insertErr: errStore}, ledger.CapacityPolicyStrict)
	if _, err := failing.Spend(context.Background(), mustSpendAmount(test, 1)); !errors.Is(err, errStore) {
		test.Fatalf("expected store error, got %v", err)
	}
	if err := failing.AddEvents(context.Background(), nil); !errors.Is(err, errStore) {
		test.Fatalf("expected store error, got %v", err)
	}

	readOnly := mustService(test, NewFileSource("unused.csv"), ledger.CapacityPolicyStrict)
	if err := readOnly.AddEvents(context.Background(), nil); !errors.Is(err, ErrReadOnlySource) {
		test.Fatalf("expected ErrReadOnlySource, got %v", err)
	}
}

func mustService(test *testing.T, source ledger.EventSource, policy ledger.CapacityPolicy) *Service {
	test.Helper()
	service, err := NewService(source, policy, zap.NewNop())
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustSpendAmount(test *testing.T, raw int64) ledger.SpendAmount {
	test.Helper()
	value, err := ledger.NewSpendAmount(raw)
	if err != nil {
		test.Fatalf("spend amount: %v", err)
	}
	return value
}

func mustEvent(test *testing.T, payer string, points int64, at time.Time) ledger.Event {
	test.Helper()
	event, err := ledger.NewEvent(payer, points, at)
	if err != nil {
		test.Fatalf("event: %v", err)
	}
	return event
}
