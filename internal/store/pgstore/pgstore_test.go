package pgstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"github.com/jackc/pgx/v5/pgxpool"
)

const envTestDatabaseURL = "POINTS_TEST_DATABASE_URL"

func TestBuildInsertBatchQueuesEveryEvent(test *testing.T) {
	test.Parallel()
	base := time.Date(2020, 10, 31, 10, 0, 0, 0, time.UTC)
	events := []ledger.Event{
		mustEvent(test, "DANNON", 300, base).WithOrigin(ledger.Origin{Source: "transactions.csv", Line: 2}),
		mustEvent(test, "UNILEVER", 200, base),
	}
	batch, err := buildInsertBatch(events, base)
	if err != nil {
		test.Fatalf("build batch: %v", err)
	}
	if batch.Len() != len(events) {
		test.Fatalf("expected %d queued queries, got %d", len(events), batch.Len())
	}
	first := batch.QueuedQueries[0].Arguments
	second := batch.QueuedQueries[1].Arguments
	if first[1] != "DANNON" || first[2] != int64(300) {
		test.Fatalf("unexpected first arguments: %v", first)
	}
	if first[4] != `{"source":"transactions.csv","line":2}` || second[4] != `{}` {
		test.Fatalf("unexpected metadata arguments: %v %v", first[4], second[4])
	}
	if second[1] != "UNILEVER" {
		test.Fatalf("expected queue to follow input order, got %v", second)
	}
}

func TestStoreAgainstPostgres(test *testing.T) {
	databaseURL := os.Getenv(envTestDatabaseURL)
	if databaseURL == "" {
		test.Skipf("%s not set", envTestDatabaseURL)
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		test.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	store := New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		test.Fatalf("schema: %v", err)
	}
	if _, err := pool.Exec(ctx, "truncate point_events"); err != nil {
		test.Fatalf("truncate: %v", err)
	}
	base := time.Date(2020, 10, 31, 10, 0, 0, 0, time.UTC)
	origin := ledger.Origin{Source: "transactions.csv", Line: 3}
	later := mustEvent(test, "DANNON", 1000, base.Add(time.Hour))
	earlier := mustEvent(test, "UNILEVER", 200, base).WithOrigin(origin)
	tied := mustEvent(test, "MILLER COORS", 50, base)
	if err := store.InsertEvents(ctx, []ledger.Event{later, earlier}); err != nil {
		test.Fatalf("insert: %v", err)
	}
	if err := store.InsertEvents(ctx, []ledger.Event{tied}); err != nil {
		test.Fatalf("insert tied: %v", err)
	}
	listed, err := store.ListEvents(ctx)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(listed) != 3 || listed[0].Payer != earlier.Payer || listed[1].Payer != tied.Payer || listed[2].Payer != later.Payer {
		test.Fatalf("unexpected order: %+v", listed)
	}
	if listed[0].Origin != origin || !listed[1].Origin.IsZero() {
		test.Fatalf("unexpected origins: %+v %+v", listed[0].Origin, listed[1].Origin)
	}
}

func TestStoreWrapsQueryErrors(test *testing.T) {
	test.Parallel()
	pool, err := pgxpool.New(context.Background(), "postgres://nobody@127.0.0.1:1/points?connect_timeout=1")
	if err != nil {
		test.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	_, err = New(pool).ListEvents(context.Background())
	var operationError ledger.OperationError
	if !errors.As(err, &operationError) || operationError.Code() != errorCodeList {
		test.Fatalf("expected list operation error, got %v", err)
	}
}

func mustEvent(test *testing.T, payer string, points int64, at time.Time) ledger.Event {
	test.Helper()
	event, err := ledger.NewEvent(payer, points, at)
	if err != nil {
		test.Fatalf("event: %v", err)
	}
	return event
}
