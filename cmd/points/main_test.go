package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
)

const canonicalCSV = `payer,points,timestamp
DANNON,1000,2020-11-02T14:00:00Z
UNILEVER,200,2020-10-31T11:00:00Z
DANNON,-200,2020-10-31T15:00:00Z
MILLER COORS,10000,2020-11-01T14:00:00Z
DANNON,300,2020-10-31T10:00:00Z
`

func TestSpendCommandPrintsBalances(test *testing.T) {
	csvPath := writeFixture(test, canonicalCSV)
	output, err := runCommand(test, "spend", "5000", "--file", csvPath, "--log-level", "error")
	if err != nil {
		test.Fatalf("spend: %v", err)
	}
	var balances map[string]int64
	if err := json.Unmarshal([]byte(output), &balances); err != nil {
		test.Fatalf("decode output %q: %v", output, err)
	}
	if balances["DANNON"] != 1000 || balances["UNILEVER"] != 0 || balances["MILLER COORS"] != 5300 {
		test.Fatalf("unexpected balances: %v", balances)
	}
}

func TestSpendCommandErrors(test *testing.T) {
	csvPath := writeFixture(test, canonicalCSV)
	testCases := []struct {
		name    string
		args    []string
		wantErr error
		wantMsg string
	}{
		{name: "missing amount", args: []string{"spend", "--file", csvPath}, wantMsg: "accepts 1 arg"},
		{name: "fractional amount", args: []string{"spend", "2.5", "--file", csvPath}, wantErr: ledger.ErrInvalidAmount},
		{name: "negative amount", args: []string{"spend", "--file", csvPath, "--", "-5"}, wantErr: ledger.ErrInvalidAmount},
		{name: "negative amount without separator", args: []string{"spend", "-5", "--file", csvPath}, wantMsg: "unknown shorthand flag"},
		{name: "over capacity", args: []string{"spend", "20000", "--file", csvPath, "--log-level", "error"}, wantErr: ledger.ErrInsufficientCapacity},
		{name: "unknown policy", args: []string{"spend", "1", "--capacity-policy", "lenient"}, wantErr: ledger.ErrInvalidPolicy},
		{name: "unknown store", args: []string{"spend", "1", "--store", "mongo"}, wantMsg: "store must be"},
		{name: "pgx needs postgres", args: []string{"spend", "1", "--store", "pgx", "--database-url", ":memory:"}, wantMsg: "requires a PostgreSQL"},
		{name: "import needs database", args: []string{"import", "--file", csvPath}, wantMsg: "database-url is required"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			_, err := runCommand(test, testCase.args...)
			if err == nil {
				test.Fatalf("expected error")
			}
			if testCase.wantErr != nil && !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
			if testCase.wantMsg != "" && !strings.Contains(err.Error(), testCase.wantMsg) {
				test.Fatalf("expected message containing %q, got %v", testCase.wantMsg, err)
			}
		})
	}
}

func TestClampPolicyReportsWhatIsLeft(test *testing.T) {
	csvPath := writeFixture(test, canonicalCSV)
	output, err := runCommand(test, "spend", "20000", "--file", csvPath, "--capacity-policy", "clamp", "--log-level", "error")
	if err != nil {
		test.Fatalf("spend: %v", err)
	}
	var balances map[string]int64
	if err := json.Unmarshal([]byte(output), &balances); err != nil {
		test.Fatalf("decode output: %v", err)
	}
	for payer, points := range balances {
		if points != 0 {
			test.Fatalf("expected %s drained, got %d", payer, points)
		}
	}
}

func TestImportThenSpendFromSQLite(test *testing.T) {
	csvPath := writeFixture(test, canonicalCSV)
	databasePath := filepath.Join(test.TempDir(), "points.db")

	output, err := runCommand(test, "import", "--file", csvPath, "--database-url", "sqlite://"+databasePath, "--log-level", "error")
	if err != nil {
		test.Fatalf("import: %v", err)
	}
	if !strings.Contains(output, "imported 5 events") {
		test.Fatalf("unexpected import output: %q", output)
	}

	output, err = runCommand(test, "spend", "5000", "--database-url", "sqlite://"+databasePath, "--log-level", "error")
	if err != nil {
		test.Fatalf("spend: %v", err)
	}
	var balances map[string]int64
	if err := json.Unmarshal([]byte(output), &balances); err != nil {
		test.Fatalf("decode output: %v", err)
	}
	if balances["DANNON"] != 1000 || balances["MILLER COORS"] != 5300 {
		test.Fatalf("unexpected balances: %v", balances)
	}
}

func TestParseDatabaseURL(test *testing.T) {
	test.Parallel()
	target, err := parseDatabaseURL("postgres://user@localhost/points")
	if err != nil || target.driver != driverPostgres || target.location != "postgres://user@localhost/points" {
		test.Fatalf("expected postgres target, got %+v %v", target, err)
	}
	target, err = parseDatabaseURL(sqliteInMemory)
	if err != nil || target.driver != driverSQLite || target.location != sqliteInMemory {
		test.Fatalf("expected in-memory sqlite, got %+v %v", target, err)
	}
	absolute := filepath.Join(test.TempDir(), "nested", "points.db")
	target, err = parseDatabaseURL("sqlite://" + absolute)
	if err != nil || target.driver != driverSQLite || target.location != absolute {
		test.Fatalf("expected sqlite path %q, got %+v %v", absolute, target, err)
	}
	if _, err := os.Stat(filepath.Dir(absolute)); err != nil {
		test.Fatalf("expected parent directory created: %v", err)
	}
	if _, err := parseDatabaseURL("mysql://user@localhost/points"); err == nil || !strings.Contains(err.Error(), "unsupported database scheme") {
		test.Fatalf("expected unsupported scheme error, got %v", err)
	}
}

func runCommand(test *testing.T, args ...string) (string, error) {
	test.Helper()
	var stdout bytes.Buffer
	cmd := newRootCommand(&stdout)
	cmd.SetArgs(args)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeFixture(test *testing.T, content string) string {
	test.Helper()
	path := filepath.Join(test.TempDir(), "transactions.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		test.Fatalf("write fixture: %v", err)
	}
	return path
}
