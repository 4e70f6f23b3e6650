package pgsql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jacksonlee411/hr-batch-adjust/internal/pgsql/pgsqltest"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
)

func TestBeginTenantTx(t *testing.T) {
	tx := &pgsqltest.Tx{}
	got, err := BeginTenantTx(context.Background(), &pgsqltest.Beginner{Tx: tx}, " t1 ")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got != tx {
		t.Fatal("expected stub tx")
	}
	if len(tx.Calls) != 1 || !strings.Contains(tx.Calls[0].SQL, "app.current_tenant") || tx.Calls[0].Args[0] != "t1" {
		t.Fatalf("calls=%+v", tx.Calls)
	}
}

func TestBeginTenantTx_Errors(t *testing.T) {
	if _, err := BeginTenantTx(context.Background(), &pgsqltest.Beginner{Tx: &pgsqltest.Tx{}}, ""); !httperr.Is(err, httperr.KindValidation) {
		t.Fatalf("err=%v", err)
	}
	if _, err := BeginTenantTx(context.Background(), &pgsqltest.Beginner{BeginErr: errors.New("down")}, "t1"); err == nil {
		t.Fatal("expected begin error")
	}
	tx := &pgsqltest.Tx{OnExec: func(string, []any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("set_config")
	}}
	if _, err := BeginTenantTx(context.Background(), &pgsqltest.Beginner{Tx: tx}, "t1"); err == nil {
		t.Fatal("expected exec error")
	}
	if !tx.RolledBack {
		t.Fatal("expected rollback")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		kind      httperr.Kind
		retryable bool
	}{
		{"serialization", &pgconn.PgError{Code: "40001"}, httperr.KindConcurrencyConflict, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, httperr.KindConcurrencyConflict, true},
		{"lock timeout", fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "55P03"}), httperr.KindConcurrencyConflict, true},
		{"unique", &pgconn.PgError{Code: "23505"}, httperr.KindConcurrencyConflict, true},
		{"invalid text", &pgconn.PgError{Code: "22P02"}, httperr.KindValidation, false},
		{"deadline", context.DeadlineExceeded, httperr.KindTransactionFailure, true},
		{"classified", httperr.NewNotFound("X", "x"), httperr.KindNotFound, false},
		{"other", errors.New("boom"), "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			if httperr.KindOf(got) != tc.kind || httperr.IsRetryable(got) != tc.retryable {
				t.Fatalf("got=%v kind=%q", got, httperr.KindOf(got))
			}
		})
	}
	if Classify(nil) != nil {
		t.Fatal("expected nil")
	}
}

func TestCodeAndMessage(t *testing.T) {
	err := fmt.Errorf("x: %w", &pgconn.PgError{Code: " 23505 ", Message: " RECORD_HISTORY_IMMUTABLE "})
	if Code(err) != "23505" || Message(err) != "RECORD_HISTORY_IMMUTABLE" {
		t.Fatalf("code=%q msg=%q", Code(err), Message(err))
	}
	if Code(errors.New("x")) != "" || Message(errors.New("x")) != "UNKNOWN" {
		t.Fatal("expected empty")
	}
}

func TestApplyMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"00001_a.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE a();\n-- +migrate Down\nDROP TABLE a;")},
		"00002_b.sql": {Data: []byte("CREATE TABLE b();")},
		"00003_c.sql": {Data: []byte("-- +migrate Up\n\n-- +migrate Down\nDROP TABLE c;")},
		"README.md":   {Data: []byte("ignored")},
	}
	tx := &pgsqltest.Tx{
		OnQueryRow: func(sql string, args []any) pgx.Row {
			if args[0] == "00001_a.sql" {
				return pgsqltest.Row{Vals: []any{1}}
			}
			return pgsqltest.Row{Err: pgx.ErrNoRows}
		},
	}

	applied, err := ApplyMigrations(context.Background(), tx, fsys, ".")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(applied) != 1 || applied[0] != "00002_b.sql" {
		t.Fatalf("applied=%v", applied)
	}
	var sawB, sawA bool
	for _, c := range tx.Calls {
		sawB = sawB || strings.Contains(c.SQL, "CREATE TABLE b()")
		sawA = sawA || strings.Contains(c.SQL, "CREATE TABLE a()")
	}
	if !sawB || sawA {
		t.Fatalf("sawA=%v sawB=%v", sawA, sawB)
	}
}

func TestApplyMigrations_ExecError(t *testing.T) {
	fsys := fstest.MapFS{"00001_a.sql": {Data: []byte("CREATE TABLE a();")}}
	tx := &pgsqltest.Tx{OnExec: func(sql string, _ []any) (pgconn.CommandTag, error) {
		if strings.Contains(sql, "CREATE TABLE a()") {
			return pgconn.CommandTag{}, errors.New("syntax")
		}
		return pgconn.CommandTag{}, nil
	}}
	if _, err := ApplyMigrations(context.Background(), tx, fsys, "."); err == nil || !strings.Contains(err.Error(), "00001_a.sql") {
		t.Fatalf("err=%v", err)
	}
}

func TestExtractUpMigration(t *testing.T) {
	if got := ExtractUpMigration("SELECT 1;"); got != "SELECT 1;" {
		t.Fatalf("got=%q", got)
	}
	if got := strings.TrimSpace(ExtractUpMigration("-- +migrate Up\nSELECT 1;\n-- +migrate Down\nSELECT 2;")); got != "SELECT 1;" {
		t.Fatalf("got=%q", got)
	}
	if got := strings.TrimSpace(ExtractUpMigration("-- +migrate Up\nSELECT 3;")); got != "SELECT 3;" {
		t.Fatalf("got=%q", got)
	}
}
