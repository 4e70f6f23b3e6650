package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jacksonlee411/hr-batch-adjust/internal/pgsql"
	"github.com/jacksonlee411/hr-batch-adjust/migrations"
)

func main() {
	if len(os.Args) < 2 {
		fatalf("usage: dbtool <migrate|rls-smoke|history-check> [args]")
	}

	switch os.Args[1] {
	case "migrate":
		migrate(os.Args[2:])
	case "rls-smoke":
		rlsSmoke(os.Args[2:])
	case "history-check":
		historyCheck(os.Args[2:])
	default:
		fatalf("unknown subcommand: %s", os.Args[1])
	}
}

func parseURL(name string, args []string) string {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url string
	fs.StringVar(&url, "url", os.Getenv("DATABASE_URL"), "postgres connection string")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" {
		fatalf("missing --url")
	}
	return url
}

func migrate(args []string) {
	url := parseURL("migrate", args)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	applied, err := pgsql.ApplyMigrations(ctx, conn, migrations.FS, ".")
	if err != nil {
		fatal(err)
	}
	for _, name := range applied {
		fmt.Printf("[migrate] applied %s\n", name)
	}
	fmt.Printf("[migrate] OK (%d applied)\n", len(applied))
}

// rlsSmoke checks that person.persons is fail-closed without a tenant and
// that rows of one tenant are invisible to another.
func rlsSmoke(args []string) {
	url := parseURL("rls-smoke", args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	_ = tryEnsureRole(ctx, conn, "app_nobypassrls")

	tx, err := conn.Begin(ctx)
	if err != nil {
		fatal(err)
	}
	// Never committed: the smoke rows disappear with the rollback.
	defer func() { _ = tx.Rollback(context.Background()) }()

	_ = trySetRole(ctx, tx, "app_nobypassrls")

	if _, err := tx.Exec(ctx, `SAVEPOINT sp_failclosed;`); err != nil {
		fatal(err)
	}
	_, err = tx.Exec(ctx, `SELECT count(*) FROM person.persons;`)
	if _, rbErr := tx.Exec(ctx, `ROLLBACK TO SAVEPOINT sp_failclosed;`); rbErr != nil {
		fatal(rbErr)
	}
	if err == nil {
		fatalf("expected fail-closed error when app.current_tenant is missing")
	}

	tenantA := "00000000-0000-0000-0000-00000000000a"
	tenantB := "00000000-0000-0000-0000-00000000000b"
	personA := "00000000-0000-7000-8000-00000000000a"
	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantA); err != nil {
		fatal(err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO person.persons (tenant_uuid, person_uuid, pernr, display_name) VALUES ($1, $2, '99999999', 'rls smoke');`, tenantA, personA); err != nil {
		fatal(err)
	}

	if _, err := tx.Exec(ctx, `SAVEPOINT sp_cross_insert;`); err != nil {
		fatal(err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO person.persons (tenant_uuid, person_uuid, pernr, display_name) VALUES ($1, $2, '99999998', 'rls smoke');`, tenantB, personA)
	if _, rbErr := tx.Exec(ctx, `ROLLBACK TO SAVEPOINT sp_cross_insert;`); rbErr != nil {
		fatal(rbErr)
	}
	if err == nil {
		fatalf("expected RLS rejection on cross-tenant insert")
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM person.persons WHERE person_uuid = $1;`, personA).Scan(&count); err != nil {
		fatal(err)
	}
	if count != 1 {
		fatalf("expected count=1 under tenant A, got %d", count)
	}

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantB); err != nil {
		fatal(err)
	}
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM person.persons WHERE person_uuid = $1;`, personA).Scan(&count); err != nil {
		fatal(err)
	}
	if count != 0 {
		fatalf("expected count=0 under tenant B, got %d", count)
	}

	fmt.Println("[rls-smoke] OK")
}

// historyCheck scans every aspect history, bypassing RLS as the connecting
// role, and reports version gaps and timestamps that go backwards.
func historyCheck(args []string) {
	url := parseURL("history-check", args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	rows, err := conn.Query(ctx, `
SELECT tenant_uuid::text, person_uuid::text, aspect, version, ts
FROM person.aspect_versions
ORDER BY tenant_uuid, person_uuid, aspect, version`)
	if err != nil {
		fatal(err)
	}
	var c historyChecker
	var total int
	for rows.Next() {
		var r historyRow
		if err := rows.Scan(&r.TenantID, &r.PersonUUID, &r.Aspect, &r.Version, &r.TS); err != nil {
			fatal(err)
		}
		c.add(r)
		total++
	}
	if err := rows.Err(); err != nil {
		fatal(err)
	}

	for _, v := range c.violations {
		fmt.Println("[history-check] " + v)
	}
	if len(c.violations) > 0 {
		fatalf("[history-check] FAIL: %d violations in %d versions", len(c.violations), total)
	}
	fmt.Printf("[history-check] OK (%d versions)\n", total)
}

type historyRow struct {
	TenantID   string
	PersonUUID string
	Aspect     string
	Version    int64
	TS         time.Time
}

// historyChecker consumes rows ordered by (tenant, person, aspect, version).
type historyChecker struct {
	prev       *historyRow
	violations []string
}

func (c *historyChecker) add(r historyRow) {
	prev := c.prev
	c.prev = &r
	key := r.TenantID + "/" + r.PersonUUID + "/" + r.Aspect
	if prev == nil || prev.TenantID != r.TenantID || prev.PersonUUID != r.PersonUUID || prev.Aspect != r.Aspect {
		if r.Version != 1 {
			c.violations = append(c.violations, fmt.Sprintf("%s: history starts at version %d", key, r.Version))
		}
		return
	}
	if r.Version != prev.Version+1 {
		c.violations = append(c.violations, fmt.Sprintf("%s: version %d follows %d", key, r.Version, prev.Version))
	}
	if r.TS.Before(prev.TS) {
		c.violations = append(c.violations, fmt.Sprintf("%s: version %d ts %s before version %d ts %s",
			key, r.Version, r.TS.Format(time.RFC3339Nano), prev.Version, prev.TS.Format(time.RFC3339Nano)))
	}
}

func tryEnsureRole(ctx context.Context, conn *pgx.Conn, role string) error {
	if !validSQLIdent(role) {
		return fmt.Errorf("invalid role: %s", role)
	}

	stmt := fmt.Sprintf(`DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%s') THEN
    EXECUTE 'CREATE ROLE %s NOBYPASSRLS';
  END IF;
END
$$;`, role, role)
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return err
	}
	for _, schema := range []string{"public", "person", "adjustment"} {
		_, _ = conn.Exec(ctx, `GRANT USAGE ON SCHEMA `+schema+` TO `+role+`;`)
		_, _ = conn.Exec(ctx, `GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA `+schema+` TO `+role+`;`)
		_, _ = conn.Exec(ctx, `GRANT EXECUTE ON ALL FUNCTIONS IN SCHEMA `+schema+` TO `+role+`;`)
	}
	return nil
}

func trySetRole(ctx context.Context, tx pgx.Tx, role string) bool {
	if _, err := tx.Exec(ctx, `SET ROLE `+role+`;`); err != nil {
		return false
	}
	return true
}

var reSQLIdent = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validSQLIdent(s string) bool {
	return reSQLIdent.MatchString(s)
}

func fatal(err error) {
	if err == nil {
		os.Exit(1)
	}
	fatalf("%v", err)
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
