// Package pgsql holds the Postgres plumbing shared by the module stores:
// tenant-scoped transactions, SQLSTATE classification and the migration
// runner.
package pgsql

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
)

type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BeginTenantTx opens a transaction with app.current_tenant set for RLS.
// Callers own Commit; Rollback after Commit is a no-op.
func BeginTenantTx(ctx context.Context, db Beginner, tenantID string) (pgx.Tx, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, httperr.New(httperr.KindValidation, "TENANT_MISSING", "tenant is required")
	}
	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, Classify(err)
	}
	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		_ = tx.Rollback(context.Background())
		return nil, Classify(err)
	}
	return tx, nil
}
