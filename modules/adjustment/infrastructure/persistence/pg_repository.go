package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jacksonlee411/hr-batch-adjust/internal/pgsql"
	"github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/domain/types"
	persontypes "github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/types"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
)

// RecordAppender appends person versions inside a caller-owned transaction.
type RecordAppender interface {
	AppendAllTx(ctx context.Context, tx pgx.Tx, tenantID string, inputs []persontypes.AppendInput) ([]persontypes.AppendResult, error)
}

// PGRepository stores batches in adjustment.batches and adjustment.batch_items.
// Status changes lock the batch row; ApplyBatch commits the record appends
// and the applied status together.
type PGRepository struct {
	db      pgsql.Beginner
	records RecordAppender
}

func NewPGRepository(db pgsql.Beginner, records RecordAppender) *PGRepository {
	return &PGRepository{db: db, records: records}
}

const batchColumns = `id::text, kind, status, effective_date::text, criteria, defaults,
  total_persons, affected_count, skipped, created_at, confirmed_at, applied_at`

func (r *PGRepository) CreateBatch(ctx context.Context, tenantID string, pb types.ProposedBatch) error {
	criteria, err := json.Marshal(pb.Batch.Criteria)
	if err != nil {
		return err
	}
	skipped, err := json.Marshal(nonNilSkipped(pb.Batch.Skipped))
	if err != nil {
		return err
	}
	defaults := []byte(pb.Batch.Defaults)
	if len(defaults) == 0 {
		defaults = []byte(`{}`)
	}

	tx, err := pgsql.BeginTenantTx(ctx, r.db, tenantID)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	b := pb.Batch
	if _, err := tx.Exec(ctx, `
INSERT INTO adjustment.batches (tenant_uuid, id, kind, status, effective_date, criteria, defaults, total_persons, affected_count, skipped, created_at)
VALUES ($1::uuid, $2::uuid, $3::text, $4::text, $5::date, $6::jsonb, $7::jsonb, $8::int, $9::int, $10::jsonb, $11::timestamptz)
`, tenantID, b.ID, string(b.Kind), string(b.Status), b.EffectiveDate, criteria, defaults, b.TotalPersons, b.AffectedCount, skipped, b.CreatedAt); err != nil {
		return pgsql.Classify(err)
	}
	for _, it := range pb.Items {
		if _, err := tx.Exec(ctx, `
INSERT INTO adjustment.batch_items (tenant_uuid, id, batch_id, seq, person_uuid, current_snapshot, base_version, proposed_values)
VALUES ($1::uuid, $2::uuid, $3::uuid, $4::int, $5::uuid, $6::jsonb, $7::bigint, $8::jsonb)
`, tenantID, it.ID, b.ID, it.Seq, it.PersonUUID, []byte(it.CurrentSnapshot), it.BaseVersion, []byte(it.ProposedValues)); err != nil {
			return pgsql.Classify(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return pgsql.Classify(err)
	}
	return nil
}

func (r *PGRepository) GetBatch(ctx context.Context, tenantID string, batchID string) (types.Batch, error) {
	tx, err := pgsql.BeginTenantTx(ctx, r.db, tenantID)
	if err != nil {
		return types.Batch{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	b, err := getBatch(ctx, tx, tenantID, batchID, false)
	if err != nil {
		return types.Batch{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Batch{}, pgsql.Classify(err)
	}
	return b, nil
}

func (r *PGRepository) ListBatches(ctx context.Context, tenantID string, kind types.Kind) ([]types.Batch, error) {
	tx, err := pgsql.BeginTenantTx(ctx, r.db, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `
SELECT `+batchColumns+`
FROM adjustment.batches
WHERE tenant_uuid = $1::uuid AND kind = $2::text
ORDER BY created_at DESC, id DESC
`, tenantID, string(kind))
	if err != nil {
		return nil, pgsql.Classify(err)
	}
	defer rows.Close()

	out := make([]types.Batch, 0)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, pgsql.Classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, pgsql.Classify(err)
	}
	return out, nil
}

func (r *PGRepository) ListItems(ctx context.Context, tenantID string, batchID string) ([]types.BatchItem, error) {
	tx, err := pgsql.BeginTenantTx(ctx, r.db, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := getBatch(ctx, tx, tenantID, batchID, false); err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT id::text, batch_id::text, seq, person_uuid::text, current_snapshot, base_version, proposed_values
FROM adjustment.batch_items
WHERE tenant_uuid = $1::uuid AND batch_id = $2::uuid
ORDER BY seq ASC
`, tenantID, batchID)
	if err != nil {
		return nil, pgsql.Classify(err)
	}
	defer rows.Close()

	out := make([]types.BatchItem, 0)
	for rows.Next() {
		var it types.BatchItem
		var snapshot, proposed []byte
		if err := rows.Scan(&it.ID, &it.BatchID, &it.Seq, &it.PersonUUID, &snapshot, &it.BaseVersion, &proposed); err != nil {
			return nil, err
		}
		it.CurrentSnapshot = json.RawMessage(snapshot)
		it.ProposedValues = json.RawMessage(proposed)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, pgsql.Classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, pgsql.Classify(err)
	}
	return out, nil
}

func (r *PGRepository) SaveConfirmation(ctx context.Context, tenantID string, batchID string, overrides map[string]json.RawMessage, at time.Time) (types.Batch, error) {
	tx, err := pgsql.BeginTenantTx(ctx, r.db, tenantID)
	if err != nil {
		return types.Batch{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	b, err := getBatch(ctx, tx, tenantID, batchID, true)
	if err != nil {
		return types.Batch{}, err
	}
	if !b.Status.CanTransition(types.StatusConfirmed) {
		return types.Batch{}, types.ErrInvalidState("confirm", b.Status)
	}
	for itemID, values := range overrides {
		if _, err := uuid.Parse(itemID); err != nil {
			return types.Batch{}, types.ErrItemNotFound(itemID)
		}
		tag, err := tx.Exec(ctx, `
UPDATE adjustment.batch_items
SET proposed_values = $4::jsonb
WHERE tenant_uuid = $1::uuid AND batch_id = $2::uuid AND id = $3::uuid
`, tenantID, batchID, itemID, []byte(values))
		if err != nil {
			return types.Batch{}, pgsql.Classify(err)
		}
		if tag.RowsAffected() == 0 {
			return types.Batch{}, types.ErrItemNotFound(itemID)
		}
	}
	b, err = scanBatch(tx.QueryRow(ctx, `
UPDATE adjustment.batches
SET status = 'confirmed', confirmed_at = $3::timestamptz
WHERE tenant_uuid = $1::uuid AND id = $2::uuid AND status = 'previewed'
RETURNING `+batchColumns, tenantID, batchID, at.UTC()))
	if err != nil {
		return types.Batch{}, pgsql.Classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Batch{}, pgsql.Classify(err)
	}
	return b, nil
}

func (r *PGRepository) MarkApplied(ctx context.Context, tenantID string, batchID string, affectedCount int, at time.Time) (types.Batch, error) {
	tx, err := pgsql.BeginTenantTx(ctx, r.db, tenantID)
	if err != nil {
		return types.Batch{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	b, err := markApplied(ctx, tx, tenantID, batchID, affectedCount, at)
	if err != nil {
		return types.Batch{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Batch{}, pgsql.Classify(err)
	}
	return b, nil
}

// ApplyBatch appends every input and marks the batch applied in one
// transaction. An already applied batch is returned unchanged with no results.
func (r *PGRepository) ApplyBatch(ctx context.Context, tenantID string, batchID string, inputs []persontypes.AppendInput, at time.Time) (types.Batch, []persontypes.AppendResult, error) {
	if r.records == nil {
		return types.Batch{}, nil, errors.New("adjustment: record appender not configured")
	}
	tx, err := pgsql.BeginTenantTx(ctx, r.db, tenantID)
	if err != nil {
		return types.Batch{}, nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	b, err := getBatch(ctx, tx, tenantID, batchID, true)
	if err != nil {
		return types.Batch{}, nil, err
	}
	if b.Status == types.StatusApplied {
		return b, nil, nil
	}
	results, err := r.records.AppendAllTx(ctx, tx, tenantID, inputs)
	if err != nil {
		return types.Batch{}, nil, err
	}
	b, err = markApplied(ctx, tx, tenantID, batchID, len(inputs), at)
	if err != nil {
		return types.Batch{}, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Batch{}, nil, pgsql.Classify(err)
	}
	return b, results, nil
}

func (r *PGRepository) DeleteBatch(ctx context.Context, tenantID string, batchID string) error {
	tx, err := pgsql.BeginTenantTx(ctx, r.db, tenantID)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	b, err := getBatch(ctx, tx, tenantID, batchID, true)
	if err != nil {
		return err
	}
	if b.Status.Terminal() {
		return types.ErrInvalidState("discard", b.Status)
	}
	if _, err := tx.Exec(ctx, `
DELETE FROM adjustment.batches
WHERE tenant_uuid = $1::uuid AND id = $2::uuid
`, tenantID, batchID); err != nil {
		return pgsql.Classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return pgsql.Classify(err)
	}
	return nil
}

func markApplied(ctx context.Context, tx pgx.Tx, tenantID string, batchID string, affectedCount int, at time.Time) (types.Batch, error) {
	b, err := scanBatch(tx.QueryRow(ctx, `
UPDATE adjustment.batches
SET status = 'applied', affected_count = $3::int, applied_at = $4::timestamptz
WHERE tenant_uuid = $1::uuid AND id = $2::uuid AND status = 'confirmed'
RETURNING `+batchColumns, tenantID, batchID, affectedCount, at.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		cur, getErr := getBatch(ctx, tx, tenantID, batchID, false)
		if getErr != nil {
			return types.Batch{}, getErr
		}
		return types.Batch{}, types.ErrInvalidState("apply", cur.Status)
	}
	if err != nil {
		return types.Batch{}, pgsql.Classify(err)
	}
	return b, nil
}

func getBatch(ctx context.Context, tx pgx.Tx, tenantID string, batchID string, forUpdate bool) (types.Batch, error) {
	if _, err := uuid.Parse(batchID); err != nil {
		return types.Batch{}, types.ErrBatchNotFound(batchID)
	}
	q := `
SELECT ` + batchColumns + `
FROM adjustment.batches
WHERE tenant_uuid = $1::uuid AND id = $2::uuid
`
	if forUpdate {
		q += "FOR UPDATE\n"
	}
	b, err := scanBatch(tx.QueryRow(ctx, q, tenantID, batchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Batch{}, types.ErrBatchNotFound(batchID)
	}
	if err != nil {
		return types.Batch{}, pgsql.Classify(err)
	}
	return b, nil
}

func scanBatch(row pgx.Row) (types.Batch, error) {
	var b types.Batch
	var kind, status string
	var criteria, defaults, skipped []byte
	if err := row.Scan(&b.ID, &kind, &status, &b.EffectiveDate, &criteria, &defaults,
		&b.TotalPersons, &b.AffectedCount, &skipped, &b.CreatedAt, &b.ConfirmedAt, &b.AppliedAt); err != nil {
		return types.Batch{}, err
	}
	b.Kind = types.Kind(kind)
	b.Status = types.Status(status)
	b.Defaults = json.RawMessage(defaults)
	if err := json.Unmarshal(criteria, &b.Criteria); err != nil {
		return types.Batch{}, httperr.Wrap(httperr.KindCorruptRecord, "ADJUST_BATCH_CORRUPT", "stored criteria unreadable", err)
	}
	if err := json.Unmarshal(skipped, &b.Skipped); err != nil {
		return types.Batch{}, httperr.Wrap(httperr.KindCorruptRecord, "ADJUST_BATCH_CORRUPT", "stored skipped list unreadable", err)
	}
	b.Skipped = nonNilSkipped(b.Skipped)
	return b, nil
}

func nonNilSkipped(s []types.SkippedPerson) []types.SkippedPerson {
	if s == nil {
		return []types.SkippedPerson{}
	}
	return s
}
