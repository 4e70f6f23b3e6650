package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jacksonlee411/hr-batch-adjust/internal/pgsql"
	"github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/types"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
)

// PGStore implements PersonStore and RecordStore over person.persons and
// person.aspect_versions. Appends serialize per person aspect with a
// transaction-scoped advisory lock; the primary key is the last guard.
type PGStore struct {
	db          pgsql.Beginner
	lockTimeout string
}

func NewPGStore(db pgsql.Beginner) *PGStore {
	return &PGStore{db: db, lockTimeout: "5s"}
}

func (s *PGStore) ListPersons(ctx context.Context, tenantID string) ([]types.Person, error) {
	tx, err := pgsql.BeginTenantTx(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `
SELECT person_uuid::text, pernr, display_name, created_at
FROM person.persons
WHERE tenant_uuid = $1::uuid
ORDER BY person_uuid ASC
`, tenantID)
	if err != nil {
		return nil, pgsql.Classify(err)
	}
	defer rows.Close()

	var out []types.Person
	for rows.Next() {
		var p types.Person
		if err := rows.Scan(&p.PersonUUID, &p.Pernr, &p.DisplayName, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, pgsql.Classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, pgsql.Classify(err)
	}
	return out, nil
}

func (s *PGStore) GetPerson(ctx context.Context, tenantID string, personUUID string) (types.Person, error) {
	tx, err := pgsql.BeginTenantTx(ctx, s.db, tenantID)
	if err != nil {
		return types.Person{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	p, err := getPerson(ctx, tx, tenantID, personUUID)
	if err != nil {
		return types.Person{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Person{}, pgsql.Classify(err)
	}
	return p, nil
}

func (s *PGStore) CreatePerson(ctx context.Context, tenantID string, pernr string, displayName string) (types.Person, error) {
	canonical, err := types.NormalizePernr(pernr)
	if err != nil {
		return types.Person{}, err
	}
	displayName, err = types.NormalizeDisplayName(displayName)
	if err != nil {
		return types.Person{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return types.Person{}, err
	}

	tx, err := pgsql.BeginTenantTx(ctx, s.db, tenantID)
	if err != nil {
		return types.Person{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	p := types.Person{PersonUUID: id.String(), Pernr: canonical, DisplayName: displayName}
	if err := tx.QueryRow(ctx, `
INSERT INTO person.persons (tenant_uuid, person_uuid, pernr, display_name)
VALUES ($1::uuid, $2::uuid, $3::text, $4::text)
RETURNING created_at
`, tenantID, p.PersonUUID, canonical, displayName).Scan(&p.CreatedAt); err != nil {
		if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr.ConstraintName == "persons_pernr_unique" {
			return types.Person{}, httperr.NewConflict("PERNR_ALREADY_EXISTS", "pernr already exists", false, err)
		}
		return types.Person{}, pgsql.Classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Person{}, pgsql.Classify(err)
	}
	return p, nil
}

func (s *PGStore) Append(ctx context.Context, tenantID string, in types.AppendInput) (types.Record, error) {
	res, err := s.AppendAll(ctx, tenantID, []types.AppendInput{in})
	if err != nil {
		return types.Record{}, err
	}
	return res[0].Record, nil
}

func (s *PGStore) AppendAll(ctx context.Context, tenantID string, inputs []types.AppendInput) ([]types.AppendResult, error) {
	tx, err := pgsql.BeginTenantTx(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	out, err := s.AppendAllTx(ctx, tx, tenantID, inputs)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, pgsql.Classify(err)
	}
	return out, nil
}

// AppendAllTx runs AppendAll inside a caller-owned tenant transaction so the
// appends can commit together with other writes.
func (s *PGStore) AppendAllTx(ctx context.Context, tx pgx.Tx, tenantID string, inputs []types.AppendInput) ([]types.AppendResult, error) {
	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		k := in.PersonUUID + "/" + string(in.Aspect)
		if seen[k] {
			return nil, httperr.New(httperr.KindValidation, "RECORD_DUPLICATE_INPUT", "person aspect appears twice in one append: "+k)
		}
		seen[k] = true
	}

	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true);`, s.lockTimeout); err != nil {
		return nil, pgsql.Classify(err)
	}

	// Lock in a stable order so two overlapping batches cannot deadlock.
	order := make([]int, len(inputs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := inputs[order[a]], inputs[order[b]]
		if ia.PersonUUID != ib.PersonUUID {
			return ia.PersonUUID < ib.PersonUUID
		}
		return ia.Aspect < ib.Aspect
	})

	out := make([]types.AppendResult, len(inputs))
	for _, i := range order {
		res, err := appendOne(ctx, tx, tenantID, inputs[i])
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

func appendOne(ctx context.Context, tx pgx.Tx, tenantID string, in types.AppendInput) (types.AppendResult, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0));`,
		strings.Join([]string{"person.aspect_versions", tenantID, in.PersonUUID, string(in.Aspect)}, "|")); err != nil {
		return types.AppendResult{}, pgsql.Classify(err)
	}

	if in.SourceBatchID != "" {
		rec, err := scanRecord(tx.QueryRow(ctx, `
SELECT person_uuid::text, aspect, version, ts, data, COALESCE(source_batch_id::text, '')
FROM person.aspect_versions
WHERE tenant_uuid = $1::uuid AND source_batch_id = $2::uuid AND person_uuid = $3::uuid AND aspect = $4::text
`, tenantID, in.SourceBatchID, in.PersonUUID, string(in.Aspect)))
		if err == nil {
			return types.AppendResult{Record: rec, Existing: true}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return types.AppendResult{}, pgsql.Classify(err)
		}
	}

	if _, err := getPerson(ctx, tx, tenantID, in.PersonUUID); err != nil {
		return types.AppendResult{}, err
	}

	var last int64
	var lastTS *time.Time
	err := tx.QueryRow(ctx, `
SELECT version, ts
FROM person.aspect_versions
WHERE tenant_uuid = $1::uuid AND person_uuid = $2::uuid AND aspect = $3::text
ORDER BY version DESC
LIMIT 1
`, tenantID, in.PersonUUID, string(in.Aspect)).Scan(&last, &lastTS)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return types.AppendResult{}, pgsql.Classify(err)
	}
	if in.ExpectedVersion != nil && *in.ExpectedVersion != last {
		return types.AppendResult{}, types.ErrStaleBaseVersion(in.PersonUUID, in.Aspect)
	}

	rec := types.Record{
		PersonUUID:    in.PersonUUID,
		Aspect:        in.Aspect,
		Version:       last + 1,
		SourceBatchID: in.SourceBatchID,
	}
	var data []byte
	if err := tx.QueryRow(ctx, `
INSERT INTO person.aspect_versions (tenant_uuid, person_uuid, aspect, version, ts, data, source_batch_id)
VALUES ($1::uuid, $2::uuid, $3::text, $4::bigint, GREATEST(now(), $5::timestamptz), $6::jsonb, NULLIF($7::text, '')::uuid)
RETURNING ts, data
`, tenantID, in.PersonUUID, string(in.Aspect), rec.Version, lastTS, []byte(in.Data), in.SourceBatchID).Scan(&rec.TS, &data); err != nil {
		return types.AppendResult{}, pgsql.Classify(err)
	}
	rec.Data = json.RawMessage(data)
	return types.AppendResult{Record: rec}, nil
}

func (s *PGStore) Current(ctx context.Context, tenantID string, personUUID string, aspect types.Aspect) (types.Record, error) {
	return s.latest(ctx, tenantID, personUUID, aspect, nil)
}

func (s *PGStore) AsOf(ctx context.Context, tenantID string, personUUID string, aspect types.Aspect, at time.Time) (types.Record, error) {
	return s.latest(ctx, tenantID, personUUID, aspect, &at)
}

func (s *PGStore) latest(ctx context.Context, tenantID string, personUUID string, aspect types.Aspect, at *time.Time) (types.Record, error) {
	if _, err := types.ParseAspect(string(aspect)); err != nil {
		return types.Record{}, err
	}
	tx, err := pgsql.BeginTenantTx(ctx, s.db, tenantID)
	if err != nil {
		return types.Record{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := getPerson(ctx, tx, tenantID, personUUID); err != nil {
		return types.Record{}, err
	}
	rec, err := scanRecord(tx.QueryRow(ctx, `
SELECT person_uuid::text, aspect, version, ts, data, COALESCE(source_batch_id::text, '')
FROM person.aspect_versions
WHERE tenant_uuid = $1::uuid AND person_uuid = $2::uuid AND aspect = $3::text
  AND ($4::timestamptz IS NULL OR ts <= $4::timestamptz)
ORDER BY version DESC
LIMIT 1
`, tenantID, personUUID, string(aspect), at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Record{}, types.ErrRecordNotFound(personUUID, aspect)
		}
		return types.Record{}, pgsql.Classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return types.Record{}, pgsql.Classify(err)
	}
	return rec, nil
}

func (s *PGStore) History(ctx context.Context, tenantID string, personUUID string, aspect types.Aspect) ([]types.Record, error) {
	if _, err := types.ParseAspect(string(aspect)); err != nil {
		return nil, err
	}
	tx, err := pgsql.BeginTenantTx(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := getPerson(ctx, tx, tenantID, personUUID); err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT person_uuid::text, aspect, version, ts, data, COALESCE(source_batch_id::text, '')
FROM person.aspect_versions
WHERE tenant_uuid = $1::uuid AND person_uuid = $2::uuid AND aspect = $3::text
ORDER BY version ASC
`, tenantID, personUUID, string(aspect))
	if err != nil {
		return nil, pgsql.Classify(err)
	}
	out, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, pgsql.Classify(err)
	}
	return out, nil
}

func (s *PGStore) Snapshot(ctx context.Context, tenantID string, aspect types.Aspect, at *time.Time) (map[string]types.Record, error) {
	if _, err := types.ParseAspect(string(aspect)); err != nil {
		return nil, err
	}
	tx, err := pgsql.BeginTenantTx(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `
SELECT DISTINCT ON (person_uuid)
  person_uuid::text, aspect, version, ts, data, COALESCE(source_batch_id::text, '')
FROM person.aspect_versions
WHERE tenant_uuid = $1::uuid AND aspect = $2::text
  AND ($3::timestamptz IS NULL OR ts <= $3::timestamptz)
ORDER BY person_uuid, version DESC
`, tenantID, string(aspect), at)
	if err != nil {
		return nil, pgsql.Classify(err)
	}
	records, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, pgsql.Classify(err)
	}
	out := make(map[string]types.Record, len(records))
	for _, r := range records {
		out[r.PersonUUID] = r
	}
	return out, nil
}

func getPerson(ctx context.Context, tx pgx.Tx, tenantID string, personUUID string) (types.Person, error) {
	if _, err := uuid.Parse(personUUID); err != nil {
		return types.Person{}, types.ErrPersonNotFound(personUUID)
	}
	var p types.Person
	err := tx.QueryRow(ctx, `
SELECT person_uuid::text, pernr, display_name, created_at
FROM person.persons
WHERE tenant_uuid = $1::uuid AND person_uuid = $2::uuid
`, tenantID, personUUID).Scan(&p.PersonUUID, &p.Pernr, &p.DisplayName, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Person{}, types.ErrPersonNotFound(personUUID)
		}
		return types.Person{}, pgsql.Classify(err)
	}
	return p, nil
}

func scanRecord(row pgx.Row) (types.Record, error) {
	var r types.Record
	var aspect string
	var data []byte
	if err := row.Scan(&r.PersonUUID, &aspect, &r.Version, &r.TS, &data, &r.SourceBatchID); err != nil {
		return types.Record{}, err
	}
	r.Aspect = types.Aspect(aspect)
	r.Data = json.RawMessage(data)
	return r, nil
}

func collectRecords(rows pgx.Rows) ([]types.Record, error) {
	defer rows.Close()
	var out []types.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, pgsql.Classify(err)
	}
	return out, nil
}
