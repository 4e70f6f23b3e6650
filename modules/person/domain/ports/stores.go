package ports

import (
	"context"
	"time"

	"github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/types"
)

type PersonStore interface {
	ListPersons(ctx context.Context, tenantID string) ([]types.Person, error)
	GetPerson(ctx context.Context, tenantID string, personUUID string) (types.Person, error)
	CreatePerson(ctx context.Context, tenantID string, pernr string, displayName string) (types.Person, error)
}

// RecordStore is the append-only, versioned history of person aspects.
// Nothing ever updates or deletes a stored version.
type RecordStore interface {
	Append(ctx context.Context, tenantID string, in types.AppendInput) (types.Record, error)
	// AppendAll appends every input or none of them.
	AppendAll(ctx context.Context, tenantID string, inputs []types.AppendInput) ([]types.AppendResult, error)
	Current(ctx context.Context, tenantID string, personUUID string, aspect types.Aspect) (types.Record, error)
	History(ctx context.Context, tenantID string, personUUID string, aspect types.Aspect) ([]types.Record, error)
	AsOf(ctx context.Context, tenantID string, personUUID string, aspect types.Aspect, at time.Time) (types.Record, error)
	// Snapshot returns, per person, the record of aspect as of at (current
	// when at is nil). Persons without a visible record are absent.
	Snapshot(ctx context.Context, tenantID string, aspect types.Aspect, at *time.Time) (map[string]types.Record, error)
}
