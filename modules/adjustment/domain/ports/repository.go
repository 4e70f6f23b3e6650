package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/domain/types"
	persontypes "github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/types"
)

// BatchRepository persists batches and their staged items. Status changes are
// compare-and-set against the expected previous status.
type BatchRepository interface {
	CreateBatch(ctx context.Context, tenantID string, pb types.ProposedBatch) error
	GetBatch(ctx context.Context, tenantID string, batchID string) (types.Batch, error)
	// ListBatches returns batches of kind, newest first.
	ListBatches(ctx context.Context, tenantID string, kind types.Kind) ([]types.Batch, error)
	// ListItems returns items in preview order.
	ListItems(ctx context.Context, tenantID string, batchID string) ([]types.BatchItem, error)
	// SaveConfirmation replaces proposed values of the given items and moves
	// the batch from previewed to confirmed.
	SaveConfirmation(ctx context.Context, tenantID string, batchID string, overrides map[string]json.RawMessage, at time.Time) (types.Batch, error)
	// MarkApplied moves the batch from confirmed to applied.
	MarkApplied(ctx context.Context, tenantID string, batchID string, affectedCount int, at time.Time) (types.Batch, error)
	// DeleteBatch removes a batch that never reached applied, with its items.
	DeleteBatch(ctx context.Context, tenantID string, batchID string) error
}

// BatchApplier is implemented by repositories that can append the record
// versions and mark the batch applied in one transaction.
type BatchApplier interface {
	ApplyBatch(ctx context.Context, tenantID string, batchID string, inputs []persontypes.AppendInput, at time.Time) (types.Batch, []persontypes.AppendResult, error)
}
