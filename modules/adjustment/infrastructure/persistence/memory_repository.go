package persistence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/domain/types"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
)

type memoryBatch struct {
	batch types.Batch
	items []types.BatchItem
}

// MemoryRepository is the in-process BatchRepository.
type MemoryRepository struct {
	mu      sync.RWMutex
	batches map[string]map[string]*memoryBatch
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{batches: make(map[string]map[string]*memoryBatch)}
}

func (r *MemoryRepository) CreateBatch(ctx context.Context, tenantID string, pb types.ProposedBatch) error {
	if err := ctx.Err(); err != nil {
		return httperr.Wrap(httperr.KindTransactionFailure, "TRANSACTION_TIMEOUT", "transaction did not complete", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.batches[tenantID] == nil {
		r.batches[tenantID] = make(map[string]*memoryBatch)
	}
	if _, ok := r.batches[tenantID][pb.Batch.ID]; ok {
		return httperr.NewConflict("ADJUST_BATCH_EXISTS", "batch already exists", false, nil)
	}
	mb := &memoryBatch{batch: cloneBatch(pb.Batch), items: make([]types.BatchItem, 0, len(pb.Items))}
	for _, it := range pb.Items {
		mb.items = append(mb.items, cloneItem(it))
	}
	r.batches[tenantID][pb.Batch.ID] = mb
	return nil
}

func (r *MemoryRepository) GetBatch(_ context.Context, tenantID string, batchID string) (types.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mb, ok := r.batches[tenantID][batchID]
	if !ok {
		return types.Batch{}, types.ErrBatchNotFound(batchID)
	}
	return cloneBatch(mb.batch), nil
}

func (r *MemoryRepository) ListBatches(_ context.Context, tenantID string, kind types.Kind) ([]types.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Batch, 0)
	for _, mb := range r.batches[tenantID] {
		if mb.batch.Kind == kind {
			out = append(out, cloneBatch(mb.batch))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *MemoryRepository) ListItems(_ context.Context, tenantID string, batchID string) ([]types.BatchItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mb, ok := r.batches[tenantID][batchID]
	if !ok {
		return nil, types.ErrBatchNotFound(batchID)
	}
	out := make([]types.BatchItem, 0, len(mb.items))
	for _, it := range mb.items {
		out = append(out, cloneItem(it))
	}
	return out, nil
}

func (r *MemoryRepository) SaveConfirmation(_ context.Context, tenantID string, batchID string, overrides map[string]json.RawMessage, at time.Time) (types.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mb, ok := r.batches[tenantID][batchID]
	if !ok {
		return types.Batch{}, types.ErrBatchNotFound(batchID)
	}
	if !mb.batch.Status.CanTransition(types.StatusConfirmed) {
		return types.Batch{}, types.ErrInvalidState("confirm", mb.batch.Status)
	}
	index := make(map[string]int, len(mb.items))
	for i, it := range mb.items {
		index[it.ID] = i
	}
	for id := range overrides {
		if _, ok := index[id]; !ok {
			return types.Batch{}, types.ErrItemNotFound(id)
		}
	}
	for id, values := range overrides {
		mb.items[index[id]].ProposedValues = append(json.RawMessage(nil), values...)
	}
	at = at.UTC()
	mb.batch.Status = types.StatusConfirmed
	mb.batch.ConfirmedAt = &at
	return cloneBatch(mb.batch), nil
}

func (r *MemoryRepository) MarkApplied(_ context.Context, tenantID string, batchID string, affectedCount int, at time.Time) (types.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mb, ok := r.batches[tenantID][batchID]
	if !ok {
		return types.Batch{}, types.ErrBatchNotFound(batchID)
	}
	if !mb.batch.Status.CanTransition(types.StatusApplied) {
		return types.Batch{}, types.ErrInvalidState("apply", mb.batch.Status)
	}
	at = at.UTC()
	mb.batch.Status = types.StatusApplied
	mb.batch.AffectedCount = affectedCount
	mb.batch.AppliedAt = &at
	return cloneBatch(mb.batch), nil
}

func (r *MemoryRepository) DeleteBatch(_ context.Context, tenantID string, batchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mb, ok := r.batches[tenantID][batchID]
	if !ok {
		return types.ErrBatchNotFound(batchID)
	}
	if mb.batch.Status.Terminal() {
		return types.ErrInvalidState("discard", mb.batch.Status)
	}
	delete(r.batches[tenantID], batchID)
	return nil
}

func cloneBatch(b types.Batch) types.Batch {
	out := b
	out.Defaults = append(json.RawMessage(nil), b.Defaults...)
	out.Skipped = append([]types.SkippedPerson{}, b.Skipped...)
	out.Criteria = cloneCriteria(b.Criteria)
	if b.ConfirmedAt != nil {
		t := *b.ConfirmedAt
		out.ConfirmedAt = &t
	}
	if b.AppliedAt != nil {
		t := *b.AppliedAt
		out.AppliedAt = &t
	}
	return out
}

func cloneCriteria(c types.Criteria) types.Criteria {
	dup := func(s *string) *string {
		if s == nil {
			return nil
		}
		v := *s
		return &v
	}
	return types.Criteria{
		TargetCompany:      dup(c.TargetCompany),
		TargetDepartment:   dup(c.TargetDepartment),
		TargetEmployeeType: dup(c.TargetEmployeeType),
		TargetExpr:         c.TargetExpr,
	}
}

func cloneItem(it types.BatchItem) types.BatchItem {
	out := it
	out.CurrentSnapshot = append(json.RawMessage(nil), it.CurrentSnapshot...)
	out.ProposedValues = append(json.RawMessage(nil), it.ProposedValues...)
	return out
}
