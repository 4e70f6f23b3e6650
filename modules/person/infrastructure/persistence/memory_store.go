package persistence

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/types"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
)

type historyKey struct {
	tenantID   string
	personUUID string
	aspect     types.Aspect
}

type batchKey struct {
	tenantID      string
	sourceBatchID string
	personUUID    string
	aspect        types.Aspect
}

// MemoryStore implements PersonStore and RecordStore in process. Record
// slices are append-only and data bytes are copied on the way in and out.
type MemoryStore struct {
	mu        sync.RWMutex
	now       func() time.Time
	persons   map[string][]types.Person
	histories map[historyKey][]types.Record
	byBatch   map[batchKey]int64
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:       now,
		persons:   make(map[string][]types.Person),
		histories: make(map[historyKey][]types.Record),
		byBatch:   make(map[batchKey]int64),
	}
}

func (s *MemoryStore) ListPersons(_ context.Context, tenantID string) ([]types.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]types.Person(nil), s.persons[tenantID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].PersonUUID < out[j].PersonUUID })
	return out, nil
}

func (s *MemoryStore) GetPerson(_ context.Context, tenantID string, personUUID string) (types.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.findPerson(tenantID, personUUID)
	if !ok {
		return types.Person{}, types.ErrPersonNotFound(personUUID)
	}
	return p, nil
}

func (s *MemoryStore) CreatePerson(_ context.Context, tenantID string, pernr string, displayName string) (types.Person, error) {
	canonical, err := types.NormalizePernr(pernr)
	if err != nil {
		return types.Person{}, err
	}
	displayName, err = types.NormalizeDisplayName(displayName)
	if err != nil {
		return types.Person{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.persons[tenantID] {
		if p.Pernr == canonical {
			return types.Person{}, httperr.NewConflict("PERNR_ALREADY_EXISTS", "pernr already exists", false, nil)
		}
	}
	id, err := uuid.NewV7()
	if err != nil {
		return types.Person{}, err
	}
	p := types.Person{
		PersonUUID:  id.String(),
		Pernr:       canonical,
		DisplayName: displayName,
		CreatedAt:   s.now().UTC(),
	}
	s.persons[tenantID] = append(s.persons[tenantID], p)
	return p, nil
}

func (s *MemoryStore) Append(ctx context.Context, tenantID string, in types.AppendInput) (types.Record, error) {
	res, err := s.AppendAll(ctx, tenantID, []types.AppendInput{in})
	if err != nil {
		return types.Record{}, err
	}
	return res[0].Record, nil
}

// AppendAll validates every input against the state under one write lock
// before writing anything, so a failure leaves the store untouched.
func (s *MemoryStore) AppendAll(ctx context.Context, tenantID string, inputs []types.AppendInput) ([]types.AppendResult, error) {
	for _, in := range inputs {
		if err := in.Validate(); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, httperr.Wrap(httperr.KindTransactionFailure, "TRANSACTION_TIMEOUT", "transaction did not complete", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type planned struct {
		key      historyKey
		existing *types.Record
		record   types.Record
	}
	plan := make([]planned, len(inputs))
	seen := make(map[historyKey]bool)
	now := s.now().UTC()

	for i, in := range inputs {
		key := historyKey{tenantID: tenantID, personUUID: in.PersonUUID, aspect: in.Aspect}
		if _, ok := s.findPerson(tenantID, in.PersonUUID); !ok {
			return nil, types.ErrPersonNotFound(in.PersonUUID)
		}
		if in.SourceBatchID != "" {
			if v, ok := s.byBatch[batchKey{tenantID, in.SourceBatchID, in.PersonUUID, in.Aspect}]; ok {
				rec := s.histories[key][v-1]
				plan[i] = planned{key: key, existing: &rec}
				continue
			}
		}
		if seen[key] {
			return nil, httperr.New(httperr.KindValidation, "RECORD_DUPLICATE_INPUT", "person aspect appears twice in one append: "+in.PersonUUID+"/"+string(in.Aspect))
		}
		seen[key] = true

		hist := s.histories[key]
		last := int64(len(hist))
		if in.ExpectedVersion != nil && *in.ExpectedVersion != last {
			return nil, types.ErrStaleBaseVersion(in.PersonUUID, in.Aspect)
		}
		ts := now
		if last > 0 && hist[last-1].TS.After(ts) {
			ts = hist[last-1].TS
		}
		plan[i] = planned{key: key, record: types.Record{
			PersonUUID:    in.PersonUUID,
			Aspect:        in.Aspect,
			Version:       last + 1,
			TS:            ts,
			Data:          append(json.RawMessage(nil), in.Data...),
			SourceBatchID: in.SourceBatchID,
		}}
	}

	out := make([]types.AppendResult, len(inputs))
	for i, p := range plan {
		if p.existing != nil {
			out[i] = types.AppendResult{Record: cloneRecord(*p.existing), Existing: true}
			continue
		}
		s.histories[p.key] = append(s.histories[p.key], p.record)
		if p.record.SourceBatchID != "" {
			s.byBatch[batchKey{tenantID, p.record.SourceBatchID, p.record.PersonUUID, p.record.Aspect}] = p.record.Version
		}
		out[i] = types.AppendResult{Record: cloneRecord(p.record)}
	}
	return out, nil
}

func (s *MemoryStore) Current(_ context.Context, tenantID string, personUUID string, aspect types.Aspect) (types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist, err := s.historyLocked(tenantID, personUUID, aspect)
	if err != nil {
		return types.Record{}, err
	}
	if len(hist) == 0 {
		return types.Record{}, types.ErrRecordNotFound(personUUID, aspect)
	}
	return cloneRecord(hist[len(hist)-1]), nil
}

func (s *MemoryStore) History(_ context.Context, tenantID string, personUUID string, aspect types.Aspect) ([]types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist, err := s.historyLocked(tenantID, personUUID, aspect)
	if err != nil {
		return nil, err
	}
	out := make([]types.Record, 0, len(hist))
	for _, r := range hist {
		out = append(out, cloneRecord(r))
	}
	return out, nil
}

func (s *MemoryStore) AsOf(_ context.Context, tenantID string, personUUID string, aspect types.Aspect, at time.Time) (types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist, err := s.historyLocked(tenantID, personUUID, aspect)
	if err != nil {
		return types.Record{}, err
	}
	rec, ok := asOf(hist, at)
	if !ok {
		return types.Record{}, types.ErrRecordNotFound(personUUID, aspect)
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Snapshot(_ context.Context, tenantID string, aspect types.Aspect, at *time.Time) (map[string]types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.Record)
	for _, p := range s.persons[tenantID] {
		hist := s.histories[historyKey{tenantID: tenantID, personUUID: p.PersonUUID, aspect: aspect}]
		if len(hist) == 0 {
			continue
		}
		rec := hist[len(hist)-1]
		if at != nil {
			var ok bool
			if rec, ok = asOf(hist, *at); !ok {
				continue
			}
		}
		out[p.PersonUUID] = cloneRecord(rec)
	}
	return out, nil
}

func (s *MemoryStore) historyLocked(tenantID string, personUUID string, aspect types.Aspect) ([]types.Record, error) {
	if _, err := types.ParseAspect(string(aspect)); err != nil {
		return nil, err
	}
	if _, ok := s.findPerson(tenantID, personUUID); !ok {
		return nil, types.ErrPersonNotFound(personUUID)
	}
	return s.histories[historyKey{tenantID: tenantID, personUUID: personUUID, aspect: aspect}], nil
}

func (s *MemoryStore) findPerson(tenantID string, personUUID string) (types.Person, bool) {
	i := slices.IndexFunc(s.persons[tenantID], func(p types.Person) bool { return p.PersonUUID == personUUID })
	if i < 0 {
		return types.Person{}, false
	}
	return s.persons[tenantID][i], true
}

// asOf returns the highest version with ts <= at. ts is non-decreasing in
// version, so the first version after at ends the scan.
func asOf(hist []types.Record, at time.Time) (types.Record, bool) {
	i := sort.Search(len(hist), func(i int) bool { return hist[i].TS.After(at) })
	if i == 0 {
		return types.Record{}, false
	}
	return hist[i-1], true
}

func cloneRecord(r types.Record) types.Record {
	r.Data = append(json.RawMessage(nil), r.Data...)
	return r
}
