package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jacksonlee411/hr-batch-adjust/internal/metrics"
	"github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/domain/calculator"
	"github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/domain/ports"
	"github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/domain/targeting"
	"github.com/jacksonlee411/hr-batch-adjust/modules/adjustment/domain/types"
	personports "github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/ports"
	persontypes "github.com/jacksonlee411/hr-batch-adjust/modules/person/domain/types"
	"github.com/jacksonlee411/hr-batch-adjust/pkg/httperr"
)

type EngineConfig struct {
	Persons     personports.PersonStore
	Records     personports.RecordStore
	Batches     ports.BatchRepository
	Calculators *calculator.Registry
	Metrics     *metrics.Adjustment
	Logger      *zap.Logger
	Now         func() time.Time

	PreviewParallelism int
	ExecuteMaxRetries  uint64
	ExecuteRetryBase   time.Duration
	ExecuteTimeout     time.Duration
}

// Engine runs the preview -> confirm -> execute workflow for every
// adjustment kind. Confirm, execute and discard serialize per batch; preview
// takes no locks.
type Engine struct {
	persons personports.PersonStore
	records personports.RecordStore
	batches ports.BatchRepository
	calcs   *calculator.Registry
	metrics *metrics.Adjustment
	logger  *zap.Logger
	now     func() time.Time

	parallelism int
	maxRetries  uint64
	retryBase   time.Duration
	timeout     time.Duration

	locks *keyedMutex
}

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		persons:     cfg.Persons,
		records:     cfg.Records,
		batches:     cfg.Batches,
		calcs:       cfg.Calculators,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         cfg.Now,
		parallelism: cfg.PreviewParallelism,
		maxRetries:  cfg.ExecuteMaxRetries,
		retryBase:   cfg.ExecuteRetryBase,
		timeout:     cfg.ExecuteTimeout,
		locks:       newKeyedMutex(),
	}
	if e.calcs == nil {
		e.calcs = calculator.DefaultRegistry(calculator.DefaultSettings())
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.parallelism < 1 {
		e.parallelism = 8
	}
	if e.retryBase <= 0 {
		e.retryBase = 50 * time.Millisecond
	}
	if e.timeout <= 0 {
		e.timeout = 30 * time.Second
	}
	return e
}

type proposal struct {
	person persontypes.Person
	record persontypes.Record
	values json.RawMessage
	err    error
}

// Preview scans candidates, runs the kind's calculator and stores a new
// previewed batch. It never writes to the record store.
func (e *Engine) Preview(ctx context.Context, tenantID string, req types.PreviewRequest) (types.ProposedBatch, error) {
	calc, err := e.calcs.Get(req.Kind)
	if err != nil {
		return types.ProposedBatch{}, err
	}
	effective, err := persontypes.ParseDate("effective_date", req.EffectiveDate)
	if err != nil {
		return types.ProposedBatch{}, err
	}
	matcher, err := targeting.Compile(req.Criteria)
	if err != nil {
		return types.ProposedBatch{}, err
	}
	proposer, err := calc.Prepare(req.Defaults)
	if err != nil {
		return types.ProposedBatch{}, err
	}
	defaults, err := compactDefaults(req.Defaults)
	if err != nil {
		return types.ProposedBatch{}, err
	}

	persons, err := e.persons.ListPersons(ctx, tenantID)
	if err != nil {
		return types.ProposedBatch{}, err
	}
	var positions, current map[string]persontypes.Record
	g, gctx := errgroup.WithContext(ctx)
	if matcher.NeedsPosition() {
		g.Go(func() error {
			var err error
			positions, err = e.records.Snapshot(gctx, tenantID, persontypes.AspectPosition, nil)
			return err
		})
	}
	g.Go(func() error {
		var err error
		current, err = e.records.Snapshot(gctx, tenantID, req.Kind.Aspect(), nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return types.ProposedBatch{}, err
	}

	sort.Slice(persons, func(i, j int) bool { return persons[i].PersonUUID < persons[j].PersonUUID })

	var skipped []types.SkippedPerson
	var included []*proposal
	total := 0
	for _, p := range persons {
		cand := targeting.Candidate{Person: p}
		if rec, ok := positions[p.PersonUUID]; ok {
			pos, err := persontypes.DecodePosition(rec.Data)
			if err != nil {
				skipped = append(skipped, types.SkippedPerson{PersonUUID: p.PersonUUID, Reason: "position record is corrupt: " + err.Error()})
				continue
			}
			cand.Position, cand.HasPosition = pos, true
		}
		ok, err := matcher.Match(cand)
		if err != nil {
			return types.ProposedBatch{}, err
		}
		if !ok {
			continue
		}
		total++
		rec, ok := current[p.PersonUUID]
		if !ok {
			continue
		}
		included = append(included, &proposal{person: p, record: rec})
	}

	pg, _ := errgroup.WithContext(ctx)
	pg.SetLimit(e.parallelism)
	for _, pr := range included {
		pg.Go(func() error {
			pr.values, pr.err = proposer.Propose(pr.record)
			return nil
		})
	}
	_ = pg.Wait()

	now := e.now().UTC()
	batchID, err := uuid.NewV7()
	if err != nil {
		return types.ProposedBatch{}, err
	}
	pb := types.ProposedBatch{Batch: types.Batch{
		ID:            batchID.String(),
		Kind:          req.Kind,
		Status:        types.StatusPreviewed,
		EffectiveDate: effective.Format(persontypes.DateLayout),
		Criteria:      matcher.Criteria(),
		Defaults:      defaults,
		TotalPersons:  total,
		CreatedAt:     now,
	}}
	for _, pr := range included {
		if pr.err != nil {
			if !httperr.Is(pr.err, httperr.KindCorruptRecord) {
				return types.ProposedBatch{}, pr.err
			}
			e.logger.Warn("preview skipped person",
				zap.String("kind", string(req.Kind)),
				zap.String("person_uuid", pr.person.PersonUUID),
				zap.String("reason", pr.err.Error()),
			)
			skipped = append(skipped, types.SkippedPerson{PersonUUID: pr.person.PersonUUID, Reason: pr.err.Error()})
			continue
		}
		itemID, err := uuid.NewV7()
		if err != nil {
			return types.ProposedBatch{}, err
		}
		pb.Items = append(pb.Items, types.BatchItem{
			ID:              itemID.String(),
			BatchID:         pb.Batch.ID,
			Seq:             len(pb.Items) + 1,
			PersonUUID:      pr.person.PersonUUID,
			CurrentSnapshot: pr.record.Data,
			BaseVersion:     pr.record.Version,
			ProposedValues:  pr.values,
		})
	}
	if pb.Items == nil {
		pb.Items = []types.BatchItem{}
	}
	pb.Batch.AffectedCount = len(pb.Items)
	pb.Batch.Skipped = append([]types.SkippedPerson{}, skipped...)

	if err := e.batches.CreateBatch(ctx, tenantID, pb); err != nil {
		return types.ProposedBatch{}, err
	}
	e.metrics.BatchTransition(string(req.Kind), string(types.StatusPreviewed))
	e.metrics.Skipped(string(req.Kind), len(skipped))
	e.logger.Info("batch previewed",
		zap.String("batch_id", pb.Batch.ID),
		zap.String("kind", string(req.Kind)),
		zap.String("status", string(types.StatusPreviewed)),
		zap.Int("total_persons", total),
		zap.Int("affected_count", pb.Batch.AffectedCount),
		zap.Int("skipped", len(skipped)),
	)
	return pb, nil
}

// Confirm stores operator overrides verbatim (after validation) and moves the
// batch to confirmed. Items without an override keep their preview values.
func (e *Engine) Confirm(ctx context.Context, tenantID string, kind types.Kind, batchID string, overrides []types.ItemOverride) (types.Batch, error) {
	unlock := e.locks.Lock(lockKey(tenantID, batchID))
	defer unlock()

	b, err := e.batchOfKind(ctx, tenantID, kind, batchID)
	if err != nil {
		return types.Batch{}, err
	}
	if b.Status != types.StatusPreviewed {
		return types.Batch{}, types.ErrInvalidState("confirm", b.Status)
	}
	calc, err := e.calcs.Get(kind)
	if err != nil {
		return types.Batch{}, err
	}
	items, err := e.batches.ListItems(ctx, tenantID, batchID)
	if err != nil {
		return types.Batch{}, err
	}
	known := make(map[string]bool, len(items))
	for _, it := range items {
		known[it.ID] = true
	}

	values := make(map[string]json.RawMessage, len(overrides))
	for _, o := range overrides {
		id := strings.TrimSpace(o.ItemID)
		if !known[id] {
			return types.Batch{}, types.ErrItemNotFound(id)
		}
		if _, dup := values[id]; dup {
			return types.Batch{}, httperr.New(httperr.KindValidation, "ADJUST_ITEM_DUPLICATE", "item overridden twice: "+id)
		}
		v, err := calc.Validate(o.ProposedValues)
		if err != nil {
			return types.Batch{}, err
		}
		values[id] = v
	}

	b, err = e.batches.SaveConfirmation(ctx, tenantID, batchID, values, e.now())
	if err != nil {
		return types.Batch{}, err
	}
	e.metrics.BatchTransition(string(kind), string(types.StatusConfirmed))
	e.logger.Info("batch confirmed",
		zap.String("batch_id", batchID),
		zap.String("kind", string(kind)),
		zap.String("status", string(b.Status)),
		zap.Int("overrides", len(values)),
	)
	return b, nil
}

// Execute appends one version per item and marks the batch applied, all or
// nothing. Executing an applied batch returns it unchanged.
func (e *Engine) Execute(ctx context.Context, tenantID string, kind types.Kind, batchID string) (types.Batch, error) {
	unlock := e.locks.Lock(lockKey(tenantID, batchID))
	defer unlock()

	started := e.now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	b, err := e.batchOfKind(ctx, tenantID, kind, batchID)
	if err != nil {
		return types.Batch{}, err
	}
	if b.Status == types.StatusApplied {
		return b, nil
	}
	if b.Status != types.StatusConfirmed {
		return types.Batch{}, types.ErrInvalidState("execute", b.Status)
	}
	items, err := e.batches.ListItems(ctx, tenantID, batchID)
	if err != nil {
		return types.Batch{}, err
	}
	inputs := make([]persontypes.AppendInput, 0, len(items))
	for _, it := range items {
		base := it.BaseVersion
		inputs = append(inputs, persontypes.AppendInput{
			PersonUUID:      it.PersonUUID,
			Aspect:          kind.Aspect(),
			Data:            it.ProposedValues,
			ExpectedVersion: &base,
			SourceBatchID:   batchID,
		})
	}

	backoff := retry.WithMaxRetries(e.maxRetries, retry.NewExponential(e.retryBase))
	var applied types.Batch
	var appended int
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var attemptErr error
		applied, appended, attemptErr = e.apply(ctx, tenantID, batchID, inputs)
		if attemptErr != nil && httperr.IsRetryable(attemptErr) {
			e.metrics.ExecuteRetry(string(kind))
			e.logger.Warn("batch execute retry",
				zap.String("batch_id", batchID),
				zap.String("kind", string(kind)),
				zap.Error(attemptErr),
			)
			return retry.RetryableError(attemptErr)
		}
		return attemptErr
	})
	if err != nil {
		if _, ok := httperr.As(err); !ok && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			err = httperr.Wrap(httperr.KindTransactionFailure, "TRANSACTION_TIMEOUT", "execution did not complete; batch is still confirmed", err)
		}
		e.metrics.ObserveExecute(string(kind), "error", e.now().Sub(started))
		e.logger.Error("batch execute failed",
			zap.String("batch_id", batchID),
			zap.String("kind", string(kind)),
			zap.Bool("retryable", httperr.IsRetryable(err)),
			zap.Error(err),
		)
		return types.Batch{}, err
	}

	e.metrics.ItemsAppended(string(kind), appended)
	e.metrics.BatchTransition(string(kind), string(types.StatusApplied))
	e.metrics.ObserveExecute(string(kind), "applied", e.now().Sub(started))
	e.logger.Info("batch applied",
		zap.String("batch_id", batchID),
		zap.String("kind", string(kind)),
		zap.String("status", string(applied.Status)),
		zap.Int("affected_count", applied.AffectedCount),
		zap.Int("appended", appended),
	)
	return applied, nil
}

// apply runs one attempt. Record appends are idempotent per batch, so an
// attempt that appended everything but failed to flip the status is safe to
// repeat.
func (e *Engine) apply(ctx context.Context, tenantID string, batchID string, inputs []persontypes.AppendInput) (types.Batch, int, error) {
	if applier, ok := e.batches.(ports.BatchApplier); ok {
		b, results, err := applier.ApplyBatch(ctx, tenantID, batchID, inputs, e.now())
		if err != nil {
			return types.Batch{}, 0, err
		}
		return b, countAppended(results), nil
	}

	results, err := e.records.AppendAll(ctx, tenantID, inputs)
	if err != nil {
		return types.Batch{}, 0, err
	}
	b, err := e.batches.MarkApplied(ctx, tenantID, batchID, len(inputs), e.now())
	if err != nil {
		if httperr.Is(err, httperr.KindInvalidState) || httperr.Is(err, httperr.KindNotFound) {
			return types.Batch{}, 0, err
		}
		return types.Batch{}, 0, httperr.Wrap(httperr.KindTransactionFailure, "ADJUST_EXECUTE_INCOMPLETE", "execution did not complete; batch is still confirmed", err)
	}
	return b, countAppended(results), nil
}

func (e *Engine) Detail(ctx context.Context, tenantID string, kind types.Kind, batchID string) (types.ProposedBatch, error) {
	b, err := e.batchOfKind(ctx, tenantID, kind, batchID)
	if err != nil {
		return types.ProposedBatch{}, err
	}
	items, err := e.batches.ListItems(ctx, tenantID, batchID)
	if err != nil {
		return types.ProposedBatch{}, err
	}
	return types.ProposedBatch{Batch: b, Items: items}, nil
}

func (e *Engine) List(ctx context.Context, tenantID string, kind types.Kind) ([]types.Batch, error) {
	return e.batches.ListBatches(ctx, tenantID, kind)
}

// Discard deletes a batch that was never applied.
func (e *Engine) Discard(ctx context.Context, tenantID string, kind types.Kind, batchID string) error {
	unlock := e.locks.Lock(lockKey(tenantID, batchID))
	defer unlock()

	b, err := e.batchOfKind(ctx, tenantID, kind, batchID)
	if err != nil {
		return err
	}
	if b.Status.Terminal() {
		return types.ErrInvalidState("discard", b.Status)
	}
	if err := e.batches.DeleteBatch(ctx, tenantID, batchID); err != nil {
		return err
	}
	e.logger.Info("batch discarded",
		zap.String("batch_id", batchID),
		zap.String("kind", string(kind)),
		zap.String("status", string(b.Status)),
	)
	return nil
}

// batchOfKind hides batches of other kinds behind NotFound.
func (e *Engine) batchOfKind(ctx context.Context, tenantID string, kind types.Kind, batchID string) (types.Batch, error) {
	b, err := e.batches.GetBatch(ctx, tenantID, strings.TrimSpace(batchID))
	if err != nil {
		return types.Batch{}, err
	}
	if b.Kind != kind {
		return types.Batch{}, types.ErrBatchNotFound(batchID)
	}
	return b, nil
}

func compactDefaults(raw json.RawMessage) (json.RawMessage, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return json.RawMessage(`{}`), nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, httperr.Wrap(httperr.KindValidation, "ADJUST_DEFAULTS_INVALID", "defaults must be a JSON object", err)
	}
	if m == nil {
		return json.RawMessage(`{}`), nil
	}
	return json.Marshal(m)
}

func countAppended(results []persontypes.AppendResult) int {
	n := 0
	for _, r := range results {
		if !r.Existing {
			n++
		}
	}
	return n
}

func lockKey(tenantID string, batchID string) string {
	return tenantID + "|" + strings.TrimSpace(batchID)
}
