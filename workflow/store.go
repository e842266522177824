package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/songzhibin97/gkit/generator"
	"go.uber.org/zap"

	"github.com/songzhibin97/workflow-approval/directory"
	"github.com/songzhibin97/workflow-approval/events"
	"github.com/songzhibin97/workflow-approval/storage"
	"github.com/songzhibin97/workflow-approval/types"
)

// WorkflowStore owns the canonical collection of workflow definitions.
//
// Mutations on one id are serialized by a per-id lock. Each mutation writes
// the whole collection, with the change applied, to storage before it becomes
// visible to readers, so a failed write leaves the store exactly as it was.
type WorkflowStore struct {
	storage  storage.Storage
	logger   *zap.Logger
	now      func() time.Time
	ctrl     Controller
	gate     ApprovalGate
	dir      directory.Directory
	eventBus *events.EventBus
	generate generator.Generator
	initial  []types.WorkflowDefinition

	locks     *keyedMutex
	persistMu sync.Mutex // serializes snapshot writes and commits

	mu        sync.RWMutex
	workflows map[string]types.WorkflowDefinition
	sequence  uint64
}

// Option configures a WorkflowStore.
type Option func(*WorkflowStore)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *WorkflowStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now as the source of timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *WorkflowStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithQuorum sets the quorum policy. The default is AllOf.
func WithQuorum(policy QuorumPolicy) Option {
	return func(s *WorkflowStore) {
		s.gate = NewApprovalGate(policy)
	}
}

// WithDirectory makes create and update reject approvers the directory does
// not know.
func WithDirectory(dir directory.Directory) Option {
	return func(s *WorkflowStore) {
		s.dir = dir
	}
}

// WithEventBus publishes lifecycle events to bus after each committed mutation.
// Delivery is best effort: an event the bus cannot queue is dropped, logged
// and counted by the bus, and the mutation still succeeds.
func WithEventBus(bus *events.EventBus) Option {
	return func(s *WorkflowStore) {
		s.eventBus = bus
	}
}

// WithIDGenerator replaces the default Sequence. Generators that implement
// Advance(uint64) are moved past every loaded id.
func WithIDGenerator(generate generator.Generator) Option {
	return func(s *WorkflowStore) {
		if generate != nil {
			s.generate = generate
		}
	}
}

// WithInitial seeds the store when storage holds no snapshot yet.
func WithInitial(workflows []types.WorkflowDefinition) Option {
	return func(s *WorkflowStore) {
		s.initial = workflows
	}
}

// NewWorkflowStore loads the snapshot held by st. When st has none, the store
// starts from the WithInitial collection and persists it. A nil st means an
// in-memory storage.
func NewWorkflowStore(ctx context.Context, st storage.Storage, options ...Option) (*WorkflowStore, error) {
	if st == nil {
		st = storage.NewMemoryStorage()
	}
	s := &WorkflowStore{
		storage:   st,
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
		gate:      NewApprovalGate(AllOf{}),
		locks:     newKeyedMutex(),
		workflows: make(map[string]types.WorkflowDefinition),
	}
	for _, option := range options {
		option(s)
	}

	snap, err := st.LoadSnapshot(ctx)
	seeded := false
	switch {
	case errors.Is(err, storage.ErrSnapshotNotFound):
		snap = types.Snapshot{Version: storage.SnapshotVersion, Workflows: s.initial}
		seeded = true
	case err != nil:
		return nil, fmt.Errorf("%w: load snapshot: %w", ErrPersistence, err)
	}

	floor := snap.Sequence
	for _, wf := range snap.Workflows {
		if wf.ID == "" {
			return nil, fmt.Errorf("%w: snapshot holds a workflow without id", ErrPersistence)
		}
		if !wf.Status.IsValid() {
			return nil, fmt.Errorf("%w: workflow %s has invalid status", ErrPersistence, wf.ID)
		}
		if _, dup := s.workflows[wf.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate workflow id %s", ErrPersistence, wf.ID)
		}
		s.workflows[wf.ID] = wf.Clone()
		if n, ok := ParseID(wf.ID); ok && n > floor {
			floor = n
		}
	}
	s.sequence = floor

	if s.generate == nil {
		s.generate = NewSequence(floor)
	} else if adv, ok := s.generate.(advancer); ok {
		adv.Advance(floor)
	}

	if seeded {
		if err := st.SaveSnapshot(ctx, s.snapshotLocked()); err != nil {
			return nil, fmt.Errorf("%w: save initial snapshot: %w", ErrPersistence, err)
		}
	}

	s.logger.Info("workflow store loaded",
		zap.Int("workflows", len(s.workflows)),
		zap.Uint64("sequence", s.sequence),
		zap.Bool("seeded", seeded),
		zap.Stringer("quorum", s.gate.Policy))
	return s, nil
}

// Create stores a new Draft definition. ID, status, approvals and timestamps
// of def are ignored and assigned by the store.
func (s *WorkflowStore) Create(ctx context.Context, def types.WorkflowDefinition) (types.WorkflowDefinition, error) {
	if err := ctx.Err(); err != nil {
		return types.WorkflowDefinition{}, err
	}
	if err := ValidateDefinition(def); err != nil {
		return types.WorkflowDefinition{}, err
	}
	if err := checkApprovers(ctx, s.dir, def.RequiredApprovers); err != nil {
		return types.WorkflowDefinition{}, err
	}

	n, err := s.generate.NextID()
	if err != nil {
		return types.WorkflowDefinition{}, fmt.Errorf("allocate workflow id: %w", err)
	}
	id := FormatID(n)

	unlock := s.locks.Lock(id)
	defer unlock()

	if _, exists := s.lookup(id); exists {
		return types.WorkflowDefinition{}, fmt.Errorf("%w: %s", ErrIDConflict, id)
	}

	now := s.now()
	wf := def.Clone()
	wf.ID = id
	wf.Status = types.StatusDraft
	wf.Approvals = []types.ApprovalRecord{}
	wf.CreatedAt = now
	wf.UpdatedAt = now
	if wf.Stages == nil {
		wf.Stages = []types.Stage{}
	}
	if wf.RequiredApprovers == nil {
		wf.RequiredApprovers = []string{}
	}
	assignStageIDs(wf.Stages)

	if err := s.commit(ctx, "create", &wf, "", n); err != nil {
		return types.WorkflowDefinition{}, err
	}
	s.warnDegenerate(wf)
	s.publish(ctx, events.WorkflowCreated, wf.ID, map[string]interface{}{
		"name":   wf.Name,
		"status": wf.Status.String(),
	})
	return wf.Clone(), nil
}

// Update applies patch to a Draft or Suspended definition.
func (s *WorkflowStore) Update(ctx context.Context, id string, patch types.WorkflowPatch) (types.WorkflowDefinition, error) {
	var (
		before  types.Status
		changed bool
	)
	wf, err := s.mutate(ctx, "update", id, func(cur types.WorkflowDefinition) (types.WorkflowDefinition, bool, error) {
		before = cur.Status
		if !Can(cur.Status, EventEdit) {
			return cur, false, withID(illegal(cur.Status, EventEdit), id)
		}
		if err := ValidatePatch(patch); err != nil {
			return cur, false, err
		}
		if patch.Empty() {
			return cur, false, nil
		}
		next, err := s.ctrl.Edit(cur, patch, s.now())
		if err != nil {
			return cur, false, err
		}
		if err := ValidateDefinition(next); err != nil {
			return cur, false, err
		}
		if patch.RequiredApprovers != nil {
			if err := checkApprovers(ctx, s.dir, next.RequiredApprovers); err != nil {
				return cur, false, err
			}
		}
		assignStageIDs(next.Stages)
		changed = true
		return next, true, nil
	})
	if err != nil || !changed {
		return wf, err
	}
	if patch.RequiredApprovers != nil {
		s.warnDegenerate(wf)
	}
	s.publish(ctx, events.WorkflowUpdated, id, nil)
	if wf.Status != before {
		s.publishStatus(ctx, id, before, wf.Status)
	}
	return wf, nil
}

// Delete removes a Draft or Suspended definition. Its id is never reissued.
func (s *WorkflowStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	cur, ok := s.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.ctrl.CheckDelete(cur); err != nil {
		return err
	}
	if err := s.commit(ctx, "delete", nil, id, 0); err != nil {
		return err
	}
	s.publish(ctx, events.WorkflowDeleted, id, map[string]interface{}{
		"status": cur.Status.String(),
	})
	return nil
}

// RequestApproval moves a Draft definition to PendingApproval and starts a
// fresh approval cycle.
func (s *WorkflowStore) RequestApproval(ctx context.Context, id string) (types.WorkflowDefinition, error) {
	return s.transition(ctx, "request_approval", id, s.ctrl.RequestApproval)
}

// Approve records staffID's approval. The definition becomes Active once the
// quorum policy is satisfied.
func (s *WorkflowStore) Approve(ctx context.Context, id, staffID string) (types.WorkflowDefinition, error) {
	var activated bool
	wf, err := s.mutate(ctx, "approve", id, func(cur types.WorkflowDefinition) (types.WorkflowDefinition, bool, error) {
		next, ok, err := s.gate.Approve(cur, staffID, s.now())
		if err != nil {
			return cur, false, err
		}
		activated = ok
		return next, true, nil
	})
	if err != nil {
		return wf, err
	}
	s.publish(ctx, events.ApprovalRecorded, id, map[string]interface{}{
		"staffId":  staffID,
		"approved": len(wf.Approvals),
		"required": len(wf.RequiredApprovers),
	})
	if activated {
		s.logger.Info("workflow activated", zap.String("id", id), zap.Int("approvals", len(wf.Approvals)))
		s.publishStatus(ctx, id, types.StatusPendingApproval, types.StatusActive)
	}
	return wf, nil
}

// Suspend moves an Active definition to Suspended.
func (s *WorkflowStore) Suspend(ctx context.Context, id string) (types.WorkflowDefinition, error) {
	return s.transition(ctx, "suspend", id, s.ctrl.Suspend)
}

// Reactivate moves a Suspended definition back to Active.
func (s *WorkflowStore) Reactivate(ctx context.Context, id string) (types.WorkflowDefinition, error) {
	return s.transition(ctx, "reactivate", id, s.ctrl.Reactivate)
}

// Get returns a copy of the definition with the given id.
func (s *WorkflowStore) Get(ctx context.Context, id string) (types.WorkflowDefinition, error) {
	if err := ctx.Err(); err != nil {
		return types.WorkflowDefinition{}, err
	}
	wf, ok := s.lookup(id)
	if !ok {
		return types.WorkflowDefinition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return wf, nil
}

// List returns copies of all definitions ordered by id number. When statuses
// are given only definitions in one of them are returned.
func (s *WorkflowStore) List(ctx context.Context, statuses ...types.Status) ([]types.WorkflowDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]types.WorkflowDefinition, 0, len(s.workflows))
	for _, wf := range s.workflows {
		if matchStatus(wf.Status, statuses) {
			out = append(out, wf.Clone())
		}
	}
	s.mu.RUnlock()
	sortWorkflows(out)
	return out, nil
}

// Snapshot returns a consistent copy of the whole collection in its persisted
// form.
func (s *WorkflowStore) Snapshot() types.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Quorum returns the policy deciding activation.
func (s *WorkflowStore) Quorum() QuorumPolicy {
	return s.gate.Policy
}

func (s *WorkflowStore) transition(ctx context.Context, op, id string, apply func(types.WorkflowDefinition, time.Time) (types.WorkflowDefinition, error)) (types.WorkflowDefinition, error) {
	var before types.Status
	wf, err := s.mutate(ctx, op, id, func(cur types.WorkflowDefinition) (types.WorkflowDefinition, bool, error) {
		before = cur.Status
		next, err := apply(cur, s.now())
		return next, err == nil, err
	})
	if err != nil {
		return wf, err
	}
	s.publishStatus(ctx, id, before, wf.Status)
	return wf, nil
}

// mutate runs fn against the current value of id while holding its lock and
// commits the result when fn reports a change. fn receives a private copy.
func (s *WorkflowStore) mutate(ctx context.Context, op, id string, fn func(cur types.WorkflowDefinition) (types.WorkflowDefinition, bool, error)) (types.WorkflowDefinition, error) {
	if err := ctx.Err(); err != nil {
		return types.WorkflowDefinition{}, err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	cur, ok := s.lookup(id)
	if !ok {
		return types.WorkflowDefinition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next, changed, err := fn(cur)
	if err != nil {
		s.logger.Debug("workflow operation rejected",
			zap.String("op", op),
			zap.String("id", id),
			zap.String("kind", KindOf(err)),
			zap.Error(err))
		return types.WorkflowDefinition{}, err
	}
	if !changed {
		return cur, nil
	}
	if err := s.commit(ctx, op, &next, "", 0); err != nil {
		return types.WorkflowDefinition{}, err
	}
	return next.Clone(), nil
}

// commit persists the collection with put stored (or del removed) and only
// then applies the change in memory. seq is the id number allocated for a
// create, zero otherwise.
func (s *WorkflowStore) commit(ctx context.Context, op string, put *types.WorkflowDefinition, del string, seq uint64) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	snap := s.snapshotLocked()
	s.mu.RUnlock()

	snap.Workflows = applyChange(snap.Workflows, put, del)
	if seq > snap.Sequence {
		snap.Sequence = seq
	}

	if err := s.storage.SaveSnapshot(ctx, snap); err != nil {
		id := del
		if put != nil {
			id = put.ID
		}
		s.logger.Error("failed to persist workflow snapshot",
			zap.String("op", op),
			zap.String("id", id),
			zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.mu.Lock()
	if put != nil {
		s.workflows[put.ID] = put.Clone()
	}
	if del != "" {
		delete(s.workflows, del)
	}
	s.sequence = snap.Sequence
	s.mu.Unlock()

	fields := []zap.Field{zap.String("op", op)}
	if put != nil {
		fields = append(fields, zap.String("id", put.ID), zap.Stringer("status", put.Status))
	} else {
		fields = append(fields, zap.String("id", del))
	}
	s.logger.Debug("workflow committed", fields...)
	return nil
}

func applyChange(workflows []types.WorkflowDefinition, put *types.WorkflowDefinition, del string) []types.WorkflowDefinition {
	out := workflows[:0]
	replaced := false
	for _, wf := range workflows {
		switch {
		case del != "" && wf.ID == del:
			continue
		case put != nil && wf.ID == put.ID:
			out = append(out, put.Clone())
			replaced = true
		default:
			out = append(out, wf)
		}
	}
	if put != nil && !replaced {
		out = append(out, put.Clone())
		sortWorkflows(out)
	}
	return out
}

// snapshotLocked must be called with mu held.
func (s *WorkflowStore) snapshotLocked() types.Snapshot {
	workflows := make([]types.WorkflowDefinition, 0, len(s.workflows))
	for _, wf := range s.workflows {
		workflows = append(workflows, wf.Clone())
	}
	sortWorkflows(workflows)
	return types.Snapshot{
		Version:   storage.SnapshotVersion,
		Sequence:  s.sequence,
		Workflows: workflows,
	}
}

func (s *WorkflowStore) lookup(id string) (types.WorkflowDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return types.WorkflowDefinition{}, false
	}
	return wf.Clone(), true
}

func (s *WorkflowStore) warnDegenerate(wf types.WorkflowDefinition) {
	if wf.Degenerate() {
		s.logger.Warn("workflow has no required approvers and can never be activated by approval",
			zap.String("id", wf.ID),
			zap.String("name", wf.Name))
	}
}

func (s *WorkflowStore) publishStatus(ctx context.Context, id string, from, to types.Status) {
	s.publish(ctx, events.StatusChanged, id, map[string]interface{}{
		"from": from.String(),
		"to":   to.String(),
	})
}

func (s *WorkflowStore) publish(ctx context.Context, eventType, id string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	err := s.eventBus.Publish(context.WithoutCancel(ctx), events.Event{
		Type:       eventType,
		WorkflowID: id,
		Data:       data,
		OccurredAt: s.now(),
	})
	if err != nil && !errors.Is(err, events.ErrNoHandler) {
		s.logger.Warn("failed to publish workflow event",
			zap.String("type", eventType),
			zap.String("id", id),
			zap.Error(err))
	}
}

func matchStatus(status types.Status, statuses []types.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, st := range statuses {
		if st == status {
			return true
		}
	}
	return false
}

// sortWorkflows orders by numeric id suffix, falling back to the raw id.
func sortWorkflows(workflows []types.WorkflowDefinition) {
	sort.SliceStable(workflows, func(i, j int) bool {
		a, aok := ParseID(workflows[i].ID)
		b, bok := ParseID(workflows[j].ID)
		if aok && bok && a != b {
			return a < b
		}
		if aok != bok {
			return aok
		}
		return workflows[i].ID < workflows[j].ID
	})
}
