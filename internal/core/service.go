package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"workpump/internal/archive"
	"workpump/internal/messaging"
	"workpump/pkg/domain"
	"workpump/pkg/immutable"
	"workpump/pkg/repository"
)

// Service owns the work item and job definitions of a process. Mutations are
// serialized; reads see a consistent snapshot.
type Service struct {
	mu        sync.RWMutex
	workItems *repository.WorkItemDefinitions
	jobs      *repository.JobDefinitions

	registry  *messaging.Registry
	snapshots SnapshotStore
	rules     *RulesEngine

	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	now     func() time.Time
}

// WithRegistry makes the service answer requests and publish notifications
// on r instead of a private registry.
func WithRegistry(r *messaging.Registry) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}

// NewService returns an empty service. GetWorkItem and GetJob handlers are
// registered on its registry.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		workItems: repository.NewWorkItemDefinitions(),
		jobs:      repository.NewJobDefinitions(),
		logger:    noopLogger{},
		metrics:   noopMetrics{},
		tracer:    noopTracer{},
		audit:     noopAudit{},
		rules:     NewDefaultRulesEngine(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = messaging.NewRegistry()
	}
	messaging.HandleFunc(s.registry, func(ctx context.Context, req GetWorkItem) (WorkItemDefinition, error) {
		return s.WorkItem(ctx, req.ID)
	})
	messaging.HandleFunc(s.registry, func(ctx context.Context, req GetJob) (JobDefinition, error) {
		return s.Job(ctx, req.ID)
	})
	return s
}

// Registry returns the registry the service is attached to.
func (s *Service) Registry() *messaging.Registry {
	return s.registry
}

// RegisterWorkItems adds work item definitions. It reports whether anything
// was added; re-registering an equal definition is a no-op and a different
// definition under a known ID fails with immutable.ErrConflict.
func (s *Service) RegisterWorkItems(ctx context.Context, defs ...WorkItemDefinition) (bool, error) {
	ids := definitionIDs(defs)
	var added []uint64
	changed, err := s.mutate(ctx, "register_work_items", EntityWorkItem, ids, func(ctx context.Context) (bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		added = absent(s.workItems, ids)
		beforeItems, beforeJobs := s.workItems.Snapshot(), s.jobs.Snapshot()
		changed, err := s.workItems.InsertAll(defs...)
		if err != nil || !changed {
			return changed, err
		}
		if err := s.checkRules(ctx, beforeItems, beforeJobs); err != nil {
			return false, err
		}
		return true, nil
	})
	if changed {
		s.publish(ctx, WorkItemsChanged{Added: added})
	}
	return changed, err
}

// RemoveWorkItems removes work item definitions. Unknown IDs are ignored. It
// fails with ErrInUse while a job still references one of them.
func (s *Service) RemoveWorkItems(ctx context.Context, ids ...uint64) (bool, error) {
	var removed []uint64
	changed, err := s.mutate(ctx, "remove_work_items", EntityWorkItem, ids, func(context.Context) (bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, id := range ids {
			if refs := s.referencingJobs(id); len(refs) > 0 {
				return false, &InUseError{WorkItem: id, Jobs: refs}
			}
		}
		removed = present(s.workItems, ids)
		return s.workItems.RemoveAll(ids...), nil
	})
	if changed {
		s.publish(ctx, WorkItemsChanged{Removed: removed})
	}
	return changed, err
}

// WorkItem returns the work item definition with id.
func (s *Service) WorkItem(ctx context.Context, id uint64) (WorkItemDefinition, error) {
	var def WorkItemDefinition
	err := s.observe(ctx, "get_work_item", func(context.Context) error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var ok bool
		if def, ok = s.workItems.TryGet(id); !ok {
			return ErrNotFound{Entity: EntityWorkItem, ID: id}
		}
		return nil
	})
	return def, err
}

// WorkItems returns every work item definition ordered by ID.
func (s *Service) WorkItems(ctx context.Context) []WorkItemDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workItems.Sorted(repository.ByID)
}

// RegisterJobs adds job definitions. Every work item a job references must
// already be registered, otherwise the call fails with ErrNotFound.
func (s *Service) RegisterJobs(ctx context.Context, jobs ...JobDefinition) (bool, error) {
	ids := definitionIDs(jobs)
	var added []uint64
	changed, err := s.mutate(ctx, "register_jobs", EntityJob, ids, func(ctx context.Context) (bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := checkReferences(s.workItems.Snapshot(), jobs); err != nil {
			return false, err
		}
		added = absent(s.jobs, ids)
		beforeItems, beforeJobs := s.workItems.Snapshot(), s.jobs.Snapshot()
		changed, err := s.jobs.InsertAll(jobs...)
		if err != nil || !changed {
			return changed, err
		}
		if err := s.checkRules(ctx, beforeItems, beforeJobs); err != nil {
			return false, err
		}
		return true, nil
	})
	if changed {
		s.publish(ctx, JobsChanged{Added: added})
	}
	return changed, err
}

// RemoveJobs removes job definitions. Unknown IDs are ignored.
func (s *Service) RemoveJobs(ctx context.Context, ids ...uint64) (bool, error) {
	var removed []uint64
	changed, err := s.mutate(ctx, "remove_jobs", EntityJob, ids, func(context.Context) (bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		removed = present(s.jobs, ids)
		return s.jobs.RemoveAll(ids...), nil
	})
	if changed {
		s.publish(ctx, JobsChanged{Removed: removed})
	}
	return changed, err
}

// Job returns the job definition with id.
func (s *Service) Job(ctx context.Context, id uint64) (JobDefinition, error) {
	var def JobDefinition
	err := s.observe(ctx, "get_job", func(context.Context) error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var ok bool
		if def, ok = s.jobs.TryGet(id); !ok {
			return ErrNotFound{Entity: EntityJob, ID: id}
		}
		return nil
	})
	return def, err
}

// Jobs returns every job definition ordered by ID.
func (s *Service) Jobs(ctx context.Context) []JobDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs.Sorted(repository.ByID)
}

// Apply registers every definition of catalog in one step: either all of
// them are applied or none is.
func (s *Service) Apply(ctx context.Context, catalog Catalog) (Changes, error) {
	var (
		changes Changes
		events  []any
	)
	_, err := s.mutate(ctx, "apply", "", nil, func(ctx context.Context) (bool, error) {
		items, err := catalog.WorkItemDefinitions()
		if err != nil {
			return false, err
		}
		jobs, err := catalog.JobDefinitions()
		if err != nil {
			return false, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		itemIDs, jobIDs := definitionIDs(items), definitionIDs(jobs)
		addedItems, addedJobs := absent(s.workItems, itemIDs), absent(s.jobs, jobIDs)

		before, beforeJobs := s.workItems.Snapshot(), s.jobs.Snapshot()
		if changes.WorkItemsChanged, err = s.workItems.InsertAll(items...); err != nil {
			return false, err
		}
		if err := checkReferences(s.workItems.Snapshot(), jobs); err != nil {
			s.workItems.Restore(before)
			return false, err
		}
		if changes.JobsChanged, err = s.jobs.InsertAll(jobs...); err != nil {
			s.workItems.Restore(before)
			return false, err
		}
		if changes.Any() {
			if err := s.checkRules(ctx, before, beforeJobs); err != nil {
				changes = Changes{}
				return false, err
			}
		}
		if changes.WorkItemsChanged {
			events = append(events, WorkItemsChanged{Added: addedItems})
		}
		if changes.JobsChanged {
			events = append(events, JobsChanged{Added: addedJobs})
		}
		return changes.Any(), nil
	})
	if err != nil {
		return Changes{}, err
	}
	s.publishAll(ctx, events)
	return changes, nil
}

// Snapshot returns the current definitions as a normalized catalog.
func (s *Service) Snapshot(ctx context.Context) (Catalog, error) {
	var catalog Catalog
	err := s.observe(ctx, "snapshot", func(context.Context) error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var err error
		catalog, err = s.catalog()
		return err
	})
	return catalog, err
}

// Save writes the current definitions to the snapshot store.
func (s *Service) Save(ctx context.Context) error {
	if s.snapshots == nil {
		return ErrNoSnapshotStore
	}
	catalog, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	_, err = s.mutate(ctx, "save", "", nil, func(ctx context.Context) (bool, error) {
		if err := s.snapshots.Save(ctx, catalog); err != nil {
			return false, fmt.Errorf("save snapshot: %w", err)
		}
		return true, nil
	})
	return err
}

// Load replaces the current definitions with those of the snapshot store.
// A store without a snapshot leaves the service unchanged.
func (s *Service) Load(ctx context.Context) (Changes, error) {
	if s.snapshots == nil {
		return Changes{}, ErrNoSnapshotStore
	}
	catalog, err := s.snapshots.Load(ctx)
	if errors.Is(err, domain.ErrNoSnapshot) {
		s.logger.Info("no stored snapshot")
		return Changes{}, nil
	}
	if err != nil {
		return Changes{}, fmt.Errorf("load snapshot: %w", err)
	}
	return s.replace(ctx, "load", catalog)
}

// ExportArchive writes the current definitions as JSON to a new key under
// archive.SnapshotPrefix.
func (s *Service) ExportArchive(ctx context.Context, store archive.Store) (archive.Info, error) {
	catalog, err := s.Snapshot(ctx)
	if err != nil {
		return archive.Info{}, err
	}
	var info archive.Info
	_, err = s.mutate(ctx, "export_archive", "", nil, func(ctx context.Context) (bool, error) {
		payload, err := json.MarshalIndent(catalog, "", "  ")
		if err != nil {
			return false, err
		}
		info, err = store.Put(ctx, archive.NewSnapshotKey(), bytes.NewReader(payload), archive.PutOptions{
			ContentType: archive.ContentTypeJSON,
			Metadata: map[string]string{
				"work-items": strconv.Itoa(len(catalog.WorkItems)),
				"jobs":       strconv.Itoa(len(catalog.Jobs)),
			},
		})
		if err != nil {
			return false, fmt.Errorf("export snapshot: %w", err)
		}
		return true, nil
	})
	return info, err
}

// ImportArchive replaces the current definitions with the snapshot stored
// under key.
func (s *Service) ImportArchive(ctx context.Context, store archive.Store, key string) (Changes, error) {
	_, body, err := store.Get(ctx, key)
	if err != nil {
		return Changes{}, fmt.Errorf("import snapshot %s: %w", key, err)
	}
	defer func() { _ = body.Close() }()
	var catalog Catalog
	if err := json.NewDecoder(body).Decode(&catalog); err != nil {
		return Changes{}, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return s.replace(ctx, "import_archive", catalog)
}

// ListArchives returns the exported snapshots of store ordered by key.
func (s *Service) ListArchives(ctx context.Context, store archive.Store) ([]archive.Info, error) {
	var infos []archive.Info
	err := s.observe(ctx, "list_archives", func(ctx context.Context) error {
		var err error
		infos, err = store.List(ctx, archive.SnapshotPrefix)
		return err
	})
	return infos, err
}

// replace swaps in the definitions of catalog wholesale.
func (s *Service) replace(ctx context.Context, op string, catalog Catalog) (Changes, error) {
	var (
		changes Changes
		events  []any
	)
	_, err := s.mutate(ctx, op, "", nil, func(ctx context.Context) (bool, error) {
		items, err := catalog.WorkItemDefinitions()
		if err != nil {
			return false, err
		}
		jobs, err := catalog.JobDefinitions()
		if err != nil {
			return false, err
		}
		itemMap, err := immutable.CreateFunc(items, definitionID[WorkItemDefinition])
		if err != nil {
			return false, err
		}
		jobMap, err := immutable.CreateFunc(jobs, definitionID[JobDefinition])
		if err != nil {
			return false, err
		}
		if err := checkReferences(itemMap, jobs); err != nil {
			return false, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if itemMap.Equal(s.workItems.Snapshot()) {
			itemMap = s.workItems.Snapshot()
		}
		if jobMap.Equal(s.jobs.Snapshot()) {
			jobMap = s.jobs.Snapshot()
		}
		beforeItems, beforeJobs := s.workItems.Snapshot(), s.jobs.Snapshot()
		changes.WorkItemsChanged = s.workItems.Restore(itemMap)
		changes.JobsChanged = s.jobs.Restore(jobMap)
		if !changes.Any() {
			return false, nil
		}
		if err := s.checkRules(ctx, beforeItems, beforeJobs); err != nil {
			changes = Changes{}
			return false, err
		}
		if changes.WorkItemsChanged {
			events = append(events, WorkItemsChanged(diff(beforeItems, itemMap)))
		}
		if changes.JobsChanged {
			events = append(events, JobsChanged(diff(beforeJobs, jobMap)))
		}
		return true, nil
	})
	if err != nil {
		return Changes{}, err
	}
	s.publishAll(ctx, events)
	return changes, nil
}

// catalog must be called with s.mu held.
func (s *Service) catalog() (Catalog, error) {
	var catalog Catalog
	for _, def := range s.workItems.Sorted(repository.ByID) {
		rec, err := domain.WorkItemRecordOf(def)
		if err != nil {
			return Catalog{}, err
		}
		catalog.WorkItems = append(catalog.WorkItems, rec)
	}
	for _, def := range s.jobs.Sorted(repository.ByID) {
		rec, err := domain.JobRecordOf(def)
		if err != nil {
			return Catalog{}, err
		}
		catalog.Jobs = append(catalog.Jobs, rec)
	}
	catalog.Normalize()
	return catalog, nil
}

// checkRules evaluates the rules engine against the current definitions and
// restores the given snapshots when a rule blocks the change or fails. It must
// be called with s.mu held.
func (s *Service) checkRules(ctx context.Context, items *immutable.HashMap[uint64, WorkItemDefinition], jobs *immutable.HashMap[uint64, JobDefinition]) error {
	res, err := s.rules.Evaluate(ctx, repositoryView{workItems: s.workItems, jobs: s.jobs})
	if err == nil && res.HasBlocking() {
		err = domain.RuleViolationError{Result: res}
	}
	if err != nil {
		s.workItems.Restore(items)
		s.jobs.Restore(jobs)
		return err
	}
	for _, v := range res.Violations {
		s.logger.Warn("rule violation", "rule", v.Rule, "entity", v.Entity, "id", v.EntityID, "message", v.Message)
	}
	return nil
}

// referencingJobs must be called with s.mu held.
func (s *Service) referencingJobs(workItem uint64) []uint64 {
	var refs []uint64
	for _, job := range s.jobs.Sorted(repository.ByID) {
		if r, ok := job.(domain.WorkItemReferrer); ok && slices.Contains(r.WorkItemIDs(), workItem) {
			refs = append(refs, job.ID())
		}
	}
	return refs
}

func checkReferences(items *immutable.HashMap[uint64, WorkItemDefinition], jobs []JobDefinition) error {
	for _, job := range jobs {
		r, ok := job.(domain.WorkItemReferrer)
		if !ok {
			continue
		}
		for _, id := range r.WorkItemIDs() {
			if !items.Has(id) {
				return fmt.Errorf("job %d: %w", job.ID(), ErrNotFound{Entity: EntityWorkItem, ID: id})
			}
		}
	}
	return nil
}

type idDiff struct {
	Added   []uint64
	Removed []uint64
}

func diff[V comparable](before, after *immutable.HashMap[uint64, V]) idDiff {
	var d idDiff
	for id := range after.Keys() {
		if !before.Has(id) {
			d.Added = append(d.Added, id)
		}
	}
	for id := range before.Keys() {
		if !after.Has(id) {
			d.Removed = append(d.Removed, id)
		}
	}
	slices.Sort(d.Added)
	slices.Sort(d.Removed)
	return d
}

func definitionID[D domain.Entity[uint64]](d D) uint64 {
	return d.ID()
}

func definitionIDs[D domain.Entity[uint64]](defs []D) []uint64 {
	ids := make([]uint64, len(defs))
	for i, d := range defs {
		ids[i] = d.ID()
	}
	return ids
}

// absent returns the distinct ids not yet stored in r, sorted.
func absent[E repository.Keyed[uint64]](r *repository.Repository[E, uint64], ids []uint64) []uint64 {
	var out []uint64
	for _, id := range ids {
		if _, ok := r.TryGet(id); !ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// present returns the distinct ids stored in r, sorted.
func present[E repository.Keyed[uint64]](r *repository.Repository[E, uint64], ids []uint64) []uint64 {
	var out []uint64
	for _, id := range ids {
		if _, ok := r.TryGet(id); ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (s *Service) publishAll(ctx context.Context, events []any) {
	for _, ev := range events {
		s.publish(ctx, ev)
	}
}

func (s *Service) publish(ctx context.Context, n any) {
	var err error
	switch n := n.(type) {
	case WorkItemsChanged:
		err = messaging.Publish(ctx, s.registry, n)
	case JobsChanged:
		err = messaging.Publish(ctx, s.registry, n)
	}
	if err != nil {
		s.logger.Warn("notification handler failed", "notification", fmt.Sprintf("%T", n), "error", err)
	}
}

// observe traces, times and logs a read-only operation.
func (s *Service) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	elapsed := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	if err != nil {
		s.logger.Debug("service read failed", "operation", op, "error", err)
	}
	return err
}

// mutate is observe plus an audit entry and a log line for the outcome.
func (s *Service) mutate(ctx context.Context, op string, entity EntityType, ids []uint64, fn func(context.Context) (bool, error)) (bool, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	changed, err := fn(ctx)
	elapsed := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, elapsed)

	entry := AuditEntry{
		Operation: op,
		Entity:    entity,
		EntityIDs: slices.Clone(ids),
		Status:    AuditStatusSuccess,
		Duration:  elapsed,
		Timestamp: s.now(),
	}
	switch {
	case err != nil:
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Error("service operation failed", "operation", op, "error", err)
	case !changed:
		entry.Status = AuditStatusNoop
		s.logger.Debug("service operation changed nothing", "operation", op, "duration", elapsed)
	default:
		s.logger.Debug("service operation completed", "operation", op, "duration", elapsed)
	}
	s.audit.Record(ctx, entry)
	return changed, err
}
