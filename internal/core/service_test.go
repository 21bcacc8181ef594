package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/mock/gomock"

	"workpump/internal/archive"
	archivememory "workpump/internal/infra/archive/memory"
	"workpump/internal/infra/persistence/memory"
	"workpump/internal/messaging"
	"workpump/pkg/domain"
	"workpump/pkg/immutable"
)

func item(id uint64, name string) WorkItemDefinition {
	return domain.NewCommandWorkItem(id, name, time.Minute, "run", name)
}

func job(id uint64, name string, items ...uint64) JobDefinition {
	return domain.NewJob(id, name, "@hourly", items...)
}

func ids[D domain.Entity[uint64]](defs []D) []uint64 {
	out := make([]uint64, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.ID())
	}
	return out
}

type notifications struct {
	workItems []WorkItemsChanged
	jobs      []JobsChanged
}

func subscribe(s *Service) *notifications {
	n := &notifications{}
	messaging.SubscribeFunc(s.Registry(), func(_ context.Context, ev WorkItemsChanged) error {
		n.workItems = append(n.workItems, ev)
		return nil
	})
	messaging.SubscribeFunc(s.Registry(), func(_ context.Context, ev JobsChanged) error {
		n.jobs = append(n.jobs, ev)
		return nil
	})
	return n
}

func TestServiceRegisterWorkItems(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	events := subscribe(svc)

	changed, err := svc.RegisterWorkItems(ctx, item(2, "build"), item(1, "lint"))
	if err != nil || !changed {
		t.Fatalf("register: changed=%v err=%v", changed, err)
	}
	changed, err = svc.RegisterWorkItems(ctx, item(1, "lint"))
	if err != nil || changed {
		t.Fatalf("re-register equal: changed=%v err=%v", changed, err)
	}
	if _, err := svc.RegisterWorkItems(ctx, item(1, "other")); !errors.Is(err, immutable.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if diff := cmp.Diff([]uint64{1, 2}, ids(svc.WorkItems(ctx))); diff != "" {
		t.Fatalf("work items mismatch (-want +got):\n%s", diff)
	}
	want := []WorkItemsChanged{{Added: []uint64{1, 2}}}
	if diff := cmp.Diff(want, events.workItems); diff != "" {
		t.Fatalf("notifications mismatch (-want +got):\n%s", diff)
	}

	got, err := svc.WorkItem(ctx, 2)
	if err != nil || got.Name() != "build" {
		t.Fatalf("get work item: %v %v", got, err)
	}
	_, err = svc.WorkItem(ctx, 9)
	var nf ErrNotFound
	if !errors.As(err, &nf) || nf.Entity != EntityWorkItem || nf.ID != 9 {
		t.Fatalf("expected not found for work item 9, got %v", err)
	}
	if !errors.Is(err, immutable.ErrNotFound) {
		t.Fatalf("expected error to unwrap to immutable.ErrNotFound")
	}
}

type pipelineItem struct {
	domain.WorkItemDefinitionBase
	name  string
	steps []string
}

func (p pipelineItem) Name() string { return p.name }

func TestServiceRegisterUncomparableDefinition(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	build := func(steps ...string) WorkItemDefinition {
		return pipelineItem{WorkItemDefinitionBase: domain.NewWorkItemDefinitionBase(3), name: "pipeline", steps: steps}
	}

	if changed, err := svc.RegisterWorkItems(ctx, build("fetch", "test")); err != nil || !changed {
		t.Fatalf("register: changed=%v err=%v", changed, err)
	}
	changed, err := svc.RegisterWorkItems(ctx, build("fetch", "test"))
	if err != nil || changed {
		t.Fatalf("re-register equal: changed=%v err=%v", changed, err)
	}
	if _, err := svc.RegisterWorkItems(ctx, build("fetch")); !errors.Is(err, immutable.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestServiceRegisterJobsRequiresWorkItems(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	if _, err := svc.RegisterWorkItems(ctx, item(1, "lint")); err != nil {
		t.Fatalf("register item: %v", err)
	}

	_, err := svc.RegisterJobs(ctx, job(10, "nightly", 1, 2))
	var nf ErrNotFound
	if !errors.As(err, &nf) || nf.ID != 2 || nf.Entity != EntityWorkItem {
		t.Fatalf("expected missing work item 2, got %v", err)
	}
	if !strings.Contains(err.Error(), "job 10") {
		t.Fatalf("expected error to name the job: %v", err)
	}
	if len(svc.Jobs(ctx)) != 0 {
		t.Fatalf("expected no jobs after failure")
	}

	changed, err := svc.RegisterJobs(ctx, job(10, "nightly", 1))
	if err != nil || !changed {
		t.Fatalf("register job: changed=%v err=%v", changed, err)
	}
	if _, err := svc.Job(ctx, 10); err != nil {
		t.Fatalf("get job: %v", err)
	}
}

func TestServiceRemoveWorkItemInUse(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	events := subscribe(svc)
	if _, err := svc.RegisterWorkItems(ctx, item(1, "lint"), item(2, "build")); err != nil {
		t.Fatalf("register items: %v", err)
	}
	if _, err := svc.RegisterJobs(ctx, job(10, "nightly", 1)); err != nil {
		t.Fatalf("register job: %v", err)
	}

	_, err := svc.RemoveWorkItems(ctx, 2, 1)
	var inUse *InUseError
	if !errors.As(err, &inUse) || inUse.WorkItem != 1 {
		t.Fatalf("expected in-use error for item 1, got %v", err)
	}
	if diff := cmp.Diff([]uint64{10}, inUse.Jobs); diff != "" {
		t.Fatalf("referencing jobs mismatch (-want +got):\n%s", diff)
	}
	if !errors.Is(err, ErrInUse) {
		t.Fatalf("expected ErrInUse")
	}
	if len(svc.WorkItems(ctx)) != 2 {
		t.Fatalf("expected nothing removed on failure")
	}

	changed, err := svc.RemoveJobs(ctx, 10, 11)
	if err != nil || !changed {
		t.Fatalf("remove jobs: changed=%v err=%v", changed, err)
	}
	changed, err = svc.RemoveWorkItems(ctx, 1, 2, 3)
	if err != nil || !changed {
		t.Fatalf("remove items: changed=%v err=%v", changed, err)
	}
	changed, err = svc.RemoveWorkItems(ctx, 1)
	if err != nil || changed {
		t.Fatalf("remove absent: changed=%v err=%v", changed, err)
	}

	if diff := cmp.Diff([]JobsChanged{{Added: []uint64{10}}, {Removed: []uint64{10}}}, events.jobs); diff != "" {
		t.Fatalf("job notifications mismatch (-want +got):\n%s", diff)
	}
	last := events.workItems[len(events.workItems)-1]
	if diff := cmp.Diff(WorkItemsChanged{Removed: []uint64{1, 2}}, last); diff != "" {
		t.Fatalf("work item notification mismatch (-want +got):\n%s", diff)
	}
}

func testCatalog() Catalog {
	return Catalog{
		WorkItems: []domain.WorkItemRecord{
			{ID: 2, Name: "build", Command: []string{"make"}, Timeout: "5m0s"},
			{ID: 1, Name: "lint", Command: []string{"golangci-lint", "run"}},
		},
		Jobs: []domain.JobRecord{{ID: 10, Name: "ci", Schedule: "@daily", WorkItems: []uint64{1, 2}}},
	}
}

func TestServiceApply(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	events := subscribe(svc)

	changes, err := svc.Apply(ctx, testCatalog())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if diff := cmp.Diff(Changes{WorkItemsChanged: true, JobsChanged: true}, changes); diff != "" {
		t.Fatalf("changes mismatch (-want +got):\n%s", diff)
	}
	if len(events.workItems) != 1 || len(events.jobs) != 1 {
		t.Fatalf("expected one notification per kind, got %+v", events)
	}

	changes, err = svc.Apply(ctx, testCatalog())
	if err != nil || changes.Any() {
		t.Fatalf("re-apply: %+v %v", changes, err)
	}

	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	want := testCatalog()
	want.Normalize()
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestServiceApplyIsAtomic(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	catalog := testCatalog()
	catalog.Jobs = append(catalog.Jobs, domain.JobRecord{ID: 11, Name: "broken", WorkItems: []uint64{99}})

	if _, err := svc.Apply(ctx, catalog); !errors.Is(err, immutable.ErrNotFound) {
		t.Fatalf("expected missing work item, got %v", err)
	}
	if len(svc.WorkItems(ctx)) != 0 || len(svc.Jobs(ctx)) != 0 {
		t.Fatalf("expected no definitions after failed apply")
	}

	bad := testCatalog()
	bad.WorkItems[0].Name = ""
	if _, err := svc.Apply(ctx, bad); err == nil {
		t.Fatalf("expected invalid record to fail")
	}
	if len(svc.WorkItems(ctx)) != 0 {
		t.Fatalf("expected no definitions after invalid apply")
	}
}

func TestServiceRulesBlockDuplicateNames(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	if _, err := svc.RegisterWorkItems(ctx, item(1, "lint")); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := svc.RegisterWorkItems(ctx, item(2, "lint"))
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) || !violation.Result.HasBlocking() {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if got := violation.Result.Violations[0]; got.Rule != "unique_names" || got.EntityID != 2 {
		t.Fatalf("unexpected violation %+v", got)
	}
	if diff := cmp.Diff([]uint64{1}, ids(svc.WorkItems(ctx))); diff != "" {
		t.Fatalf("expected rollback (-want +got):\n%s", diff)
	}

	fresh := NewService()
	catalog := testCatalog()
	catalog.Jobs = append(catalog.Jobs, domain.JobRecord{ID: 11, Name: "ci", WorkItems: []uint64{1}})
	if _, err := fresh.Apply(ctx, catalog); !errors.As(err, &violation) {
		t.Fatalf("expected apply to be blocked, got %v", err)
	}
	if len(fresh.Jobs(ctx)) != 0 || len(fresh.WorkItems(ctx)) != 0 {
		t.Fatalf("expected apply rollback")
	}
}

func TestServiceRulesWarn(t *testing.T) {
	ctx := context.Background()
	logger := &captureLogger{}
	svc := NewService(WithLogger(logger))

	changed, err := svc.RegisterJobs(ctx, job(10, "empty"))
	if err != nil || !changed {
		t.Fatalf("register: changed=%v err=%v", changed, err)
	}
	if !logger.has("warn", "rule violation") {
		t.Fatalf("expected rule warning, got %+v", logger.entries)
	}
}

func TestServiceWithoutRules(t *testing.T) {
	ctx := context.Background()
	svc := NewService(WithRulesEngine(nil))
	if _, err := svc.RegisterWorkItems(ctx, item(1, "same"), item(2, "same")); err != nil {
		t.Fatalf("expected duplicate names to pass without rules: %v", err)
	}
}

type failingRule struct{}

func (failingRule) Name() string { return "failing" }

func (failingRule) Evaluate(context.Context, RuleView) (Result, error) {
	return Result{}, errors.New("boom")
}

func TestServiceRuleErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	engine := domain.NewRulesEngine()
	engine.Register(failingRule{})
	svc := NewService(WithRulesEngine(engine))

	_, err := svc.RegisterWorkItems(ctx, item(1, "lint"))
	if err == nil || !strings.Contains(err.Error(), "rule failing: boom") {
		t.Fatalf("expected rule error, got %v", err)
	}
	if len(svc.WorkItems(ctx)) != 0 {
		t.Fatalf("expected rollback after rule error")
	}
}

func TestServiceSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewService(WithSnapshotStore(store))
	if _, err := svc.Apply(ctx, testCatalog()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := svc.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	if store.Saves() != 1 {
		t.Fatalf("expected one save, got %d", store.Saves())
	}

	restored := NewService(WithSnapshotStore(store))
	events := subscribe(restored)
	changes, err := restored.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !changes.WorkItemsChanged || !changes.JobsChanged {
		t.Fatalf("expected load to change both kinds, got %+v", changes)
	}
	if diff := cmp.Diff([]WorkItemsChanged{{Added: []uint64{1, 2}}}, events.workItems); diff != "" {
		t.Fatalf("notifications mismatch (-want +got):\n%s", diff)
	}

	changes, err = restored.Load(ctx)
	if err != nil || changes.Any() {
		t.Fatalf("reload: %+v %v", changes, err)
	}
}

func TestServiceLoadReplacesState(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	if err := store.Save(ctx, Catalog{WorkItems: []domain.WorkItemRecord{{ID: 3, Name: "deploy"}}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := NewService(WithSnapshotStore(store))
	events := subscribe(svc)
	if _, err := svc.Apply(ctx, testCatalog()); err != nil {
		t.Fatalf("apply: %v", err)
	}

	changes, err := svc.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !changes.WorkItemsChanged || !changes.JobsChanged {
		t.Fatalf("unexpected changes %+v", changes)
	}
	if diff := cmp.Diff([]uint64{3}, ids(svc.WorkItems(ctx))); diff != "" {
		t.Fatalf("work items mismatch (-want +got):\n%s", diff)
	}
	last := events.workItems[len(events.workItems)-1]
	if diff := cmp.Diff(WorkItemsChanged{Added: []uint64{3}, Removed: []uint64{1, 2}}, last); diff != "" {
		t.Fatalf("notification mismatch (-want +got):\n%s", diff)
	}
}

func TestServiceLoadWithMockStore(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := domain.NewMockSnapshotStore(ctrl)
	boom := errors.New("disk gone")

	gomock.InOrder(
		store.EXPECT().Load(gomock.Any()).Return(Catalog{}, domain.ErrNoSnapshot),
		store.EXPECT().Load(gomock.Any()).Return(Catalog{}, boom),
		store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(boom),
	)

	svc := NewService(WithSnapshotStore(store))
	changes, err := svc.Load(ctx)
	if err != nil || changes.Any() {
		t.Fatalf("missing snapshot: %+v %v", changes, err)
	}
	if _, err := svc.Load(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped load error, got %v", err)
	}
	if err := svc.Save(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped save error, got %v", err)
	}
}

func TestServiceWithoutSnapshotStore(t *testing.T) {
	svc := NewService()
	if err := svc.Save(context.Background()); !errors.Is(err, ErrNoSnapshotStore) {
		t.Fatalf("expected ErrNoSnapshotStore, got %v", err)
	}
	if _, err := svc.Load(context.Background()); !errors.Is(err, ErrNoSnapshotStore) {
		t.Fatalf("expected ErrNoSnapshotStore, got %v", err)
	}
}

func TestServiceArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := archivememory.New()
	svc := NewService()
	if _, err := svc.Apply(ctx, testCatalog()); err != nil {
		t.Fatalf("apply: %v", err)
	}

	info, err := svc.ExportArchive(ctx, store)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(info.Key, archive.SnapshotPrefix) || info.ContentType != archive.ContentTypeJSON {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Metadata["work-items"] != "2" || info.Metadata["jobs"] != "1" {
		t.Fatalf("unexpected metadata %+v", info.Metadata)
	}

	listed, err := svc.ListArchives(ctx, store)
	if err != nil || len(listed) != 1 || listed[0].Key != info.Key {
		t.Fatalf("list: %+v %v", listed, err)
	}

	changes, err := svc.ImportArchive(ctx, store, info.Key)
	if err != nil || changes.Any() {
		t.Fatalf("import into same state: %+v %v", changes, err)
	}

	fresh := NewService()
	changes, err = fresh.ImportArchive(ctx, store, info.Key)
	if err != nil || !changes.WorkItemsChanged || !changes.JobsChanged {
		t.Fatalf("import: %+v %v", changes, err)
	}
	a, _ := svc.Snapshot(ctx)
	b, _ := fresh.Snapshot(ctx)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("imported snapshot mismatch (-want +got):\n%s", diff)
	}

	if _, err := fresh.ImportArchive(ctx, store, "snapshots/missing.json"); !errors.Is(err, archive.ErrNotFound) {
		t.Fatalf("expected archive.ErrNotFound, got %v", err)
	}
}

func TestServiceImportRejectsBrokenArchive(t *testing.T) {
	ctx := context.Background()
	store := archivememory.New()
	if _, err := store.Put(ctx, "snapshots/bad.json", strings.NewReader("{"), archive.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	dangling := `{"work_items":[],"jobs":[{"id":1,"name":"x","work_items":[7]}]}`
	if _, err := store.Put(ctx, "snapshots/dangling.json", strings.NewReader(dangling), archive.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}

	svc := NewService()
	if _, err := svc.ImportArchive(ctx, store, "snapshots/bad.json"); err == nil || !strings.Contains(err.Error(), "decode snapshot") {
		t.Fatalf("expected decode error, got %v", err)
	}
	if _, err := svc.ImportArchive(ctx, store, "snapshots/dangling.json"); !errors.Is(err, immutable.ErrNotFound) {
		t.Fatalf("expected dangling reference error, got %v", err)
	}
}

func TestServiceRequests(t *testing.T) {
	ctx := context.Background()
	reg := messaging.NewRegistry()
	svc := NewService(WithRegistry(reg))
	if svc.Registry() != reg {
		t.Fatalf("expected shared registry")
	}
	if _, err := svc.Apply(ctx, testCatalog()); err != nil {
		t.Fatalf("apply: %v", err)
	}

	w, err := messaging.Send[GetWorkItem, WorkItemDefinition](ctx, reg, GetWorkItem{ID: 1})
	if err != nil || w.Name() != "lint" {
		t.Fatalf("send GetWorkItem: %v %v", w, err)
	}
	j, err := messaging.Send[GetJob, JobDefinition](ctx, reg, GetJob{ID: 10})
	if err != nil || j.Name() != "ci" {
		t.Fatalf("send GetJob: %v %v", j, err)
	}
	if _, err := messaging.Send[GetJob, JobDefinition](ctx, reg, GetJob{ID: 11}); !errors.Is(err, immutable.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServiceNotificationErrorsAreLogged(t *testing.T) {
	ctx := context.Background()
	logger := &captureLogger{}
	svc := NewService(WithLogger(logger))
	messaging.SubscribeFunc(svc.Registry(), func(context.Context, WorkItemsChanged) error {
		return io.ErrUnexpectedEOF
	})

	changed, err := svc.RegisterWorkItems(ctx, item(1, "lint"))
	if err != nil || !changed {
		t.Fatalf("handler failure must not fail the mutation: %v", err)
	}
	if !logger.has("warn", "notification handler failed") {
		t.Fatalf("expected warning, got %+v", logger.entries)
	}
}
