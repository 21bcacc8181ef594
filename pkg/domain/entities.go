// Package domain defines the entities managed by workpump and the
// persistence contracts used to store them.
package domain

import (
	"fmt"
	"slices"
	"time"
)

// EntityType identifies the kind of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in errors, notifications and
// persistence buckets.
const (
	// EntityWorkItem identifies a work item definition.
	EntityWorkItem EntityType = "work_item"
	// EntityJob identifies a job definition.
	EntityJob EntityType = "job"
)

// Entity is implemented by every record with a stable identity.
type Entity[K comparable] interface {
	ID() K
}

// Identity carries the key of an entity. Embed it to satisfy Entity; the key
// is fixed once the identity is built.
type Identity[K comparable] struct {
	id K
}

// NewIdentity returns an identity for id.
func NewIdentity[K comparable](id K) Identity[K] {
	return Identity[K]{id: id}
}

// ID returns the entity key.
func (i Identity[K]) ID() K { return i.id }

// WorkItemDefinition describes a unit of work that jobs can schedule.
type WorkItemDefinition interface {
	Entity[uint64]
	Name() string
}

// JobDefinition describes a named job.
type JobDefinition interface {
	Entity[uint64]
	Name() string
}

// WorkItemDefinitionBase holds the fields shared by every work item
// definition. Concrete definitions embed it.
type WorkItemDefinitionBase struct {
	Identity[uint64]
}

// NewWorkItemDefinitionBase returns a base for the work item with the given id.
func NewWorkItemDefinitionBase(id uint64) WorkItemDefinitionBase {
	return WorkItemDefinitionBase{Identity: NewIdentity(id)}
}

// JobDefinitionBase holds the fields shared by every job definition.
type JobDefinitionBase struct {
	Identity[uint64]
}

// NewJobDefinitionBase returns a base for the job with the given id.
func NewJobDefinitionBase(id uint64) JobDefinitionBase {
	return JobDefinitionBase{Identity: NewIdentity(id)}
}

// CommandWorkItem runs an external command.
type CommandWorkItem struct {
	WorkItemDefinitionBase
	name    string
	command []string
	timeout time.Duration
}

// NewCommandWorkItem builds a command work item. The argv slice is copied.
func NewCommandWorkItem(id uint64, name string, timeout time.Duration, argv ...string) *CommandWorkItem {
	return &CommandWorkItem{
		WorkItemDefinitionBase: NewWorkItemDefinitionBase(id),
		name:                   name,
		command:                slices.Clone(argv),
		timeout:                timeout,
	}
}

// Name returns the work item name.
func (w *CommandWorkItem) Name() string { return w.name }

// Command returns a copy of the argv the work item runs.
func (w *CommandWorkItem) Command() []string { return slices.Clone(w.command) }

// Timeout returns the run timeout; zero means no limit.
func (w *CommandWorkItem) Timeout() time.Duration { return w.timeout }

// Equal reports whether other is a command work item with the same fields.
func (w *CommandWorkItem) Equal(other WorkItemDefinition) bool {
	o, ok := other.(*CommandWorkItem)
	if !ok || w == nil || o == nil {
		return ok && w == o
	}
	return w.ID() == o.ID() && w.name == o.name && w.timeout == o.timeout && slices.Equal(w.command, o.command)
}

func (w *CommandWorkItem) String() string {
	return fmt.Sprintf("work item %d (%s)", w.ID(), w.name)
}

// Job groups work items that run in order on a schedule.
type Job struct {
	JobDefinitionBase
	name      string
	schedule  string
	workItems []uint64
}

// NewJob builds a job. The work item IDs are copied.
func NewJob(id uint64, name, schedule string, workItemIDs ...uint64) *Job {
	return &Job{
		JobDefinitionBase: NewJobDefinitionBase(id),
		name:              name,
		schedule:          schedule,
		workItems:         slices.Clone(workItemIDs),
	}
}

// Name returns the job name.
func (j *Job) Name() string { return j.name }

// Schedule returns the cron-style schedule expression, if any.
func (j *Job) Schedule() string { return j.schedule }

// WorkItemIDs returns a copy of the ordered work item IDs the job runs.
func (j *Job) WorkItemIDs() []uint64 { return slices.Clone(j.workItems) }

// References reports whether the job runs the given work item.
func (j *Job) References(workItemID uint64) bool {
	return slices.Contains(j.workItems, workItemID)
}

// Equal reports whether other is a job with the same fields.
func (j *Job) Equal(other JobDefinition) bool {
	o, ok := other.(*Job)
	if !ok || j == nil || o == nil {
		return ok && j == o
	}
	return j.ID() == o.ID() && j.name == o.name && j.schedule == o.schedule && slices.Equal(j.workItems, o.workItems)
}

func (j *Job) String() string {
	return fmt.Sprintf("job %d (%s)", j.ID(), j.name)
}
