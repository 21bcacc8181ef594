package repository

import (
	"cmp"

	"workpump/pkg/domain"
)

// WorkItemDefinitions stores work item definitions by ID.
type WorkItemDefinitions = Repository[domain.WorkItemDefinition, uint64]

// JobDefinitions stores job definitions by ID.
type JobDefinitions = Repository[domain.JobDefinition, uint64]

// NewWorkItemDefinitions returns an empty work item repository.
func NewWorkItemDefinitions() *WorkItemDefinitions {
	return New[domain.WorkItemDefinition, uint64]()
}

// NewJobDefinitions returns an empty job repository.
func NewJobDefinitions() *JobDefinitions {
	return New[domain.JobDefinition, uint64]()
}

// ByID orders numeric entity keys ascending.
func ByID(a, b uint64) int { return cmp.Compare(a, b) }
