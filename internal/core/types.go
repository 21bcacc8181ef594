package core

import "workpump/pkg/domain"

type (
	EntityType         = domain.EntityType
	WorkItemDefinition = domain.WorkItemDefinition
	JobDefinition      = domain.JobDefinition
	Catalog            = domain.Catalog
	SnapshotStore      = domain.SnapshotStore
)

const (
	EntityWorkItem = domain.EntityWorkItem
	EntityJob      = domain.EntityJob
)
