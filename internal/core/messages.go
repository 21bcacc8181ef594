package core

// GetWorkItem requests the work item definition with ID. The response type
// is WorkItemDefinition.
type GetWorkItem struct {
	ID uint64
}

// GetJob requests the job definition with ID. The response type is
// JobDefinition.
type GetJob struct {
	ID uint64
}

// WorkItemsChanged is published after work item definitions were added or
// removed.
type WorkItemsChanged struct {
	Added   []uint64
	Removed []uint64
}

// JobsChanged is published after job definitions were added or removed.
type JobsChanged struct {
	Added   []uint64
	Removed []uint64
}

// Changes summarizes the effect of an Apply or Load.
type Changes struct {
	WorkItemsChanged bool
	JobsChanged      bool
}

// Any reports whether anything changed.
func (c Changes) Any() bool {
	return c.WorkItemsChanged || c.JobsChanged
}
