package core

import (
	"context"
	"fmt"

	"workpump/pkg/domain"
)

// NewJobWorkItemsRule warns about jobs that run nothing or run the same work
// item twice.
func NewJobWorkItemsRule() Rule {
	return jobWorkItemsRule{}
}

type jobWorkItemsRule struct{}

func (jobWorkItemsRule) Name() string { return "job_work_items" }

func (r jobWorkItemsRule) Evaluate(_ context.Context, view RuleView) (Result, error) {
	var res Result
	for _, job := range view.ListJobs() {
		ref, ok := job.(domain.WorkItemReferrer)
		if !ok {
			continue
		}
		ids := ref.WorkItemIDs()
		if len(ids) == 0 {
			res.Violations = append(res.Violations, r.warn(job.ID(), "job %d runs no work items", job.ID()))
			continue
		}
		seen := make(map[uint64]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				res.Violations = append(res.Violations, r.warn(job.ID(), "job %d runs work item %d more than once", job.ID(), id))
				break
			}
			seen[id] = true
		}
	}
	return res, nil
}

func (r jobWorkItemsRule) warn(id uint64, format string, args ...any) Violation {
	return Violation{
		Rule:     r.Name(),
		Severity: domain.SeverityWarn,
		Message:  fmt.Sprintf(format, args...),
		Entity:   EntityJob,
		EntityID: id,
	}
}
