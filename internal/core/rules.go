package core

import (
	"workpump/pkg/domain"
	"workpump/pkg/repository"
)

type (
	Rule        = domain.Rule
	RuleView    = domain.RuleView
	RulesEngine = domain.RulesEngine
	Result      = domain.Result
	Violation   = domain.Violation
)

// NewDefaultRulesEngine builds a rules engine with the built-in rule set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewUniqueNamesRule())
	engine.Register(NewJobWorkItemsRule())
	return engine
}

// WithRulesEngine replaces the default rules engine. A nil engine disables
// rule evaluation.
func WithRulesEngine(engine *RulesEngine) ServiceOption {
	return func(s *Service) {
		s.rules = engine
	}
}

// repositoryView exposes the service repositories as a RuleView. It must
// only be used while the service mutex is held.
type repositoryView struct {
	workItems *repository.WorkItemDefinitions
	jobs      *repository.JobDefinitions
}

func (v repositoryView) ListWorkItems() []WorkItemDefinition {
	return v.workItems.Sorted(repository.ByID)
}

func (v repositoryView) ListJobs() []JobDefinition {
	return v.jobs.Sorted(repository.ByID)
}

func (v repositoryView) FindWorkItem(id uint64) (WorkItemDefinition, bool) {
	return v.workItems.TryGet(id)
}

func (v repositoryView) FindJob(id uint64) (JobDefinition, bool) {
	return v.jobs.TryGet(id)
}
