package core

import (
	"context"
	"fmt"

	"workpump/pkg/domain"
)

// NewUniqueNamesRule blocks two work items, or two jobs, sharing a name.
func NewUniqueNamesRule() Rule {
	return uniqueNamesRule{}
}

type uniqueNamesRule struct{}

func (uniqueNamesRule) Name() string { return "unique_names" }

func (r uniqueNamesRule) Evaluate(_ context.Context, view RuleView) (Result, error) {
	var res Result
	res.Merge(duplicates(r.Name(), EntityWorkItem, view.ListWorkItems()))
	res.Merge(duplicates(r.Name(), EntityJob, view.ListJobs()))
	return res, nil
}

type named interface {
	domain.Entity[uint64]
	Name() string
}

func duplicates[D named](rule string, entity EntityType, defs []D) Result {
	var res Result
	seen := make(map[string]uint64, len(defs))
	for _, def := range defs {
		if first, ok := seen[def.Name()]; ok {
			res.Violations = append(res.Violations, Violation{
				Rule:     rule,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("%s %d reuses the name %q of %s %d", entity, def.ID(), def.Name(), entity, first),
				Entity:   entity,
				EntityID: def.ID(),
			})
			continue
		}
		seen[def.Name()] = def.ID()
	}
	return res
}
