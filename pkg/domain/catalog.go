package domain

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnsupportedDefinition is returned when a definition has no record form.
var ErrUnsupportedDefinition = errors.New("domain: definition has no record form")

// WorkItemReferrer is implemented by job definitions that run work items.
type WorkItemReferrer interface {
	WorkItemIDs() []uint64
}

// WorkItemRecord is the serialized form of a CommandWorkItem.
type WorkItemRecord struct {
	ID      uint64   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	Command []string `yaml:"command,omitempty" json:"command,omitempty"`
	Timeout string   `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// JobRecord is the serialized form of a Job.
type JobRecord struct {
	ID        uint64   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	Schedule  string   `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	WorkItems []uint64 `yaml:"work_items,omitempty" json:"work_items,omitempty"`
}

// Catalog is a serializable set of definitions. It is used for manifests
// supplied by operators and for persisted snapshots.
type Catalog struct {
	WorkItems []WorkItemRecord `yaml:"work_items,omitempty" json:"work_items"`
	Jobs      []JobRecord      `yaml:"jobs,omitempty" json:"jobs"`
}

// Definition converts the record into a work item definition.
func (r WorkItemRecord) Definition() (WorkItemDefinition, error) {
	if r.Name == "" {
		return nil, fmt.Errorf("work item %d: name required", r.ID)
	}
	var timeout time.Duration
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return nil, fmt.Errorf("work item %d: parse timeout: %w", r.ID, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("work item %d: timeout must not be negative", r.ID)
		}
		timeout = d
	}
	return NewCommandWorkItem(r.ID, r.Name, timeout, r.Command...), nil
}

// Definition converts the record into a job definition.
func (r JobRecord) Definition() (JobDefinition, error) {
	if r.Name == "" {
		return nil, fmt.Errorf("job %d: name required", r.ID)
	}
	return NewJob(r.ID, r.Name, r.Schedule, r.WorkItems...), nil
}

// WorkItemRecordOf returns the record form of def.
func WorkItemRecordOf(def WorkItemDefinition) (WorkItemRecord, error) {
	w, ok := def.(*CommandWorkItem)
	if !ok {
		return WorkItemRecord{}, fmt.Errorf("%w: %T", ErrUnsupportedDefinition, def)
	}
	rec := WorkItemRecord{ID: w.ID(), Name: w.name, Command: w.Command()}
	if w.timeout > 0 {
		rec.Timeout = w.timeout.String()
	}
	return rec, nil
}

// JobRecordOf returns the record form of def.
func JobRecordOf(def JobDefinition) (JobRecord, error) {
	j, ok := def.(*Job)
	if !ok {
		return JobRecord{}, fmt.Errorf("%w: %T", ErrUnsupportedDefinition, def)
	}
	return JobRecord{ID: j.ID(), Name: j.name, Schedule: j.schedule, WorkItems: j.WorkItemIDs()}, nil
}

// WorkItemDefinitions converts every work item record.
func (c Catalog) WorkItemDefinitions() ([]WorkItemDefinition, error) {
	out := make([]WorkItemDefinition, 0, len(c.WorkItems))
	for _, rec := range c.WorkItems {
		def, err := rec.Definition()
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

// JobDefinitions converts every job record.
func (c Catalog) JobDefinitions() ([]JobDefinition, error) {
	out := make([]JobDefinition, 0, len(c.Jobs))
	for _, rec := range c.Jobs {
		def, err := rec.Definition()
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

// Normalize sorts records by ID so that equal catalogs serialize identically.
func (c *Catalog) Normalize() {
	slices.SortFunc(c.WorkItems, func(a, b WorkItemRecord) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(c.Jobs, func(a, b JobRecord) int { return cmp.Compare(a.ID, b.ID) })
	if c.WorkItems == nil {
		c.WorkItems = []WorkItemRecord{}
	}
	if c.Jobs == nil {
		c.Jobs = []JobRecord{}
	}
}

// Len returns the number of records in the catalog.
func (c Catalog) Len() int { return len(c.WorkItems) + len(c.Jobs) }

// DecodeCatalog reads a YAML (or JSON) manifest. Unknown fields are rejected.
func DecodeCatalog(r io.Reader) (Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return Catalog{}, nil
		}
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	return c, nil
}
