// Package persistence holds the bucket codec shared by the snapshot stores.
//
// A catalog is persisted as one JSON payload per bucket. Stores write every
// bucket on each Save, so a partially written state is never observed.
package persistence

import (
	"encoding/json"
	"fmt"
	"slices"

	"workpump/pkg/domain"
)

// Bucket names.
const (
	BucketWorkItems = "work_items"
	BucketJobs      = "jobs"
)

// Buckets lists every bucket in write order.
var Buckets = []string{BucketWorkItems, BucketJobs}

// Encode splits a normalized copy of catalog into bucket payloads.
func Encode(catalog domain.Catalog) (map[string][]byte, error) {
	catalog.WorkItems = slices.Clone(catalog.WorkItems)
	catalog.Jobs = slices.Clone(catalog.Jobs)
	catalog.Normalize()
	items, err := json.Marshal(catalog.WorkItems)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", BucketWorkItems, err)
	}
	jobs, err := json.Marshal(catalog.Jobs)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", BucketJobs, err)
	}
	return map[string][]byte{BucketWorkItems: items, BucketJobs: jobs}, nil
}

// Decode rebuilds a catalog from bucket payloads. Unknown buckets are
// ignored; no buckets at all yields domain.ErrNoSnapshot.
func Decode(buckets map[string][]byte) (domain.Catalog, error) {
	if len(buckets) == 0 {
		return domain.Catalog{}, domain.ErrNoSnapshot
	}
	var catalog domain.Catalog
	targets := map[string]any{
		BucketWorkItems: &catalog.WorkItems,
		BucketJobs:      &catalog.Jobs,
	}
	for bucket, payload := range buckets {
		target, ok := targets[bucket]
		if !ok || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return domain.Catalog{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	catalog.Normalize()
	return catalog, nil
}
