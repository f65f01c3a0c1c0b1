package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/yndnr/ksefbridge-go/internal/core/domain"
)

// RunLog is the write-once log of sync run results.
type RunLog struct {
	kv KVEngine
}

// NewRunLog creates a run log over kv.
func NewRunLog(kv KVEngine) *RunLog {
	return &RunLog{kv: kv}
}

// Append stores result. A result with an existing run ID is rejected.
func (l *RunLog) Append(ctx context.Context, result *domain.SyncRunResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	err = l.kv.Insert(ctx, buildKey(prefixRun, result.TenantID, result.RunID), raw)
	if errors.Is(err, ErrKeyExists) {
		return domain.ErrInvalidArgument.WithDetails("run " + result.RunID + " already logged")
	}
	return storageErr(err)
}

// List returns up to limit results, newest first. An empty tenantID lists
// all tenants; limit <= 0 means no limit.
func (l *RunLog) List(ctx context.Context, tenantID string, limit int) ([]*domain.SyncRunResult, error) {
	prefix := []byte(prefixRun)
	if tenantID != "" {
		prefix = buildKey(prefixRun, tenantID, "")
	}

	var all []*domain.SyncRunResult
	if err := scanJSON(ctx, l.kv, prefix, func(r *domain.SyncRunResult) bool {
		all = append(all, r)
		return true
	}); err != nil {
		return nil, err
	}

	// Keys sort by tenant then ULID; order by start time across tenants.
	sortRunsNewestFirst(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func sortRunsNewestFirst(runs []*domain.SyncRunResult) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
}
