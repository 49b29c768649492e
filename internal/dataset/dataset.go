// Package dataset contains the source adapters. Each adapter fetches one
// public data source, normalizes rows against the geographic allow-list, and
// hands them to the batch upsert engine. Adapters never talk to each other;
// the three observation tables are joined only by the metrics engine.
package dataset

import (
	"context"

	"housing-market-pipeline/internal/db"
	"housing-market-pipeline/internal/fetcher"
)

// Dataset is one source adapter.
type Dataset interface {
	Name() string
	Table() string
	Sync(ctx context.Context, ex db.Execer, f *fetcher.Fetcher) (*SyncResult, error)
}

// SyncResult summarizes one adapter run. RowsScanned counts every source row
// looked at; RowsMatched counts rows that passed all filters; RowsSynced is
// what the upsert engine reported.
type SyncResult struct {
	RowsScanned int64
	RowsMatched int64
	RowsSynced  int64
	Metadata    map[string]any
}
