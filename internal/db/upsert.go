package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	// DefaultBatchSize bounds statement arity and peak connection work.
	DefaultBatchSize = 200
	// DefaultProgressEvery is the row cadence for progress logging; per-row
	// logging would dominate runtime on multi-hundred-thousand-row inputs.
	DefaultProgressEvery = 2000
)

// UpsertConfig describes one target table for BulkUpsert.
type UpsertConfig struct {
	Table         string
	Columns       []string
	ConflictKeys  []string // natural key; must be a subset of Columns
	BatchSize     int      // 0 = DefaultBatchSize
	ProgressEvery int      // 0 = DefaultProgressEvery
}

// BulkUpsert issues multi-row INSERT ... ON CONFLICT DO UPDATE statements in
// fixed-size batches, sequentially. Applying the same rows twice leaves the
// table unchanged. A batch failure aborts the call with prior batches left
// committed; re-running the stage is the recovery path.
func BulkUpsert(ctx context.Context, ex Execer, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	progressEvery := cfg.ProgressEvery
	if progressEvery <= 0 {
		progressEvery = DefaultProgressEvery
	}
	log := zap.L().With(zap.String("table", cfg.Table))

	var total int64
	lastReport := 0
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		sql, args, err := buildUpsertSQL(cfg, batch)
		if err != nil {
			return total, err
		}
		tag, err := ex.Exec(ctx, sql, args...)
		if err != nil {
			return total, eris.Wrapf(err, "db: upsert batch %s rows %d-%d", cfg.Table, start, end)
		}
		total += tag.RowsAffected()

		if end-lastReport >= progressEvery || end == len(rows) {
			log.Info("upsert progress",
				zap.Int("rows_done", end),
				zap.Int("rows_total", len(rows)),
			)
			lastReport = end
		}
	}
	return total, nil
}

// buildUpsertSQL renders one multi-row parameterized statement. Non-key
// columns get col = EXCLUDED.col so re-ingestion is last-write-wins per field.
func buildUpsertSQL(cfg UpsertConfig, batch [][]any) (string, []any, error) {
	ncols := len(cfg.Columns)
	if ncols == 0 || len(cfg.ConflictKeys) == 0 {
		return "", nil, eris.New("db: upsert config needs columns and conflict keys")
	}

	keySet := make(map[string]struct{}, len(cfg.ConflictKeys))
	for _, k := range cfg.ConflictKeys {
		keySet[k] = struct{}{}
	}
	var updates []string
	for _, c := range cfg.Columns {
		if _, isKey := keySet[c]; isKey {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ",
		cfg.Table, strings.Join(cfg.Columns, ", "))

	args := make([]any, 0, len(batch)*ncols)
	for i, row := range batch {
		if len(row) != ncols {
			return "", nil, eris.Errorf("db: row arity %d != %d columns for %s",
				len(row), ncols, cfg.Table)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*ncols+j+1)
		}
		sb.WriteByte(')')
		args = append(args, row...)
	}

	fmt.Fprintf(&sb, " ON CONFLICT (%s) ", strings.Join(cfg.ConflictKeys, ", "))
	if len(updates) == 0 {
		sb.WriteString("DO NOTHING")
	} else {
		fmt.Fprintf(&sb, "DO UPDATE SET %s", strings.Join(updates, ", "))
	}
	return sb.String(), args, nil
}
