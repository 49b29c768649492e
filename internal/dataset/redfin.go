package dataset

import (
	"context"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"housing-market-pipeline/internal/db"
	"housing-market-pipeline/internal/delim"
	"housing-market-pipeline/internal/fetcher"
	"housing-market-pipeline/internal/geo"
)

const (
	// marketWindowYears bounds the trailing period_begin window.
	marketWindowYears = 5

	// readChunkSize is the decompressed read granularity; memory stays
	// O(chunk + one partial line + one pending flush slice) regardless of
	// source size.
	readChunkSize = 64 * 1024

	// flushRows bounds the matched-row slice handed to the upsert engine.
	flushRows = 2000

	// progressEvery is in rows *scanned*, not matched — the scan volume
	// vastly exceeds the match volume on the national file.
	progressEvery = 250_000
)

// allowedPropertyTypes restricts market rows to the aggregate and
// single-family series.
var allowedPropertyTypes = map[string]struct{}{
	"All Residential":           {},
	"Single Family":             {},
	"Single Family Residential": {},
}

// Redfin ingests the zip-level market tracker: one large gzip TSV consumed
// as a live decompression stream.
type Redfin struct {
	Filter    *geo.Filter
	URL       string
	BatchSize int              // 0 = db.DefaultBatchSize
	Now       func() time.Time // test seam; nil = time.Now
}

func (r *Redfin) Name() string  { return "redfin" }
func (r *Redfin) Table() string { return "market_observations" }

var marketColumns = []string{
	"region_id", "period_start", "median_sale_price", "homes_sold",
	"median_dom", "inventory", "price_drop_pct", "sale_to_list", "new_listings",
}

func (r *Redfin) Sync(ctx context.Context, ex db.Execer, f *fetcher.Fetcher) (*SyncResult, error) {
	log := zap.L().With(zap.String("dataset", r.Name()))
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	cutoff := now().UTC().AddDate(-marketWindowYears, 0, 0)

	stream, err := f.StreamGzip(ctx, r.URL)
	if err != nil {
		return nil, eris.Wrap(err, "redfin: open stream")
	}
	defer stream.Close()

	parser := delim.NewStreamParser('\t')
	res := &SyncResult{}
	// The tracker repeats (region, period) across property-type series; a
	// multi-row upsert cannot touch the same key twice, so first match wins.
	seen := make(map[seriesKey]struct{})
	var pending [][]any

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		n, err := db.BulkUpsert(ctx, ex, db.UpsertConfig{
			Table:        r.Table(),
			Columns:      marketColumns,
			ConflictKeys: []string{"region_id", "period_start"},
			BatchSize:    r.BatchSize,
		}, pending)
		if err != nil {
			return eris.Wrap(err, "redfin: upsert")
		}
		res.RowsSynced += n
		pending = pending[:0]
		return nil
	}

	handle := func(rec delim.Record) {
		res.RowsScanned++
		if res.RowsScanned%progressEvery == 0 {
			log.Info("scan progress",
				zap.Int64("rows_scanned", res.RowsScanned),
				zap.Int64("rows_matched", res.RowsMatched),
			)
		}
		row, key, ok := r.normalize(rec, cutoff)
		if !ok {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		res.RowsMatched++
		pending = append(pending, row)
	}

	buf := make([]byte, readChunkSize)
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			for _, rec := range parser.Write(buf[:n]) {
				handle(rec)
			}
			if len(pending) >= flushRows {
				if err := flush(); err != nil {
					return res, err
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return res, eris.Wrap(readErr, "redfin: read stream")
		}
	}

	// The file may not end with a newline; a trailing fragment is still a
	// data line.
	if rec := parser.Flush(); rec != nil {
		handle(rec)
	}
	if err := flush(); err != nil {
		return res, err
	}

	log.Info("scan complete",
		zap.Int64("rows_scanned", res.RowsScanned),
		zap.Int64("rows_matched", res.RowsMatched),
	)
	return res, nil
}

// normalize applies the filters in cheapest-first order and builds one upsert
// row. The order matters: geography granularity and property type disqualify
// the bulk of the file before any allocation or parsing happens.
func (r *Redfin) normalize(rec delim.Record, cutoff time.Time) ([]any, seriesKey, bool) {
	if rec["region_type"] != "zip code" {
		return nil, seriesKey{}, false
	}
	if _, ok := allowedPropertyTypes[rec["property_type"]]; !ok {
		return nil, seriesKey{}, false
	}
	regionID := geo.Normalize(digitOnly(rec["region"]))
	if regionID == "" || !r.Filter.Allows(regionID) {
		return nil, seriesKey{}, false
	}
	periodStart, err := time.Parse("2006-01-02", rec["period_begin"])
	if err != nil || periodStart.Before(cutoff) {
		return nil, seriesKey{}, false
	}

	key := seriesKey{regionID: regionID, month: rec["period_begin"]}
	row := []any{
		regionID,
		rec["period_begin"],
		NullableFloat(rec["median_sale_price"]),
		NullableInt(rec["homes_sold"]),
		NullableFloat(rec["median_dom"]),
		NullableInt(rec["inventory"]),
		NullableFloat(rec["price_drops"]),
		NullableFloat(rec["avg_sale_to_list"]),
		NullableInt(rec["new_listings"]),
	}
	return row, key, true
}
