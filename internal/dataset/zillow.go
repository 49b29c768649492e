package dataset

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"housing-market-pipeline/internal/db"
	"housing-market-pipeline/internal/delim"
	"housing-market-pipeline/internal/fetcher"
	"housing-market-pipeline/internal/geo"
)

const (
	// Published value/rent index files are wide CSVs: one row per region,
	// one column per month (ISO date header). The window bounds output
	// volume; the full history reaches back to 2000.
	valueIndexYears = 10

	zhviAllPath   = "/zhvi/Zip_zhvi_uc_sfrcondo_tier_0.33_0.67_sm_sa_month.csv"
	zhviSFRPath   = "/zhvi/Zip_zhvi_uc_sfr_tier_0.33_0.67_sm_sa_month.csv"
	zhviCondoPath = "/zhvi/Zip_zhvi_uc_condo_tier_0.33_0.67_sm_sa_month.csv"
	zoriPath      = "/zori/Zip_zori_uc_sfrcondomfr_sm_sa_month.csv"

	regionColumn = "RegionName"
)

// Zillow ingests the home-value and rent index CSVs. The all-homes value
// series is the primary variant; single-family, condo, and rent are optional
// and skipped on failure.
type Zillow struct {
	Filter    *geo.Filter
	BaseURL   string
	BatchSize int              // 0 = db.DefaultBatchSize
	Now       func() time.Time // test seam; nil = time.Now
}

func (z *Zillow) Name() string  { return "zillow" }
func (z *Zillow) Table() string { return "home_value_observations" }

// variantSeries maps (region, month) to one metric's value.
type seriesKey struct {
	regionID string
	month    string // ISO date
}

type variant struct {
	name     string
	path     string
	optional bool
}

var zillowVariants = []variant{
	{name: "zhvi_all", path: zhviAllPath},
	{name: "zhvi_sfr", path: zhviSFRPath, optional: true},
	{name: "zhvi_condo", path: zhviCondoPath, optional: true},
	{name: "zori_rent", path: zoriPath, optional: true},
}

func (z *Zillow) Sync(ctx context.Context, ex db.Execer, f *fetcher.Fetcher) (*SyncResult, error) {
	log := zap.L().With(zap.String("dataset", z.Name()))
	now := time.Now
	if z.Now != nil {
		now = z.Now
	}
	cutoff := now().UTC().AddDate(-valueIndexYears, 0, 0)

	series := make(map[string]map[seriesKey]float64, len(zillowVariants))
	var mu sync.Mutex
	var scanned int64

	g, gctx := errgroup.WithContext(ctx)
	for _, v := range zillowVariants {
		v := v
		g.Go(func() error {
			body, err := f.Get(gctx, z.BaseURL+v.path)
			if err != nil {
				if v.optional {
					log.Warn("skip variant", zap.String("variant", v.name), zap.Error(err))
					return nil
				}
				return eris.Wrapf(err, "zillow: fetch %s", v.name)
			}
			points, rows := z.parseVariant(string(body), cutoff)
			mu.Lock()
			series[v.name] = points
			scanned += rows
			mu.Unlock()
			log.Info("variant parsed",
				zap.String("variant", v.name),
				zap.Int("points", len(points)),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows := joinVariants(series)
	synced, err := db.BulkUpsert(ctx, ex, db.UpsertConfig{
		Table:        z.Table(),
		Columns:      []string{"region_id", "month", "home_value", "sfr_value", "condo_value", "rent_value"},
		ConflictKeys: []string{"region_id", "month"},
		BatchSize:    z.BatchSize,
	}, rows)
	if err != nil {
		return nil, eris.Wrap(err, "zillow: upsert")
	}

	return &SyncResult{
		RowsScanned: scanned,
		RowsMatched: int64(len(rows)),
		RowsSynced:  synced,
		Metadata:    map[string]any{"variants": len(series)},
	}, nil
}

// parseVariant extracts allow-listed regions' monthly points from one wide
// CSV. Returns the points plus the number of data rows scanned.
func (z *Zillow) parseVariant(body string, cutoff time.Time) (map[seriesKey]float64, int64) {
	headers, recs := delim.Parse(body, ',')

	// Identify the month columns once per file.
	var months []string
	for _, h := range headers {
		if d, err := time.Parse("2006-01-02", h); err == nil && !d.Before(cutoff) {
			months = append(months, h)
		}
	}

	points := make(map[seriesKey]float64)
	for _, rec := range recs {
		regionID := geo.Normalize(rec[regionColumn])
		if regionID == "" || !z.Filter.Allows(regionID) {
			continue
		}
		for _, m := range months {
			if v := NullableFloat(rec[m]); v != nil {
				points[seriesKey{regionID: regionID, month: m}] = *v
			}
		}
	}
	return points, int64(len(recs))
}

// joinVariants unions the per-variant series on (region, month) into upsert
// rows, ordered deterministically.
func joinVariants(series map[string]map[seriesKey]float64) [][]any {
	keys := make(map[seriesKey]struct{})
	for _, pts := range series {
		for k := range pts {
			keys[k] = struct{}{}
		}
	}
	ordered := make([]seriesKey, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].regionID != ordered[j].regionID {
			return ordered[i].regionID < ordered[j].regionID
		}
		return ordered[i].month < ordered[j].month
	})

	lookup := func(name string, k seriesKey) *float64 {
		if pts, ok := series[name]; ok {
			if v, ok := pts[k]; ok {
				return &v
			}
		}
		return nil
	}

	rows := make([][]any, 0, len(ordered))
	for _, k := range ordered {
		rows = append(rows, []any{
			k.regionID,
			k.month,
			lookup("zhvi_all", k),
			lookup("zhvi_sfr", k),
			lookup("zhvi_condo", k),
			lookup("zori_rent", k),
		})
	}
	return rows
}
