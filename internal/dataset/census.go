package dataset

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"housing-market-pipeline/internal/db"
	"housing-market-pipeline/internal/fetcher"
	"housing-market-pipeline/internal/geo"
)

// ACS 5-year variable codes requested per region. Raw counts only; every
// rate is derived locally through the null-safe helpers.
var acsVariables = []string{
	"B01003_001E", // total population
	"B19013_001E", // median household income
	"B01002_001E", // median age
	"B25003_001E", // tenure universe (occupied housing units)
	"B25003_002E", // owner-occupied units
	"B17001_001E", // poverty universe
	"B17001_002E", // below poverty level
	"B15003_001E", // education universe (25+)
	"B15003_022E", // bachelor's
	"B15003_023E", // master's
	"B15003_024E", // professional degree
	"B15003_025E", // doctorate
	"B08006_001E", // workers 16+
	"B08006_017E", // worked at home
	"B25001_001E", // housing units
	"B11001_001E", // households
	"B11001_002E", // family households
}

const zctaColumn = "zip code tabulation area"

// Census ingests ACS 5-year demographic data per ZCTA. Vintages are tried
// from most to least recent; the first one that responds wins and the rest
// are skipped.
type Census struct {
	Filter    *geo.Filter
	BaseURL   string
	APIKey    string
	BatchSize int   // 0 = db.DefaultBatchSize
	Vintages  []int // descending; nil = DefaultVintages
}

// DefaultVintages are the ACS 5-year releases worth trying, newest first.
var DefaultVintages = []int{2023, 2022, 2021}

func (c *Census) Name() string  { return "census" }
func (c *Census) Table() string { return "demographic_observations" }

func (c *Census) vintageURL(vintage int) string {
	q := url.Values{}
	q.Set("get", strings.Join(acsVariables, ","))
	q.Set("for", "zip code tabulation area:*")
	if c.APIKey != "" {
		q.Set("key", c.APIKey)
	}
	return fmt.Sprintf("%s/%d/acs/acs5?%s", c.BaseURL, vintage, q.Encode())
}

func (c *Census) Sync(ctx context.Context, ex db.Execer, f *fetcher.Fetcher) (*SyncResult, error) {
	log := zap.L().With(zap.String("dataset", c.Name()))
	vintages := c.Vintages
	if vintages == nil {
		vintages = DefaultVintages
	}

	// Try vintages newest-first; the first success is used and the rest are
	// never requested.
	var table [][]*string
	var vintage int
	for _, v := range vintages {
		resp, err := fetcher.DecodeJSON[[][]*string](ctx, f, c.vintageURL(v))
		if err != nil {
			log.Warn("vintage unavailable", zap.Int("vintage", v), zap.Error(err))
			continue
		}
		table = resp
		vintage = v
		break
	}
	if table == nil {
		return nil, eris.Errorf("census: no ACS vintage available (tried %v)", vintages)
	}
	if len(table) < 2 {
		return nil, eris.Errorf("census: vintage %d returned no data rows", vintage)
	}
	log.Info("vintage selected", zap.Int("vintage", vintage), zap.Int("rows", len(table)-1))

	idx := make(map[string]int, len(table[0]))
	for i, h := range table[0] {
		if h != nil {
			idx[*h] = i
		}
	}
	if _, ok := idx[zctaColumn]; !ok {
		return nil, eris.Errorf("census: vintage %d response missing geography column", vintage)
	}

	field := func(row []*string, name string) *float64 {
		i, ok := idx[name]
		if !ok || i >= len(row) || row[i] == nil {
			return nil
		}
		return NullableFloat(*row[i])
	}

	var rows [][]any
	var scanned int64
	for _, raw := range table[1:] {
		scanned++
		zcta := ""
		if i := idx[zctaColumn]; i < len(raw) && raw[i] != nil {
			zcta = geo.Normalize(*raw[i])
		}
		if zcta == "" || !c.Filter.Allows(zcta) {
			continue
		}

		population := NullableIntFromFloat(field(raw, "B01003_001E"))
		housingUnits := NullableIntFromFloat(field(raw, "B25001_001E"))

		collegeNum := SumStrict(
			field(raw, "B15003_022E"),
			field(raw, "B15003_023E"),
			field(raw, "B15003_024E"),
			field(raw, "B15003_025E"),
		)

		rows = append(rows, []any{
			zcta,
			vintage,
			population,
			field(raw, "B19013_001E"),
			field(raw, "B01002_001E"),
			Pct(field(raw, "B25003_002E"), field(raw, "B25003_001E")),
			Pct(field(raw, "B17001_002E"), field(raw, "B17001_001E")),
			Pct(collegeNum, field(raw, "B15003_001E")),
			Pct(field(raw, "B08006_017E"), field(raw, "B08006_001E")),
			housingUnits,
			Pct(field(raw, "B11001_002E"), field(raw, "B11001_001E")),
		})
	}

	synced, err := db.BulkUpsert(ctx, ex, db.UpsertConfig{
		Table: c.Table(),
		Columns: []string{
			"region_id", "acs_year", "population", "median_income", "median_age",
			"homeownership_rate", "poverty_rate", "college_rate",
			"remote_work_rate", "housing_units", "family_household_rate",
		},
		ConflictKeys: []string{"region_id", "acs_year"},
		BatchSize:    c.BatchSize,
	}, rows)
	if err != nil {
		return nil, eris.Wrap(err, "census: upsert")
	}

	return &SyncResult{
		RowsScanned: scanned,
		RowsMatched: int64(len(rows)),
		RowsSynced:  synced,
		Metadata:    map[string]any{"vintage": vintage},
	}, nil
}

// NullableIntFromFloat converts an already null-checked float field to a
// count column value.
func NullableIntFromFloat(f *float64) *int64 {
	if f == nil {
		return nil
	}
	n := int64(*f)
	return &n
}
