// Package metrics joins the three observation tables per region and derives
// the composite market picture: affordability ratios, a valuation measure,
// an OLS price forecast, and three 0-100 scores. It is purely a read-side
// product; every row it writes can be rebuilt from the observation tables.
package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"housing-market-pipeline/internal/db"
)

// ValueObservation is the latest value-index row for a region.
type ValueObservation struct {
	RegionID   string
	Month      time.Time
	HomeValue  *float64
	SFRValue   *float64
	CondoValue *float64
	RentValue  *float64
}

// ValuePoint is one month of the home-value series.
type ValuePoint struct {
	Month time.Time
	Value float64
}

// DemographicObservation is the latest ACS row for a region.
type DemographicObservation struct {
	RegionID     string
	Year         int
	Population   *int64
	MedianIncome *float64
	MedianAge    *float64
}

// MarketObservation is the latest sales-tracker row for a region.
type MarketObservation struct {
	RegionID        string
	PeriodStart     time.Time
	MedianSalePrice *float64
	MedianDOM       *float64
	SaleToList      *float64
	Inventory       *int64
}

// Row is one computed metrics row for (region, date).
type Row struct {
	RegionID          string
	MetricDate        time.Time
	ValueIncomeRatio  *float64
	OvervaluedPct     *float64
	MonthlyMortgage   *float64
	MtgPctIncome      *float64
	SalaryToAfford    *float64
	BuyVsRent         *float64
	CapRate           *float64
	Forecast12mPct    *float64
	InvestorScore     *float64
	GrowthScore       *float64
	MarketHealthScore *float64
}

// Store is the persistence surface the engine computes against. The pgx
// implementation is SQLStore; tests substitute fixtures.
type Store interface {
	// RegionsWithValues lists regions having at least one value observation.
	RegionsWithValues(ctx context.Context) ([]string, error)
	// LatestValue returns the most recent value observation, or nil.
	LatestValue(ctx context.Context, regionID string) (*ValueObservation, error)
	// ValueSeries returns the non-null home-value series, oldest first.
	ValueSeries(ctx context.Context, regionID string) ([]ValuePoint, error)
	// LatestDemographic returns the most recent ACS row, or nil.
	LatestDemographic(ctx context.Context, regionID string) (*DemographicObservation, error)
	// LatestMarket returns the most recent market observation, or nil.
	LatestMarket(ctx context.Context, regionID string) (*MarketObservation, error)
	// UpsertRow writes one metrics row keyed by (region, date).
	UpsertRow(ctx context.Context, row Row) error
}

// Querier is what SQLStore needs from the shared pool.
type Querier interface {
	db.Execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SQLStore reads the observation tables and writes market_metrics.
type SQLStore struct {
	q Querier
}

// NewSQLStore wraps the shared pool.
func NewSQLStore(q Querier) *SQLStore { return &SQLStore{q: q} }

func (s *SQLStore) RegionsWithValues(ctx context.Context) ([]string, error) {
	rows, err := s.q.Query(ctx,
		`SELECT DISTINCT region_id FROM home_value_observations ORDER BY region_id`)
	if err != nil {
		return nil, eris.Wrap(err, "metrics: list regions")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "metrics: scan region")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLStore) LatestValue(ctx context.Context, regionID string) (*ValueObservation, error) {
	var v ValueObservation
	err := s.q.QueryRow(ctx,
		`SELECT region_id, month, home_value, sfr_value, condo_value, rent_value
		 FROM home_value_observations
		 WHERE region_id = $1
		 ORDER BY month DESC LIMIT 1`, regionID).
		Scan(&v.RegionID, &v.Month, &v.HomeValue, &v.SFRValue, &v.CondoValue, &v.RentValue)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "metrics: latest value %s", regionID)
	}
	return &v, nil
}

func (s *SQLStore) ValueSeries(ctx context.Context, regionID string) ([]ValuePoint, error) {
	rows, err := s.q.Query(ctx,
		`SELECT month, home_value FROM home_value_observations
		 WHERE region_id = $1 AND home_value IS NOT NULL
		 ORDER BY month ASC`, regionID)
	if err != nil {
		return nil, eris.Wrapf(err, "metrics: value series %s", regionID)
	}
	defer rows.Close()

	var out []ValuePoint
	for rows.Next() {
		var p ValuePoint
		if err := rows.Scan(&p.Month, &p.Value); err != nil {
			return nil, eris.Wrapf(err, "metrics: scan series %s", regionID)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) LatestDemographic(ctx context.Context, regionID string) (*DemographicObservation, error) {
	var d DemographicObservation
	err := s.q.QueryRow(ctx,
		`SELECT region_id, acs_year, population, median_income, median_age
		 FROM demographic_observations
		 WHERE region_id = $1
		 ORDER BY acs_year DESC LIMIT 1`, regionID).
		Scan(&d.RegionID, &d.Year, &d.Population, &d.MedianIncome, &d.MedianAge)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "metrics: latest demographic %s", regionID)
	}
	return &d, nil
}

func (s *SQLStore) LatestMarket(ctx context.Context, regionID string) (*MarketObservation, error) {
	var m MarketObservation
	err := s.q.QueryRow(ctx,
		`SELECT region_id, period_start, median_sale_price, median_dom, sale_to_list, inventory
		 FROM market_observations
		 WHERE region_id = $1
		 ORDER BY period_start DESC LIMIT 1`, regionID).
		Scan(&m.RegionID, &m.PeriodStart, &m.MedianSalePrice, &m.MedianDOM, &m.SaleToList, &m.Inventory)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "metrics: latest market %s", regionID)
	}
	return &m, nil
}

func (s *SQLStore) UpsertRow(ctx context.Context, row Row) error {
	_, err := db.BulkUpsert(ctx, s.q, db.UpsertConfig{
		Table: "market_metrics",
		Columns: []string{
			"region_id", "metric_date", "value_income_ratio", "overvalued_pct",
			"monthly_mortgage", "mtg_pct_income", "salary_to_afford",
			"buy_vs_rent", "cap_rate", "forecast_12m_pct",
			"investor_score", "growth_score", "market_health_score",
		},
		ConflictKeys: []string{"region_id", "metric_date"},
	}, [][]any{{
		row.RegionID,
		row.MetricDate.Format("2006-01-02"),
		row.ValueIncomeRatio,
		row.OvervaluedPct,
		row.MonthlyMortgage,
		row.MtgPctIncome,
		row.SalaryToAfford,
		row.BuyVsRent,
		row.CapRate,
		row.Forecast12mPct,
		row.InvestorScore,
		row.GrowthScore,
		row.MarketHealthScore,
	}})
	if err != nil {
		return eris.Wrapf(err, "metrics: upsert %s", row.RegionID)
	}
	return nil
}
