package metrics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fptr(f float64) *float64 { return &f }

// fixtureStore backs the engine with in-memory observations.
type fixtureStore struct {
	regions    []string
	values     map[string]*ValueObservation
	series     map[string][]ValuePoint
	dems       map[string]*DemographicObservation
	mkts       map[string]*MarketObservation
	upserts    []Row
	failRegion string
}

func (s *fixtureStore) RegionsWithValues(context.Context) ([]string, error) {
	return s.regions, nil
}

func (s *fixtureStore) LatestValue(_ context.Context, id string) (*ValueObservation, error) {
	if id == s.failRegion {
		return nil, fmt.Errorf("synthetic read failure")
	}
	return s.values[id], nil
}

func (s *fixtureStore) ValueSeries(_ context.Context, id string) ([]ValuePoint, error) {
	return s.series[id], nil
}

func (s *fixtureStore) LatestDemographic(_ context.Context, id string) (*DemographicObservation, error) {
	return s.dems[id], nil
}

func (s *fixtureStore) LatestMarket(_ context.Context, id string) (*MarketObservation, error) {
	return s.mkts[id], nil
}

func (s *fixtureStore) UpsertRow(_ context.Context, row Row) error {
	s.upserts = append(s.upserts, row)
	return nil
}

// linearSeries produces n monthly points starting at base, rising by step.
func linearSeries(base, step float64, n int) []ValuePoint {
	out := make([]ValuePoint, n)
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = ValuePoint{Month: start.AddDate(0, i, 0), Value: base + step*float64(i)}
	}
	return out
}

func fullStore() *fixtureStore {
	return &fixtureStore{
		regions: []string{"33602"},
		values: map[string]*ValueObservation{
			"33602": {
				RegionID:  "33602",
				Month:     time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC),
				HomeValue: fptr(400000),
				RentValue: fptr(2000),
			},
		},
		series: map[string][]ValuePoint{"33602": linearSeries(300000, 1000, 12)},
		dems: map[string]*DemographicObservation{
			"33602": {RegionID: "33602", Year: 2022, MedianIncome: fptr(80000)},
		},
		mkts: map[string]*MarketObservation{
			"33602": {RegionID: "33602", MedianDOM: fptr(20), SaleToList: fptr(0.99)},
		},
	}
}

func runOne(t *testing.T, store *fixtureStore, as Assumptions) Row {
	t.Helper()
	e := NewEngine(store, as)
	res, err := e.Run(context.Background(), time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 1, res.Computed)
	require.Len(t, store.upserts, 1)
	return store.upserts[0]
}

func TestValueIncomeRatioExact(t *testing.T) {
	row := runOne(t, fullStore(), DefaultAssumptions())
	require.NotNil(t, row.ValueIncomeRatio)
	assert.Equal(t, 5.0, *row.ValueIncomeRatio) // 400000 / 80000 exactly
}

func TestForecastDeterministicOnLinearSeries(t *testing.T) {
	row := runOne(t, fullStore(), DefaultAssumptions())
	require.NotNil(t, row.Forecast12mPct)
	// Values rise $1,000/month from $300,000 across 12 points; the OLS fit
	// is exact, so the forecast is 12 * 1000 / 311000.
	assert.InDelta(t, 12000.0/311000.0*100, *row.Forecast12mPct, 1e-9)
}

func TestForecastRequiresSixPoints(t *testing.T) {
	store := fullStore()
	store.series["33602"] = linearSeries(300000, 1000, 5)
	row := runOne(t, store, DefaultAssumptions())
	assert.Nil(t, row.Forecast12mPct)
}

func TestOvervaluedPctAgainstHistoricalAverage(t *testing.T) {
	store := fullStore()
	// Ratios 4.0 and 5.0 against income 80000; average 4.5, current 5.0.
	store.series["33602"] = []ValuePoint{
		{Month: time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC), Value: 320000},
		{Month: time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC), Value: 400000},
	}
	row := runOne(t, store, DefaultAssumptions())
	require.NotNil(t, row.OvervaluedPct)
	assert.InDelta(t, (5.0-4.5)/4.5*100, *row.OvervaluedPct, 1e-9)
}

func TestMortgageZeroRateIsStraightLine(t *testing.T) {
	as := DefaultAssumptions()
	as.InterestRate = 0
	row := runOne(t, fullStore(), as)
	require.NotNil(t, row.MonthlyMortgage)
	// 80% of 400000 over 360 payments
	assert.InDelta(t, 320000.0/360.0, *row.MonthlyMortgage, 1e-9)
}

func TestMortgageDerivedFields(t *testing.T) {
	as := DefaultAssumptions()
	row := runOne(t, fullStore(), as)
	require.NotNil(t, row.MonthlyMortgage)
	m := *row.MonthlyMortgage
	assert.Greater(t, m, 1500.0)
	assert.Less(t, m, 2500.0)

	require.NotNil(t, row.MtgPctIncome)
	assert.InDelta(t, m*12/80000*100, *row.MtgPctIncome, 1e-9)
	require.NotNil(t, row.SalaryToAfford)
	assert.InDelta(t, m*12/as.AffordabilityRatio, *row.SalaryToAfford, 1e-9)

	require.NotNil(t, row.CapRate)
	assert.InDelta(t, 2000*12*0.65/400000*100, *row.CapRate, 1e-9)
	require.NotNil(t, row.BuyVsRent)
	assert.InDelta(t, m/2000, *row.BuyVsRent, 1e-9)
}

func TestRentUnavailableNullsRentalMetrics(t *testing.T) {
	store := fullStore()
	store.values["33602"].RentValue = nil
	row := runOne(t, store, DefaultAssumptions())
	assert.Nil(t, row.CapRate)
	assert.Nil(t, row.BuyVsRent)
	// investor score survives on days-on-market alone
	require.NotNil(t, row.InvestorScore)
}

func TestMissingIncomeNullsRatiosNotMortgage(t *testing.T) {
	store := fullStore()
	store.dems = nil
	row := runOne(t, store, DefaultAssumptions())
	assert.Nil(t, row.ValueIncomeRatio)
	assert.Nil(t, row.OvervaluedPct)
	assert.Nil(t, row.MtgPctIncome)
	require.NotNil(t, row.MonthlyMortgage)
	require.NotNil(t, row.SalaryToAfford)
}

func TestScoresWithinRangeOrNull(t *testing.T) {
	store := fullStore()
	// extreme inputs that would overflow the scale without clipping
	store.values["33602"].RentValue = fptr(9000)
	store.series["33602"] = linearSeries(100000, 25000, 12)
	row := runOne(t, store, DefaultAssumptions())

	for _, s := range []*float64{row.InvestorScore, row.GrowthScore, row.MarketHealthScore} {
		require.NotNil(t, s)
		assert.GreaterOrEqual(t, *s, 0.0)
		assert.LessOrEqual(t, *s, 100.0)
	}
}

func TestScoresNullWhenAllSubIndicatorsNull(t *testing.T) {
	store := &fixtureStore{
		regions: []string{"33699"},
		values: map[string]*ValueObservation{
			"33699": {RegionID: "33699", HomeValue: fptr(250000)},
		},
		series: map[string][]ValuePoint{"33699": linearSeries(250000, 0, 1)},
	}
	row := runOne(t, store, DefaultAssumptions())
	assert.Nil(t, row.InvestorScore)
	assert.Nil(t, row.GrowthScore)
	assert.Nil(t, row.MarketHealthScore)
}

func TestRegionFailureDoesNotAbortRun(t *testing.T) {
	store := fullStore()
	store.regions = []string{"00000", "33602"}
	store.failRegion = "00000"

	e := NewEngine(store, DefaultAssumptions())
	res, err := e.Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Regions)
	assert.Equal(t, 1, res.Computed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, store.upserts, 1)
	assert.Equal(t, "33602", store.upserts[0].RegionID)
}
