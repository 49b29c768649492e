package metrics

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Assumptions are fixed financial constants, not discovered from data.
type Assumptions struct {
	InterestRate       float64 // annual fixed mortgage rate
	TermYears          int
	DownPaymentPct     float64 // fraction of price paid down
	ExpenseRatio       float64 // share of rent lost to operating expenses
	AffordabilityRatio float64 // share of income safely spent on housing
	CapRateScale       float64 // maps cap-rate % onto the 0-100 score scale
	IdealBuyVsRent     float64 // mortgage/rent ratio considered balanced
}

// DefaultAssumptions returns the standard parameter set.
func DefaultAssumptions() Assumptions {
	return Assumptions{
		InterestRate:       0.065,
		TermYears:          30,
		DownPaymentPct:     0.20,
		ExpenseRatio:       0.35,
		AffordabilityRatio: 0.28,
		CapRateScale:       12.5,
		IdealBuyVsRent:     1.0,
	}
}

const (
	forecastHorizon   = 12 // months extrapolated beyond the last observation
	forecastWindow    = 12 // trailing points fitted
	forecastMinPoints = 6
)

// Engine computes one metrics row per region per run date.
type Engine struct {
	store Store
	as    Assumptions
}

// NewEngine builds an engine over a store.
func NewEngine(store Store, as Assumptions) *Engine {
	return &Engine{store: store, as: as}
}

// Result summarizes one metrics run.
type Result struct {
	Regions  int
	Computed int
	Failed   int
}

// Run recomputes and upserts metrics for every region that has at least one
// value observation. A single region's failure is logged and skipped; it
// never aborts the remaining regions.
func (e *Engine) Run(ctx context.Context, asOf time.Time) (*Result, error) {
	log := zap.L().With(zap.String("stage", "metrics"))

	regions, err := e.store.RegionsWithValues(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "metrics: list regions")
	}

	res := &Result{Regions: len(regions)}
	for _, regionID := range regions {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		row, err := e.computeRegion(ctx, regionID, asOf)
		if err != nil {
			res.Failed++
			log.Warn("region skipped", zap.String("region_id", regionID), zap.Error(err))
			continue
		}
		if err := e.store.UpsertRow(ctx, *row); err != nil {
			res.Failed++
			log.Warn("region upsert failed", zap.String("region_id", regionID), zap.Error(err))
			continue
		}
		res.Computed++
	}

	log.Info("metrics run complete",
		zap.Int("regions", res.Regions),
		zap.Int("computed", res.Computed),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (e *Engine) computeRegion(ctx context.Context, regionID string, asOf time.Time) (*Row, error) {
	val, err := e.store.LatestValue(ctx, regionID)
	if err != nil {
		return nil, err
	}
	if val == nil || val.HomeValue == nil {
		return nil, eris.Errorf("no usable value observation for %s", regionID)
	}
	dem, err := e.store.LatestDemographic(ctx, regionID)
	if err != nil {
		return nil, err
	}
	mkt, err := e.store.LatestMarket(ctx, regionID)
	if err != nil {
		return nil, err
	}
	series, err := e.store.ValueSeries(ctx, regionID)
	if err != nil {
		return nil, err
	}

	homeValue := *val.HomeValue
	var income *float64
	if dem != nil {
		income = dem.MedianIncome
	}

	row := &Row{RegionID: regionID, MetricDate: asOf}
	row.ValueIncomeRatio = ratio(&homeValue, income)
	row.OvervaluedPct = overvaluedPct(homeValue, income, series)

	monthly := e.monthlyMortgage(homeValue)
	row.MonthlyMortgage = &monthly

	annualMortgage := monthly * 12
	row.MtgPctIncome = pct(&annualMortgage, income)
	salary := annualMortgage / e.as.AffordabilityRatio
	row.SalaryToAfford = &salary

	if val.RentValue != nil && *val.RentValue > 0 {
		capRate := (*val.RentValue * 12 * (1 - e.as.ExpenseRatio)) / homeValue * 100
		row.CapRate = &capRate
		bvr := monthly / *val.RentValue
		row.BuyVsRent = &bvr
	}

	row.Forecast12mPct = forecastPct(series)
	growth := trailingGrowthPct(series)

	row.InvestorScore = e.investorScore(row.CapRate, row.BuyVsRent, domOf(mkt))
	row.GrowthScore = e.growthScore(row.Forecast12mPct, growth)
	row.MarketHealthScore = e.healthScore(row.MtgPctIncome, row.OvervaluedPct, saleToListOf(mkt))
	return row, nil
}

// monthlyMortgage is the standard fixed-rate amortization payment on the
// financed portion of the price.
func (e *Engine) monthlyMortgage(price float64) float64 {
	principal := price * (1 - e.as.DownPaymentPct)
	monthlyRate := e.as.InterestRate / 12
	n := float64(e.as.TermYears * 12)
	if monthlyRate == 0 {
		return principal / n
	}
	factor := math.Pow(1+monthlyRate, n)
	return principal * monthlyRate * factor / (factor - 1)
}

// overvaluedPct expresses the current value-to-income ratio as a percentage
// deviation from the region's historical average ratio.
func overvaluedPct(homeValue float64, income *float64, series []ValuePoint) *float64 {
	if income == nil || *income == 0 || len(series) == 0 {
		return nil
	}
	var sum float64
	for _, p := range series {
		sum += p.Value / *income
	}
	avg := sum / float64(len(series))
	if avg == 0 {
		return nil
	}
	cur := homeValue / *income
	out := (cur - avg) / avg * 100
	return &out
}

// forecastPct fits an OLS line to the trailing monthly values and
// extrapolates forecastHorizon steps, expressed as percentage change from
// the current fitted value.
func forecastPct(series []ValuePoint) *float64 {
	pts := series
	if len(pts) > forecastWindow {
		pts = pts[len(pts)-forecastWindow:]
	}
	if len(pts) < forecastMinPoints {
		return nil
	}
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		xs[i] = float64(i)
		ys[i] = p.Value
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	last := float64(len(pts) - 1)
	fitted := alpha + beta*last
	future := alpha + beta*(last+forecastHorizon)
	if fitted <= 0 {
		return nil
	}
	out := (future - fitted) / fitted * 100
	return &out
}

// trailingGrowthPct is the realized value change across the trailing
// 12-point window.
func trailingGrowthPct(series []ValuePoint) *float64 {
	pts := series
	if len(pts) > forecastWindow {
		pts = pts[len(pts)-forecastWindow:]
	}
	if len(pts) < 2 || pts[0].Value == 0 {
		return nil
	}
	out := (pts[len(pts)-1].Value - pts[0].Value) / pts[0].Value * 100
	return &out
}

func domOf(m *MarketObservation) *float64 {
	if m == nil {
		return nil
	}
	return m.MedianDOM
}

func saleToListOf(m *MarketObservation) *float64 {
	if m == nil {
		return nil
	}
	return m.SaleToList
}

// ratio is null-safe division: nil or zero denominator yields nil.
func ratio(num, den *float64) *float64 {
	if num == nil || den == nil || *den == 0 {
		return nil
	}
	r := *num / *den
	return &r
}

func pct(num, den *float64) *float64 {
	r := ratio(num, den)
	if r == nil {
		return nil
	}
	p := *r * 100
	return &p
}
