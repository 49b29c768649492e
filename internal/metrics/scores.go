package metrics

// Composite scores. Each score is the arithmetic mean of its non-null
// normalized sub-indicators, clipped to [0,100]. If every sub-indicator is
// null the score is null — never a defaulted number.

func clip(x float64) *float64 {
	if x < 0 {
		x = 0
	}
	if x > 100 {
		x = 100
	}
	return &x
}

// meanNonNull averages the non-null values; nil when all are null.
func meanNonNull(vals ...*float64) *float64 {
	var sum float64
	var n int
	for _, v := range vals {
		if v == nil {
			continue
		}
		sum += *v
		n++
	}
	if n == 0 {
		return nil
	}
	return clip(sum / float64(n))
}

// investorScore blends rental yield, the buy-vs-rent balance, and market
// velocity.
func (e *Engine) investorScore(capRate, buyVsRent, medianDOM *float64) *float64 {
	var subs []*float64

	if capRate != nil {
		subs = append(subs, clip(*capRate*e.as.CapRateScale))
	} else {
		subs = append(subs, nil)
	}
	if buyVsRent != nil {
		dist := *buyVsRent - e.as.IdealBuyVsRent
		if dist < 0 {
			dist = -dist
		}
		subs = append(subs, clip(100-dist*100))
	} else {
		subs = append(subs, nil)
	}
	if medianDOM != nil {
		subs = append(subs, clip(100-*medianDOM))
	} else {
		subs = append(subs, nil)
	}
	return meanNonNull(subs...)
}

// growthScore maps the forecast and realized trailing growth around a
// neutral midpoint of 50.
func (e *Engine) growthScore(forecastPct, trailingGrowthPct *float64) *float64 {
	var f, g *float64
	if forecastPct != nil {
		f = clip(50 + *forecastPct*5)
	}
	if trailingGrowthPct != nil {
		g = clip(50 + *trailingGrowthPct*5)
	}
	return meanNonNull(f, g)
}

// healthScore blends inverse mortgage burden, inverse overvaluation, and
// sale-to-list closeness to 1.0.
func (e *Engine) healthScore(mtgPctIncome, overvaluedPct, saleToList *float64) *float64 {
	var burden, valuation, tightness *float64
	if mtgPctIncome != nil {
		burden = clip(100 - *mtgPctIncome*2)
	}
	if overvaluedPct != nil {
		valuation = clip(50 - *overvaluedPct)
	}
	if saleToList != nil {
		dist := 1 - *saleToList
		if dist < 0 {
			dist = -dist
		}
		tightness = clip(100 - dist*500)
	}
	return meanNonNull(burden, valuation, tightness)
}
