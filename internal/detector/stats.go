package detector

import (
	"math"
	"time"

	"tickpulse/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	sideBuy  = "BUY"
	sideSell = "SELL"
)

// participantTrade is one trade attributed to a counterparty, on the side
// that counterparty took.
type participantTrade struct {
	Time   time.Time
	Price  decimal.Decimal
	Volume int64
	Side   string
}

// groupByCounterparty buckets ticks by counterparty identifier. A tick that
// carries both a buy-side and a sell-side identifier contributes to two
// groups, one per side. Input ticks must be ordered by event time.
func groupByCounterparty(ticks []domain.Tick) map[string][]participantTrade {
	groups := make(map[string][]participantTrade)
	for i := range ticks {
		tick := &ticks[i]
		if tick.BuyParty != "" {
			groups[tick.BuyParty] = append(groups[tick.BuyParty], participantTrade{
				Time: tick.EventTime, Price: tick.Price, Volume: tick.Volume, Side: sideBuy,
			})
		}
		if tick.SellParty != "" {
			groups[tick.SellParty] = append(groups[tick.SellParty], participantTrade{
				Time: tick.EventTime, Price: tick.Price, Volume: tick.Volume, Side: sideSell,
			})
		}
	}
	return groups
}

// groupMetrics holds the behavioral measurements for one counterparty group.
type groupMetrics struct {
	TradeCount    int
	TotalVolume   int64
	Notional      decimal.Decimal
	FirstSeen     time.Time
	LastSeen      time.Time
	FrequencyMin  float64         // mean inter-trade gap, minutes
	GapCV         float64         // coefficient of variation of the gaps
	Variation     decimal.Decimal // (max-min)/min price ratio
	AggressionPct float64         // mean directional move, percent
}

// computeMetrics measures a counterparty group. Requires at least two trades.
func computeMetrics(trades []participantTrade) groupMetrics {
	m := groupMetrics{
		TradeCount: len(trades),
		Notional:   decimal.Zero,
		FirstSeen:  trades[0].Time,
		LastSeen:   trades[len(trades)-1].Time,
	}

	minPrice := trades[0].Price
	maxPrice := trades[0].Price
	for _, tr := range trades {
		m.TotalVolume += tr.Volume
		m.Notional = m.Notional.Add(tr.Price.Mul(decimal.NewFromInt(tr.Volume)))
		if tr.Price.LessThan(minPrice) {
			minPrice = tr.Price
		}
		if tr.Price.GreaterThan(maxPrice) {
			maxPrice = tr.Price
		}
	}

	// Inter-trade gap statistics, in minutes.
	gaps := make([]float64, 0, len(trades)-1)
	for i := 1; i < len(trades); i++ {
		gaps = append(gaps, trades[i].Time.Sub(trades[i-1].Time).Minutes())
	}
	mean := meanOf(gaps)
	m.FrequencyMin = mean
	if mean > 0 {
		m.GapCV = stddevOf(gaps, mean) / mean
	}

	// Guarded fallback: a zero minimum price cannot anchor a relative range,
	// so the variation saturates instead of dividing by zero.
	if minPrice.IsPositive() {
		m.Variation = maxPrice.Sub(minPrice).Div(minPrice)
	} else {
		m.Variation = decimal.NewFromInt(1)
	}

	m.AggressionPct = meanAggressionPct(trades)
	return m
}

// meanAggressionPct averages, over consecutive trade pairs, the price move in
// the direction the participant traded (buy-then-up or sell-then-down),
// expressed as a percentage of the earlier price. Pairs that moved against
// the participant do not qualify; with no qualifying pair the score is 0.
func meanAggressionPct(trades []participantTrade) float64 {
	sum := decimal.Zero
	qualifying := 0

	for i := 1; i < len(trades); i++ {
		prev := trades[i-1]
		if prev.Price.IsZero() {
			continue
		}

		move := trades[i].Price.Sub(prev.Price).Div(prev.Price).Mul(decimal.NewFromInt(100))
		if prev.Side == sideSell {
			move = move.Neg()
		}
		if move.IsPositive() {
			sum = sum.Add(move)
			qualifying++
		}
	}

	if qualifying == 0 {
		return 0
	}
	mean, _ := sum.Div(decimal.NewFromInt(int64(qualifying))).Float64()
	return mean
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddevOf(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
