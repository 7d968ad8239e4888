package detector

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"tickpulse/internal/domain"
	"tickpulse/internal/infra"

	"github.com/shopspring/decimal"
)

// Store is the persistence surface the detector depends on.
type Store interface {
	domain.TickReader
	domain.PatternStore
}

// Detector periodically analyzes recent persisted ticks, groups trades by
// counterparty identifier, and classifies groups whose size, frequency and
// price behavior look like automated time-weighted execution. Findings are
// persisted atomically; a failed run leaves no partial state and is simply
// retried on the next schedule.
type Detector struct {
	store   Store
	metrics *infra.Metrics
	cfg     *infra.Config

	interval      time.Duration
	window        time.Duration
	inactiveAfter time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewDetector creates a detector wired to the given store.
func NewDetector(store Store, metrics *infra.Metrics, cfg *infra.Config) *Detector {
	return &Detector{
		store:         store,
		metrics:       metrics,
		cfg:           cfg,
		interval:      time.Duration(cfg.Detector.IntervalSec) * time.Second,
		window:        time.Duration(cfg.Detector.WindowHours) * time.Hour,
		inactiveAfter: time.Duration(cfg.Detector.InactiveAfterHours) * time.Hour,
		now:           time.Now,
	}
}

// Start launches the detection schedule.
func (d *Detector) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the schedule and waits for an in-flight run to finish.
func (d *Detector) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// RunOnce analyzes every symbol with recent activity, then runs the
// inactivity maintenance pass.
func (d *Detector) RunOnce(ctx context.Context) {
	since := d.now().Add(-d.window)

	symbols, err := d.store.ActiveSymbols(ctx, since)
	if err != nil {
		d.metrics.RecordError()
		slog.Warn("Detector could not list active symbols", slog.Any("error", err))
		return
	}

	for _, symbol := range symbols {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.analyzeSymbol(ctx, symbol, since)
	}

	flagged, err := d.store.MarkInactivePatterns(ctx, d.now().Add(-d.inactiveAfter))
	if err != nil {
		d.metrics.RecordError()
		slog.Warn("Inactivity maintenance failed", slog.Any("error", err))
	} else if flagged > 0 {
		slog.Info("Patterns marked inactive", slog.Int64("count", flagged))
	}

	d.metrics.RecordDetectorRun()
}

func (d *Detector) analyzeSymbol(ctx context.Context, symbol string, since time.Time) {
	ticks, err := d.store.TicksSince(ctx, symbol, since)
	if err != nil {
		d.metrics.RecordError()
		slog.Warn("Detector could not load ticks",
			slog.String("symbol", symbol), slog.Any("error", err))
		return
	}
	if len(ticks) == 0 {
		return
	}

	venue := ticks[0].Venue
	groups := groupByCounterparty(ticks)

	for counterparty, trades := range groups {
		pattern, patternTrades, found := d.evaluate(symbol, venue, counterparty, trades, ticks)
		if !found {
			continue
		}

		if err := d.store.UpsertPatternWithTrades(ctx, pattern, patternTrades); err != nil {
			// Rolled back whole; the next scheduled run re-evaluates.
			d.metrics.RecordError()
			slog.Warn("Pattern persist failed",
				slog.String("symbol", symbol),
				slog.String("counterparty", counterparty),
				slog.Any("error", err))
			continue
		}

		d.metrics.RecordPatternDetected()
		slog.Info("Pattern detected",
			slog.String("symbol", symbol),
			slog.String("counterparty", counterparty),
			slog.String("status", string(pattern.Status)),
			slog.Float64("confidence", pattern.Confidence),
			slog.String("tier", pattern.VolumeTier))
	}
}

// evaluate runs the classification pipeline for one counterparty group.
// Insufficient evidence is not an error; it just produces no pattern.
func (d *Detector) evaluate(symbol, venue, counterparty string, trades []participantTrade, market []domain.Tick) (*domain.RobotPattern, []domain.RobotTrade, bool) {
	cfg := &d.cfg.Detector

	if len(trades) < cfg.MinTrades {
		return nil, nil, false
	}

	m := computeMetrics(trades)

	if m.TotalVolume < cfg.MinTotalVolume {
		return nil, nil, false
	}
	if m.FrequencyMin < cfg.MinFrequencyMin || m.FrequencyMin > cfg.MaxFrequencyMin {
		return nil, nil, false
	}
	if m.Variation.GreaterThan(cfg.MaxPriceVariation) {
		return nil, nil, false
	}

	confidence := d.confidence(&m)
	if confidence < cfg.MinConfidence {
		return nil, nil, false
	}

	marketPct := marketVolumePct(&m, market)

	pattern := &domain.RobotPattern{
		Symbol:           symbol,
		Venue:            venue,
		Counterparty:     counterparty,
		PatternType:      domain.PatternTypeTWAP,
		FirstSeen:        m.FirstSeen,
		LastSeen:         m.LastSeen,
		TotalVolume:      m.TotalVolume,
		TradeCount:       int64(m.TradeCount),
		AvgTradeSize:     float64(m.TotalVolume) / float64(m.TradeCount),
		FrequencyMinutes: m.FrequencyMin,
		PriceAggression:  m.AggressionPct,
		Confidence:       confidence,
		Status:           d.statusFor(confidence),
		MarketVolumePct:  marketPct,
		VolumeTier:       domain.ClassifyVolumeTier(marketPct),
	}

	patternTrades := make([]domain.RobotTrade, 0, len(trades))
	for _, tr := range trades {
		patternTrades = append(patternTrades, domain.RobotTrade{
			Symbol:       symbol,
			Counterparty: counterparty,
			Time:         tr.Time,
			Price:        tr.Price,
			Volume:       tr.Volume,
			Side:         tr.Side,
		})
	}

	return pattern, patternTrades, true
}

// confidence is a weighted sum of four sub-scores: more trades, regular
// frequency, low price variation and low aggression all raise it. The result
// is clamped to [0,1]. Weights come from configuration; the specific values
// are tuned, not derived.
func (d *Detector) confidence(m *groupMetrics) float64 {
	w := &d.cfg.Detector.Weights

	countScore := math.Min(1, float64(m.TradeCount)/20)
	freqScore := clamp01(1 - m.GapCV)

	maxVar, _ := d.cfg.Detector.MaxPriceVariation.Float64()
	varScore := 0.0
	if maxVar > 0 {
		variation, _ := m.Variation.Float64()
		varScore = clamp01(1 - variation/maxVar)
	}

	// Full aggression scale is a 1% mean directional move.
	aggScore := clamp01(1 - m.AggressionPct)

	return clamp01(w.TradeCount*countScore + w.Frequency*freqScore + w.Variation*varScore + w.Aggression*aggScore)
}

func (d *Detector) statusFor(confidence float64) domain.PatternStatus {
	switch {
	case confidence >= d.cfg.Detector.ActiveConfidence:
		return domain.StatusActive
	case confidence >= d.cfg.Detector.MinConfidence:
		return domain.StatusSuspicious
	default:
		return domain.StatusInactive
	}
}

// marketVolumePct computes the participant's share of total market notional
// within the participant's own active window, as a percentage.
func marketVolumePct(m *groupMetrics, market []domain.Tick) float64 {
	total := decimal.Zero
	for i := range market {
		t := market[i].EventTime
		if t.Before(m.FirstSeen) || t.After(m.LastSeen) {
			continue
		}
		total = total.Add(market[i].NotionalValue())
	}

	// Guarded fallback: with no observable market notional in the window
	// there is no meaningful share to report.
	if !total.IsPositive() {
		return 0
	}

	pct, _ := m.Notional.Div(total).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}
