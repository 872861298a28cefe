package classify

import (
	"onion-alerts/internal/domain"
)

// Thresholds are the tunable tier boundaries. All values are in USD except
// MaxSpikeRatio.
type Thresholds struct {
	MinLiquidity    float64
	MinFDV          float64
	MinVolume5m     float64
	MediumLiquidity float64
	MediumFDV       float64
	MediumVolume5m  float64
	MaxSpikeRatio   float64
	LargeBuyUSD     float64
}

// Engine assigns alert levels and runs the escalation state machine.
// RepeatSynthetic lets LARGE_BUY and UPGRADE fire more than once per address.
type Engine struct {
	Thresholds      Thresholds
	RepeatSynthetic bool
}

// Decision is the outcome of one classification for one address.
// Sent is the new sent_levels set; it equals the input set when Emit is false.
type Decision struct {
	Computed domain.AlertLevel
	Level    domain.AlertLevel
	Emit     bool
	Sent     domain.LevelSet
}

// LargeBuyDetected reports whether any origin buy reaches minUSD.
func LargeBuyDetected(obs domain.PairObservation, minUSD float64) bool {
	if minUSD <= 0 {
		return false
	}
	for _, b := range obs.OriginTxBuys {
		if b.AmountUSD >= minUSD {
			return true
		}
	}
	return false
}

func (e Engine) meetsMin(obs domain.PairObservation) bool {
	t := e.Thresholds
	return obs.IsNewlyListed &&
		obs.LiquidityUSD >= t.MinLiquidity &&
		obs.FDVUSD >= t.MinFDV &&
		obs.Volume5mUSD >= t.MinVolume5m
}

func (e Engine) meetsMedium(obs domain.PairObservation) bool {
	t := e.Thresholds
	return obs.LiquidityUSD >= t.MediumLiquidity &&
		obs.FDVUSD >= t.MediumFDV &&
		obs.Volume5mUSD >= t.MediumVolume5m
}

func (e Engine) meetsMax(spikeRatio float64, largeBuy bool) bool {
	return largeBuy && spikeRatio >= e.Thresholds.MaxSpikeRatio
}

// Compute returns the highest tier whose predicate holds, or false when none
// does. No alert is the common outcome.
func (e Engine) Compute(obs domain.PairObservation, spikeRatio float64, largeBuy bool) (domain.AlertLevel, bool) {
	switch {
	case e.meetsMax(spikeRatio, largeBuy):
		return domain.LevelMax, true
	case e.meetsMedium(obs):
		return domain.LevelMedium, true
	case e.meetsMin(obs):
		return domain.LevelMin, true
	default:
		return "", false
	}
}

// Escalate maps a computed tier and the address's sent levels to what, if
// anything, is emitted. It does not mutate sent.
//
//	computed not yet sent              -> emit computed
//	MAX already sent, large buy again  -> LARGE_BUY
//	MEDIUM already sent, MIN sent      -> UPGRADE
//	otherwise                          -> suppress
//
// LARGE_BUY and UPGRADE fire once per address unless RepeatSynthetic is set.
func (e Engine) Escalate(computed domain.AlertLevel, largeBuy bool, sent domain.LevelSet) Decision {
	d := Decision{Computed: computed, Sent: sent}
	if !computed.IsReal() {
		return d
	}

	if !sent.Has(computed) {
		d.Level = computed
		d.Emit = true
		d.Sent = sent.Add(computed)
		return d
	}

	var synthetic domain.AlertLevel
	switch {
	case computed == domain.LevelMax && largeBuy:
		synthetic = domain.LevelLargeBuy
	case computed == domain.LevelMedium && sent.Has(domain.LevelMin):
		synthetic = domain.LevelUpgrade
	default:
		return d
	}

	if sent.Has(synthetic) && !e.RepeatSynthetic {
		return d
	}
	d.Level = synthetic
	d.Emit = true
	d.Sent = sent.Add(synthetic)
	return d
}

// Classify is Compute followed by Escalate.
func (e Engine) Classify(obs domain.PairObservation, spikeRatio float64, largeBuy bool, sent domain.LevelSet) Decision {
	computed, ok := e.Compute(obs, spikeRatio, largeBuy)
	if !ok {
		return Decision{Sent: sent}
	}
	return e.Escalate(computed, largeBuy, sent)
}
