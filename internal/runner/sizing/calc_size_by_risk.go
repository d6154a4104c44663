package sizing

import (
	"math"

	"risksync/internal/models"

	"github.com/pkg/errors"
)

// CalcSizeByRisk считает объём slave-ордера в лотах так, чтобы при срабатывании
// стопа мастера slave потерял riskUSD в валюте счёта:
//
//	stopDist      = |entry - sl|
//	valuePerPoint = tickValue / tickSize
//	riskPerLot    = stopDist * valuePerPoint
//	lots          = riskUSD / riskPerLot
//
// Дальше, квантование по volumeStep, подтяжка к volumeMin и округление до 0.01.
// Функция чистая: все метаданные передаёт вызывающий.
// Любой отказ, models.ErrSizingRejected.
func CalcSizeByRisk(pos models.MasterPosition, riskUSD float64, meta *models.InstrumentMeta) (float64, error) {
	if meta == nil {
		return 0, errors.Wrapf(models.ErrSizingRejected, "%s: no instrument metadata", pos.Symbol)
	}
	if pos.SL == 0 {
		return 0, errors.Wrapf(models.ErrSizingRejected, "#%d: no stop-loss", pos.Ticket)
	}
	if meta.TickSize == 0 {
		return 0, errors.Wrapf(models.ErrSizingRejected, "%s: tick size is zero", pos.Symbol)
	}

	stopDist := math.Abs(pos.Entry - pos.SL)
	valuePerPoint := meta.TickValue / meta.TickSize
	riskPerLot := stopDist * valuePerPoint

	if riskPerLot == 0 || math.IsNaN(riskPerLot) || math.IsInf(riskPerLot, 0) {
		return 0, errors.Wrapf(models.ErrSizingRejected, "%s: risk per lot invalid: %.10f", pos.Symbol, riskPerLot)
	}

	lots := riskUSD / riskPerLot

	// шаг объёма; битый шаг, не квантуем
	if meta.VolumeStep > 0 {
		lots = math.Round(lots/meta.VolumeStep) * meta.VolumeStep
	}
	lots = math.Max(meta.VolumeMin, lots)

	return RoundLots(lots), nil
}

// ApplyOverrides: fixed/max объём из конфига slave поверх рассчитанного.
func ApplyOverrides(lots float64, slave models.SlaveAccount) float64 {
	if slave.FixedVolume > 0 {
		lots = slave.FixedVolume
	}
	if slave.MaxVolume > 0 && lots > slave.MaxVolume {
		lots = slave.MaxVolume
	}
	return RoundLots(lots)
}

// RoundLots: точность объёма у брокера, 2 знака.
func RoundLots(v float64) float64 {
	return math.Round(v*100) / 100
}
