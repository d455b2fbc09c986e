package simulator

import (
	"errors"
	"time"
)

var ErrNegativeHeatLossCoefficient = errors.New("heat loss coefficient must be >= 0")

type HeatLossParams struct {
	OutdoorTemperature float64
	Coefficient        float64 // >= 0, conductivity per second. 0 for a perfectly insulated room.
}

func (p HeatLossParams) Validate() error {
	if p.Coefficient < 0 {
		return ErrNegativeHeatLossCoefficient
	}
	return nil
}

// HeatLoss models exchange with the outdoor temperature.
type HeatLoss struct {
	params HeatLossParams
}

func NewHeatLoss(params HeatLossParams) (*HeatLoss, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &HeatLoss{params: params}, nil
}

func (h *HeatLoss) DeltaTemperature(indoor float64, dt time.Duration) float64 {
	return h.params.Coefficient * (h.params.OutdoorTemperature - indoor) * dt.Seconds()
}
