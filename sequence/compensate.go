package sequence

import (
	"github.com/shopspring/decimal"

	"github.com/timzifer/pulsec/config"
	"github.com/timzifer/pulsec/pulse"
)

// channelIntegral accumulates the charge of one channel over all segments.
// Summation runs on decimals so the compensation result does not depend on
// float accumulation order across segments.
type channelIntegral struct {
	cfg      *config.AWGChannel
	integral decimal.Decimal
}

func (c *channelIntegral) add(value float64) {
	c.integral = c.integral.Add(decimal.NewFromFloat(value))
}

func (c *channelIntegral) value() float64 {
	v, _ := c.integral.Float64()
	return v
}

// compensation limits as seen at the device under test, converted to the
// user-level mV of the composed waveforms
func (c *channelIntegral) userLimits() (min, max float64, ok bool) {
	if c.cfg.Compensation == nil {
		return 0, 0, false
	}
	return c.cfg.Compensation.Min / c.cfg.Attenuation,
		c.cfg.Compensation.Max / c.cfg.Attenuation,
		true
}

// minDuration returns the shortest flat pulse that cancels the accumulated
// charge within the channel's voltage limits, 0 when nothing to compensate.
func (c *channelIntegral) minDuration() (float64, error) {
	min, max, ok := c.userLimits()
	if !ok {
		return 0, nil
	}
	integral := c.value()
	if integral == 0 {
		return 0, nil
	}
	if integral <= 0 {
		if max <= 0 {
			return 0, pulse.ErrConfiguration("channel %q cannot compensate negative charge: max limit is %g",
				c.cfg.Name, max)
		}
		return -integral / max, nil
	}
	if min >= 0 {
		return 0, pulse.ErrConfiguration("channel %q cannot compensate positive charge: min limit is %g",
			c.cfg.Name, min)
	}
	return -integral / min, nil
}

// compensationVoltage returns the flat voltage that cancels the channel's
// charge over duration ns, in user-level mV.
func (c *channelIntegral) compensationVoltage(duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	if _, _, ok := c.userLimits(); !ok {
		return 0
	}
	return -c.value() / duration
}

// compensationDuration returns the sequence-wide compensation duration: the
// largest per-channel minimum, rounded up to the grid.
func compensationDuration(channels map[string]*channelIntegral, grid Grid) (float64, error) {
	max := 0.0
	for _, ch := range channels {
		d, err := ch.minDuration()
		if err != nil {
			return 0, err
		}
		if d > max {
			max = d
		}
	}
	if max == 0 {
		return 0, nil
	}
	return grid.Ceil(max), nil
}
