package sequence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/pulsec/pulse"
)

func TestPlanInterpolationOpensSectionForSlowSine(t *testing.T) {
	elements := []pulse.Element{
		pulse.OffsetRamp{Start: 0, Stop: 1000, VStart: 0, VStop: 100},
		pulse.Microwave{Start: 200, Stop: 800, Amplitude: 10, Frequency: 1e5},
	}

	sections, out, err := PlanInterpolation(elements, 4, 0)
	require.NoError(t, err)
	require.Equal(t, []InterpolationInterval{{Start: 200, Stop: 800}}, sections)
	require.Len(t, out, 2)
}

func TestPlanInterpolationSplitsSineAtRampBoundary(t *testing.T) {
	elements := []pulse.Element{
		pulse.OffsetRamp{Start: 0, Stop: 500, VStart: 0, VStop: 50},
		pulse.Microwave{Start: 200, Stop: 800, Amplitude: 10, Frequency: 1e5},
		pulse.OffsetRamp{Start: 500, Stop: 1000, VStart: 50, VStop: 0},
	}

	sections, out, err := PlanInterpolation(elements, 4, 0)
	require.NoError(t, err)
	require.Equal(t, []InterpolationInterval{
		{Start: 200, Stop: 500},
		{Start: 500, Stop: 1000},
	}, sections)

	require.Len(t, out, 4)
	head, ok := out[1].(pulse.Microwave)
	require.True(t, ok)
	require.Equal(t, 200.0, head.Start)
	require.Equal(t, 500.0, head.Stop)
	tail, ok := out[2].(pulse.Microwave)
	require.True(t, ok)
	require.Equal(t, 500.0, tail.Start)
	require.Equal(t, 800.0, tail.Stop)
	// the tail continues the head's waveform without a phase jump
	require.InDelta(t, 1e5*2*math.Pi*300e-9, tail.PhaseOffset, 1e-12)
}

func TestPlanInterpolationSuspendsOverCustomPulse(t *testing.T) {
	samples := func(ts []float64, duration, amplitude float64) ([]float64, error) {
		out := make([]float64, len(ts))
		for i := range out {
			out[i] = amplitude
		}
		return out, nil
	}
	elements := []pulse.Element{
		pulse.Microwave{Start: 200, Stop: 800, Amplitude: 10, Frequency: 1e5},
		pulse.CustomPulse{Start: 300, Stop: 400, Amplitude: 5, Scaling: 1, Samples: samples},
	}

	sections, _, err := PlanInterpolation(elements, 4, 0)
	require.NoError(t, err)
	require.Equal(t, []InterpolationInterval{{Start: 200, Stop: 300}}, sections)
}

func TestPlanInterpolationSuspendsOverFastSine(t *testing.T) {
	elements := []pulse.Element{
		pulse.Microwave{Start: 0, Stop: 500, Amplitude: 10, Frequency: 1e8},
	}

	sections, out, err := PlanInterpolation(elements, 4, 0)
	require.NoError(t, err)
	require.Empty(t, sections)
	require.Len(t, out, 1)
}

func TestPlanInterpolationDiscardsShortSections(t *testing.T) {
	elements := []pulse.Element{
		pulse.Microwave{Start: 200, Stop: 800, Amplitude: 10, Frequency: 1e5},
		pulse.OffsetRamp{Start: 795, Stop: 1000, VStart: 0, VStop: 20},
	}

	sections, out, err := PlanInterpolation(elements, 4, 0)
	require.NoError(t, err)
	// the 5 ns remainder after the cut is below twice the step
	require.Equal(t, []InterpolationInterval{{Start: 200, Stop: 795}}, sections)
	require.Len(t, out, 3)
}

func TestPlanInterpolationRejectsPhaseShifts(t *testing.T) {
	elements := []pulse.Element{
		pulse.PhaseShift{Time: 100, Shift: math.Pi},
	}

	_, _, err := PlanInterpolation(elements, 4, 0)
	require.Error(t, err)
	require.True(t, pulse.IsUnsupported(err))
}
