package pulse

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConsolidateMergesAndDropsNearZero(t *testing.T) {
	tl := NewTimeline(false)
	tl.AddDelta(Delta{Time: 100, Step: -50})
	tl.AddDelta(Delta{Time: 0, Step: 100})
	tl.AddDelta(Delta{Time: 100, Step: 50})
	tl.AddDelta(Delta{Time: 200, Step: -100})

	tl.Consolidate()
	deltas := tl.Deltas()
	require.Len(t, deltas, 2)
	require.Equal(t, Delta{Time: 0, Step: 100}, deltas[0])
	require.Equal(t, Delta{Time: 200, Step: -100}, deltas[1])
}

func TestConsolidateIsIdempotent(t *testing.T) {
	tl := NewTimeline(false)
	tl.AddDelta(Delta{Time: 0, Step: 10, Ramp: 0.5})
	tl.AddDelta(Delta{Time: 50, Step: -10, Ramp: -0.5})
	tl.AddDelta(Delta{Time: 50, Step: 20})
	tl.AddDelta(Delta{Time: 80, Step: -20})

	tl.Consolidate()
	first := append([]Delta{}, tl.Deltas()...)
	tl.Consolidate()
	require.Equal(t, first, tl.Deltas())

	// forcing another pass must also be stable
	tl.consolidated = false
	tl.Consolidate()
	require.Equal(t, first, tl.Deltas())
}

func TestRenderTwoBlocks(t *testing.T) {
	tl := NewTimeline(false)
	// +100 mV on [0, 1000), -100 mV on [1000, 2000)
	tl.AddDelta(Delta{Time: 0, Step: 100})
	tl.AddDelta(Delta{Time: 1000, Step: -100})
	tl.AddDelta(Delta{Time: 1000, Step: -100})
	tl.AddDelta(Delta{Time: 2000, Step: 100})

	wvf, err := tl.Render(1e9, nil, 0)
	require.NoError(t, err)
	require.Len(t, wvf, 2000)
	require.Equal(t, 100.0, wvf[0])
	require.Equal(t, 100.0, wvf[999])
	require.Equal(t, -100.0, wvf[1000])
	require.Equal(t, -100.0, wvf[1999])
}

func TestRenderRampSamples(t *testing.T) {
	tl := NewTimeline(false)
	// ramp 0 -> 100 mV over [0, 100)
	tl.AddDelta(Delta{Time: 0, Ramp: 1})
	tl.AddDelta(Delta{Time: 100, Step: -100, Ramp: -1})

	wvf, err := tl.Render(1e9, nil, 0)
	require.NoError(t, err)
	require.Len(t, wvf, 100)
	require.InDelta(t, 0.0, wvf[0], 1e-12)
	require.InDelta(t, 50.0, wvf[50], 1e-9)
	require.InDelta(t, 99.0, wvf[99], 1e-9)
}

func TestIntegrateRampMatchesClosedForm(t *testing.T) {
	tl := NewTimeline(false)
	tl.AddDelta(Delta{Time: 0, Ramp: 1})
	tl.AddDelta(Delta{Time: 100, Step: -100, Ramp: -1})

	integral, err := tl.Integrate(1e9)
	require.NoError(t, err)
	require.InDelta(t, 5000.0, integral, 1e-9)
}

func TestIntegrateIncludesCustomPulses(t *testing.T) {
	tl := NewTimeline(false)
	flat := func(times []float64, duration, amplitude float64) ([]float64, error) {
		out := make([]float64, len(times))
		for i := range out {
			out[i] = amplitude
		}
		return out, nil
	}
	tl.AddCustom(CustomPulse{Start: 0, Stop: 100, Amplitude: 10, Samples: flat})

	integral, err := tl.Integrate(1e9)
	require.NoError(t, err)
	require.InDelta(t, 1000.0, integral, 1e-9)
}

func TestOpenEndedDeltaClosesAtSegmentEnd(t *testing.T) {
	tl := NewTimeline(false)
	tl.AddDelta(Delta{Time: 50, Step: 20})
	tl.AddDelta(Delta{Time: math.Inf(1), Step: -20})
	tl.Wait(150) // end at 200 ns

	require.Equal(t, 200.0, tl.EndTime())
	wvf, err := tl.Render(1e9, nil, 0)
	require.NoError(t, err)
	require.Len(t, wvf, 200)
	require.Equal(t, 0.0, wvf[0])
	require.Equal(t, 20.0, wvf[50])
	require.Equal(t, 20.0, wvf[199])

	integral, err := tl.Integrate(1e9)
	require.NoError(t, err)
	require.InDelta(t, 3000.0, integral, 1e-9)
}

func TestHighResolutionPreservesIntegral(t *testing.T) {
	// block on [0.3, 10.3) at 100 mV, breakpoints off the 1 ns grid
	tl := NewTimeline(true)
	tl.AddDelta(Delta{Time: 0.3, Step: 100})
	tl.AddDelta(Delta{Time: 10.3, Step: -100})
	tl.Wait(1.7) // end at 12 ns leaves room for the trailing correction

	wvf, err := tl.Render(1e9, nil, 0)
	require.NoError(t, err)
	require.Len(t, wvf, 12)

	sum := 0.0
	for _, v := range wvf {
		sum += v
	}
	require.InDelta(t, 1000.0, sum, 1e-9)
	// edge samples carry the fractional correction
	require.InDelta(t, 70.0, wvf[0], 1e-9)
	require.InDelta(t, 30.0, wvf[10], 1e-9)
}

func TestRenderSineMatchesClosedForm(t *testing.T) {
	tl := NewTimeline(false)
	tl.AddMicrowave(Microwave{
		Start:       0,
		Stop:        100,
		Amplitude:   50,
		Frequency:   10e6,
		PhaseOffset: 0.25,
	})

	wvf, err := tl.Render(1e9, nil, 0)
	require.NoError(t, err)
	require.Len(t, wvf, 100)

	w := 2 * math.Pi * 10e6 * 1e-9
	for j := 0; j < 100; j++ {
		want := 50 * math.Sin(w*float64(j)+0.25)
		require.InDelta(t, want, wvf[j], 1e-9)
	}
}

func TestCoherentBurstAboveNyquistFails(t *testing.T) {
	tl := NewTimeline(false)
	tl.AddMicrowave(Microwave{
		Start:      0,
		Stop:       100,
		Amplitude:  10,
		Frequency:  700e6,
		RefChannel: "q1",
		Coherent:   true,
	})

	_, err := tl.Render(1e9, nil, 0)
	require.Error(t, err)
	require.True(t, IsTiming(err))
}

func TestCoherentBurstUsesReferencePhase(t *testing.T) {
	tl := NewTimeline(false)
	tl.AddPhaseShift(PhaseShift{Time: 0, Shift: 0.5, Channel: "q1"})
	tl.AddMicrowave(Microwave{
		Start:      10,
		Stop:       20,
		Amplitude:  1,
		Frequency:  100e6,
		RefChannel: "q1",
		Coherent:   true,
	})

	ref := &RefState{StartTime: 0, StartPhase: map[string]float64{"q1": 0.25}}
	wvf, err := tl.Render(1e9, ref, 0)
	require.NoError(t, err)

	w := 2 * math.Pi * 100e6 * 1e-9
	want := math.Sin(w*10 + 0.5 + 0.25)
	require.InDelta(t, want, wvf[10], 1e-9)
}

func TestZeroAmplitudeBurstOnlyExtendsEnd(t *testing.T) {
	tl := NewTimeline(false)
	tl.AddMicrowave(Microwave{Start: 0, Stop: 80, Amplitude: 0, Frequency: 1e6})
	require.Equal(t, 80.0, tl.EndTime())
	require.Empty(t, tl.Bursts())
	require.False(t, tl.HasData())
}

func TestScaleAndMerge(t *testing.T) {
	a := NewTimeline(false)
	a.AddDelta(Delta{Time: 0, Step: 10})
	a.AddDelta(Delta{Time: 100, Step: -10})

	b := a.Scale(-0.5)
	wvf, err := b.Render(1e9, nil, 0)
	require.NoError(t, err)
	require.Equal(t, -5.0, wvf[0])

	merged := a.Merge(b)
	wvf, err = merged.Render(1e9, nil, 0)
	require.NoError(t, err)
	require.InDelta(t, 5.0, wvf[50], 1e-12)
	// operands untouched
	wvf, err = a.Render(1e9, nil, 0)
	require.NoError(t, err)
	require.Equal(t, 10.0, wvf[0])
}

func TestAddOffsetCoversWholeTimeline(t *testing.T) {
	tl := NewTimeline(false)
	tl.AddDelta(Delta{Time: 0, Step: 10})
	tl.AddDelta(Delta{Time: 50, Step: -10})
	tl.Wait(50)
	tl.AddOffset(3)

	wvf, err := tl.Render(1e9, nil, 0)
	require.NoError(t, err)
	require.Len(t, wvf, 100)
	require.Equal(t, 13.0, wvf[0])
	require.Equal(t, 3.0, wvf[99])
}

func TestAppendShiftsEvents(t *testing.T) {
	a := NewTimeline(false)
	a.AddDelta(Delta{Time: 0, Step: 10})
	a.AddDelta(Delta{Time: 100, Step: -10})

	b := NewTimeline(false)
	b.AddDelta(Delta{Time: 0, Step: -20})
	b.AddDelta(Delta{Time: 50, Step: 20})

	a.Append(b)
	require.Equal(t, 150.0, a.EndTime())
	wvf, err := a.Render(1e9, nil, 0)
	require.NoError(t, err)
	require.Equal(t, 10.0, wvf[50])
	require.Equal(t, -20.0, wvf[100])
}

func TestIQTransformShiftsBursts(t *testing.T) {
	tl := NewTimeline(false)
	tl.AddMicrowave(Microwave{Start: 0, Stop: 100, Amplitude: 2, Frequency: 1.1e9, PhaseOffset: 0.1})
	tl.AddChirp(Chirp{Start: 100, Stop: 200, Amplitude: 1, StartFrequency: 1.0e9, StopFrequency: 1.2e9})

	out := tl.IQTransform(0.5, 1.0e9, 0.2)
	bursts := out.Bursts()
	require.Len(t, bursts, 1)
	require.Equal(t, 1.0, bursts[0].Amplitude)
	require.InDelta(t, 100e6, bursts[0].Frequency, 1e-3)
	require.InDelta(t, 0.3, bursts[0].PhaseOffset, 1e-12)

	chirps := out.Chirps()
	require.Len(t, chirps, 1)
	require.InDelta(t, 0.0, chirps[0].StartFrequency, 1e-3)
	require.InDelta(t, 200e6, chirps[0].StopFrequency, 1e-3)
}

func TestElementsOrderAndBreaks(t *testing.T) {
	tl := NewTimeline(false)
	tl.AddDelta(Delta{Time: 0, Step: 10})
	tl.AddDelta(Delta{Time: 100, Step: -10})
	tl.AddMicrowave(Microwave{Start: 20, Stop: 40, Amplitude: 5, Frequency: 1e6})
	tl.AddPhaseShift(PhaseShift{Time: 20, Shift: 0.5, Channel: "q1"})

	elements := tl.Elements(true)
	require.NotEmpty(t, elements)

	// phase shift sorts before the burst at the same start time
	var shiftIdx, burstIdx = -1, -1
	for i, e := range elements {
		switch e.Kind() {
		case KindPhaseShift:
			shiftIdx = i
		case KindMicrowave:
			burstIdx = i
		}
	}
	require.GreaterOrEqual(t, shiftIdx, 0)
	require.GreaterOrEqual(t, burstIdx, 0)
	require.Less(t, shiftIdx, burstIdx)

	// ramps are split on the burst boundaries
	for _, e := range elements {
		if e.Kind() != KindOffsetRamp {
			continue
		}
		start, stop := e.Span()
		require.False(t, start < 20 && stop > 20, "ramp [%g,%g) spans burst start", start, stop)
		require.False(t, start < 40 && stop > 40, "ramp [%g,%g) spans burst stop", start, stop)
	}
}

func TestAccumulatedPhase(t *testing.T) {
	tl := NewTimeline(false)
	tl.AddPhaseShift(PhaseShift{Time: 0, Shift: 0.5, Channel: "q1"})
	tl.AddPhaseShift(PhaseShift{Time: 10, Shift: -0.2, Channel: "q1"})
	require.InDelta(t, 0.3, tl.AccumulatedPhase(), 1e-12)
}
