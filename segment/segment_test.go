package segment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/pulsec/pulse"
)

func TestChannelKindGuards(t *testing.T) {
	seg := New()
	volt, err := seg.AddVoltageChannel("P1")
	require.NoError(t, err)
	iq, err := seg.AddIQChannel("q1")
	require.NoError(t, err)
	marker, err := seg.AddMarkerChannel("M1")
	require.NoError(t, err)

	require.NoError(t, volt.AddBlock(0, 100, 50))
	err = volt.AddPhaseShift(0, 0.5)
	require.Error(t, err)
	require.True(t, pulse.IsUnsupported(err))

	require.NoError(t, iq.AddPhaseShift(0, 0.5))
	err = iq.AddBlock(0, 100, 50)
	require.Error(t, err)
	require.True(t, pulse.IsUnsupported(err))

	require.NoError(t, marker.AddMarker(0, 50))
	err = marker.AddBlock(0, 100, 50)
	require.Error(t, err)
	require.True(t, pulse.IsUnsupported(err))
}

func TestDuplicateChannelRejected(t *testing.T) {
	seg := New()
	_, err := seg.AddVoltageChannel("P1")
	require.NoError(t, err)
	_, err = seg.AddIQChannel("P1")
	require.Error(t, err)
	require.True(t, pulse.IsConfiguration(err))
}

func TestBlockAndRampRender(t *testing.T) {
	seg := New()
	p1, err := seg.AddVoltageChannel("P1")
	require.NoError(t, err)

	require.NoError(t, p1.AddBlock(0, 1000, 100))
	p1.ResetTime(-1)
	require.NoError(t, p1.AddBlock(0, 1000, -100))
	require.Equal(t, 2000.0, seg.Duration())

	composed, err := p1.Composed()
	require.NoError(t, err)
	wvf, err := composed.Render(1e9, nil, 0)
	require.NoError(t, err)
	require.Len(t, wvf, 2000)
	require.Equal(t, 100.0, wvf[500])
	require.Equal(t, -100.0, wvf[1500])
}

func TestRampKeepAmplitude(t *testing.T) {
	seg := New()
	p1, err := seg.AddVoltageChannel("P1")
	require.NoError(t, err)

	require.NoError(t, p1.AddRamp(0, 100, 0, 80, true))
	p1.Wait(100) // hold for another 100 ns

	composed, err := p1.Composed()
	require.NoError(t, err)
	wvf, err := composed.Render(1e9, nil, 0)
	require.NoError(t, err)
	require.Len(t, wvf, 200)
	require.InDelta(t, 40.0, wvf[50], 1e-9)
	require.InDelta(t, 80.0, wvf[150], 1e-9)
}

func TestVirtualGateComposition(t *testing.T) {
	seg := New()
	p1, err := seg.AddVoltageChannel("P1")
	require.NoError(t, err)
	v1, err := seg.AddVoltageChannel("vP1")
	require.NoError(t, err)
	require.NoError(t, p1.AddVirtualReference(v1, 0.2))

	require.NoError(t, v1.AddBlock(0, 500, 100))
	require.NoError(t, p1.AddBlock(0, 500, 10))

	composed, err := p1.Composed()
	require.NoError(t, err)
	wvf, err := composed.Render(1e9, nil, 0)
	require.NoError(t, err)
	// own 10 mV plus 0.2 * 100 mV from the virtual gate
	require.InDelta(t, 30.0, wvf[100], 1e-9)
}

func TestIQCompositionAppliesTransform(t *testing.T) {
	seg := New()
	q1, err := seg.AddIQChannel("q1")
	require.NoError(t, err)
	iqOut, err := seg.AddIQChannel("IQ1")
	require.NoError(t, err)
	require.NoError(t, iqOut.AddIQReference(q1, 1.0, 2.4e9, 0.0))

	require.NoError(t, q1.AddMWPulse(0, 100, 50, 2.45e9, 0, nil))

	composed, err := iqOut.Composed()
	require.NoError(t, err)
	bursts := composed.Bursts()
	require.Len(t, bursts, 1)
	require.InDelta(t, 50e6, bursts[0].Frequency, 1e-3)
	require.Equal(t, "q1", bursts[0].RefChannel)
}

func TestCompositionCycleRejected(t *testing.T) {
	seg := New()
	a, err := seg.AddVoltageChannel("A")
	require.NoError(t, err)
	b, err := seg.AddVoltageChannel("B")
	require.NoError(t, err)
	require.NoError(t, a.AddVirtualReference(b, 1))
	require.NoError(t, b.AddVirtualReference(a, 1))

	_, err = a.Composed()
	require.Error(t, err)
	require.True(t, pulse.IsConfiguration(err))
}

func TestComposedIsMemoizedAndInvalidated(t *testing.T) {
	seg := New()
	p1, err := seg.AddVoltageChannel("P1")
	require.NoError(t, err)
	require.NoError(t, p1.AddBlock(0, 100, 10))

	first, err := p1.Composed()
	require.NoError(t, err)
	second, err := p1.Composed()
	require.NoError(t, err)
	require.Same(t, first, second)

	id1, err := p1.ComposedID()
	require.NoError(t, err)

	require.NoError(t, p1.AddBlock(100, 200, 20))
	third, err := p1.Composed()
	require.NoError(t, err)
	require.NotSame(t, first, third)

	id2, err := p1.ComposedID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}

func TestComposedRefreshesWhenSourceMutates(t *testing.T) {
	seg := New()
	p1, err := seg.AddVoltageChannel("P1")
	require.NoError(t, err)
	v1, err := seg.AddVoltageChannel("vP1")
	require.NoError(t, err)
	require.NoError(t, p1.AddVirtualReference(v1, 0.5))
	require.NoError(t, v1.AddBlock(0, 100, 40))

	composed, err := p1.Composed()
	require.NoError(t, err)
	wvf, err := composed.Render(1e9, nil, 0)
	require.NoError(t, err)
	require.InDelta(t, 20.0, wvf[50], 1e-9)
	id1, err := p1.ComposedID()
	require.NoError(t, err)

	// mutating the source must recompose the dependent channel
	require.NoError(t, v1.AddBlock(0, 100, 40))
	composed, err = p1.Composed()
	require.NoError(t, err)
	wvf, err = composed.Render(1e9, nil, 0)
	require.NoError(t, err)
	require.InDelta(t, 40.0, wvf[50], 1e-9)

	id2, err := p1.ComposedID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}

func TestComposedWindowsRefreshWhenSourceMutates(t *testing.T) {
	seg := New()
	q1, err := seg.AddIQChannel("q1")
	require.NoError(t, err)
	m1, err := seg.AddMarkerChannel("M1")
	require.NoError(t, err)
	require.NoError(t, m1.AddMarkerSource(q1))
	require.NoError(t, q1.AddMWPulse(10, 60, 5, 1e8, 0, nil))

	windows, err := m1.ComposedWindows()
	require.NoError(t, err)
	require.Len(t, windows, 1)

	require.NoError(t, q1.AddMWPulse(100, 150, 5, 1e8, 0, nil))
	windows, err = m1.ComposedWindows()
	require.NoError(t, err)
	require.Len(t, windows, 2)
}

func TestMarkerWindowsFromIQSource(t *testing.T) {
	seg := New()
	q1, err := seg.AddIQChannel("q1")
	require.NoError(t, err)
	m1, err := seg.AddMarkerChannel("M1")
	require.NoError(t, err)
	require.NoError(t, m1.AddMarkerSource(q1))

	require.NoError(t, q1.AddMWPulse(10, 60, 5, 1e8, 0, nil))
	require.NoError(t, m1.AddMarker(200, 250))

	windows, err := m1.ComposedWindows()
	require.NoError(t, err)
	require.Len(t, windows, 2)
	require.Equal(t, Window{Start: 200, Stop: 250}, windows[0])
	require.Equal(t, Window{Start: 10, Stop: 60}, windows[1])
}

func TestSegmentResetTimeAlignsChannels(t *testing.T) {
	seg := New()
	p1, err := seg.AddVoltageChannel("P1")
	require.NoError(t, err)
	p2, err := seg.AddVoltageChannel("P2")
	require.NoError(t, err)

	require.NoError(t, p1.AddBlock(0, 300, 10))
	require.NoError(t, p2.AddBlock(0, 100, 10))
	seg.ResetTime()

	require.NoError(t, p2.AddBlock(0, 100, -10))
	composed, err := p2.Composed()
	require.NoError(t, err)
	wvf, err := composed.Render(1e9, nil, 0)
	require.NoError(t, err)
	require.Equal(t, 0.0, wvf[200])
	require.Equal(t, -10.0, wvf[350])
}

func TestSegmentCopyIsIndependent(t *testing.T) {
	seg := New()
	p1, err := seg.AddVoltageChannel("P1")
	require.NoError(t, err)
	v1, err := seg.AddVoltageChannel("vP1")
	require.NoError(t, err)
	require.NoError(t, p1.AddVirtualReference(v1, 0.5))
	require.NoError(t, v1.AddBlock(0, 100, 100))

	cp := seg.Copy()
	require.NoError(t, cp.Validate())
	require.NoError(t, cp.Channel("vP1").AddBlock(100, 200, 100))

	require.Equal(t, 100.0, seg.Duration())
	require.Equal(t, 200.0, cp.Duration())

	composed, err := cp.Channel("P1").Composed()
	require.NoError(t, err)
	wvf, err := composed.Render(1e9, nil, 0)
	require.NoError(t, err)
	require.InDelta(t, 50.0, wvf[150], 1e-9)
}

func TestAcquisitionValidation(t *testing.T) {
	seg := New()
	require.NoError(t, seg.Acquire(Acquisition{Channel: "SD1", Start: 100, TMeasure: 500}))
	err := seg.Acquire(Acquisition{Channel: "SD1", Start: 0, TMeasure: 10, NRepeat: 5})
	require.Error(t, err)
	require.True(t, pulse.IsTiming(err))
	require.NoError(t, seg.Acquire(Acquisition{Channel: "SD1", Start: 0, TMeasure: 10, NRepeat: 5, Interval: 100}))
	require.Len(t, seg.Acquisitions(), 2)
}
