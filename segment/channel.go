// Package segment holds the per-channel event lists of one experiment
// segment and composes virtual, IQ and marker references into renderable
// timelines.
package segment

import (
	"math"

	"github.com/timzifer/pulsec/pulse"
)

// Kind selects the operations a channel accepts.
type Kind int

const (
	// Voltage channels carry baseband deltas, sines and custom pulses.
	Voltage Kind = iota
	// IQ channels carry coherent microwave content.
	IQ
	// Marker channels carry digital on/off windows.
	Marker
)

func (k Kind) String() string {
	switch k {
	case Voltage:
		return "voltage"
	case IQ:
		return "iq"
	case Marker:
		return "marker"
	}
	return "unknown"
}

// Window is a marker on-interval in ns.
type Window struct {
	Start float64
	Stop  float64
}

// VirtualRef adds another channel's baseband content scaled by Weight.
type VirtualRef struct {
	Source *Channel
	Weight float64
}

// IQRef collects a qubit channel's microwave content onto an IQ output with
// gain, frequency shift (usually the LO) and phase shift applied.
type IQRef struct {
	Source         *Channel
	Gain           float64
	FrequencyShift float64
	PhaseShift     float64
}

// Channel is one named event list plus its references to other channels.
// All pulse times are relative to the channel's current insertion time; use
// ResetTime to advance it.
type Channel struct {
	name string
	kind Kind

	data    *pulse.Timeline
	windows []Window

	virtualRefs   []VirtualRef
	iqRefs        []IQRef
	markerSources []*Channel

	revision        uint64
	composed        *pulse.Timeline
	composedID      uint64
	composedRev     uint64
	composedWindows []Window
	windowsRev      uint64
	composedValid   bool
}

func newChannel(name string, kind Kind, hres bool) *Channel {
	return &Channel{
		name: name,
		kind: kind,
		data: pulse.NewTimeline(hres),
	}
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Kind returns the channel kind.
func (c *Channel) Kind() Kind { return c.kind }

// Timeline exposes the channel's own events, without references applied.
func (c *Channel) Timeline() *pulse.Timeline { return c.data }

// EndTime returns the end of the channel's own events in ns.
func (c *Channel) EndTime() float64 { return c.data.EndTime() }

// ResetTime moves the insertion time. Negative resets to the current end.
func (c *Channel) ResetTime(at float64) {
	c.data.ResetTime(at)
}

// Wait extends the channel by dt ns.
func (c *Channel) Wait(dt float64) {
	c.data.Wait(dt)
	c.InvalidateComposition()
}

func (c *Channel) requireKind(kind Kind, element string) error {
	if c.kind != kind {
		return pulse.ErrUnsupported(element, c.name)
	}
	return nil
}

// AddBlock places a flat pulse of amp mV on [start, stop) relative to the
// insertion time. A negative stop holds the level until the segment end.
func (c *Channel) AddBlock(start, stop, amp float64) error {
	if err := c.requireKind(Voltage, "block pulse"); err != nil {
		return err
	}
	if amp == 0 {
		return nil
	}
	t0 := c.data.StartTime()
	c.data.AddDelta(pulse.Delta{Time: t0 + start, Step: amp})
	if stop < 0 {
		c.data.AddDelta(pulse.Delta{Time: math.Inf(1), Step: -amp})
	} else {
		c.data.AddDelta(pulse.Delta{Time: t0 + stop, Step: -amp})
	}
	c.InvalidateComposition()
	return nil
}

// AddRamp places a linear ramp from v0 to v1 mV on [start, stop). With
// keepAmplitude the level stays at v1 until the segment end.
func (c *Channel) AddRamp(start, stop, v0, v1 float64, keepAmplitude bool) error {
	if err := c.requireKind(Voltage, "ramp pulse"); err != nil {
		return err
	}
	duration := stop - start
	if duration <= 0 {
		return pulse.ErrTiming("ramp on %s must have positive duration, got %g ns", c.name, duration)
	}
	ramp := (v1 - v0) / duration
	t0 := c.data.StartTime()
	c.data.AddDelta(pulse.Delta{Time: t0 + start, Step: v0, Ramp: ramp})
	if keepAmplitude {
		c.data.AddDelta(pulse.Delta{Time: t0 + stop, Ramp: -ramp})
		c.data.AddDelta(pulse.Delta{Time: math.Inf(1), Step: -v1})
	} else {
		c.data.AddDelta(pulse.Delta{Time: t0 + stop, Step: -v1, Ramp: -ramp})
	}
	c.InvalidateComposition()
	return nil
}

// AddSin places a plain sine on a voltage channel. The sine is rendered
// non-coherently: its phase restarts at phase for every pulse.
func (c *Channel) AddSin(start, stop, amp, frequency, phase float64) error {
	if err := c.requireKind(Voltage, "sine pulse"); err != nil {
		return err
	}
	t0 := c.data.StartTime()
	c.data.AddMicrowave(pulse.Microwave{
		Start:       t0 + start,
		Stop:        t0 + stop,
		Amplitude:   amp,
		Frequency:   frequency,
		PhaseOffset: phase,
		RefChannel:  c.name,
	})
	c.InvalidateComposition()
	return nil
}

// AddCustom places an opaque sampled pulse.
func (c *Channel) AddCustom(start, stop, amp float64, samples pulse.SampleFunc) error {
	if err := c.requireKind(Voltage, "custom pulse"); err != nil {
		return err
	}
	t0 := c.data.StartTime()
	c.data.AddCustom(pulse.CustomPulse{
		Start:     t0 + start,
		Stop:      t0 + stop,
		Amplitude: amp,
		Scaling:   1,
		Samples:   samples,
	})
	c.InvalidateComposition()
	return nil
}

// AddMWPulse places a coherent microwave burst on an IQ channel. The channel
// name is the phase reference.
func (c *Channel) AddMWPulse(start, stop, amp, frequency, phase float64, envelope pulse.Envelope) error {
	if err := c.requireKind(IQ, "microwave pulse"); err != nil {
		return err
	}
	t0 := c.data.StartTime()
	c.data.AddMicrowave(pulse.Microwave{
		Start:       t0 + start,
		Stop:        t0 + stop,
		Amplitude:   amp,
		Frequency:   frequency,
		PhaseOffset: phase,
		Envelope:    envelope,
		RefChannel:  c.name,
		Coherent:    true,
	})
	c.InvalidateComposition()
	return nil
}

// AddPhaseShift rotates the accumulated phase of the channel at time t.
func (c *Channel) AddPhaseShift(t, shift float64) error {
	if err := c.requireKind(IQ, "phase shift"); err != nil {
		return err
	}
	c.data.AddPhaseShift(pulse.PhaseShift{
		Time:    c.data.StartTime() + t,
		Shift:   shift,
		Channel: c.name,
	})
	c.InvalidateComposition()
	return nil
}

// AddChirp places a linear frequency sweep on an IQ channel.
func (c *Channel) AddChirp(start, stop, amp, startFrequency, stopFrequency, phase float64) error {
	if err := c.requireKind(IQ, "chirp"); err != nil {
		return err
	}
	t0 := c.data.StartTime()
	c.data.AddChirp(pulse.Chirp{
		Start:          t0 + start,
		Stop:           t0 + stop,
		Amplitude:      amp,
		StartFrequency: startFrequency,
		StopFrequency:  stopFrequency,
		Phase:          phase,
	})
	c.InvalidateComposition()
	return nil
}

// AddMarker turns the marker on during [start, stop).
func (c *Channel) AddMarker(start, stop float64) error {
	if err := c.requireKind(Marker, "marker window"); err != nil {
		return err
	}
	if stop <= start {
		return pulse.ErrTiming("marker window on %s must have positive duration", c.name)
	}
	t0 := c.data.StartTime()
	c.windows = append(c.windows, Window{Start: t0 + start, Stop: t0 + stop})
	// near-zero delta only advances the channel end
	c.data.AddDelta(pulse.Delta{Time: t0 + stop})
	c.InvalidateComposition()
	return nil
}

// AddVirtualReference overlays source's baseband content scaled by weight.
func (c *Channel) AddVirtualReference(source *Channel, weight float64) error {
	if err := c.requireKind(Voltage, "virtual reference"); err != nil {
		return err
	}
	c.virtualRefs = append(c.virtualRefs, VirtualRef{Source: source, Weight: weight})
	c.InvalidateComposition()
	return nil
}

// AddIQReference collects source's microwave content with the IQ transform
// applied.
func (c *Channel) AddIQReference(source *Channel, gain, frequencyShift, phaseShift float64) error {
	if err := c.requireKind(IQ, "iq reference"); err != nil {
		return err
	}
	c.iqRefs = append(c.iqRefs, IQRef{
		Source:         source,
		Gain:           gain,
		FrequencyShift: frequencyShift,
		PhaseShift:     phaseShift,
	})
	c.InvalidateComposition()
	return nil
}

// AddMarkerSource gates this marker channel on the pulses of an IQ channel.
func (c *Channel) AddMarkerSource(source *Channel) error {
	if err := c.requireKind(Marker, "marker source"); err != nil {
		return err
	}
	c.markerSources = append(c.markerSources, source)
	c.InvalidateComposition()
	return nil
}

// Windows returns the channel's own marker windows.
func (c *Channel) Windows() []Window { return c.windows }

// InvalidateComposition drops the memoized composed timeline and bumps the
// channel's revision so every channel referencing this one recomposes on its
// next read.
func (c *Channel) InvalidateComposition() {
	c.revision++
	c.composed = nil
	c.composedWindows = nil
	c.composedValid = false
}

// deepRevision folds the revisions of the channel and all its sources into
// one value that strictly increases on any mutation in the reference tree.
// Callers must have rejected cycles first.
func (c *Channel) deepRevision() uint64 {
	rev := c.revision
	for _, ref := range c.virtualRefs {
		rev += ref.Source.deepRevision()
	}
	for _, ref := range c.iqRefs {
		rev += ref.Source.deepRevision()
	}
	for _, source := range c.markerSources {
		rev += source.deepRevision()
	}
	return rev
}
