package pulse

import (
	"math"
	"sort"
)

// Timeline is the event list of one channel: baseband deltas, microwave
// bursts, custom pulses, phase shifts and chirps. All times in ns, voltages
// in mV, frequencies in Hz. Operations append events lazily; consolidation
// and pre-processing run on demand before rendering.
//
// A Timeline is not safe for concurrent mutation. Rendering after the last
// mutation is read-only and may run from multiple goroutines.
type Timeline struct {
	hres bool

	deltas      []Delta
	bursts      []Microwave
	customs     []CustomPulse
	phaseShifts []PhaseShift
	chirps      []Chirp

	startTime float64
	endTime   float64
	hasData   bool

	consolidated      bool
	phaseConsolidated bool
	breaksProcessed   bool
	preprocessed      bool
	preSampleRate     float64

	// consolidated rendering arrays, valid while preprocessed is set
	times         []float64
	intervals     []float64
	ramps         []float64
	amplitudes    []float64
	amplitudesEnd []float64
	corrections   []float64
}

// RefState snapshots the coherent phase state of reference channels at the
// start of a segment: the segment start time and the accumulated phase per
// reference channel from all preceding segments.
type RefState struct {
	StartTime  float64
	StartPhase map[string]float64
}

// NewTimeline returns an empty timeline. hres enables high-resolution
// rendering with sub-sample breakpoint corrections.
func NewTimeline(hres bool) *Timeline {
	return &Timeline{hres: hres}
}

// HighResolution reports whether the timeline renders with sub-sample
// corrections.
func (t *Timeline) HighResolution() bool { return t.hres }

// HasData reports whether any event has been added.
func (t *Timeline) HasData() bool { return t.hasData }

// StartTime returns the current insertion reference time.
func (t *Timeline) StartTime() float64 { return t.startTime }

// EndTime returns the end of the last event, which is also the total
// duration of the timeline.
func (t *Timeline) EndTime() float64 { return t.endTime }

func (t *Timeline) updateEndTime(at float64) {
	if !math.IsInf(at, 1) && at > t.endTime {
		t.endTime = at
	}
}

// AddDelta appends a baseband breakpoint. Near-zero deltas are dropped but
// still extend the timeline end.
func (t *Timeline) AddDelta(d Delta) {
	if !d.nearZero() {
		t.deltas = append(t.deltas, d)
		t.consolidated = false
		t.hasData = true
	}
	t.updateEndTime(d.Time)
}

// AddMicrowave appends a sine burst. Zero-amplitude bursts are dropped but
// still extend the timeline end.
func (t *Timeline) AddMicrowave(m Microwave) {
	if m.Amplitude != 0 {
		t.bursts = append(t.bursts, m)
		t.hasData = true
	}
	t.updateEndTime(m.Stop)
}

// AddChirp appends a linear frequency sweep.
func (t *Timeline) AddChirp(c Chirp) {
	t.chirps = append(t.chirps, c)
	t.hasData = true
	t.updateEndTime(c.Stop)
}

// AddCustom appends an opaque sampled pulse.
func (t *Timeline) AddCustom(c CustomPulse) {
	if c.Scaling == 0 {
		c.Scaling = 1
	}
	t.customs = append(t.customs, c)
	t.hasData = true
	t.updateEndTime(c.Stop)
}

// AddPhaseShift appends a phase rotation on a coherent reference channel.
func (t *Timeline) AddPhaseShift(p PhaseShift) {
	if math.Abs(p.Shift) >= Epsilon {
		t.phaseShifts = append(t.phaseShifts, p)
		t.phaseConsolidated = false
		t.hasData = true
	}
	t.updateEndTime(p.Time)
}

// Wait extends the timeline end by dt ns without resetting the insertion
// time.
func (t *Timeline) Wait(dt float64) {
	t.endTime += dt
}

// ResetTime moves the insertion reference. A negative time resets to the
// current end of the timeline.
func (t *Timeline) ResetTime(at float64) {
	if at < 0 {
		at = t.endTime
	} else {
		t.updateEndTime(at)
	}
	t.startTime = at
}

// Append adds all events of other after the end of this timeline.
func (t *Timeline) Append(other *Timeline) {
	t.AddAt(other, t.endTime)
}

// AddAt adds all events of other shifted by at ns.
func (t *Timeline) AddAt(other *Timeline, at float64) {
	if other.hasData {
		for _, d := range other.deltas {
			t.deltas = append(t.deltas, Delta{Time: d.Time + at, Step: d.Step, Ramp: d.Ramp})
		}
		for _, m := range other.bursts {
			m.Start += at
			m.Stop += at
			t.bursts = append(t.bursts, m)
		}
		for _, c := range other.customs {
			c.Start += at
			c.Stop += at
			t.customs = append(t.customs, c)
		}
		for _, p := range other.phaseShifts {
			p.Time += at
			t.phaseShifts = append(t.phaseShifts, p)
		}
		for _, c := range other.chirps {
			c.Start += at
			c.Stop += at
			t.chirps = append(t.chirps, c)
		}
		t.hasData = true
		t.consolidated = false
		t.phaseConsolidated = false
		t.preprocessed = false
		t.breaksProcessed = false
	}
	t.updateEndTime(at + other.endTime)
}

// AddOffset overlays a constant voltage over the whole timeline: a delta at
// time 0 closed by an open-ended delta.
func (t *Timeline) AddOffset(v float64) {
	if v == 0 {
		return
	}
	t.deltas = append([]Delta{{Time: 0, Step: v}}, t.deltas...)
	t.deltas = append(t.deltas, Delta{Time: math.Inf(1), Step: -v})
	t.consolidated = false
	t.preprocessed = false
	t.hasData = true
}

// Merge returns the superposition of both timelines. Neither operand is
// modified.
func (t *Timeline) Merge(other *Timeline) *Timeline {
	if !other.hasData {
		out := t.Copy()
		out.updateEndTime(other.endTime)
		return out
	}
	out := NewTimeline(t.hres)
	out.startTime = t.startTime
	out.deltas = append(append([]Delta{}, t.deltas...), other.deltas...)
	out.bursts = append(append([]Microwave{}, t.bursts...), other.bursts...)
	out.customs = append(append([]CustomPulse{}, t.customs...), other.customs...)
	out.phaseShifts = append(append([]PhaseShift{}, t.phaseShifts...), other.phaseShifts...)
	out.chirps = append(append([]Chirp{}, t.chirps...), other.chirps...)
	out.endTime = math.Max(t.endTime, other.endTime)
	out.hasData = true
	return out
}

// Scale returns the timeline with all amplitudes multiplied by k. The
// timeline is consolidated first to keep the delta list small.
func (t *Timeline) Scale(k float64) *Timeline {
	if !t.hasData {
		return t.Copy()
	}
	t.Consolidate()
	out := NewTimeline(t.hres)
	out.startTime = t.startTime
	out.endTime = t.endTime
	out.hasData = true
	out.consolidated = t.consolidated
	out.phaseConsolidated = t.phaseConsolidated
	out.deltas = make([]Delta, len(t.deltas))
	for i, d := range t.deltas {
		out.deltas[i] = Delta{Time: d.Time, Step: d.Step * k, Ramp: d.Ramp * k}
	}
	out.bursts = make([]Microwave, len(t.bursts))
	for i, m := range t.bursts {
		m.Amplitude *= k
		out.bursts[i] = m
	}
	out.customs = make([]CustomPulse, len(t.customs))
	for i, c := range t.customs {
		c.Scaling *= k
		out.customs[i] = c
	}
	out.chirps = make([]Chirp, len(t.chirps))
	for i, c := range t.chirps {
		c.Amplitude *= k
		out.chirps[i] = c
	}
	out.phaseShifts = append([]PhaseShift{}, t.phaseShifts...)
	return out
}

// IQTransform returns the microwave content with gain applied to amplitudes,
// the frequency shift subtracted and the phase shift added. Used when an IQ
// output channel collects its qubit channels.
func (t *Timeline) IQTransform(gain, frequencyShift, phaseShift float64) *Timeline {
	t.consolidatePhaseShifts()
	out := NewTimeline(t.hres)
	out.startTime = t.startTime
	out.endTime = t.endTime
	out.consolidated = t.consolidated
	out.phaseConsolidated = t.phaseConsolidated
	out.bursts = make([]Microwave, len(t.bursts))
	for i, m := range t.bursts {
		m.Amplitude *= gain
		m.Frequency -= frequencyShift
		m.PhaseOffset += phaseShift
		out.bursts[i] = m
	}
	out.chirps = make([]Chirp, len(t.chirps))
	for i, c := range t.chirps {
		c.Amplitude *= gain
		c.StartFrequency -= frequencyShift
		c.StopFrequency -= frequencyShift
		c.Phase += phaseShift
		out.chirps[i] = c
	}
	out.phaseShifts = append([]PhaseShift{}, t.phaseShifts...)
	out.hasData = len(out.bursts) > 0 || len(out.chirps) > 0 || len(out.phaseShifts) > 0
	return out
}

// Copy returns a deep copy. The source is consolidated first so both copies
// start from the reduced delta list.
func (t *Timeline) Copy() *Timeline {
	out := NewTimeline(t.hres)
	if t.hasData {
		t.Consolidate()
		out.deltas = append([]Delta{}, t.deltas...)
		out.bursts = append([]Microwave{}, t.bursts...)
		out.customs = append([]CustomPulse{}, t.customs...)
		out.phaseShifts = append([]PhaseShift{}, t.phaseShifts...)
		out.chirps = append([]Chirp{}, t.chirps...)
		out.hasData = true
	}
	out.startTime = t.startTime
	out.endTime = t.endTime
	out.consolidated = t.consolidated
	out.phaseConsolidated = t.phaseConsolidated
	out.breaksProcessed = t.breaksProcessed
	return out
}

// Deltas returns the (possibly unconsolidated) baseband breakpoints.
func (t *Timeline) Deltas() []Delta { return t.deltas }

// Bursts returns the microwave bursts.
func (t *Timeline) Bursts() []Microwave { return t.bursts }

// Chirps returns the chirps.
func (t *Timeline) Chirps() []Chirp { return t.chirps }

// PhaseShifts returns the phase shifts, consolidated by time.
func (t *Timeline) PhaseShifts() []PhaseShift {
	t.consolidatePhaseShifts()
	return t.phaseShifts
}

// CustomPulses returns the custom pulses.
func (t *Timeline) CustomPulses() []CustomPulse { return t.customs }

// AccumulatedPhase returns the sum of all phase shifts on the timeline.
func (t *Timeline) AccumulatedPhase() float64 {
	phase := 0.0
	for _, p := range t.phaseShifts {
		phase += p.Shift
	}
	return phase
}

// Consolidate sorts the deltas by time, folds breakpoints at the same time
// into one and drops near-zero results. The operation is idempotent.
func (t *Timeline) Consolidate() {
	if t.consolidated {
		return
	}
	if len(t.deltas) > 1 {
		sort.SliceStable(t.deltas, func(i, j int) bool {
			return t.deltas[i].Time < t.deltas[j].Time
		})
		merged := make([]Delta, 0, len(t.deltas))
		last := t.deltas[0]
		for _, d := range t.deltas[1:] {
			if d.Time == last.Time {
				last.Step += d.Step
				last.Ramp += d.Ramp
			} else {
				if !last.nearZero() {
					merged = append(merged, last)
				}
				last = d
			}
		}
		if !last.nearZero() {
			merged = append(merged, last)
		}
		t.deltas = merged
	}
	t.consolidated = true
	t.breaksProcessed = false
	t.preprocessed = false
}

func (t *Timeline) consolidatePhaseShifts() {
	if t.phaseConsolidated {
		return
	}
	if len(t.phaseShifts) > 0 {
		sort.SliceStable(t.phaseShifts, func(i, j int) bool {
			if t.phaseShifts[i].Time != t.phaseShifts[j].Time {
				return t.phaseShifts[i].Time < t.phaseShifts[j].Time
			}
			return t.phaseShifts[i].Channel < t.phaseShifts[j].Channel
		})
		merged := make([]PhaseShift, 0, len(t.phaseShifts))
		last := t.phaseShifts[0]
		for _, p := range t.phaseShifts[1:] {
			if p.Time == last.Time && p.Channel == last.Channel {
				last.Shift += p.Shift
			} else {
				if math.Abs(last.Shift) >= Epsilon {
					merged = append(merged, last)
				}
				last = p
			}
		}
		if math.Abs(last.Shift) >= Epsilon {
			merged = append(merged, last)
		}
		t.phaseShifts = merged
	}
	t.phaseConsolidated = true
}

// preprocess builds the rendering arrays. sampleRate > 0 is required for
// hres timing corrections; 0 renders on exact breakpoint times.
func (t *Timeline) preprocess(sampleRate float64) {
	t.Consolidate()
	if t.preprocessed && (!t.hres || t.preSampleRate == sampleRate) {
		return
	}
	n := len(t.deltas)
	times := make([]float64, n)
	intervals := make([]float64, n)
	steps := make([]float64, n)
	ramps := make([]float64, n)
	amplitudes := make([]float64, n)
	amplitudesEnd := make([]float64, n)
	corrections := make([]float64, n)
	if n > 0 {
		if t.hres && sampleRate > 0 {
			tSample := 1e9 / sampleRate
			for i, d := range t.deltas {
				var at, dt float64
				if !math.IsInf(d.Time, 1) {
					at = math.Floor(d.Time/tSample) * tSample
					dt = d.Time - at
				} else {
					at = math.Inf(1)
				}
				times[i] = at
				ramps[i] = d.Ramp
				steps[i] = d.Step - dt*d.Ramp
				corrections[i] = -dt*d.Step + dt*d.Ramp
			}
		} else {
			for i, d := range t.deltas {
				times[i] = d.Time
				steps[i] = d.Step
				ramps[i] = d.Ramp
			}
		}
		if math.IsInf(times[n-1], 1) {
			times[n-1] = t.endTime
		}
		for i := 0; i < n-1; i++ {
			intervals[i] = times[i+1] - times[i]
		}
		for i := 1; i < n; i++ {
			ramps[i] += ramps[i-1]
		}
		// amplitude at the start of each interval: accumulated ramp area
		// plus accumulated steps
		area := 0.0
		stepSum := 0.0
		for i := 0; i < n; i++ {
			if i > 0 {
				area += ramps[i-1] * intervals[i-1]
			}
			stepSum += steps[i]
			amplitudes[i] = area + stepSum
		}
		for i := 0; i < n-1; i++ {
			amplitudesEnd[i] = amplitudes[i+1] - steps[i+1]
		}
	}
	t.times = times
	t.intervals = intervals
	t.ramps = ramps
	t.amplitudes = amplitudes
	t.amplitudesEnd = amplitudesEnd
	t.corrections = corrections
	t.preprocessed = true
	t.preSampleRate = sampleRate
}

// breakRamps inserts zero deltas at all element boundaries so that the
// resolved offset ramps never span a burst or custom pulse edge.
func (t *Timeline) breakRamps(elements []Element) {
	if t.breaksProcessed {
		return
	}
	if len(elements) == 0 {
		t.breaksProcessed = true
		return
	}
	breaks := map[float64]struct{}{}
	for _, e := range elements {
		start, stop := e.Span()
		breaks[start] = struct{}{}
		breaks[stop] = struct{}{}
	}
	for _, d := range t.deltas {
		delete(breaks, d.Time)
	}
	if len(breaks) == 0 {
		t.breaksProcessed = true
		return
	}
	for at := range breaks {
		t.deltas = append(t.deltas, Delta{Time: at})
	}
	sort.SliceStable(t.deltas, func(i, j int) bool {
		return t.deltas[i].Time < t.deltas[j].Time
	})
	t.preprocessed = false
	t.breaksProcessed = true
}

// Elements returns all renderable primitives ordered by (start, kind, stop).
// With breakRamps the baseband deltas are first split at the boundaries of
// bursts and custom pulses, so instruction emitters see disjoint slices.
func (t *Timeline) Elements(breakRamps bool) []Element {
	t.consolidatePhaseShifts()

	elements := make([]Element, 0,
		len(t.phaseShifts)+len(t.bursts)+len(t.chirps)+len(t.customs)+len(t.deltas)+1)
	for _, p := range t.phaseShifts {
		elements = append(elements, p)
	}
	for _, m := range t.bursts {
		elements = append(elements, m)
	}
	for _, c := range t.chirps {
		elements = append(elements, c)
	}
	for _, c := range t.customs {
		elements = append(elements, c)
	}

	t.Consolidate()
	if breakRamps {
		t.breakRamps(elements)
	}
	t.preprocess(0)

	for i := range t.times {
		elements = append(elements, OffsetRamp{
			Start:  t.times[i],
			Stop:   t.times[i] + t.intervals[i],
			VStart: t.amplitudes[i],
			VStop:  t.amplitudesEnd[i],
		})
	}
	sortElements(elements)
	return elements
}

// Integrate returns the full integral of the waveform in mV·ns: trapezoids
// over the consolidated intervals plus the summed samples of custom pulses.
func (t *Timeline) Integrate(sampleRate float64) (float64, error) {
	t.preprocess(sampleRate)

	integral := 0.0
	for i := 0; i < len(t.times)-1; i++ {
		integral += 0.5 * (t.amplitudes[i] + t.amplitudesEnd[i]) * t.intervals[i]
	}

	if sampleRate <= 0 {
		sampleRate = 1e9
	}
	tSample := 1e9 / sampleRate
	for _, c := range t.customs {
		samples, err := renderCustom(c, sampleRate)
		if err != nil {
			return 0, err
		}
		for _, v := range samples {
			integral += v * tSample
		}
	}
	return integral, nil
}
