package pulse

import (
	"math"
	"sort"
)

// Epsilon is the amplitude threshold below which a consolidated delta is
// considered silent and dropped.
const Epsilon = 1e-9

// Delta is a baseband breakpoint: at Time the voltage jumps by Step mV and the
// slope changes by Ramp mV/ns. A Time of +Inf closes an open-ended
// contribution at the segment end.
type Delta struct {
	Time float64
	Step float64
	Ramp float64
}

func (d Delta) nearZero() bool {
	return math.Abs(d.Step) < Epsilon && math.Abs(d.Ramp) < Epsilon
}

// Envelope modulates a microwave burst. Both methods return one value per
// rendered sample; a nil Envelope means a flat burst.
type Envelope interface {
	AmplitudeEnvelope(duration float64, sampleRate float64) []float64
	PhaseEnvelope(duration float64, sampleRate float64) []float64
}

// Microwave is a sine burst between Start and Stop ns. Coherent bursts track
// the accumulated phase of their reference channel; non-coherent bursts start
// at PhaseOffset regardless of position.
type Microwave struct {
	Start       float64
	Stop        float64
	Amplitude   float64
	Frequency   float64
	PhaseOffset float64
	Envelope    Envelope
	RefChannel  string
	Coherent    bool
}

// SampleFunc produces the samples of a custom pulse. t holds the sample times
// in ns relative to the pulse start, duration the pulse length in ns and
// amplitude the requested peak in mV.
type SampleFunc func(t []float64, duration, amplitude float64) ([]float64, error)

// CustomPulse is an opaque pulse whose samples come from a SampleFunc.
// Scaling multiplies the rendered samples, so virtual-gate composition can
// attenuate a custom pulse without re-sampling it.
type CustomPulse struct {
	Start     float64
	Stop      float64
	Amplitude float64
	Scaling   float64
	Samples   SampleFunc
}

// PhaseShift is an instantaneous rotation of the accumulated phase of a
// coherent reference channel.
type PhaseShift struct {
	Time    float64
	Shift   float64
	Channel string
}

// Chirp sweeps linearly from StartFrequency to StopFrequency between Start and
// Stop ns.
type Chirp struct {
	Start          float64
	Stop           float64
	Amplitude      float64
	StartFrequency float64
	StopFrequency  float64
	Phase          float64
}

// PhaseModulation returns the quadratic part of the chirp phase at t ns after
// the chirp start: 2*pi*(f1-f0)/(2T)*t^2 with times converted to seconds.
func (c Chirp) PhaseModulation(t float64) float64 {
	duration := c.Stop - c.Start
	if duration <= 0 {
		return 0
	}
	return math.Pi * (c.StopFrequency - c.StartFrequency) * t * t * 1e-9 / duration
}

// OffsetRamp is a resolved baseband interval: constant when VStart == VStop,
// a linear ramp otherwise. Produced by Elements from the consolidated deltas.
type OffsetRamp struct {
	Start  float64
	Stop   float64
	VStart float64
	VStop  float64
}

// ElementKind orders element types within one start time. Phase shifts come
// first so a shift at the start of a burst applies to that burst.
type ElementKind int

const (
	KindPhaseShift ElementKind = iota + 1
	KindMicrowave
	KindChirp
	KindCustom
	KindOffsetRamp
)

func (k ElementKind) String() string {
	switch k {
	case KindPhaseShift:
		return "phase shift"
	case KindMicrowave:
		return "microwave"
	case KindChirp:
		return "chirp"
	case KindCustom:
		return "custom pulse"
	case KindOffsetRamp:
		return "offset ramp"
	}
	return "unknown"
}

// Element is the closed set of renderable pulse primitives. Consumers switch
// on Kind and treat unknown kinds as unsupported.
type Element interface {
	Kind() ElementKind
	Span() (start, stop float64)
}

func (p PhaseShift) Kind() ElementKind { return KindPhaseShift }
func (m Microwave) Kind() ElementKind  { return KindMicrowave }
func (c Chirp) Kind() ElementKind      { return KindChirp }
func (c CustomPulse) Kind() ElementKind {
	return KindCustom
}
func (r OffsetRamp) Kind() ElementKind { return KindOffsetRamp }

func (p PhaseShift) Span() (float64, float64)  { return p.Time, p.Time }
func (m Microwave) Span() (float64, float64)   { return m.Start, m.Stop }
func (c Chirp) Span() (float64, float64)       { return c.Start, c.Stop }
func (c CustomPulse) Span() (float64, float64) { return c.Start, c.Stop }
func (r OffsetRamp) Span() (float64, float64)  { return r.Start, r.Stop }

func sortElements(elements []Element) {
	sort.SliceStable(elements, func(i, j int) bool {
		si, pi := elements[i].Span()
		sj, pj := elements[j].Span()
		if si != sj {
			return si < sj
		}
		if elements[i].Kind() != elements[j].Kind() {
			return elements[i].Kind() < elements[j].Kind()
		}
		return pi < pj
	})
}
