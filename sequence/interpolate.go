package sequence

import (
	"math"
	"sort"

	"github.com/timzifer/pulsec/pulse"
)

// InterpolationInterval marks a stretch of the waveform that can be rendered
// with linear interpolation instead of dense samples.
type InterpolationInterval struct {
	Start float64
	Stop  float64
}

// DefaultInterpolationMaxFrequency is the highest sine frequency rendered by
// interpolation. Faster sines need dense samples.
const DefaultInterpolationMaxFrequency = 1e6

// PlanInterpolation scans the ordered element list of a voltage channel and
// returns the intervals that can be rendered with linear interpolation at
// the given step (ns), plus the element list with sines split where an
// interval boundary falls inside them. Low-frequency sines without envelope
// open intervals; offset ramps cut intervals at their boundaries;
// high-frequency sines and custom pulses suspend interpolation over their
// span. Intervals shorter than twice the step are discarded. A split sine's
// tail advances its phase so both halves render the original waveform.
func PlanInterpolation(elements []pulse.Element, step, maxFrequency float64) ([]InterpolationInterval, []pulse.Element, error) {
	if maxFrequency <= 0 {
		maxFrequency = DefaultInterpolationMaxFrequency
	}
	p := &interpolationPlanner{
		step:        step,
		maxFreq:     maxFrequency,
		sineStart:   -1,
		sineStop:    -1,
		suspendTill: -1,
	}
	out, err := p.process(elements)
	if err != nil {
		return nil, nil, err
	}

	sections := make([]InterpolationInterval, len(p.sections))
	for i, section := range p.sections {
		sections[i] = *section
	}
	return sections, out, nil
}

type interpolationPlanner struct {
	step    float64
	maxFreq float64

	sections     []*InterpolationInterval
	current      *InterpolationInterval
	sineStart    float64
	sineStop     float64
	suspendTill  float64
	currentSines []*pulse.Microwave
	newElements  []*pulse.Microwave
}

func (p *interpolationPlanner) process(elements []pulse.Element) ([]pulse.Element, error) {
	working := make([]pulse.Element, len(elements))
	copy(working, elements)

	for i, element := range working {
		switch e := element.(type) {
		case pulse.Microwave:
			if 0 < math.Abs(e.Frequency) && math.Abs(e.Frequency) <= p.maxFreq &&
				e.Stop-e.Start > 2*p.step && e.Envelope == nil {
				// candidate: keep a mutable copy, it may be split later
				sine := e
				working[i] = &sine
				p.addSine(&sine)
			} else {
				p.suspend(e.Start, e.Stop)
			}
		case pulse.OffsetRamp:
			if err := p.cut(e.Start); err != nil {
				return nil, err
			}
			if err := p.cut(e.Stop); err != nil {
				return nil, err
			}
		case pulse.CustomPulse:
			p.suspend(e.Start, e.Stop)
		default:
			return nil, pulse.ErrUnsupported(element.Kind().String(), "")
		}
	}

	out := make([]pulse.Element, 0, len(working)+len(p.newElements))
	for _, element := range working {
		if sine, ok := element.(*pulse.Microwave); ok {
			out = append(out, *sine)
			continue
		}
		out = append(out, element)
	}
	for _, sine := range p.newElements {
		out = append(out, *sine)
	}
	sortElements(out)
	return out, nil
}

func (p *interpolationPlanner) addSine(sine *pulse.Microwave) {
	// multiple sines may overlap; only the union span matters
	start := math.Max(sine.Start, p.suspendTill)
	stop := math.Max(sine.Stop, p.suspendTill)
	if stop-start < 2*p.step {
		return
	}
	p.currentSines = append(p.currentSines, sine)
	if start < p.sineStop {
		p.sineStop = math.Max(p.sineStop, stop)
	} else {
		p.sineStart = start
		p.sineStop = stop
		p.current = &InterpolationInterval{Start: start, Stop: stop}
		p.sections = append(p.sections, p.current)
	}
}

func (p *interpolationPlanner) cutSines(t float64) error {
	kept := p.currentSines[:0]
	for _, sine := range p.currentSines {
		if sine.Start > t {
			return pulse.ErrTiming("interpolation planner: elements not sorted at %g ns", t)
		}
		if sine.Start == t {
			kept = append(kept, sine)
		} else if sine.Stop > t {
			// split in two; the tail continues with advanced phase
			tail := &pulse.Microwave{
				Start:       t,
				Stop:        sine.Stop,
				Amplitude:   sine.Amplitude,
				Frequency:   sine.Frequency,
				PhaseOffset: sine.PhaseOffset + sine.Frequency*2*math.Pi*(t-sine.Start)*1e-9,
			}
			sine.Stop = t
			p.newElements = append(p.newElements, tail)
			kept = append(kept, tail)
		}
	}
	p.currentSines = kept
	return nil
}

func (p *interpolationPlanner) cut(t float64) error {
	if err := p.cutSines(t); err != nil {
		return err
	}
	current := p.current
	if current != nil && t != current.Start {
		current.Stop = t
		p.current = nil
		if current.Stop-current.Start < 2*p.step {
			p.sections = p.sections[:len(p.sections)-1]
		}
	}
	if t >= p.sineStart && p.current == nil {
		if p.sineStop-t > 2*p.step {
			p.current = &InterpolationInterval{Start: t, Stop: p.sineStop}
			p.sections = append(p.sections, p.current)
		}
	}
	return nil
}

func (p *interpolationPlanner) suspend(start, stop float64) {
	if p.current != nil {
		current := p.current
		current.Stop = start
		p.current = nil
		if current.Stop-current.Start < 2*p.step {
			p.sections = p.sections[:len(p.sections)-1]
		}
	}
	if stop < p.sineStop {
		p.sineStart = math.Max(p.sineStart, stop)
	}
	p.suspendTill = math.Max(p.suspendTill, stop)
}

func sortElements(elements []pulse.Element) {
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
