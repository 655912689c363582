// Package sequence aggregates segments into per-channel instruction streams:
// it aligns channel delays, merges markers, places acquisitions and appends
// DC charge compensation.
package sequence

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/timzifer/pulsec/config"
	"github.com/timzifer/pulsec/pulse"
	"github.com/timzifer/pulsec/segment"
	"github.com/timzifer/pulsec/telemetry"
)

// Sequence is an ordered list of segments compiled against one hardware
// setup.
type Sequence struct {
	setup     *config.Setup
	logger    zerolog.Logger
	collector telemetry.Collector
	cache     *pulse.Cache

	segments   []*segment.Segment
	nRep       int
	sampleRate float64
	neutralize bool
}

// Option configures a sequence at construction.
type Option func(*Sequence)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Sequence) { s.logger = logger }
}

// WithCollector attaches telemetry; the default is a no-op.
func WithCollector(collector telemetry.Collector) Option {
	return func(s *Sequence) { s.collector = collector }
}

// WithSampleRate overrides the setup's default sample rate in Sa/s.
func WithSampleRate(rate float64) Option {
	return func(s *Sequence) { s.sampleRate = rate }
}

// WithRepetitions sets how often the sequence plays.
func WithRepetitions(n int) Option {
	return func(s *Sequence) { s.nRep = n }
}

// WithoutCompensation disables DC charge compensation.
func WithoutCompensation() Option {
	return func(s *Sequence) { s.neutralize = false }
}

// New returns an empty sequence bound to a validated setup.
func New(setup *config.Setup, opts ...Option) *Sequence {
	s := &Sequence{
		setup:      setup,
		logger:     zerolog.Nop(),
		collector:  telemetry.Noop(),
		sampleRate: setup.SampleRate,
		nRep:       1,
		neutralize: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = pulse.NewCache(setup.RenderCacheSize).WithStats(s.collector)
	return s
}

// Setup returns the hardware setup the sequence compiles against.
func (s *Sequence) Setup() *config.Setup { return s.setup }

// SampleRate returns the effective sample rate in Sa/s.
func (s *Sequence) SampleRate() float64 { return s.sampleRate }

// Cache returns the render cache. Callers may Configure or Clear it.
func (s *Sequence) Cache() *pulse.Cache { return s.cache }

// NewSegment creates a segment with one channel per configured AWG, IQ,
// qubit, marker and virtual gate, with all references wired: virtual gates
// onto their targets, qubit channels onto their IQ outputs with the mixer
// corrections, and markers onto the IQ channels that gate them.
func (s *Sequence) NewSegment(opts ...segment.Option) (*segment.Segment, error) {
	seg := segment.New(opts...)

	for _, cfg := range s.setup.AWGChannels {
		if _, err := seg.AddVoltageChannel(cfg.Name); err != nil {
			return nil, err
		}
	}
	for _, gate := range s.setup.VirtualGates {
		virtual, err := seg.AddVoltageChannel(gate.Name)
		if err != nil {
			return nil, err
		}
		for target, weight := range gate.Targets {
			if err := seg.Channel(target).AddVirtualReference(virtual, weight); err != nil {
				return nil, err
			}
		}
	}
	for _, iq := range s.setup.IQChannels {
		out, err := seg.AddIQChannel(iq.Name)
		if err != nil {
			return nil, err
		}
		for _, qubit := range iq.Qubits {
			drive, err := seg.AddIQChannel(qubit.Name)
			if err != nil {
				return nil, err
			}
			if err := out.AddIQReference(drive, qubit.CorrectionGain, 0, qubit.CorrectionPhase); err != nil {
				return nil, err
			}
		}
	}
	for _, cfg := range s.setup.MarkerChannels {
		marker, err := seg.AddMarkerChannel(cfg.Name)
		if err != nil {
			return nil, err
		}
		for _, iq := range s.setup.IQChannels {
			for _, name := range iq.Markers {
				if name == cfg.Name {
					if err := marker.AddMarkerSource(seg.Channel(iq.Name)); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	return seg, nil
}

// Append adds a segment at the end of the sequence.
func (s *Sequence) Append(seg *segment.Segment) error {
	if err := seg.Validate(); err != nil {
		return err
	}
	s.segments = append(s.segments, seg)
	return nil
}

// Segments returns the appended segments in order.
func (s *Sequence) Segments() []*segment.Segment { return s.segments }

// Compile aggregates all segments into per-channel instruction streams. The
// call is synchronous and fails fast on the first error.
func (s *Sequence) Compile() (*Program, error) {
	agg := newAggregator(s)
	return agg.build()
}

// RenderChannel renders the dense waveform of a voltage channel over the
// whole sequence at the effective sample rate, including the compensation
// pulse, in user-level mV. Segments are padded to their grid-aligned
// durations.
func (s *Sequence) RenderChannel(name string) ([]float64, error) {
	cfg := s.setup.AWGChannelByName(name)
	if cfg == nil {
		return nil, pulse.ErrConfiguration("unknown awg channel %q", name)
	}

	agg := newAggregator(s)
	if err := agg.prepare(); err != nil {
		return nil, err
	}

	sr := s.sampleRate * 1e-9
	var out []float64
	for si, seg := range s.segments {
		target := len(out) + int(math.Round(agg.segDurations[si]*sr))
		ch := seg.Channel(name)
		if ch != nil {
			composed, err := ch.Composed()
			if err != nil {
				return nil, err
			}
			id, err := ch.ComposedID()
			if err != nil {
				return nil, err
			}
			samples, err := s.cache.Render(composed, id, s.sampleRate, nil, 0)
			if err != nil {
				return nil, err
			}
			out = append(out, samples...)
		}
		for len(out) < target {
			out = append(out, 0)
		}
	}

	if integral, ok := agg.integrals[name]; ok && agg.compDuration > 0 {
		voltage := integral.compensationVoltage(agg.compDuration)
		n := int(math.Round(agg.compDuration * sr))
		for i := 0; i < n; i++ {
			out = append(out, voltage)
		}
	}
	return out, nil
}
