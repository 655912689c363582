package segment

import (
	"fmt"
	"sort"

	"github.com/timzifer/pulsec/pulse"
)

// Acquisition declares a measurement window on a digitizer channel. Times
// are in ns relative to the segment start. A negative TMeasure integrates
// until the end of the sequence. NRepeat > 1 repeats the window every
// Interval ns.
type Acquisition struct {
	Channel   string
	Ref       string
	Start     float64
	TMeasure  float64
	Threshold *float64
	NRepeat   int
	Interval  float64
}

// Segment is one building block of a sequence: a set of channels sharing a
// common time axis plus the acquisitions taken during it.
type Segment struct {
	hres       bool
	channels   map[string]*Channel
	order      []string
	sampleRate float64

	acquisitions []Acquisition
}

// Option configures a segment at construction.
type Option func(*Segment)

// WithHighResolution enables sub-sample breakpoint timing on all channels.
func WithHighResolution() Option {
	return func(s *Segment) { s.hres = true }
}

// WithSampleRate overrides the sequence sample rate for this segment.
func WithSampleRate(rate float64) Option {
	return func(s *Segment) { s.sampleRate = rate }
}

// New returns an empty segment.
func New(opts ...Option) *Segment {
	s := &Segment{channels: map[string]*Channel{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HighResolution reports whether the segment uses sub-sample timing.
func (s *Segment) HighResolution() bool { return s.hres }

// SampleRate returns the segment's sample rate override, 0 when the sequence
// default applies.
func (s *Segment) SampleRate() float64 { return s.sampleRate }

func (s *Segment) addChannel(name string, kind Kind) (*Channel, error) {
	if _, exists := s.channels[name]; exists {
		return nil, pulse.ErrConfiguration("channel %q already exists in segment", name)
	}
	ch := newChannel(name, kind, s.hres)
	s.channels[name] = ch
	s.order = append(s.order, name)
	return ch, nil
}

// AddVoltageChannel adds a baseband channel.
func (s *Segment) AddVoltageChannel(name string) (*Channel, error) {
	return s.addChannel(name, Voltage)
}

// AddIQChannel adds a coherent microwave channel.
func (s *Segment) AddIQChannel(name string) (*Channel, error) {
	return s.addChannel(name, IQ)
}

// AddMarkerChannel adds a digital marker channel.
func (s *Segment) AddMarkerChannel(name string) (*Channel, error) {
	return s.addChannel(name, Marker)
}

// Channel returns the named channel, or nil.
func (s *Segment) Channel(name string) *Channel {
	return s.channels[name]
}

// ChannelNames returns the channel names in creation order.
func (s *Segment) ChannelNames() []string {
	return append([]string{}, s.order...)
}

// Acquire records a measurement window.
func (s *Segment) Acquire(acq Acquisition) error {
	if acq.Channel == "" {
		return pulse.ErrConfiguration("acquisition requires a channel name")
	}
	if acq.NRepeat > 1 && acq.Interval <= 0 {
		return pulse.ErrTiming("repeated acquisition on %s requires a positive interval", acq.Channel)
	}
	s.acquisitions = append(s.acquisitions, acq)
	return nil
}

// Acquisitions returns the recorded measurement windows.
func (s *Segment) Acquisitions() []Acquisition {
	return s.acquisitions
}

// Duration returns the segment length: the maximum end time over all
// channels.
func (s *Segment) Duration() float64 {
	max := 0.0
	for _, ch := range s.channels {
		if end := ch.EndTime(); end > max {
			max = end
		}
	}
	return max
}

// ResetTime aligns the insertion time of every channel to the current
// segment duration, so subsequent pulses on any channel start after
// everything placed so far.
func (s *Segment) ResetTime() {
	at := s.Duration()
	for _, ch := range s.channels {
		ch.ResetTime(at)
	}
}

// Copy returns a deep copy with all channel references remapped onto the
// copied channels. Used to fan a template segment out over sweep points.
func (s *Segment) Copy() *Segment {
	out := &Segment{
		hres:       s.hres,
		channels:   make(map[string]*Channel, len(s.channels)),
		order:      append([]string{}, s.order...),
		sampleRate: s.sampleRate,
	}
	out.acquisitions = append(out.acquisitions, s.acquisitions...)

	for name, ch := range s.channels {
		cp := newChannel(name, ch.kind, s.hres)
		cp.data = ch.data.Copy()
		cp.windows = append(cp.windows, ch.windows...)
		out.channels[name] = cp
	}
	for name, ch := range s.channels {
		cp := out.channels[name]
		for _, ref := range ch.virtualRefs {
			cp.virtualRefs = append(cp.virtualRefs, VirtualRef{
				Source: out.channels[ref.Source.name],
				Weight: ref.Weight,
			})
		}
		for _, ref := range ch.iqRefs {
			cp.iqRefs = append(cp.iqRefs, IQRef{
				Source:         out.channels[ref.Source.name],
				Gain:           ref.Gain,
				FrequencyShift: ref.FrequencyShift,
				PhaseShift:     ref.PhaseShift,
			})
		}
		for _, source := range ch.markerSources {
			cp.markerSources = append(cp.markerSources, out.channels[source.name])
		}
	}
	return out
}

// Validate checks that all references point to channels of this segment.
func (s *Segment) Validate() error {
	for name, ch := range s.channels {
		check := func(source *Channel, what string) error {
			if s.channels[source.name] != source {
				return pulse.ErrConfiguration("channel %q: %s references channel %q from another segment",
					name, what, source.name)
			}
			return nil
		}
		for _, ref := range ch.virtualRefs {
			if err := check(ref.Source, "virtual reference"); err != nil {
				return err
			}
		}
		for _, ref := range ch.iqRefs {
			if err := check(ref.Source, "iq reference"); err != nil {
				return err
			}
		}
		for _, source := range ch.markerSources {
			if err := check(source, "marker source"); err != nil {
				return err
			}
		}
	}
	return nil
}

// String summarises the segment for debug logs.
func (s *Segment) String() string {
	names := append([]string{}, s.order...)
	sort.Strings(names)
	return fmt.Sprintf("segment{channels: %v, duration: %g ns}", names, s.Duration())
}
