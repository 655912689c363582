package sequence

import (
	"fmt"

	"github.com/timzifer/pulsec/config"
	"github.com/timzifer/pulsec/pulse"
	"github.com/timzifer/pulsec/segment"
)

// Program is the compiled form of a sequence: one instruction stream per
// output channel plus the ordered measurement descriptions.
type Program struct {
	Streams      map[string]*InstructionStream
	Measurements []Measurement
	Metadata     map[string]ChannelMetadata

	// Duration is the total playback length in ns including compensation.
	Duration             float64
	CompensationDuration float64
	Repetitions          int
	SampleRate           float64
}

// Measurement describes one acquisition in playback order. Time is on the
// sequence axis in ns.
type Measurement struct {
	Name      string
	Channel   string
	Segment   int
	Time      float64
	TMeasure  float64
	Threshold *float64
	NRepeat   int
	Interval  float64
}

// ChannelMetadata summarises what plays on a channel, for inspection and
// plotting without a full render. Interpolation lists the stretches a
// piecewise-linear encoder may render by interpolating between samples.
type ChannelMetadata struct {
	Ramps         []pulse.OffsetRamp
	Bursts        []BurstInfo
	Interpolation []InterpolationInterval
}

// BurstInfo is a microwave burst with its phase resolved against the phase
// shifts that precede it.
type BurstInfo struct {
	Start     float64
	Stop      float64
	Amplitude float64
	Frequency float64
	Phase     float64
}

type aggregator struct {
	seq   *Sequence
	setup *config.Setup
	grid  Grid

	segStarts    []float64
	segDurations []float64
	totalEnd     float64
	maxPreStart  float64

	integrals    map[string]*channelIntegral
	compDuration float64
}

func newAggregator(s *Sequence) *aggregator {
	return &aggregator{
		seq:       s,
		setup:     s.setup,
		grid:      Grid{Resolution: s.setup.Grid},
		integrals: map[string]*channelIntegral{},
	}
}

func (a *aggregator) effectiveRate(seg *segment.Segment) float64 {
	if rate := seg.SampleRate(); rate > 0 {
		return rate
	}
	return a.seq.sampleRate
}

// prepare lays the segments out on the sequence time axis and accumulates
// the charge integrals.
func (a *aggregator) prepare() error {
	a.segStarts = make([]float64, len(a.seq.segments))
	a.segDurations = make([]float64, len(a.seq.segments))
	at := 0.0
	for i, seg := range a.seq.segments {
		a.segStarts[i] = at
		a.segDurations[i] = a.grid.Ceil(seg.Duration())
		at += a.segDurations[i]
	}
	a.totalEnd = at

	for _, cfg := range a.setup.AWGChannels {
		if -cfg.Delay > a.maxPreStart {
			a.maxPreStart = -cfg.Delay
		}
	}
	for _, cfg := range a.setup.MarkerChannels {
		if -cfg.Delay > a.maxPreStart {
			a.maxPreStart = -cfg.Delay
		}
	}
	for _, cfg := range a.setup.DigitizerChannels {
		if -cfg.Delay > a.maxPreStart {
			a.maxPreStart = -cfg.Delay
		}
	}

	if a.seq.neutralize {
		for i := range a.setup.AWGChannels {
			cfg := &a.setup.AWGChannels[i]
			if cfg.Compensation == nil {
				continue
			}
			integral := &channelIntegral{cfg: cfg}
			for si, seg := range a.seq.segments {
				ch := seg.Channel(cfg.Name)
				if ch == nil {
					continue
				}
				composed, err := ch.Composed()
				if err != nil {
					return err
				}
				v, err := composed.Integrate(a.effectiveRate(seg))
				if err != nil {
					return fmt.Errorf("integrating %s in segment %d: %w", cfg.Name, si, err)
				}
				integral.add(v)
			}
			a.integrals[cfg.Name] = integral
		}
		var err error
		a.compDuration, err = compensationDuration(a.integrals, a.grid)
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *aggregator) build() (*Program, error) {
	if err := a.prepare(); err != nil {
		return nil, err
	}

	program := &Program{
		Streams:              map[string]*InstructionStream{},
		Metadata:             map[string]ChannelMetadata{},
		CompensationDuration: a.compDuration,
		Duration:             a.totalEnd + a.compDuration,
		Repetitions:          a.seq.nRep,
		SampleRate:           a.seq.sampleRate,
	}

	for i := range a.setup.AWGChannels {
		cfg := &a.setup.AWGChannels[i]
		stream, meta, err := a.buildVoltageStream(cfg)
		if err != nil {
			return nil, err
		}
		program.Streams[cfg.Name] = stream
		program.Metadata[cfg.Name] = meta
		a.seq.collector.IncCompilation(cfg.Name)
		a.seq.logger.Debug().
			Str("channel", cfg.Name).
			Int("instructions", len(stream.Instructions)).
			Msg("compiled voltage channel")
	}

	for i := range a.setup.IQChannels {
		cfg := &a.setup.IQChannels[i]
		stream, meta, err := a.buildIQStream(cfg)
		if err != nil {
			return nil, err
		}
		program.Streams[cfg.Name] = stream
		program.Metadata[cfg.Name] = meta
		a.seq.collector.IncCompilation(cfg.Name)
		a.seq.logger.Debug().
			Str("channel", cfg.Name).
			Int("instructions", len(stream.Instructions)).
			Msg("compiled iq channel")
	}

	if err := a.buildMarkerStreams(program); err != nil {
		return nil, err
	}
	if err := a.buildAcquisitions(program); err != nil {
		return nil, err
	}
	return program, nil
}

// buildVoltageStream emits the baseband instructions of one AWG channel in
// device-referred mV.
func (a *aggregator) buildVoltageStream(cfg *config.AWGChannel) (*InstructionStream, ChannelMetadata, error) {
	stream := &InstructionStream{
		Channel: cfg.Name,
		Offset:  a.grid.Align(a.maxPreStart + cfg.Delay),
	}
	var meta ChannelMetadata
	att := cfg.Attenuation

	if cfg.Offset != 0 {
		stream.add(Instruction{
			Kind:    OpOffset,
			Start:   0,
			Stop:    a.totalEnd + a.compDuration,
			VStart:  cfg.Offset,
			Comment: "static offset",
		})
	}

	for si, seg := range a.seq.segments {
		ch := seg.Channel(cfg.Name)
		if ch == nil {
			continue
		}
		composed, err := ch.Composed()
		if err != nil {
			return nil, meta, err
		}
		shift := a.segStarts[si]
		elements := composed.Elements(true)
		if step := a.setup.SineInterpolationStep; step > 0 {
			sections, planned, err := PlanInterpolation(elements, step, 0)
			if err != nil {
				return nil, meta, err
			}
			elements = planned
			for _, section := range sections {
				meta.Interpolation = append(meta.Interpolation, InterpolationInterval{
					Start: shift + section.Start,
					Stop:  shift + section.Stop,
				})
			}
		}
		for _, element := range elements {
			switch e := element.(type) {
			case pulse.OffsetRamp:
				if e.Stop-e.Start < pulse.Epsilon {
					continue
				}
				if nearZero(e.VStart) && nearZero(e.VStop) {
					continue
				}
				ramp := pulse.OffsetRamp{
					Start:  shift + e.Start,
					Stop:   shift + e.Stop,
					VStart: e.VStart,
					VStop:  e.VStop,
				}
				meta.Ramps = append(meta.Ramps, ramp)
				stream.add(Instruction{
					Kind:   OpRamp,
					Start:  ramp.Start,
					Stop:   ramp.Stop,
					VStart: ramp.VStart * att,
					VStop:  ramp.VStop * att,
				})
			case pulse.Microwave:
				if e.Coherent {
					return nil, meta, pulse.ErrUnsupported("coherent burst", cfg.Name)
				}
				if nearZero(e.Amplitude) {
					continue
				}
				meta.Bursts = append(meta.Bursts, BurstInfo{
					Start:     shift + e.Start,
					Stop:      shift + e.Stop,
					Amplitude: e.Amplitude,
					Frequency: e.Frequency,
					Phase:     e.PhaseOffset,
				})
				stream.add(Instruction{
					Kind:      OpBurst,
					Start:     shift + e.Start,
					Stop:      shift + e.Stop,
					Amplitude: e.Amplitude * att,
					Frequency: e.Frequency,
					Phase:     e.PhaseOffset,
				})
			case pulse.CustomPulse:
				samples, err := e.Render(a.effectiveRate(seg))
				if err != nil {
					return nil, meta, err
				}
				scaled := make([]float64, len(samples))
				for i, v := range samples {
					scaled[i] = v * att
				}
				stream.add(Instruction{
					Kind:    OpCustom,
					Start:   shift + e.Start,
					Stop:    shift + e.Stop,
					Samples: scaled,
				})
			case pulse.PhaseShift:
				return nil, meta, pulse.ErrUnsupported("phase shift", cfg.Name)
			case pulse.Chirp:
				return nil, meta, pulse.ErrUnsupported("chirp", cfg.Name)
			}
		}
	}

	if integral, ok := a.integrals[cfg.Name]; ok && a.compDuration > 0 {
		voltage := integral.compensationVoltage(a.compDuration)
		stream.add(Instruction{
			Kind:    OpOffset,
			Start:   a.totalEnd,
			Stop:    a.totalEnd + a.compDuration,
			VStart:  voltage * att,
			Comment: "dc compensation",
		})
		stream.add(Instruction{
			Kind:  OpOffset,
			Start: a.totalEnd + a.compDuration,
			Stop:  a.totalEnd + a.compDuration,
		})
	}
	return stream, meta, nil
}

// buildIQStream emits the microwave instructions of one IQ pair with the
// local oscillator subtracted.
func (a *aggregator) buildIQStream(cfg *config.IQChannel) (*InstructionStream, ChannelMetadata, error) {
	stream := &InstructionStream{
		Channel: cfg.Name,
		Offset:  a.grid.Align(a.maxPreStart + a.iqDelay(cfg)),
	}
	var meta ChannelMetadata
	nyquist := a.seq.sampleRate / 2

	for si, seg := range a.seq.segments {
		ch := seg.Channel(cfg.Name)
		if ch == nil {
			continue
		}
		composed, err := ch.Composed()
		if err != nil {
			return nil, meta, err
		}
		shift := a.segStarts[si]
		var accumulated float64
		for _, element := range composed.Elements(false) {
			switch e := element.(type) {
			case pulse.PhaseShift:
				accumulated += e.Shift
				stream.add(Instruction{
					Kind:  OpPhaseShift,
					Start: shift + e.Time,
					Phase: e.Shift,
				})
			case pulse.Microwave:
				f := e.Frequency - cfg.LO
				if f > nyquist || f < -nyquist {
					return nil, meta, pulse.ErrTiming(
						"burst on %s at %g Hz exceeds the Nyquist limit of %g Hz after LO subtraction",
						cfg.Name, f, nyquist)
				}
				if nearZero(e.Amplitude) {
					continue
				}
				instr := Instruction{
					Kind:      OpBurst,
					Start:     shift + e.Start,
					Stop:      shift + e.Stop,
					Amplitude: e.Amplitude,
					Frequency: f,
					Phase:     e.PhaseOffset,
				}
				if e.Envelope != nil {
					instr.Comment = "shaped"
				}
				meta.Bursts = append(meta.Bursts, BurstInfo{
					Start:     instr.Start,
					Stop:      instr.Stop,
					Amplitude: e.Amplitude,
					Frequency: f,
					Phase:     e.PhaseOffset + accumulated,
				})
				stream.add(instr)
			case pulse.Chirp:
				f0 := e.StartFrequency - cfg.LO
				f1 := e.StopFrequency - cfg.LO
				if f0 > nyquist || f0 < -nyquist || f1 > nyquist || f1 < -nyquist {
					return nil, meta, pulse.ErrTiming(
						"chirp on %s sweeps beyond the Nyquist limit of %g Hz after LO subtraction",
						cfg.Name, nyquist)
				}
				stream.add(Instruction{
					Kind:          OpChirp,
					Start:         shift + e.Start,
					Stop:          shift + e.Stop,
					Amplitude:     e.Amplitude,
					Frequency:     f0,
					StopFrequency: f1,
					Phase:         e.Phase,
				})
			case pulse.CustomPulse:
				return nil, meta, pulse.ErrUnsupported("custom pulse", cfg.Name)
			case pulse.OffsetRamp:
				if nearZero(e.VStart) && nearZero(e.VStop) {
					continue
				}
				return nil, meta, pulse.ErrUnsupported("voltage ramp", cfg.Name)
			}
		}
	}
	return stream, meta, nil
}

// iqDelay returns the delay of the AWG channel driving the I component.
func (a *aggregator) iqDelay(cfg *config.IQChannel) float64 {
	for _, out := range cfg.Outputs {
		if out.Component != "I" {
			continue
		}
		if awg := a.setup.AWGChannelByName(out.Channel); awg != nil {
			return awg.Delay
		}
	}
	return 0
}

// buildMarkerStreams merges the marker windows of all segments, groups
// channels by sequencer and emits one event stream per sequencer.
func (a *aggregator) buildMarkerStreams(program *Program) error {
	type sequencerGroup struct {
		name       string
		delay      float64
		windows    map[int][]segment.Window
		amplitudes map[int]float64
	}
	var groups []*sequencerGroup
	byName := map[string]*sequencerGroup{}

	for i := range a.setup.MarkerChannels {
		cfg := &a.setup.MarkerChannels[i]
		name := cfg.Sequencer
		if name == "" {
			name = cfg.Name
		}
		group := byName[name]
		if group == nil {
			group = &sequencerGroup{
				name:       name,
				delay:      cfg.Delay,
				windows:    map[int][]segment.Window{},
				amplitudes: map[int]float64{},
			}
			byName[name] = group
			groups = append(groups, group)
		}

		var windows []segment.Window
		for si, seg := range a.seq.segments {
			ch := seg.Channel(cfg.Name)
			if ch == nil {
				continue
			}
			composed, err := ch.ComposedWindows()
			if err != nil {
				return err
			}
			shift := a.segStarts[si]
			for _, w := range composed {
				start := a.grid.Floor(shift + w.Start - cfg.Setup)
				if start < 0 {
					start = 0
				}
				stop := a.grid.Ceil(shift + w.Stop + cfg.Hold)
				windows = append(windows, segment.Window{Start: start, Stop: stop})
			}
		}
		merged := mergeWindows(windows, a.setup.MinMarkerOff)
		if cfg.Invert {
			merged = invertWindows(merged, a.totalEnd+a.compDuration)
		}
		bit := 1 << cfg.ChannelNumber
		group.windows[bit] = append(group.windows[bit], merged...)
		group.amplitudes[bit] = cfg.Amplitude
	}

	for _, group := range groups {
		events := combineMarkers(group.windows)
		if len(events) == 0 {
			continue
		}
		stream := &InstructionStream{
			Channel: group.name,
			Offset:  a.grid.Align(a.maxPreStart + group.delay),
		}
		for _, ev := range events {
			instr := Instruction{Kind: OpMarker, Start: ev.Time, Value: ev.Value}
			// drive the output at the strongest amplitude among the active bits
			for bit, amplitude := range group.amplitudes {
				if ev.Value&bit != 0 && amplitude > instr.Amplitude {
					instr.Amplitude = amplitude
				}
			}
			stream.add(instr)
		}
		program.Streams[group.name] = stream
		a.seq.collector.IncCompilation(group.name)
	}
	return nil
}

// invertWindows complements the on-windows within [0, end).
func invertWindows(windows []segment.Window, end float64) []segment.Window {
	var out []segment.Window
	at := 0.0
	for _, w := range windows {
		if w.Start > at {
			out = append(out, segment.Window{Start: at, Stop: w.Start})
		}
		if w.Stop > at {
			at = w.Stop
		}
	}
	if at < end {
		out = append(out, segment.Window{Start: at, Stop: end})
	}
	return out
}

// buildAcquisitions places the measurement windows on the sequence axis and
// emits one acquire stream per digitizer channel.
func (a *aggregator) buildAcquisitions(program *Program) error {
	for si, seg := range a.seq.segments {
		for _, acq := range seg.Acquisitions() {
			cfg := a.setup.DigitizerChannelByName(acq.Channel)
			if cfg == nil {
				return pulse.ErrConfiguration("acquisition references unknown digitizer channel %q", acq.Channel)
			}

			t := a.grid.Round(a.segStarts[si] + acq.Start)
			tMeasure := acq.TMeasure
			if tMeasure < 0 {
				// integrate until the end of the last segment
				tMeasure = a.totalEnd - t
			}
			n := acq.NRepeat
			if n < 1 {
				n = 1
			}
			span := float64(n-1)*acq.Interval + tMeasure
			if t+span > a.totalEnd+pulse.Epsilon {
				return pulse.ErrTiming(
					"acquisition on %s at %g ns runs %g ns past the sequence end",
					acq.Channel, t, t+span-a.totalEnd)
			}

			name := acq.Ref
			if name == "" {
				name = fmt.Sprintf("m%d_%s", len(program.Measurements), acq.Channel)
			}
			program.Measurements = append(program.Measurements, Measurement{
				Name:      name,
				Channel:   acq.Channel,
				Segment:   si,
				Time:      t,
				TMeasure:  tMeasure,
				Threshold: acq.Threshold,
				NRepeat:   n,
				Interval:  acq.Interval,
			})

			stream := program.Streams[acq.Channel]
			if stream == nil {
				stream = &InstructionStream{
					Channel: acq.Channel,
					Offset:  a.grid.Align(a.maxPreStart + cfg.Delay),
				}
				program.Streams[acq.Channel] = stream
			}
			for rep := 0; rep < n; rep++ {
				at := t + float64(rep)*acq.Interval
				stream.add(Instruction{
					Kind:    OpAcquire,
					Start:   at,
					Stop:    at + tMeasure,
					Value:   1,
					Comment: name,
				})
			}
		}
	}
	return nil
}

func nearZero(v float64) bool {
	return v < pulse.Epsilon && v > -pulse.Epsilon
}
