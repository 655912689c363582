// Package config loads and validates hardware setup files: the AWG, marker,
// IQ and digitizer channels the compiler targets, plus virtual gates and the
// ambient logging and telemetry settings.
package config

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/timzifer/pulsec/pulse"
)

// LoggingConfig controls the zerolog setup.
type LoggingConfig struct {
	Level  string     `yaml:"level,omitempty" json:"level,omitempty"`
	Format string     `yaml:"format,omitempty" json:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki,omitempty" json:"loki,omitempty"`
}

// LokiConfig enables shipping logs to a Loki endpoint.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Labels  map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// TelemetryConfig enables the Prometheus collector.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`
}

// CompensationLimits bound the voltage available for DC charge compensation,
// in mV as seen by the device under test.
type CompensationLimits struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// AWGChannel describes one physical voltage output.
type AWGChannel struct {
	Name          string              `yaml:"name" json:"name"`
	Module        string              `yaml:"module" json:"module"`
	ChannelNumber int                 `yaml:"channel_number" json:"channel_number"`
	Attenuation   float64             `yaml:"attenuation,omitempty" json:"attenuation,omitempty"`
	Delay         float64             `yaml:"delay,omitempty" json:"delay,omitempty"`
	Offset        float64             `yaml:"offset,omitempty" json:"offset,omitempty"`
	Compensation  *CompensationLimits `yaml:"compensation,omitempty" json:"compensation,omitempty"`
	BiasTRCTime   float64             `yaml:"bias_t_rc_time,omitempty" json:"bias_t_rc_time,omitempty"`
}

// MarkerChannel describes a digital marker output. Setup and Hold extend the
// marker window around the driving pulse, in ns.
type MarkerChannel struct {
	Name          string  `yaml:"name" json:"name"`
	Module        string  `yaml:"module" json:"module"`
	ChannelNumber int     `yaml:"channel_number" json:"channel_number"`
	Setup         float64 `yaml:"setup,omitempty" json:"setup,omitempty"`
	Hold          float64 `yaml:"hold,omitempty" json:"hold,omitempty"`
	Delay         float64 `yaml:"delay,omitempty" json:"delay,omitempty"`
	Amplitude     float64 `yaml:"amplitude,omitempty" json:"amplitude,omitempty"`
	Invert        bool    `yaml:"invert,omitempty" json:"invert,omitempty"`
	Sequencer     string  `yaml:"sequencer,omitempty" json:"sequencer,omitempty"`
}

// IQOutput binds one side of an IQ pair to an AWG channel.
type IQOutput struct {
	Channel   string `yaml:"channel" json:"channel"`
	Component string `yaml:"component" json:"component"`
	Image     string `yaml:"image,omitempty" json:"image,omitempty"`
}

// QubitChannel is a logical drive channel on an IQ output pair.
type QubitChannel struct {
	Name               string  `yaml:"name" json:"name"`
	ResonanceFrequency float64 `yaml:"resonance_frequency" json:"resonance_frequency"`
	CorrectionGain     float64 `yaml:"correction_gain,omitempty" json:"correction_gain,omitempty"`
	CorrectionPhase    float64 `yaml:"correction_phase,omitempty" json:"correction_phase,omitempty"`
}

// IQChannel describes an IQ output pair with its local oscillator, qubit
// channels and the markers gated by its pulses.
type IQChannel struct {
	Name    string         `yaml:"name" json:"name"`
	LO      float64        `yaml:"lo" json:"lo"`
	Outputs []IQOutput     `yaml:"outputs" json:"outputs"`
	Markers []string       `yaml:"markers,omitempty" json:"markers,omitempty"`
	Qubits  []QubitChannel `yaml:"qubits,omitempty" json:"qubits,omitempty"`
}

// DigitizerChannel describes an acquisition input.
type DigitizerChannel struct {
	Name           string  `yaml:"name" json:"name"`
	Module         string  `yaml:"module" json:"module"`
	ChannelNumbers []int   `yaml:"channel_numbers" json:"channel_numbers"`
	Frequency      float64 `yaml:"frequency,omitempty" json:"frequency,omitempty"`
	Phase          float64 `yaml:"phase,omitempty" json:"phase,omitempty"`
	IQOut          bool    `yaml:"iq_out,omitempty" json:"iq_out,omitempty"`
	Delay          float64 `yaml:"delay,omitempty" json:"delay,omitempty"`
}

// VirtualGate maps a virtual channel onto physical AWG channels with
// weights. Pulses on the virtual channel appear on each target scaled by its
// weight.
type VirtualGate struct {
	Name    string             `yaml:"name" json:"name"`
	Targets map[string]float64 `yaml:"targets" json:"targets"`
}

// Setup is the root of a hardware setup file.
type Setup struct {
	Name                  string             `yaml:"name" json:"name"`
	SampleRate            float64            `yaml:"sample_rate,omitempty" json:"sample_rate,omitempty"`
	Grid                  float64            `yaml:"grid,omitempty" json:"grid,omitempty"`
	MinMarkerOff          float64            `yaml:"min_marker_off,omitempty" json:"min_marker_off,omitempty"`
	SineInterpolationStep float64            `yaml:"sine_interpolation_step,omitempty" json:"sine_interpolation_step,omitempty"`
	RenderCacheSize       int                `yaml:"render_cache_size,omitempty" json:"render_cache_size,omitempty"`
	AWGChannels           []AWGChannel       `yaml:"awg_channels,omitempty" json:"awg_channels,omitempty"`
	MarkerChannels        []MarkerChannel    `yaml:"marker_channels,omitempty" json:"marker_channels,omitempty"`
	IQChannels            []IQChannel        `yaml:"iq_channels,omitempty" json:"iq_channels,omitempty"`
	DigitizerChannels     []DigitizerChannel `yaml:"digitizer_channels,omitempty" json:"digitizer_channels,omitempty"`
	VirtualGates          []VirtualGate      `yaml:"virtual_gates,omitempty" json:"virtual_gates,omitempty"`
	Logging               LoggingConfig      `yaml:"logging,omitempty" json:"logging,omitempty"`
	Telemetry             TelemetryConfig    `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
}

// Load reads, decodes and validates a setup file.
func Load(path string) (*Setup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read setup %s: %w", path, err)
	}
	setup, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return setup, nil
}

// Parse decodes and validates setup YAML.
func Parse(data []byte) (*Setup, error) {
	var setup Setup
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&setup); err != nil {
		return nil, fmt.Errorf("decode setup: %w", err)
	}
	setup.applyDefaults()
	if err := setup.Validate(); err != nil {
		return nil, err
	}
	if err := setup.ValidateSchema(); err != nil {
		return nil, err
	}
	return &setup, nil
}

func (s *Setup) applyDefaults() {
	if s.SampleRate == 0 {
		s.SampleRate = 1e9
	}
	if s.Grid == 0 {
		s.Grid = 1
	}
	if s.MinMarkerOff == 0 {
		s.MinMarkerOff = 20
	}
	for i := range s.AWGChannels {
		if s.AWGChannels[i].Attenuation == 0 {
			s.AWGChannels[i].Attenuation = 1
		}
	}
	for i := range s.MarkerChannels {
		if s.MarkerChannels[i].Amplitude == 0 {
			s.MarkerChannels[i].Amplitude = 1000
		}
	}
	for i := range s.IQChannels {
		for j := range s.IQChannels[i].Qubits {
			if s.IQChannels[i].Qubits[j].CorrectionGain == 0 {
				s.IQChannels[i].Qubits[j].CorrectionGain = 1
			}
		}
	}
}

// Validate checks structural consistency of the setup. All findings are
// reported as pulse.ConfigurationError.
func (s *Setup) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return pulse.ErrConfiguration("setup name must not be empty")
	}
	if s.SampleRate <= 0 {
		return pulse.ErrConfiguration("sample rate must be positive, got %g", s.SampleRate)
	}
	if s.Grid <= 0 {
		return pulse.ErrConfiguration("grid must be positive, got %g", s.Grid)
	}
	if s.MinMarkerOff < 0 {
		return pulse.ErrConfiguration("min_marker_off must not be negative, got %g", s.MinMarkerOff)
	}
	if s.RenderCacheSize < 0 {
		return pulse.ErrConfiguration("render_cache_size must not be negative, got %d", s.RenderCacheSize)
	}

	names := map[string]string{}
	claim := func(name, kind string) error {
		if err := ensureIdentifier(name, kind); err != nil {
			return err
		}
		if existing, ok := names[name]; ok {
			return pulse.ErrConfiguration("channel %q declared as both %s and %s", name, existing, kind)
		}
		names[name] = kind
		return nil
	}

	for _, ch := range s.AWGChannels {
		if err := claim(ch.Name, "awg channel"); err != nil {
			return err
		}
		if ch.Attenuation <= 0 || ch.Attenuation > 1 {
			return pulse.ErrConfiguration("awg channel %q: attenuation must be in (0, 1], got %g",
				ch.Name, ch.Attenuation)
		}
		if ch.Compensation != nil {
			if ch.Compensation.Min > 0 || ch.Compensation.Max < 0 {
				return pulse.ErrConfiguration("awg channel %q: compensation limits must satisfy min <= 0 <= max, got [%g, %g]",
					ch.Name, ch.Compensation.Min, ch.Compensation.Max)
			}
		}
		if ch.BiasTRCTime != 0 && ch.Compensation == nil {
			return pulse.ErrConfiguration("awg channel %q: bias-T correction requires compensation limits", ch.Name)
		}
	}

	markerBits := map[string]string{}
	for _, ch := range s.MarkerChannels {
		if err := claim(ch.Name, "marker channel"); err != nil {
			return err
		}
		if ch.Setup < 0 || ch.Hold < 0 {
			return pulse.ErrConfiguration("marker channel %q: setup and hold must not be negative", ch.Name)
		}
		if ch.Sequencer != "" {
			// channels sharing a sequencer are OR-combined by bit
			bit := fmt.Sprintf("%s/%d", ch.Sequencer, ch.ChannelNumber)
			if existing, ok := markerBits[bit]; ok {
				return pulse.ErrConfiguration("marker channels %q and %q share bit %d on sequencer %q",
					existing, ch.Name, ch.ChannelNumber, ch.Sequencer)
			}
			markerBits[bit] = ch.Name
		}
	}

	for _, ch := range s.DigitizerChannels {
		if err := claim(ch.Name, "digitizer channel"); err != nil {
			return err
		}
		if len(ch.ChannelNumbers) == 0 {
			return pulse.ErrConfiguration("digitizer channel %q: at least one channel number required", ch.Name)
		}
	}

	for _, iq := range s.IQChannels {
		if err := claim(iq.Name, "iq channel"); err != nil {
			return err
		}
		if len(iq.Outputs) == 0 {
			return pulse.ErrConfiguration("iq channel %q: outputs required", iq.Name)
		}
		seenComponents := map[string]bool{}
		for _, out := range iq.Outputs {
			if names[out.Channel] != "awg channel" {
				return pulse.ErrConfiguration("iq channel %q: output references unknown awg channel %q",
					iq.Name, out.Channel)
			}
			component := strings.ToUpper(out.Component)
			if component != "I" && component != "Q" {
				return pulse.ErrConfiguration("iq channel %q: component must be I or Q, got %q",
					iq.Name, out.Component)
			}
			if out.Image != "" && out.Image != "+" && out.Image != "-" {
				return pulse.ErrConfiguration("iq channel %q: image must be + or -, got %q",
					iq.Name, out.Image)
			}
			if seenComponents[component] {
				return pulse.ErrConfiguration("iq channel %q: duplicate %s output", iq.Name, component)
			}
			seenComponents[component] = true
		}
		for _, marker := range iq.Markers {
			if names[marker] != "marker channel" {
				return pulse.ErrConfiguration("iq channel %q: unknown marker channel %q", iq.Name, marker)
			}
		}
		for _, qubit := range iq.Qubits {
			if err := claim(qubit.Name, "qubit channel"); err != nil {
				return err
			}
			if qubit.CorrectionGain <= 0 {
				return pulse.ErrConfiguration("qubit channel %q: correction gain must be positive, got %g",
					qubit.Name, qubit.CorrectionGain)
			}
		}
	}

	for _, gate := range s.VirtualGates {
		if err := claim(gate.Name, "virtual gate"); err != nil {
			return err
		}
		if len(gate.Targets) == 0 {
			return pulse.ErrConfiguration("virtual gate %q: targets required", gate.Name)
		}
		for target := range gate.Targets {
			if names[target] != "awg channel" {
				return pulse.ErrConfiguration("virtual gate %q: target %q is not an awg channel",
					gate.Name, target)
			}
		}
	}

	return nil
}

// AWGChannelByName returns the AWG channel config, or nil.
func (s *Setup) AWGChannelByName(name string) *AWGChannel {
	for i := range s.AWGChannels {
		if s.AWGChannels[i].Name == name {
			return &s.AWGChannels[i]
		}
	}
	return nil
}

// MarkerChannelByName returns the marker channel config, or nil.
func (s *Setup) MarkerChannelByName(name string) *MarkerChannel {
	for i := range s.MarkerChannels {
		if s.MarkerChannels[i].Name == name {
			return &s.MarkerChannels[i]
		}
	}
	return nil
}

// IQChannelByName returns the IQ channel config, or nil.
func (s *Setup) IQChannelByName(name string) *IQChannel {
	for i := range s.IQChannels {
		if s.IQChannels[i].Name == name {
			return &s.IQChannels[i]
		}
	}
	return nil
}

// DigitizerChannelByName returns the digitizer channel config, or nil.
func (s *Setup) DigitizerChannelByName(name string) *DigitizerChannel {
	for i := range s.DigitizerChannels {
		if s.DigitizerChannels[i].Name == name {
			return &s.DigitizerChannels[i]
		}
	}
	return nil
}

func ensureIdentifier(value, kind string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pulse.ErrConfiguration("%s identifier must not be empty", kind)
	}
	if trimmed != value {
		return pulse.ErrConfiguration("%s %q must not contain leading or trailing spaces", kind, value)
	}
	for idx, r := range trimmed {
		if idx == 0 && unicode.IsDigit(r) {
			return pulse.ErrConfiguration("%s %q must not start with a digit", kind, trimmed)
		}
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			return pulse.ErrConfiguration("%s %q contains invalid character %q", kind, trimmed, r)
		}
	}
	return nil
}
