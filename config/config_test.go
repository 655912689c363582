package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/pulsec/pulse"
)

const validSetup = `
name: quantum_dot_rack
sample_rate: 1e9
grid: 1
awg_channels:
  - name: P1
    module: awg1
    channel_number: 1
    attenuation: 0.1
    compensation:
      min: -100
      max: 100
  - name: P2
    module: awg1
    channel_number: 2
    attenuation: 0.1
  - name: I1
    module: awg2
    channel_number: 1
  - name: Q1
    module: awg2
    channel_number: 2
marker_channels:
  - name: M1
    module: awg2
    channel_number: 3
    setup: 20
    hold: 10
    sequencer: seq0
iq_channels:
  - name: IQ1
    lo: 2.4e9
    outputs:
      - channel: I1
        component: I
      - channel: Q1
        component: Q
    markers: [M1]
    qubits:
      - name: q1
        resonance_frequency: 2.45e9
virtual_gates:
  - name: vP1
    targets:
      P1: 1.0
      P2: -0.12
digitizer_channels:
  - name: SD1
    module: dig1
    channel_numbers: [1]
logging:
  level: info
  format: text
`

func writeSetup(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "setup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidSetup(t *testing.T) {
	setup, err := Load(writeSetup(t, validSetup))
	require.NoError(t, err)
	require.Equal(t, "quantum_dot_rack", setup.Name)
	require.Len(t, setup.AWGChannels, 4)
	require.Equal(t, 1e9, setup.SampleRate)
	require.Equal(t, 20.0, setup.MinMarkerOff)

	p1 := setup.AWGChannelByName("P1")
	require.NotNil(t, p1)
	require.Equal(t, 0.1, p1.Attenuation)
	require.NotNil(t, p1.Compensation)

	// attenuation defaults to 1 when omitted
	i1 := setup.AWGChannelByName("I1")
	require.NotNil(t, i1)
	require.Equal(t, 1.0, i1.Attenuation)

	iq := setup.IQChannelByName("IQ1")
	require.NotNil(t, iq)
	require.Equal(t, 1.0, iq.Qubits[0].CorrectionGain)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := Parse([]byte("name: x\nbogus_key: 1\n"))
	require.Error(t, err)
}

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Setup)
	}{
		{"empty name", func(s *Setup) { s.Name = "" }},
		{"bad attenuation", func(s *Setup) { s.AWGChannels[0].Attenuation = 1.5 }},
		{"bias-T without compensation", func(s *Setup) {
			s.AWGChannels[1].BiasTRCTime = 0.001
		}},
		{"compensation range", func(s *Setup) {
			s.AWGChannels[0].Compensation = &CompensationLimits{Min: 10, Max: 100}
		}},
		{"duplicate channel name", func(s *Setup) { s.AWGChannels[1].Name = "P1" }},
		{"iq output unknown channel", func(s *Setup) {
			s.IQChannels[0].Outputs[0].Channel = "nope"
		}},
		{"iq duplicate component", func(s *Setup) {
			s.IQChannels[0].Outputs[1].Component = "I"
		}},
		{"virtual gate unknown target", func(s *Setup) {
			s.VirtualGates[0].Targets = map[string]float64{"nope": 1}
		}},
		{"negative marker setup", func(s *Setup) { s.MarkerChannels[0].Setup = -1 }},
		{"marker bit collision", func(s *Setup) {
			s.MarkerChannels = append(s.MarkerChannels, MarkerChannel{
				Name:          "M2",
				Module:        "awg2",
				ChannelNumber: 3,
				Sequencer:     "seq0",
			})
		}},
		{"digitizer without inputs", func(s *Setup) {
			s.DigitizerChannels[0].ChannelNumbers = nil
		}},
		{"identifier with space", func(s *Setup) { s.AWGChannels[0].Name = "P 1" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setup, err := Load(writeSetup(t, validSetup))
			require.NoError(t, err)
			tc.mutate(setup)
			err = setup.Validate()
			require.Error(t, err)
			require.True(t, pulse.IsConfiguration(err), "expected configuration error, got %v", err)
		})
	}
}

func TestValidateSchemaRejectsBadRanges(t *testing.T) {
	setup, err := Load(writeSetup(t, validSetup))
	require.NoError(t, err)

	setup.AWGChannels[0].ChannelNumber = -3
	err = setup.ValidateSchema()
	require.Error(t, err)
	require.True(t, pulse.IsConfiguration(err))
}

func TestValidateSchemaAcceptsValidSetup(t *testing.T) {
	setup, err := Load(writeSetup(t, validSetup))
	require.NoError(t, err)
	require.NoError(t, setup.ValidateSchema())
}
