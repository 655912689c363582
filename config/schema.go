package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/timzifer/pulsec/pulse"
)

// setupSchema is the CUE contract every decoded setup must satisfy. It backs
// Validate with type and range checks that stay readable in one place.
const setupSchema = `
#Setup: {
	name: string & !=""
	sample_rate?: number & >0
	grid?: number & >0
	min_marker_off?: number & >=0
	sine_interpolation_step?: number & >=0
	render_cache_size?: int & >=0
	awg_channels?: [...#AWGChannel]
	marker_channels?: [...#MarkerChannel]
	iq_channels?: [...#IQChannel]
	digitizer_channels?: [...#DigitizerChannel]
	virtual_gates?: [...#VirtualGate]
	logging?: #Logging
	telemetry?: #Telemetry
}

#AWGChannel: {
	name: string & !=""
	module: string & !=""
	channel_number: int & >=0
	attenuation?: number & >0 & <=1
	delay?: number
	offset?: number
	compensation?: {
		min: number & <=0
		max: number & >=0
	}
	bias_t_rc_time?: number & >=0
}

#MarkerChannel: {
	name: string & !=""
	module: string & !=""
	channel_number: int & >=0
	setup?: number & >=0
	hold?: number & >=0
	delay?: number
	amplitude?: number & >0
	invert?: bool
	sequencer?: string
}

#IQChannel: {
	name: string & !=""
	lo: number & >=0
	outputs: [...{
		channel: string & !=""
		component: "I" | "Q" | "i" | "q"
		image?: "+" | "-"
	}]
	markers?: [...string]
	qubits?: [...{
		name: string & !=""
		resonance_frequency: number & >0
		correction_gain?: number & >0
		correction_phase?: number
	}]
}

#DigitizerChannel: {
	name: string & !=""
	module: string & !=""
	channel_numbers: [...int & >=0]
	frequency?: number
	phase?: number
	iq_out?: bool
	delay?: number
}

#VirtualGate: {
	name: string & !=""
	targets: {[string]: number}
}

#Logging: {
	level?: string
	format?: "json" | "text" | ""
	loki?: {
		enabled?: bool
		url?: string
		labels?: {[string]: string}
	}
}

#Telemetry: {
	enabled?: bool
	provider?: string
}
`

// ValidateSchema checks the decoded setup against the embedded CUE schema.
func (s *Setup) ValidateSchema() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(setupSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile setup schema: %w", err)
	}
	definition := schema.LookupPath(cue.ParsePath("#Setup"))
	if err := definition.Err(); err != nil {
		return fmt.Errorf("lookup setup schema: %w", err)
	}

	value := ctx.Encode(s)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode setup: %w", err)
	}

	unified := definition.Unify(value)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return pulse.ErrConfiguration("setup schema violation: %v", err)
	}
	return nil
}
