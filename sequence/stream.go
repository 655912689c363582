package sequence

import (
	"fmt"
	"strings"
)

// OpKind enumerates the instruction types an output channel understands.
type OpKind int

const (
	OpRamp OpKind = iota
	OpBurst
	OpChirp
	OpPhaseShift
	OpCustom
	OpOffset
	OpWait
	OpMarker
	OpAcquire
)

func (k OpKind) String() string {
	switch k {
	case OpRamp:
		return "ramp"
	case OpBurst:
		return "burst"
	case OpChirp:
		return "chirp"
	case OpPhaseShift:
		return "phase_shift"
	case OpCustom:
		return "custom"
	case OpOffset:
		return "offset"
	case OpWait:
		return "wait"
	case OpMarker:
		return "marker"
	case OpAcquire:
		return "acquire"
	}
	return "unknown"
}

// Instruction is one operation on an output channel. Unused fields stay
// zero; which fields apply depends on Kind. Times are in ns on the sequence
// time axis, voltages in device-referred mV.
type Instruction struct {
	Kind          OpKind
	Start         float64
	Stop          float64
	VStart        float64
	VStop         float64
	Amplitude     float64
	Frequency     float64
	StopFrequency float64
	Phase         float64
	Samples       []float64
	Value         int
	Comment       string
}

// InstructionStream carries the ordered instructions of one output channel.
// Offset is the channel delay compensation applied to all instruction times.
type InstructionStream struct {
	Channel      string
	Offset       float64
	Instructions []Instruction
}

func (s *InstructionStream) add(instr Instruction) {
	s.Instructions = append(s.Instructions, instr)
}

// Encode renders the stream into a deterministic text form. Identical input
// yields byte-identical output, which makes streams directly comparable in
// regression tests.
func (s *InstructionStream) Encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "channel %s offset %.3f\n", s.Channel, s.Offset)
	for _, instr := range s.Instructions {
		fmt.Fprintf(&b, "%-11s t=%.3f", instr.Kind, instr.Start)
		switch instr.Kind {
		case OpRamp:
			fmt.Fprintf(&b, " stop=%.3f v0=%.6f v1=%.6f", instr.Stop, instr.VStart, instr.VStop)
		case OpBurst:
			fmt.Fprintf(&b, " stop=%.3f amp=%.6f f=%.3f phase=%.9f",
				instr.Stop, instr.Amplitude, instr.Frequency, instr.Phase)
		case OpChirp:
			fmt.Fprintf(&b, " stop=%.3f amp=%.6f f0=%.3f f1=%.3f phase=%.9f",
				instr.Stop, instr.Amplitude, instr.Frequency, instr.StopFrequency, instr.Phase)
		case OpPhaseShift:
			fmt.Fprintf(&b, " phase=%.9f", instr.Phase)
		case OpCustom:
			fmt.Fprintf(&b, " stop=%.3f n=%d", instr.Stop, len(instr.Samples))
		case OpOffset:
			fmt.Fprintf(&b, " stop=%.3f v=%.6f", instr.Stop, instr.VStart)
		case OpWait:
			fmt.Fprintf(&b, " stop=%.3f", instr.Stop)
		case OpMarker:
			fmt.Fprintf(&b, " value=%d amp=%.3f", instr.Value, instr.Amplitude)
		case OpAcquire:
			fmt.Fprintf(&b, " stop=%.3f n=%d", instr.Stop, instr.Value)
		}
		if instr.Comment != "" {
			fmt.Fprintf(&b, " # %s", instr.Comment)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
