// Package shapes provides sampling functions for custom pulses. Shapes are
// either plain Go functions or user-defined expressions compiled once and
// evaluated per sample.
package shapes

import (
	"fmt"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/timzifer/pulsec/pulse"
)

// FromExpression compiles src into a pulse.SampleFunc. The expression is
// evaluated once per sample with the variables t (ns since pulse start),
// duration (ns), amplitude (mV), the entries of params and the helpers sin,
// cos, exp, sqrt, abs and pi. The result must be a number.
func FromExpression(src string, params map[string]float64) (pulse.SampleFunc, error) {
	env := baseEnv(params)
	program, err := expr.Compile(src, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile shape expression: %w", err)
	}
	return func(t []float64, duration, amplitude float64) ([]float64, error) {
		out := make([]float64, len(t))
		for i, at := range t {
			env["t"] = at
			env["duration"] = duration
			env["amplitude"] = amplitude
			v, err := runProgram(program, env)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}, nil
}

func runProgram(program *vm.Program, env map[string]interface{}) (float64, error) {
	result, err := expr.Run(program, env)
	if err != nil {
		return 0, fmt.Errorf("evaluate shape expression: %w", err)
	}
	switch v := result.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("shape expression returned %T, expected number", result)
	}
}

func baseEnv(params map[string]float64) map[string]interface{} {
	env := map[string]interface{}{
		"pi":        math.Pi,
		"sin":       math.Sin,
		"cos":       math.Cos,
		"exp":       math.Exp,
		"sqrt":      math.Sqrt,
		"abs":       math.Abs,
		"t":         0.0,
		"duration":  0.0,
		"amplitude": 0.0,
	}
	for name, value := range params {
		env[name] = value
	}
	return env
}

// Block samples a flat pulse at full amplitude.
func Block() pulse.SampleFunc {
	return func(t []float64, duration, amplitude float64) ([]float64, error) {
		out := make([]float64, len(t))
		for i := range out {
			out[i] = amplitude
		}
		return out, nil
	}
}

// Ramp samples a linear ramp from 0 to amplitude over the pulse duration.
func Ramp() pulse.SampleFunc {
	return func(t []float64, duration, amplitude float64) ([]float64, error) {
		out := make([]float64, len(t))
		if duration <= 0 {
			return out, nil
		}
		for i, at := range t {
			out[i] = amplitude * at / duration
		}
		return out, nil
	}
}

// Gaussian samples a Gaussian centred on the pulse with the given standard
// deviation in ns.
func Gaussian(sigma float64) pulse.SampleFunc {
	return func(t []float64, duration, amplitude float64) ([]float64, error) {
		if sigma <= 0 {
			return nil, fmt.Errorf("gaussian shape requires sigma > 0, got %g", sigma)
		}
		mid := duration / 2
		out := make([]float64, len(t))
		for i, at := range t {
			d := (at - mid) / sigma
			out[i] = amplitude * math.Exp(-0.5*d*d)
		}
		return out, nil
	}
}

// RaisedCosine samples a full raised-cosine (Hann) pulse.
func RaisedCosine() pulse.SampleFunc {
	return func(t []float64, duration, amplitude float64) ([]float64, error) {
		out := make([]float64, len(t))
		if duration <= 0 {
			return out, nil
		}
		for i, at := range t {
			out[i] = amplitude * 0.5 * (1 - math.Cos(2*math.Pi*at/duration))
		}
		return out, nil
	}
}
