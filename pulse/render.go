package pulse

import (
	"math"
)

// iround rounds to the nearest integer with ties away from negative
// infinity, matching the breakpoint placement of the instrument grids.
func iround(v float64) int {
	return int(math.Floor(v + 0.5))
}

func renderCustom(c CustomPulse, sampleRate float64) ([]float64, error) {
	duration := c.Stop - c.Start
	tSample := 1e9 / sampleRate
	n := int(math.Ceil((duration - tSample*1e-6) / tSample))
	if n < 0 {
		n = 0
	}
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i) * tSample
	}
	data, err := c.Samples(times, duration, c.Amplitude)
	if err != nil {
		return nil, err
	}
	scaling := c.Scaling
	if scaling == 0 {
		scaling = 1
	}
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = v * scaling
	}
	return out, nil
}

// Render materializes the pulse's samples at sampleRate Sa/s, scaling
// applied.
func (c CustomPulse) Render(sampleRate float64) ([]float64, error) {
	return renderCustom(c, sampleRate)
}

func renderCustomAt(c CustomPulse, times []float64) ([]float64, error) {
	duration := c.Stop - c.Start
	data, err := c.Samples(times, duration, c.Amplitude)
	if err != nil {
		return nil, err
	}
	scaling := c.Scaling
	if scaling == 0 {
		scaling = 1
	}
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = v * scaling
	}
	return out, nil
}

// Render produces the dense waveform at sampleRate Sa/s. ref carries the
// coherent phase state of the reference channels at the segment start; lo is
// the local oscillator frequency subtracted from coherent bursts and chirps,
// 0 when rendering baseband output.
func (t *Timeline) Render(sampleRate float64, ref *RefState, lo float64) ([]float64, error) {
	t.preprocess(sampleRate)

	// samples per ns
	sr := sampleRate * 1e-9

	total := t.endTime
	nTotal := iround(total*sr) + 1
	wvf := make([]float64, nTotal)

	tPt := make([]int, len(t.times))
	for i, at := range t.times {
		tPt[i] = iround(at * sr)
	}

	for i := 0; i < len(tPt)-1; i++ {
		pt0, pt1 := tPt[i], tPt[i+1]
		if pt0 == pt1 {
			continue
		}
		if pt1 > nTotal {
			pt1 = nTotal
		}
		if t.ramps[i] != 0 {
			step := (t.amplitudesEnd[i] - t.amplitudes[i]) / float64(tPt[i+1]-pt0)
			for j := pt0; j < pt1; j++ {
				wvf[j] = t.amplitudes[i] + step*float64(j-pt0)
			}
		} else {
			for j := pt0; j < pt1; j++ {
				wvf[j] = t.amplitudes[i]
			}
		}
	}

	if t.hres {
		for i, pt0 := range tPt {
			if pt0 < nTotal {
				wvf[pt0] += t.corrections[i]
			}
		}
	}

	shiftsPerChannel := map[string][]PhaseShift{}
	for _, ps := range t.phaseShifts {
		shiftsPerChannel[ps.Channel] = append(shiftsPerChannel[ps.Channel], ps)
	}

	for _, m := range t.bursts {
		if err := t.renderBurst(wvf, m, sr, shiftsPerChannel, ref, lo); err != nil {
			return nil, err
		}
	}

	for _, c := range t.customs {
		if err := t.renderCustomPulse(wvf, c, sr); err != nil {
			return nil, err
		}
	}

	for _, c := range t.chirps {
		if err := renderChirp(wvf, c, sr, lo); err != nil {
			return nil, err
		}
	}

	// the final sample sits on the open boundary and is dropped
	return wvf[:nTotal-1], nil
}

func (t *Timeline) renderBurst(wvf []float64, m Microwave, sr float64,
	shifts map[string][]PhaseShift, ref *RefState, lo float64) error {

	amp := m.Amplitude
	freq := m.Frequency
	phase := m.PhaseOffset
	// angular frequency in rad/sample
	w := 2 * math.Pi * freq * 1e-9 / sr

	if !m.Coherent {
		if !t.hres {
			var ampEnv, phaseEnv []float64
			if m.Envelope != nil {
				ampEnv = m.Envelope.AmplitudeEnvelope(m.Stop-m.Start, sr)
				phaseEnv = m.Envelope.PhaseEnvelope(m.Stop-m.Start, sr)
			}
			nPt := int(float64(iround(m.Stop)-iround(m.Start)) * sr)
			if ampEnv != nil {
				nPt = len(ampEnv)
			}
			startPt := int(math.Floor(m.Start*sr + 0.5))
			tOffset := float64(startPt) - m.Start*sr
			for j := 0; j < nPt; j++ {
				if startPt+j < 0 || startPt+j >= len(wvf) {
					continue
				}
				sample := float64(j) + tOffset
				a, p := amp, phase
				if ampEnv != nil {
					a *= ampEnv[j]
				}
				if phaseEnv != nil {
					p += phaseEnv[j]
				}
				wvf[startPt+j] += a * math.Sin(w*sample+p)
			}
			return nil
		}

		if m.Envelope != nil {
			return ErrUnsupported("shaped sine with high-resolution timing", m.RefChannel)
		}
		// A sine split at an arbitrary time must render identically to the
		// unsplit sine. The first and last sample are weighted with the
		// fraction of the sample period covered by the pulse.
		startPt := int(math.Floor(m.Start*sr + 1e-5))
		stopPt := int(math.Ceil(m.Stop*sr - 1e-5))
		nPt := stopPt - startPt
		tOffset := float64(startPt) - m.Start*sr
		fracStart := float64(startPt) + 1 - m.Start*sr
		fracStop := 1 - float64(stopPt) + m.Stop*sr
		for j := 0; j < nPt; j++ {
			if startPt+j < 0 || startPt+j >= len(wvf) {
				continue
			}
			sample := amp * math.Sin(w*(float64(j)+tOffset)+phase)
			if j == 0 {
				sample *= fracStart
			}
			if j == nPt-1 {
				sample *= fracStop
			}
			wvf[startPt+j] += sample
		}
		return nil
	}

	if lo != 0 {
		freq -= lo
		w = 2 * math.Pi * freq * 1e-9 / sr
	}
	if math.Abs(freq) > sr*1e9/2 {
		return newTimingError("frequency %.1f MHz is above Nyquist frequency (%.1f MHz)",
			freq*1e-6, sr*1e3/2)
	}

	refStartTime := 0.0
	refStartPhase := 0.0
	if ref != nil {
		if p, ok := ref.StartPhase[m.RefChannel]; ok {
			refStartTime = ref.StartTime
			refStartPhase = p
		}
	}

	phaseShift := 0.0
	for _, ps := range shifts[m.RefChannel] {
		if ps.Time <= m.Start {
			phaseShift += ps.Shift
		}
	}

	var ampEnv, phaseEnv []float64
	if m.Envelope != nil {
		ampEnv = m.Envelope.AmplitudeEnvelope(m.Stop-m.Start, sr)
		phaseEnv = m.Envelope.PhaseEnvelope(m.Stop-m.Start, sr)
	}
	nPt := int(math.Floor((m.Stop-m.Start)*sr + 0.5))
	if ampEnv != nil {
		nPt = len(ampEnv)
	}
	startPt := iround(m.Start * sr)

	basePhase := phaseShift + phase + refStartPhase
	for j := 0; j < nPt; j++ {
		if startPt+j < 0 || startPt+j >= len(wvf) {
			continue
		}
		sample := float64(startPt+j) + refStartTime*sr
		a, p := amp, basePhase
		if ampEnv != nil {
			a *= ampEnv[j]
		}
		if phaseEnv != nil {
			p += phaseEnv[j]
		}
		wvf[startPt+j] += a * math.Sin(w*sample+p)
	}
	return nil
}

func (t *Timeline) renderCustomPulse(wvf []float64, c CustomPulse, sr float64) error {
	if !t.hres {
		data, err := renderCustom(c, sr*1e9)
		if err != nil {
			return err
		}
		startPt := iround(c.Start * sr)
		for j, v := range data {
			if startPt+j < 0 || startPt+j >= len(wvf) {
				continue
			}
			wvf[startPt+j] += v
		}
		return nil
	}

	startPt := int(math.Floor(c.Start*sr + 1e-5))
	stopPt := int(math.Ceil(c.Stop*sr - 1e-5))
	nPt := stopPt - startPt
	tOffset := float64(startPt) - c.Start*sr
	times := make([]float64, nPt)
	for j := range times {
		times[j] = (tOffset + float64(j)) / sr
	}
	data, err := renderCustomAt(c, times)
	if err != nil {
		return err
	}
	fracStart := float64(startPt) + 1 - c.Start*sr
	fracStop := 1 - float64(stopPt) + c.Stop*sr
	if len(data) > 0 {
		data[0] *= fracStart
		data[len(data)-1] *= fracStop
	}
	for j, v := range data {
		if startPt+j < 0 || startPt+j >= len(wvf) {
			continue
		}
		wvf[startPt+j] += v
	}
	return nil
}

func renderChirp(wvf []float64, c Chirp, sr float64, lo float64) error {
	freq := c.StartFrequency
	if lo != 0 {
		freq -= lo
	}
	if math.Abs(freq) > sr*1e9/2 {
		return newTimingError("frequency %.1f MHz is above Nyquist frequency (%.1f MHz)",
			freq*1e-6, sr*1e3/2)
	}

	nPt := iround((c.Stop - c.Start) * sr)
	startPt := iround(c.Start * sr)
	w := 2 * math.Pi * freq * 1e-9 / sr
	for j := 0; j < nPt; j++ {
		if startPt+j < 0 || startPt+j >= len(wvf) {
			continue
		}
		// quadratic phase from the linear frequency sweep, linear phase
		// from the start frequency on the global sample clock
		tau := float64(j) / sr
		phase := c.Phase + c.PhaseModulation(tau)
		wvf[startPt+j] += c.Amplitude * math.Sin(w*float64(startPt+j)+phase)
	}
	return nil
}
