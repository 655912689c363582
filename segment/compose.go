package segment

import (
	"github.com/timzifer/pulsec/pulse"
)

type visitState int

const (
	unvisited visitState = iota
	visiting
	visited
)

// Composed returns the channel's timeline with all references applied:
// the channel's own events plus each virtual reference scaled by its weight
// and each IQ reference transformed by gain, frequency shift and phase
// shift. The result is memoized until the channel or one of its sources is
// mutated.
func (c *Channel) Composed() (*pulse.Timeline, error) {
	if err := detectCycle(c, map[*Channel]visitState{}); err != nil {
		return nil, err
	}
	return c.composeLocked()
}

func (c *Channel) composeLocked() (*pulse.Timeline, error) {
	rev := c.deepRevision()
	if c.composedValid && c.composedRev == rev {
		return c.composed, nil
	}

	composed := c.data.Copy()
	for _, ref := range c.virtualRefs {
		source, err := ref.Source.composeLocked()
		if err != nil {
			return nil, err
		}
		composed = composed.Merge(source.Scale(ref.Weight))
	}
	for _, ref := range c.iqRefs {
		source, err := ref.Source.composeLocked()
		if err != nil {
			return nil, err
		}
		composed = composed.Merge(source.IQTransform(ref.Gain, ref.FrequencyShift, ref.PhaseShift))
	}

	c.composed = composed
	c.composedID = pulse.NextTimelineID()
	c.composedRev = rev
	c.composedValid = true
	return composed, nil
}

// ComposedID returns a cache identity for the memoized composed timeline.
// It changes whenever the composition is invalidated and rebuilt.
func (c *Channel) ComposedID() (uint64, error) {
	if _, err := c.Composed(); err != nil {
		return 0, err
	}
	return c.composedID, nil
}

// ComposedWindows returns the marker windows of a marker channel including
// the windows derived from its IQ sources: one window per burst or chirp on
// the source.
func (c *Channel) ComposedWindows() ([]Window, error) {
	if err := detectCycle(c, map[*Channel]visitState{}); err != nil {
		return nil, err
	}
	rev := c.deepRevision()
	if c.composedWindows != nil && c.windowsRev == rev {
		return c.composedWindows, nil
	}

	windows := append([]Window{}, c.windows...)
	for _, source := range c.markerSources {
		composed, err := source.composeLocked()
		if err != nil {
			return nil, err
		}
		for _, burst := range composed.Bursts() {
			windows = append(windows, Window{Start: burst.Start, Stop: burst.Stop})
		}
		for _, chirp := range composed.Chirps() {
			windows = append(windows, Window{Start: chirp.Start, Stop: chirp.Stop})
		}
	}
	c.composedWindows = windows
	c.windowsRev = rev
	return windows, nil
}

func detectCycle(c *Channel, state map[*Channel]visitState) error {
	switch state[c] {
	case visiting:
		return pulse.ErrConfiguration("channel %q is part of a reference cycle", c.name)
	case visited:
		return nil
	}
	state[c] = visiting
	for _, ref := range c.virtualRefs {
		if err := detectCycle(ref.Source, state); err != nil {
			return err
		}
	}
	for _, ref := range c.iqRefs {
		if err := detectCycle(ref.Source, state); err != nil {
			return err
		}
	}
	for _, source := range c.markerSources {
		if err := detectCycle(source, state); err != nil {
			return err
		}
	}
	state[c] = visited
	return nil
}
