package sequence

import (
	"sort"

	"github.com/timzifer/pulsec/segment"
)

// MarkerEvent is one state change on a marker sequencer: at Time the output
// bits become Value.
type MarkerEvent struct {
	Time  float64
	Value int
}

type markerEdge struct {
	time  float64
	delta int
}

// mergeWindows folds overlapping and touching windows into one and removes
// off-gaps shorter than minOff ns. Windows may be unsorted.
func mergeWindows(windows []segment.Window, minOff float64) []segment.Window {
	if len(windows) == 0 {
		return nil
	}
	edges := make([]markerEdge, 0, 2*len(windows))
	for _, w := range windows {
		if w.Stop <= w.Start {
			continue
		}
		edges = append(edges, markerEdge{time: w.Start, delta: 1})
		edges = append(edges, markerEdge{time: w.Stop, delta: -1})
	}
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].time != edges[j].time {
			return edges[i].time < edges[j].time
		}
		// rising edges first so touching windows fuse
		return edges[i].delta > edges[j].delta
	})

	var merged []segment.Window
	count := 0
	var openAt float64
	for _, edge := range edges {
		if count == 0 && edge.delta > 0 {
			openAt = edge.time
		}
		count += edge.delta
		if count == 0 {
			merged = append(merged, segment.Window{Start: openAt, Stop: edge.time})
		}
	}

	if minOff <= 0 || len(merged) < 2 {
		return merged
	}
	out := merged[:1]
	for _, w := range merged[1:] {
		last := &out[len(out)-1]
		if w.Start-last.Stop < minOff {
			last.Stop = w.Stop
		} else {
			out = append(out, w)
		}
	}
	return out
}

// combineMarkers merges the windows of several marker channels sharing one
// sequencer into a single event list. Each channel contributes its bit value
// while one of its windows is active; events carry the summed value of all
// active bits.
func combineMarkers(windowsPerBit map[int][]segment.Window) []MarkerEvent {
	var edges []markerEdge
	for bit, windows := range windowsPerBit {
		for _, w := range windows {
			edges = append(edges, markerEdge{time: w.Start, delta: bit})
			edges = append(edges, markerEdge{time: w.Stop, delta: -bit})
		}
	}
	if len(edges) == 0 {
		return nil
	}
	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].time < edges[j].time
	})

	var events []MarkerEvent
	value := 0
	for i, edge := range edges {
		value += edge.delta
		if i+1 < len(edges) && edges[i+1].time == edge.time {
			continue
		}
		if len(events) > 0 && events[len(events)-1].Value == value {
			continue
		}
		events = append(events, MarkerEvent{Time: edge.time, Value: value})
	}
	return events
}
