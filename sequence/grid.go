package sequence

import "math"

// Grid rounds times onto the instruction grid of the target instrument.
// Resolution is in ns; 1 for a free-running AWG, 4 for Qblox-style
// sequencers. All components of the aggregator round through the same Grid
// so boundaries stay consistent.
type Grid struct {
	Resolution float64
}

func (g Grid) resolution() float64 {
	if g.Resolution <= 0 {
		return 1
	}
	return g.Resolution
}

// Floor rounds down to the grid.
func (g Grid) Floor(t float64) float64 {
	res := g.resolution()
	return math.Floor(t/res) * res
}

// Ceil rounds up to the grid.
func (g Grid) Ceil(t float64) float64 {
	res := g.resolution()
	return math.Ceil(t/res) * res
}

// Round rounds half-up to the grid. Used for sample points.
func (g Grid) Round(t float64) float64 {
	res := g.resolution()
	return math.Floor(t/res+0.5) * res
}

// Align rounds channel offsets up to the grid.
func (g Grid) Align(t float64) float64 {
	return g.Ceil(t)
}
