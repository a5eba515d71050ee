package plotting

import (
	"fmt"
	"math"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/quadgrid/internal/comparison"
)

func distance(y, sp []float64) float64 {
	d := 0.0
	for i := range sp {
		if i >= len(y) {
			break
		}
		e := y[i] - sp[i]
		d += e * e
	}
	return math.Sqrt(d)
}

// Terminal renders a compact ascii summary of a run: the distance to the
// active setpoint over time plus the headline numbers.
func Terminal(traj *comparison.Trajectory, width int) string {
	if len(traj.Times) == 0 {
		return fmt.Sprintf("%s: no samples\n", traj.Name)
	}
	if width <= 0 {
		width = 60
	}

	dist := make([]float64, len(traj.Times))
	for i := range traj.Times {
		dist[i] = distance(traj.Outputs[i], traj.Setpoints[i])
	}

	var b strings.Builder
	chart := asciigraph.Plot(dist,
		asciigraph.Height(8),
		asciigraph.Width(width),
		asciigraph.Caption(fmt.Sprintf("%s: distance to setpoint [m]", traj.Name)))
	b.WriteString(chart)
	b.WriteString("\n")
	fmt.Fprintf(&b, "setpoints reached: %d  tracking error: %.4f  control effort: %.4f\n",
		traj.SetpointsReached, traj.TrackingError, traj.ControlEffort)
	if traj.Crashed {
		b.WriteString("run ended in a crash\n")
	}
	if traj.Err != nil {
		fmt.Fprintf(&b, "run ended with error: %v\n", traj.Err)
	}
	return b.String()
}
