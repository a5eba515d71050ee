package plotting

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/san-kum/quadgrid/internal/comparison"
)

var axisNames = []string{"x", "y", "z"}

var seriesColors = []color.RGBA{
	{R: 31, G: 119, B: 180, A: 255},
	{R: 255, G: 127, B: 14, A: 255},
	{R: 44, G: 160, B: 44, A: 255},
	{R: 214, G: 39, B: 40, A: 255},
}

// SaveTrajectoryPNG renders one recorded run as two images in dir:
// <name>_position.png with the measured position against the active
// setpoint, and <name>_inputs.png with the applied inputs.
func SaveTrajectoryPNG(dir string, traj *comparison.Trajectory) error {
	if len(traj.Times) == 0 {
		return fmt.Errorf("trajectory %q has no samples", traj.Name)
	}

	pPos := plot.New()
	pPos.Title.Text = fmt.Sprintf("%s position", traj.Name)
	pPos.X.Label.Text = "time [s]"
	pPos.Y.Label.Text = "position [m]"

	for axis := 0; axis < len(traj.Outputs[0]); axis++ {
		pts := make(plotter.XYs, len(traj.Times))
		spPts := make(plotter.XYs, len(traj.Times))
		for i, t := range traj.Times {
			pts[i] = plotter.XY{X: t, Y: traj.Outputs[i][axis]}
			spPts[i] = plotter.XY{X: t, Y: traj.Setpoints[i][axis]}
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = seriesColors[axis%len(seriesColors)]
		line.Width = vg.Points(1)

		spLine, err := plotter.NewLine(spPts)
		if err != nil {
			return err
		}
		spLine.Color = seriesColors[axis%len(seriesColors)]
		spLine.Width = vg.Points(1)
		spLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

		name := "p"
		if axis < len(axisNames) {
			name = axisNames[axis]
		}
		pPos.Add(line, spLine)
		pPos.Legend.Add(name, line)
	}

	posFile := filepath.Join(dir, fmt.Sprintf("%s_position.png", traj.Name))
	if err := pPos.Save(10*vg.Inch, 5*vg.Inch, posFile); err != nil {
		return err
	}

	pIn := plot.New()
	pIn.Title.Text = fmt.Sprintf("%s inputs", traj.Name)
	pIn.X.Label.Text = "time [s]"
	pIn.Y.Label.Text = "input"

	inputNames := []string{"thrust", "wx", "wy", "wz"}
	for dim := 0; dim < len(traj.Inputs[0]); dim++ {
		pts := make(plotter.XYs, len(traj.Times))
		for i, t := range traj.Times {
			pts[i] = plotter.XY{X: t, Y: traj.Inputs[i][dim]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = seriesColors[dim%len(seriesColors)]
		line.Width = vg.Points(1)

		name := fmt.Sprintf("u%d", dim)
		if dim < len(inputNames) {
			name = inputNames[dim]
		}
		pIn.Add(line)
		pIn.Legend.Add(name, line)
	}

	inFile := filepath.Join(dir, fmt.Sprintf("%s_inputs.png", traj.Name))
	return pIn.Save(10*vg.Inch, 5*vg.Inch, inFile)
}

// SaveComparisonPNG overlays the distance-to-setpoint of several runs in a
// single image for side-by-side reading.
func SaveComparisonPNG(dir string, trajs []comparison.Trajectory) error {
	p := plot.New()
	p.Title.Text = "distance to setpoint"
	p.X.Label.Text = "time [s]"
	p.Y.Label.Text = "distance [m]"

	for i, traj := range trajs {
		pts := make(plotter.XYs, len(traj.Times))
		for k, t := range traj.Times {
			pts[k] = plotter.XY{X: t, Y: distance(traj.Outputs[k], traj.Setpoints[k])}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = seriesColors[i%len(seriesColors)]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(traj.Name, line)
	}

	return p.Save(10*vg.Inch, 5*vg.Inch, filepath.Join(dir, "comparison.png"))
}
