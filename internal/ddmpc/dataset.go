package ddmpc

import (
	"fmt"
	"math/rand"

	"github.com/san-kum/quadgrid/internal/env"
	"github.com/san-kum/quadgrid/internal/sim"
)

// Dataset is an input-output trajectory of fixed length used to parameterize
// the controller. Shift recycles vectors through pools so the online data
// updates in n-step mode stay allocation free.
type Dataset struct {
	U [][]float64
	Y [][]float64

	uPool *sim.StatePool
	yPool *sim.StatePool
}

func NewDataset(m, p, n int) *Dataset {
	return &Dataset{
		U:     make([][]float64, 0, n),
		Y:     make([][]float64, 0, n),
		uPool: sim.NewStatePool(m),
		yPool: sim.NewStatePool(p),
	}
}

func (d *Dataset) Len() int { return len(d.U) }

func (d *Dataset) Append(u, y []float64) {
	d.U = append(d.U, d.uPool.GetAndCopy(u))
	d.Y = append(d.Y, d.yPool.GetAndCopy(y))
}

// Shift drops the oldest sample and appends a new one, keeping Len constant.
func (d *Dataset) Shift(u, y []float64) {
	d.uPool.Put(d.U[0])
	d.yPool.Put(d.Y[0])
	copy(d.U, d.U[1:])
	copy(d.Y, d.Y[1:])
	d.U[len(d.U)-1] = d.uPool.GetAndCopy(u)
	d.Y[len(d.Y)-1] = d.yPool.GetAndCopy(y)
}

// Collect gathers an initial input-output dataset of ps.N samples by
// perturbing the stabilizing controller's output with samples drawn
// uniformly from the persistently exciting range while the drone holds its
// hover target.
func Collect(e *env.Env, tracking interface {
	Compute(y sim.State, t float64) sim.Control
}, ps ParameterSet, rng *rand.Rand) (*Dataset, error) {
	m := e.NumActions()
	data := NewDataset(m, 3, ps.N)

	y := e.Position(true)
	for k := 0; k < ps.N; k++ {
		u := tracking.Compute(y, e.Time())
		for i := 0; i < m; i++ {
			span := ps.URangeMax[i] - ps.URangeMin[i]
			u[i] += ps.URangeMin[i] + rng.Float64()*span
		}
		ps.ClampU(u)

		y = e.Step(u)
		if e.Crashed() {
			return nil, fmt.Errorf("drone crashed during data collection at sample %d", k)
		}
		data.Append(u, y)
	}
	return data, nil
}
