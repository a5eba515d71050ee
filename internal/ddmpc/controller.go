package ddmpc

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/quadgrid/internal/sim"
)

var (
	ErrNotPersistentlyExciting = errors.New("input hankel matrix is not persistently exciting")
	ErrNonFinite               = errors.New("non-finite control input")
)

// weight on the input portion of extended outputs, relative to R
const extOutputWeight = 1e-2

// Controller is a receding-horizon data-driven MPC controller. It predicts
// plant behavior directly from Hankel matrices over a stored input-output
// trajectory; no parametric model is identified. Each solve runs two
// equality-constrained QPs: one estimating the best reachable artificial
// equilibrium for the current position target, one planning the input
// sequence toward it. Input bounds are enforced by projection.
type Controller struct {
	ps ParameterSet

	m  int // real input dimensions
	p  int // real output dimensions
	mi int // internal input dimensions (= m)
	pi int // internal output dimensions (= p, or p+m in extended mode)
	K  int // window depth: L + n + 1
	nc int // hankel columns: N - L - n

	data   *Dataset // internal-space trajectory
	hu, hy *mat.Dense

	pastU, pastY [][]float64 // last n internal pairs

	target sim.State // position target y_r
	us     []float64 // internal input equilibrium from the last solve
	ys     []float64 // internal output equilibrium from the last solve

	prevAlpha *mat.VecDense
	alphaRef  *mat.VecDense
	refDirty  bool

	plan        [][]float64 // pending real inputs
	lastApplied []float64   // last real input handed to the plant
	prevRealU   []float64   // previous real input, for increment encoding

	newU, newY [][]float64 // internal pairs awaiting an online data update
	lastCost   float64

	qw, rw, sw []float64 // internal cost weights
}

// NewController builds a controller from a parameter set and a collected
// real-space dataset of m-dimensional inputs and 3-dimensional position
// outputs. It fails if the parameters are inconsistent with the plant
// dimensions or the collected data is not persistently exciting.
func NewController(ps ParameterSet, data *Dataset, target sim.State) (*Controller, error) {
	if data.Len() == 0 {
		return nil, fmt.Errorf("empty dataset")
	}
	m := len(data.U[0])
	p := len(data.Y[0])

	if err := ps.Validate(m, p); err != nil {
		return nil, err
	}
	if data.Len() != ps.N {
		return nil, fmt.Errorf("dataset has %d samples, parameter set expects N=%d", data.Len(), ps.N)
	}

	c := &Controller{
		ps:       ps,
		m:        m,
		p:        p,
		mi:       m,
		pi:       p,
		K:        ps.Horizon + ps.Order + 1,
		nc:       ps.N - ps.Horizon - ps.Order,
		target:   target.Clone(),
		refDirty: true,
	}
	if ps.ExtOutIncrIn {
		c.pi = p + m
	}

	c.buildWeights()
	c.buildInternalData(data)
	if err := c.rebuildHankels(); err != nil {
		return nil, err
	}
	c.seedPastWindow()

	c.prevRealU = append([]float64(nil), data.U[data.Len()-1]...)
	return c, nil
}

func (c *Controller) buildWeights() {
	c.rw = append([]float64(nil), c.ps.R...)

	c.qw = make([]float64, c.pi)
	c.sw = make([]float64, c.pi)
	copy(c.qw, c.ps.Q)
	copy(c.sw, c.ps.S)
	if c.ps.ExtOutIncrIn {
		// extended output carries the input; weight it lightly so the
		// controller discourages chattering without fighting tracking
		for i := 0; i < c.m; i++ {
			c.qw[c.p+i] = extOutputWeight * c.ps.R[i]
		}
		// the S weight on the input portion stays zero: the input
		// equilibrium is free
	}
}

// buildInternalData converts the real dataset into the controller's
// internal representation: identity normally, input increments and
// extended outputs [y; u] in extended mode.
func (c *Controller) buildInternalData(data *Dataset) {
	c.data = NewDataset(c.mi, c.pi, data.Len())

	prev := data.U[0]
	u := make([]float64, c.mi)
	y := make([]float64, c.pi)
	for k := 0; k < data.Len(); k++ {
		if c.ps.ExtOutIncrIn {
			for i := 0; i < c.m; i++ {
				u[i] = data.U[k][i] - prev[i]
			}
			copy(y, data.Y[k])
			copy(y[c.p:], data.U[k])
			prev = data.U[k]
		} else {
			copy(u, data.U[k])
			copy(y, data.Y[k])
		}
		c.data.Append(u, y)
	}
}

func (c *Controller) rebuildHankels() error {
	c.hu = Hankel(c.data.U, c.K)
	c.hy = Hankel(c.data.Y, c.K)
	if !PersistentlyExciting(c.hu, 0) {
		return ErrNotPersistentlyExciting
	}
	return nil
}

func (c *Controller) seedPastWindow() {
	n := c.ps.Order
	c.pastU = make([][]float64, 0, n)
	c.pastY = make([][]float64, 0, n)
	for k := c.data.Len() - n; k < c.data.Len(); k++ {
		c.pastU = append(c.pastU, append([]float64(nil), c.data.U[k]...))
		c.pastY = append(c.pastY, append([]float64(nil), c.data.Y[k]...))
	}
}

// SetTarget points the controller at a new position setpoint. The pending
// plan is discarded; the measurement history is kept for continuity.
func (c *Controller) SetTarget(yr sim.State) {
	c.target = yr.Clone()
	c.plan = nil
	c.refDirty = true
}

func (c *Controller) Target() sim.State { return c.target.Clone() }

// Control consumes the latest position measurement and returns the next
// input to apply. Solves happen lazily: in n-step mode every n calls, in
// 1-step mode every call.
func (c *Controller) Control(y sim.State) (sim.Control, error) {
	if c.lastApplied != nil {
		c.pushMeasurement(c.lastApplied, y)
	}

	if len(c.plan) == 0 {
		c.maybeUpdateData()
		if err := c.solve(); err != nil {
			return nil, err
		}
	}

	u := c.plan[0]
	c.plan = c.plan[1:]

	for _, v := range u {
		if v != v || v > 1e12 || v < -1e12 {
			return nil, ErrNonFinite
		}
	}

	c.lastApplied = u
	return sim.Control(u), nil
}

// pushMeasurement folds the (applied input, resulting output) pair into the
// past window and the pending online-update buffer.
func (c *Controller) pushMeasurement(uReal []float64, y sim.State) {
	ui := make([]float64, c.mi)
	yi := make([]float64, c.pi)
	if c.ps.ExtOutIncrIn {
		for i := 0; i < c.m; i++ {
			ui[i] = uReal[i] - c.prevRealU[i]
		}
		copy(yi, y)
		copy(yi[c.p:], uReal)
	} else {
		copy(ui, uReal)
		copy(yi, y)
	}
	c.prevRealU = append(c.prevRealU[:0], uReal...)

	c.pastU = append(c.pastU[1:], ui)
	c.pastY = append(c.pastY[1:], yi)

	if c.ps.NStep {
		c.newU = append(c.newU, ui)
		c.newY = append(c.newY, yi)
	}
}

// maybeUpdateData shifts freshly measured pairs into the dataset before the
// next solve. Updates are skipped while the achieved cost is under the
// configured threshold, preserving excitation near steady state, and rolled
// back if they would break the rank condition.
func (c *Controller) maybeUpdateData() {
	if !c.ps.NStep || len(c.newU) == 0 {
		return
	}
	gated := c.ps.UpdateCostThreshold > 0 && c.lastCost < c.ps.UpdateCostThreshold
	if !gated {
		for k := range c.newU {
			c.data.Shift(c.newU[k], c.newY[k])
		}
		// excitation may degrade near steady state; keep the hankels
		// consistent with the data either way
		c.hu = Hankel(c.data.U, c.K)
		c.hy = Hankel(c.data.Y, c.K)
	}
	c.newU = c.newU[:0]
	c.newY = c.newY[:0]
}

func (c *Controller) solve() error {
	if err := c.solveEquilibrium(); err != nil {
		return err
	}
	if err := c.updateAlphaRef(); err != nil {
		return err
	}
	return c.solveTracking()
}

// internalTarget is the output target in internal space: the position
// setpoint, extended with zeros (zero S weight) in extended mode.
func (c *Controller) internalTarget() []float64 {
	r := make([]float64, c.pi)
	copy(r, c.target)
	return r
}

// solveEquilibrium finds the reachable artificial equilibrium closest to
// the target: a constant trajectory (u_s, y_s) consistent with the data,
// weighted by S and regularized by the _s lambdas.
func (c *Controller) solveEquilibrium() error {
	offS := c.nc
	offU := c.nc + c.K*c.pi
	offY := offU + c.mi
	nv := offY + c.pi
	ncon := c.K * (c.mi + c.pi)

	A := mat.NewDense(ncon, nv, nil)
	b := mat.NewVecDense(ncon, nil)
	row := 0
	for rb := 0; rb < c.K; rb++ {
		for i := 0; i < c.mi; i++ {
			for j := 0; j < c.nc; j++ {
				A.Set(row, j, c.hu.At(rb*c.mi+i, j))
			}
			A.Set(row, offU+i, -1)
			row++
		}
	}
	for rb := 0; rb < c.K; rb++ {
		for i := 0; i < c.pi; i++ {
			for j := 0; j < c.nc; j++ {
				A.Set(row, j, c.hy.At(rb*c.pi+i, j))
			}
			A.Set(row, offS+rb*c.pi+i, -1)
			A.Set(row, offY+i, -1)
			row++
		}
	}

	H := mat.NewDense(nv, nv, nil)
	g := mat.NewVecDense(nv, nil)
	for j := 0; j < c.nc; j++ {
		H.Set(j, j, c.ps.LambdaAlphaS)
	}
	for j := 0; j < c.K*c.pi; j++ {
		H.Set(offS+j, offS+j, c.ps.LambdaSigmaS)
	}
	rTarget := c.internalTarget()
	for i := 0; i < c.pi; i++ {
		H.Set(offY+i, offY+i, H.At(offY+i, offY+i)+c.sw[i])
		g.SetVec(offY+i, g.AtVec(offY+i)-c.sw[i]*rTarget[i])
	}

	x, err := solveEqQP(H, g, A, b)
	if err != nil {
		return fmt.Errorf("equilibrium: %w", err)
	}

	c.us = make([]float64, c.mi)
	c.ys = make([]float64, c.pi)
	for i := 0; i < c.mi; i++ {
		c.us[i] = x.AtVec(offU + i)
	}
	for i := 0; i < c.pi; i++ {
		c.ys[i] = x.AtVec(offY + i)
	}

	// project the input equilibrium onto Us; in extended mode the real
	// input equilibrium lives in the output extension
	if c.ps.ExtOutIncrIn {
		c.ps.ClampUs(c.ys[c.p:])
	} else {
		c.ps.ClampUs(c.us)
	}
	return nil
}

func (c *Controller) updateAlphaRef() error {
	switch c.ps.AlphaRegMode {
	case AlphaRegZero:
		c.alphaRef = nil
	case AlphaRegPrevious:
		c.alphaRef = c.prevAlpha
	case AlphaRegApproximated:
		if !c.refDirty && c.alphaRef != nil {
			return nil
		}
		full := mat.NewDense(c.K*(c.mi+c.pi), c.nc, nil)
		for i := 0; i < c.K*c.mi; i++ {
			for j := 0; j < c.nc; j++ {
				full.Set(i, j, c.hu.At(i, j))
			}
		}
		for i := 0; i < c.K*c.pi; i++ {
			for j := 0; j < c.nc; j++ {
				full.Set(c.K*c.mi+i, j, c.hy.At(i, j))
			}
		}
		rhs := mat.NewVecDense(c.K*(c.mi+c.pi), nil)
		for rb := 0; rb < c.K; rb++ {
			for i := 0; i < c.mi; i++ {
				rhs.SetVec(rb*c.mi+i, c.us[i])
			}
			for i := 0; i < c.pi; i++ {
				rhs.SetVec(c.K*c.mi+rb*c.pi+i, c.ys[i])
			}
		}
		var a mat.VecDense
		if err := a.SolveVec(full, rhs); err != nil {
			// the stacked hankel is rank deficient by construction,
			// the least-squares solution is still what we want
			if _, ok := err.(mat.Condition); !ok {
				return fmt.Errorf("alpha approximation: %w", err)
			}
		}
		c.alphaRef = &a
		c.refDirty = false
	}
	return nil
}

// solveTracking plans the input sequence toward the artificial equilibrium.
// Decision variables: alpha and the slack sigma; the predicted trajectory
// is H*alpha. Constraints pin the first n steps to the measured past and
// the final n+1 steps to the equilibrium.
func (c *Controller) solveTracking() error {
	n := c.ps.Order
	L := c.ps.Horizon
	offS := c.nc
	nv := c.nc + c.K*c.pi

	ncon := n*c.mi + n*c.pi + (n+1)*c.mi + (n+1)*c.pi
	A := mat.NewDense(ncon, nv, nil)
	b := mat.NewVecDense(ncon, nil)

	row := 0
	for rb := 0; rb < n; rb++ {
		for i := 0; i < c.mi; i++ {
			for j := 0; j < c.nc; j++ {
				A.Set(row, j, c.hu.At(rb*c.mi+i, j))
			}
			b.SetVec(row, c.pastU[rb][i])
			row++
		}
	}
	for rb := 0; rb < n; rb++ {
		for i := 0; i < c.pi; i++ {
			for j := 0; j < c.nc; j++ {
				A.Set(row, j, c.hy.At(rb*c.pi+i, j))
			}
			A.Set(row, offS+rb*c.pi+i, -1)
			b.SetVec(row, c.pastY[rb][i])
			row++
		}
	}
	for rb := c.K - n - 1; rb < c.K; rb++ {
		for i := 0; i < c.mi; i++ {
			for j := 0; j < c.nc; j++ {
				A.Set(row, j, c.hu.At(rb*c.mi+i, j))
			}
			b.SetVec(row, c.us[i])
			row++
		}
	}
	for rb := c.K - n - 1; rb < c.K; rb++ {
		for i := 0; i < c.pi; i++ {
			for j := 0; j < c.nc; j++ {
				A.Set(row, j, c.hy.At(rb*c.pi+i, j))
			}
			A.Set(row, offS+rb*c.pi+i, -1)
			b.SetVec(row, c.ys[i])
			row++
		}
	}

	// cost: track the equilibrium over the predicted steps, plus the
	// alpha and sigma regularizers
	H := mat.NewDense(nv, nv, nil)
	g := mat.NewVecDense(nv, nil)

	nRows := L * (c.mi + c.pi)
	J := mat.NewDense(nRows, nv, nil)
	w := make([]float64, nRows)
	r := make([]float64, nRows)
	jr := 0
	for s := 0; s < L; s++ {
		rb := n + s
		for i := 0; i < c.mi; i++ {
			for j := 0; j < c.nc; j++ {
				J.Set(jr, j, c.hu.At(rb*c.mi+i, j))
			}
			w[jr] = c.rw[i]
			r[jr] = c.us[i]
			jr++
		}
		for i := 0; i < c.pi; i++ {
			for j := 0; j < c.nc; j++ {
				J.Set(jr, j, c.hy.At(rb*c.pi+i, j))
			}
			J.Set(jr, offS+rb*c.pi+i, -1)
			w[jr] = c.qw[i]
			r[jr] = c.ys[i]
			jr++
		}
	}
	addQuadTerm(H, g, J, w, r)

	for j := 0; j < c.nc; j++ {
		H.Set(j, j, H.At(j, j)+c.ps.LambdaAlpha)
		if c.alphaRef != nil && j < c.alphaRef.Len() {
			g.SetVec(j, g.AtVec(j)-c.ps.LambdaAlpha*c.alphaRef.AtVec(j))
		}
	}
	for j := 0; j < c.K*c.pi; j++ {
		H.Set(offS+j, offS+j, H.At(offS+j, offS+j)+c.ps.LambdaSigma)
	}

	x, err := solveEqQP(H, g, A, b)
	if err != nil {
		return fmt.Errorf("tracking: %w", err)
	}

	alpha := mat.NewVecDense(c.nc, nil)
	for j := 0; j < c.nc; j++ {
		alpha.SetVec(j, x.AtVec(j))
	}
	c.prevAlpha = alpha

	var ubar mat.VecDense
	ubar.MulVec(c.hu, alpha)

	steps := 1
	if c.ps.NStep {
		steps = n
	}
	c.plan = c.plan[:0]
	prev := append([]float64(nil), c.prevRealU...)
	for s := 0; s < steps; s++ {
		u := make([]float64, c.m)
		for i := 0; i < c.mi; i++ {
			u[i] = ubar.AtVec((n+s)*c.mi + i)
		}
		if c.ps.ExtOutIncrIn {
			for i := 0; i < c.m; i++ {
				u[i] += prev[i]
			}
		}
		c.ps.ClampU(u)
		prev = u
		c.plan = append(c.plan, u)
	}

	c.lastCost = c.trackingCost(alpha, x, offS)
	return nil
}

// trackingCost evaluates the achieved stage cost of the planned trajectory,
// used to gate online data updates.
func (c *Controller) trackingCost(alpha *mat.VecDense, x *mat.VecDense, offS int) float64 {
	n := c.ps.Order
	var ubar, ybar mat.VecDense
	ubar.MulVec(c.hu, alpha)
	ybar.MulVec(c.hy, alpha)

	cost := 0.0
	for s := 0; s < c.ps.Horizon; s++ {
		rb := n + s
		for i := 0; i < c.mi; i++ {
			d := ubar.AtVec(rb*c.mi+i) - c.us[i]
			cost += c.rw[i] * d * d
		}
		for i := 0; i < c.pi; i++ {
			d := ybar.AtVec(rb*c.pi+i) - x.AtVec(offS+rb*c.pi+i) - c.ys[i]
			cost += c.qw[i] * d * d
		}
	}
	return cost
}
