package ddmpc

import (
	"gonum.org/v1/gonum/mat"
)

// Hankel builds the block-Hankel matrix of the given depth from a sequence
// of d-dimensional samples. Column j stacks samples j..j+depth-1; the result
// has depth*d rows and len(series)-depth+1 columns.
func Hankel(series [][]float64, depth int) *mat.Dense {
	if len(series) == 0 || depth <= 0 || depth > len(series) {
		return nil
	}
	d := len(series[0])
	cols := len(series) - depth + 1

	h := mat.NewDense(depth*d, cols, nil)
	for j := 0; j < cols; j++ {
		for k := 0; k < depth; k++ {
			for i := 0; i < d; i++ {
				h.Set(k*d+i, j, series[j+k][i])
			}
		}
	}
	return h
}

// PersistentlyExciting reports whether the matrix has full row rank, the
// rank condition required for the Hankel data to span the plant behavior.
func PersistentlyExciting(h *mat.Dense, tol float64) bool {
	if h == nil {
		return false
	}
	rows, cols := h.Dims()
	if cols < rows {
		return false
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDNone) {
		return false
	}
	sv := svd.Values(nil)

	if tol <= 0 {
		tol = 1e-10
	}
	rank := 0
	for _, s := range sv {
		if s > tol {
			rank++
		}
	}
	return rank == rows
}
