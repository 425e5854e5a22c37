package predictor

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

const epsilon = 2.220446049250313e-16

// fitWeights returns the minimum-norm least-squares solution w of a·w ≈ t.
// a is n×k with one row per training map and one column per metric. The
// system may be underdetermined, for example with a single training map.
func fitWeights(a *mat.Dense, t []float64) ([]float64, error) {
	rows, cols := a.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, errors.New("singular value decomposition did not converge")
	}

	// singular values below this fraction of the largest are treated as zero
	rcond := epsilon * float64(max(rows, cols))
	rank := svd.Rank(rcond)
	if rank == 0 {
		return nil, ErrDegenerateFit
	}

	var w mat.VecDense
	svd.SolveVecTo(&w, mat.NewVecDense(rows, t), rank)

	weights := make([]float64, cols)
	for i := range weights {
		weights[i] = w.AtVec(i)
	}
	return weights, nil
}
