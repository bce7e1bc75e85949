package pose

import (
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/optimize"

	"markertracker/camera"
	"markertracker/labeling"
)

// per-cycle work budget for the refinement search
const refineMaxEvaluations = 2000

// refine polishes a pose by Nelder-Mead over quaternion + translation,
// minimizing squared reprojection error. Keeps the input pose when the search
// fails to improve on it.
func refine(tr Transform, obj [4]r3.Vector, img [4]labeling.Point, cam *camera.Parameters) Transform {
	q := tr.Quaternion()
	x0 := []float64{
		q.Real, q.Imag, q.Jmag, q.Kmag,
		tr.T.X, tr.T.Y, tr.T.Z,
	}

	objective := func(params []float64) float64 {
		cand, ok := transformFromParams(params)
		if !ok {
			return math.Inf(1)
		}
		e := ReprojectionError(cand, obj, img, cam)
		return e * e
	}

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		FuncEvaluations: refineMaxEvaluations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Relative:   1e-10,
			Iterations: 50,
		},
	}

	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return tr
	}
	refined, ok := transformFromParams(result.X)
	if !ok {
		return tr
	}
	if ReprojectionError(refined, obj, img, cam) >= ReprojectionError(tr, obj, img, cam) {
		return tr
	}
	return refined
}

func transformFromParams(params []float64) (Transform, bool) {
	qw, qx, qy, qz := params[0], params[1], params[2], params[3]
	n := math.Sqrt(qw*qw + qx*qx + qy*qy + qz*qz)
	if n < 1e-9 || math.IsNaN(n) {
		return Transform{}, false
	}
	tr := FromQuaternion(
		spatialmath.Quaternion{Real: qw / n, Imag: qx / n, Jmag: qy / n, Kmag: qz / n},
		r3.Vector{X: params[4], Y: params[5], Z: params[6]})
	return tr, true
}
