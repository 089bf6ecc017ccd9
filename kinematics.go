package planararm

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// The arm lives in the xy-plane, so Cartesian positions are r3 vectors
// with z fixed at 0 for the supported arities.

// Kinematics errors. Joint references are never mutated when one of these
// is returned.
var (
	errUnreachable     = errors.New("desired target position is not achievable by this robot")
	errUnachievable    = errors.New("actual position should not be achievable by this robot")
	errUnsupportedArms = errors.New("unable to solve kinematics for more than 2 joints")
)

// pointsWithinTolerance reports whether two points are physically
// indistinguishable: strictly less than tol apart on every axis.
func pointsWithinTolerance(a, b r3.Vector, tol float64) bool {
	return math.Abs(a.X-b.X) < tol &&
		math.Abs(a.Y-b.Y) < tol &&
		math.Abs(a.Z-b.Z) < tol
}

// forwardKinematics maps joint angles in radians to the tool-point
// position for 1 and 2 link planar arms.
func forwardKinematics(theta, lengths []float64) (r3.Vector, error) {
	if len(theta) != len(lengths) {
		return r3.Vector{}, errors.Errorf("got %d angles for %d links", len(theta), len(lengths))
	}

	var pos r3.Vector
	switch len(theta) {
	case 1:
		pos.X = lengths[0] * math.Cos(theta[0])
		pos.Y = lengths[0] * math.Sin(theta[0])
	case 2:
		pos.X = lengths[0]*math.Cos(theta[0]) + lengths[1]*math.Cos(theta[0]+theta[1])
		pos.Y = lengths[0]*math.Sin(theta[0]) + lengths[1]*math.Sin(theta[0]+theta[1])
	default:
		return r3.Vector{}, errUnsupportedArms
	}

	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) {
		return r3.Vector{}, errUnachievable
	}
	return pos, nil
}

// inverseKinematics maps a tool-point position to joint angles in radians.
// The 2-link solution takes the elbow-down branch. An out-of-reach target
// returns errUnreachable and no angles.
func inverseKinematics(pos r3.Vector, lengths []float64) ([]float64, error) {
	theta := make([]float64, len(lengths))

	switch len(lengths) {
	case 1:
		theta[0] = math.Atan2(pos.Y, pos.X)
	case 2:
		l1, l2 := lengths[0], lengths[1]
		d := (pos.X*pos.X + pos.Y*pos.Y - l1*l1 - l2*l2) / (2 * l1 * l2)
		if math.Abs(d) > 1 {
			return nil, errUnreachable
		}
		theta[1] = math.Atan2(math.Sqrt(1-d*d), d)
		theta[0] = math.Atan2(pos.Y, pos.X) - math.Atan2(l2*math.Sin(theta[1]), l1+l2*math.Cos(theta[1]))
	default:
		return nil, errUnsupportedArms
	}

	for _, t := range theta {
		if math.IsNaN(t) {
			return nil, errUnreachable
		}
	}
	return theta, nil
}
