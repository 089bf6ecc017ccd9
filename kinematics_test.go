package planararm

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestPointTolerance(t *testing.T) {
	a := r3.Vector{X: 0.0200, Y: 0.0100}

	// 3e-4 apart on x: physically indistinguishable.
	test.That(t, pointsWithinTolerance(a, r3.Vector{X: 0.0203, Y: 0.0100}, defaultToleranceM), test.ShouldBeTrue)

	// 7e-4 apart: distinct.
	test.That(t, pointsWithinTolerance(a, r3.Vector{X: 0.0207, Y: 0.0100}, defaultToleranceM), test.ShouldBeFalse)

	// The boundary is exclusive: exactly tol apart is not equal.
	// The offset starts from x=0 so the float64 difference is exactly tol.
	test.That(t, pointsWithinTolerance(r3.Vector{Y: 0.0100}, r3.Vector{X: defaultToleranceM, Y: 0.0100}, defaultToleranceM), test.ShouldBeFalse)

	// Every axis counts, including z.
	test.That(t, pointsWithinTolerance(a, r3.Vector{X: 0.0200, Y: 0.0100, Z: 0.001}, defaultToleranceM), test.ShouldBeFalse)
}

func TestForwardKinematics(t *testing.T) {
	t.Run("one link", func(t *testing.T) {
		pos, err := forwardKinematics([]float64{math.Pi / 2}, []float64{0.015})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pos.X, test.ShouldAlmostEqual, 0, 1e-12)
		test.That(t, pos.Y, test.ShouldAlmostEqual, 0.015, 1e-12)
		test.That(t, pos.Z, test.ShouldEqual, 0.0)
	})

	t.Run("two links straight out", func(t *testing.T) {
		pos, err := forwardKinematics([]float64{0, 0}, []float64{0.015, 0.015})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pos.X, test.ShouldAlmostEqual, 0.03, 1e-12)
		test.That(t, pos.Y, test.ShouldAlmostEqual, 0, 1e-12)
	})

	t.Run("three links unsupported", func(t *testing.T) {
		_, err := forwardKinematics([]float64{0, 0, 0}, []float64{1, 1, 1})
		test.That(t, errors.Is(err, errUnsupportedArms), test.ShouldBeTrue)
	})

	t.Run("angle and link count must match", func(t *testing.T) {
		_, err := forwardKinematics([]float64{0}, []float64{1, 1})
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestInverseKinematicsTwoLink(t *testing.T) {
	lengths := []float64{0.015, 0.015}

	theta, err := inverseKinematics(r3.Vector{X: 0.02, Y: 0.01}, lengths)
	test.That(t, err, test.ShouldBeNil)

	// D = (x^2 + y^2 - L1^2 - L2^2) / (2 L1 L2), elbow-down branch.
	d := (0.02*0.02 + 0.01*0.01 - 2*0.015*0.015) / (2 * 0.015 * 0.015)
	wantTheta2 := math.Atan2(math.Sqrt(1-d*d), d)
	wantTheta1 := math.Atan2(0.01, 0.02) -
		math.Atan2(0.015*math.Sin(wantTheta2), 0.015+0.015*math.Cos(wantTheta2))

	test.That(t, theta[1], test.ShouldAlmostEqual, wantTheta2, 1e-9)
	test.That(t, theta[1], test.ShouldAlmostEqual, 1.459, 1e-3)
	test.That(t, theta[0], test.ShouldAlmostEqual, wantTheta1, 1e-9)
}

func TestInverseKinematicsOneLink(t *testing.T) {
	theta, err := inverseKinematics(r3.Vector{X: 0, Y: 0.015}, []float64{0.015})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(theta), test.ShouldEqual, 1)
	test.That(t, theta[0], test.ShouldAlmostEqual, math.Pi/2, 1e-12)
}

func TestInverseKinematicsUnreachable(t *testing.T) {
	lengths := []float64{0.015, 0.015}

	_, err := inverseKinematics(r3.Vector{X: 0.1, Y: 0}, lengths)
	test.That(t, errors.Is(err, errUnreachable), test.ShouldBeTrue)

	// Just beyond full extension.
	beyond := 0.03 + 1e-4
	_, err = inverseKinematics(r3.Vector{X: beyond, Y: 0}, lengths)
	test.That(t, errors.Is(err, errUnreachable), test.ShouldBeTrue)

	_, err = inverseKinematics(r3.Vector{}, []float64{1, 1, 1})
	test.That(t, errors.Is(err, errUnsupportedArms), test.ShouldBeTrue)
}

func TestKinematicsRoundTrip(t *testing.T) {
	lengths := []float64{1.0, 1.0}

	// Elbow-down postures invert exactly.
	for theta1 := -math.Pi / 2; theta1 <= math.Pi/2; theta1 += 0.1 {
		for theta2 := 0.05; theta2 <= math.Pi/2; theta2 += 0.1 {
			pos, err := forwardKinematics([]float64{theta1, theta2}, lengths)
			test.That(t, err, test.ShouldBeNil)

			back, err := inverseKinematics(pos, lengths)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, back[0], test.ShouldAlmostEqual, theta1, 1e-6)
			test.That(t, back[1], test.ShouldAlmostEqual, theta2, 1e-6)
		}
	}

	// For any posture the solved angles land on the same point.
	for theta1 := -math.Pi / 2; theta1 <= math.Pi/2; theta1 += 0.17 {
		for theta2 := -math.Pi / 2; theta2 <= math.Pi/2; theta2 += 0.17 {
			pos, err := forwardKinematics([]float64{theta1, theta2}, lengths)
			test.That(t, err, test.ShouldBeNil)

			solved, err := inverseKinematics(pos, lengths)
			test.That(t, err, test.ShouldBeNil)

			again, err := forwardKinematics(solved, lengths)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, again.X, test.ShouldAlmostEqual, pos.X, 1e-9)
			test.That(t, again.Y, test.ShouldAlmostEqual, pos.Y, 1e-9)
		}
	}
}
