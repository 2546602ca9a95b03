package utils

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"
)

// Matrices arriving from the tracking engine are 16-element column-major
// (OpenGL convention): element (row r, col c) lives at index c*4+r, the
// translation in indices 12..14. Translation units are millimeters.

const (
	affineRowTolerance = 1e-6
	minColumnScale     = 0.5
	maxColumnScale     = 2.0
)

// Mat4FromSlice converts a 16-element slice into a column-major mgl64.Mat4.
func Mat4FromSlice(vals []float64) (mgl64.Mat4, error) {
	if len(vals) != 16 {
		return mgl64.Mat4{}, fmt.Errorf("matrix needs 16 elements, got %d", len(vals))
	}
	var m mgl64.Mat4
	copy(m[:], vals)
	for i, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return mgl64.Mat4{}, fmt.Errorf("matrix element %d is not finite", i)
		}
	}
	return m, nil
}

// ValidateModelView checks that a model-view matrix is a usable rigid
// transform: finite entries, an affine bottom row and rotation columns whose
// scale has not collapsed or blown up.
func ValidateModelView(m [16]float64) error {
	for i, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("element %d is not finite", i)
		}
	}
	if math.Abs(m[3]) > affineRowTolerance ||
		math.Abs(m[7]) > affineRowTolerance ||
		math.Abs(m[11]) > affineRowTolerance {
		return errors.New("bottom row is not (0, 0, 0, 1)")
	}
	if math.Abs(m[15]-1.0) > affineRowTolerance {
		return fmt.Errorf("homogeneous scale is %f, want 1", m[15])
	}
	for c := 0; c < 3; c++ {
		norm := math.Sqrt(m[c*4]*m[c*4] + m[c*4+1]*m[c*4+1] + m[c*4+2]*m[c*4+2])
		if norm < minColumnScale || norm > maxColumnScale {
			return fmt.Errorf("rotation column %d has scale %f", c, norm)
		}
	}
	return nil
}

// OrthonormalizeModelView replaces the rotation block with the nearest proper
// rotation (SVD projection). Engine matrices pick up scale and skew from
// numerical drift; downstream pose math assumes a rigid transform.
func OrthonormalizeModelView(m [16]float64) ([16]float64, error) {
	rot := mat.NewDense(3, 3, []float64{
		m[0], m[4], m[8],
		m[1], m[5], m[9],
		m[2], m[6], m[10],
	})

	var svd mat.SVD
	if !svd.Factorize(rot, mat.SVDFull) {
		return m, errors.New("rotation block is not factorizable")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// Reflections are not reachable by a tracked marker; flip the
		// weakest singular direction to land on a proper rotation.
		d := mat.NewDiagDense(3, []float64{1, 1, -1})
		var ud mat.Dense
		ud.Mul(&u, d)
		r.Mul(&ud, v.T())
	}

	out := m
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			out[col*4+row] = r.At(row, col)
		}
	}
	return out, nil
}

// PoseFromMatrix16 converts a column-major rigid transform into a pose. The
// rotation block must already be orthonormal (see OrthonormalizeModelView).
func PoseFromMatrix16(m [16]float64) (spatialmath.Pose, error) {
	rows := []float64{
		m[0], m[4], m[8],
		m[1], m[5], m[9],
		m[2], m[6], m[10],
	}
	rot, err := spatialmath.NewRotationMatrix(rows)
	if err != nil {
		return nil, fmt.Errorf("bad rotation block: %w", err)
	}
	translation := r3.Vector{X: m[12], Y: m[13], Z: m[14]}
	return spatialmath.NewPose(translation, rot), nil
}

// Matrix16FromPose is the inverse of PoseFromMatrix16.
func Matrix16FromPose(p spatialmath.Pose) [16]float64 {
	var m [16]float64
	rm := p.Orientation().RotationMatrix()
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			m[col*4+row] = rm.At(row, col)
		}
	}
	pt := p.Point()
	m[12] = pt.X
	m[13] = pt.Y
	m[14] = pt.Z
	m[15] = 1
	return m
}

// Mat4FromPose renders a pose as a column-major mgl64.Mat4 for drawing code.
func Mat4FromPose(p spatialmath.Pose) mgl64.Mat4 {
	return mgl64.Mat4(Matrix16FromPose(p))
}
