package utils

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
)

func vectorsAlmostEqual(v1, v2 r3.Vector, tol float64) bool {
	return abs(v1.X-v2.X) < tol && abs(v1.Y-v2.Y) < tol && abs(v1.Z-v2.Z) < tol
}

func abs(a float64) float64 {
	if a < 0 {
		return -a
	}
	return a
}

// quatAlmostEqual compares unit quaternions up to the q/-q sign ambiguity.
func quatAlmostEqual(got, want [4]float64, tol float64) bool {
	dot := got[0]*want[0] + got[1]*want[1] + got[2]*want[2] + got[3]*want[3]
	if dot < 0 {
		for i := range got {
			got[i] = -got[i]
		}
	}
	for i := range got {
		if abs(got[i]-want[i]) > tol {
			return false
		}
	}
	return true
}

func matricesAlmostEqual(m1, m2 [16]float64, tol float64) bool {
	for i := range m1 {
		if abs(m1[i]-m2[i]) > tol {
			return false
		}
	}
	return true
}

func identity16() [16]float64 {
	var m [16]float64
	m[0], m[5], m[10], m[15] = 1, 1, 1, 1
	return m
}

// rotationZ16 builds a column-major transform rotating about +Z.
func rotationZ16(angleRad float64) [16]float64 {
	c := math.Cos(angleRad)
	s := math.Sin(angleRad)
	m := identity16()
	m[0] = c
	m[1] = s
	m[4] = -s
	m[5] = c
	return m
}

// rotationDet computes the determinant of the upper-left 3x3 block.
func rotationDet(m [16]float64) float64 {
	return m[0]*(m[5]*m[10]-m[9]*m[6]) -
		m[4]*(m[1]*m[10]-m[9]*m[2]) +
		m[8]*(m[1]*m[6]-m[5]*m[2])
}

func TestMat4FromSlice(t *testing.T) {
	if _, err := Mat4FromSlice([]float64{1, 2, 3}); err == nil {
		t.Errorf("Expected error for short slice, got nil")
	}

	bad := make([]float64, 16)
	bad[7] = math.NaN()
	if _, err := Mat4FromSlice(bad); err == nil {
		t.Errorf("Expected error for NaN element, got nil")
	}

	vals := identity16()
	vals[12] = 7.5
	m, err := Mat4FromSlice(vals[:])
	if err != nil {
		t.Fatalf("Mat4FromSlice failed: %v", err)
	}
	// Column-major: index 12 is the translation X, i.e. row 0, col 3.
	if m.At(0, 3) != 7.5 {
		t.Errorf("Translation X landed at the wrong index: got %f, want 7.5", m.At(0, 3))
	}
}

func TestValidateModelView(t *testing.T) {
	if err := ValidateModelView(identity16()); err != nil {
		t.Errorf("Identity should validate, got error: %v", err)
	}

	nan := identity16()
	nan[5] = math.NaN()
	if err := ValidateModelView(nan); err == nil {
		t.Errorf("Expected error for NaN element, got nil")
	}

	badRow := identity16()
	badRow[3] = 0.01
	if err := ValidateModelView(badRow); err == nil {
		t.Errorf("Expected error for non-affine bottom row, got nil")
	}

	badW := identity16()
	badW[15] = 2
	if err := ValidateModelView(badW); err == nil {
		t.Errorf("Expected error for homogeneous scale 2, got nil")
	}

	blownUp := identity16()
	blownUp[0] = 3
	if err := ValidateModelView(blownUp); err == nil {
		t.Errorf("Expected error for rotation column scale 3, got nil")
	}

	collapsed := identity16()
	collapsed[5] = 0.1
	if err := ValidateModelView(collapsed); err == nil {
		t.Errorf("Expected error for rotation column scale 0.1, got nil")
	}
}

func TestOrthonormalizeRestoresScaledRotation(t *testing.T) {
	want := rotationZ16(math.Pi / 6)
	want[12], want[13], want[14] = 5, 6, 7

	scaled := want
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			scaled[col*4+row] *= 1.3
		}
	}

	got, err := OrthonormalizeModelView(scaled)
	if err != nil {
		t.Fatalf("OrthonormalizeModelView failed: %v", err)
	}
	if !matricesAlmostEqual(got, want, 1e-9) {
		t.Errorf("Orthonormalize failed to strip uniform scale: got %v, want %v", got, want)
	}
}

func TestOrthonormalizeFixesReflection(t *testing.T) {
	mirrored := identity16()
	mirrored[0] = -1
	if rotationDet(mirrored) > 0 {
		t.Fatalf("Test matrix is not a reflection")
	}

	got, err := OrthonormalizeModelView(mirrored)
	if err != nil {
		t.Fatalf("OrthonormalizeModelView failed: %v", err)
	}
	if det := rotationDet(got); det < 0.9 {
		t.Errorf("Expected a proper rotation after orthonormalize, got determinant %f", det)
	}
	for c := 0; c < 3; c++ {
		norm := math.Sqrt(got[c*4]*got[c*4] + got[c*4+1]*got[c*4+1] + got[c*4+2]*got[c*4+2])
		if abs(norm-1) > 1e-9 {
			t.Errorf("Rotation column %d is not unit length: got %f", c, norm)
		}
	}
}

func TestPoseFromMatrixTranslation(t *testing.T) {
	m := identity16()
	m[12], m[13], m[14] = 120, -45, 890

	pose, err := PoseFromMatrix16(m)
	if err != nil {
		t.Fatalf("PoseFromMatrix16 failed: %v", err)
	}
	want := r3.Vector{X: 120, Y: -45, Z: 890}
	if !vectorsAlmostEqual(pose.Point(), want, 1e-9) {
		t.Errorf("Translation mismatch: got %+v, want %+v", pose.Point(), want)
	}

	back := Matrix16FromPose(pose)
	if !matricesAlmostEqual(back, m, 1e-9) {
		t.Errorf("Matrix round trip failed: got %v, want %v", back, m)
	}
}

func TestPoseFromMatrixRotation(t *testing.T) {
	m := rotationZ16(math.Pi / 2)
	m[12], m[13], m[14] = 10, 20, 30

	pose, err := PoseFromMatrix16(m)
	if err != nil {
		t.Fatalf("PoseFromMatrix16 failed: %v", err)
	}

	// A 90 degree turn about +Z is the quaternion (cos45, 0, 0, sin45).
	q := pose.Orientation().Quaternion()
	got := [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}
	want := [4]float64{math.Sqrt2 / 2, 0, 0, math.Sqrt2 / 2}
	if !quatAlmostEqual(got, want, 1e-9) {
		t.Errorf("Quaternion mismatch: got %v, want %v", got, want)
	}

	back := Matrix16FromPose(pose)
	if !matricesAlmostEqual(back, m, 1e-9) {
		t.Errorf("Matrix round trip failed: got %v, want %v", back, m)
	}
}

func TestMat4FromPoseMatchesMatrix(t *testing.T) {
	m := rotationZ16(math.Pi / 4)
	m[12], m[13], m[14] = 1, 2, 3

	pose, err := PoseFromMatrix16(m)
	if err != nil {
		t.Fatalf("PoseFromMatrix16 failed: %v", err)
	}
	gl := Mat4FromPose(pose)
	for i := range m {
		if abs(gl[i]-m[i]) > 1e-9 {
			t.Errorf("Mat4 element %d mismatch: got %f, want %f", i, gl[i], m[i])
		}
	}
}
