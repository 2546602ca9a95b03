package overlay

import (
	"armarkertracker/utils"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
	"go.viam.com/rdk/rimage/transform"
)

// Projection maps camera-frame points to pixels. It is built either from
// the engine's GL projection matrix or, when the engine offers none, from
// the source camera's pinhole intrinsics.
type Projection struct {
	gl         mgl64.Mat4
	useGL      bool
	intrinsics *transform.PinholeCameraIntrinsics
	width      int
	height     int
}

// FromMatrix builds a projection from a column-major GL projection matrix
// and the viewport it was computed for.
func FromMatrix(m [16]float64, width, height int) (*Projection, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("bad viewport %dx%d", width, height)
	}
	mat, err := utils.Mat4FromSlice(m[:])
	if err != nil {
		return nil, errors.Wrap(err, "projection matrix")
	}
	return &Projection{gl: mat, useGL: true, width: width, height: height}, nil
}

// FromIntrinsics builds a projection from pinhole intrinsics.
func FromIntrinsics(in *transform.PinholeCameraIntrinsics) (*Projection, error) {
	if in == nil {
		return nil, errors.New("missing intrinsics")
	}
	if in.Width <= 0 || in.Height <= 0 {
		return nil, errors.Errorf("bad intrinsics viewport %dx%d", in.Width, in.Height)
	}
	return &Projection{intrinsics: in, width: in.Width, height: in.Height}, nil
}

// Size returns the viewport the projection maps into.
func (p *Projection) Size() (width, height int) {
	return p.width, p.height
}

// Project maps a point in a marker's frame to pixel coordinates. modelView
// is the marker-to-camera transform, local the point in the marker frame
// (millimeters). depth grows with distance in front of the camera; visible
// is false behind the camera or outside the near/far clip. Pixel
// coordinates may land outside the viewport; line drawing clips them.
func (p *Projection) Project(modelView mgl64.Mat4, local mgl64.Vec3) (x, y, depth float64, visible bool) {
	camPoint := modelView.Mul4x1(mgl64.Vec4{local[0], local[1], local[2], 1})

	if p.useGL {
		clip := p.gl.Mul4x1(camPoint)
		if clip[3] <= 0 {
			return 0, 0, 0, false
		}
		ndcX := clip[0] / clip[3]
		ndcY := clip[1] / clip[3]
		ndcZ := clip[2] / clip[3]
		x = (ndcX*0.5 + 0.5) * float64(p.width)
		y = (1 - (ndcY*0.5 + 0.5)) * float64(p.height)
		// The GL camera looks down -Z.
		return x, y, -camPoint[2], ndcZ >= -1 && ndcZ <= 1
	}

	// Intrinsics expect +Z forward and +Y down; the engine's camera frame
	// has -Z forward and +Y up.
	cx, cy, cz := camPoint[0], -camPoint[1], -camPoint[2]
	if cz <= 0 {
		return 0, 0, 0, false
	}
	px, py := p.intrinsics.PointToPixel(cx, cy, cz)
	return px, py, cz, true
}
