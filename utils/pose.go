package utils

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
)

// PoseToMap renders a pose as nested maps for DoCommand replies.
func PoseToMap(pose spatialmath.Pose) map[string]interface{} {
	if pose == nil {
		return nil
	}
	pos := pose.Point()
	ori := pose.Orientation().Quaternion()
	return map[string]interface{}{
		"translation": map[string]interface{}{
			"x": pos.X,
			"y": pos.Y,
			"z": pos.Z,
		},
		"orientation": map[string]interface{}{
			"w": ori.Real,
			"x": ori.Imag,
			"y": ori.Jmag,
			"z": ori.Kmag,
		},
	}
}

// PoseFromMap is the inverse of PoseToMap. A missing orientation yields an
// identity rotation; a missing translation yields the origin.
func PoseFromMap(m map[string]interface{}) (spatialmath.Pose, error) {
	translation := r3.Vector{}
	if raw, ok := m["translation"]; ok {
		tm, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("translation is not a map")
		}
		var err error
		if translation.X, err = Float64FromMap(tm, "x"); err != nil {
			return nil, err
		}
		if translation.Y, err = Float64FromMap(tm, "y"); err != nil {
			return nil, err
		}
		if translation.Z, err = Float64FromMap(tm, "z"); err != nil {
			return nil, err
		}
	}

	quat := spatialmath.Quaternion{Real: 1}
	if raw, ok := m["orientation"]; ok {
		om, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("orientation is not a map")
		}
		var err error
		if quat.Real, err = Float64FromMap(om, "w"); err != nil {
			return nil, err
		}
		if quat.Imag, err = Float64FromMap(om, "x"); err != nil {
			return nil, err
		}
		if quat.Jmag, err = Float64FromMap(om, "y"); err != nil {
			return nil, err
		}
		if quat.Kmag, err = Float64FromMap(om, "z"); err != nil {
			return nil, err
		}
		norm := math.Sqrt(quat.Real*quat.Real + quat.Imag*quat.Imag + quat.Jmag*quat.Jmag + quat.Kmag*quat.Kmag)
		if norm < 1e-9 {
			return nil, fmt.Errorf("orientation quaternion has zero norm")
		}
		quat.Real /= norm
		quat.Imag /= norm
		quat.Jmag /= norm
		quat.Kmag /= norm
	}

	return spatialmath.NewPose(translation, &quat), nil
}

// Clamp clamps a value between min and max.
func Clamp(value, min, max float64) float64 {
	return math.Max(min, math.Min(max, value))
}
