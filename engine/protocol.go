package engine

import (
	"armarkertracker/utils"
	"math"

	"github.com/pkg/errors"
)

// MarkerKind selects which of the engine's two marker dictionaries an id
// refers to.
type MarkerKind string

const (
	KindPattern MarkerKind = "pattern"
	KindBarcode MarkerKind = "barcode"
)

// KindFromString parses the wire form of a marker kind.
func KindFromString(s string) (MarkerKind, error) {
	switch MarkerKind(s) {
	case KindPattern:
		return KindPattern, nil
	case KindBarcode:
		return KindBarcode, nil
	default:
		return "", errors.Errorf("unknown marker type %q", s)
	}
}

// Observation is one marker sighting in one frame. ModelView is the marker
// pose in the camera frame, column-major with translation in millimeters.
type Observation struct {
	Kind       MarkerKind
	ID         int
	Confidence float64
	ModelView  [16]float64
}

// Clip planes assumed when the engine does not report its own.
const (
	DefaultNearPlane = 0.1
	DefaultFarPlane  = 1000.0
)

// Handshake is what the engine reports about itself during the startup
// handshake. Projection is the engine's camera projection matrix,
// column-major; HasProjection is false when the engine left it out.
type Handshake struct {
	Engine        string
	Version       string
	ImageWidth    int
	ImageHeight   int
	Projection    [16]float64
	HasProjection bool
	Near          float64
	Far           float64
}

func optionalFloat(m map[string]interface{}, key string, out *float64) error {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	v, ok := utils.Float64Value(raw)
	if !ok {
		return errors.Errorf("%s is not a number", key)
	}
	*out = v
	return nil
}

func handshakeFromMap(resp map[string]interface{}) (Handshake, error) {
	hs := Handshake{Near: DefaultNearPlane, Far: DefaultFarPlane}
	hs.Engine, _ = resp["engine"].(string)
	hs.Version, _ = resp["version"].(string)

	var width, height float64
	if err := optionalFloat(resp, "image_width", &width); err != nil {
		return Handshake{}, err
	}
	if err := optionalFloat(resp, "image_height", &height); err != nil {
		return Handshake{}, err
	}
	hs.ImageWidth = int(width)
	hs.ImageHeight = int(height)

	if err := optionalFloat(resp, "near", &hs.Near); err != nil {
		return Handshake{}, err
	}
	if err := optionalFloat(resp, "far", &hs.Far); err != nil {
		return Handshake{}, err
	}

	if raw, ok := resp["projection"]; ok {
		m, err := utils.Matrix16FromValue(raw)
		if err != nil {
			return Handshake{}, errors.Wrap(err, "projection")
		}
		for i, v := range m {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Handshake{}, errors.Errorf("projection element %d is not finite", i)
			}
		}
		hs.Projection = m
		hs.HasProjection = true
	}
	return hs, nil
}

func observationFromMap(m map[string]interface{}) (Observation, error) {
	var obs Observation

	kindStr, err := utils.StringFromMap(m, "type")
	if err != nil {
		return obs, err
	}
	if obs.Kind, err = KindFromString(kindStr); err != nil {
		return obs, err
	}
	if obs.ID, err = utils.IntFromMap(m, "id"); err != nil {
		return obs, err
	}

	obs.Confidence = 1
	if err := optionalFloat(m, "confidence", &obs.Confidence); err != nil {
		return obs, err
	}

	raw, ok := m["model_view"]
	if !ok {
		return obs, errors.New("missing model_view")
	}
	if obs.ModelView, err = utils.Matrix16FromValue(raw); err != nil {
		return obs, errors.Wrap(err, "model_view")
	}
	for i, v := range obs.ModelView {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return obs, errors.Errorf("model_view element %d is not finite", i)
		}
	}
	return obs, nil
}
