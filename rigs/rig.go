package rigs

import (
	"armarkertracker/engine"
	"armarkertracker/scene"
	"armarkertracker/utils"
	"errors"
	"fmt"

	"go.viam.com/rdk/spatialmath"
)

// Member ties one marker to a rig. Offset is the member marker's pose
// expressed in the rig frame; the rig frame is the primary member's marker
// frame, so the primary's offset is identity (nil).
type Member struct {
	Kind   engine.MarkerKind
	ID     int
	Offset spatialmath.Pose
}

// Key is the member's canonical marker key, e.g. "pattern-3".
func (m Member) Key() string {
	return utils.MarkerKey(string(m.Kind), m.ID)
}

// Rig is a set of markers fixed to one rigid body. The first member is the
// primary and defines the rig frame.
type Rig struct {
	Name    string
	Members []Member
}

// NewRig validates and builds a rig definition.
func NewRig(name string, members []Member) (*Rig, error) {
	if name == "" {
		return nil, errors.New("rig name is required")
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("rig %q needs at least one member", name)
	}
	seen := map[string]bool{}
	for _, m := range members {
		key := m.Key()
		if seen[key] {
			return nil, fmt.Errorf("rig %q lists %s twice", name, key)
		}
		seen[key] = true
	}
	return &Rig{Name: name, Members: members}, nil
}

// Primary returns the member whose marker frame is the rig frame.
func (r *Rig) Primary() Member {
	return r.Members[0]
}

// Has reports whether a marker belongs to the rig.
func (r *Rig) Has(kind engine.MarkerKind, id int) bool {
	for _, m := range r.Members {
		if m.Kind == kind && m.ID == id {
			return true
		}
	}
	return false
}

// Estimate is one fused rig pose in the camera frame.
type Estimate struct {
	Pose       spatialmath.Pose
	Used       []string
	Confidence float64
}

// Fuse blends the rig pose implied by each currently visible member,
// weighting by reported confidence. Each member's marker pose M and offset O
// imply a rig pose M * inv(O); blending runs as an incremental weighted
// interpolation so translations average exactly. Returns false when no
// member is visible.
func (r *Rig) Fuse(states []scene.AnchorState) (Estimate, bool) {
	byKey := make(map[string]scene.AnchorState, len(states))
	for _, s := range states {
		byKey[utils.MarkerKey(string(s.Kind), s.ID)] = s
	}

	var est Estimate
	var weightSum, confidenceSum float64
	for _, member := range r.Members {
		state, ok := byKey[member.Key()]
		if !ok || !state.Visible || state.MarkerPose == nil {
			continue
		}
		implied := state.MarkerPose
		if member.Offset != nil {
			implied = spatialmath.Compose(implied, spatialmath.PoseInverse(member.Offset))
		}
		weight := state.Confidence
		if weight <= 0 {
			weight = 1e-3
		}
		if est.Pose == nil {
			est.Pose = implied
			weightSum = weight
		} else {
			est.Pose = spatialmath.Interpolate(est.Pose, implied, weight/(weightSum+weight))
			weightSum += weight
		}
		confidenceSum += state.Confidence
		est.Used = append(est.Used, member.Key())
	}
	if est.Pose == nil {
		return Estimate{}, false
	}
	est.Confidence = confidenceSum / float64(len(est.Used))
	return est, true
}
