package scene

import (
	"armarkertracker/engine"
	"armarkertracker/utils"
	"fmt"
	"time"
)

// StatesToMaps renders anchor states for DoCommand replies. Anchors that
// have never been seen carry no pose keys.
func StatesToMaps(states []AnchorState) []interface{} {
	out := make([]interface{}, 0, len(states))
	for _, s := range states {
		m := map[string]interface{}{
			"type":          string(s.Kind),
			"id":            float64(s.ID),
			"name":          s.Name,
			"width_mm":      s.WidthMM,
			"visible":       s.Visible,
			"confidence":    s.Confidence,
			"last_seen_seq": float64(s.LastSeenSeq),
			"missed":        float64(s.Missed),
		}
		if s.Pose != nil {
			m["pose"] = utils.PoseToMap(s.Pose)
			m["marker_pose"] = utils.PoseToMap(s.MarkerPose)
			m["model_view"] = utils.Matrix16ToSlice(s.ModelView)
		}
		out = append(out, m)
	}
	return out
}

// StatesFromValue decodes a "markers" reply list back into anchor states.
// Used by the camera and pose tracker models on the far side of DoCommand.
func StatesFromValue(raw interface{}) ([]AnchorState, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("markers reply is not a list")
	}
	out := make([]AnchorState, 0, len(list))
	for i, entry := range list {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("marker entry %d is not a map", i)
		}
		kindStr, err := utils.StringFromMap(m, "type")
		if err != nil {
			return nil, fmt.Errorf("marker entry %d: %w", i, err)
		}
		kind, err := engine.KindFromString(kindStr)
		if err != nil {
			return nil, fmt.Errorf("marker entry %d: %w", i, err)
		}
		id, err := utils.IntFromMap(m, "id")
		if err != nil {
			return nil, fmt.Errorf("marker entry %d: %w", i, err)
		}
		state := AnchorState{Kind: kind, ID: id}
		state.Name, _ = m["name"].(string)
		if state.WidthMM, err = utils.Float64FromMap(m, "width_mm"); err != nil {
			return nil, fmt.Errorf("marker entry %d: %w", i, err)
		}
		if state.Visible, err = utils.BoolFromMap(m, "visible", false); err != nil {
			return nil, fmt.Errorf("marker entry %d: %w", i, err)
		}
		if v, ok := utils.Float64Value(m["confidence"]); ok {
			state.Confidence = v
		}
		if v, ok := utils.Float64Value(m["last_seen_seq"]); ok {
			state.LastSeenSeq = int64(v)
		}
		if v, ok := utils.Float64Value(m["missed"]); ok {
			state.Missed = int(v)
		}
		if rawPose, ok := m["pose"]; ok {
			poseMap, ok := rawPose.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("marker entry %d: pose is not a map", i)
			}
			if state.Pose, err = utils.PoseFromMap(poseMap); err != nil {
				return nil, fmt.Errorf("marker entry %d: %w", i, err)
			}
		}
		if rawPose, ok := m["marker_pose"]; ok {
			poseMap, ok := rawPose.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("marker entry %d: marker_pose is not a map", i)
			}
			if state.MarkerPose, err = utils.PoseFromMap(poseMap); err != nil {
				return nil, fmt.Errorf("marker entry %d: %w", i, err)
			}
		}
		if rawMat, ok := m["model_view"]; ok {
			if state.ModelView, err = utils.Matrix16FromValue(rawMat); err != nil {
				return nil, fmt.Errorf("marker entry %d: %w", i, err)
			}
		}
		out = append(out, state)
	}
	return out, nil
}

// EventsToMaps renders lifecycle events for DoCommand replies.
func EventsToMaps(events []Event) []interface{} {
	out := make([]interface{}, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]interface{}{
			"seq":  float64(e.Seq),
			"type": string(e.Type),
			"kind": string(e.Kind),
			"id":   float64(e.ID),
			"at":   e.At.Format(time.RFC3339Nano),
		})
	}
	return out
}
