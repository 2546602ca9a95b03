package models

import (
	"armarkertracker/scene"
	"armarkertracker/utils"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.viam.com/rdk/components/posetracker"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	genericservice "go.viam.com/rdk/services/generic"
)

var (
	MarkerPoses = resource.NewModel("viam", "ar-marker-tracker", "marker-poses")
)

func init() {
	resource.RegisterComponent(posetracker.API, MarkerPoses,
		resource.Registration[posetracker.PoseTracker, *MarkerPosesConfig]{
			Constructor: newMarkerPoses,
		},
	)
}

type MarkerPosesConfig struct {
	SessionName string `json:"session_name"`
	CameraFrame string `json:"camera_frame,omitempty"` // parent frame of the returned poses; defaults to the session's camera
}

// Validate ensures all parts of the config are valid and important fields exist.
// Returns implicit required (first return) and optional (second return) dependencies based on the config.
// The path is the JSON path in your robot's config (not the `Config` struct) to the
// resource being validated; e.g. "components.0".
func (cfg *MarkerPosesConfig) Validate(path string) ([]string, []string, error) {
	if cfg.SessionName == "" {
		return nil, nil, errors.New("session_name is required")
	}
	return []string{cfg.SessionName}, nil, nil
}

// markerPoses exposes the session's tracked markers through the standard pose
// tracker API. Body names are pattern-<id> and barcode-<id>; poses are in the
// camera frame because that is the frame the engine reports in.
type markerPoses struct {
	resource.AlwaysRebuild

	name    resource.Name
	logger  logging.Logger
	cfg     *MarkerPosesConfig
	session resource.Resource

	mu          sync.Mutex
	parentFrame string
}

func newMarkerPoses(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (posetracker.PoseTracker, error) {
	conf, err := resource.NativeConfig[*MarkerPosesConfig](rawConf)
	if err != nil {
		return nil, err
	}

	session, err := deps.GetResource(resource.NewName(genericservice.API, conf.SessionName))
	if err != nil {
		return nil, fmt.Errorf("failed to get session %q: %w", conf.SessionName, err)
	}

	return &markerPoses{
		name:        rawConf.ResourceName(),
		logger:      logger,
		cfg:         conf,
		session:     session,
		parentFrame: conf.CameraFrame,
	}, nil
}

func (s *markerPoses) Name() resource.Name {
	return s.name
}

func (s *markerPoses) Close(context.Context) error {
	return nil
}

func (s *markerPoses) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, fmt.Errorf("not implemented")
}

// parent resolves the frame the poses are parented to, asking the session for
// its camera name the first time when the config does not pin one.
func (s *markerPoses) parent(ctx context.Context) (string, error) {
	s.mu.Lock()
	cached := s.parentFrame
	s.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	resp, err := s.session.DoCommand(ctx, map[string]interface{}{"command": "status"})
	if err != nil {
		return "", fmt.Errorf("failed to get session status: %w", err)
	}
	name, err := utils.StringFromMap(resp, "camera")
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.parentFrame = name
	s.mu.Unlock()
	return name, nil
}

func (s *markerPoses) Poses(ctx context.Context, bodyNames []string, extra map[string]interface{}) (referenceframe.FrameSystemPoses, error) {
	parent, err := s.parent(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.session.DoCommand(ctx, map[string]interface{}{"command": "markers"})
	if err != nil {
		return nil, fmt.Errorf("failed to get markers from session: %w", err)
	}
	states, err := scene.StatesFromValue(resp["markers"])
	if err != nil {
		return nil, err
	}

	var filter map[string]bool
	if len(bodyNames) > 0 {
		filter = make(map[string]bool, len(bodyNames))
		for _, n := range bodyNames {
			filter[n] = true
		}
	}

	poses := referenceframe.FrameSystemPoses{}
	for _, st := range states {
		if !st.Visible || st.Pose == nil {
			continue
		}
		key := utils.MarkerKey(string(st.Kind), st.ID)
		if filter != nil && !filter[key] && !filter[st.Name] {
			continue
		}
		poses[key] = referenceframe.NewPoseInFrame(parent, st.Pose)
	}
	return poses, nil
}
