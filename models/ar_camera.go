package models

import (
	"armarkertracker/overlay"
	"armarkertracker/scene"
	"armarkertracker/utils"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/rimage/transform"
	genericservice "go.viam.com/rdk/services/generic"
	"go.viam.com/rdk/spatialmath"
	rdkutils "go.viam.com/rdk/utils"
)

var (
	ArCamera = resource.NewModel("viam", "ar-marker-tracker", "ar-camera")
)

func init() {
	resource.RegisterComponent(camera.API, ArCamera,
		resource.Registration[camera.Camera, *ArCameraConfig]{
			Constructor: newArCamera,
		},
	)
}

type ArCameraConfig struct {
	CameraName  string `json:"camera_name"`
	SessionName string `json:"session_name"`
	Axes        *bool  `json:"axes,omitempty"`
	Cube        *bool  `json:"cube,omitempty"`
	Labels      *bool  `json:"labels,omitempty"`
	Color       string `json:"color,omitempty"`
	LinePx      int    `json:"line_px,omitempty"`
}

// Validate ensures all parts of the config are valid and important fields exist.
// Returns implicit required (first return) and optional (second return) dependencies based on the config.
// The path is the JSON path in your robot's config (not the `Config` struct) to the
// resource being validated; e.g. "components.0".
func (cfg *ArCameraConfig) Validate(path string) ([]string, []string, error) {
	if cfg.CameraName == "" {
		return nil, nil, errors.New("camera_name is required")
	}
	if cfg.SessionName == "" {
		return nil, nil, errors.New("session_name is required")
	}
	if cfg.LinePx < 0 {
		return nil, nil, errors.New("line_px cannot be negative")
	}
	return []string{cfg.CameraName, cfg.SessionName}, nil, nil
}

func (cfg *ArCameraConfig) overlayOptions() overlay.Options {
	opts := overlay.DefaultOptions()
	if cfg.Axes != nil {
		opts.Axes = *cfg.Axes
	}
	if cfg.Cube != nil {
		opts.Cube = *cfg.Cube
	}
	if cfg.Labels != nil {
		opts.Labels = *cfg.Labels
	}
	if cfg.Color != "" {
		opts.Color = overlay.ParseColor(cfg.Color)
	}
	if cfg.LinePx > 0 {
		opts.LinePx = cfg.LinePx
	}
	return opts
}

// arCamera wraps the source camera and draws the tracked marker overlay on
// every frame. Marker state and the projection come from the session service
// over DoCommand; until the session has both, frames pass through untouched.
type arCamera struct {
	name       resource.Name
	logger     logging.Logger
	cfg        *ArCameraConfig
	cancelCtx  context.Context
	cancelFunc func()

	underlyingCam camera.Camera
	session       resource.Resource
	renderer      *overlay.Renderer

	mu           sync.Mutex
	proj         *overlay.Projection
	projResolved bool
}

func newArCamera(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (camera.Camera, error) {
	conf, err := resource.NativeConfig[*ArCameraConfig](rawConf)
	if err != nil {
		return nil, err
	}

	cam, err := camera.FromDependencies(deps, conf.CameraName)
	if err != nil {
		return nil, err
	}
	session, err := deps.GetResource(resource.NewName(genericservice.API, conf.SessionName))
	if err != nil {
		return nil, fmt.Errorf("failed to get session %q: %w", conf.SessionName, err)
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())

	s := &arCamera{
		name:          rawConf.ResourceName(),
		logger:        logger,
		cfg:           conf,
		cancelCtx:     cancelCtx,
		cancelFunc:    cancelFunc,
		underlyingCam: cam,
		session:       session,
		renderer:      overlay.NewRenderer(conf.overlayOptions()),
	}
	return s, nil
}

func (s *arCamera) Reconfigure(ctx context.Context, deps resource.Dependencies, rawConf resource.Config) error {
	conf, err := resource.NativeConfig[*ArCameraConfig](rawConf)
	if err != nil {
		return err
	}

	cam, err := camera.FromDependencies(deps, conf.CameraName)
	if err != nil {
		return err
	}
	session, err := deps.GetResource(resource.NewName(genericservice.API, conf.SessionName))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = conf
	s.underlyingCam = cam
	s.session = session
	s.renderer = overlay.NewRenderer(conf.overlayOptions())
	s.proj = nil
	s.projResolved = false
	return nil
}

func (s *arCamera) Name() resource.Name {
	return s.name
}

func (s *arCamera) Close(context.Context) error {
	s.cancelFunc()
	return nil
}

func (s *arCamera) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, nil
}

// markerStates asks the session for the current anchor snapshot. A nil return
// means the session is not answering and the frame should pass through.
func (s *arCamera) markerStates(ctx context.Context) []scene.AnchorState {
	resp, err := s.session.DoCommand(ctx, map[string]interface{}{"command": "markers"})
	if err != nil {
		s.logger.Debugf("Session not answering, passing frames through: %v", err)
		return nil
	}
	states, err := scene.StatesFromValue(resp["markers"])
	if err != nil {
		s.logger.Warnf("Bad markers reply from session: %v", err)
		return nil
	}
	return states
}

// projection fetches the session's projection once and caches it. The session
// answers "pending" until its own handshake has settled, so keep asking until
// a definitive source arrives.
func (s *arCamera) projection(ctx context.Context) *overlay.Projection {
	s.mu.Lock()
	if s.projResolved {
		proj := s.proj
		s.mu.Unlock()
		return proj
	}
	s.mu.Unlock()

	resp, err := s.session.DoCommand(ctx, map[string]interface{}{"command": "projection"})
	if err != nil {
		return nil
	}

	var proj *overlay.Projection
	switch resp["source"] {
	case "pending":
		return nil
	case "engine":
		matrix, err := utils.Matrix16FromValue(resp["matrix"])
		if err != nil {
			s.logger.Warnf("Bad projection matrix from session: %v", err)
			return nil
		}
		width, werr := utils.IntFromMap(resp, "width")
		height, herr := utils.IntFromMap(resp, "height")
		if werr != nil || herr != nil {
			s.logger.Warnf("Projection reply missing viewport size")
			return nil
		}
		proj, err = overlay.FromMatrix(matrix, width, height)
		if err != nil {
			s.logger.Warnf("Projection from session unusable: %v", err)
			proj = nil
		}
	case "intrinsics":
		intrinsics, err := intrinsicsFromMap(resp)
		if err != nil {
			s.logger.Warnf("Bad intrinsics from session: %v", err)
			return nil
		}
		proj, err = overlay.FromIntrinsics(intrinsics)
		if err != nil {
			s.logger.Warnf("Intrinsics from session unusable: %v", err)
			proj = nil
		}
	default:
		// "none": the session already warned, overlay stays off.
	}

	s.mu.Lock()
	s.proj = proj
	s.projResolved = true
	s.mu.Unlock()
	return proj
}

func intrinsicsFromMap(m map[string]interface{}) (*transform.PinholeCameraIntrinsics, error) {
	width, err := utils.IntFromMap(m, "width")
	if err != nil {
		return nil, err
	}
	height, err := utils.IntFromMap(m, "height")
	if err != nil {
		return nil, err
	}
	fx, err := utils.Float64FromMap(m, "fx")
	if err != nil {
		return nil, err
	}
	fy, err := utils.Float64FromMap(m, "fy")
	if err != nil {
		return nil, err
	}
	ppx, err := utils.Float64FromMap(m, "ppx")
	if err != nil {
		return nil, err
	}
	ppy, err := utils.Float64FromMap(m, "ppy")
	if err != nil {
		return nil, err
	}
	return &transform.PinholeCameraIntrinsics{
		Width: width, Height: height,
		Fx: fx, Fy: fy, Ppx: ppx, Ppy: ppy,
	}, nil
}

// compose draws the overlay onto one frame. Frames pass through unchanged when
// the session has no marker state for us.
func (s *arCamera) compose(img image.Image, states []scene.AnchorState, proj *overlay.Projection) image.Image {
	if states == nil {
		return img
	}
	return s.renderer.Compose(img, proj, states)
}

func (s *arCamera) Image(ctx context.Context, mimeType string, extra map[string]interface{}) ([]byte, camera.ImageMetadata, error) {
	if mimeType == "" {
		mimeType = rdkutils.MimeTypeJPEG
	}
	imgs, _, err := s.underlyingCam.Images(ctx, nil, extra)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}
	if len(imgs) == 0 {
		return nil, camera.ImageMetadata{}, errors.New("no images returned from underlying camera")
	}
	img, err := imgs[0].Image(ctx)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}

	composed := s.compose(img, s.markerStates(ctx), s.projection(ctx))
	data, err := rimage.EncodeImage(ctx, composed, mimeType)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}
	return data, camera.ImageMetadata{MimeType: mimeType}, nil
}

func (s *arCamera) Images(ctx context.Context, sourceNames []string, extra map[string]interface{}) ([]camera.NamedImage, resource.ResponseMetadata, error) {
	imgs, meta, err := s.underlyingCam.Images(ctx, sourceNames, extra)
	if err != nil {
		return nil, resource.ResponseMetadata{}, err
	}

	states := s.markerStates(ctx)
	proj := s.projection(ctx)

	resultImgs := make([]camera.NamedImage, len(imgs))
	for i, namedImg := range imgs {
		img, err := namedImg.Image(ctx)
		if err != nil {
			return nil, resource.ResponseMetadata{}, err
		}

		composed := s.compose(img, states, proj)

		resultImg, err := camera.NamedImageFromImage(composed, namedImg.SourceName, namedImg.MimeType())
		if err != nil {
			return nil, resource.ResponseMetadata{}, err
		}
		resultImgs[i] = resultImg
	}

	return resultImgs, meta, nil
}

func (s *arCamera) NextPointCloud(ctx context.Context, extra map[string]interface{}) (pointcloud.PointCloud, error) {
	return nil, errors.New("next point cloud not implemented")
}

func (s *arCamera) Properties(ctx context.Context) (camera.Properties, error) {
	return s.underlyingCam.Properties(ctx)
}

func (s *arCamera) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return nil, nil
}
