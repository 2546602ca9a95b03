package armarkertracker

import (
	"armarkertracker/engine"
	"armarkertracker/overlay"
	"armarkertracker/rigs"
	"armarkertracker/scene"
	"armarkertracker/utils"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/rimage/transform"
	genericservice "go.viam.com/rdk/services/generic"
	"go.viam.com/rdk/spatialmath"
	rdkutils "go.viam.com/rdk/utils"
	rdk_utils "go.viam.com/utils"
)

var (
	Session = resource.NewModel("viam", "ar-marker-tracker", "session")
)

func init() {
	resource.RegisterService(genericservice.API, Session,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newSession,
		},
	)
}

// readyParts counts the two startup events that must both land before frames
// are fed to the engine: first camera frame and engine handshake.
const readyParts = 2

type MarkerConfig struct {
	Type    string                 `json:"type"`
	ID      int                    `json:"id"`
	WidthMM float64                `json:"width_mm"`
	Name    string                 `json:"name,omitempty"`
	Offset  map[string]interface{} `json:"offset,omitempty"`
}

type RigMemberConfig struct {
	Type   string                 `json:"type"`
	ID     int                    `json:"id"`
	Offset map[string]interface{} `json:"offset,omitempty"`
}

type RigConfig struct {
	Name    string            `json:"name"`
	Members []RigMemberConfig `json:"members"`
}

type OverlayConfig struct {
	Axes   *bool  `json:"axes,omitempty"`
	Cube   *bool  `json:"cube,omitempty"`
	Labels *bool  `json:"labels,omitempty"`
	Color  string `json:"color,omitempty"`
	LinePx int    `json:"line_px,omitempty"`
}

type Config struct {
	CameraName        string         `json:"camera_name"`
	EngineName        string         `json:"engine_name"`
	UpdateRateHz      float64        `json:"update_rate_hz"`
	Smoothing         *float64       `json:"smoothing,omitempty"`     // pose low-pass alpha in (0,1], default 1 = no filtering
	GraceFrames       *int           `json:"grace_frames,omitempty"`  // missed frames before a marker goes invisible, default 5
	HandshakeTimeoutS float64        `json:"handshake_timeout_s,omitempty"`
	AutoStart         *bool          `json:"auto_start,omitempty"`
	NearPlane         float64        `json:"near_plane,omitempty"` // ask the engine to rebuild its projection with these
	FarPlane          float64        `json:"far_plane,omitempty"`
	Markers           []MarkerConfig `json:"markers,omitempty"`
	Rigs              []RigConfig    `json:"rigs,omitempty"`
	Overlay           *OverlayConfig `json:"overlay,omitempty"`
	DebugHTTPAddress  string         `json:"debug_http_address,omitempty"`
}

// Validate ensures all parts of the config are valid and important fields exist.
// Returns implicit required (first return) and optional (second return) dependencies based on the config.
// The path is the JSON path in your robot's config (not the `Config` struct) to the
// resource being validated; e.g. "components.0".
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.CameraName == "" {
		return nil, nil, errors.New("camera_name is required")
	}
	if cfg.EngineName == "" {
		return nil, nil, errors.New("engine_name is required")
	}
	if cfg.UpdateRateHz < 0 {
		return nil, nil, errors.New("update_rate_hz must be greater than 0")
	}
	if cfg.HandshakeTimeoutS < 0 {
		return nil, nil, errors.New("handshake_timeout_s cannot be negative")
	}
	// Set defaults for optional parameters
	if cfg.UpdateRateHz == 0 {
		cfg.UpdateRateHz = 30.0
	}
	if cfg.HandshakeTimeoutS == 0 {
		cfg.HandshakeTimeoutS = 10.0
	}
	if cfg.Smoothing != nil && (*cfg.Smoothing <= 0 || *cfg.Smoothing > 1) {
		return nil, nil, errors.New("smoothing must be in (0, 1]")
	}
	if cfg.GraceFrames != nil && *cfg.GraceFrames < 0 {
		return nil, nil, errors.New("grace_frames cannot be negative")
	}
	if cfg.NearPlane < 0 || cfg.FarPlane < 0 {
		return nil, nil, errors.New("near_plane and far_plane cannot be negative")
	}
	if (cfg.NearPlane > 0) != (cfg.FarPlane > 0) {
		return nil, nil, errors.New("near_plane and far_plane must be set together")
	}
	if cfg.NearPlane > 0 && cfg.FarPlane <= cfg.NearPlane {
		return nil, nil, errors.New("far_plane must be greater than near_plane")
	}
	if cfg.Overlay != nil && cfg.Overlay.LinePx < 0 {
		return nil, nil, errors.New("overlay line_px cannot be negative")
	}

	seenMarkers := map[string]bool{}
	for i, m := range cfg.Markers {
		if _, err := engine.KindFromString(m.Type); err != nil {
			return nil, nil, fmt.Errorf("markers[%d]: %w", i, err)
		}
		if m.ID < 0 {
			return nil, nil, fmt.Errorf("markers[%d]: id cannot be negative", i)
		}
		if m.WidthMM <= 0 {
			return nil, nil, fmt.Errorf("markers[%d]: width_mm must be greater than 0", i)
		}
		key := utils.MarkerKey(m.Type, m.ID)
		if seenMarkers[key] {
			return nil, nil, fmt.Errorf("markers[%d]: %s listed twice", i, key)
		}
		seenMarkers[key] = true
	}

	seenRigs := map[string]bool{}
	for i, r := range cfg.Rigs {
		if r.Name == "" {
			return nil, nil, fmt.Errorf("rigs[%d]: name is required", i)
		}
		if seenRigs[r.Name] {
			return nil, nil, fmt.Errorf("rigs[%d]: name %q listed twice", i, r.Name)
		}
		seenRigs[r.Name] = true
		if len(r.Members) == 0 {
			return nil, nil, fmt.Errorf("rigs[%d]: needs at least one member", i)
		}
		for j, m := range r.Members {
			if _, err := engine.KindFromString(m.Type); err != nil {
				return nil, nil, fmt.Errorf("rigs[%d] members[%d]: %w", i, j, err)
			}
			if m.ID < 0 {
				return nil, nil, fmt.Errorf("rigs[%d] members[%d]: id cannot be negative", i, j)
			}
		}
	}

	return []string{cfg.CameraName, cfg.EngineName}, nil, nil
}

type session struct {
	resource.AlwaysRebuild

	name resource.Name

	logger logging.Logger
	cfg    *Config

	cancelCtx  context.Context
	cancelFunc func()

	cam     camera.Camera
	engine  *engine.Client
	tracked *scene.Registry

	renderer *overlay.Renderer
	debug    *debugServer

	mu           sync.Mutex
	worker       *rdk_utils.StoppableWorkers
	cameraReady  bool
	trackerReady bool
	readyCount   int
	readyCh      chan struct{}
	handshake    engine.Handshake
	proj         *overlay.Projection
	projSource   string
	intrinsics   *transform.PinholeCameraIntrinsics
	rigSet       map[string]*rigs.Rig
	rigOrder     []string
	rigEstimates map[string]rigs.Estimate
	rigSamples   map[string][]rigs.Sample
	lastFrame    image.Image
	lastSeq      int64
	lastFrameAt  time.Time
	errorCount   int64
	lastError    string
}

func newSession(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}

	return NewSession(ctx, deps, rawConf.ResourceName(), conf, logger)
}

func NewSession(ctx context.Context, deps resource.Dependencies, name resource.Name, conf *Config, logger logging.Logger) (resource.Resource, error) {
	cam, err := camera.FromDependencies(deps, conf.CameraName)
	if err != nil {
		return nil, fmt.Errorf("failed to get camera %q: %w", conf.CameraName, err)
	}

	engineRes, err := deps.GetResource(resource.NewName(generic.API, conf.EngineName))
	if err != nil {
		return nil, fmt.Errorf("failed to get tracking engine %q: %w", conf.EngineName, err)
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())

	s := &session{
		name:       name,
		logger:     logger,
		cfg:        conf,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
		cam:        cam,
		engine:     engine.NewClient(engineRes, logger),
		tracked: scene.NewRegistry(
			func() float64 {
				if conf.Smoothing != nil {
					return *conf.Smoothing
				}
				return 1.0
			}(),
			func() int {
				if conf.GraceFrames != nil {
					return *conf.GraceFrames
				}
				return 5
			}(),
			logger,
		),
		renderer:     overlay.NewRenderer(overlayOptions(conf.Overlay)),
		readyCh:      make(chan struct{}),
		rigSet:       map[string]*rigs.Rig{},
		rigEstimates: map[string]rigs.Estimate{},
		rigSamples:   map[string][]rigs.Sample{},
	}

	for i, mc := range conf.Markers {
		offset, err := poseFromConfig(mc.Offset)
		if err != nil {
			return nil, fmt.Errorf("markers[%d] offset: %w", i, err)
		}
		kind, err := engine.KindFromString(mc.Type)
		if err != nil {
			return nil, fmt.Errorf("markers[%d]: %w", i, err)
		}
		if kind == engine.KindPattern {
			s.tracked.BindPattern(mc.ID, mc.WidthMM, mc.Name, offset)
		} else {
			s.tracked.BindBarcode(mc.ID, mc.WidthMM, mc.Name, offset)
		}
	}

	for _, rc := range conf.Rigs {
		rig, err := buildRig(rc)
		if err != nil {
			return nil, err
		}
		s.rigSet[rig.Name] = rig
		s.rigOrder = append(s.rigOrder, rig.Name)
	}

	if conf.DebugHTTPAddress != "" {
		s.debug = newDebugServer(conf.DebugHTTPAddress, s, logger)
		s.debug.start()
	}

	if conf.AutoStart == nil || *conf.AutoStart {
		s.logger.Info("Starting marker tracking on start")
		if err := s.startPump(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func overlayOptions(cfg *OverlayConfig) overlay.Options {
	opts := overlay.DefaultOptions()
	if cfg == nil {
		return opts
	}
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

func poseFromConfig(m map[string]interface{}) (spatialmath.Pose, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return utils.PoseFromMap(m)
}

func buildRig(rc RigConfig) (*rigs.Rig, error) {
	members := make([]rigs.Member, 0, len(rc.Members))
	for i, mc := range rc.Members {
		kind, err := engine.KindFromString(mc.Type)
		if err != nil {
			return nil, fmt.Errorf("rig %q members[%d]: %w", rc.Name, i, err)
		}
		offset, err := poseFromConfig(mc.Offset)
		if err != nil {
			return nil, fmt.Errorf("rig %q members[%d] offset: %w", rc.Name, i, err)
		}
		members = append(members, rigs.Member{Kind: kind, ID: mc.ID, Offset: offset})
	}
	return rigs.NewRig(rc.Name, members)
}

func (s *session) Name() resource.Name {
	return s.name
}

func (s *session) startPump() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worker != nil {
		return errors.New("tracking already running")
	}
	s.worker = rdk_utils.NewBackgroundStoppableWorkers()
	s.worker.Add(s.trackingLoop)
	return nil
}

func (s *session) stopPump() {
	s.mu.Lock()
	w := s.worker
	s.worker = nil
	s.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

func (s *session) trackingLoop(ctx context.Context) {
	s.logger.Infof("Starting tracking loop at %.1f Hz", s.cfg.UpdateRateHz)
	var updateInterval time.Duration = time.Duration(1.0 / s.cfg.UpdateRateHz * float64(time.Second))
	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.step(ctx); err != nil {
				s.recordError(err)
				s.logger.Errorf("Failed to process frame: %v", err)
			}
		}
	}
}

// step runs one pump tick: grab a frame, bring the engine up if it is not yet,
// and once both halves are ready push the frame through the engine and the
// scene registry.
func (s *session) step(ctx context.Context) error {
	imgs, _, err := s.cam.Images(ctx, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to get images from camera: %w", err)
	}
	if len(imgs) == 0 {
		return errors.New("camera returned no images")
	}
	img, err := imgs[0].Image(ctx)
	if err != nil {
		return fmt.Errorf("failed to decode camera image: %w", err)
	}

	s.mu.Lock()
	if !s.cameraReady {
		s.cameraReady = true
		s.logger.Infof("First frame received from %s (%dx%d)",
			s.cfg.CameraName, img.Bounds().Dx(), img.Bounds().Dy())
		s.markReadyLocked()
	}
	s.lastSeq++
	seq := s.lastSeq
	s.lastFrame = img
	s.lastFrameAt = time.Now()
	s.mu.Unlock()

	if err := s.ensureTracker(ctx); err != nil {
		return err
	}
	s.ensureProjection(ctx, img.Bounds().Dx(), img.Bounds().Dy())

	observations, err := s.engine.ProcessFrame(ctx, seq, img)
	if err != nil {
		return fmt.Errorf("failed to process frame %d: %w", seq, err)
	}

	for _, ev := range s.tracked.Apply(seq, observations) {
		s.logger.Debugf("Marker %s %s at seq %d", utils.MarkerKey(string(ev.Kind), ev.ID), ev.Type, ev.Seq)
	}
	s.refreshRigs()
	return nil
}

// ensureTracker performs the engine handshake once and registers every bound
// marker with the engine. Retried on the next tick if the engine is not up yet.
func (s *session) ensureTracker(ctx context.Context) error {
	s.mu.Lock()
	done := s.trackerReady
	s.mu.Unlock()
	if done {
		return nil
	}

	hs, err := s.engine.Connect(ctx)
	if err != nil {
		return fmt.Errorf("engine handshake failed: %w", err)
	}

	if s.cfg.NearPlane > 0 {
		proj, err := s.engine.SetClipPlanes(ctx, s.cfg.NearPlane, s.cfg.FarPlane)
		if err != nil {
			s.logger.Warnf("Failed to set clip planes on engine: %v", err)
		} else {
			hs.Projection = proj
			hs.HasProjection = true
			hs.Near = s.cfg.NearPlane
			hs.Far = s.cfg.FarPlane
		}
	}

	for _, st := range s.tracked.Snapshot() {
		var terr error
		if st.Kind == engine.KindPattern {
			terr = s.engine.TrackPattern(ctx, st.ID, st.WidthMM)
		} else {
			terr = s.engine.TrackBarcode(ctx, st.ID, st.WidthMM)
		}
		if terr != nil {
			s.logger.Warnf("Failed to register %s with engine: %v",
				utils.MarkerKey(string(st.Kind), st.ID), terr)
		}
	}

	s.mu.Lock()
	s.handshake = hs
	s.trackerReady = true
	s.markReadyLocked()
	s.mu.Unlock()
	return nil
}

func (s *session) markReadyLocked() {
	s.readyCount++
	if s.readyCount == readyParts {
		close(s.readyCh)
		s.logger.Info("Camera and tracking engine both ready")
	}
}

// ensureProjection picks the overlay projection once both the handshake result
// and the frame size are known: the engine's matrix when it sent one, the
// source camera's intrinsics otherwise. With neither, the overlay stays off.
func (s *session) ensureProjection(ctx context.Context, width, height int) {
	s.mu.Lock()
	if s.proj != nil || s.projSource == "none" || !s.trackerReady {
		s.mu.Unlock()
		return
	}
	hs := s.handshake
	s.mu.Unlock()

	if hs.HasProjection {
		w, h := hs.ImageWidth, hs.ImageHeight
		if w <= 0 || h <= 0 {
			w, h = width, height
		}
		proj, err := overlay.FromMatrix(hs.Projection, w, h)
		if err == nil {
			s.mu.Lock()
			s.proj = proj
			s.projSource = "engine"
			s.mu.Unlock()
			s.logger.Infof("Using engine projection matrix for overlay (%dx%d)", w, h)
			return
		}
		s.logger.Warnf("Engine projection matrix unusable: %v", err)
	}

	props, err := s.cam.Properties(ctx)
	if err != nil {
		s.logger.Warnf("Failed to get camera properties: %v", err)
	} else if props.IntrinsicParams != nil {
		proj, perr := overlay.FromIntrinsics(props.IntrinsicParams)
		if perr == nil {
			s.mu.Lock()
			s.proj = proj
			s.intrinsics = props.IntrinsicParams
			s.projSource = "intrinsics"
			s.mu.Unlock()
			s.logger.Infof("Using camera intrinsics for overlay (fx=%.1f fy=%.1f)",
				props.IntrinsicParams.Fx, props.IntrinsicParams.Fy)
			return
		}
		s.logger.Warnf("Camera intrinsics unusable: %v", perr)
	}

	s.mu.Lock()
	s.projSource = "none"
	s.mu.Unlock()
	s.logger.Warn("No projection from engine or camera intrinsics, overlay disabled")
}

func (s *session) refreshRigs() {
	states := s.tracked.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, rig := range s.rigSet {
		est, ok := rig.Fuse(states)
		if !ok {
			delete(s.rigEstimates, name)
			continue
		}
		s.rigEstimates[name] = est
	}
}

func (s *session) recordError(err error) {
	s.mu.Lock()
	s.errorCount++
	s.lastError = err.Error()
	s.mu.Unlock()
}

func (s *session) waitReady(ctx context.Context) error {
	timeout := time.Duration(s.cfg.HandshakeTimeoutS * float64(time.Second))
	select {
	case <-s.readyCh:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("camera and engine not ready after %v", timeout)
	case <-s.cancelCtx.Done():
		return errors.New("session closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ComposedFrame renders the current overlay onto the latest camera frame.
func (s *session) ComposedFrame() (*image.RGBA, int64, error) {
	s.mu.Lock()
	frame := s.lastFrame
	seq := s.lastSeq
	proj := s.proj
	s.mu.Unlock()
	if frame == nil {
		return nil, 0, errors.New("no frame received yet")
	}
	return s.renderer.Compose(frame, proj, s.tracked.Snapshot()), seq, nil
}

func (s *session) statusMap() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := map[string]interface{}{
		"running":        s.worker != nil,
		"ready":          s.readyCount == readyParts,
		"camera_ready":   s.cameraReady,
		"tracker_ready":  s.trackerReady,
		"camera":         s.cfg.CameraName,
		"engine":         s.engine.Name(),
		"update_rate_hz": s.cfg.UpdateRateHz,
		"frames":         s.lastSeq,
		"errors":         s.errorCount,
		"markers":        len(s.tracked.Snapshot()),
		"unbound":        s.tracked.UnboundCount(),
		"projection":     s.projSource,
	}
	if s.trackerReady {
		status["engine_name"] = s.handshake.Engine
		status["engine_version"] = s.handshake.Version
	}
	if s.lastError != "" {
		status["last_error"] = s.lastError
	}
	if !s.lastFrameAt.IsZero() {
		status["last_frame_at"] = s.lastFrameAt.Format(time.RFC3339Nano)
	}
	return status
}

func (s *session) projectionMap() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := map[string]interface{}{"source": s.projSource}
	if s.projSource == "" {
		resp["source"] = "pending"
		return resp
	}
	if s.proj != nil {
		w, h := s.proj.Size()
		resp["width"] = w
		resp["height"] = h
	}
	switch s.projSource {
	case "engine":
		resp["matrix"] = utils.Matrix16ToSlice(s.handshake.Projection)
		resp["near"] = s.handshake.Near
		resp["far"] = s.handshake.Far
	case "intrinsics":
		resp["fx"] = s.intrinsics.Fx
		resp["fy"] = s.intrinsics.Fy
		resp["ppx"] = s.intrinsics.Ppx
		resp["ppy"] = s.intrinsics.Ppy
	}
	return resp
}

func (s *session) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	s.logger.Debugf("DoCommand: %+v", cmd)
	switch cmd["command"] {
	case "status":
		return s.statusMap(), nil

	case "markers":
		return map[string]interface{}{"markers": scene.StatesToMaps(s.tracked.Snapshot())}, nil

	case "events":
		limit := 50
		if raw, ok := cmd["limit"]; ok {
			v, ok := utils.Float64Value(raw)
			if !ok || v < 0 {
				return nil, errors.New("limit must be a non-negative number")
			}
			limit = int(v)
		}
		return map[string]interface{}{"events": scene.EventsToMaps(s.tracked.Events(limit))}, nil

	case "projection":
		return s.projectionMap(), nil

	case "track-pattern":
		return s.trackCommand(ctx, engine.KindPattern, cmd)

	case "track-barcode":
		return s.trackCommand(ctx, engine.KindBarcode, cmd)

	case "untrack":
		return s.untrackCommand(ctx, cmd)

	case "rigs":
		return s.rigsCommand(), nil

	case "calibrate-rig":
		return s.calibrateRigCommand(cmd)

	case "snapshot":
		return s.snapshotCommand(ctx)

	case "engine":
		payload, err := utils.MapFromMap(cmd, "cmd")
		if err != nil {
			return nil, err
		}
		return s.engine.Forward(ctx, payload)

	case "start":
		if err := s.startPump(); err != nil {
			return nil, err
		}
		return map[string]interface{}{"running": true}, nil

	case "stop":
		s.stopPump()
		return map[string]interface{}{"running": false}, nil

	case "wait-ready":
		if err := s.waitReady(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{"ready": true}, nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (s *session) trackCommand(ctx context.Context, kind engine.MarkerKind, cmd map[string]interface{}) (map[string]interface{}, error) {
	id, err := utils.IntFromMap(cmd, "id")
	if err != nil {
		return nil, err
	}
	if id < 0 {
		return nil, errors.New("id cannot be negative")
	}
	widthMM, err := utils.Float64FromMap(cmd, "width_mm")
	if err != nil {
		return nil, err
	}
	if widthMM <= 0 {
		return nil, errors.New("width_mm must be greater than 0")
	}
	name, _ := cmd["name"].(string)
	var offset spatialmath.Pose
	if raw, ok := cmd["offset"]; ok {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, errors.New("offset must be a map")
		}
		offset, err = utils.PoseFromMap(m)
		if err != nil {
			return nil, err
		}
	}

	if kind == engine.KindPattern {
		s.tracked.BindPattern(id, widthMM, name, offset)
	} else {
		s.tracked.BindBarcode(id, widthMM, name, offset)
	}

	s.mu.Lock()
	ready := s.trackerReady
	s.mu.Unlock()
	if ready {
		if kind == engine.KindPattern {
			err = s.engine.TrackPattern(ctx, id, widthMM)
		} else {
			err = s.engine.TrackBarcode(ctx, id, widthMM)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to register marker with engine: %w", err)
		}
	}
	return map[string]interface{}{"marker": utils.MarkerKey(string(kind), id)}, nil
}

func (s *session) untrackCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	typ, err := utils.StringFromMap(cmd, "type")
	if err != nil {
		return nil, err
	}
	kind, err := engine.KindFromString(typ)
	if err != nil {
		return nil, err
	}
	id, err := utils.IntFromMap(cmd, "id")
	if err != nil {
		return nil, err
	}

	removed := s.tracked.Unbind(kind, id)

	s.mu.Lock()
	ready := s.trackerReady
	s.mu.Unlock()
	if ready && removed {
		if err := s.engine.Untrack(ctx, kind, id); err != nil {
			s.logger.Warnf("Failed to unregister %s with engine: %v", utils.MarkerKey(typ, id), err)
		}
	}
	return map[string]interface{}{"removed": removed}, nil
}

func (s *session) rigsCommand() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]interface{}, 0, len(s.rigOrder))
	for _, name := range s.rigOrder {
		rig := s.rigSet[name]
		members := make([]interface{}, 0, len(rig.Members))
		for _, m := range rig.Members {
			members = append(members, m.Key())
		}
		entry := map[string]interface{}{
			"name":    name,
			"members": members,
			"samples": len(s.rigSamples[name]),
		}
		if est, ok := s.rigEstimates[name]; ok {
			used := make([]interface{}, 0, len(est.Used))
			for _, u := range est.Used {
				used = append(used, u)
			}
			entry["visible"] = true
			entry["pose"] = utils.PoseToMap(est.Pose)
			entry["confidence"] = est.Confidence
			entry["used"] = used
		} else {
			entry["visible"] = false
		}
		out = append(out, entry)
	}
	return map[string]interface{}{"rigs": out}
}

func (s *session) calibrateRigCommand(cmd map[string]interface{}) (map[string]interface{}, error) {
	name, err := utils.StringFromMap(cmd, "name")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	rig, ok := s.rigSet[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown rig: %s", name)
	}

	if reset, _ := cmd["reset"].(bool); reset {
		s.mu.Lock()
		s.rigSamples[name] = nil
		s.mu.Unlock()
		return map[string]interface{}{"samples": 0}, nil
	}

	if solve, _ := cmd["solve"].(bool); solve {
		s.mu.Lock()
		samples := append([]rigs.Sample{}, s.rigSamples[name]...)
		s.mu.Unlock()
		offsets, residual, err := rigs.SolveOffsets(rig, samples, s.logger)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		for i := range rig.Members {
			if off, ok := offsets[rig.Members[i].Key()]; ok {
				rig.Members[i].Offset = off
			}
		}
		s.mu.Unlock()
		offsetMaps := map[string]interface{}{}
		for key, pose := range offsets {
			offsetMaps[key] = utils.PoseToMap(pose)
		}
		return map[string]interface{}{
			"offsets":                 offsetMaps,
			"residual_translation_mm": residual.TranslationMM,
			"residual_angle_deg":      residual.AngleDeg,
			"samples":                 len(samples),
		}, nil
	}

	// Default action: capture the current co-visible member poses as one sample.
	sample := rigs.Sample{}
	for _, st := range s.tracked.Snapshot() {
		if !st.Visible || st.MarkerPose == nil || !rig.Has(st.Kind, st.ID) {
			continue
		}
		sample[utils.MarkerKey(string(st.Kind), st.ID)] = st.MarkerPose
	}
	if _, ok := sample[rig.Primary().Key()]; !ok {
		return nil, fmt.Errorf("rig primary %s must be visible to capture a sample", rig.Primary().Key())
	}
	if len(sample) < 2 {
		return nil, errors.New("need at least two visible rig members to capture a sample")
	}
	s.mu.Lock()
	s.rigSamples[name] = append(s.rigSamples[name], sample)
	count := len(s.rigSamples[name])
	s.mu.Unlock()
	return map[string]interface{}{"samples": count}, nil
}

func (s *session) snapshotCommand(ctx context.Context) (map[string]interface{}, error) {
	img, seq, err := s.ComposedFrame()
	if err != nil {
		return nil, err
	}
	data, err := rimage.EncodeImage(ctx, img, rdkutils.MimeTypeJPEG)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	bounds := img.Bounds()
	return map[string]interface{}{
		"seq":    seq,
		"width":  bounds.Dx(),
		"height": bounds.Dy(),
		"format": "jpeg",
		"image":  base64.StdEncoding.EncodeToString(data),
	}, nil
}

func (s *session) Close(ctx context.Context) error {
	s.cancelFunc()
	s.stopPump()
	if s.debug != nil {
		return s.debug.shutdown(ctx)
	}
	return nil
}
