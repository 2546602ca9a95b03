package engine

import (
	"armarkertracker/utils"
	"context"
	"encoding/base64"
	"image"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage"
	rdkutils "go.viam.com/rdk/utils"
)

// Client drives an external marker-tracking engine exposed as a generic
// resource. All traffic is DoCommand maps; detection, pose estimation and
// calibration stay on the engine side.
type Client struct {
	res    resource.Resource
	logger logging.Logger
}

// NewClient wraps an engine resource.
func NewClient(res resource.Resource, logger logging.Logger) *Client {
	return &Client{res: res, logger: logger}
}

// Name returns the engine resource's short name for logs and status replies.
func (c *Client) Name() string {
	return c.res.Name().ShortName()
}

func (c *Client) do(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	resp, err := c.res.DoCommand(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if status, ok := resp["status"].(string); ok && status == "error" {
		msg, _ := resp["message"].(string)
		if msg == "" {
			msg = "engine reported an error"
		}
		return nil, errors.New(msg)
	}
	return resp, nil
}

// Connect performs the startup handshake. A missing projection is not an
// error; the caller can fall back to camera intrinsics.
func (c *Client) Connect(ctx context.Context) (Handshake, error) {
	resp, err := c.do(ctx, map[string]interface{}{"command": "handshake"})
	if err != nil {
		return Handshake{}, errors.Wrap(err, "engine handshake failed")
	}
	hs, err := handshakeFromMap(resp)
	if err != nil {
		return Handshake{}, errors.Wrap(err, "engine handshake reply")
	}
	c.logger.Infof("Engine %s reports %s %s (%dx%d, projection: %t)",
		c.Name(), hs.Engine, hs.Version, hs.ImageWidth, hs.ImageHeight, hs.HasProjection)
	return hs, nil
}

// ProcessFrame submits one video frame and returns the markers the engine
// found in it. Malformed marker entries are skipped with a warning so one
// bad entry cannot blank the whole frame.
func (c *Client) ProcessFrame(ctx context.Context, seq int64, img image.Image) ([]Observation, error) {
	if img == nil {
		return nil, errors.New("nil frame")
	}
	jpegBytes, err := rimage.EncodeImage(ctx, img, rdkutils.MimeTypeJPEG)
	if err != nil {
		return nil, errors.Wrap(err, "frame encode failed")
	}
	bounds := img.Bounds()
	resp, err := c.do(ctx, map[string]interface{}{
		"command": "process-frame",
		"seq":     float64(seq),
		"width":   float64(bounds.Dx()),
		"height":  float64(bounds.Dy()),
		"format":  rdkutils.MimeTypeJPEG,
		"image":   base64.StdEncoding.EncodeToString(jpegBytes),
	})
	if err != nil {
		return nil, errors.Wrap(err, "engine process-frame failed")
	}

	raw, ok := resp["markers"]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, errors.New("markers reply is not a list")
	}
	out := make([]Observation, 0, len(list))
	for i, entry := range list {
		m, ok := entry.(map[string]interface{})
		if !ok {
			c.logger.Warnf("Skipping marker entry %d: not a map", i)
			continue
		}
		obs, err := observationFromMap(m)
		if err != nil {
			c.logger.Warnf("Skipping marker entry %d: %v", i, err)
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

// TrackPattern registers a pattern marker id with the engine. The physical
// width scales the translation the engine reports.
func (c *Client) TrackPattern(ctx context.Context, id int, widthMM float64) error {
	_, err := c.do(ctx, map[string]interface{}{
		"command":  "track-pattern",
		"id":       float64(id),
		"width_mm": widthMM,
	})
	if err != nil {
		return errors.Wrapf(err, "track pattern %d", id)
	}
	return nil
}

// TrackBarcode registers a barcode (matrix) marker id with the engine.
func (c *Client) TrackBarcode(ctx context.Context, id int, widthMM float64) error {
	_, err := c.do(ctx, map[string]interface{}{
		"command":  "track-barcode",
		"id":       float64(id),
		"width_mm": widthMM,
	})
	if err != nil {
		return errors.Wrapf(err, "track barcode %d", id)
	}
	return nil
}

// Untrack tells the engine to stop reporting a marker.
func (c *Client) Untrack(ctx context.Context, kind MarkerKind, id int) error {
	_, err := c.do(ctx, map[string]interface{}{
		"command": "untrack",
		"type":    string(kind),
		"id":      float64(id),
	})
	if err != nil {
		return errors.Wrapf(err, "untrack %s %d", kind, id)
	}
	return nil
}

// SetClipPlanes asks the engine to rebuild its projection matrix with new
// near/far planes and returns the rebuilt matrix.
func (c *Client) SetClipPlanes(ctx context.Context, near, far float64) ([16]float64, error) {
	var zero [16]float64
	if near <= 0 || far <= near {
		return zero, errors.Errorf("bad clip planes near=%f far=%f", near, far)
	}
	resp, err := c.do(ctx, map[string]interface{}{
		"command": "set-clip-planes",
		"near":    near,
		"far":     far,
	})
	if err != nil {
		return zero, errors.Wrap(err, "set clip planes")
	}
	raw, ok := resp["projection"]
	if !ok {
		return zero, errors.New("engine returned no projection")
	}
	m, err := utils.Matrix16FromValue(raw)
	if err != nil {
		return zero, errors.Wrap(err, "projection")
	}
	return m, nil
}

// Forward passes an arbitrary command straight through to the engine.
// Thresholds, detection modes and debug toggles stay engine-specific.
func (c *Client) Forward(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return c.res.DoCommand(ctx, cmd)
}
