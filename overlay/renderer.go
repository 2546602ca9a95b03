package overlay

import (
	"armarkertracker/scene"
	"image"
	"image/color"
	"image/draw"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Options selects what gets drawn over each visible marker.
type Options struct {
	Axes   bool
	Cube   bool
	Labels bool
	Color  color.RGBA
	LinePx int
}

// DefaultOptions draws everything in green with 2 px lines.
func DefaultOptions() Options {
	return Options{
		Axes:   true,
		Cube:   true,
		Labels: true,
		Color:  color.RGBA{R: 0, G: 255, B: 0, A: 255},
		LinePx: 2,
	}
}

// ParseColor converts a color name to a drawing color.
func ParseColor(colorName string) color.RGBA {
	switch colorName {
	case "red":
		return color.RGBA{R: 255, G: 0, B: 0, A: 255}
	case "green":
		return color.RGBA{R: 0, G: 255, B: 0, A: 255}
	case "blue":
		return color.RGBA{R: 0, G: 0, B: 255, A: 255}
	case "white":
		return color.RGBA{R: 255, G: 255, B: 255, A: 255}
	case "black":
		return color.RGBA{R: 0, G: 0, B: 0, A: 255}
	case "yellow":
		return color.RGBA{R: 255, G: 255, B: 0, A: 255}
	case "cyan":
		return color.RGBA{R: 0, G: 255, B: 255, A: 255}
	case "magenta":
		return color.RGBA{R: 255, G: 0, B: 255, A: 255}
	default:
		return color.RGBA{R: 0, G: 255, B: 0, A: 255}
	}
}

var (
	axisXColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	axisYColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	axisZColor = color.RGBA{R: 0, G: 0, B: 255, A: 255}
)

// Renderer composites marker geometry over video frames. Rendering is
// deterministic: the same frame and anchor states produce the same image.
type Renderer struct {
	opts Options
}

// NewRenderer builds a renderer, filling in zero options.
func NewRenderer(opts Options) *Renderer {
	if opts.LinePx <= 0 {
		opts.LinePx = 2
	}
	if opts.Color.A == 0 {
		opts.Color = DefaultOptions().Color
	}
	return &Renderer{opts: opts}
}

// Compose copies the frame and draws every visible anchor over it. A nil
// projection yields a plain copy.
func (r *Renderer) Compose(frame image.Image, proj *Projection, anchors []scene.AnchorState) *image.RGBA {
	bounds := frame.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, frame, bounds.Min, draw.Src)
	if proj == nil {
		return rgba
	}

	for _, anchor := range anchors {
		if !anchor.Visible || anchor.MarkerPose == nil {
			continue
		}
		mv := mgl64.Mat4(anchor.ModelView)
		if r.opts.Cube {
			r.drawCube(rgba, proj, mv, anchor.WidthMM)
		}
		if r.opts.Axes {
			r.drawAxes(rgba, proj, mv, anchor.WidthMM)
		}
		if r.opts.Labels {
			r.drawLabel(rgba, proj, mv, anchor.Name)
		}
	}
	return rgba
}

// drawAxes draws the marker frame: X red, Y green, Z blue, each one marker
// width long.
func (r *Renderer) drawAxes(img *image.RGBA, proj *Projection, mv mgl64.Mat4, widthMM float64) {
	origin := mgl64.Vec3{}
	axes := []struct {
		tip mgl64.Vec3
		col color.RGBA
	}{
		{mgl64.Vec3{widthMM, 0, 0}, axisXColor},
		{mgl64.Vec3{0, widthMM, 0}, axisYColor},
		{mgl64.Vec3{0, 0, widthMM}, axisZColor},
	}
	for _, axis := range axes {
		r.line3D(img, proj, mv, origin, axis.tip, axis.col)
	}
}

// drawCube draws a wireframe cube of the marker's physical width sitting on
// the marker plane.
func (r *Renderer) drawCube(img *image.RGBA, proj *Projection, mv mgl64.Mat4, widthMM float64) {
	h := widthMM / 2
	bottom := [4]mgl64.Vec3{
		{-h, -h, 0},
		{h, -h, 0},
		{h, h, 0},
		{-h, h, 0},
	}
	top := [4]mgl64.Vec3{
		{-h, -h, widthMM},
		{h, -h, widthMM},
		{h, h, widthMM},
		{-h, h, widthMM},
	}
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		r.line3D(img, proj, mv, bottom[i], bottom[j], r.opts.Color)
		r.line3D(img, proj, mv, top[i], top[j], r.opts.Color)
		r.line3D(img, proj, mv, bottom[i], top[i], r.opts.Color)
	}
}

func (r *Renderer) drawLabel(img *image.RGBA, proj *Projection, mv mgl64.Mat4, label string) {
	if label == "" {
		return
	}
	x, y, _, visible := proj.Project(mv, mgl64.Vec3{})
	if !visible {
		return
	}
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(r.opts.Color),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(int(x+0.5)+4, int(y+0.5)-4),
	}
	drawer.DrawString(label)
}

func (r *Renderer) line3D(img *image.RGBA, proj *Projection, mv mgl64.Mat4, from, to mgl64.Vec3, col color.RGBA) {
	x0, y0, _, visible0 := proj.Project(mv, from)
	x1, y1, _, visible1 := proj.Project(mv, to)
	if !visible0 || !visible1 {
		return
	}
	r.line2D(img, int(x0+0.5), int(y0+0.5), int(x1+0.5), int(y1+0.5), col)
}

// line2D is integer Bresenham with the configured thickness, clipped to the
// image bounds. Segments that cannot touch the image are rejected up front
// so extreme projections never walk far off screen.
func (r *Renderer) line2D(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	bounds := img.Bounds()
	const overscan = 4096
	if min(x0, x1) > bounds.Max.X || max(x0, x1) < bounds.Min.X ||
		min(y0, y1) > bounds.Max.Y || max(y0, y1) < bounds.Min.Y {
		return
	}
	if min(x0, x1) < bounds.Min.X-overscan || max(x0, x1) > bounds.Max.X+overscan ||
		min(y0, y1) < bounds.Min.Y-overscan || max(y0, y1) > bounds.Max.Y+overscan {
		return
	}

	dx := x1 - x0
	if dx < 0 {
		dx = -dx
	}
	dy := y1 - y0
	if dy < 0 {
		dy = -dy
	}
	sx := 1
	if x0 > x1 {
		sx = -1
	}
	sy := 1
	if y0 > y1 {
		sy = -1
	}
	err := dx - dy

	for {
		r.plot(img, x0, y0, col)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

func (r *Renderer) plot(img *image.RGBA, x, y int, col color.RGBA) {
	bounds := img.Bounds()
	half := r.opts.LinePx / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			px := x + dx
			py := y + dy
			if px >= bounds.Min.X && px < bounds.Max.X && py >= bounds.Min.Y && py < bounds.Max.Y {
				img.Set(px, py, col)
			}
		}
	}
}
