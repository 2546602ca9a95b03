package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"sync"
	"time"

	"github.com/erh/vmodutils"
	"github.com/hajimehoshi/ebiten/v2"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage"
	rdkutils "go.viam.com/rdk/utils"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	cameraName := flag.String("camera", "ar-camera", "name of the overlay camera on the machine")
	fps := flag.Int("fps", 15, "frame poll rate")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := logging.NewLogger("viewer")

	machine, err := vmodutils.ConnectToMachineFromEnv(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to machine: %w", err)
	}
	defer machine.Close(ctx)

	cam, err := camera.FromRobot(machine, *cameraName)
	if err != nil {
		return fmt.Errorf("failed to find camera %q: %w", *cameraName, err)
	}

	v := &viewer{logger: logger}
	go v.poll(ctx, cam, *fps)

	ebiten.SetWindowTitle("ar-marker-tracker (" + *cameraName + ")")
	ebiten.SetWindowSize(960, 720)
	ebiten.SetTPS(30)
	return ebiten.RunGame(v)
}

// viewer displays the overlay camera's composited frames in a desktop window.
// Frames are fetched on their own goroutine so a slow machine connection never
// stalls the draw loop.
type viewer struct {
	logger logging.Logger

	mu    sync.Mutex
	frame *image.RGBA

	img *ebiten.Image
}

func (v *viewer) poll(ctx context.Context, cam camera.Camera, fps int) {
	if fps <= 0 {
		fps = 15
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, _, err := cam.Image(ctx, rdkutils.MimeTypeJPEG, nil)
			if err != nil {
				v.logger.Debugf("Failed to fetch frame: %v", err)
				continue
			}
			decoded, err := rimage.DecodeImage(ctx, data, rdkutils.MimeTypeJPEG)
			if err != nil {
				v.logger.Warnf("Failed to decode frame: %v", err)
				continue
			}
			bounds := decoded.Bounds()
			rgba := image.NewRGBA(bounds)
			draw.Draw(rgba, bounds, decoded, bounds.Min, draw.Src)

			v.mu.Lock()
			v.frame = rgba
			v.mu.Unlock()
		}
	}
}

func (v *viewer) Update() error {
	return nil
}

func (v *viewer) Draw(screen *ebiten.Image) {
	v.mu.Lock()
	frame := v.frame
	v.mu.Unlock()
	if frame == nil {
		return
	}

	w := frame.Bounds().Dx()
	h := frame.Bounds().Dy()
	if v.img == nil || v.img.Bounds().Dx() != w || v.img.Bounds().Dy() != h {
		if v.img != nil {
			v.img.Deallocate()
		}
		v.img = ebiten.NewImage(w, h)
	}
	v.img.WritePixels(frame.Pix)
	screen.DrawImage(v.img, nil)
}

func (v *viewer) Layout(outsideWidth, outsideHeight int) (int, int) {
	v.mu.Lock()
	frame := v.frame
	v.mu.Unlock()
	if frame == nil {
		return 640, 480
	}
	return frame.Bounds().Dx(), frame.Bounds().Dy()
}
