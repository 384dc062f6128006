package capture

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/andresmejia3/vigil/internal/monitor"
	"gocv.io/x/gocv"
)

// ErrQuit is returned by a Display when the viewer asked to stop.
var ErrQuit = errors.New("display closed by user")

const (
	escKey = 27
	qKey   = 'q'
)

var (
	boxColor      = color.RGBA{G: 255, A: 255}
	landmarkColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Display receives every analysed frame with its update.
type Display interface {
	Show(jpeg []byte, u monitor.Update) error
	Close() error
}

// Annotate draws the subject box, its landmarks and the current label onto img.
func Annotate(img *gocv.Mat, u monitor.Update) {
	if u.Face != nil {
		b := u.Face.Box
		gocv.Rectangle(img, image.Rect(b[0], b[1], b[2], b[3]), boxColor, 2)
		for _, p := range u.Face.Landmarks {
			gocv.Circle(img, image.Pt(int(p.X), int(p.Y)), 1, landmarkColor, -1)
		}
	}

	label := u.State.Label
	gocv.PutText(img, label.Banner(), image.Pt(100, 100), gocv.FontHersheySimplex, 1.2, label.Color(), 3)

	info := fmt.Sprintf("EAR %.2f  blinks %d  closed %.1fs", u.EAR, u.State.Blinks, u.State.ClosureDuration.Seconds())
	gocv.PutText(img, info, image.Pt(10, img.Rows()-15), gocv.FontHersheyPlain, 1.2, landmarkColor, 1)
}

// WindowDisplay shows annotated frames in an OpenCV window.
type WindowDisplay struct {
	window *gocv.Window
}

// NewWindowDisplay opens a window with the given title.
func NewWindowDisplay(title string) *WindowDisplay {
	return &WindowDisplay{window: gocv.NewWindow(title)}
}

func (d *WindowDisplay) Show(jpeg []byte, u monitor.Update) error {
	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()

	Annotate(&img, u)
	d.window.IMShow(img)
	switch d.window.WaitKey(1) {
	case escKey, qKey:
		return ErrQuit
	}
	return nil
}

func (d *WindowDisplay) Close() error {
	return d.window.Close()
}

// DebugFrameWriter saves an annotated JPEG whenever the label changes.
type DebugFrameWriter struct {
	dir string
}

// NewDebugFrameWriter creates dir if needed.
func NewDebugFrameWriter(dir string) (*DebugFrameWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DebugFrameWriter{dir: dir}, nil
}

func (d *DebugFrameWriter) Show(jpeg []byte, u monitor.Update) error {
	if u.Transition == nil {
		return nil
	}
	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()

	Annotate(&img, u)
	name := filepath.Join(d.dir, fmt.Sprintf("frame_%06d_%s.jpg", u.Index, u.Transition.To))
	if ok := gocv.IMWrite(name, img); !ok {
		return fmt.Errorf("failed to write %s", name)
	}
	return nil
}

func (d *DebugFrameWriter) Close() error { return nil }
