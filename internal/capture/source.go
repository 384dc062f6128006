// Package capture provides frame sources and the annotated display sink.
package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/andresmejia3/vigil/internal/types"
	"github.com/andresmejia3/vigil/internal/utils"
	"gocv.io/x/gocv"
)

const megabyte = 1024 * 1024

// Source produces frames in capture order. Next returns io.EOF at the end of the stream.
type Source interface {
	Next(ctx context.Context) (types.FrameTask, error)
	Close() error
}

// Buffer pool to reduce GC pressure while reading frames
var frameBufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, megabyte) },
}

// Release returns a frame buffer obtained from a Source to the pool.
func Release(buf []byte) {
	if buf != nil {
		frameBufferPool.Put(buf[:0])
	}
}

func pooledCopy(src []byte) []byte {
	buf := frameBufferPool.Get().([]byte)
	if cap(buf) < len(src) {
		buf = make([]byte, len(src))
	}
	buf = buf[:len(src)]
	copy(buf, src)
	return buf
}

// StreamSource splits a concatenated MJPEG stream into frames and stamps
// them with their position in the stream.
type StreamSource struct {
	scanner *bufio.Scanner
	fps     float64
	base    time.Time
	index   int
}

// NewStreamSource reads JPEG frames from r. Frame i (1-based) is stamped base + (i-1)/fps.
func NewStreamSource(r io.Reader, fps float64, base time.Time) *StreamSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)
	return &StreamSource{scanner: scanner, fps: fps, base: base}
}

func (s *StreamSource) Next(ctx context.Context) (types.FrameTask, error) {
	if err := ctx.Err(); err != nil {
		return types.FrameTask{}, err
	}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return types.FrameTask{}, fmt.Errorf("frame scanner failed: %w", err)
		}
		return types.FrameTask{}, io.EOF
	}
	s.index++
	offset := time.Duration(float64(s.index-1) / s.fps * float64(time.Second))
	return types.FrameTask{
		Index:     s.index,
		Data:      pooledCopy(s.scanner.Bytes()),
		Timestamp: s.base.Add(offset),
	}, nil
}

func (s *StreamSource) Close() error { return nil }

// FFmpegSource decodes a video file through ffmpeg into JPEG frames.
type FFmpegSource struct {
	*StreamSource
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
}

// NewFFmpegSource starts ffmpeg on path. fps is used to derive frame timestamps.
func NewFFmpegSource(ctx context.Context, path string, fps float64, base time.Time) (*FFmpegSource, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("invalid fps %f", fps)
	}
	src := &FFmpegSource{cmd: utils.NewFFmpegCmd(ctx, path)}
	src.cmd.Stderr = &src.stderr

	out, err := src.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
	}
	if err := src.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start FFmpeg: %w", err)
	}
	src.stdout = out
	src.StreamSource = NewStreamSource(out, fps, base)
	return src, nil
}

// Close stops reading and waits for ffmpeg, surfacing its log on failure.
func (s *FFmpegSource) Close() error {
	s.stdout.Close()
	if err := s.cmd.Wait(); err != nil {
		if s.stderr.Len() > 0 {
			return fmt.Errorf("ffmpeg execution failed: %w\n%s", err, s.stderr.String())
		}
		return fmt.Errorf("ffmpeg execution failed: %w", err)
	}
	return nil
}

// CameraSource reads from a local capture device through OpenCV.
type CameraSource struct {
	capture *gocv.VideoCapture
	img     gocv.Mat
	device  int
	index   int
}

// NewCameraSource opens capture device id.
func NewCameraSource(device int) (*CameraSource, error) {
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("error opening video capture device %d: %w", device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video capture device %d is not opened", device)
	}
	return &CameraSource{capture: capture, img: gocv.NewMat(), device: device}, nil
}

// Next blocks until the device delivers a frame. Frames are stamped with the
// monotonic clock at capture.
func (c *CameraSource) Next(ctx context.Context) (types.FrameTask, error) {
	for {
		if err := ctx.Err(); err != nil {
			return types.FrameTask{}, err
		}
		if ok := c.capture.Read(&c.img); !ok {
			return types.FrameTask{}, fmt.Errorf("cannot read device %d", c.device)
		}
		now := time.Now()
		if c.img.Empty() {
			continue
		}

		buf, err := gocv.IMEncode(gocv.JPEGFileExt, c.img)
		if err != nil {
			return types.FrameTask{}, fmt.Errorf("encode frame: %w", err)
		}
		data := pooledCopy(buf.GetBytes())
		buf.Close()

		c.index++
		return types.FrameTask{Index: c.index, Data: data, Timestamp: now}, nil
	}
}

func (c *CameraSource) Close() error {
	c.img.Close()
	return c.capture.Close()
}
