package browseragent

import (
	"bytes"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	xdraw "golang.org/x/image/draw"
)

// GifRecorder Collects screenshots of a run and writes them as an animated GIF
type GifRecorder struct {
	mu     sync.Mutex
	width  int
	delay  int
	frames []*image.Paletted
}

// NewGifRecorder Frames are scaled down to width pixels, delay is per frame in 100ths of a second
func NewGifRecorder(width int, delay int) *GifRecorder {
	if width <= 0 {
		width = 800
	}
	if delay <= 0 {
		delay = 100
	}
	return &GifRecorder{width: width, delay: delay}
}

// AddPNG Append a PNG screenshot as a frame
func (g *GifRecorder) AddPNG(data []byte) error {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	g.Add(img)
	return nil
}

// Add Append a frame
func (g *GifRecorder) Add(img image.Image) {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width > g.width {
		height = height * g.width / width
		width = g.width
	}
	if width == 0 || height == 0 {
		return
	}
	scaled := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, b, xdraw.Src, nil)

	frame := image.NewPaletted(scaled.Bounds(), palette.Plan9)
	draw.FloydSteinberg.Draw(frame, frame.Bounds(), scaled, image.Point{})

	g.mu.Lock()
	g.frames = append(g.frames, frame)
	g.mu.Unlock()
}

// Len Number of frames recorded
func (g *GifRecorder) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.frames)
}

// Save Write the recording to path, returns false when there was nothing to write
func (g *GifRecorder) Save(path string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.frames) == 0 {
		return false, nil
	}

	anim := &gif.GIF{Image: g.frames, Delay: make([]int, len(g.frames))}
	for i := range anim.Delay {
		anim.Delay[i] = g.delay
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	file, err := os.Create(path)
	if err != nil {
		return false, err
	}
	defer file.Close()
	if err := gif.EncodeAll(file, anim); err != nil {
		return false, err
	}
	return true, nil
}
