// Package canvas holds the raster surface strokes are painted on.
//
// A Surface is not safe for concurrent use; the owning session serializes
// access to it.
package canvas

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	iface "SketchDetect/interface"

	xdraw "golang.org/x/image/draw"
)

const (
	DefaultWidth     = 512
	DefaultHeight    = 512
	DefaultBrushSize = 5
	MinBrushSize     = 1
	MaxBrushSize     = 50

	// MaxSourceSide bounds each dimension of an uploaded image.
	MaxSourceSide = 8192
)

var (
	Background = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	Ink        = color.RGBA{A: 0xff}

	ErrEmptyImage    = errors.New("empty image data")
	ErrImageTooLarge = errors.New("image dimensions too large")
)

type Surface struct {
	img     *image.RGBA
	brush   int
	drawing bool
	last    image.Point
}

// Placement describes where an uploaded image ended up on the surface.
type Placement struct {
	Format string
	Source image.Point
	Rect   image.Rectangle
}

func New(width, height, brush int) *Surface {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	if brush <= 0 {
		brush = DefaultBrushSize
	}
	s := &Surface{
		img:   image.NewRGBA(image.Rect(0, 0, width, height)),
		brush: clampBrush(brush),
	}
	s.fill()
	return s
}

func (s *Surface) Bounds() image.Rectangle { return s.img.Bounds() }
func (s *Surface) Width() int              { return s.img.Bounds().Dx() }
func (s *Surface) Height() int             { return s.img.Bounds().Dy() }
func (s *Surface) BrushSize() int          { return s.brush }
func (s *Surface) Drawing() bool           { return s.drawing }

// SetBrushSize applies a new stroke width and returns the clamped value.
func (s *Surface) SetBrushSize(n int) int {
	s.brush = clampBrush(n)
	return s.brush
}

// Begin starts a path at p. Nothing is painted until the pointer moves.
func (s *Surface) Begin(p iface.Point) {
	s.drawing = true
	s.last = toPixel(p)
}

// Extend paints a segment from the last position to p while a stroke is active.
func (s *Surface) Extend(p iface.Point) {
	if !s.drawing {
		return
	}
	next := toPixel(p)
	drawLine(s.img, s.last, next, s.brush, Ink)
	s.last = next
}

func (s *Surface) End() {
	s.drawing = false
}

// Reset clears the surface to white and drops any active stroke.
func (s *Surface) Reset() {
	s.drawing = false
	s.fill()
}

// LoadImage replaces the surface content with data scaled to fit and centered.
func (s *Surface) LoadImage(data []byte) (Placement, error) {
	if len(data) == 0 {
		return Placement{}, ErrEmptyImage
	}
	// headers are checked before any pixel buffer is allocated
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	switch {
	case err == nil:
		if err := checkSourceSize(cfg.Width, cfg.Height); err != nil {
			return Placement{}, err
		}
	case !errors.Is(err, image.ErrFormat):
		return Placement{}, fmt.Errorf("decode image: %w", err)
	}
	src, format, err := decode(data)
	if err != nil {
		return Placement{}, fmt.Errorf("decode image: %w", err)
	}
	sb := src.Bounds()
	if sb.Empty() {
		return Placement{}, ErrEmptyImage
	}
	if err := checkSourceSize(sb.Dx(), sb.Dy()); err != nil {
		return Placement{}, err
	}
	dst := FitRect(sb.Dx(), sb.Dy(), s.Width(), s.Height())
	s.drawing = false
	s.fill()
	xdraw.CatmullRom.Scale(s.img, dst, src, sb, draw.Over, nil)
	return Placement{Format: format, Source: image.Pt(sb.Dx(), sb.Dy()), Rect: dst}, nil
}

// FitRect scales a srcW×srcH image to fit inside dstW×dstH, keeping its aspect
// ratio, and centers it.
func FitRect(srcW, srcH, dstW, dstH int) image.Rectangle {
	scale := math.Min(float64(dstW)/float64(srcW), float64(dstH)/float64(srcH))
	w := min(max(int(math.Round(float64(srcW)*scale)), 1), dstW)
	h := min(max(int(math.Round(float64(srcH)*scale)), 1), dstH)
	x := (dstW - w) / 2
	y := (dstH - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// Snapshot returns a copy of the current raster.
func (s *Surface) Snapshot() *image.RGBA {
	out := image.NewRGBA(s.img.Bounds())
	copy(out.Pix, s.img.Pix)
	return out
}

// EncodeJPEG encodes the surface with quality in (0, 1], the way a canvas
// toDataURL("image/jpeg", q) call takes it.
func (s *Surface) EncodeJPEG(quality float64) ([]byte, error) {
	return encodeJPEG(s.img, jpegQuality(quality))
}

// Base64JPEG is EncodeJPEG without the data URL prefix.
func (s *Surface) Base64JPEG(quality float64) (string, error) {
	data, err := s.EncodeJPEG(quality)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (s *Surface) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, s.img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Surface) fill() {
	draw.Draw(s.img, s.img.Bounds(), &image.Uniform{C: Background}, image.Point{}, draw.Src)
}

func jpegQuality(q float64) int {
	if q <= 0 || q > 1 {
		q = 0.8
	}
	return min(max(int(math.Round(q*100)), 1), 100)
}

func checkSourceSize(w, h int) error {
	if w > MaxSourceSide || h > MaxSourceSide {
		return fmt.Errorf("%w: %dx%d exceeds %dx%d", ErrImageTooLarge, w, h, MaxSourceSide, MaxSourceSide)
	}
	return nil
}

func clampBrush(n int) int {
	return min(max(n, MinBrushSize), MaxBrushSize)
}

func toPixel(p iface.Point) image.Point {
	return image.Pt(int(math.Floor(p.X)), int(math.Floor(p.Y)))
}
