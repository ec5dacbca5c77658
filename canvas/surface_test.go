package canvas

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	iface "SketchDetect/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allWhite(img *image.RGBA) bool {
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xff || img.Pix[i+1] != 0xff || img.Pix[i+2] != 0xff || img.Pix[i+3] != 0xff {
			return false
		}
	}
	return true
}

func encodePNG(t *testing.T, w, h int, col color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, col)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSurface_Defaults(t *testing.T) {
	s := New(0, 0, 0)
	assert.Equal(t, DefaultWidth, s.Width())
	assert.Equal(t, DefaultHeight, s.Height())
	assert.Equal(t, DefaultBrushSize, s.BrushSize())
	assert.True(t, allWhite(s.Snapshot()))
}

func TestSurface_Stroke(t *testing.T) {
	s := New(64, 64, 3)

	t.Run("Test Extend Without Begin", func(t *testing.T) {
		s.Extend(iface.Point{X: 10, Y: 10})
		assert.True(t, allWhite(s.Snapshot()))
	})

	t.Run("Test Begin Paints Nothing", func(t *testing.T) {
		s.Begin(iface.Point{X: 10, Y: 10})
		assert.True(t, s.Drawing())
		assert.True(t, allWhite(s.Snapshot()))
	})

	t.Run("Test Extend Paints Segment", func(t *testing.T) {
		s.Extend(iface.Point{X: 40, Y: 10})
		img := s.Snapshot()
		assert.Equal(t, Ink, img.RGBAAt(10, 10))
		assert.Equal(t, Ink, img.RGBAAt(25, 10))
		assert.Equal(t, Ink, img.RGBAAt(40, 10))
		assert.Equal(t, Ink, img.RGBAAt(25, 11))
		assert.Equal(t, Background, img.RGBAAt(25, 20))
	})

	t.Run("Test End Stops Painting", func(t *testing.T) {
		s.End()
		assert.False(t, s.Drawing())
		before := s.Snapshot()
		s.Extend(iface.Point{X: 40, Y: 50})
		assert.Equal(t, before.Pix, s.Snapshot().Pix)
	})

	t.Run("Test Stroke Clipped At Edge", func(t *testing.T) {
		s.Begin(iface.Point{X: -20, Y: 63})
		assert.NotPanics(t, func() { s.Extend(iface.Point{X: 100, Y: 63}) })
		assert.Equal(t, Ink, s.Snapshot().RGBAAt(0, 63))
		s.End()
	})

	t.Run("Test Reset", func(t *testing.T) {
		s.Begin(iface.Point{X: 1, Y: 1})
		s.Reset()
		assert.False(t, s.Drawing())
		assert.True(t, allWhite(s.Snapshot()))
	})
}

func TestSurface_BrushWidthIsExact(t *testing.T) {
	for width := MinBrushSize; width <= 12; width++ {
		s := New(64, 64, width)
		s.Begin(iface.Point{X: 10, Y: 32})
		s.Extend(iface.Point{X: 50, Y: 32})
		img := s.Snapshot()
		rows := 0
		for y := 0; y < 64; y++ {
			if img.RGBAAt(30, y) == Ink {
				rows++
			}
		}
		assert.Equal(t, width, rows, "brush %d", width)
	}
}

func TestSurface_SetBrushSize(t *testing.T) {
	s := New(16, 16, 5)
	assert.Equal(t, MinBrushSize, s.SetBrushSize(0))
	assert.Equal(t, MaxBrushSize, s.SetBrushSize(500))
	assert.Equal(t, 12, s.SetBrushSize(12))
	assert.Equal(t, 12, s.BrushSize())
}

func TestFitRect(t *testing.T) {
	cases := []struct {
		name       string
		srcW, srcH int
		want       image.Rectangle
	}{
		{"wide", 1024, 256, image.Rect(0, 192, 512, 320)},
		{"tall", 100, 400, image.Rect(192, 0, 320, 512)},
		{"square upscale", 64, 64, image.Rect(0, 0, 512, 512)},
		{"odd", 333, 777, image.Rect(146, 0, 365, 512)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := FitRect(c.srcW, c.srcH, 512, 512)
			assert.Equal(t, c.want, got)
			assert.True(t, got.In(image.Rect(0, 0, 512, 512)))
			srcRatio := float64(c.srcW) / float64(c.srcH)
			gotRatio := float64(got.Dx()) / float64(got.Dy())
			assert.InDelta(t, srcRatio, gotRatio, 0.01)
		})
	}
}

func TestSurface_LoadImage(t *testing.T) {
	s := New(512, 512, 5)
	s.Begin(iface.Point{X: 5, Y: 5})
	s.Extend(iface.Point{X: 500, Y: 5})

	t.Run("Test Replaces Content And Centers", func(t *testing.T) {
		red := color.RGBA{R: 0xff, A: 0xff}
		p, err := s.LoadImage(encodePNG(t, 200, 50, red))
		require.NoError(t, err)
		assert.Equal(t, "png", p.Format)
		assert.Equal(t, image.Pt(200, 50), p.Source)
		assert.Equal(t, image.Rect(0, 192, 512, 320), p.Rect)
		assert.False(t, s.Drawing())

		img := s.Snapshot()
		assert.Equal(t, Background, img.RGBAAt(256, 5), "previous stroke must be gone")
		assert.Equal(t, Background, img.RGBAAt(256, 100))
		assert.Equal(t, red, img.RGBAAt(256, 256))
	})

	t.Run("Test Empty Data", func(t *testing.T) {
		_, err := s.LoadImage(nil)
		assert.ErrorIs(t, err, ErrEmptyImage)
	})

	t.Run("Test Garbage Data", func(t *testing.T) {
		_, err := s.LoadImage([]byte("not an image"))
		assert.Error(t, err)
	})

	t.Run("Test Oversized Header Rejected", func(t *testing.T) {
		before := s.Snapshot()
		_, err := s.LoadImage(pngHeaderOnly(20000, 20000))
		assert.ErrorIs(t, err, ErrImageTooLarge)
		assert.Equal(t, before.Pix, s.Snapshot().Pix)
	})

	t.Run("Test Largest Side Accepted By Header Check", func(t *testing.T) {
		_, err := s.LoadImage(pngHeaderOnly(MaxSourceSide, 1))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrImageTooLarge)
	})
}

// pngHeaderOnly builds a PNG that declares w×h RGBA pixels but carries no
// image data.
func pngHeaderOnly(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := func(typ string, data []byte) {
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(data)))
		body := append([]byte(typ), data...)
		buf.Write(body)
		_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(body))
	}
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA
	chunk("IHDR", ihdr)
	chunk("IEND", nil)
	return buf.Bytes()
}

func TestSurface_Encode(t *testing.T) {
	s := New(32, 32, 5)
	s.Begin(iface.Point{X: 0, Y: 16})
	s.Extend(iface.Point{X: 31, Y: 16})

	t.Run("Test JPEG", func(t *testing.T) {
		b64, err := s.Base64JPEG(0.8)
		require.NoError(t, err)
		raw, err := base64.StdEncoding.DecodeString(b64)
		require.NoError(t, err)
		img, err := jpeg.Decode(bytes.NewReader(raw))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 32, 32), img.Bounds())
	})

	t.Run("Test PNG", func(t *testing.T) {
		data, err := s.PNG()
		require.NoError(t, err)
		img, err := png.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		r, g, b, _ := img.At(16, 16).RGBA()
		assert.Zero(t, r+g+b)
	})

	t.Run("Test Quality Mapping", func(t *testing.T) {
		assert.Equal(t, 80, jpegQuality(0.8))
		assert.Equal(t, 100, jpegQuality(1))
		assert.Equal(t, 80, jpegQuality(0))
		assert.Equal(t, 1, jpegQuality(0.001))
	})
}
