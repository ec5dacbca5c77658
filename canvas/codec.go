//go:build !gocv
// +build !gocv

package canvas

import (
	"bytes"
	"image"
	"image/jpeg"
)

func decode(data []byte) (image.Image, string, error) {
	return image.Decode(bytes.NewReader(data))
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
