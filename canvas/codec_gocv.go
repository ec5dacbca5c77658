//go:build gocv
// +build gocv

package canvas

import (
	"bytes"
	"errors"
	"image"

	"gocv.io/x/gocv"
)

// decode goes through OpenCV so uploads accept whatever imdecode supports.
func decode(data []byte) (image.Image, string, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, "", err
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, "", errors.New("decoded image is empty or unsupported format")
	}
	if err := checkSourceSize(mat.Cols(), mat.Rows()); err != nil {
		return nil, "", err
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, "", err
	}
	return img, "opencv", nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return bytes.Clone(buf.GetBytes()), nil
}
