package canvas

import (
	"image"
	"image/color"
)

// drawLine walks the segment with Bresenham and stamps a round brush at every
// step, which gives round caps and joins for free.
func drawLine(img *image.RGBA, from, to image.Point, width int, col color.RGBA) {
	x0, y0 := from.X, from.Y
	x1, y1 := to.X, to.Y
	dx := abs(x1 - x0)
	dy := abs(y1 - y0)
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx - dy
	for {
		stamp(img, x0, y0, width, col)
		if x0 == x1 && y0 == y1 {
			break
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

// stamp paints a disc exactly width pixels across. Odd widths are centred on
// the pixel (cx, cy), even widths on its top-left corner; a pixel is painted
// when its centre lies inside the disc.
func stamp(img *image.RGBA, cx, cy, width int, col color.RGBA) {
	r := float64(width) / 2
	ox, oy := float64(cx), float64(cy)
	if width%2 == 1 {
		ox += 0.5
		oy += 0.5
	}
	reach := width/2 + 1
	b := img.Bounds()
	for py := max(cy-reach, b.Min.Y); py <= cy+reach && py < b.Max.Y; py++ {
		fy := float64(py) + 0.5 - oy
		for px := max(cx-reach, b.Min.X); px <= cx+reach && px < b.Max.X; px++ {
			fx := float64(px) + 0.5 - ox
			if fx*fx+fy*fy <= r*r {
				img.SetRGBA(px, py, col)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
