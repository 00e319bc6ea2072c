package detector

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/inconsolata"
	"golang.org/x/image/math/fixed"
)

const (
	lineWidth  = 5
	lineLength = 60
)

var markupColor = color.RGBA{255, 0, 0, 255}

// Markup copies img and draws corner brackets and a "label - confidence"
// caption around every prediction.
func Markup(img image.Image, predictions []Prediction) image.Image {
	bounds := img.Bounds()
	boxes := image.NewRGBA(bounds)
	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			boxes.Set(x, y, img.At(x, y))
		}
	}

	fill := func(x0, y0, x1, y1 int) {
		for x := x0; x < x1; x++ {
			for y := y0; y < y1; y++ {
				boxes.Set(x, y, markupColor)
			}
		}
	}

	for _, p := range predictions {
		minX, minY, maxX, maxY := p.X_min, p.Y_min, p.X_max, p.Y_max
		// top left
		fill(minX, minY, minX+lineLength, minY+lineWidth)
		fill(minX, minY, minX+lineWidth, minY+lineLength)
		// top right
		fill(maxX-lineLength+1, minY, maxX+1, minY+lineWidth)
		fill(maxX-lineWidth+1, minY, maxX+1, minY+lineLength)
		// bottom left
		fill(minX, maxY-lineWidth+1, minX+lineLength, maxY+1)
		fill(minX, maxY-lineLength+1, minX+lineWidth, maxY+1)
		// bottom right
		fill(maxX-lineLength+1, maxY-lineWidth+1, maxX+1, maxY+1)
		fill(maxX-lineWidth+1, maxY-lineLength+1, maxX+1, maxY+1)

		d := &font.Drawer{
			Dst:  boxes,
			Src:  image.NewUniform(markupColor),
			Face: inconsolata.Bold8x16,
			Dot:  fixed.Point26_6{X: fixed.I(minX), Y: fixed.I(minY - 3)},
		}
		d.DrawString(fmt.Sprintf("%s - %.03f", p.Label, p.Confidence))
	}

	return boxes
}
