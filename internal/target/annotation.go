package target

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

// Annotation describes the overlay a preview should draw for a frame.
type Annotation struct {
	Circles  []Circle `json:"circles"`
	Selected int      `json:"selected"` // index into Circles, -1 for none
	Label    string   `json:"label"`
}

var (
	selectedColor  = color.RGBA{G: 255, A: 255}
	candidateColor = color.RGBA{R: 255, A: 255}
	centerColor    = color.RGBA{R: 255, G: 255, A: 255}
)

// Draw renders the circle outlines and the selected centre onto dst.
func (a Annotation) Draw(dst draw.Image) {
	for i, c := range a.Circles {
		col := color.Color(candidateColor)
		if i == a.Selected {
			col = selectedColor
		}
		drawCircle(dst, c, col)
	}
	if a.Selected >= 0 && a.Selected < len(a.Circles) {
		c := a.Circles[a.Selected]
		cx, cy := int(math.Round(c.Center.X)), int(math.Round(c.Center.Y))
		for d := -2; d <= 2; d++ {
			set(dst, cx+d, cy, centerColor)
			set(dst, cx, cy+d, centerColor)
		}
	}
}

func drawCircle(dst draw.Image, c Circle, col color.Color) {
	steps := int(math.Max(16, 2*math.Pi*c.Radius))
	for i := 0; i < steps; i++ {
		th := 2 * math.Pi * float64(i) / float64(steps)
		x := int(math.Round(c.Center.X + c.Radius*math.Cos(th)))
		y := int(math.Round(c.Center.Y + c.Radius*math.Sin(th)))
		set(dst, x, y, col)
	}
}

func set(dst draw.Image, x, y int, col color.Color) {
	if (image.Point{X: x, Y: y}).In(dst.Bounds()) {
		dst.Set(x, y, col)
	}
}
