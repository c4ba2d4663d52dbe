package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Disc renders a filled disc of the given grey on a uniform background.
func disc(w, h int, cx, cy, r float64, fg, bg uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			v := bg
			if dx*dx+dy*dy <= r*r {
				v = fg
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestBlobDetector_FindsDisc(t *testing.T) {
	t.Parallel()
	det, err := NewBlobDetector(DefaultBlobParams())
	require.NoError(t, err)

	circles, err := det.DetectCircles(disc(320, 240, 150.3, 100.7, 30, 20, 220))
	require.NoError(t, err)
	require.Len(t, circles, 1)
	c := circles[0]
	assert.InDelta(t, 150.3, c.Center.X, 0.3)
	assert.InDelta(t, 100.7, c.Center.Y, 0.3)
	assert.InDelta(t, 30, c.Radius, 0.5)
	assert.Greater(t, c.Score, 0.9)
}

func TestBlobDetector_BrightPolarityAndRGBA(t *testing.T) {
	t.Parallel()
	p := DefaultBlobParams()
	p.Polarity = PolarityBright
	det, err := NewBlobDetector(p)
	require.NoError(t, err)

	gray := disc(200, 200, 90, 110, 28, 250, 10)
	rgba := image.NewRGBA(gray.Bounds())
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			rgba.Set(x, y, gray.At(x, y))
		}
	}
	circles, err := det.DetectCircles(rgba)
	require.NoError(t, err)
	require.Len(t, circles, 1)
	assert.InDelta(t, 28, circles[0].Radius, 0.5)
}

func TestBlobDetector_NoDetection(t *testing.T) {
	t.Parallel()
	det, err := NewBlobDetector(DefaultBlobParams())
	require.NoError(t, err)

	cases := map[string]image.Image{
		"blank":      image.NewGray(image.Rect(0, 0, 100, 100)),
		"too small":  disc(200, 200, 100, 100, 10, 0, 255),
		"too large":  disc(300, 300, 150, 150, 80, 0, 255),
		"truncated":  disc(200, 200, 10, 100, 30, 0, 255),
		"fixed grey": disc(100, 100, 50, 50, 0, 128, 128),
	}
	for name, img := range cases {
		t.Run(name, func(t *testing.T) {
			circles, err := det.DetectCircles(img)
			assert.NoError(t, err)
			assert.Empty(t, circles)
		})
	}
}

func TestBlobDetector_RejectsSquare(t *testing.T) {
	t.Parallel()
	img := image.NewGray(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			v := uint8(255)
			if x >= 70 && x < 130 && y >= 70 && y < 130 {
				v = 0
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	det, err := NewBlobDetector(DefaultBlobParams())
	require.NoError(t, err)
	circles, err := det.DetectCircles(img)
	require.NoError(t, err)
	assert.Empty(t, circles)
}

func TestNewBlobDetector_Validation(t *testing.T) {
	t.Parallel()
	bad := []BlobParams{
		{MinRadiusPx: 0, MaxRadiusPx: 10, MinCircularity: 0.5, Polarity: PolarityDark},
		{MinRadiusPx: 20, MaxRadiusPx: 10, MinCircularity: 0.5, Polarity: PolarityDark},
		{MinRadiusPx: 5, MaxRadiusPx: 10, MinCircularity: 1.5, Polarity: PolarityDark},
		{MinRadiusPx: 5, MaxRadiusPx: 10, MinCircularity: 0.5, Polarity: "grey"},
	}
	for _, p := range bad {
		_, err := NewBlobDetector(p)
		assert.Error(t, err, "%+v", p)
	}
}

func TestOtsu(t *testing.T) {
	t.Parallel()
	var hist [256]int
	hist[40] = 100
	hist[200] = 300
	thr := otsu(hist)
	assert.Greater(t, thr, uint8(40))
	assert.LessOrEqual(t, thr, uint8(200))
}

func TestFixedThreshold(t *testing.T) {
	t.Parallel()
	p := DefaultBlobParams()
	p.Threshold = 100
	det, err := NewBlobDetector(p)
	require.NoError(t, err)
	circles, err := det.DetectCircles(disc(200, 200, 100, 100, 30, 90, 110))
	require.NoError(t, err)
	assert.Len(t, circles, 1)
}
