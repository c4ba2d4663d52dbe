// Package vision holds the image-processing detectors behind the target and
// intrinsic packages: a pure-Go blob circle detector, and OpenCV-backed
// Hough circle, chessboard corner and camera capture implementations built
// with -tags=opencv.
package vision

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/golang/geo/r2"

	"github.com/banshee-data/handeye/internal/target"
)

// Polarity selects whether the target is darker or brighter than its
// surroundings.
type Polarity string

const (
	PolarityDark   Polarity = "dark"
	PolarityBright Polarity = "bright"
)

// BlobParams configures BlobDetector.
type BlobParams struct {
	MinRadiusPx float64
	MaxRadiusPx float64
	// MinCircularity in (0, 1]; a filled disc scores close to 1.
	MinCircularity float64
	// Threshold on 8-bit grey; 0 selects Otsu's threshold per frame.
	Threshold uint8
	Polarity  Polarity
}

// DefaultBlobParams mirrors the Hough radius window used for the 20mm button.
func DefaultBlobParams() BlobParams {
	return BlobParams{MinRadiusPx: 25, MaxRadiusPx: 40, MinCircularity: 0.8, Polarity: PolarityDark}
}

// BlobDetector finds filled circular regions by thresholding and connected
// component analysis. It needs no cgo and is the default detector.
type BlobDetector struct {
	params BlobParams
}

// NewBlobDetector validates params.
func NewBlobDetector(p BlobParams) (*BlobDetector, error) {
	if p.MinRadiusPx <= 0 || p.MaxRadiusPx < p.MinRadiusPx {
		return nil, fmt.Errorf("invalid radius range [%g, %g]", p.MinRadiusPx, p.MaxRadiusPx)
	}
	if p.MinCircularity <= 0 || p.MinCircularity > 1 {
		return nil, fmt.Errorf("min circularity must be in (0, 1], got %g", p.MinCircularity)
	}
	switch p.Polarity {
	case PolarityDark, PolarityBright:
	default:
		return nil, fmt.Errorf("unknown polarity %q", p.Polarity)
	}
	return &BlobDetector{params: p}, nil
}

type blob struct {
	area                   int
	sumX, sumY             float64
	minX, minY, maxX, maxY int
	boundary               []image.Point
}

// DetectCircles implements target.CircleDetector.
func (d *BlobDetector) DetectCircles(img image.Image) ([]target.Circle, error) {
	gray := ToGray(img)
	b := gray.Bounds()
	thr, ok := d.threshold(gray)
	if !ok {
		return nil, nil
	}
	w, h := b.Dx(), b.Dy()
	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		for x, v := range row {
			if d.params.Polarity == PolarityDark {
				mask[y*w+x] = v < thr
			} else {
				mask[y*w+x] = v > thr
			}
		}
	}

	var circles []target.Circle
	for _, bl := range components(mask, w, h) {
		c, ok := d.score(bl, w, h)
		if !ok {
			continue
		}
		c.Center = c.Center.Add(r2.Point{X: float64(b.Min.X), Y: float64(b.Min.Y)})
		circles = append(circles, c)
	}
	return circles, nil
}

func (d *BlobDetector) threshold(g *image.Gray) (uint8, bool) {
	var hist [256]int
	b := g.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+b.Dx()] {
			hist[v]++
		}
	}
	lo, hi := 0, 255
	for lo < 256 && hist[lo] == 0 {
		lo++
	}
	for hi >= 0 && hist[hi] == 0 {
		hi--
	}
	if lo >= hi {
		// Uniform frame: nothing to segment.
		return 0, false
	}
	if d.params.Threshold > 0 {
		return d.params.Threshold, true
	}
	return otsu(hist), true
}

// otsu returns the threshold maximising between-class variance; pixels
// below it form the dark class.
func otsu(hist [256]int) uint8 {
	var total, sum float64
	for i, n := range hist {
		total += float64(n)
		sum += float64(i * n)
	}
	var wB, sumB, best float64
	thr := 0
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			thr = t
		}
	}
	return uint8(thr + 1)
}

// components labels 4-connected regions of mask.
func components(mask []bool, w, h int) []blob {
	seen := make([]bool, len(mask))
	var blobs []blob
	queue := make([]int, 0, 256)
	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		bl := blob{minX: w, minY: h, maxX: -1, maxY: -1}
		seen[start] = true
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := i%w, i/w
			bl.area++
			bl.sumX += float64(x)
			bl.sumY += float64(y)
			bl.minX, bl.maxX = min(bl.minX, x), max(bl.maxX, x)
			bl.minY, bl.maxY = min(bl.minY, y), max(bl.maxY, y)
			edge := false
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				nx, ny := n[0], n[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					edge = true
					continue
				}
				j := ny*w + nx
				if !mask[j] {
					edge = true
					continue
				}
				if !seen[j] {
					seen[j] = true
					queue = append(queue, j)
				}
			}
			if edge {
				bl.boundary = append(bl.boundary, image.Point{X: x, Y: y})
			}
		}
		blobs = append(blobs, bl)
	}
	return blobs
}

// score turns a blob into a circle if its size and shape qualify. Blobs
// touching the frame edge are dropped since their shape is truncated.
func (d *BlobDetector) score(bl blob, w, h int) (target.Circle, bool) {
	if bl.minX == 0 || bl.minY == 0 || bl.maxX == w-1 || bl.maxY == h-1 {
		return target.Circle{}, false
	}
	radius := math.Sqrt(float64(bl.area) / math.Pi)
	if radius < d.params.MinRadiusPx || radius > d.params.MaxRadiusPx {
		return target.Circle{}, false
	}
	bw, bh := float64(bl.maxX-bl.minX+1), float64(bl.maxY-bl.minY+1)
	aspect := math.Min(bw, bh) / math.Max(bw, bh)
	fill := float64(bl.area) / (math.Pi * bw * bh / 4)
	if fill > 1 {
		fill = 1 / fill
	}

	center := r2.Point{X: bl.sumX / float64(bl.area), Y: bl.sumY / float64(bl.area)}
	var mean, sq float64
	for _, p := range bl.boundary {
		dist := r2.Point{X: float64(p.X), Y: float64(p.Y)}.Sub(center).Norm()
		mean += dist
		sq += dist * dist
	}
	n := float64(len(bl.boundary))
	mean /= n
	std := math.Sqrt(math.Max(sq/n-mean*mean, 0))
	radial := 1 - std/math.Max(mean, 1)

	circularity := aspect * fill * radial
	if circularity < d.params.MinCircularity {
		return target.Circle{}, false
	}
	return target.Circle{Center: center, Radius: radius, Score: circularity}, true
}

// ToGray converts any image to 8-bit grey with bounds starting at the
// original origin.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(b)
	draw.Draw(g, b, img, b.Min, draw.Src)
	return g
}
