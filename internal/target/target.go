// Package target locates a circular target of known diameter in a camera
// frame and back-projects it to a 3D point in the camera frame.
package target

import (
	"errors"
	"fmt"
	"image"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/banshee-data/handeye/internal/intrinsic"
)

// Circle is a circle found in pixel coordinates.
type Circle struct {
	Center r2.Point `json:"center"`
	Radius float64  `json:"radius"`
	Score  float64  `json:"score"` // detector confidence, higher is better
}

// CircleDetector finds candidate circles in a frame. An empty result with a
// nil error means nothing was found.
type CircleDetector interface {
	DetectCircles(img image.Image) ([]Circle, error)
}

// FocalAxis selects which focal length converts pixel radius to depth.
type FocalAxis string

const (
	FocalAxisX FocalAxis = "x"
	FocalAxisY FocalAxis = "y"
)

// Reject reasons reported when a circle is found but discarded.
const (
	RejectNonPositiveDepth = "non-positive depth"
	RejectBeyondMaxDepth   = "depth beyond working volume"
)

// Config holds the localizer settings.
type Config struct {
	// TargetDiameter is the real diameter of the target in metres.
	TargetDiameter float64
	// MaxDepth is the farthest plausible target distance in metres.
	MaxDepth float64
	// FocalAxis picks fx or fy for the depth estimate.
	FocalAxis FocalAxis
}

// DefaultConfig matches a 20mm push button within arm's reach.
func DefaultConfig() Config {
	return Config{TargetDiameter: 0.020, MaxDepth: 1.5, FocalAxis: FocalAxisX}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.TargetDiameter <= 0 {
		return fmt.Errorf("target diameter must be positive, got %g", c.TargetDiameter)
	}
	if c.MaxDepth <= 0 {
		return fmt.Errorf("max depth must be positive, got %g", c.MaxDepth)
	}
	switch c.FocalAxis {
	case FocalAxisX, FocalAxisY:
	default:
		return fmt.Errorf("unknown focal axis %q", c.FocalAxis)
	}
	return nil
}

// Localization is the per-frame result. Found is false both when no circle
// was detected and when the selected circle was rejected; RejectReason
// distinguishes the two.
type Localization struct {
	Found         bool       `json:"found"`
	Circle        Circle     `json:"circle"`
	Depth         float64    `json:"depth"`
	PointInCamera r3.Vector  `json:"point_in_camera"`
	RejectReason  string     `json:"reject_reason,omitempty"`
	Annotation    Annotation `json:"annotation"`
}

// Localizer combines a circle detector with the camera model.
type Localizer struct {
	model    intrinsic.Model
	detector CircleDetector
	cfg      Config
}

// NewLocalizer validates its inputs and returns a Localizer.
func NewLocalizer(model intrinsic.Model, detector CircleDetector, cfg Config) (*Localizer, error) {
	if detector == nil {
		return nil, errors.New("nil circle detector")
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("camera model: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Localizer{model: model, detector: detector, cfg: cfg}, nil
}

// Depth returns f·D/(2r), the distance at which a target of diameter D
// images with pixel radius r.
func Depth(focal, diameter, radiusPx float64) float64 {
	if radiusPx <= 0 {
		return 0
	}
	return focal * diameter / (2 * radiusPx)
}

// Locate runs detection on one frame. Not finding a target is a normal
// outcome and is reported with Found=false, not an error.
func (l *Localizer) Locate(frame image.Image) (Localization, error) {
	circles, err := l.detector.DetectCircles(frame)
	if err != nil {
		return Localization{}, fmt.Errorf("detect circles: %w", err)
	}
	loc := Localization{Annotation: Annotation{Circles: circles, Selected: -1}}
	if len(circles) == 0 {
		loc.Annotation.Label = "no target"
		return loc, nil
	}

	best := selectCircle(circles)
	c := circles[best]
	loc.Circle = c
	loc.Annotation.Selected = best

	focal := l.model.FX
	if l.cfg.FocalAxis == FocalAxisY {
		focal = l.model.FY
	}
	z := Depth(focal, l.cfg.TargetDiameter, c.Radius)
	loc.Depth = z
	switch {
	case z <= 0:
		loc.RejectReason = RejectNonPositiveDepth
	case z > l.cfg.MaxDepth:
		loc.RejectReason = RejectBeyondMaxDepth
	}
	if loc.RejectReason != "" {
		loc.Annotation.Label = fmt.Sprintf("rejected: %s (%.3fm)", loc.RejectReason, z)
		return loc, nil
	}

	loc.Found = true
	loc.PointInCamera = l.model.BackProject(c.Center, z)
	loc.Annotation.Label = fmt.Sprintf("%.0fmm", z*1000)
	return loc, nil
}

// selectCircle returns the index of the highest-scoring circle, preferring
// the larger radius on ties.
func selectCircle(circles []Circle) int {
	idx := make([]int, len(circles))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ca, cb := circles[idx[a]], circles[idx[b]]
		if ca.Score != cb.Score {
			return ca.Score > cb.Score
		}
		return ca.Radius > cb.Radius
	})
	return idx[0]
}
