package intrinsic

import (
	"context"
	"errors"
	"image"

	"github.com/golang/geo/r2"

	"github.com/banshee-data/handeye/internal/monitoring"
)

// CornerDetector finds the inner corners of a chessboard, row-major, with
// sub-pixel refinement. It returns ErrCornersNotFound when the full grid is
// not visible.
type CornerDetector interface {
	DetectCorners(img image.Image, board Board) ([]r2.Point, error)
}

// NamedImage is a calibration image with an identifier for diagnostics.
type NamedImage struct {
	Name  string
	Image image.Image
}

// DetectViews runs det over images. Detection failures become views with nil
// corners so Calibrate reports them as skipped; other errors abort.
func DetectViews(ctx context.Context, det CornerDetector, board Board, images []NamedImage) ([]View, error) {
	views := make([]View, 0, len(images))
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		corners, err := det.DetectCorners(img.Image, board)
		switch {
		case errors.Is(err, ErrCornersNotFound):
			monitoring.Logf("intrinsic: no chessboard in %s", img.Name)
			corners = nil
		case err != nil:
			return nil, err
		}
		views = append(views, View{Name: img.Name, Corners: corners})
	}
	return views, nil
}
