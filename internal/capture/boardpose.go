package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/handeye/internal/fsutil"
	"github.com/banshee-data/handeye/internal/handeye"
	"github.com/banshee-data/handeye/internal/intrinsic"
	"github.com/banshee-data/handeye/internal/monitoring"
	"github.com/banshee-data/handeye/internal/pipeline"
	"github.com/banshee-data/handeye/internal/store"
)

// SkippedSample is a sample left out of hand-eye calibration.
type SkippedSample struct {
	Seq       int
	ImagePath string
	Err       error
}

// BoardPoseOptions controls EstimateBoardPoses.
type BoardPoseOptions struct {
	Root     string
	Model    intrinsic.Model
	Board    intrinsic.Board
	Detector intrinsic.CornerDetector
	// MaxRMS rejects views whose board pose reprojects worse than this many
	// pixels. Zero disables the check.
	MaxRMS float64
}

// EstimateBoardPoses detects the chessboard in every sample image and fills
// in BoardInCamera. Samples whose board cannot be found or posed are
// returned as skipped with BoardInCamera left nil. Image I/O errors abort.
func EstimateBoardPoses(ctx context.Context, fs fsutil.FileSystem, samples []store.Sample, opts BoardPoseOptions) ([]store.Sample, []SkippedSample, error) {
	if opts.Detector == nil {
		return nil, nil, errors.New("no corner detector")
	}
	out := make([]store.Sample, len(samples))
	var skipped []SkippedSample
	for i, smp := range samples {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		out[i] = smp
		out[i].BoardInCamera = nil

		path, err := ImagePath(opts.Root, smp)
		if err != nil {
			return nil, nil, err
		}
		imgs, err := pipeline.LoadImages(fs, []string{path})
		if err != nil {
			return nil, nil, err
		}
		corners, err := opts.Detector.DetectCorners(imgs[0], opts.Board)
		if err == nil {
			var bp intrinsic.BoardPose
			if bp, err = intrinsic.EstimateBoardPose(opts.Model, opts.Board, corners); err == nil {
				if opts.MaxRMS > 0 && bp.RMS > opts.MaxRMS {
					err = fmt.Errorf("board reprojection %.2fpx exceeds %.2fpx", bp.RMS, opts.MaxRMS)
				} else {
					pose := bp.BoardInCamera
					out[i].BoardInCamera = &pose
				}
			}
		}
		if err != nil {
			monitoring.Logf("capture: skipping %s: %v", smp.ImagePath, err)
			skipped = append(skipped, SkippedSample{Seq: smp.Seq, ImagePath: smp.ImagePath, Err: err})
		}
	}
	return out, skipped, nil
}

// HandEyeSamples returns the samples that have a board pose, in order.
func HandEyeSamples(samples []store.Sample) []handeye.Sample {
	out := make([]handeye.Sample, 0, len(samples))
	for _, s := range samples {
		if hs, ok := s.HandEyeSample(); ok {
			out = append(out, hs)
		}
	}
	return out
}
