package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/banshee-data/handeye/internal/capture"
	"github.com/banshee-data/handeye/internal/fsutil"
	"github.com/banshee-data/handeye/internal/intrinsic"
	"github.com/banshee-data/handeye/internal/pipeline"
	"github.com/banshee-data/handeye/internal/report"
	"github.com/banshee-data/handeye/internal/store"
	"github.com/banshee-data/handeye/internal/vision"
)

func (a *app) intrinsicsCmd() *cobra.Command {
	var (
		cornersPath string
		sessionID   string
		noReport    bool
	)
	cmd := &cobra.Command{
		Use:   "intrinsics [IMAGE_GLOB...]",
		Short: "Solve the camera model from chessboard views",
		Long: `Solve the pinhole camera model and lens distortion from chessboard views.

Views come from one of:
  IMAGE_GLOB...   image files, corners found with OpenCV
  --session ID    the images of a capture session, corners found with OpenCV
  --corners FILE  a JSON list of pre-detected views: [{"Name": ..., "Corners": [{"X":..,"Y":..}]}]

The model is saved to the database and written to the artifact directory
with an error report.

Examples:
  handeye intrinsics 'calib/*.jpg'
  handeye intrinsics --session 2f1c...
  handeye intrinsics --corners views.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := 0
			for _, set := range []bool{len(args) > 0, sessionID != "", cornersPath != ""} {
				if set {
					sources++
				}
			}
			if sources != 1 {
				return errors.New("give exactly one of image globs, --session or --corners")
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			views, err := a.intrinsicViews(cmd.Context(), st, cornersPath, sessionID, args)
			if err != nil {
				return err
			}
			return a.solveIntrinsics(cmd.Context(), cmd.OutOrStdout(), st, sessionID, views, !noReport)
		},
	}
	cmd.Flags().StringVar(&cornersPath, "corners", "", "JSON file of pre-detected chessboard views")
	cmd.Flags().StringVar(&sessionID, "session", "", "Capture session whose images to use")
	cmd.Flags().BoolVar(&noReport, "no-report", false, "Skip the PNG and HTML error report")
	return cmd
}

func (a *app) intrinsicViews(ctx context.Context, st *store.Store, cornersPath, sessionID string, patterns []string) ([]intrinsic.View, error) {
	if cornersPath != "" {
		var views []intrinsic.View
		if err := fsutil.ReadJSON(a.fs, cornersPath, &views); err != nil {
			return nil, err
		}
		return views, nil
	}

	var paths []string
	if sessionID != "" {
		samples, err := st.LoadSamples(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if len(samples) == 0 {
			return nil, fmt.Errorf("session %s has no samples", sessionID)
		}
		root := a.cfg.Storage.GetImageRoot()
		for _, smp := range samples {
			p, err := capture.ImagePath(root, smp)
			if err != nil {
				return nil, err
			}
			paths = append(paths, p)
		}
	} else {
		var err error
		if paths, err = a.expand(patterns); err != nil {
			return nil, err
		}
	}

	det, err := vision.NewChessboardDetector()
	if err != nil {
		return nil, fmt.Errorf("%w (use --corners for pre-detected views)", err)
	}
	images := make([]intrinsic.NamedImage, 0, len(paths))
	for _, p := range paths {
		img, err := pipeline.LoadImages(a.fs, []string{p})
		if err != nil {
			return nil, err
		}
		images = append(images, intrinsic.NamedImage{Name: filepath.Base(p), Image: img[0]})
	}
	return intrinsic.DetectViews(ctx, det, a.cfg.IntrinsicBoard(), images)
}

func (a *app) solveIntrinsics(ctx context.Context, out io.Writer, st *store.Store, sessionID string, views []intrinsic.View, withReport bool) error {
	step(out, "calibrating from %d views", len(views))
	res, err := intrinsic.Calibrate(a.cfg.IntrinsicBoard(), views, a.cfg.IntrinsicOptions())
	if err != nil {
		var ve *intrinsic.ViewsError
		if errors.As(err, &ve) {
			for _, s := range ve.Skipped {
				warning(out, "skipped %s: %v", s.Name, s.Err)
			}
		}
		return err
	}
	for _, s := range res.Skipped {
		warning(out, "skipped %s: %v", s.Name, s.Err)
	}

	rec := store.IntrinsicRecord{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		CreatedAt: a.clock.Now().UTC(),
		Model:     res.Model,
		RMS:       res.RMS,
		Views:     len(res.PerView),
	}
	if err := st.SaveIntrinsic(ctx, rec); err != nil {
		return err
	}
	artifact := a.artifactPath("intrinsic_" + rec.ID + ".json")
	if err := fsutil.WriteJSON(a.fs, artifact, rec); err != nil {
		return err
	}

	m := res.Model
	heading(out, "Camera model "+rec.ID)
	fmt.Fprintf(out, "  fx %.2f  fy %.2f  cx %.2f  cy %.2f  (%dx%d)\n", m.FX, m.FY, m.CX, m.CY, m.Width, m.Height)
	fmt.Fprintf(out, "  distortion k1 k2 p1 p2 k3 %.5f\n", m.Distortion.Coefficients())
	fmt.Fprintf(out, "  reprojection RMS %.3f px over %d views (%d iterations)\n", res.RMS, len(res.PerView), res.Iterations)
	for _, v := range res.PerView {
		fmt.Fprintf(out, "    %-24s rms %.3f  max %.3f\n", v.Name, v.RMS, v.Max)
	}
	success(out, "saved %s", artifact)

	if withReport {
		files, err := report.Save(a.fs, a.artifactPath(rec.ID), report.Report{
			Title:     "Intrinsic calibration " + rec.ID,
			CreatedAt: rec.CreatedAt,
			Intrinsic: res,
		})
		if err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		for _, f := range files {
			success(out, "wrote %s", f)
		}
	}
	return nil
}
