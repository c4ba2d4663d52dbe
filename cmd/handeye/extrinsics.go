package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/banshee-data/handeye/internal/capture"
	"github.com/banshee-data/handeye/internal/fsutil"
	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/handeye"
	"github.com/banshee-data/handeye/internal/report"
	"github.com/banshee-data/handeye/internal/store"
	"github.com/banshee-data/handeye/internal/units"
	"github.com/banshee-data/handeye/internal/vision"
)

func (a *app) extrinsicsCmd() *cobra.Command {
	var (
		sessionID      string
		modelID        string
		redetect       bool
		maxRotationDeg float64
		maxTransMM     float64
		noReport       bool
	)
	cmd := &cobra.Command{
		Use:   "extrinsics",
		Short: "Solve the camera-to-flange transform from a hand-eye session",
		Long: `Solve the eye-in-hand transform X (camera pose in the end-effector frame)
from the samples of a hand-eye capture session.

Samples that already carry a board pose are used as stored. Otherwise the
chessboard is detected in each image (OpenCV build) and posed with the
camera model given by --model, or the latest one.

With --max-rotation-deg or --max-translation-mm the command fails when the
mean residual is above either threshold. The result is saved either way.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if sessionID == "" {
				if sessionID, err = latestSession(ctx, st, store.KindHandEye); err != nil {
					return err
				}
			}
			samples, err := st.LoadSamples(ctx, sessionID)
			if err != nil {
				return err
			}
			step(out, "session %s: %d samples", sessionID, len(samples))

			modelID, err = a.ensureBoardPoses(ctx, out, st, sessionID, modelID, samples, redetect)
			if err != nil {
				return err
			}
			if samples, err = st.LoadSamples(ctx, sessionID); err != nil {
				return err
			}

			res, err := handeye.Calibrate(capture.HandEyeSamples(samples), a.cfg.HandEyeOptions())
			if err != nil {
				var mse *handeye.MotionSetError
				if errors.As(err, &mse) {
					for _, p := range mse.Excluded {
						warning(out, "pair %d-%d excluded: relative rotation %.2f°", p.I, p.J, p.RotationDeg)
					}
				}
				return err
			}

			rec := store.ExtrinsicRecord{
				ID:        res.ID,
				SessionID: sessionID,
				ModelID:   modelID,
				CreatedAt: a.clock.Now().UTC(),
				Result:    *res,
			}
			if err := st.SaveExtrinsic(ctx, rec); err != nil {
				return err
			}
			artifact := a.artifactPath("extrinsic_" + rec.ID + ".json")
			if err := fsutil.WriteJSON(a.fs, artifact, rec); err != nil {
				return err
			}
			printHandEye(out, res)
			success(out, "saved %s", artifact)

			if !noReport {
				files, err := report.Save(a.fs, a.artifactPath(rec.ID), report.Report{
					Title:     "Hand-eye calibration " + rec.ID,
					CreatedAt: rec.CreatedAt,
					HandEye:   res,
				})
				if err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				for _, f := range files {
					success(out, "wrote %s", f)
				}
			}
			return res.Check(maxRotationDeg, units.ToMetres(maxTransMM, units.MM))
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Hand-eye session to solve (latest when empty)")
	cmd.Flags().StringVar(&modelID, "model", "", "Camera model for board detection (latest when empty)")
	cmd.Flags().BoolVar(&redetect, "redetect", false, "Detect and pose the board again even where a pose is stored")
	cmd.Flags().Float64Var(&maxRotationDeg, "max-rotation-deg", 0, "Fail when the mean rotation residual exceeds this")
	cmd.Flags().Float64Var(&maxTransMM, "max-translation-mm", 0, "Fail when the mean translation residual exceeds this")
	cmd.Flags().BoolVar(&noReport, "no-report", false, "Skip the PNG and HTML residual report")
	return cmd
}

// latestSession returns the newest session of kind.
func latestSession(ctx context.Context, st *store.Store, kind string) (string, error) {
	sessions, err := st.Sessions(ctx)
	if err != nil {
		return "", err
	}
	for _, s := range sessions {
		if s.Kind == kind {
			return s.ID, nil
		}
	}
	return "", fmt.Errorf("no %s session: %w", kind, store.ErrNotFound)
}

// ensureBoardPoses fills in missing board poses by detection and stores
// them. It returns the id of the camera model used, if any.
func (a *app) ensureBoardPoses(ctx context.Context, out io.Writer, st *store.Store, sessionID, modelID string, samples []store.Sample, redetect bool) (string, error) {
	missing := 0
	for _, s := range samples {
		if s.BoardInCamera == nil {
			missing++
		}
	}
	if missing == 0 && !redetect {
		return modelID, nil
	}

	var rec store.IntrinsicRecord
	var err error
	if modelID != "" {
		rec, err = st.Intrinsic(ctx, modelID)
	} else {
		rec, err = st.LatestIntrinsic(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("camera model: %w (run intrinsics first)", err)
	}
	det, err := vision.NewChessboardDetector()
	if err != nil {
		return "", fmt.Errorf("%d samples have no board pose: %w", missing, err)
	}
	step(out, "detecting the board in %d images with model %s", len(samples), rec.ID)

	posed, skipped, err := capture.EstimateBoardPoses(ctx, a.fs, samples, capture.BoardPoseOptions{
		Root:     a.cfg.Storage.GetImageRoot(),
		Model:    rec.Model,
		Board:    a.cfg.IntrinsicBoard(),
		Detector: det,
		MaxRMS:   a.cfg.HandEye.GetMaxBoardRMSPx(),
	})
	if err != nil {
		return "", err
	}
	for _, s := range skipped {
		warning(out, "sample %d (%s): %v", s.Seq, s.ImagePath, s.Err)
	}
	for _, s := range posed {
		if s.BoardInCamera == nil {
			continue
		}
		if err := st.SetBoardPose(ctx, sessionID, s.Seq, *s.BoardInCamera); err != nil {
			return "", err
		}
	}
	return rec.ID, nil
}

func printHandEye(out io.Writer, res *handeye.Result) {
	x := geometry.PoseVectorFromTransform(res.CameraInEEF)
	heading(out, "Camera in end-effector "+res.ID)
	fmt.Fprintf(out, "  translation (mm)  %8.2f %8.2f %8.2f\n",
		units.ConvertLength(x.X, units.MM),
		units.ConvertLength(x.Y, units.MM),
		units.ConvertLength(x.Z, units.MM))
	fmt.Fprintf(out, "  rotation XYZ (deg) %8.2f %8.2f %8.2f\n",
		units.RadToDeg(x.RX), units.RadToDeg(x.RY), units.RadToDeg(x.RZ))
	fmt.Fprintf(out, "  %d samples, %d pairs used, %d excluded, refined %v\n",
		res.Samples, len(res.UsedPairs), len(res.ExcludedPairs), res.Refined)
	r := res.Residual
	fmt.Fprintf(out, "  residual rotation mean %.3f° max %.3f°, translation mean %.2fmm max %.2fmm\n",
		r.MeanRotationDeg, r.MaxRotationDeg,
		units.ConvertLength(r.MeanTranslation, units.MM),
		units.ConvertLength(r.MaxTranslation, units.MM))
	fmt.Fprint(out, "  quality ")
	qualityColor(res.Quality).Fprintln(out, res.Quality)
}
