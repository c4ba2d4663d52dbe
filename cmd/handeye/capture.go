package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/handeye/internal/capture"
	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/store"
)

func (a *app) captureCmd() *cobra.Command {
	var (
		kind   string
		note   string
		replay string
		sim    bool
		count  int
	)
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record chessboard images with the arm pose at each shot",
		Long: `Record a capture session. Move the arm so the camera sees the chessboard
from a new angle, then press Enter to store the frame with the arm's
reported pose. Type q (or end input) to finish; the session is written to
the database on exit.

For hand-eye sessions vary the wrist rotation about at least two different
axes between shots.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch kind {
			case store.KindIntrinsic, store.KindHandEye:
			default:
				return fmt.Errorf("unknown session kind %q (want %s or %s)", kind, store.KindIntrinsic, store.KindHandEye)
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			arm, disconnect, err := a.connectArm(ctx, sim)
			if err != nil {
				return err
			}
			defer disconnect()

			src, closeSrc, err := a.frameSource(replay, false)
			if err != nil {
				return err
			}
			defer closeSrc()

			ccfg := a.cfg.CaptureConfig(kind)
			ccfg.Note = note
			sess, err := capture.NewSession(a.fs, st, arm, a.clock, ccfg)
			if err != nil {
				return err
			}
			step(out, "session %s (%s) writing to %s", sess.ID(), kind, sess.Dir())
			fmt.Fprintln(out, "press Enter to capture, q to finish")

			loopErr := func() error {
				in := bufio.NewScanner(cmd.InOrStdin())
				for count <= 0 || len(sess.Samples()) < count {
					if !in.Scan() {
						return in.Err()
					}
					if strings.EqualFold(strings.TrimSpace(in.Text()), "q") {
						return nil
					}
					smp, err := sess.Capture(ctx, src)
					if errors.Is(err, io.EOF) {
						warning(out, "no more frames")
						return nil
					}
					if err != nil {
						if ctx.Err() != nil {
							return err
						}
						warning(out, "capture failed: %v", err)
						continue
					}
					success(out, "#%d %s at %v", smp.Seq, smp.ImagePath, geometry.PoseVectorFromTransform(smp.EEFInBase))
				}
				return nil
			}()

			// The session is flushed even when capture was interrupted.
			if err := sess.Close(context.WithoutCancel(ctx)); err != nil {
				return err
			}
			if loopErr != nil {
				return loopErr
			}
			success(out, "session %s saved with %d samples", sess.ID(), len(sess.Samples()))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", store.KindHandEye, "Session kind: intrinsic or handeye")
	cmd.Flags().StringVar(&note, "note", "", "Free-text note stored with the session")
	cmd.Flags().StringVar(&replay, "replay", "", "Take frames from images matching this glob instead of the camera")
	cmd.Flags().BoolVar(&sim, "sim", false, "Use the in-process arm simulator")
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many samples (0 for no limit)")
	return cmd
}
