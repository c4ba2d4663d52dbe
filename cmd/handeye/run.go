package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"tailscale.com/tsweb"

	"github.com/banshee-data/handeye/internal/compose"
	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/httputil"
	"github.com/banshee-data/handeye/internal/monitoring"
	"github.com/banshee-data/handeye/internal/motion"
	"github.com/banshee-data/handeye/internal/pipeline"
	"github.com/banshee-data/handeye/internal/store"
	"github.com/banshee-data/handeye/internal/target"
	"github.com/banshee-data/handeye/internal/units"
)

// healthService is the gRPC health service name that tracks the arm.
const healthService = "handeye.motion"

func (a *app) runCmd() *cobra.Command {
	var (
		sim       bool
		replay    string
		loop      bool
		listen    string
		grpcAddr  string
		once      bool
		modelID   string
		allowPoor bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Detect targets and move the arm to them",
		Long: `Run the live loop: each camera frame is searched for the circular target,
its position is carried into the arm base frame through the hand-eye
transform and, when the arm is idle, one motion to it is started. Frames
seen while the arm moves are ignored.

Uses the latest camera model and hand-eye result from the database.
A debug HTTP server (--listen) serves the pipeline state, the arm console
and database pages under /debug/. --grpc serves the standard gRPC health
service, reporting NOT_SERVING after an arm fault.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			var model store.IntrinsicRecord
			if modelID != "" {
				model, err = st.Intrinsic(ctx, modelID)
			} else {
				model, err = st.LatestIntrinsic(ctx)
			}
			if err != nil {
				return fmt.Errorf("camera model: %w (run intrinsics first)", err)
			}
			ext, err := st.LatestExtrinsic(ctx)
			if err != nil {
				return fmt.Errorf("hand-eye result: %w (run extrinsics first)", err)
			}
			if !ext.Result.Quality.Usable() {
				if !allowPoor {
					return fmt.Errorf("hand-eye result %s has %s quality; recalibrate or pass --allow-poor", ext.ID, ext.Result.Quality)
				}
				warning(out, "using hand-eye result %s with %s quality", ext.ID, ext.Result.Quality)
			}
			step(out, "camera model %s, hand-eye result %s", model.ID, ext.ID)

			det, err := a.circleDetector()
			if err != nil {
				return err
			}
			loc, err := target.NewLocalizer(model.Model, det, a.cfg.TargetConfig())
			if err != nil {
				return err
			}
			comp, err := compose.NewComposer(ext.Result.CameraInEEF, a.cfg.ComposeConfig())
			if err != nil {
				return err
			}

			arm, disconnect, err := a.connectArm(ctx, sim)
			if err != nil {
				return err
			}
			defer disconnect()
			gate, err := motion.NewGate(arm, a.clock, a.cfg.GateConfig())
			if err != nil {
				return err
			}

			src, closeSrc, err := a.frameSource(replay, loop)
			if err != nil {
				return err
			}
			defer closeSrc()
			pl, err := pipeline.New(src, loc, comp, gate, arm, a.clock, pipeline.DefaultConfig())
			if err != nil {
				return err
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			hs := health.NewServer()
			hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)

			if listen != "" {
				mux := http.NewServeMux()
				if err := st.AttachAdminRoutes(mux); err != nil {
					return err
				}
				arm.AttachAdminRoutes(mux)
				attachPipelineRoutes(mux, pl, gate)
				stopHTTP, err := serveHTTP(out, listen, mux)
				if err != nil {
					return err
				}
				defer stopHTTP()
			}
			if grpcAddr != "" {
				stopGRPC, err := serveGRPC(out, grpcAddr, hs)
				if err != nil {
					return err
				}
				defer stopGRPC()
			}

			var wg sync.WaitGroup
			stopOutcomes := make(chan struct{})
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.recordOutcomes(out, st, gate, hs, stopOutcomes, func() {
					if once {
						cancel()
					}
				})
			}()

			step(out, "running; Ctrl-C to stop")
			runErr := pl.Run(runCtx)
			if ctx.Err() != nil {
				// Interrupted: halt the arm rather than finish the motion.
				gate.Stop()
			}
			gate.Wait()
			close(stopOutcomes)
			wg.Wait()

			s := pl.Stats()
			gs := gate.Stats()
			fmt.Fprintf(out, "frames %d (dropped %d), detections %d, offers %d, accepted %d\n",
				s.Frames, s.Dropped, s.Detections, s.Offers, s.Accepted)
			fmt.Fprintf(out, "motions completed %d, timeouts %d, faults %d, stopped %d\n",
				gs.Completed, gs.Timeouts, gs.Faults, gs.Stopped)
			return runErr
		},
	}
	cmd.Flags().BoolVar(&sim, "sim", false, "Use the in-process arm simulator")
	cmd.Flags().StringVar(&replay, "replay", "", "Take frames from images matching this glob instead of the camera")
	cmd.Flags().BoolVar(&loop, "loop", false, "Repeat replayed frames until stopped")
	cmd.Flags().StringVar(&listen, "listen", "localhost:8080", "Debug HTTP listen address (empty to disable)")
	cmd.Flags().StringVar(&grpcAddr, "grpc", "", "gRPC health listen address (empty to disable)")
	cmd.Flags().BoolVar(&once, "once", false, "Stop after the first motion")
	cmd.Flags().StringVar(&modelID, "model", "", "Camera model to use (latest when empty)")
	cmd.Flags().BoolVar(&allowPoor, "allow-poor", false, "Run even with a poor-quality hand-eye result")
	return cmd
}

// recordOutcomes logs each finished motion to the store and mirrors arm
// faults into the health service until stop is closed. Outcomes still
// buffered at that point are recorded before returning.
func (a *app) recordOutcomes(out io.Writer, st *store.Store, gate *motion.Gate, hs *health.Server, stop <-chan struct{}, onOutcome func()) {
	record := func(o motion.Outcome) {
		rec := store.MotionRecord{
			ID:            o.ID,
			StartedAt:     o.StartedAt,
			Duration:      o.Duration,
			Target:        o.Target,
			PositionError: o.PositionError,
		}
		status := healthpb.HealthCheckResponse_SERVING
		if o.Err != nil {
			rec.Err = o.Err.Error()
			warning(out, "motion %s: %v", o.ID, o.Err)
			if o.ArmPose != nil {
				warning(out, "arm reported %v, %.1fmm from target", geometry.PoseVectorFromTransform(*o.ArmPose),
					units.ConvertLength(o.PositionError, units.MM))
			}
			if errors.Is(o.Err, motion.ErrArmFault) {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
		} else {
			success(out, "motion %s reached %v in %v", o.ID, o.Target.PointInBase, o.Duration.Round(time.Millisecond))
		}
		hs.SetServingStatus(healthService, status)
		// Recorded after the run is cancelled too.
		if err := st.RecordMotion(context.Background(), rec); err != nil {
			monitoring.Logf("failed to record motion %s: %v", o.ID, err)
		}
		onOutcome()
	}
	for {
		select {
		case o := <-gate.Results():
			record(o)
		case <-stop:
			for {
				select {
				case o := <-gate.Results():
					record(o)
				default:
					return
				}
			}
		}
	}
}

// attachPipelineRoutes mounts the live pipeline state.
func attachPipelineRoutes(mux *http.ServeMux, pl *pipeline.Pipeline, gate *motion.Gate) {
	debug := tsweb.Debugger(mux)
	debug.Handle("pipeline", "Latest frame result and counters", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		latest, ok := pl.Latest()
		state := struct {
			Gate     string                `json:"gate"`
			Pipeline pipeline.Stats        `json:"pipeline"`
			Motion   motion.Stats          `json:"motion"`
			Latest   *pipeline.FrameResult `json:"latest,omitempty"`
		}{
			Gate:     gate.State().String(),
			Pipeline: pl.Stats(),
			Motion:   gate.Stats(),
		}
		if ok {
			state.Latest = &latest
		}
		httputil.WriteJSONOK(w, state)
	}))
}

func serveHTTP(out io.Writer, addr string, mux *http.ServeMux) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(lis); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("HTTP server error: %v", err)
		}
	}()
	step(out, "debug pages on http://%s/debug/", lis.Addr())
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("failed to shutdown server: %v", err)
			server.Close()
		}
	}, nil
}

func serveGRPC(out io.Writer, addr string, hs *health.Server) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	go func() {
		if err := srv.Serve(lis); err != nil {
			monitoring.Logf("gRPC server error: %v", err)
		}
	}()
	step(out, "gRPC health on %s", lis.Addr())
	return func() {
		hs.Shutdown()
		srv.GracefulStop()
	}, nil
}
