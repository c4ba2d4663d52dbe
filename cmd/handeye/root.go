package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/handeye/internal/armlink"
	"github.com/banshee-data/handeye/internal/config"
	"github.com/banshee-data/handeye/internal/fsutil"
	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/monitoring"
	"github.com/banshee-data/handeye/internal/pipeline"
	"github.com/banshee-data/handeye/internal/store"
	"github.com/banshee-data/handeye/internal/target"
	"github.com/banshee-data/handeye/internal/timeutil"
	"github.com/banshee-data/handeye/internal/version"
	"github.com/banshee-data/handeye/internal/vision"
)

// Pose and move time of the in-process arm simulator used with --sim.
var (
	simHome     = geometry.PoseVector{X: 0.3, Y: 0, Z: 0.4, RX: math.Pi, RY: 0, RZ: 0}.Transform()
	simMoveTime = 500 * time.Millisecond
)

// app carries the global flags and the state shared by every subcommand.
type app struct {
	configPath string
	dbPath     string
	debug      bool

	fs    fsutil.FileSystem
	clock timeutil.Clock
	cfg   *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{fs: fsutil.OSFileSystem{}, clock: timeutil.RealClock{}}
	return a.rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "handeye",
		Short: "Eye-in-hand camera calibration and target-driven arm motion",
		Long: `handeye calibrates a camera mounted on a robot arm's wrist and uses the
result to drive the arm to targets it sees.

A typical session:
  handeye capture --kind intrinsic      # chessboard views for the lens model
  handeye intrinsics --session <ID>     # solve the camera model
  handeye capture --kind handeye        # chessboard views from varied arm poses
  handeye extrinsics --session <ID>     # solve the camera-to-flange transform
  handeye run                           # detect targets and move to them`,
		Version:       version.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (.yaml, .yml or .json); built-in defaults when empty")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (overrides storage.database_path)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		a.intrinsicsCmd(),
		a.extrinsicsCmd(),
		a.captureCmd(),
		a.runCmd(),
		a.sessionsCmd(),
		a.anglesCmd(),
		a.configCmd(),
		a.versionCmd(),
	)
	return root
}

func (a *app) init() error {
	monitoring.SetDebug(a.debug)
	cfg := &config.Config{}
	if a.configPath != "" {
		var err error
		if cfg, err = config.Load(a.fs, a.configPath); err != nil {
			return err
		}
		monitoring.Logf("loaded config %s", a.configPath)
	}
	if a.dbPath != "" {
		path := a.dbPath
		cfg.Storage.DatabasePath = &path
	}
	a.cfg = cfg
	return nil
}

func (a *app) openStore() (*store.Store, error) {
	path := a.cfg.Storage.GetDatabasePath()
	if dir := filepath.Dir(path); dir != "." {
		if err := a.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return st, nil
}

// connectArm dials the arm controller. With sim set, an in-process
// simulator is served on a loopback port and dialled instead.
func (a *app) connectArm(ctx context.Context, sim bool) (*armlink.Client, func(), error) {
	url := a.cfg.Devices.GetArmURL()
	stopSim := func() {}
	if sim {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, nil, fmt.Errorf("listen for arm simulator: %w", err)
		}
		srv := &http.Server{Handler: armlink.NewSimulator(a.clock, simMoveTime, simHome)}
		go srv.Serve(lis)
		url = "ws://" + lis.Addr().String()
		stopSim = func() { srv.Close() }
		monitoring.Logf("arm simulator listening on %s", lis.Addr())
	}

	client, err := armlink.Dial(ctx, url, a.cfg.ArmOptions())
	if err != nil {
		stopSim()
		return nil, nil, fmt.Errorf("connect to arm at %s: %w", url, err)
	}
	if err := client.StartSystem(ctx); err != nil {
		client.Close()
		stopSim()
		return nil, nil, fmt.Errorf("start arm: %w", err)
	}
	return client, func() {
		client.Close()
		stopSim()
	}, nil
}

// frameSource opens the camera, or replays images matching replay when it
// is set.
func (a *app) frameSource(replay string, loop bool) (pipeline.FrameSource, func(), error) {
	if replay != "" {
		paths, err := a.expand([]string{replay})
		if err != nil {
			return nil, nil, err
		}
		frames, err := pipeline.LoadImages(a.fs, paths)
		if err != nil {
			return nil, nil, err
		}
		src := pipeline.NewReplaySource(a.clock, a.cfg.Camera.GetFrameInterval(), loop, frames...)
		monitoring.Logf("replaying %d frames from %s", len(frames), replay)
		return src, src.Close, nil
	}
	cam, err := vision.OpenCamera(a.cfg.CameraConfig())
	if err != nil {
		return nil, nil, err
	}
	return cam, func() { cam.Close() }, nil
}

// circleDetector builds the detector named by detector.kind.
func (a *app) circleDetector() (target.CircleDetector, error) {
	switch kind := a.cfg.Detector.GetKind(); kind {
	case config.DetectorBlob:
		return vision.NewBlobDetector(a.cfg.BlobParams())
	case config.DetectorHough:
		return vision.NewHoughDetector(a.cfg.HoughParams())
	default:
		return nil, fmt.Errorf("unknown detector kind %q", kind)
	}
}

// expand resolves glob patterns to a sorted, de-duplicated file list.
// Patterns without wildcards are taken literally.
func (a *app) expand(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, p := range patterns {
		matches := []string{p}
		if strings.ContainsAny(p, "*?[") {
			var err error
			if matches, err = a.fs.Glob(p); err != nil {
				return nil, fmt.Errorf("bad pattern %q: %w", p, err)
			}
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no images matched")
	}
	return out, nil
}

func (a *app) artifactPath(name string) string {
	return filepath.Join(a.cfg.Storage.GetArtifactDir(), name)
}
