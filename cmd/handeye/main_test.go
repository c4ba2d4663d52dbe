package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/handeye/internal/config"
	"github.com/banshee-data/handeye/internal/fsutil"
	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/handeye"
	"github.com/banshee-data/handeye/internal/intrinsic"
	"github.com/banshee-data/handeye/internal/monitoring"
	"github.com/banshee-data/handeye/internal/report"
	"github.com/banshee-data/handeye/internal/store"
	"github.com/banshee-data/handeye/internal/testutil"
	"github.com/banshee-data/handeye/internal/timeutil"
	"github.com/banshee-data/handeye/internal/version"
)

func init() {
	monitoring.SetLogger(nil)
}

// harness runs the CLI against a scratch directory holding the database,
// images and artifacts.
type harness struct {
	dir       string
	cfgPath   string
	dbPath    string
	imageRoot string
	artifacts string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		dir:       dir,
		cfgPath:   filepath.Join(dir, "handeye.yaml"),
		dbPath:    filepath.Join(dir, "handeye.db"),
		imageRoot: filepath.Join(dir, "images"),
		artifacts: filepath.Join(dir, "artifacts"),
	}
	cfg := fmt.Sprintf(`camera:
  frame_interval: 1ms
motion:
  settle_delay: 0s
  safe_joints_deg: []
storage:
  database_path: %q
  image_root: %q
  artifact_dir: %q
  image_format: png
`, h.dbPath, h.imageRoot, h.artifacts)
	require.NoError(t, os.WriteFile(h.cfgPath, []byte(cfg), 0o644))
	return h
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	a := &app{fs: fsutil.OSFileSystem{}, clock: timeutil.RealClock{}}
	root := a.rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", h.cfgPath}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

// withStore opens the harness database for seeding or inspection.
func (h *harness) withStore(t *testing.T, fn func(st *store.Store)) {
	t.Helper()
	st, err := store.Open(h.dbPath)
	require.NoError(t, err)
	defer st.Close()
	fn(st)
}

func disc(w, h int, cx, cy, r float64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			v := uint8(220)
			if dx*dx+dy*dy <= r*r {
				v = 20
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func writePNGs(t *testing.T, dir string, imgs ...image.Image) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i, img := range imgs {
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("frame_%02d.png", i)))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
	return filepath.Join(dir, "*.png")
}

func TestRoot_ShowsHelpWithoutSubcommand(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "extrinsics")
}

func TestRoot_RejectsUnknownFlag(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "--goal", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestRoot_BadConfig(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(h.cfgPath, []byte("board:\n  colz: 3\n"), 0o644))
	_, err := h.run(t, "", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colz")
}

func TestVersion(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, version.Version)
}

func TestConfigDefaults_MatchesBuiltIn(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "", "config", "defaults")
	require.NoError(t, err)
	got, err := config.Parse([]byte(out), false)
	require.NoError(t, err)
	if diff := cmp.Diff(config.Default(), got); diff != "" {
		t.Errorf("config defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigShowAndValidate(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, h.imageRoot)

	out, err = h.run(t, "", "config", "validate", h.cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	bad := filepath.Join(h.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("storage:\n  image_format: gif\n"), 0o644))
	_, err = h.run(t, "", "config", "validate", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image_format")
}

func TestIntrinsics_FromCorners(t *testing.T) {
	h := newHarness(t)
	board := config.Default().IntrinsicBoard()
	model := intrinsic.Model{
		FX: 800, FY: 810, CX: 320, CY: 240,
		Distortion: intrinsic.Distortion{K1: -0.1, K2: 0.04},
		Width:      640, Height: 480,
	}
	tilts := []r3.Vector{
		{X: 0.25, Y: 0.1}, {X: -0.3, Y: 0.15, Z: 0.1}, {X: 0.1, Y: -0.35},
		{X: -0.15, Y: -0.2, Z: -0.2}, {X: 0.35, Y: 0.3, Z: 0.05}, {X: -0.05, Y: 0.4, Z: 0.3},
	}
	obj := board.ObjectPoints()
	views := make([]intrinsic.View, len(tilts))
	for i, w := range tilts {
		pose := geometry.Transform{
			Rotation:    geometry.RotationFromRotVec(w),
			Translation: r3.Vector{X: -0.1 + 0.01*float64(i), Y: -0.06, Z: 0.4 + 0.04*float64(i)},
		}
		corners := make([]r2.Point, len(obj))
		for j, p := range obj {
			corners[j] = model.Project(pose.Apply(p))
		}
		views[i] = intrinsic.View{Name: fmt.Sprintf("view%d", i), Corners: corners}
	}
	// One view without corners is skipped, not fatal.
	views = append(views, intrinsic.View{Name: "blank"})
	data, err := json.Marshal(views)
	require.NoError(t, err)
	cornersPath := filepath.Join(h.dir, "views.json")
	require.NoError(t, os.WriteFile(cornersPath, data, 0o644))

	out, err := h.run(t, "", "intrinsics", "--corners", cornersPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Camera model")
	assert.Contains(t, out, "skipped blank")

	var rec store.IntrinsicRecord
	h.withStore(t, func(st *store.Store) {
		rec, err = st.LatestIntrinsic(context.Background())
		require.NoError(t, err)
	})
	assert.InDelta(t, 800, rec.Model.FX, 1)
	assert.InDelta(t, 810, rec.Model.FY, 1)
	assert.Equal(t, 6, rec.Views)
	assert.FileExists(t, filepath.Join(h.artifacts, "intrinsic_"+rec.ID+".json"))
	assert.FileExists(t, filepath.Join(h.artifacts, rec.ID, report.ViewsPNG))
	assert.FileExists(t, filepath.Join(h.artifacts, rec.ID, report.HTMLFile))
}

func TestIntrinsics_NeedsOneSource(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "intrinsics")
	require.Error(t, err)
	_, err = h.run(t, "", "intrinsics", "--corners", "a.json", "--session", "s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")
}

var (
	trueX = geometry.Transform{
		Rotation:    geometry.RotationFromEulerXYZ(0.1, -0.2, math.Pi/2),
		Translation: r3.Vector{X: 0.05, Y: -0.03, Z: 0.08},
	}
	boardInBase = geometry.Transform{
		Rotation:    geometry.RotationFromEulerXYZ(math.Pi, 0, 0.3),
		Translation: r3.Vector{X: 0.5, Y: 0.1, Z: 0},
	}
)

func seedHandEyeSession(t *testing.T, h *harness, id string, n int) {
	t.Helper()
	rng := testutil.NewRand(7)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	samples := make([]store.Sample, n)
	for i := range samples {
		jitter := testutil.RandomTransform(rng, math.Pi/3, 0.15)
		eef := geometry.Transform{
			Rotation:    jitter.Rotation,
			Translation: jitter.Translation.Add(r3.Vector{X: 0.4, Z: 0.35}),
		}
		board := geometry.Compose(trueX.Inverse(), geometry.Compose(eef.Inverse(), boardInBase))
		samples[i] = store.Sample{
			Seq:           i + 1,
			ID:            fmt.Sprintf("%s-%d", id, i+1),
			ImagePath:     filepath.Join(id, fmt.Sprintf("%04d.png", i+1)),
			CapturedAt:    start.Add(time.Duration(i) * time.Second),
			EEFInBase:     eef,
			BoardInCamera: &board,
		}
	}
	h.withStore(t, func(st *store.Store) {
		require.NoError(t, st.SaveSession(context.Background(), store.Session{
			ID: id, Kind: store.KindHandEye, Note: "bench", StartedAt: start, ClosedAt: start.Add(time.Minute),
		}, samples))
	})
}

func TestExtrinsics_FromStoredBoardPoses(t *testing.T) {
	h := newHarness(t)
	seedHandEyeSession(t, h, "he-1", 8)

	out, err := h.run(t, "", "extrinsics")
	require.NoError(t, err, out)
	assert.Contains(t, out, "session he-1: 8 samples")
	assert.Contains(t, out, "excellent")

	var rec store.ExtrinsicRecord
	h.withStore(t, func(st *store.Store) {
		rec, err = st.LatestExtrinsic(context.Background())
		require.NoError(t, err)
	})
	assert.Equal(t, "he-1", rec.SessionID)
	testutil.AssertTransformNear(t, rec.Result.CameraInEEF, trueX, 0.5, 0.001)
	assert.FileExists(t, filepath.Join(h.artifacts, "extrinsic_"+rec.ID+".json"))
	assert.FileExists(t, filepath.Join(h.artifacts, rec.ID, report.PairsPNG))
}

func TestExtrinsics_TooFewSamples(t *testing.T) {
	h := newHarness(t)
	seedHandEyeSession(t, h, "he-2", 2)
	_, err := h.run(t, "", "extrinsics", "--session", "he-2", "--no-report")
	require.Error(t, err)
	assert.ErrorIs(t, err, handeye.ErrInsufficientSamples)
}

func TestExtrinsics_NoSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "extrinsics")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCapture_ReplayWithSimulatedArm(t *testing.T) {
	h := newHarness(t)
	pattern := writePNGs(t, filepath.Join(h.dir, "frames"),
		disc(64, 48, 20, 20, 8), disc(64, 48, 40, 30, 8), disc(64, 48, 30, 24, 8))

	out, err := h.run(t, "\n\nq\n", "capture", "--sim", "--replay", pattern, "--kind", store.KindIntrinsic, "--note", "bench")
	require.NoError(t, err, out)
	assert.Contains(t, out, "saved with 2 samples")

	h.withStore(t, func(st *store.Store) {
		ctx := context.Background()
		sessions, err := st.Sessions(ctx)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, store.KindIntrinsic, sessions[0].Kind)
		assert.Equal(t, "bench", sessions[0].Note)
		assert.Equal(t, 2, sessions[0].Samples)

		samples, err := st.LoadSamples(ctx, sessions[0].ID)
		require.NoError(t, err)
		for _, smp := range samples {
			testutil.AssertTransformNear(t, smp.EEFInBase, simHome, 1e-6, 1e-9)
			assert.FileExists(t, filepath.Join(h.imageRoot, smp.ImagePath))
		}
	})
}

func TestCapture_CountAndEndOfFrames(t *testing.T) {
	h := newHarness(t)
	pattern := writePNGs(t, filepath.Join(h.dir, "frames"), disc(32, 32, 16, 16, 6))

	// One frame only: the second Enter finds the replay exhausted.
	out, err := h.run(t, "\n\n\n", "capture", "--sim", "--replay", pattern, "--count", "5")
	require.NoError(t, err, out)
	assert.Contains(t, out, "no more frames")
	assert.Contains(t, out, "saved with 1 samples")

	_, err = h.run(t, "", "capture", "--sim", "--kind", "stereo")
	require.Error(t, err)
}

func seedCalibration(t *testing.T, h *harness, quality geometry.Quality) {
	t.Helper()
	now := time.Now().UTC()
	h.withStore(t, func(st *store.Store) {
		ctx := context.Background()
		require.NoError(t, st.SaveIntrinsic(ctx, store.IntrinsicRecord{
			ID:        "model-1",
			CreatedAt: now,
			Model:     intrinsic.Model{FX: 640, FY: 640, CX: 320, CY: 240, Width: 640, Height: 480},
			RMS:       0.2,
			Views:     12,
		}))
		require.NoError(t, st.SaveExtrinsic(ctx, store.ExtrinsicRecord{
			ID:        "x-1",
			ModelID:   "model-1",
			CreatedAt: now,
			Result: handeye.Result{
				ID:          "x-1",
				CameraInEEF: geometry.Identity(),
				Quality:     quality,
				Samples:     10,
			},
		}))
	})
}

func TestRun_OnceWithSimulatedArm(t *testing.T) {
	h := newHarness(t)
	seedCalibration(t, h, geometry.QualityGood)
	pattern := writePNGs(t, filepath.Join(h.dir, "frames"),
		disc(640, 480, 400, 260, 32), disc(640, 480, 400, 260, 32))

	out, err := h.run(t, "", "run", "--sim", "--replay", pattern, "--once",
		"--listen", "127.0.0.1:0", "--grpc", "127.0.0.1:0")
	require.NoError(t, err, out)
	assert.Contains(t, out, "camera model model-1, hand-eye result x-1")
	assert.Contains(t, out, "debug pages on http://127.0.0.1:")
	assert.Contains(t, out, "gRPC health on 127.0.0.1:")
	assert.Contains(t, out, "motions completed 1")

	h.withStore(t, func(st *store.Store) {
		motions, err := st.Motions(context.Background(), 10)
		require.NoError(t, err)
		require.Len(t, motions, 1)
		assert.Empty(t, motions[0].Err)
		// Depth f·D/(2r) = 640·0.02/64 = 0.2m below the simulated flange.
		assert.InDelta(t, 0.4-0.2, motions[0].Target.PointInBase.Z, 0.01)
	})
}

func TestRun_ListenFailureStopsCleanly(t *testing.T) {
	h := newHarness(t)
	seedCalibration(t, h, geometry.QualityGood)
	pattern := writePNGs(t, filepath.Join(h.dir, "frames"), disc(640, 480, 400, 260, 32))

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	before := runtime.NumGoroutine()
	_, err = h.run(t, "", "run", "--sim", "--replay", pattern, "--listen", busy.Addr().String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen "+busy.Addr().String())

	// Nothing started by the command outlives it.
	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before },
		5*time.Second, 10*time.Millisecond, "goroutines: before %d, now %d", before, runtime.NumGoroutine())
}

func TestRun_RefusesPoorCalibration(t *testing.T) {
	h := newHarness(t)
	seedCalibration(t, h, geometry.QualityPoor)
	_, err := h.run(t, "", "run", "--sim", "--replay", "unused/*.png", "--listen", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow-poor")
}

func TestRun_NeedsCalibration(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "run", "--sim", "--listen", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessions_ListShowDelete(t *testing.T) {
	h := newHarness(t)
	seedHandEyeSession(t, h, "he-3", 4)
	imgDir := filepath.Join(h.imageRoot, "he-3")
	require.NoError(t, os.MkdirAll(imgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(imgDir, "0001.png"), []byte("x"), 0o644))

	out, err := h.run(t, "", "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "he-3")
	assert.Contains(t, out, "handeye")

	out, err = h.run(t, "", "sessions", "show", "he-3")
	require.NoError(t, err)
	assert.Contains(t, out, "note: bench")
	assert.Equal(t, 4, strings.Count(out, "posed"))

	out, err = h.run(t, "", "sessions", "delete", "he-3")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted session he-3")
	assert.NoDirExists(t, imgDir)

	_, err = h.run(t, "", "sessions", "show", "he-3")
	assert.ErrorIs(t, err, store.ErrNotFound)
	out, err = h.run(t, "", "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no sessions")
}

func TestAngles_Simulated(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "", "angles", "--sim", "--count", "2", "--interval", "1ms")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	fields := strings.Fields(lines[0])
	require.Len(t, fields, 6)
	assert.Equal(t, "0.00", fields[0])
	// The servos are stationary, so both readings agree.
	assert.Equal(t, fields, strings.Fields(lines[1]))
}
