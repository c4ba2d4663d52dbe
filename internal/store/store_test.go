package store

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/handeye/internal/compose"
	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/handeye"
	"github.com/banshee-data/handeye/internal/intrinsic"
	"github.com/banshee-data/handeye/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "handeye.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func pose(x, y, z, rz float64) geometry.Transform {
	return geometry.Transform{
		Rotation:    geometry.RotationFromAxisAngle(r3.Vector{Z: 1}, rz),
		Translation: r3.Vector{X: x, Y: y, Z: z},
	}
}

func TestOpen_MigratesAndSetsPragmas(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	var journal string
	require.NoError(t, s.QueryRow("PRAGMA journal_mode").Scan(&journal))
	assert.Equal(t, "wal", journal)
	var fk int
	require.NoError(t, s.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
	var busy int
	require.NoError(t, s.QueryRow("PRAGMA busy_timeout").Scan(&busy))
	assert.Equal(t, 5000, busy)

	// Reopening an up-to-date database is a no-op.
	require.NoError(t, s.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	require.NoError(t, s.MigrateDown())
	version, _, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	_, err = s.Motions(context.Background(), 10)
	assert.Error(t, err, "motions table is dropped")
	require.NoError(t, s.MigrateUp())
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	board := pose(0, 0, 0.4, 0.1)
	sess := Session{ID: "s1", Kind: KindHandEye, StartedAt: start}
	samples := []Sample{
		{Seq: 0, ID: "a", ImagePath: "img/0.png", CapturedAt: start.Add(time.Second), EEFInBase: pose(0.3, 0, 0.2, 0)},
		{Seq: 1, ID: "b", ImagePath: "img/1.png", CapturedAt: start.Add(2 * time.Second), EEFInBase: pose(0.3, 0.1, 0.2, 0.3), BoardInCamera: &board},
	}
	require.NoError(t, s.SaveSession(ctx, sess, samples))

	got, err := s.LoadSamples(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Nil(t, got[0].BoardInCamera)
	assert.True(t, got[0].CapturedAt.Equal(samples[0].CapturedAt))
	assert.True(t, got[1].EEFInBase.Near(samples[1].EEFInBase, 1e-12, 1e-12))
	require.NotNil(t, got[1].BoardInCamera)
	assert.True(t, got[1].BoardInCamera.Near(board, 1e-12, 1e-12))

	_, ok := got[0].HandEyeSample()
	assert.False(t, ok)
	he, ok := got[1].HandEyeSample()
	require.True(t, ok)
	assert.Equal(t, "b", he.ID)

	// Closing re-saves the session and appends samples.
	sess.ClosedAt = start.Add(time.Minute)
	sess.Note = "done"
	require.NoError(t, s.SaveSession(ctx, sess, []Sample{{Seq: 2, ID: "c", EEFInBase: pose(0, 0, 0, 0)}}))
	meta, err := s.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "done", meta.Note)
	assert.True(t, meta.ClosedAt.Equal(sess.ClosedAt))

	list, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].Samples)

	require.NoError(t, s.SetBoardPose(ctx, "s1", 0, board))
	got, err = s.LoadSamples(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got[0].BoardInCamera)

	assert.ErrorIs(t, s.SetBoardPose(ctx, "s1", 42, board), ErrNotFound)
	_, err = s.LoadSamples(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteSession(ctx, "s1"))
	sum, err := s.Summary()
	require.NoError(t, err)
	assert.Zero(t, sum.Samples, "samples cascade with the session")
	assert.ErrorIs(t, s.DeleteSession(ctx, "s1"), ErrNotFound)
}

func TestSaveSession_RequiresID(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	assert.Error(t, s.SaveSession(context.Background(), Session{}, nil))
}

func TestIntrinsicAndExtrinsic(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.LatestIntrinsic(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.LatestExtrinsic(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m1 := intrinsic.Model{FX: 600, FY: 600, CX: 320, CY: 240, Width: 640, Height: 480}
	m2 := intrinsic.Model{FX: 612, FY: 611, CX: 318, CY: 242, Distortion: intrinsic.Distortion{K1: -0.1}, Width: 640, Height: 480}
	require.NoError(t, s.SaveIntrinsic(ctx, IntrinsicRecord{ID: "m1", CreatedAt: base, Model: m1, RMS: 0.4, Views: 12}))
	require.NoError(t, s.SaveIntrinsic(ctx, IntrinsicRecord{ID: "m2", CreatedAt: base.Add(time.Hour), Model: m2, RMS: 0.3, Views: 15}))
	assert.Error(t, s.SaveIntrinsic(ctx, IntrinsicRecord{ID: "m2", Model: m2}), "duplicate id")

	latest, err := s.LatestIntrinsic(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m2", latest.ID)
	assert.Equal(t, m2, latest.Model)
	assert.Equal(t, 15, latest.Views)

	first, err := s.Intrinsic(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, m1, first.Model)

	res := handeye.Result{
		ID:          "r1",
		CameraInEEF: pose(0.01, -0.03, 0.05, 0.02),
		Residual:    handeye.Residual{MeanRotationDeg: 0.1, MaxRotationDeg: 0.3, MeanTranslation: 0.0005, MaxTranslation: 0.001},
		Quality:     geometry.QualityGood,
		Samples:     8,
		UsedPairs:   []handeye.Pair{{I: 0, J: 1, RotationDeg: 12}},
		Refined:     true,
	}
	require.NoError(t, s.SaveExtrinsic(ctx, ExtrinsicRecord{ModelID: "m2", CreatedAt: base, Result: res}))
	ext, err := s.LatestExtrinsic(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", ext.ID)
	assert.Equal(t, "m2", ext.ModelID)
	assert.Equal(t, geometry.QualityGood, ext.Result.Quality)
	assert.True(t, ext.Result.CameraInEEF.Near(res.CameraInEEF, 1e-12, 1e-12))
	assert.Equal(t, res.UsedPairs, ext.Result.UsedPairs)
}

func TestMotionLog(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tp := compose.TargetPose{Pose: pose(0.4, 0, 0.3, 0), PointInBase: r3.Vector{X: 0.4, Z: 0.35}, Standoff: 0.05}
	require.NoError(t, s.RecordMotion(ctx, MotionRecord{ID: "m-1", StartedAt: base, Duration: 1500 * time.Millisecond, Target: tp, PositionError: 0.002}))
	require.NoError(t, s.RecordMotion(ctx, MotionRecord{ID: "m-2", StartedAt: base.Add(time.Minute), Target: tp, PositionError: -1, Err: "motion timeout"}))

	got, err := s.Motions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m-2", got[0].ID)
	assert.Equal(t, -1.0, got[0].PositionError)
	assert.Equal(t, "motion timeout", got[0].Err)
	assert.Equal(t, 1500*time.Millisecond, got[1].Duration)
	assert.InDelta(t, 0.002, got[1].PositionError, 1e-12)
	assert.Equal(t, tp.PointInBase, got[1].Target.PointInBase)
}

func TestAttachAdminRoutes(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	for _, path := range []string{"/debug/tailsql/", "/debug/db-summary", "/debug/backup"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			// tsweb may refuse non-local callers; the route must exist either way.
			assert.NotEqual(t, http.StatusNotFound, w.Code)
			if path == "/debug/db-summary" && w.Code == http.StatusOK {
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}
