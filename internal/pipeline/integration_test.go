package pipeline_test

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/handeye/internal/compose"
	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/intrinsic"
	"github.com/banshee-data/handeye/internal/motion"
	"github.com/banshee-data/handeye/internal/pipeline"
	"github.com/banshee-data/handeye/internal/target"
	"github.com/banshee-data/handeye/internal/testutil"
	"github.com/banshee-data/handeye/internal/timeutil"
	"github.com/banshee-data/handeye/internal/vision"
)

type recordingArm struct {
	mu   sync.Mutex
	pose geometry.Transform
	cmds []motion.Command
}

func (a *recordingArm) CurrentPose(context.Context) (geometry.Transform, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pose, nil
}

func (a *recordingArm) Move(_ context.Context, cmd motion.Command) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cmds = append(a.cmds, cmd)
	if cmd.Kind == motion.Cartesian {
		a.pose = cmd.Pose
	}
	return nil
}

func (a *recordingArm) Stop(context.Context) error { return nil }

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

func TestPipeline_FrameToMotion(t *testing.T) {
	model := intrinsic.Model{FX: 640, FY: 640, CX: 320, CY: 240, Width: 640, Height: 480}
	det, err := vision.NewBlobDetector(vision.DefaultBlobParams())
	require.NoError(t, err)
	loc, err := target.NewLocalizer(model, det, target.DefaultConfig())
	require.NoError(t, err)

	ccfg := compose.DefaultConfig()
	ccfg.Mode = compose.OrientationHold
	ccfg.Standoff = 0
	comp, err := compose.NewComposer(geometry.Identity(), ccfg)
	require.NoError(t, err)

	eef := geometry.Transform{Rotation: geometry.IdentityRotation(), Translation: r3.Vector{X: 0.4, Z: 0.3}}
	arm := &recordingArm{pose: eef}
	gate, err := motion.NewGate(arm, timeutil.NewMockClock(time.Unix(0, 0)), motion.DefaultConfig())
	require.NoError(t, err)

	src := pipeline.NewReplaySource(nil, 0, false, disc(640, 480, 400, 260, 32))
	p, err := pipeline.New(src, loc, comp, gate, arm, nil, pipeline.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))
	gate.Wait()

	var out motion.Outcome
	select {
	case out = <-gate.Results():
	case <-time.After(2 * time.Second):
		t.Fatal("no motion outcome")
	}
	require.NoError(t, out.Err)

	// Depth f·D/(2r) = 640·0.02/64 = 0.2m, pixel offset (80, 20).
	want := r3.Vector{X: 0.4 + 80*0.2/640, Y: 20 * 0.2 / 640, Z: 0.3 + 0.2}
	testutil.AssertVectorNear(t, out.Target.PointInBase, want, 8e-3)
	require.Len(t, arm.cmds, 1)
	testutil.AssertVectorNear(t, arm.cmds[0].Pose.Translation, want, 8e-3)
	assert.Equal(t, uint64(1), p.Stats().Accepted)
	assert.Equal(t, motion.Idle, gate.State())
}
