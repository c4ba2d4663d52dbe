package config

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/handeye/internal/compose"
	"github.com/banshee-data/handeye/internal/fsutil"
	"github.com/banshee-data/handeye/internal/motion"
	"github.com/banshee-data/handeye/internal/target"
)

func TestDefaultsFileMatchesDefault(t *testing.T) {
	got := MustLoadDefaultConfig()
	if diff := cmp.Diff(Default(), got); diff != "" {
		t.Errorf("%s differs from Default() (-want +got):\n%s", DefaultConfigPath, diff)
	}
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	empty := &Config{}
	full := Default()

	assert.Equal(t, full.IntrinsicBoard(), empty.IntrinsicBoard())
	assert.Equal(t, full.IntrinsicOptions(), empty.IntrinsicOptions())
	assert.Equal(t, full.HandEyeOptions(), empty.HandEyeOptions())
	assert.Equal(t, full.BlobParams(), empty.BlobParams())
	assert.Equal(t, full.HoughParams(), empty.HoughParams())
	assert.Equal(t, full.TargetConfig(), empty.TargetConfig())
	assert.Equal(t, full.ArmOptions(), empty.ArmOptions())
	assert.Equal(t, full.PortOptions(), empty.PortOptions())
	assert.Equal(t, full.ServoIDs(), empty.ServoIDs())
	if diff := cmp.Diff(full.ComposeConfig(), empty.ComposeConfig()); diff != "" {
		t.Errorf("ComposeConfig (-full +empty):\n%s", diff)
	}
	if diff := cmp.Diff(full.GateConfig(), empty.GateConfig()); diff != "" {
		t.Errorf("GateConfig (-full +empty):\n%s", diff)
	}
	if diff := cmp.Diff(full.CaptureConfig("handeye"), empty.CaptureConfig("handeye")); diff != "" {
		t.Errorf("CaptureConfig (-full +empty):\n%s", diff)
	}
}

func TestConverters(t *testing.T) {
	cfg := Default()

	board := cfg.IntrinsicBoard()
	assert.Equal(t, 9, board.Cols)
	assert.Equal(t, 6, board.Rows)
	assert.InDelta(t, 0.025, board.SquareSize, 1e-12)
	require.NoError(t, board.Validate())

	tc := cfg.TargetConfig()
	assert.InDelta(t, 0.020, tc.TargetDiameter, 1e-12)
	assert.Equal(t, target.FocalAxisX, tc.FocalAxis)
	require.NoError(t, tc.Validate())

	cc := cfg.ComposeConfig()
	assert.Equal(t, compose.OrientationFixed, cc.Mode)
	assert.InDelta(t, -math.Pi/2, cc.Approach.RX, 1e-12)
	assert.InDelta(t, 1, cc.ApproachAxis.Z, 1e-12)
	assert.InDelta(t, 0.05, cc.Standoff, 1e-12)
	require.NoError(t, cc.Validate())

	gc := cfg.GateConfig()
	assert.Equal(t, 30*time.Second, gc.MoveProfile.Timeout)
	assert.InDelta(t, 0.01, gc.PositionTolerance, 1e-12)
	assert.Equal(t, motion.Joint, gc.SafePose.Kind)
	require.Len(t, gc.SafePose.Joints, 6)
	assert.InDelta(t, -144*math.Pi/180, gc.SafePose.Joints[0], 1e-12)
	assert.False(t, gc.Press.Enabled())
	assert.Equal(t, motion.PressProfile, gc.Press.Profile)
	assert.Equal(t, motion.RetreatProfile, gc.Press.RetreatProfile)

	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, cfg.ServoIDs())
	assert.Equal(t, 1000000, cfg.PortOptions().BaudRate)
	assert.Equal(t, 5*time.Second, cfg.ArmOptions().CallTimeout)

	hp := cfg.HoughParams()
	assert.Equal(t, 25, hp.MinRadiusPx)
	assert.Equal(t, 40, hp.MaxRadiusPx)
	assert.Equal(t, 0.75, hp.Param2)
	assert.NoError(t, hp.Validate())
}

func TestGateConfig_Press(t *testing.T) {
	cfg := &Config{Motion: MotionConfig{PressDepthMM: ptrFloat64(20), PressDwell: ptrString("500ms")}}
	require.NoError(t, cfg.Validate())
	press := cfg.GateConfig().Press
	assert.True(t, press.Enabled())
	assert.InDelta(t, 0.02, press.Depth, 1e-12)
	assert.Equal(t, 500*time.Millisecond, press.Dwell)
}

func TestGateConfig_EmptySafeJointsDisablesReturn(t *testing.T) {
	none := []float64{}
	cfg := &Config{Motion: MotionConfig{SafeJointsDeg: &none}}
	assert.Equal(t, motion.CommandKind(""), cfg.GateConfig().SafePose.Kind)
	assert.Nil(t, cfg.Motion.GetSafeJoints())
}

func TestLoad(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("cfg/rig.yaml", []byte(`
composer:
  orientation: hold
  standoff_mm: 30
motion:
  timeout: 10s
devices:
  arm_url: ws://127.0.0.1:3030
`), 0o644))
	require.NoError(t, fs.WriteFile("cfg/rig.json", []byte(`{
  "localizer": {"target_diameter_mm": 25, "focal_axis": "y"},
  "storage": {"image_format": "png"}
}`), 0o644))

	y, err := Load(fs, "cfg/rig.yaml")
	require.NoError(t, err)
	assert.Equal(t, "hold", y.Composer.GetOrientation())
	assert.InDelta(t, 0.03, y.Composer.GetStandoff(), 1e-12)
	assert.Equal(t, 10*time.Second, y.Motion.GetTimeout())
	assert.Equal(t, "ws://127.0.0.1:3030", y.Devices.GetArmURL())
	// untouched sections keep their defaults
	assert.Equal(t, 9, y.Board.GetCols())

	j, err := Load(fs, "cfg/rig.json")
	require.NoError(t, err)
	assert.InDelta(t, 0.025, j.Localizer.GetTargetDiameter(), 1e-12)
	assert.Equal(t, "y", j.Localizer.GetFocalAxis())
	assert.Equal(t, "png", string(j.CaptureConfig("intrinsic").Format))
}

func TestLoad_Errors(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("bad.toml", []byte("x = 1"), 0o644))
	require.NoError(t, fs.WriteFile("unknown.yaml", []byte("composer:\n  stand_off: 3\n"), 0o644))
	require.NoError(t, fs.WriteFile("unknown.json", []byte(`{"motion": {"timeuot": "1s"}}`), 0o644))
	require.NoError(t, fs.WriteFile("invalid.yaml", []byte("motion:\n  timeout: soon\n"), 0o644))
	require.NoError(t, fs.WriteFile("broken.json", []byte(`{"board": {"cols": "nine"`), 0o644))
	require.NoError(t, fs.WriteFile("huge.yaml", []byte(strings.Repeat("#", maxFileSize+1)), 0o644))

	tests := []struct {
		path string
		want string
	}{
		{"bad.toml", "extension"},
		{"missing.yaml", "stat"},
		{"unknown.yaml", "parse config YAML"},
		{"unknown.json", "parse config JSON"},
		{"invalid.yaml", "motion.timeout"},
		{"broken.json", "parse config JSON"},
		{"huge.yaml", "too large"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := Load(fs, tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_EmptyYAML(t *testing.T) {
	cfg, err := Parse([]byte("# nothing configured\n"), false)
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Default().Marshal()
	require.NoError(t, err)
	got, err := Parse(data, false)
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), got); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{name: "defaults", cfg: Default()},
		{name: "empty config is valid", cfg: &Config{}},
		{name: "board too small", cfg: &Config{Board: BoardConfig{Cols: ptrInt(1)}}, wantErr: true},
		{name: "zero square size", cfg: &Config{Board: BoardConfig{SquareSizeMM: ptrFloat64(0)}}, wantErr: true},
		{name: "unknown detector", cfg: &Config{Detector: DetectorConfig{Kind: ptrString("yolo")}}, wantErr: true},
		{name: "radius window inverted", cfg: &Config{Detector: DetectorConfig{MinRadiusPx: ptrFloat64(50)}}, wantErr: true},
		{name: "circularity above one", cfg: &Config{Detector: DetectorConfig{MinCircularity: ptrFloat64(1.2)}}, wantErr: true},
		{name: "threshold out of range", cfg: &Config{Detector: DetectorConfig{Threshold: ptrInt(300)}}, wantErr: true},
		{name: "even blur kernel", cfg: &Config{Detector: DetectorConfig{BlurKernel: ptrInt(4)}}, wantErr: true},
		{name: "param2 accumulator count", cfg: &Config{Detector: DetectorConfig{Param2: ptrFloat64(30)}}, wantErr: true},
		{name: "param2 zero", cfg: &Config{Detector: DetectorConfig{Param2: ptrFloat64(0)}}, wantErr: true},
		{name: "negative diameter", cfg: &Config{Localizer: LocalizerConfig{TargetDiameterMM: ptrFloat64(-1)}}, wantErr: true},
		{name: "focal axis z", cfg: &Config{Localizer: LocalizerConfig{FocalAxis: ptrString("z")}}, wantErr: true},
		{name: "unknown orientation", cfg: &Config{Composer: ComposerConfig{Orientation: ptrString("normal")}}, wantErr: true},
		{name: "zero approach axis", cfg: &Config{Composer: ComposerConfig{ApproachAxis: &[3]float64{}}}, wantErr: true},
		{name: "negative standoff", cfg: &Config{Composer: ComposerConfig{StandoffMM: ptrFloat64(-5)}}, wantErr: true},
		{name: "zero timeout", cfg: &Config{Motion: MotionConfig{Timeout: ptrString("0s")}}, wantErr: true},
		{name: "bad settle delay", cfg: &Config{Motion: MotionConfig{SettleDelay: ptrString("later")}}, wantErr: true},
		{name: "negative press depth", cfg: &Config{Motion: MotionConfig{PressDepthMM: ptrFloat64(-1)}}, wantErr: true},
		{name: "bad press dwell", cfg: &Config{Motion: MotionConfig{PressDwell: ptrString("soon")}}, wantErr: true},
		{name: "zero velocity", cfg: &Config{Motion: MotionConfig{Velocity: ptrFloat64(0)}}, wantErr: true},
		{name: "two pairs", cfg: &Config{HandEye: HandEyeConfig{MinPairs: ptrInt(2)}}, wantErr: true},
		{name: "two views", cfg: &Config{HandEye: HandEyeConfig{MinViews: ptrInt(2)}}, wantErr: true},
		{name: "bmp images", cfg: &Config{Storage: StorageConfig{ImageFormat: ptrString("bmp")}}, wantErr: true},
		{name: "http arm url", cfg: &Config{Devices: DevicesConfig{ArmURL: ptrString("http://arm")}}, wantErr: true},
		{name: "servo id out of range", cfg: &Config{Devices: DevicesConfig{ServoIDs: &[]int{1, 254}}}, wantErr: true},
		{name: "refine off", cfg: &Config{HandEye: HandEyeConfig{Refine: ptrBool(false)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
