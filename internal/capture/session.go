// Package capture records calibration samples: once the arm has settled a
// frame is grabbed and the arm pose read straight after it, the image is
// written to disk, and the pose log is flushed to the sample store when the
// session closes.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/handeye/internal/fsutil"
	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/monitoring"
	"github.com/banshee-data/handeye/internal/pipeline"
	"github.com/banshee-data/handeye/internal/security"
	"github.com/banshee-data/handeye/internal/store"
	"github.com/banshee-data/handeye/internal/timeutil"
)

// ErrSessionClosed is returned by Capture after Close.
var ErrSessionClosed = errors.New("capture session closed")

// SampleStore persists sessions. *store.Store implements it.
type SampleStore interface {
	SaveSession(ctx context.Context, sess store.Session, samples []store.Sample) error
	LoadSamples(ctx context.Context, sessionID string) ([]store.Sample, error)
}

// PoseSource reports the arm's actual tool pose.
type PoseSource interface {
	CurrentPose(ctx context.Context) (geometry.Transform, error)
}

// Format is the image encoding used for captures.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// Config holds session settings.
type Config struct {
	// Root is the directory under which each session gets its own folder.
	Root string
	// Kind is store.KindIntrinsic or store.KindHandEye.
	Kind   string
	Note   string
	Format Format
	// JPEGQuality applies to FormatJPEG. Zero means 95.
	JPEGQuality int
	// SettleDelay is waited before grabbing the frame so the arm has stopped
	// moving for both the image and the pose.
	SettleDelay time.Duration
}

// DefaultConfig returns the capture defaults.
func DefaultConfig() Config {
	return Config{
		Root:        "handeye_images",
		Kind:        store.KindHandEye,
		Format:      FormatJPEG,
		JPEGQuality: 95,
		SettleDelay: 200 * time.Millisecond,
	}
}

// Session is one capture run. The pose log is append-only; nothing reaches
// the store until Close. A Session is safe for concurrent use.
type Session struct {
	cfg   Config
	fs    fsutil.FileSystem
	store SampleStore
	arm   PoseSource
	clock timeutil.Clock

	id      string
	dir     string
	started time.Time

	mu      sync.Mutex
	samples []store.Sample
	closed  bool
}

// NewSession creates the session directory and returns an open session.
// Callers should defer Close.
func NewSession(fs fsutil.FileSystem, st SampleStore, arm PoseSource, clock timeutil.Clock, cfg Config) (*Session, error) {
	if fs == nil || st == nil || arm == nil {
		return nil, errors.New("capture session needs a filesystem, a store and a pose source")
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.Root == "" {
		return nil, errors.New("capture root directory not set")
	}
	switch cfg.Format {
	case "":
		cfg.Format = FormatJPEG
	case FormatJPEG, FormatPNG:
	default:
		return nil, fmt.Errorf("unknown image format %q", cfg.Format)
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 95
	}
	if cfg.Kind == "" {
		cfg.Kind = store.KindHandEye
	}

	id := uuid.NewString()
	dir := filepath.Join(cfg.Root, id)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	s := &Session{
		cfg:     cfg,
		fs:      fs,
		store:   st,
		arm:     arm,
		clock:   clock,
		id:      id,
		dir:     dir,
		started: clock.Now(),
	}
	monitoring.Logf("capture: session %s started in %s", id, dir)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Dir returns the directory images are written to.
func (s *Session) Dir() string { return s.dir }

// Capture waits the settle delay, grabs one frame from src, reads the arm
// pose immediately after it, and records the pair. Frame source errors are
// wrapped, so io.EOF from src can be detected with errors.Is.
func (s *Session) Capture(ctx context.Context, src pipeline.FrameSource) (store.Sample, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return store.Sample{}, ErrSessionClosed
	}

	if s.cfg.SettleDelay > 0 {
		s.clock.Sleep(s.cfg.SettleDelay)
	}
	img, err := src.NextFrame(ctx)
	if err != nil {
		return store.Sample{}, fmt.Errorf("grab frame: %w", err)
	}
	pose, err := s.arm.CurrentPose(ctx)
	if err != nil {
		return store.Sample{}, fmt.Errorf("read arm pose: %w", err)
	}
	if err := pose.Validate(); err != nil {
		return store.Sample{}, fmt.Errorf("arm pose: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Sample{}, ErrSessionClosed
	}
	seq := len(s.samples)
	name := fmt.Sprintf("capture_%04d.%s", seq, s.ext())
	path := filepath.Join(s.dir, name)
	if err := s.writeImage(path, img); err != nil {
		return store.Sample{}, err
	}
	smp := store.Sample{
		Seq:        seq,
		ID:         uuid.NewString(),
		ImagePath:  filepath.Join(s.id, name),
		CapturedAt: s.clock.Now(),
		EEFInBase:  pose,
	}
	s.samples = append(s.samples, smp)
	monitoring.Logf("capture: %s at %v", smp.ImagePath, geometry.PoseVectorFromTransform(pose))
	return smp, nil
}

func (s *Session) ext() string {
	if s.cfg.Format == FormatPNG {
		return "png"
	}
	return "jpg"
}

func (s *Session) writeImage(path string, img image.Image) error {
	w, err := s.fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := encode(w, img, s.cfg); err != nil {
		w.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return w.Close()
}

func encode(w io.Writer, img image.Image, cfg Config) error {
	if cfg.Format == FormatPNG {
		return png.Encode(w, img)
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: cfg.JPEGQuality})
}

// Samples returns a copy of the pose log.
func (s *Session) Samples() []store.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Sample(nil), s.samples...)
}

// Close flushes the pose log to the store. Later calls are no-ops. If the
// flush fails the session stays closed and the error is returned.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	samples := append([]store.Sample(nil), s.samples...)
	s.mu.Unlock()

	sess := store.Session{
		ID:        s.id,
		Kind:      s.cfg.Kind,
		Note:      s.cfg.Note,
		StartedAt: s.started,
		ClosedAt:  s.clock.Now(),
	}
	if err := s.store.SaveSession(ctx, sess, samples); err != nil {
		return fmt.Errorf("flush session %s: %w", s.id, err)
	}
	monitoring.Logf("capture: session %s closed with %d samples", s.id, len(samples))
	return nil
}

// ImagePath resolves a stored sample image path against root, refusing
// paths that escape it.
func ImagePath(root string, smp store.Sample) (string, error) {
	return security.ResolveWithin(root, smp.ImagePath)
}
