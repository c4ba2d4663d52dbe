// Package pipeline runs the online loop: frames are captured into a
// single-slot mailbox, the consumer localizes the target, composes a
// base-frame pose while the motion gate is idle, and offers it to the gate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/handeye/internal/compose"
	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/monitoring"
	"github.com/banshee-data/handeye/internal/motion"
	"github.com/banshee-data/handeye/internal/target"
	"github.com/banshee-data/handeye/internal/timeutil"
)

// ErrNoFrame is returned by a FrameSource that has no frame right now. The
// producer retries after Config.RetryDelay.
var ErrNoFrame = errors.New("no frame available")

// FrameSource yields camera frames. Returning io.EOF ends the run cleanly.
type FrameSource interface {
	NextFrame(ctx context.Context) (image.Image, error)
}

// Locator finds the target in a frame.
type Locator interface {
	Locate(frame image.Image) (target.Localization, error)
}

// Composer turns a localization into a base-frame pose.
type Composer interface {
	Compose(loc target.Localization, eefInBase geometry.Transform) (compose.TargetPose, error)
}

// Gate accepts target poses without blocking.
type Gate interface {
	State() motion.State
	Offer(ctx context.Context, tp compose.TargetPose) bool
}

// PoseReader reports the live end-effector pose.
type PoseReader interface {
	CurrentPose(ctx context.Context) (geometry.Transform, error)
}

// FrameResult is the per-frame output published for preview collaborators.
type FrameResult struct {
	Seq          uint64              `json:"seq"`
	CapturedAt   time.Time           `json:"captured_at"`
	Localization target.Localization `json:"localization"`
	Target       *compose.TargetPose `json:"target,omitempty"`
	Offered      bool                `json:"offered"`
	Err          string              `json:"error,omitempty"`
}

// Config holds pipeline settings.
type Config struct {
	// RetryDelay is the wait after ErrNoFrame.
	RetryDelay time.Duration
	// MaxSourceErrors ends the run after this many consecutive source
	// errors other than ErrNoFrame. Zero means 10.
	MaxSourceErrors int
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{RetryDelay: 10 * time.Millisecond, MaxSourceErrors: 10}
}

// Stats counts pipeline activity.
type Stats struct {
	Frames     uint64
	Dropped    uint64
	Detections uint64
	Offers     uint64
	Accepted   uint64
	Errors     uint64
}

// Pipeline wires a frame source through localization and composition into
// the motion gate.
type Pipeline struct {
	source   FrameSource
	locator  Locator
	composer Composer
	gate     Gate
	arm      PoseReader
	clock    timeutil.Clock
	cfg      Config

	mailbox *LatestFrame
	latest  LatestResult

	frames     atomic.Uint64
	detections atomic.Uint64
	offers     atomic.Uint64
	accepted   atomic.Uint64
	errs       atomic.Uint64
}

// New validates its collaborators and returns a Pipeline. clock may be nil.
func New(source FrameSource, locator Locator, composer Composer, gate Gate, arm PoseReader, clock timeutil.Clock, cfg Config) (*Pipeline, error) {
	switch {
	case source == nil:
		return nil, errors.New("nil frame source")
	case locator == nil:
		return nil, errors.New("nil locator")
	case composer == nil:
		return nil, errors.New("nil composer")
	case gate == nil:
		return nil, errors.New("nil motion gate")
	case arm == nil:
		return nil, errors.New("nil pose reader")
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	if cfg.MaxSourceErrors <= 0 {
		cfg.MaxSourceErrors = DefaultConfig().MaxSourceErrors
	}
	return &Pipeline{
		source:   source,
		locator:  locator,
		composer: composer,
		gate:     gate,
		arm:      arm,
		clock:    clock,
		cfg:      cfg,
		mailbox:  NewLatestFrame(),
	}, nil
}

// Latest returns the most recent frame result.
func (p *Pipeline) Latest() (FrameResult, bool) {
	return p.latest.Load()
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:     p.frames.Load(),
		Dropped:    p.mailbox.Drops(),
		Detections: p.detections.Load(),
		Offers:     p.offers.Load(),
		Accepted:   p.accepted.Load(),
		Errors:     p.errs.Load(),
	}
}

// Run captures and processes frames until ctx is cancelled or the source
// ends. It returns nil on io.EOF or cancellation, and the source error when
// the source fails repeatedly. Motions offered to the gate are bound to
// parent, so one in flight outlives the end of the frame source. Run may be
// called once.
func (p *Pipeline) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var wg sync.WaitGroup
	var srcErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer p.mailbox.Close()
		srcErr = p.produce(ctx)
	}()
	go func() {
		<-ctx.Done()
		p.mailbox.Close()
	}()

	for {
		f, ok := p.mailbox.Next()
		if !ok || ctx.Err() != nil {
			break
		}
		p.latest.Store(p.process(parent, f))
	}
	cancel()
	wg.Wait()
	return srcErr
}

func (p *Pipeline) produce(ctx context.Context) error {
	var seq uint64
	failures := 0
	for ctx.Err() == nil {
		img, err := p.source.NextFrame(ctx)
		switch {
		case err == nil:
			failures = 0
			seq++
			p.frames.Add(1)
			p.mailbox.Publish(Frame{Seq: seq, Image: img, CapturedAt: p.clock.Now()})
			continue
		case errors.Is(err, io.EOF):
			monitoring.Logf("pipeline: source ended after %d frames", seq)
			return nil
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrNoFrame):
		default:
			failures++
			p.errs.Add(1)
			monitoring.Logf("pipeline: frame source: %v", err)
			if failures >= p.cfg.MaxSourceErrors {
				return fmt.Errorf("frame source failed %d times: %w", failures, err)
			}
		}
		t := p.clock.NewTimer(p.cfg.RetryDelay)
		select {
		case <-t.C():
		case <-ctx.Done():
			t.Stop()
			return nil
		}
	}
	return nil
}

// process handles one frame. Only a frame seen while the gate is idle can
// produce a motion.
func (p *Pipeline) process(ctx context.Context, f Frame) FrameResult {
	res := FrameResult{Seq: f.Seq, CapturedAt: f.CapturedAt}
	loc, err := p.locator.Locate(f.Image)
	if err != nil {
		p.errs.Add(1)
		res.Err = err.Error()
		monitoring.Logf("pipeline: frame %d: %v", f.Seq, err)
		return res
	}
	res.Localization = loc
	if !loc.Found {
		monitoring.Debugf("frame %d: %v (%s)", f.Seq, compose.ErrNoTargetPose, loc.Annotation.Label)
		return res
	}
	p.detections.Add(1)

	if p.gate.State() != motion.Idle {
		return res
	}
	eef, err := p.arm.CurrentPose(ctx)
	if err != nil {
		p.errs.Add(1)
		res.Err = fmt.Sprintf("read arm pose: %v", err)
		monitoring.Logf("pipeline: frame %d: %s", f.Seq, res.Err)
		return res
	}
	tp, err := p.composer.Compose(loc, eef)
	if err != nil {
		if errors.Is(err, compose.ErrNoTargetPose) {
			monitoring.Debugf("frame %d: %v", f.Seq, err)
		} else {
			p.errs.Add(1)
			res.Err = err.Error()
		}
		return res
	}
	res.Target = &tp
	p.offers.Add(1)
	res.Offered = p.gate.Offer(ctx, tp)
	if res.Offered {
		p.accepted.Add(1)
		monitoring.Logf("pipeline: frame %d: target at %v dispatched", f.Seq, tp.PointInBase)
	}
	return res
}
