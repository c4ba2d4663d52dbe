// Package motion dispatches target poses to the arm one at a time. The Gate
// accepts a pose only when idle, issues exactly one move, returns the arm to
// a safe pose, and always comes back to Idle whatever the outcome.
package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/handeye/internal/compose"
	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/monitoring"
	"github.com/banshee-data/handeye/internal/timeutil"
)

// State is the gate's state.
type State int

const (
	Idle State = iota
	Moving
	Returning
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Moving:
		return "moving"
	case Returning:
		return "returning"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the gate settings.
type Config struct {
	// MoveProfile is used for the move to the target.
	MoveProfile Profile
	// SafePose is where the arm returns after a successful move. A zero Kind
	// disables the return.
	SafePose Command
	// DefaultTimeout applies when a profile has no timeout of its own.
	DefaultTimeout time.Duration
	// PositionTolerance is the allowed distance in metres between the
	// commanded and reported pose after a move; exceeding it logs a warning.
	// Zero disables the check.
	PositionTolerance float64
	// StopTimeout bounds the arm Stop call after a timeout or cancellation,
	// and the pose read that follows a failed move.
	StopTimeout time.Duration
	// Press, when its Depth is positive, pushes through the target after
	// the approach and backs out again before the safe-pose return.
	Press PressConfig
}

// PressConfig describes the press and retreat that follow an approach.
type PressConfig struct {
	// Depth is how far past the target point the tool travels, in metres.
	Depth float64
	// Dwell is how long the tool is held at the press pose.
	Dwell          time.Duration
	Profile        Profile
	RetreatProfile Profile
}

// Enabled reports whether the press phase runs.
func (p PressConfig) Enabled() bool { return p.Depth > 0 }

// DefaultConfig returns the gate defaults. SafePose must be set by the caller.
func DefaultConfig() Config {
	return Config{
		MoveProfile:       ApproachProfile,
		DefaultTimeout:    30 * time.Second,
		PositionTolerance: 0.01,
		StopTimeout:       2 * time.Second,
		Press:             PressConfig{Profile: PressProfile, RetreatProfile: RetreatProfile},
	}
}

// Outcome reports one completed, failed or stopped motion.
type Outcome struct {
	ID            string
	Target        compose.TargetPose
	Err           error
	StartedAt     time.Time
	Duration      time.Duration
	PositionError float64 // metres, -1 when not measured
	// ArmPose is where the arm reported itself after a failed motion, nil
	// when the motion succeeded or the pose could not be read.
	ArmPose *geometry.Transform
}

// Stats counts gate activity.
type Stats struct {
	Accepted  uint64
	Ignored   uint64
	Completed uint64
	Timeouts  uint64
	Faults    uint64
	Stopped   uint64
}

const resultsBuffer = 16

// Gate serialises motions. It is safe for concurrent use.
type Gate struct {
	arm   Arm
	clock timeutil.Clock
	cfg   Config

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	stats   Stats
	wg      sync.WaitGroup
	results chan Outcome
}

// NewGate returns an idle gate.
func NewGate(arm Arm, clock timeutil.Clock, cfg Config) (*Gate, error) {
	if arm == nil {
		return nil, errors.New("nil arm")
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.DefaultTimeout <= 0 {
		return nil, fmt.Errorf("default timeout must be positive, got %v", cfg.DefaultTimeout)
	}
	if cfg.SafePose.Kind != "" {
		if err := cfg.SafePose.Validate(); err != nil {
			return nil, fmt.Errorf("safe pose: %w", err)
		}
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	if cfg.Press.Depth < 0 {
		return nil, fmt.Errorf("press depth must be non-negative, got %g", cfg.Press.Depth)
	}
	if cfg.Press.Dwell < 0 {
		return nil, fmt.Errorf("press dwell must be non-negative, got %v", cfg.Press.Dwell)
	}
	return &Gate{
		arm:     arm,
		clock:   clock,
		cfg:     cfg,
		results: make(chan Outcome, resultsBuffer),
	}, nil
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Stats returns a snapshot of the counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// Results delivers outcomes of motions started by Offer. When the consumer
// falls behind the oldest outcomes are dropped.
func (g *Gate) Results() <-chan Outcome {
	return g.results
}

// acquire moves Idle → Moving and returns the motion context.
func (g *Gate) acquire(ctx context.Context) (context.Context, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Idle {
		g.stats.Ignored++
		return nil, false
	}
	g.state = Moving
	g.stats.Accepted++
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	return runCtx, true
}

// Offer starts a motion to tp if the gate is idle and returns immediately.
// It returns false, without blocking, when a motion is already in flight.
func (g *Gate) Offer(ctx context.Context, tp compose.TargetPose) bool {
	runCtx, ok := g.acquire(ctx)
	if !ok {
		return false
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.publish(g.run(runCtx, tp))
	}()
	return true
}

// Execute runs a motion to tp and waits for it, including the safe-pose
// return. It fails with ErrBusy if a motion is in flight.
func (g *Gate) Execute(ctx context.Context, tp compose.TargetPose) error {
	runCtx, ok := g.acquire(ctx)
	if !ok {
		return ErrBusy
	}
	return g.run(runCtx, tp).Err
}

// Stop cancels the motion in flight, if any. The arm is told to stop and the
// gate returns to Idle.
func (g *Gate) Stop() {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until every motion started by Offer has finished.
func (g *Gate) Wait() {
	g.wg.Wait()
}

func (g *Gate) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

func (g *Gate) run(ctx context.Context, tp compose.TargetPose) Outcome {
	out := Outcome{ID: uuid.NewString(), Target: tp, StartedAt: g.clock.Now(), PositionError: -1}
	defer func() {
		g.mu.Lock()
		if g.cancel != nil {
			g.cancel()
			g.cancel = nil
		}
		g.state = Idle
		switch {
		case out.Err == nil:
			g.stats.Completed++
		case errors.Is(out.Err, ErrMotionTimeout):
			g.stats.Timeouts++
		case errors.Is(out.Err, ErrStopped):
			g.stats.Stopped++
		default:
			g.stats.Faults++
		}
		g.mu.Unlock()
	}()

	cmd := MoveTo(tp.Pose, g.cfg.MoveProfile)
	monitoring.Logf("motion %s: %v", out.ID[:8], cmd)
	if out.Err = g.move(ctx, "move", cmd); out.Err != nil {
		g.fail(&out, true)
		return out
	}
	out.PositionError = g.verify(ctx, tp)

	if g.cfg.Press.Enabled() {
		if out.Err = g.press(ctx, tp); out.Err != nil {
			g.fail(&out, true)
			return out
		}
	}

	if g.cfg.SafePose.Kind != "" {
		g.setState(Returning)
		if out.Err = g.move(ctx, "return", g.cfg.SafePose); out.Err != nil {
			g.fail(&out, false)
			return out
		}
	}
	out.Duration = g.clock.Since(out.StartedAt)
	return out
}

// fail records where the arm ended up after a failed phase. When
// towardTarget is set the distance from the target pose replaces
// PositionError.
func (g *Gate) fail(out *Outcome, towardTarget bool) {
	monitoring.Logf("motion %s: %v", out.ID[:8], out.Err)
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.StopTimeout)
	defer cancel()
	pose, err := g.arm.CurrentPose(ctx)
	if err != nil {
		monitoring.Warnf("motion %s: arm pose unavailable: %v", out.ID[:8], err)
	} else {
		out.ArmPose = &pose
		if towardTarget {
			out.PositionError = pose.Translation.Sub(out.Target.Pose.Translation).Norm()
		}
		monitoring.Logf("motion %s: arm stopped at %v", out.ID[:8], geometry.PoseVectorFromTransform(pose))
	}
	out.Duration = g.clock.Since(out.StartedAt)
}

// press drives Depth past the target point along the approach direction,
// holds for Dwell, then retreats to the approach pose.
func (g *Gate) press(ctx context.Context, tp compose.TargetPose) error {
	dir := tp.Approach
	if dir.Norm() < 1e-9 {
		return fmt.Errorf("press: target pose has no approach direction")
	}
	pressPose := tp.Pose
	pressPose.Translation = tp.PointInBase.Add(dir.Normalize().Mul(g.cfg.Press.Depth))
	if err := g.move(ctx, "press", MoveTo(pressPose, g.cfg.Press.Profile)); err != nil {
		return err
	}
	if d := g.cfg.Press.Dwell; d > 0 {
		timer := g.clock.NewTimer(d)
		select {
		case <-timer.C():
		case <-ctx.Done():
			timer.Stop()
			g.halt()
			return fmt.Errorf("%w: press: %v", ErrStopped, ctx.Err())
		}
	}
	return g.move(ctx, "retreat", MoveTo(tp.Pose, g.cfg.Press.RetreatProfile))
}

// move issues one command bounded by its profile timeout.
func (g *Gate) move(ctx context.Context, phase string, cmd Command) error {
	timeout := cmd.Profile.Timeout
	if timeout <= 0 {
		timeout = g.cfg.DefaultTimeout
	}
	moveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := g.clock.NewTimer(timeout)
	defer timer.Stop()
	done := make(chan error, 1)
	go func() { done <- g.arm.Move(moveCtx, cmd) }()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			g.halt()
			return fmt.Errorf("%w: %s: %v", ErrStopped, phase, ctx.Err())
		}
		return &ArmFault{Phase: phase, Err: err}
	case <-timer.C():
		cancel()
		g.halt()
		return fmt.Errorf("%w: %s did not finish within %v", ErrMotionTimeout, phase, timeout)
	case <-ctx.Done():
		cancel()
		g.halt()
		return fmt.Errorf("%w: %s: %v", ErrStopped, phase, ctx.Err())
	}
}

// halt tells the arm to stop, independent of the cancelled motion context.
func (g *Gate) halt() {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.StopTimeout)
	defer cancel()
	if err := g.arm.Stop(ctx); err != nil {
		monitoring.Logf("motion: stop failed: %v", err)
	}
}

// verify compares the reported pose against the target and warns when the
// arm stopped short.
func (g *Gate) verify(ctx context.Context, tp compose.TargetPose) float64 {
	if g.cfg.PositionTolerance <= 0 {
		return -1
	}
	pose, err := g.arm.CurrentPose(ctx)
	if err != nil {
		monitoring.Warnf("motion: cannot read pose for verification: %v", err)
		return -1
	}
	d := pose.Translation.Sub(tp.Pose.Translation).Norm()
	if d > g.cfg.PositionTolerance {
		monitoring.Warnf("motion: reached %v, %.1fmm from target (tolerance %.1fmm)",
			pose, d*1000, g.cfg.PositionTolerance*1000)
	}
	return d
}

func (g *Gate) publish(o Outcome) {
	for {
		select {
		case g.results <- o:
			return
		default:
		}
		select {
		case <-g.results:
		default:
		}
	}
}
