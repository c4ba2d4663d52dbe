package pipeline

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // decoder registration
	_ "image/png"  // decoder registration
	"io"
	"sync"
	"time"

	"github.com/banshee-data/handeye/internal/fsutil"
	"github.com/banshee-data/handeye/internal/timeutil"
)

// ReplaySource plays back a fixed list of frames, one per interval. It is
// used for dry runs against captured images and in tests.
type ReplaySource struct {
	frames   []image.Image
	clock    timeutil.Clock
	interval time.Duration
	loop     bool

	mu     sync.Mutex
	next   int
	ticker timeutil.Ticker
}

// NewReplaySource returns a source over frames. A zero interval yields
// frames as fast as they are requested. With loop set the frames repeat
// forever, otherwise NextFrame returns io.EOF after the last one.
func NewReplaySource(clock timeutil.Clock, interval time.Duration, loop bool, frames ...image.Image) *ReplaySource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ReplaySource{frames: frames, clock: clock, interval: interval, loop: loop}
}

// NextFrame implements FrameSource.
func (r *ReplaySource) NextFrame(ctx context.Context) (image.Image, error) {
	r.mu.Lock()
	if len(r.frames) == 0 || (!r.loop && r.next >= len(r.frames)) {
		r.mu.Unlock()
		return nil, io.EOF
	}
	if r.interval > 0 && r.ticker == nil {
		r.ticker = r.clock.NewTicker(r.interval)
	}
	ticker := r.ticker
	r.mu.Unlock()

	if ticker != nil {
		select {
		case <-ticker.C():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	img := r.frames[r.next%len(r.frames)]
	r.next++
	return img, nil
}

// Close stops the pacing ticker.
func (r *ReplaySource) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
}

// LoadImages decodes PNG or JPEG files from fsys in the given order.
func LoadImages(fsys fsutil.FileSystem, paths []string) ([]image.Image, error) {
	out := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := loadImage(fsys, p)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, nil
}

func loadImage(fsys fsutil.FileSystem, path string) (image.Image, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
