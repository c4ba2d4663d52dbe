// Package report renders calibration diagnostics: PNG plots of per-view
// reprojection error and per-pair hand-eye residuals, and an HTML page
// combining both.
package report

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/banshee-data/handeye/internal/fsutil"
	"github.com/banshee-data/handeye/internal/handeye"
	"github.com/banshee-data/handeye/internal/intrinsic"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("report: no data")

// Output file names written by Save.
const (
	ViewsPNG = "intrinsic_views.png"
	PairsPNG = "handeye_pairs.png"
	HTMLFile = "report.html"
)

// Report is the input to the renderers. Either calibration may be nil.
type Report struct {
	Title     string
	CreatedAt time.Time
	Intrinsic *intrinsic.Result
	HandEye   *handeye.Result
}

func (r Report) empty() bool {
	return (r.Intrinsic == nil || len(r.Intrinsic.PerView) == 0) &&
		(r.HandEye == nil || len(r.HandEye.Residual.PerPair) == 0)
}

// Save writes every plot the report has data for, plus the HTML page, into
// dir and returns the paths written.
func Save(fsys fsutil.FileSystem, dir string, r Report) ([]string, error) {
	if r.empty() {
		return nil, ErrNoData
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	var written []string
	write := func(name string, render func(io.Writer) error) error {
		path := filepath.Join(dir, name)
		f, err := fsys.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		if err := render(f); err != nil {
			f.Close()
			return fmt.Errorf("render %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", path, err)
		}
		written = append(written, path)
		return nil
	}

	if r.Intrinsic != nil && len(r.Intrinsic.PerView) > 0 {
		if err := write(ViewsPNG, func(w io.Writer) error { return WriteViewErrorsPNG(w, r.Intrinsic.PerView) }); err != nil {
			return written, err
		}
	}
	if r.HandEye != nil && len(r.HandEye.Residual.PerPair) > 0 {
		if err := write(PairsPNG, func(w io.Writer) error { return WritePairResidualsPNG(w, r.HandEye.Residual.PerPair) }); err != nil {
			return written, err
		}
	}
	if err := write(HTMLFile, func(w io.Writer) error { return WriteHTML(w, r) }); err != nil {
		return written, err
	}
	return written, nil
}

func pairLabel(p handeye.PairResidual) string {
	return fmt.Sprintf("%d-%d", p.I, p.J)
}
