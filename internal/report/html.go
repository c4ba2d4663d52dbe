package report

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// AssetsHost serves the echarts javascript referenced by the HTML report.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// WriteHTML renders an interactive page with one chart per calibration.
func WriteHTML(w io.Writer, r Report) error {
	if r.empty() {
		return ErrNoData
	}
	title := r.Title
	if title == "" {
		title = "Calibration report"
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	page := components.NewPage()
	page.SetAssetsHost(AssetsHost)
	page.PageTitle = title

	if r.Intrinsic != nil && len(r.Intrinsic.PerView) > 0 {
		m := r.Intrinsic.Model
		x := make([]string, len(r.Intrinsic.PerView))
		rms := make([]opts.BarData, len(r.Intrinsic.PerView))
		worst := make([]opts.BarData, len(r.Intrinsic.PerView))
		for i, v := range r.Intrinsic.PerView {
			x[i] = v.Name
			rms[i] = opts.BarData{Value: round(v.RMS, 4)}
			worst[i] = opts.BarData{Value: round(v.Max, 4)}
		}
		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "480px", AssetsHost: AssetsHost}),
			charts.WithTitleOpts(opts.Title{
				Title: "Intrinsic calibration",
				Subtitle: fmt.Sprintf("fx=%.2f fy=%.2f cx=%.2f cy=%.2f rms=%.4fpx views=%d skipped=%d",
					m.FX, m.FY, m.CX, m.CY, r.Intrinsic.RMS, len(r.Intrinsic.PerView), len(r.Intrinsic.Skipped)),
			}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
			charts.WithYAxisOpts(opts.YAxis{Name: "px"}),
		)
		bar.SetXAxis(x).
			AddSeries("rms", rms).
			AddSeries("max", worst)
		page.AddCharts(bar)
	}

	if r.HandEye != nil && len(r.HandEye.Residual.PerPair) > 0 {
		res := r.HandEye.Residual
		x := make([]string, len(res.PerPair))
		rot := make([]opts.BarData, len(res.PerPair))
		trans := make([]opts.BarData, len(res.PerPair))
		for i, pr := range res.PerPair {
			x[i] = pairLabel(pr)
			rot[i] = opts.BarData{Value: round(pr.ErrorDeg, 4)}
			trans[i] = opts.BarData{Value: round(pr.Translation*1000, 3)}
		}
		t := r.HandEye.CameraInEEF.Translation
		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "480px", AssetsHost: AssetsHost}),
			charts.WithTitleOpts(opts.Title{
				Title: fmt.Sprintf("Hand-eye calibration (%s)", string(r.HandEye.Quality)),
				Subtitle: fmt.Sprintf("t=(%.4f, %.4f, %.4f)m mean=%.3f°/%.2fmm max=%.3f°/%.2fmm pairs=%d %s",
					t.X, t.Y, t.Z, res.MeanRotationDeg, res.MeanTranslation*1000,
					res.MaxRotationDeg, res.MaxTranslation*1000, len(res.PerPair), created.Format(time.RFC3339)),
			}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		)
		bar.SetXAxis(x).
			AddSeries("rotation (deg)", rot).
			AddSeries("translation (mm)", trans)
		page.AddCharts(bar)
	}

	return page.Render(w)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
