package report

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/handeye/internal/handeye"
	"github.com/banshee-data/handeye/internal/intrinsic"
)

var (
	errorColor       = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	translationColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
)

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 5 * vg.Inch
)

// WriteViewErrorsPNG plots the RMS reprojection error of each calibration
// view as a bar chart.
func WriteViewErrorsPNG(w io.Writer, views []intrinsic.ViewError) error {
	if len(views) == 0 {
		return ErrNoData
	}
	p := plot.New()
	p.Title.Text = "Intrinsic calibration - reprojection error per view"
	p.Y.Label.Text = "RMS (px)"
	p.Y.Min = 0

	rms := make(plotter.Values, len(views))
	names := make([]string, len(views))
	for i, v := range views {
		rms[i] = v.RMS
		names[i] = v.Name
	}
	bars, err := plotter.NewBarChart(rms, vg.Points(12))
	if err != nil {
		return fmt.Errorf("bar chart: %w", err)
	}
	bars.Color = errorColor
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars, plotter.NewGrid())
	p.NominalX(names...)
	p.X.Tick.Label.Rotation = 0.8
	p.X.Tick.Label.XAlign = -0.8

	return render(w, p)
}

// WritePairResidualsPNG plots the rotation consistency error (degrees) and
// translation consistency error (millimetres) of each motion pair.
func WritePairResidualsPNG(w io.Writer, pairs []handeye.PairResidual) error {
	if len(pairs) == 0 {
		return ErrNoData
	}
	p := plot.New()
	p.Title.Text = "Hand-eye calibration - AX=XB residual per pair"
	p.Y.Label.Text = "error"
	p.Y.Min = 0

	rot := make(plotter.Values, len(pairs))
	trans := make(plotter.Values, len(pairs))
	names := make([]string, len(pairs))
	for i, pr := range pairs {
		rot[i] = pr.ErrorDeg
		trans[i] = pr.Translation * 1000
		names[i] = pairLabel(pr)
	}

	width := vg.Points(8)
	rotBars, err := plotter.NewBarChart(rot, width)
	if err != nil {
		return fmt.Errorf("rotation bars: %w", err)
	}
	rotBars.Color = errorColor
	rotBars.LineStyle.Width = vg.Length(0)
	rotBars.Offset = -width / 2

	transBars, err := plotter.NewBarChart(trans, width)
	if err != nil {
		return fmt.Errorf("translation bars: %w", err)
	}
	transBars.Color = translationColor
	transBars.LineStyle.Width = vg.Length(0)
	transBars.Offset = width / 2

	p.Add(rotBars, transBars, plotter.NewGrid())
	p.Legend.Add("rotation (deg)", rotBars)
	p.Legend.Add("translation (mm)", transBars)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	p.NominalX(names...)

	return render(w, p)
}

func render(w io.Writer, p *plot.Plot) error {
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
