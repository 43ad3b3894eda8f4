package catalog

import (
	"strings"

	"github.com/bryanwahyu/sans-pilot/internal/domain/fitting"
	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

const defaultMethod = "amoeba"

// commonOptions are accepted by every fitting unit.
type commonOptions struct {
	InputCSV     string  `json:"input_csv"`
	OutputDir    string  `json:"output_dir"`
	Engine       string  `json:"engine"`
	Method       *string `json:"method"`
	PlotLogScale *bool   `json:"plot_log_scale"`
}

func (o *commonOptions) normalize() error {
	if strings.TrimSpace(o.InputCSV) == "" {
		return sentinel.Invalidf("input_csv is required")
	}
	if strings.TrimSpace(o.OutputDir) == "" {
		return sentinel.Invalidf("output_dir is required")
	}
	switch o.Engine {
	case "":
		o.Engine = fitting.EngineBumps
	case fitting.EngineBumps, fitting.EngineLMFit:
	default:
		return sentinel.Invalidf("engine must be %s or %s, got %q", fitting.EngineBumps, fitting.EngineLMFit, o.Engine)
	}
	if o.Method == nil {
		m := defaultMethod
		o.Method = &m
	}
	if o.PlotLogScale == nil {
		t := true
		o.PlotLogScale = &t
	}
	return nil
}

func (o commonOptions) fitOptions() fitting.FitOptions {
	return fitting.FitOptions{Engine: o.Engine, Method: *o.Method}
}

func (o commonOptions) plotOptions() fitting.PlotOptions {
	return fitting.PlotOptions{ShowResiduals: true, LogScale: *o.PlotLogScale}
}
