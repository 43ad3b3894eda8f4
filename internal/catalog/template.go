package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bryanwahyu/sans-pilot/internal/domain/analysis"
	"github.com/bryanwahyu/sans-pilot/internal/domain/fitting"
)

// template is a fixed-model fit with a table of default parameters.
type template struct {
	name        string
	model       string
	description string
	defaults    map[string]fitting.ParamUpdate
}

var cylinderTemplate = template{
	name:  CylinderFit,
	model: "cylinder",
	description: "Fit SANS data using a cylinder model. " +
		"Template parameters: input_csv (str, required), " +
		"engine (bumps|lmfit, default: bumps), method (str, default: amoeba), " +
		"plot_log_scale (bool, default: True). " +
		"Model parameters (via param_overrides): " +
		"radius (default: 20, range: 1-100, vary), " +
		"length (default: 400, range: 10-1000, vary), " +
		"sld (default: 4.0, fixed), sld_solvent (default: 1.0, fixed), " +
		"scale (default: 1.0, range: 0.1-10, vary), " +
		"background (default: 0.001, range: 0-1, vary).",
	defaults: map[string]fitting.ParamUpdate{
		"radius":      varied(20, 1, 100),
		"length":      varied(400, 10, 1000),
		"sld":         fixed(4.0),
		"sld_solvent": fixed(1.0),
		"scale":       varied(1.0, 0.1, 10),
		"background":  varied(0.001, 0, 1),
	},
}

var sphereTemplate = template{
	name:  SphereFit,
	model: "sphere",
	description: "Fit SANS data using a sphere model. " +
		"Template parameters: input_csv (str, required), " +
		"engine (bumps|lmfit, default: bumps), method (str, default: amoeba), " +
		"plot_log_scale (bool, default: True). " +
		"Model parameters (via param_overrides): " +
		"radius (default: 50, range: 1-200, vary), " +
		"sld (default: 4.0, fixed), sld_solvent (default: 1.0, fixed), " +
		"scale (default: 1.0, range: 0.1-10, vary), " +
		"background (default: 0.001, range: 0-1, vary).",
	defaults: map[string]fitting.ParamUpdate{
		"radius":      varied(50, 1, 200),
		"sld":         fixed(4.0),
		"sld_solvent": fixed(1.0),
		"scale":       varied(1.0, 0.1, 10),
		"background":  varied(0.001, 0, 1),
	},
}

type templateOptions struct {
	commonOptions
	ParamOverrides fitting.OverrideSet `json:"param_overrides"`
}

func templateLoader(deps Deps, t template) analysis.Loader {
	return func() (analysis.Unit, error) {
		return analysis.Unit{
			Name:        t.name,
			Description: t.description,
			Run: func(ctx context.Context, params analysis.Parameters) (analysis.Result, error) {
				return t.run(ctx, deps, params)
			},
		}, nil
	}
}

func (t template) run(ctx context.Context, deps Deps, params analysis.Parameters) (analysis.Result, error) {
	var opts templateOptions
	if err := analysis.Decode(params, &opts); err != nil {
		return analysis.Result{}, err
	}
	if err := opts.normalize(); err != nil {
		return analysis.Result{}, err
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return analysis.Result{}, fmt.Errorf("create output dir: %w", err)
	}

	f, err := deps.Fitters.NewFitter(ctx)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("open fitter: %w", err)
	}
	defer f.Close()

	if err := f.LoadData(ctx, opts.InputCSV); err != nil {
		return analysis.Result{}, fmt.Errorf("load data: %w", err)
	}
	if err := f.SetModel(ctx, t.model); err != nil {
		return analysis.Result{}, fmt.Errorf("set model: %w", err)
	}

	for _, name := range fitting.NewNameSet(keys(t.defaults)...).Sorted() {
		if err := f.SetParam(ctx, name, t.defaults[name]); err != nil {
			return analysis.Result{}, fmt.Errorf("set default '%s': %w", name, err)
		}
	}

	live, err := f.Params(ctx)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("read params: %w", err)
	}
	report, err := fitting.ApplyOverrides(ctx, f, fitting.NewNameSet(keys(live)...), opts.ParamOverrides)
	if err != nil {
		return analysis.Result{}, err
	}
	logWarnings(deps, t.name, report)

	res, err := f.Fit(ctx, opts.fitOptions())
	if err != nil {
		return analysis.Result{}, analysis.ModelFailure(t.model, err)
	}

	plot := filepath.Join(opts.OutputDir, PlotFile)
	if err := f.PlotResults(ctx, plot, opts.plotOptions()); err != nil {
		return analysis.Result{}, fmt.Errorf("plot results: %w", err)
	}

	return analysis.Result{
		Fit:       res.Summary,
		Artifacts: map[string]any{LabelPlot: plot},
		Details: map[string]any{
			"template":  t.name,
			"input_csv": opts.InputCSV,
			"engine":    opts.Engine,
			"method":    *opts.Method,
			"warnings":  report.Warnings,
		},
	}, nil
}

func varied(value, lo, hi float64) fitting.ParamUpdate {
	vary := true
	return fitting.ParamUpdate{Value: &value, Min: &lo, Max: &hi, Vary: &vary}
}

func fixed(value float64) fitting.ParamUpdate {
	vary := false
	return fitting.ParamUpdate{Value: &value, Vary: &vary}
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func logWarnings(deps Deps, name string, report fitting.MergeReport) {
	for _, w := range report.Warnings {
		deps.Logger.Warn("analysis.merge_warning", "analysis", name, "warning", w)
	}
}
